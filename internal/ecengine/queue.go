package ecengine

import "github.com/eapache/queue"

// accumulationQueue is the FIFO of records not yet k-anonymous on every
// QI. It wraps github.com/eapache/queue's ring buffer rather than a bare
// Go slice, so repeated head-pops under steady ingest don't pay for
// slice-shift amortization — the spec bounds queue length by
// ACCUMULATION_DELAY_TOLERANCE under steady ingest (§5), so the ring
// buffer never needs to grow past a small, predictable size.
type accumulationQueue struct {
	q *queue.Queue
}

func newAccumulationQueue() *accumulationQueue {
	return &accumulationQueue{q: queue.New()}
}

func (a *accumulationQueue) Len() int { return a.q.Length() }

// PushBack appends r to the tail of the queue.
func (a *accumulationQueue) PushBack(r *accumulatedRecord) {
	a.q.Add(r)
}

// PeekHead returns the oldest record without removing it, or nil if empty.
func (a *accumulationQueue) PeekHead() *accumulatedRecord {
	if a.q.Length() == 0 {
		return nil
	}
	return a.q.Peek().(*accumulatedRecord)
}

// PopHead removes and returns the oldest record, or nil if empty.
func (a *accumulationQueue) PopHead() *accumulatedRecord {
	if a.q.Length() == 0 {
		return nil
	}
	r := a.q.Peek().(*accumulatedRecord)
	a.q.Remove()
	return r
}

// All returns a snapshot slice of every queued record, oldest first.
func (a *accumulationQueue) All() []*accumulatedRecord {
	out := make([]*accumulatedRecord, a.q.Length())
	for i := range out {
		out[i] = a.q.Get(i).(*accumulatedRecord)
	}
	return out
}

// RemoveWhere rebuilds the queue keeping only records for which keep
// returns true, preserving relative order. Used by the opportunistic
// publish sweep, which may remove records from the middle of the queue.
func (a *accumulationQueue) RemoveWhere(keep func(*accumulatedRecord) bool) {
	kept := make([]*accumulatedRecord, 0, a.q.Length())
	for _, r := range a.All() {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	a.q = queue.New()
	for _, r := range kept {
		a.q.Add(r)
	}
}

// Clear empties the queue.
func (a *accumulationQueue) Clear() {
	a.q = queue.New()
}
