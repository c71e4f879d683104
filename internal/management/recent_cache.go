// recent_cache.go adapts the teacher's S3-FIFO eviction cache
// (internal/anonymizer/s3fifo_cache.go) from an in-memory
// string->string PII token cache to an in-memory uint64->PublishedRecord
// cache backing the /recent management endpoint. There is no backing
// store here (no requirement to survive restarts for this view); only
// the in-memory S/M/ghost eviction mechanics are reused.
//
// # Algorithm
//
// S3-FIFO ("Simple, Scalable, FIFO-based cache eviction", Yang et al., 2023)
// uses two FIFO queues and a bounded ghost set:
//
//   - S (small, ~10% of capacity): probationary queue. All new keys
//     land here.
//   - M (main, ~90% of capacity): protected queue. Keys promoted from S
//     after at least one access (freq > 0) land here.
//   - G (ghost): a bounded ring of keys recently evicted from S. A key
//     found in G on insert bypasses S and goes directly to M.
package management

import (
	"container/list"
	"sort"
	"sync"

	"github.com/wearable/kanon-streamer/internal/ecengine"
)

type recentEntry struct {
	value ecengine.PublishedRecord
	freq  uint8
	elem  *list.Element
	inM   bool
}

// recentCache holds the most recently published records under S3-FIFO
// eviction, keyed by publication counter.
type recentCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[uint64]*recentEntry
	sQueue  *list.List
	mQueue  *list.List

	ghostBuf   []uint64
	ghostSet   map[uint64]struct{}
	ghostHead  int
	ghostCount int
}

func newRecentCache(capacity int) *recentCache {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := capacity / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &recentCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[uint64]*recentEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]uint64, ghostCap),
		ghostSet: make(map[uint64]struct{}, ghostCap),
	}
}

// Add inserts or refreshes rec, keyed by rec.Counter.
func (c *recentCache) Add(rec ecengine.PublishedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rec.Counter
	if e, ok := c.entries[key]; ok {
		e.value = rec
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &recentEntry{value: rec, freq: 0, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

// Get returns the cached record for counter, bumping its frequency on hit.
func (c *recentCache) Get(counter uint64) (ecengine.PublishedRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[counter]
	if !ok {
		return ecengine.PublishedRecord{}, false
	}
	if e.freq < 3 {
		e.freq++
	}
	return e.value, true
}

// All returns every cached record, ordered by ascending counter.
func (c *recentCache) All() []ecengine.PublishedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ecengine.PublishedRecord, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Counter < out[j].Counter })
	return out
}

func (c *recentCache) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

func (c *recentCache) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(uint64)
	if !ok {
		c.sQueue.Remove(front)
		return
	}
	c.sQueue.Remove(front)

	e, ok := c.entries[key]
	if !ok {
		return
	}

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		mTarget := c.capacity - c.sTarget
		if c.mQueue.Len() > mTarget {
			c.evictFromM()
		}
	} else {
		delete(c.entries, key)
		c.ghostAdd(key)
	}
}

func (c *recentCache) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(uint64)
	if !ok {
		c.mQueue.Remove(front)
		return
	}
	c.mQueue.Remove(front)
	delete(c.entries, key)
}

func (c *recentCache) ghostContains(key uint64) bool {
	_, ok := c.ghostSet[key]
	return ok
}

func (c *recentCache) ghostAdd(key uint64) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	writeIdx := (c.ghostHead + c.ghostCount) % c.ghostCap
	c.ghostBuf[writeIdx] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
