package ecengine

// flushHead pops the oldest queued record, force-extends any QI whose EC
// is still under-k, publishes it (in compromise mode if any QI produced
// the -1 sentinel), and propagates the resulting EC-Alter Log to every
// other still-queued record (spec §4.3 + §4.6).
func (e *Engine) flushHead() error {
	rec := e.queue.PopHead()
	if rec == nil {
		return nil
	}

	compromiseMode := false
	for _, qi := range e.params.QIPos {
		ec := e.ecLists[qi][rec.qiToEC[qi]]
		if ec.Member >= e.params.ThresholdK {
			continue
		}
		result := e.forceExtend(qi, rec.payload[qi].Number, rec.qiToEC[qi])
		rec.qiToEC[qi] = result.newOrdinal
		if result.newOrdinal == -1 {
			compromiseMode = true
		}
		if e.onForceExtend != nil {
			e.onForceExtend()
		}
	}

	if err := e.publish(rec, compromiseMode); err != nil {
		return err
	}

	e.applyAlterLog()
	return nil
}

// applyAlterLog rewrites every still-queued record's QI->EC assignment
// from the old, now-deprecated ordinal to the new one force-extend moved
// it to, then clears the log (spec §4.3, "EC-Alter Log").
func (e *Engine) applyAlterLog() {
	if len(e.alterLog) == 0 {
		return
	}
	for qi, change := range e.alterLog {
		oldOrd, newOrd := change[0], change[1]
		for _, rec := range e.queue.All() {
			if rec.qiToEC[qi] == oldOrd {
				rec.qiToEC[qi] = newOrd
			}
		}
	}
	e.alterLog = make(map[int][2]int)
}

// expirySweep runs after every ingest (spec §4.6): force-flushes the head
// record if it has aged past ACCUMULATION_DELAY_TOLERANCE, then
// opportunistically publishes any queued record whose QIs have all since
// matured.
func (e *Engine) expirySweep(currentCounter uint64) error {
	if head := e.queue.PeekHead(); head != nil &&
		currentCounter >= e.params.AccumulationDelayTolerance &&
		head.counter <= currentCounter-e.params.AccumulationDelayTolerance {
		if err := e.flushHead(); err != nil {
			return err
		}
	}

	var publishErr error
	e.queue.RemoveWhere(func(rec *accumulatedRecord) bool {
		if publishErr != nil {
			return true // stop mutating further once an error is pending
		}
		if !e.allMature(rec) {
			return true
		}
		if err := e.publish(rec, false); err != nil {
			publishErr = err
			return true
		}
		return false
	})
	return publishErr
}

// allMature reports whether every QI's assigned EC has reached the k
// threshold.
func (e *Engine) allMature(rec *accumulatedRecord) bool {
	for _, qi := range e.params.QIPos {
		if e.ecLists[qi][rec.qiToEC[qi]].Member < e.params.ThresholdK {
			return false
		}
	}
	return true
}
