package ecengine

// checkRefresh implements spec §4.5: refresh fires when the global timer
// has exceeded REFRESH_TIMER, or any EC on any QI has grown past
// EC_MAX_HOLDING_MEMBERS. On refresh, every queued record is force-flushed
// in order, then all EC lists, the Compromise Map, and the EC-Alter Log
// are cleared and the timer reset. Refreshing twice in a row with no
// ingest between is idempotent: the second call's predicate is false
// immediately after the first refresh resets the timer and empties the
// queue.
func (e *Engine) checkRefresh() error {
	if !e.refreshDue() {
		return nil
	}

	e.log.Infof("refresh", "refresh predicate fired: draining %d queued record(s)", e.queue.Len())

	for e.queue.Len() > 0 {
		if err := e.flushHead(); err != nil {
			return err
		}
	}

	e.resetECLists()
	e.compromise = make(map[int]Range)
	e.alterLog = make(map[int][2]int)
	e.initTimer = e.now()
	if e.onRefresh != nil {
		e.onRefresh()
	}
	return nil
}

func (e *Engine) refreshDue() bool {
	if e.now().Sub(e.initTimer) > e.params.RefreshTimer {
		return true
	}
	for _, list := range e.ecLists {
		for _, ec := range list {
			if ec.Member > e.params.ECMaxHoldingMembers {
				return true
			}
		}
	}
	return false
}
