package ecengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshDue_FiresOnElapsedTimer(t *testing.T) {
	clock := time.Now()
	e := New(Params{
		QIPos:                      []int{0},
		GeneralizeRange:            5,
		ThresholdK:                 3,
		ECMaxHoldingMembers:        100,
		RefreshTimer:               time.Second,
		AccumulationDelayTolerance: 1000,
	}, &fakeSink{}, WithSeed(1), withClock(func() time.Time { return clock }))

	require.False(t, e.refreshDue())
	clock = clock.Add(2 * time.Second)
	require.True(t, e.refreshDue())
}

func TestRefreshDue_FiresOnMemberOvergrowth(t *testing.T) {
	e := New(Params{
		QIPos:                      []int{0},
		GeneralizeRange:            5,
		ThresholdK:                 3,
		ECMaxHoldingMembers:        5,
		RefreshTimer:               time.Hour,
		AccumulationDelayTolerance: 1000,
	}, &fakeSink{}, WithSeed(1))

	require.False(t, e.refreshDue())
	e.ecLists[0] = []*EquivalenceClass{{Number: 0, LBound: 0, UBound: 5, Member: 6}}
	require.True(t, e.refreshDue())
}

// Refresh idempotence law (spec §8): refresh twice in a row with no
// ingest between is equivalent to refresh once.
func TestCheckRefresh_IdempotentWhenCalledTwice(t *testing.T) {
	clock := time.Now()
	sink := &fakeSink{}
	e := New(Params{
		QIPos:                      []int{0},
		GeneralizeRange:            5,
		ThresholdK:                 3,
		ECMaxHoldingMembers:        5,
		RefreshTimer:               time.Second,
		AccumulationDelayTolerance: 1000,
	}, sink, WithSeed(1), withClock(func() time.Time { return clock }))

	e.ecLists[0] = []*EquivalenceClass{{Number: 0, LBound: 0, UBound: 5, Member: 1}}
	e.queue.PushBack(&accumulatedRecord{counter: 0, payload: row(1.0), qiToEC: map[int]int{0: 0}})
	clock = clock.Add(2 * time.Second)

	require.NoError(t, e.checkRefresh())
	require.Equal(t, 0, e.ECCounts()[0])
	require.Equal(t, 0, e.queue.Len())
	firstTimer := e.initTimer

	require.NoError(t, e.checkRefresh())
	require.Equal(t, firstTimer, e.initTimer, "a second immediate refresh must be a no-op")
	require.Equal(t, 0, e.ECCounts()[0])
}

// Scenario 4 (spec §8): reaching EC_MAX_HOLDING_MEMBERS triggers a global
// refresh: every queued record is force-flushed, every EC list is
// emptied, and the timer resets. The value at counter 1 lies far from
// 10.0, so it gets its own EC, stays under k, and is still queued when
// the overgrowth at counter 4 fires the refresh.
func TestScenario4_RefreshOnMemberOvergrowthDrainsQueue(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Params{
		QIPos:                      []int{0},
		GeneralizeRange:            5,
		ThresholdK:                 2,
		ECMaxHoldingMembers:        3,
		RefreshTimer:               time.Hour,
		AccumulationDelayTolerance: 1000,
	}, sink)

	for i := uint64(0); i < 5; i++ {
		v := 10.0
		if i == 1 {
			v = 500.0
		}
		require.NoError(t, e.Ingest(i, row(v)))
	}

	require.Equal(t, 0, e.QueueLen(), "refresh must force-flush every queued record")
	require.Equal(t, 0, e.ECCounts()[0], "refresh must empty the EC list")
	require.Len(t, sink.published, 5, "every ingested record must eventually publish")
}
