package ecengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newForceExtendEngine(k int64) *Engine {
	return New(Params{
		QIPos:                      []int{0},
		GeneralizeRange:            5,
		ThresholdK:                 k,
		ECMaxHoldingMembers:        100,
		RefreshTimer:               time.Hour,
		AccumulationDelayTolerance: 1000,
	}, &fakeSink{}, WithSeed(11))
}

func TestFindClosestPair_PrefersNearestNonDeprecated(t *testing.T) {
	e := newForceExtendEngine(3)
	list := []*EquivalenceClass{
		{Number: 0, LBound: 0, UBound: 5, Deprecated: true},
		{Number: 1, LBound: 100, UBound: 105},
		{Number: 2, LBound: 8, UBound: 13},
	}
	primary, alternate := e.findClosestPair(list, 7)
	require.Equal(t, 2, primary.Number, "EC 2 at distance 1 is closer than EC 1 at distance 93")
	require.Nil(t, alternate)
}

func TestFindClosestPair_TiesPopulateAlternate(t *testing.T) {
	e := newForceExtendEngine(3)
	list := []*EquivalenceClass{
		{Number: 0, LBound: 0, UBound: 5},
		{Number: 1, LBound: 10, UBound: 15},
	}
	// v=7.5 is distance 2.5 from both neighbors' facing bounds.
	primary, alternate := e.findClosestPair(list, 7.5)
	require.Equal(t, 0, primary.Number)
	require.NotNil(t, alternate)
	require.Equal(t, 1, alternate.Number)
}

func TestOverlapHeal_PullsBoundaryBackFromNeighbor(t *testing.T) {
	e := newForceExtendEngine(3)
	target := &EquivalenceClass{Number: 0, LBound: 0, UBound: 20}
	neighbor := &EquivalenceClass{Number: 1, LBound: 12, UBound: 18}
	e.ecLists[0] = []*EquivalenceClass{target, neighbor}

	e.overlapHeal(0, target)
	require.Equal(t, 12.0, target.UBound, "target's stretch should be healed back to the neighbor's lower bound")
}

func TestStretchAndAbsorb_IncrementsMemberAfterHealing(t *testing.T) {
	e := newForceExtendEngine(3)
	target := &EquivalenceClass{Number: 0, LBound: 0, UBound: 10, Member: 2}
	e.ecLists[0] = []*EquivalenceClass{target}

	e.stretchAndAbsorb(0, target, 15)
	require.Greater(t, target.UBound, 10.0)
	require.EqualValues(t, 3, target.Member)
}

func TestCompromise2_UsesClosestMatureNeighborWhenOneExists(t *testing.T) {
	e := newForceExtendEngine(3)
	orig := &EquivalenceClass{Number: 0, LBound: 0, UBound: 5}
	mature := &EquivalenceClass{Number: 1, LBound: 20, UBound: 25, Member: 10}
	e.ecLists[0] = []*EquivalenceClass{orig, mature}

	e.compromise2(0, 18, orig)
	rng, ok := e.compromise[0]
	require.True(t, ok)
	require.Equal(t, 25.0, rng.UBound, "mature's own upper bound is kept")
	require.LessOrEqual(t, rng.LBound, 18.0)
}

func TestCompromise2_FallsBackToOrigRangeWithNoMatureNeighbor(t *testing.T) {
	e := newForceExtendEngine(3)
	orig := &EquivalenceClass{Number: 0, LBound: 2, UBound: 7}
	e.ecLists[0] = []*EquivalenceClass{orig}

	e.compromise2(0, 4, orig)
	rng, ok := e.compromise[0]
	require.True(t, ok)
	require.Equal(t, Range{LBound: 2, UBound: 7}, rng)
}

// Scenario 6 (spec §8): force-extend finds a k-1-member neighbor, which
// absorbs the record (member reaches k); the original EC is deprecated;
// other queued records bound to the deprecated ordinal are rewritten via
// the EC-Alter Log.
func TestScenario6_ForceExtendNeighborAbsorptionAndAlterLogRewrite(t *testing.T) {
	e := newForceExtendEngine(3)

	orig := &EquivalenceClass{Number: 0, LBound: 8, UBound: 13, Member: 1}
	neighbor := &EquivalenceClass{Number: 1, LBound: 13, UBound: 18, Member: 2} // k-1 members
	e.ecLists[0] = []*EquivalenceClass{orig, neighbor}

	rec0 := &accumulatedRecord{counter: 0, payload: row(10.0), qiToEC: map[int]int{0: 0}}
	rec1 := &accumulatedRecord{counter: 1, payload: row(10.0), qiToEC: map[int]int{0: 0}}
	e.queue.PushBack(rec0)
	e.queue.PushBack(rec1)

	require.NoError(t, e.flushHead())

	require.True(t, orig.Deprecated, "the absorbed-from EC should be deprecated")
	require.EqualValues(t, 3, neighbor.Member, "the neighbor should have absorbed the record up to k")

	sink := e.sink.(*fakeSink)
	require.Len(t, sink.published, 1)
	require.Equal(t, uint64(0), sink.published[0].Counter)
	require.Empty(t, sink.published[0].CompromiseQIs, "the neighbor absorbed it, so this is not compromise mode")

	require.Equal(t, 1, e.queue.Len())
	remaining := e.queue.PeekHead()
	require.Equal(t, uint64(1), remaining.counter)
	require.Equal(t, 1, remaining.qiToEC[0], "rec1 must be rewritten from the deprecated ordinal via the EC-Alter Log")
	require.Empty(t, e.alterLog, "the alter log is cleared once applied")
}
