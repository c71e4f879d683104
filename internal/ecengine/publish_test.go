package ecengine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wearable/kanon-streamer/internal/engineerr"
)

func newPublishEngine(qi, si []int, k int64, sink Sink) *Engine {
	return New(Params{
		QIPos:                      qi,
		SIPos:                      si,
		GeneralizeRange:            5,
		ThresholdK:                 k,
		ECMaxHoldingMembers:        100,
		RefreshTimer:               time.Hour,
		AccumulationDelayTolerance: 1000,
	}, sink, WithSeed(1))
}

// Publication invariant (spec §8): a non-compromise-mode publish's
// substituted QI range must equal a mature (member >= k) EC's bounds;
// publishing from a sub-k EC in normal mode is an internal invariant
// violation.
func TestPublish_NormalModeFromSubKECIsInvariantViolation(t *testing.T) {
	e := newPublishEngine([]int{0}, nil, 3, &fakeSink{})
	e.ecLists[0] = []*EquivalenceClass{{Number: 0, LBound: 0, UBound: 5, Member: 1}}
	rec := &accumulatedRecord{counter: 0, payload: row(2.0), qiToEC: map[int]int{0: 0}}

	err := e.publish(rec, false)
	require.Error(t, err)
	var ee *engineerr.Error
	require.True(t, errors.As(err, &ee))
	require.Equal(t, engineerr.InternalInvariant, ee.Kind)
}

func TestPublish_StripsSIFieldsAndPassesThroughOthers(t *testing.T) {
	sink := &fakeSink{}
	e := newPublishEngine([]int{0}, []int{2}, 1, sink)
	e.ecLists[0] = []*EquivalenceClass{{Number: 0, LBound: 0, UBound: 5, Member: 1}}
	rec := &accumulatedRecord{
		counter: 0,
		payload: []Value{NumberValue(2.0), TextValue("device-A"), TextValue("secret-ssn")},
		qiToEC:  map[int]int{0: 0},
	}

	require.NoError(t, e.publish(rec, false))
	require.Len(t, sink.published, 1)
	fields := sink.published[0].Fields
	require.Len(t, fields, 2, "the SI field at index 2 must be stripped")
	require.True(t, fields[0].IsRange)
	require.False(t, fields[1].IsRange)
	require.Equal(t, "device-A", fields[1].Value.Text)
}

func TestPublish_CompromiseModeUsesCompromiseMapAndClearsIt(t *testing.T) {
	sink := &fakeSink{}
	e := newPublishEngine([]int{0}, nil, 3, sink)
	e.ecLists[0] = []*EquivalenceClass{{Number: 0, LBound: 0, UBound: 5, Member: 1}}
	e.compromise[0] = Range{LBound: -10, UBound: 10}
	rec := &accumulatedRecord{counter: 0, payload: row(2.0), qiToEC: map[int]int{0: 0}}

	require.NoError(t, e.publish(rec, true))
	require.Equal(t, []int{0}, sink.published[0].CompromiseQIs)
	require.Equal(t, Range{LBound: -10, UBound: 10}, sink.published[0].QIRanges[0])
	require.Empty(t, e.compromise, "the compromise map must be cleared after a compromise-mode publish")
}

func TestPublish_CompromiseModeFallsBackToECRangeWhenQINotInMap(t *testing.T) {
	sink := &fakeSink{}
	e := newPublishEngine([]int{0}, nil, 3, sink)
	e.ecLists[0] = []*EquivalenceClass{{Number: 0, LBound: 0, UBound: 5, Member: 3}}
	rec := &accumulatedRecord{counter: 0, payload: row(2.0), qiToEC: map[int]int{0: 0}}

	require.NoError(t, e.publish(rec, true))
	require.Empty(t, sink.published[0].CompromiseQIs)
	require.Equal(t, Range{LBound: 0, UBound: 5}, sink.published[0].QIRanges[0])
}
