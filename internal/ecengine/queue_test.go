package ecengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulationQueue_FIFOOrder(t *testing.T) {
	q := newAccumulationQueue()
	q.PushBack(&accumulatedRecord{counter: 0})
	q.PushBack(&accumulatedRecord{counter: 1})
	q.PushBack(&accumulatedRecord{counter: 2})

	require.Equal(t, 3, q.Len())
	require.EqualValues(t, 0, q.PeekHead().counter)
	require.EqualValues(t, 0, q.PopHead().counter)
	require.EqualValues(t, 1, q.PopHead().counter)
	require.Equal(t, 1, q.Len())
}

func TestAccumulationQueue_PeekAndPopOnEmptyReturnNil(t *testing.T) {
	q := newAccumulationQueue()
	require.Nil(t, q.PeekHead())
	require.Nil(t, q.PopHead())
}

func TestAccumulationQueue_AllPreservesOrder(t *testing.T) {
	q := newAccumulationQueue()
	q.PushBack(&accumulatedRecord{counter: 5})
	q.PushBack(&accumulatedRecord{counter: 6})

	all := q.All()
	require.Len(t, all, 2)
	require.EqualValues(t, 5, all[0].counter)
	require.EqualValues(t, 6, all[1].counter)
}

func TestAccumulationQueue_RemoveWhereKeepsMatchingInOrder(t *testing.T) {
	q := newAccumulationQueue()
	for i := uint64(0); i < 5; i++ {
		q.PushBack(&accumulatedRecord{counter: i})
	}

	q.RemoveWhere(func(r *accumulatedRecord) bool { return r.counter%2 == 0 })

	all := q.All()
	require.Len(t, all, 3)
	require.EqualValues(t, 0, all[0].counter)
	require.EqualValues(t, 2, all[1].counter)
	require.EqualValues(t, 4, all[2].counter)
}

func TestAccumulationQueue_Clear(t *testing.T) {
	q := newAccumulationQueue()
	q.PushBack(&accumulatedRecord{counter: 0})
	q.Clear()
	require.Equal(t, 0, q.Len())
	require.Nil(t, q.PeekHead())
}
