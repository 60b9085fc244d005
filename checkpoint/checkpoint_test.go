package checkpoint_test

import (
	"testing"

	"github.com/riftlayer/picas/checkpoint"
	"github.com/stretchr/testify/require"
)

func TestRangeReachedEnd(t *testing.T) {
	cases := []struct {
		name string
		r    checkpoint.Range
		x    int
		want bool
	}{
		{"unconfigured never reached", checkpoint.Range{}, 1 << 20, false},
		{"below end", checkpoint.Range{End: 100}, 50, false},
		{"at end", checkpoint.Range{End: 100}, 100, true},
		{"past end", checkpoint.Range{End: 100}, 101, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.r.ReachedEnd(tc.x))
		})
	}
}

func TestHybridPointAnyLogic(t *testing.T) {
	h := checkpoint.HybridPoint{
		Count: checkpoint.Range{End: 10},
		Bytes: checkpoint.Range{End: 1000},
		Logic: checkpoint.Any,
	}

	require.False(t, h.Reached(5, 5))
	require.True(t, h.Reached(10, 5), "count alone should satisfy Any")
	require.True(t, h.Reached(5, 1000), "bytes alone should satisfy Any")
}

func TestHybridPointAllLogic(t *testing.T) {
	h := checkpoint.HybridPoint{
		Count: checkpoint.Range{End: 10},
		Bytes: checkpoint.Range{End: 1000},
		Logic: checkpoint.All,
	}

	require.False(t, h.Reached(10, 5), "count alone must not satisfy All")
	require.False(t, h.Reached(5, 1000), "bytes alone must not satisfy All")
	require.True(t, h.Reached(10, 1000))
}

func TestHybridPointSingleDimension(t *testing.T) {
	// All logic with only one dimension configured degrades to that
	// dimension alone, not an unsatisfiable conjunction.
	h := checkpoint.HybridPoint{
		Count: checkpoint.Range{End: 10},
		Logic: checkpoint.All,
	}
	require.True(t, h.Reached(10, 999999))
}

func TestHybridPointUnconfiguredNeverReached(t *testing.T) {
	var h checkpoint.HybridPoint
	require.False(t, h.Configured())
	require.False(t, h.Reached(1<<30, 1<<30))
}
