package policy_test

import (
	"testing"

	"github.com/riftlayer/picas/checkpoint"
	"github.com/riftlayer/picas/policy"
	"github.com/stretchr/testify/require"
)

func TestDecideDataLPWinsOverEverything(t *testing.T) {
	pol := policy.New(true)
	pts := &checkpoint.DataLayerPoints{
		DataLP: checkpoint.HybridPoint{Count: checkpoint.Range{End: 1}, Logic: checkpoint.Any},
	}
	out := pol.Decide(policy.Input{
		NumLayers:      3,
		DataLayer:      0,
		MemLayer:       0,
		DataAllocCount: 1,
		DataPoints:     pts,
		MemLPFull:      true, // would otherwise trigger rule 4
	})

	require.True(t, out.ReachedDataLP)
	require.True(t, out.JumpDataLayer)
	require.True(t, out.JumpMemLayer)
	require.Equal(t, 0, out.ChosenMemLayer, "the triggering allocation still lands in the old memory layer")
}

func TestDecideDataLPNonStrictDoesNotJumpMemLayer(t *testing.T) {
	pol := policy.New(false)
	pts := &checkpoint.DataLayerPoints{
		DataLP: checkpoint.HybridPoint{Count: checkpoint.Range{End: 1}, Logic: checkpoint.Any},
	}
	out := pol.Decide(policy.Input{
		NumLayers:      3,
		DataLayer:      0,
		MemLayer:       0,
		DataAllocCount: 1,
		DataPoints:     pts,
	})

	require.True(t, out.ReachedDataLP)
	require.True(t, out.JumpDataLayer)
	require.False(t, out.JumpMemLayer, "non-strict mode must not force the memory layer to follow the data layer")
	require.Equal(t, 0, out.ChosenMemLayer)
}

func TestDecideDataLPAtLastLayerStays(t *testing.T) {
	pol := policy.New(true)
	pts := &checkpoint.DataLayerPoints{
		DataLP: checkpoint.HybridPoint{Count: checkpoint.Range{End: 1}, Logic: checkpoint.Any},
	}
	out := pol.Decide(policy.Input{
		NumLayers:      3,
		DataLayer:      2,
		MemLayer:       2,
		DataAllocCount: 1,
		DataPoints:     pts,
	})
	require.True(t, out.JumpDataLayer)
	require.Equal(t, 2, out.ChosenMemLayer)
}

func TestDecideStrictTLPBeforeMemTP(t *testing.T) {
	pol := policy.New(true)
	pts := &checkpoint.DataLayerPoints{
		TLP: checkpoint.HybridPoint{Count: checkpoint.Range{End: 1}, Logic: checkpoint.Any},
	}
	out := pol.Decide(policy.Input{
		NumLayers:      3,
		DataLayer:      0,
		MemLayer:       0,
		DataAllocCount: 1,
		DataPoints:     pts,
		MemTPReached:   false,
	})
	require.True(t, out.ReachedTLP)
	require.True(t, out.JumpDataLayer)
	require.True(t, out.JumpMemLayer)
}

func TestDecideNonStrictTLPDoesNotForceJump(t *testing.T) {
	pol := policy.New(false)
	pts := &checkpoint.DataLayerPoints{
		TLP: checkpoint.HybridPoint{Count: checkpoint.Range{End: 1}, Logic: checkpoint.Any},
	}
	out := pol.Decide(policy.Input{
		NumLayers:      3,
		DataLayer:      0,
		MemLayer:       0,
		DataAllocCount: 1,
		DataPoints:     pts,
	})
	require.True(t, out.ReachedTLP)
	require.False(t, out.JumpDataLayer)
	require.Equal(t, 0, out.ChosenMemLayer)
}

func TestDecideStrictBackfillWhenPrevIncomplete(t *testing.T) {
	pol := policy.New(true)
	out := pol.Decide(policy.Input{
		NumLayers:            3,
		DataLayer:            1,
		MemLayer:             1,
		PrevLayersIncomplete: true,
	})
	require.True(t, out.BackfillMemory)
	require.False(t, out.JumpDataLayer)
}

func TestDecideMemLPFullSpillsWithoutJump(t *testing.T) {
	pol := policy.New(true)
	out := pol.Decide(policy.Input{
		NumLayers: 3,
		DataLayer: 1,
		MemLayer:  1,
		MemLPFull: true,
	})
	require.False(t, out.JumpDataLayer)
	require.False(t, out.BackfillMemory)
	require.Equal(t, 1, out.ChosenMemLayer)
}

func TestDecideDefaultSameLayer(t *testing.T) {
	pol := policy.New(true)
	out := pol.Decide(policy.Input{NumLayers: 3, DataLayer: 1, MemLayer: 1})
	require.False(t, out.JumpDataLayer)
	require.False(t, out.BackfillMemory)
	require.Equal(t, 1, out.ChosenMemLayer)
}

func TestDecideHardErrorOnZeroLayers(t *testing.T) {
	pol := policy.New(true)
	out := pol.Decide(policy.Input{NumLayers: 0})
	require.True(t, out.HardError)
}

func TestDecideHardErrorWhenTLPByteRangeExceedsCapacity(t *testing.T) {
	pol := policy.New(true)
	pts := &checkpoint.DataLayerPoints{
		TLP: checkpoint.HybridPoint{Bytes: checkpoint.Range{End: 1 << 20}, Logic: checkpoint.Any},
	}
	out := pol.Decide(policy.Input{
		NumLayers:        2,
		DataLayer:        0,
		MemLayer:         0,
		DataPoints:       pts,
		MemCapacityBytes: 1024,
	})
	require.True(t, out.HardError)
}
