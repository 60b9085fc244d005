package safety_test

import (
	"testing"

	"github.com/riftlayer/picas/safety"
	"github.com/stretchr/testify/require"
)

func TestGuardLeavesNonJumpRequestsAlone(t *testing.T) {
	cfg := safety.AntiStranding{Enabled: true, MaxStrandedPerLayer: 100}
	req := safety.JumpRequest{}
	out := safety.Guard(cfg, 1_000_000, false, 0, 0, req)
	require.Equal(t, req, out)
}

func TestGuardDisabledPassesThrough(t *testing.T) {
	cfg := safety.AntiStranding{Enabled: false, MaxStrandedPerLayer: 1}
	req := safety.JumpRequest{JumpDataLayer: true, JumpMemLayer: true}
	out := safety.Guard(cfg, 1_000_000, false, 0, 0, req)
	require.True(t, out.JumpDataLayer)
}

func TestGuardCancelsJumpWhenStrandingExceedsLimit(t *testing.T) {
	cfg := safety.AntiStranding{Enabled: true, MaxStrandedPerLayer: 1024}
	req := safety.JumpRequest{JumpDataLayer: true, JumpMemLayer: true}
	out := safety.Guard(cfg, 4096, false, 0, 10000, req)
	require.False(t, out.JumpDataLayer)
	require.False(t, out.JumpMemLayer)
}

func TestGuardAggressiveBackfillOnCancel(t *testing.T) {
	cfg := safety.AntiStranding{Enabled: true, MaxStrandedPerLayer: 1024, AggressiveBackfill: true}
	req := safety.JumpRequest{JumpDataLayer: true}
	out := safety.Guard(cfg, 4096, false, 0, 10000, req)
	require.True(t, out.BackfillMemory)
}

func TestGuardAllowsJumpUnderPressureDespiteStranding(t *testing.T) {
	cfg := safety.AntiStranding{Enabled: true, MaxStrandedPerLayer: 1024, AllowJumpIfPressure: true}
	req := safety.JumpRequest{JumpDataLayer: true, JumpMemLayer: true}
	// usedBytes > 90% of capacityBytes triggers the pressure formula.
	out := safety.Guard(cfg, 4096, false, 9500, 10000, req)
	require.True(t, out.JumpDataLayer)
}

func TestProberPrefersGivenLayer(t *testing.T) {
	p := safety.NewProber(4, 4)
	li, ok := p.Find(2, 8, func(layer, min int) bool { return layer == 2 })
	require.True(t, ok)
	require.Equal(t, 2, li)
}

func TestProberBoundsProbeCount(t *testing.T) {
	p := safety.NewProber(2, 8)
	calls := 0
	_, ok := p.Find(0, 8, func(layer, min int) bool {
		calls++
		return false
	})
	require.False(t, ok)
	require.LessOrEqual(t, calls, 1+2, "preferred check plus at most maxProbes probes")
}

func TestProberFindsEventualSpace(t *testing.T) {
	p := safety.NewProber(4, 4)
	li, ok := p.Find(0, 8, func(layer, min int) bool { return layer == 3 })
	require.True(t, ok)
	require.Equal(t, 3, li)
}
