package scavenger_test

import (
	"testing"

	"github.com/riftlayer/picas/scavenger"
	"github.com/stretchr/testify/require"
)

type fakeLayers struct {
	calls []struct{ coalesce, rebucket bool }
}

func (f *fakeLayers) Scavenge(coalesce, rebucket bool) {
	f.calls = append(f.calls, struct{ coalesce, rebucket bool }{coalesce, rebucket})
}

func TestTickDoesNothingWhenDisabled(t *testing.T) {
	s := scavenger.New(scavenger.Config{Enabled: false, PeriodAllocs: 1})
	mgr := &fakeLayers{}
	require.False(t, s.Tick(mgr))
	require.Empty(t, mgr.calls)
}

func TestTickDoesNothingWithZeroPeriod(t *testing.T) {
	s := scavenger.New(scavenger.Config{Enabled: true, PeriodAllocs: 0})
	mgr := &fakeLayers{}
	require.False(t, s.Tick(mgr))
}

func TestTickFiresEveryPeriod(t *testing.T) {
	s := scavenger.New(scavenger.Config{Enabled: true, PeriodAllocs: 3, EnableCoalescing: true, EnableRebucket: true})
	mgr := &fakeLayers{}

	require.False(t, s.Tick(mgr))
	require.False(t, s.Tick(mgr))
	require.True(t, s.Tick(mgr))
	require.Len(t, mgr.calls, 1)
	require.True(t, mgr.calls[0].coalesce)
	require.True(t, mgr.calls[0].rebucket)

	require.False(t, s.Tick(mgr))
	require.False(t, s.Tick(mgr))
	require.True(t, s.Tick(mgr))
	require.Len(t, mgr.calls, 2)
}
