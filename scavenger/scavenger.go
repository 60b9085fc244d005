// Package scavenger drives the periodic maintenance pass over a layer
// Manager: every PeriodAllocs successful allocations, it triggers a
// coalesce-and-rebucket sweep across every layer's free lists.
package scavenger

import "sync/atomic"

// layerScavenger is the subset of *layer.Manager the scavenger needs. A
// narrow interface avoids an import cycle and keeps this package testable
// against a fake.
type layerScavenger interface {
	Scavenge(coalesce, rebucket bool)
}

// Config controls whether and how often the scavenger runs.
type Config struct {
	Enabled          bool
	PeriodAllocs     uint64
	EnableCoalescing bool
	EnableRebucket   bool
	// EnableOSRelease is accepted for config-surface compatibility with
	// §6's external config shape but unused: PICAS never releases pages
	// back to the OS on free (§1 Non-goals).
	EnableOSRelease bool
}

// Scavenger counts successful allocations and triggers a maintenance pass
// once every PeriodAllocs of them.
type Scavenger struct {
	cfg     Config
	counter atomic.Uint64
}

// New returns a Scavenger configured by cfg.
func New(cfg Config) *Scavenger { return &Scavenger{cfg: cfg} }

// Tick should be called once per successful allocation. It returns true if
// this call triggered a scavenge pass.
func (s *Scavenger) Tick(mgr layerScavenger) bool {
	if !s.cfg.Enabled || s.cfg.PeriodAllocs == 0 {
		return false
	}
	n := s.counter.Add(1)
	if n < s.cfg.PeriodAllocs {
		return false
	}
	s.counter.Store(0)
	mgr.Scavenge(s.cfg.EnableCoalescing, s.cfg.EnableRebucket)
	return true
}
