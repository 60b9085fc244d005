package trace

import (
	"sync/atomic"
	"time"
)

// Halting implements the optional debug-pause controller: when enabled, it
// sleeps for a configured duration on every structural (non-Alloc/Free/
// Realloc) event, making rare transitions easy to single-step through
// under a debugger or a slowed-down demo.
type Halting struct {
	enabled atomic.Bool
	pauseMS atomic.Uint32
}

// Enable toggles whether OnEvent ever sleeps.
func (h *Halting) Enable(on bool) { h.enabled.Store(on) }

// SetPauseMS sets the sleep duration applied on each qualifying event.
func (h *Halting) SetPauseMS(ms uint32) { h.pauseMS.Store(ms) }

// OnEvent sleeps for the configured pause duration if halting is enabled
// and e is a structural event.
func (h *Halting) OnEvent(e Event) {
	if !h.enabled.Load() {
		return
	}
	ms := h.pauseMS.Load()
	if ms == 0 {
		return
	}
	switch e.Type {
	case JumpToNextLayer, DataAdvancedMemoryBackfill, MemorySpillToOtherLayer,
		LayerMemTPReached, LayerTLPReached, LayerDataLPReached,
		FallbackAlloc, OutOfMemory, Scavenge:
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}
