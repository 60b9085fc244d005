// Package fallback implements PICAS's fallback allocator, used whenever
// the layered arena cannot satisfy a request (or a hard policy error
// forces one). It never touches the layer arena; each mode manages its own
// memory independently.
package fallback

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/riftlayer/picas/internal/blkfmt"
	"github.com/riftlayer/picas/internal/ospages"
)

// Mode selects how the fallback allocator sources memory.
type Mode uint8

const (
	// None disables the fallback allocator entirely; Alloc always fails.
	None Mode = iota
	// SystemMalloc services requests from the Go heap, analogous to the
	// reference implementation's use of the platform malloc.
	SystemMalloc
	// EmergencyReserve services requests from a small, pre-reserved OS page
	// range, bump-allocated only — Free is a no-op in this mode.
	EmergencyReserve
)

// Config configures the fallback allocator.
type Config struct {
	Mode           Mode
	EmergencyBytes int
}

// Allocator is the fallback allocator. It is safe for concurrent use.
type Allocator struct {
	cfg Config

	mu      sync.Mutex
	reserve ospages.Pages
	bump    int

	// liveBlocks pins SystemMalloc blocks against the garbage collector:
	// once a raw pointer into buf is handed to the caller, nothing else
	// holds buf as a typed Go reference, so without this map the block
	// could be collected out from under an outstanding pointer.
	liveBlocks map[uintptr][]byte
}

// New constructs a fallback allocator in the given mode. For
// EmergencyReserve it eagerly reserves cfg.EmergencyBytes (minimum one page)
// from the OS.
func New(cfg Config) (*Allocator, error) {
	a := &Allocator{cfg: cfg, liveBlocks: make(map[uintptr][]byte)}
	if cfg.Mode == EmergencyReserve {
		ps := ospages.PageSize()
		bytes := cfg.EmergencyBytes
		if bytes < ps {
			bytes = ps
		}
		pages, err := ospages.ReserveAndCommit(bytes)
		if err != nil {
			return nil, fmt.Errorf("fallback: emergency reserve failed: %w", err)
		}
		a.reserve = pages
	}
	return a, nil
}

// Close releases any OS resources held by the allocator.
func (a *Allocator) Close() error {
	if a.cfg.Mode == EmergencyReserve {
		return ospages.Release(a.reserve)
	}
	return nil
}

// Alloc returns a size-byte block, or (nil, false) if this mode cannot
// satisfy it.
func (a *Allocator) Alloc(size int) (unsafe.Pointer, bool) {
	if size <= 0 {
		size = 1
	}
	payload := blkfmt.AlignUpInt(size, blkfmt.Alignment)
	total := blkfmt.AlignUpInt(blkfmt.FallbackHeaderSize+payload, blkfmt.Alignment)

	switch a.cfg.Mode {
	case SystemMalloc:
		buf := make([]byte, total)
		p := unsafe.Pointer(&buf[0])
		h := blkfmt.FallbackHeaderAt(p)
		h.Magic = blkfmt.FallbackMagic
		h.Mode = uint32(SystemMalloc)
		h.UserSize = uintptr(size)
		h.TotalSize = uintptr(total)

		a.mu.Lock()
		a.liveBlocks[uintptr(p)] = buf
		a.mu.Unlock()

		return unsafe.Add(p, blkfmt.FallbackHeaderSize), true

	case EmergencyReserve:
		a.mu.Lock()
		defer a.mu.Unlock()
		if len(a.reserve.Mem) == 0 || a.bump+total > len(a.reserve.Mem) {
			return nil, false
		}
		p := unsafe.Pointer(&a.reserve.Mem[a.bump])
		h := blkfmt.FallbackHeaderAt(p)
		h.Magic = blkfmt.FallbackMagic
		h.Mode = uint32(EmergencyReserve)
		h.UserSize = uintptr(size)
		h.TotalSize = uintptr(total)
		a.bump += total
		return unsafe.Add(p, blkfmt.FallbackHeaderSize), true

	default: // None
		return nil, false
	}
}

// Owns reports whether p was returned by this allocator's Alloc.
func (a *Allocator) Owns(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}
	_, ok := a.headerFromUser(p)
	return ok
}

// UsableSize returns the originally requested size for a pointer this
// allocator owns, or 0 if it does not.
func (a *Allocator) UsableSize(p unsafe.Pointer) int {
	h, ok := a.headerFromUser(p)
	if !ok {
		return 0
	}
	return int(h.UserSize)
}

func (a *Allocator) headerFromUser(p unsafe.Pointer) (*blkfmt.FallbackHeader, bool) {
	hp := unsafe.Add(p, -blkfmt.FallbackHeaderSize)
	h := blkfmt.FallbackHeaderAt(hp)
	if h.Magic != blkfmt.FallbackMagic {
		return nil, false
	}
	return h, true
}

// Free releases a pointer previously returned by Alloc. Freeing an
// EmergencyReserve block is a no-op: that mode is bump-only by design.
func (a *Allocator) Free(p unsafe.Pointer) {
	h, ok := a.headerFromUser(p)
	if !ok {
		return
	}
	if Mode(h.Mode) != SystemMalloc {
		return
	}
	hp := unsafe.Add(p, -blkfmt.FallbackHeaderSize)
	a.mu.Lock()
	delete(a.liveBlocks, uintptr(hp))
	a.mu.Unlock()
}
