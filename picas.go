package picas

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/riftlayer/picas/fallback"
	"github.com/riftlayer/picas/internal/blkfmt"
	"github.com/riftlayer/picas/internal/ospages"
	"github.com/riftlayer/picas/layer"
	"github.com/riftlayer/picas/policy"
	"github.com/riftlayer/picas/safety"
	"github.com/riftlayer/picas/scavenger"
	"github.com/riftlayer/picas/trace"
)

// Stats is the aggregate allocator-wide snapshot returned by
// Allocator.Stats.
type Stats struct {
	TotalReserved int
	TotalCapacity int
	TotalLiveEst  int
}

// Allocator is a single PICAS instance: a reserved arena, its layer
// manager, the placement policy, the anti-stranding guard and bounded
// prober, the scavenger, the fallback allocator, and the trace/event
// surface, all wired together.
type Allocator struct {
	cfg    Config
	pol    policy.Policy
	mgr    *layer.Manager
	fb     *fallback.Allocator
	scv    *scavenger.Scavenger
	prober *safety.Prober
	tr     *trace.Tracer
	halt   trace.Halting

	pages ospages.Pages

	hookMu sync.Mutex
	hook   trace.Hook

	numLayers int

	currentDataLayer atomic.Uint32
	currentMemLayer  atomic.Uint32
	dataAllocCount   atomic.Uint64
	dataAllocBytes   atomic.Uint64
	allocSeq         atomic.Uint64
}

// New builds an Allocator from cfg. New sanitizes its own copy of cfg
// before use; the caller's Config value is left unchanged.
func New(cfg Config) (*Allocator, error) {
	cfg.Sanitize()

	fb, err := fallback.New(cfg.Safety.Fallback)
	if err != nil {
		return nil, err
	}

	ps := ospages.PageSize()
	layerCfgs := make([]layer.Config, cfg.NumLayers)
	total := 0
	for i := 0; i < cfg.NumLayers; i++ {
		capBytes := blkfmt.AlignUpInt(cfg.MemLayers[i].Bytes, ps)
		layerCfgs[i] = layer.Config{Bytes: capBytes, MemTPBytes: cfg.MemLayers[i].MemTPBytes}
		total += capBytes
	}

	pages, err := ospages.ReserveAndCommit(total)
	if err != nil {
		_ = fb.Close()
		return nil, fmt.Errorf("%w: %v", ErrReserveFailed, err)
	}

	mgr, err := layer.NewManager(pages.Mem, layerCfgs)
	if err != nil {
		_ = ospages.Release(pages)
		_ = fb.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	a := &Allocator{
		cfg:       cfg,
		pol:       policy.New(cfg.StrictPicasJumps),
		mgr:       mgr,
		fb:        fb,
		scv:       scavenger.New(cfg.Scavenger),
		prober:    safety.NewProber(cfg.Safety.MaxLayerProbes, cfg.NumLayers),
		tr:        trace.New(cfg.EnableTracing),
		pages:     pages,
		numLayers: cfg.NumLayers,
	}
	a.halt.Enable(cfg.EnableDebugPause)
	a.halt.SetPauseMS(cfg.DebugPauseMS)
	return a, nil
}

// Close releases every OS resource this Allocator holds. It must not be
// called concurrently with any other method.
func (a *Allocator) Close() error {
	var firstErr error
	if err := ospages.Release(a.pages); err != nil {
		firstErr = err
	}
	if err := a.fb.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetEventHook installs (or clears, with nil) the callback invoked on every
// event, Alloc/Free/Realloc included, while EnableEventHooks is set. Hooks
// run synchronously on the allocating goroutine.
func (a *Allocator) SetEventHook(hook trace.Hook) {
	a.hookMu.Lock()
	a.hook = hook
	a.hookMu.Unlock()
}

func (a *Allocator) emit(e trace.Event) {
	if !a.cfg.EnableEventHooks {
		return
	}
	a.hookMu.Lock()
	hook := a.hook
	a.hookMu.Unlock()
	if hook != nil {
		hook(e)
	}
	a.halt.OnEvent(e)
}

// Tracer returns the allocator's trace log.
func (a *Allocator) Tracer() *trace.Tracer { return a.tr }

// DataLayer returns the current data layer index.
func (a *Allocator) DataLayer() int { return int(a.currentDataLayer.Load()) }

// SetDataLayer forces the current data layer (and its paired memory layer)
// to l, clamped to [0, NumLayers), and resets that layer's checkpoint
// counters.
func (a *Allocator) SetDataLayer(l int) {
	if l < 0 {
		l = 0
	}
	if l >= a.numLayers {
		l = a.numLayers - 1
	}
	a.currentDataLayer.Store(uint32(l))
	a.currentMemLayer.Store(uint32(l))
	a.dataAllocCount.Store(0)
	a.dataAllocBytes.Store(0)
}

// Stats returns an aggregate snapshot across every memory layer.
func (a *Allocator) Stats() Stats {
	s := Stats{TotalReserved: len(a.pages.Mem)}
	for i := 0; i < a.numLayers; i++ {
		l := a.mgr.Layer(i)
		s.TotalCapacity += l.Capacity()
		s.TotalLiveEst += l.LiveBytes()
	}
	return s
}

func (a *Allocator) layerHasSpace(li, minBlock int) bool {
	if li < 0 || li >= a.numLayers {
		return false
	}
	return a.mgr.Layer(li).HasSpaceFor(minBlock)
}

// Malloc allocates size bytes (at least one) and returns a pointer to the
// payload, or nil if neither the layered arena nor the fallback allocator
// could satisfy the request.
func (a *Allocator) Malloc(size int) unsafe.Pointer {
	if a.scv.Tick(a.mgr) {
		a.emit(trace.Event{
			Type:      trace.Scavenge,
			DataLayer: a.currentDataLayer.Load(),
			MemLayer:  a.currentMemLayer.Load(),
			Note:      "scavenger run",
		})
	}

	if size <= 0 {
		size = 1
	}

	dl := int(a.currentDataLayer.Load())
	ml := int(a.currentMemLayer.Load())
	if dl >= a.numLayers {
		dl = a.numLayers - 1
	}
	if ml >= a.numLayers {
		ml = dl
	}

	curL := a.mgr.Layer(ml)

	in := policy.Input{
		NumLayers:            a.numLayers,
		DataLayer:            dl,
		MemLayer:             ml,
		RequestSize:          size,
		DataAllocCount:       int(a.dataAllocCount.Load()),
		DataAllocBytes:       int(a.dataAllocBytes.Load()),
		DataPoints:           &a.cfg.DataLayers[dl],
		MemTPReached:         curL.MemTPReached(),
		MemLPFull:            curL.IsFull(),
		MemUsedBytes:         curL.UsedBytes(),
		MemCapacityBytes:     curL.Capacity(),
		MemTPBytes:           curL.MemTPBytesCfg(),
		PrevLayersIncomplete: a.mgr.AnyPrevIncomplete(dl),
	}

	out := a.pol.Decide(in)

	if out.ReachedTLP {
		a.emit(trace.Event{Type: trace.LayerTLPReached, DataLayer: uint32(dl), MemLayer: uint32(ml), Size: uintptr(size), Note: "TLP reached"})
	}
	if out.ReachedDataLP {
		a.emit(trace.Event{Type: trace.LayerDataLPReached, DataLayer: uint32(dl), MemLayer: uint32(ml), Size: uintptr(size), Note: "DATA-LP reached"})
	}

	if out.HardError {
		a.emit(trace.Event{Type: trace.OutOfMemory, DataLayer: uint32(dl), MemLayer: uint32(ml), Size: uintptr(size), Note: out.Note})
		return a.tryFallback(dl, ml, size, "fallback (hard_error)")
	}

	req := safety.Guard(a.cfg.Safety.AntiStranding, curL.StrandedBytes(), curL.IsFull(), curL.UsedBytes(), curL.Capacity(), safety.JumpRequest{
		JumpDataLayer:  out.JumpDataLayer,
		JumpMemLayer:   out.JumpMemLayer,
		BackfillMemory: out.BackfillMemory,
		Note:           out.Note,
	})
	out.JumpDataLayer, out.JumpMemLayer, out.BackfillMemory, out.Note = req.JumpDataLayer, req.JumpMemLayer, req.BackfillMemory, req.Note

	if out.JumpDataLayer && dl+1 < a.numLayers {
		a.emit(trace.Event{Type: trace.JumpToNextLayer, DataLayer: uint32(dl), MemLayer: uint32(ml), Size: uintptr(size), Note: out.Note})
		dl++
		a.currentDataLayer.Store(uint32(dl))
		a.dataAllocCount.Store(0)
		a.dataAllocBytes.Store(0)
		if out.JumpMemLayer {
			ml = dl
			if ml >= a.numLayers {
				ml = a.numLayers - 1
			}
			a.currentMemLayer.Store(uint32(ml))
		}
	}

	chosenML := out.ChosenMemLayer
	if out.BackfillMemory {
		chosenML = a.mgr.EarliestIncomplete(dl)
		a.emit(trace.Event{Type: trace.DataAdvancedMemoryBackfill, DataLayer: uint32(dl), MemLayer: uint32(chosenML), Size: uintptr(size), Note: out.Note})
	} else if chosenML >= a.numLayers {
		chosenML = a.numLayers - 1
	}

	minBlock := blkfmt.BlockTotal(1)
	if chosenML < 0 || chosenML >= a.numLayers || a.mgr.Layer(chosenML).IsFull() {
		if probed, ok := a.prober.Find(dl, minBlock, a.layerHasSpace); ok {
			chosenML = probed
			a.emit(trace.Event{Type: trace.MemorySpillToOtherLayer, DataLayer: uint32(dl), MemLayer: uint32(chosenML), Size: uintptr(size), Note: "bounded-probe spill"})
		}
	}

	res := a.allocFromLayer(chosenML, size, dl)
	if !res.Ok {
		if probed, ok := a.prober.Find(chosenML, minBlock, a.layerHasSpace); ok {
			chosenML = probed
			a.emit(trace.Event{Type: trace.MemorySpillToOtherLayer, DataLayer: uint32(dl), MemLayer: uint32(chosenML), Size: uintptr(size), Note: "bounded-probe retry"})
			res = a.allocFromLayer(chosenML, size, dl)
		}
	}

	if !res.Ok {
		a.emit(trace.Event{Type: trace.OutOfMemory, DataLayer: uint32(dl), MemLayer: uint32(chosenML), Size: uintptr(size), Note: "PICAS arena exhausted"})
		return a.tryFallback(dl, chosenML, size, "fallback")
	}

	a.dataAllocCount.Add(1)
	a.dataAllocBytes.Add(uint64(size))

	if a.tr.Enabled() {
		l := a.mgr.Layer(chosenML)
		penalty := 0.0
		if chosenML != dl {
			penalty = a.cfg.PenaltyK
		}
		a.tr.Record(trace.Entry{
			Seq:         a.allocSeq.Add(1) - 1,
			DataLayer:   uint32(dl),
			MemLayer:    uint32(chosenML),
			Size:        uintptr(size),
			Addr:        uintptr(res.Ptr),
			LayerOffset: uintptr(l.OffsetOf(res.Ptr)),
			PenaltyCost: penalty,
			Note:        out.Note,
		})
	}

	a.emit(trace.Event{Type: trace.Alloc, DataLayer: uint32(dl), MemLayer: uint32(chosenML), Size: uintptr(size), Note: res.Source})
	return res.Ptr
}

func (a *Allocator) allocFromLayer(li, size, dataLayer int) layer.AllocResult {
	res := a.mgr.Layer(li).Alloc(size, dataLayer)
	if res.MemTPJustReached {
		a.emit(trace.Event{Type: trace.LayerMemTPReached, DataLayer: uint32(dataLayer), MemLayer: uint32(li), Note: "MEM-TP reached"})
	}
	return res
}

func (a *Allocator) tryFallback(dl, ml, size int, note string) unsafe.Pointer {
	if !a.cfg.Safety.AlwaysFallbackOnFail {
		return nil
	}
	p, ok := a.fb.Alloc(size)
	if !ok {
		return nil
	}
	a.emit(trace.Event{Type: trace.FallbackAlloc, DataLayer: uint32(dl), MemLayer: uint32(ml), Size: uintptr(size), Note: note})
	return p
}

func (a *Allocator) alignTagAt(p unsafe.Pointer) (*blkfmt.AlignTag, bool) {
	if uintptr(p) < uintptr(blkfmt.AlignTagSize) {
		return nil, false
	}
	tag := blkfmt.AlignTagAt(unsafe.Add(p, -blkfmt.AlignTagSize))
	if tag.Magic != blkfmt.AlignMagic || tag.BaseAddr == 0 {
		return nil, false
	}
	return tag, true
}

// Free releases a pointer previously returned by Malloc, Calloc, Realloc,
// or Memalign. Freeing nil is a no-op.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	if tag, ok := a.alignTagAt(p); ok {
		tag.Magic = 0
		a.Free(unsafe.Pointer(tag.BaseAddr))
		return
	}

	if a.fb.Owns(p) {
		a.fb.Free(p)
		a.emit(trace.Event{Type: trace.Free, DataLayer: a.currentDataLayer.Load(), Note: "free fallback"})
		return
	}

	h, ok := a.mgr.ResolveHeader(p)
	if !ok {
		return
	}

	totalSize := int(h.TotalSize)
	memLayer := int(h.MemLayer)
	dataLayer := h.DataLayer
	userSize := h.UserSize

	hp := unsafe.Add(p, -blkfmt.HeaderSize)
	_ = a.mgr.FreeBlock(memLayer, hp, totalSize)

	a.emit(trace.Event{Type: trace.Free, DataLayer: dataLayer, MemLayer: uint32(memLayer), Size: userSize, Note: "free"})
}

// Realloc resizes the block at p to newSize bytes, copying its live
// content and freeing the original. Realloc(nil, n) behaves like
// Malloc(n); Realloc(p, 0) behaves like Free(p).
func (a *Allocator) Realloc(p unsafe.Pointer, newSize int) unsafe.Pointer {
	if p == nil {
		return a.Malloc(newSize)
	}
	if newSize == 0 {
		a.Free(p)
		return nil
	}

	if tag, ok := a.alignTagAt(p); ok {
		oldSize := int(tag.Requested)
		np := a.Malloc(newSize)
		if np == nil {
			return nil
		}
		memcopy(np, p, minInt(oldSize, newSize))
		a.Free(p)
		a.emit(trace.Event{Type: trace.Realloc, DataLayer: a.currentDataLayer.Load(), MemLayer: a.currentMemLayer.Load(), Size: uintptr(newSize), Note: "realloc aligned -> copy"})
		return np
	}

	if a.fb.Owns(p) {
		oldSize := a.fb.UsableSize(p)
		np := a.Malloc(newSize)
		if np == nil {
			return nil
		}
		memcopy(np, p, minInt(oldSize, newSize))
		a.fb.Free(p)
		a.emit(trace.Event{Type: trace.Realloc, DataLayer: a.currentDataLayer.Load(), Size: uintptr(newSize), Note: "realloc fallback -> picas"})
		return np
	}

	h, ok := a.mgr.ResolveHeader(p)
	if !ok {
		return nil
	}

	if newSize <= int(h.UserSize) {
		h.UserSize = uintptr(newSize)
		a.emit(trace.Event{Type: trace.Realloc, DataLayer: h.DataLayer, MemLayer: h.MemLayer, Size: uintptr(newSize), Note: "shrink in-place"})
		return p
	}

	oldUserSize := int(h.UserSize)
	dataLayer, memLayer := h.DataLayer, h.MemLayer
	np := a.Malloc(newSize)
	if np == nil {
		return nil
	}
	memcopy(np, p, oldUserSize)
	a.Free(p)
	a.emit(trace.Event{Type: trace.Realloc, DataLayer: dataLayer, MemLayer: memLayer, Size: uintptr(newSize), Note: "grow via copy"})
	return np
}

// Memalign returns a size-byte block aligned to alignment. An alignment
// below the pointer size is raised to the pointer size; the result must be
// a power of two, otherwise Memalign returns nil. Alignments within blkfmt.Alignment
// are satisfied directly by Malloc; larger alignments over-allocate and
// stamp an AlignTag back-pointer so Free/Realloc/UsableSize can find the
// real base block.
func (a *Allocator) Memalign(alignment, size int) unsafe.Pointer {
	if size <= 0 {
		size = 1
	}
	ptrSize := int(unsafe.Sizeof(uintptr(0)))
	if alignment < ptrSize {
		alignment = ptrSize
	}
	if !blkfmt.IsPow2(uintptr(alignment)) {
		return nil
	}
	if alignment <= blkfmt.Alignment {
		return a.Malloc(size)
	}

	extra := alignment + blkfmt.AlignTagSize
	base := a.Malloc(size + extra)
	if base == nil {
		return nil
	}

	aligned := alignPointer(unsafe.Add(base, blkfmt.AlignTagSize), uintptr(alignment))
	tag := blkfmt.AlignTagAt(unsafe.Add(aligned, -blkfmt.AlignTagSize))
	tag.Magic = blkfmt.AlignMagic
	tag.BaseAddr = uintptr(base)
	tag.Requested = uintptr(size)

	return aligned
}

// UsableSize reports the caller-requested size backing p, or 0 if p is not
// a pointer this allocator currently owns.
func (a *Allocator) UsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	if tag, ok := a.alignTagAt(p); ok {
		return int(tag.Requested)
	}
	if a.fb.Owns(p) {
		return a.fb.UsableSize(p)
	}
	h, ok := a.mgr.ResolveHeader(p)
	if !ok {
		return 0
	}
	return int(h.UserSize)
}

// Calloc allocates n*sz bytes, zeroed, checking for multiplication
// overflow before computing the total the way the reference
// implementation does (sz > MaxSize/n, never n*sz directly).
func (a *Allocator) Calloc(n, sz int) unsafe.Pointer {
	if n == 0 || sz == 0 {
		return a.Malloc(1)
	}
	if n < 0 || sz < 0 || sz > math.MaxInt/n {
		return nil
	}
	total := n * sz
	p := a.Malloc(total)
	if p == nil {
		return nil
	}
	clear(unsafe.Slice((*byte)(p), total))
	return p
}

func alignPointer(p unsafe.Pointer, align uintptr) unsafe.Pointer {
	v := uintptr(p)
	v = (v + align - 1) &^ (align - 1)
	return unsafe.Pointer(v)
}

func memcopy(dst, src unsafe.Pointer, n int) {
	if n <= 0 {
		return
	}
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
