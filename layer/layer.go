// Package layer implements the per-memory-layer bump allocator and
// segregated free-list bins that back every PICAS memory layer, plus the
// Manager that slices a single reserved arena into those layers.
//
// Placement within a layer is bump-pointer-first for fresh memory and
// first-fit-ascending-bin for reused memory: the free list never promises
// best fit, only that the chosen node is large enough. This is a deliberate
// contract, not an optimization left on the table — callers must not come
// to depend on any particular fit within a bin.
package layer

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/riftlayer/picas/internal/blkfmt"
)

// KBins is the fixed number of segregated free-list bins per layer.
const KBins = 20

// minSplitPayload is the smallest payload worth carving a remainder free
// node for; remainders smaller than block_total(minSplitPayload) are left
// attached to the block that was just allocated instead.
const minSplitPayload = 32

func binIndex(size int) int {
	v := size
	if v < 32 {
		v = 32
	}
	idx := bits.Len(uint(v)) - 1
	if idx >= KBins {
		idx = KBins - 1
	}
	return idx
}

// Config describes one layer's slice of the shared arena.
type Config struct {
	Bytes      int
	MemTPBytes int
}

// AllocResult reports the outcome of a single Layer.Alloc call.
type AllocResult struct {
	Ptr              unsafe.Pointer
	Ok               bool
	Source           string // "free-list" or "bump"
	MemTPJustReached bool
}

// Layer is one memory layer: a bump cursor over a byte range plus KBins
// segregated free lists of nodes reclaimed by Free or compacted by
// Scavenge. One mutex guards the bump cursor and every free-list bin;
// simple scalar counters consulted by the policy layer without holding
// that mutex are kept as atomics instead, matching the relaxed-read model
// the allocator core uses for observational (non-mutating) reads.
type Layer struct {
	mem   []byte
	index int

	mu   sync.Mutex
	bump int
	bins [KBins]int // head offset into mem, -1 = empty

	bumpUsed     atomic.Int64
	liveEst      atomic.Int64
	memTPBytes   int
	memTPReached atomic.Bool
}

func newLayer(mem []byte, index int, memTPBytes int) *Layer {
	l := &Layer{mem: mem, index: index, memTPBytes: memTPBytes}
	for i := range l.bins {
		l.bins[i] = -1
	}
	return l
}

// Index returns this layer's position in its Manager.
func (l *Layer) Index() int { return l.index }

// Capacity returns the layer's total byte range.
func (l *Layer) Capacity() int { return len(l.mem) }

// UsedBytes returns the current bump cursor position (bytes ever handed
// out via bump allocation, irrespective of frees).
func (l *Layer) UsedBytes() int { return int(l.bumpUsed.Load()) }

// LiveBytes returns the saturating estimate of bytes currently outstanding
// (allocated and not yet freed).
func (l *Layer) LiveBytes() int { return int(l.liveEst.Load()) }

// MemTPBytesCfg returns the configured MEM-TP threshold for this layer.
func (l *Layer) MemTPBytesCfg() int { return l.memTPBytes }

// MemTPReached reports whether the bump cursor has crossed MEM-TP.
func (l *Layer) MemTPReached() bool { return l.memTPReached.Load() }

// IsFull reports whether the layer's bump cursor has reached its capacity.
// This is the mem_lp_full predicate; it is deliberately not unified with
// HasSpaceFor (see the anti-stranding/bounded-probing design notes) — a
// layer can be "full" for bump purposes while still holding reclaimable
// free-list bytes, and a layer that is not full can still be too tight for
// a particular request.
func (l *Layer) IsFull() bool {
	return l.bumpUsed.Load() >= int64(len(l.mem))
}

// HasSpaceFor reports whether at least need more bytes can still be bump
// allocated from this layer. It does not consult the free lists: bounded
// probing is about finding room for a *fresh* block cheaply, not about
// exhaustively searching every layer's reclaimed memory.
func (l *Layer) HasSpaceFor(need int) bool {
	return l.bumpUsed.Load()+int64(need) <= int64(len(l.mem))
}

// StrandedBytes returns the bump-unused remainder of this layer — the
// bytes that would be abandoned if the allocator jumped away from this
// layer right now.
func (l *Layer) StrandedBytes() int {
	rem := len(l.mem) - l.UsedBytes()
	if rem < 0 {
		return 0
	}
	return rem
}

// OffsetOf returns p's byte offset within this layer, or 0 if p precedes
// the layer's start (matching the tracer's layer_offset convention).
func (l *Layer) OffsetOf(p unsafe.Pointer) int {
	if len(l.mem) == 0 {
		return 0
	}
	base := uintptr(unsafe.Pointer(&l.mem[0]))
	addr := uintptr(p)
	if addr < base {
		return 0
	}
	return int(addr - base)
}

// Contains reports whether p falls within this layer's byte range.
func (l *Layer) Contains(p unsafe.Pointer) bool {
	if len(l.mem) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&l.mem[0]))
	addr := uintptr(p)
	return addr >= base && addr < base+uintptr(len(l.mem))
}

// HeaderFromUserPtr recovers the block header for a user pointer known to
// lie within this layer, verifying the header magic before trusting it.
func (l *Layer) HeaderFromUserPtr(p unsafe.Pointer) (*blkfmt.Header, bool) {
	hp := unsafe.Add(p, -blkfmt.HeaderSize)
	if !l.Contains(hp) {
		return nil, false
	}
	h := blkfmt.HeaderAt(hp)
	if h.Magic != blkfmt.HeaderMagic {
		return nil, false
	}
	return h, true
}

// Alloc satisfies a userSize-byte request, preferring a free-list node and
// falling back to the bump cursor. dataLayer is stamped into the returned
// block's header for later inspection (e.g. by the tracer).
func (l *Layer) Alloc(userSize, dataLayer int) AllocResult {
	total := blkfmt.BlockTotal(userSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, finalSize, ok := l.allocFromFreeList(total); ok {
		l.stampHeader(p, userSize, finalSize, dataLayer)
		l.liveEst.Add(int64(finalSize))
		return AllocResult{Ptr: unsafe.Add(p, blkfmt.HeaderSize), Ok: true, Source: "free-list"}
	}

	if l.bump+total > len(l.mem) {
		return AllocResult{}
	}

	off := l.bump
	l.bump += total
	l.bumpUsed.Store(int64(l.bump))

	p := unsafe.Pointer(&l.mem[off])
	l.stampHeader(p, userSize, total, dataLayer)
	l.liveEst.Add(int64(total))

	justReached := false
	if !l.memTPReached.Load() && l.memTPBytes > 0 && l.bump >= l.memTPBytes {
		l.memTPReached.Store(true)
		justReached = true
	}

	return AllocResult{Ptr: unsafe.Add(p, blkfmt.HeaderSize), Ok: true, Source: "bump", MemTPJustReached: justReached}
}

func (l *Layer) stampHeader(p unsafe.Pointer, userSize, totalSize, dataLayer int) {
	h := blkfmt.HeaderAt(p)
	h.Magic = blkfmt.HeaderMagic
	h.MemLayer = uint32(l.index)
	h.DataLayer = uint32(dataLayer)
	h.Flags = 0
	h.UserSize = uintptr(userSize)
	h.TotalSize = uintptr(totalSize)
}

// allocFromFreeList scans bins ascending from binIndex(total), taking the
// first node large enough, splitting off any worthwhile remainder. Must be
// called with l.mu held.
func (l *Layer) allocFromFreeList(total int) (unsafe.Pointer, int, bool) {
	for b := binIndex(total); b < KBins; b++ {
		prevOff := -1
		curOff := l.bins[b]
		for curOff != -1 {
			node := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[curOff]))
			size := int(node.Size)
			nextOff := int(node.NextOffset)

			if size < total {
				prevOff = curOff
				curOff = nextOff
				continue
			}

			if prevOff == -1 {
				l.bins[b] = nextOff
			} else {
				blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[prevOff])).NextOffset = int64(nextOff)
			}

			finalSize := size
			remainder := size - total
			if remainder >= blkfmt.BlockTotal(minSplitPayload) {
				splitOff := curOff + total
				split := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[splitOff]))
				split.Size = uintptr(remainder)
				sbi := binIndex(remainder)
				split.NextOffset = int64(l.bins[sbi])
				l.bins[sbi] = splitOff
				finalSize = total
			}

			return unsafe.Pointer(&l.mem[curOff]), finalSize, true
		}
	}
	return nil, 0, false
}

// Free reinterprets the block at p (a header pointer, not a user pointer)
// as a FreeNode of the given totalSize and pushes it onto the head of its
// bin. Callers must read any header fields they still need before calling
// Free: it overwrites the block's bytes.
func (l *Layer) Free(p unsafe.Pointer, totalSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	off := l.offsetOf(p)
	node := blkfmt.FreeNodeAt(p)
	node.Size = uintptr(totalSize)
	bi := binIndex(totalSize)
	node.NextOffset = int64(l.bins[bi])
	l.bins[bi] = off

	cur := l.liveEst.Load()
	if cur >= int64(totalSize) {
		l.liveEst.Store(cur - int64(totalSize))
	} else {
		l.liveEst.Store(0)
	}
}

func (l *Layer) offsetOf(p unsafe.Pointer) int {
	base := uintptr(unsafe.Pointer(&l.mem[0]))
	return int(uintptr(p) - base)
}

// Scavenge detaches every free node from every bin, address-sorts them,
// optionally coalesces adjacent nodes, and either rebuckets the survivors
// by their (possibly now larger) size or dumps them all into the largest
// bin.
func (l *Layer) Scavenge(coalesce, rebucket bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var offsets []int
	for b := 0; b < KBins; b++ {
		off := l.bins[b]
		l.bins[b] = -1
		for off != -1 {
			node := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[off]))
			offsets = append(offsets, off)
			off = int(node.NextOffset)
		}
	}
	if len(offsets) == 0 {
		return
	}

	sort.Ints(offsets)

	if coalesce {
		merged := make([]int, 0, len(offsets))
		merged = append(merged, offsets[0])
		cur := offsets[0]
		for _, next := range offsets[1:] {
			curNode := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[cur]))
			if cur+int(curNode.Size) == next {
				nextNode := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[next]))
				curNode.Size += nextNode.Size
				continue
			}
			merged = append(merged, next)
			cur = next
		}
		offsets = merged
	}

	if rebucket {
		for _, off := range offsets {
			node := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[off]))
			bi := binIndex(int(node.Size))
			node.NextOffset = int64(l.bins[bi])
			l.bins[bi] = off
		}
		return
	}

	for _, off := range offsets {
		node := blkfmt.FreeNodeAt(unsafe.Pointer(&l.mem[off]))
		node.NextOffset = int64(l.bins[KBins-1])
		l.bins[KBins-1] = off
	}
}

// Manager slices one reserved arena into a fixed sequence of Layers.
type Manager struct {
	mem    []byte
	layers []*Layer
}

// NewManager builds a Manager over mem, carving len(cfgs) consecutive
// layers from it in order. The sum of cfgs' Bytes must not exceed len(mem).
func NewManager(mem []byte, cfgs []Config) (*Manager, error) {
	m := &Manager{mem: mem}
	off := 0
	for i, c := range cfgs {
		if c.Bytes <= 0 {
			return nil, fmt.Errorf("layer: layer %d has non-positive size", i)
		}
		if off+c.Bytes > len(mem) {
			return nil, fmt.Errorf("layer: layer %d exceeds reserved arena (need %d more, have %d)", i, off+c.Bytes-len(mem), len(mem)-off)
		}
		l := newLayer(mem[off:off+c.Bytes:off+c.Bytes], i, c.MemTPBytes)
		m.layers = append(m.layers, l)
		off += c.Bytes
	}
	return m, nil
}

// NumLayers returns the number of layers the Manager was built with.
func (m *Manager) NumLayers() int { return len(m.layers) }

// Layer returns the i'th layer.
func (m *Manager) Layer(i int) *Layer { return m.layers[i] }

// Scavenge runs Layer.Scavenge across every layer.
func (m *Manager) Scavenge(coalesce, rebucket bool) {
	for _, l := range m.layers {
		l.Scavenge(coalesce, rebucket)
	}
}

// LayerContaining returns the layer whose byte range contains p, if any.
func (m *Manager) LayerContaining(p unsafe.Pointer) (*Layer, bool) {
	for _, l := range m.layers {
		if l.Contains(p) {
			return l, true
		}
	}
	return nil, false
}

// ResolveHeader recovers the block header for a user pointer p by checking
// the bytes immediately preceding it against every layer's byte range and
// the header magic. It returns false for any pointer not currently owned
// by this Manager's arena.
func (m *Manager) ResolveHeader(p unsafe.Pointer) (*blkfmt.Header, bool) {
	hp := unsafe.Add(p, -blkfmt.HeaderSize)
	l, ok := m.LayerContaining(hp)
	if !ok {
		return nil, false
	}
	h := blkfmt.HeaderAt(hp)
	if h.Magic != blkfmt.HeaderMagic {
		return nil, false
	}
	_ = l
	return h, true
}

// FreeBlock frees a header pointer known to belong to memory layer
// memLayer.
func (m *Manager) FreeBlock(memLayer int, p unsafe.Pointer, totalSize int) error {
	if memLayer < 0 || memLayer >= len(m.layers) {
		return fmt.Errorf("layer: invalid memory layer %d", memLayer)
	}
	m.layers[memLayer].Free(p, totalSize)
	return nil
}

// AnyPrevIncomplete reports whether any layer with index < upto is not yet
// bump-full.
func (m *Manager) AnyPrevIncomplete(upto int) bool {
	if upto > len(m.layers) {
		upto = len(m.layers)
	}
	for i := 0; i < upto; i++ {
		if !m.layers[i].IsFull() {
			return true
		}
	}
	return false
}

// EarliestIncomplete returns the lowest-indexed layer below dl that is not
// yet bump-full, or dl itself if every earlier layer is full.
func (m *Manager) EarliestIncomplete(dl int) int {
	bound := dl
	if bound > len(m.layers) {
		bound = len(m.layers)
	}
	for i := 0; i < bound; i++ {
		if !m.layers[i].IsFull() {
			return i
		}
	}
	return dl
}
