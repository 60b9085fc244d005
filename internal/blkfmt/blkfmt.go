// Package blkfmt defines the on-arena block layouts PICAS punches into raw
// bytes: the allocated-block header, the free-list node that overlays it
// once freed, the fallback-allocator header, and the align-tag back-pointer
// used by Memalign. Each layout is read or written through an explicit
// pointer cast — never through a union — per the header-punning discipline
// the allocator core depends on: a given address is read as exactly one of
// these types at a time, never two views at once.
package blkfmt

import "unsafe"

// Alignment is the natural alignment PICAS guarantees for every block it
// hands out (before any caller-requested over-alignment via Memalign).
const Alignment = 16

// HeaderMagic identifies a live, allocator-owned block. It is overwritten
// the moment a block is freed into a free-list, so a magic match is proof
// the block is still allocated.
const HeaderMagic uint32 = 0x50494341 // "PICA"

// FallbackMagic identifies a block owned by the fallback subsystem (either
// mode). It never collides with HeaderMagic or AlignMagic.
const FallbackMagic uint32 = 0x46414c4c // "FALL"

// AlignMagic identifies an AlignTag immediately preceding a pointer returned
// by Memalign.
const AlignMagic uint64 = 0x50494341414c4947 // "PICAALIG"

// Header is the fixed record every arena-owned allocation carries
// immediately before its user pointer.
type Header struct {
	Magic     uint32
	MemLayer  uint32
	DataLayer uint32
	Flags     uint32
	UserSize  uintptr
	TotalSize uintptr
}

// HeaderSize is sizeof(Header), used throughout to locate the user pointer
// relative to the header and vice versa.
var HeaderSize = int(unsafe.Sizeof(Header{}))

// HeaderAt reinterprets p as a Header. The caller must know that the bytes
// at p are currently laid out as a Header (i.e. the block is allocated, not
// free) — this function performs no validation.
func HeaderAt(p unsafe.Pointer) *Header { return (*Header)(p) }

// FreeNode overlays a freed block's bytes. It never stores a live Go
// pointer (that would hide a reference from the garbage collector in
// memory the collector does not scan); NextOffset is instead a byte offset
// relative to the owning layer's byte range, with -1 standing for nil.
type FreeNode struct {
	NextOffset int64
	Size       uintptr
}

// FreeNodeSize is sizeof(FreeNode).
var FreeNodeSize = int(unsafe.Sizeof(FreeNode{}))

// FreeNodeAt reinterprets p as a FreeNode.
func FreeNodeAt(p unsafe.Pointer) *FreeNode { return (*FreeNode)(p) }

// FallbackHeader is the header fallback.Allocator writes at the start of
// every block it hands out, in any mode; the user pointer follows it
// FallbackHeaderSize bytes after the block start.
type FallbackHeader struct {
	Magic     uint32
	Mode      uint32
	UserSize  uintptr
	TotalSize uintptr
}

// FallbackHeaderSize is sizeof(FallbackHeader) rounded up to Alignment, so
// the user pointer after the header keeps Alignment.
var FallbackHeaderSize = AlignUpInt(int(unsafe.Sizeof(FallbackHeader{})), Alignment)

// FallbackHeaderAt reinterprets p as a FallbackHeader.
func FallbackHeaderAt(p unsafe.Pointer) *FallbackHeader { return (*FallbackHeader)(p) }

// AlignTag is a non-owning back-reference written immediately before the
// pointer Memalign returns. BaseAddr is stored as a plain integer address
// rather than an unsafe.Pointer for the same GC-visibility reason as
// FreeNode.NextOffset; the object it points at is kept alive independently
// (the arena for PICAS-owned bases, Allocator.liveBlocks for SystemMalloc
// fallback bases).
type AlignTag struct {
	Magic     uint64
	BaseAddr  uintptr
	Requested uintptr
}

// AlignTagSize is sizeof(AlignTag).
var AlignTagSize = int(unsafe.Sizeof(AlignTag{}))

// AlignTagAt reinterprets p as an AlignTag.
func AlignTagAt(p unsafe.Pointer) *AlignTag { return (*AlignTag)(p) }

// AlignUp rounds x up to the next multiple of a. a must be a power of two.
func AlignUp(x, a uintptr) uintptr { return (x + a - 1) &^ (a - 1) }

// AlignUpInt is the int convenience form of AlignUp.
func AlignUpInt(x, a int) int { return int(AlignUp(uintptr(x), uintptr(a))) }

// IsPow2 reports whether x is a power of two (zero is not).
func IsPow2(x uintptr) bool { return x != 0 && x&(x-1) == 0 }

// BlockTotal returns the total block size (header + payload) needed to
// satisfy a userSize-byte request, rounded up to Alignment.
func BlockTotal(userSize int) int {
	return AlignUpInt(HeaderSize+userSize, Alignment)
}
