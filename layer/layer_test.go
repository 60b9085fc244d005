package layer_test

import (
	"testing"
	"unsafe"

	"github.com/riftlayer/picas/internal/blkfmt"
	"github.com/riftlayer/picas/layer"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, layerBytes int) *layer.Manager {
	t.Helper()
	mem := make([]byte, layerBytes*2)
	mgr, err := layer.NewManager(mem, []layer.Config{
		{Bytes: layerBytes, MemTPBytes: layerBytes * 3 / 4},
		{Bytes: layerBytes, MemTPBytes: layerBytes * 3 / 4},
	})
	require.NoError(t, err)
	return mgr
}

func freeUserPtr(t *testing.T, l *layer.Layer, p unsafe.Pointer) {
	t.Helper()
	h, ok := l.HeaderFromUserPtr(p)
	require.True(t, ok)
	totalSize := int(h.TotalSize)
	l.Free(unsafe.Add(p, -blkfmt.HeaderSize), totalSize)
}

func TestAllocBumpThenFreeListReuse(t *testing.T) {
	mgr := newTestManager(t, 4096)
	l := mgr.Layer(0)

	res1 := l.Alloc(64, 0)
	require.True(t, res1.Ok)
	require.Equal(t, "bump", res1.Source)

	freeUserPtr(t, l, res1.Ptr)

	res2 := l.Alloc(64, 0)
	require.True(t, res2.Ok)
	require.Equal(t, "free-list", res2.Source, "a same-size request should reuse the freed node")
}

func TestAllocFailsPastCapacity(t *testing.T) {
	mgr := newTestManager(t, 256)
	l := mgr.Layer(0)

	res := l.Alloc(1024, 0)
	require.False(t, res.Ok)
}

func TestLayerFullVsProbeable(t *testing.T) {
	// IsFull and HasSpaceFor are intentionally distinct predicates: a layer
	// can report "not full" while still being unable to fit a given
	// request, and a layer with just enough room for a tiny request is not
	// "full" even though almost nothing more will ever fit.
	mgr := newTestManager(t, 256)
	l := mgr.Layer(0)

	res := l.Alloc(200, 0)
	require.True(t, res.Ok)

	require.False(t, l.IsFull(), "bump cursor has not reached capacity yet")
	require.False(t, l.HasSpaceFor(200), "not enough room left for another 200-byte block")
	require.True(t, l.HasSpaceFor(8), "a tiny block should still fit in the remainder")
}

func TestMemTPReachedTransitionsOnce(t *testing.T) {
	mgr := newTestManager(t, 1024)
	l := mgr.Layer(0) // MemTPBytes = 768

	require.False(t, l.MemTPReached())

	res := l.Alloc(740, 0)
	require.True(t, res.Ok)
	require.True(t, res.MemTPJustReached)
	require.True(t, l.MemTPReached())

	res2 := l.Alloc(8, 0)
	require.True(t, res2.Ok)
	require.False(t, res2.MemTPJustReached, "MEM-TP should only fire once")
}

func TestScavengeCoalescesAdjacentFreeNodes(t *testing.T) {
	mgr := newTestManager(t, 4096)
	l := mgr.Layer(0)

	var ptrs []unsafe.Pointer
	for i := 0; i < 4; i++ {
		res := l.Alloc(64, 0)
		require.True(t, res.Ok)
		ptrs = append(ptrs, res.Ptr)
	}
	for _, p := range ptrs {
		freeUserPtr(t, l, p)
	}

	l.Scavenge(true, true)

	// After coalescing four adjacent equal-size blocks, an allocation
	// spanning roughly all of them should succeed straight from the free
	// list rather than falling through to the bump cursor.
	res := l.Alloc(4*64-2*blkfmt.HeaderSize, 0)
	require.True(t, res.Ok)
	require.Equal(t, "free-list", res.Source)
}

func TestResolveHeaderRejectsForeignPointer(t *testing.T) {
	mgr := newTestManager(t, 1024)
	other := make([]byte, 64)
	_, ok := mgr.ResolveHeader(unsafe.Pointer(&other[32]))
	require.False(t, ok)
}

func TestManagerRejectsOversizedLayout(t *testing.T) {
	mem := make([]byte, 100)
	_, err := layer.NewManager(mem, []layer.Config{{Bytes: 200}})
	require.Error(t, err)
}
