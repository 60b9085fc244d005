package picas_test

import (
	"testing"

	"github.com/riftlayer/picas"
	"github.com/stretchr/testify/require"
)

func TestSingletonInitShutdownLifecycle(t *testing.T) {
	require.Nil(t, picas.Instance())

	require.NoError(t, picas.Init(smallConfig()))
	defer picas.Shutdown()

	require.NotNil(t, picas.Instance())

	p := picas.Malloc(64)
	require.NotNil(t, p)
	require.Equal(t, 64, picas.UsableSize(p))

	picas.Free(p)
	require.Equal(t, 0, picas.UsableSize(p))
}

func TestSingletonDoubleInitIsNoOp(t *testing.T) {
	require.NoError(t, picas.Init(smallConfig()))
	defer picas.Shutdown()
	first := picas.Instance()

	cfg2 := smallConfig()
	cfg2.NumLayers = 1
	require.NoError(t, picas.Init(cfg2))

	require.Same(t, first, picas.Instance(), "a second Init must not replace the existing instance")
}

func TestSingletonShutdownWithNoInstanceIsNoOp(t *testing.T) {
	require.Nil(t, picas.Instance())
	picas.Shutdown()
	require.Nil(t, picas.Instance())
}

func TestSingletonDelegatesWithNoInstance(t *testing.T) {
	require.Nil(t, picas.Instance())
	require.Nil(t, picas.Malloc(64))
	require.Equal(t, 0, picas.UsableSize(nil))
	require.Nil(t, picas.Realloc(nil, 0))
	require.Nil(t, picas.Memalign(16, 16))
	require.Nil(t, picas.Calloc(1, 1))

	picas.Free(nil)
	picas.SetDataLayer(0)
	picas.SetEventHook(nil)
}

func TestSingletonSetDataLayerDelegates(t *testing.T) {
	require.NoError(t, picas.Init(smallConfig()))
	defer picas.Shutdown()

	picas.SetDataLayer(100)
	require.Equal(t, 2, picas.Instance().DataLayer())
}
