package picas

import (
	"sync"
	"unsafe"

	"github.com/riftlayer/picas/trace"
)

var (
	instMu sync.Mutex
	inst   *Allocator
)

// Init constructs the process-wide instance from cfg. A second call while
// an instance already exists is a no-op — it does not reconfigure or
// replace it; call Shutdown first if that is what's wanted.
func Init(cfg Config) error {
	instMu.Lock()
	defer instMu.Unlock()
	if inst != nil {
		return nil
	}
	a, err := New(cfg)
	if err != nil {
		return err
	}
	inst = a
	return nil
}

// Shutdown closes and clears the process-wide instance. Calling it with no
// instance active is a no-op.
func Shutdown() {
	instMu.Lock()
	defer instMu.Unlock()
	if inst == nil {
		return
	}
	_ = inst.Close()
	inst = nil
}

// Instance returns the process-wide Allocator, or nil if Init has not been
// called (or Shutdown has since been called).
func Instance() *Allocator {
	instMu.Lock()
	defer instMu.Unlock()
	return inst
}

// Malloc delegates to the process-wide instance, returning nil if none is
// active.
func Malloc(size int) unsafe.Pointer {
	if a := Instance(); a != nil {
		return a.Malloc(size)
	}
	return nil
}

// Free delegates to the process-wide instance; a no-op if none is active.
func Free(p unsafe.Pointer) {
	if a := Instance(); a != nil {
		a.Free(p)
	}
}

// Realloc delegates to the process-wide instance, returning nil if none is
// active.
func Realloc(p unsafe.Pointer, newSize int) unsafe.Pointer {
	if a := Instance(); a != nil {
		return a.Realloc(p, newSize)
	}
	return nil
}

// Memalign delegates to the process-wide instance, returning nil if none is
// active.
func Memalign(alignment, size int) unsafe.Pointer {
	if a := Instance(); a != nil {
		return a.Memalign(alignment, size)
	}
	return nil
}

// Calloc delegates to the process-wide instance, returning nil if none is
// active.
func Calloc(n, sz int) unsafe.Pointer {
	if a := Instance(); a != nil {
		return a.Calloc(n, sz)
	}
	return nil
}

// UsableSize delegates to the process-wide instance, returning 0 if none is
// active.
func UsableSize(p unsafe.Pointer) int {
	if a := Instance(); a != nil {
		return a.UsableSize(p)
	}
	return 0
}

// SetEventHook delegates to the process-wide instance; a no-op if none is
// active.
func SetEventHook(hook trace.Hook) {
	if a := Instance(); a != nil {
		a.SetEventHook(hook)
	}
}

// SetDataLayer delegates to the process-wide instance; a no-op if none is
// active.
func SetDataLayer(l int) {
	if a := Instance(); a != nil {
		a.SetDataLayer(l)
	}
}
