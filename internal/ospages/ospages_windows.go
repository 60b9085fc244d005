//go:build windows

package ospages

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PageSize returns the Windows allocation granularity's page size. Querying
// GetSystemInfo requires a syscall round-trip for a value that never
// changes during a process's life, so it is hardcoded to the universal x86
// and ARM64 Windows page size.
func PageSize() int { return 4096 }

// ReserveAndCommit reserves and commits a read-write region via
// VirtualAlloc, rounded up to the page size.
func ReserveAndCommit(bytes int) (Pages, error) {
	ps := PageSize()
	if bytes <= 0 {
		bytes = ps
	}
	size := alignUp(bytes, ps)
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return Pages{}, fmt.Errorf("ospages: VirtualAlloc %d bytes: %w", size, err)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return Pages{Mem: mem}, nil
}

// Release frees a reservation previously returned by ReserveAndCommit.
func Release(p Pages) error {
	if len(p.Mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&p.Mem[0]))
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("ospages: VirtualFree: %w", err)
	}
	return nil
}
