//go:build unix

package ospages

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize returns the host's native page size, falling back to 4096 if the
// kernel ever reports something nonsensical.
func PageSize() int {
	if ps := unix.Getpagesize(); ps > 0 {
		return ps
	}
	return 4096
}

// ReserveAndCommit mmaps an anonymous, private, read-write region of at
// least bytes length, rounded up to the page size.
func ReserveAndCommit(bytes int) (Pages, error) {
	ps := PageSize()
	if bytes <= 0 {
		bytes = ps
	}
	size := alignUp(bytes, ps)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return Pages{}, fmt.Errorf("ospages: mmap %d bytes: %w", size, err)
	}
	return Pages{Mem: mem}, nil
}

// Release unmaps a reservation previously returned by ReserveAndCommit.
func Release(p Pages) error {
	if len(p.Mem) == 0 {
		return nil
	}
	if err := unix.Munmap(p.Mem); err != nil {
		return fmt.Errorf("ospages: munmap: %w", err)
	}
	return nil
}
