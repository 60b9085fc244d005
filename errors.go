package picas

import "errors"

var (
	// ErrReserveFailed is returned by New when the OS arena reservation
	// fails.
	ErrReserveFailed = errors.New("picas: failed to reserve arena")

	// ErrInvalidLayout is returned by New when the sanitized layer layout
	// cannot be carved out of the reserved arena.
	ErrInvalidLayout = errors.New("picas: invalid layer layout")
)
