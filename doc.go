// Package picas implements a phase-aware, layered memory allocator.
//
// A PICAS instance reserves one large OS arena up front and slices it into
// a fixed sequence of memory layers. Allocations are placed according to
// the current data layer — a notion of pipeline phase the caller advances
// explicitly or that advances itself when a data layer's checkpoints are
// reached — with same-layer placement preferred and cross-layer spill,
// backfill, and bounded probing as fallbacks before the allocator reaches
// for its own fallback subsystem.
//
// Most callers want the process-wide singleton: Init once at startup,
// Malloc/Free/Realloc/Memalign/Calloc during normal operation, Shutdown on
// exit. Callers that need more than one independently configured allocator
// should construct an *Allocator directly with New.
package picas
