// Package policy decides, for a single allocation request, whether the
// current data layer should advance and which memory layer the block
// should land in. It never touches the arena or free lists — it only
// reads counters handed to it and returns a decision for the caller (the
// allocator facade) to carry out.
package policy

import "github.com/riftlayer/picas/checkpoint"

// Input is the read-only snapshot a Decide call reasons over.
type Input struct {
	NumLayers      int
	DataLayer      int
	MemLayer       int
	RequestSize    int
	DataAllocCount int
	DataAllocBytes int

	DataPoints *checkpoint.DataLayerPoints

	MemTPReached     bool
	MemLPFull        bool
	MemUsedBytes     int
	MemCapacityBytes int
	MemTPBytes       int

	PrevLayersIncomplete bool
}

// Output is the decision Decide returns. The caller is responsible for
// actually performing any jump/backfill this describes; Policy itself is
// side-effect free.
type Output struct {
	ChosenMemLayer int
	JumpDataLayer  bool
	JumpMemLayer   bool
	BackfillMemory bool
	ReachedTLP     bool
	ReachedDataLP  bool
	HardError      bool
	Note           string
}

// Policy evaluates placement decisions under a single configuration knob:
// whether strict-jump semantics are enabled.
type Policy struct {
	StrictJumps bool
}

// New returns a Policy configured with the given strict-jump setting.
func New(strictJumps bool) Policy { return Policy{StrictJumps: strictJumps} }

// Decide evaluates the placement cascade against in, in order (two
// hard-error checks, then rules 1 to 5 below), and returns the first
// rule's outcome that applies.
func (p Policy) Decide(in Input) Output {
	out := Output{ChosenMemLayer: in.MemLayer}

	if in.NumLayers <= 0 {
		out.HardError = true
		out.Note = "invalid: num_layers=0"
		return out
	}

	var reachedTLP, reachedDataLP bool
	if in.DataPoints != nil {
		reachedTLP = in.DataPoints.TLP.Reached(in.DataAllocCount, in.DataAllocBytes)
		reachedDataLP = in.DataPoints.DataLP.Reached(in.DataAllocCount, in.DataAllocBytes)
	}
	out.ReachedTLP = reachedTLP
	out.ReachedDataLP = reachedDataLP

	if in.DataPoints != nil {
		tlpBytes := in.DataPoints.TLP.Bytes.Len()
		if tlpBytes != 0 && in.MemCapacityBytes != 0 && tlpBytes > in.MemCapacityBytes {
			out.HardError = true
			out.Note = "hard error: TLP byte range exceeds memory layer capacity"
			return out
		}
	}

	// Rule 1: DATA-LP is a hard phase boundary — it always advances the data
	// layer. The triggering allocation itself still lands in the old
	// (pre-jump) memory layer; only the *next* allocation observes the new
	// data layer. Under strict jumps the memory layer is also advanced in
	// lockstep.
	if reachedDataLP {
		out.JumpDataLayer = true
		if p.StrictJumps {
			out.JumpMemLayer = true
		}
		if in.DataLayer < in.NumLayers {
			out.ChosenMemLayer = in.DataLayer
		} else {
			out.ChosenMemLayer = 0
		}
		out.Note = "DATA-LP reached: hard phase advance"
		return out
	}

	// Rule 2: under strict jumps, reaching TLP before the memory layer hits
	// its own MEM-TP forces a synchronized jump of both layers.
	if p.StrictJumps && reachedTLP && !in.MemTPReached {
		out.JumpDataLayer = true
		out.JumpMemLayer = true
		out.Note = "TLP reached before MEM-TP: jump data and memory layer"
		return out
	}

	// Rule 3: under strict jumps, an earlier memory layer that never filled
	// gets backfilled before spilling forward.
	if p.StrictJumps && in.PrevLayersIncomplete {
		out.BackfillMemory = true
		out.Note = "earlier memory layer incomplete: backfill"
		return out
	}

	// Rule 4: the current memory layer is full; let the caller's
	// anti-stranding guard and bounded prober pick a spill target.
	if in.MemLPFull {
		out.Note = "current memory layer full: spill"
		return out
	}

	// Rule 5 (default): same-layer placement — no jump, no backfill.
	out.ChosenMemLayer = in.DataLayer
	out.Note = "default: same-layer placement"
	return out
}
