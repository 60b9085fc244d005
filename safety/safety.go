// Package safety implements the anti-stranding override and bounded
// round-robin probing the allocator facade applies after policy has
// proposed a placement.
package safety

// AntiStranding configures the guard that can cancel a proposed data-layer
// jump when it would abandon too much unused bump capacity in the layer
// being left behind.
type AntiStranding struct {
	Enabled              bool
	MaxStrandedPerLayer  int
	AllowJumpIfPressure  bool
	AggressiveBackfill   bool
}

// JumpRequest is the subset of a policy decision the anti-stranding guard
// can veto or redirect.
type JumpRequest struct {
	JumpDataLayer  bool
	JumpMemLayer   bool
	BackfillMemory bool
	Note           string
}

// Guard evaluates the anti-stranding override for a proposed jump out of
// the current memory layer. strandedBytes is the bump capacity that would
// be abandoned; usedBytes/capacityBytes describe that same layer's bump
// occupancy for the pressure formula.
func Guard(cfg AntiStranding, strandedBytes int, memLayerFull bool, usedBytes, capacityBytes int, req JumpRequest) JumpRequest {
	if !cfg.Enabled || !req.JumpDataLayer {
		return req
	}

	strandBad := strandedBytes > cfg.MaxStrandedPerLayer
	pressured := memLayerFull || (capacityBytes != 0 && usedBytes*10 > capacityBytes*9)

	if strandBad && !(cfg.AllowJumpIfPressure && pressured) {
		req.JumpDataLayer = false
		req.JumpMemLayer = false
		if cfg.AggressiveBackfill {
			req.BackfillMemory = true
		}
		req.Note = "anti-stranding: delayed jump, prefer backfill/same-layer"
	}

	return req
}
