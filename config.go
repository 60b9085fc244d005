package picas

import (
	"github.com/riftlayer/picas/checkpoint"
	"github.com/riftlayer/picas/fallback"
	"github.com/riftlayer/picas/safety"
	"github.com/riftlayer/picas/scavenger"
)

// MaxLayers bounds NumLayers; it exists to keep Config a flat, allocation-
// free value type rather than forcing a slice on every caller.
const MaxLayers = 8

// LayerConfig describes one memory layer's reserved capacity and MEM-TP
// threshold.
type LayerConfig struct {
	Bytes      int
	MemTPBytes int
}

// SafetyConfig bundles the bounded-probing and anti-stranding knobs plus
// the fallback allocator's configuration.
type SafetyConfig struct {
	MaxLayerProbes       int
	AlwaysFallbackOnFail bool
	Fallback             fallback.Config
	AntiStranding        safety.AntiStranding
}

// Config is PICAS's top-level configuration. Zero-value fields are filled
// in by Sanitize with the same defaults the reference implementation
// applies.
type Config struct {
	NumLayers int
	PenaltyK  float64

	MemLayers  [MaxLayers]LayerConfig
	DataLayers [MaxLayers]checkpoint.DataLayerPoints

	StrictPicasJumps bool

	EnableEventHooks bool
	EnableTracing    bool
	EnableDebugPause bool
	DebugPauseMS     uint32

	Safety    SafetyConfig
	Scavenger scavenger.Config
}

// DefaultConfig returns a Config with the same baseline defaults as the
// reference implementation: three layers, strict jumps, tracing and event
// hooks on, a system-malloc fallback, anti-stranding and the scavenger
// both enabled. MemLayers/DataLayers are left zero; Sanitize fills a
// minimal arena if the caller never sets MemLayers.
func DefaultConfig() Config {
	return Config{
		NumLayers:        3,
		PenaltyK:         1.0,
		StrictPicasJumps: true,
		EnableEventHooks: true,
		EnableTracing:    true,
		Safety: SafetyConfig{
			MaxLayerProbes:       8,
			AlwaysFallbackOnFail: true,
			Fallback: fallback.Config{
				Mode:           fallback.SystemMalloc,
				EmergencyBytes: 2 << 20,
			},
			AntiStranding: safety.AntiStranding{
				Enabled:             true,
				MaxStrandedPerLayer: 256 << 10,
				AllowJumpIfPressure: true,
				AggressiveBackfill:  true,
			},
		},
		Scavenger: scavenger.Config{
			Enabled:          true,
			PeriodAllocs:     4096,
			EnableCoalescing: true,
			EnableRebucket:   true,
		},
	}
}

// Sanitize clamps and fills in every knob the allocator core relies on
// being well-formed, mirroring original_source's
// safety_validate_and_sanitize exactly: layer count, probe bound, the
// emergency reserve floor, the scavenger period, a fallback minimal arena
// when no layer sizes were configured, MEM-TP clamped to capacity, and the
// anti-stranding stranding floor.
func (c *Config) Sanitize() {
	if c.NumLayers <= 0 {
		c.NumLayers = 1
	}
	if c.NumLayers > MaxLayers {
		c.NumLayers = MaxLayers
	}

	if c.Safety.MaxLayerProbes <= 0 {
		c.Safety.MaxLayerProbes = 1
	}
	if c.Safety.MaxLayerProbes > c.NumLayers {
		c.Safety.MaxLayerProbes = c.NumLayers
	}

	if c.Safety.Fallback.Mode == fallback.EmergencyReserve && c.Safety.Fallback.EmergencyBytes < 4096 {
		c.Safety.Fallback.EmergencyBytes = 4096
	}

	if c.Scavenger.Enabled && c.Scavenger.PeriodAllocs == 0 {
		c.Scavenger.PeriodAllocs = 4096
	}

	total := 0
	for i := 0; i < c.NumLayers; i++ {
		total += c.MemLayers[i].Bytes
	}
	if total == 0 {
		const fallbackArenaBytes = 8 << 20
		per := fallbackArenaBytes / c.NumLayers
		for i := 0; i < c.NumLayers; i++ {
			c.MemLayers[i].Bytes = per
			c.MemLayers[i].MemTPBytes = per * 3 / 4
		}
	}

	for i := 0; i < c.NumLayers; i++ {
		if c.MemLayers[i].MemTPBytes > c.MemLayers[i].Bytes {
			c.MemLayers[i].MemTPBytes = c.MemLayers[i].Bytes
		}
	}

	if c.Safety.AntiStranding.Enabled && c.Safety.AntiStranding.MaxStrandedPerLayer < 1024 {
		c.Safety.AntiStranding.MaxStrandedPerLayer = 1024
	}
}
