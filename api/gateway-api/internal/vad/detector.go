// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_vad

import (
	"math"
	"sort"
	"sync"
)

// ============================================================================
// Detector — adaptive RMS voice activity detection
// ============================================================================

// DetectorParams tunes the adaptive RMS classifier. Zero values are replaced
// by the corresponding default.
type DetectorParams struct {
	// WindowSize is the number of recent quiet-frame RMS values kept for the
	// noise-floor median.
	WindowSize int
	// Offset is the steady-state margin added to the noise floor.
	Offset float64
	// RmsMin and RmsMax clamp the derived threshold.
	RmsMin float64
	RmsMax float64
	// BootstrapDurationMs is the window after the first frame during which
	// BootstrapOffset replaces Offset, so early speech is not swallowed
	// while the noise floor is still settling.
	BootstrapDurationMs int64
	BootstrapOffset     float64
	// While no speech has been classified yet, the steady offset decays by
	// OffsetDecayStep every OffsetDecayIntervalMs down to OffsetDecayMin.
	OffsetDecayStep       float64
	OffsetDecayIntervalMs int64
	OffsetDecayMin        float64
}

// DefaultDetectorParams returns the production tuning.
func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		WindowSize:            50,
		Offset:                30,
		RmsMin:                60,
		RmsMax:                2000,
		BootstrapDurationMs:   2000,
		BootstrapOffset:       15,
		OffsetDecayStep:       2,
		OffsetDecayIntervalMs: 250,
		OffsetDecayMin:        12,
	}
}

func (p DetectorParams) withDefaults() DetectorParams {
	def := DefaultDetectorParams()
	if p.WindowSize <= 0 {
		p.WindowSize = def.WindowSize
	}
	if p.Offset <= 0 {
		p.Offset = def.Offset
	}
	if p.RmsMin <= 0 {
		p.RmsMin = def.RmsMin
	}
	if p.RmsMax <= 0 {
		p.RmsMax = def.RmsMax
	}
	if p.BootstrapDurationMs <= 0 {
		p.BootstrapDurationMs = def.BootstrapDurationMs
	}
	if p.BootstrapOffset <= 0 {
		p.BootstrapOffset = def.BootstrapOffset
	}
	if p.OffsetDecayStep <= 0 {
		p.OffsetDecayStep = def.OffsetDecayStep
	}
	if p.OffsetDecayIntervalMs <= 0 {
		p.OffsetDecayIntervalMs = def.OffsetDecayIntervalMs
	}
	if p.OffsetDecayMin <= 0 {
		p.OffsetDecayMin = def.OffsetDecayMin
	}
	return p
}

// Detector classifies frames as speech against a dynamic threshold derived
// from a sliding noise-floor estimate. Quiet frames feed the estimate; loud
// frames are kept out of it so sustained speech cannot drag the floor up and
// mask itself.
type Detector struct {
	mu     sync.Mutex
	params DetectorParams

	window    []float64
	windowIdx int

	offset          float64
	firstFrameAtMs  int64
	nextDecayAtMs   int64
	firstSpeechSeen bool
	lastThreshold   float64
}

// NewDetector builds a detector with the given tuning.
func NewDetector(params DetectorParams) *Detector {
	p := params.withDefaults()
	return &Detector{
		params:         p,
		window:         make([]float64, 0, p.WindowSize),
		offset:         p.Offset,
		firstFrameAtMs: -1,
	}
}

// Observe feeds one frame's RMS and classifies it. The noise-floor window
// admits a frame only when its RMS sits below 0.6x the threshold current at
// arrival, then the threshold is re-derived and the frame classified
// against it.
func (d *Detector) Observe(rms float64, nowMs int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.firstFrameAtMs < 0 {
		d.firstFrameAtMs = nowMs
		d.nextDecayAtMs = nowMs + d.params.BootstrapDurationMs + d.params.OffsetDecayIntervalMs
	}

	inBootstrap := nowMs-d.firstFrameAtMs < d.params.BootstrapDurationMs
	if !inBootstrap && !d.firstSpeechSeen {
		for nowMs >= d.nextDecayAtMs && d.offset > d.params.OffsetDecayMin {
			d.offset = math.Max(d.offset-d.params.OffsetDecayStep, d.params.OffsetDecayMin)
			d.nextDecayAtMs += d.params.OffsetDecayIntervalMs
		}
	}

	effectiveOffset := d.offset
	if inBootstrap {
		effectiveOffset = d.params.BootstrapOffset
	}

	if rms < 0.6*d.thresholdLocked(effectiveOffset) {
		d.admitLocked(rms)
	}
	d.lastThreshold = d.thresholdLocked(effectiveOffset)

	isSpeech := rms >= d.lastThreshold
	if isSpeech {
		d.firstSpeechSeen = true
	}
	return isSpeech
}

// NoiseFloor returns the median RMS of the admitted window, zero when empty.
func (d *Detector) NoiseFloor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.noiseFloorLocked()
}

// Threshold returns the threshold derived for the most recent frame.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastThreshold == 0 {
		return d.thresholdLocked(d.offset)
	}
	return d.lastThreshold
}

// InBootstrap reports whether nowMs still falls inside the bootstrap window.
// Before any frame has been observed it reports true.
func (d *Detector) InBootstrap(nowMs int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.firstFrameAtMs < 0 {
		return true
	}
	return nowMs-d.firstFrameAtMs < d.params.BootstrapDurationMs
}

func (d *Detector) admitLocked(rms float64) {
	if len(d.window) < d.params.WindowSize {
		d.window = append(d.window, rms)
		return
	}
	d.window[d.windowIdx] = rms
	d.windowIdx = (d.windowIdx + 1) % d.params.WindowSize
}

func (d *Detector) noiseFloorLocked() float64 {
	if len(d.window) == 0 {
		return 0
	}
	sorted := make([]float64, len(d.window))
	copy(sorted, d.window)
	sort.Float64s(sorted)
	return sorted[(len(sorted)-1)/2]
}

func (d *Detector) thresholdLocked(offset float64) float64 {
	t := d.noiseFloorLocked() + offset
	if t < d.params.RmsMin {
		t = d.params.RmsMin
	}
	if t > d.params.RmsMax {
		t = d.params.RmsMax
	}
	return t
}
