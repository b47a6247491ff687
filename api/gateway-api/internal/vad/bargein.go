// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_vad

import (
	"math"
	"sync"
)

// ============================================================================
// Barge-in detector — caller interrupting agent audio
// ============================================================================

// releaseFactor scales the effective threshold for hysteresis release: a
// candidate is cleared after enough consecutive frames below this fraction.
const releaseFactor = 0.65

// BargeInParams tunes the barge-in detector. Zero values are replaced by
// the corresponding default.
type BargeInParams struct {
	// FrameIntervalMs is the duration of one frame.
	FrameIntervalMs int
	// LockMs is the hard lock after an agent burst starts during which no
	// candidate may accumulate. Keeps self-echo from triggering.
	LockMs int
	// Offset and RelativeFactor derive the effective threshold from the
	// noise floor: max(floor+Offset, floor*RelativeFactor).
	Offset         float64
	RelativeFactor float64
	// AbsMinRms is an absolute energy floor for candidate frames.
	AbsMinRms float64
	// MinSnrDb is the minimum signal-to-noise ratio for candidate frames.
	MinSnrDb float64
	// MinAgentMs is the grace period after burst start before candidates
	// may accumulate.
	MinAgentMs int
	// CooldownMs is the minimum spacing between two triggers.
	CooldownMs int
	// ReleaseFrames is the consecutive sub-threshold frame count that
	// clears a partial candidate.
	ReleaseFrames int
	// MinUserMs is the candidate duration at which barge-in fires.
	MinUserMs int
}

// DefaultBargeInParams returns the production tuning.
func DefaultBargeInParams() BargeInParams {
	return BargeInParams{
		FrameIntervalMs: 20,
		LockMs:          1200,
		Offset:          40,
		RelativeFactor:  1.3,
		AbsMinRms:       100,
		MinSnrDb:        10,
		MinAgentMs:      800,
		CooldownMs:      1200,
		ReleaseFrames:   6,
		MinUserMs:       160,
	}
}

func (p BargeInParams) withDefaults() BargeInParams {
	def := DefaultBargeInParams()
	if p.FrameIntervalMs <= 0 {
		p.FrameIntervalMs = def.FrameIntervalMs
	}
	if p.LockMs <= 0 {
		p.LockMs = def.LockMs
	}
	if p.Offset <= 0 {
		p.Offset = def.Offset
	}
	if p.RelativeFactor <= 0 {
		p.RelativeFactor = def.RelativeFactor
	}
	if p.AbsMinRms <= 0 {
		p.AbsMinRms = def.AbsMinRms
	}
	if p.MinSnrDb <= 0 {
		p.MinSnrDb = def.MinSnrDb
	}
	if p.MinAgentMs <= 0 {
		p.MinAgentMs = def.MinAgentMs
	}
	if p.CooldownMs <= 0 {
		p.CooldownMs = def.CooldownMs
	}
	if p.ReleaseFrames <= 0 {
		p.ReleaseFrames = def.ReleaseFrames
	}
	if p.MinUserMs <= 0 {
		p.MinUserMs = def.MinUserMs
	}
	return p
}

// BargeInDetector watches inbound caller energy while the agent is speaking
// and fires once the caller has sustained clear speech over the agent's
// playback. It also tracks the response/burst flags the session feeds it.
type BargeInDetector struct {
	mu     sync.Mutex
	params BargeInParams

	responseActive bool
	burstStartMs   int64
	triggered      bool
	lastTriggerMs  int64

	candFrames int
	releaseRun int
}

// NewBargeInDetector builds a detector with the given tuning.
func NewBargeInDetector(params BargeInParams) *BargeInDetector {
	return &BargeInDetector{
		params:        params.withDefaults(),
		burstStartMs:  -1,
		lastTriggerMs: -1,
	}
}

// MarkResponseActive records that the service is emitting a response. The
// first call of a burst pins the burst start time.
func (b *BargeInDetector) MarkResponseActive(nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responseActive = true
	if b.burstStartMs < 0 {
		b.burstStartMs = nowMs
	}
}

// MarkResponseDone clears the response and burst flags and re-arms the
// triggered latch.
func (b *BargeInDetector) MarkResponseDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responseActive = false
	b.burstStartMs = -1
	b.triggered = false
	b.resetCandidateLocked()
}

// ResponseActive reports whether a service response is streaming.
func (b *BargeInDetector) ResponseActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.responseActive
}

// Active reports whether the detector is armed: a response is streaming or
// an agent burst is still in progress.
func (b *BargeInDetector) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.responseActive || b.burstStartMs >= 0
}

// Triggered reports whether a barge-in fired since the last response.done.
func (b *BargeInDetector) Triggered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggered
}

// Observe evaluates one inbound frame against the current noise floor and
// returns true when barge-in fires. On fire the response and burst flags
// are cleared; draining the outbound ring and committing the accumulator
// are the caller's job.
func (b *BargeInDetector) Observe(rms, noiseFloor float64, nowMs int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.responseActive && b.burstStartMs < 0 {
		b.resetCandidateLocked()
		return false
	}
	agentElapsed := nowMs - b.burstStartMs
	if agentElapsed < int64(b.params.LockMs) {
		b.resetCandidateLocked()
		return false
	}

	threshold := math.Max(noiseFloor+b.params.Offset, noiseFloor*b.params.RelativeFactor)

	if b.candFrames > 0 && rms < releaseFactor*threshold {
		b.releaseRun++
		if b.releaseRun >= b.params.ReleaseFrames {
			b.resetCandidateLocked()
		}
	} else {
		b.releaseRun = 0
	}

	if rms >= threshold &&
		rms >= b.params.AbsMinRms &&
		snrDb(rms, noiseFloor) >= b.params.MinSnrDb &&
		agentElapsed >= int64(b.params.MinAgentMs) &&
		(b.lastTriggerMs < 0 || nowMs-b.lastTriggerMs >= int64(b.params.CooldownMs)) {
		b.candFrames++
	}

	if b.candFrames*b.params.FrameIntervalMs >= b.params.MinUserMs {
		b.lastTriggerMs = nowMs
		b.triggered = true
		b.responseActive = false
		b.burstStartMs = -1
		b.resetCandidateLocked()
		return true
	}
	return false
}

func (b *BargeInDetector) resetCandidateLocked() {
	b.candFrames = 0
	b.releaseRun = 0
}

// snrDb is the frame-to-floor ratio in decibels. A zero floor counts as
// infinitely clean.
func snrDb(rms, floor float64) float64 {
	if floor <= 0 {
		return math.Inf(1)
	}
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/floor)
}
