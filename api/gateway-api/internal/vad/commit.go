// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_vad

import (
	"sync"
)

// ============================================================================
// Commit controller — input-buffer turn segmentation
// ============================================================================

// CommitState is the lifecycle phase of the input-audio accumulator.
type CommitState int32

const (
	// StateIdle means no audio has been observed yet.
	StateIdle CommitState = iota
	// StateAccumulating means frames are being appended and trigger
	// conditions are evaluated per frame.
	StateAccumulating
	// StateCommitSent means a commit is in flight and the controller is
	// waiting for the service ack; new frames must be staged, not appended.
	StateCommitSent
	// StateErrorBackoff means the last commit bounced as empty and a
	// cooldown is draining before commits are allowed again.
	StateErrorBackoff
)

func (s CommitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateCommitSent:
		return "commit_sent"
	case StateErrorBackoff:
		return "error_backoff"
	default:
		return "unknown"
	}
}

// Trigger identifies why a commit was issued.
type Trigger string

const (
	TriggerMaxBufferSafety     Trigger = "max_buffer_safety"
	TriggerNoSpeechTimeout     Trigger = "no_speech_timeout"
	TriggerSilenceAfterSpeech  Trigger = "silence_after_speech"
	TriggerLowSpeechEscalation Trigger = "low_speech_escalation"
	TriggerBargeIn             Trigger = "barge_in"
)

// Block reasons recorded when a trigger fired but a gate refused the commit.
const (
	BlockCooldown        = "cooldown"
	BlockCommitThreshold = "commit_threshold"
	BlockMinSpeechFrames = "min_speech_frames"
	BlockMinUserSpeech   = "min_user_speech"
	BlockNoSpeech        = "no_speech"
)

// CommitParams tunes the commit controller. Zero values are replaced by the
// corresponding default.
type CommitParams struct {
	// FrameIntervalMs is the duration of one frame.
	FrameIntervalMs int
	// AdaptiveMinMs plus SafetyMs is the minimum buffered audio before any
	// commit may be sent. AdaptiveMinMs grows by one frame per empty-commit
	// rejection, up to AdaptiveMinCapMs.
	AdaptiveMinMs    int
	AdaptiveMinCapMs int
	SafetyMs         int
	// MaxBufferMs forces a commit (or a discard when no speech was heard)
	// once the accumulator is this old.
	MaxBufferMs int
	// SilenceCommitMs is the trailing silence after speech that closes a
	// turn.
	SilenceCommitMs int
	// NoSpeechCommitMs pushes a buffer to the service before local VAD has
	// classified anything as speech, so the server-side VAD can judge.
	NoSpeechCommitMs int
	// MinSpeechFrames is the speech-frame floor below which commits are
	// blocked; BootstrapMinSpeechFrames applies inside the detector
	// bootstrap window.
	MinSpeechFrames          int
	BootstrapMinSpeechFrames int
	// CommitMinUserMs is the minimum user speech duration for a
	// silence-after-speech commit; shorter bursts are treated as ongoing.
	CommitMinUserMs int
	// AckTimeoutMs bounds how long a sent commit may wait for its ack.
	AckTimeoutMs int
	// EmptyCommitCooldownFrames is the number of frames commits stay gated
	// after an empty-commit rejection.
	EmptyCommitCooldownFrames int
	// LowSpeechEscalationBlocks is the consecutive-block count after which
	// a max-age buffer is force-committed instead of discarded.
	LowSpeechEscalationBlocks int
}

// DefaultCommitParams returns the production tuning.
func DefaultCommitParams() CommitParams {
	return CommitParams{
		FrameIntervalMs:           20,
		AdaptiveMinMs:             120,
		AdaptiveMinCapMs:          300,
		SafetyMs:                  80,
		MaxBufferMs:               2000,
		SilenceCommitMs:           140,
		NoSpeechCommitMs:          600,
		MinSpeechFrames:           5,
		BootstrapMinSpeechFrames:  3,
		CommitMinUserMs:           600,
		AckTimeoutMs:              400,
		EmptyCommitCooldownFrames: 8,
		LowSpeechEscalationBlocks: 3,
	}
}

func (p CommitParams) withDefaults() CommitParams {
	def := DefaultCommitParams()
	if p.FrameIntervalMs <= 0 {
		p.FrameIntervalMs = def.FrameIntervalMs
	}
	if p.AdaptiveMinMs <= 0 {
		p.AdaptiveMinMs = def.AdaptiveMinMs
	}
	if p.AdaptiveMinCapMs <= 0 {
		p.AdaptiveMinCapMs = def.AdaptiveMinCapMs
	}
	if p.SafetyMs <= 0 {
		p.SafetyMs = def.SafetyMs
	}
	if p.MaxBufferMs <= 0 {
		p.MaxBufferMs = def.MaxBufferMs
	}
	if p.SilenceCommitMs <= 0 {
		p.SilenceCommitMs = def.SilenceCommitMs
	}
	if p.NoSpeechCommitMs <= 0 {
		p.NoSpeechCommitMs = def.NoSpeechCommitMs
	}
	if p.MinSpeechFrames <= 0 {
		p.MinSpeechFrames = def.MinSpeechFrames
	}
	if p.BootstrapMinSpeechFrames <= 0 {
		p.BootstrapMinSpeechFrames = def.BootstrapMinSpeechFrames
	}
	if p.CommitMinUserMs <= 0 {
		p.CommitMinUserMs = def.CommitMinUserMs
	}
	if p.AckTimeoutMs <= 0 {
		p.AckTimeoutMs = def.AckTimeoutMs
	}
	if p.EmptyCommitCooldownFrames <= 0 {
		p.EmptyCommitCooldownFrames = def.EmptyCommitCooldownFrames
	}
	if p.LowSpeechEscalationBlocks <= 0 {
		p.LowSpeechEscalationBlocks = def.LowSpeechEscalationBlocks
	}
	return p
}

// Decision is the controller's verdict for one observed frame. The caller
// appends the frame to the service buffer regardless; when Commit is set it
// must also send a commit event, and when Discarded is set a silent max-age
// accumulation was dropped locally.
type Decision struct {
	// Speech reports the frame's VAD classification.
	Speech bool
	// SpeechFrames is the accumulator's speech-frame count including this
	// frame, captured before any commit or discard reset.
	SpeechFrames int
	// Commit asks the caller to send a commit event with Trigger.
	Commit  bool
	Trigger Trigger
	// Discarded reports that a max-age buffer with zero speech frames was
	// reset without committing.
	Discarded bool
	// BlockReason is non-empty when a trigger fired this frame but a gate
	// refused the commit.
	BlockReason string
}

// accumulator tracks the audio gathered since the last commit or discard.
type accumulator struct {
	startMs      int64
	bytes        int
	frames       int
	speechFrames int
	rmsSum       float64
	rmsPeak      float64
}

// CommitController decides when the accumulated input audio forms a complete
// user turn worth committing to the speech service. It owns the VAD detector
// and a small state machine around the in-flight commit ack.
type CommitController struct {
	mu       sync.Mutex
	params   CommitParams
	detector *Detector

	state          CommitState
	acc            accumulator
	silentRun      int
	speechDetected bool
	everSpeech     bool

	lowSpeechBlocks int
	cooldownFrames  int
	adaptiveMinMs   int

	ackDeadlineMs        int64
	firstFrameAtMs       int64
	firstCommitLatencyMs int64
	commitsSent          uint64
}

// NewCommitController builds a controller with its own detector.
func NewCommitController(params CommitParams, detectorParams DetectorParams) *CommitController {
	p := params.withDefaults()
	return &CommitController{
		params:               p,
		detector:             NewDetector(detectorParams),
		state:                StateIdle,
		adaptiveMinMs:        p.AdaptiveMinMs,
		firstFrameAtMs:       -1,
		firstCommitLatencyMs: -1,
	}
}

// Detector exposes the underlying VAD detector, e.g. for barge-in noise
// floor reads.
func (c *CommitController) Detector() *Detector {
	return c.detector
}

// Observe feeds one frame (already resampled to the service input rate) and
// returns the controller's verdict. The caller must hold no commit in
// flight; frames arriving while StateCommitSent belong in the staging
// buffer, not here.
func (c *CommitController) Observe(frameBytes int, rms float64, nowMs int64) Decision {
	isSpeech := c.detector.Observe(rms, nowMs)
	inBootstrap := c.detector.InBootstrap(nowMs)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		c.state = StateAccumulating
	}
	if c.firstFrameAtMs < 0 {
		c.firstFrameAtMs = nowMs
	}
	if c.acc.frames == 0 {
		c.acc.startMs = nowMs
	}
	c.acc.bytes += frameBytes
	c.acc.frames++
	c.acc.rmsSum += rms
	if rms > c.acc.rmsPeak {
		c.acc.rmsPeak = rms
	}
	if isSpeech {
		c.acc.speechFrames++
		c.silentRun = 0
		c.speechDetected = true
		c.everSpeech = true
		// Fresh speech means the buffer is no longer stuck; the blocked
		// streak ends here.
		c.lowSpeechBlocks = 0
	} else {
		c.silentRun++
	}
	if c.cooldownFrames > 0 {
		c.cooldownFrames--
		if c.cooldownFrames == 0 && c.state == StateErrorBackoff {
			c.state = StateAccumulating
		}
	}

	dec := Decision{Speech: isSpeech, SpeechFrames: c.acc.speechFrames}
	elapsed := nowMs - c.acc.startMs

	// Trigger priority: max-buffer safety, then no-speech timeout, then
	// silence after speech.
	var want Trigger
	switch {
	case elapsed >= int64(c.params.MaxBufferMs):
		switch {
		case c.acc.speechFrames > 0:
			want = TriggerMaxBufferSafety
		case c.lowSpeechBlocks >= c.params.LowSpeechEscalationBlocks:
			// Repeatedly blocked low-speech audio is pushed to the
			// service once it ages out, letting the server-side VAD
			// make the call instead of discarding it forever.
			want = TriggerLowSpeechEscalation
		default:
			c.resetAccumulatorLocked()
			dec.Discarded = true
			return dec
		}
	case elapsed >= int64(c.params.NoSpeechCommitMs) &&
		(!c.everSpeech || c.lowSpeechBlocks >= c.params.LowSpeechEscalationBlocks):
		want = TriggerNoSpeechTimeout
	case c.speechDetected && c.silentRun*c.params.FrameIntervalMs >= c.params.SilenceCommitMs:
		want = TriggerSilenceAfterSpeech
	default:
		return dec
	}

	// Gates, in order. A blocked silence trigger re-fires on every
	// following frame, so the block reasons below are per-frame events.
	if c.cooldownFrames > 0 {
		dec.BlockReason = BlockCooldown
		return dec
	}
	if c.acc.frames < c.thresholdFramesLocked() {
		dec.BlockReason = BlockCommitThreshold
		return dec
	}
	if want != TriggerMaxBufferSafety && want != TriggerLowSpeechEscalation {
		need := c.params.MinSpeechFrames
		if inBootstrap {
			need = c.params.BootstrapMinSpeechFrames
		}
		if c.acc.speechFrames < need {
			c.lowSpeechBlocks++
			dec.BlockReason = BlockMinSpeechFrames
			return dec
		}
	}
	if want == TriggerSilenceAfterSpeech &&
		c.acc.speechFrames*c.params.FrameIntervalMs < c.params.CommitMinUserMs {
		// Too short to be a finished turn; keep listening.
		c.silentRun = 0
		dec.BlockReason = BlockMinUserSpeech
		return dec
	}
	if c.acc.speechFrames == 0 &&
		want != TriggerMaxBufferSafety && want != TriggerNoSpeechTimeout && want != TriggerLowSpeechEscalation {
		dec.BlockReason = BlockNoSpeech
		return dec
	}

	c.commitLocked(nowMs)
	dec.Commit = true
	dec.Trigger = want
	return dec
}

// TryBargeInCommit issues an immediate commit on a barge-in when the
// accumulator already holds enough speech. Returns false when a commit is
// in flight or the accumulator is too thin to be worth committing.
func (c *CommitController) TryBargeInCommit(nowMs int64) bool {
	inBootstrap := c.detector.InBootstrap(nowMs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCommitSent {
		return false
	}
	need := c.params.MinSpeechFrames
	if inBootstrap {
		need = c.params.BootstrapMinSpeechFrames
	}
	if c.acc.speechFrames < need {
		return false
	}
	c.commitLocked(nowMs)
	return true
}

// OnCommitted handles the service's commit ack.
func (c *CommitController) OnCommitted(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackDeadlineMs = 0
	if c.state == StateCommitSent {
		c.state = StateAccumulating
	}
	if c.firstCommitLatencyMs < 0 && c.firstFrameAtMs >= 0 {
		c.firstCommitLatencyMs = nowMs - c.firstFrameAtMs
	}
}

// OnCommitEmpty handles an empty-commit rejection: the threshold grows by
// one frame (capped), a cooldown starts, and the accumulator is cleared.
func (c *CommitController) OnCommitEmpty(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackDeadlineMs = 0
	c.adaptiveMinMs += c.params.FrameIntervalMs
	if c.adaptiveMinMs > c.params.AdaptiveMinCapMs {
		c.adaptiveMinMs = c.params.AdaptiveMinCapMs
	}
	c.cooldownFrames = c.params.EmptyCommitCooldownFrames
	c.state = StateErrorBackoff
	c.resetAccumulatorLocked()
}

// State returns the current lifecycle phase.
func (c *CommitController) State() CommitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AckOverdue reports whether a sent commit has outlived its ack deadline.
func (c *CommitController) AckOverdue(nowMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateCommitSent && c.ackDeadlineMs > 0 && nowMs > c.ackDeadlineMs
}

// AdaptiveMinMs returns the current adaptive portion of the commit
// threshold.
func (c *CommitController) AdaptiveMinMs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adaptiveMinMs
}

// CooldownFrames returns the frames left in the empty-commit cooldown.
func (c *CommitController) CooldownFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldownFrames
}

// SpeechFrames returns the speech-frame count of the current accumulation.
func (c *CommitController) SpeechFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.speechFrames
}

// LowSpeechBlocks returns the consecutive low-speech block count.
func (c *CommitController) LowSpeechBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lowSpeechBlocks
}

// CommitsSent returns the number of commits issued so far.
func (c *CommitController) CommitsSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitsSent
}

// FirstCommitLatencyMs returns the time between the first observed frame and
// the first commit ack, or -1 while unmeasured.
func (c *CommitController) FirstCommitLatencyMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstCommitLatencyMs
}

func (c *CommitController) commitLocked(nowMs int64) {
	c.state = StateCommitSent
	c.ackDeadlineMs = nowMs + int64(c.params.AckTimeoutMs)
	c.commitsSent++
	c.resetAccumulatorLocked()
}

func (c *CommitController) resetAccumulatorLocked() {
	c.acc = accumulator{}
	c.silentRun = 0
	c.speechDetected = false
	c.lowSpeechBlocks = 0
}

func (c *CommitController) thresholdFramesLocked() int {
	return (c.adaptiveMinMs + c.params.SafetyMs) / c.params.FrameIntervalMs
}
