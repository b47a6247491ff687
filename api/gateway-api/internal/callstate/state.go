// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callstate

import (
	"sync"
	"time"
)

// ============================================================================
// Runtime state aggregator
// ============================================================================

// End reasons recorded against calls and sessions.
const (
	EndReasonNormal      = "normal"
	EndReasonHangup      = "hangup"
	EndReasonDisconnect  = "disconnect"
	EndReasonTimeout     = "timeout"
	EndReasonIdleTimeout = "idle_timeout"
	EndReasonAckTimeout  = "ack_timeout"
	EndReasonTransport   = "transport_error"
)

// callRecord is the mutable call entry behind the snapshot.
type callRecord struct {
	callID    string
	token     string
	provider  string
	direction string
	startedAt time.Time
	endedAt   time.Time
	endReason string
}

// sessionRecord is the mutable speech-session entry behind the snapshot.
type sessionRecord struct {
	sessionID    string
	model        string
	voice        string
	active       bool
	inputRateHz  int
	outputRateHz int
	startedAt    time.Time
	endedAt      time.Time
	endReason    string
}

// mediaRecord aggregates media-path counters for the process lifetime.
type mediaRecord struct {
	connected bool
	started   bool

	framesIn  uint64
	framesOut uint64
	bytesIn   uint64
	bytesOut  uint64
	firstInAt time.Time
	lastInAt  time.Time
	lastOutAt time.Time

	decodeErrors   uint64
	commits        uint64
	commitErrors   uint64
	commitTriggers map[string]uint64
	commitBlocks   map[string]uint64
	bargeIns       uint64
	driftEvents    uint64

	droppedFrames        uint64
	ringHighWater        int
	firstCommitLatencyMs int64
}

// State is the single process-wide runtime aggregator. It records lifecycle
// transitions and media counters behind one mutex and never owns audio
// data. Handlers and sessions receive it explicitly; there is no package
// singleton.
type State struct {
	mu sync.Mutex

	startedAt   time.Time
	lastEventAt time.Time

	current *callRecord
	last    *callRecord
	session *sessionRecord
	media   mediaRecord
}

// NewState builds an empty aggregator.
func NewState() *State {
	now := time.Now()
	return &State{
		startedAt:   now,
		lastEventAt: now,
		media: mediaRecord{
			commitTriggers:       make(map[string]uint64),
			commitBlocks:         make(map[string]uint64),
			firstCommitLatencyMs: -1,
		},
	}
}

// Touch refreshes the last-external-event clock consulted by the idle
// timeout.
func (s *State) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEventAt = time.Now()
}

// LastEventAt returns the time of the last external event.
func (s *State) LastEventAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventAt
}

// BeginCall records a new active call.
func (s *State) BeginCall(callID, token, provider, direction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &callRecord{
		callID:    callID,
		token:     token,
		provider:  provider,
		direction: direction,
		startedAt: time.Now(),
	}
	s.lastEventAt = time.Now()
}

// EndCall closes the active call and moves it to the last slot. Calling it
// without an active call is a no-op.
func (s *State) EndCall(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.current.endedAt = time.Now()
	s.current.endReason = reason
	s.last = s.current
	s.current = nil
	s.lastEventAt = time.Now()
}

// BeginSession records a speech session coming up.
func (s *State) BeginSession(sessionID, model, voice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sessionRecord{
		sessionID: sessionID,
		model:     model,
		voice:     voice,
		active:    true,
		startedAt: time.Now(),
	}
	s.lastEventAt = time.Now()
}

// EndSession marks the speech session closed.
func (s *State) EndSession(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return
	}
	s.session.active = false
	s.session.endedAt = time.Now()
	s.session.endReason = reason
}

// RecordNegotiatedRates stores the sample rates confirmed by the service.
func (s *State) RecordNegotiatedRates(inputHz, outputHz int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		s.session = &sessionRecord{}
	}
	s.session.inputRateHz = inputHz
	s.session.outputRateHz = outputHz
}

// MediaConnected marks the telephony websocket open.
func (s *State) MediaConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.connected = true
	s.lastEventAt = time.Now()
}

// MediaClosed marks the telephony websocket closed.
func (s *State) MediaClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.connected = false
	s.lastEventAt = time.Now()
}

// MediaStreamStarted marks the provider's stream-start signal.
func (s *State) MediaStreamStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.started = true
	s.lastEventAt = time.Now()
}

// MediaInAudio counts inbound frames and bytes.
func (s *State) MediaInAudio(frames, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.media.framesIn == 0 {
		s.media.firstInAt = now
	}
	s.media.framesIn += uint64(frames)
	s.media.bytesIn += uint64(bytes)
	s.media.started = true
	s.media.lastInAt = now
	s.lastEventAt = now
}

// MediaOutAudio counts outbound frames and bytes.
func (s *State) MediaOutAudio(frames, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.framesOut += uint64(frames)
	s.media.bytesOut += uint64(bytes)
	s.media.lastOutAt = time.Now()
}

// RecordDecodeError counts a malformed inbound message.
func (s *State) RecordDecodeError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.decodeErrors++
}

// RecordCommit counts a commit by trigger.
func (s *State) RecordCommit(trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.commits++
	s.media.commitTriggers[trigger]++
}

// RecordCommitError counts a commit rejection by error code.
func (s *State) RecordCommitError(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.commitErrors++
	s.media.commitBlocks["error:"+code]++
}

// RecordCommitBlock counts a gated commit by block reason.
func (s *State) RecordCommitBlock(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.commitBlocks[reason]++
}

// RecordBargeIn counts a barge-in trigger.
func (s *State) RecordBargeIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.bargeIns++
}

// RecordDriftEvent counts an intake that exceeded its frame budget.
func (s *State) RecordDriftEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media.driftEvents++
}

// RecordRingStats stores the outbound ring's cumulative drop count and
// high-water mark.
func (s *State) RecordRingStats(dropped uint64, highWater int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dropped > s.media.droppedFrames {
		s.media.droppedFrames = dropped
	}
	if highWater > s.media.ringHighWater {
		s.media.ringHighWater = highWater
	}
}

// RecordFirstCommitLatency stores the first measured commit latency; later
// calls are ignored.
func (s *State) RecordFirstCommitLatency(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media.firstCommitLatencyMs < 0 && ms >= 0 {
		s.media.firstCommitLatencyMs = ms
	}
}

// ============================================================================
// Snapshot
// ============================================================================

// CallSnapshot is the JSON view of one call.
type CallSnapshot struct {
	CallID      string     `json:"call_id"`
	Token       string     `json:"token"`
	Provider    string     `json:"provider"`
	Direction   string     `json:"direction"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
	DurationSec float64    `json:"duration_sec"`
}

// SessionSnapshot is the JSON view of the speech session.
type SessionSnapshot struct {
	SessionID    string     `json:"session_id"`
	Model        string     `json:"model,omitempty"`
	Voice        string     `json:"voice,omitempty"`
	Active       bool       `json:"active"`
	InputRateHz  int        `json:"input_rate_hz,omitempty"`
	OutputRateHz int        `json:"output_rate_hz,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EndReason    string     `json:"end_reason,omitempty"`
}

// MediaSnapshot is the JSON view of the media counters.
type MediaSnapshot struct {
	Connected bool `json:"connected"`
	Started   bool `json:"started"`

	FramesIn  uint64     `json:"frames_in"`
	FramesOut uint64     `json:"frames_out"`
	BytesIn   uint64     `json:"bytes_in"`
	BytesOut  uint64     `json:"bytes_out"`
	FirstInAt *time.Time `json:"first_in_at,omitempty"`
	LastInAt  *time.Time `json:"last_in_at,omitempty"`
	LastOutAt *time.Time `json:"last_out_at,omitempty"`

	DecodeErrors   uint64            `json:"decode_errors"`
	Commits        uint64            `json:"commits"`
	CommitErrors   uint64            `json:"commit_errors"`
	CommitTriggers map[string]uint64 `json:"commit_triggers,omitempty"`
	CommitBlocks   map[string]uint64 `json:"commit_blocks,omitempty"`
	BargeIns       uint64            `json:"barge_ins"`
	DriftEvents    uint64            `json:"drift_events"`

	DroppedFrames        uint64 `json:"dropped_frames"`
	RingHighWater        int    `json:"ring_high_water"`
	FirstCommitLatencyMs int64  `json:"first_commit_latency_ms"`
}

// Snapshot is a deep-copied, JSON-serializable view of the aggregator.
type Snapshot struct {
	UptimeSec   float64          `json:"uptime_sec"`
	LastEventAt time.Time        `json:"last_event_at"`
	Call        *CallSnapshot    `json:"call,omitempty"`
	LastCall    *CallSnapshot    `json:"last_call,omitempty"`
	Session     *SessionSnapshot `json:"session,omitempty"`
	Media       MediaSnapshot    `json:"media"`
}

// Snapshot returns a deep copy of the current state. Mutating the result
// never touches the aggregator.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:   now.Sub(s.startedAt).Seconds(),
		LastEventAt: s.lastEventAt,
		Call:        callSnapshot(s.current, now),
		LastCall:    callSnapshot(s.last, now),
		Media: MediaSnapshot{
			Connected:            s.media.connected,
			Started:              s.media.started,
			FramesIn:             s.media.framesIn,
			FramesOut:            s.media.framesOut,
			BytesIn:              s.media.bytesIn,
			BytesOut:             s.media.bytesOut,
			FirstInAt:            timePtr(s.media.firstInAt),
			LastInAt:             timePtr(s.media.lastInAt),
			LastOutAt:            timePtr(s.media.lastOutAt),
			DecodeErrors:         s.media.decodeErrors,
			Commits:              s.media.commits,
			CommitErrors:         s.media.commitErrors,
			CommitTriggers:       copyCounts(s.media.commitTriggers),
			CommitBlocks:         copyCounts(s.media.commitBlocks),
			BargeIns:             s.media.bargeIns,
			DriftEvents:          s.media.driftEvents,
			DroppedFrames:        s.media.droppedFrames,
			RingHighWater:        s.media.ringHighWater,
			FirstCommitLatencyMs: s.media.firstCommitLatencyMs,
		},
	}
	if s.session != nil {
		sess := &SessionSnapshot{
			SessionID:    s.session.sessionID,
			Model:        s.session.model,
			Voice:        s.session.voice,
			Active:       s.session.active,
			InputRateHz:  s.session.inputRateHz,
			OutputRateHz: s.session.outputRateHz,
			StartedAt:    s.session.startedAt,
			EndedAt:      timePtr(s.session.endedAt),
			EndReason:    s.session.endReason,
		}
		snap.Session = sess
	}
	return snap
}

func callSnapshot(rec *callRecord, now time.Time) *CallSnapshot {
	if rec == nil {
		return nil
	}
	end := now
	if !rec.endedAt.IsZero() {
		end = rec.endedAt
	}
	return &CallSnapshot{
		CallID:      rec.callID,
		Token:       rec.token,
		Provider:    rec.provider,
		Direction:   rec.direction,
		StartedAt:   rec.startedAt,
		EndedAt:     timePtr(rec.endedAt),
		EndReason:   rec.endReason,
		DurationSec: end.Sub(rec.startedAt).Seconds(),
	}
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t
	return &u
}
