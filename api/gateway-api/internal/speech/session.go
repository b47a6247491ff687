// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_audio "github.com/rapidaai/voicegateway/api/gateway-api/internal/audio"
	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	speech_internal "github.com/rapidaai/voicegateway/api/gateway-api/internal/speech/internal"
	internal_vad "github.com/rapidaai/voicegateway/api/gateway-api/internal/vad"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/utils"
)

// ============================================================================
// Speech session
// ============================================================================

// ErrSessionClosed is returned by SendInputFrame once the session stopped
// moving audio. Callers should stop feeding frames instead of retrying.
var ErrSessionClosed = errors.New("speech session closed")

// Session is the speech-service leg of one call. The media bridge feeds it
// caller frames and drains agent frames from it; everything between (rate
// conversion, VAD, commit control, barge-in) happens inside.
type Session interface {
	// SendInputFrame accepts one caller-rate PCM16 frame. Frames arriving
	// before the session is ready, or while a commit awaits its ack, are
	// staged and replayed in arrival order.
	SendInputFrame(frame []byte) error
	// NextOutboundFrame returns the next agent audio frame at the caller
	// rate, or nil when none arrives within timeout.
	NextOutboundFrame(timeout time.Duration) []byte
	// Active reports whether the session can still move audio.
	Active() bool
	// Close tears the session down. Safe to call more than once.
	Close() error
}

// CallProfile carries the per-call overrides applied on top of the static
// configuration.
type CallProfile struct {
	SessionID    string
	Voice        string
	Instructions string
}

// Connect returns the session implementation selected by configuration: the
// synthetic tone generator when media_mock_tone is set, otherwise a live
// client connected to the configured speech service.
func Connect(
	ctx context.Context,
	cfg *config.AppConfig,
	logger commons.Logger,
	state *internal_callstate.State,
	profile CallProfile,
) (Session, error) {
	if cfg.MediaMockTone {
		return newToneSession(cfg, logger, state, profile), nil
	}
	session, err := newLiveSession(cfg, logger, state, profile)
	if err != nil {
		return nil, err
	}
	if err := session.initialize(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

type liveSession struct {
	logger commons.Logger
	cfg    *config.AppConfig
	state  *internal_callstate.State

	sessionID    string
	voice        string
	instructions string

	// epoch anchors the monotonic millisecond clock handed to the VAD.
	epoch time.Time

	connection *websocket.Conn
	writeMu    sync.Mutex

	controller *internal_vad.CommitController
	bargeIn    *internal_vad.BargeInDetector

	// intakeMu serializes live frame intake with staging replay so frame
	// order through the resampler and the commit controller is preserved
	// across a commit round-trip.
	intakeMu sync.Mutex
	staging  *internal_audio.StagingBuffer
	input    *internal_audio.Resampler

	outMu    sync.Mutex
	output   *internal_audio.Resampler
	assembly []byte
	ring     *internal_audio.FrameRing

	ready          atomic.Bool
	active         atomic.Bool
	closed         atomic.Bool
	serverSpeaking atomic.Bool
	// holdResponse suppresses auto response.create after the service
	// reported an already-active response, until that response is done.
	holdResponse atomic.Bool

	// Listener goroutine only.
	firstCommitLogged bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newLiveSession(
	cfg *config.AppConfig,
	logger commons.Logger,
	state *internal_callstate.State,
	profile CallProfile,
) (*liveSession, error) {
	input, err := internal_audio.NewResampler(cfg.MediaSampleRate, speech_internal.DefaultServiceRate)
	if err != nil {
		return nil, fmt.Errorf("input resampler: %w", err)
	}
	output, err := internal_audio.NewResampler(speech_internal.DefaultServiceRate, cfg.MediaSampleRate)
	if err != nil {
		return nil, fmt.Errorf("output resampler: %w", err)
	}

	sessionID := profile.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	voice := profile.Voice
	if voice == "" {
		voice = cfg.SpeechVoice
	}
	instructions := profile.Instructions
	if instructions == "" {
		instructions = cfg.SpeechInstructions
	}

	controller := internal_vad.NewCommitController(
		internal_vad.CommitParams{
			FrameIntervalMs:  cfg.FrameIntervalMs,
			AdaptiveMinMs:    cfg.AdaptiveMinMs,
			SafetyMs:         cfg.SafetyMs,
			MaxBufferMs:      cfg.MaxBufferMs,
			SilenceCommitMs:  cfg.SilenceCommitMs,
			NoSpeechCommitMs: cfg.NoSpeechCommitMs,
			MinSpeechFrames:  cfg.MinSpeechFramesForCommit,
			CommitMinUserMs:  cfg.CommitMinUserMs,
		},
		internal_vad.DetectorParams{
			Offset:                cfg.DynamicRmsOffset,
			RmsMin:                cfg.DynamicRmsMin,
			RmsMax:                cfg.DynamicRmsMax,
			BootstrapDurationMs:   int64(cfg.BootstrapDurationMs),
			BootstrapOffset:       cfg.BootstrapOffset,
			OffsetDecayStep:       cfg.OffsetDecayStep,
			OffsetDecayIntervalMs: int64(cfg.OffsetDecayIntervalMs),
			OffsetDecayMin:        cfg.OffsetDecayMin,
		},
	)
	bargeIn := internal_vad.NewBargeInDetector(internal_vad.BargeInParams{
		FrameIntervalMs: cfg.FrameIntervalMs,
		LockMs:          cfg.BargeInLockMs,
		Offset:          cfg.BargeInOffset,
		RelativeFactor:  cfg.BargeInRelativeFactor,
		AbsMinRms:       cfg.BargeInAbsMinRms,
		MinSnrDb:        cfg.BargeInMinSnrDb,
		MinAgentMs:      cfg.BargeInMinAgentMs,
		CooldownMs:      cfg.BargeInCooldownMs,
		ReleaseFrames:   cfg.BargeInReleaseFrames,
		MinUserMs:       cfg.BargeInMinUserMs,
	})

	return &liveSession{
		logger:       logger,
		cfg:          cfg,
		state:        state,
		sessionID:    sessionID,
		voice:        voice,
		instructions: instructions,
		epoch:        time.Now(),
		controller:   controller,
		bargeIn:      bargeIn,
		staging:      internal_audio.NewStagingBuffer(),
		input:        input,
		output:       output,
		ring:         internal_audio.NewFrameRing(speech_internal.OutboundRingFrames),
		done:         make(chan struct{}),
	}, nil
}

// initialize dials the service, sends session.update, and starts the
// listener and the commit-ack watchdog. It does not wait for
// session.updated; frames arriving before readiness are staged.
func (s *liveSession) initialize(ctx context.Context) error {
	start := time.Now()

	if err := s.establishConnection(ctx); err != nil {
		return err
	}
	if err := s.sendSessionUpdate(); err != nil {
		_ = s.connection.Close()
		return fmt.Errorf("failed to send session update: %w", err)
	}

	s.active.Store(true)
	s.state.BeginSession(s.sessionID, s.cfg.SpeechModel, s.voice)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	utils.Go(runCtx, func() {
		s.responseListener(runCtx)
	})
	utils.Go(runCtx, func() {
		s.ackWatchdog(runCtx)
	})

	s.logger.Infow("speech session started",
		"session_id", s.sessionID,
		"model", s.cfg.SpeechModel,
		"voice", s.voice,
	)
	s.logger.Benchmark("LiveSession.Initialize", start)
	return nil
}

// establishConnection dials the realtime endpoint with proper headers and
// query parameters.
func (s *liveSession) establishConnection(ctx context.Context) error {
	wsURL, err := url.Parse(s.cfg.SpeechEndpoint)
	if err != nil {
		return fmt.Errorf("failed to parse speech endpoint: %w", err)
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	case "http":
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimSuffix(wsURL.Path, "/") + speech_internal.RealtimePath

	query := wsURL.Query()
	query.Set(speech_internal.QueryApiVersion, s.cfg.SpeechApiVersion)
	query.Set(speech_internal.QueryModel, s.cfg.SpeechModel)
	wsURL.RawQuery = query.Encode()

	headers := http.Header{}
	if s.cfg.SpeechApiKey != "" {
		headers.Set(speech_internal.HeaderApiKey, s.cfg.SpeechApiKey)
	} else if s.cfg.SpeechBearerToken != "" {
		headers.Set("Authorization", "Bearer "+s.cfg.SpeechBearerToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: speech_internal.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return fmt.Errorf("failed to connect to speech service: %w", err)
	}

	conn.SetReadLimit(speech_internal.ReadLimitBytes)
	conn.SetPongHandler(func(appData string) error {
		s.logger.Debugf("Received pong from speech service")
		return nil
	})
	s.connection = conn
	return nil
}

// sendSessionUpdate pushes the session configuration: modalities, voice,
// PCM16 in both directions, and service-side VAD.
func (s *liveSession) sendSessionUpdate() error {
	return s.sendEvent(speech_internal.ClientEvent{
		Type: speech_internal.EventSessionUpdate,
		Session: &speech_internal.SessionConfig{
			Modalities:        []string{speech_internal.ModalityText, speech_internal.ModalityAudio},
			Instructions:      s.instructions,
			Voice:             speech_internal.VoicePayload(s.voice),
			InputAudioFormat:  speech_internal.AudioFormatPCM16,
			OutputAudioFormat: speech_internal.AudioFormatPCM16,
			TurnDetection: &speech_internal.TurnDetection{
				Type:              speech_internal.TurnDetectionServerVad,
				Threshold:         speech_internal.ServerVadThreshold,
				PrefixPaddingMs:   speech_internal.ServerVadPrefixMs,
				SilenceDurationMs: speech_internal.ServerVadSilenceMs,
			},
		},
	})
}

// sendEvent safely sends one event over the websocket connection.
func (s *liveSession) sendEvent(event speech_internal.ClientEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.connection == nil {
		return fmt.Errorf("speech connection is nil")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.connection.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (s *liveSession) nowMs() int64 {
	return time.Since(s.epoch).Milliseconds()
}

// SendInputFrame implements Session.
func (s *liveSession) SendInputFrame(frame []byte) error {
	if !s.Active() {
		return ErrSessionClosed
	}
	if len(frame) == 0 {
		return nil
	}
	if len(frame) != s.cfg.FrameBytes {
		s.logger.Debugf("unexpected input frame size=%d expected=%d", len(frame), s.cfg.FrameBytes)
		return nil
	}

	start := time.Now()
	s.intakeMu.Lock()
	err := s.intakeFrameLocked(frame, s.nowMs())
	s.intakeMu.Unlock()
	if time.Since(start) > time.Duration(s.cfg.FrameIntervalMs)*time.Millisecond {
		s.state.RecordDriftEvent()
	}
	return err
}

// intakeFrameLocked runs one caller frame through the full input path:
// resample, classify, append, commit triggers, barge-in. Frames that cannot
// be admitted yet are staged before the resampler so replay keeps the
// stream phase-continuous.
func (s *liveSession) intakeFrameLocked(frame []byte, nowMs int64) error {
	if !s.ready.Load() || s.controller.State() == internal_vad.StateCommitSent {
		s.staging.Stage(frame)
		return nil
	}

	payload := frame
	if !s.input.Passthrough() {
		payload = s.input.Convert(frame)
	}
	rms := utils.RMS(payload)

	decision := s.controller.Observe(len(payload), rms, nowMs)
	if decision.Discarded {
		s.logger.Debugw("stale silent buffer discarded",
			"threshold", s.controller.Detector().Threshold(),
			"noise_floor", s.controller.Detector().NoiseFloor(),
		)
	}
	if decision.BlockReason != "" {
		s.state.RecordCommitBlock(decision.BlockReason)
	}

	if len(payload) > 0 {
		if err := s.sendEvent(speech_internal.ClientEvent{
			Type:  speech_internal.EventInputAppend,
			Audio: base64.StdEncoding.EncodeToString(payload),
		}); err != nil {
			return err
		}
	}
	if decision.Commit {
		if err := s.sendCommit(decision.Trigger); err != nil {
			return err
		}
	}

	if s.bargeIn.Observe(rms, s.controller.Detector().NoiseFloor(), nowMs) {
		return s.handleBargeInLocked(nowMs)
	}
	return nil
}

// sendCommit pushes the commit event for a controller decision that already
// moved the state machine to COMMIT_SENT.
func (s *liveSession) sendCommit(trigger internal_vad.Trigger) error {
	if err := s.sendEvent(speech_internal.ClientEvent{Type: speech_internal.EventInputCommit}); err != nil {
		return fmt.Errorf("failed to send commit: %w", err)
	}
	s.state.RecordCommit(string(trigger))
	s.logger.Debugw("commit sent",
		"trigger", string(trigger),
		"adaptive_min_ms", s.controller.AdaptiveMinMs(),
	)
	return nil
}

// handleBargeInLocked interrupts agent playback: queued agent audio is
// dropped and the caller audio gathered so far is committed immediately
// when the controller allows it.
func (s *liveSession) handleBargeInLocked(nowMs int64) error {
	dropped := s.ring.Drain()
	s.outMu.Lock()
	s.assembly = s.assembly[:0]
	s.outMu.Unlock()

	s.state.RecordBargeIn()
	committed := s.controller.TryBargeInCommit(nowMs)
	if committed {
		if err := s.sendCommit(internal_vad.TriggerBargeIn); err != nil {
			return err
		}
	}
	s.logger.Infow("barge-in triggered",
		"dropped_frames", dropped,
		"commit", committed,
		"session_id", s.sessionID,
	)
	return nil
}

// NextOutboundFrame implements Session.
func (s *liveSession) NextOutboundFrame(timeout time.Duration) []byte {
	if !s.Active() {
		return nil
	}
	frame, ok := s.ring.Pop(timeout)
	if !ok {
		return nil
	}
	return frame
}

// Active implements Session.
func (s *liveSession) Active() bool {
	return s.active.Load()
}

// Close implements Session.
func (s *liveSession) Close() error {
	return s.shutdown(internal_callstate.EndReasonNormal)
}

// shutdown tears the session down once; later calls are no-ops.
func (s *liveSession) shutdown(reason string) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.active.Store(false)
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.connection != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.connection.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		err = s.connection.Close()
	}

	s.state.EndSession(reason)
	s.logger.Infow("speech session closed",
		"session_id", s.sessionID,
		"reason", reason,
		"commits", s.controller.CommitsSent(),
	)
	return err
}

// ackWatchdog tears the session down when a commit ack never arrives.
func (s *liveSession) ackWatchdog(ctx context.Context) {
	ticker := time.NewTicker(speech_internal.AckCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if s.controller.AckOverdue(s.nowMs()) {
				s.logger.Errorf("commit ack overdue, closing session id=%s", s.sessionID)
				_ = s.shutdown(internal_callstate.EndReasonAckTimeout)
				return
			}
		}
	}
}

// responseListener consumes service events until the connection drops or
// the session closes.
func (s *liveSession) responseListener(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		_, payload, err := s.connection.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Errorf("speech socket read failed: %v", err)
			_ = s.shutdown(internal_callstate.EndReasonTransport)
			return
		}

		var event speech_internal.ServerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Debugf("undecodable speech event: %v", err)
			continue
		}
		s.handleServerEvent(event)
	}
}

func (s *liveSession) handleServerEvent(event speech_internal.ServerEvent) {
	s.state.Touch()
	switch event.Type {
	case speech_internal.EventSessionCreated:
		s.logger.Debugf("speech session created event_id=%s", event.EventID)
	case speech_internal.EventSessionUpdated:
		s.handleSessionUpdated(event.Session)
	case speech_internal.EventInputCommitted:
		s.handleCommitted()
	case speech_internal.EventSpeechStarted:
		s.serverSpeaking.Store(true)
	case speech_internal.EventSpeechStopped:
		s.serverSpeaking.Store(false)
	case speech_internal.EventResponseAudioDelta:
		s.handleAudioDelta(event.Delta)
	case speech_internal.EventResponseAudioDone:
		s.flushAssembly()
	case speech_internal.EventResponseDone:
		s.holdResponse.Store(false)
		s.bargeIn.MarkResponseDone()
	case speech_internal.EventError:
		s.handleServiceError(event.Error)
	default:
		s.logger.Debugf("ignoring speech event type=%s", event.Type)
	}
}

// handleSessionUpdated records the negotiated rates, reconfigures the
// resamplers when the rates moved, marks the session ready, and replays
// frames held back during setup.
func (s *liveSession) handleSessionUpdated(raw json.RawMessage) {
	var settings speech_internal.SessionSettings
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &settings); err != nil {
			s.logger.Debugf("undecodable session settings: %v", err)
		}
	}
	inputRate := speech_internal.SampleRateOf(settings.InputAudioFormat, speech_internal.DefaultServiceRate)
	outputRate := speech_internal.SampleRateOf(settings.OutputAudioFormat, speech_internal.DefaultServiceRate)

	s.intakeMu.Lock()
	if _, dst := s.input.Rates(); dst != inputRate {
		if err := s.input.Reset(s.cfg.MediaSampleRate, inputRate); err != nil {
			s.logger.Errorf("input resampler reset failed: %v", err)
		}
	}
	s.intakeMu.Unlock()

	s.outMu.Lock()
	if src, _ := s.output.Rates(); src != outputRate {
		if err := s.output.Reset(outputRate, s.cfg.MediaSampleRate); err != nil {
			s.logger.Errorf("output resampler reset failed: %v", err)
		}
	}
	s.outMu.Unlock()

	s.state.RecordNegotiatedRates(inputRate, outputRate)
	s.ready.Store(true)
	s.logger.Infow("speech session ready",
		"session_id", s.sessionID,
		"input_rate", inputRate,
		"output_rate", outputRate,
		"held_frames", s.staging.Len(),
	)
	s.replayStaged()
}

// handleCommitted acks the in-flight commit, optionally kicks off a
// response, and replays frames staged during the round-trip.
func (s *liveSession) handleCommitted() {
	s.controller.OnCommitted(s.nowMs())
	if ms := s.controller.FirstCommitLatencyMs(); ms >= 0 {
		s.state.RecordFirstCommitLatency(ms)
		if !s.firstCommitLogged {
			s.firstCommitLogged = true
			s.logger.Infow("first commit acknowledged",
				"session_id", s.sessionID,
				"latency_ms", ms,
			)
		}
	}
	if s.cfg.SpeechAutoResponse && !s.bargeIn.ResponseActive() && !s.holdResponse.Load() {
		if err := s.sendEvent(speech_internal.ClientEvent{Type: speech_internal.EventResponseCreate}); err != nil {
			s.logger.Errorf("response.create failed: %v", err)
		}
	}
	s.replayStaged()
}

// replayStaged pushes held frames back through the normal intake path in
// arrival order. Frames staged while the replay itself triggers another
// commit simply wait for the next ack.
func (s *liveSession) replayStaged() {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()

	frames := s.staging.TakeAll()
	if len(frames) == 0 {
		return
	}
	s.logger.Debugf("replaying %d staged frames", len(frames))
	for _, frame := range frames {
		if err := s.intakeFrameLocked(frame, s.nowMs()); err != nil {
			s.logger.Debugf("staged frame replay stopped: %v", err)
			return
		}
	}
}

// handleAudioDelta converts one agent audio chunk to caller-rate frames.
// Residual chunks of an interrupted response are dropped until the service
// confirms the response done.
func (s *liveSession) handleAudioDelta(delta string) {
	if delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		s.logger.Debugf("undecodable audio delta: %v", err)
		return
	}
	if s.bargeIn.Triggered() {
		return
	}
	s.bargeIn.MarkResponseActive(s.nowMs())
	s.enqueueOutbound(pcm)
}

func (s *liveSession) enqueueOutbound(pcm []byte) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if !s.output.Passthrough() {
		pcm = s.output.Convert(pcm)
	}
	s.assembly = append(s.assembly, pcm...)

	frameBytes := s.cfg.FrameBytes
	offset := 0
	for len(s.assembly)-offset >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, s.assembly[offset:offset+frameBytes])
		s.ring.Push(frame)
		offset += frameBytes
	}
	if offset > 0 {
		n := copy(s.assembly, s.assembly[offset:])
		s.assembly = s.assembly[:n]
	}
	s.state.RecordRingStats(s.ring.Dropped(), s.ring.HighWater())
}

// flushAssembly pads the trailing partial frame of a finished burst with
// silence so no agent audio is stranded below frame size.
func (s *liveSession) flushAssembly() {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if len(s.assembly) == 0 {
		return
	}
	if s.bargeIn.Triggered() {
		s.assembly = s.assembly[:0]
		return
	}
	frame := make([]byte, s.cfg.FrameBytes)
	copy(frame, s.assembly)
	s.assembly = s.assembly[:0]
	s.ring.Push(frame)
}

func (s *liveSession) handleServiceError(detail *speech_internal.ErrorDetail) {
	if detail == nil {
		s.logger.Errorf("speech service error without detail")
		return
	}
	switch detail.Code {
	case speech_internal.ErrCodeCommitEmpty:
		s.controller.OnCommitEmpty(s.nowMs())
		s.state.RecordCommitError(detail.Code)
		s.logger.Warnw("commit rejected as empty",
			"adaptive_min_ms", s.controller.AdaptiveMinMs(),
			"cooldown_frames", s.controller.CooldownFrames(),
		)
		s.replayStaged()
	case speech_internal.ErrCodeActiveResponse:
		s.holdResponse.Store(true)
		s.logger.Debugw("response already active, holding response.create")
	default:
		s.logger.Errorw("speech service error",
			"code", detail.Code,
			"type", detail.Type,
			"message", detail.Message,
		)
	}
}
