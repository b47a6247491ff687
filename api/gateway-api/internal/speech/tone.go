// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_speech

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/utils"
)

const (
	toneFrequencyHz = 440.0
	toneAmplitude   = 6000.0
)

// toneSession is the synthetic stand-in selected by media_mock_tone: it
// emits a continuous 440 Hz sine at the caller rate, so the telephony leg
// can be verified end to end without a speech-service credential. Input
// frames are accepted and dropped.
type toneSession struct {
	logger commons.Logger
	state  *internal_callstate.State

	sessionID  string
	frameBytes int
	step       float64

	// phase carries the sine position across frames so back-to-back
	// frames form one continuous tone.
	mu    sync.Mutex
	phase float64

	active atomic.Bool
}

func newToneSession(
	cfg *config.AppConfig,
	logger commons.Logger,
	state *internal_callstate.State,
	profile CallProfile,
) *toneSession {
	sessionID := profile.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session := &toneSession{
		logger:     logger,
		state:      state,
		sessionID:  sessionID,
		frameBytes: cfg.FrameBytes,
		step:       2 * math.Pi * toneFrequencyHz / float64(cfg.MediaSampleRate),
	}
	session.active.Store(true)

	state.BeginSession(sessionID, "mock-tone", "tone")
	state.RecordNegotiatedRates(cfg.MediaSampleRate, cfg.MediaSampleRate)
	logger.Infow("mock tone session started", "session_id", sessionID)
	return session
}

// SendInputFrame implements Session. Caller audio has nowhere to go in
// mock mode.
func (s *toneSession) SendInputFrame(frame []byte) error {
	if !s.active.Load() {
		return ErrSessionClosed
	}
	return nil
}

// NextOutboundFrame implements Session. One frame of sine is generated per
// call; pacing is the caller's job.
func (s *toneSession) NextOutboundFrame(timeout time.Duration) []byte {
	if !s.active.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := make([]int16, s.frameBytes/2)
	for i := range samples {
		samples[i] = int16(toneAmplitude * math.Sin(s.phase))
		s.phase += s.step
	}
	if s.phase > 2*math.Pi {
		s.phase = math.Mod(s.phase, 2*math.Pi)
	}
	return utils.SamplesToPCM16(samples)
}

// Active implements Session.
func (s *toneSession) Active() bool {
	return s.active.Load()
}

// Close implements Session.
func (s *toneSession) Close() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	s.state.EndSession(internal_callstate.EndReasonNormal)
	s.logger.Infow("mock tone session closed", "session_id", s.sessionID)
	return nil
}
