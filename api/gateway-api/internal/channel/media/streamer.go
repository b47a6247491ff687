// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	media_internal "github.com/rapidaai/voicegateway/api/gateway-api/internal/channel/media/internal"
	internal_speech "github.com/rapidaai/voicegateway/api/gateway-api/internal/speech"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/utils"
)

// ============================================================================
// Media streamer — telephony websocket leg
// ============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  media_internal.ReadBufferSize,
	WriteBufferSize: media_internal.WriteBufferSize,
	// Telephony providers are not browsers; no origin policy applies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Accept upgrades the telephony websocket, echoing the first offered
// subprotocol token when one is present. Some providers refuse the
// connection without the echo.
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	var responseHeader http.Header
	if offered := r.Header.Get("Sec-WebSocket-Protocol"); offered != "" {
		first := strings.TrimSpace(strings.SplitN(offered, ",", 2)[0])
		if first != "" {
			responseHeader = http.Header{"Sec-WebSocket-Protocol": []string{first}}
		}
	}
	return upgrader.Upgrade(w, r, responseHeader)
}

// Option overrides one streaming parameter beyond the application defaults.
type Option func(*streamerOptions)

type streamerOptions struct {
	frameBytes    int
	frameInterval time.Duration
	outFormat     string
	bidirectional bool
	inboundAudio  bool
	outboundAudio bool
}

// WithFrameBytes overrides the PCM16 frame size sliced from inbound audio
// and paced back out.
func WithFrameBytes(n int) Option {
	return func(o *streamerOptions) { o.frameBytes = n }
}

// WithFrameInterval overrides the outbound pacing interval.
func WithFrameInterval(d time.Duration) Option {
	return func(o *streamerOptions) { o.frameInterval = d }
}

// WithOutFormat overrides the outbound encoding (json_simple or binary).
func WithOutFormat(format string) Option {
	return func(o *streamerOptions) { o.outFormat = format }
}

// WithBidirectional toggles agent audio playback toward the provider.
// Inbound caller audio is unaffected.
func WithBidirectional(enabled bool) Option {
	return func(o *streamerOptions) { o.bidirectional = enabled }
}

// WithInboundAudio toggles forwarding of caller audio into the speech
// session. Frames are still decoded and counted when disabled.
func WithInboundAudio(enabled bool) Option {
	return func(o *streamerOptions) { o.inboundAudio = enabled }
}

// WithOutboundAudio toggles writing agent audio to the provider socket.
// The session queue is still drained when disabled so it cannot back up.
func WithOutboundAudio(enabled bool) Option {
	return func(o *streamerOptions) { o.outboundAudio = enabled }
}

// MediaStreamer owns the telephony websocket of one call: it decodes
// inbound provider messages into frames for the speech session and paces
// session audio back out, one frame per interval.
type MediaStreamer struct {
	logger commons.Logger
	state  *internal_callstate.State
	opts   streamerOptions

	conn    *websocket.Conn
	session internal_speech.Session

	writeMu sync.Mutex

	// Touched by one loop goroutine each.
	firstInLogged  bool
	firstOutLogged bool
}

// NewMediaStreamer wires a freshly accepted telephony socket to a speech
// session. Defaults come from the application config; options override
// per call.
func NewMediaStreamer(
	logger commons.Logger,
	cfg *config.AppConfig,
	state *internal_callstate.State,
	conn *websocket.Conn,
	session internal_speech.Session,
	opts ...Option,
) *MediaStreamer {
	options := streamerOptions{
		frameBytes:    cfg.FrameBytes,
		frameInterval: time.Duration(cfg.FrameIntervalMs) * time.Millisecond,
		outFormat:     cfg.MediaOutFormat,
		bidirectional: cfg.MediaBidirectional,
		inboundAudio:  cfg.MediaEnableVlIn,
		outboundAudio: cfg.MediaEnableVlOut,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &MediaStreamer{
		logger:  logger,
		state:   state,
		opts:    options,
		conn:    conn,
		session: session,
	}
}

// Run sends the ack and drives the inbound reader and the paced outbound
// writer until the provider disconnects or the call is cancelled. The
// socket is closed on every exit path.
func (s *MediaStreamer) Run(ctx context.Context) error {
	if err := s.sendAck(); err != nil {
		return fmt.Errorf("failed to send media ack: %w", err)
	}
	s.state.MediaConnected()
	defer s.state.MediaClosed()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The blocking read only unblocks when the socket closes under it.
	utils.Go(runCtx, func() {
		<-runCtx.Done()
		_ = s.conn.Close()
	})

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.runInboundReader(gCtx)
	})
	g.Go(func() error {
		return s.runOutputWriter(gCtx)
	})
	return g.Wait()
}

func (s *MediaStreamer) sendAck() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, media_internal.AckMessage)
}

// runInboundReader consumes provider messages until disconnect. Malformed
// messages are dropped and counted, never fatal.
func (s *MediaStreamer) runInboundReader(ctx context.Context) error {
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Infow("media socket closed by provider")
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("media socket read failed: %w", err)
		}
		s.handleInbound(messageType, payload)
	}
}

func (s *MediaStreamer) handleInbound(messageType int, payload []byte) {
	s.state.Touch()

	decoded, err := media_internal.DecodeInbound(messageType, payload)
	if err != nil {
		s.state.RecordDecodeError()
		s.logger.Debugf("dropping inbound media message: %v", err)
		return
	}
	if decoded.Metadata {
		s.state.MediaStreamStarted()
		s.logger.Debugf("media stream metadata received")
		return
	}
	if len(decoded.PCM) == 0 {
		return
	}

	frames := media_internal.SliceFrames(decoded.PCM, s.opts.frameBytes)
	if len(frames) == 0 {
		return
	}
	s.state.MediaInAudio(len(frames), len(frames)*s.opts.frameBytes)
	if !s.firstInLogged {
		s.firstInLogged = true
		s.logger.Infow("first inbound media frame",
			"frames", len(frames),
			"frame_bytes", s.opts.frameBytes,
		)
	}

	if !s.opts.inboundAudio || !s.session.Active() {
		return
	}
	for _, frame := range frames {
		if err := s.session.SendInputFrame(frame); err != nil {
			if errors.Is(err, internal_speech.ErrSessionClosed) {
				return
			}
			s.logger.Debugf("input frame rejected: %v", err)
		}
	}
}

// runOutputWriter drains one paced frame per interval. Write errors stop
// this loop without touching the inbound reader; the socket may still be
// receiving caller audio.
func (s *MediaStreamer) runOutputWriter(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.frameInterval)
	defer ticker.Stop()

	last := time.Now()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if elapsed := now.Sub(last); elapsed > s.opts.frameInterval+s.opts.frameInterval/2 {
				s.state.RecordDriftEvent()
			}
			last = now

			ticks++
			if ticks%media_internal.HeartbeatTicks == 0 {
				s.logHeartbeat()
			}

			if !s.session.Active() {
				continue
			}
			frame := s.session.NextOutboundFrame(media_internal.PopTimeout)
			if frame == nil {
				continue
			}
			if !s.opts.bidirectional || !s.opts.outboundAudio {
				continue
			}
			if err := s.writeFrame(frame); err != nil {
				s.logger.Errorw("outbound media write failed, stopping writer", "error", err)
				return nil
			}
			s.state.MediaOutAudio(1, len(frame))
			if !s.firstOutLogged {
				s.firstOutLogged = true
				s.logger.Infow("first outbound media frame", "bytes", len(frame))
			}
		}
	}
}

func (s *MediaStreamer) logHeartbeat() {
	media := s.state.Snapshot().Media
	s.logger.Infow("media pacing heartbeat",
		"frames_in", media.FramesIn,
		"frames_out", media.FramesOut,
		"dropped_frames", media.DroppedFrames,
		"ring_high_water", media.RingHighWater,
		"drift_events", media.DriftEvents,
		"commits", media.Commits,
	)
}

func (s *MediaStreamer) writeFrame(frame []byte) error {
	messageType, payload, err := media_internal.EncodeOutbound(s.opts.outFormat, frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, payload)
}
