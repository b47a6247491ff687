// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package gateway_media_api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	internal_callcontext "github.com/rapidaai/voicegateway/api/gateway-api/internal/callcontext"
	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	channel_media "github.com/rapidaai/voicegateway/api/gateway-api/internal/channel/media"
	internal_gateway "github.com/rapidaai/voicegateway/api/gateway-api/internal/gateway"
	internal_speech "github.com/rapidaai/voicegateway/api/gateway-api/internal/speech"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

type mediaApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	store  internal_callcontext.Store
	hub    *internal_gateway.Hub
}

func NewMediaApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	store internal_callcontext.Store,
	hub *internal_gateway.Hub,
) *mediaApi {
	return &mediaApi{
		cfg:    cfg,
		logger: logger,
		store:  store,
		hub:    hub,
	}
}

// Connect is the telephony media leg. The provider dials back the websocket
// URL it was handed at call placement; the token in the path identifies the
// call context created by /call/start.
//
// @Router /media/:token [get]
// @Summary Telephony media websocket
// @Description Claims the call context, opens the speech-service leg and
// @Description bridges audio both ways until either side hangs up.
// @Param token path string true "Media token"
// @Success 101 "Switching Protocols"
// @Failure 403 {object} gin.H
func (mApi *mediaApi) Connect(c *gin.Context) {
	token := c.Param("token")

	// Claim before upgrading: an unknown or already-claimed token never gets
	// a websocket. The guarded update makes a concurrent second dial lose.
	cc, err := mApi.store.Claim(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, internal_callcontext.ErrAlreadyClaimed) {
			mApi.logger.Warnf("duplicate media connection: token=%s", token)
		} else {
			mApi.logger.Warnf("media connect rejected: token=%s err=%v", token, err)
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown or already claimed media token"})
		return
	}

	conn, err := channel_media.Accept(c.Writer, c.Request)
	if err != nil {
		// Accept already wrote the handshake failure response.
		mApi.logger.Errorf("media websocket upgrade failed: token=%s err=%v", token, err)
		_ = mApi.store.Fail(c.Request.Context(), token)
		return
	}

	callLogger := mApi.logger.With("token", token, "provider", cc.Provider)

	state := internal_callstate.NewState()
	state.BeginCall(cc.ChannelUUID, token, cc.Provider, cc.Direction)

	// The call outlives the HTTP request machinery once hijacked; lifetime is
	// owned by the hub (hangup, timeouts, shutdown) through this cancel.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac := mApi.hub.Register(token, cc.Provider, cc.ChannelUUID, state, cancel)
	defer mApi.hub.Remove(token)

	profile := internal_speech.CallProfile{
		SessionID:    token,
		Voice:        cc.Voice,
		Instructions: cc.Instructions,
	}
	if profile.Voice == "" {
		profile.Voice = mApi.cfg.SpeechVoice
	}
	if profile.Instructions == "" {
		profile.Instructions = mApi.cfg.SpeechInstructions
	}

	session, err := internal_speech.Connect(runCtx, mApi.cfg, callLogger, state, profile)
	if err != nil {
		callLogger.Errorf("speech session setup failed: %v", err)
		state.EndCall(internal_callstate.EndReasonTransport)
		_ = conn.Close()
		_ = mApi.store.Fail(context.Background(), token)
		return
	}

	streamer := channel_media.NewMediaStreamer(callLogger, mApi.cfg, state, conn, session)
	if err := streamer.Run(runCtx); err != nil {
		callLogger.Warnf("media bridge ended with error: %v", err)
	}

	_ = session.Close()
	_ = conn.Close()

	reason := ac.EndReason(internal_callstate.EndReasonDisconnect)
	state.EndCall(reason)
	if err := mApi.store.Complete(context.Background(), token); err != nil {
		callLogger.Warnf("failed to complete call context: %v", err)
	}

	snapshot := state.Snapshot()
	callLogger.Infow("media leg closed",
		"callId", cc.ChannelUUID,
		"reason", reason,
		"framesIn", snapshot.Media.FramesIn,
		"framesOut", snapshot.Media.FramesOut,
		"commits", snapshot.Media.Commits,
	)
}
