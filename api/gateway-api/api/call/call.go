// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package gateway_call_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	internal_callcontext "github.com/rapidaai/voicegateway/api/gateway-api/internal/callcontext"
	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	internal_gateway "github.com/rapidaai/voicegateway/api/gateway-api/internal/gateway"
	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

type callApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	store    internal_callcontext.Store
	provider internal_telephony.Provider
	hub      *internal_gateway.Hub
}

func NewCallApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	store internal_callcontext.Store,
	provider internal_telephony.Provider,
	hub *internal_gateway.Hub,
) *callApi {
	return &callApi{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		provider: provider,
		hub:      hub,
	}
}

type startCallRequest struct {
	TargetPhoneNumber string `json:"target_phone_number"`
	SystemPrompt      string `json:"system_prompt"`
	Voice             string `json:"voice"`
}

type startCallResponse struct {
	CallId     string `json:"call_id"`
	Token      string `json:"token"`
	PromptUsed string `json:"prompt_used"`
	To         string `json:"to"`
}

// StartCall places an outbound call through the configured telephony
// provider. The provider dials the callee and then connects its media
// websocket back to /media/:token.
//
// @Router /call/start [post]
// @Summary Place an outbound call
// @Param request body startCallRequest true "Call parameters"
// @Produce json
// @Success 200 {object} startCallResponse
// @Failure 400 {object} gin.H
// @Failure 502 {object} gin.H
func (cApi *callApi) StartCall(c *gin.Context) {
	var payload startCallRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	to := strings.TrimSpace(payload.TargetPhoneNumber)
	if to == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "destination number missing: provide 'target_phone_number' in request",
		})
		return
	}

	publicHost := strings.TrimSpace(cApi.cfg.MediaPublicHost)
	if publicHost == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "media_public_host must be configured for provider callbacks",
		})
		return
	}
	// Providers dial these URLs from their cloud; a loopback host can never
	// receive the callback or the media leg.
	if strings.Contains(publicHost, "localhost") || strings.Contains(publicHost, "127.0.0.1") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "media_public_host cannot be a loopback address; expose a public https host",
		})
		return
	}

	prompt := payload.SystemPrompt
	if prompt == "" {
		prompt = cApi.cfg.SpeechInstructions
	}
	voice := payload.Voice
	if voice == "" {
		voice = cApi.cfg.SpeechVoice
	}

	cc := &internal_callcontext.CallContext{
		Status:       internal_callcontext.StatusQueued,
		Provider:     cApi.provider.Name(),
		Direction:    internal_callcontext.DirectionOutbound,
		CalleeNumber: to,
		Voice:        voice,
		Instructions: prompt,
		SampleRateHz: cApi.cfg.MediaSampleRate,
	}
	token, err := cApi.store.Save(c.Request.Context(), cc)
	if err != nil {
		cApi.logger.Errorf("failed to persist call context: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create call context"})
		return
	}

	req := internal_telephony.PlaceCallRequest{
		To:          to,
		MediaURL:    fmt.Sprintf("wss://%s/media/%s", publicHost, token),
		CallbackURL: fmt.Sprintf("https://%s/call/events", publicHost),
		Token:       token,
	}
	callId, err := cApi.provider.PlaceCall(c.Request.Context(), req)
	if err != nil {
		cApi.logger.Errorw("call placement failed",
			"provider", cApi.provider.Name(),
			"to", to,
			"token", token,
			"error", err,
		)
		_ = cApi.store.Fail(c.Request.Context(), token)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Call placement failed"})
		return
	}

	if err := cApi.store.UpdateField(c.Request.Context(), token, "channel_uuid", callId); err != nil {
		cApi.logger.Warnf("failed to record provider call id: token=%s err=%v", token, err)
	}

	cApi.logger.Infow("placed outbound call",
		"provider", cApi.provider.Name(),
		"callId", callId,
		"to", to,
		"token", token,
	)
	c.JSON(http.StatusOK, startCallResponse{
		CallId:     callId,
		Token:      token,
		PromptUsed: prompt,
		To:         to,
	})
}

type hangupRequest struct {
	Token string `json:"token"`
}

// HangupCall ends an active call: the provider leg is hung up and the media
// bridge is cancelled. Without a token it targets the only active call, which
// keeps the single-call curl workflow working.
//
// @Router /call/hangup [post]
// @Summary Hang up an active call
// @Produce json
// @Success 200 {object} gin.H
// @Failure 409 {object} gin.H
func (cApi *callApi) HangupCall(c *gin.Context) {
	var payload hangupRequest
	// The body is optional; an empty or absent body targets the single
	// active call.
	_ = c.ShouldBindJSON(&payload)

	var (
		ac *internal_gateway.ActiveCall
		ok bool
	)
	if payload.Token != "" {
		ac, ok = cApi.hub.Resolve(payload.Token)
	} else {
		ac, ok = cApi.hub.Single()
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "No active call"})
		return
	}

	cApi.hub.EndCall(ac, internal_callstate.EndReasonHangup)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"call_id": ac.ProviderCallID,
		"ended":   true,
	})
}

// providerEvent is one entry of a provider webhook batch. Field names follow
// the ACS CloudEvents envelope; the id and type live either at the root or
// under data depending on the event generation.
type providerEvent struct {
	Type             string            `json:"type"`
	EventType        string            `json:"eventType"`
	PublicEventType  string            `json:"publicEventType"`
	CallConnectionId string            `json:"callConnectionId"`
	Data             providerEventData `json:"data"`
}

type providerEventData struct {
	CallConnectionId  string            `json:"callConnectionId"`
	OperationContext  string            `json:"operationContext"`
	ResultInformation resultInformation `json:"resultInformation"`
}

type resultInformation struct {
	Code    int    `json:"code"`
	SubCode int    `json:"subCode"`
	Message string `json:"message"`
}

func (ev providerEvent) eventType() string {
	if ev.Type != "" {
		return ev.Type
	}
	if ev.EventType != "" {
		return ev.EventType
	}
	return ev.PublicEventType
}

func (ev providerEvent) callId() string {
	if ev.CallConnectionId != "" {
		return ev.CallConnectionId
	}
	return ev.Data.CallConnectionId
}

// Events ingests provider lifecycle webhooks. ACS posts CloudEvents batches;
// a single object body is accepted too. CallConnected is bookkeeping only
// (media streaming is requested at call creation); CallDisconnected and
// CallEnded tear the bridge down.
//
// @Router /call/events [post]
// @Summary Provider lifecycle webhook
// @Produce json
// @Success 200 {object} gin.H
// @Failure 400 {object} gin.H
func (cApi *callApi) Events(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	events, err := decodeEventBatch(raw)
	if err != nil {
		cApi.logger.Warnf("failed to parse provider event payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload for call events"})
		return
	}

	ended := make([]string, 0)
	for _, ev := range events {
		et := ev.eventType()
		callId := ev.callId()
		cApi.logger.Infow("provider event", "type", et, "callId", callId)

		if et == "" || callId == "" {
			continue
		}
		if strings.HasSuffix(et, "CreateCallFailed") || strings.HasSuffix(et, "CallDisconnected") {
			ri := ev.Data.ResultInformation
			cApi.logger.Warnf("provider event detail: type=%s code=%d subCode=%d message=%s",
				et, ri.Code, ri.SubCode, ri.Message)
		}

		ac, live := cApi.hub.ResolveByProviderCallID(callId)
		if live {
			ac.State.Touch()
		}

		switch {
		case strings.HasSuffix(et, "CallConnected"):
			// Media streaming was requested at call creation; nothing to
			// start here. The media websocket arrives on its own.
			cApi.logger.Infow("call connected", "callId", callId)

		case strings.HasSuffix(et, "CallDisconnected") || strings.HasSuffix(et, "CallEnded"):
			ended = append(ended, et)
			if live {
				// The provider leg is already gone; only the bridge needs
				// to come down.
				ac.Shutdown(internal_callstate.EndReasonDisconnect)
			} else if opCtx := ev.Data.OperationContext; opCtx != "" {
				_ = cApi.store.Complete(c.Request.Context(), opCtx)
			}

		case strings.HasSuffix(et, "CreateCallFailed"):
			if opCtx := ev.Data.OperationContext; opCtx != "" {
				_ = cApi.store.Fail(c.Request.Context(), opCtx)
			}
		}

		if strings.Contains(et, "MediaStreamingFailed") {
			cApi.logger.Errorw("provider media streaming failed", "callId", callId, "type", et)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"processed": len(events),
		"ended":     ended,
	})
}

// decodeEventBatch accepts either a CloudEvents array or a single event
// object.
func decodeEventBatch(raw []byte) ([]providerEvent, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var events []providerEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var single providerEvent
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []providerEvent{single}, nil
}

// Status reports live call telemetry. With a single active call the response
// is that call's snapshot; with several, snapshots are keyed by token. A
// specific call can be requested with ?token=.
//
// @Router /status [get]
// @Summary Gateway call telemetry
// @Produce json
// @Success 200 {object} gin.H
// @Failure 404 {object} gin.H
func (cApi *callApi) Status(c *gin.Context) {
	if token := c.Query("token"); token != "" {
		ac, ok := cApi.hub.Resolve(token)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active call for token"})
			return
		}
		c.JSON(http.StatusOK, ac.State.Snapshot())
		return
	}

	if ac, ok := cApi.hub.Single(); ok {
		c.JSON(http.StatusOK, ac.State.Snapshot())
		return
	}

	calls := make(map[string]internal_callstate.Snapshot)
	for _, ac := range cApi.hub.All() {
		calls[ac.Token] = ac.State.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{
		"active_calls": len(calls),
		"calls":        calls,
	})
}
