// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

type twl struct {
	logger commons.Logger
	cfg    config.TwilioProviderConfig
	client *twilio.RestClient
}

// NewTwilio validates the account credentials and returns the REST client.
func NewTwilio(logger commons.Logger, cfg config.TwilioProviderConfig) (twl, error) {
	if cfg.AccountSid == "" {
		return twl{}, fmt.Errorf("illegal twilio config: account_sid is not found")
	}
	if cfg.AccountToken == "" {
		return twl{}, fmt.Errorf("illegal twilio config: account_token is not found")
	}
	if cfg.FromNumber == "" {
		return twl{}, fmt.Errorf("illegal twilio config: from_number is not found")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSid,
		Password: cfg.AccountToken,
	})

	return twl{
		logger: logger,
		cfg:    cfg,
		client: client,
	}, nil
}

func (tpc twl) Name() string { return "twilio" }

// streamTwiml renders the connect/stream verbs pointing the call's media at
// the gateway websocket.
func streamTwiml(mediaURL string) string {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(mediaURL))
	return fmt.Sprintf(`<Response><Connect><Stream url="%s"/></Connect></Response>`, escaped.String())
}

// PlaceCall dials out and bridges the answered call onto the media
// websocket via TwiML.
func (tpc twl) PlaceCall(ctx context.Context, req internal_telephony.PlaceCallRequest) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(tpc.cfg.FromNumber)
	params.SetTwiml(streamTwiml(req.MediaURL))
	if req.CallbackURL != "" {
		params.SetStatusCallback(req.CallbackURL)
		params.SetStatusCallbackEvent([]string{"answered", "completed"})
	}

	call, err := tpc.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio create call failed: %w", err)
	}
	if call.Sid == nil || *call.Sid == "" {
		return "", fmt.Errorf("twilio create call response missing sid")
	}

	tpc.logger.Infow("placed outbound call", "provider", tpc.Name(), "callSid", *call.Sid, "to", req.To)
	return *call.Sid, nil
}

// Hangup completes the live call.
func (tpc twl) Hangup(ctx context.Context, providerCallID string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")

	if _, err := tpc.client.Api.UpdateCall(providerCallID, params); err != nil {
		return fmt.Errorf("twilio hangup failed: %w", err)
	}

	tpc.logger.Infow("completed call", "provider", tpc.Name(), "callSid", providerCallID)
	return nil
}
