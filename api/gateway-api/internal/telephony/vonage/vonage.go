// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_vonage_telephony

import (
	"context"
	"fmt"

	vng "github.com/vonage/vonage-go-sdk"
	"github.com/vonage/vonage-go-sdk/ncco"

	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

// wsContentType is the PCM framing the media leg expects on the websocket.
const wsContentType = "audio/l16;rate=16000"

type vg struct {
	logger commons.Logger
	cfg    config.VonageProviderConfig
	client *vng.VoiceClient
}

// NewVonage builds application auth from the configured private key and
// returns the voice client.
func NewVonage(logger commons.Logger, cfg config.VonageProviderConfig) (vg, error) {
	if cfg.ApplicationId == "" {
		return vg{}, fmt.Errorf("illegal vonage config: application_id is not found")
	}
	if cfg.PrivateKey == "" {
		return vg{}, fmt.Errorf("illegal vonage config: private_key is not found")
	}
	if cfg.FromNumber == "" {
		return vg{}, fmt.Errorf("illegal vonage config: from_number is not found")
	}

	clientAuth, err := vng.CreateAuthFromAppPrivateKey(cfg.ApplicationId, []byte(cfg.PrivateKey))
	if err != nil {
		return vg{}, fmt.Errorf("illegal vonage config: %w", err)
	}

	return vg{
		logger: logger,
		cfg:    cfg,
		client: vng.NewVoiceClient(clientAuth),
	}, nil
}

func (vt vg) Name() string { return "vonage" }

// PlaceCall dials out with an NCCO that connects the answered call to the
// media websocket. The context token rides in the websocket path, so no
// custom headers are needed.
func (vt vg) PlaceCall(ctx context.Context, req internal_telephony.PlaceCallRequest) (string, error) {
	socket := ncco.WebsocketEndpoint{
		Uri:         req.MediaURL,
		ContentType: wsContentType,
	}
	connect := ncco.ConnectAction{
		Endpoint: []ncco.Endpoint{socket},
		From:     vt.cfg.FromNumber,
	}
	callNcco := ncco.Ncco{}
	callNcco.AddAction(connect)

	opts := vng.CreateCallOpts{
		From: vng.CallFrom{Type: "phone", Number: vt.cfg.FromNumber},
		To:   vng.CallTo{Type: "phone", Number: req.To},
		Ncco: callNcco,
	}
	if req.CallbackURL != "" {
		opts.EventUrl = []string{req.CallbackURL}
	}

	response, _, err := vt.client.CreateCall(opts)
	if err != nil {
		return "", fmt.Errorf("vonage create call failed: %w", err)
	}
	if response.Uuid == "" {
		return "", fmt.Errorf("vonage create call rejected")
	}

	vt.logger.Infow("placed outbound call", "provider", vt.Name(), "uuid", response.Uuid, "to", req.To)
	return response.Uuid, nil
}

// Hangup ends the live call leg.
func (vt vg) Hangup(ctx context.Context, providerCallID string) error {
	if _, _, err := vt.client.Hangup(providerCallID); err != nil {
		return fmt.Errorf("vonage hangup failed: %w", err)
	}

	vt.logger.Infow("hung up call", "provider", vt.Name(), "uuid", providerCallID)
	return nil
}
