// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_telephony

import (
	"context"
	"fmt"
)

// PlaceCallRequest describes one outbound call: who to dial and where the
// provider should attach its media and event legs.
type PlaceCallRequest struct {
	// To is the destination number in E.164 format.
	To string
	// MediaURL is the public websocket URL the provider streams call audio
	// to, with the context token in the path.
	MediaURL string
	// CallbackURL receives the provider's call lifecycle events.
	CallbackURL string
	// Token is the call context id, echoed back by the provider as its
	// operation context so events can be correlated.
	Token string
}

// Provider places and ends calls on one telephony backend. Implementations
// return the provider-specific call identifier (call connection id, CallSid,
// call UUID) that later operations reference.
type Provider interface {
	Name() string
	PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error)
	Hangup(ctx context.Context, providerCallID string) error
}

// Disabled is the provider used when no telephony backend is configured.
// Placing calls fails loudly; hangups are a no-op so teardown paths stay
// quiet on media-only deployments.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) PlaceCall(context.Context, PlaceCallRequest) (string, error) {
	return "", fmt.Errorf("no telephony provider configured")
}

func (Disabled) Hangup(context.Context, string) error { return nil }
