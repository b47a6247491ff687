// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_gateway

import (
	"context"
	"sync"
	"time"

	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

// ============================================================================
// Active call hub — registry and lifetime enforcement
// ============================================================================

const (
	sweepInterval = 5 * time.Second
	hangupTimeout = 10 * time.Second
)

// ActiveCall is one live media leg. The media handler registers it with a
// cancel that tears its websocket loops down, and reads the recorded end
// reason back during teardown.
type ActiveCall struct {
	Token          string
	Provider       string
	ProviderCallID string
	State          *internal_callstate.State
	StartedAt      time.Time

	mu        sync.Mutex
	endReason string
	cancel    context.CancelFunc
}

// Shutdown records the first end reason and cancels the media leg. Later
// calls keep the original reason.
func (ac *ActiveCall) Shutdown(reason string) {
	ac.mu.Lock()
	if ac.endReason == "" {
		ac.endReason = reason
	}
	cancel := ac.cancel
	ac.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// EndReason returns the recorded end reason, or fallback when the call
// ended without one (normal provider disconnect).
func (ac *ActiveCall) EndReason(fallback string) string {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.endReason == "" {
		return fallback
	}
	return ac.endReason
}

// Hub tracks live calls by context token and enforces wall-clock and idle
// limits against them, hanging up through the telephony provider when a
// limit fires.
type Hub struct {
	logger   commons.Logger
	cfg      *config.AppConfig
	provider internal_telephony.Provider

	mu    sync.RWMutex
	calls map[string]*ActiveCall
}

func NewHub(logger commons.Logger, cfg *config.AppConfig, provider internal_telephony.Provider) *Hub {
	return &Hub{
		logger:   logger,
		cfg:      cfg,
		provider: provider,
		calls:    make(map[string]*ActiveCall),
	}
}

// Register adds a live call under its context token. The cancel tears down
// the media leg when the hub or a handler ends the call.
func (h *Hub) Register(token, provider, providerCallID string, state *internal_callstate.State, cancel context.CancelFunc) *ActiveCall {
	ac := &ActiveCall{
		Token:          token,
		Provider:       provider,
		ProviderCallID: providerCallID,
		State:          state,
		StartedAt:      time.Now(),
		cancel:         cancel,
	}

	h.mu.Lock()
	h.calls[token] = ac
	h.mu.Unlock()

	h.logger.Infow("call registered", "token", token, "provider", provider, "active", h.Len())
	return ac
}

// Resolve finds a live call by context token.
func (h *Hub) Resolve(token string) (*ActiveCall, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ac, ok := h.calls[token]
	return ac, ok
}

// ResolveByProviderCallID finds a live call by the provider's call
// identifier, the correlation key on event webhooks.
func (h *Hub) ResolveByProviderCallID(providerCallID string) (*ActiveCall, bool) {
	if providerCallID == "" {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ac := range h.calls {
		if ac.ProviderCallID == providerCallID {
			return ac, true
		}
	}
	return nil, false
}

// Single returns the only live call, if exactly one exists. Lets hangup
// requests omit the token the way single-call deployments expect.
func (h *Hub) Single() (*ActiveCall, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.calls) != 1 {
		return nil, false
	}
	for _, ac := range h.calls {
		return ac, true
	}
	return nil, false
}

// Remove drops a call from the registry. Called by the media handler once
// teardown bookkeeping is done.
func (h *Hub) Remove(token string) {
	h.mu.Lock()
	delete(h.calls, token)
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.calls)
}

// All returns every registered call. The slice is a copy; the calls are not.
func (h *Hub) All() []*ActiveCall {
	h.mu.RLock()
	defer h.mu.RUnlock()
	calls := make([]*ActiveCall, 0, len(h.calls))
	for _, ac := range h.calls {
		calls = append(calls, ac)
	}
	return calls
}

// EndCall hangs up the provider leg and shuts the media leg down with the
// given reason. Hangup failures are logged, not fatal: the media teardown
// must proceed regardless.
func (h *Hub) EndCall(ac *ActiveCall, reason string) {
	if ac.ProviderCallID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer cancel()
		if err := h.provider.Hangup(ctx, ac.ProviderCallID); err != nil {
			h.logger.Warnf("provider hangup failed for call %s: %v", ac.ProviderCallID, err)
		}
	}
	ac.Shutdown(reason)
}

// EndAll ends every registered call with the given reason. Used on server
// shutdown so in-flight calls get a provider hangup instead of a dead socket.
func (h *Hub) EndAll(reason string) {
	for _, ac := range h.All() {
		h.EndCall(ac, reason)
	}
}

// Run enforces call limits until the context ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

// sweep ends every call past its wall-clock or idle limit.
func (h *Hub) sweep(now time.Time) {
	callTimeout := time.Duration(h.cfg.CallTimeoutSec) * time.Second
	idleTimeout := time.Duration(h.cfg.CallIdleTimeoutSec) * time.Second

	h.mu.RLock()
	calls := make([]*ActiveCall, 0, len(h.calls))
	for _, ac := range h.calls {
		calls = append(calls, ac)
	}
	h.mu.RUnlock()

	for _, ac := range calls {
		if elapsed := now.Sub(ac.StartedAt); elapsed > callTimeout {
			h.logger.Infow("call timeout reached",
				"token", ac.Token,
				"elapsedSec", elapsed.Seconds(),
				"limitSec", h.cfg.CallTimeoutSec)
			h.EndCall(ac, internal_callstate.EndReasonTimeout)
			continue
		}
		if idle := now.Sub(ac.State.LastEventAt()); idle > idleTimeout {
			h.logger.Infow("call idle timeout reached",
				"token", ac.Token,
				"idleSec", idle.Seconds(),
				"limitSec", h.cfg.CallIdleTimeoutSec)
			h.EndCall(ac, internal_callstate.EndReasonIdleTimeout)
		}
	}
}
