// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
)

// --- Helpers ---

type fakeProvider struct {
	mu      sync.Mutex
	hungUp  []string
	fail    error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) PlaceCall(context.Context, internal_telephony.PlaceCallRequest) (string, error) {
	return "fake-call", nil
}

func (p *fakeProvider) Hangup(_ context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hungUp = append(p.hungUp, providerCallID)
	return p.fail
}

func (p *fakeProvider) hangups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.hungUp))
	copy(out, p.hungUp)
	return out
}

func hubTestConfig() *config.AppConfig {
	return &config.AppConfig{
		CallTimeoutSec:     90,
		CallIdleTimeoutSec: 90,
	}
}

type cancelCounter struct {
	mu    sync.Mutex
	count int
}

func (c *cancelCounter) cancel() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *cancelCounter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// --- Tests ---

func TestHub_RegisterResolveRemove(t *testing.T) {
	hub := NewHub(commons.NewNopLogger(), hubTestConfig(), &fakeProvider{})
	state := internal_callstate.NewState()

	ac := hub.Register("tok-1", "acs", "cc-1", state, func() {})
	require.NotNil(t, ac)
	assert.Equal(t, 1, hub.Len())

	got, ok := hub.Resolve("tok-1")
	require.True(t, ok)
	assert.Same(t, ac, got)

	_, ok = hub.Resolve("tok-unknown")
	assert.False(t, ok)

	hub.Remove("tok-1")
	assert.Zero(t, hub.Len())
	_, ok = hub.Resolve("tok-1")
	assert.False(t, ok)
}

func TestHub_ResolveByProviderCallID(t *testing.T) {
	hub := NewHub(commons.NewNopLogger(), hubTestConfig(), &fakeProvider{})
	ac := hub.Register("tok-1", "acs", "cc-1", internal_callstate.NewState(), func() {})

	got, ok := hub.ResolveByProviderCallID("cc-1")
	require.True(t, ok)
	assert.Same(t, ac, got)

	_, ok = hub.ResolveByProviderCallID("cc-other")
	assert.False(t, ok)

	_, ok = hub.ResolveByProviderCallID("")
	assert.False(t, ok)
}

func TestHub_SingleOnlyWithOneCall(t *testing.T) {
	hub := NewHub(commons.NewNopLogger(), hubTestConfig(), &fakeProvider{})

	_, ok := hub.Single()
	assert.False(t, ok)

	first := hub.Register("tok-1", "acs", "cc-1", internal_callstate.NewState(), func() {})
	got, ok := hub.Single()
	require.True(t, ok)
	assert.Same(t, first, got)

	hub.Register("tok-2", "acs", "cc-2", internal_callstate.NewState(), func() {})
	_, ok = hub.Single()
	assert.False(t, ok)
}

func TestActiveCall_FirstShutdownReasonWins(t *testing.T) {
	counter := &cancelCounter{}
	hub := NewHub(commons.NewNopLogger(), hubTestConfig(), &fakeProvider{})
	ac := hub.Register("tok-1", "acs", "cc-1", internal_callstate.NewState(), counter.cancel)

	assert.Equal(t, internal_callstate.EndReasonNormal, ac.EndReason(internal_callstate.EndReasonNormal))

	ac.Shutdown(internal_callstate.EndReasonHangup)
	ac.Shutdown(internal_callstate.EndReasonTimeout)

	assert.Equal(t, internal_callstate.EndReasonHangup, ac.EndReason(internal_callstate.EndReasonNormal))
	assert.Equal(t, 2, counter.calls())
}

func TestHub_SweepEndsExpiredCall(t *testing.T) {
	provider := &fakeProvider{}
	hub := NewHub(commons.NewNopLogger(), hubTestConfig(), provider)

	counter := &cancelCounter{}
	ac := hub.Register("tok-1", "acs", "cc-1", internal_callstate.NewState(), counter.cancel)

	// Just under the limit: untouched.
	hub.sweep(time.Now().Add(89 * time.Second))
	assert.Empty(t, provider.hangups())
	assert.Zero(t, counter.calls())

	// Past the wall-clock limit: provider hangup plus media cancel.
	hub.sweep(time.Now().Add(91 * time.Second))
	assert.Equal(t, []string{"cc-1"}, provider.hangups())
	assert.Equal(t, 1, counter.calls())
	assert.Equal(t, internal_callstate.EndReasonTimeout, ac.EndReason(""))
}

func TestHub_SweepEndsIdleCall(t *testing.T) {
	provider := &fakeProvider{}
	cfg := hubTestConfig()
	cfg.CallTimeoutSec = 3600

	hub := NewHub(commons.NewNopLogger(), cfg, provider)
	counter := &cancelCounter{}
	ac := hub.Register("tok-1", "acs", "cc-1", internal_callstate.NewState(), counter.cancel)

	hub.sweep(time.Now().Add(91 * time.Second))
	assert.Equal(t, []string{"cc-1"}, provider.hangups())
	assert.Equal(t, 1, counter.calls())
	assert.Equal(t, internal_callstate.EndReasonIdleTimeout, ac.EndReason(""))
}

func TestHub_SweepSkipsCallWithoutProviderID(t *testing.T) {
	provider := &fakeProvider{}
	hub := NewHub(commons.NewNopLogger(), hubTestConfig(), provider)
	counter := &cancelCounter{}
	hub.Register("tok-1", "acs", "", internal_callstate.NewState(), counter.cancel)

	hub.sweep(time.Now().Add(91 * time.Second))

	// No provider leg to hang up, but the media leg still ends.
	assert.Empty(t, provider.hangups())
	assert.Equal(t, 1, counter.calls())
}
