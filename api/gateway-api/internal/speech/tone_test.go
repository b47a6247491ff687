// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_speech

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/utils"
)

func toneTestConfig() *config.AppConfig {
	return &config.AppConfig{
		MediaMockTone:   true,
		FrameBytes:      640,
		FrameIntervalMs: 20,
		MediaSampleRate: 16000,
	}
}

func TestConnect_MockToneNeedsNoService(t *testing.T) {
	state := internal_callstate.NewState()
	sess, err := Connect(context.Background(), toneTestConfig(), commons.NewNopLogger(), state, CallProfile{})
	require.NoError(t, err)
	defer sess.Close()

	assert.True(t, sess.Active())
	require.NotNil(t, state.Snapshot().Session)
	assert.Equal(t, "mock-tone", state.Snapshot().Session.Model)
}

func TestToneSession_FramesAreContinuousSine(t *testing.T) {
	sess, err := Connect(context.Background(), toneTestConfig(), commons.NewNopLogger(), internal_callstate.NewState(), CallProfile{})
	require.NoError(t, err)
	defer sess.Close()

	first := sess.NextOutboundFrame(0)
	second := sess.NextOutboundFrame(0)
	require.Len(t, first, 640)
	require.Len(t, second, 640)

	// A 440 Hz sine at amplitude 6000 has RMS near 6000/sqrt(2).
	assert.InDelta(t, 4243, utils.RMS(first), 120)
	assert.InDelta(t, 4243, utils.RMS(second), 120)

	// The phase carries across frames: the jump between the last sample of
	// one frame and the first of the next stays within one sine step.
	a := utils.PCM16ToSamples(first)
	b := utils.PCM16ToSamples(second)
	jump := int(b[0]) - int(a[len(a)-1])
	if jump < 0 {
		jump = -jump
	}
	assert.Less(t, jump, 1100)
}

func TestToneSession_InputFramesAreDropped(t *testing.T) {
	sess, err := Connect(context.Background(), toneTestConfig(), commons.NewNopLogger(), internal_callstate.NewState(), CallProfile{})
	require.NoError(t, err)
	defer sess.Close()

	assert.NoError(t, sess.SendInputFrame(make([]byte, 640)))
}

func TestToneSession_CloseStopsFrames(t *testing.T) {
	state := internal_callstate.NewState()
	sess, err := Connect(context.Background(), toneTestConfig(), commons.NewNopLogger(), state, CallProfile{})
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	assert.False(t, sess.Active())
	assert.Nil(t, sess.NextOutboundFrame(10*time.Millisecond))
	assert.False(t, state.Snapshot().Session.Active)

	// Closing twice stays quiet.
	assert.NoError(t, sess.Close())
}
