// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package speech_internal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRateOf_RecognizedKeys(t *testing.T) {
	cases := map[string]int{
		`{"sample_rate": 24000}`:        24000,
		`{"sample_rate_hertz": 16000}`:  16000,
		`{"samples_per_second": 48000}`: 48000,
		`{"sample_rate_hz": 22050}`:     22050,
		`{"sampleRate": 8000}`:          8000,
	}
	for raw, want := range cases {
		assert.Equal(t, want, SampleRateOf(json.RawMessage(raw), 24000), raw)
	}
}

func TestSampleRateOf_FallsBack(t *testing.T) {
	assert.Equal(t, 24000, SampleRateOf(nil, 24000))
	assert.Equal(t, 24000, SampleRateOf(json.RawMessage(`"pcm16"`), 24000))
	assert.Equal(t, 24000, SampleRateOf(json.RawMessage(`{}`), 24000))
	assert.Equal(t, 24000, SampleRateOf(json.RawMessage(`{"sample_rate": 0}`), 24000))
	assert.Equal(t, 24000, SampleRateOf(json.RawMessage(`{"sample_rate": "fast"}`), 24000))
	assert.Equal(t, 16000, SampleRateOf(json.RawMessage(`not-json`), 16000))
}

func TestVoicePayload_PlatformVoiceBecomesSelector(t *testing.T) {
	payload := VoicePayload("en-US-AvaNeural")
	selector, ok := payload.(VoiceSelector)
	require.True(t, ok)
	assert.Equal(t, "en-US-AvaNeural", selector.Name)
	assert.Equal(t, VoiceTypeStandard, selector.Type)

	// Case-insensitive suffix match.
	_, ok = VoicePayload("en-gb-sonianeural").(VoiceSelector)
	assert.True(t, ok)
}

func TestVoicePayload_PlainNameStaysString(t *testing.T) {
	assert.Equal(t, "alloy", VoicePayload("alloy"))
	// A neural-sounding name without a locale prefix is not a platform
	// voice.
	assert.Equal(t, "Neural", VoicePayload("Neural"))
}

func TestClientEventRoundtrip(t *testing.T) {
	event := ClientEvent{
		Type: EventSessionUpdate,
		Session: &SessionConfig{
			Modalities:        []string{ModalityText, ModalityAudio},
			Voice:             VoicePayload("en-US-AvaNeural"),
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
			TurnDetection: &TurnDetection{
				Type:              TurnDetectionServerVad,
				Threshold:         ServerVadThreshold,
				PrefixPaddingMs:   ServerVadPrefixMs,
				SilenceDurationMs: ServerVadSilenceMs,
			},
		},
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"session.update"`)
	assert.Contains(t, string(raw), `"azure-standard"`)
	assert.Contains(t, string(raw), `"turn_detection"`)
	// Empty audio must stay off the wire.
	assert.NotContains(t, string(raw), `"audio":`)
}
