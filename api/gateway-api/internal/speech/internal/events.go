// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package speech_internal

import (
	"encoding/json"
	"strings"
)

// ============================================================================
// Wire envelopes
// ============================================================================

// ClientEvent is the envelope for events sent to the service.
type ClientEvent struct {
	Type    string         `json:"type"`
	Session *SessionConfig `json:"session,omitempty"`
	// Audio carries base64 PCM16 for input_audio_buffer.append.
	Audio string `json:"audio,omitempty"`
}

// ServerEvent is the envelope for events received from the service. Only
// the fields the bridge consumes are decoded; everything else stays raw.
type ServerEvent struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
	// Delta carries base64 PCM16 for response.audio.delta.
	Delta string       `json:"delta,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the error payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	// Voice is either a plain name or a VoiceSelector.
	Voice             interface{}    `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
}

// VoiceSelector is the structured voice form used for platform voices.
type VoiceSelector struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// VoicePayload returns the wire value for a voice name: structured for
// locale-prefixed neural names, the bare string otherwise.
func VoicePayload(name string) interface{} {
	if strings.Contains(name, "-") && strings.HasSuffix(strings.ToLower(name), "neural") {
		return VoiceSelector{Name: name, Type: VoiceTypeStandard}
	}
	return name
}

// TurnDetection configures the service-side VAD.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionSettings decodes the negotiated fields of session.created and
// session.updated. Audio formats stay raw because the service emits them
// either as a bare string ("pcm16") or as an object carrying a rate.
type SessionSettings struct {
	ID                string          `json:"id,omitempty"`
	Model             string          `json:"model,omitempty"`
	InputAudioFormat  json.RawMessage `json:"input_audio_format,omitempty"`
	OutputAudioFormat json.RawMessage `json:"output_audio_format,omitempty"`
}

// sampleRateKeys lists every spelling a format object has been seen to use.
var sampleRateKeys = []string{"sample_rate", "sample_rate_hertz", "samples_per_second", "sample_rate_hz", "sampleRate"}

// SampleRateOf extracts a sample rate from a format payload. A bare format
// string, an absent payload, or an object without a recognized rate key all
// yield the fallback.
func SampleRateOf(raw json.RawMessage, fallback int) int {
	if len(raw) == 0 {
		return fallback
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fallback
	}
	for _, key := range sampleRateKeys {
		if v, ok := obj[key]; ok {
			if rate, ok := v.(float64); ok && rate > 0 {
				return int(rate)
			}
		}
	}
	return fallback
}
