// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package speech_internal

import "time"

// ============================================================================
// Realtime protocol constants
// ============================================================================

// Event types sent to the service.
const (
	EventSessionUpdate  = "session.update"
	EventInputAppend    = "input_audio_buffer.append"
	EventInputCommit    = "input_audio_buffer.commit"
	EventResponseCreate = "response.create"
)

// Event types received from the service. Anything outside this set is
// logged at debug and dropped.
const (
	EventSessionCreated     = "session.created"
	EventSessionUpdated     = "session.updated"
	EventInputCommitted     = "input_audio_buffer.committed"
	EventSpeechStarted      = "input_audio_buffer.speech_started"
	EventSpeechStopped      = "input_audio_buffer.speech_stopped"
	EventResponseAudioDelta = "response.audio.delta"
	EventResponseAudioDone  = "response.audio.done"
	EventResponseDone       = "response.done"
	EventError              = "error"
)

// Error codes with dedicated handling.
const (
	// ErrCodeCommitEmpty means the committed buffer was below the service
	// minimum; the commit controller widens its threshold in response.
	ErrCodeCommitEmpty = "input_audio_buffer_commit_empty"
	// ErrCodeActiveResponse means response.create raced an in-flight
	// response; auto-response is suppressed until the current one is done.
	ErrCodeActiveResponse = "conversation_already_has_active_response"
)

// Session negotiation.
const (
	// DefaultServiceRate is assumed for both directions until
	// session.updated reports otherwise.
	DefaultServiceRate = 24000

	AudioFormatPCM16 = "pcm16"

	ModalityText  = "text"
	ModalityAudio = "audio"

	// VoiceTypeStandard marks locale-prefixed neural voice names in the
	// structured voice selector.
	VoiceTypeStandard = "azure-standard"

	TurnDetectionServerVad = "server_vad"
	ServerVadThreshold     = 0.35
	ServerVadPrefixMs      = 100
	ServerVadSilenceMs     = 250
)

// Transport tuning.
const (
	RealtimePath    = "/voice-live/realtime"
	QueryApiVersion = "api-version"
	QueryModel      = "model"
	HeaderApiKey    = "api-key"

	HandshakeTimeout = 30 * time.Second
	ReadLimitBytes   = 10 * 1024 * 1024

	// OutboundRingFrames bounds the paced agent-audio queue; ~1.3 s at one
	// frame per 20 ms.
	OutboundRingFrames = 64

	// AckCheckInterval is how often the watchdog looks for an overdue
	// commit ack.
	AckCheckInterval = 100 * time.Millisecond
)
