// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package media_internal

import "time"

// ============================================================================
// Telephony media wire constants
// ============================================================================

// Message kinds accepted on the telephony websocket.
const (
	KindAudioMetadata = "AudioMetadata"
	KindAudioData     = "AudioData"
	KindAudioChunk    = "AudioChunk"
)

// AckMessage is sent exactly once after the upgrade; providers hold audio
// until they see it.
var AckMessage = []byte(`{"type":"ack"}`)

const (
	// PopTimeout bounds the outbound queue wait inside one pacing tick; it
	// must stay below the frame interval.
	PopTimeout = 15 * time.Millisecond

	// HeartbeatTicks is the pacing-tick period of the frames/dropped/backlog
	// summary log (250 ticks at 20 ms is one line every 5 s).
	HeartbeatTicks = 250

	ReadBufferSize  = 4096
	WriteBufferSize = 4096
)
