// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package media_internal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicegateway/config"
)

// ============================================================================
// Frame codec
// ============================================================================

// envelope covers every JSON shape providers put on the media socket. The
// canonical form nests the payload under audioData; the alternate form
// carries it flat.
type envelope struct {
	Kind      string         `json:"kind"`
	AudioData *audioDataBody `json:"audioData,omitempty"`
	Data      string         `json:"data,omitempty"`
}

type audioDataBody struct {
	Data string `json:"data"`
}

// Decoded classifies one inbound websocket message.
type Decoded struct {
	// Metadata marks the provider's stream-start signal; it carries no
	// audio.
	Metadata bool
	// PCM holds the decoded audio bytes of an audio message.
	PCM []byte
}

// DecodeInbound parses one telephony websocket message. Binary messages
// are raw PCM; text messages must match a recognized JSON shape. A decode
// error means the message is dropped, never that the socket fails.
func DecodeInbound(messageType int, payload []byte) (Decoded, error) {
	switch messageType {
	case websocket.BinaryMessage:
		return Decoded{PCM: payload}, nil
	case websocket.TextMessage:
		var message envelope
		if err := json.Unmarshal(payload, &message); err != nil {
			return Decoded{}, fmt.Errorf("malformed media message: %w", err)
		}
		switch message.Kind {
		case KindAudioMetadata:
			return Decoded{Metadata: true}, nil
		case KindAudioData, KindAudioChunk:
			encoded := message.Data
			if message.AudioData != nil && message.AudioData.Data != "" {
				encoded = message.AudioData.Data
			}
			if encoded == "" {
				return Decoded{}, fmt.Errorf("audio message without data")
			}
			pcm, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return Decoded{}, fmt.Errorf("undecodable audio payload: %w", err)
			}
			return Decoded{PCM: pcm}, nil
		default:
			return Decoded{}, fmt.Errorf("unknown media kind %q", message.Kind)
		}
	default:
		// Control frames are handled by the websocket layer.
		return Decoded{}, nil
	}
}

// EncodeOutbound renders one PCM frame in the configured wire format.
func EncodeOutbound(format string, frame []byte) (int, []byte, error) {
	if format == config.MediaOutFormatBinary {
		return websocket.BinaryMessage, frame, nil
	}
	payload, err := json.Marshal(envelope{
		Kind:      KindAudioData,
		AudioData: &audioDataBody{Data: base64.StdEncoding.EncodeToString(frame)},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode media frame: %w", err)
	}
	return websocket.TextMessage, payload, nil
}

// SliceFrames splits pcm into whole frameBytes frames. The provider
// guarantees frame alignment, so a trailing remainder is discarded.
func SliceFrames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(pcm) < frameBytes {
		return nil
	}
	frames := make([][]byte, 0, len(pcm)/frameBytes)
	for offset := 0; offset+frameBytes <= len(pcm); offset += frameBytes {
		frames = append(frames, pcm[offset:offset+frameBytes])
	}
	return frames
}
