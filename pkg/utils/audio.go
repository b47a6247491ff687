// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square amplitude of a signed little-endian
// 16-bit PCM buffer. An odd trailing byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// PCM16BytesFor returns the byte length of a PCM16 mono buffer spanning the
// given duration at the given sample rate.
func PCM16BytesFor(ms, sampleRate int) int {
	return ms * sampleRate * 2 / 1000
}

// PCM16DurationMs returns the playback duration of a PCM16 mono buffer.
func PCM16DurationMs(byteLen, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(byteLen) / 2.0 / float64(sampleRate) * 1000.0
}

// SamplesToPCM16 encodes int16 samples as little-endian bytes.
func SamplesToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToSamples decodes little-endian bytes into int16 samples. An odd
// trailing byte is ignored.
func PCM16ToSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
