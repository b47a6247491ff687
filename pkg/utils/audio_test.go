package utils

import (
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		input    []int16
		expected float64
	}{
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"constant amplitude", []int16{1000, 1000, 1000, 1000}, 1000},
		{"alternating sign", []int16{2000, -2000, 2000, -2000}, 2000},
		{"empty", []int16{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(SamplesToPCM16(tt.input))
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestRMS_OddTrailingByteIgnored(t *testing.T) {
	buf := append(SamplesToPCM16([]int16{500, 500}), 0x7f)
	if got := RMS(buf); math.Abs(got-500) > 0.001 {
		t.Errorf("expected 500, got %f", got)
	}
}

func TestPCM16BytesFor(t *testing.T) {
	tests := []struct {
		name     string
		ms       int
		rate     int
		expected int
	}{
		{"20ms at 16kHz", 20, 16000, 640},
		{"20ms at 24kHz", 20, 24000, 960},
		{"100ms at 16kHz", 100, 16000, 3200},
		{"zero duration", 0, 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PCM16BytesFor(tt.ms, tt.rate); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestPCM16DurationMs(t *testing.T) {
	tests := []struct {
		name     string
		byteLen  int
		rate     int
		expected float64
	}{
		{"one frame at 16kHz", 640, 16000, 20},
		{"one frame at 24kHz", 960, 24000, 20},
		{"one second", 32000, 16000, 1000},
		{"zero rate", 640, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PCM16DurationMs(tt.byteLen, tt.rate); math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	out := PCM16ToSamples(SamplesToPCM16(in))
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}
