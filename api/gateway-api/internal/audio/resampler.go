// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"fmt"

	"github.com/rapidaai/voicegateway/pkg/utils"
)

// ============================================================================
// Resampler — stateful linear-interpolation PCM16 rate conversion
// ============================================================================

// Resampler converts PCM16 mono audio between two sample rates using linear
// interpolation driven by a phase accumulator. The final source sample and
// the fractional read position are carried across Convert calls, so feeding
// back-to-back 20 ms blocks produces one continuous stream with no
// inter-block discontinuity.
//
// The two bridge pipelines (telephony → service input rate, service output
// rate → telephony) each own one Resampler.
type Resampler struct {
	srcRate int
	dstRate int

	// step is the source-sample distance between consecutive output samples.
	step float64
	// pos is the read position of the next output sample, in source-sample
	// units, measured from the carried sample (index 0 of the work slice).
	pos float64
	// carry is the final source sample of the previous block.
	carry  int16
	primed bool
}

// NewResampler builds a pipeline from srcRate to dstRate. Equal rates yield
// a pass-through pipeline.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates: %d -> %d", srcRate, dstRate)
	}
	return &Resampler{
		srcRate: srcRate,
		dstRate: dstRate,
		step:    float64(srcRate) / float64(dstRate),
	}, nil
}

// Passthrough reports whether the pipeline is a no-op.
func (r *Resampler) Passthrough() bool {
	return r.srcRate == r.dstRate
}

// Rates returns the configured source and destination rates.
func (r *Resampler) Rates() (src, dst int) {
	return r.srcRate, r.dstRate
}

// Reset reconfigures the pipeline and discards carried state. Used when the
// speech service reports its negotiated rates after session setup.
func (r *Resampler) Reset(srcRate, dstRate int) error {
	if srcRate <= 0 || dstRate <= 0 {
		return fmt.Errorf("invalid resample rates: %d -> %d", srcRate, dstRate)
	}
	r.srcRate = srcRate
	r.dstRate = dstRate
	r.step = float64(srcRate) / float64(dstRate)
	r.pos = 0
	r.carry = 0
	r.primed = false
	return nil
}

// Convert resamples one block of PCM16 mono audio. The returned length
// varies by ±1 sample between blocks as the phase accumulator carries the
// fractional position forward. An odd trailing byte is ignored. Pass-through
// pipelines return the input unchanged.
func (r *Resampler) Convert(pcm []byte) []byte {
	if len(pcm) < 2 {
		return nil
	}
	if r.Passthrough() {
		return pcm
	}

	samples := utils.PCM16ToSamples(pcm)

	var work []int16
	if r.primed {
		work = make([]int16, 0, len(samples)+1)
		work = append(work, r.carry)
		work = append(work, samples...)
	} else {
		work = samples
		r.pos = 0
	}

	last := float64(len(work) - 1)
	out := make([]int16, 0, int(float64(len(samples))/r.step)+2)
	for r.pos <= last {
		idx := int(r.pos)
		frac := r.pos - float64(idx)
		var v float64
		if idx >= len(work)-1 {
			v = float64(work[len(work)-1])
		} else {
			v = float64(work[idx])*(1-frac) + float64(work[idx+1])*frac
		}
		out = append(out, int16(v))
		r.pos += r.step
	}

	// Carry the final source sample and rebase the phase onto it.
	r.carry = work[len(work)-1]
	r.primed = true
	r.pos -= last

	return utils.SamplesToPCM16(out)
}
