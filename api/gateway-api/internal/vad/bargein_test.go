package internal_vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBargeIn_FiresAfterSustainedSpeechOverAgent(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{})
	b.MarkResponseActive(0)

	// Agent has been speaking 1500 ms; caller talks over it at RMS 3000
	// against a ~50 noise floor. The candidate needs 8 frames (160 ms).
	fired := false
	for i := 0; i < 8; i++ {
		now := int64(1500 + i*20)
		got := b.Observe(3000, 50, now)
		if i < 7 {
			require.False(t, got, "frame %d", i)
		} else {
			fired = got
		}
	}
	assert.True(t, fired)
	assert.True(t, b.Triggered())
	assert.False(t, b.ResponseActive())
	assert.False(t, b.Active(), "burst cleared on fire")

	b.MarkResponseDone()
	assert.False(t, b.Triggered(), "response.done re-arms the latch")
}

func TestBargeIn_HardLockBlocksEarlyCandidates(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{})
	b.MarkResponseActive(0)

	// Inside the 1200 ms lock nothing accumulates, however loud.
	for now := int64(0); now < 1200; now += 20 {
		require.False(t, b.Observe(3000, 50, now))
	}

	// The lock also reset any partial candidate, so a full 8 frames are
	// still required once it expires.
	for i := 0; i < 7; i++ {
		require.False(t, b.Observe(3000, 50, int64(1200+i*20)))
	}
	assert.True(t, b.Observe(3000, 50, 1340))
}

func TestBargeIn_AgentGracePeriod(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{LockMs: 100})
	b.MarkResponseActive(0)

	// Past the lock but inside the 800 ms grace window: no accumulation.
	for now := int64(100); now < 800; now += 20 {
		require.False(t, b.Observe(3000, 50, now))
	}
	for i := 0; i < 7; i++ {
		require.False(t, b.Observe(3000, 50, int64(800+i*20)))
	}
	assert.True(t, b.Observe(3000, 50, 940))
}

func TestBargeIn_CooldownBetweenTriggers(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{LockMs: 100, MinAgentMs: 100})

	b.MarkResponseActive(0)
	for i := 0; i < 7; i++ {
		require.False(t, b.Observe(3000, 50, int64(200+i*20)))
	}
	require.True(t, b.Observe(3000, 50, 340))

	// A new burst starts immediately, but the 1200 ms cooldown since the
	// last trigger keeps candidates from accumulating.
	b.MarkResponseActive(400)
	for now := int64(600); now < 1540; now += 20 {
		require.False(t, b.Observe(3000, 50, now))
	}
	for i := 0; i < 7; i++ {
		require.False(t, b.Observe(3000, 50, int64(1540+i*20)))
	}
	assert.True(t, b.Observe(3000, 50, 1680))
}

func TestBargeIn_HysteresisReleaseClearsCandidate(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{})
	b.MarkResponseActive(0)

	// 5 loud frames start a candidate.
	for i := 0; i < 5; i++ {
		require.False(t, b.Observe(3000, 50, int64(1500+i*20)))
	}

	// 6 consecutive quiet frames (below 0.65x threshold) clear it.
	for i := 0; i < 6; i++ {
		require.False(t, b.Observe(10, 50, int64(1600+i*20)))
	}

	// A fresh candidate must rebuild all 8 frames.
	for i := 0; i < 7; i++ {
		require.False(t, b.Observe(3000, 50, int64(1720+i*20)))
	}
	assert.True(t, b.Observe(3000, 50, 1860))
}

func TestBargeIn_SNRGateBlocksNoisyLine(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{})
	b.MarkResponseActive(0)

	// RMS 3000 over a 2000 noise floor is only ~3.5 dB: never a candidate.
	for i := 0; i < 50; i++ {
		require.False(t, b.Observe(3000, 2000, int64(1500+i*20)))
	}
}

func TestBargeIn_InactiveWithoutBurst(t *testing.T) {
	b := NewBargeInDetector(BargeInParams{})
	assert.False(t, b.Active())
	for i := 0; i < 20; i++ {
		require.False(t, b.Observe(3000, 50, int64(i*20)))
	}
}
