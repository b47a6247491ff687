package internal_audio

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- FrameRing ---

func TestFrameRing_FIFOOrder(t *testing.T) {
	ring := NewFrameRing(8)
	for i := 0; i < 4; i++ {
		ring.Push([]byte(fmt.Sprintf("frame-%d", i)))
	}
	for i := 0; i < 4; i++ {
		frame, ok := ring.Pop(0)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(frame))
	}
	_, ok := ring.Pop(0)
	assert.False(t, ok)
}

func TestFrameRing_OverflowDropsOldest(t *testing.T) {
	ring := NewFrameRing(64)

	// Paused consumer: 100 pushes against capacity 64.
	for i := 0; i < 100; i++ {
		ring.Push([]byte{byte(i)})
	}

	assert.Equal(t, 64, ring.Len())
	assert.Equal(t, uint64(36), ring.Dropped())
	assert.Equal(t, 64, ring.HighWater())

	// The oldest surviving frame is #36; newest is #99.
	frame, ok := ring.Pop(0)
	require.True(t, ok)
	assert.Equal(t, byte(36), frame[0])

	var last []byte
	for {
		f, ok := ring.Pop(0)
		if !ok {
			break
		}
		last = f
	}
	assert.Equal(t, byte(99), last[0])
}

func TestFrameRing_PopWaitsForPush(t *testing.T) {
	ring := NewFrameRing(4)

	go func() {
		time.Sleep(5 * time.Millisecond)
		ring.Push([]byte{0x42})
	}()

	frame, ok := ring.Pop(200 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, byte(0x42), frame[0])
}

func TestFrameRing_PopTimesOutEmpty(t *testing.T) {
	ring := NewFrameRing(4)
	start := time.Now()
	_, ok := ring.Pop(15 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestFrameRing_Drain(t *testing.T) {
	ring := NewFrameRing(16)
	for i := 0; i < 10; i++ {
		ring.Push([]byte{byte(i)})
	}
	assert.Equal(t, 10, ring.Drain())
	assert.Equal(t, 0, ring.Len())
	_, ok := ring.Pop(0)
	assert.False(t, ok)

	// High-water mark and drop counter survive a drain.
	assert.Equal(t, 10, ring.HighWater())
	assert.Equal(t, uint64(0), ring.Dropped())
}

// --- StagingBuffer ---

func TestStagingBuffer_ReplayOrder(t *testing.T) {
	staging := NewStagingBuffer()
	for i := 0; i < 5; i++ {
		staging.Stage([]byte{byte(i)})
	}
	assert.Equal(t, 5, staging.Len())

	frames := staging.TakeAll()
	require.Len(t, frames, 5)
	for i, frame := range frames {
		assert.Equal(t, byte(i), frame[0])
	}
	assert.Equal(t, 0, staging.Len())
	assert.Nil(t, staging.TakeAll())
}

func TestStagingBuffer_CopiesFrames(t *testing.T) {
	staging := NewStagingBuffer()
	src := []byte{0x01, 0x02}
	staging.Stage(src)
	src[0] = 0xFF

	frames := staging.TakeAll()
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0x01), frames[0][0])
}
