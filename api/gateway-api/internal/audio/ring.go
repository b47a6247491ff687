// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"sync"
	"time"
)

// ============================================================================
// FrameRing — bounded outbound frame queue with drop-oldest overflow
// ============================================================================

// FrameRing is a bounded FIFO of PCM frames between the speech listener and
// the outbound pacer. When full, Push evicts the oldest frame so the stream
// stays near real time instead of building latency. Overflow is counted and
// the high-water mark retained for teardown reporting.
type FrameRing struct {
	mu        sync.Mutex
	frames    [][]byte
	capacity  int
	dropped   uint64
	highWater int

	// notify wakes a blocked Pop after a Push.
	notify chan struct{}
}

// NewFrameRing builds a ring holding at most capacity frames.
func NewFrameRing(capacity int) *FrameRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameRing{
		capacity: capacity,
		frames:   make([][]byte, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
}

// Push appends a frame, evicting the oldest when the ring is full.
func (r *FrameRing) Push(frame []byte) {
	r.mu.Lock()
	if len(r.frames) >= r.capacity {
		r.frames = r.frames[1:]
		r.dropped++
	}
	r.frames = append(r.frames, frame)
	if len(r.frames) > r.highWater {
		r.highWater = len(r.frames)
	}
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest frame, waiting up to timeout for one to arrive.
// It returns false when the ring stayed empty for the full wait.
func (r *FrameRing) Pop(timeout time.Duration) ([]byte, bool) {
	if frame, ok := r.tryPop(); ok {
		return frame, true
	}
	if timeout <= 0 {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-r.notify:
			if frame, ok := r.tryPop(); ok {
				return frame, true
			}
		case <-timer.C:
			return nil, false
		}
	}
}

func (r *FrameRing) tryPop() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil, false
	}
	frame := r.frames[0]
	r.frames = r.frames[1:]
	return frame, true
}

// Drain discards all queued frames and returns how many were removed. Used
// on barge-in so stale agent audio never reaches the caller.
func (r *FrameRing) Drain() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.frames)
	r.frames = r.frames[:0]
	return n
}

// Len returns the current queue depth.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Dropped returns the total frames evicted by overflow.
func (r *FrameRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// HighWater returns the maximum queue depth observed.
func (r *FrameRing) HighWater() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highWater
}

// ============================================================================
// StagingBuffer — frames held while a commit is in flight
// ============================================================================

// StagingBuffer holds inbound frames that arrive while the session is
// waiting on a commit acknowledgement (or before the session is ready).
// Frames are replayed in arrival order once the session can accept them, so
// a commit round-trip never reorders or silently drops caller audio.
type StagingBuffer struct {
	mu     sync.Mutex
	frames [][]byte
}

// NewStagingBuffer builds an empty staging buffer.
func NewStagingBuffer() *StagingBuffer {
	return &StagingBuffer{}
}

// Stage appends a copy of the frame.
func (s *StagingBuffer) Stage(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.mu.Lock()
	s.frames = append(s.frames, buf)
	s.mu.Unlock()
}

// TakeAll removes and returns every staged frame in arrival order.
func (s *StagingBuffer) TakeAll() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.frames
	s.frames = nil
	return frames
}

// Len returns the number of staged frames.
func (s *StagingBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}
