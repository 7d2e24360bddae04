// Package ringbuffer implements a fixed-capacity single-producer/single-
// consumer float32 ring buffer. It is the sole shared mutable state between
// the real-time audio driver callbacks and the cooperative actor loops that
// drain or fill it at message boundaries: the producer side never blocks on
// a lock, and underflow/overflow are handled by the caller (silence-fill or
// tail-drop), never by waiting.
package ringbuffer

import "sync/atomic"

// Ring is a fixed-capacity float32 ring buffer safe for exactly one
// concurrent producer (Push) and one concurrent consumer (Pop). head and
// tail are monotonically increasing counters, each written by only one
// side, which is what makes the wraparound-index arithmetic below safe
// without a mutex.
type Ring struct {
	buf  []float32
	head atomic.Uint64 // next read position, advanced only by Pop
	tail atomic.Uint64 // next write position, advanced only by Push
}

// New creates a ring buffer with room for capacity samples.
func New(capacity int) *Ring {
	return &Ring{buf: make([]float32, capacity)}
}

// Push appends samples, dropping the tail of samples that would overflow
// the buffer's capacity. Returns the number of samples actually written.
// Safe to call from a real-time audio callback: never blocks.
func (r *Ring) Push(samples []float32) int {
	capacity := uint64(len(r.buf))
	head := r.head.Load()
	tail := r.tail.Load()
	room := capacity - (tail - head)

	toWrite := uint64(len(samples))
	if toWrite > room {
		toWrite = room
	}
	for i := uint64(0); i < toWrite; i++ {
		r.buf[(tail+i)%capacity] = samples[i]
	}
	r.tail.Store(tail + toWrite)
	return int(toWrite)
}

// Pop fills dst with up to len(dst) samples, returning how many were
// actually available. The caller fills any remainder with silence. Safe to
// call from a real-time audio callback: never blocks.
func (r *Ring) Pop(dst []float32) int {
	capacity := uint64(len(r.buf))
	head := r.head.Load()
	tail := r.tail.Load()
	available := tail - head

	toRead := uint64(len(dst))
	if toRead > available {
		toRead = available
	}
	for i := uint64(0); i < toRead; i++ {
		dst[i] = r.buf[(head+i)%capacity]
	}
	r.head.Store(head + toRead)
	return int(toRead)
}

// Len reports how many samples are currently buffered.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}
