package qcli

import (
	"sync"
)

// CircularBuffer is a fixed-size ring buffer for captured process output.
// A runaway child cannot exhaust memory: once full, the oldest bytes are
// overwritten and counted in Dropped.
type CircularBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int // next write position
	full    bool
	dropped int64
}

// NewCircularBuffer creates a buffer holding at most size bytes (64KB if size <= 0).
func NewCircularBuffer(size int) *CircularBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &CircularBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (cb *CircularBuffer) Write(p []byte) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := len(p)
	size := len(cb.buf)
	if n >= size {
		// Only the tail of p survives.
		cb.dropped += int64(cb.lenLocked() + n - size)
		copy(cb.buf, p[n-size:])
		cb.head = 0
		cb.full = true
		return n, nil
	}

	if over := cb.lenLocked() + n - size; over > 0 {
		cb.dropped += int64(over)
	}
	first := copy(cb.buf[cb.head:], p)
	copy(cb.buf, p[first:])
	if cb.head+n >= size {
		cb.full = true
	}
	cb.head = (cb.head + n) % size
	return n, nil
}

// String returns the retained bytes in write order.
func (cb *CircularBuffer) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.full {
		return string(cb.buf[:cb.head])
	}
	return string(cb.buf[cb.head:]) + string(cb.buf[:cb.head])
}

// Len returns the number of retained bytes.
func (cb *CircularBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lenLocked()
}

// Dropped returns how many bytes were overwritten.
func (cb *CircularBuffer) Dropped() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.dropped
}

func (cb *CircularBuffer) lenLocked() int {
	if cb.full {
		return len(cb.buf)
	}
	return cb.head
}
