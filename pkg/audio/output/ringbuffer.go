// ABOUTME: Blocking byte ring buffer between a blocking writer and a device callback
// ABOUTME: Writers wait for space, the callback reads without blocking and zero-fills underruns
package output

import (
	"sync"
)

// RingBuffer is a bounded FIFO of PCM bytes. Write blocks while the buffer
// is full; Read never blocks.
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int
	closed   bool

	underruns uint64

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
}

// NewRingBuffer creates a ring buffer with given capacity in bytes
func NewRingBuffer(capacity int) *RingBuffer {
	rb := &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
	}
	rb.notFull = sync.NewCond(&rb.mu)
	rb.notEmpty = sync.NewCond(&rb.mu)
	return rb
}

// Write copies all of p into the buffer, waiting for space as needed. It
// returns early with the bytes written so far if the buffer is closed.
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(p) {
		for rb.count == rb.size && !rb.closed {
			rb.notFull.Wait()
		}
		if rb.closed {
			return written
		}

		n := min(len(p)-written, rb.size-rb.count, rb.size-rb.writePos)
		copy(rb.buffer[rb.writePos:], p[written:written+n])
		rb.writePos = (rb.writePos + n) % rb.size
		rb.count += n
		written += n
	}
	return written
}

// Read fills p from the buffer, zero-filling whatever is missing, and returns
// the number of real bytes copied
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(p) && rb.count > 0 {
		n := min(len(p)-read, rb.count, rb.size-rb.readPos)
		copy(p[read:], rb.buffer[rb.readPos:rb.readPos+n])
		rb.readPos = (rb.readPos + n) % rb.size
		rb.count -= n
		read += n
	}

	if read < len(p) {
		clear(p[read:])
		if !rb.closed {
			rb.underruns++
		}
	}
	if read > 0 {
		rb.notFull.Broadcast()
	}
	if rb.count == 0 {
		rb.notEmpty.Broadcast()
	}
	return read
}

// WaitEmpty blocks until every queued byte has been read or the buffer is closed
func (rb *RingBuffer) WaitEmpty() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for rb.count > 0 && !rb.closed {
		rb.notEmpty.Wait()
	}
}

// Reset discards queued bytes
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
	rb.notFull.Broadcast()
	rb.notEmpty.Broadcast()
}

// Close wakes all waiters; later writes return immediately
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notFull.Broadcast()
	rb.notEmpty.Broadcast()
}

// Available returns the number of bytes queued
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of bytes that can be written without blocking
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Underruns returns how many reads found less data than requested
func (rb *RingBuffer) Underruns() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.underruns
}

// Capacity returns the buffer size in bytes
func (rb *RingBuffer) Capacity() int {
	return rb.size
}
