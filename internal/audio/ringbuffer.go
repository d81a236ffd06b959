// SPDX-License-Identifier: MIT
package audio

import "sync"

// ringBuffer keeps the most recent len(data) mono samples of a source. The
// writer is the source's delivery goroutine; readers copy out a window.
type ringBuffer struct {
	mu     sync.Mutex
	data   []float32
	pos    int // Next write index.
	filled int // Samples written, saturating at len(data).
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{data: make([]float32, size)}
}

// Write appends block, overwriting the oldest samples.
func (r *ringBuffer) Write(block []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.data)
	if len(block) >= n {
		copy(r.data, block[len(block)-n:])
		r.pos = 0
		r.filled = n
		return
	}
	k := copy(r.data[r.pos:], block)
	if k < len(block) {
		copy(r.data, block[k:])
	}
	r.pos = (r.pos + len(block)) % n
	r.filled = min(r.filled+len(block), n)
}

// Latest copies the most recent len(dst) samples, oldest first. It reports
// false (and leaves dst zeroed) until that many samples have been written.
func (r *ringBuffer) Latest(dst []float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.data)
	if len(dst) > n || r.filled < len(dst) {
		clear(dst)
		return false
	}
	start := (r.pos - len(dst) + n) % n
	k := copy(dst, r.data[start:])
	if k < len(dst) {
		copy(dst[k:], r.data[:len(dst)-k])
	}
	return true
}

// Reset forgets all samples.
func (r *ringBuffer) Reset() {
	r.mu.Lock()
	clear(r.data)
	r.pos, r.filled = 0, 0
	r.mu.Unlock()
}
