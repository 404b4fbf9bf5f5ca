package kfmt

import "io"

// defaultRingBufferSize defines size of the ring buffer that buffers early
// Printf output. The ring buffer size must always be a power of 2.
const defaultRingBufferSize = 4096

// ringBuffer is a fixed-size byte ring. Once full, new writes overwrite the
// oldest unread bytes.
type ringBuffer struct {
	buffer         []byte
	mask           int
	rIndex, wIndex int
}

// newRingBuffer returns a ring buffer that can hold size-1 unread bytes. size
// must be a power of 2.
func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buffer: make([]byte, size), mask: size - 1}
}

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & rb.mask
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & rb.mask
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns the number of bytes read (0
// <= n <= len(p)) and io.EOF once the buffer is drained.
func (rb *ringBuffer) Read(p []byte) (n int, err error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Read up to the write index or the end of the backing slice,
	// whichever comes first.
	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = len(rb.buffer)
	}

	n = copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & rb.mask
	return n, nil
}
