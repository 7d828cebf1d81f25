package bridge

// outputBuffer is a FIFO of PTY output chunks bounded by a byte cap.
//
// Chunks append at the tail; when the cap is exceeded, whole chunks are
// evicted from the head until the total fits again. Order is never
// reordered: the only loss mode is a dropped contiguous prefix.
//
// Not safe for concurrent use; the terminal guards it with its own mutex.
type outputBuffer struct {
	chunks [][]byte
	size   int
	cap    int
}

// newOutputBuffer creates a buffer with the given byte cap.
func newOutputBuffer(cap int) *outputBuffer {
	return &outputBuffer{cap: cap}
}

// Append adds a chunk, evicting from the head if the cap is exceeded.
// The chunk is copied; PTY read buffers are reused by the caller.
func (b *outputBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	b.chunks = append(b.chunks, owned)
	b.size += len(owned)

	for b.size > b.cap && len(b.chunks) > 0 {
		b.size -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

// Drain returns the buffered chunks concatenated into one frame and resets
// the buffer. Returns nil when empty.
func (b *outputBuffer) Drain() []byte {
	if b.size == 0 {
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.size = 0
	return out
}

// Len returns the buffered byte count.
func (b *outputBuffer) Len() int {
	return b.size
}
