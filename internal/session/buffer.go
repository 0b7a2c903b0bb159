package session

// minBufferSize is the floor for the output ring buffer.
const minBufferSize = 1024

// outputBuffer is a fixed-size ring holding the most recent shell output for
// replay on reconnect. Oldest bytes are overwritten first. It carries no lock
// of its own: the owning session serializes all access.
type outputBuffer struct {
	data []byte
	pos  int
	full bool
}

func newOutputBuffer(size int) *outputBuffer {
	if size < minBufferSize {
		size = minBufferSize
	}
	return &outputBuffer{data: make([]byte, size)}
}

func (b *outputBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	// A chunk at least as large as the ring replaces it entirely.
	if len(p) >= len(b.data) {
		copy(b.data, p[len(p)-len(b.data):])
		b.pos = 0
		b.full = true
		return
	}
	n := copy(b.data[b.pos:], p)
	if n < len(p) {
		copy(b.data, p[n:])
		b.full = true
	}
	b.pos = (b.pos + len(p)) % len(b.data)
	if b.pos == 0 && n == len(p) {
		b.full = true
	}
}

// Bytes returns the buffered output, oldest first.
func (b *outputBuffer) Bytes() []byte {
	if !b.full {
		out := make([]byte, b.pos)
		copy(out, b.data[:b.pos])
		return out
	}
	out := make([]byte, len(b.data))
	n := copy(out, b.data[b.pos:])
	copy(out[n:], b.data[:b.pos])
	return out
}

func (b *outputBuffer) Len() int {
	if b.full {
		return len(b.data)
	}
	return b.pos
}
