package sessions

import "unicode/utf8"

// DefaultScrollbackBytes is the default scrollback cap (1 MB).
const DefaultScrollbackBytes = 1024 * 1024

// Scrollback keeps the most recent terminal output of a session for replay
// on reattach. Output is stored as the chunks it arrived in; when the total
// exceeds the cap, whole chunks are evicted from the front. A single chunk
// larger than the cap keeps only its newest bytes.
//
// Scrollback is not safe for concurrent use; the owning Session guards it.
type Scrollback struct {
	chunks [][]byte
	size   int
	max    int
}

// NewScrollback creates a scrollback capped at max bytes.
// If max <= 0, DefaultScrollbackBytes is used.
func NewScrollback(max int) *Scrollback {
	if max <= 0 {
		max = DefaultScrollbackBytes
	}
	return &Scrollback{max: max}
}

// Write appends a copy of p.
func (b *Scrollback) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) >= b.max {
		tail := trimLeadingContinuation(p[len(p)-b.max:])
		chunk := make([]byte, len(tail))
		copy(chunk, tail)
		b.chunks = [][]byte{chunk}
		b.size = len(chunk)
		return
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	evict := 0
	for b.size > b.max {
		b.size -= len(b.chunks[evict])
		b.chunks[evict] = nil
		evict++
	}
	if evict > 0 {
		b.chunks = b.chunks[evict:]
	}
}

// Bytes returns the buffered output as one contiguous slice.
func (b *Scrollback) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the number of buffered bytes.
func (b *Scrollback) Len() int {
	return b.size
}

// Cap returns the byte cap.
func (b *Scrollback) Cap() int {
	return b.max
}

// trimLeadingContinuation drops UTF-8 continuation bytes left at the start
// of p by a cut in the middle of a rune.
func trimLeadingContinuation(p []byte) []byte {
	for i := 0; i < len(p) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(p[i]) {
			return p[i:]
		}
	}
	return p
}
