package protocol

// compactThreshold is the consumed prefix size below which Compact leaves the
// arena alone unless it is fully drained.
const compactThreshold = 64 * 1024

// FrameBuffer accumulates inbound bytes until whole frames can be decoded.
// It is a single arena addressed by a read cursor: Append writes at the end,
// Advance moves the cursor past decoded frames, and Compact slides the unread
// tail back to the start once the consumed prefix is large enough to matter.
// The zero value is ready to use. It is not safe for concurrent use.
type FrameBuffer struct {
	buf []byte
	r   int
}

// NewFrameBuffer returns a buffer with capacity for size bytes.
func NewFrameBuffer(size int) *FrameBuffer {
	return &FrameBuffer{buf: make([]byte, 0, size)}
}

// Append copies p to the end of the buffer.
func (b *FrameBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if cap(b.buf)-len(b.buf) < len(p) && b.r > 0 {
		b.compact()
	}
	b.buf = append(b.buf, p...)
}

// Bytes returns the whole arena; frames start at Cursor.
func (b *FrameBuffer) Bytes() []byte { return b.buf }

// Cursor returns the offset of the first unread byte.
func (b *FrameBuffer) Cursor() int { return b.r }

// Unread returns the bytes not yet consumed. The slice is valid until the
// next Append or Compact.
func (b *FrameBuffer) Unread() []byte { return b.buf[b.r:] }

// Len returns the number of unread bytes.
func (b *FrameBuffer) Len() int { return len(b.buf) - b.r }

// Advance marks n unread bytes as consumed.
func (b *FrameBuffer) Advance(n int) {
	if n < 0 || n > b.Len() {
		panic("protocol: FrameBuffer.Advance out of range")
	}
	b.r += n
}

// Compact drops consumed bytes when the buffer is drained or the consumed
// prefix is at least as large as the unread tail and above the threshold.
func (b *FrameBuffer) Compact() {
	switch {
	case b.r == 0:
	case b.r == len(b.buf):
		b.buf = b.buf[:0]
		b.r = 0
	case b.r >= compactThreshold && b.r >= b.Len():
		b.compact()
	}
}

func (b *FrameBuffer) compact() {
	n := copy(b.buf, b.buf[b.r:])
	b.buf = b.buf[:n]
	b.r = 0
}

// Release discards all data and the allocation.
func (b *FrameBuffer) Release() {
	b.buf = nil
	b.r = 0
}

// Cap returns the current arena capacity.
func (b *FrameBuffer) Cap() int { return cap(b.buf) }
