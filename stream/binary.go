package stream

// Binary is an in-memory Stream backed by a growable byte slice.
type Binary struct {
	buf []byte
	pos int
}

// NewBinary returns a Binary positioned at the start of data.
// The stream takes ownership of data.
func NewBinary(data []byte) *Binary {
	return &Binary{buf: data}
}

// Append implements Stream.
func (b *Binary) Append(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	end := b.pos + len(data)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, len(b.buf), max(end, 2*cap(b.buf), 64))
			copy(grown, b.buf)
			b.buf = grown
		}
		b.buf = b.buf[:end]
	}

	copy(b.buf[b.pos:], data)
	b.pos = end
	return true
}

// Pick implements Stream.
func (b *Binary) Pick(data []byte) bool {
	if len(b.buf)-b.pos < len(data) {
		return false
	}
	copy(data, b.buf[b.pos:])
	b.pos += len(data)
	return true
}

// Reset implements Stream.
func (b *Binary) Reset() {
	b.pos = 0
}

// Offset implements Stream.
func (b *Binary) Offset() int64 {
	return int64(b.pos)
}

// Seek implements Stream.
func (b *Binary) Seek(off int64) bool {
	if off < 0 || off > int64(len(b.buf)) {
		return false
	}
	b.pos = int(off)
	return true
}

// Len returns the number of bytes held by the stream.
func (b *Binary) Len() int {
	return len(b.buf)
}

// Remaining returns the number of bytes between the cursor and the end.
func (b *Binary) Remaining() int {
	return len(b.buf) - b.pos
}

// Bytes returns the stream content. The slice aliases the stream storage.
func (b *Binary) Bytes() []byte {
	return b.buf
}
