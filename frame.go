package mtslogic

import (
	"github.com/pkg/errors"
)

// frameBuffer reassembles length-prefixed frames from a byte stream.
//
// Every frame is [int32 bodyLen][body]. Bytes may arrive in any
// fragmentation; a body is only handed out once it is complete.
type frameBuffer struct {
	buf       []byte
	maxLength int
}

func newFrameBuffer(maxLength int) *frameBuffer {
	return &frameBuffer{maxLength: maxLength}
}

// feed appends data and calls emit once per complete frame body, in order.
// The body passed to emit is owned by the callee.
func (f *frameBuffer) feed(data []byte, emit func(body []byte)) error {
	f.buf = append(f.buf, data...)

	for len(f.buf) >= lengthSize {
		n := int64(byteOrder.Uint32(f.buf))
		if n > int64(f.maxLength) {
			return errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes, limit %d", n, f.maxLength)
		}

		end := lengthSize + int(n)
		if len(f.buf) < end {
			return nil
		}

		body := make([]byte, n)
		copy(body, f.buf[lengthSize:end])

		rest := copy(f.buf, f.buf[end:])
		f.buf = f.buf[:rest]

		emit(body)
	}
	return nil
}

// buffered returns the number of bytes waiting for the rest of their frame.
func (f *frameBuffer) buffered() int {
	return len(f.buf)
}

// appendFrame prefixes body with its length.
func appendFrame(buf, body []byte) []byte {
	buf = byteOrder.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}
