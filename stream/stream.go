// Package stream implements cursor based byte streams and the tag based
// ADD/GET/CLEAR serialization protocol used for mtslogic call arguments
// and results.
//
// The encoding is not self-describing: no type tags are written, so the
// decoder must know the exact static type of every value it reads.
// Integers and floats are written little-endian regardless of the host.
package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stream is a byte buffer with a single read/write cursor.
type Stream interface {
	// Append writes data at the cursor, growing the storage as needed.
	// It returns false when data is empty or the write failed.
	Append(data []byte) bool
	// Pick reads exactly len(data) bytes at the cursor into data.
	// It returns false without consuming anything when fewer bytes remain.
	Pick(data []byte) bool
	// Reset rewinds the cursor to the start. Content is kept, so a
	// buffer can be read back right after it was written.
	Reset()
	// Offset returns the cursor position.
	Offset() int64
	// Seek moves the cursor to off. It returns false if off is out of range.
	Seek(off int64) bool
}

// MaxLength is the largest string, byte slice or map that fits the
// 16-bit length field.
const MaxLength = 1<<16 - 1

var (
	// ErrUnderflow matches every UnderflowError.
	ErrUnderflow = errors.New("stream: underflow")
	// ErrTooLong is returned when a value does not fit the 16-bit length field.
	ErrTooLong = errors.New("stream: value exceeds 16-bit length field")
	// ErrShortWrite is returned when the stream refuses an append.
	ErrShortWrite = errors.New("stream: short write")
)

// UnderflowError reports a read past the end of the stream.
type UnderflowError struct {
	What string
	Size int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("stream: underflow reading %s (%d bytes)", e.What, e.Size)
}

// Is reports whether target is ErrUnderflow.
func (e *UnderflowError) Is(target error) bool {
	return target == ErrUnderflow
}

// Kind enumerates the encoding strategies a value can use.
type Kind uint8

const (
	// KindPrimitive is a fixed width value copied as raw bytes.
	KindPrimitive Kind = iota
	// KindString is a string or byte slice behind a uint16 length.
	KindString
	// KindSequence is an int32 count followed by the elements.
	KindSequence
	// KindMap is a uint16 count followed by key/value pairs.
	KindMap
	// KindObject is a nested Object encoding itself.
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}
