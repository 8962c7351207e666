package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

var order = binary.LittleEndian

// Fixed is the set of fixed width types encoded as raw bytes.
type Fixed interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

// Codec encodes and decodes values of type T. Get must leave v and the
// stream cursor untouched when it fails.
type Codec[T any] interface {
	Kind() Kind
	Put(s Stream, v T) error
	Get(s Stream, v *T) error
}

// PutValue appends a fixed width value.
func PutValue[T Fixed](s Stream, v T) error {
	buf, err := binary.Append(nil, order, v)
	if err != nil {
		return errors.Wrapf(err, "stream: encode %T", v)
	}
	if !s.Append(buf) {
		return ErrShortWrite
	}
	return nil
}

// GetValue reads a fixed width value into v.
func GetValue[T Fixed](s Stream, v *T) error {
	var out T
	buf := make([]byte, binary.Size(out))
	if !s.Pick(buf) {
		return &UnderflowError{What: fmt.Sprintf("%T", out), Size: len(buf)}
	}
	if _, err := binary.Decode(buf, order, &out); err != nil {
		return errors.Wrapf(err, "stream: decode %T", out)
	}
	*v = out
	return nil
}

// PutString appends v as [uint16 length][bytes].
func PutString(s Stream, v string) error {
	return putBytes(s, []byte(v))
}

// GetString reads a string written by PutString.
func GetString(s Stream, v *string) error {
	b, err := getBytes(s, "string")
	if err != nil {
		return err
	}
	*v = string(b)
	return nil
}

// PutBytes appends v as [uint16 length][bytes].
func PutBytes(s Stream, v []byte) error {
	return putBytes(s, v)
}

// GetBytes reads a byte slice written by PutBytes.
func GetBytes(s Stream, v *[]byte) error {
	b, err := getBytes(s, "bytes")
	if err != nil {
		return err
	}
	*v = b
	return nil
}

func putBytes(s Stream, b []byte) error {
	if len(b) > MaxLength {
		return errors.Wrapf(ErrTooLong, "%d bytes", len(b))
	}
	if err := PutValue(s, uint16(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if !s.Append(b) {
		return ErrShortWrite
	}
	return nil
}

func getBytes(s Stream, what string) ([]byte, error) {
	start := s.Offset()

	var n uint16
	if err := GetValue(s, &n); err != nil {
		return nil, err
	}

	b := make([]byte, n)
	if !s.Pick(b) {
		s.Seek(start)
		return nil, &UnderflowError{What: what, Size: int(n)}
	}
	return b, nil
}

type primitiveCodec[T Fixed] struct{}

// Primitive returns the codec for a fixed width type.
func Primitive[T Fixed]() Codec[T] {
	return primitiveCodec[T]{}
}

func (primitiveCodec[T]) Kind() Kind               { return KindPrimitive }
func (primitiveCodec[T]) Put(s Stream, v T) error  { return PutValue(s, v) }
func (primitiveCodec[T]) Get(s Stream, v *T) error { return GetValue(s, v) }

type stringCodec struct{}

func (stringCodec) Kind() Kind                    { return KindString }
func (stringCodec) Put(s Stream, v string) error  { return PutString(s, v) }
func (stringCodec) Get(s Stream, v *string) error { return GetString(s, v) }

type bytesCodec struct{}

func (bytesCodec) Kind() Kind                    { return KindString }
func (bytesCodec) Put(s Stream, v []byte) error  { return PutBytes(s, v) }
func (bytesCodec) Get(s Stream, v *[]byte) error { return GetBytes(s, v) }

var (
	// String encodes strings behind a uint16 length.
	String Codec[string] = stringCodec{}
	// Bytes encodes byte slices behind a uint16 length.
	Bytes Codec[[]byte] = bytesCodec{}
)

type sequenceCodec[T any] struct {
	elem Codec[T]
}

// SequenceOf returns a codec writing [int32 count][count x element].
func SequenceOf[T any](elem Codec[T]) Codec[[]T] {
	return sequenceCodec[T]{elem: elem}
}

func (sequenceCodec[T]) Kind() Kind { return KindSequence }

func (c sequenceCodec[T]) Put(s Stream, v []T) error {
	if err := PutValue(s, int32(len(v))); err != nil {
		return err
	}
	for i := range v {
		if err := c.elem.Put(s, v[i]); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	return nil
}

func (c sequenceCodec[T]) Get(s Stream, v *[]T) error {
	start := s.Offset()

	var n int32
	if err := GetValue(s, &n); err != nil {
		return err
	}
	if n < 0 {
		s.Seek(start)
		return errors.Errorf("stream: negative sequence count %d", n)
	}
	if r, ok := s.(interface{ Remaining() int }); ok {
		if limit := max(r.Remaining(), MaxLength); int(n) > limit {
			s.Seek(start)
			return errors.Wrapf(ErrUnderflow, "sequence count %d exceeds %d remaining bytes", n, r.Remaining())
		}
	}

	out := make([]T, 0, min(int(n), 1024))
	for i := int32(0); i < n; i++ {
		var e T
		if err := c.elem.Get(s, &e); err != nil {
			s.Seek(start)
			return errors.Wrapf(err, "element %d", i)
		}
		out = append(out, e)
	}
	*v = out
	return nil
}

type mapCodec[K comparable, V any] struct {
	key Codec[K]
	val Codec[V]
}

// MapOf returns a codec writing [uint16 count][count x (key, value)].
func MapOf[K comparable, V any](key Codec[K], val Codec[V]) Codec[map[K]V] {
	return mapCodec[K, V]{key: key, val: val}
}

func (mapCodec[K, V]) Kind() Kind { return KindMap }

func (c mapCodec[K, V]) Put(s Stream, m map[K]V) error {
	if len(m) > MaxLength {
		return errors.Wrapf(ErrTooLong, "%d map entries", len(m))
	}
	if err := PutValue(s, uint16(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := c.key.Put(s, k); err != nil {
			return err
		}
		if err := c.val.Put(s, v); err != nil {
			return err
		}
	}
	return nil
}

func (c mapCodec[K, V]) Get(s Stream, m *map[K]V) error {
	start := s.Offset()

	var n uint16
	if err := GetValue(s, &n); err != nil {
		return err
	}

	out := make(map[K]V, n)
	for i := 0; i < int(n); i++ {
		var k K
		var v V
		if err := c.key.Get(s, &k); err != nil {
			s.Seek(start)
			return err
		}
		if err := c.val.Get(s, &v); err != nil {
			s.Seek(start)
			return err
		}
		out[k] = v
	}
	*m = out
	return nil
}

type objectCodec[T any, PT ObjectPtr[T]] struct{}

// ObjectOf returns the codec for a nested Object type.
func ObjectOf[T any, PT ObjectPtr[T]]() Codec[T] {
	return objectCodec[T, PT]{}
}

func (objectCodec[T, PT]) Kind() Kind { return KindObject }

func (objectCodec[T, PT]) Put(s Stream, v T) error {
	return PT(&v).Encode(s)
}

func (objectCodec[T, PT]) Get(s Stream, v *T) error {
	return Decode[T, PT](s, v)
}
