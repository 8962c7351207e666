package stream

import (
	"reflect"

	"github.com/pkg/errors"
)

// Object is a value that can serialize itself into a Stream.
//
// Encode is the ADD tag, Decode the GET tag and Clear the CLEAR tag.
// Fields are written in declaration order with no type information,
// so Decode must read them back in exactly the same order.
type Object interface {
	Encode(s Stream) error
	Decode(s Stream) error
	Clear()
}

// ObjectPtr constrains a pointer type whose element implements Object.
type ObjectPtr[T any] interface {
	*T
	Object
}

// Tag selects one of the three serialization operations.
type Tag uint8

const (
	// Add serializes an object out.
	Add Tag = iota + 1
	// Get deserializes an object in.
	Get
	// Clear resets an object to its zero value.
	Clear
)

func (t Tag) String() string {
	switch t {
	case Add:
		return "ADD"
	case Get:
		return "GET"
	case Clear:
		return "CLEAR"
	}
	return "UNKNOWN"
}

// Apply runs the operation selected by tag on o.
func Apply(tag Tag, s Stream, o Object) error {
	switch tag {
	case Add:
		return o.Encode(s)
	case Get:
		return DecodeObject(s, o)
	case Clear:
		o.Clear()
		return nil
	}
	return errors.Errorf("stream: unknown tag %d", tag)
}

// Decode reads a T from s into dst. The object is decoded into a
// temporary first, so dst is only written when every field decoded.
// On failure the cursor is restored as well.
func Decode[T any, PT ObjectPtr[T]](s Stream, dst *T) error {
	start := s.Offset()

	var tmp T
	PT(&tmp).Clear()
	if err := PT(&tmp).Decode(s); err != nil {
		s.Seek(start)
		return err
	}
	*dst = tmp
	return nil
}

// DecodeObject decodes o like Decode does for a known type: o is only
// written when every field decoded, and on failure the cursor is restored.
// A pointer object is decoded into a cleared copy that replaces *o on
// success. Any other object is snapshotted and restored on failure.
func DecodeObject(s Stream, o Object) error {
	start := s.Offset()

	dst := reflect.ValueOf(o)
	if dst.Kind() == reflect.Pointer && !dst.IsNil() {
		tmp := reflect.New(dst.Type().Elem())
		scratch := tmp.Interface().(Object)
		scratch.Clear()
		if err := scratch.Decode(s); err != nil {
			s.Seek(start)
			return err
		}
		dst.Elem().Set(tmp.Elem())
		return nil
	}

	snapshot, err := Marshal(o)
	if err != nil {
		return errors.Wrap(err, "stream: snapshot before decode")
	}
	if err := o.Decode(s); err != nil {
		s.Seek(start)
		o.Clear()
		_ = o.Decode(NewBinary(snapshot))
		return err
	}
	return nil
}

// Marshal encodes o into a new byte slice.
func Marshal(o Object) ([]byte, error) {
	if o == nil {
		return nil, nil
	}
	b := NewBinary(nil)
	if err := o.Encode(b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes data into o.
func Unmarshal(data []byte, o Object) error {
	return DecodeObject(NewBinary(data), o)
}

// Value wraps a single fixed width value as an Object.
type Value[T Fixed] struct {
	V T
}

func (v *Value[T]) Encode(s Stream) error { return PutValue(s, v.V) }
func (v *Value[T]) Decode(s Stream) error { return GetValue(s, &v.V) }
func (v *Value[T]) Clear() {
	var zero T
	v.V = zero
}

// Text wraps a string as an Object.
type Text struct {
	S string
}

func (t *Text) Encode(s Stream) error { return PutString(s, t.S) }
func (t *Text) Decode(s Stream) error { return GetString(s, &t.S) }
func (t *Text) Clear()                { t.S = "" }

// Empty is an Object without fields.
type Empty struct{}

func (*Empty) Encode(Stream) error { return nil }
func (*Empty) Decode(Stream) error { return nil }
func (*Empty) Clear()              {}
