package stream

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

type frameInfo struct {
	FrameID int32
	Width   uint16
	Scale   float32
	Label   string
}

func (f *frameInfo) Encode(s Stream) error {
	if err := PutValue(s, f.FrameID); err != nil {
		return err
	}
	if err := PutValue(s, f.Width); err != nil {
		return err
	}
	if err := PutValue(s, f.Scale); err != nil {
		return err
	}
	return PutString(s, f.Label)
}

func (f *frameInfo) Decode(s Stream) error {
	if err := GetValue(s, &f.FrameID); err != nil {
		return err
	}
	if err := GetValue(s, &f.Width); err != nil {
		return err
	}
	if err := GetValue(s, &f.Scale); err != nil {
		return err
	}
	return GetString(s, &f.Label)
}

func (f *frameInfo) Clear() {
	*f = frameInfo{}
}

type batch struct {
	Owner  string
	Frames []frameInfo
	Tags   map[string]int32
	Ready  bool
}

var (
	framesCodec = SequenceOf(ObjectOf[frameInfo]())
	tagsCodec   = MapOf(String, Primitive[int32]())
)

func (b *batch) Encode(s Stream) error {
	if err := PutString(s, b.Owner); err != nil {
		return err
	}
	if err := framesCodec.Put(s, b.Frames); err != nil {
		return err
	}
	if err := tagsCodec.Put(s, b.Tags); err != nil {
		return err
	}
	return PutValue(s, b.Ready)
}

func (b *batch) Decode(s Stream) error {
	if err := GetString(s, &b.Owner); err != nil {
		return err
	}
	if err := framesCodec.Get(s, &b.Frames); err != nil {
		return err
	}
	if err := tagsCodec.Get(s, &b.Tags); err != nil {
		return err
	}
	return GetValue(s, &b.Ready)
}

func (b *batch) Clear() {
	*b = batch{}
}

func TestBinary_AppendPick(t *testing.T) {
	b := NewBinary(nil)

	if b.Append(nil) {
		t.Error("Append of empty data should return false")
	}
	if !b.Append([]byte("abc")) {
		t.Fatal("Append failed")
	}
	if !b.Append([]byte("defg")) {
		t.Fatal("Append failed")
	}

	b.Reset()
	out := make([]byte, 7)
	if !b.Pick(out) {
		t.Fatal("Pick failed")
	}
	if string(out) != "abcdefg" {
		t.Errorf("Pick = %q, want %q", out, "abcdefg")
	}

	if b.Pick(make([]byte, 1)) {
		t.Error("Pick past the end should return false")
	}
}

func TestBinary_PickNoPartialRead(t *testing.T) {
	b := NewBinary([]byte{1, 2, 3})

	out := []byte{9, 9, 9, 9}
	if b.Pick(out) {
		t.Fatal("expected Pick to fail")
	}
	if !reflect.DeepEqual(out, []byte{9, 9, 9, 9}) {
		t.Errorf("destination modified: %v", out)
	}
	if b.Offset() != 0 {
		t.Errorf("Offset = %d, want 0", b.Offset())
	}
}

func TestBinary_Grow(t *testing.T) {
	b := NewBinary(make([]byte, 0, 2))
	chunk := make([]byte, 100)
	for i := 0; i < 50; i++ {
		if !b.Append(chunk) {
			t.Fatalf("Append %d failed", i)
		}
	}
	if b.Len() != 5000 {
		t.Errorf("Len = %d, want 5000", b.Len())
	}
}

func TestRoundTrip_Object(t *testing.T) {
	in := batch{
		Owner: "camera-front",
		Frames: []frameInfo{
			{FrameID: 5, Width: 1920, Scale: 0.5, Label: "first"},
			{FrameID: 6, Width: 1280, Scale: 1.25, Label: ""},
		},
		Tags:  map[string]int32{"exposure": 12, "gain": -3},
		Ready: true,
	}

	data, err := Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out batch
	if err := Decode(NewBinary(data), &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestRoundTrip_Primitives(t *testing.T) {
	type status int16

	b := NewBinary(nil)
	_ = PutValue(b, int8(-7))
	_ = PutValue(b, uint32(0xdeadbeef))
	_ = PutValue(b, int64(-1<<40))
	_ = PutValue(b, 3.5)
	_ = PutValue(b, status(-2))
	_ = PutValue(b, true)
	b.Reset()

	var (
		i8  int8
		u32 uint32
		i64 int64
		f64 float64
		st  status
		ok  bool
	)
	for _, err := range []error{
		GetValue(b, &i8), GetValue(b, &u32), GetValue(b, &i64),
		GetValue(b, &f64), GetValue(b, &st), GetValue(b, &ok),
	} {
		if err != nil {
			t.Fatalf("GetValue failed: %v", err)
		}
	}

	if i8 != -7 || u32 != 0xdeadbeef || i64 != -1<<40 || f64 != 3.5 || st != -2 || !ok {
		t.Errorf("unexpected values: %v %v %v %v %v %v", i8, u32, i64, f64, st, ok)
	}
}

func TestString_ThenUint16(t *testing.T) {
	b := NewBinary(nil)
	if err := PutString(b, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := PutValue(b, uint16(40000)); err != nil {
		t.Fatal(err)
	}

	data := append([]byte(nil), b.Bytes()...)
	b.Reset()

	var s string
	var v uint16
	if err := GetString(b, &s); err != nil {
		t.Fatalf("GetString failed: %v", err)
	}
	if err := GetValue(b, &v); err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if s != "hello" || v != 40000 {
		t.Errorf("got %q/%d, want hello/40000", s, v)
	}

	// Corrupt the length prefix so it claims more bytes than remain.
	data[0], data[1] = 0xff, 0x00
	corrupt := NewBinary(data)
	dst := "untouched"
	err := GetString(corrupt, &dst)
	if !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	if dst != "untouched" {
		t.Errorf("destination modified: %q", dst)
	}
	if corrupt.Offset() != 0 {
		t.Errorf("cursor not restored: %d", corrupt.Offset())
	}
}

func TestString_TooLong(t *testing.T) {
	b := NewBinary(nil)
	err := PutString(b, strings.Repeat("x", MaxLength+1))
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}

	if err := PutString(b, strings.Repeat("x", MaxLength)); err != nil {
		t.Fatalf("max length string rejected: %v", err)
	}
}

func TestDecode_AtomicPerObject(t *testing.T) {
	in := frameInfo{FrameID: 1, Width: 2, Scale: 3, Label: "label"}
	data, err := Marshal(&in)
	if err != nil {
		t.Fatal(err)
	}

	// Drop the last byte of the label.
	truncated := NewBinary(data[:len(data)-1])
	out := frameInfo{FrameID: 99, Label: "keep"}
	if err := Decode(truncated, &out); err == nil {
		t.Fatal("expected decode error")
	}
	if out.FrameID != 99 || out.Label != "keep" {
		t.Errorf("destination partially modified: %+v", out)
	}
	if truncated.Offset() != 0 {
		t.Errorf("cursor not restored: %d", truncated.Offset())
	}
}

// tally is a map object with value receivers.
type tally map[string]int32

func (t tally) Encode(s Stream) error {
	if err := PutValue(s, uint16(len(t))); err != nil {
		return err
	}
	for k, v := range t {
		if err := PutString(s, k); err != nil {
			return err
		}
		if err := PutValue(s, v); err != nil {
			return err
		}
	}
	return nil
}

func (t tally) Decode(s Stream) error {
	var n uint16
	if err := GetValue(s, &n); err != nil {
		return err
	}
	for i := uint16(0); i < n; i++ {
		var k string
		var v int32
		if err := GetString(s, &k); err != nil {
			return err
		}
		if err := GetValue(s, &v); err != nil {
			return err
		}
		t[k] = v
	}
	return nil
}

func (t tally) Clear() {
	for k := range t {
		delete(t, k)
	}
}

func TestDecodeObject_Atomic(t *testing.T) {
	data, err := Marshal(&frameInfo{FrameID: 1, Width: 2, Scale: 3, Label: "label"})
	if err != nil {
		t.Fatal(err)
	}
	truncated := data[:len(data)-1]

	out := frameInfo{FrameID: 99, Label: "keep"}
	b := NewBinary(truncated)
	if err := Apply(Get, b, &out); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("Apply(Get) err = %v, want ErrUnderflow", err)
	}
	if out != (frameInfo{FrameID: 99, Label: "keep"}) {
		t.Errorf("Apply(Get) partially modified: %+v", out)
	}
	if b.Offset() != 0 {
		t.Errorf("cursor not restored: %d", b.Offset())
	}

	if err := Unmarshal(truncated, &out); err == nil {
		t.Fatal("expected Unmarshal error")
	}
	if out != (frameInfo{FrameID: 99, Label: "keep"}) {
		t.Errorf("Unmarshal partially modified: %+v", out)
	}

	// a complete buffer replaces every field
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != (frameInfo{FrameID: 1, Width: 2, Scale: 3, Label: "label"}) {
		t.Errorf("Unmarshal = %+v", out)
	}
}

func TestDecodeObject_AtomicValueReceiver(t *testing.T) {
	data, err := Marshal(tally{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}

	dst := tally{"keep": 7}
	if err := Unmarshal(data[:len(data)-1], dst); err == nil {
		t.Fatal("expected Unmarshal error")
	}
	if !reflect.DeepEqual(dst, tally{"keep": 7}) {
		t.Errorf("destination = %v, want it restored", dst)
	}
}

func TestSequence_ZeroWidthCountBounded(t *testing.T) {
	codec := SequenceOf(ObjectOf[Empty]())

	b := NewBinary(nil)
	_ = PutValue(b, int32(1<<31-1))
	b.Reset()

	var dst []Empty
	if err := codec.Get(b, &dst); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	if b.Offset() != 0 {
		t.Errorf("cursor not restored: %d", b.Offset())
	}

	// short sequences of field-less objects still decode
	b = NewBinary(nil)
	_ = PutValue(b, int32(3))
	b.Reset()
	if err := codec.Get(b, &dst); err != nil {
		t.Fatal(err)
	}
	if len(dst) != 3 {
		t.Errorf("len = %d, want 3", len(dst))
	}
}

func TestSequence_Underflow(t *testing.T) {
	codec := SequenceOf(Primitive[int32]())
	b := NewBinary(nil)
	_ = PutValue(b, int32(3))
	_ = PutValue(b, int32(1))
	b.Reset()

	dst := []int32{7}
	if err := codec.Get(b, &dst); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	if len(dst) != 1 || dst[0] != 7 {
		t.Errorf("destination modified: %v", dst)
	}
}

func TestApply_Tags(t *testing.T) {
	f := frameInfo{FrameID: 42, Label: "x"}
	b := NewBinary(nil)

	if err := Apply(Add, b, &f); err != nil {
		t.Fatal(err)
	}
	if err := Apply(Clear, b, &f); err != nil {
		t.Fatal(err)
	}
	if f != (frameInfo{}) {
		t.Errorf("Clear left %+v", f)
	}

	b.Reset()
	if err := Apply(Get, b, &f); err != nil {
		t.Fatal(err)
	}
	if f.FrameID != 42 || f.Label != "x" {
		t.Errorf("Get = %+v", f)
	}

	if err := Apply(Tag(9), b, &f); err == nil {
		t.Error("expected error for unknown tag")
	}
}

func TestFile_RoundTrip(t *testing.T) {
	fs, err := OpenFile(filepath.Join(t.TempDir(), "frames.bin"))
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()

	in := frameInfo{FrameID: 5, Width: 640, Scale: 2, Label: "file"}
	if err := in.Encode(fs); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	fs.Reset()
	var out frameInfo
	if err := Decode(fs, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}

	if fs.Pick(make([]byte, 1)) {
		t.Error("Pick past end of file should fail")
	}
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		KindPrimitive: "primitive",
		KindString:    "string",
		KindSequence:  "sequence",
		KindMap:       "map",
		KindObject:    "object",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
	if String.Kind() != KindString || framesCodec.Kind() != KindSequence || tagsCodec.Kind() != KindMap {
		t.Error("codec kinds mismatch")
	}
}
