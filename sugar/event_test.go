package sugar

import (
	"testing"

	"github.com/Zereker/mtslogic/stream"
)

type frameInfo struct {
	FrameID int32
	Tags    []string
}

func (f *frameInfo) Encode(s stream.Stream) error {
	if err := stream.PutValue(s, f.FrameID); err != nil {
		return err
	}
	return tagsCodec.Put(s, f.Tags)
}

func (f *frameInfo) Decode(s stream.Stream) error {
	if err := stream.GetValue(s, &f.FrameID); err != nil {
		return err
	}
	return tagsCodec.Get(s, &f.Tags)
}

func (f *frameInfo) Clear() { *f = frameInfo{} }

var tagsCodec = stream.SequenceOf(stream.String)

func TestLocalBackend_FanOut(t *testing.T) {
	b := NewLocalBackend()

	var a, c []string
	unsubA, _ := b.Subscribe("t", func(d []byte) { a = append(a, string(d)) })
	_, _ = b.Subscribe("t", func(d []byte) { c = append(c, string(d)) })
	_, _ = b.Subscribe("other", func([]byte) { t.Error("wrong topic delivered") })

	_ = b.Publish("t", []byte("one"))
	unsubA()
	unsubA()
	_ = b.Publish("t", []byte("two"))

	if len(a) != 1 || a[0] != "one" {
		t.Errorf("a = %q, want [one]", a)
	}
	if len(c) != 2 {
		t.Errorf("c = %q, want [one two]", c)
	}
	if n := b.Subscribers("t"); n != 1 {
		t.Errorf("Subscribers = %d, want 1", n)
	}
}

func TestEvent_EmitSubscribe(t *testing.T) {
	b := NewLocalBackend()
	ev := NewEvent(b, "frames", stream.ObjectOf[frameInfo]())

	var got []frameInfo
	unsubscribe, err := ev.Subscribe(func(f frameInfo) { got = append(got, f) })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	if err := ev.Emit(frameInfo{FrameID: 5, Tags: []string{"key"}}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	// undecodable payloads are skipped
	_ = b.Publish("frames", []byte{1})

	if len(got) != 1 || got[0].FrameID != 5 || len(got[0].Tags) != 1 || got[0].Tags[0] != "key" {
		t.Errorf("got %+v", got)
	}
}

func TestField_NotifiesOnChange(t *testing.T) {
	b := NewLocalBackend()
	speed, err := NewField(b, "speed", stream.Primitive[uint16]())
	if err != nil {
		t.Fatalf("NewField failed: %v", err)
	}
	defer speed.Close()

	if _, ok := speed.Get(); ok {
		t.Error("unset field reports a value")
	}

	var seen []uint16
	_, _ = speed.Watch(func(v uint16) { seen = append(seen, v) })

	for _, v := range []uint16{10, 10, 20, 20, 10} {
		if _, err := speed.Set(v); err != nil {
			t.Fatalf("Set(%d) failed: %v", v, err)
		}
	}

	want := []uint16{10, 20, 10}
	if len(seen) != len(want) {
		t.Fatalf("seen %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
	if v, ok := speed.Get(); !ok || v != 10 {
		t.Errorf("Get = %d, %v; want 10", v, ok)
	}
}

func TestField_FollowsOtherWriter(t *testing.T) {
	b := NewLocalBackend()
	writer, _ := NewField(b, "mode", stream.String)
	reader, _ := NewField(b, "mode", stream.String)
	defer writer.Close()
	defer reader.Close()

	changed, err := writer.Set("drive")
	if err != nil || !changed {
		t.Fatalf("Set = %v, %v", changed, err)
	}
	if v, ok := reader.Get(); !ok || v != "drive" {
		t.Errorf("reader = %q, %v; want drive", v, ok)
	}

	// the reader already holds the value, so setting it there is a no-op
	if changed, _ := reader.Set("drive"); changed {
		t.Error("setting the current value reported a change")
	}
}
