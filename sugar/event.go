package sugar

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/mtslogic/stream"
)

// Event publishes values of type T on a topic.
type Event[T any] struct {
	backend Backend
	topic   string
	codec   stream.Codec[T]
}

// NewEvent binds topic on b, encoding values with codec.
func NewEvent[T any](b Backend, topic string, codec stream.Codec[T]) *Event[T] {
	return &Event[T]{backend: b, topic: topic, codec: codec}
}

// Topic returns the topic the event is published on.
func (e *Event[T]) Topic() string {
	return e.topic
}

func (e *Event[T]) encode(v T) ([]byte, error) {
	s := stream.NewBinary(nil)
	if err := e.codec.Put(s, v); err != nil {
		return nil, errors.Wrapf(err, "encode %s", e.topic)
	}
	return s.Bytes(), nil
}

func (e *Event[T]) decode(data []byte) (T, error) {
	var v T
	err := e.codec.Get(stream.NewBinary(data), &v)
	return v, err
}

// Emit publishes v to every subscriber.
func (e *Event[T]) Emit(v T) error {
	data, err := e.encode(v)
	if err != nil {
		return err
	}
	return e.backend.Publish(e.topic, data)
}

// Subscribe calls fn with every value emitted on the topic. Payloads that
// do not decode as a T are skipped.
func (e *Event[T]) Subscribe(fn func(T)) (func(), error) {
	return e.backend.Subscribe(e.topic, func(data []byte) {
		v, err := e.decode(data)
		if err != nil {
			return
		}
		fn(v)
	})
}

// Field is a value of type T whose changes are published on a topic.
// Every Field bound to the same topic follows the latest value set.
type Field[T any] struct {
	event       *Event[T]
	unsubscribe func()

	mu      sync.RWMutex
	value   T
	encoded []byte
	valid   bool
}

// NewField binds a field to topic on b.
func NewField[T any](b Backend, topic string, codec stream.Codec[T]) (*Field[T], error) {
	f := &Field[T]{event: NewEvent(b, topic, codec)}

	unsubscribe, err := b.Subscribe(topic, f.update)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}
	f.unsubscribe = unsubscribe
	return f, nil
}

func (f *Field[T]) update(data []byte) {
	v, err := f.event.decode(data)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
	f.encoded = bytes.Clone(data)
	f.valid = true
}

// Get returns the current value, and false if none was set yet.
func (f *Field[T]) Get() (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.valid
}

// Set stores v and notifies watchers. Nothing is published when v encodes
// to the same bytes as the current value; changed reports which happened.
func (f *Field[T]) Set(v T) (changed bool, err error) {
	data, err := f.event.encode(v)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	if f.valid && bytes.Equal(f.encoded, data) {
		f.mu.Unlock()
		return false, nil
	}
	f.value = v
	f.encoded = data
	f.valid = true
	f.mu.Unlock()

	return true, f.event.backend.Publish(f.event.topic, data)
}

// Watch calls fn with every new value.
func (f *Field[T]) Watch(fn func(T)) (func(), error) {
	return f.event.Subscribe(fn)
}

// Close stops following the topic.
func (f *Field[T]) Close() {
	f.unsubscribe()
}
