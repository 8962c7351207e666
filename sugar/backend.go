// Package sugar layers typed events, fields and methods over a
// publish/subscribe backend and the mtslogic call machinery.
package sugar

import (
	"sync"
)

// Backend moves encoded payloads between publishers and subscribers of a topic.
type Backend interface {
	// Publish delivers data to every subscriber of topic.
	Publish(topic string, data []byte) error
	// Subscribe registers fn for topic. The returned function removes it.
	Subscribe(topic string, fn func(data []byte)) (unsubscribe func(), error)
}

// LocalBackend fans payloads out to subscribers in the same process.
// Subscribers run on the publishing goroutine and must treat data as
// read-only.
type LocalBackend struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string]map[uint64]func([]byte)
}

// NewLocalBackend returns a backend without subscribers.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{topics: make(map[string]map[uint64]func([]byte))}
}

// Publish implements Backend.
func (b *LocalBackend) Publish(topic string, data []byte) error {
	b.mu.RLock()
	subs := make([]func([]byte), 0, len(b.topics[topic]))
	for _, fn := range b.topics[topic] {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(data)
	}
	return nil
}

// Subscribe implements Backend.
func (b *LocalBackend) Subscribe(topic string, fn func(data []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]func([]byte))
	}
	b.topics[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.topics[topic], id)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
		})
	}, nil
}

// Subscribers returns the number of subscribers of topic.
func (b *LocalBackend) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
