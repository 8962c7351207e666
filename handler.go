package mtslogic

import (
	"sort"
	"strings"
	"sync"

	"github.com/Zereker/mtslogic/stream"
)

// Handler serves calls registered under one class-qualified name.
type Handler interface {
	// Handle is called on the reactor goroutine for every call to the name.
	// If it returns without answering or blocking the call, the call is
	// acknowledged, or failed when Handle returned an error.
	Handle(call *Call) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(call *Call) error

// Handle implements Handler.
func (f HandlerFunc) Handle(call *Call) error {
	return f(call)
}

// QualifiedName joins a class and a method name the way callers address them.
func QualifiedName(class, method string) string {
	return class + "::" + method
}

// Handlers maps class-qualified names to handlers. It is populated during
// start-up and handed to the reactor.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers returns an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]Handler)}
}

// Register adds h under name. Registering a name twice fails with a
// *NameCollisionError.
func (hs *Handlers) Register(name string, h Handler) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if _, ok := hs.handlers[name]; ok {
		return &NameCollisionError{Name: name}
	}
	hs.handlers[name] = h
	return nil
}

// RegisterFunc adds fn under name.
func (hs *Handlers) RegisterFunc(name string, fn func(call *Call) error) error {
	return hs.Register(name, HandlerFunc(fn))
}

// RegisterClass adds every method under "class::method". Nothing is
// registered if any of the names is taken.
func (hs *Handlers) RegisterClass(class string, methods map[string]HandlerFunc) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	for method := range methods {
		name := QualifiedName(class, method)
		if _, ok := hs.handlers[name]; ok {
			return &NameCollisionError{Name: name}
		}
	}
	for method, fn := range methods {
		hs.handlers[QualifiedName(class, method)] = fn
	}
	return nil
}

// Lookup returns the handler registered under name.
func (hs *Handlers) Lookup(name string) (Handler, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	h, ok := hs.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (hs *Handlers) Names() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	names := make([]string, 0, len(hs.handlers))
	for name := range hs.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Class returns the class part of a qualified name, or "" if there is none.
func Class(name string) string {
	class, _, ok := strings.Cut(name, "::")
	if !ok {
		return ""
	}
	return class
}

// Call is one dispatched request as seen by a handler.
type Call struct {
	*Responder

	header   LogicHeader
	args     *stream.Binary
	registry *Registry
	blocked  bool
}

// SessionID returns the session id of the calling stub.
func (c *Call) SessionID() int32 {
	return c.header.SessionID
}

// Args returns the argument stream, positioned at the first argument.
func (c *Call) Args() stream.Stream {
	return c.args
}

// Decode reads the arguments into o.
func (c *Call) Decode(o stream.Object) error {
	return stream.DecodeObject(c.args, o)
}

// Block parks the call under id instead of answering it now. A later
// Peek(id) hands the Responder to whoever will answer. A call already
// parked under id is cancelled.
func (c *Call) Block(id int64) {
	c.blocked = true
	if displaced := c.registry.Block(id, c.Responder); displaced != nil {
		_ = displaced.Cancel()
	}
}

// Peek takes the responder parked under id, if any.
func (c *Call) Peek(id int64) (*Responder, bool) {
	return c.registry.Peek(id)
}

// DecodeArgs reads the arguments of call as a T. Nothing is returned
// unless every field decoded.
func DecodeArgs[T any, PT stream.ObjectPtr[T]](call *Call) (T, error) {
	var v T
	err := stream.Decode[T, PT](call.args, &v)
	return v, err
}
