package mtslogic

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/mtslogic/stream"
)

// Result is the outcome of a call that expected an answer.
type Result struct {
	Name   string
	Status Status
	Body   []byte

	err error
}

// Err returns nil for a successful call, the local failure if the call
// never got an answer, or a *RemoteError for a non-OK status.
func (r Result) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.Status == StatusOK {
		return nil
	}
	return &RemoteError{Name: r.Name, Status: r.Status, Message: string(r.Body)}
}

// Decode reads the result body into o.
func (r Result) Decode(o stream.Object) error {
	return stream.Unmarshal(r.Body, o)
}

// pendingKind tags what to do with the answer of a pending call.
type pendingKind uint8

const (
	// pendingNone only wakes the waiting caller.
	pendingNone pendingKind = iota
	// pendingFunc runs a function callback.
	pendingFunc
	// pendingObject decodes into an object, then runs its callback.
	pendingObject
	// pendingPromise hands the raw result to the waiting caller.
	pendingPromise
)

// pendingCall is a call waiting for its reply, keyed by correlation id.
type pendingCall struct {
	id    uint64
	name  string
	kind  pendingKind
	fn    func(Result)
	obj   stream.Object
	objFn func(stream.Object, error)
	done  chan Result // buffered, nil for async callbacks
	timer *time.Timer

	logger Logger
}

// complete delivers res. It runs at most once per call because the call is
// removed from its table before complete is invoked.
func (c *pendingCall) complete(res Result) {
	if c.timer != nil {
		c.timer.Stop()
	}
	res.Name = c.name

	switch c.kind {
	case pendingFunc:
		if err := c.run(func() { c.fn(res) }); err != nil {
			res.err = err
		}
	case pendingObject:
		err := res.Err()
		if perr := c.run(func() {
			if err == nil {
				err = res.Decode(c.obj)
			}
			c.objFn(c.obj, err)
		}); perr != nil {
			err = perr
		}
		if err != nil {
			res.err = err
		}
	}

	if c.done != nil {
		c.done <- res
	}
}

// run calls fn and turns a panic into the call's error. Callbacks run on
// the reactor goroutine, which must survive them.
func (c *pendingCall) run(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("callback of %s panicked: %v", c.name, p)
			if c.logger != nil {
				c.logger.Error("call callback panicked", "name", c.name, "panic", p)
			}
		}
	}()
	fn()
	return nil
}

// pendingTable holds the calls a stub is waiting on.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[uint64]*pendingCall
	next   uint64
	limit  int
	closed error
	logger Logger
}

func newPendingTable(limit int, logger Logger) *pendingTable {
	return &pendingTable{
		calls:  make(map[uint64]*pendingCall),
		limit:  limit,
		logger: logger,
	}
}

// add assigns c a fresh correlation id and stores it. A positive timeout
// arms a timer failing the call with context.DeadlineExceeded; it is used
// for asynchronous callbacks that have no waiting caller to time out.
func (t *pendingTable) add(c *pendingCall, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return t.closed
	}
	if t.limit > 0 && len(t.calls) >= t.limit {
		return ErrCallInFlight
	}

	t.next++
	if t.next == 0 {
		t.next++
	}
	c.id = t.next
	c.logger = t.logger
	if timeout > 0 {
		id := c.id
		c.timer = time.AfterFunc(timeout, func() {
			t.expire(id, errors.Wrapf(context.DeadlineExceeded, "call %s", c.name))
		})
	}
	t.calls[c.id] = c
	return nil
}

// take removes and returns the call with the given id.
func (t *pendingTable) take(id uint64) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	return c
}

// resolve completes the call the reply answers. It returns false for
// replies nobody waits on, for example after a timeout.
func (t *pendingTable) resolve(r reply) bool {
	c := t.take(r.correlation)
	if c == nil {
		return false
	}
	c.complete(Result{Status: r.status, Body: r.body})
	return true
}

// expire fails the call with err if it is still pending.
func (t *pendingTable) expire(id uint64, err error) {
	if c := t.take(id); c != nil {
		c.complete(Result{err: err})
	}
}

// failAll fails every pending call with err and rejects new ones.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	calls := t.calls
	t.calls = make(map[uint64]*pendingCall)
	t.mu.Unlock()

	for _, c := range calls {
		c.complete(Result{err: err})
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
