//go:build linux

package mtslogic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/Zereker/mtslogic/stream"
)

// Role is the part a stub plays in a conversation.
type Role int

const (
	// RoleServer is the listening socket.
	RoleServer Role = iota
	// RoleClient is a connection dialed by a caller.
	RoleClient
	// RoleSession is a connection accepted by the reactor.
	RoleSession
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	case RoleSession:
		return "session"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// sessionCounter hands out process-wide session ids.
var sessionCounter atomic.Int32

func nextSessionID() int32 {
	return sessionCounter.Add(1)
}

// Stub is one endpoint of a Unix domain socket conversation.
//
// Stubs are created by a Reactor, which reads from them and dispatches
// what arrives. Every call pattern assembles a message, sends it, and
// differs only in how the answer is awaited. Answers are matched to calls
// by a correlation id, so several goroutines may call through the same
// stub at once unless MaxInFlightOption says otherwise.
type Stub struct {
	fd        int
	role      Role
	sessionID int32
	logger    Logger
	opts      options

	frames  *frameBuffer
	pending *pendingTable

	writeMu sync.Mutex   // serializes writes
	fdMu    sync.RWMutex // write-locked only to close fd
	closed  atomic.Bool
}

func newStub(fd int, role Role, opts options) *Stub {
	return &Stub{
		fd:        fd,
		role:      role,
		sessionID: nextSessionID(),
		logger:    opts.logger,
		opts:      opts,
		frames:    newFrameBuffer(opts.maxReadLength),
		pending:   newPendingTable(opts.maxInFlight, opts.logger),
	}
}

// Role returns the role of the stub.
func (s *Stub) Role() Role {
	return s.role
}

// SessionID returns the opaque id of the stub, carried in every message it sends.
func (s *Stub) SessionID() int32 {
	return s.sessionID
}

// IsClosed returns true if the stub has been closed.
func (s *Stub) IsClosed() bool {
	return s.closed.Load()
}

// Pending returns the number of calls waiting for an answer.
func (s *Stub) Pending() int {
	return s.pending.len()
}

// Close shuts the connection down. The reactor notices the hangup and
// releases the stub; pending calls fail with ErrConnectionClosed.
// Safe to call multiple times.
func (s *Stub) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.shutdown()
}

// shutdown wakes a writer blocked on a full socket buffer. It does not
// wait for writeMu.
func (s *Stub) shutdown() error {
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()

	if s.fd < 0 {
		return nil
	}
	return unix.Shutdown(s.fd, unix.SHUT_RDWR)
}

// teardown closes the descriptor and fails pending calls.
// Only the reactor goroutine calls it.
func (s *Stub) teardown(cause error) {
	s.closed.Store(true)
	_ = s.shutdown()

	s.fdMu.Lock()
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	s.fdMu.Unlock()

	s.pending.failAll(cause)
}

// sendRaw writes data as is.
func (s *Stub) sendRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()

	if s.fd < 0 || s.closed.Load() {
		return ErrConnectionClosed
	}
	return writeAll(s.fd, data, time.Now().Add(s.opts.writeTimeout))
}

// sendData writes body behind its 4-byte length prefix.
func (s *Stub) sendData(body []byte) error {
	if len(body) > s.opts.maxReadLength {
		return errors.Wrapf(ErrMessageTooLarge, "frame of %d bytes", len(body))
	}
	return s.sendRaw(appendFrame(make([]byte, 0, lengthSize+len(body)), body))
}

func (s *Stub) sendReply(correlation uint64, status Status, body []byte) error {
	return s.sendData(marshalReply(s.sessionID, reply{
		correlation: correlation,
		status:      status,
		body:        body,
	}))
}

func (s *Stub) handleReply(r reply) {
	if !s.pending.resolve(r) {
		s.logger.Debug("reply without pending call", "session", s.sessionID, "correlation", r.correlation)
	}
}

func (s *Stub) request(logic LogicID, name string, correlation uint64, args stream.Object) error {
	if s.role == RoleServer {
		return ErrNotConnected
	}

	payload, err := stream.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encode arguments of %s", name)
	}

	return s.sendData(marshalRequest(request{
		header:      LogicHeader{LogicID: logic, SessionID: s.sessionID},
		name:        name,
		correlation: correlation,
		args:        payload,
	}))
}

// start registers c and sends its request. If the send fails after the
// stub already failed c, the failure has been delivered through c and
// start reports success.
func (s *Stub) start(c *pendingCall, logic LogicID, args stream.Object, timeout time.Duration) error {
	if s.role == RoleServer {
		return ErrNotConnected
	}
	if err := s.pending.add(c, timeout); err != nil {
		return errors.Wrapf(err, "call %s", c.name)
	}

	if err := s.request(logic, c.name, c.id, args); err != nil {
		if s.pending.take(c.id) == nil {
			return nil
		}
		if c.timer != nil {
			c.timer.Stop()
		}
		return err
	}
	return nil
}

// await blocks until c completes or ctx ends. Without a deadline on ctx
// the stub's call timeout applies.
func (s *Stub) await(ctx context.Context, c *pendingCall) Result {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, s.opts.callTimeout)
	}
	defer cancel()

	select {
	case res := <-c.done:
		return res
	case <-ctx.Done():
		if taken := s.pending.take(c.id); taken != nil {
			taken.complete(Result{err: errors.Wrapf(ctx.Err(), "call %s", c.name)})
		}
		return <-c.done
	}
}

// Call sends a fire-and-forget call. Nothing is awaited and no answer is sent.
func (s *Stub) Call(name string, args stream.Object) error {
	return s.request(LogicCall, name, 0, args)
}

// CallSync sends a call and blocks until the handler has run and
// acknowledged it.
func (s *Stub) CallSync(ctx context.Context, name string, args stream.Object) error {
	c := &pendingCall{name: name, kind: pendingNone, done: make(chan Result, 1)}
	if err := s.start(c, LogicExpectCall, args, 0); err != nil {
		return err
	}
	return s.await(ctx, c).Err()
}

// AsyncExpectCall sends a call and returns once it is written. cb runs
// exactly once on the reactor goroutine with the answer, or with the
// failure when the stub closes or no answer arrives within the call
// timeout. cb must not block.
func (s *Stub) AsyncExpectCall(name string, args stream.Object, cb func(Result)) error {
	c := &pendingCall{name: name, kind: pendingFunc, fn: resultCallback(cb)}
	return s.start(c, LogicExpectCall, args, s.opts.callTimeout)
}

// ExpectCall sends a call and blocks until cb has run with the answer.
func (s *Stub) ExpectCall(ctx context.Context, name string, args stream.Object, cb func(Result)) error {
	c := &pendingCall{name: name, kind: pendingFunc, fn: resultCallback(cb), done: make(chan Result, 1)}
	if err := s.start(c, LogicExpectCall, args, 0); err != nil {
		return err
	}
	return s.await(ctx, c).Err()
}

// ExpectObject sends a call whose answer is decoded into out, then runs
// cb with out and the outcome. It blocks until cb has run.
func (s *Stub) ExpectObject(ctx context.Context, name string, args, out stream.Object, cb func(stream.Object, error)) error {
	c := s.objectCall(name, out, cb)
	c.done = make(chan Result, 1)
	if err := s.start(c, LogicExpectObject, args, 0); err != nil {
		return err
	}
	return s.await(ctx, c).Err()
}

// AsyncExpectObject is ExpectObject without waiting. cb runs on the reactor
// goroutine and must not block.
func (s *Stub) AsyncExpectObject(name string, args, out stream.Object, cb func(stream.Object, error)) error {
	return s.start(s.objectCall(name, out, cb), LogicExpectObject, args, s.opts.callTimeout)
}

func resultCallback(cb func(Result)) func(Result) {
	if cb == nil {
		return func(Result) {}
	}
	return cb
}

func (s *Stub) objectCall(name string, out stream.Object, cb func(stream.Object, error)) *pendingCall {
	if cb == nil {
		cb = func(stream.Object, error) {}
	}
	return &pendingCall{name: name, kind: pendingObject, obj: out, objFn: cb}
}

// Invoke calls name and blocks until the handler answers with a T.
func Invoke[T any, PT stream.ObjectPtr[T]](ctx context.Context, s *Stub, name string, args stream.Object) (T, error) {
	var v T

	c := &pendingCall{name: name, kind: pendingPromise, done: make(chan Result, 1)}
	if err := s.start(c, LogicExpectPromise, args, 0); err != nil {
		return v, err
	}

	res := s.await(ctx, c)
	if err := res.Err(); err != nil {
		return v, err
	}
	if err := stream.Decode[T, PT](stream.NewBinary(res.Body), &v); err != nil {
		return v, errors.Wrapf(err, "decode result of %s", name)
	}
	return v, nil
}
