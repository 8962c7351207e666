//go:build linux

package mtslogic

import (
	"context"
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const stubEvents = unix.EPOLLIN | unix.EPOLLERR | unix.EPOLLPRI | unix.EPOLLHUP | unix.EPOLLRDHUP

// Reactor owns an epoll loop serving a listening socket, the sessions it
// accepts and the client stubs dialed through it.
//
// Every message that arrives on any of its stubs is dispatched on the loop
// goroutine: replies complete the pending call they answer, and calls run
// the handler registered under their name.
type Reactor struct {
	epfd   int
	wakefd int
	opts   options
	logger Logger

	handlers *Handlers
	registry *Registry
	dispatch *dispatcher
	readBuf  []byte

	mu       sync.Mutex
	stubs    map[int]*Stub
	sessions int
	path     string
	running  bool
	closed   bool

	cleanOnce sync.Once
	done      chan struct{} // closed once the loop resources are released
	stopped   chan struct{} // closed once Start's goroutines returned
	err       error
}

// NewReactor creates a reactor dispatching to handlers. A nil handlers
// table is replaced by an empty one, which still serves replies.
func NewReactor(handlers *Handlers, opt ...Option) (*Reactor, error) {
	if handlers == nil {
		handlers = NewHandlers()
	}
	opts := newOptions(opt...)

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	r := &Reactor{
		epfd:     epfd,
		wakefd:   wakefd,
		opts:     opts,
		logger:   opts.logger,
		handlers: handlers,
		registry: NewRegistry(),
		readBuf:  make([]byte, opts.readBufferSize),
		stubs:    make(map[int]*Stub),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	r.dispatch = newDispatcher(handlers, r.registry, r.logger)
	return r, nil
}

// Handlers returns the handler table the reactor dispatches to.
func (r *Reactor) Handlers() *Handlers {
	return r.handlers
}

// Registry returns the registry handlers park their calls in.
func (r *Reactor) Registry() *Registry {
	return r.registry
}

// Peek takes the responder parked under id, if any.
func (r *Reactor) Peek(id int64) (*Responder, bool) {
	return r.registry.Peek(id)
}

// Sessions returns the number of accepted sessions currently open.
func (r *Reactor) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

// Listen binds the reactor to a Unix domain socket at path. A stale socket
// file is removed first; it is removed again when the reactor closes.
func (r *Reactor) Listen(path string) error {
	// path reserves the listener before the bind, so a concurrent Listen
	// cannot unlink the socket file this one creates.
	r.mu.Lock()
	if current := r.path; current != "" {
		r.mu.Unlock()
		return errors.Errorf("reactor already listening on %s", current)
	}
	r.path = path
	r.mu.Unlock()

	fd, err := listenUnix(path, unix.SOMAXCONN)
	if err != nil {
		r.releasePath()
		return err
	}

	s := newStub(fd, RoleServer, r.opts)
	if err := r.register(s); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		r.releasePath()
		return err
	}

	r.logger.Info("reactor listening", "path", path)
	return nil
}

func (r *Reactor) releasePath() {
	r.mu.Lock()
	r.path = ""
	r.mu.Unlock()
}

// Start runs the event loop in the background until ctx is cancelled or
// Close is called. Use Wait to block until it has stopped.
func (r *Reactor) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrReactorClosed
	case r.running:
		r.mu.Unlock()
		return errors.New("reactor already started")
	}
	r.running = true
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer r.cleanup()
		return r.loop()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return r.Close()
		case <-r.done:
			return nil
		}
	})

	go func() {
		r.err = g.Wait()
		r.logger.Info("reactor stopped", "error", r.err)
		close(r.stopped)
	}()

	r.logger.Info("reactor started")
	return nil
}

// Wait blocks until the reactor has stopped and returns the error that
// stopped the loop, or nil after a clean shutdown.
func (r *Reactor) Wait() error {
	<-r.stopped
	return r.err
}

// Close stops the loop. Parked calls are cancelled, every stub is closed
// and their pending calls fail with ErrReactorClosed.
// Safe to call multiple times.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	running := r.running
	var err error
	if running {
		err = r.wake()
	}
	r.mu.Unlock()

	if !running {
		r.cleanup()
		close(r.stopped)
	}
	return err
}

// Dial connects a client stub to the reactor listening at path. The
// options override those of the reactor for this stub only.
func (r *Reactor) Dial(ctx context.Context, path string, opt ...Option) (*Stub, error) {
	opts := r.opts
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	fd, err := dialUnix(ctx, path, opts.dialAttempts, opts.dialBackoff, opts.logger)
	if err != nil {
		return nil, err
	}

	s := newStub(fd, RoleClient, opts)
	if err := r.register(s); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	r.logger.Debug("stub connected", "path", path, "session", s.sessionID)
	return s, nil
}

// CreateStub dials the reactor's own listening socket. Each worker that
// needs its own connection creates one.
func (r *Reactor) CreateStub(ctx context.Context, opt ...Option) (*Stub, error) {
	r.mu.Lock()
	path := r.path
	r.mu.Unlock()

	if path == "" {
		return nil, errors.Wrap(ErrNotConnected, "reactor is not listening")
	}
	return r.Dial(ctx, path, opt...)
}

func (r *Reactor) register(s *Stub) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrReactorClosed
	}

	ev := unix.EpollEvent{Events: stubEvents, Fd: int32(s.fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, s.fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}

	r.stubs[s.fd] = s
	if s.role == RoleSession {
		r.sessions++
	}
	return nil
}

func (r *Reactor) lookup(fd int) *Stub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stubs[fd]
}

func (r *Reactor) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Reactor) loop() error {
	events := make([]unix.EpollEvent, 64)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.logger.Error("epoll wait failed", "error", err)
			return os.NewSyscallError("epoll_wait", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakefd {
				r.drainWake()
				if r.isClosed() {
					return nil
				}
				continue
			}

			s := r.lookup(fd)
			if s == nil {
				continue
			}
			if s.role == RoleServer {
				r.accept(s)
				continue
			}
			r.serve(s, events[i].Events)
		}

		if n == len(events) {
			events = make([]unix.EpollEvent, 2*n)
		}
	}
}

// accept takes every pending connection off the listening socket.
// Failures are logged and the listener keeps serving.
func (r *Reactor) accept(ls *Stub) {
	for {
		fd, _, err := unix.Accept4(ls.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				r.logger.Error("accept failed", "error", err)
			}
			return
		}

		if r.Sessions() >= r.opts.maxConnections {
			r.logger.Warn("connection limit reached, rejecting session", "limit", r.opts.maxConnections)
			_ = unix.Close(fd)
			continue
		}

		s := newStub(fd, RoleSession, r.opts)
		if err := r.register(s); err != nil {
			r.logger.Error("register session failed", "error", err)
			_ = unix.Close(fd)
			return
		}
		r.logger.Debug("session accepted", "session", s.sessionID)
	}
}

// serve handles one readiness event of a connected stub.
func (r *Reactor) serve(s *Stub, events uint32) {
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if err := r.drain(s); err != nil {
			r.destroy(s, err)
			return
		}
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r.destroy(s, ErrConnectionClosed)
	}
}

// drain reads until the socket would block and dispatches every complete
// frame in arrival order.
func (r *Reactor) drain(s *Stub) error {
	emit := func(body []byte) {
		r.dispatch.handleMessage(s, body)
	}

	for {
		n, err := unix.Read(s.fd, r.readBuf)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return nil
			case errors.Is(err, unix.ECONNRESET):
				return ErrConnectionClosed
			}
			return os.NewSyscallError("read", err)
		}
		if n == 0 {
			return ErrConnectionClosed
		}

		if err := s.frames.feed(r.readBuf[:n], emit); err != nil {
			r.logger.Warn("framing error", "session", s.sessionID, "error", err)
			return err
		}
	}
}

// destroy deregisters s, fails its pending calls with cause and drops the
// calls it parked in the registry.
func (r *Reactor) destroy(s *Stub, cause error) {
	fd := s.fd

	r.mu.Lock()
	delete(r.stubs, fd)
	if s.role == RoleSession {
		r.sessions--
	}
	r.mu.Unlock()

	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	s.teardown(cause)

	purged := r.registry.purge(s)
	r.logger.Debug("stub closed", "session", s.sessionID, "role", s.role, "purged", purged, "cause", cause)
}

// cleanup releases everything the reactor holds. It runs once, after the
// loop exited or from Close when the loop never started.
func (r *Reactor) cleanup() {
	r.cleanOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		stubs := r.stubs
		r.stubs = make(map[int]*Stub)
		r.sessions = 0
		path := r.path
		r.mu.Unlock()

		for _, resp := range r.registry.drain() {
			if err := resp.Cancel(); err != nil && !errors.Is(err, ErrAlreadyReplied) {
				r.logger.Debug("cancel parked call failed", "name", resp.Name(), "error", err)
			}
		}

		for _, s := range stubs {
			s.teardown(ErrReactorClosed)
		}

		if path != "" {
			if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
				r.logger.Warn("remove socket file failed", "path", path, "error", err)
			}
		}

		r.mu.Lock()
		_ = unix.Close(r.wakefd)
		_ = unix.Close(r.epfd)
		r.mu.Unlock()

		close(r.done)
	})
}

// wake interrupts epoll_wait. Callers hold r.mu.
func (r *Reactor) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(r.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(r.wakefd, buf[:])
}
