package mtslogic

import (
	"time"
)

// Default configuration values.
const (
	// defaultMaxConnections is the default limit on accepted sessions.
	defaultMaxConnections = 1024
	// defaultMaxPackageLength is the default maximum size of a single frame body (4MB).
	defaultMaxPackageLength = 4 * 1024 * 1024
	// defaultReadBufferSize is the size of the reactor's read buffer.
	defaultReadBufferSize = 64 * 1024
	// defaultCallTimeout bounds blocking calls whose context has no deadline.
	defaultCallTimeout = 30 * time.Second
	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 30 * time.Second
	// defaultDialAttempts and defaultDialBackoff drive connect retries.
	defaultDialAttempts = 3
	defaultDialBackoff  = 1500 * time.Millisecond
)

// options holds the configuration for a reactor and the stubs it owns.
type options struct {
	logger Logger

	maxConnections int           // maximum number of accepted sessions
	maxReadLength  int           // maximum size of a single frame body
	readBufferSize int           // bytes read per recv call
	maxInFlight    int           // pending calls per stub, 0 for unlimited
	callTimeout    time.Duration // bound for blocking calls without a deadline
	writeTimeout   time.Duration // bound for a single frame write
	dialAttempts   int
	dialBackoff    time.Duration
}

// Option is a function that configures a reactor or a stub.
type Option func(*options)

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.maxConnections <= 0 {
		opts.maxConnections = defaultMaxConnections
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxInFlight < 0 {
		opts.maxInFlight = 0
	}

	if opts.callTimeout <= 0 {
		opts.callTimeout = defaultCallTimeout
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}

	if opts.dialAttempts <= 0 {
		opts.dialAttempts = defaultDialAttempts
	}

	if opts.dialBackoff < 0 {
		opts.dialBackoff = defaultDialBackoff
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

func newOptions(opt ...Option) options {
	opts := options{dialBackoff: -1}
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MaxConnectionsOption returns an Option that limits the number of sessions
// the reactor accepts. Connections over the limit are closed right after accept.
func MaxConnectionsOption(n int) Option {
	return func(o *options) {
		o.maxConnections = n
	}
}

// MessageMaxSize returns an Option that sets the maximum frame body size.
// A peer sending a larger frame is disconnected.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// ReadBufferSizeOption returns an Option that sets how many bytes the
// reactor reads per recv call.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// MaxInFlightOption returns an Option that limits the number of pending
// calls on a stub. With n == 1 a stub behaves as a single-slot connection
// and a second concurrent call fails with ErrCallInFlight. Zero means no limit.
func MaxInFlightOption(n int) Option {
	return func(o *options) {
		o.maxInFlight = n
	}
}

// CallTimeoutOption returns an Option that bounds every blocking call
// whose context carries no deadline.
func CallTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.callTimeout = timeout
	}
}

// WriteTimeoutOption returns an Option that bounds a single frame write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// DialRetryOption returns an Option that sets how many times a connect is
// attempted and how long to wait between attempts.
func DialRetryOption(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		o.dialAttempts = attempts
		o.dialBackoff = backoff
	}
}
