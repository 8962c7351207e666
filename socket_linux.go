//go:build linux

package mtslogic

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenUnix creates a non-blocking listening socket bound to path.
// A stale socket file left by a previous run is removed first.
func listenUnix(path string, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}

	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		unix.Close(fd)
		return -1, errors.Wrapf(os.NewSyscallError("unlink", err), "remove stale socket %s", path)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(os.NewSyscallError("bind", err), "bind %s", path)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(os.NewSyscallError("listen", err), "listen %s", path)
	}
	return fd, nil
}

// connectUnix connects to path and returns a non-blocking descriptor.
func connectUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}

	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(os.NewSyscallError("connect", err), "connect %s", path)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}
	return fd, nil
}

// dialUnix connects to path, retrying up to attempts times with backoff in between.
func dialUnix(ctx context.Context, path string, attempts int, backoff time.Duration, logger Logger) (int, error) {
	for attempt := 1; ; attempt++ {
		fd, err := connectUnix(path)
		if err == nil {
			return fd, nil
		}
		if attempt >= attempts {
			return -1, err
		}

		logger.Warn("connect failed, retrying", "path", path, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// writeAll writes data to the non-blocking fd, looping over partial writes
// and waiting for writability until deadline.
func writeAll(fd int, data []byte, deadline time.Time) error {
	for len(data) > 0 {
		n, err := unix.SendmsgN(fd, data, nil, nil, unix.MSG_NOSIGNAL)
		if n > 0 {
			data = data[n:]
		}

		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := waitWritable(fd, deadline); err != nil {
				return err
			}
		case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
			return ErrConnectionClosed
		default:
			return os.NewSyscallError("sendmsg", err)
		}
	}
	return nil
}

func waitWritable(fd int, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrWriteTimeout
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(remaining/time.Millisecond)+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return ErrConnectionClosed
		}
		return nil
	}
}
