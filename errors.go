package mtslogic

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by stubs and the reactor.
var (
	// ErrConnectionClosed is returned when operating on a closed stub.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrCallInFlight is returned when a stub already holds MaxInFlight pending calls.
	ErrCallInFlight = errors.New("call already in flight on stub")
	// ErrReactorClosed is returned when the reactor has been shut down.
	ErrReactorClosed = errors.New("reactor closed")
	// ErrNotConnected is returned when a call is issued on a listening stub.
	ErrNotConnected = errors.New("stub is not connected")
	// ErrAlreadyReplied is returned when a responder is used twice.
	ErrAlreadyReplied = errors.New("reply already sent")
	// ErrWriteTimeout is returned when the peer does not drain its socket in time.
	ErrWriteTimeout = errors.New("write timeout")
)

// Errors carried back to callers by reply statuses.
var (
	// ErrHandlerNotFound is reported when no handler is registered under the called name.
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrUnknownLogic is reported when the peer does not know the message logic id.
	ErrUnknownLogic = errors.New("unknown logic id")
	// ErrHandlerFailed is reported when the remote handler returned an error.
	ErrHandlerFailed = errors.New("handler failed")
	// ErrCancelled is reported when the peer dropped the call, for example on shutdown.
	ErrCancelled = errors.New("call cancelled")
	// ErrMalformed is reported when a message could not be parsed.
	ErrMalformed = errors.New("malformed message")
)

// Status is the result code carried by every reply.
type Status int32

const (
	// StatusOK acknowledges a handled call.
	StatusOK Status = 2
	// StatusNoHandler means the called name is not registered.
	StatusNoHandler Status = -1
	// StatusUnknownLogic means the logic id is not in the dispatch table.
	StatusUnknownLogic Status = -2
	// StatusHandlerError means the handler ran and returned an error.
	StatusHandlerError Status = -3
	// StatusCancelled means the call was dropped without being answered.
	StatusCancelled Status = -4
	// StatusMalformed means the request could not be parsed.
	StatusMalformed Status = -5
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoHandler:
		return "no handler"
	case StatusUnknownLogic:
		return "unknown logic"
	case StatusHandlerError:
		return "handler error"
	case StatusCancelled:
		return "cancelled"
	case StatusMalformed:
		return "malformed"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

func (s Status) sentinel() error {
	switch s {
	case StatusNoHandler:
		return ErrHandlerNotFound
	case StatusUnknownLogic:
		return ErrUnknownLogic
	case StatusHandlerError:
		return ErrHandlerFailed
	case StatusCancelled:
		return ErrCancelled
	case StatusMalformed:
		return ErrMalformed
	}
	return nil
}

// RemoteError is returned to a caller whose call was answered with a
// status other than StatusOK. It unwraps to the sentinel matching the
// status, so errors.Is(err, ErrHandlerNotFound) works.
type RemoteError struct {
	Name    string
	Status  Status
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("call %s: %s", e.Name, e.Status)
	}
	return fmt.Sprintf("call %s: %s: %s", e.Name, e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Status.sentinel()
}

// NameCollisionError is returned when a handler name is registered twice.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("handler %q already registered", e.Name)
}

// MalformedError describes a message that is shorter than its layout requires.
type MalformedError struct {
	What    string
	Size    int
	MinSize int
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %d bytes, need at least %d", e.What, e.Size, e.MinSize)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}
