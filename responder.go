package mtslogic

import (
	"sync/atomic"

	"github.com/Zereker/mtslogic/stream"
)

// peer is the side of a connection a dispatched message arrived on.
type peer interface {
	SessionID() int32
	sendReply(correlation uint64, status Status, body []byte) error
	handleReply(r reply)
}

// Responder answers one call. It is handed to handlers through Call and
// can be parked in the Registry to answer the call later, from another
// handler invocation.
//
// Exactly one of Ack, Reply, Fail or Cancel takes effect; later calls
// return ErrAlreadyReplied. Calls without a correlation id (plain calls)
// accept a reply but nothing is sent.
type Responder struct {
	to          peer
	name        string
	logic       LogicID
	correlation uint64
	done        atomic.Bool
}

func newResponder(to peer, req request) *Responder {
	return &Responder{
		to:          to,
		name:        req.name,
		logic:       req.header.LogicID,
		correlation: req.correlation,
	}
}

// Name returns the class-qualified name of the call.
func (r *Responder) Name() string {
	return r.name
}

// Logic returns the logic id the call arrived with.
func (r *Responder) Logic() LogicID {
	return r.logic
}

// Expected reports whether the caller waits for an answer.
func (r *Responder) Expected() bool {
	return r.correlation != 0
}

// Done reports whether the call has been answered.
func (r *Responder) Done() bool {
	return r.done.Load()
}

// Ack wakes the caller without a result.
func (r *Responder) Ack() error {
	return r.respond(StatusOK, nil)
}

// Reply encodes o and sends it as the call result.
func (r *Responder) Reply(o stream.Object) error {
	body, err := stream.Marshal(o)
	if err != nil {
		if ferr := r.Fail(err); ferr != nil {
			return ferr
		}
		return err
	}
	return r.respond(StatusOK, body)
}

// Fail answers the call with StatusHandlerError and the error text.
func (r *Responder) Fail(err error) error {
	return r.respond(StatusHandlerError, []byte(err.Error()))
}

// Cancel answers the call with StatusCancelled.
func (r *Responder) Cancel() error {
	return r.respond(StatusCancelled, nil)
}

func (r *Responder) respond(status Status, body []byte) error {
	if r.done.Swap(true) {
		return ErrAlreadyReplied
	}
	if r.correlation == 0 {
		return nil
	}
	return r.to.sendReply(r.correlation, status, body)
}
