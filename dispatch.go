// Package mtslogic is a stub/skeleton RPC engine over Unix domain sockets.
//
// A Reactor runs one epoll loop over a listening socket and the stubs it
// accepts or dials. Every complete length-prefixed message is dispatched by
// logic id first and then by class-qualified handler name. Stubs match
// replies to their calls by correlation id.
package mtslogic

import (
	"github.com/pkg/errors"

	"github.com/Zereker/mtslogic/stream"
)

// logicFunc serves every message of one logic id.
type logicFunc func(to peer, h LogicHeader, payload []byte)

// dispatcher routes a complete message body to its handler: first by the
// logic id in the header, then by the class-qualified name in the payload.
type dispatcher struct {
	handlers *Handlers
	registry *Registry
	logger   Logger
	table    map[LogicID]logicFunc
}

func newDispatcher(handlers *Handlers, registry *Registry, logger Logger) *dispatcher {
	d := &dispatcher{
		handlers: handlers,
		registry: registry,
		logger:   logger,
	}
	d.table = map[LogicID]logicFunc{
		LogicCall:          d.handleCall,
		LogicExpectCall:    d.handleCall,
		LogicExpectObject:  d.handleCall,
		LogicExpectPromise: d.handleCall,
		LogicReply:         d.handleReply,
	}
	return d
}

// handleMessage dispatches one message body received from to.
func (d *dispatcher) handleMessage(to peer, body []byte) {
	h, payload, err := parseHeader(body)
	if err != nil {
		d.logger.Warn("dropping message", "session", to.SessionID(), "error", err)
		return
	}

	fn, ok := d.table[h.LogicID]
	if !ok {
		d.rejectLogic(to, h, payload)
		return
	}
	fn(to, h, payload)
}

func (d *dispatcher) handleReply(to peer, h LogicHeader, payload []byte) {
	r, err := parseReply(payload)
	if err != nil {
		d.logger.Warn("dropping reply", "session", h.SessionID, "error", err)
		return
	}
	to.handleReply(r)
}

func (d *dispatcher) handleCall(to peer, h LogicHeader, payload []byte) {
	req, err := parseRequest(h, payload)
	if err != nil {
		d.logger.Warn("dropping request", "session", h.SessionID, "logic", h.LogicID, "error", err)
		return
	}

	resp := newResponder(to, req)
	handler, ok := d.handlers.Lookup(req.name)
	if !ok {
		d.logger.Warn("handler not found", "name", req.name, "session", h.SessionID, "logic", h.LogicID)
		d.answered(resp, resp.respond(StatusNoHandler, nil))
		return
	}

	call := &Call{
		Responder: resp,
		header:    h,
		args:      stream.NewBinary(req.args),
		registry:  d.registry,
	}

	err = d.invoke(handler, call)
	switch {
	case call.blocked || resp.Done():
		if err != nil {
			d.logger.Warn("handler error after answering", "name", req.name, "error", err)
		}
	case errors.Is(err, stream.ErrUnderflow):
		d.logger.Debug("handler could not decode arguments", "name", req.name, "error", err)
		d.answered(resp, resp.respond(StatusMalformed, []byte(err.Error())))
	case err != nil:
		d.logger.Debug("handler failed", "name", req.name, "error", err)
		d.answered(resp, resp.Fail(err))
	default:
		d.answered(resp, resp.Ack())
	}
}

// invoke runs h, turning a panic into an error so the reactor survives it.
func (d *dispatcher) invoke(h Handler, call *Call) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("handler %s panicked: %v", call.Name(), p)
		}
	}()
	return h.Handle(call)
}

// rejectLogic answers a message whose logic id is not in the table, so the
// caller does not wait forever. Without a recoverable correlation id the
// message is dropped.
func (d *dispatcher) rejectLogic(to peer, h LogicHeader, payload []byte) {
	d.logger.Warn("unknown logic id", "logic", h.LogicID, "session", h.SessionID)

	req, err := parseRequest(h, payload)
	if err != nil || req.correlation == 0 {
		return
	}
	if err := to.sendReply(req.correlation, StatusUnknownLogic, nil); err != nil {
		d.logger.Warn("reply failed", "logic", h.LogicID, "error", err)
	}
}

func (d *dispatcher) answered(resp *Responder, err error) {
	if err != nil && !errors.Is(err, ErrAlreadyReplied) {
		d.logger.Warn("reply failed", "name", resp.Name(), "error", err)
	}
}
