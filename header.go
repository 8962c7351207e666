package mtslogic

import (
	"encoding/binary"
	"fmt"
)

// LogicID is the first-level dispatch key carried in every message header.
type LogicID int32

// Built-in logic ids.
const (
	// LogicCall is a plain call. No reply is sent.
	LogicCall LogicID = 1
	// LogicExpectCall expects an acknowledgement once the handler ran.
	LogicExpectCall LogicID = 2
	// LogicExpectObject expects an encoded object in the reply.
	LogicExpectObject LogicID = 3
	// LogicExpectPromise expects a typed return value in the reply.
	LogicExpectPromise LogicID = 4
	// LogicReply carries the answer to one of the expect kinds.
	LogicReply LogicID = 5
)

func (l LogicID) String() string {
	switch l {
	case LogicCall:
		return "call"
	case LogicExpectCall:
		return "expect_call"
	case LogicExpectObject:
		return "expect_object"
	case LogicExpectPromise:
		return "expect_promise"
	case LogicReply:
		return "reply"
	}
	return fmt.Sprintf("logic(%d)", int32(l))
}

// hasCorrelation reports whether requests of this kind carry a correlation id.
// Every request kind except the plain call does, including unknown ones, so
// a peer can still answer a logic id it does not recognise.
func (l LogicID) hasCorrelation() bool {
	return l != LogicCall
}

const (
	lengthSize      = 4
	headerSize      = 8
	correlationSize = 8
	statusSize      = 4
)

// byteOrder is used for every integer on the wire.
var byteOrder = binary.LittleEndian

// LogicHeader is the fixed header at the start of every message body.
type LogicHeader struct {
	LogicID   LogicID
	SessionID int32
}

// request is a decoded call message.
//
//	plain call:  [int32 nameLen][name][args]
//	expect kind: [int32 nameLen][name][uint64 correlation][args]
type request struct {
	header      LogicHeader
	name        string
	correlation uint64
	args        []byte
}

// reply is a decoded LogicReply message: [uint64 correlation][int32 status][body].
type reply struct {
	correlation uint64
	status      Status
	body        []byte
}

func appendHeader(buf []byte, h LogicHeader) []byte {
	buf = byteOrder.AppendUint32(buf, uint32(h.LogicID))
	return byteOrder.AppendUint32(buf, uint32(h.SessionID))
}

// marshalRequest returns the message body of r, without the length prefix.
func marshalRequest(r request) []byte {
	size := headerSize + 4 + len(r.name) + len(r.args)
	if r.header.LogicID.hasCorrelation() {
		size += correlationSize
	}

	buf := make([]byte, 0, size)
	buf = appendHeader(buf, r.header)
	buf = byteOrder.AppendUint32(buf, uint32(len(r.name)))
	buf = append(buf, r.name...)
	if r.header.LogicID.hasCorrelation() {
		buf = byteOrder.AppendUint64(buf, r.correlation)
	}
	return append(buf, r.args...)
}

// marshalReply returns the message body of a reply, without the length prefix.
func marshalReply(sessionID int32, r reply) []byte {
	buf := make([]byte, 0, headerSize+correlationSize+statusSize+len(r.body))
	buf = appendHeader(buf, LogicHeader{LogicID: LogicReply, SessionID: sessionID})
	buf = byteOrder.AppendUint64(buf, r.correlation)
	buf = byteOrder.AppendUint32(buf, uint32(r.status))
	return append(buf, r.body...)
}

// parseHeader splits a message body into its header and payload.
func parseHeader(body []byte) (LogicHeader, []byte, error) {
	if len(body) < headerSize {
		return LogicHeader{}, nil, &MalformedError{What: "header", Size: len(body), MinSize: headerSize}
	}
	h := LogicHeader{
		LogicID:   LogicID(int32(byteOrder.Uint32(body[0:4]))),
		SessionID: int32(byteOrder.Uint32(body[4:8])),
	}
	return h, body[headerSize:], nil
}

// parseRequest decodes the payload of a call message.
func parseRequest(h LogicHeader, payload []byte) (request, error) {
	if len(payload) < 4 {
		return request{}, &MalformedError{What: "request", Size: len(payload), MinSize: 4}
	}
	nameLen := int(byteOrder.Uint32(payload[0:4]))
	need := 4 + nameLen
	if h.LogicID.hasCorrelation() {
		need += correlationSize
	}
	if nameLen < 0 || len(payload) < need {
		return request{}, &MalformedError{What: "request " + h.LogicID.String(), Size: len(payload), MinSize: need}
	}

	r := request{
		header: h,
		name:   string(payload[4 : 4+nameLen]),
	}
	rest := payload[4+nameLen:]
	if h.LogicID.hasCorrelation() {
		r.correlation = byteOrder.Uint64(rest[0:correlationSize])
		rest = rest[correlationSize:]
	}
	r.args = rest
	return r, nil
}

// parseReply decodes the payload of a LogicReply message.
func parseReply(payload []byte) (reply, error) {
	const need = correlationSize + statusSize
	if len(payload) < need {
		return reply{}, &MalformedError{What: "reply", Size: len(payload), MinSize: need}
	}
	return reply{
		correlation: byteOrder.Uint64(payload[0:8]),
		status:      Status(int32(byteOrder.Uint32(payload[8:12]))),
		body:        payload[need:],
	}, nil
}
