//go:build linux

package sugar

import (
	"context"

	"github.com/Zereker/mtslogic"
	"github.com/Zereker/mtslogic/stream"
)

// PublishName is the handler name StubBackend publishes through.
var PublishName = mtslogic.QualifiedName("Sugar", "publish")

// Method is a typed remote method. Req and Resp travel as stream objects.
type Method[Req, Resp any, PReq stream.ObjectPtr[Req], PResp stream.ObjectPtr[Resp]] struct {
	name string
}

// NewMethod returns the method class::method.
func NewMethod[Req, Resp any, PReq stream.ObjectPtr[Req], PResp stream.ObjectPtr[Resp]](class, method string) Method[Req, Resp, PReq, PResp] {
	return Method[Req, Resp, PReq, PResp]{name: mtslogic.QualifiedName(class, method)}
}

// Name returns the class-qualified name of the method.
func (m Method[Req, Resp, PReq, PResp]) Name() string {
	return m.name
}

// Call invokes the method through s and waits for its result.
func (m Method[Req, Resp, PReq, PResp]) Call(ctx context.Context, s *mtslogic.Stub, req Req) (Resp, error) {
	return mtslogic.Invoke[Resp, PResp](ctx, s, m.name, PReq(&req))
}

// Serve registers fn as the implementation of the method.
func (m Method[Req, Resp, PReq, PResp]) Serve(hs *mtslogic.Handlers, fn func(req Req) (Resp, error)) error {
	return hs.RegisterFunc(m.name, func(call *mtslogic.Call) error {
		req, err := mtslogic.DecodeArgs[Req, PReq](call)
		if err != nil {
			return err
		}
		resp, err := fn(req)
		if err != nil {
			return err
		}
		return call.Reply(PResp(&resp))
	})
}

// envelope is a published payload in transit.
type envelope struct {
	Topic string
	Data  []byte
}

func (e *envelope) Encode(s stream.Stream) error {
	if err := stream.PutString(s, e.Topic); err != nil {
		return err
	}
	return stream.PutBytes(s, e.Data)
}

func (e *envelope) Decode(s stream.Stream) error {
	if err := stream.GetString(s, &e.Topic); err != nil {
		return err
	}
	return stream.GetBytes(s, &e.Data)
}

func (e *envelope) Clear() {
	e.Topic = ""
	e.Data = nil
}

// StubBackend publishes through an mtslogic stub. The peer feeds what it
// receives into its own LocalBackend, see ServeBackend. Subscriptions are
// served by local.
type StubBackend struct {
	stub  *mtslogic.Stub
	local *LocalBackend
}

// NewStubBackend returns a backend publishing through stub.
func NewStubBackend(stub *mtslogic.Stub, local *LocalBackend) *StubBackend {
	return &StubBackend{stub: stub, local: local}
}

// Publish implements Backend. It does not wait for the peer.
func (b *StubBackend) Publish(topic string, data []byte) error {
	return b.stub.Call(PublishName, &envelope{Topic: topic, Data: data})
}

// Subscribe implements Backend.
func (b *StubBackend) Subscribe(topic string, fn func(data []byte)) (func(), error) {
	return b.local.Subscribe(topic, fn)
}

// ServeBackend registers the handler delivering payloads published by
// remote StubBackends into local.
func ServeBackend(hs *mtslogic.Handlers, local *LocalBackend) error {
	return hs.RegisterFunc(PublishName, func(call *mtslogic.Call) error {
		env, err := mtslogic.DecodeArgs[envelope](call)
		if err != nil {
			return err
		}
		return local.Publish(env.Topic, env.Data)
	})
}
