//go:build linux

package main

import (
	"sync"

	"github.com/Zereker/mtslogic"
	"github.com/Zereker/mtslogic/stream"
)

const frameClass = "FrameHandler"

var (
	pushName = mtslogic.QualifiedName(frameClass, "push")
	popName  = mtslogic.QualifiedName(frameClass, "pop")
	lenName  = mtslogic.QualifiedName(frameClass, "len")
)

// frameInfo is one queued frame.
type frameInfo struct {
	FrameID   int32
	Timestamp int64
	Source    string
}

func (f *frameInfo) Encode(s stream.Stream) error {
	if err := stream.PutValue(s, f.FrameID); err != nil {
		return err
	}
	if err := stream.PutValue(s, f.Timestamp); err != nil {
		return err
	}
	return stream.PutString(s, f.Source)
}

func (f *frameInfo) Decode(s stream.Stream) error {
	if err := stream.GetValue(s, &f.FrameID); err != nil {
		return err
	}
	if err := stream.GetValue(s, &f.Timestamp); err != nil {
		return err
	}
	return stream.GetString(s, &f.Source)
}

func (f *frameInfo) Clear() { *f = frameInfo{} }

// pushArgs addresses a queue and carries the frame to append.
type pushArgs struct {
	Queue int64
	Frame frameInfo
}

func (a *pushArgs) Encode(s stream.Stream) error {
	if err := stream.PutValue(s, a.Queue); err != nil {
		return err
	}
	return a.Frame.Encode(s)
}

func (a *pushArgs) Decode(s stream.Stream) error {
	if err := stream.GetValue(s, &a.Queue); err != nil {
		return err
	}
	return a.Frame.Decode(s)
}

func (a *pushArgs) Clear() { *a = pushArgs{} }

// frameQueue keeps one FIFO of frames per queue id. A pop on an empty
// queue parks the caller until the next push to that queue.
type frameQueue struct {
	logger mtslogic.Logger

	mu     sync.Mutex
	queues map[int64][]frameInfo
}

func newFrameQueue(logger mtslogic.Logger) *frameQueue {
	return &frameQueue{logger: logger, queues: make(map[int64][]frameInfo)}
}

func (q *frameQueue) register(hs *mtslogic.Handlers) error {
	return hs.RegisterClass(frameClass, map[string]mtslogic.HandlerFunc{
		"push": q.push,
		"pop":  q.pop,
		"len":  q.size,
	})
}

func (q *frameQueue) push(call *mtslogic.Call) error {
	args, err := mtslogic.DecodeArgs[pushArgs](call)
	if err != nil {
		return err
	}

	if waiter, ok := call.Peek(args.Queue); ok {
		err := waiter.Reply(&args.Frame)
		if err == nil {
			q.logger.Debug("frame handed over", "queue", args.Queue, "frame", args.Frame.FrameID)
			return nil
		}
		q.logger.Warn("waiting consumer gone, queueing frame", "queue", args.Queue, "error", err)
	}

	q.mu.Lock()
	q.queues[args.Queue] = append(q.queues[args.Queue], args.Frame)
	q.mu.Unlock()
	return nil
}

func (q *frameQueue) pop(call *mtslogic.Call) error {
	id, err := mtslogic.DecodeArgs[stream.Value[int64]](call)
	if err != nil {
		return err
	}

	q.mu.Lock()
	frames := q.queues[id.V]
	if len(frames) == 0 {
		q.mu.Unlock()
		call.Block(id.V)
		return nil
	}
	head := frames[0]
	if len(frames) == 1 {
		delete(q.queues, id.V)
	} else {
		q.queues[id.V] = frames[1:]
	}
	q.mu.Unlock()

	return call.Reply(&head)
}

func (q *frameQueue) size(call *mtslogic.Call) error {
	id, err := mtslogic.DecodeArgs[stream.Value[int64]](call)
	if err != nil {
		return err
	}

	q.mu.Lock()
	n := int32(len(q.queues[id.V]))
	q.mu.Unlock()

	return call.Reply(&stream.Value[int32]{V: n})
}
