//go:build linux

package sugar

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/mtslogic"
	"github.com/Zereker/mtslogic/stream"
)

var quiet = mtslogic.LoggerOption(slog.New(slog.NewTextHandler(io.Discard, nil)))

// serve starts a reactor with hs and returns a stub connected to it.
func serve(t *testing.T, hs *mtslogic.Handlers) *mtslogic.Stub {
	t.Helper()

	r, err := mtslogic.NewReactor(hs, quiet)
	if err != nil {
		t.Fatalf("NewReactor failed: %v", err)
	}
	if err := r.Listen(filepath.Join(t.TempDir(), "sugar.sock")); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = r.Wait()
	})

	stub, err := r.CreateStub(context.Background())
	if err != nil {
		t.Fatalf("CreateStub failed: %v", err)
	}
	return stub
}

func TestMethod_CallServe(t *testing.T) {
	lookup := NewMethod[stream.Value[int32], frameInfo]("FrameHandler", "lookup")
	if lookup.Name() != "FrameHandler::lookup" {
		t.Errorf("Name = %q", lookup.Name())
	}

	hs := mtslogic.NewHandlers()
	err := lookup.Serve(hs, func(req stream.Value[int32]) (frameInfo, error) {
		if req.V < 0 {
			return frameInfo{}, errors.New("negative frame id")
		}
		return frameInfo{FrameID: req.V, Tags: []string{"found"}}, nil
	})
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	stub := serve(t, hs)

	got, err := lookup.Call(context.Background(), stub, stream.Value[int32]{V: 5})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got.FrameID != 5 || len(got.Tags) != 1 || got.Tags[0] != "found" {
		t.Errorf("got %+v", got)
	}

	_, err = lookup.Call(context.Background(), stub, stream.Value[int32]{V: -1})
	if !errors.Is(err, mtslogic.ErrHandlerFailed) {
		t.Errorf("err = %v, want ErrHandlerFailed", err)
	}
}

func TestStubBackend_Publish(t *testing.T) {
	remote := NewLocalBackend()
	hs := mtslogic.NewHandlers()
	if err := ServeBackend(hs, remote); err != nil {
		t.Fatalf("ServeBackend failed: %v", err)
	}
	stub := serve(t, hs)

	received := make(chan frameInfo, 1)
	_, _ = NewEvent(remote, "frames", stream.ObjectOf[frameInfo]()).Subscribe(func(f frameInfo) {
		received <- f
	})

	backend := NewStubBackend(stub, NewLocalBackend())
	ev := NewEvent(backend, "frames", stream.ObjectOf[frameInfo]())
	if err := ev.Emit(frameInfo{FrameID: 9}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case f := <-received:
		if f.FrameID != 9 {
			t.Errorf("FrameID = %d, want 9", f.FrameID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}
