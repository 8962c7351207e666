//go:build linux

// Command framequeue serves per-id frame queues over a Unix domain socket
// and pushes to or pops from them.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Zereker/mtslogic"
	"github.com/Zereker/mtslogic/stream"
)

const defaultSocket = "~/.mtslogic.sock"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := instance().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

type globals struct {
	socket   string
	logLevel string
	logger   *zap.Logger
}

func (g *globals) options() []mtslogic.Option {
	return []mtslogic.Option{mtslogic.LoggerOption(mtslogic.NewZapLogger(g.logger))}
}

func instance() *cli.App {
	g := &globals{socket: defaultSocket, logLevel: "info"}

	return &cli.App{
		Name:  "framequeue",
		Usage: "frame queues over mtslogic",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "socket",
				Usage:       "path of the Unix domain socket",
				EnvVars:     []string{"FRAMEQUEUE_SOCKET"},
				Destination: &g.socket,
				Value:       g.socket,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"FRAMEQUEUE_LOG_LEVEL"},
				Destination: &g.logLevel,
				Value:       g.logLevel,
			},
		},
		Before: func(*cli.Context) error {
			path, err := homedir.Expand(g.socket)
			if err != nil {
				return err
			}
			g.socket = path

			level, err := zapcore.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			cfg := zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(level)
			g.logger, err = cfg.Build()
			return err
		},
		After: func(*cli.Context) error {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(g),
			pushCmd(g),
			popCmd(g),
			lenCmd(g),
		},
	}
}

func serveCmd(g *globals) *cli.Command {
	maxConnections := 1024
	return &cli.Command{
		Name:  "serve",
		Usage: "listen on the socket and serve the queues",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "max-connections",
				Usage:       "sessions accepted at once",
				Destination: &maxConnections,
				Value:       maxConnections,
			},
		},
		Action: func(c *cli.Context) error {
			hs := mtslogic.NewHandlers()
			logger := mtslogic.NewZapLogger(g.logger)
			if err := newFrameQueue(logger).register(hs); err != nil {
				return err
			}

			opts := append(g.options(), mtslogic.MaxConnectionsOption(maxConnections))
			r, err := mtslogic.NewReactor(hs, opts...)
			if err != nil {
				return err
			}
			if err := r.Listen(g.socket); err != nil {
				_ = r.Close()
				return err
			}
			if err := r.Start(c.Context); err != nil {
				return err
			}
			return r.Wait()
		},
	}
}

// connect starts a client reactor and dials the server.
func connect(ctx context.Context, g *globals) (*mtslogic.Reactor, *mtslogic.Stub, error) {
	r, err := mtslogic.NewReactor(nil, g.options()...)
	if err != nil {
		return nil, nil, err
	}
	if err := r.Start(ctx); err != nil {
		return nil, nil, err
	}

	stub, err := r.Dial(ctx, g.socket)
	if err != nil {
		_ = r.Close()
		return nil, nil, err
	}
	return r, stub, nil
}

func pushCmd(g *globals) *cli.Command {
	var (
		queue  int64
		frame  int
		source string
		wait   bool
	)
	return &cli.Command{
		Name:  "push",
		Usage: "append a frame to a queue",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "queue", Usage: "queue id", Destination: &queue, Value: 1},
			&cli.IntFlag{Name: "frame", Usage: "frame id", Destination: &frame, Required: true},
			&cli.StringFlag{Name: "source", Usage: "frame source", Destination: &source},
			&cli.BoolFlag{Name: "sync", Usage: "wait until the server handled the push", Destination: &wait},
		},
		Action: func(c *cli.Context) error {
			r, stub, err := connect(c.Context, g)
			if err != nil {
				return err
			}
			defer r.Close()

			args := &pushArgs{Queue: queue, Frame: frameInfo{
				FrameID:   int32(frame),
				Timestamp: time.Now().UnixNano(),
				Source:    source,
			}}
			if wait {
				return stub.CallSync(c.Context, pushName, args)
			}
			return stub.Call(pushName, args)
		},
	}
}

func popCmd(g *globals) *cli.Command {
	var (
		queue   int64
		timeout time.Duration
	)
	return &cli.Command{
		Name:  "pop",
		Usage: "take the oldest frame of a queue, waiting for one if it is empty",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "queue", Usage: "queue id", Destination: &queue, Value: 1},
			&cli.DurationFlag{Name: "timeout", Usage: "give up after this long", Destination: &timeout, Value: time.Minute},
		},
		Action: func(c *cli.Context) error {
			r, stub, err := connect(c.Context, g)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, cancel := context.WithTimeout(c.Context, timeout)
			defer cancel()

			f, err := mtslogic.Invoke[frameInfo](ctx, stub, popName, &stream.Value[int64]{V: queue})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "frame=%d source=%q at=%s\n",
				f.FrameID, f.Source, time.Unix(0, f.Timestamp).Format(time.RFC3339Nano))
			return nil
		},
	}
}

func lenCmd(g *globals) *cli.Command {
	var queue int64
	return &cli.Command{
		Name:  "len",
		Usage: "print the number of queued frames",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "queue", Usage: "queue id", Destination: &queue, Value: 1},
		},
		Action: func(c *cli.Context) error {
			r, stub, err := connect(c.Context, g)
			if err != nil {
				return err
			}
			defer r.Close()

			n, err := mtslogic.Invoke[stream.Value[int32]](c.Context, stub, lenName, &stream.Value[int64]{V: queue})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, n.V)
			return nil
		},
	}
}
