package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vango-dev/sigsync/internal/config"
	"github.com/vango-dev/sigsync/internal/errors"
	"github.com/vango-dev/sigsync/pkg/middleware"
	"github.com/vango-dev/sigsync/pkg/signals"
	"github.com/vango-dev/sigsync/pkg/transport/pipe"
	"github.com/vango-dev/sigsync/pkg/transport/redisbus"
	"github.com/vango-dev/sigsync/pkg/transport/wsconn"
)

// readyTimeout bounds the wait for a host's initial snapshot.
const readyTimeout = 5 * time.Second

// connection is a client transport plus whatever must be released with it.
type connection struct {
	signals.Transport
	closers []io.Closer

	// ready is closed once the host's initial values have been handed to
	// the listener. nil when the transport has no such snapshot.
	ready <-chan struct{}
}

// waitReady blocks until the snapshot is in, ctx ends or timeout passes.
// A timeout is logged and not an error: older hosts never signal ready.
func (c *connection) waitReady(ctx context.Context, timeout time.Duration, logger *slog.Logger) error {
	if c.ready == nil {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		logger.Warn("host snapshot incomplete, continuing", "waited", timeout)
		return nil
	}
}

// Close releases the transport and its resources in reverse order.
func (c *connection) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// connect opens the client transport named by cfg.Transport. The pipe
// kind pairs the client with an in-process host seeded from cfg.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*connection, error) {
	var conn *connection

	switch cfg.Transport.Kind {
	case config.TransportWebSocket:
		ws, err := wsconn.Dial(ctx, cfg.Transport.URL,
			wsconn.WithLogger(logger),
			wsconn.WithConfig(wsconn.Config{
				ReadTimeout:       cfg.Server.ReadTimeout,
				WriteTimeout:      cfg.Server.WriteTimeout,
				HeartbeatInterval: cfg.Server.Heartbeat,
				MaxMessageSize:    wsconn.DefaultConfig().MaxMessageSize,
			}),
		)
		if err != nil {
			return nil, errors.New("E200").WithDetail(cfg.Transport.URL).Wrap(err)
		}
		conn = &connection{Transport: ws, closers: []io.Closer{ws}, ready: ws.Ready()}

	case config.TransportRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Transport.Redis.Addr,
			Password: cfg.Transport.Redis.Password,
			DB:       cfg.Transport.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, errors.New("E201").WithDetail(cfg.Transport.Redis.Addr).Wrap(err)
		}
		bus, err := redisbus.New(rdb, cfg.Transport.Redis.Channel, redisbus.WithLogger(logger))
		if err != nil {
			rdb.Close()
			return nil, errors.New("E201").Wrap(err)
		}
		conn = &connection{Transport: bus, closers: []io.Closer{rdb, bus}}

	case config.TransportPipe:
		var err error
		if conn, err = connectPipe(cfg, logger); err != nil {
			return nil, err
		}

	default:
		return nil, errors.New("E203").WithDetailf("transport.kind %q", cfg.Transport.Kind)
	}

	if cfg.Tracing.Enabled {
		conn.Transport = middleware.Chain(conn.Transport,
			middleware.OpenTelemetry(middleware.WithTracerName(cfg.Tracing.TracerName)))
	}
	return conn, nil
}

// readyMarker follows the in-process host's seed messages on a pipe.
const readyMarker = "sigsync-ready"

// connectPipe seeds a host context from cfg on one end of a pipe and
// returns the other end. The host applies inbound writes on the pipe's
// delivery goroutine, so derived expressions stay current.
func connectPipe(cfg *config.Config, logger *slog.Logger) (*connection, error) {
	// Seeding sends before the client listens; leave room for all of it.
	buffer := pipe.DefaultBuffer + 4*(len(cfg.Signals.Initial)+len(cfg.Derived))
	hostEnd, clientEnd := pipe.New(pipe.WithBuffer(buffer), pipe.WithLogger(logger))

	host := signals.NewSyncContext(hostEnd,
		signals.WithLogger(logger.With("side", "host")),
		signals.WithIDLength(cfg.Signals.IDLength),
	)
	if err := seed(host, cfg); err != nil {
		hostEnd.Close()
		clientEnd.Close()
		return nil, err
	}
	if err := host.Listen(); err != nil {
		hostEnd.Close()
		clientEnd.Close()
		return nil, errors.New("E200").Wrap(err)
	}
	hostEnd.Send(signals.Message{Type: readyMarker})

	gate := &readyGate{Transport: clientEnd, ready: make(chan struct{})}
	return &connection{
		Transport: gate,
		closers:   []io.Closer{hostEnd, clientEnd},
		ready:     gate.ready,
	}, nil
}

// readyGate forwards inbound messages and closes ready when the marker
// arrives, after every message ahead of it reached the handler.
type readyGate struct {
	signals.Transport
	once  sync.Once
	ready chan struct{}
}

func (g *readyGate) Listen(handler func(signals.Message)) error {
	return g.Transport.Listen(func(msg signals.Message) {
		if msg.Type == readyMarker {
			g.once.Do(func() { close(g.ready) })
			return
		}
		handler(msg)
	})
}
