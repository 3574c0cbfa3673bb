// Package wsconn carries sync messages over a WebSocket connection using
// the protocol framing. It is used on both sides: the server hub wraps
// upgraded connections, clients use Dial.
package wsconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/sigsync/pkg/protocol"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// Config holds connection timing.
type Config struct {
	// ReadTimeout is how long a connection may stay silent. Heartbeats
	// keep healthy connections inside it.
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// HeartbeatInterval is the ping period. Zero disables pings.
	HeartbeatInterval time.Duration

	// MaxMessageSize bounds inbound frames, header included. It can only
	// lower the protocol limit.
	MaxMessageSize int64
}

// DefaultConfig returns timings suitable for most deployments.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		MaxMessageSize:    protocol.FrameHeaderSize + protocol.MaxPayloadSize,
	}
}

// Option configures a Conn.
type Option func(*Conn)

// WithConfig sets connection timing.
func WithConfig(cfg Config) Option {
	return func(c *Conn) {
		c.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithID sets the connection id used in logs. Defaults to a random UUID.
func WithID(id string) Option {
	return func(c *Conn) {
		c.id = id
	}
}

// Conn is a signals.Transport over one WebSocket connection.
type Conn struct {
	id     string
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	// writeMu serializes frame writes; gorilla allows one writer.
	writeMu sync.Mutex

	listenOnce sync.Once
	handler    func(signals.Message)

	readyOnce sync.Once
	ready     chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps an established connection.
func New(conn *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:   conn,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.logger = c.logger.With("peer_id", c.id)
	return c
}

// Dial connects to a sigsync server endpoint such as ws://host/sync.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Ready is closed once the peer reports that its late-join snapshot has
// been sent, after every snapshot message was handed to the handler.
func (c *Conn) Ready() <-chan struct{} {
	return c.ready
}

// SendReady tells the peer the snapshot is complete.
func (c *Conn) SendReady() error {
	return c.sendControl(protocol.Control{Type: protocol.ControlReady})
}

// Send writes msg as a sync frame.
func (c *Conn) Send(msg signals.Message) error {
	return c.send(msg, 0)
}

// SendReplay writes msg flagged as part of a late-join snapshot.
func (c *Conn) SendReplay(msg signals.Message) error {
	return c.send(msg, protocol.FlagReplay)
}

func (c *Conn) send(msg signals.Message, flags protocol.FrameFlags) error {
	data, err := protocol.EncodeSyncFrame(msg, flags)
	if err != nil {
		return err
	}
	return c.writeFrame(data)
}

func (c *Conn) writeFrame(data []byte) error {
	if c.closed.Load() {
		return signals.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Listen installs handler and starts the read and heartbeat loops. Only
// the first call has an effect.
func (c *Conn) Listen(handler func(signals.Message)) error {
	if c.closed.Load() {
		return signals.ErrClosed
	}
	c.listenOnce.Do(func() {
		c.handler = handler
		if c.cfg.MaxMessageSize > 0 {
			c.conn.SetReadLimit(c.cfg.MaxMessageSize)
		}
		go c.readLoop()
		if c.cfg.HeartbeatInterval > 0 {
			go c.heartbeatLoop()
		}
	})
	return nil
}

// readLoop reads frames until the connection fails or closes.
func (c *Conn) readLoop() {
	defer c.shutdown()

	for {
		if c.cfg.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) && !c.closed.Load() {
				c.logger.Error("read error", "error", err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Error("frame decode error", "error", err)
			c.sendError(protocol.ErrInvalidFrame, err.Error())
			continue
		}

		switch frame.Type {
		case protocol.FrameSync:
			c.handleSyncFrame(frame.Payload)
		case protocol.FrameControl:
			if c.handleControlFrame(frame.Payload) {
				return
			}
		case protocol.FrameError:
			em, err := protocol.DecodeErrorMessage(frame.Payload)
			if err == nil {
				c.logger.Warn("peer reported error", "code", em.Code.String(), "message", em.Message)
			}
		}
	}
}

func (c *Conn) handleSyncFrame(payload []byte) {
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		c.logger.Error("sync decode error", "error", err)
		c.sendError(protocol.ErrInvalidSync, "invalid sync message")
		return
	}
	c.handler(msg)
}

// handleControlFrame reports whether the peer asked to close.
func (c *Conn) handleControlFrame(payload []byte) bool {
	ctl, err := protocol.DecodeControl(payload)
	if err != nil {
		c.logger.Error("control decode error", "error", err)
		return false
	}

	switch ctl.Type {
	case protocol.ControlPing:
		c.sendControl(protocol.Control{Type: protocol.ControlPong, Timestamp: ctl.Timestamp})
	case protocol.ControlPong:
		c.logger.Debug("received pong", "rtt_ms", time.Now().UnixMilli()-int64(ctl.Timestamp))
	case protocol.ControlReady:
		c.readyOnce.Do(func() { close(c.ready) })
	case protocol.ControlClose:
		c.logger.Info("peer closing")
		return true
	}
	return false
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts := uint64(time.Now().UnixMilli())
			if err := c.sendControl(protocol.Control{Type: protocol.ControlPing, Timestamp: ts}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) sendControl(ctl protocol.Control) error {
	data, err := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ctl)).Encode()
	if err != nil {
		return err
	}
	err = c.writeFrame(data)
	if err != nil && !errors.Is(err, signals.ErrClosed) {
		c.logger.Debug("control write failed", "type", ctl.Type.String(), "error", err)
	}
	return err
}

func (c *Conn) sendError(code protocol.ErrorCode, message string) {
	data, err := protocol.NewFrame(protocol.FrameError,
		protocol.EncodeErrorMessage(protocol.ErrorMessage{Code: code, Message: message})).Encode()
	if err != nil {
		return
	}
	if err := c.writeFrame(data); err != nil {
		c.logger.Debug("error frame write failed", "error", err)
	}
}

// Close tells the peer, then closes the connection. Safe to call twice.
func (c *Conn) Close() error {
	if !c.closed.Load() {
		c.sendControl(protocol.Control{Type: protocol.ControlClose})
	}
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.conn.Close()
	})
}
