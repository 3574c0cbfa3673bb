// Package redisbus fans sync messages out over a Redis Pub/Sub channel so
// any number of processes can share signal state.
//
// Delivery is at-most-once, as with any Redis Pub/Sub consumer. A bus
// never delivers its own messages back to itself.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vango-dev/sigsync/pkg/protocol"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "sigsync:signals"

// envelope tags every published message with the publishing bus.
type envelope struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithOrigin overrides the random origin id.
func WithOrigin(origin string) Option {
	return func(b *Bus) {
		b.origin = origin
	}
}

// Bus is a signals.Transport over Redis Pub/Sub.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// New creates a bus publishing on channel. The caller keeps ownership of
// rdb and closes it after the bus.
func New(rdb *redis.Client, channel string, opts ...Option) (*Bus, error) {
	if rdb == nil {
		return nil, errors.New("redisbus: redis client is required")
	}
	if channel == "" {
		return nil, errors.New("redisbus: channel cannot be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("channel", channel, "origin", b.origin)
	return b, nil
}

// Origin returns the id this bus stamps on its messages.
func (b *Bus) Origin() string {
	return b.origin
}

// Send publishes msg.
func (b *Bus) Send(msg signals.Message) error {
	if b.ctx.Err() != nil {
		return signals.ErrClosed
	}

	body, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, Message: body})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.rdb.Publish(b.ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// Listen subscribes to the channel and delivers messages from other
// origins to handler. It returns once the subscription is confirmed.
// Only the first call subscribes.
func (b *Bus) Listen(handler func(signals.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return signals.ErrClosed
	}
	if b.pubsub != nil {
		return nil
	}

	pubsub := b.rdb.Subscribe(b.ctx, b.channel)
	if _, err := pubsub.Receive(b.ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.pubsub = pubsub

	b.wg.Add(1)
	go b.receiveLoop(pubsub.Channel(), handler)
	return nil
}

func (b *Bus) receiveLoop(ch <-chan *redis.Message, handler func(signals.Message)) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.logger.Warn("malformed bus payload", "error", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}

			msg, err := protocol.DecodeMessage(env.Message)
			if err != nil {
				b.logger.Warn("malformed sync message", "from", env.Origin, "error", err)
				continue
			}
			handler(msg)
		}
	}
}

// Close unsubscribes and stops delivery. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsub := b.pubsub
	b.mu.Unlock()

	b.cancel()
	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	b.wg.Wait()
	return err
}
