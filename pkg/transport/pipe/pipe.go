// Package pipe connects two SyncContexts in one process. Each end delivers
// inbound messages in order on its own goroutine, the way a worker/host
// message boundary does.
package pipe

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/sigsync/pkg/signals"
)

// DefaultBuffer is the per-end inbound queue size.
const DefaultBuffer = 256

// Option configures a pipe.
type Option func(*config)

type config struct {
	buffer int
	logger *slog.Logger
}

// WithBuffer sets the inbound queue size of each end.
func WithBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithLogger sets the logger used for dropped messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// End is one side of a pipe. It implements signals.Transport.
type End struct {
	name   string
	peer   *End
	inbox  chan signals.Message
	logger *slog.Logger

	mu      sync.Mutex
	handler func(signals.Message)
	started bool
	closed  atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New returns two connected ends. A message sent on one is delivered to
// the handler installed on the other.
func New(opts ...Option) (*End, *End) {
	cfg := config{buffer: DefaultBuffer, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	a := newEnd("a", cfg)
	b := newEnd("b", cfg)
	a.peer, b.peer = b, a
	return a, b
}

func newEnd(name string, cfg config) *End {
	return &End{
		name:   name,
		inbox:  make(chan signals.Message, cfg.buffer),
		logger: cfg.logger.With("pipe_end", name),
		done:   make(chan struct{}),
	}
}

// Send queues msg for the peer. A full queue drops the message: the mirror
// goes stale until the next update for that signal.
func (e *End) Send(msg signals.Message) error {
	p := e.peer
	if e.closed.Load() || p.closed.Load() {
		return signals.ErrClosed
	}

	select {
	case p.inbox <- msg:
	default:
		p.logger.Warn("pipe inbox full, message dropped", "type", msg.Type, "signal_id", msg.ID)
	}
	return nil
}

// Listen installs handler and starts delivery. Only the first call has an
// effect.
func (e *End) Listen(handler func(signals.Message)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return signals.ErrClosed
	}
	if e.started {
		return nil
	}
	e.started = true
	e.handler = handler

	e.wg.Add(1)
	go e.deliver()
	return nil
}

func (e *End) deliver() {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.inbox:
			e.handler(msg)
		case <-e.done:
			return
		}
	}
}

// Close stops delivery on this end. Queued messages are discarded. It must
// not be called from inside the handler.
func (e *End) Close() error {
	e.mu.Lock()
	if e.closed.Swap(true) {
		e.mu.Unlock()
		return nil
	}
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}
