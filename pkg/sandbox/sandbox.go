// Package sandbox runs JavaScript against a SyncContext using goja.
//
// The runtime is owned by a single loop goroutine. Scripts, subscriber
// callbacks and inbound sync messages all run on that loop, so script code
// never sees concurrent access.
//
// Scripts get these globals:
//
//	signal(initial, id?)   -> {id, value, subscribe(fn), close()}
//	remote(id)             -> signal object for a replicated id, or null
//	computed(fn, deps)     -> {id, value, subscribe(fn), dispose()}
//	effect(fn, deps)       -> {id, dispose()}
//	console.log/warn/error
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// DefaultQueueSize bounds pending loop jobs.
const DefaultQueueSize = 256

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("sandbox: closed")

// Option configures a Sandbox.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	transport   signals.Transport
	syncOptions []signals.Option
	queueSize   int
}

// WithLogger sets the logger for the sandbox and its SyncContext.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport pairs the sandbox context with another context.
func WithTransport(t signals.Transport) Option {
	return func(c *config) {
		c.transport = t
	}
}

// WithSyncOptions passes extra options to the SyncContext.
func WithSyncOptions(opts ...signals.Option) Option {
	return func(c *config) {
		c.syncOptions = append(c.syncOptions, opts...)
	}
}

// WithQueueSize sets the loop queue size.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Sandbox is a goja runtime bound to a SyncContext.
type Sandbox struct {
	vm     *goja.Runtime
	sc     *signals.SyncContext
	logger *slog.Logger

	jobs      chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// runMu guards current, the job Run may interrupt.
	runMu   sync.Mutex
	current uint64
	nextJob uint64

	// deps maps ids of script-visible cells to their dependency. Loop only.
	deps map[string]signals.Dependency
}

// New starts a sandbox. Call Close to stop its loop.
func New(opts ...Option) *Sandbox {
	cfg := config{logger: slog.Default(), queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Sandbox{
		vm:      goja.New(),
		logger:  cfg.logger.With("component", "sandbox"),
		jobs:    make(chan func(), cfg.queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		deps:    make(map[string]signals.Dependency),
	}

	syncOpts := append([]signals.Option{signals.WithLogger(cfg.logger)}, cfg.syncOptions...)
	syncOpts = append(syncOpts, signals.WithDispatcher(s.post))
	s.sc = signals.NewSyncContext(cfg.transport, syncOpts...)

	go s.loop()
	s.post(s.installGlobals)
	return s
}

// Context returns the sandbox SyncContext.
func (s *Sandbox) Context() *signals.SyncContext {
	return s.sc
}

// Listen starts receiving from the transport. Signals created by scripts
// start it too; call Listen when the script only reads replicas.
func (s *Sandbox) Listen() error {
	return s.sc.Listen()
}

func (s *Sandbox) loop() {
	defer close(s.stopped)
	for {
		select {
		case job := <-s.jobs:
			select {
			case <-s.done:
				return
			default:
			}
			signals.SafeCall(s.logger, "sandbox", job)
		case <-s.done:
			return
		}
	}
}

// post queues fn on the loop. It is dropped once the sandbox is closed.
func (s *Sandbox) post(fn func()) {
	select {
	case s.jobs <- fn:
	case <-s.done:
	}
}

// Run evaluates src on the loop and returns its exported completion
// value. Cancelling ctx interrupts the script. Run must not be called
// from script callbacks.
func (s *Sandbox) Run(ctx context.Context, src string) (any, error) {
	type result struct {
		value any
		err   error
	}
	out := make(chan result, 1)

	s.runMu.Lock()
	s.nextJob++
	id := s.nextJob
	s.runMu.Unlock()

	job := func() {
		s.runMu.Lock()
		s.current = id
		s.vm.ClearInterrupt()
		s.runMu.Unlock()

		defer func() {
			s.runMu.Lock()
			s.current = 0
			s.runMu.Unlock()
		}()

		v, err := s.vm.RunString(src)
		if err != nil {
			out <- result{err: err}
			return
		}
		out <- result{value: export(v)}
	}

	select {
	case s.jobs <- job:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-out:
		return r.value, r.err
	case <-s.stopped:
		return nil, ErrClosed
	case <-ctx.Done():
		s.runMu.Lock()
		if s.current == id {
			s.vm.Interrupt(ctx.Err())
		}
		s.runMu.Unlock()
	}

	select {
	case r := <-out:
		var interrupted *goja.InterruptedError
		if errors.As(r.err, &interrupted) {
			return nil, ctx.Err()
		}
		return r.value, r.err
	case <-s.stopped:
		return nil, ErrClosed
	}
}

// Close stops the loop. Pending jobs are dropped. Safe to call twice.
func (s *Sandbox) Close() error {
	s.closeOnce.Do(func() {
		s.runMu.Lock()
		s.vm.Interrupt(ErrClosed)
		s.runMu.Unlock()
		close(s.done)
	})
	<-s.stopped
	return nil
}

func (s *Sandbox) installGlobals() {
	vm := s.vm
	vm.Set("signal", s.jsSignal)
	vm.Set("remote", s.jsRemote)
	vm.Set("computed", s.jsComputed)
	vm.Set("effect", s.jsEffect)

	console := vm.NewObject()
	console.Set("log", s.consoleFunc(slog.LevelInfo))
	console.Set("warn", s.consoleFunc(slog.LevelWarn))
	console.Set("error", s.consoleFunc(slog.LevelError))
	vm.Set("console", console)
}

func (s *Sandbox) consoleFunc(level slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		s.logger.Log(context.Background(), level, "script console", "message", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// export converts a JS value to Go. Integral numbers come back as
// float64 so values compare equal to their JSON-decoded mirrors.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	x := v.Export()
	if i, ok := x.(int64); ok {
		return float64(i)
	}
	return x
}
