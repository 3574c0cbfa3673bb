package server

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// applyLoop runs host work on a single goroutine. Peers read on their own
// goroutines; routing their messages through here keeps signal writes and
// computed re-evaluation sequential on the host.
type applyLoop struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newApplyLoop(size int, logger *slog.Logger) *applyLoop {
	l := &applyLoop{
		jobs:   make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

func (l *applyLoop) run() {
	for {
		select {
		case fn := <-l.jobs:
			select {
			case <-l.done:
				return
			default:
			}
			l.exec(fn)
		case <-l.done:
			return
		}
	}
}

func (l *applyLoop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("apply panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// post queues fn. A full queue blocks the caller, which is a peer's read
// goroutine, so a flooding peer slows down instead of losing updates.
func (l *applyLoop) post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.jobs <- fn:
	case <-l.done:
		l.logger.Debug("apply loop stopped, discarding message")
	}
}

// do runs fn on the loop and waits for it. It returns false if the loop
// stopped first.
func (l *applyLoop) do(fn func()) bool {
	finished := make(chan struct{})
	l.post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

func (l *applyLoop) stop() {
	l.once.Do(func() { close(l.done) })
}
