package signals

import (
	"sync"
	"sync/atomic"
)

// Effect is a standing subscription that re-runs a side effect on every
// notification of any of its dependencies. Two dependencies firing for one
// logical change run the effect twice.
type Effect struct {
	id string
	sc *SyncContext
	fn func()

	mu       sync.Mutex
	stops    []func()
	disposed atomic.Bool
}

// NewEffect runs fn once immediately and again on every notification from
// deps. It returns ErrNoDependencies, without running fn, when deps holds
// no non-nil dependency.
//
// Example:
//
//	eff, err := signals.NewEffect(sc, func() {
//	    log.Println("count is", count.Value())
//	}, count)
func NewEffect(sc *SyncContext, fn func(), deps ...Dependency) (*Effect, error) {
	deps = nonNil(deps)
	if len(deps) == 0 {
		return nil, ErrNoDependencies
	}
	if sc == nil {
		sc = NewSyncContext(nil)
	}

	e := &Effect{
		id: NewID(sc.idLength),
		sc: sc,
		fn: fn,
	}

	e.run()

	e.mu.Lock()
	for _, dep := range deps {
		e.stops = append(e.stops, dep.Watch(e.run))
	}
	e.mu.Unlock()
	return e, nil
}

// ID returns the effect id used in logs.
func (e *Effect) ID() string {
	return e.id
}

// Dispose removes every dependency subscription. Safe to call twice.
func (e *Effect) Dispose() {
	if e.disposed.Swap(true) {
		return
	}
	e.mu.Lock()
	stops := e.stops
	e.stops = nil
	e.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// run executes the effect body. A panic is logged and does not stop later
// runs.
func (e *Effect) run() {
	if e.disposed.Load() {
		return
	}
	safeCall(e.sc.logger, e.sc.onError, "effect:"+e.id, e.fn)
}
