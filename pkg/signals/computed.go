package signals

import (
	"sync"
	"sync/atomic"
)

// Computed is a read-only cell derived from declared dependencies. It
// re-runs its function on every dependency notification and only notifies
// its own subscribers when the result changes.
//
// A panic in the function keeps the previous value. Recomputes triggered
// from several goroutines run one at a time.
type Computed[T any] struct {
	id string
	sc *SyncContext

	fn func() T

	// evalMu serializes evaluate-and-commit, so a result computed from
	// older inputs never lands after a newer one.
	evalMu sync.Mutex

	// mu protects value.
	mu    sync.RWMutex
	value T

	// notifyMu guards pending and notifying. last is the value subscribers
	// saw most recently; only the delivering goroutine touches it.
	notifyMu  sync.Mutex
	pending   bool
	notifying bool
	last      T

	equal func(T, T) bool

	subs     subscriberSet[T]
	stops    []func()
	disposed atomic.Bool
}

// NewComputed evaluates fn once and re-evaluates it whenever one of deps
// notifies. Nil deps are skipped. With none left the value can never
// change, which is logged.
func NewComputed[T any](sc *SyncContext, fn func() T, deps ...Dependency) *Computed[T] {
	if sc == nil {
		sc = NewSyncContext(nil)
	}
	c := &Computed[T]{
		id: NewID(sc.idLength),
		sc: sc,
		fn: fn,
	}
	deps = nonNil(deps)
	if len(deps) == 0 {
		sc.logger.Warn("computed has no dependencies and will never update", "computed_id", c.id)
	}

	c.evaluate()

	c.stops = make([]func(), 0, len(deps))
	for _, dep := range deps {
		c.stops = append(c.stops, dep.Watch(c.recompute))
	}
	return c
}

// ID returns the computed id.
func (c *Computed[T]) ID() string {
	return c.id
}

// Value returns the cached value.
func (c *Computed[T]) Value() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Subscribe calls fn whenever the cached value changes.
func (c *Computed[T]) Subscribe(fn func(T)) func() {
	return c.subs.add(NewSubscriber(fn))
}

// Attach subscribes a token, at most once.
func (c *Computed[T]) Attach(sub *Subscriber[T]) func() {
	return c.subs.add(sub)
}

// Watch implements Dependency.
func (c *Computed[T]) Watch(fn func()) func() {
	return c.Subscribe(func(T) { fn() })
}

// WithEquals replaces the equality used to detect changes.
func (c *Computed[T]) WithEquals(fn func(T, T) bool) *Computed[T] {
	c.equal = fn
	return c
}

// Dispose stops watching every dependency and drops subscribers.
func (c *Computed[T]) Dispose() {
	if c.disposed.Swap(true) {
		return
	}
	for _, stop := range c.stops {
		stop()
	}
	c.stops = nil
	c.subs.clear()
}

// evaluate seeds the value. A panic leaves the zero value.
func (c *Computed[T]) evaluate() {
	var v T
	err := safeCall(c.sc.logger, c.sc.onError, "computed:"+c.id, func() { v = c.fn() })
	if err != nil {
		return
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.last = v
}

// recompute is the dependency handler.
func (c *Computed[T]) recompute() {
	if c.disposed.Load() {
		return
	}
	c.evalMu.Lock()
	var v T
	err := safeCall(c.sc.logger, c.sc.onError, "computed:"+c.id, func() { v = c.fn() })
	changed := err == nil && c.commit(v)
	c.evalMu.Unlock()

	if changed {
		c.flush()
	}
}

// flush delivers the current value to subscribers. A change committed
// while another call is delivering is left to that call, which loops until
// nothing is pending. Subscribers therefore see values in commit order and
// always end on the latest one, and a subscriber that writes to one of
// the dependencies does not re-enter delivery.
func (c *Computed[T]) flush() {
	c.notifyMu.Lock()
	c.pending = true
	if c.notifying {
		c.notifyMu.Unlock()
		return
	}
	c.notifying = true
	for c.pending {
		c.pending = false
		c.notifyMu.Unlock()

		v := c.Value()
		if !c.equals(c.last, v) {
			c.last = v
			c.subs.notify(c.sc.logger, c.sc.onError, "computed:"+c.id, v)
		}

		c.notifyMu.Lock()
	}
	c.notifying = false
	c.notifyMu.Unlock()
}

// commit is the only mutation path of a Computed.
func (c *Computed[T]) commit(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.equals(c.value, v) {
		return false
	}
	c.value = v
	return true
}

func (c *Computed[T]) equals(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return defaultEquals(a, b)
}
