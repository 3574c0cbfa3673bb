package signals

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Signal is a mutable reactive cell mirrored through its SyncContext.
type Signal[T any] struct {
	id    string
	sc    *SyncContext
	local bool

	// mu protects value.
	mu    sync.RWMutex
	value T

	// equal decides whether a write is a change. nil means defaultEquals.
	equal func(T, T) bool

	subs   subscriberSet[T]
	closed atomic.Bool
}

// NewSignal creates a signal holding initial, registers it with sc and
// announces it to the paired context. A nil sc gives a private local-only
// context.
//
// An explicit id that a replica already holds is taken over: the signal
// starts from the replica's value when it converts to T. An id held by
// another declared signal is refused; the new signal is then not mirrored,
// which Mirrored reports.
func NewSignal[T any](sc *SyncContext, initial T, opts ...SignalOption) *Signal[T] {
	if sc == nil {
		sc = NewSyncContext(nil)
	}
	options := applyOptions(opts)

	s := &Signal[T]{
		id:    options.id,
		sc:    sc,
		local: options.local,
		value: initial,
	}
	if s.id == "" {
		s.id = sc.newID()
	}
	if s.local {
		return s
	}
	if r, ok := sc.Replica(s.id); ok {
		if v, err := convertValue[T](r.Value()); err == nil {
			s.value = v
		}
	}

	if !sc.register(s.id, entry{apply: s.applyRemote, value: s.anyValue}, nil) {
		s.local = true
		return s
	}
	sc.emit(Message{Type: MessageCreated, ID: s.id, Value: s.Value()})
	return s
}

// newReplica creates the Signal[any] standing in for a remote signal. It
// is registered under the remote id but not announced back.
func newReplica(sc *SyncContext, id string, raw any) *Signal[any] {
	initial, err := convertValue[any](raw)
	if err != nil {
		sc.logger.Warn("replica value not decodable", "signal_id", id, "error", err)
	}
	s := &Signal[any]{id: id, sc: sc, value: initial}
	if !sc.register(id, entry{apply: s.applyRemote, value: s.anyValue}, s) {
		return nil
	}
	sc.logger.Debug("replica created", "signal_id", id)
	return s
}

// ID returns the signal id.
func (s *Signal[T]) ID() string {
	return s.id
}

// Mirrored reports whether the signal is registered with its context and
// synced with the paired one.
func (s *Signal[T]) Mirrored() bool {
	return !s.local
}

// Value returns the current value.
func (s *Signal[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set stores v and notifies subscribers if it differs from the current
// value, then sends a signal-update to the paired context.
func (s *Signal[T]) Set(v T) {
	if !s.commit(v) {
		return
	}
	s.notify(v)
	if !s.local {
		s.sc.emit(Message{Type: MessageUpdate, ID: s.id, Value: v})
	}
}

// Update reads the current value, passes it to fn and sets the result.
func (s *Signal[T]) Update(fn func(T) T) {
	s.Set(fn(s.Value()))
}

// Subscribe calls fn with every committed value. The returned function
// removes the subscription and is safe to call more than once.
func (s *Signal[T]) Subscribe(fn func(T)) func() {
	return s.subs.add(NewSubscriber(fn))
}

// Attach subscribes a token. Attaching a token that is already subscribed
// does not add a second subscription.
func (s *Signal[T]) Attach(sub *Subscriber[T]) func() {
	return s.subs.add(sub)
}

// Detach removes a token. Detaching an unknown token is a no-op.
func (s *Signal[T]) Detach(sub *Subscriber[T]) {
	s.subs.remove(sub)
}

// Watch implements Dependency.
func (s *Signal[T]) Watch(fn func()) func() {
	return s.Subscribe(func(T) { fn() })
}

// WithEquals replaces the equality used to detect changes.
func (s *Signal[T]) WithEquals(fn func(T, T) bool) *Signal[T] {
	s.equal = fn
	return s
}

// Close removes the signal from the registry and drops its subscribers.
// Later writes and inbound updates are ignored.
func (s *Signal[T]) Close() {
	if s.closed.Swap(true) {
		return
	}
	if !s.local {
		s.sc.unregister(s.id)
	}
	s.subs.clear()
}

// applyRemote stores an inbound value and notifies local subscribers. It
// never sends: that is what keeps two mirrored contexts from echoing.
func (s *Signal[T]) applyRemote(raw any) {
	v, err := convertValue[T](raw)
	if err != nil {
		s.sc.logger.Warn("sync value not convertible", "signal_id", s.id,
			"type", fmt.Sprintf("%T", s.value), "error", err)
		return
	}
	if !s.commit(v) {
		return
	}
	s.notify(v)
}

// commit stores v if it is a change. Reports whether it stored.
func (s *Signal[T]) commit(v T) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.equals(s.value, v) {
		return false
	}
	s.value = v
	return true
}

func (s *Signal[T]) notify(v T) {
	s.subs.notify(s.sc.logger, s.sc.onError, "signal:"+s.id, v)
}

func (s *Signal[T]) anyValue() any {
	return s.Value()
}

func (s *Signal[T]) equals(a, b T) bool {
	if s.equal != nil {
		return s.equal(a, b)
	}
	return defaultEquals(a, b)
}

// convertValue turns an inbound value into T. In-process transports pass
// the value through unchanged; serializing transports deliver
// json.RawMessage or generic decoded values.
func convertValue[T any](raw any) (T, error) {
	var out T
	switch v := raw.(type) {
	case nil:
		return out, nil
	case json.RawMessage:
		err := json.Unmarshal(v, &out)
		return out, err
	case T:
		return v, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
