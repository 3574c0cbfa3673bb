package signals

import (
	"log/slog"
	"sync"
)

// Subscriber is a stable subscription token. Attaching the same token to a
// signal more than once has the effect of a single subscription.
type Subscriber[T any] struct {
	fn func(T)
}

// NewSubscriber wraps fn in a token that can be attached and detached.
func NewSubscriber[T any](fn func(T)) *Subscriber[T] {
	return &Subscriber[T]{fn: fn}
}

// subscriberSet is the ordered subscriber list shared by Signal and
// Computed. Notification copies the list first, so subscribers may detach
// themselves or others mid-round.
type subscriberSet[T any] struct {
	mu   sync.RWMutex
	subs []*Subscriber[T]
}

// add appends sub unless it is already present and returns its remover.
func (s *subscriberSet[T]) add(sub *Subscriber[T]) func() {
	if sub == nil || sub.fn == nil {
		return func() {}
	}

	s.mu.Lock()
	found := false
	for _, existing := range s.subs {
		if existing == sub {
			found = true
			break
		}
	}
	if !found {
		s.subs = append(s.subs, sub)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(sub) })
	}
}

// remove deletes sub, keeping registration order for the rest.
func (s *subscriberSet[T]) remove(sub *Subscriber[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *subscriberSet[T]) clear() {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
}

func (s *subscriberSet[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// notify calls every subscriber present at the start of the round.
func (s *subscriberSet[T]) notify(logger *slog.Logger, hook ErrorHandler, source string, v T) {
	s.mu.RLock()
	subs := make([]*Subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		fn := sub.fn
		safeCall(logger, hook, source, func() { fn(v) })
	}
}
