package signals

import (
	"log/slog"
	"sort"
	"sync"
)

// Option configures a SyncContext.
type Option func(*SyncContext)

// WithLogger sets the logger used for diagnostics and recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *SyncContext) {
		if logger != nil {
			sc.logger = logger
		}
	}
}

// WithIDLength sets the length of generated signal ids. Values below one
// fall back to DefaultIDLength.
func WithIDLength(n int) Option {
	return func(sc *SyncContext) {
		if n < 1 {
			n = DefaultIDLength
		}
		sc.idLength = n
	}
}

// WithErrorHandler registers a hook called for every recovered panic.
func WithErrorHandler(h ErrorHandler) Option {
	return func(sc *SyncContext) {
		sc.onError = h
	}
}

// WithDispatcher hands every inbound application to dispatch instead of
// running it on the transport's goroutine. Single-threaded contexts use it
// to apply remote updates on their own turn.
func WithDispatcher(dispatch func(func())) Option {
	return func(sc *SyncContext) {
		sc.dispatch = dispatch
	}
}

// WithReplication makes the context create a replica Signal[any] for every
// signal-created message about an unknown id.
func WithReplication() Option {
	return func(sc *SyncContext) {
		sc.replicate = true
	}
}

// entry is what the registry keeps per signal: a way to apply a remote
// value and a way to read the current one.
type entry struct {
	apply func(v any)
	value func() any
}

// SyncContext is the registry and transport binding shared by every signal
// of one execution context. Create one per context and pass it to the
// constructors.
type SyncContext struct {
	transport Transport
	logger    *slog.Logger
	onError   ErrorHandler
	dispatch  func(func())
	idLength  int
	replicate bool

	mu       sync.RWMutex
	entries  map[string]entry
	order    []string
	replicas map[string]*Signal[any]

	listenOnce sync.Once
	listenErr  error
}

// NewSyncContext creates a context bound to transport. A nil transport
// gives a local-only context: nothing is sent and nothing is received.
func NewSyncContext(transport Transport, opts ...Option) *SyncContext {
	sc := &SyncContext{
		transport: transport,
		logger:    slog.Default(),
		idLength:  DefaultIDLength,
		entries:   make(map[string]entry),
		replicas:  make(map[string]*Signal[any]),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Logger returns the context's logger.
func (sc *SyncContext) Logger() *slog.Logger {
	return sc.logger
}

// Listen installs the inbound handler on the transport. Only the first
// call has an effect; later calls return the first result.
func (sc *SyncContext) Listen() error {
	sc.listenOnce.Do(func() {
		if sc.transport == nil {
			return
		}
		sc.listenErr = sc.transport.Listen(sc.Receive)
		if sc.listenErr != nil {
			sc.logger.Error("sync listener install failed", "error", sc.listenErr)
		}
	})
	return sc.listenErr
}

// Receive handles one inbound message. Transports call it through the
// handler installed by Listen; it may also be called directly.
func (sc *SyncContext) Receive(msg Message) {
	if sc.dispatch != nil {
		sc.dispatch(func() { sc.apply(msg) })
		return
	}
	sc.apply(msg)
}

// apply performs the lookup for an inbound message. It never sends.
func (sc *SyncContext) apply(msg Message) {
	sc.mu.RLock()
	e, ok := sc.entries[msg.ID]
	sc.mu.RUnlock()

	switch msg.Type {
	case MessageUpdate:
		if !ok {
			sc.logger.Debug("sync update for unknown signal dropped", "signal_id", msg.ID)
			return
		}
		e.apply(msg.Value)

	case MessageCreated:
		if ok {
			// Both sides declared the id. Values converge through updates
			// and the late-join replay, never through crossed creations.
			sc.logger.Debug("sync created for known signal ignored", "signal_id", msg.ID)
			return
		}
		if !sc.replicate {
			return
		}
		newReplica(sc, msg.ID, msg.Value)

	default:
		sc.logger.Warn("unknown sync message type", "type", msg.Type, "signal_id", msg.ID)
	}
}

// emit sends msg to the paired context. Failures are logged and dropped.
func (sc *SyncContext) emit(msg Message) {
	if sc.transport == nil {
		return
	}
	if err := sc.transport.Send(msg); err != nil {
		sc.logger.Warn("sync send failed", "type", msg.Type, "signal_id", msg.ID, "error", err)
	}
}

// newID returns a generated id not currently registered.
func (sc *SyncContext) newID() string {
	for {
		id := NewID(sc.idLength)
		sc.mu.RLock()
		_, taken := sc.entries[id]
		sc.mu.RUnlock()
		if !taken {
			return id
		}
	}
}

// register adds e under id and reports whether it did. A declared signal may
// take over an id held by a replica; any other duplicate is refused and
// the existing entry keeps receiving updates. replica is non-nil when e
// belongs to a replica being created.
func (sc *SyncContext) register(id string, e entry, replica *Signal[any]) bool {
	sc.mu.Lock()
	_, exists := sc.entries[id]
	prev, isReplica := sc.replicas[id]
	if exists && (replica != nil || !isReplica) {
		sc.mu.Unlock()
		sc.logger.Error("signal id already registered, new signal is not mirrored", "signal_id", id)
		return false
	}
	if exists {
		prev.closed.Store(true)
		delete(sc.replicas, id)
	} else {
		sc.order = append(sc.order, id)
	}
	sc.entries[id] = e
	if replica != nil {
		sc.replicas[id] = replica
	}
	sc.mu.Unlock()

	if exists {
		sc.logger.Debug("replica replaced by local signal", "signal_id", id)
	}
	sc.Listen()
	return true
}

func (sc *SyncContext) unregister(id string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.entries[id]; !ok {
		return
	}
	delete(sc.entries, id)
	delete(sc.replicas, id)
	for i, existing := range sc.order {
		if existing == id {
			sc.order = append(sc.order[:i:i], sc.order[i+1:]...)
			break
		}
	}
}

// Registered reports whether a signal or replica is registered under id.
func (sc *SyncContext) Registered(id string) bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	_, ok := sc.entries[id]
	return ok
}

// Replica returns the replica created for a remote signal id.
func (sc *SyncContext) Replica(id string) (*Signal[any], bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	r, ok := sc.replicas[id]
	return r, ok
}

// Len returns the number of registered signals.
func (sc *SyncContext) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.entries)
}

// IDs returns the registered signal ids, sorted.
func (sc *SyncContext) IDs() []string {
	sc.mu.RLock()
	ids := make([]string, 0, len(sc.entries))
	for id := range sc.entries {
		ids = append(ids, id)
	}
	sc.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns the current value of every registered signal.
func (sc *SyncContext) Snapshot() map[string]any {
	sc.mu.RLock()
	entries := make(map[string]entry, len(sc.entries))
	for id, e := range sc.entries {
		entries[id] = e
	}
	sc.mu.RUnlock()

	out := make(map[string]any, len(entries))
	for id, e := range entries {
		out[id] = e.value()
	}
	return out
}

// Announce sends a signal-created message for every registered signal in
// registration order. Hosts call it when a new peer attaches.
func (sc *SyncContext) Announce() {
	for _, msg := range sc.CreatedMessages() {
		sc.emit(msg)
	}
}

// CreatedMessages returns the signal-created messages Announce would send.
func (sc *SyncContext) CreatedMessages() []Message {
	sc.mu.RLock()
	ids := make([]string, len(sc.order))
	copy(ids, sc.order)
	entries := make([]entry, len(ids))
	for i, id := range ids {
		entries[i] = sc.entries[id]
	}
	sc.mu.RUnlock()

	msgs := make([]Message, len(ids))
	for i, id := range ids {
		msgs[i] = Message{Type: MessageCreated, ID: id, Value: entries[i].value()}
	}
	return msgs
}
