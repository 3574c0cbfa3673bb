// Package signals provides the reactive core for sigsync.
//
// The reactive system keeps derived values and side effects in step with
// the signals they read. Unlike tracking-based systems, dependencies are
// declared explicitly when a Computed or Effect is created.
//
// # Core Types
//
// Signal[T] is a mutable reactive cell:
//
//	sc := signals.NewSyncContext(transport)
//	count := signals.NewSignal(sc, 0)
//	count.Set(5)                         // notifies subscribers, emits signal-update
//	count.Update(func(n int) int { return n + 1 })
//
// Computed[T] is a read-only cell derived from its dependencies:
//
//	doubled := signals.NewComputed(sc, func() int { return count.Value() * 2 }, count)
//
// Effect re-runs a side effect on every dependency notification:
//
//	_, err := signals.NewEffect(sc, func() {
//	    fmt.Println("count is", count.Value())
//	}, count)
//
// # Mirroring
//
// Every Signal registers itself with its SyncContext. Committed writes are
// sent to the paired context through the Transport; inbound updates are
// applied locally and never re-sent, so two mirrored contexts cannot bounce
// an update back and forth.
//
// # Errors
//
// A panic in a subscriber, effect body or computed function is recovered,
// logged and reported to the error hook. Sibling subscribers still run and
// a Computed keeps its last good value. The only error returned to callers
// is ErrNoDependencies from NewEffect.
package signals
