package signals

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncContextLocalOnly(t *testing.T) {
	sc := NewSyncContext(nil)
	s := NewSignal(sc, 1)
	s.Set(2)

	require.NoError(t, sc.Listen())
	assert.Equal(t, 2, s.Value())
	assert.Equal(t, 1, sc.Len())
}

func TestSyncContextIDLength(t *testing.T) {
	sc, _, _ := newTestContext(WithIDLength(20))
	s := NewSignal(sc, 0)
	assert.Len(t, s.ID(), 20)
}

func TestSyncContextIDLengthBelowOne(t *testing.T) {
	for _, n := range []int{0, -3} {
		sc, _, _ := newTestContext(WithIDLength(n))
		a := NewSignal(sc, 1)
		b := NewSignal(sc, "x")

		assert.Len(t, a.ID(), DefaultIDLength)
		assert.NotEqual(t, a.ID(), b.ID())
		assert.Equal(t, 2, sc.Len())

		sc.Receive(Message{Type: MessageUpdate, ID: a.ID(), Value: 7})
		assert.Equal(t, 7, a.Value())
		assert.Equal(t, "x", b.Value())
	}
}

func TestSyncContextDuplicateIDRefused(t *testing.T) {
	sc, ft, logs := newTestContext()
	first := NewSignal(sc, 1, WithID("n"))
	sent := ft.sentCount()

	second := NewSignal(sc, "x", WithID("n"))
	assert.True(t, first.Mirrored())
	assert.False(t, second.Mirrored())
	assert.Equal(t, sent, ft.sentCount(), "refused signal is not announced")
	assert.Contains(t, logs.String(), "signal id already registered")

	sc.Receive(Message{Type: MessageUpdate, ID: "n", Value: 4})
	assert.Equal(t, 4, first.Value())
	assert.Equal(t, "x", second.Value())

	second.Set("y")
	assert.Equal(t, sent, ft.sentCount())

	// Closing the refused signal leaves the registered one in place.
	second.Close()
	assert.True(t, sc.Registered("n"))
}

func TestSyncContextSignalTakesOverReplica(t *testing.T) {
	sc, ft, _ := newTestContext(WithReplication())
	require.NoError(t, sc.Listen())
	ft.deliver(Message{Type: MessageCreated, ID: "count", Value: json.RawMessage(`5`)})

	r, ok := sc.Replica("count")
	require.True(t, ok)

	s := NewSignal(sc, 0, WithID("count"))
	assert.True(t, s.Mirrored())
	assert.Equal(t, 5, s.Value(), "starts from the replicated value")

	_, ok = sc.Replica("count")
	assert.False(t, ok)
	assert.Equal(t, 1, sc.Len())

	ft.deliver(Message{Type: MessageUpdate, ID: "count", Value: json.RawMessage(`6`)})
	assert.Equal(t, 6, s.Value())
	assert.Equal(t, 5.0, r.Value(), "old replica no longer receives updates")
}

func TestSyncContextCrossedCreationsKeepValues(t *testing.T) {
	host, hostT, _ := newTestContext()
	guest, guestT, _ := newTestContext()

	h := NewSignal(host, 5, WithID("count"))
	g := NewSignal(guest, 0, WithID("count"))

	// The two creations cross on the wire.
	guestT.deliver(hostT.last())
	hostT.deliver(guestT.last())

	assert.Equal(t, 5, h.Value())
	assert.Equal(t, 0, g.Value())
	assert.Equal(t, 1, hostT.sentCount(), "nothing re-emitted")

	// The next write converges both sides.
	g.Set(3)
	hostT.deliver(guestT.last())
	assert.Equal(t, 3, h.Value())
}

func TestSyncContextCreatedIgnoredWithoutReplication(t *testing.T) {
	sc, ft, _ := newTestContext()
	NewSignal(sc, 0)

	ft.deliver(Message{Type: MessageCreated, ID: "remote", Value: 1})

	_, ok := sc.Replica("remote")
	assert.False(t, ok)
	assert.Equal(t, 1, sc.Len())
}

func TestSyncContextReplication(t *testing.T) {
	sc, ft, _ := newTestContext(WithReplication())
	require.NoError(t, sc.Listen())

	ft.deliver(Message{Type: MessageCreated, ID: "remote", Value: json.RawMessage(`{"n":1}`)})

	r, ok := sc.Replica("remote")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"n": 1.0}, r.Value())
	assert.Equal(t, 0, ft.sentCount(), "replicas are not announced back")

	var got []any
	r.Subscribe(func(v any) { got = append(got, v) })
	ft.deliver(Message{Type: MessageUpdate, ID: "remote", Value: json.RawMessage(`7`)})
	assert.Equal(t, []any{7.0}, got)
	assert.Equal(t, 0, ft.sentCount())

	// A second created message for a known id is ignored.
	ft.deliver(Message{Type: MessageCreated, ID: "remote", Value: json.RawMessage(`8`)})
	assert.Equal(t, 7.0, r.Value())

	// Local writes to a replica are mirrored back.
	r.Set("local")
	assert.Equal(t, Message{Type: MessageUpdate, ID: "remote", Value: "local"}, ft.last())
}

func TestSyncContextDispatcher(t *testing.T) {
	var queued []func()
	sc, ft, _ := newTestContext(WithDispatcher(func(fn func()) {
		queued = append(queued, fn)
	}))
	s := NewSignal(sc, 1)

	ft.deliver(Message{Type: MessageUpdate, ID: s.ID(), Value: 2})
	assert.Equal(t, 1, s.Value(), "applied only when the dispatcher runs it")

	require.Len(t, queued, 1)
	queued[0]()
	assert.Equal(t, 2, s.Value())
}

func TestSyncContextSnapshotAndAnnounce(t *testing.T) {
	sc, ft, _ := newTestContext()
	a := NewSignal(sc, 1, WithID("a"))
	NewSignal(sc, "x", WithID("b"))
	a.Set(5)

	assert.Equal(t, map[string]any{"a": 5, "b": "x"}, sc.Snapshot())
	assert.Equal(t, []string{"a", "b"}, sc.IDs())

	before := ft.sentCount()
	sc.Announce()
	require.Equal(t, before+2, ft.sentCount())
	assert.Equal(t, []Message{
		{Type: MessageCreated, ID: "a", Value: 5},
		{Type: MessageCreated, ID: "b", Value: "x"},
	}, ft.sent[before:])
}

func TestSyncContextUnknownType(t *testing.T) {
	sc, ft, logs := newTestContext()
	NewSignal(sc, 0)

	ft.deliver(Message{Type: "signal-deleted", ID: "x"})
	assert.Contains(t, logs.String(), "unknown sync message type")
}

func TestSyncContextReceiveDirect(t *testing.T) {
	sc, ft, _ := newTestContext()
	s := NewSignal(sc, "a")
	before := ft.sentCount()

	sc.Receive(Message{Type: MessageUpdate, ID: s.ID(), Value: "b"})

	assert.Equal(t, "b", s.Value())
	assert.Equal(t, before, ft.sentCount())
}

func TestCrossedCreationsQueued(t *testing.T) {
	// Deliveries are queued until both sides have declared, so the
	// creations cross.
	var left, right *SyncContext
	var mu sync.Mutex
	var queue []func()
	post := func(fn func()) { mu.Lock(); queue = append(queue, fn); mu.Unlock() }
	left = NewSyncContext(TransportFunc(func(m Message) error { post(func() { right.Receive(m) }); return nil }))
	right = NewSyncContext(TransportFunc(func(m Message) error { post(func() { left.Receive(m) }); return nil }))

	host := NewSignal(left, 5, WithID("count"))
	guest := NewSignal(right, 0, WithID("count"))
	for _, fn := range queue {
		fn()
	}
	queue = nil

	assert.Equal(t, 5, host.Value())
	assert.Equal(t, 0, guest.Value())

	host.Set(9)
	for _, fn := range queue {
		fn()
	}
	assert.Equal(t, 9, guest.Value())
}

func TestLoopFreedomBetweenContexts(t *testing.T) {
	// Two contexts wired back to back synchronously: any echo would recurse.
	var left, right *SyncContext
	left = NewSyncContext(TransportFunc(func(m Message) error { right.Receive(m); return nil }))
	right = NewSyncContext(TransportFunc(func(m Message) error { left.Receive(m); return nil }))

	l := NewSignal(left, 0, WithID("n"))
	r := NewSignal(right, 0, WithID("n"))

	l.Set(1)
	assert.Equal(t, 1, r.Value())
	r.Set(2)
	assert.Equal(t, 2, l.Value())
}
