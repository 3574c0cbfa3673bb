package signals

import (
	"bytes"
	"log/slog"
	"sync"
)

// fakeTransport records sends and keeps the inbound handler so tests can
// simulate messages from the paired context.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []Message
	handler func(Message)
	listens int
	sendErr error
}

func (f *fakeTransport) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func (f *fakeTransport) Listen(handler func(Message)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	f.handler = handler
	return nil
}

func (f *fakeTransport) deliver(msg Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) last() Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// newTestContext returns a context on a fake transport that logs into buf.
func newTestContext(opts ...Option) (*SyncContext, *fakeTransport, *bytes.Buffer) {
	ft := &fakeTransport{}
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewSyncContext(ft, opts...), ft, buf
}
