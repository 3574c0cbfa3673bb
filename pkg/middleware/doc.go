// Package middleware wraps signal transports with observability.
//
// A Middleware decorates a signals.Transport. Chain applies several in
// order, the first being outermost:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	t := middleware.Chain(hub, m.Wrap, middleware.OpenTelemetry())
//	sc := signals.NewSyncContext(t, signals.WithErrorHandler(m.ErrorHandler()))
//
// # Prometheus Metrics
//
// Metrics collected:
//   - sigsync_messages_sent_total: sync messages sent, by type
//   - sigsync_messages_received_total: sync messages received, by type
//   - sigsync_send_errors_total: transport send failures
//   - sigsync_subscriber_errors_total: panicking subscribers, by source kind
//   - sigsync_connected_peers: peers attached to a hub
//
// Expose them with promhttp, or let pkg/server mount /metrics.
//
// # OpenTelemetry
//
// OpenTelemetry starts a producer span for each sent message and a
// consumer span around each inbound delivery. Spans carry signal.id and
// signal.message_type. The tracer comes from the global provider unless
// WithTracerProvider is given.
package middleware

import (
	"io"

	"github.com/vango-dev/sigsync/pkg/signals"
)

// Middleware decorates a transport.
type Middleware func(signals.Transport) signals.Transport

// Chain wraps t with mws. The first middleware sees sends first and
// inbound messages last.
func Chain(t signals.Transport, mws ...Middleware) signals.Transport {
	for i := len(mws) - 1; i >= 0; i-- {
		t = mws[i](t)
	}
	return t
}

// closeNext closes next when it supports it.
func closeNext(next signals.Transport) error {
	if c, ok := next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
