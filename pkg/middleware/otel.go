package middleware

import (
	"context"

	"github.com/vango-dev/sigsync/pkg/signals"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name.
const defaultTracerName = "sigsync"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "sigsync").
	TracerName string

	// TracerProvider overrides the global provider.
	TracerProvider trace.TracerProvider

	// Filter determines which messages to trace.
	// If nil, all messages are traced.
	Filter func(msg signals.Message) bool
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithMessageFilter sets a filter function for messages.
func WithMessageFilter(filter func(msg signals.Message) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// OpenTelemetry returns middleware that traces sync traffic.
//
// Configure the global provider in main() before wiring the transport:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.TracerProvider != nil {
		tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}

	return func(next signals.Transport) signals.Transport {
		return &tracedTransport{next: next, tracer: tracer, filter: config.Filter}
	}
}

type tracedTransport struct {
	next   signals.Transport
	tracer trace.Tracer
	filter func(signals.Message) bool
}

func (t *tracedTransport) traced(msg signals.Message) bool {
	return t.filter == nil || t.filter(msg)
}

func (t *tracedTransport) Send(msg signals.Message) error {
	if !t.traced(msg) {
		return t.next.Send(msg)
	}

	_, span := t.tracer.Start(context.Background(), "sigsync.send "+string(msg.Type),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messageAttributes(msg)...),
	)
	defer span.End()

	err := t.next.Send(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (t *tracedTransport) Listen(handler func(signals.Message)) error {
	return t.next.Listen(func(msg signals.Message) {
		if !t.traced(msg) {
			handler(msg)
			return
		}

		_, span := t.tracer.Start(context.Background(), "sigsync.receive "+string(msg.Type),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(messageAttributes(msg)...),
		)
		defer span.End()
		handler(msg)
	})
}

func (t *tracedTransport) Close() error {
	return closeNext(t.next)
}

func messageAttributes(msg signals.Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("signal.id", msg.ID),
		attribute.String("signal.message_type", string(msg.Type)),
	}
}
