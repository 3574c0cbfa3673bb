package middleware

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "sigsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "sigsync",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the sync metrics. Create one per registry.
type Metrics struct {
	sent             *prometheus.CounterVec
	received         *prometheus.CounterVec
	sendErrors       prometheus.Counter
	subscriberErrors *prometheus.CounterVec
	peers            prometheus.Gauge
}

// NewMetrics registers the sync metrics. It panics if they are already
// registered on the chosen registry, as promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Total number of sync messages sent",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_received_total",
			Help:        "Total number of sync messages received",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "send_errors_total",
			Help:        "Total number of failed transport sends",
			ConstLabels: config.ConstLabels,
		}),

		subscriberErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_errors_total",
			Help:        "Total number of subscriber, computed and effect failures",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_peers",
			Help:        "Number of peers attached to the hub",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Wrap is a Middleware counting traffic through t.
func (m *Metrics) Wrap(t signals.Transport) signals.Transport {
	return &meteredTransport{next: t, m: m}
}

// ErrorHandler returns a hook for signals.WithErrorHandler that counts
// failures by the kind prefix of their source ("signal", "computed",
// "effect").
func (m *Metrics) ErrorHandler() signals.ErrorHandler {
	return func(err *signals.SubscriberError) {
		m.subscriberErrors.WithLabelValues(sourceKind(err.Source)).Inc()
	}
}

// SetPeers records the number of connected peers.
func (m *Metrics) SetPeers(n int) {
	m.peers.Set(float64(n))
}

// sourceKind keeps label cardinality bounded by dropping the signal id.
func sourceKind(source string) string {
	kind, _, _ := strings.Cut(source, ":")
	if kind == "" {
		return "unknown"
	}
	return kind
}

type meteredTransport struct {
	next signals.Transport
	m    *Metrics
}

func (t *meteredTransport) Send(msg signals.Message) error {
	if err := t.next.Send(msg); err != nil {
		t.m.sendErrors.Inc()
		return err
	}
	t.m.sent.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (t *meteredTransport) Listen(handler func(signals.Message)) error {
	return t.next.Listen(func(msg signals.Message) {
		t.m.received.WithLabelValues(string(msg.Type)).Inc()
		handler(msg)
	})
}

func (t *meteredTransport) Close() error {
	return closeNext(t.next)
}
