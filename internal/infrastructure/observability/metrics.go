package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// State machine metrics
	StateTransitions *prometheus.CounterVec
	IntentsExecuted  *prometheus.CounterVec

	// TEF metrics
	TEFPollDuration prometheus.Histogram
	TEFPollTimeouts prometheus.Counter

	// Printer metrics
	PrintAttempts *prometheus.CounterVec

	// Outbox metrics
	OutboxDelivered prometheus.Counter
	OutboxFailures  prometheus.Counter
	OutboxPending   prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of state machine transitions",
			},
			[]string{"from", "event", "to"},
		),
		IntentsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_executed_total",
				Help:      "Total number of side-effect intents executed by outcome",
			},
			[]string{"intent", "outcome"},
		),
		TEFPollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tef_poll_duration_seconds",
				Help:      "Time spent polling the payment terminal per charge",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		TEFPollTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tef_poll_timeouts_total",
				Help:      "Total number of status polls abandoned after the budget",
			},
		),
		PrintAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "print_attempts_total",
				Help:      "Total number of receipt print attempts by outcome",
			},
			[]string{"outcome"},
		),
		OutboxDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_delivered_total",
				Help:      "Total number of outbox entries delivered to the sync endpoint",
			},
		),
		OutboxFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_failures_total",
				Help:      "Total number of failed outbox delivery attempts",
			},
		),
		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_pending",
				Help:      "Number of outbox entries awaiting delivery",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.StateTransitions,
		m.IntentsExecuted,
		m.TEFPollDuration,
		m.TEFPollTimeouts,
		m.PrintAttempts,
		m.OutboxDelivered,
		m.OutboxFailures,
		m.OutboxPending,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}
