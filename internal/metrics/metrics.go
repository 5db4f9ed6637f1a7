// Package metrics exposes Prometheus counters for the check-in flow and the
// shared store underneath it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

const namespace = "dentalform"

type Metrics struct {
	SessionsCreated   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsCancelled prometheus.Counter
	Matches           prometheus.Counter
	// PasscodeFailures is labelled by role (admin, designer).
	PasscodeFailures *prometheus.CounterVec

	// Store metrics are labelled by op (put, create, get, delete, list, ...).
	StoreOps      *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
	OpenFeeds     *prometheus.GaugeVec

	// Websockets counts gateway feed connections by topic.
	Websockets *prometheus.GaugeVec
}

// New registers every metric with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Intake sessions queued by staff.",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Intake sessions completed by patients.",
		}),
		SessionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "cancelled_total",
			Help:      "Intake sessions removed by staff.",
		}),
		Matches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "matches_total",
			Help:      "Patients paired with an open session.",
		}),
		PasscodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "passcode_failures_total",
			Help:      "Rejected staff passcodes by role.",
		}, []string{"role"}),
		StoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Shared store operations by op.",
		}, []string{"op"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed shared store operations by op.",
		}, []string{"op"}),
		StoreDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Shared store operation latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		OpenFeeds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "open_feeds",
			Help:      "Live snapshot subscriptions by kind.",
		}, []string{"kind"}),
		Websockets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "open_websockets",
			Help:      "Connected websocket feeds by topic.",
		}, []string{"topic"}),
	}
}

func (m *Metrics) SessionCreated()   { m.SessionsCreated.Inc() }
func (m *Metrics) SessionCompleted() { m.SessionsCompleted.Inc() }
func (m *Metrics) SessionCancelled() { m.SessionsCancelled.Inc() }
func (m *Metrics) SessionMatched()   { m.Matches.Inc() }

func (m *Metrics) PasscodeRejected(role intake.Role) {
	m.PasscodeFailures.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) FeedOpened(topic string) { m.Websockets.WithLabelValues(topic).Inc() }
func (m *Metrics) FeedClosed(topic string) { m.Websockets.WithLabelValues(topic).Dec() }

var _ intake.Observer = (*Metrics)(nil)
