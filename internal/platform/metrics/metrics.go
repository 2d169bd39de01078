// Package metrics holds the Prometheus collectors for the alert engine, the
// escalation scheduler and the real-time distributor. All recording methods
// are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medalert"

type Metrics struct {
	registry prometheus.Gatherer

	alertsCreated      *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	escalations        *prometheus.CounterVec
	raceConflicts      *prometheus.CounterVec
	timeToAcknowledge  prometheus.Histogram
	timeToResolve      prometheus.Histogram
	storeRetries       prometheus.Counter
	pendingDeadlines   prometheus.Gauge
	pollDuration       prometheus.Histogram
	escalationFailures prometheus.Counter
	subscribers        prometheus.Gauge
	eventsDelivered    prometheus.Counter
	eventsDropped      prometheus.Counter
	relayErrors        prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	responseBuckets := []float64{15, 30, 60, 120, 300, 600, 900, 1800, 3600, 7200}
	m := &Metrics{
		registry: reg,
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert", Name: "created_total",
			Help: "Alerts created, by alert type.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert", Name: "transitions_total",
			Help: "Committed lifecycle transitions, by timeline event kind.",
		}, []string{"kind"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert", Name: "escalations_total",
			Help: "Escalations committed, by reason.",
		}, []string{"reason"}),
		raceConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert", Name: "race_conflicts_total",
			Help: "Stale transitions rejected by the single-writer check, by operation.",
		}, []string{"operation"}),
		timeToAcknowledge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "alert", Name: "time_to_acknowledge_seconds",
			Help: "Seconds from creation to first acknowledgment.", Buckets: responseBuckets,
		}),
		timeToResolve: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "alert", Name: "time_to_resolve_seconds",
			Help: "Seconds from creation to resolution.", Buckets: responseBuckets,
		}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "retries_total",
			Help: "Store writes retried after a transient failure.",
		}),
		pendingDeadlines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "pending_deadlines",
			Help: "Deadlines currently tracked by the escalation scheduler.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "poll_duration_seconds",
			Help: "Duration of one scheduler poll.", Buckets: prometheus.DefBuckets,
		}),
		escalationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "escalation_failures_total",
			Help: "Due escalations that failed transiently and were re-queued.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "subscribers",
			Help: "Open live subscriptions.",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "events_delivered_total",
			Help: "Events queued to a matching subscription.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "events_dropped_total",
			Help: "Events dropped because a subscription queue was full.",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "relay_errors_total",
			Help: "Failed publishes to the cross-replica relay.",
		}),
	}
	reg.MustRegister(
		m.alertsCreated, m.transitions, m.escalations, m.raceConflicts,
		m.timeToAcknowledge, m.timeToResolve, m.storeRetries,
		m.pendingDeadlines, m.pollDuration, m.escalationFailures,
		m.subscribers, m.eventsDelivered, m.eventsDropped, m.relayErrors,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AlertCreated(alertType string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(alertType).Inc()
}

func (m *Metrics) Transition(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) Escalation(reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(reason).Inc()
}

func (m *Metrics) RaceConflict(operation string) {
	if m == nil {
		return
	}
	m.raceConflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) Acknowledged(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.timeToAcknowledge.Observe(elapsed.Seconds())
}

func (m *Metrics) Resolved(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.timeToResolve.Observe(elapsed.Seconds())
}

func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

func (m *Metrics) PendingDeadlines(n int) {
	if m == nil {
		return
	}
	m.pendingDeadlines.Set(float64(n))
}

func (m *Metrics) Poll(d time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) EscalationFailure() {
	if m == nil {
		return
	}
	m.escalationFailures.Inc()
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.eventsDelivered.Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) RelayError() {
	if m == nil {
		return
	}
	m.relayErrors.Inc()
}
