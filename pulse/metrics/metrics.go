// Package metrics exposes Prometheus collectors for the scheduler.
//
// All methods are safe on a nil *Metrics, so components can be built without
// metrics in tests and CLI one-shots.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mise"

// Result label values for executions.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds every collector the scheduler reports to.
type Metrics struct {
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	wakeupsDelivered  prometheus.Counter
	wakeupsFailed     prometheus.Counter
	wakeupsPending    prometheus.Gauge
	registrySyncFails prometheus.Counter
	publishFails      *prometheus.CounterVec
	activeActors      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "executions_total",
			Help:      "Job executions by trigger type and result",
		}, []string{"trigger_type", "result"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "execution_duration_seconds",
			Help:      "Time spent invoking job targets",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"trigger_type"}),
		wakeupsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wakeups",
			Name:      "delivered_total",
			Help:      "Wake-ups delivered to their entity",
		}),
		wakeupsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wakeups",
			Name:      "failed_total",
			Help:      "Wake-ups whose delivery returned an error and will be retried",
		}),
		wakeupsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wakeups",
			Name:      "due",
			Help:      "Wake-ups found due on the last poll",
		}),
		registrySyncFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sync_failures_total",
			Help:      "Best-effort registry updates that failed",
		}),
		publishFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Lifecycle events that could not be published",
		}, []string{"topic"}),
		activeActors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actors",
			Name:      "active",
			Help:      "Activated actors by kind",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.executions,
			m.executionDuration,
			m.wakeupsDelivered,
			m.wakeupsFailed,
			m.wakeupsPending,
			m.registrySyncFails,
			m.publishFails,
			m.activeActors,
		)
	}
	return m
}

// ObserveExecution records one finished execution.
func (m *Metrics) ObserveExecution(triggerType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	m.executions.WithLabelValues(triggerType, result).Inc()
	m.executionDuration.WithLabelValues(triggerType).Observe(duration.Seconds())
}

// WakeupDelivered counts a successful delivery.
func (m *Metrics) WakeupDelivered() {
	if m == nil {
		return
	}
	m.wakeupsDelivered.Inc()
}

// WakeupFailed counts a failed delivery.
func (m *Metrics) WakeupFailed() {
	if m == nil {
		return
	}
	m.wakeupsFailed.Inc()
}

// WakeupsDue records how many wake-ups the last poll found due.
func (m *Metrics) WakeupsDue(n int) {
	if m == nil {
		return
	}
	m.wakeupsPending.Set(float64(n))
}

// RegistrySyncFailed counts a swallowed registry update failure.
func (m *Metrics) RegistrySyncFailed() {
	if m == nil {
		return
	}
	m.registrySyncFails.Inc()
}

// PublishFailed counts a swallowed publish failure.
func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}
	m.publishFails.WithLabelValues(topic).Inc()
}

// Activated implements actor.Observer.
func (m *Metrics) Activated(kind string) {
	if m == nil {
		return
	}
	m.activeActors.WithLabelValues(kind).Inc()
}

// Deactivated implements actor.Observer.
func (m *Metrics) Deactivated(kind string) {
	if m == nil {
		return
	}
	m.activeActors.WithLabelValues(kind).Dec()
}
