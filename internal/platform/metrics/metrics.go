// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the processors update. A nil *Metrics
// is valid and records nothing, so tests can run without a registry.
type Metrics struct {
	claimed  *prometheus.CounterVec
	done     *prometheus.CounterVec
	failed   *prometheus.CounterVec
	lockHeld prometheus.Gauge
}

// New creates the worker metrics and registers them with the given
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediary",
			Name:      "operations_claimed_total",
			Help:      "Operations claimed, by processor.",
		}, []string{"processor"}),
		done: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediary",
			Name:      "operations_done_total",
			Help:      "Operations finished successfully, by processor.",
		}, []string{"processor"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediary",
			Name:      "operations_failed_total",
			Help:      "Operations that failed terminally, by processor.",
		}, []string{"processor"}),
		lockHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediary",
			Name:      "serial_lock_held",
			Help:      "1 while this worker holds the serial lock.",
		}),
	}
	reg.MustRegister(m.claimed, m.done, m.failed, m.lockHeld)
	return m
}

// OperationClaimed counts a claimed operation.
func (m *Metrics) OperationClaimed(processor string) {
	if m == nil {
		return
	}
	m.claimed.WithLabelValues(processor).Inc()
}

// OperationDone counts a successfully finished operation.
func (m *Metrics) OperationDone(processor string) {
	if m == nil {
		return
	}
	m.done.WithLabelValues(processor).Inc()
}

// OperationFailed counts a terminally failed operation.
func (m *Metrics) OperationFailed(processor string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(processor).Inc()
}

// SetLockHeld records whether this worker currently holds the serial
// lock.
func (m *Metrics) SetLockHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.lockHeld.Set(1)
	} else {
		m.lockHeld.Set(0)
	}
}
