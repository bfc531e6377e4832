// Package metrics provides Prometheus collectors for the dispatcher.
// All methods are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mattjoyce/convoy/internal/pool"
)

const namespace = "convoy"

type Metrics struct {
	submitted  *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	assigned   *prometheus.CounterVec
	completed  *prometheus.CounterVec
	cancelled  *prometheus.CounterVec
	pending    *prometheus.GaugeVec
	workers    *prometheus.GaugeVec
	assignWait *prometheus.HistogramVec
	ticks      prometheus.Counter
}

// New registers the dispatcher collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted per pool.",
		}, []string{"pool"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Submissions rejected, by reason.",
		}, []string{"reason"}),
		assigned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_assigned_total",
			Help:      "Tasks handed to a worker per pool.",
		}, []string{"pool"}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks completed per pool.",
		}, []string{"pool"}),
		cancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_cancelled_total",
			Help:      "Tasks cancelled per pool.",
		}, []string{"pool"}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "Pending tasks per pool at the last tick.",
		}, []string{"pool"}),
		workers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Workers per pool and phase at the last tick.",
		}, []string{"pool", "status"}),
		assignWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assign_wait_seconds",
			Help:      "Clock seconds from submission to assignment.",
			Buckets:   []float64{0, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"pool"}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Dispatcher ticks processed.",
		}),
	}
}

func (m *Metrics) TaskSubmitted(poolID string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(poolID).Inc()
}

func (m *Metrics) TaskRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) TaskAssigned(poolID string, waited float64) {
	if m == nil {
		return
	}
	m.assigned.WithLabelValues(poolID).Inc()
	m.assignWait.WithLabelValues(poolID).Observe(waited)
}

func (m *Metrics) TaskCompleted(poolID string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(poolID).Inc()
}

func (m *Metrics) TaskCancelled(poolID string) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(poolID).Inc()
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// ObservePool records the pending backlog and roster breakdown of a pool.
func (m *Metrics) ObservePool(poolID string, pending int, counts map[pool.Status]int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(poolID).Set(float64(pending))
	for _, s := range pool.Statuses {
		m.workers.WithLabelValues(poolID, string(s)).Set(float64(counts[s]))
	}
}
