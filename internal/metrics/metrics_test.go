package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/convoy/internal/pool"
)

func TestCountersAndGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskSubmitted("trucks")
	m.TaskSubmitted("trucks")
	m.TaskRejected("unknown_pool")
	m.TaskAssigned("trucks", 3)
	m.TaskCompleted("trucks")
	m.TaskCancelled("trucks")
	m.Tick()
	m.ObservePool("trucks", 4, map[pool.Status]int{pool.StatusAvailable: 1, pool.StatusWorking: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submitted.WithLabelValues("trucks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("unknown_pool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assigned.WithLabelValues("trucks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("trucks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelled.WithLabelValues("trucks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.pending.WithLabelValues("trucks")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.workers.WithLabelValues("trucks", "working")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.workers.WithLabelValues("trucks", "returning")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskSubmitted("p")
		m.TaskRejected("r")
		m.TaskAssigned("p", 1)
		m.TaskCompleted("p")
		m.TaskCancelled("p")
		m.Tick()
		m.ObservePool("p", 0, nil)
	})
}
