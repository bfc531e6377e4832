package dispatch

import (
	"io"
	"math"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/clock"
	"github.com/mattjoyce/convoy/internal/geom"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/metrics"
	"github.com/mattjoyce/convoy/internal/notify"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

func TestMain(m *testing.M) {
	log.SetupWriter(io.Discard, "ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type harness struct {
	d   *Dispatcher
	clk *clock.Sim
	rec *notify.Recorder
}

func newHarness(t *testing.T, history int) *harness {
	t.Helper()
	h := &harness{clk: clock.NewSim(0), rec: &notify.Recorder{}}
	h.d = New(Options{
		Clock:       h.clk,
		Sink:        h.rec,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		HistorySize: history,
	})
	return h
}

func (h *harness) register(t *testing.T, id string, workers int) {
	t.Helper()
	require.NoError(t, h.d.RegisterPool(pool.Config{ID: id, WorkerCount: workers}))
}

func (h *harness) submit(t *testing.T, def queue.Definition) string {
	t.Helper()
	id, err := h.d.SubmitTask(def)
	require.NoError(t, err)
	return id
}

func (h *harness) worker(t *testing.T, poolID string, i int) pool.Worker {
	t.Helper()
	ws := h.d.GetWorkers(poolID)
	require.Greater(t, len(ws), i)
	return ws[i]
}

func (h *harness) task(t *testing.T, id string) queue.Task {
	t.Helper()
	task, ok := h.d.GetTask(id)
	require.True(t, ok, "task %s not found", id)
	return task
}

func delivery(pool string, priority float64) queue.Definition {
	return queue.Definition{
		Pool:           pool,
		Type:           "delivery",
		TargetRef:      "shop-7",
		Location:       geom.Pt(30, 0, 40),
		Priority:       priority,
		TravelSeconds:  10,
		ProcessSeconds: 5,
		ReturnSeconds:  10,
		Rewards:        map[string]int64{"gold": 25},
	}
}

func TestScenarioFullCycle(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	id := h.submit(t, delivery("p", 1))
	assert.Equal(t, pool.StatusEnRoute, h.worker(t, "p", 0).Status)
	assert.Equal(t, queue.StatusAssigned, h.task(t, id).Status)

	h.d.Tick(10)
	assert.Equal(t, pool.StatusWorking, h.worker(t, "p", 0).Status)
	assert.Equal(t, queue.StatusInProgress, h.task(t, id).Status)
	assert.Equal(t, geom.Pt(30, 0, 40), h.worker(t, "p", 0).Location)

	h.d.Tick(5)
	assert.Equal(t, queue.StatusCompleted, h.task(t, id).Status)
	assert.Equal(t, pool.StatusReturning, h.worker(t, "p", 0).Status)
	completed := h.rec.OfType(notify.TypeTaskCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, map[string]int64{"gold": 25}, completed[0].(notify.TaskCompleted).Rewards)

	h.d.Tick(10)
	w := h.worker(t, "p", 0)
	assert.Equal(t, pool.StatusAvailable, w.Status)
	assert.Empty(t, w.TaskID)
	assert.Equal(t, geom.Pt(0, 0, 0), w.Location)
	assert.Len(t, h.rec.OfType(notify.TypeTaskCompleted), 1)

	assert.Equal(t, []string{
		notify.TypeTaskSubmitted,
		notify.TypeWorkerAssigned,
		notify.TypeWorkerArrived,
		notify.TypeTaskCompleted,
	}, h.rec.Types())
}

func TestScenarioPriorityWhenWorkerFrees(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	h.submit(t, delivery("p", 1))
	low := h.submit(t, delivery("p", 5))
	high := h.submit(t, delivery("p", 10))
	assert.Equal(t, 2, h.d.GetPendingCount("p"))

	h.d.Tick(10)
	h.d.Tick(5)
	assert.Equal(t, 2, h.d.GetPendingCount("p"))
	h.d.Tick(10)

	assert.Equal(t, queue.StatusAssigned, h.task(t, high).Status)
	assert.Equal(t, queue.StatusPending, h.task(t, low).Status)
	assert.Equal(t, h.worker(t, "p", 0).TaskID, high)
}

func TestScenarioUnknownPool(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	id, err := h.d.SubmitTask(delivery("nowhere", 1))
	require.ErrorIs(t, err, ErrUnknownPool)
	assert.Empty(t, id)
	assert.Empty(t, h.d.Snapshot().Tasks)
	assert.Empty(t, h.rec.All())
	assert.Equal(t, 0, h.d.GetPendingCount("nowhere"))
}

func TestPriorityTieGoesToEarliest(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	h.submit(t, delivery("p", 0))
	first := h.submit(t, delivery("p", 3))
	second := h.submit(t, delivery("p", 3))
	h.d.Tick(10)
	h.d.Tick(5)
	h.d.Tick(10)

	assert.Equal(t, queue.StatusAssigned, h.task(t, first).Status)
	assert.Equal(t, queue.StatusPending, h.task(t, second).Status)
}

func TestOneTransitionPerTick(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	id := h.submit(t, queue.Definition{Pool: "p", Type: "instant"})
	assert.Equal(t, pool.StatusEnRoute, h.worker(t, "p", 0).Status)

	h.d.Tick(0)
	assert.Equal(t, pool.StatusWorking, h.worker(t, "p", 0).Status)
	h.d.Tick(0)
	assert.Equal(t, pool.StatusReturning, h.worker(t, "p", 0).Status)
	assert.Equal(t, queue.StatusCompleted, h.task(t, id).Status)
	h.d.Tick(0)
	assert.Equal(t, pool.StatusAvailable, h.worker(t, "p", 0).Status)
}

func TestLargeTickStillStepsOnce(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	h.submit(t, delivery("p", 1))

	h.d.Tick(1000)
	assert.Equal(t, pool.StatusWorking, h.worker(t, "p", 0).Status)
}

func TestSpeedMultipliers(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	require.NoError(t, h.d.RegisterPool(pool.Config{
		ID:           "fast",
		WorkerCount:  1,
		Home:         geom.Pt(1, 2, 3),
		TravelSpeed:  2,
		ProcessSpeed: 5,
	}))
	id := h.submit(t, delivery("fast", 1))

	assigned := h.rec.OfType(notify.TypeWorkerAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, 5.0, assigned[0].(notify.WorkerAssigned).EstimatedArrivalSeconds)

	h.d.Tick(4.9)
	assert.Equal(t, pool.StatusEnRoute, h.worker(t, "fast", 0).Status)
	h.d.Tick(0.1)
	assert.Equal(t, pool.StatusWorking, h.worker(t, "fast", 0).Status)
	h.d.Tick(1)
	assert.Equal(t, queue.StatusCompleted, h.task(t, id).Status)
	h.d.Tick(5)
	w := h.worker(t, "fast", 0)
	assert.Equal(t, pool.StatusAvailable, w.Status)
	assert.Equal(t, geom.Pt(1, 2, 3), w.Location)
}

func TestRegisterPoolErrors(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 2)

	err := h.d.RegisterPool(pool.Config{ID: "p", WorkerCount: 5})
	require.ErrorIs(t, err, ErrDuplicatePool)
	assert.Len(t, h.d.GetWorkers("p"), 2)

	err = h.d.RegisterPool(pool.Config{ID: "empty", WorkerCount: 0})
	require.ErrorIs(t, err, ErrInvalidPool)
	assert.False(t, h.d.HasPool("empty"))

	err = h.d.RegisterPool(pool.Config{ID: "slow", WorkerCount: 1, TravelSpeed: -1})
	require.ErrorIs(t, err, ErrInvalidPool)
}

func TestSubmitInvalidTask(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	def := delivery("p", 1)
	def.TravelSeconds = -1
	_, err := h.d.SubmitTask(def)
	require.ErrorIs(t, err, ErrInvalidTask)
	require.ErrorIs(t, err, queue.ErrInvalidDefinition)
	assert.Empty(t, h.rec.All())
}

func TestSubmitCopiesDefinition(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)

	def := delivery("p", 1)
	id := h.submit(t, def)
	def.Rewards["gold"] = 9999

	assert.Equal(t, int64(25), h.task(t, id).Def.Rewards["gold"])
}

func TestCancelPendingTask(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	h.submit(t, delivery("p", 1))
	pending := h.submit(t, delivery("p", 1))

	assert.True(t, h.d.CancelTask(pending, ""))
	task := h.task(t, pending)
	assert.Equal(t, queue.StatusCancelled, task.Status)
	assert.Equal(t, DefaultCancelReason, task.CancelReason)
	assert.Equal(t, 0, h.d.GetPendingCount("p"))
}

func TestCancelEnRouteFreesWorkerInPlace(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	id := h.submit(t, delivery("p", 1))
	h.d.Tick(3)

	assert.True(t, h.d.CancelTask(id, "customer left"))
	w := h.worker(t, "p", 0)
	assert.Equal(t, pool.StatusAvailable, w.Status)
	assert.Empty(t, w.TaskID)
	assert.Equal(t, geom.Pt(0, 0, 0), w.Location)

	cancelled := h.rec.OfType(notify.TypeTaskCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "customer left", cancelled[0].(notify.TaskCancelled).Reason)
}

func TestCancelWorkingKeepsPosition(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	id := h.submit(t, delivery("p", 1))
	h.d.Tick(10)
	require.Equal(t, pool.StatusWorking, h.worker(t, "p", 0).Status)

	assert.True(t, h.d.CancelTask(id, ""))
	w := h.worker(t, "p", 0)
	assert.Equal(t, pool.StatusAvailable, w.Status)
	assert.Equal(t, geom.Pt(30, 0, 40), w.Location)

	h.d.Tick(100)
	assert.Empty(t, h.rec.OfType(notify.TypeTaskCompleted))
}

func TestCancelledWorkerPicksUpNextTaskOnTick(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	first := h.submit(t, delivery("p", 1))
	next := h.submit(t, delivery("p", 1))

	require.True(t, h.d.CancelTask(first, ""))
	assert.Equal(t, queue.StatusPending, h.task(t, next).Status)

	h.d.Tick(0)
	assert.Equal(t, queue.StatusAssigned, h.task(t, next).Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	id := h.submit(t, delivery("p", 1))

	assert.True(t, h.d.CancelTask(id, ""))
	assert.False(t, h.d.CancelTask(id, ""))
	h.d.Tick(0)
	assert.False(t, h.d.CancelTask(id, ""))
	assert.Len(t, h.rec.OfType(notify.TypeTaskCancelled), 1)

	assert.False(t, h.d.CancelTask("no-such-task", ""))
}

func TestCancelCompletedIsNoop(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	id := h.submit(t, delivery("p", 1))
	h.d.Tick(10)
	h.d.Tick(5)

	assert.False(t, h.d.CancelTask(id, ""))
	assert.Equal(t, queue.StatusCompleted, h.task(t, id).Status)
	assert.Equal(t, pool.StatusReturning, h.worker(t, "p", 0).Status)
	assert.Empty(t, h.rec.OfType(notify.TypeTaskCancelled))
}

func TestHistoryDisabled(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "p", 1)
	id := h.submit(t, delivery("p", 1))
	h.d.Tick(10)
	h.d.Tick(5)

	_, ok := h.d.GetTask(id)
	assert.False(t, ok)
}

func TestQueries(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 2)
	h.register(t, "q", 1)

	a := h.submit(t, delivery("p", 1))
	b := h.submit(t, delivery("p", 1))
	c := h.submit(t, delivery("p", 1))

	active := h.d.GetActiveTasks("p")
	require.Len(t, active, 2)
	assert.Equal(t, a, active[0].ID)
	assert.Equal(t, b, active[1].ID)

	pending := h.d.GetPendingTasks("p")
	require.Len(t, pending, 1)
	assert.Equal(t, c, pending[0].ID)

	assert.Equal(t, 0, h.d.GetAvailableWorkerCount("p"))
	assert.Equal(t, 1, h.d.GetAvailableWorkerCount("q"))
	assert.Equal(t, 0, h.d.GetAvailableWorkerCount("missing"))
	assert.Nil(t, h.d.GetWorkers("missing"))

	w := h.worker(t, "p", 0)
	got, ok := h.d.GetWorker(w.ID)
	require.True(t, ok)
	assert.Equal(t, w, got)
	_, ok = h.d.GetWorker("missing")
	assert.False(t, ok)

	summaries := h.d.Pools()
	require.Len(t, summaries, 2)
	assert.Equal(t, "p", summaries[0].Config.ID)
	assert.Equal(t, 1, summaries[0].Pending)
	assert.Equal(t, 2, summaries[0].Active)
	assert.Equal(t, 2, summaries[0].Workers[pool.StatusEnRoute])
}

func TestReturnedSnapshotsAreCopies(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	id := h.submit(t, delivery("p", 1))

	task := h.task(t, id)
	task.Def.Rewards["gold"] = 0
	task.Status = queue.StatusCancelled

	again := h.task(t, id)
	assert.Equal(t, int64(25), again.Def.Rewards["gold"])
	assert.Equal(t, queue.StatusAssigned, again.Status)
}

func TestTickReport(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.register(t, "p", 1)
	h.submit(t, delivery("p", 1))
	h.submit(t, delivery("p", 1))

	r := h.d.Tick(10)
	assert.Equal(t, TickReport{Now: 10, Transitions: 1}, r)
	h.d.Tick(5)
	r = h.d.Tick(10)
	assert.Equal(t, TickReport{Now: 25, Transitions: 1, Assigned: 1}, r)
}

func TestTickIgnoresBadDelta(t *testing.T) {
	h := newHarness(t, queue.DefaultHistorySize)
	h.d.Tick(-5)
	assert.Equal(t, 0.0, h.d.Now())
	h.d.Tick(math.NaN())
	assert.Equal(t, 0.0, h.d.Now())
}

func TestSinkMayQueryDuringDelivery(t *testing.T) {
	var d *Dispatcher
	seen := make(chan int, 16)
	d = New(Options{
		Clock: clock.NewSim(0),
		Sink: notify.SinkFunc(func(n notify.Notification) {
			seen <- d.GetPendingCount("p")
		}),
	})
	require.NoError(t, d.RegisterPool(pool.Config{ID: "p", WorkerCount: 1}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.SubmitTask(delivery("p", 1))
		d.Tick(10)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink deadlocked against the dispatcher lock")
	}
	assert.Len(t, seen, 3)
}

func TestConcurrentDeliveryFollowsStateOrder(t *testing.T) {
	rec := &notify.Recorder{}
	blocked := make(chan struct{})
	release := make(chan struct{})
	d := New(Options{
		Clock: clock.NewSim(0),
		Sink: notify.SinkFunc(func(n notify.Notification) {
			if n.EventType() == notify.TypeTaskCancelled {
				close(blocked)
				<-release
			}
			rec.Notify(n)
		}),
	})
	require.NoError(t, d.RegisterPool(pool.Config{ID: "p", WorkerCount: 1}))
	first, err := d.SubmitTask(delivery("p", 1))
	require.NoError(t, err)
	second, err := d.SubmitTask(delivery("p", 1))
	require.NoError(t, err)
	rec.Reset()

	cancelled := make(chan bool, 1)
	go func() { cancelled <- d.CancelTask(first, "") }()
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never reached the sink")
	}

	ticked := make(chan TickReport, 1)
	go func() { ticked <- d.Tick(1) }()
	require.Eventually(t, func() bool {
		task, ok := d.GetTask(second)
		return ok && task.Status == queue.StatusAssigned
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.Types(), "tick batch must wait for the cancel batch")

	close(release)
	assert.True(t, <-cancelled)
	assert.Equal(t, 1, (<-ticked).Assigned)
	assert.Equal(t, []string{notify.TypeTaskCancelled, notify.TypeWorkerAssigned}, rec.Types())
}
