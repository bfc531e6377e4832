package dispatch

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/mattjoyce/convoy/internal/clock"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/metrics"
	"github.com/mattjoyce/convoy/internal/notify"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

// DefaultCancelReason is recorded when CancelTask is given no reason.
const DefaultCancelReason = "cancelled"

// Options configures a Dispatcher. Zero values are usable: a fresh
// simulated clock, a discarding sink, the dispatch component logger and no
// metrics.
type Options struct {
	Clock   clock.Clock
	Sink    notify.Sink
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// HistorySize bounds how many finished tasks stay retrievable by id.
	// Zero or less keeps none.
	HistorySize int
}

// Dispatcher matches pending tasks to idle workers and drives workers
// through their phases as the clock advances.
type Dispatcher struct {
	mu       sync.Mutex
	clock    clock.Clock
	catalog  *queue.Catalog
	registry *pool.Registry
	sink     notify.Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// issued is guarded by mu. Batches are handed to the sink strictly in
	// issue order; delivered counts the batches already handed over.
	issued    uint64
	deliverMu sync.Mutex
	turn      *sync.Cond
	delivered uint64
}

// TickReport summarizes what one Tick did.
type TickReport struct {
	Now         float64 `json:"now"`
	Transitions int     `json:"transitions"`
	Assigned    int     `json:"assigned"`
	Pruned      int     `json:"pruned"`
}

// PoolSummary is a read-only view of one pool for listings.
type PoolSummary struct {
	Config    pool.Config         `json:"config"`
	Pending   int                 `json:"pending"`
	Active    int                 `json:"active"`
	Available int                 `json:"available"`
	Workers   map[pool.Status]int `json:"workers"`
}

// New creates an empty dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.NewSim(0)
	}
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("dispatch")
	}
	d := &Dispatcher{
		clock:    opts.Clock,
		catalog:  queue.NewCatalog(opts.HistorySize),
		registry: pool.NewRegistry(),
		sink:     opts.Sink,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	d.turn = sync.NewCond(&d.deliverMu)
	return d
}

// Now returns the dispatcher clock reading.
func (d *Dispatcher) Now() float64 {
	return d.clock.Now()
}

// RegisterPool creates a pool and its fixed roster of available workers at
// the pool's home location.
func (d *Dispatcher) RegisterPool(cfg pool.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.registry.Register(cfg, d.clock.Now())
	if err != nil {
		d.logger.Warn("pool registration rejected", "pool_id", cfg.ID, "error", err)
		return err
	}
	d.logger.Info("pool registered",
		"pool_id", p.Config.ID,
		"name", p.Config.Name,
		"workers", p.Config.WorkerCount,
		"home", p.Config.Home.String(),
	)
	return nil
}

// SubmitTask stores a pending task and immediately tries to hand it, or a
// more urgent one, to an idle worker of the same pool.
func (d *Dispatcher) SubmitTask(def queue.Definition) (string, error) {
	if err := def.Validate(); err != nil {
		d.metrics.TaskRejected("invalid")
		d.logger.Warn("task rejected", "pool_id", def.Pool, "error", err)
		return "", fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	d.mu.Lock()
	p, ok := d.registry.Get(def.Pool)
	if !ok {
		d.mu.Unlock()
		d.metrics.TaskRejected("unknown_pool")
		d.logger.Warn("task rejected", "pool_id", def.Pool, "error", ErrUnknownPool)
		return "", fmt.Errorf("%w: %q", ErrUnknownPool, def.Pool)
	}

	now := d.clock.Now()
	t := d.catalog.Add(def, now)
	out := []notify.Notification{notify.TaskSubmitted{
		TaskID:    t.ID,
		PoolID:    def.Pool,
		Type:      def.Type,
		TargetRef: def.TargetRef,
		Location:  def.Location,
		At:        now,
	}}
	d.metrics.TaskSubmitted(def.Pool)
	d.logger.Debug("task submitted", "task_id", t.ID, "pool_id", def.Pool, "priority", def.Priority)

	d.assign(p, now, &out)
	ticket := d.issue()
	d.mu.Unlock()

	d.deliver(ticket, out)
	return t.ID, nil
}

// CancelTask cancels a pending or active task. A worker holding the task is
// made available where it stands. It returns false, and emits nothing, when
// the task is unknown or already finished.
func (d *Dispatcher) CancelTask(id, reason string) bool {
	if reason == "" {
		reason = DefaultCancelReason
	}

	d.mu.Lock()
	t, ok := d.catalog.Live(id)
	if !ok || t.Status.IsTerminal() {
		d.mu.Unlock()
		d.logger.Debug("cancel ignored", "task_id", id, "known", ok)
		return false
	}

	now := d.clock.Now()
	if t.Status.IsActive() {
		if w, ok := d.registry.Worker(t.WorkerID); ok && w.TaskID == t.ID {
			w.Free(now)
		}
	}
	if err := t.SetStatus(queue.StatusCancelled); err != nil {
		d.mu.Unlock()
		d.logger.Error("cancel failed", "task_id", id, "error", err)
		return false
	}
	t.CancelledAt = queue.At(now)
	t.CancelReason = reason
	d.metrics.TaskCancelled(t.Def.Pool)
	poolID := t.Def.Pool
	ticket := d.issue()
	d.mu.Unlock()

	d.logger.Info("task cancelled", "task_id", id, "pool_id", poolID, "reason", reason)
	d.deliver(ticket, []notify.Notification{notify.TaskCancelled{
		TaskID: id,
		PoolID: poolID,
		Reason: reason,
		At:     now,
	}})
	return true
}

// Tick advances the clock by dt seconds when the clock can be advanced,
// then resolves due phase transitions, assigns idle workers and prunes
// finished tasks. A negative or NaN dt counts as zero.
func (d *Dispatcher) Tick(dt float64) TickReport {
	if !(dt > 0) || math.IsInf(dt, 0) {
		dt = 0
	}

	d.mu.Lock()
	if adv, ok := d.clock.(clock.Advancer); ok && dt > 0 {
		adv.Advance(dt)
	}
	now := d.clock.Now()
	report := TickReport{Now: now}
	var out []notify.Notification

	pools := d.registry.Pools()
	for _, p := range pools {
		for _, w := range p.Workers {
			if !w.Due(now) {
				continue
			}
			if d.step(p, w, now, &out) {
				report.Transitions++
			}
		}
	}
	for _, p := range pools {
		report.Assigned += d.assign(p, now, &out)
	}
	report.Pruned = d.catalog.Prune()

	d.metrics.Tick()
	for _, p := range pools {
		d.metrics.ObservePool(p.Config.ID, d.catalog.PendingCount(p.Config.ID), p.Counts())
	}
	ticket := d.issue()
	d.mu.Unlock()

	d.deliver(ticket, out)
	return report
}

// step applies the single transition a due worker is waiting for.
func (d *Dispatcher) step(p *pool.Pool, w *pool.Worker, now float64, out *[]notify.Notification) bool {
	if w.Status == pool.StatusReturning {
		if err := w.Release(now); err != nil {
			d.logger.Error("release failed", "worker_id", w.ID, "error", err)
			return false
		}
		return true
	}

	t, ok := d.catalog.Live(w.TaskID)
	if !ok {
		d.logger.Warn("worker lost its task, freeing", "worker_id", w.ID, "task_id", w.TaskID, "status", w.Status)
		w.Free(now)
		return true
	}

	switch w.Status {
	case pool.StatusEnRoute:
		if err := w.Arrive(t.Def.Location, p.Config.ProcessDuration(t.Def.ProcessSeconds), now); err != nil {
			d.logger.Error("arrival failed", "worker_id", w.ID, "error", err)
			return false
		}
		if err := t.SetStatus(queue.StatusInProgress); err != nil {
			d.logger.Error("task transition failed", "task_id", t.ID, "error", err)
		}
		t.ArrivedAt = queue.At(now)
		*out = append(*out, notify.WorkerArrived{
			TaskID:    t.ID,
			WorkerID:  w.ID,
			PoolID:    p.Config.ID,
			TargetRef: t.Def.TargetRef,
			At:        now,
		})
	case pool.StatusWorking:
		if err := w.StartReturn(p.Config.ReturnDuration(t.Def.ReturnSeconds), now); err != nil {
			d.logger.Error("return failed", "worker_id", w.ID, "error", err)
			return false
		}
		if err := t.SetStatus(queue.StatusCompleted); err != nil {
			d.logger.Error("task transition failed", "task_id", t.ID, "error", err)
		}
		t.CompletedAt = queue.At(now)
		d.metrics.TaskCompleted(p.Config.ID)
		d.logger.Info("task completed", "task_id", t.ID, "worker_id", w.ID, "pool_id", p.Config.ID)
		*out = append(*out, notify.TaskCompleted{
			TaskID:    t.ID,
			WorkerID:  w.ID,
			PoolID:    p.Config.ID,
			Type:      t.Def.Type,
			TargetRef: t.Def.TargetRef,
			Rewards:   t.Def.Clone().Rewards,
			At:        now,
		})
	default:
		return false
	}
	return true
}

// assign hands pending tasks to available workers in roster order until
// one of the two runs out. It returns the number of assignments made.
func (d *Dispatcher) assign(p *pool.Pool, now float64, out *[]notify.Notification) int {
	n := 0
	for _, w := range p.Workers {
		if w.Status != pool.StatusAvailable {
			continue
		}
		t := d.catalog.NextPending(p.Config.ID)
		if t == nil {
			break
		}
		travel := p.Config.TravelDuration(t.Def.TravelSeconds)
		if err := w.Dispatch(t.ID, travel, now); err != nil {
			d.logger.Error("dispatch failed", "worker_id", w.ID, "error", err)
			continue
		}
		if err := t.SetStatus(queue.StatusAssigned); err != nil {
			d.logger.Error("task transition failed", "task_id", t.ID, "error", err)
		}
		t.WorkerID = w.ID
		t.AssignedAt = queue.At(now)
		n++

		d.metrics.TaskAssigned(p.Config.ID, now-t.SubmittedAt)
		d.logger.Debug("task assigned", "task_id", t.ID, "worker_id", w.ID, "pool_id", p.Config.ID, "eta", travel)
		*out = append(*out, notify.WorkerAssigned{
			TaskID:                  t.ID,
			WorkerID:                w.ID,
			PoolID:                  p.Config.ID,
			EstimatedArrivalSeconds: travel,
			At:                      now,
		})
	}
	return n
}

// issue reserves the next delivery slot. Call with mu held so slots follow
// the order of state changes.
func (d *Dispatcher) issue() uint64 {
	t := d.issued
	d.issued++
	return t
}

// deliver waits for every earlier batch to reach the sink, then hands over
// out. mu is not held, so the sink may query the dispatcher. A sink that
// submits or cancels synchronously would wait on itself.
func (d *Dispatcher) deliver(ticket uint64, out []notify.Notification) {
	d.deliverMu.Lock()
	for d.delivered != ticket {
		d.turn.Wait()
	}
	d.deliverMu.Unlock()
	defer func() {
		d.deliverMu.Lock()
		d.delivered++
		d.turn.Broadcast()
		d.deliverMu.Unlock()
	}()

	for _, n := range out {
		d.sink.Notify(n)
	}
}

// GetTask returns a copy of a live or retained task.
func (d *Dispatcher) GetTask(id string) (queue.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.catalog.Get(id)
	if !ok {
		return queue.Task{}, false
	}
	return t.Clone(), true
}

// GetPendingTasks lists a pool's pending tasks in submission order.
func (d *Dispatcher) GetPendingTasks(poolID string) []queue.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneTasks(d.catalog.Pending(poolID))
}

// GetActiveTasks lists a pool's assigned and in-progress tasks.
func (d *Dispatcher) GetActiveTasks(poolID string) []queue.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneTasks(d.catalog.Active(poolID))
}

// GetPendingCount returns how many tasks wait in a pool's queue.
func (d *Dispatcher) GetPendingCount(poolID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.catalog.PendingCount(poolID)
}

// GetAvailableWorkerCount returns 0 for unknown pools.
func (d *Dispatcher) GetAvailableWorkerCount(poolID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.registry.Get(poolID)
	if !ok {
		return 0
	}
	return p.AvailableCount()
}

// GetWorker returns a copy of a worker by id.
func (d *Dispatcher) GetWorker(id string) (pool.Worker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.registry.Worker(id)
	if !ok {
		return pool.Worker{}, false
	}
	return w.Clone(), true
}

// GetWorkers returns a pool's roster in index order, or nil for an unknown
// pool.
func (d *Dispatcher) GetWorkers(poolID string) []pool.Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.registry.Get(poolID)
	if !ok {
		return nil
	}
	out := make([]pool.Worker, len(p.Workers))
	for i, w := range p.Workers {
		out[i] = w.Clone()
	}
	return out
}

// HasPool reports whether poolID is registered.
func (d *Dispatcher) HasPool(poolID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.registry.Get(poolID)
	return ok
}

// Pools summarizes every pool in registration order.
func (d *Dispatcher) Pools() []PoolSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	pools := d.registry.Pools()
	out := make([]PoolSummary, 0, len(pools))
	for _, p := range pools {
		counts := p.Counts()
		out = append(out, PoolSummary{
			Config:    p.Config,
			Pending:   d.catalog.PendingCount(p.Config.ID),
			Active:    len(d.catalog.Active(p.Config.ID)),
			Available: counts[pool.StatusAvailable],
			Workers:   counts,
		})
	}
	return out
}

func cloneTasks(in []*queue.Task) []queue.Task {
	out := make([]queue.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
