package dispatch

import (
	"fmt"

	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

// SnapshotVersion is the format version written by Snapshot.
const SnapshotVersion = 1

// Snapshot is the restorable state of a dispatcher. Worker phase timers are
// kept as elapsed seconds so they can be re-based onto another clock.
type Snapshot struct {
	Version int            `json:"version"`
	TakenAt float64        `json:"taken_at"`
	Seq     uint64         `json:"seq"`
	Pools   []PoolSnapshot `json:"pools"`
	Tasks   []queue.Task   `json:"tasks"`
	History []queue.Task   `json:"history,omitempty"`
}

type PoolSnapshot struct {
	Config  pool.Config      `json:"config"`
	Workers []WorkerSnapshot `json:"workers"`
}

type WorkerSnapshot struct {
	pool.Worker
	Elapsed float64 `json:"elapsed"`
}

// Snapshot captures pools, workers, live tasks and retained history.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	s := Snapshot{
		Version: SnapshotVersion,
		TakenAt: now,
		Seq:     d.catalog.Seq(),
		Tasks:   cloneTasks(d.catalog.All()),
		History: cloneTasks(d.catalog.History()),
	}
	for _, p := range d.registry.Pools() {
		ps := PoolSnapshot{Config: p.Config, Workers: make([]WorkerSnapshot, len(p.Workers))}
		for i, w := range p.Workers {
			ps.Workers[i] = WorkerSnapshot{Worker: w.Clone(), Elapsed: w.Elapsed(now)}
		}
		s.Pools = append(s.Pools, ps)
	}
	return s
}

// Restore builds a dispatcher from a snapshot. Each worker's phase start
// becomes now minus its recorded elapsed time, and task timestamps move by
// the difference between the two clock origins.
func Restore(s Snapshot, opts Options) (*Dispatcher, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalidSnapshot, s.Version, SnapshotVersion)
	}
	d := New(opts)
	now := d.clock.Now()
	delta := now - s.TakenAt

	for _, ps := range s.Pools {
		p, err := restorePool(ps, now)
		if err != nil {
			return nil, err
		}
		if err := d.registry.Adopt(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
	}

	live := make([]queue.Task, len(s.Tasks))
	for i := range s.Tasks {
		live[i] = s.Tasks[i].Clone()
		live[i].Shift(delta)
		if err := d.checkTask(&live[i]); err != nil {
			return nil, err
		}
	}
	history := make([]queue.Task, len(s.History))
	for i := range s.History {
		history[i] = s.History[i].Clone()
		history[i].Shift(delta)
	}
	d.catalog.Load(live, history, s.Seq)

	if err := d.checkWorkers(); err != nil {
		return nil, err
	}
	d.logger.Info("dispatcher restored",
		"pools", d.registry.Len(),
		"tasks", len(live),
		"history", len(history),
		"offset", delta,
	)
	return d, nil
}

func restorePool(ps PoolSnapshot, now float64) (*pool.Pool, error) {
	cfg := ps.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if len(ps.Workers) != cfg.WorkerCount {
		return nil, fmt.Errorf("%w: pool %q has %d workers, config says %d",
			ErrInvalidSnapshot, cfg.ID, len(ps.Workers), cfg.WorkerCount)
	}
	p := &pool.Pool{Config: cfg, Workers: make([]*pool.Worker, len(ps.Workers))}
	for i, ws := range ps.Workers {
		w := ws.Worker
		if w.Pool != cfg.ID {
			return nil, fmt.Errorf("%w: worker %s belongs to %q, found under %q", ErrInvalidSnapshot, w.ID, w.Pool, cfg.ID)
		}
		if (w.Status == pool.StatusAvailable) != (w.TaskID == "") {
			return nil, fmt.Errorf("%w: worker %s is %s with task %q", ErrInvalidSnapshot, w.ID, w.Status, w.TaskID)
		}
		elapsed := ws.Elapsed
		if elapsed < 0 {
			elapsed = 0
		}
		w.StateChangedAt = now - elapsed
		w.Index = i
		p.Workers[i] = &w
	}
	return p, nil
}

// checkTask verifies an active task points at a worker that points back.
func (d *Dispatcher) checkTask(t *queue.Task) error {
	if _, ok := d.registry.Get(t.Def.Pool); !ok {
		return fmt.Errorf("%w: task %s references unknown pool %q", ErrInvalidSnapshot, t.ID, t.Def.Pool)
	}
	if !t.Status.IsActive() {
		return nil
	}
	w, ok := d.registry.Worker(t.WorkerID)
	if !ok || w.TaskID != t.ID {
		return fmt.Errorf("%w: task %s is %s but worker %q does not hold it", ErrInvalidSnapshot, t.ID, t.Status, t.WorkerID)
	}
	return nil
}

// checkWorkers verifies every en-route or working worker holds a live task.
// Returning workers may point at a task that has already been pruned.
func (d *Dispatcher) checkWorkers() error {
	for _, p := range d.registry.Pools() {
		for _, w := range p.Workers {
			if w.Status != pool.StatusEnRoute && w.Status != pool.StatusWorking {
				continue
			}
			t, ok := d.catalog.Live(w.TaskID)
			if !ok || t.WorkerID != w.ID || !t.Status.IsActive() {
				return fmt.Errorf("%w: worker %s is %s without a matching task", ErrInvalidSnapshot, w.ID, w.Status)
			}
		}
	}
	return nil
}
