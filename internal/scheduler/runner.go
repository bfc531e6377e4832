// Package scheduler drives the dispatcher in real time and submits
// recurring tasks on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/convoy/internal/events"
)

const (
	defaultTickInterval = 100 * time.Millisecond
	pruneInterval       = time.Minute
)

// RunnerConfig controls the tick loop.
type RunnerConfig struct {
	TickInterval time.Duration
	// TimeScale multiplies wall-clock seconds into simulated seconds.
	TimeScale        float64
	SnapshotInterval time.Duration
	LogRetention     time.Duration
}

// Runner calls Tick on the dispatcher at a fixed wall-clock cadence and
// handles the periodic housekeeping around it.
type Runner struct {
	cfg        RunnerConfig
	stepper    Stepper
	checkpoint Checkpointer
	pruner     LogPruner
	events     *events.Hub
	logger     *slog.Logger
	now        func() time.Time

	last         time.Time
	lastSnapshot time.Time
	lastPrune    time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner creates a Runner. A nil hub gets a private one.
func NewRunner(cfg RunnerConfig, stepper Stepper, hub *events.Hub, logger *slog.Logger) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 1
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Runner{
		cfg:     cfg,
		stepper: stepper,
		events:  hub,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// WithCheckpoint saves state every SnapshotInterval and once on Stop.
func (r *Runner) WithCheckpoint(c Checkpointer) *Runner {
	r.checkpoint = c
	return r
}

// WithPruner trims the task log to LogRetention about once a minute.
func (r *Runner) WithPruner(p LogPruner) *Runner {
	r.pruner = p
	return r
}

// Start launches the tick loop. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Starting tick loop",
		"tick_interval", r.cfg.TickInterval,
		"time_scale", r.cfg.TimeScale,
	)
	start := r.now()
	r.last, r.lastSnapshot, r.lastPrune = start, start, start

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the loop, waits for it and writes a final checkpoint.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping tick loop")
		close(r.stopCh)
		r.wg.Wait()
		if r.checkpoint != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.checkpoint.Checkpoint(ctx); err != nil {
				r.logger.Error("Final checkpoint failed", "error", err)
			}
		}
		r.logger.Info("Tick loop stopped")
	})
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx, r.now())
		case <-r.stopCh:
			return
		case <-ctx.Done():
			r.logger.Warn("Context cancelled, stopping tick loop")
			return
		}
	}
}

// tick advances the dispatcher by the scaled wall time since the last tick.
func (r *Runner) tick(ctx context.Context, at time.Time) {
	elapsed := at.Sub(r.last)
	if elapsed < 0 {
		elapsed = 0
	}
	r.last = at

	report := r.stepper.Tick(elapsed.Seconds() * r.cfg.TimeScale)
	if report.Transitions > 0 || report.Assigned > 0 {
		r.logger.Debug("Tick",
			"now", report.Now,
			"transitions", report.Transitions,
			"assigned", report.Assigned,
			"pruned", report.Pruned,
		)
	}
	r.events.Publish("scheduler.tick", report)

	if r.checkpoint != nil && r.cfg.SnapshotInterval > 0 && at.Sub(r.lastSnapshot) >= r.cfg.SnapshotInterval {
		r.lastSnapshot = at
		if err := r.checkpoint.Checkpoint(ctx); err != nil {
			r.logger.Error("Checkpoint failed", "error", err)
		}
	}
	if r.pruner != nil && r.cfg.LogRetention > 0 && at.Sub(r.lastPrune) >= pruneInterval {
		r.lastPrune = at
		if err := r.pruner.PruneTaskLog(ctx, r.cfg.LogRetention); err != nil {
			r.logger.Error("Failed to prune task log", "error", err)
		}
	}
}
