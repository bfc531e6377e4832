package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/auth"
	"github.com/mattjoyce/convoy/internal/clock"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/lock"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/metrics"
	"github.com/mattjoyce/convoy/internal/notify"
	"github.com/mattjoyce/convoy/internal/scheduler"
	"github.com/mattjoyce/convoy/internal/state"
	"github.com/mattjoyce/convoy/internal/storage"
	"github.com/mattjoyce/convoy/internal/webhook"
)

const hubCapacity = 1024

type startOptions struct {
	dbPath string
	fresh  bool
}

func newStartCmd(g *globalOptions) *cobra.Command {
	opts := &startOptions{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the dispatcher in the foreground",
		Long: `Run the dispatcher in the foreground until SIGINT or SIGTERM.

State is checkpointed to SQLite and restored on the next start unless
--fresh is given. Pools from the config that are not in the restored
state are registered; config edits are picked up while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, g.configPath, *opts)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "override state.path from config")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "ignore any stored snapshot")
	return cmd
}

func runStart(ctx context.Context, configPath string, opts startOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.State.Path = opts.dbPath
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("convoy starting",
		"version", currentVersionInfo().Version,
		"config", configPath,
		"pools", len(cfg.Pools),
	)

	if !storage.IsMemory(cfg.State.Path) {
		pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.State.Path))
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				return fmt.Errorf("another convoy instance is using %s: %w", cfg.State.Path, err)
			}
			return fmt.Errorf("failed to acquire PID lock: %w", err)
		}
		defer func() {
			if err := pidLock.Release(); err != nil {
				logger.Warn("failed to release PID lock", "error", err)
			}
		}()
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()
	store := state.NewStore(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := events.NewHub(hubCapacity)
	sinks := notify.Fanout{notify.ToPublisher(hub)}

	var journal *state.Journal
	if *cfg.State.Journal {
		journal = state.NewJournal(db, log.WithComponent("journal"))
		journal.Start()
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	d, err := loadDispatcher(ctx, store, dispatch.Options{
		Sink:        sinks,
		Logger:      log.WithComponent("dispatch"),
		Metrics:     m,
		HistorySize: *cfg.State.HistorySize,
	}, opts.fresh, logger)
	if err != nil {
		return err
	}
	syncPools(d, cfg, logger)

	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		TickInterval:     cfg.Service.TickInterval,
		TimeScale:        cfg.Service.TimeScale,
		SnapshotInterval: cfg.Service.SnapshotInterval,
		LogRetention:     cfg.State.LogRetention,
	}, d, hub, log.WithComponent("runner")).
		WithCheckpoint(state.Checkpointer{Store: store, Source: d})
	if journal != nil {
		runner = runner.WithPruner(journal)
	}
	runner.Start(ctx)
	// Stops before the journal and database close: the final checkpoint
	// still needs both.
	defer runner.Stop()

	recurring := scheduler.NewRecurring(d, log.WithComponent("recurring"))
	for _, job := range cfg.Jobs() {
		if err := recurring.Add(job); err != nil {
			return fmt.Errorf("recurring job %q: %w", job.Name, err)
		}
	}
	recurring.Start()
	defer recurring.Stop()

	errCh := make(chan error, 2)

	watcher := config.NewWatcher(configPath, log.Get(), func(next *config.Config) {
		syncPools(d, next, logger)
		if err := recurring.Replace(next.Jobs()); err != nil {
			logger.Error("recurring jobs not reloaded", "error", err)
		}
	})
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	if cfg.API.Enabled {
		server := api.New(api.Config{
			Listen:      cfg.API.Listen,
			APIKey:      cfg.API.Auth.APIKey,
			Tokens:      tokenConfigs(cfg.API.Auth.Tokens),
			SubmitRate:  cfg.API.SubmitRate,
			SubmitBurst: cfg.API.SubmitBurst,
		}, d, hub, log.WithComponent("api"), apiOptions(reg, journal)...)
		go func() {
			if err := server.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	if cfg.Webhooks.Enabled {
		whCfg, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			return fmt.Errorf("invalid webhook config: %w", err)
		}
		hooks := webhook.New(whCfg, d, log.WithComponent("webhook"))
		go func() {
			if err := hooks.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info("convoy running", "pools", len(d.Pools()), "recurring", len(recurring.Names()), "api", cfg.API.Enabled, "webhooks", cfg.Webhooks.Enabled)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}

// loadDispatcher restores the newest snapshot onto a clock that resumes at
// the snapshot's own time, or starts empty when there is none.
func loadDispatcher(ctx context.Context, store *state.Store, opts dispatch.Options, fresh bool, logger *slog.Logger) (*dispatch.Dispatcher, error) {
	if fresh {
		logger.Info("starting fresh; stored snapshots ignored")
		return dispatch.New(opts), nil
	}
	snap, info, err := store.Latest(ctx)
	switch {
	case errors.Is(err, state.ErrNoSnapshot):
		return dispatch.New(opts), nil
	case errors.Is(err, state.ErrSnapshotCorrupt):
		return nil, fmt.Errorf("stored snapshot %d is corrupt; rerun with --fresh to discard it: %w", info.ID, err)
	case err != nil:
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	opts.Clock = clock.NewSim(snap.TakenAt)
	d, err := dispatch.Restore(snap, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to restore snapshot %d: %w", info.ID, err)
	}
	logger.Info("state restored", "snapshot_id", info.ID, "taken_at", snap.TakenAt)
	return d, nil
}

// syncPools registers configured pools the dispatcher does not know yet.
// Pools are immutable once registered, so a changed entry is only reported.
func syncPools(d *dispatch.Dispatcher, cfg *config.Config, logger *slog.Logger) {
	existing := make(map[string]dispatch.PoolSummary)
	for _, p := range d.Pools() {
		existing[p.Config.ID] = p
	}
	for _, id := range cfg.SortedPoolIDs() {
		want := cfg.Pools[id].PoolConfig(id)
		if have, ok := existing[id]; ok {
			if have.Config != want {
				logger.Warn("pool config differs from running pool; restart with --fresh to apply",
					"pool_id", id,
				)
			}
			continue
		}
		if err := d.RegisterPool(want); err != nil {
			logger.Error("failed to register pool", "pool_id", id, "error", err)
		}
	}
}

func tokenConfigs(in []config.APIToken) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(in))
	for _, t := range in {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

func apiOptions(reg *prometheus.Registry, journal *state.Journal) []api.Option {
	opts := []api.Option{
		api.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	}
	if journal != nil {
		opts = append(opts, api.WithTaskLog(journal))
	}
	return opts
}
