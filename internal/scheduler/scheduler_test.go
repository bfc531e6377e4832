package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/queue"
	"github.com/mattjoyce/convoy/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func newTestRunner(t *testing.T, cfg RunnerConfig, stepper Stepper) (*Runner, *events.Hub, *TestLogBuffer, time.Time) {
	t.Helper()
	slogger, logBuf := NewTestSlogger()
	hub := events.NewHub(16)
	r := NewRunner(cfg, stepper, hub, slogger)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.last, r.lastSnapshot, r.lastPrune = start, start, start
	return r, hub, logBuf, start
}

func TestRunnerTickScalesElapsedTime(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	stepper := mocks.NewMockStepper(ctrl)
	r, hub, logBuf, start := newTestRunner(t, RunnerConfig{TimeScale: 10}, stepper)

	gomock.InOrder(
		stepper.EXPECT().Tick(5.0).Return(dispatch.TickReport{Now: 5, Transitions: 1}),
		stepper.EXPECT().Tick(0.0).Return(dispatch.TickReport{Now: 5}),
	)

	r.tick(context.Background(), start.Add(500*time.Millisecond))
	r.tick(context.Background(), start.Add(100*time.Millisecond))

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.Equal(t, "scheduler.tick", evs[0].Type)
	assert.JSONEq(t, `{"now":5,"transitions":1,"assigned":0,"pruned":0}`, string(evs[0].Data))
	assert.Contains(t, logBuf.String(), `"transitions":1`)
}

func TestRunnerCheckpointAndPrune(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	stepper := mocks.NewMockStepper(ctrl)
	cp := mocks.NewMockCheckpointer(ctrl)
	pruner := mocks.NewMockLogPruner(ctrl)
	cfg := RunnerConfig{SnapshotInterval: 30 * time.Second, LogRetention: 24 * time.Hour}
	r, _, logBuf, start := newTestRunner(t, cfg, stepper)
	r.WithCheckpoint(cp).WithPruner(pruner)
	ctx := context.Background()

	stepper.EXPECT().Tick(gomock.Any()).Return(dispatch.TickReport{}).Times(3)
	cp.EXPECT().Checkpoint(ctx).Return(nil)
	cp.EXPECT().Checkpoint(ctx).Return(errors.New("disk full"))
	pruner.EXPECT().PruneTaskLog(ctx, 24*time.Hour).Return(nil)

	r.tick(ctx, start.Add(10*time.Second))
	r.tick(ctx, start.Add(30*time.Second))
	r.tick(ctx, start.Add(61*time.Second))

	assert.Contains(t, logBuf.String(), "Checkpoint failed")
}

func TestRunnerStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	stepper := mocks.NewMockStepper(ctrl)
	cp := mocks.NewMockCheckpointer(ctrl)
	slogger, _ := NewTestSlogger()
	r := NewRunner(RunnerConfig{TickInterval: 5 * time.Millisecond}, stepper, nil, slogger).WithCheckpoint(cp)

	ticked := make(chan struct{}, 1)
	stepper.EXPECT().Tick(gomock.Any()).DoAndReturn(func(float64) dispatch.TickReport {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return dispatch.TickReport{}
	}).MinTimes(1)
	cp.EXPECT().Checkpoint(gomock.Any()).Return(nil).Times(1)

	r.Start(context.Background())
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never ticked")
	}
	r.Stop()
	r.Stop()
}

func TestRecurringFireSubmitsTemplate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := mocks.NewMockSubmitter(ctrl)
	slogger, logBuf := NewTestSlogger()
	r := NewRecurring(sub, slogger)

	tmpl := queue.Definition{Pool: "trucks", Type: "restock", Rewards: map[string]int64{"gold": 1}}
	sub.EXPECT().SubmitTask(gomock.Any()).DoAndReturn(func(def queue.Definition) (string, error) {
		assert.Equal(t, "trucks", def.Pool)
		assert.Equal(t, "restock", def.Type)
		def.Rewards["gold"] = 99
		return "task-1", nil
	})
	sub.EXPECT().SubmitTask(gomock.Any()).DoAndReturn(func(def queue.Definition) (string, error) {
		assert.Equal(t, int64(1), def.Rewards["gold"])
		return "", dispatch.ErrUnknownPool
	})

	r.fire("restock", tmpl)
	r.fire("restock", tmpl)

	assert.Contains(t, logBuf.String(), `"task_id":"task-1"`)
	assert.Contains(t, logBuf.String(), "Recurring submission failed")
}

func TestRecurringAddValidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	slogger, _ := NewTestSlogger()
	r := NewRecurring(mocks.NewMockSubmitter(ctrl), slogger)

	require.NoError(t, r.Add(Job{Name: "a", Schedule: "@every 30s", Task: queue.Definition{Pool: "p"}}))
	require.NoError(t, r.Add(Job{Name: "b", Schedule: "*/5 * * * * *", Task: queue.Definition{Pool: "p"}}))
	require.NoError(t, r.Add(Job{Name: "c", Schedule: "0 9 * * 1-5", Task: queue.Definition{Pool: "p"}}))

	assert.ErrorIs(t, r.Add(Job{Name: "a", Schedule: "@hourly"}), ErrDuplicateJob)
	assert.Error(t, r.Add(Job{Name: "bad", Schedule: "every tuesday"}))
	assert.ErrorIs(t, r.Add(Job{Schedule: "@hourly"}), ErrUnnamedJob)

	names := r.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestRecurringReplace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	slogger, _ := NewTestSlogger()
	r := NewRecurring(mocks.NewMockSubmitter(ctrl), slogger)
	require.NoError(t, r.Add(Job{Name: "old", Schedule: "@hourly"}))

	err := r.Replace([]Job{{Name: "x", Schedule: "nonsense"}})
	require.Error(t, err)
	assert.Equal(t, []string{"old"}, r.Names())

	err = r.Replace([]Job{{Name: "x", Schedule: "@daily"}, {Name: "x", Schedule: "@daily"}})
	require.ErrorIs(t, err, ErrDuplicateJob)
	assert.Equal(t, []string{"old"}, r.Names())

	err = r.Replace([]Job{{Name: "x", Schedule: "@daily"}, {Schedule: "@daily"}})
	require.ErrorIs(t, err, ErrUnnamedJob)
	assert.Equal(t, []string{"old"}, r.Names())

	require.NoError(t, r.Replace([]Job{{Name: "new", Schedule: "@daily"}}))
	assert.Equal(t, []string{"new"}, r.Names())
}

func TestRecurringStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	slogger, _ := NewTestSlogger()
	r := NewRecurring(mocks.NewMockSubmitter(ctrl), slogger)
	r.Start()
	r.Start()
	r.Stop()
	r.Stop()
}

func TestNextGap(t *testing.T) {
	from := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	gap, err := NextGap("@every 45s", from)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, gap)

	gap, err = NextGap("*/10 * * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, gap)

	gap, err = NextGap("0 9 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, gap)

	_, err = NextGap("whenever", from)
	assert.Error(t, err)
}
