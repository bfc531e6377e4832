package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/notify"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

func newClientFixture(t *testing.T) (*fixture, *Client) {
	t.Helper()
	f := newFixture(t, authConfig())
	ts := httptest.NewServer(f.h)
	t.Cleanup(ts.Close)
	return f, NewClient(ts.URL+"/", adminKey)
}

func TestClientRoundTrip(t *testing.T) {
	f, c := newClientFixture(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	cfg, err := c.RegisterPool(ctx, pool.Config{ID: "vans", WorkerCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.TravelSpeed)

	sub, err := c.Submit(ctx, queue.Definition{Pool: "vans", Type: "deliver", TravelSeconds: 2, Rewards: map[string]int64{"xp": 3}})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAssigned, sub.Status)

	task, err := c.Task(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), task.Def.Rewards["xp"])

	wk, err := c.Worker(ctx, task.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, pool.StatusEnRoute, wk.Status)

	workers, err := c.Workers(ctx, "vans")
	require.NoError(t, err)
	assert.Len(t, workers.Workers, 1)

	active, err := c.PoolTasks(ctx, "vans", "active")
	require.NoError(t, err)
	require.Len(t, active.Tasks, 1)

	pools, err := c.Pools(ctx)
	require.NoError(t, err)
	assert.Len(t, pools.Pools, 2)

	f.d.Tick(2)
	task, err = c.Task(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusInProgress, task.Status)

	res, err := c.Cancel(ctx, sub.TaskID, "recalled")
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "recalled", res.Task.CancelReason)
}

func TestClientErrors(t *testing.T) {
	_, c := newClientFixture(t)
	ctx := context.Background()

	_, err := c.Task(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.Submit(ctx, queue.Definition{Pool: "trucks", ProcessSeconds: -4})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Message, "process_seconds")
	assert.False(t, errors.Is(err, ErrNotFound))

	c.token = readerToken
	_, err = c.Submit(ctx, queue.Definition{Pool: "trucks"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)

	_, err = c.Log(ctx, "", 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClientStream(t *testing.T) {
	f, c := newClientFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan StreamEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.Stream(ctx, 0, func(ev StreamEvent) error {
			got <- ev
			if ev.Type == notify.TypeWorkerAssigned {
				return errStop
			}
			return nil
		})
	}()

	// The handler replays the ring, so events published before the
	// subscription lands are still delivered.
	id, err := f.d.SubmitTask(queue.Definition{Pool: "trucks", Type: "haul"})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.ErrorIs(t, err, errStop)
	case <-ctx.Done():
		t.Fatal("stream did not deliver worker.assigned")
	}
	close(got)

	var types []string
	for ev := range got {
		types = append(types, ev.Type)
		assert.Positive(t, ev.ID)
		assert.Contains(t, string(ev.Data), id)
	}
	assert.Equal(t, []string{notify.TypeTaskSubmitted, notify.TypeWorkerAssigned}, types)
}

var errStop = errors.New("stop")
