package watch

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/convoy/internal/api"
)

const (
	refreshInterval = time.Second
	reconnectDelay  = 3 * time.Second
	requestTimeout  = 2 * time.Second
)

// API is the slice of *api.Client the view uses.
type API interface {
	Health(ctx context.Context) (api.HealthzResponse, error)
	Pools(ctx context.Context) (api.PoolsResponse, error)
	Workers(ctx context.Context, poolID string) (api.WorkersResponse, error)
	Stream(ctx context.Context, lastID int64, fn func(api.StreamEvent) error) error
}

// --- Message types ---

type eventMsg api.StreamEvent

type snapshotMsg struct {
	health  api.HealthzResponse
	pools   api.PoolsResponse
	workers *api.WorkersResponse
}

type refreshMsg time.Time

type errMsg struct{ err error }

type sseDisconnectedMsg struct{ err error }

type reconnectMsg struct{}

// --- Commands ---

// subscribe follows the event stream, pushing events into ch. It resumes
// after lastID and reports sseDisconnectedMsg when the stream ends.
func subscribe(ctx context.Context, c API, lastID int64, ch chan<- api.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		err := c.Stream(ctx, lastID, func(ev api.StreamEvent) error {
			select {
			case ch <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return sseDisconnectedMsg{err: err}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan api.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchSnapshot loads health, pools and, when poolID is set, its workers.
func fetchSnapshot(c API, poolID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		health, err := c.Health(ctx)
		if err != nil {
			return errMsg{err}
		}
		pools, err := c.Pools(ctx)
		if err != nil {
			return errMsg{err}
		}
		msg := snapshotMsg{health: health, pools: pools}
		if poolID == "" && len(pools.Pools) > 0 {
			poolID = pools.Pools[0].Config.ID
		}
		if poolID != "" {
			workers, err := c.Workers(ctx, poolID)
			if err == nil {
				msg.workers = &workers
			}
		}
		return msg
	}
}

func scheduleRefresh(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

type workersMsg struct{ resp api.WorkersResponse }

func fetchWorkers(c API, poolID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := c.Workers(ctx, poolID)
		if err != nil {
			return errMsg{err}
		}
		return workersMsg{resp: resp}
	}
}
