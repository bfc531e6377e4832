package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/convoy/internal/scheduler Stepper,Submitter,Checkpointer,LogPruner

// Stepper advances the dispatcher by a number of simulated seconds.
type Stepper interface {
	Tick(dt float64) dispatch.TickReport
}

// Submitter accepts new tasks.
type Submitter interface {
	SubmitTask(def queue.Definition) (string, error)
}

// Checkpointer persists the current dispatcher state.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// LogPruner drops task log rows older than the retention window.
type LogPruner interface {
	PruneTaskLog(ctx context.Context, retention time.Duration) error
}
