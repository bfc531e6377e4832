// Package pool materializes fixed-size worker rosters and owns the worker
// phase machine: available → en_route → working → returning → available.
package pool

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/convoy/internal/geom"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusEnRoute   Status = "en_route"
	StatusWorking   Status = "working"
	StatusReturning Status = "returning"
)

// Statuses lists every worker status in cycle order.
var Statuses = []Status{StatusAvailable, StatusEnRoute, StatusWorking, StatusReturning}

var ErrWrongPhase = errors.New("worker is not in the required phase")

// Worker is a pool-owned resource executing at most one task at a time.
// PhaseSeconds is the effective duration of the current phase, fixed when
// the phase is entered so it survives the task being pruned.
type Worker struct {
	ID             string      `json:"id"`
	Pool           string      `json:"pool"`
	Index          int         `json:"index"`
	Status         Status      `json:"status"`
	TaskID         string      `json:"task_id,omitempty"`
	Location       geom.Point3 `json:"location"`
	Home           geom.Point3 `json:"home"`
	StateChangedAt float64     `json:"state_changed_at"`
	PhaseSeconds   float64     `json:"phase_seconds"`
}

// Due reports whether the current phase has run its course at now.
// An available worker is never due.
func (w *Worker) Due(now float64) bool {
	if w.Status == StatusAvailable {
		return false
	}
	return now >= w.StateChangedAt+w.PhaseSeconds
}

// Elapsed returns how long the worker has been in its current phase.
func (w *Worker) Elapsed(now float64) float64 {
	if d := now - w.StateChangedAt; d > 0 {
		return d
	}
	return 0
}

// Dispatch sends an available worker towards taskID.
func (w *Worker) Dispatch(taskID string, travel, now float64) error {
	if err := w.expect(StatusAvailable); err != nil {
		return err
	}
	w.Status = StatusEnRoute
	w.TaskID = taskID
	w.enter(travel, now)
	return nil
}

// Arrive snaps the worker to the task location and starts work.
func (w *Worker) Arrive(at geom.Point3, process, now float64) error {
	if err := w.expect(StatusEnRoute); err != nil {
		return err
	}
	w.Status = StatusWorking
	w.Location = at
	w.enter(process, now)
	return nil
}

// StartReturn begins the trip home once work is done.
func (w *Worker) StartReturn(ret, now float64) error {
	if err := w.expect(StatusWorking); err != nil {
		return err
	}
	w.Status = StatusReturning
	w.enter(ret, now)
	return nil
}

// Release puts a returning worker back at home and clears its task.
func (w *Worker) Release(now float64) error {
	if err := w.expect(StatusReturning); err != nil {
		return err
	}
	w.Location = w.Home
	w.Free(now)
	return nil
}

// Free makes the worker available where it stands. Cancellation uses this
// directly; there is no return leg.
func (w *Worker) Free(now float64) {
	w.Status = StatusAvailable
	w.TaskID = ""
	w.enter(0, now)
}

// Clone returns a copy for callers outside the dispatcher lock.
func (w *Worker) Clone() Worker {
	return *w
}

func (w *Worker) enter(phase, now float64) {
	w.StateChangedAt = now
	w.PhaseSeconds = phase
}

func (w *Worker) expect(s Status) error {
	if w.Status != s {
		return fmt.Errorf("%w: worker %s is %s, want %s", ErrWrongPhase, w.ID, w.Status, s)
	}
	return nil
}
