package queue

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/mattjoyce/convoy/internal/geom"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrInvalidDefinition = errors.New("invalid task definition")
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive reports whether a worker currently holds the task.
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusInProgress
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAssigned:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether s may move to next. The forward path is
// pending → assigned → in_progress → completed, one step at a time; any
// non-terminal status may be cut short by cancelled.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	r := s.rank()
	return r >= 0 && next.rank() == r+1
}

// Definition is the immutable description of work handed to SubmitTask.
type Definition struct {
	Pool           string            `json:"pool" yaml:"pool" toml:"pool"`
	Type           string            `json:"type" yaml:"type" toml:"type"`
	TargetRef      string            `json:"target_ref,omitempty" yaml:"target_ref" toml:"target_ref"`
	Location       geom.Point3       `json:"location" yaml:"location" toml:"location"`
	Priority       float64           `json:"priority" yaml:"priority" toml:"priority"`
	TravelSeconds  float64           `json:"travel_seconds" yaml:"travel_seconds" toml:"travel_seconds"`
	ProcessSeconds float64           `json:"process_seconds" yaml:"process_seconds" toml:"process_seconds"`
	ReturnSeconds  float64           `json:"return_seconds" yaml:"return_seconds" toml:"return_seconds"`
	Rewards        map[string]int64  `json:"rewards,omitempty" yaml:"rewards" toml:"rewards"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata" toml:"metadata"`
}

// Validate checks the fields the dispatcher computes with. Pool existence
// is checked by the dispatcher, not here.
func (d Definition) Validate() error {
	if d.Pool == "" {
		return fmt.Errorf("%w: pool is empty", ErrInvalidDefinition)
	}
	if !d.Location.Finite() {
		return fmt.Errorf("%w: location %s is not finite", ErrInvalidDefinition, d.Location)
	}
	if math.IsNaN(d.Priority) || math.IsInf(d.Priority, 0) {
		return fmt.Errorf("%w: priority must be finite", ErrInvalidDefinition)
	}
	durations := []struct {
		name string
		v    float64
	}{
		{"travel_seconds", d.TravelSeconds},
		{"process_seconds", d.ProcessSeconds},
		{"return_seconds", d.ReturnSeconds},
	}
	for _, dur := range durations {
		if math.IsNaN(dur.v) || math.IsInf(dur.v, 0) || dur.v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number (got %v)", ErrInvalidDefinition, dur.name, dur.v)
		}
	}
	return nil
}

// Clone returns a copy that shares no maps with d.
func (d Definition) Clone() Definition {
	out := d
	if d.Rewards != nil {
		out.Rewards = maps.Clone(d.Rewards)
	}
	if d.Metadata != nil {
		out.Metadata = maps.Clone(d.Metadata)
	}
	return out
}

// Task is the runtime record for a submitted Definition. Timestamps are
// clock seconds; nil means the phase has not happened.
type Task struct {
	ID           string     `json:"id"`
	Seq          uint64     `json:"seq"`
	Def          Definition `json:"definition"`
	Status       Status     `json:"status"`
	WorkerID     string     `json:"worker_id,omitempty"`
	SubmittedAt  float64    `json:"submitted_at"`
	AssignedAt   *float64   `json:"assigned_at,omitempty"`
	ArrivedAt    *float64   `json:"arrived_at,omitempty"`
	CompletedAt  *float64   `json:"completed_at,omitempty"`
	CancelledAt  *float64   `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
}

// SetStatus moves the task to next, refusing anything but a legal step.
func (t *Task) SetStatus(next Status) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrInvalidTransition, t.Status, next, t.ID)
	}
	t.Status = next
	return nil
}

// Clone returns a deep copy suitable for handing to callers.
func (t *Task) Clone() Task {
	out := *t
	out.Def = t.Def.Clone()
	out.AssignedAt = cloneTime(t.AssignedAt)
	out.ArrivedAt = cloneTime(t.ArrivedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	out.CancelledAt = cloneTime(t.CancelledAt)
	return out
}

// Shift moves every timestamp by delta seconds. Used when a task is
// restored onto a clock with a different origin.
func (t *Task) Shift(delta float64) {
	t.SubmittedAt += delta
	for _, ts := range []*float64{t.AssignedAt, t.ArrivedAt, t.CompletedAt, t.CancelledAt} {
		if ts != nil {
			*ts += delta
		}
	}
}

func cloneTime(ts *float64) *float64 {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}

// At returns a pointer to a copy of ts, for filling optional timestamps.
func At(ts float64) *float64 {
	return &ts
}
