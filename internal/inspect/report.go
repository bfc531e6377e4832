// Package inspect renders the lifecycle of a single task: when it was
// submitted, assigned, reached and finished, and what its worker is doing
// now.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/geom"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
)

// Source is the read side of the API a report is gathered from.
type Source interface {
	Health(ctx context.Context) (api.HealthzResponse, error)
	Task(ctx context.Context, id string) (queue.Task, error)
	Worker(ctx context.Context, id string) (pool.Worker, error)
}

// Report is the structured JSON representation of a task report.
type Report struct {
	TaskID       string           `json:"task_id"`
	Pool         string           `json:"pool"`
	Type         string           `json:"type,omitempty"`
	TargetRef    string           `json:"target_ref,omitempty"`
	Status       queue.Status     `json:"status"`
	Priority     float64          `json:"priority"`
	Location     geom.Point3      `json:"location"`
	WorkerID     string           `json:"worker_id,omitempty"`
	CancelReason string           `json:"cancel_reason,omitempty"`
	Rewards      map[string]int64 `json:"rewards,omitempty"`
	Now          float64          `json:"now"`
	Steps        []Step           `json:"steps"`
	Current      *Phase           `json:"current,omitempty"`
}

// Step is one reached milestone. Took is the time since the previous one.
type Step struct {
	Name string   `json:"name"`
	At   float64  `json:"at"`
	Took *float64 `json:"took,omitempty"`
}

// Phase is the worker's live phase while it still carries the task.
type Phase struct {
	Status    pool.Status `json:"status"`
	Elapsed   float64     `json:"elapsed"`
	Duration  float64     `json:"duration"`
	Remaining float64     `json:"remaining"`
}

// BuildReport renders a terminal-friendly report for a task.
func BuildReport(ctx context.Context, src Source, taskID string) (string, error) {
	report, err := Gather(ctx, src, taskID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Task Report\n")
	fmt.Fprintf(&out, "Task ID     : %s\n", report.TaskID)
	fmt.Fprintf(&out, "Pool        : %s\n", report.Pool)
	fmt.Fprintf(&out, "Type        : %s\n", renderUnset(report.Type, "<none>"))
	fmt.Fprintf(&out, "Target      : %s %s\n", report.Location, renderUnset(report.TargetRef, ""))
	fmt.Fprintf(&out, "Priority    : %g\n", report.Priority)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Worker      : %s\n", renderUnset(report.WorkerID, "<unassigned>"))
	if report.CancelReason != "" {
		fmt.Fprintf(&out, "Reason      : %s\n", report.CancelReason)
	}
	if len(report.Rewards) > 0 {
		names := make([]string, 0, len(report.Rewards))
		for name := range report.Rewards {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, report.Rewards[name])
		}
		fmt.Fprintf(&out, "Rewards     : %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&out, "\n")

	for i, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %-10s t=%.1f", i, step.Name, step.At)
		if step.Took != nil {
			fmt.Fprintf(&out, "  (+%.1fs)", *step.Took)
		}
		fmt.Fprintf(&out, "\n")
	}
	if c := report.Current; c != nil {
		fmt.Fprintf(&out, "\nWorker is %s: %.1f/%.1fs, %.1fs remaining\n", c.Status, c.Elapsed, c.Duration, c.Remaining)
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, taskID string) (string, error) {
	report, err := Gather(ctx, src, taskID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather fetches the task, the clock reading and, while it still carries
// the task, the assigned worker.
func Gather(ctx context.Context, src Source, taskID string) (*Report, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	task, err := src.Task(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	health, err := src.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("read clock: %w", err)
	}

	report := &Report{
		TaskID:       task.ID,
		Pool:         task.Def.Pool,
		Type:         task.Def.Type,
		TargetRef:    task.Def.TargetRef,
		Status:       task.Status,
		Priority:     task.Def.Priority,
		Location:     task.Def.Location,
		WorkerID:     task.WorkerID,
		CancelReason: task.CancelReason,
		Rewards:      task.Def.Rewards,
		Now:          health.Now,
		Steps:        timeline(task),
	}

	if task.WorkerID == "" {
		return report, nil
	}
	w, err := src.Worker(ctx, task.WorkerID)
	switch {
	case errors.Is(err, api.ErrNotFound):
		return report, nil
	case err != nil:
		return nil, fmt.Errorf("worker %s: %w", task.WorkerID, err)
	}
	if w.TaskID == task.ID && w.Status != pool.StatusAvailable {
		elapsed := w.Elapsed(health.Now)
		report.Current = &Phase{
			Status:    w.Status,
			Elapsed:   elapsed,
			Duration:  w.PhaseSeconds,
			Remaining: max(w.PhaseSeconds-elapsed, 0),
		}
	}
	return report, nil
}

func timeline(t queue.Task) []Step {
	steps := []Step{{Name: "submitted", At: t.SubmittedAt}}
	add := func(name string, at *float64) {
		if at == nil {
			return
		}
		took := *at - steps[len(steps)-1].At
		steps = append(steps, Step{Name: name, At: *at, Took: &took})
	}
	add("assigned", t.AssignedAt)
	add("arrived", t.ArrivedAt)
	add("completed", t.CompletedAt)
	add("cancelled", t.CancelledAt)
	return steps
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
