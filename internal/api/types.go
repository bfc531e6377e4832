package api

import (
	"encoding/json"

	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
	"github.com/mattjoyce/convoy/internal/state"
)

// SubmitResponse is returned by POST /tasks.
type SubmitResponse struct {
	TaskID string       `json:"task_id"`
	Status queue.Status `json:"status"`
}

// CancelResponse is returned by DELETE /tasks/{id}. Cancelled is false when
// the task had already finished.
type CancelResponse struct {
	Cancelled bool       `json:"cancelled"`
	Task      queue.Task `json:"task"`
}

// PoolsResponse is returned by GET /pools.
type PoolsResponse struct {
	Now   float64                `json:"now"`
	Pools []dispatch.PoolSummary `json:"pools"`
}

// WorkersResponse is returned by GET /pools/{pool}/workers.
type WorkersResponse struct {
	Now     float64       `json:"now"`
	Pool    string        `json:"pool"`
	Workers []pool.Worker `json:"workers"`
}

// TasksResponse is returned by GET /pools/{pool}/tasks.
type TasksResponse struct {
	Pool   string       `json:"pool"`
	Status string       `json:"status"`
	Tasks  []queue.Task `json:"tasks"`
}

// LogResponse is returned by GET /log.
type LogResponse struct {
	Entries []state.LogEntry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Now           float64 `json:"now"`
	Pools         int     `json:"pools"`
	Pending       int     `json:"pending"`
	EventsDropped int64   `json:"events_dropped"`
}

// StreamEvent is one decoded SSE frame as the client yields it.
type StreamEvent struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
