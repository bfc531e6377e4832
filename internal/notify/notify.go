// Package notify defines the lifecycle notifications the dispatcher emits
// and the sink interface it emits them through. Delivery is fire-and-forget;
// a sink never calls back into the dispatcher's mutating operations.
package notify

import (
	"sync"

	"github.com/mattjoyce/convoy/internal/geom"
)

const (
	TypeTaskSubmitted  = "task.submitted"
	TypeWorkerAssigned = "worker.assigned"
	TypeWorkerArrived  = "worker.arrived"
	TypeTaskCompleted  = "task.completed"
	TypeTaskCancelled  = "task.cancelled"
)

// Notification is one lifecycle event. At is the dispatcher clock reading.
type Notification interface {
	EventType() string
}

type TaskSubmitted struct {
	TaskID    string      `json:"task_id"`
	PoolID    string      `json:"pool_id"`
	Type      string      `json:"type"`
	TargetRef string      `json:"target_ref,omitempty"`
	Location  geom.Point3 `json:"location"`
	At        float64     `json:"at"`
}

type WorkerAssigned struct {
	TaskID                  string  `json:"task_id"`
	WorkerID                string  `json:"worker_id"`
	PoolID                  string  `json:"pool_id"`
	EstimatedArrivalSeconds float64 `json:"estimated_arrival_seconds"`
	At                      float64 `json:"at"`
}

type WorkerArrived struct {
	TaskID    string  `json:"task_id"`
	WorkerID  string  `json:"worker_id"`
	PoolID    string  `json:"pool_id"`
	TargetRef string  `json:"target_ref,omitempty"`
	At        float64 `json:"at"`
}

type TaskCompleted struct {
	TaskID    string           `json:"task_id"`
	WorkerID  string           `json:"worker_id"`
	PoolID    string           `json:"pool_id"`
	Type      string           `json:"type"`
	TargetRef string           `json:"target_ref,omitempty"`
	Rewards   map[string]int64 `json:"rewards,omitempty"`
	At        float64          `json:"at"`
}

type TaskCancelled struct {
	TaskID string  `json:"task_id"`
	PoolID string  `json:"pool_id"`
	Reason string  `json:"reason"`
	At     float64 `json:"at"`
}

func (TaskSubmitted) EventType() string  { return TypeTaskSubmitted }
func (WorkerAssigned) EventType() string { return TypeWorkerAssigned }
func (WorkerArrived) EventType() string  { return TypeWorkerArrived }
func (TaskCompleted) EventType() string  { return TypeTaskCompleted }
func (TaskCancelled) EventType() string  { return TypeTaskCancelled }

// Sink receives notifications.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Notification) {})

// Fanout delivers each notification to every sink in order. Nil entries
// are skipped.
type Fanout []Sink

func (f Fanout) Notify(n Notification) {
	for _, s := range f {
		if s != nil {
			s.Notify(n)
		}
	}
}

// Publisher is the shape of a generic event bus such as events.Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// ToPublisher forwards notifications to an event bus, using the
// notification type as the event type and the struct as payload.
func ToPublisher(p Publisher) Sink {
	return SinkFunc(func(n Notification) {
		p.Publish(n.EventType(), n)
	})
}

// Recorder keeps every notification it receives. It is safe for concurrent
// use and mostly useful in tests and diagnostics.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of everything recorded, in delivery order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// OfType returns recorded notifications whose EventType matches.
func (r *Recorder) OfType(eventType string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.items {
		if n.EventType() == eventType {
			out = append(out, n)
		}
	}
	return out
}

// Types returns the event type of every recorded notification.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	for i, n := range r.items {
		out[i] = n.EventType()
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}
