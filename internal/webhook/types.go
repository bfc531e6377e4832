package webhook

import (
	"github.com/mattjoyce/convoy/internal/geom"
	"github.com/mattjoyce/convoy/internal/queue"
)

// Submitter accepts webhook-triggered tasks.
type Submitter interface {
	SubmitTask(def queue.Definition) (string, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g., "/hooks/alarm")
	Path string

	// Secret is the HMAC secret for signature verification
	Secret string

	// SignatureHeader is the HTTP header containing the HMAC signature
	SignatureHeader string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64

	// Task is submitted on every verified request.
	Task queue.Definition
}

// Overlay is the part of a request body that can refine the template.
type Overlay struct {
	Location  *geom.Point3      `json:"location"`
	Priority  *float64          `json:"priority"`
	TargetRef *string           `json:"target_ref"`
	Metadata  map[string]string `json:"metadata"`
}

// Apply returns a copy of def with the overlay's set fields in place.
// Metadata keys are merged, the overlay winning.
func (o Overlay) Apply(def queue.Definition) queue.Definition {
	out := def.Clone()
	if o.Location != nil {
		out.Location = *o.Location
	}
	if o.Priority != nil {
		out.Priority = *o.Priority
	}
	if o.TargetRef != nil {
		out.TargetRef = *o.TargetRef
	}
	if len(o.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]string, len(o.Metadata))
		}
		for k, v := range o.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// TriggerResponse is the JSON response for successful webhook triggers.
type TriggerResponse struct {
	TaskID string `json:"task_id"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
