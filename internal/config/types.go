package config

import (
	"sort"
	"time"

	"github.com/mattjoyce/convoy/internal/geom"
	"github.com/mattjoyce/convoy/internal/pool"
	"github.com/mattjoyce/convoy/internal/queue"
	"github.com/mattjoyce/convoy/internal/scheduler"
)

// Config represents the complete convoy configuration.
type Config struct {
	Include   []string            `yaml:"include,omitempty" toml:"include"`
	Service   ServiceConfig       `yaml:"service" toml:"service"`
	State     StateConfig         `yaml:"state" toml:"state"`
	API       APIConfig           `yaml:"api,omitempty" toml:"api"`
	Pools     map[string]PoolConf `yaml:"pools" toml:"pools"`
	Recurring []RecurringConf     `yaml:"recurring,omitempty" toml:"recurring"`
	Webhooks  WebhooksConfig      `yaml:"webhooks,omitempty" toml:"webhooks"`

	// SourceFiles lists every file that contributed, root first.
	SourceFiles []string `yaml:"-" toml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name" toml:"name"`
	TickInterval time.Duration `yaml:"tick_interval" toml:"tick_interval"`
	// TimeScale converts wall seconds into simulated seconds per tick.
	TimeScale        float64       `yaml:"time_scale" toml:"time_scale"`
	LogLevel         string        `yaml:"log_level" toml:"log_level"`
	LogFormat        string        `yaml:"log_format" toml:"log_format"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" toml:"snapshot_interval"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" toml:"path"`
	// HistorySize is how many finished tasks stay queryable by id. Unset
	// means the default; 0 disables history.
	HistorySize  *int          `yaml:"history_size,omitempty" toml:"history_size"`
	Journal      *bool         `yaml:"journal,omitempty" toml:"journal"`
	LogRetention time.Duration `yaml:"log_retention" toml:"log_retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Listen  string        `yaml:"listen" toml:"listen"`
	Auth    APIAuthConfig `yaml:"auth" toml:"auth"`
	// SubmitRate is task submissions per second across all clients; 0
	// disables throttling.
	SubmitRate  float64 `yaml:"submit_rate" toml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst" toml:"submit_burst"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key" toml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty" toml:"tokens"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token" toml:"token"`
	Scopes []string `yaml:"scopes" toml:"scopes"`
}

// WebhooksConfig defines the signed inbound task endpoints.
type WebhooksConfig struct {
	Enabled   bool              `yaml:"enabled" toml:"enabled"`
	Listen    string            `yaml:"listen" toml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints,omitempty" toml:"endpoints"`
}

// WebhookEndpoint submits Task, overlaid with the request body, for every
// request whose HMAC-SHA256 signature matches Secret.
type WebhookEndpoint struct {
	Path            string `yaml:"path" toml:"path"`
	Secret          string `yaml:"secret" toml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty" toml:"signature_header"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string           `yaml:"max_body_size,omitempty" toml:"max_body_size"`
	Task        queue.Definition `yaml:"task" toml:"task"`
}

// PoolConf is one pool as written in config; the map key is its id.
type PoolConf struct {
	Name         string      `yaml:"name" toml:"name"`
	Workers      int         `yaml:"workers" toml:"workers"`
	Home         geom.Point3 `yaml:"home" toml:"home"`
	TravelSpeed  float64     `yaml:"travel_speed" toml:"travel_speed"`
	ProcessSpeed float64     `yaml:"process_speed" toml:"process_speed"`
}

// PoolConfig converts the entry into a registration config.
func (p PoolConf) PoolConfig(id string) pool.Config {
	return pool.Config{
		ID:           id,
		Name:         p.Name,
		WorkerCount:  p.Workers,
		Home:         p.Home,
		TravelSpeed:  p.TravelSpeed,
		ProcessSpeed: p.ProcessSpeed,
	}.WithDefaults()
}

// RecurringConf submits Task whenever Schedule fires.
type RecurringConf struct {
	Name     string           `yaml:"name" toml:"name"`
	Schedule string           `yaml:"schedule" toml:"schedule"`
	Task     queue.Definition `yaml:"task" toml:"task"`
}

// Job converts the entry for the recurring scheduler.
func (r RecurringConf) Job() scheduler.Job {
	return scheduler.Job{Name: r.Name, Schedule: r.Schedule, Task: r.Task.Clone()}
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	history := queue.DefaultHistorySize
	journal := true
	return &Config{
		Service: ServiceConfig{
			Name:             "convoy",
			TickInterval:     100 * time.Millisecond,
			TimeScale:        1,
			LogLevel:         "info",
			LogFormat:        "json",
			SnapshotInterval: 30 * time.Second,
		},
		State: StateConfig{
			Path:         "./data/convoy.db",
			HistorySize:  &history,
			Journal:      &journal,
			LogRetention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled:     false,
			Listen:      "127.0.0.1:8080",
			SubmitRate:  50,
			SubmitBurst: 100,
		},
		Webhooks: WebhooksConfig{
			Listen: "127.0.0.1:8081",
		},
		Pools: make(map[string]PoolConf),
	}
}

// SortedPoolIDs returns pool ids in a stable order for registration.
func (c *Config) SortedPoolIDs() []string {
	ids := make([]string, 0, len(c.Pools))
	for id := range c.Pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Jobs converts every recurring entry.
func (c *Config) Jobs() []scheduler.Job {
	out := make([]scheduler.Job, len(c.Recurring))
	for i, r := range c.Recurring {
		out[i] = r.Job()
	}
	return out
}
