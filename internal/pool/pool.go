package pool

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mattjoyce/convoy/internal/geom"
)

var (
	ErrDuplicate     = errors.New("pool already registered")
	ErrInvalidConfig = errors.New("invalid pool config")
)

// Config is registration-time data for a pool. It is immutable once the
// pool is registered.
type Config struct {
	ID           string      `json:"id" yaml:"id" toml:"id"`
	Name         string      `json:"name" yaml:"name" toml:"name"`
	WorkerCount  int         `json:"workers" yaml:"workers" toml:"workers"`
	Home         geom.Point3 `json:"home" yaml:"home" toml:"home"`
	TravelSpeed  float64     `json:"travel_speed" yaml:"travel_speed" toml:"travel_speed"`
	ProcessSpeed float64     `json:"process_speed" yaml:"process_speed" toml:"process_speed"`
}

// WithDefaults fills the display name and treats unset multipliers as 1.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.TravelSpeed == 0 {
		c.TravelSpeed = 1
	}
	if c.ProcessSpeed == 0 {
		c.ProcessSpeed = 1
	}
	return c
}

func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidConfig)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: pool %q needs at least one worker (got %d)", ErrInvalidConfig, c.ID, c.WorkerCount)
	}
	if !c.Home.Finite() {
		return fmt.Errorf("%w: pool %q home %s is not finite", ErrInvalidConfig, c.ID, c.Home)
	}
	if !positive(c.TravelSpeed) {
		return fmt.Errorf("%w: pool %q travel_speed must be > 0 (got %v)", ErrInvalidConfig, c.ID, c.TravelSpeed)
	}
	if !positive(c.ProcessSpeed) {
		return fmt.Errorf("%w: pool %q process_speed must be > 0 (got %v)", ErrInvalidConfig, c.ID, c.ProcessSpeed)
	}
	return nil
}

// TravelDuration scales an outbound travel time by the pool's travel speed.
func (c Config) TravelDuration(seconds float64) float64 {
	return seconds / c.TravelSpeed
}

// ProcessDuration scales a work time by the pool's process speed.
func (c Config) ProcessDuration(seconds float64) float64 {
	return seconds / c.ProcessSpeed
}

// ReturnDuration scales the trip home; it shares the travel multiplier.
func (c Config) ReturnDuration(seconds float64) float64 {
	return seconds / c.TravelSpeed
}

// Pool is a registered config plus its fixed roster.
type Pool struct {
	Config  Config
	Workers []*Worker
}

// New validates cfg and creates cfg.WorkerCount available workers at home.
func New(cfg Config, now float64) (*Pool, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{Config: cfg, Workers: make([]*Worker, cfg.WorkerCount)}
	for i := range p.Workers {
		p.Workers[i] = &Worker{
			ID:             uuid.NewString(),
			Pool:           cfg.ID,
			Index:          i,
			Status:         StatusAvailable,
			Location:       cfg.Home,
			Home:           cfg.Home,
			StateChangedAt: now,
		}
	}
	return p, nil
}

// FirstAvailable returns the lowest-index available worker, or nil.
func (p *Pool) FirstAvailable() *Worker {
	for _, w := range p.Workers {
		if w.Status == StatusAvailable {
			return w
		}
	}
	return nil
}

func (p *Pool) AvailableCount() int {
	return p.Counts()[StatusAvailable]
}

// Counts tallies workers by status. Every status is present in the map.
func (p *Pool) Counts() map[Status]int {
	out := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		out[s] = 0
	}
	for _, w := range p.Workers {
		out[w.Status]++
	}
	return out
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
