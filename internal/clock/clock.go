// Package clock supplies the elapsed-time source the dispatcher compares
// phase deadlines against. Times are seconds since an arbitrary origin.
package clock

import (
	"math"
	"sync"
	"time"
)

// Clock reports monotonic elapsed seconds.
type Clock interface {
	Now() float64
}

// Advancer is implemented by clocks that are moved forward explicitly,
// one simulation step at a time.
type Advancer interface {
	Advance(dt float64)
}

// Sim is a manually driven clock. The zero value starts at 0.
type Sim struct {
	mu  sync.Mutex
	now float64
}

// NewSim returns a simulation clock starting at origin.
func NewSim(origin float64) *Sim {
	return &Sim{now: origin}
}

func (c *Sim) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by dt seconds. Negative or non-finite
// deltas are ignored so time never runs backwards.
func (c *Sim) Advance(dt float64) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return
	}
	c.mu.Lock()
	c.now += dt
	c.mu.Unlock()
}

// Wall reports wall-clock seconds elapsed since it was created, using the
// monotonic reading carried by time.Time.
type Wall struct {
	start time.Time
}

func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

func (c *Wall) Now() float64 {
	return time.Since(c.start).Seconds()
}
