// Package geom holds the location value type shared by tasks and workers.
package geom

import (
	"fmt"
	"math"
)

// Point3 is an opaque 3D location supplied by the host environment.
// The dispatcher never computes with it; locations only move between
// tasks and workers when a phase completes.
type Point3 struct {
	X float64 `json:"x" yaml:"x" toml:"x"`
	Y float64 `json:"y" yaml:"y" toml:"y"`
	Z float64 `json:"z" yaml:"z" toml:"z"`
}

// Pt is shorthand for Point3{X: x, Y: y, Z: z}.
func Pt(x, y, z float64) Point3 {
	return Point3{X: x, Y: y, Z: z}
}

// Finite reports whether every coordinate is a finite number.
func (p Point3) Finite() bool {
	return finite(p.X) && finite(p.Y) && finite(p.Z)
}

func (p Point3) String() string {
	return fmt.Sprintf("(%g,%g,%g)", p.X, p.Y, p.Z)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
