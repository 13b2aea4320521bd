// Package wave advances a damped 2D wave equation on a height field with an
// explicit finite-difference scheme. CPUSolver runs the update on a pool of
// worker goroutines; GPUSolver records the same update as stencil
// dispatches on a gpu.Device.
package wave

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidParams is returned for grids too small to disturb or for
	// non-positive steps and speeds.
	ErrInvalidParams = errors.New("wave: invalid parameters")

	// ErrUnstable is returned when the time step is too large for the grid
	// spacing and wave speed.
	ErrUnstable = errors.New("wave: unstable parameters")
)

// Params fixes the grid and the physics of a solver.
type Params struct {
	Rows        int
	Cols        int
	SpatialStep float32
	TimeStep    float32
	Speed       float32
	Damping     float32
}

// DefaultParams is the 128x128 pond used by the demo.
func DefaultParams() Params {
	return Params{Rows: 128, Cols: 128, SpatialStep: 1, TimeStep: 0.03, Speed: 4, Damping: 0.2}
}

// Validate checks dimensions and signs, then stability.
func (p Params) Validate() error {
	// A 5x5 grid is the smallest with a cell that Disturb accepts.
	if p.Rows < 5 || p.Cols < 5 {
		return fmt.Errorf("%w: grid %dx%d is smaller than 5x5", ErrInvalidParams, p.Rows, p.Cols)
	}
	if !positive(p.SpatialStep) || !positive(p.TimeStep) || !positive(p.Speed) {
		return fmt.Errorf("%w: dx=%g dt=%g speed=%g must be positive and finite", ErrInvalidParams, p.SpatialStep, p.TimeStep, p.Speed)
	}
	if !(p.Damping >= 0) || math.IsInf(float64(p.Damping), 1) {
		return fmt.Errorf("%w: damping %g must be finite and not negative", ErrInvalidParams, p.Damping)
	}
	return p.CheckStability()
}

// CheckStability reports whether the explicit scheme stays bounded:
//
//	speed < dx/(2dt) * sqrt(damping*dt + 2)
//	dt    < (damping + sqrt(damping^2 + 32 speed^2/dx^2)) / (8 speed^2/dx^2)
func (p Params) CheckStability() error {
	dx, dt := float64(p.SpatialStep), float64(p.TimeStep)
	c, mu := float64(p.Speed), float64(p.Damping)

	maxSpeed := dx / (2 * dt) * math.Sqrt(mu*dt+2)
	if !(c < maxSpeed) {
		return fmt.Errorf("%w: speed %g must be below %g for dx=%g dt=%g", ErrUnstable, c, maxSpeed, dx, dt)
	}
	r := c * c / (dx * dx)
	maxDt := (mu + math.Sqrt(mu*mu+32*r)) / (8 * r)
	if !(dt < maxDt) {
		return fmt.Errorf("%w: time step %g must be below %g", ErrUnstable, dt, maxDt)
	}
	return nil
}

// positive reports whether v is finite and above zero. NaN is not.
func positive(v float32) bool { return v > 0 && !math.IsInf(float64(v), 1) }

// Coefficients are the weights of the update rule
//
//	next = K1*prev + K2*curr + K3*(sum of the four neighbors in curr)
type Coefficients struct {
	K1, K2, K3 float32
}

// NewCoefficients discretizes the damped wave equation. With
// d = damping*dt + 2 and e = speed^2 dt^2 / dx^2:
// K1 = (damping*dt - 2)/d, K2 = (4 - 8e)/d, K3 = 2e/d.
func NewCoefficients(damping, dt, speed, dx float32) Coefficients {
	d := damping*dt + 2
	e := (speed * speed) * (dt * dt) / (dx * dx)
	return Coefficients{
		K1: (damping*dt - 2) / d,
		K2: (4 - 8*e) / d,
		K3: (2 * e) / d,
	}
}

// Coefficients derives the update weights of p.
func (p Params) Coefficients() Coefficients {
	return NewCoefficients(p.Damping, p.TimeStep, p.Speed, p.SpatialStep)
}

// checkDisturb panics unless (i, j) is at least two cells from every edge.
func checkDisturb(p Params, i, j int) {
	if i <= 1 || i >= p.Rows-2 || j <= 1 || j >= p.Cols-2 {
		panic(fmt.Sprintf("wave: disturb at (%d, %d) outside (1, %d) x (1, %d)", i, j, p.Rows-2, p.Cols-2))
	}
}
