// Package solver integrates ordinary differential equations inside a slave.
//
// Slaves with continuous state advance a macro step [t, t+h] by running an
// [Integrator] over one or more internal sub-steps:
//
//	x, err := solver.Advance(solver.NewRK4(), sys, x, t, h, 0.01)
//
// Integrators keep scratch buffers and are not safe for concurrent use.
package solver

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidState indicates NaN or Inf in a state vector.
	ErrInvalidState = errors.New("solver: invalid state (NaN or Inf detected)")

	ErrUnknownMethod = errors.New("solver: unknown integration method")
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// System is dX/dt = f(X, t). Inputs held constant over a macro step are
// part of the system.
type System interface {
	Derive(x State, t float64) State
}

// SystemFunc adapts a function to System.
type SystemFunc func(x State, t float64) State

func (f SystemFunc) Derive(x State, t float64) State { return f(x, t) }

type Integrator interface {
	Step(sys System, x State, t, dt float64) State
}

// ByName returns a fresh integrator: euler, rk4 or rk45.
func ByName(name string) (Integrator, error) {
	switch strings.ToLower(name) {
	case "euler":
		return NewEuler(), nil
	case "", "rk4":
		return NewRK4(), nil
	case "rk45", "dopri":
		return NewRK45(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// Advance integrates x from t to t+h in equal sub-steps no larger than
// maxStep. A non-positive maxStep takes a single step.
func Advance(integ Integrator, sys System, x State, t, h, maxStep float64) (State, error) {
	n := 1
	if maxStep > 0 && h > maxStep {
		n = int(math.Ceil(h / maxStep))
	}
	dt := h / float64(n)
	for i := 0; i < n; i++ {
		x = integ.Step(sys, x, t+float64(i)*dt, dt)
		if !x.IsValid() {
			return x, fmt.Errorf("%w at t=%g", ErrInvalidState, t+float64(i+1)*dt)
		}
	}
	return x, nil
}
