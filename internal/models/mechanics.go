package models

import (
	"fmt"

	"github.com/san-kum/mastersim/internal/slave"
	"github.com/san-kum/mastersim/internal/solver"
)

const (
	DefaultMass      = 1.0
	DefaultStiffness = 10.0
	DefaultDamping   = 0.5
	// DefaultSubStep bounds the internal integration step of Mass.
	DefaultSubStep = 0.01
)

// Mass is a point mass driven by an external force: x' = v, v' = F/m. It
// integrates internally with RK4, or with adaptive RK45 when the
// "adaptive" parameter is non-zero.
type Mass struct {
	core
	M       float64
	SubStep float64
	integ   solver.Integrator
}

var massDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("F", slave.Input, "N"),
	realVar("x", slave.Output, "m"),
	realVar("v", slave.Output, "m/s"),
}}

func NewMass(p Params) (*Mass, error) {
	if err := p.check("m", "x0", "v0", "sub_step", "adaptive"); err != nil {
		return nil, err
	}
	m := p.get("m", DefaultMass)
	if m <= 0 {
		return nil, fmt.Errorf("mass must be positive, got %g", m)
	}
	var integ solver.Integrator = solver.NewRK4()
	if p.get("adaptive", 0) != 0 {
		integ = solver.NewRK45()
	}
	return &Mass{
		core:    newCore(massDescriptor, p.get("x0", 0), p.get("v0", 0)),
		M:       m,
		SubStep: p.get("sub_step", DefaultSubStep),
		integ:   integ,
	}, nil
}

func (m *Mass) DoStep(t, h float64) slave.StepResult {
	f := m.input("F")
	sys := solver.SystemFunc(func(x solver.State, _ float64) solver.State {
		return solver.State{x[1], f / m.M}
	})
	x, err := solver.Advance(m.integ, sys, m.x, t, h, m.SubStep)
	if err != nil {
		return slave.Rejected(err.Error())
	}
	m.x = x
	m.t = t + h
	return slave.Success()
}

func (m *Mass) Outputs() slave.Values {
	return slave.Values{
		"x": slave.RealValue(m.x[0]),
		"v": slave.RealValue(m.x[1]),
	}
}

// Spring is algebraic: F = -k x - d v, evaluated from its current inputs.
type Spring struct {
	core
	K, D float64
}

var springDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("x", slave.Input, "m"),
	realVar("v", slave.Input, "m/s"),
	realVar("F", slave.Output, "N"),
}}

func NewSpring(p Params) (*Spring, error) {
	if err := p.check("k", "d"); err != nil {
		return nil, err
	}
	k := p.get("k", DefaultStiffness)
	if k < 0 {
		return nil, fmt.Errorf("stiffness must be non-negative, got %g", k)
	}
	return &Spring{
		core: newCore(springDescriptor),
		K:    k,
		D:    p.get("d", DefaultDamping),
	}, nil
}

func (s *Spring) DoStep(t, h float64) slave.StepResult {
	s.t = t + h
	return slave.Success()
}

func (s *Spring) Outputs() slave.Values {
	return slave.Values{"F": slave.RealValue(-s.K*s.input("x") - s.D*s.input("v"))}
}
