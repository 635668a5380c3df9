package models

import (
	"fmt"
	"math"

	"github.com/san-kum/mastersim/internal/slave"
)

// Lotka-Volterra defaults.
const (
	DefaultPreyGrowth     = 0.1  // A
	DefaultPredation      = 0.02 // B
	DefaultPredatorDeath  = 0.4  // C
	DefaultPredatorGrowth = 0.02 // D
	DefaultPopulation     = 10.0
)

// Prey integrates dx/dt = x (A - B y) with the predator population y held
// at its input value over the step, which has the closed form
// x(t+h) = x(t) exp((A - B y) h).
type Prey struct {
	core
	A, B float64
}

var preyDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("y", slave.Input, ""),
	realVar("x", slave.Output, ""),
}}

func NewPrey(p Params) (*Prey, error) {
	if err := p.check("a", "b", "x0"); err != nil {
		return nil, err
	}
	x0 := p.get("x0", DefaultPopulation)
	if x0 < 0 {
		return nil, fmt.Errorf("initial population must be non-negative, got %g", x0)
	}
	return &Prey{
		core: newCore(preyDescriptor, x0),
		A:    p.get("a", DefaultPreyGrowth),
		B:    p.get("b", DefaultPredation),
	}, nil
}

func (p *Prey) DoStep(t, h float64) slave.StepResult {
	p.x[0] *= math.Exp((p.A - p.B*p.input("y")) * h)
	p.t = t + h
	if math.IsInf(p.x[0], 0) || math.IsNaN(p.x[0]) {
		return slave.Rejected(fmt.Sprintf("prey population overflow at t=%g", p.t))
	}
	return slave.Success()
}

func (p *Prey) Outputs() slave.Values {
	return slave.Values{"x": slave.RealValue(p.x[0])}
}

// Predator integrates dy/dt = y (D x - C) with the prey population x held
// at its input value.
type Predator struct {
	core
	C, D float64
}

var predatorDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("x", slave.Input, ""),
	realVar("y", slave.Output, ""),
}}

func NewPredator(p Params) (*Predator, error) {
	if err := p.check("c", "d", "y0"); err != nil {
		return nil, err
	}
	y0 := p.get("y0", DefaultPopulation)
	if y0 < 0 {
		return nil, fmt.Errorf("initial population must be non-negative, got %g", y0)
	}
	return &Predator{
		core: newCore(predatorDescriptor, y0),
		C:    p.get("c", DefaultPredatorDeath),
		D:    p.get("d", DefaultPredatorGrowth),
	}, nil
}

func (p *Predator) DoStep(t, h float64) slave.StepResult {
	p.x[0] *= math.Exp((p.D*p.input("x") - p.C) * h)
	p.t = t + h
	if math.IsInf(p.x[0], 0) || math.IsNaN(p.x[0]) {
		return slave.Rejected(fmt.Sprintf("predator population overflow at t=%g", p.t))
	}
	return slave.Success()
}

func (p *Predator) Outputs() slave.Values {
	return slave.Values{"y": slave.RealValue(p.x[0])}
}
