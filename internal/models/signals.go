package models

import (
	"math"

	"github.com/san-kum/mastersim/internal/slave"
)

// Gain passes y = k u straight through.
type Gain struct {
	core
	K float64
}

var gainDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("u", slave.Input, ""),
	realVar("y", slave.Output, ""),
}}

func NewGain(p Params) (*Gain, error) {
	if err := p.check("k"); err != nil {
		return nil, err
	}
	return &Gain{core: newCore(gainDescriptor), K: p.get("k", 1)}, nil
}

func (g *Gain) DoStep(t, h float64) slave.StepResult {
	g.t = t + h
	return slave.Success()
}

func (g *Gain) Outputs() slave.Values {
	return slave.Values{"y": slave.RealValue(g.K * g.input("u"))}
}

type Constant struct {
	core
	Value float64
}

var constantDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("y", slave.Output, ""),
}}

func NewConstant(p Params) (*Constant, error) {
	if err := p.check("value"); err != nil {
		return nil, err
	}
	return &Constant{core: newCore(constantDescriptor), Value: p.get("value", 0)}, nil
}

func (c *Constant) DoStep(t, h float64) slave.StepResult {
	c.t = t + h
	return slave.Success()
}

func (c *Constant) Outputs() slave.Values {
	return slave.Values{"y": slave.RealValue(c.Value)}
}

// Sine emits y = offset + amplitude sin(2 pi frequency t + phase) at its
// local time.
type Sine struct {
	core
	Amplitude, Frequency, Phase, Offset float64
}

var sineDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("y", slave.Output, ""),
}}

func NewSine(p Params) (*Sine, error) {
	if err := p.check("amplitude", "frequency", "phase", "offset"); err != nil {
		return nil, err
	}
	return &Sine{
		core:      newCore(sineDescriptor),
		Amplitude: p.get("amplitude", 1),
		Frequency: p.get("frequency", 1),
		Phase:     p.get("phase", 0),
		Offset:    p.get("offset", 0),
	}, nil
}

func (s *Sine) DoStep(t, h float64) slave.StepResult {
	s.t = t + h
	return slave.Success()
}

func (s *Sine) Outputs() slave.Values {
	return slave.Values{"y": slave.RealValue(s.Offset + s.Amplitude*math.Sin(2*math.Pi*s.Frequency*s.t+s.Phase))}
}

// Integrator accumulates x' = k u with the input held over the step.
type Integrator struct {
	core
	K float64
}

var integratorDescriptor = slave.Descriptor{Variables: []slave.Variable{
	realVar("u", slave.Input, ""),
	realVar("x", slave.Output, ""),
}}

func NewIntegrator(p Params) (*Integrator, error) {
	if err := p.check("k", "x0"); err != nil {
		return nil, err
	}
	return &Integrator{core: newCore(integratorDescriptor, p.get("x0", 0)), K: p.get("k", 1)}, nil
}

func (i *Integrator) DoStep(t, h float64) slave.StepResult {
	i.x[0] += h * i.K * i.input("u")
	i.t = t + h
	return slave.Success()
}

func (i *Integrator) Outputs() slave.Values {
	return slave.Values{"x": slave.RealValue(i.x[0])}
}
