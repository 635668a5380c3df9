// Package slavetest provides a scriptable in-memory adapter for tests.
package slavetest

import (
	"errors"
	"fmt"

	"github.com/san-kum/mastersim/internal/slave"
)

// StepFunc advances the mock's State from t to t+h.
type StepFunc func(m *Mock, t, h float64) slave.StepResult

// OutputFunc derives outputs from the mock's State and inputs.
type OutputFunc func(m *Mock) slave.Values

type StepCall struct {
	T, H   float64
	Inputs slave.Values
}

// Mock is an Adapter whose behaviour is supplied as closures. It records
// every call so tests can assert on the exchange protocol.
type Mock struct {
	State  map[string]float64
	In     slave.Values
	StepFn StepFunc
	OutFn  OutputFunc

	Steps    []StepCall
	Saves    int
	Restores int
	Inits    int
	Terms    int
}

type checkpoint struct {
	owner *Mock
	state map[string]float64
	in    slave.Values
}

func New(step StepFunc, out OutputFunc) *Mock {
	return &Mock{
		State:  make(map[string]float64),
		In:     make(slave.Values),
		StepFn: step,
		OutFn:  out,
	}
}

func (m *Mock) SetInputs(v slave.Values) error {
	for k, val := range v {
		m.In[k] = val
	}
	return nil
}

func (m *Mock) DoStep(t, h float64) slave.StepResult {
	m.Steps = append(m.Steps, StepCall{T: t, H: h, Inputs: m.In.Clone()})
	if m.StepFn == nil {
		return slave.Success()
	}
	return m.StepFn(m, t, h)
}

func (m *Mock) Outputs() slave.Values {
	if m.OutFn == nil {
		return slave.Values{}
	}
	return m.OutFn(m)
}

func (m *Mock) SaveState() (slave.Checkpoint, error) {
	m.Saves++
	st := make(map[string]float64, len(m.State))
	for k, v := range m.State {
		st[k] = v
	}
	return &checkpoint{owner: m, state: st, in: m.In.Clone()}, nil
}

func (m *Mock) RestoreState(c slave.Checkpoint) error {
	cp, ok := c.(*checkpoint)
	if !ok || cp.owner != m {
		return errors.New("slavetest: foreign checkpoint")
	}
	m.Restores++
	m.State = make(map[string]float64, len(cp.state))
	for k, v := range cp.state {
		m.State[k] = v
	}
	m.In = cp.in.Clone()
	return nil
}

func (m *Mock) Initialize(tStart, tEnd float64) error {
	m.Inits++
	return nil
}

func (m *Mock) Terminate() error {
	m.Terms++
	return nil
}

// Input returns the real input value named name, or 0.
func (m *Mock) Input(name string) float64 {
	return m.In[name].Float()
}

// Descriptor builds a descriptor of real variables with empty units.
func Descriptor(inputs, outputs []string) slave.Descriptor {
	var d slave.Descriptor
	for _, n := range inputs {
		d.Variables = append(d.Variables, slave.Variable{Name: n, Causality: slave.Input, Type: slave.Real})
	}
	for _, n := range outputs {
		d.Variables = append(d.Variables, slave.Variable{Name: n, Causality: slave.Output, Type: slave.Real})
	}
	return d
}

// Gain returns y = k*u with direct feedthrough.
func Gain(k float64) *Mock {
	return New(nil, func(m *Mock) slave.Values {
		return slave.Values{"y": slave.RealValue(k * m.Input("u"))}
	})
}

// Source emits a constant y and has no inputs.
func Source(y float64) *Mock {
	return New(nil, func(m *Mock) slave.Values {
		return slave.Values{"y": slave.RealValue(y)}
	})
}

// Integrator integrates dx/dt = u with explicit Euler and outputs x.
func Integrator(x0 float64) *Mock {
	m := New(func(m *Mock, t, h float64) slave.StepResult {
		m.State["x"] += h * m.Input("u")
		return slave.Success()
	}, func(m *Mock) slave.Values {
		return slave.Values{"x": slave.RealValue(m.State["x"])}
	})
	m.State["x"] = x0
	return m
}

// Oscillating returns a slave whose output flips sign on every DoStep, so
// any feedback loop through it never settles. The flip counter is not part
// of the checkpointed state.
func Oscillating() *Mock {
	calls := 0
	return New(func(m *Mock, t, h float64) slave.StepResult {
		calls++
		return slave.Success()
	}, func(m *Mock) slave.Values {
		y := m.Input("u") + 1
		if calls%2 == 1 {
			y = -y
		}
		return slave.Values{"y": slave.RealValue(y)}
	})
}

// Failing returns a slave whose DoStep always reports the given status.
func Failing(status slave.StepStatus) *Mock {
	return New(func(m *Mock, t, h float64) slave.StepResult {
		switch status {
		case slave.StepRejected:
			return slave.Rejected(fmt.Sprintf("rejected at t=%g", t))
		case slave.StepFatal:
			return slave.Fatal(fmt.Sprintf("fatal at t=%g", t))
		}
		return slave.Success()
	}, func(m *Mock) slave.Values {
		return slave.Values{"y": slave.RealValue(0)}
	})
}
