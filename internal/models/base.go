// Package models provides the built-in slaves: reference dynamics, signal
// sources and a table reader. All of them satisfy slave.Adapter and can be
// instantiated by type name through a Registry.
package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/mastersim/internal/slave"
	"github.com/san-kum/mastersim/internal/solver"
)

var ErrUnknownParam = errors.New("models: unknown parameter")

// Params are the numeric parameters of a built-in slave.
type Params map[string]float64

func (p Params) get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// check rejects parameters the slave does not know.
func (p Params) check(known ...string) error {
	var unknown []string
	for name := range p {
		found := false
		for _, k := range known {
			if k == name {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %v (known: %v)", ErrUnknownParam, unknown, known)
}

func realVar(name string, c slave.Causality, unit string) slave.Variable {
	return slave.Variable{Name: name, Causality: c, Type: slave.Real, Unit: unit}
}

// core holds what every built-in slave checkpoints: its continuous state,
// its latest inputs and its local time.
type core struct {
	in slave.Values
	x  solver.State
	t  float64
}

type snapshot struct {
	owner *core
	in    slave.Values
	x     solver.State
	t     float64
}

func newCore(d slave.Descriptor, x0 ...float64) core {
	c := core{in: make(slave.Values), x: solver.State(x0).Clone()}
	for _, v := range d.Inputs() {
		c.in[v.Name] = slave.Zero(v.Type)
	}
	return c
}

func (c *core) SetInputs(v slave.Values) error {
	for name, val := range v {
		cur, ok := c.in[name]
		if !ok {
			return fmt.Errorf("unknown input %s", name)
		}
		if cur.Type != val.Type {
			return fmt.Errorf("input %s expects %s, got %s", name, cur.Type, val.Type)
		}
		c.in[name] = val
	}
	return nil
}

func (c *core) input(name string) float64 {
	return c.in[name].Float()
}

func (c *core) SaveState() (slave.Checkpoint, error) {
	return &snapshot{owner: c, in: c.in.Clone(), x: c.x.Clone(), t: c.t}, nil
}

func (c *core) RestoreState(cp slave.Checkpoint) error {
	s, ok := cp.(*snapshot)
	if !ok || s.owner != c {
		return errors.New("models: checkpoint belongs to another slave")
	}
	c.in = s.in.Clone()
	c.x = s.x.Clone()
	c.t = s.t
	return nil
}

func (c *core) Initialize(tStart, tEnd float64) error {
	c.t = tStart
	return nil
}
