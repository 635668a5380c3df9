package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/mastersim/internal/slave"
)

// Factory builds a slave from its parameters. file is empty for types that
// do not read one.
type Factory func(p Params, file string) (slave.Descriptor, slave.Adapter, error)

type entry struct {
	factory Factory
	summary string
}

// Registry maps slave type names to factories.
type Registry struct {
	types map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]entry)}

	r.Register("prey", "Lotka-Volterra prey population x (input y)", noFile(preyDescriptor, func(p Params) (slave.Adapter, error) { return NewPrey(p) }))
	r.Register("predator", "Lotka-Volterra predator population y (input x)", noFile(predatorDescriptor, func(p Params) (slave.Adapter, error) { return NewPredator(p) }))
	r.Register("mass", "point mass driven by force F, outputs x and v", noFile(massDescriptor, func(p Params) (slave.Adapter, error) { return NewMass(p) }))
	r.Register("spring", "damped spring force F from x and v", noFile(springDescriptor, func(p Params) (slave.Adapter, error) { return NewSpring(p) }))
	r.Register("gain", "y = k u", noFile(gainDescriptor, func(p Params) (slave.Adapter, error) { return NewGain(p) }))
	r.Register("constant", "constant output y", noFile(constantDescriptor, func(p Params) (slave.Adapter, error) { return NewConstant(p) }))
	r.Register("sine", "sine wave source y", noFile(sineDescriptor, func(p Params) (slave.Adapter, error) { return NewSine(p) }))
	r.Register("integrator", "x' = k u", noFile(integratorDescriptor, func(p Params) (slave.Adapter, error) { return NewIntegrator(p) }))
	r.Register("table", "replays the columns of a CSV/TSV file", func(p Params, file string) (slave.Descriptor, slave.Adapter, error) {
		if err := p.check(); err != nil {
			return slave.Descriptor{}, nil, err
		}
		if file == "" {
			return slave.Descriptor{}, nil, errors.New("table slave needs a file")
		}
		t, err := LoadTable(file)
		if err != nil {
			return slave.Descriptor{}, nil, err
		}
		return t.Descriptor(), t, nil
	})

	return r
}

func noFile(d slave.Descriptor, build func(Params) (slave.Adapter, error)) Factory {
	return func(p Params, file string) (slave.Descriptor, slave.Adapter, error) {
		if file != "" {
			return slave.Descriptor{}, nil, fmt.Errorf("slave type takes no file, got %s", file)
		}
		a, err := build(p)
		if err != nil {
			return slave.Descriptor{}, nil, err
		}
		return cloneDescriptor(d), a, nil
	}
}

func cloneDescriptor(d slave.Descriptor) slave.Descriptor {
	return slave.Descriptor{Variables: append([]slave.Variable(nil), d.Variables...)}
}

func (r *Registry) Register(name, summary string, f Factory) {
	r.types[name] = entry{factory: f, summary: summary}
}

// NewSlave instantiates a slave of type typ.
func (r *Registry) NewSlave(typ string, params map[string]float64, file string) (slave.Descriptor, slave.Adapter, error) {
	e, ok := r.types[typ]
	if !ok {
		return slave.Descriptor{}, nil, fmt.Errorf("unknown slave type: %s", typ)
	}
	return e.factory(Params(params), file)
}

func (r *Registry) Summary(typ string) string {
	return r.types[typ].summary
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
