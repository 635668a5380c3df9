package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/graph"
	"github.com/san-kum/mastersim/internal/master"
	"github.com/san-kum/mastersim/internal/slave"
	"github.com/san-kum/mastersim/internal/stepsize"
)

// Factory instantiates a slave of the named type.
type Factory interface {
	NewSlave(typ string, params map[string]float64, file string) (slave.Descriptor, slave.Adapter, error)
}

// Settings converts the simulation section into run settings.
func (s Simulation) Settings() (master.Settings, error) {
	kind, err := algorithm.ParseKind(s.Algorithm)
	if err != nil {
		return master.Settings{}, err
	}
	mode, err := stepsize.ParseMode(s.StepMode)
	if err != nil {
		return master.Settings{}, err
	}

	ms := master.DefaultSettings()
	ms.TStart = s.TStart
	ms.TEnd = s.TEnd
	ms.MinOutputStep = s.MinOutputStep
	ms.PreventOverstep = s.PreventOverstep

	ms.Algorithm.Kind = kind
	ms.Algorithm.MaxIterations = s.MaxIterations
	ms.Algorithm.AbsTol = s.AbsTol
	ms.Algorithm.RelTol = s.RelTol
	ms.Algorithm.FallbackLimit = s.FallbackLimit
	ms.Algorithm.Parallel = s.Parallel

	ms.StepSize.Mode = mode
	ms.StepSize.InitialStep = s.InitialStep
	ms.StepSize.MaxStep = s.MaxStep
	ms.StepSize.MinStep = s.MinStep
	ms.StepSize.AbsTol = s.ErrAbsTol
	ms.StepSize.RelTol = s.ErrRelTol

	return ms, errors.Join(ms.Validate(), ms.Algorithm.Validate(), ms.StepSize.Validate())
}

// Build instantiates every slave through f and wires the connections.
func Build(p *Project, f Factory) (*graph.Graph, master.Settings, error) {
	if err := p.Validate(); err != nil {
		return nil, master.Settings{}, err
	}
	settings, err := p.Simulation.Settings()
	if err != nil {
		return nil, master.Settings{}, err
	}

	g := graph.New()
	for _, spec := range p.Slaves {
		file := spec.File
		if file != "" && !filepath.IsAbs(file) && p.Dir != "" {
			file = filepath.Join(p.Dir, file)
		}
		desc, adapter, err := f.NewSlave(spec.Type, spec.Params, file)
		if err != nil {
			return nil, settings, fmt.Errorf("slave %s: %w", spec.Name, err)
		}
		if err := applyStart(&desc, spec.Start); err != nil {
			return nil, settings, fmt.Errorf("slave %s: %w", spec.Name, err)
		}
		if err := g.AddSlave(&slave.Slave{Name: spec.Name, Type: spec.Type, Descriptor: desc, Adapter: adapter}); err != nil {
			return nil, settings, err
		}
	}

	var errs []error
	for _, c := range p.Connections {
		from, err := graph.ParseRef(c.From)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		to, err := graph.ParseRef(c.To)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tr := graph.Transform{Offset: c.Offset, Scale: c.ScaleOrDefault()}
		if err := g.AddConnection(from, to, tr); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, settings, err
	}
	return g, settings, nil
}

func applyStart(d *slave.Descriptor, start map[string]float64) error {
	for name, v := range start {
		found := false
		for i := range d.Variables {
			if d.Variables[i].Name != name {
				continue
			}
			if d.Variables[i].Causality != slave.Input {
				return fmt.Errorf("start value for %s: only inputs take start values", name)
			}
			if d.Variables[i].Type != slave.Real {
				return fmt.Errorf("start value for %s: variable is %s", name, d.Variables[i].Type)
			}
			d.Variables[i].Start = slave.RealValue(v)
			found = true
		}
		if !found {
			return fmt.Errorf("start value for unknown variable %s", name)
		}
	}
	return nil
}
