package config

import (
	"sort"
)

func ptr(v float64) *float64 { return &v }

// Presets are built-in example projects. They use only the built-in slave
// types.
var Presets = map[string]func() *Project{
	// lotka couples the two halves of the Lotka-Volterra predator-prey model.
	"lotka": func() *Project {
		p := NewProject()
		p.Simulation.TEnd = 50
		p.Simulation.InitialStep = 0.1
		p.Simulation.MaxStep = 1
		p.Simulation.StepMode = "richardson"
		p.Simulation.ErrAbsTol = 1e-4
		p.Simulation.ErrRelTol = 1e-4
		p.Slaves = []SlaveSpec{
			{Name: "prey", Type: "prey"},
			{Name: "predator", Type: "predator"},
		}
		p.Connections = []Connection{
			{From: "prey.x", To: "predator.x"},
			{From: "predator.y", To: "prey.y"},
		}
		return p
	},
	// spring is a mass on a damped spring split into two slaves.
	"spring": func() *Project {
		p := NewProject()
		p.Simulation.TEnd = 20
		p.Simulation.InitialStep = 0.01
		p.Slaves = []SlaveSpec{
			{Name: "mass", Type: "mass", Params: map[string]float64{"m": 1, "x0": 1}},
			{Name: "spring", Type: "spring", Params: map[string]float64{"k": 4, "d": 0.2}},
		}
		p.Connections = []Connection{
			{From: "mass.x", To: "spring.x"},
			{From: "mass.v", To: "spring.v"},
			{From: "spring.F", To: "mass.F"},
		}
		return p
	},
	// feedback integrates its own scaled output, x' = -k x.
	"feedback": func() *Project {
		p := NewProject()
		p.Simulation.TEnd = 5
		p.Simulation.InitialStep = 0.05
		p.Slaves = []SlaveSpec{
			{Name: "x", Type: "integrator", Params: map[string]float64{"x0": 1}},
			{Name: "k", Type: "gain", Params: map[string]float64{"k": 2}},
		}
		p.Connections = []Connection{
			{From: "x.x", To: "k.u"},
			{From: "k.y", To: "x.u", Scale: ptr(-1)},
		}
		return p
	},
	// signals drives a gain with a sine source and an offset constant.
	"signals": func() *Project {
		p := NewProject()
		p.Simulation.TEnd = 10
		p.Simulation.InitialStep = 0.05
		p.Simulation.MinOutputStep = 0.1
		p.Slaves = []SlaveSpec{
			{Name: "wave", Type: "sine", Params: map[string]float64{"amplitude": 2, "frequency": 0.5}},
			{Name: "amp", Type: "gain", Params: map[string]float64{"k": 3}},
			{Name: "bias", Type: "constant", Params: map[string]float64{"value": 1}},
		}
		p.Connections = []Connection{
			{From: "wave.y", To: "amp.u", Offset: 0.5},
		}
		return p
	},
}

// GetPreset returns a fresh copy of the named preset, or nil.
func GetPreset(name string) *Project {
	fn, ok := Presets[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
