package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclProject is the decode shape of an .hcl project:
//
//	version = "1.0.0"
//	simulation {
//	  t_end     = 50
//	  step_mode = "richardson"
//	}
//	slave "prey" {
//	  type   = "prey"
//	  params = { a = 0.1 }
//	}
//	connection {
//	  from = "prey.x"
//	  to   = "predator.x"
//	}
//
// Pointer fields distinguish an absent attribute from a zero value.
type hclProject struct {
	Version     *string          `hcl:"version,optional"`
	Simulation  *hclSimulation   `hcl:"simulation,block"`
	Slaves      []*hclSlave      `hcl:"slave,block"`
	Connections []*hclConnection `hcl:"connection,block"`
}

type hclSimulation struct {
	TStart          *float64 `hcl:"t_start,optional"`
	TEnd            *float64 `hcl:"t_end,optional"`
	MinOutputStep   *float64 `hcl:"min_output_step,optional"`
	PreventOverstep *bool    `hcl:"prevent_overstep,optional"`

	Algorithm     *string  `hcl:"algorithm,optional"`
	MaxIterations *int     `hcl:"max_iterations,optional"`
	AbsTol        *float64 `hcl:"abs_tol,optional"`
	RelTol        *float64 `hcl:"rel_tol,optional"`
	FallbackLimit *float64 `hcl:"fallback_limit,optional"`
	Parallel      *bool    `hcl:"parallel,optional"`

	StepMode    *string  `hcl:"step_mode,optional"`
	InitialStep *float64 `hcl:"initial_step,optional"`
	MaxStep     *float64 `hcl:"max_step,optional"`
	MinStep     *float64 `hcl:"min_step,optional"`
	ErrAbsTol   *float64 `hcl:"err_abs_tol,optional"`
	ErrRelTol   *float64 `hcl:"err_rel_tol,optional"`
}

type hclSlave struct {
	Name   string             `hcl:"name,label"`
	Type   string             `hcl:"type"`
	File   *string            `hcl:"file,optional"`
	Params map[string]float64 `hcl:"params,optional"`
	Start  map[string]float64 `hcl:"start,optional"`
}

type hclConnection struct {
	From   string   `hcl:"from"`
	To     string   `hcl:"to"`
	Offset *float64 `hcl:"offset,optional"`
	Scale  *float64 `hcl:"scale,optional"`
}

func loadHCL(path string) (*Project, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	var raw hclProject
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	return raw.project(), nil
}

func (h *hclProject) project() *Project {
	p := NewProject()
	p.Version = ""
	set(&p.Version, h.Version)
	if s := h.Simulation; s != nil {
		sim := &p.Simulation
		set(&sim.TStart, s.TStart)
		set(&sim.TEnd, s.TEnd)
		set(&sim.MinOutputStep, s.MinOutputStep)
		set(&sim.PreventOverstep, s.PreventOverstep)
		set(&sim.Algorithm, s.Algorithm)
		set(&sim.MaxIterations, s.MaxIterations)
		set(&sim.AbsTol, s.AbsTol)
		set(&sim.RelTol, s.RelTol)
		set(&sim.FallbackLimit, s.FallbackLimit)
		set(&sim.Parallel, s.Parallel)
		set(&sim.StepMode, s.StepMode)
		set(&sim.InitialStep, s.InitialStep)
		set(&sim.MaxStep, s.MaxStep)
		set(&sim.MinStep, s.MinStep)
		set(&sim.ErrAbsTol, s.ErrAbsTol)
		set(&sim.ErrRelTol, s.ErrRelTol)
	}
	for _, s := range h.Slaves {
		spec := SlaveSpec{Name: s.Name, Type: s.Type, Params: s.Params, Start: s.Start}
		set(&spec.File, s.File)
		p.Slaves = append(p.Slaves, spec)
	}
	for _, c := range h.Connections {
		conn := Connection{From: c.From, To: c.To, Scale: c.Scale}
		set(&conn.Offset, c.Offset)
		p.Connections = append(p.Connections, conn)
	}
	return p
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
