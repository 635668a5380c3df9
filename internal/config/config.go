package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/stepsize"
)

const DefaultTEnd = 10.0

// FormatVersion is the project file format written by Save.
const FormatVersion = "1.0.0"

// supportedFormats lists the project formats Load accepts.
const supportedFormats = ">= 1.0.0, < 2.0.0"

var ErrUnsupportedVersion = errors.New("config: unsupported project version")

type Project struct {
	Version     string       `yaml:"version,omitempty"`
	Simulation  Simulation   `yaml:"simulation"`
	Slaves      []SlaveSpec  `yaml:"slaves"`
	Connections []Connection `yaml:"connections,omitempty"`

	// Dir resolves relative slave files. Load sets it to the project's
	// directory.
	Dir string `yaml:"-"`
}

type Simulation struct {
	TStart          float64 `yaml:"t_start"`
	TEnd            float64 `yaml:"t_end"`
	MinOutputStep   float64 `yaml:"min_output_step,omitempty"`
	PreventOverstep bool    `yaml:"prevent_overstep"`

	Algorithm     string  `yaml:"algorithm"`
	MaxIterations int     `yaml:"max_iterations"`
	AbsTol        float64 `yaml:"abs_tol"`
	RelTol        float64 `yaml:"rel_tol"`
	FallbackLimit float64 `yaml:"fallback_limit,omitempty"`
	Parallel      bool    `yaml:"parallel,omitempty"`

	StepMode    string  `yaml:"step_mode"`
	InitialStep float64 `yaml:"initial_step"`
	MaxStep     float64 `yaml:"max_step"`
	MinStep     float64 `yaml:"min_step"`
	ErrAbsTol   float64 `yaml:"err_abs_tol"`
	ErrRelTol   float64 `yaml:"err_rel_tol"`
}

type SlaveSpec struct {
	Name   string             `yaml:"name"`
	Type   string             `yaml:"type"`
	File   string             `yaml:"file,omitempty"`
	Params map[string]float64 `yaml:"params,omitempty"`
	// Start overrides the start values of inputs.
	Start map[string]float64 `yaml:"start,omitempty"`
}

// Connection joins From ("slave.variable") to To. Scale defaults to 1.
type Connection struct {
	From   string   `yaml:"from"`
	To     string   `yaml:"to"`
	Offset float64  `yaml:"offset,omitempty"`
	Scale  *float64 `yaml:"scale,omitempty"`
}

func (c Connection) ScaleOrDefault() float64 {
	if c.Scale == nil {
		return 1
	}
	return *c.Scale
}

func DefaultSimulation() Simulation {
	alg := algorithm.DefaultSettings()
	ss := stepsize.DefaultSettings()
	return Simulation{
		TEnd:            DefaultTEnd,
		PreventOverstep: true,
		Algorithm:       alg.Kind.String(),
		MaxIterations:   alg.MaxIterations,
		AbsTol:          alg.AbsTol,
		RelTol:          alg.RelTol,
		StepMode:        ss.Mode.String(),
		InitialStep:     ss.InitialStep,
		MaxStep:         ss.MaxStep,
		MinStep:         ss.MinStep,
		ErrAbsTol:       ss.AbsTol,
		ErrRelTol:       ss.RelTol,
	}
}

func NewProject() *Project {
	return &Project{Version: FormatVersion, Simulation: DefaultSimulation()}
}

// Load reads a project from a .yaml/.yml or .hcl file. Settings missing from
// the file keep their defaults.
func Load(path string) (*Project, error) {
	var (
		p   *Project
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		p, err = loadYAML(path)
	case ".hcl":
		p, err = loadHCL(path)
	default:
		return nil, fmt.Errorf("config: unknown project format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if err := checkVersion(p.Version); err != nil {
		return nil, err
	}
	p.Dir = filepath.Dir(path)
	return p, nil
}

func loadYAML(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := NewProject()
	p.Version = ""
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

// Save writes p as YAML.
func Save(path string, p *Project) error {
	out := *p
	if out.Version == "" {
		out.Version = FormatVersion
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func checkVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, raw, err)
	}
	c, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, supportedFormats)
	}
	return nil
}

// Validate checks the project for problems that do not need the slaves to
// be instantiated. Connection types and units are checked by Build.
func (p *Project) Validate() error {
	var errs []error
	if _, err := p.Simulation.Settings(); err != nil {
		errs = append(errs, err)
	}
	names := make(map[string]bool, len(p.Slaves))
	for i, s := range p.Slaves {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("slave %d: missing name", i))
		case strings.Contains(s.Name, "."):
			errs = append(errs, fmt.Errorf("slave %s: name must not contain '.'", s.Name))
		case names[s.Name]:
			errs = append(errs, fmt.Errorf("slave %s: duplicate name", s.Name))
		}
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("slave %s: missing type", s.Name))
		}
		names[s.Name] = true
	}
	for _, c := range p.Connections {
		if c.From == "" || c.To == "" {
			errs = append(errs, fmt.Errorf("connection %q -> %q: both ends are required", c.From, c.To))
		}
	}
	return errors.Join(errs...)
}
