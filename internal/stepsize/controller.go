package stepsize

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type Mode int

const (
	// Fixed keeps the nominal step; rejected steps are retried at a
	// fraction of it.
	Fixed Mode = iota
	// Monitor behaves like Fixed but still evaluates the Richardson error.
	Monitor
	// Richardson adapts the step from a full-step versus two-half-steps
	// error estimate.
	Richardson
)

func (m Mode) String() string {
	switch m {
	case Fixed:
		return "fixed"
	case Monitor:
		return "monitor"
	case Richardson:
		return "richardson"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed", "none":
		return Fixed, nil
	case "monitor", "check":
		return Monitor, nil
	case "richardson", "adaptive", "step-doubling":
		return Richardson, nil
	}
	return Fixed, fmt.Errorf("unknown error control mode %q", s)
}

// EstimatesError reports whether the mode needs the half-step comparison.
func (m Mode) EstimatesError() bool {
	return m == Monitor || m == Richardson
}

// Decision is the terminal state of one step attempt.
type Decision int

const (
	Accepted Decision = iota
	Rejected
	Aborted
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Cause tells the controller why an attempt was rejected.
type Cause int

const (
	CauseConvergence Cause = iota
	CauseSlave
	CauseError
)

func (c Cause) String() string {
	switch c {
	case CauseConvergence:
		return "iteration limit exceeded"
	case CauseSlave:
		return "slave rejected step"
	case CauseError:
		return "error estimate above tolerance"
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

var ErrStepSizeUnderflow = errors.New("stepsize: step size below lower limit")

// UnderflowError is the terminal failure raised when a retry would need a
// step smaller than the lower limit.
type UnderflowError struct {
	Time         float64
	StepSize     float64
	LastAccepted float64
	Cause        Cause
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("step size %g at t=%g below lower limit (%s, last accepted %g)",
		e.StepSize, e.Time, e.Cause, e.LastAccepted)
}

func (e *UnderflowError) Unwrap() error {
	return ErrStepSizeUnderflow
}

type Settings struct {
	Mode        Mode
	InitialStep float64
	MaxStep     float64
	// MinStep is the lower step size limit; retries below it abort.
	MinStep float64
	AbsTol  float64
	RelTol  float64

	Safety       float64
	MinScale     float64
	MaxScale     float64
	ShrinkFactor float64
}

func DefaultSettings() Settings {
	return Settings{
		Mode:         Fixed,
		InitialStep:  0.01,
		MaxStep:      1,
		MinStep:      1e-6,
		AbsTol:       1e-6,
		RelTol:       1e-5,
		Safety:       0.9,
		MinScale:     0.2,
		MaxScale:     2,
		ShrinkFactor: 0.5,
	}
}

func (s Settings) Validate() error {
	if s.InitialStep <= 0 {
		return fmt.Errorf("initial step must be positive, got %g", s.InitialStep)
	}
	if s.MinStep <= 0 || s.MinStep > s.InitialStep {
		return fmt.Errorf("lower step limit must be in (0, %g], got %g", s.InitialStep, s.MinStep)
	}
	if s.Mode == Richardson && s.MaxStep < s.InitialStep {
		return fmt.Errorf("max step %g below initial step %g", s.MaxStep, s.InitialStep)
	}
	if s.Mode.EstimatesError() && s.AbsTol <= 0 {
		return fmt.Errorf("%s error control needs a positive absolute tolerance", s.Mode)
	}
	if s.ShrinkFactor <= 0 || s.ShrinkFactor >= 1 {
		return fmt.Errorf("shrink factor must be in (0, 1), got %g", s.ShrinkFactor)
	}
	if s.MinScale <= 0 || s.MinScale >= 1 || s.MaxScale <= 1 {
		return fmt.Errorf("scale bounds must satisfy 0 < min < 1 < max, got %g, %g", s.MinScale, s.MaxScale)
	}
	return nil
}

// Controller proposes step sizes and reacts to attempt outcomes.
type Controller struct {
	s            Settings
	h            float64
	lastAccepted float64
}

func New(s Settings) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Controller{s: s, h: s.InitialStep}, nil
}

func (c *Controller) Settings() Settings {
	return c.s
}

// Next returns the nominal size of the next attempt.
func (c *Controller) Next() float64 {
	return c.h
}

func (c *Controller) LastAccepted() float64 {
	return c.lastAccepted
}

// Candidate returns the step to attempt from t. With preventOverstep the
// step is shortened to land on tEnd; the nominal size is left alone.
func (c *Controller) Candidate(t, tEnd float64, preventOverstep bool) float64 {
	h := c.h
	if preventOverstep && t+h > tEnd {
		h = tEnd - t
	}
	return h
}

// Accept records a successful step of size h with error ratio rho and sets
// the nominal size of the next step.
func (c *Controller) Accept(h, rho float64) {
	c.lastAccepted = h
	if c.s.Mode != Richardson {
		c.h = c.s.InitialStep
		return
	}
	c.h = math.Min(h*c.growth(rho), c.s.MaxStep)
}

// Reject shrinks the nominal step after a failed attempt of size h at t.
// It returns an *UnderflowError when the new size falls below MinStep.
func (c *Controller) Reject(t, h float64, cause Cause, rho float64) error {
	factor := c.s.ShrinkFactor
	if cause == CauseError && c.s.Mode == Richardson && rho > 1 {
		factor = math.Max(c.s.MinScale, c.s.Safety*math.Pow(rho, -0.5))
	}
	next := h * factor
	if next < c.s.MinStep {
		return &UnderflowError{Time: t, StepSize: next, LastAccepted: c.lastAccepted, Cause: cause}
	}
	c.h = next
	return nil
}

func (c *Controller) growth(rho float64) float64 {
	if rho <= 0 || math.IsNaN(rho) {
		return c.s.MaxScale
	}
	return math.Min(c.s.MaxScale, math.Max(1, c.s.Safety*math.Pow(rho, -0.5)))
}
