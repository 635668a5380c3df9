package algorithm

import (
	"fmt"
	"strings"

	"github.com/san-kum/mastersim/internal/slave"
)

// Kind selects how slaves inside a cycle see each other's outputs.
type Kind int

const (
	// GaussSeidel feeds each slave the outputs produced earlier in the same pass.
	GaussSeidel Kind = iota
	// GaussJacobi feeds every slave of a pass the values from the start of the pass.
	GaussJacobi
)

func (k Kind) String() string {
	if k == GaussJacobi {
		return "gauss-jacobi"
	}
	return "gauss-seidel"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gauss-seidel", "gaussseidel", "seidel":
		return GaussSeidel, nil
	case "gauss-jacobi", "gaussjacobi", "jacobi":
		return GaussJacobi, nil
	}
	return GaussSeidel, fmt.Errorf("unknown coupling algorithm %q", s)
}

type Settings struct {
	Kind          Kind
	MaxIterations int
	AbsTol        float64
	RelTol        float64
	// FallbackLimit disables iteration for steps smaller than it.
	FallbackLimit float64
	// Parallel evaluates cycles of the same level concurrently.
	Parallel bool
}

func DefaultSettings() Settings {
	return Settings{
		Kind:          GaussSeidel,
		MaxIterations: 10,
		AbsTol:        1e-6,
		RelTol:        1e-5,
	}
}

func (s Settings) Validate() error {
	if s.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", s.MaxIterations)
	}
	if s.AbsTol < 0 || s.RelTol < 0 {
		return fmt.Errorf("tolerances must be non-negative, got abs=%g rel=%g", s.AbsTol, s.RelTol)
	}
	if s.FallbackLimit < 0 {
		return fmt.Errorf("fallback limit must be non-negative, got %g", s.FallbackLimit)
	}
	return nil
}

// Frame holds the outputs of every slave at one point in time, indexed by
// slave index.
type Frame []slave.Values

func (f Frame) Clone() Frame {
	c := make(Frame, len(f))
	for i, v := range f {
		c[i] = v.Clone()
	}
	return c
}

// Checkpoints holds one saved state per slave, indexed by slave index.
type Checkpoints []slave.Checkpoint

type Verdict int

const (
	Converged Verdict = iota
	Diverged
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Outcome is the result of one macro step attempt.
type Outcome struct {
	Verdict Verdict
	// Outputs at t+h. Only meaningful when Verdict is Converged.
	Outputs Frame
	// Iterations per cycle, in cycle order.
	Iterations []int
	// Failed lists the cycles that hit the iteration limit.
	Failed []int
	// Slave and Reason describe a slave rejection.
	Slave  string
	Reason string
}

func (o *Outcome) TotalIterations() int {
	n := 0
	for _, it := range o.Iterations {
		n += it
	}
	return n
}

// SlaveFatalError reports an unrecoverable slave failure. The run stops
// without rolling back.
type SlaveFatalError struct {
	Slave  string
	Time   float64
	Reason string
}

func (e *SlaveFatalError) Error() string {
	return fmt.Sprintf("slave %s failed at t=%g: %s", e.Slave, e.Time, e.Reason)
}

// CheckpointError reports a slave that could not save or restore its state.
type CheckpointError struct {
	Slave string
	Op    string
	Err   error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("%s state of %s: %v", e.Op, e.Slave, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
