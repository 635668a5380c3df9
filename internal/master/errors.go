package master

import (
	"errors"
	"fmt"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/stepsize"
)

// Kind classifies a terminal run failure.
type Kind int

const (
	KindSetup Kind = iota
	KindSlaveFatal
	KindStepSizeUnderflow
	KindCanceled
	KindOutput
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup failed"
	case KindSlaveFatal:
		return "slave fatal"
	case KindStepSizeUnderflow:
		return "step size underflow"
	case KindCanceled:
		return "canceled"
	case KindOutput:
		return "output failed"
	case KindCheckpoint:
		return "checkpoint failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// RunError is the single failure value a run ends with. Cycle is -1 when
// no cycle is involved.
type RunError struct {
	Kind     Kind
	Time     float64
	StepSize float64
	Cycle    int
	Slave    string
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s at t=%g", e.Kind, e.Time)
	if e.Slave != "" {
		msg += " in slave " + e.Slave
	}
	if e.Cycle >= 0 {
		msg += fmt.Sprintf(" (cycle %d)", e.Cycle)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func runErr(kind Kind, t, h float64, err error) *RunError {
	re := &RunError{Kind: kind, Time: t, StepSize: h, Cycle: -1, Err: err}
	var fatal *algorithm.SlaveFatalError
	var cp *algorithm.CheckpointError
	switch {
	case errors.As(err, &fatal):
		re.Slave = fatal.Slave
	case errors.As(err, &cp):
		re.Slave = cp.Slave
	}
	return re
}

// stepKind classifies an error returned while attempting a macro step.
func stepKind(err error) Kind {
	var cp *algorithm.CheckpointError
	if errors.As(err, &cp) {
		return KindCheckpoint
	}
	return KindSlaveFatal
}

func kindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return -1
}

func IsUnderflow(err error) bool {
	return errors.Is(err, stepsize.ErrStepSizeUnderflow)
}

func IsSlaveFatal(err error) bool {
	var fatal *algorithm.SlaveFatalError
	return errors.As(err, &fatal)
}

func IsCheckpoint(err error) bool {
	return kindOf(err) == KindCheckpoint
}

func IsCanceled(err error) bool {
	return kindOf(err) == KindCanceled
}
