package slave

import "fmt"

type StepStatus int

const (
	StepSuccess StepStatus = iota
	StepRejected
	StepFatal
)

func (s StepStatus) String() string {
	switch s {
	case StepSuccess:
		return "success"
	case StepRejected:
		return "rejected"
	case StepFatal:
		return "fatal"
	}
	return fmt.Sprintf("StepStatus(%d)", int(s))
}

// StepResult is the outcome of a single DoStep call.
type StepResult struct {
	Status StepStatus
	Reason string
}

func Success() StepResult { return StepResult{Status: StepSuccess} }
func Rejected(reason string) StepResult { return StepResult{Status: StepRejected, Reason: reason} }
func Fatal(reason string) StepResult { return StepResult{Status: StepFatal, Reason: reason} }
func (r StepResult) OK() bool { return r.Status == StepSuccess }

// Checkpoint is an opaque state snapshot produced by an adapter. Only the
// adapter that produced it can interpret it.
type Checkpoint any

// Adapter is the runtime contract every slave satisfies.
//
// DoStep advances the slave from t to t+h using the inputs last passed to
// SetInputs. A Rejected result asks the master for a smaller step; Fatal
// aborts the run. RestoreState must make subsequent DoStep calls behave
// exactly as they did after the matching SaveState. Outputs returns a map
// the caller may keep; adapters must not mutate it afterwards.
type Adapter interface {
	SetInputs(Values) error
	DoStep(t, h float64) StepResult
	Outputs() Values
	SaveState() (Checkpoint, error)
	RestoreState(Checkpoint) error
}

// Initializer is implemented by adapters that need setup before the first step.
type Initializer interface {
	Initialize(tStart, tEnd float64) error
}

// Terminator is implemented by adapters that hold resources until the run ends.
type Terminator interface {
	Terminate() error
}
