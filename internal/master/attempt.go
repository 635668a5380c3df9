package master

import (
	"context"
	"math"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/stepsize"
)

// attempt is one pass through Idle -> StepAttempt -> {Accepted, Rejected,
// Aborted}.
type attempt struct {
	h        float64
	outcome  *algorithm.Outcome
	outputs  algorithm.Frame
	rho      float64
	decision stepsize.Decision
	cause    stepsize.Cause
	err      error
}

// attempt tries one macro step from t. A returned error is fatal; every
// other outcome is described by the decision. Rejected and aborted
// attempts leave all slaves at their state at t.
func (m *Master) attempt(ctx context.Context, t float64, yt algorithm.Frame) (attempt, error) {
	s := m.settings
	att := attempt{h: m.ctrl.Candidate(t, s.TEnd, s.PreventOverstep), rho: math.NaN()}

	start, err := m.engine.Save()
	if err != nil {
		return att, err
	}
	out, err := m.engine.Step(ctx, t, att.h, yt, start)
	if err != nil {
		return att, err
	}
	att.outcome = out

	if out.Verdict == algorithm.Converged && s.StepSize.Mode.EstimatesError() {
		full := out.Outputs
		var end algorithm.Checkpoints
		if s.StepSize.Mode == stepsize.Monitor {
			if end, err = m.engine.Save(); err != nil {
				return att, err
			}
		}
		if err := m.engine.Restore(start); err != nil {
			return att, err
		}
		half, err := m.halfSteps(ctx, t, att.h, yt, start)
		if err != nil {
			return att, err
		}
		if half.Verdict != algorithm.Converged {
			if s.StepSize.Mode == stepsize.Monitor {
				// Monitor never changes the step: keep the full step and
				// report no estimate.
				if err := m.engine.Restore(end); err != nil {
					return att, err
				}
				out.Iterations = sumIterations(out.Iterations, half.Iterations)
				return m.accept(att, out), nil
			}
			// The half steps restore to the midpoint on failure.
			if err := m.engine.Restore(start); err != nil {
				return att, err
			}
			half.Iterations = sumIterations(out.Iterations, half.Iterations)
			att.outcome = half
			return m.reject(t, att), nil
		}
		att.rho = stepsize.ErrorRatio(full, half.Outputs, s.StepSize.AbsTol, s.StepSize.RelTol)
		if s.StepSize.Mode == stepsize.Richardson && att.rho > 1 {
			if err := m.engine.Restore(start); err != nil {
				return att, err
			}
			att.cause = stepsize.CauseError
			return m.shrink(t, att), nil
		}
		half.Iterations = sumIterations(out.Iterations, half.Iterations)
		out = half
		att.outcome = half
	}

	if out.Verdict != algorithm.Converged {
		return m.reject(t, att), nil
	}
	return m.accept(att, out), nil
}

func (m *Master) accept(att attempt, out *algorithm.Outcome) attempt {
	att.outcome = out
	att.outputs = out.Outputs
	att.decision = stepsize.Accepted
	m.ctrl.Accept(att.h, att.rho)
	return att
}

// halfSteps recomputes [t, t+h] as two steps of h/2 starting from start.
func (m *Master) halfSteps(ctx context.Context, t, h float64, yt algorithm.Frame, start algorithm.Checkpoints) (*algorithm.Outcome, error) {
	first, err := m.engine.Step(ctx, t, h/2, yt, start)
	if err != nil || first.Verdict != algorithm.Converged {
		return first, err
	}
	mid, err := m.engine.Save()
	if err != nil {
		return nil, err
	}
	second, err := m.engine.Step(ctx, t+h/2, h/2, first.Outputs, mid)
	if err != nil {
		return nil, err
	}
	second.Iterations = sumIterations(first.Iterations, second.Iterations)
	return second, nil
}

func (m *Master) reject(t float64, att attempt) attempt {
	att.cause = stepsize.CauseConvergence
	if att.outcome.Verdict == algorithm.Rejected {
		att.cause = stepsize.CauseSlave
	}
	return m.shrink(t, att)
}

func (m *Master) shrink(t float64, att attempt) attempt {
	if err := m.ctrl.Reject(t, att.h, att.cause, att.rho); err != nil {
		att.decision = stepsize.Aborted
		att.err = err
		return att
	}
	att.decision = stepsize.Rejected
	return att
}

func sumIterations(a, b []int) []int {
	out := make([]int, max(len(a), len(b)))
	for i := range out {
		if i < len(a) {
			out[i] += a[i]
		}
		if i < len(b) {
			out[i] += b[i]
		}
	}
	return out
}
