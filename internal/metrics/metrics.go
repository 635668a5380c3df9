// Package metrics summarises a run from its progress events.
package metrics

import (
	"math"
	"sync"

	"github.com/san-kum/mastersim/internal/progress"
)

// Metric folds progress events into a single number.
type Metric interface {
	Name() string
	Observe(e progress.Event)
	Value() float64
	Reset()
}

// RejectionRate is the fraction of attempts that were rejected.
type RejectionRate struct {
	rejected int
	samples  int
}

func NewRejectionRate() *RejectionRate { return &RejectionRate{} }

func (r *RejectionRate) Name() string { return "rejection_rate" }

func (r *RejectionRate) Observe(e progress.Event) {
	r.samples++
	if !e.Accepted() {
		r.rejected++
	}
}

func (r *RejectionRate) Value() float64 {
	if r.samples == 0 {
		return 0
	}
	return float64(r.rejected) / float64(r.samples)
}

func (r *RejectionRate) Reset() {
	r.rejected = 0
	r.samples = 0
}

// IterationEffort is the mean number of iterations per attempt, summed
// over all cycles.
type IterationEffort struct {
	sum     int
	samples int
}

func NewIterationEffort() *IterationEffort { return &IterationEffort{} }

func (c *IterationEffort) Name() string { return "iterations_per_attempt" }

func (c *IterationEffort) Observe(e progress.Event) {
	for _, n := range e.Iterations {
		c.sum += n
	}
	c.samples++
}

func (c *IterationEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return float64(c.sum) / float64(c.samples)
}

func (c *IterationEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// ErrorRatio tracks the largest error ratio seen on an accepted step.
// Events without an estimate are ignored; the value is NaN until one
// arrives.
type ErrorRatio struct {
	max     float64
	samples int
}

func NewErrorRatio() *ErrorRatio { return &ErrorRatio{} }

func (m *ErrorRatio) Name() string { return "max_error_ratio" }

func (m *ErrorRatio) Observe(e progress.Event) {
	if !e.Accepted() || math.IsNaN(e.ErrorRatio) {
		return
	}
	if m.samples == 0 || e.ErrorRatio > m.max {
		m.max = e.ErrorRatio
	}
	m.samples++
}

func (m *ErrorRatio) Value() float64 {
	if m.samples == 0 {
		return math.NaN()
	}
	return m.max
}

func (m *ErrorRatio) Reset() {
	m.max = 0
	m.samples = 0
}

// StepSize is the mean size of accepted steps.
type StepSize struct {
	sum     float64
	samples int
}

func NewStepSize() *StepSize { return &StepSize{} }

func (s *StepSize) Name() string { return "mean_step_size" }

func (s *StepSize) Observe(e progress.Event) {
	if !e.Accepted() {
		return
	}
	s.sum += e.StepSize
	s.samples++
}

func (s *StepSize) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

func (s *StepSize) Reset() {
	s.sum = 0
	s.samples = 0
}

// Set is an observer that feeds every event to its metrics. It is safe to
// read while a run is in progress.
type Set struct {
	mu      sync.Mutex
	metrics []Metric
}

func NewSet(ms ...Metric) *Set {
	return &Set{metrics: ms}
}

// Default returns the metrics reported after every run.
func Default() *Set {
	return NewSet(NewRejectionRate(), NewIterationEffort(), NewStepSize(), NewErrorRatio())
}

func (s *Set) OnStep(e progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Observe(e)
	}
}

// Values returns the current value of every metric by name.
func (s *Set) Values() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.metrics))
	for _, m := range s.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

// Names lists the metrics in the order they were added.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		names[i] = m.Name()
	}
	return names
}

func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Reset()
	}
}
