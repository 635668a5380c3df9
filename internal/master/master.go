package master

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/ctxlog"
	"github.com/san-kum/mastersim/internal/graph"
	"github.com/san-kum/mastersim/internal/progress"
	"github.com/san-kum/mastersim/internal/slave"
	"github.com/san-kum/mastersim/internal/stepsize"
	"github.com/san-kum/mastersim/internal/storage"
)

type Settings struct {
	TStart float64
	TEnd   float64
	// MinOutputStep suppresses output rows closer than this to the last one.
	MinOutputStep float64
	// PreventOverstep shortens the final step so the run ends exactly at TEnd.
	PreventOverstep bool

	Algorithm algorithm.Settings
	StepSize  stepsize.Settings
}

func DefaultSettings() Settings {
	return Settings{
		TStart:          0,
		TEnd:            10,
		PreventOverstep: true,
		Algorithm:       algorithm.DefaultSettings(),
		StepSize:        stepsize.DefaultSettings(),
	}
}

func (s Settings) Validate() error {
	if s.TEnd <= s.TStart {
		return fmt.Errorf("end time %g must be after start time %g", s.TEnd, s.TStart)
	}
	if s.MinOutputStep < 0 {
		return fmt.Errorf("minimum output step must be non-negative, got %g", s.MinOutputStep)
	}
	return nil
}

// Result summarises a run. It is returned even when the run fails, and then
// describes the part that completed.
type Result struct {
	RunID         string
	TStart        float64
	TEnd          float64
	Time          float64
	StepsAccepted int
	StepsRejected int
	Iterations    int
	OutputRows    int
	LastStepSize  float64
	MinStepSize   float64
	MaxStepSize   float64
	Stopped       bool
	Elapsed       time.Duration
}

// Completed reports whether the run reached its end time.
func (r *Result) Completed() bool {
	return !r.Stopped && reached(r.Time, r.TEnd)
}

type Option func(*Master)

func WithObserver(o progress.Observer) Option {
	return func(m *Master) { m.observers = append(m.observers, o) }
}

func WithSink(s storage.Sink) Option {
	return func(m *Master) { m.sinks = append(m.sinks, s) }
}

func WithRunID(id string) Option {
	return func(m *Master) { m.runID = id }
}

// Master drives a co-simulation run over a built graph.
type Master struct {
	settings  Settings
	slaves    []*slave.Slave
	engine    *algorithm.Engine
	ctrl      *stepsize.Controller
	observers []progress.Observer
	sinks     []storage.Sink
	columns   []storage.Column
	runID     string

	stop    atomic.Bool
	running atomic.Bool
}

// New prepares a run. The graph must be complete: the cycle order is
// computed here and not revisited.
func New(g *graph.Graph, s Settings, opts ...Option) (*Master, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	engine, err := algorithm.New(g, s.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("build iteration engine: %w", err)
	}
	ctrl, err := stepsize.New(s.StepSize)
	if err != nil {
		return nil, fmt.Errorf("build step size controller: %w", err)
	}
	m := &Master{
		settings: s,
		slaves:   g.Slaves(),
		engine:   engine,
		ctrl:     ctrl,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runID == "" {
		m.runID = uuid.Must(uuid.NewV7()).String()
	}
	for _, sl := range m.slaves {
		for _, v := range sl.Descriptor.Outputs() {
			m.columns = append(m.columns, storage.Column{
				SlaveIndex: sl.Index,
				Slave:      sl.Name,
				Variable:   v.Name,
				Unit:       v.Unit,
				Type:       v.Type,
			})
		}
	}
	return m, nil
}

func (m *Master) RunID() string {
	return m.runID
}

func (m *Master) Cycles() []graph.Cycle {
	return m.engine.Cycles()
}

func (m *Master) Columns() []storage.Column {
	return append([]storage.Column(nil), m.columns...)
}

// Stop asks a running Run to finish after the current macro step. A stop
// request does not carry over to the next Run.
func (m *Master) Stop() {
	m.stop.Store(true)
}

// Completion is delivered once by Start.
type Completion struct {
	Result *Result
	Err    error
}

// Start runs in a new goroutine and delivers the outcome on the returned
// channel.
func (m *Master) Start(ctx context.Context) <-chan Completion {
	done := make(chan Completion, 1)
	go func() {
		res, err := m.Run(ctx)
		done <- Completion{Result: res, Err: err}
		close(done)
	}()
	return done
}

// Run executes the simulation from TStart to TEnd. Stop requests and
// context cancellation are honoured between macro steps only.
func (m *Master) Run(ctx context.Context) (*Result, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, errors.New("master: run already in progress")
	}
	defer m.running.Store(false)
	m.stop.Store(false)

	log := ctxlog.FromContext(ctx).With("run", m.runID)
	ctx = ctxlog.WithLogger(ctx, log)
	began := time.Now()

	s := m.settings
	res := &Result{RunID: m.runID, TStart: s.TStart, TEnd: s.TEnd, Time: s.TStart, MinStepSize: math.Inf(1)}
	defer func() {
		res.Elapsed = time.Since(began)
		if math.IsInf(res.MinStepSize, 1) {
			res.MinStepSize = 0
		}
		m.terminate(ctx)
	}()

	log.Info("run starting", "t_start", s.TStart, "t_end", s.TEnd, "slaves", len(m.slaves),
		"cycles", len(m.engine.Cycles()), "mode", s.StepSize.Mode, "algorithm", s.Algorithm.Kind)

	frame, err := m.initialize()
	if err != nil {
		return res, m.fail(ctx, runErr(KindSetup, s.TStart, 0, err))
	}
	for _, sink := range m.sinks {
		if err := sink.Begin(m.runID, m.columns); err != nil {
			return res, m.fail(ctx, runErr(KindOutput, s.TStart, 0, err))
		}
	}

	t := s.TStart
	if err := m.emit(t, frame); err != nil {
		return res, m.fail(ctx, runErr(KindOutput, t, 0, err))
	}
	lastOutput := t
	res.OutputRows++

	for !reached(t, s.TEnd) {
		if m.stop.Load() {
			res.Stopped = true
			log.Info("run stopped", "t", t)
			break
		}
		if err := ctx.Err(); err != nil {
			return res, m.fail(ctx, runErr(KindCanceled, t, m.ctrl.Next(), err))
		}

		att, err := m.attempt(ctx, t, frame)
		if err != nil {
			return res, m.fail(ctx, runErr(stepKind(err), t, att.h, err))
		}
		m.notify(t, att)

		switch att.decision {
		case stepsize.Accepted:
			t += att.h
			frame = att.outputs
			res.Time = t
			res.StepsAccepted++
			res.Iterations += att.outcome.TotalIterations()
			res.LastStepSize = att.h
			res.MinStepSize = math.Min(res.MinStepSize, att.h)
			res.MaxStepSize = math.Max(res.MaxStepSize, att.h)
			if reached(t-lastOutput, s.MinOutputStep) || reached(t, s.TEnd) {
				if err := m.emit(t, frame); err != nil {
					return res, m.fail(ctx, runErr(KindOutput, t, att.h, err))
				}
				lastOutput = t
				res.OutputRows++
			}
		case stepsize.Rejected:
			res.StepsRejected++
			res.Iterations += att.outcome.TotalIterations()
		case stepsize.Aborted:
			res.StepsRejected++
			re := runErr(KindStepSizeUnderflow, t, att.h, att.err)
			re.Slave = att.outcome.Slave
			if len(att.outcome.Failed) > 0 {
				re.Cycle = att.outcome.Failed[0]
			}
			return res, m.fail(ctx, re)
		}
	}

	if res.Stopped && lastOutput < t {
		if err := m.emit(t, frame); err == nil {
			res.OutputRows++
		}
	}
	log.Info("run finished", "t", t, "accepted", res.StepsAccepted, "rejected", res.StepsRejected,
		"elapsed", time.Since(began))
	return res, nil
}

func (m *Master) fail(ctx context.Context, err *RunError) error {
	ctxlog.FromContext(ctx).Error("run aborted", "kind", err.Kind, "t", err.Time, "slave", err.Slave, "err", err.Err)
	return err
}

// initialize prepares every slave at TStart and returns the consistent
// initial output frame.
func (m *Master) initialize() (algorithm.Frame, error) {
	for _, sl := range m.slaves {
		if in, ok := sl.Adapter.(slave.Initializer); ok {
			if err := in.Initialize(m.settings.TStart, m.settings.TEnd); err != nil {
				return nil, fmt.Errorf("initialize %s: %w", sl.Name, err)
			}
		}
		if starts := sl.Descriptor.StartValues(slave.Input); len(starts) > 0 {
			if err := sl.Adapter.SetInputs(starts); err != nil {
				return nil, fmt.Errorf("set start values of %s: %w", sl.Name, err)
			}
		}
	}
	return m.engine.Propagate(m.engine.Outputs())
}

func (m *Master) terminate(ctx context.Context) {
	for _, sl := range m.slaves {
		if term, ok := sl.Adapter.(slave.Terminator); ok {
			if err := term.Terminate(); err != nil {
				ctxlog.FromContext(ctx).Warn("terminate failed", "slave", sl.Name, "err", err)
			}
		}
	}
}

func (m *Master) emit(t float64, f algorithm.Frame) error {
	if len(m.sinks) == 0 {
		return nil
	}
	row := make([]slave.Value, len(m.columns))
	for i, c := range m.columns {
		v, ok := f[c.SlaveIndex][c.Variable]
		if !ok {
			v = slave.Zero(c.Type)
		}
		row[i] = v
	}
	var errs []error
	for _, sink := range m.sinks {
		errs = append(errs, sink.Write(t, row))
	}
	return errors.Join(errs...)
}

func (m *Master) notify(t float64, att attempt) {
	if len(m.observers) == 0 {
		return
	}
	s := m.settings
	done := t
	if att.decision == stepsize.Accepted {
		done += att.h
	}
	ev := progress.Event{
		RunID:      m.runID,
		Time:       t,
		StepSize:   att.h,
		Iterations: append([]int(nil), att.outcome.Iterations...),
		Verdict:    att.outcome.Verdict,
		Decision:   att.decision,
		ErrorRatio: att.rho,
		Progress:   math.Min(1, (done-s.TStart)/(s.TEnd-s.TStart)),
	}
	if att.decision != stepsize.Accepted {
		ev.Cause = att.cause.String()
	}
	for _, o := range m.observers {
		o.OnStep(ev)
	}
}

// reached treats times within a relative 1e-10 of the end as the end.
func reached(t, tEnd float64) bool {
	return t >= tEnd-1e-10*math.Max(1, math.Abs(tEnd))
}
