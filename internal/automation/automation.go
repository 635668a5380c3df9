// Package automation runs a project repeatedly over a range of slave
// parameter values.
package automation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/mastersim/internal/config"
	"github.com/san-kum/mastersim/internal/ctxlog"
	"github.com/san-kum/mastersim/internal/master"
	"github.com/san-kum/mastersim/internal/storage"
)

// ParameterSweep varies one slave parameter linearly from Min to Max.
type ParameterSweep struct {
	Slave   string
	Param   string
	Min     float64
	Max     float64
	Steps   int
	Workers int
}

// ParseTarget splits "slave.param".
func ParseTarget(s string) (string, string, error) {
	slave, param, ok := strings.Cut(s, ".")
	if !ok || slave == "" || param == "" {
		return "", "", fmt.Errorf("parameter must be given as slave.param, got %q", s)
	}
	return slave, param, nil
}

// Values returns the parameter values of the sweep.
func (s ParameterSweep) Values() []float64 {
	if s.Steps == 1 {
		return []float64{s.Min}
	}
	out := make([]float64, s.Steps)
	step := (s.Max - s.Min) / float64(s.Steps-1)
	for i := range out {
		out[i] = s.Min + float64(i)*step
	}
	out[len(out)-1] = s.Max
	return out
}

// SweepResult is the outcome of one run. Final maps "slave.variable" to
// the last output value. A failed run keeps what it produced and sets Err.
type SweepResult struct {
	Value         float64
	Time          float64
	StepsAccepted int
	StepsRejected int
	Iterations    int
	Final         map[string]float64
	Err           error
}

// RunSweep runs p once per sweep value. Runs that fail are reported in
// their result; only setup problems and cancellation end the sweep.
func RunSweep(ctx context.Context, p *config.Project, f config.Factory, sweep ParameterSweep) ([]SweepResult, error) {
	if sweep.Steps < 1 {
		return nil, fmt.Errorf("sweep needs at least one step, got %d", sweep.Steps)
	}
	found := false
	for _, s := range p.Slaves {
		if s.Name == sweep.Slave {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown slave: %s", sweep.Slave)
	}

	values := sweep.Values()
	results := make([]SweepResult, len(values))
	log := ctxlog.FromContext(ctx)

	g, ctx := errgroup.WithContext(ctx)
	if sweep.Workers > 0 {
		g.SetLimit(sweep.Workers)
	}
	for i, v := range values {
		g.Go(func() error {
			res, err := runOne(ctx, withParam(p, sweep.Slave, sweep.Param, v), f)
			if err != nil {
				return fmt.Errorf("%s.%s=%g: %w", sweep.Slave, sweep.Param, v, err)
			}
			res.Value = v
			results[i] = res
			log.Debug("sweep point done", "param", sweep.Slave+"."+sweep.Param, "value", v, "err", res.Err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runOne(ctx context.Context, p *config.Project, f config.Factory) (SweepResult, error) {
	g, settings, err := config.Build(p, f)
	if err != nil {
		return SweepResult{}, err
	}
	rec := storage.NewRecorder()
	m, err := master.New(g, settings, master.WithSink(rec))
	if err != nil {
		return SweepResult{}, err
	}

	res, runErr := m.Run(ctx)
	if master.IsCanceled(runErr) {
		return SweepResult{}, runErr
	}
	out := SweepResult{Err: runErr, Final: make(map[string]float64)}
	if res != nil {
		out.Time = res.Time
		out.StepsAccepted = res.StepsAccepted
		out.StepsRejected = res.StepsRejected
		out.Iterations = res.Iterations
	}
	if last, ok := rec.Last(); ok {
		for _, c := range rec.Columns() {
			if v, ok := rec.Value(c.Slave, c.Variable, last); ok {
				out.Final[c.Slave+"."+c.Variable] = v.Float()
			}
		}
	}
	return out, nil
}

// withParam copies p with one slave parameter replaced.
func withParam(p *config.Project, slave, param string, v float64) *config.Project {
	cp := *p
	cp.Slaves = make([]config.SlaveSpec, len(p.Slaves))
	for i, s := range p.Slaves {
		s.Params = maps.Clone(s.Params)
		s.Start = maps.Clone(s.Start)
		if s.Name == slave {
			if s.Params == nil {
				s.Params = make(map[string]float64)
			}
			s.Params[param] = v
		}
		cp.Slaves[i] = s
	}
	cp.Connections = append([]config.Connection(nil), p.Connections...)
	return &cp
}

// Failed counts results with a run error.
func Failed(results []SweepResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

var ErrNoResults = errors.New("automation: no results")

// Best returns the result minimising score over successful runs.
func Best(results []SweepResult, score func(SweepResult) float64) (SweepResult, error) {
	var best SweepResult
	found := false
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if !found || score(r) < score(best) {
			best = r
			found = true
		}
	}
	if !found {
		return SweepResult{}, ErrNoResults
	}
	return best, nil
}
