package algorithm

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/mastersim/internal/ctxlog"
	"github.com/san-kum/mastersim/internal/graph"
	"github.com/san-kum/mastersim/internal/slave"
)

// Engine executes macro steps over a fixed cycle order. It is built once
// per run; structural changes to the graph require a new Engine.
type Engine struct {
	slaves   []*slave.Slave
	cycles   []graph.Cycle
	incoming [][]graph.Link
	levels   [][]int
	settings Settings
}

func New(g *graph.Graph, settings Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	cycles, err := g.Cycles()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		slaves:   g.Slaves(),
		cycles:   cycles,
		incoming: g.Incoming(),
		settings: settings,
	}
	for _, s := range e.slaves {
		if s.Adapter == nil {
			return nil, fmt.Errorf("slave %s has no runtime adapter", s.Name)
		}
	}
	byLevel := make(map[int][]int)
	maxLevel := -1
	for i, c := range cycles {
		byLevel[c.Level] = append(byLevel[c.Level], i)
		maxLevel = max(maxLevel, c.Level)
	}
	for l := 0; l <= maxLevel; l++ {
		e.levels = append(e.levels, byLevel[l])
	}
	return e, nil
}

func (e *Engine) Cycles() []graph.Cycle {
	return e.cycles
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// Save checkpoints every slave.
func (e *Engine) Save() (Checkpoints, error) {
	cp := make(Checkpoints, len(e.slaves))
	for i, s := range e.slaves {
		c, err := s.Adapter.SaveState()
		if err != nil {
			return nil, &CheckpointError{Slave: s.Name, Op: "save", Err: err}
		}
		cp[i] = c
	}
	return cp, nil
}

// Restore rolls every slave back to cp.
func (e *Engine) Restore(cp Checkpoints) error {
	for i := range e.slaves {
		if err := e.restore(i, cp); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) restore(i int, cp Checkpoints) error {
	s := e.slaves[i]
	if err := s.Adapter.RestoreState(cp[i]); err != nil {
		return &CheckpointError{Slave: s.Name, Op: "restore", Err: err}
	}
	return nil
}

// Outputs reads the current outputs of every slave.
func (e *Engine) Outputs() Frame {
	f := make(Frame, len(e.slaves))
	for i, s := range e.slaves {
		f[i] = s.Adapter.Outputs()
	}
	return f
}

// Propagate pushes connected values through the cycle order once without
// stepping, so that direct-feedthrough outputs reflect their initial inputs.
func (e *Engine) Propagate(f Frame) (Frame, error) {
	next := f.Clone()
	read := func(i int) slave.Values { return next[i] }
	for _, c := range e.cycles {
		for _, i := range c.Slaves {
			in := e.inputs(i, read)
			if len(in) > 0 {
				if err := e.slaves[i].Adapter.SetInputs(in); err != nil {
					return nil, fmt.Errorf("set inputs of %s: %w", e.slaves[i].Name, err)
				}
			}
			next[i] = e.slaves[i].Adapter.Outputs()
		}
	}
	return next, nil
}

type cycleResult struct {
	iterations int
	converged  bool
	rejectedBy string
	reason     string
}

// Step advances all slaves from t to t+h. yt holds the outputs at t and
// start the checkpoints taken at t. A Diverged or Rejected outcome leaves
// every slave restored to start; a fatal slave error is returned as
// *SlaveFatalError with no rollback.
//
// Under Gauss-Jacobi every slave reads its inputs from yt, across all
// cycles, and each cycle is evaluated once.
func (e *Engine) Step(ctx context.Context, t, h float64, yt Frame, start Checkpoints) (*Outcome, error) {
	maxIter := e.settings.MaxIterations
	if h < e.settings.FallbackLimit {
		maxIter = 1
	}

	next := yt.Clone()
	src := next
	if e.settings.Kind == GaussJacobi {
		src = yt.Clone()
		maxIter = 1
	}
	results := make([]cycleResult, len(e.cycles))

	var err error
	if e.settings.Parallel {
		err = e.stepParallel(t, h, src, next, start, maxIter, results)
	} else {
		err = e.stepSequential(t, h, src, next, start, maxIter, results)
	}
	if err != nil {
		return nil, err
	}

	out := &Outcome{Verdict: Converged, Iterations: make([]int, len(e.cycles))}
	for ci, r := range results {
		out.Iterations[ci] = r.iterations
		if r.rejectedBy != "" && out.Verdict != Rejected {
			out.Verdict = Rejected
			out.Slave = r.rejectedBy
			out.Reason = r.reason
		}
		if r.iterations > 0 && !r.converged && r.rejectedBy == "" {
			out.Failed = append(out.Failed, ci)
		}
	}
	if out.Verdict == Converged && len(out.Failed) > 0 {
		out.Verdict = Diverged
	}

	log := ctxlog.FromContext(ctx)
	if out.Verdict != Converged {
		log.Debug("step attempt rolled back", "t", t, "h", h, "verdict", out.Verdict, "failed_cycles", out.Failed, "slave", out.Slave)
		if err := e.Restore(start); err != nil {
			return nil, err
		}
		return out, nil
	}
	out.Outputs = next
	return out, nil
}

func (e *Engine) stepSequential(t, h float64, src, next Frame, start Checkpoints, maxIter int, results []cycleResult) error {
	for ci, c := range e.cycles {
		r, err := e.stepCycle(t, h, c, src, next, start, maxIter)
		if err != nil {
			return err
		}
		results[ci] = r
		if r.rejectedBy != "" {
			return nil
		}
	}
	return nil
}

// stepParallel runs the cycles of each level concurrently. Cycles of one
// level write disjoint entries of next and only read entries finished in
// earlier levels or owned by themselves.
func (e *Engine) stepParallel(t, h float64, src, next Frame, start Checkpoints, maxIter int, results []cycleResult) error {
	for _, level := range e.levels {
		var g errgroup.Group
		for _, ci := range level {
			g.Go(func() error {
				r, err := e.stepCycle(t, h, e.cycles[ci], src, next, start, maxIter)
				if err != nil {
					return err
				}
				results[ci] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, ci := range level {
			if results[ci].rejectedBy != "" {
				return nil
			}
		}
	}
	return nil
}

// stepCycle steps the slaves of c. Inputs are read from src, which is next
// itself under Gauss-Seidel and the frame at t under Gauss-Jacobi.
func (e *Engine) stepCycle(t, h float64, c graph.Cycle, src, next Frame, start Checkpoints, maxIter int) (cycleResult, error) {
	read := func(j int) slave.Values { return src[j] }
	if c.Trivial() {
		i := c.Slaves[0]
		rej, err := e.stepSlave(t, h, i, e.inputs(i, read), next)
		if err != nil || rej != nil {
			return rejectedResult(1, rej), err
		}
		return cycleResult{iterations: 1, converged: true}, nil
	}

	prev := e.inletVector(c, next)
	for it := 1; ; it++ {
		if it > 1 {
			for _, i := range c.Slaves {
				if err := e.restore(i, start); err != nil {
					return cycleResult{}, err
				}
			}
		}

		for _, i := range c.Slaves {
			rej, err := e.stepSlave(t, h, i, e.inputs(i, read), next)
			if err != nil || rej != nil {
				return rejectedResult(it, rej), err
			}
		}

		cur := e.inletVector(c, next)
		if maxIter <= 1 || converged(prev, cur, e.settings.AbsTol, e.settings.RelTol) {
			return cycleResult{iterations: it, converged: true}, nil
		}
		if it >= maxIter {
			return cycleResult{iterations: it}, nil
		}
		prev = cur
	}
}

type rejection struct {
	slave  string
	reason string
}

func rejectedResult(it int, rej *rejection) cycleResult {
	r := cycleResult{iterations: it}
	if rej != nil {
		r.rejectedBy = rej.slave
		r.reason = rej.reason
	}
	return r
}

// stepSlave pushes inputs, steps slave i and stores its outputs in next.
func (e *Engine) stepSlave(t, h float64, i int, in slave.Values, next Frame) (*rejection, error) {
	s := e.slaves[i]
	if len(in) > 0 {
		if err := s.Adapter.SetInputs(in); err != nil {
			return nil, &SlaveFatalError{Slave: s.Name, Time: t, Reason: "set inputs: " + err.Error()}
		}
	}
	res := s.Adapter.DoStep(t, h)
	switch res.Status {
	case slave.StepSuccess:
	case slave.StepRejected:
		return &rejection{slave: s.Name, reason: res.Reason}, nil
	default:
		return nil, &SlaveFatalError{Slave: s.Name, Time: t, Reason: res.Reason}
	}
	next[i] = s.Adapter.Outputs()
	return nil, nil
}

// inputs computes the inlet values of slave i from connected outlets.
// Outlets missing from the source frame leave the inlet untouched.
func (e *Engine) inputs(i int, read func(int) slave.Values) slave.Values {
	links := e.incoming[i]
	if len(links) == 0 {
		return nil
	}
	in := make(slave.Values, len(links))
	for _, l := range links {
		v, ok := read(l.From)[l.Outlet]
		if !ok {
			continue
		}
		in[l.Inlet] = l.Transform.Apply(v)
	}
	return in
}

// inletVector lists the current inlet values of a cycle in a fixed order.
func (e *Engine) inletVector(c graph.Cycle, f Frame) []slave.Value {
	var vec []slave.Value
	read := func(j int) slave.Values { return f[j] }
	for _, i := range c.Slaves {
		in := e.inputs(i, read)
		names := make([]string, 0, len(in))
		for n := range in {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			vec = append(vec, in[n])
		}
	}
	return vec
}

// converged applies |a-b| <= absTol + relTol*|b| to every numeric
// component; strings must match exactly.
func converged(prev, cur []slave.Value, absTol, relTol float64) bool {
	if len(prev) != len(cur) {
		return false
	}
	for i := range cur {
		if cur[i].Type == slave.String || prev[i].Type == slave.String {
			if !prev[i].Equal(cur[i]) {
				return false
			}
			continue
		}
		a, b := prev[i].Float(), cur[i].Float()
		if math.IsNaN(a) || math.IsNaN(b) {
			return false
		}
		if math.Abs(b-a) > absTol+relTol*math.Abs(b) {
			return false
		}
	}
	return true
}
