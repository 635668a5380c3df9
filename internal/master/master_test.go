package master_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/graph"
	"github.com/san-kum/mastersim/internal/master"
	"github.com/san-kum/mastersim/internal/progress"
	"github.com/san-kum/mastersim/internal/slave"
	"github.com/san-kum/mastersim/internal/slave/slavetest"
	"github.com/san-kum/mastersim/internal/stepsize"
	"github.com/san-kum/mastersim/internal/storage"
)

type project struct {
	g     *graph.Graph
	mocks map[string]*slavetest.Mock
}

func newProject() *project {
	return &project{g: graph.New(), mocks: make(map[string]*slavetest.Mock)}
}

func (p *project) add(name string, m *slavetest.Mock, d slave.Descriptor) *project {
	Expect(p.g.AddSlave(&slave.Slave{Name: name, Descriptor: d, Adapter: m})).To(Succeed())
	p.mocks[name] = m
	return p
}

func (p *project) connect(from, to string) *project {
	f, err := graph.ParseRef(from)
	Expect(err).NotTo(HaveOccurred())
	t, err := graph.ParseRef(to)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.g.AddConnection(f, t, graph.Identity())).To(Succeed())
	return p
}

func vars(in, out string) slave.Descriptor {
	var ins, outs []string
	if in != "" {
		ins = []string{in}
	}
	if out != "" {
		outs = []string{out}
	}
	return slavetest.Descriptor(ins, outs)
}

type recorder struct {
	events []progress.Event
	hook   func(progress.Event)
}

func (r *recorder) OnStep(e progress.Event) {
	r.events = append(r.events, e)
	if r.hook != nil {
		r.hook(e)
	}
}

func (r *recorder) accepted() []progress.Event {
	var out []progress.Event
	for _, e := range r.events {
		if e.Accepted() {
			out = append(out, e)
		}
	}
	return out
}

var errFrozen = errors.New("state cannot be saved")

// frozen is a slave that steps normally but cannot checkpoint its state.
type frozen struct {
	*slavetest.Mock
}

func (frozen) SaveState() (slave.Checkpoint, error) {
	return nil, errFrozen
}

// rejectsBelow returns a slave that rejects every step shorter than minStep.
func rejectsBelow(minStep float64) *slavetest.Mock {
	return slavetest.New(func(m *slavetest.Mock, t, h float64) slave.StepResult {
		if h < minStep {
			return slave.Rejected("step too small")
		}
		return slave.Success()
	}, nil)
}

func fixedSettings(h, tEnd float64) master.Settings {
	s := master.DefaultSettings()
	s.TEnd = tEnd
	s.StepSize.InitialStep = h
	s.StepSize.MaxStep = h
	return s
}

var _ = Describe("Master", func() {
	var (
		p      *project
		events *recorder
		sink   *storage.Recorder
		ctx    context.Context
	)

	BeforeEach(func() {
		p = newProject()
		events = &recorder{}
		sink = storage.NewRecorder()
		ctx = context.Background()
	})

	run := func(s master.Settings) (*master.Result, error) {
		m, err := master.New(p.g, s, master.WithObserver(events), master.WithSink(sink), master.WithRunID("test-run"))
		Expect(err).NotTo(HaveOccurred())
		return m.Run(ctx)
	}

	Describe("an acyclic project", func() {
		BeforeEach(func() {
			p.add("src", slavetest.Source(1), vars("", "y")).
				add("acc", slavetest.Integrator(2), vars("u", "x")).
				add("other", slavetest.Integrator(0), vars("u", "x")).
				connect("src.y", "acc.u")
		})

		It("reaches the end time with one iteration per cycle and step", func() {
			res, err := run(fixedSettings(0.1, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Completed()).To(BeTrue())
			Expect(res.StepsAccepted).To(Equal(10))
			Expect(res.StepsRejected).To(BeZero())
			Expect(res.OutputRows).To(Equal(11))

			for _, e := range events.events {
				Expect(e.Iterations).To(HaveEach(1))
				Expect(math.IsNaN(e.ErrorRatio)).To(BeTrue())
			}

			last, ok := sink.Last()
			Expect(ok).To(BeTrue())
			x, ok := sink.Value("acc", "x", last)
			Expect(ok).To(BeTrue())
			Expect(x.Real).To(BeNumerically("~", 3, 1e-9))
			Expect(sink.RunID()).To(Equal("test-run"))
		})

		It("initializes and terminates every slave", func() {
			_, err := run(fixedSettings(0.5, 1))
			Expect(err).NotTo(HaveOccurred())
			for name, m := range p.mocks {
				Expect(m.Inits).To(Equal(1), name)
				Expect(m.Terms).To(Equal(1), name)
			}
		})

		It("throttles output rows by the minimum output step", func() {
			s := fixedSettings(0.1, 1)
			s.MinOutputStep = 0.25
			res, err := run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.OutputRows).To(Equal(5))
			times := sink.Times()
			Expect(times).To(HaveLen(5))
			Expect(times[len(times)-1]).To(BeNumerically("~", 1, 1e-9))
		})

		It("shortens the last step unless overstepping is allowed", func() {
			s := fixedSettings(0.3, 1)
			res, err := run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Time).To(BeNumerically("~", 1, 1e-12))
			Expect(res.LastStepSize).To(BeNumerically("~", 0.1, 1e-12))

			p = newProject()
			p.add("src", slavetest.Source(1), vars("", "y"))
			s.PreventOverstep = false
			res, err = run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Time).To(BeNumerically("~", 1.2, 1e-12))
			Expect(res.StepsAccepted).To(Equal(4))
		})

		It("stops between macro steps when asked", func() {
			m, err := master.New(p.g, fixedSettings(0.1, 1), master.WithObserver(events), master.WithSink(sink))
			Expect(err).NotTo(HaveOccurred())
			events.hook = func(e progress.Event) {
				if len(events.accepted()) == 3 {
					m.Stop()
				}
			}
			res, err := m.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stopped).To(BeTrue())
			Expect(res.Completed()).To(BeFalse())
			Expect(res.StepsAccepted).To(Equal(3))
			Expect(p.mocks["acc"].Steps).To(HaveLen(3))
		})

		It("does not carry a stop request into the next run", func() {
			m, err := master.New(p.g, fixedSettings(0.1, 1), master.WithObserver(events))
			Expect(err).NotTo(HaveOccurred())
			events.hook = func(e progress.Event) {
				if len(events.accepted()) == 3 {
					m.Stop()
				}
			}
			res, err := m.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stopped).To(BeTrue())

			events.hook = nil
			res, err = m.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stopped).To(BeFalse())
			Expect(res.Completed()).To(BeTrue())
			Expect(res.StepsAccepted).To(Equal(10))
		})

		It("reports cancellation as a run failure", func() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(context.Background())
			defer cancel()
			events.hook = func(e progress.Event) {
				if len(events.accepted()) == 2 {
					cancel()
				}
			}
			res, err := run(fixedSettings(0.1, 1))
			Expect(master.IsCanceled(err)).To(BeTrue())
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(res.StepsAccepted).To(Equal(2))
		})

		It("delivers the outcome through Start", func() {
			m, err := master.New(p.g, fixedSettings(0.25, 1))
			Expect(err).NotTo(HaveOccurred())
			var done master.Completion
			Eventually(m.Start(ctx)).Should(Receive(&done))
			Expect(done.Err).NotTo(HaveOccurred())
			Expect(done.Result.StepsAccepted).To(Equal(4))
			Expect(m.RunID()).NotTo(BeEmpty())
		})
	})

	It("pushes start values of unconnected inputs before the first output", func() {
		d := vars("u", "y")
		d.Variables[0].Start = slave.RealValue(4)
		p.add("g", slavetest.Gain(2), d)

		_, err := run(fixedSettings(0.5, 1))
		Expect(err).NotTo(HaveOccurred())
		y, ok := sink.Value("g", "y", 0)
		Expect(ok).To(BeTrue())
		Expect(y.Real).To(Equal(8.0))
	})

	Describe("a feedback loop", func() {
		BeforeEach(func() {
			p.add("x", slavetest.Integrator(1), vars("u", "x")).
				add("k", slavetest.Gain(-1), vars("u", "y")).
				connect("x.x", "k.u").
				connect("k.y", "x.u")
		})

		It("runs exactly one pass per step when iteration is disabled", func() {
			s := fixedSettings(0.1, 1)
			s.Algorithm.MaxIterations = 1
			res, err := run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StepsAccepted).To(Equal(10))
			for _, e := range events.events {
				Expect(e.Iterations).To(Equal([]int{1}))
			}
			Expect(p.mocks["x"].Steps).To(HaveLen(10))
			Expect(p.mocks["k"].Steps).To(HaveLen(10))
		})

		It("recomputes the error ratio on every Richardson attempt", func() {
			s := master.DefaultSettings()
			s.TEnd = 2
			s.Algorithm.MaxIterations = 100
			s.Algorithm.AbsTol = 1e-12
			s.Algorithm.RelTol = 0
			s.StepSize.Mode = stepsize.Richardson
			s.StepSize.InitialStep = 0.5
			s.StepSize.MaxStep = 0.5
			s.StepSize.AbsTol = 1e-3
			s.StepSize.RelTol = 0

			res, err := run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Completed()).To(BeTrue())
			Expect(res.StepsRejected).To(BeNumerically(">=", 2))

			first := -1
			for i, e := range events.events {
				if e.Accepted() {
					first = i
					break
				}
			}
			Expect(first).To(BeNumerically(">=", 2))
			prev := math.Inf(1)
			for _, e := range events.events[:first] {
				Expect(e.Decision).To(Equal(stepsize.Rejected))
				Expect(e.Cause).To(Equal(stepsize.CauseError.String()))
				Expect(e.ErrorRatio).To(BeNumerically(">", 1))
				Expect(e.ErrorRatio).To(BeNumerically("<", prev))
				prev = e.ErrorRatio
			}
			Expect(events.events[first].ErrorRatio).To(BeNumerically("<=", 1))
			Expect(events.events[first].StepSize).To(BeNumerically("<", 0.5))

			largest := 0.0
			for _, e := range events.accepted() {
				largest = math.Max(largest, e.StepSize)
			}
			Expect(largest).To(BeNumerically(">", events.events[first].StepSize))
		})

		It("records the monitored error ratio without rejecting", func() {
			s := fixedSettings(0.5, 2)
			s.StepSize.Mode = stepsize.Monitor
			s.StepSize.AbsTol = 1e-3
			s.StepSize.RelTol = 0
			s.Algorithm.AbsTol = 1e-12
			s.Algorithm.RelTol = 0
			s.Algorithm.MaxIterations = 100
			res, err := run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StepsRejected).To(BeZero())
			Expect(res.StepsAccepted).To(Equal(4))
			for _, e := range events.events {
				Expect(e.ErrorRatio).To(BeNumerically(">", 1))
			}
		})

		It("keeps the full step when the monitoring half steps are rejected", func() {
			p.add("gate", rejectsBelow(0.09), vars("", ""))
			s := fixedSettings(0.1, 1)
			s.StepSize.Mode = stepsize.Monitor
			res, err := run(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Completed()).To(BeTrue())
			Expect(res.StepsRejected).To(BeZero())
			Expect(res.StepsAccepted).To(Equal(10))
			Expect(res.MinStepSize).To(BeNumerically(">", 0.09))
			for _, e := range events.events {
				Expect(e.Decision).To(Equal(stepsize.Accepted))
				Expect(math.IsNaN(e.ErrorRatio)).To(BeTrue())
			}

			fixed := newProject().
				add("x", slavetest.Integrator(1), vars("u", "x")).
				add("k", slavetest.Gain(-1), vars("u", "y")).
				add("gate", rejectsBelow(0.09), vars("", "")).
				connect("x.x", "k.u").
				connect("k.y", "x.u")
			m, err := master.New(fixed.g, fixedSettings(0.1, 1))
			Expect(err).NotTo(HaveOccurred())
			want, err := m.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(want.StepsAccepted).To(Equal(10))
			Expect(p.mocks["x"].State["x"]).To(BeNumerically("~", fixed.mocks["x"].State["x"], 1e-12))

			last, ok := sink.Last()
			Expect(ok).To(BeTrue())
			x, ok := sink.Value("x", "x", last)
			Expect(ok).To(BeTrue())
			Expect(x.Real).To(BeNumerically("~", p.mocks["x"].State["x"], 1e-12))
		})
	})

	Describe("a loop that never converges", func() {
		BeforeEach(func() {
			p.add("osc", slavetest.Oscillating(), vars("u", "y")).
				add("k", slavetest.Gain(1), vars("u", "y")).
				add("src", slavetest.Source(1), vars("", "y")).
				add("acc", slavetest.Integrator(5), vars("u", "x")).
				connect("osc.y", "k.u").
				connect("k.y", "osc.u").
				connect("src.y", "acc.u")
		})

		It("ends with a step size underflow and keeps partial results", func() {
			s := fixedSettings(0.1, 1)
			s.StepSize.MinStep = 1e-6
			s.Algorithm.MaxIterations = 4

			res, err := run(s)
			Expect(master.IsUnderflow(err)).To(BeTrue())

			var re *master.RunError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.Kind).To(Equal(master.KindStepSizeUnderflow))
			Expect(re.Cycle).To(Equal(0))
			Expect(re.Time).To(BeZero())

			var uf *stepsize.UnderflowError
			Expect(errors.As(err, &uf)).To(BeTrue())
			Expect(uf.StepSize).To(BeNumerically("<", 1e-6))

			Expect(res.StepsAccepted).To(BeZero())
			Expect(res.StepsRejected).To(Equal(17))
			Expect(sink.Times()).To(Equal([]float64{0}))

			acc := p.mocks["acc"]
			Expect(acc.Steps).To(HaveLen(17))
			Expect(acc.State["x"]).To(Equal(5.0), "every attempt is rolled back")
			for _, e := range events.events {
				Expect(e.Verdict).To(Equal(algorithm.Diverged))
			}
		})
	})

	It("aborts on a fatal slave without rolling back", func() {
		p.add("src", slavetest.Source(1), vars("", "y")).
			add("acc", slavetest.Integrator(0), vars("u", "x")).
			add("bad", slavetest.Failing(slave.StepFatal), vars("u", "y")).
			connect("src.y", "acc.u").
			connect("acc.x", "bad.u")

		res, err := run(fixedSettings(0.1, 1))
		Expect(master.IsSlaveFatal(err)).To(BeTrue())
		var re *master.RunError
		Expect(errors.As(err, &re)).To(BeTrue())
		Expect(re.Kind).To(Equal(master.KindSlaveFatal))
		Expect(re.Slave).To(Equal("bad"))
		Expect(res.StepsAccepted).To(BeZero())
		Expect(p.mocks["acc"].Restores).To(BeZero())
		Expect(p.mocks["bad"].Terms).To(Equal(1))
	})

	It("reports checkpoint failures apart from slave failures", func() {
		p.add("src", slavetest.Source(1), vars("", "y"))
		Expect(p.g.AddSlave(&slave.Slave{Name: "ice", Descriptor: vars("", ""), Adapter: frozen{slavetest.New(nil, nil)}})).To(Succeed())

		res, err := run(fixedSettings(0.1, 1))
		Expect(master.IsCheckpoint(err)).To(BeTrue())
		Expect(master.IsSlaveFatal(err)).To(BeFalse())
		Expect(errors.Is(err, errFrozen)).To(BeTrue())
		var re *master.RunError
		Expect(errors.As(err, &re)).To(BeTrue())
		Expect(re.Kind).To(Equal(master.KindCheckpoint))
		Expect(re.Slave).To(Equal("ice"))
		Expect(res.StepsAccepted).To(BeZero())
	})

	It("retries slave rejections at a smaller step", func() {
		calls := 0
		picky := slavetest.New(func(m *slavetest.Mock, t, h float64) slave.StepResult {
			calls++
			if h > 0.3 {
				return slave.Rejected("step too large")
			}
			return slave.Success()
		}, nil)
		p.add("picky", picky, vars("", ""))

		res, err := run(fixedSettings(0.5, 1))
		Expect(err).NotTo(HaveOccurred())
		// The final quarter fits without a retry.
		Expect(res.StepsRejected).To(Equal(3))
		Expect(res.StepsAccepted).To(Equal(4))
		Expect(events.events[0].Cause).To(Equal(stepsize.CauseSlave.String()))
		Expect(calls).To(Equal(7))
	})

	It("rejects invalid settings", func() {
		s := master.DefaultSettings()
		s.TEnd = s.TStart
		_, err := master.New(p.g, s)
		Expect(err).To(HaveOccurred())
	})
})
