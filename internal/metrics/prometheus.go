package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/mastersim/internal/progress"
)

// Collector exports progress events as Prometheus metrics.
type Collector struct {
	attempts   *prometheus.CounterVec
	iterations prometheus.Counter
	stepSize   prometheus.Histogram
	errorRatio prometheus.Gauge
	simTime    prometheus.Gauge
	progress   prometheus.Gauge
}

func NewCollector() *Collector {
	return &Collector{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mastersim_step_attempts_total",
				Help: "Number of step attempts by decision.",
			},
			[]string{"decision"},
		),
		iterations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mastersim_iterations_total",
				Help: "Total number of coupling iterations over all cycles.",
			},
		),
		stepSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mastersim_step_size_seconds",
				Help:    "Size of accepted macro steps in simulation seconds.",
				Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
			},
		),
		errorRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mastersim_error_ratio",
				Help: "Error ratio of the last attempt that estimated one.",
			},
		),
		simTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mastersim_simulation_time_seconds",
				Help: "Simulation time reached by the run.",
			},
		),
		progress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mastersim_progress_ratio",
				Help: "Fraction of the simulated interval completed.",
			},
		),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{c.attempts, c.iterations, c.stepSize, c.errorRatio, c.simTime, c.progress} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) OnStep(e progress.Event) {
	c.attempts.WithLabelValues(e.Decision.String()).Inc()
	for _, n := range e.Iterations {
		c.iterations.Add(float64(n))
	}
	if !math.IsNaN(e.ErrorRatio) {
		c.errorRatio.Set(e.ErrorRatio)
	}
	if e.Accepted() {
		c.stepSize.Observe(e.StepSize)
		c.simTime.Set(e.Time + e.StepSize)
	}
	c.progress.Set(e.Progress)
}
