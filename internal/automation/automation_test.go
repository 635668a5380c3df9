package automation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/mastersim/internal/automation"
	"github.com/san-kum/mastersim/internal/config"
	"github.com/san-kum/mastersim/internal/models"
)

func TestParseTarget(t *testing.T) {
	s, p, err := automation.ParseTarget("k.k")
	require.NoError(t, err)
	assert.Equal(t, "k", s)
	assert.Equal(t, "k", p)

	for _, bad := range []string{"k", ".k", "k.", ""} {
		_, _, err := automation.ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestValues(t *testing.T) {
	sw := automation.ParameterSweep{Min: 1, Max: 2, Steps: 5}
	assert.InDeltaSlice(t, []float64{1, 1.25, 1.5, 1.75, 2}, sw.Values(), 1e-12)

	sw.Steps = 1
	assert.Equal(t, []float64{1}, sw.Values())
}

func TestRunSweepFeedbackGain(t *testing.T) {
	p := config.GetPreset("feedback")
	sweep := automation.ParameterSweep{Slave: "k", Param: "k", Min: 1, Max: 3, Steps: 3, Workers: 2}

	results, err := automation.RunSweep(context.Background(), p, models.NewRegistry(), sweep)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Zero(t, automation.Failed(results))

	for i, r := range results {
		assert.InDelta(t, float64(i+1), r.Value, 1e-12)
		assert.InDelta(t, 5, r.Time, 1e-9)
		assert.Positive(t, r.StepsAccepted)
		assert.Contains(t, r.Final, "x.x")
	}
	// a stronger feedback gain decays faster
	assert.Greater(t, results[0].Final["x.x"], results[1].Final["x.x"])
	assert.Greater(t, results[1].Final["x.x"], results[2].Final["x.x"])

	// the preset itself is untouched
	assert.Equal(t, 2.0, p.Slaves[1].Params["k"])

	best, err := automation.Best(results, func(r automation.SweepResult) float64 { return r.Final["x.x"] })
	require.NoError(t, err)
	assert.Equal(t, 3.0, best.Value)
}

func TestRunSweepRejectsSetup(t *testing.T) {
	p := config.GetPreset("feedback")
	reg := models.NewRegistry()

	_, err := automation.RunSweep(context.Background(), p, reg, automation.ParameterSweep{Slave: "z", Param: "k", Steps: 2})
	assert.ErrorContains(t, err, "unknown slave")

	_, err = automation.RunSweep(context.Background(), p, reg, automation.ParameterSweep{Slave: "k", Param: "k", Steps: 0})
	assert.Error(t, err)

	// unknown parameters fail while building the project
	_, err = automation.RunSweep(context.Background(), p, reg, automation.ParameterSweep{Slave: "k", Param: "gain", Min: 1, Max: 2, Steps: 2})
	assert.Error(t, err)
}

func TestBestWithoutResults(t *testing.T) {
	_, err := automation.Best(nil, func(automation.SweepResult) float64 { return 0 })
	assert.ErrorIs(t, err, automation.ErrNoResults)
}
