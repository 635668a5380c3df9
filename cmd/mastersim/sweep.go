package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/mastersim/internal/automation"
	"github.com/san-kum/mastersim/internal/ctxlog"
	"github.com/san-kum/mastersim/internal/models"
)

func runSweep(cmd *cobra.Command, args []string) error {
	p, name, err := loadProject(args)
	if err != nil {
		return err
	}
	applyOverrides(cmd, &p.Simulation)

	slaveName, param, err := automation.ParseTarget(sweepParam)
	if err != nil {
		return err
	}
	sweep := automation.ParameterSweep{
		Slave:   slaveName,
		Param:   param,
		Min:     sweepFrom,
		Max:     sweepTo,
		Steps:   sweepSteps,
		Workers: sweepWorkers,
	}

	ctxlog.FromContext(cmd.Context()).Info("starting sweep", "project", name, "param", sweepParam, "values", sweepSteps)
	results, err := automation.RunSweep(cmd.Context(), p, models.NewRegistry(), sweep)
	if err != nil {
		return err
	}

	var outputs []string
	for _, r := range results {
		for k := range r.Final {
			if !slices.Contains(outputs, k) {
				outputs = append(outputs, k)
			}
		}
	}
	slices.Sort(outputs)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprint(w, sweepParam, "\tt\taccepted\trejected")
	for _, o := range outputs {
		fmt.Fprint(w, "\t", o)
	}
	fmt.Fprintln(w, "\tstatus")
	for _, r := range results {
		fmt.Fprintf(w, "%g\t%g\t%d\t%d", r.Value, r.Time, r.StepsAccepted, r.StepsRejected)
		for _, o := range outputs {
			if v, ok := r.Final[o]; ok {
				fmt.Fprintf(w, "\t%.6g", v)
			} else {
				fmt.Fprint(w, "\t-")
			}
		}
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "\t%s\n", status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if n := automation.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d runs failed", n, len(results))
	}
	return nil
}
