package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/mastersim/internal/export"
	"github.com/san-kum/mastersim/internal/storage"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tTIME\tINTERVAL\tMODE\tALGORITHM\tSTATUS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t[%g, %g]\t%s\t%s\t%s\n",
			run.ID,
			run.Project,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.TStart, run.TEnd,
			run.StepMode,
			run.Algorithm,
			run.Status,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	res, err := st.LoadResults(runID)
	if err != nil {
		return err
	}
	if len(res.Times) == 0 {
		return fmt.Errorf("no data to plot")
	}

	columns := selectColumns(res)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run: %s\n", meta.ID)
	fmt.Fprintf(out, "project: %s (%s)\n", meta.Project, meta.Status)
	fmt.Fprintf(out, "samples: %d, t in [%g, %g]\n\n", len(res.Times), res.Times[0], res.Times[len(res.Times)-1])

	for _, name := range columns {
		data, err := res.Series(name)
		if err != nil {
			return err
		}
		data = finite(data)
		if len(data) == 0 {
			fmt.Fprintf(out, "%s: no numeric data\n\n", name)
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(plotHeight),
			asciigraph.Width(plotWidth),
			asciigraph.Caption(name),
		)
		fmt.Fprintln(out, graph)
		fmt.Fprintln(out)
	}
	return nil
}

func finite(data []float64) []float64 {
	out := data[:0:0]
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if _, err := st.Load(args[0]); err != nil {
		return err
	}
	f, err := st.OpenResults(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(cmd.OutOrStdout(), f)
	return err
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	res, err := st.LoadResults(args[0])
	if err != nil {
		return err
	}
	return storage.ExportJSON(cmd.OutOrStdout(), *meta, res)
}

// selectColumns returns --columns, or the first six result columns.
func selectColumns(res *storage.Results) []string {
	if len(plotColumns) > 0 {
		return plotColumns
	}
	columns := res.Columns
	if len(columns) > 6 {
		columns = columns[:6]
	}
	return columns
}

func exportSVG(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	res, err := st.LoadResults(args[0])
	if err != nil {
		return err
	}
	series, err := export.FromResults(res, selectColumns(res))
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if svgOut != "" {
		f, err := os.Create(svgOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.SVG(w, series, plotWidth, plotHeight)
}
