package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/mastersim/internal/config"
	"github.com/san-kum/mastersim/internal/ctxlog"
)

var (
	dataDir   string
	logLevel  string
	logFormat string

	preset        string
	tEnd          float64
	stepMode      string
	algorithmName string
	maxIterations int
	initialStep   float64
	parallel      bool
	useTUI        bool
	sqlitePath    string
	metricsAddr   string

	leftSlaves  []string
	rightSlaves []string
	writeBack   bool

	plotColumns []string
	plotHeight  int
	plotWidth   int
	svgOut      string

	sweepParam   string
	sweepFrom    float64
	sweepTo      float64
	sweepSteps   int
	sweepWorkers int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mastersim",
		Short:         "co-simulation master",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := ctxlog.New(logLevel, logFormat, os.Stderr)
			slog.SetDefault(logger)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mastersim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run [project]",
		Short: "run a co-simulation project",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProject,
	}
	runCmd.Flags().StringVar(&preset, "preset", "", "run a built-in example project")
	runCmd.Flags().Float64Var(&tEnd, "t-end", config.DefaultTEnd, "end time")
	runCmd.Flags().StringVar(&stepMode, "step-mode", "fixed", "error control (fixed, monitor, richardson)")
	runCmd.Flags().StringVar(&algorithmName, "algorithm", "gauss-seidel", "coupling algorithm (gauss-seidel, gauss-jacobi)")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 10, "iteration limit per cycle")
	runCmd.Flags().Float64Var(&initialStep, "step", 0.01, "initial step size")
	runCmd.Flags().BoolVar(&parallel, "parallel", false, "step independent cycles concurrently")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show a terminal progress monitor")
	runCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "also write results to this SQLite database")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")

	validateCmd := &cobra.Command{
		Use:   "validate [project]",
		Short: "check a project and build its connection graph",
		Args:  cobra.ExactArgs(1),
		RunE:  validateProject,
	}

	cyclesCmd := &cobra.Command{
		Use:   "cycles [project]",
		Short: "print the cycle order of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  printCycles,
	}

	autoCmd := &cobra.Command{
		Use:   "autoconnect [project]",
		Short: "propose connections between same-named variables",
		Args:  cobra.ExactArgs(1),
		RunE:  autoConnect,
	}
	autoCmd.Flags().StringSliceVar(&leftSlaves, "left", nil, "first group of slaves")
	autoCmd.Flags().StringSliceVar(&rightSlaves, "right", nil, "second group of slaves")
	autoCmd.Flags().BoolVar(&writeBack, "write", false, "add the proposed connections to the project file")
	_ = autoCmd.MarkFlagRequired("left")
	_ = autoCmd.MarkFlagRequired("right")

	slavesCmd := &cobra.Command{
		Use:   "slaves",
		Short: "list built-in slave types",
		RunE:  listSlaveTypes,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list example projects, or print one as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&plotColumns, "columns", nil, "columns to plot (default: first six)")
	plotCmd.Flags().IntVar(&plotHeight, "height", 10, "plot height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run results as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata and results as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export run results as an SVG line plot",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringSliceVar(&plotColumns, "columns", nil, "columns to draw (default: first six)")
	exportSVGCmd.Flags().IntVar(&plotHeight, "height", 400, "image height")
	exportSVGCmd.Flags().IntVar(&plotWidth, "width", 800, "image width")
	exportSVGCmd.Flags().StringVarP(&svgOut, "output", "o", "", "write to this file instead of stdout")

	sweepCmd := &cobra.Command{
		Use:   "sweep [project]",
		Short: "run a project once per value of a slave parameter",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&preset, "preset", "", "sweep a built-in example project")
	sweepCmd.Flags().StringVar(&sweepParam, "param", "", "parameter to vary, as slave.param")
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 0, "first value")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 1, "last value")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 5, "number of values")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 4, "concurrent runs")
	sweepCmd.Flags().Float64Var(&tEnd, "t-end", config.DefaultTEnd, "end time")
	sweepCmd.Flags().StringVar(&stepMode, "step-mode", "fixed", "error control (fixed, monitor, richardson)")
	_ = sweepCmd.MarkFlagRequired("param")

	rootCmd.AddCommand(runCmd, validateCmd, cyclesCmd, autoCmd, slavesCmd, presetsCmd,
		listCmd, plotCmd, exportCSVCmd, exportJSONCmd, exportSVGCmd, sweepCmd)
	return rootCmd
}

// loadProject reads the project named by args, or the preset selected with
// --preset. It returns the project and a display name.
func loadProject(args []string) (*config.Project, string, error) {
	if preset != "" {
		if len(args) > 0 {
			return nil, "", fmt.Errorf("give either a project file or --preset, not both")
		}
		p := config.GetPreset(preset)
		if p == nil {
			return nil, "", fmt.Errorf("unknown preset: %s (available: %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
		return p, preset, nil
	}
	if len(args) == 0 {
		return nil, "", fmt.Errorf("no project file given")
	}
	p, err := config.Load(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to load project: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	return p, name, nil
}

// applyOverrides copies explicitly set run flags over the project file.
func applyOverrides(cmd *cobra.Command, sim *config.Simulation) {
	flags := cmd.Flags()
	if flags.Changed("t-end") {
		sim.TEnd = tEnd
	}
	if flags.Changed("step-mode") {
		sim.StepMode = stepMode
	}
	if flags.Changed("algorithm") {
		sim.Algorithm = algorithmName
	}
	if flags.Changed("max-iterations") {
		sim.MaxIterations = maxIterations
	}
	if flags.Changed("step") {
		sim.InitialStep = initialStep
		if sim.MaxStep < initialStep {
			sim.MaxStep = initialStep
		}
		if sim.MinStep > initialStep {
			sim.MinStep = initialStep
		}
	}
	if flags.Changed("parallel") {
		sim.Parallel = parallel
	}
}
