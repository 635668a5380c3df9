package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/san-kum/mastersim/internal/config"
	"github.com/san-kum/mastersim/internal/ctxlog"
	"github.com/san-kum/mastersim/internal/master"
	"github.com/san-kum/mastersim/internal/metrics"
	"github.com/san-kum/mastersim/internal/models"
	"github.com/san-kum/mastersim/internal/monitor"
	"github.com/san-kum/mastersim/internal/progress"
	"github.com/san-kum/mastersim/internal/storage"
)

func runProject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := ctxlog.FromContext(ctx)

	p, name, err := loadProject(args)
	if err != nil {
		return err
	}
	applyOverrides(cmd, &p.Simulation)

	g, settings, err := config.Build(p, models.NewRegistry())
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID := uuid.Must(uuid.NewV7()).String()
	writer, err := st.Create(storage.RunMetadata{
		ID:        runID,
		Project:   name,
		Timestamp: time.Now(),
		TStart:    settings.TStart,
		TEnd:      settings.TEnd,
		StepMode:  settings.StepSize.Mode.String(),
		Algorithm: settings.Algorithm.Kind.String(),
	})
	if err != nil {
		return err
	}

	stats := metrics.Default()
	opts := []master.Option{master.WithRunID(runID), master.WithSink(writer), master.WithObserver(stats)}

	var db *storage.SQLite
	if sqlitePath != "" {
		db, err = storage.OpenSQLite(sqlitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, master.WithSink(db))
	}

	if metricsAddr != "" {
		shutdown, err := serveMetrics(ctx, &opts)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var events *progress.Channel
	if useTUI {
		events = progress.NewChannel(1024)
		opts = append(opts, master.WithObserver(events))
	}

	m, err := master.New(g, settings, opts...)
	if err != nil {
		return err
	}

	log.Info("starting run", "project", name, "run", runID, "slaves", g.Len(), "cycles", len(m.Cycles()))

	var res *master.Result
	var runErr error
	if events == nil {
		res, runErr = m.Run(ctx)
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			defer events.Close()
			res, runErr = m.Run(egCtx)
			return nil
		})
		eg.Go(func() error {
			_, err := monitor.Run(egCtx, monitor.New(name, events.Events(), m.Stop))
			return err
		})
		if err := eg.Wait(); err != nil {
			log.Warn("monitor failed", "err", err)
		}
	}

	if res == nil {
		return runErr
	}
	status := storage.StatusCompleted
	switch {
	case runErr != nil:
		status = storage.StatusFailed
	case res.Stopped:
		status = storage.StatusStopped
	}
	values := stats.Values()
	values["steps_accepted"] = float64(res.StepsAccepted)
	values["steps_rejected"] = float64(res.StepsRejected)
	values["iterations"] = float64(res.Iterations)
	if err := writer.Finish(status, runErr, values); err != nil {
		log.Error("failed to finalize run", "run", runID, "err", err)
	}
	if db != nil {
		if err := db.Finish(status, runErr); err != nil {
			log.Error("failed to finalize sqlite run", "run", runID, "err", err)
		}
	}

	printSummary(cmd, runID, res, values)
	return runErr
}

func printSummary(cmd *cobra.Command, runID string, res *master.Result, values map[string]float64) {
	pr := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run id: %s\n", runID)
	fmt.Fprintf(out, "reached t=%g of %g in %v\n", res.Time, res.TEnd, res.Elapsed.Round(time.Millisecond))
	pr.Fprintf(out, "steps: %d accepted, %d rejected, %d iterations\n", res.StepsAccepted, res.StepsRejected, res.Iterations)
	pr.Fprintf(out, "output rows: %d\n", res.OutputRows)
	if res.StepsAccepted > 0 {
		fmt.Fprintf(out, "step size: min %.4g, max %.4g, last %.4g\n", res.MinStepSize, res.MaxStepSize, res.LastStepSize)
	}
	fmt.Fprintln(out, "\nmetrics:")
	for _, name := range metrics.Default().Names() {
		fmt.Fprintf(out, "  %s: %.6f\n", name, values[name])
	}
}

// serveMetrics exposes a fresh registry on --metrics-addr for the duration
// of the run and adds its collector to opts.
func serveMetrics(ctx context.Context, opts *[]master.Option) (func(), error) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector()
	if err := c.Register(reg); err != nil {
		return nil, err
	}
	*opts = append(*opts, master.WithObserver(c))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := ctxlog.FromContext(ctx)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", metricsAddr, "err", err)
		}
	}()
	log.Info("serving metrics", "addr", metricsAddr)

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}, nil
}
