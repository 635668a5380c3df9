package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/mastersim/internal/config"
	"github.com/san-kum/mastersim/internal/graph"
	"github.com/san-kum/mastersim/internal/models"
)

func buildProject(path string) (*config.Project, *graph.Graph, error) {
	p, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load project: %w", err)
	}
	g, _, err := config.Build(p, models.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	return p, g, nil
}

func validateProject(cmd *cobra.Command, args []string) error {
	_, g, err := buildProject(args[0])
	if err != nil {
		return err
	}
	cycles, err := g.Cycles()
	if err != nil {
		return err
	}
	feedback := 0
	for _, c := range cycles {
		if c.Feedback {
			feedback++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d slaves, %d connections, %d cycles (%d with feedback)\n",
		g.Len(), len(g.Connections()), len(cycles), feedback)
	return nil
}

func printCycles(cmd *cobra.Command, args []string) error {
	_, g, err := buildProject(args[0])
	if err != nil {
		return err
	}
	cycles, err := g.Cycles()
	if err != nil {
		return err
	}
	slaves := g.Slaves()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CYCLE\tLEVEL\tKIND\tSLAVES")
	for _, c := range cycles {
		names := make([]string, len(c.Slaves))
		for i, idx := range c.Slaves {
			names[i] = slaves[idx].Name
		}
		kind := "acyclic"
		if c.Feedback {
			kind = "iterated"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", c.Index, c.Level, kind, strings.Join(names, ", "))
	}
	return w.Flush()
}

func autoConnect(cmd *cobra.Command, args []string) error {
	p, g, err := buildProject(args[0])
	if err != nil {
		return err
	}
	for _, name := range append(append([]string(nil), leftSlaves...), rightSlaves...) {
		if _, ok := g.Slave(name); !ok {
			return fmt.Errorf("unknown slave: %s", name)
		}
	}

	rep := g.AutoConnect(leftSlaves, rightSlaves)
	out := cmd.OutOrStdout()
	for _, c := range rep.Proposed {
		fmt.Fprintf(out, "  %s\n", c)
	}
	fmt.Fprintf(out, "%d proposed, %d type or unit mismatches, %d inlets already connected\n",
		len(rep.Proposed), rep.Rejected, rep.Occupied)

	if !writeBack || len(rep.Proposed) == 0 {
		return nil
	}
	if err := g.Apply(rep); err != nil {
		return err
	}
	for _, c := range rep.Proposed {
		p.Connections = append(p.Connections, config.Connection{From: c.From.String(), To: c.To.String()})
	}
	if err := config.Save(args[0], p); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", args[0])
	return nil
}

func listSlaveTypes(cmd *cobra.Command, args []string) error {
	reg := models.NewRegistry()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tDESCRIPTION")
	for _, name := range reg.List() {
		fmt.Fprintf(w, "%s\t%s\n", name, reg.Summary(name))
	}
	return w.Flush()
}

func showPresets(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, name := range config.ListPresets() {
			p := config.GetPreset(name)
			fmt.Fprintf(out, "  %-10s %d slaves, %s, t_end=%g\n", name, len(p.Slaves), p.Simulation.StepMode, p.Simulation.TEnd)
		}
		return nil
	}
	p := config.GetPreset(args[0])
	if p == nil {
		return fmt.Errorf("unknown preset: %s", args[0])
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
