package graph

import (
	"errors"

	"github.com/san-kum/mastersim/internal/slave"
)

// AutoConnectReport lists the connections proposed by AutoConnect and what
// was skipped.
type AutoConnectReport struct {
	Proposed []Connection
	// Rejected counts name matches whose type or unit differ.
	Rejected int
	// Occupied counts name matches whose inlet is already connected.
	Occupied int
}

// AutoConnect pairs outlets of one set with same-named inlets of the other,
// in both directions. Only exact (name, type, unit) matches are proposed;
// connected inlets are never touched. The graph is not modified.
func (g *Graph) AutoConnect(left, right []string) AutoConnectReport {
	var rep AutoConnectReport
	taken := make(map[VarRef]bool)
	g.autoConnect(left, right, &rep, taken)
	g.autoConnect(right, left, &rep, taken)
	return rep
}

func (g *Graph) autoConnect(sources, targets []string, rep *AutoConnectReport, taken map[VarRef]bool) {
	for _, src := range sources {
		from, ok := g.Slave(src)
		if !ok {
			continue
		}
		for _, out := range from.Descriptor.Outputs() {
			for _, dst := range targets {
				if dst == src {
					continue
				}
				to, ok := g.Slave(dst)
				if !ok {
					continue
				}
				in, ok := to.Descriptor.Lookup(out.Name)
				if !ok || in.Causality != slave.Input {
					continue
				}
				ref := VarRef{Slave: dst, Variable: in.Name}
				if _, connected := g.inlets[ref]; connected || taken[ref] {
					rep.Occupied++
					continue
				}
				if in.Type != out.Type || in.Unit != out.Unit {
					rep.Rejected++
					continue
				}
				taken[ref] = true
				rep.Proposed = append(rep.Proposed, Connection{
					From:      VarRef{Slave: src, Variable: out.Name},
					To:        ref,
					Transform: Identity(),
				})
			}
		}
	}
}

// Apply adds every proposed connection and returns the joined errors of
// those that failed.
func (g *Graph) Apply(rep AutoConnectReport) error {
	var errs []error
	for _, c := range rep.Proposed {
		if err := g.AddConnection(c.From, c.To, c.Transform); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
