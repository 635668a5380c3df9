package graph

import (
	"fmt"
	"sort"

	"github.com/san-kum/mastersim/internal/slave"
)

// Graph holds the registered slaves and the connections between their
// variables. It caches the cycle order until the next structural change.
//
// Graph is not safe for concurrent mutation.
type Graph struct {
	slaves []*slave.Slave
	byName map[string]int
	conns  []Connection
	inlets map[VarRef]int

	cycles []Cycle
	valid  bool
}

func New() *Graph {
	return &Graph{
		byName: make(map[string]int),
		inlets: make(map[VarRef]int),
	}
}

// AddSlave registers s and assigns its index. The descriptor may still be
// empty and can be filled later with ResolveSlave.
func (g *Graph) AddSlave(s *slave.Slave) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("%w: slave needs a name", ErrUnknownReference)
	}
	if _, ok := g.byName[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSlave, s.Name)
	}
	s.Index = len(g.slaves)
	g.slaves = append(g.slaves, s)
	g.byName[s.Name] = s.Index
	g.invalidate()
	return nil
}

// ResolveSlave replaces the descriptor of a registered slave. Existing
// connections touching the slave are checked against d; if one no longer
// fits, the old descriptor is kept and the error is returned.
func (g *Graph) ResolveSlave(name string, d slave.Descriptor) error {
	s, ok := g.Slave(name)
	if !ok {
		return fmt.Errorf("%w: slave %s", ErrUnknownReference, name)
	}
	old := s.Descriptor
	s.Descriptor = d
	for _, c := range g.conns {
		if c.From.Slave != name && c.To.Slave != name {
			continue
		}
		if err := g.check(c.From, c.To, c.Transform); err != nil {
			s.Descriptor = old
			return err
		}
	}
	g.invalidate()
	return nil
}

// RemoveSlave drops a slave and every connection touching it. Remaining
// slaves keep their relative order and are re-indexed.
func (g *Graph) RemoveSlave(name string) error {
	idx, ok := g.byName[name]
	if !ok {
		return fmt.Errorf("%w: slave %s", ErrUnknownReference, name)
	}
	kept := g.conns[:0]
	for _, c := range g.conns {
		if c.From.Slave != name && c.To.Slave != name {
			kept = append(kept, c)
		}
	}
	g.conns = kept
	g.slaves = append(g.slaves[:idx], g.slaves[idx+1:]...)
	g.byName = make(map[string]int, len(g.slaves))
	for i, s := range g.slaves {
		s.Index = i
		g.byName[s.Name] = i
	}
	g.reindexInlets()
	g.invalidate()
	return nil
}

func (g *Graph) Slave(name string) (*slave.Slave, bool) {
	idx, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.slaves[idx], true
}

// Slaves returns the slaves in registration order.
func (g *Graph) Slaves() []*slave.Slave {
	out := make([]*slave.Slave, len(g.slaves))
	copy(out, g.slaves)
	return out
}

func (g *Graph) Len() int {
	return len(g.slaves)
}

func (g *Graph) Connections() []Connection {
	out := make([]Connection, len(g.conns))
	copy(out, g.conns)
	return out
}

func (g *Graph) InletConnection(to VarRef) (Connection, bool) {
	i, ok := g.inlets[to]
	if !ok {
		return Connection{}, false
	}
	return g.conns[i], true
}

// AddConnection connects outlet from to inlet to. A failed call leaves the
// graph unchanged.
func (g *Graph) AddConnection(from, to VarRef, tr Transform) error {
	if err := g.check(from, to, tr); err != nil {
		return err
	}
	if _, ok := g.inlets[to]; ok {
		return connErr(from, to, ErrInletOccupied, "")
	}
	g.inlets[to] = len(g.conns)
	g.conns = append(g.conns, Connection{From: from, To: to, Transform: tr})
	g.invalidate()
	return nil
}

// ReplaceConnection installs a connection to an inlet whether or not it is
// already occupied.
func (g *Graph) ReplaceConnection(from, to VarRef, tr Transform) error {
	if err := g.check(from, to, tr); err != nil {
		return err
	}
	if i, ok := g.inlets[to]; ok {
		g.conns[i] = Connection{From: from, To: to, Transform: tr}
	} else {
		g.inlets[to] = len(g.conns)
		g.conns = append(g.conns, Connection{From: from, To: to, Transform: tr})
	}
	g.invalidate()
	return nil
}

// RemoveConnection disconnects the inlet and reports whether it was connected.
func (g *Graph) RemoveConnection(to VarRef) bool {
	i, ok := g.inlets[to]
	if !ok {
		return false
	}
	g.conns = append(g.conns[:i], g.conns[i+1:]...)
	g.reindexInlets()
	g.invalidate()
	return true
}

func (g *Graph) check(from, to VarRef, tr Transform) error {
	out, err := g.lookup(from)
	if err != nil {
		return connErr(from, to, ErrUnknownReference, "%s", err)
	}
	in, err := g.lookup(to)
	if err != nil {
		return connErr(from, to, ErrUnknownReference, "%s", err)
	}
	if out.Causality != slave.Output || in.Causality != slave.Input {
		return connErr(from, to, ErrDirection, "%s is %s, %s is %s", from, out.Causality, to, in.Causality)
	}
	if out.Type != in.Type {
		return connErr(from, to, ErrTypeMismatch, "%s vs %s", out.Type, in.Type)
	}
	if !tr.valid() || (!tr.IsIdentity() && out.Type != slave.Real) {
		return connErr(from, to, ErrInvalidTransform, "offset=%g scale=%g on %s", tr.Offset, tr.Scale, out.Type)
	}
	if out.Unit != "" && in.Unit != "" && out.Unit != in.Unit && tr.IsIdentity() {
		return connErr(from, to, ErrUnitMismatch, "%q vs %q", out.Unit, in.Unit)
	}
	return nil
}

func (g *Graph) lookup(r VarRef) (slave.Variable, error) {
	s, ok := g.Slave(r.Slave)
	if !ok {
		return slave.Variable{}, fmt.Errorf("no slave %q", r.Slave)
	}
	v, ok := s.Descriptor.Lookup(r.Variable)
	if !ok {
		return slave.Variable{}, fmt.Errorf("slave %q has no variable %q", r.Slave, r.Variable)
	}
	return v, nil
}

func (g *Graph) reindexInlets() {
	g.inlets = make(map[VarRef]int, len(g.conns))
	for i, c := range g.conns {
		g.inlets[c.To] = i
	}
}

func (g *Graph) invalidate() {
	g.valid = false
	g.cycles = nil
}

// Incoming returns the resolved links feeding each slave, indexed by slave
// index and sorted by inlet name.
func (g *Graph) Incoming() [][]Link {
	links := make([][]Link, len(g.slaves))
	for _, c := range g.conns {
		to := g.byName[c.To.Slave]
		links[to] = append(links[to], Link{
			Inlet:     c.To.Variable,
			From:      g.byName[c.From.Slave],
			Outlet:    c.From.Variable,
			Transform: c.Transform,
		})
	}
	for _, l := range links {
		sort.Slice(l, func(i, j int) bool { return l[i].Inlet < l[j].Inlet })
	}
	return links
}

// adjacency returns the slave-level edge sets: i -> j when an outlet of i
// feeds an inlet of j. Successor lists are sorted and deduplicated.
func (g *Graph) adjacency() [][]int {
	adj := make([][]int, len(g.slaves))
	seen := make(map[[2]int]bool)
	for _, c := range g.conns {
		e := [2]int{g.byName[c.From.Slave], g.byName[c.To.Slave]}
		if seen[e] {
			continue
		}
		seen[e] = true
		adj[e[0]] = append(adj[e[0]], e[1])
	}
	for _, succ := range adj {
		sort.Ints(succ)
	}
	return adj
}
