package graph

import (
	"fmt"
	"sort"
)

// Cycle is a strongly connected group of slaves. Slaves holds registration
// indices in ascending order. Level is the longest-path depth in the
// condensation; cycles sharing a level have no edges between them.
type Cycle struct {
	Index    int
	Slaves   []int
	Feedback bool
	Level    int
}

// Trivial reports whether the cycle needs no iteration.
func (c Cycle) Trivial() bool {
	return !c.Feedback
}

// Cycles returns the cycle order: every slave in exactly one cycle, and for
// every connection the source cycle precedes the target cycle (or they are
// the same). Ties are broken by the smallest slave index. The result is
// cached until the next structural change.
func (g *Graph) Cycles() ([]Cycle, error) {
	if g.valid {
		return cloneCycles(g.cycles), nil
	}
	cycles, err := computeCycles(g.adjacency())
	if err != nil {
		return nil, err
	}
	g.cycles = cycles
	g.valid = true
	return cloneCycles(cycles), nil
}

func cloneCycles(cs []Cycle) []Cycle {
	out := make([]Cycle, len(cs))
	for i, c := range cs {
		c.Slaves = append([]int(nil), c.Slaves...)
		out[i] = c
	}
	return out
}

func computeCycles(adj [][]int) ([]Cycle, error) {
	sccs := tarjanSCC(adj)

	comp := make([]int, len(adj))
	for ci, scc := range sccs {
		for _, v := range scc {
			comp[v] = ci
		}
	}

	// Condensation edges and in-degrees.
	succ := make([]map[int]bool, len(sccs))
	indeg := make([]int, len(sccs))
	for ci := range sccs {
		succ[ci] = make(map[int]bool)
	}
	feedback := make([]bool, len(sccs))
	for v, ws := range adj {
		for _, w := range ws {
			cv, cw := comp[v], comp[w]
			if cv == cw {
				feedback[cv] = true
				continue
			}
			if !succ[cv][cw] {
				succ[cv][cw] = true
				indeg[cw]++
			}
		}
	}

	// Kahn with the smallest member index as priority.
	ready := make([]int, 0, len(sccs))
	for ci := range sccs {
		if indeg[ci] == 0 {
			ready = append(ready, ci)
		}
	}
	level := make([]int, len(sccs))
	ordered := make([]Cycle, 0, len(sccs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return sccs[ready[i]][0] < sccs[ready[j]][0] })
		ci := ready[0]
		ready = ready[1:]
		ordered = append(ordered, Cycle{
			Index:    len(ordered),
			Slaves:   sccs[ci],
			Feedback: feedback[ci],
			Level:    level[ci],
		})
		for cw := range succ[ci] {
			if level[ci]+1 > level[cw] {
				level[cw] = level[ci] + 1
			}
			indeg[cw]--
			if indeg[cw] == 0 {
				ready = append(ready, cw)
			}
		}
	}
	if len(ordered) != len(sccs) {
		return nil, fmt.Errorf("%w: ordered %d of %d components", ErrCyclicAmbiguity, len(ordered), len(sccs))
	}
	return ordered, nil
}

// tarjanSCC returns the strongly connected components of adj, each sorted
// ascending.
func tarjanSCC(adj [][]int) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make([]int, len(adj))
		lowlink = make([]int, len(adj))
		onStack = make([]bool, len(adj))
		sccs    [][]int
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if indices[w] < 0 {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Ints(scc)
			sccs = append(sccs, scc)
		}
	}

	for v := range adj {
		if indices[v] < 0 {
			strongConnect(v)
		}
	}
	return sccs
}
