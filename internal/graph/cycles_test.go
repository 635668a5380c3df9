package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCyclesChain(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	require.NoError(t, g.AddConnection(ref("b.y"), ref("c.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("a.y"), ref("b.u"), Identity()))

	cycles, err := g.Cycles()
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	for i, c := range cycles {
		assert.Equal(t, []int{i}, c.Slaves)
		assert.True(t, c.Trivial())
		assert.Equal(t, i, c.Level)
	}
}

func TestCyclesFeedback(t *testing.T) {
	// src -> (p <-> q) -> sink, plus an isolated slave with a self loop.
	g := newGraph(t, "sink", "p", "q", "src", "self")
	require.NoError(t, g.AddConnection(ref("src.y"), ref("p.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("p.y"), ref("q.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("q.y"), ref("p.v"), Identity()))
	require.NoError(t, g.AddConnection(ref("q.z"), ref("sink.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("self.y"), ref("self.u"), Identity()))

	cycles, err := g.Cycles()
	require.NoError(t, err)
	require.Len(t, cycles, 4)

	assert.Equal(t, []int{3}, cycles[0].Slaves, "src first")
	assert.Equal(t, []int{1, 2}, cycles[1].Slaves)
	assert.True(t, cycles[1].Feedback)
	assert.Equal(t, []int{0}, cycles[2].Slaves, "sink follows the loop")
	assert.Equal(t, []int{4}, cycles[3].Slaves)
	assert.True(t, cycles[3].Feedback, "self loop needs iteration")
	assert.Equal(t, 0, cycles[3].Level)
	assert.Equal(t, 2, cycles[2].Level)
}

func TestCyclesCachedAndInvalidated(t *testing.T) {
	g := newGraph(t, "a", "b")
	first, err := g.Cycles()
	require.NoError(t, err)
	second, err := g.Cycles()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	second[0].Slaves[0] = 99
	third, _ := g.Cycles()
	assert.Equal(t, first, third, "callers cannot corrupt the cache")

	require.NoError(t, g.AddConnection(ref("a.y"), ref("b.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("b.y"), ref("a.u"), Identity()))
	fourth, _ := g.Cycles()
	require.Len(t, fourth, 1)
	assert.Equal(t, []int{0, 1}, fourth[0].Slaves)
}

// Random graphs: the cycles partition the slaves, edges never point
// backwards in the order, and recomputation is stable.
func TestCyclesProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(9)
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("s%d", i)
		}
		g := newGraph(t, names...)
		edges := rng.Intn(2 * n)
		for e := 0; e < edges; e++ {
			from := names[rng.Intn(n)]
			to := names[rng.Intn(n)]
			inlet := []string{"u", "v"}[rng.Intn(2)]
			_ = g.AddConnection(ref(from+".y"), ref(to+"."+inlet), Identity())
		}

		cycles, err := g.Cycles()
		require.NoError(t, err)

		pos := make(map[int]int)
		for ci, c := range cycles {
			assert.Equal(t, ci, c.Index)
			for _, s := range c.Slaves {
				_, dup := pos[s]
				require.False(t, dup, "slave %d in two cycles", s)
				pos[s] = ci
			}
		}
		require.Len(t, pos, n)

		for _, c := range g.Connections() {
			fi := pos[g.byName[c.From.Slave]]
			ti := pos[g.byName[c.To.Slave]]
			assert.LessOrEqual(t, fi, ti, "%s must not point backwards", c)
			if fi != ti {
				assert.Less(t, cycles[fi].Level, cycles[ti].Level)
			}
		}

		g.invalidate()
		again, err := g.Cycles()
		require.NoError(t, err)
		assert.Equal(t, cycles, again)
	}
}
