package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/mastersim/internal/slave"
	"github.com/san-kum/mastersim/internal/slave/slavetest"
)

func ref(s string) VarRef {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}

func newGraph(t *testing.T, names ...string) *Graph {
	t.Helper()
	g := New()
	for _, n := range names {
		require.NoError(t, g.AddSlave(&slave.Slave{
			Name:       n,
			Descriptor: slavetest.Descriptor([]string{"u", "v"}, []string{"y", "z"}),
		}))
	}
	return g
}

func TestParseRef(t *testing.T) {
	r, err := ParseRef("plant.body.x")
	require.NoError(t, err)
	assert.Equal(t, VarRef{Slave: "plant", Variable: "body.x"}, r)

	for _, bad := range []string{"", "plant", ".x", "plant."} {
		_, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrUnknownReference, bad)
	}
}

func TestTransformApply(t *testing.T) {
	tr := Transform{Offset: 2, Scale: 3}
	got := tr.Apply(slave.RealValue(5))
	assert.Equal(t, 17.0, got.Real)

	b := slave.BoolValue(true)
	assert.Equal(t, b, tr.Apply(b), "non-real values pass through")
	assert.True(t, Identity().IsIdentity())
}

func TestAddConnection(t *testing.T) {
	g := newGraph(t, "a", "b")
	require.NoError(t, g.AddSlave(&slave.Slave{
		Name: "flags",
		Descriptor: slave.Descriptor{Variables: []slave.Variable{
			{Name: "on", Causality: slave.Output, Type: slave.Boolean},
			{Name: "level", Causality: slave.Output, Type: slave.Real, Unit: "m"},
			{Name: "count", Causality: slave.Output, Type: slave.Integer},
		}},
	}))
	require.NoError(t, g.AddSlave(&slave.Slave{
		Name: "sink",
		Descriptor: slave.Descriptor{Variables: []slave.Variable{
			{Name: "r", Causality: slave.Input, Type: slave.Real, Unit: "K"},
			{Name: "n", Causality: slave.Input, Type: slave.Integer},
		}},
	}))

	require.NoError(t, g.AddConnection(ref("a.y"), ref("b.u"), Identity()))

	tests := []struct {
		name string
		from string
		to   string
		tr   Transform
		want error
	}{
		{"occupied inlet", "a.z", "b.u", Identity(), ErrInletOccupied},
		{"boolean to real", "flags.on", "b.v", Identity(), ErrTypeMismatch},
		{"unknown slave", "nobody.y", "b.v", Identity(), ErrUnknownReference},
		{"unknown variable", "a.nothing", "b.v", Identity(), ErrUnknownReference},
		{"inlet as source", "a.u", "b.v", Identity(), ErrDirection},
		{"outlet as target", "a.y", "b.z", Identity(), ErrDirection},
		{"unit mismatch", "flags.level", "sink.r", Identity(), ErrUnitMismatch},
		{"scaled integer", "flags.count", "sink.n", Transform{Offset: 1, Scale: 1}, ErrInvalidTransform},
		{"zero scale", "a.y", "b.v", Transform{}, ErrInvalidTransform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := g.Connections()
			err := g.AddConnection(ref(tt.from), ref(tt.to), tt.tr)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsStructural(err))
			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, ref(tt.to), ce.To)
			assert.Equal(t, before, g.Connections(), "graph must not change")
		})
	}

	// A transform doubles as an explicit unit conversion.
	require.NoError(t, g.AddConnection(ref("flags.level"), ref("sink.r"), Transform{Offset: 273.15, Scale: 1}))
	require.NoError(t, g.AddConnection(ref("flags.count"), ref("sink.n"), Identity()))
	assert.Len(t, g.Connections(), 3)
}

func TestRemoveAndReplaceConnection(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	require.NoError(t, g.AddConnection(ref("a.y"), ref("b.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("b.y"), ref("c.u"), Identity()))

	require.NoError(t, g.ReplaceConnection(ref("c.z"), ref("b.u"), Transform{Offset: 1, Scale: 2}))
	c, ok := g.InletConnection(ref("b.u"))
	require.True(t, ok)
	assert.Equal(t, ref("c.z"), c.From)

	assert.True(t, g.RemoveConnection(ref("b.u")))
	assert.False(t, g.RemoveConnection(ref("b.u")))
	_, ok = g.InletConnection(ref("c.u"))
	assert.True(t, ok, "index of remaining connections must survive removal")
}

func TestRemoveSlave(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	require.NoError(t, g.AddConnection(ref("a.y"), ref("b.u"), Identity()))
	require.NoError(t, g.AddConnection(ref("b.y"), ref("c.u"), Identity()))

	require.NoError(t, g.RemoveSlave("b"))
	assert.Empty(t, g.Connections())
	c, ok := g.Slave("c")
	require.True(t, ok)
	assert.Equal(t, 1, c.Index)
	assert.ErrorIs(t, g.RemoveSlave("b"), ErrUnknownReference)
}

func TestUnresolvedSlave(t *testing.T) {
	g := New()
	require.NoError(t, g.AddSlave(&slave.Slave{Name: "late"}))
	require.NoError(t, g.AddSlave(&slave.Slave{Name: "src", Descriptor: slavetest.Descriptor(nil, []string{"y"})}))

	s, _ := g.Slave("late")
	assert.False(t, s.Resolved())
	assert.ErrorIs(t, g.AddConnection(ref("src.y"), ref("late.u"), Identity()), ErrUnknownReference)

	require.NoError(t, g.ResolveSlave("late", slavetest.Descriptor([]string{"u"}, nil)))
	assert.NoError(t, g.AddConnection(ref("src.y"), ref("late.u"), Identity()))
	assert.ErrorIs(t, g.AddSlave(&slave.Slave{Name: "late"}), ErrDuplicateSlave)
}

func TestResolveSlaveChecksConnections(t *testing.T) {
	g := New()
	require.NoError(t, g.AddSlave(&slave.Slave{Name: "src", Descriptor: slavetest.Descriptor(nil, []string{"y"})}))
	require.NoError(t, g.AddSlave(&slave.Slave{Name: "late", Descriptor: slavetest.Descriptor([]string{"u"}, nil)}))
	require.NoError(t, g.AddConnection(ref("src.y"), ref("late.u"), Identity()))

	err := g.ResolveSlave("late", slavetest.Descriptor([]string{"w"}, nil))
	assert.ErrorIs(t, err, ErrUnknownReference)

	retyped := slave.Descriptor{Variables: []slave.Variable{
		{Name: "u", Causality: slave.Input, Type: slave.Boolean},
	}}
	assert.ErrorIs(t, g.ResolveSlave("late", retyped), ErrTypeMismatch)

	s, _ := g.Slave("late")
	v, ok := s.Descriptor.Lookup("u")
	require.True(t, ok, "a rejected descriptor must not replace the old one")
	assert.Equal(t, slave.Real, v.Type)

	require.NoError(t, g.ResolveSlave("late", slavetest.Descriptor([]string{"u", "v"}, nil)))
	assert.Len(t, g.Connections(), 1)
}

func TestAutoConnect(t *testing.T) {
	g := New()
	add := func(name string, vars ...slave.Variable) {
		require.NoError(t, g.AddSlave(&slave.Slave{Name: name, Descriptor: slave.Descriptor{Variables: vars}}))
	}
	add("room",
		slave.Variable{Name: "T", Causality: slave.Output, Type: slave.Real, Unit: "K"},
		slave.Variable{Name: "open", Causality: slave.Output, Type: slave.Boolean},
		slave.Variable{Name: "Q", Causality: slave.Input, Type: slave.Real, Unit: "W"},
	)
	add("heater",
		slave.Variable{Name: "T", Causality: slave.Input, Type: slave.Real, Unit: "K"},
		slave.Variable{Name: "open", Causality: slave.Input, Type: slave.Real},
		slave.Variable{Name: "Q", Causality: slave.Output, Type: slave.Real, Unit: "W"},
	)
	add("logger",
		slave.Variable{Name: "T", Causality: slave.Input, Type: slave.Real, Unit: "degC"},
	)

	rep := g.AutoConnect([]string{"room"}, []string{"heater", "logger"})
	assert.ElementsMatch(t, []Connection{
		{From: ref("room.T"), To: ref("heater.T"), Transform: Identity()},
		{From: ref("heater.Q"), To: ref("room.Q"), Transform: Identity()},
	}, rep.Proposed)
	assert.Equal(t, 2, rep.Rejected, "boolean vs real and K vs degC")
	assert.Empty(t, g.Connections(), "auto-connect only proposes")

	require.NoError(t, g.Apply(rep))
	assert.Len(t, g.Connections(), 2)

	again := g.AutoConnect([]string{"room"}, []string{"heater", "logger"})
	assert.Empty(t, again.Proposed)
	assert.Equal(t, 2, again.Occupied)
}
