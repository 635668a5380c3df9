package graph

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/mastersim/internal/slave"
)

// VarRef names a variable as "slave.variable".
type VarRef struct {
	Slave    string
	Variable string
}

func (r VarRef) String() string {
	return r.Slave + "." + r.Variable
}

// ParseRef splits at the first dot; variable names may contain further dots.
func ParseRef(s string) (VarRef, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return VarRef{}, fmt.Errorf("%w: malformed reference %q", ErrUnknownReference, s)
	}
	return VarRef{Slave: s[:i], Variable: s[i+1:]}, nil
}

// Transform maps an outlet value to an inlet value: input = Offset + Scale*output.
type Transform struct {
	Offset float64
	Scale  float64
}

func Identity() Transform {
	return Transform{Scale: 1}
}

func (t Transform) IsIdentity() bool {
	return t.Offset == 0 && t.Scale == 1
}

func (t Transform) valid() bool {
	return t.Scale != 0 && !math.IsNaN(t.Scale) && !math.IsInf(t.Scale, 0) &&
		!math.IsNaN(t.Offset) && !math.IsInf(t.Offset, 0)
}

// Apply transforms real values; other types pass through unchanged.
func (t Transform) Apply(v slave.Value) slave.Value {
	if v.Type != slave.Real || t.IsIdentity() {
		return v
	}
	return slave.RealValue(t.Offset + t.Scale*v.Real)
}

type Connection struct {
	From      VarRef
	To        VarRef
	Transform Transform
}

func (c Connection) String() string {
	if c.Transform.IsIdentity() {
		return fmt.Sprintf("%s -> %s", c.From, c.To)
	}
	return fmt.Sprintf("%s -> %s (offset=%g scale=%g)", c.From, c.To, c.Transform.Offset, c.Transform.Scale)
}

// Link is a connection resolved against slave indices, as seen from the
// receiving slave.
type Link struct {
	Inlet     string
	From      int
	Outlet    string
	Transform Transform
}
