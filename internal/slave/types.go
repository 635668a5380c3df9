package slave

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ScalarType int

const (
	Real ScalarType = iota
	Integer
	Boolean
	String
)

func (t ScalarType) String() string {
	switch t {
	case Real:
		return "real"
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	case String:
		return "string"
	}
	return fmt.Sprintf("ScalarType(%d)", int(t))
}

func ParseScalarType(s string) (ScalarType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "real", "float", "double":
		return Real, nil
	case "integer", "int":
		return Integer, nil
	case "boolean", "bool":
		return Boolean, nil
	case "string":
		return String, nil
	}
	return Real, fmt.Errorf("unknown scalar type %q", s)
}

type Causality int

const (
	Input Causality = iota
	Output
)

func (c Causality) String() string {
	if c == Output {
		return "output"
	}
	return "input"
}

// Value is a tagged scalar. Only the field matching Type is meaningful.
type Value struct {
	Type ScalarType
	Real float64
	Int  int64
	Bool bool
	Str  string
}

func RealValue(v float64) Value { return Value{Type: Real, Real: v} }
func IntValue(v int64) Value { return Value{Type: Integer, Int: v} }
func BoolValue(v bool) Value { return Value{Type: Boolean, Bool: v} }
func StringValue(v string) Value { return Value{Type: String, Str: v} }
func Zero(t ScalarType) Value { return Value{Type: t} }

// Float returns the numeric view of v. Booleans map to 0/1, strings to NaN.
func (v Value) Float() float64 {
	switch v.Type {
	case Real:
		return v.Real
	case Integer:
		return float64(v.Int)
	case Boolean:
		if v.Bool {
			return 1
		}
		return 0
	}
	return math.NaN()
}

func (v Value) String() string {
	switch v.Type {
	case Real:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case Integer:
		return strconv.FormatInt(v.Int, 10)
	case Boolean:
		return strconv.FormatBool(v.Bool)
	}
	return v.Str
}

// Equal reports exact equality, including the type tag.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case Real:
		return v.Real == o.Real
	case Integer:
		return v.Int == o.Int
	case Boolean:
		return v.Bool == o.Bool
	}
	return v.Str == o.Str
}

// Values maps variable names to values for one slave.
type Values map[string]Value

func (v Values) Clone() Values {
	c := make(Values, len(v))
	for k, val := range v {
		c[k] = val
	}
	return c
}

type Variable struct {
	Name      string
	Causality Causality
	Type      ScalarType
	Unit      string
	Start     Value
}

// Descriptor is the resolved interface of a slave: its ordered variables.
type Descriptor struct {
	Variables []Variable
}

func (d Descriptor) Lookup(name string) (Variable, bool) {
	for _, v := range d.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

func (d Descriptor) Inputs() []Variable  { return d.filter(Input) }
func (d Descriptor) Outputs() []Variable { return d.filter(Output) }

func (d Descriptor) filter(c Causality) []Variable {
	var out []Variable
	for _, v := range d.Variables {
		if v.Causality == c {
			out = append(out, v)
		}
	}
	return out
}

// StartValues returns the start values of all variables with the given causality.
func (d Descriptor) StartValues(c Causality) Values {
	vals := make(Values)
	for _, v := range d.Variables {
		if v.Causality != c {
			continue
		}
		start := v.Start
		start.Type = v.Type
		vals[v.Name] = start
	}
	return vals
}

// Slave is one registered simulation unit. Index is its registration
// position and is the only handle the master keeps.
type Slave struct {
	Index      int
	Name       string
	Type       string
	Descriptor Descriptor
	Adapter    Adapter
}

// Resolved reports whether the descriptor has been populated.
func (s *Slave) Resolved() bool {
	return len(s.Descriptor.Variables) > 0
}
