package graph

import (
	"errors"
	"fmt"
)

// Structural errors. They are raised while a project is built and never
// during a run.
var (
	ErrTypeMismatch     = errors.New("graph: outlet and inlet scalar types differ")
	ErrInletOccupied    = errors.New("graph: inlet already connected")
	ErrUnknownReference = errors.New("graph: unknown slave or variable")
	ErrDirection        = errors.New("graph: connection must run from an outlet to an inlet")
	ErrUnitMismatch     = errors.New("graph: outlet and inlet units differ")
	ErrInvalidTransform = errors.New("graph: invalid connection transform")
	ErrDuplicateSlave   = errors.New("graph: duplicate slave name")
	ErrCyclicAmbiguity  = errors.New("graph: condensation is not acyclic")
)

// ConnectionError carries the endpoints of a rejected connection.
type ConnectionError struct {
	From, To VarRef
	Detail   string
	Wrapped  error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s -> %s: %v", e.From, e.To, e.Wrapped)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Wrapped
}

func connErr(from, to VarRef, err error, detail string, args ...any) error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &ConnectionError{From: from, To: to, Detail: detail, Wrapped: err}
}

// IsStructural reports whether err is one of the build-time graph errors.
func IsStructural(err error) bool {
	for _, target := range []error{
		ErrTypeMismatch, ErrInletOccupied, ErrUnknownReference, ErrDirection,
		ErrUnitMismatch, ErrInvalidTransform, ErrDuplicateSlave, ErrCyclicAmbiguity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
