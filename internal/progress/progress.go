// Package progress defines the per-attempt events a run emits.
package progress

import (
	"sync"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/stepsize"
)

// Event describes one step attempt. Time is the start of the attempt and
// StepSize its size; on acceptance the run has advanced to Time+StepSize.
type Event struct {
	RunID      string
	Time       float64
	StepSize   float64
	Iterations []int
	Verdict    algorithm.Verdict
	Decision   stepsize.Decision
	// ErrorRatio is NaN when the mode does not estimate errors.
	ErrorRatio float64
	Cause      string
	Progress   float64
}

// Accepted reports whether the run advanced with this event.
func (e Event) Accepted() bool {
	return e.Decision == stepsize.Accepted
}

type Observer interface {
	OnStep(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnStep(e Event) { f(e) }

// Channel forwards events to a buffered channel. When the buffer is full,
// events are dropped rather than blocking the run.
type Channel struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan Event, buffer)}
}

func (c *Channel) OnStep(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

func (c *Channel) Events() <-chan Event {
	return c.ch
}

func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close ends the stream. Further events are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
