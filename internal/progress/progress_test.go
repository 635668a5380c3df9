package progress

import (
	"testing"

	"github.com/san-kum/mastersim/internal/stepsize"
)

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(2)
	for i := 0; i < 5; i++ {
		c.OnStep(Event{Time: float64(i), Decision: stepsize.Accepted})
	}
	c.Close()
	c.OnStep(Event{Time: 99})

	var got []float64
	for e := range c.Events() {
		got = append(got, e.Time)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("expected first two events, got %v", got)
	}
	if c.Dropped() != 3 {
		t.Errorf("expected 3 dropped, got %d", c.Dropped())
	}
}

func TestObserverFunc(t *testing.T) {
	n := 0
	var o Observer = ObserverFunc(func(e Event) {
		if e.Accepted() {
			n++
		}
	})
	o.OnStep(Event{Decision: stepsize.Accepted})
	o.OnStep(Event{Decision: stepsize.Rejected})
	if n != 1 {
		t.Errorf("expected 1 accepted event, got %d", n)
	}
}
