package stepsize

import (
	"math"

	"github.com/san-kum/mastersim/internal/algorithm"
	"github.com/san-kum/mastersim/internal/slave"
)

// ErrorRatio compares the outputs of one full step against two half steps
// over the same interval. It is the weighted RMS of the differences of all
// real outputs, each scaled by absTol + relTol*max(|a|, |b|). A ratio at or
// below 1 is within tolerance.
func ErrorRatio(full, half algorithm.Frame, absTol, relTol float64) float64 {
	var sum float64
	n := 0
	for i := range full {
		if i >= len(half) {
			break
		}
		for name, a := range full[i] {
			if a.Type != slave.Real {
				continue
			}
			b, ok := half[i][name]
			if !ok || b.Type != slave.Real {
				continue
			}
			w := absTol + relTol*math.Max(math.Abs(a.Real), math.Abs(b.Real))
			d := (a.Real - b.Real) / w
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
