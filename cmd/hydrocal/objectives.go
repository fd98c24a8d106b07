package main

import (
	"math"

	"github.com/cwbudde/hydrocal/internal/eval"
)

// The engine treats objective math as a plugin concern; the binary ships a
// few residual-based objectives so configurations work out of the box.
// Domain metric suites (KGE, NSE, ...) register here the same way.
func init() {
	eval.Register("sse", func(observed, simulated []float64) float64 {
		var s float64
		for i := range observed {
			d := observed[i] - simulated[i]
			s += d * d
		}
		return s
	})

	eval.Register("mse", func(observed, simulated []float64) float64 {
		var s float64
		for i := range observed {
			d := observed[i] - simulated[i]
			s += d * d
		}
		return s / float64(len(observed))
	})

	eval.Register("mae", func(observed, simulated []float64) float64 {
		var s float64
		for i := range observed {
			s += math.Abs(observed[i] - simulated[i])
		}
		return s / float64(len(observed))
	})
}
