package search

import (
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// BatchOptimizer runs an entire search budget in a single call, driving
// evaluation through a callback. Unlike Strategy, per-generation state is
// internal to the library, so resumption re-seeds around the best known
// parameters instead of restoring population state.
type BatchOptimizer interface {
	// Run minimizes eval over the bounded parameter space and returns the
	// best vector and its score.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// Mayfly adapts the external mayfly library to the BatchOptimizer
// interface. The library takes scalar bounds, so parameters are normalized
// to [0,1] and mapped back inside the evaluation callback.
type Mayfly struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a mayfly batch optimizer.
func NewMayfly(maxIters, popSize int, seed int64) *Mayfly {
	if popSize <= 0 {
		popSize = DefaultParticles
	}
	return &Mayfly{maxIters: maxIters, popSize: popSize, seed: seed}
}

func (m *Mayfly) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(unit []float64) float64 {
		return eval(denormalize(unit, lower, upper))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		// Fall back to the midpoint of the space.
		mid := make([]float64, dim)
		for i := range mid {
			mid[i] = 0.5
		}
		v := denormalize(mid, lower, upper)
		return v, eval(v)
	}
	best := denormalize(result.GlobalBest.Position, lower, upper)
	return best, result.GlobalBest.Cost
}

// denormalize maps a [0,1] unit vector into the bounded parameter space.
func denormalize(unit, lower, upper []float64) []float64 {
	v := make([]float64, len(unit))
	for i := range unit {
		u := clip(unit[i], 0, 1)
		v[i] = lower[i] + u*(upper[i]-lower[i])
	}
	return v
}

// normalize maps a bounded vector into [0,1] unit space.
func normalize(v, lower, upper []float64) []float64 {
	unit := make([]float64, len(v))
	for i := range v {
		span := upper[i] - lower[i]
		if span == 0 {
			unit[i] = 0
			continue
		}
		unit[i] = clip((v[i]-lower[i])/span, 0, 1)
	}
	return unit
}
