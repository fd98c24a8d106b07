// Package search implements the calibration search strategies: dynamically
// dimensioned search (DDS), particle swarm optimization (PSO), and the grey
// wolf optimizer (GWO), plus a batch adapter around the external mayfly
// library. All strategies minimize; objective direction is normalized
// upstream by the evaluator.
package search

import (
	"fmt"
	"math/rand"
)

// Algorithm identifies a search strategy in configuration and checkpoints.
type Algorithm string

const (
	DDSAlgorithm    Algorithm = "dds"
	PSOAlgorithm    Algorithm = "pso"
	GWOAlgorithm    Algorithm = "gwo"
	MayflyAlgorithm Algorithm = "mayfly"
)

// ParseAlgorithm validates an algorithm name from configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case DDSAlgorithm, PSOAlgorithm, GWOAlgorithm, MayflyAlgorithm:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("unknown algorithm %q", s)
	}
}

// Candidate is one parameter vector proposed for evaluation. Index
// identifies the member within a generation (particle or wolf index;
// always 0 for DDS).
type Candidate struct {
	Index  int
	Vector []float64
}

// Result is a scored candidate fed back into the strategy.
type Result struct {
	Candidate Candidate
	Score     float64
}

// Strategy is a stateful search algorithm. Propose is deterministic given
// the current state and generation index, so an interrupted generation can
// be replayed identically after a restart. Update folds a fully scored
// generation into state.
type Strategy interface {
	// Algorithm returns the identifier persisted in checkpoints.
	Algorithm() Algorithm

	// Propose returns the candidates of generation gen. DDS proposes one
	// candidate per generation; population algorithms propose one per
	// member.
	Propose(gen int) []Candidate

	// Update folds the scored candidates of generation gen into state.
	Update(gen int, results []Result)

	// Best returns the best-so-far vector and score. ok is false until at
	// least one generation has been scored.
	Best() (vector []float64, score float64, ok bool)

	// MarshalState and UnmarshalState serialize the algorithm-specific
	// state for checkpointing.
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// genRand returns the RNG for one generation, derived from the base seed
// and the generation index. A fresh stream per generation means a restarted
// run replays the exact draws of an uninterrupted one.
func genRand(seed int64, gen int) *rand.Rand {
	return rand.New(rand.NewSource(seed + 1_000_003*int64(gen+1)))
}

// clip constrains v to [lower, upper].
func clip(v, lower, upper float64) float64 {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}

// reflect folds an overshooting value back across the violated bound,
// clamping to the opposite bound if the reflection overshoots too.
func reflect(v, lower, upper float64) float64 {
	if v < lower {
		v = lower + (lower - v)
		if v > upper {
			return lower
		}
	} else if v > upper {
		v = upper - (v - upper)
		if v < lower {
			return upper
		}
	}
	return v
}

// uniformIn draws a vector uniformly inside the bounds.
func uniformIn(rng *rand.Rand, lower, upper []float64) []float64 {
	v := make([]float64, len(lower))
	for i := range v {
		v[i] = lower[i] + rng.Float64()*(upper[i]-lower[i])
	}
	return v
}

// better reports whether score strictly improves on best. Equal scores are
// rejected so best-so-far cannot drift across equal-score plateaus.
func better(score, best float64) bool {
	return score < best
}
