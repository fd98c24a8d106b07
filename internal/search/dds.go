package search

import (
	"encoding/json"
	"math"
)

// DefaultNeighborhood is the default DDS neighborhood size r.
const DefaultNeighborhood = 0.2

// DDS is the dynamically dimensioned search of Tolson & Shoemaker: a
// single-solution heuristic that perturbs a shrinking random subset of
// dimensions around the best solution found so far. Generation 0 evaluates
// the initial parameter values; generations 1..budget perturb.
type DDS struct {
	seed   int64
	budget int
	lower  []float64
	upper  []float64
	state  ddsState
}

type ddsState struct {
	Iteration    int       `json:"iteration"`
	Neighborhood float64   `json:"neighborhood"`
	Best         []float64 `json:"best,omitempty"`
	BestScore    float64   `json:"bestScore"`
	HasBest      bool      `json:"hasBest"`
}

// NewDDS creates a DDS strategy. init holds the starting values of the free
// parameters; budget is the total iteration count I used in the inclusion
// probability schedule.
func NewDDS(seed int64, budget int, neighborhood float64, lower, upper, init []float64) *DDS {
	if neighborhood <= 0 {
		neighborhood = DefaultNeighborhood
	}
	return &DDS{
		seed:   seed,
		budget: budget,
		lower:  lower,
		upper:  upper,
		state: ddsState{
			Neighborhood: neighborhood,
			Best:         append([]float64(nil), init...),
		},
	}
}

func (d *DDS) Algorithm() Algorithm { return DDSAlgorithm }

func (d *DDS) Propose(gen int) []Candidate {
	if gen == 0 {
		// Baseline: evaluate the initial values before any perturbation.
		return []Candidate{{Vector: append([]float64(nil), d.state.Best...)}}
	}
	rng := genRand(d.seed, gen)
	inclusion := 1 - math.Log(float64(gen))/math.Log(float64(d.budget))

	v := append([]float64(nil), d.state.Best...)
	perturbed := false
	for j := range v {
		if rng.Float64() < inclusion {
			v[j] = d.perturb(rng.NormFloat64(), j)
			perturbed = true
		}
	}
	if !perturbed {
		// Always move at least one dimension.
		j := rng.Intn(len(v))
		v[j] = d.perturb(rng.NormFloat64(), j)
	}
	return []Candidate{{Vector: v}}
}

// perturb offsets the best value of dimension j by a truncated normal draw
// scaled by r*(upper-lower), reflecting at the bounds. The draw is clamped
// to [-1, 1] so the raw step never exceeds one neighborhood width.
func (d *DDS) perturb(draw float64, j int) float64 {
	if draw > 1 {
		draw = 1
	} else if draw < -1 {
		draw = -1
	}
	sigma := d.state.Neighborhood * (d.upper[j] - d.lower[j])
	return reflect(d.state.Best[j]+draw*sigma, d.lower[j], d.upper[j])
}

func (d *DDS) Update(gen int, results []Result) {
	d.state.Iteration = gen + 1
	for _, r := range results {
		if !d.state.HasBest || better(r.Score, d.state.BestScore) {
			d.state.Best = append([]float64(nil), r.Candidate.Vector...)
			d.state.BestScore = r.Score
			d.state.HasBest = true
		}
	}
}

func (d *DDS) Best() ([]float64, float64, bool) {
	if !d.state.HasBest {
		return nil, 0, false
	}
	return append([]float64(nil), d.state.Best...), d.state.BestScore, true
}

func (d *DDS) MarshalState() ([]byte, error) {
	return json.Marshal(d.state)
}

func (d *DDS) UnmarshalState(data []byte) error {
	return json.Unmarshal(data, &d.state)
}
