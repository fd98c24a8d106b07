package search

import (
	"encoding/json"
	"math"
	"sort"
)

// DefaultPackSize is the default number of wolves in a GWO pack.
const DefaultPackSize = 4

// GWO is the grey wolf optimizer: a pack of candidate positions moves each
// generation toward a weighted combination of the three best members
// (alpha, beta, delta) under a coefficient a that decays linearly from 2 to
// 0 over the iteration budget, trading early exploration for late
// convergence.
type GWO struct {
	seed   int64
	budget int
	lower  []float64
	upper  []float64
	state  gwoState

	pendingPos [][]float64
}

type gwoState struct {
	Generation   int         `json:"generation"`
	Positions    [][]float64 `json:"positions"`
	LeaderPos    [][]float64 `json:"leaderPos,omitempty"`
	LeaderScores []float64   `json:"leaderScores,omitempty"`
	Best         []float64   `json:"best,omitempty"`
	BestScore    float64     `json:"bestScore"`
	HasBest      bool        `json:"hasBest"`
}

// NewGWO creates a grey wolf strategy with the given pack size. budget is
// the generation count G that drives the a = 2 - 2*g/G schedule.
func NewGWO(seed int64, pack, budget int, lower, upper []float64) *GWO {
	if pack < 3 {
		// Ranking needs at least alpha, beta, and delta.
		pack = DefaultPackSize
	}
	return &GWO{
		seed:   seed,
		budget: budget,
		lower:  lower,
		upper:  upper,
		state: gwoState{
			Positions: make([][]float64, pack),
		},
	}
}

func (g *GWO) Algorithm() Algorithm { return GWOAlgorithm }

// Pack returns the pack size.
func (g *GWO) Pack() int { return len(g.state.Positions) }

// Coefficient returns the exploration coefficient a for generation gen.
func (g *GWO) Coefficient(gen int) float64 {
	if g.budget <= 0 {
		return 0
	}
	a := 2 - 2*float64(gen)/float64(g.budget)
	return math.Max(a, 0)
}

func (g *GWO) Propose(gen int) []Candidate {
	n := g.Pack()
	rng := genRand(g.seed, gen)
	g.pendingPos = make([][]float64, n)

	if gen == 0 {
		for i := 0; i < n; i++ {
			g.pendingPos[i] = uniformIn(rng, g.lower, g.upper)
		}
	} else {
		a := g.Coefficient(gen)
		for i := 0; i < n; i++ {
			pos := g.state.Positions[i]
			next := make([]float64, len(pos))
			for j := range pos {
				var sum float64
				for l := 0; l < 3; l++ {
					leader := g.state.LeaderPos[l][j]
					A := 2*a*rng.Float64() - a
					C := 2 * rng.Float64()
					D := math.Abs(C*leader - pos[j])
					sum += leader - A*D
				}
				next[j] = clip(sum/3, g.lower[j], g.upper[j])
			}
			g.pendingPos[i] = next
		}
	}

	candidates := make([]Candidate, n)
	for i := 0; i < n; i++ {
		candidates[i] = Candidate{Index: i, Vector: append([]float64(nil), g.pendingPos[i]...)}
	}
	return candidates
}

func (g *GWO) Update(gen int, results []Result) {
	if g.pendingPos == nil {
		g.Propose(gen)
	}
	g.state.Positions = g.pendingPos
	g.pendingPos = nil

	// Rank the scored pack; the three best become alpha, beta, delta.
	ranked := append([]Result(nil), results...)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })

	leaders := 3
	if len(ranked) < leaders {
		leaders = len(ranked)
	}
	g.state.LeaderPos = make([][]float64, 0, 3)
	g.state.LeaderScores = make([]float64, 0, 3)
	for l := 0; l < leaders; l++ {
		g.state.LeaderPos = append(g.state.LeaderPos, append([]float64(nil), ranked[l].Candidate.Vector...))
		g.state.LeaderScores = append(g.state.LeaderScores, ranked[l].Score)
	}
	// Degenerate packs reuse the alpha for missing leaders.
	for len(g.state.LeaderPos) < 3 && len(g.state.LeaderPos) > 0 {
		g.state.LeaderPos = append(g.state.LeaderPos, g.state.LeaderPos[0])
		g.state.LeaderScores = append(g.state.LeaderScores, g.state.LeaderScores[0])
	}

	if len(ranked) > 0 {
		if !g.state.HasBest || better(ranked[0].Score, g.state.BestScore) {
			g.state.Best = append([]float64(nil), ranked[0].Candidate.Vector...)
			g.state.BestScore = ranked[0].Score
			g.state.HasBest = true
		}
	}
	g.state.Generation = gen + 1
}

func (g *GWO) Best() ([]float64, float64, bool) {
	if !g.state.HasBest {
		return nil, 0, false
	}
	return append([]float64(nil), g.state.Best...), g.state.BestScore, true
}

func (g *GWO) MarshalState() ([]byte, error) {
	return json.Marshal(g.state)
}

func (g *GWO) UnmarshalState(data []byte) error {
	return json.Unmarshal(data, &g.state)
}
