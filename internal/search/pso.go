package search

import (
	"encoding/json"
	"math"
)

// PSO defaults, matching the calibration configuration contract.
const (
	DefaultParticles = 4
	DefaultCognitive = 0.5
	DefaultSocial    = 0.3
	DefaultInertia   = 0.9
)

// PSOOptions are the swarm coefficients: inertia weight W, cognitive pull
// C1 toward a particle's personal best, social pull C2 toward the global
// best.
type PSOOptions struct {
	C1 float64 `json:"c1"`
	C2 float64 `json:"c2"`
	W  float64 `json:"w"`
}

// DefaultPSOOptions returns the standard coefficient set.
func DefaultPSOOptions() PSOOptions {
	return PSOOptions{C1: DefaultCognitive, C2: DefaultSocial, W: DefaultInertia}
}

// PSO is a global-best particle swarm. Generation 0 evaluates the random
// initial positions; subsequent generations move every particle by the
// velocity update and clip positions to the bounds.
type PSO struct {
	seed  int64
	lower []float64
	upper []float64
	state psoState

	// pending holds the positions and velocities proposed for the current
	// generation; they are committed to state only when Update sees the
	// scores, so an interrupted generation replays cleanly.
	pendingPos [][]float64
	pendingVel [][]float64
}

type psoState struct {
	Generation int         `json:"generation"`
	Options    PSOOptions  `json:"options"`
	Positions  [][]float64 `json:"positions"`
	Velocities [][]float64 `json:"velocities"`
	PBest      [][]float64 `json:"pbest"`
	PBestScore []float64   `json:"pbestScore"`
	GBest      []float64   `json:"gbest,omitempty"`
	GBestScore float64     `json:"gbestScore"`
	HasBest    bool        `json:"hasBest"`
}

// NewPSO creates a particle swarm strategy with the given swarm size.
func NewPSO(seed int64, particles int, opts PSOOptions, lower, upper []float64) *PSO {
	if particles <= 0 {
		particles = DefaultParticles
	}
	if opts == (PSOOptions{}) {
		opts = DefaultPSOOptions()
	}
	return &PSO{
		seed:  seed,
		lower: lower,
		upper: upper,
		state: psoState{
			Options:    opts,
			Positions:  make([][]float64, particles),
			Velocities: make([][]float64, particles),
			PBest:      make([][]float64, particles),
			PBestScore: make([]float64, particles),
		},
	}
}

func (p *PSO) Algorithm() Algorithm { return PSOAlgorithm }

// Particles returns the swarm size.
func (p *PSO) Particles() int { return len(p.state.Positions) }

func (p *PSO) Propose(gen int) []Candidate {
	n := p.Particles()
	rng := genRand(p.seed, gen)
	p.pendingPos = make([][]float64, n)
	p.pendingVel = make([][]float64, n)

	if gen == 0 {
		for i := 0; i < n; i++ {
			p.pendingPos[i] = uniformIn(rng, p.lower, p.upper)
			p.pendingVel[i] = make([]float64, len(p.lower))
		}
	} else {
		for i := 0; i < n; i++ {
			pos := p.state.Positions[i]
			vel := p.state.Velocities[i]
			newPos := make([]float64, len(pos))
			newVel := make([]float64, len(pos))
			for j := range pos {
				r1 := rng.Float64()
				r2 := rng.Float64()
				newVel[j] = p.state.Options.W*vel[j] +
					p.state.Options.C1*r1*(p.state.PBest[i][j]-pos[j]) +
					p.state.Options.C2*r2*(p.state.GBest[j]-pos[j])
				newPos[j] = clip(pos[j]+newVel[j], p.lower[j], p.upper[j])
			}
			p.pendingPos[i] = newPos
			p.pendingVel[i] = newVel
		}
	}

	candidates := make([]Candidate, n)
	for i := 0; i < n; i++ {
		candidates[i] = Candidate{Index: i, Vector: append([]float64(nil), p.pendingPos[i]...)}
	}
	return candidates
}

func (p *PSO) Update(gen int, results []Result) {
	if p.pendingPos == nil {
		// Restart path: rebuild the pending proposal for this generation.
		p.Propose(gen)
	}
	p.state.Positions = p.pendingPos
	p.state.Velocities = p.pendingVel
	p.pendingPos, p.pendingVel = nil, nil

	for _, r := range results {
		i := r.Candidate.Index
		if gen == 0 || p.state.PBest[i] == nil || better(r.Score, p.state.PBestScore[i]) {
			p.state.PBest[i] = append([]float64(nil), r.Candidate.Vector...)
			p.state.PBestScore[i] = r.Score
		}
		if !p.state.HasBest || better(r.Score, p.state.GBestScore) {
			p.state.GBest = append([]float64(nil), r.Candidate.Vector...)
			p.state.GBestScore = r.Score
			p.state.HasBest = true
		}
	}
	p.state.Generation = gen + 1
}

func (p *PSO) Best() ([]float64, float64, bool) {
	if !p.state.HasBest {
		return nil, 0, false
	}
	return append([]float64(nil), p.state.GBest...), p.state.GBestScore, true
}

func (p *PSO) MarshalState() ([]byte, error) {
	return json.Marshal(p.state)
}

func (p *PSO) UnmarshalState(data []byte) error {
	if err := json.Unmarshal(data, &p.state); err != nil {
		return err
	}
	// Guard against a swarm size change between runs.
	if len(p.state.PBestScore) != len(p.state.Positions) {
		p.state.PBestScore = make([]float64, len(p.state.Positions))
		for i := range p.state.PBestScore {
			p.state.PBestScore[i] = math.Inf(1)
		}
	}
	return nil
}
