package calib

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/hydrocal/internal/config"
	"github.com/cwbudde/hydrocal/internal/eval"
	"github.com/cwbudde/hydrocal/internal/model"
	"github.com/cwbudde/hydrocal/internal/param"
	"github.com/cwbudde/hydrocal/internal/search"
	"github.com/cwbudde/hydrocal/internal/store"
)

// UniformKey is the checkpoint key of the single agent built under uniform
// scope, where every unit shares one parameter set and search state.
const UniformKey = "uniform"

// Run is the top-level calibration coordinator: it applies the configured
// scoping strategy across units, owns the resulting agents, and executes
// them. It lives for the duration of one calibration job.
type Run struct {
	cfg    *config.Config
	agents []*Agent
}

// New builds a calibration run from validated configuration: the store,
// model driver, evaluator, and one agent per checkpoint key according to
// the scoping strategy.
func New(cfg *config.Config) (*Run, error) {
	objective, ok := eval.Lookup(cfg.Objective.Name)
	if !ok {
		return nil, &config.Error{Field: "objective.name", Reason: "unknown objective " + cfg.Objective.Name}
	}
	direction, err := eval.ParseDirection(cfg.Objective.Direction)
	if err != nil {
		return nil, &config.Error{Field: "objective.direction", Reason: err.Error()}
	}
	evaluator := &eval.Evaluator{
		Objective: objective,
		Direction: direction,
		Window: eval.Window{
			Start: cfg.Objective.EvaluationStart,
			Stop:  cfg.Objective.EvaluationStop,
		},
	}

	fsStore, err := store.NewFSStore(cfg.General.StateDir)
	if err != nil {
		return nil, err
	}

	driver := &model.ExecDriver{
		Binary:  cfg.Model.Binary,
		Args:    cfg.Model.Args,
		Timeout: time.Duration(cfg.Model.Timeout),
		LogFile: cfg.Model.LogFile,
	}

	units := make(map[string]*Unit, len(cfg.Units))
	for _, u := range cfg.Units {
		observed, err := model.ReadSeries(u.Observed)
		if err != nil {
			return nil, &config.Error{
				Field:  "units",
				Reason: fmt.Sprintf("cannot load observations for unit %s: %v", u.ID, err),
			}
		}
		units[u.ID] = &Unit{ID: u.ID, Observed: observed}
	}

	r := &Run{cfg: cfg}

	newAgent := func(key string, members []*Unit, set *param.Set, seed int64) error {
		strategy, batch, budget, err := buildStrategy(cfg, set, seed)
		if err != nil {
			return err
		}
		r.agents = append(r.agents, &Agent{
			Key:        key,
			Units:      members,
			Params:     set,
			Strategy:   strategy,
			Batch:      batch,
			Driver:     driver,
			Store:      fsStore,
			Evaluator:  evaluator,
			Tracker:    NewTracker(cfg.Convergence.Enabled, cfg.Convergence.Patience, cfg.Convergence.Threshold),
			Workdir:    filepath.Join(cfg.General.Workdir, "runs"),
			OutputFile: cfg.Model.OutputFile,
			Scope:      string(cfg.Strategy.Scope),
			Budget:     budget,
			Pool:       cfg.Algorithm.Pool,
		})
		return nil
	}

	switch cfg.Strategy.Scope {
	case config.ScopeIndependent:
		for i, u := range cfg.Units {
			set, err := u.ParameterSet()
			if err != nil {
				return nil, err
			}
			if err := newAgent(u.ID, []*Unit{units[u.ID]}, set, cfg.General.Seed+int64(i)); err != nil {
				return nil, err
			}
		}

	case config.ScopeUniform:
		set, err := sharedParameterSet(cfg.Units)
		if err != nil {
			return nil, err
		}
		members := make([]*Unit, 0, len(cfg.Units))
		for _, u := range cfg.Units {
			members = append(members, units[u.ID])
		}
		if err := newAgent(UniformKey, members, set, cfg.General.Seed); err != nil {
			return nil, err
		}

	case config.ScopeExplicit:
		byID := make(map[string]config.Unit, len(cfg.Units))
		for _, u := range cfg.Units {
			byID[u.ID] = u
		}
		for i, g := range cfg.Strategy.Groups {
			groupCfg := make([]config.Unit, 0, len(g.Units))
			members := make([]*Unit, 0, len(g.Units))
			for _, id := range g.Units {
				groupCfg = append(groupCfg, byID[id])
				members = append(members, units[id])
			}
			set, err := sharedParameterSet(groupCfg)
			if err != nil {
				return nil, &config.Error{Field: "strategy.groups", Reason: fmt.Sprintf("group %s: %v", g.Name, err)}
			}
			if err := newAgent(g.Name, members, set, cfg.General.Seed+int64(i)); err != nil {
				return nil, err
			}
		}

	default:
		return nil, &config.Error{Field: "strategy.scope", Reason: "unknown scope " + string(cfg.Strategy.Scope)}
	}

	return r, nil
}

// Agents exposes the owned agents, primarily for tests and status display.
func (r *Run) Agents() []*Agent { return r.agents }

// Execute runs all agents. Units calibrate in parallel under independent
// and explicit scopes; a failed unit does not stop the others, but its
// error is reported after all agents finish.
func (r *Run) Execute(ctx context.Context) error {
	slog.Info("Starting calibration run",
		"scope", r.cfg.Strategy.Scope,
		"algorithm", r.cfg.Algorithm.Name,
		"agents", len(r.agents),
		"iterations", r.cfg.General.Iterations,
	)

	var g errgroup.Group
	for _, agent := range r.agents {
		agent := agent
		g.Go(func() error {
			if err := agent.Run(ctx); err != nil {
				slog.Error("Calibration failed", "key", agent.Key, "error", err)
				return fmt.Errorf("agent %s: %w", agent.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// buildStrategy constructs the configured search strategy for one agent.
// The returned budget is the number of generations the agent loop runs;
// DDS gets one extra generation for its baseline evaluation of the initial
// values.
func buildStrategy(cfg *config.Config, set *param.Set, seed int64) (search.Strategy, search.BatchOptimizer, int, error) {
	lower, upper := set.Bounds()
	iterations := cfg.General.Iterations
	opts := search.PSOOptions{
		C1: cfg.Algorithm.Options.C1,
		C2: cfg.Algorithm.Options.C2,
		W:  cfg.Algorithm.Options.W,
	}

	alg, err := search.ParseAlgorithm(cfg.Algorithm.Name)
	if err != nil {
		return nil, nil, 0, &config.Error{Field: "algorithm.name", Reason: err.Error()}
	}
	switch alg {
	case search.DDSAlgorithm:
		return search.NewDDS(seed, iterations, cfg.Algorithm.Neighborhood, lower, upper, set.Vector()),
			nil, iterations + 1, nil
	case search.PSOAlgorithm:
		return search.NewPSO(seed, cfg.Algorithm.Particles, opts, lower, upper),
			nil, iterations, nil
	case search.GWOAlgorithm:
		return search.NewGWO(seed, cfg.Algorithm.Particles, iterations, lower, upper),
			nil, iterations, nil
	case search.MayflyAlgorithm:
		return nil, search.NewMayfly(iterations, cfg.Algorithm.Particles, seed), iterations, nil
	default:
		return nil, nil, 0, &config.Error{Field: "algorithm.name", Reason: "unknown algorithm " + cfg.Algorithm.Name}
	}
}

// sharedParameterSet builds the parameter set shared by units under
// uniform or explicit scope. All members must declare identical parameter
// spaces; anything else is a configuration defect.
func sharedParameterSet(units []config.Unit) (*param.Set, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units in scope")
	}
	first := units[0]
	for _, u := range units[1:] {
		if len(u.Parameters) != len(first.Parameters) {
			return nil, fmt.Errorf("unit %s declares a different parameter space than unit %s", u.ID, first.ID)
		}
		for i, p := range u.Parameters {
			if p != first.Parameters[i] {
				return nil, fmt.Errorf("unit %s parameter %s differs from unit %s", u.ID, p.Name, first.ID)
			}
		}
	}
	return first.ParameterSet()
}
