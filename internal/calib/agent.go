// Package calib drives the calibration loop: agents that propose, run,
// evaluate, and record candidate parameter sets for one or more calibration
// units, and the top-level run that scopes agents across units.
package calib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cwbudde/hydrocal/internal/eval"
	"github.com/cwbudde/hydrocal/internal/model"
	"github.com/cwbudde/hydrocal/internal/param"
	"github.com/cwbudde/hydrocal/internal/search"
	"github.com/cwbudde/hydrocal/internal/store"
)

// State names the agent's position in its iteration loop. Idle is the
// entry and restart point; Converged is terminal.
type State string

const (
	StateIdle       State = "idle"
	StateProposing  State = "proposing"
	StateRunning    State = "running"
	StateEvaluating State = "evaluating"
	StateRecording  State = "recording"
	StateConverged  State = "converged"
)

// maxRunAttempts bounds retries of a failed model run for one candidate
// before the unit's calibration is aborted.
const maxRunAttempts = 3

// Unit is one calibration member owned by an agent: a catchment or nexus
// with its own run directories and observed series.
type Unit struct {
	ID       string
	Observed eval.Series
}

// Agent orchestrates the calibration of one checkpoint key: a single unit
// under independent scope, or a set of units sharing a parameter set under
// uniform/explicit scope. The agent is the sole mutator of its parameter
// set and search state; worker goroutines only run the external model and
// return pure results.
type Agent struct {
	Key   string
	Units []*Unit

	Params    *param.Set
	Strategy  search.Strategy
	Batch     search.BatchOptimizer
	Driver    model.Driver
	Store     *store.FSStore
	Evaluator *eval.Evaluator
	Tracker   *Tracker

	Workdir    string
	OutputFile string
	Scope      string
	Budget     int
	Pool       int

	state   State
	history []store.IterationRecord
}

// runResult is the pure outcome a worker returns for one (candidate, unit)
// model run: the output series, or the failed attempts on the way there.
type runResult struct {
	candidate search.Candidate
	unit      *Unit
	output    eval.Series
	failures  []store.IterationRecord
	err       error
}

func (a *Agent) transition(s State) {
	a.state = s
	slog.Debug("Agent state", "key", a.Key, "state", s)
}

// CurrentState returns the agent's loop state.
func (a *Agent) CurrentState() State { return a.state }

// History returns the recorded optimization trajectory.
func (a *Agent) History() []store.IterationRecord { return a.history }

// Run executes the calibration loop until the budget is exhausted, the
// convergence criterion fires, or a fatal error aborts the unit. The last
// fully completed iteration is always checkpointed; an in-flight iteration
// interrupted by ctx is discarded.
func (a *Agent) Run(ctx context.Context) error {
	a.transition(StateIdle)

	startGen, err := a.restore()
	if err != nil {
		return err
	}

	trace, err := store.NewTraceWriter(a.Store.UnitDir(a.Key))
	if err != nil {
		return err
	}
	defer trace.Close()

	if a.Batch != nil {
		return a.runBatch(ctx, trace)
	}

	if startGen == 0 {
		// Empty checkpoint marks the unit as started.
		if err := a.checkpoint(0); err != nil {
			return err
		}
	} else {
		slog.Info("Resuming calibration", "key", a.Key, "iteration", startGen)
	}

	for gen := startGen; gen < a.Budget; gen++ {
		if err := ctx.Err(); err != nil {
			slog.Info("Calibration interrupted", "key", a.Key, "iteration", gen)
			return err
		}

		a.transition(StateProposing)
		candidates := a.Strategy.Propose(gen)

		a.transition(StateRunning)
		outputs, failures, err := a.runGeneration(ctx, gen, candidates)
		a.history = append(a.history, failures...)
		if err != nil {
			a.transition(StateRecording)
			a.checkpoint(gen) // best effort: persist the failure records
			return err
		}

		a.transition(StateEvaluating)
		results, records, err := a.scoreGeneration(gen, candidates, outputs)
		if err != nil {
			return fmt.Errorf("unit %s: %w", a.Key, err)
		}

		a.transition(StateRecording)
		a.Strategy.Update(gen, results)
		a.history = append(a.history, records...)
		if err := a.checkpoint(gen + 1); err != nil {
			return err
		}

		if _, score, ok := a.Strategy.Best(); ok {
			if err := trace.Write(store.TraceEntry{
				Iteration: gen,
				BestScore: score,
				Timestamp: time.Now(),
			}); err != nil {
				slog.Warn("Failed to write trace entry", "key", a.Key, "iteration", gen, "error", err)
			}
			slog.Info("Iteration complete", "key", a.Key, "iteration", gen,
				"best_score", score, "candidates", len(candidates))
			if a.Tracker.Update(score) {
				slog.Info("Convergence criterion met", "key", a.Key, "iteration", gen, "best_score", score)
				break
			}
		}
	}

	a.transition(StateConverged)
	return a.exportBest()
}

// restore reloads checkpointed state if present. An incompatible
// checkpoint is a warning, not a failure: the unit restarts from zero.
func (a *Agent) restore() (int, error) {
	cp, err := a.Store.Load(a.Key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	algorithm := a.algorithmName()
	if err := cp.CheckCompatible(algorithm, a.Scope, a.Params.Dim()); err != nil {
		var ie *store.InconsistencyError
		if errors.As(err, &ie) {
			slog.Warn("Checkpoint incompatible with configuration, restarting from iteration 0",
				"key", a.Key, "error", err)
			return 0, nil
		}
		return 0, err
	}

	if a.Strategy != nil && len(cp.State) > 0 {
		if err := a.Strategy.UnmarshalState(cp.State); err != nil {
			return 0, fmt.Errorf("failed to restore search state for %s: %w", a.Key, err)
		}
	}
	a.history = cp.History
	return cp.Iteration, nil
}

// runGeneration materializes every candidate into fresh run directories and
// executes the model, fanning (candidate, unit) pairs across the worker
// pool. Each pair is retried on model failure up to maxRunAttempts.
func (a *Agent) runGeneration(ctx context.Context, gen int, candidates []search.Candidate) (map[int]map[string]eval.Series, []store.IterationRecord, error) {
	pool := a.Pool
	if pool < 1 {
		pool = 1
	}
	sem := semaphore.NewWeighted(int64(pool))

	var mu sync.Mutex
	results := make([]runResult, 0, len(candidates)*len(a.Units))

	var g errgroup.Group
	for _, cand := range candidates {
		for _, unit := range a.Units {
			cand, unit := cand, unit
			g.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				r := a.runCandidate(ctx, gen, cand, unit)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
				return r.err
			})
		}
	}
	err := g.Wait()

	var failures []store.IterationRecord
	outputs := make(map[int]map[string]eval.Series, len(candidates))
	for _, r := range results {
		failures = append(failures, r.failures...)
		if r.err == nil {
			if outputs[r.candidate.Index] == nil {
				outputs[r.candidate.Index] = make(map[string]eval.Series, len(a.Units))
			}
			outputs[r.candidate.Index][r.unit.ID] = r.output
		}
	}
	if err != nil {
		return nil, failures, fmt.Errorf("unit %s: %w", a.Key, err)
	}
	return outputs, failures, nil
}

// runCandidate performs the model runs for one candidate in one unit's
// isolated run directory, retrying recoverable failures.
func (a *Agent) runCandidate(ctx context.Context, gen int, cand search.Candidate, unit *Unit) runResult {
	r := runResult{candidate: cand, unit: unit}

	values, err := a.candidateValues(cand)
	if err != nil {
		r.err = err
		return r
	}

	for attempt := 1; attempt <= maxRunAttempts; attempt++ {
		runDir, err := model.NewRunDir(a.Workdir, unit.ID, gen)
		if err != nil {
			r.err = err
			return r
		}
		if err := model.Materialize(runDir, values); err != nil {
			r.err = err
			return r
		}

		err = a.Driver.Run(ctx, runDir)
		if err == nil {
			output, rerr := model.ReadSeries(runDir + "/" + a.OutputFile)
			if rerr != nil {
				r.err = fmt.Errorf("failed to read model output: %w", rerr)
				return r
			}
			r.output = output
			return r
		}

		var runErr *model.RunError
		if !errors.As(err, &runErr) {
			// Startup failure or cancellation: not retryable.
			r.err = err
			return r
		}

		status := store.StatusFailed
		if runErr.Timeout {
			status = store.StatusTimeout
		}
		r.failures = append(r.failures, store.IterationRecord{
			Iteration: gen,
			Member:    cand.Index,
			Params:    values,
			Status:    status,
			Timestamp: time.Now(),
		})
		slog.Warn("Model run failed", "key", a.Key, "unit", unit.ID,
			"iteration", gen, "attempt", attempt, "error", err)
	}

	r.err = fmt.Errorf("model run for unit %s failed %d times at iteration %d", unit.ID, maxRunAttempts, gen)
	return r
}

// scoreGeneration evaluates candidate outputs against observations,
// aggregating across units by mean under shared scopes. Evaluation errors
// are fatal for the agent.
func (a *Agent) scoreGeneration(gen int, candidates []search.Candidate, outputs map[int]map[string]eval.Series) ([]search.Result, []store.IterationRecord, error) {
	results := make([]search.Result, 0, len(candidates))
	records := make([]store.IterationRecord, 0, len(candidates))

	for _, cand := range candidates {
		series, ok := outputs[cand.Index]
		if !ok || len(series) != len(a.Units) {
			return nil, nil, fmt.Errorf("missing model output for candidate %d at iteration %d", cand.Index, gen)
		}

		var sum float64
		for _, unit := range a.Units {
			score, err := a.Evaluator.Evaluate(series[unit.ID], unit.Observed)
			if err != nil {
				return nil, nil, err
			}
			sum += score
		}
		score := sum / float64(len(a.Units))

		values, err := a.candidateValues(cand)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, search.Result{Candidate: cand, Score: score})
		records = append(records, store.IterationRecord{
			Iteration: gen,
			Member:    cand.Index,
			Params:    values,
			Score:     score,
			Status:    store.StatusSuccess,
			Timestamp: time.Now(),
		})
	}
	return results, records, nil
}

// candidateValues maps a candidate vector into the full named parameter
// snapshot, fixed parameters included. A vector outside the declared
// bounds is a strategy defect and fails loudly.
func (a *Agent) candidateValues(cand search.Candidate) (map[string]float64, error) {
	set := a.Params.Clone()
	if err := set.SetVector(cand.Vector); err != nil {
		var be *param.BoundsError
		if errors.As(err, &be) {
			return nil, fmt.Errorf("strategy proposed out-of-bounds candidate: %w", err)
		}
		return nil, err
	}
	return set.Values(), nil
}

func (a *Agent) algorithmName() string {
	if a.Batch != nil {
		return string(search.MayflyAlgorithm)
	}
	return string(a.Strategy.Algorithm())
}

// checkpoint atomically persists the current search state and history.
func (a *Agent) checkpoint(iteration int) error {
	cp := store.NewCheckpoint(a.Key, a.algorithmName(), a.Scope, a.Params.Dim())
	cp.Iteration = iteration
	cp.History = a.history

	if a.Strategy != nil {
		state, err := a.Strategy.MarshalState()
		if err != nil {
			return fmt.Errorf("failed to serialize search state: %w", err)
		}
		cp.State = state
		if best, score, ok := a.Strategy.Best(); ok {
			cp.BestParams = a.vectorValues(best)
			cp.BestScore = score
		}
	} else if best, score, ok := a.bestFromHistory(); ok {
		cp.BestParams = best
		cp.BestScore = score
	}

	return a.Store.Save(cp)
}

// vectorValues names a free-parameter vector, merging in fixed values.
func (a *Agent) vectorValues(v []float64) map[string]float64 {
	set := a.Params.Clone()
	if err := set.SetVector(v); err != nil {
		// Best vectors come from accepted candidates, which were
		// bounds-checked on the way in.
		slog.Error("Best vector violates bounds", "key", a.Key, "error", err)
		return nil
	}
	return set.Values()
}

func (a *Agent) bestFromHistory() (map[string]float64, float64, bool) {
	best := math.Inf(1)
	var params map[string]float64
	for _, rec := range a.history {
		if rec.Status == store.StatusSuccess && rec.Score < best {
			best = rec.Score
			params = rec.Params
		}
	}
	return params, best, params != nil
}

// exportBest writes the best parameter set for downstream consumption
// (e.g., a validation run).
func (a *Agent) exportBest() error {
	var (
		values map[string]float64
		score  float64
		ok     bool
	)
	if a.Strategy != nil {
		var best []float64
		best, score, ok = a.Strategy.Best()
		if ok {
			values = a.vectorValues(best)
		}
	} else {
		values, score, ok = a.bestFromHistory()
	}
	if !ok {
		return fmt.Errorf("unit %s finished without a scored iteration", a.Key)
	}

	path := filepath.Join(a.Store.UnitDir(a.Key), "best_params.json")
	if err := model.WriteParams(path, values); err != nil {
		return err
	}
	slog.Info("Calibration complete", "key", a.Key, "best_score", score,
		"iterations", len(a.history))
	return nil
}
