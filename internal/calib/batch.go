package calib

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/hydrocal/internal/search"
	"github.com/cwbudde/hydrocal/internal/store"
)

// runBatch drives a library-owned optimizer (mayfly) through the same
// run/evaluate/record pipeline as the stepwise strategies. The library
// calls back once per candidate evaluation; each call performs a full
// model run, appends history, and checkpoints. Population state lives
// inside the library and is not restorable, so a resumed run restarts the
// search while the checkpointed history keeps the best ever seen.
func (a *Agent) runBatch(ctx context.Context, trace *store.TraceWriter) error {
	lower, upper := a.Params.Bounds()
	iter := len(a.history)

	var fatal error
	cost := func(v []float64) float64 {
		if fatal != nil || ctx.Err() != nil {
			return math.Inf(1)
		}
		cand := search.Candidate{Vector: v}

		a.transition(StateRunning)
		outputs, failures, err := a.runGeneration(ctx, iter, []search.Candidate{cand})
		a.history = append(a.history, failures...)
		if err != nil {
			fatal = err
			return math.Inf(1)
		}

		a.transition(StateEvaluating)
		results, records, err := a.scoreGeneration(iter, []search.Candidate{cand}, outputs)
		if err != nil {
			fatal = err
			return math.Inf(1)
		}

		a.transition(StateRecording)
		a.history = append(a.history, records...)
		if err := a.checkpoint(iter + 1); err != nil {
			fatal = err
			return math.Inf(1)
		}
		iter++

		if _, best, ok := a.bestFromHistory(); ok {
			if err := trace.Write(store.TraceEntry{
				Iteration: iter - 1,
				BestScore: best,
				Timestamp: time.Now(),
			}); err != nil {
				slog.Warn("Failed to write trace entry", "key", a.Key, "iteration", iter-1, "error", err)
			}
		}
		return results[0].Score
	}

	a.transition(StateProposing)
	a.Batch.Run(cost, lower, upper, a.Params.Dim())
	if fatal != nil {
		return fatal
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.transition(StateConverged)
	return a.exportBest()
}
