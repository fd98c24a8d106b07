package calib

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/hydrocal/internal/eval"
	"github.com/cwbudde/hydrocal/internal/model"
	"github.com/cwbudde/hydrocal/internal/param"
	"github.com/cwbudde/hydrocal/internal/search"
	"github.com/cwbudde/hydrocal/internal/store"
)

var testTimes = []time.Time{
	time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2021, 6, 1, 1, 0, 0, 0, time.UTC),
	time.Date(2021, 6, 1, 2, 0, 0, 0, time.UTC),
	time.Date(2021, 6, 1, 3, 0, 0, 0, time.UTC),
}

func constantSeries(v float64) eval.Series {
	values := make([]float64, len(testTimes))
	for i := range values {
		values[i] = v
	}
	return eval.Series{Times: append([]time.Time(nil), testTimes...), Values: values}
}

func sse(observed, simulated []float64) float64 {
	var s float64
	for i := range observed {
		d := observed[i] - simulated[i]
		s += d * d
	}
	return s
}

// fakeDriver simulates a model whose output is a constant series equal to
// the parameter "k". It records the parameters it saw per run directory.
type fakeDriver struct {
	mu   sync.Mutex
	seen map[string]map[string]float64

	failWith  error // returned instead of producing output, when set
	failFirst int   // only fail the first N calls (0 = every call)
	calls     int
}

func (d *fakeDriver) Run(ctx context.Context, runDir string) error {
	params, err := model.ReadParams(runDir)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.seen == nil {
		d.seen = make(map[string]map[string]float64)
	}
	d.seen[runDir] = params
	d.calls++
	call := d.calls
	d.mu.Unlock()

	if d.failWith != nil && (d.failFirst == 0 || call <= d.failFirst) {
		return d.failWith
	}

	var sb strings.Builder
	sb.WriteString("time,flow\n")
	for _, ts := range testTimes {
		fmt.Fprintf(&sb, "%s,%g\n", ts.Format(time.RFC3339), params["k"])
	}
	return os.WriteFile(filepath.Join(runDir, "output.csv"), []byte(sb.String()), 0644)
}

// unitEchoDriver emits each unit's own target value as its output series,
// regardless of the candidate parameters. A per-unit delay shuffles worker
// completion order.
type unitEchoDriver struct {
	values map[string]float64
	delay  map[string]time.Duration
}

func (d *unitEchoDriver) Run(ctx context.Context, runDir string) error {
	unit := strings.SplitN(filepath.Base(runDir), "_", 2)[0]
	if dly := d.delay[unit]; dly > 0 {
		time.Sleep(dly)
	}
	var sb strings.Builder
	sb.WriteString("time,flow\n")
	for _, ts := range testTimes {
		fmt.Fprintf(&sb, "%s,%g\n", ts.Format(time.RFC3339), d.values[unit])
	}
	return os.WriteFile(filepath.Join(runDir, "output.csv"), []byte(sb.String()), 0644)
}

func testParamSet(t *testing.T) *param.Set {
	t.Helper()
	set, err := param.NewSet([]param.Parameter{
		{Name: "k", Min: 0, Max: 10, Value: 8},
		{Name: "c", Min: 0, Max: 4, Value: 2, Fixed: true},
	})
	require.NoError(t, err)
	return set
}

// newTestAgent wires a single-unit DDS agent against a fake driver. budget
// is the number of generations the loop runs; the DDS inclusion schedule is
// fixed at fullBudget so partial and full runs share one trajectory.
func newTestAgent(t *testing.T, dir string, driver model.Driver, budget, fullBudget int, seed int64) *Agent {
	t.Helper()
	set := testParamSet(t)
	st, err := store.NewFSStore(filepath.Join(dir, "state"))
	require.NoError(t, err)
	lower, upper := set.Bounds()
	return &Agent{
		Key:        "cat-01",
		Units:      []*Unit{{ID: "cat-01", Observed: constantSeries(3)}},
		Params:     set,
		Strategy:   search.NewDDS(seed, fullBudget, 0.2, lower, upper, set.Vector()),
		Driver:     driver,
		Store:      st,
		Evaluator:  &eval.Evaluator{Objective: sse, Direction: eval.Minimize},
		Tracker:    NewTracker(false, 0, 0),
		Workdir:    filepath.Join(dir, "runs"),
		OutputFile: "output.csv",
		Scope:      "independent",
		Budget:     budget,
		Pool:       2,
	}
}

func TestAgentRunCompletesAndCheckpoints(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, dir, &fakeDriver{}, 6, 6, 42)

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, StateConverged, a.CurrentState())

	// One success record per generation, all with finite in-bounds params.
	require.Len(t, a.History(), 6)
	for _, rec := range a.History() {
		assert.Equal(t, store.StatusSuccess, rec.Status)
		assert.False(t, math.IsNaN(rec.Score) || math.IsInf(rec.Score, 0))
		assert.GreaterOrEqual(t, rec.Params["k"], 0.0)
		assert.LessOrEqual(t, rec.Params["k"], 10.0)
		assert.Equal(t, 2.0, rec.Params["c"], "fixed parameter must not move")
	}

	cp, err := a.Store.Load("cat-01")
	require.NoError(t, err)
	assert.Equal(t, 6, cp.Iteration)
	assert.Equal(t, "dds", cp.Algorithm)
	assert.LessOrEqual(t, cp.BestScore, a.History()[0].Score,
		"best must be at least as good as the baseline")

	// Best parameters are exported next to the checkpoint.
	_, err = os.Stat(filepath.Join(a.Store.UnitDir("cat-01"), "best_params.json"))
	require.NoError(t, err)
}

func TestAgentRecordsFailedRunsAndAborts(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{failWith: &model.RunError{ExitCode: 1}}
	a := newTestAgent(t, dir, driver, 4, 4, 42)

	err := a.Run(context.Background())
	require.Error(t, err)

	// Every attempt leaves a failed record, and none carries a score.
	require.Len(t, a.History(), maxRunAttempts)
	for _, rec := range a.History() {
		assert.Equal(t, store.StatusFailed, rec.Status)
		assert.Zero(t, rec.Score)
		assert.Equal(t, 0, rec.Iteration)
	}

	// The failure records survive in the checkpoint.
	cp, lerr := a.Store.Load("cat-01")
	require.NoError(t, lerr)
	assert.Equal(t, 0, cp.Iteration)
	assert.Len(t, cp.History, maxRunAttempts)
}

func TestAgentRetriesTransientFailure(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{failWith: &model.RunError{ExitCode: 137}, failFirst: 1}
	a := newTestAgent(t, dir, driver, 2, 2, 42)

	require.NoError(t, a.Run(context.Background()))

	var failed, succeeded int
	for _, rec := range a.History() {
		switch rec.Status {
		case store.StatusFailed:
			failed++
		case store.StatusSuccess:
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, succeeded)
}

func TestAgentTimeoutStatus(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{failWith: &model.RunError{Timeout: true}}
	a := newTestAgent(t, dir, driver, 2, 2, 42)

	require.Error(t, a.Run(context.Background()))
	require.NotEmpty(t, a.History())
	for _, rec := range a.History() {
		assert.Equal(t, store.StatusTimeout, rec.Status)
	}
}

func TestAgentStartupFailureNotRetried(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{failWith: errors.New("executable file not found")}
	a := newTestAgent(t, dir, driver, 2, 2, 42)

	require.Error(t, a.Run(context.Background()))
	assert.Equal(t, 1, driver.calls, "non-model failures must not be retried")
	assert.Empty(t, a.History())
}

func TestAgentResumeMatchesUninterruptedRun(t *testing.T) {
	const full = 8

	// Uninterrupted reference run.
	ref := newTestAgent(t, t.TempDir(), &fakeDriver{}, full, full, 7)
	require.NoError(t, ref.Run(context.Background()))
	refCp, err := ref.Store.Load("cat-01")
	require.NoError(t, err)

	// Interrupted run: first half, then a fresh agent resumes from the
	// checkpoint and finishes the budget.
	dir := t.TempDir()
	first := newTestAgent(t, dir, &fakeDriver{}, full/2, full, 7)
	require.NoError(t, first.Run(context.Background()))

	second := newTestAgent(t, dir, &fakeDriver{}, full, full, 7)
	require.NoError(t, second.Run(context.Background()))
	resCp, err := second.Store.Load("cat-01")
	require.NoError(t, err)

	assert.Equal(t, refCp.Iteration, resCp.Iteration)
	assert.InDelta(t, refCp.BestScore, resCp.BestScore, 1e-12)
	assert.InDeltaMapValues(t, refCp.BestParams, resCp.BestParams, 1e-12)
	require.Len(t, resCp.History, len(refCp.History))
	for i := range refCp.History {
		assert.InDelta(t, refCp.History[i].Score, resCp.History[i].Score, 1e-12,
			"iteration %d diverged after resume", i)
	}
}

func TestAgentIncompatibleCheckpointRestartsFromZero(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, dir, &fakeDriver{}, 3, 3, 42)

	// Seed a checkpoint from a different algorithm under the same key.
	stale := store.NewCheckpoint("cat-01", "pso", "independent", a.Params.Dim())
	stale.Iteration = 2
	stale.History = []store.IterationRecord{{Iteration: 0, Status: store.StatusSuccess, Score: 1}}
	require.NoError(t, a.Store.Save(stale))

	require.NoError(t, a.Run(context.Background()))

	cp, err := a.Store.Load("cat-01")
	require.NoError(t, err)
	assert.Equal(t, "dds", cp.Algorithm)
	assert.Equal(t, 3, cp.Iteration)
	assert.Len(t, cp.History, 3, "stale history must be discarded")
}

func TestAgentUniformScopeSharesParameters(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{}
	a := newTestAgent(t, dir, driver, 3, 3, 42)
	a.Key = "basin"
	a.Scope = "uniform"
	a.Units = []*Unit{
		{ID: "cat-01", Observed: constantSeries(3)},
		{ID: "cat-02", Observed: constantSeries(5)},
	}

	require.NoError(t, a.Run(context.Background()))

	// Group the materialized parameters by iteration: both units must have
	// received the identical candidate each time.
	byIter := make(map[string]map[string]map[string]float64) // iter -> unit -> params
	for runDir, params := range driver.seen {
		name := filepath.Base(runDir)
		parts := strings.Split(name, "_")
		require.Len(t, parts, 3)
		unit, iter := parts[0], parts[1]
		if byIter[iter] == nil {
			byIter[iter] = make(map[string]map[string]float64)
		}
		byIter[iter][unit] = params
	}
	require.Len(t, byIter, 3)
	for iter, units := range byIter {
		require.Len(t, units, 2, "iteration %s must run every unit", iter)
		assert.Equal(t, units["cat-01"], units["cat-02"],
			"units diverged at iteration %s", iter)
	}

	// The mean score across both units drives the shared search state.
	cp, err := a.Store.Load("basin")
	require.NoError(t, err)
	assert.Equal(t, "uniform", cp.Scope)
	k := cp.BestParams["k"]
	want := sse([]float64{3, 3, 3, 3}, []float64{k, k, k, k})/2 +
		sse([]float64{5, 5, 5, 5}, []float64{k, k, k, k})/2
	assert.InDelta(t, want, cp.BestScore, 1e-9)
}

func TestAgentScoresEachUnitAgainstOwnObservations(t *testing.T) {
	dir := t.TempDir()
	// Each unit's simulated output matches its own observations exactly, so
	// the mean score is zero only when outputs are paired with the right
	// unit. The first unit finishes last, so completion order differs from
	// declaration order.
	driver := &unitEchoDriver{
		values: map[string]float64{"cat-01": 3, "cat-02": 5},
		delay:  map[string]time.Duration{"cat-01": 50 * time.Millisecond},
	}
	a := newTestAgent(t, dir, driver, 2, 2, 42)
	a.Key = "basin"
	a.Scope = "uniform"
	a.Units = []*Unit{
		{ID: "cat-01", Observed: constantSeries(3)},
		{ID: "cat-02", Observed: constantSeries(5)},
	}

	require.NoError(t, a.Run(context.Background()))

	cp, err := a.Store.Load("basin")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, cp.BestScore, 1e-12,
		"outputs paired with the wrong unit's observations")
	for _, rec := range a.History() {
		assert.InDelta(t, 0.0, rec.Score, 1e-12)
	}
}

func TestAgentPSOGenerationRecordsEveryParticle(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, dir, &fakeDriver{}, 1, 1, 42)
	lower, upper := a.Params.Bounds()
	a.Strategy = search.NewPSO(42, 4, search.PSOOptions{}, lower, upper)

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, a.History(), 4, "one record per particle")
	min := math.Inf(1)
	for _, rec := range a.History() {
		assert.Equal(t, store.StatusSuccess, rec.Status)
		if rec.Score < min {
			min = rec.Score
		}
	}

	cp, err := a.Store.Load("cat-01")
	require.NoError(t, err)
	assert.Equal(t, "pso", cp.Algorithm)
	assert.InDelta(t, min, cp.BestScore, 1e-12, "global best is the generation minimum")
}

func TestAgentContextCancellation(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, dir, &fakeDriver{}, 5, 5, 42)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
