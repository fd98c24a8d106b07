package calib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/hydrocal/internal/config"
	"github.com/cwbudde/hydrocal/internal/eval"
	"github.com/cwbudde/hydrocal/internal/search"
)

func init() {
	eval.Register("sse", sse)
}

func writeObserved(t *testing.T, dir, name string, v float64) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("time,flow\n")
	for _, ts := range testTimes {
		fmt.Fprintf(&sb, "%s,%g\n", ts.Format(time.RFC3339), v)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
	return path
}

func scopedConfig(t *testing.T, dir, scope, extra string) *config.Config {
	t.Helper()
	obs1 := writeObserved(t, dir, "cat-01.csv", 3)
	obs2 := writeObserved(t, dir, "cat-02.csv", 5)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
general:
  workdir: %s
  iterations: 4
  seed: 11
strategy:
  scope: %s
%s
algorithm:
  name: dds
objective:
  name: sse
  direction: minimize
model:
  binary: /usr/bin/true
  output_file: output.csv
units:
  - id: cat-01
    observed: %s
    parameters:
      - {name: k, min: 0, max: 10, init: 8}
  - id: cat-02
    observed: %s
    parameters:
      - {name: k, min: 0, max: 10, init: 8}
`, dir, scope, extra, obs1, obs2)))
	require.NoError(t, err)
	return cfg
}

func TestNewIndependentScope(t *testing.T) {
	cfg := scopedConfig(t, t.TempDir(), "independent", "")
	r, err := New(cfg)
	require.NoError(t, err)

	agents := r.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "cat-01", agents[0].Key)
	assert.Equal(t, "cat-02", agents[1].Key)
	for _, a := range agents {
		assert.Len(t, a.Units, 1)
		assert.Equal(t, 5, a.Budget, "dds runs a baseline generation plus the budget")
		assert.IsType(t, &search.DDS{}, a.Strategy)
	}
}

func TestNewUniformScope(t *testing.T) {
	cfg := scopedConfig(t, t.TempDir(), "uniform", "")
	r, err := New(cfg)
	require.NoError(t, err)

	agents := r.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, UniformKey, agents[0].Key)
	assert.Len(t, agents[0].Units, 2)
}

func TestNewExplicitScope(t *testing.T) {
	groups := `  groups:
    - name: upstream
      units: [cat-01]
    - name: downstream
      units: [cat-02]
`
	cfg := scopedConfig(t, t.TempDir(), "explicit", groups)
	r, err := New(cfg)
	require.NoError(t, err)

	agents := r.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "upstream", agents[0].Key)
	assert.Equal(t, "downstream", agents[1].Key)
}

func TestNewUniformScopeRejectsMismatchedParameters(t *testing.T) {
	dir := t.TempDir()
	cfg := scopedConfig(t, dir, "uniform", "")
	cfg.Units[1].Parameters[0].Max = 20 // diverge after validation

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differs from")
}

func TestNewMissingObservations(t *testing.T) {
	dir := t.TempDir()
	cfg := scopedConfig(t, dir, "independent", "")
	cfg.Units[0].Observed = filepath.Join(dir, "does-not-exist.csv")

	_, err := New(cfg)
	require.Error(t, err)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
}

func TestBuildStrategyPerAlgorithm(t *testing.T) {
	set := testParamSet(t)
	cfg := &config.Config{
		General:   config.General{Iterations: 10},
		Algorithm: config.Algorithm{Particles: 4},
	}

	cfg.Algorithm.Name = "pso"
	s, batch, budget, err := buildStrategy(cfg, set, 1)
	require.NoError(t, err)
	assert.IsType(t, &search.PSO{}, s)
	assert.Nil(t, batch)
	assert.Equal(t, 10, budget)

	cfg.Algorithm.Name = "gwo"
	s, _, _, err = buildStrategy(cfg, set, 1)
	require.NoError(t, err)
	assert.IsType(t, &search.GWO{}, s)

	cfg.Algorithm.Name = "mayfly"
	s, batch, _, err = buildStrategy(cfg, set, 1)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NotNil(t, batch)

	cfg.Algorithm.Name = "simplex"
	_, _, _, err = buildStrategy(cfg, set, 1)
	require.Error(t, err)
}

func TestExecuteEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	obs := writeObserved(t, dir, "cat-01.csv", 3)

	// The model is a shell one-liner that emits a fixed output series into
	// its run directory.
	var sb strings.Builder
	sb.WriteString("time,flow\n")
	for _, ts := range testTimes {
		fmt.Fprintf(&sb, "%s,2\n", ts.Format(time.RFC3339))
	}

	cfg := &config.Config{
		General: config.General{
			Workdir:    dir,
			StateDir:   filepath.Join(dir, "state"),
			Iterations: 2,
			Seed:       3,
		},
		Strategy:  config.Strategy{Scope: config.ScopeIndependent},
		Algorithm: config.Algorithm{Name: "dds", Neighborhood: 0.2, Pool: 2},
		Objective: config.Objective{Name: "sse", Direction: "minimize"},
		Model: config.Model{
			Binary:     "sh",
			Args:       []string{"-c", `printf '%s' "$0" > output.csv`, sb.String()},
			OutputFile: "output.csv",
		},
		Units: []config.Unit{{
			ID:       "cat-01",
			Observed: obs,
			Parameters: []config.UnitParameter{
				{Name: "k", Min: 0, Max: 10, Init: 8},
			},
		}},
	}

	r, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Execute(context.Background()))

	cp, err := r.Agents()[0].Store.Load("cat-01")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Iteration)
	// Constant output of 2 against constant observations of 3: SSE of 1 per
	// point over four points.
	assert.InDelta(t, 4.0, cp.BestScore, 1e-9)

	_, err = os.Stat(filepath.Join(r.Agents()[0].Store.UnitDir("cat-01"), "best_params.json"))
	require.NoError(t, err)
}
