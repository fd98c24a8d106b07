// Package eval scores simulated model output against observations over an
// explicit evaluation window. The statistical metrics themselves are
// supplied by the caller; this package owns alignment, windowing, and
// normalization of the optimization direction so every search strategy
// minimizes.
package eval

import (
	"fmt"
	"sort"
	"time"
)

// Series is a time-indexed scalar series, ordered by time.
type Series struct {
	Times  []time.Time
	Values []float64
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Times) }

// Window is a half-open [Start, Stop) evaluation interval.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Contains reports whether t falls inside the window. A zero window
// contains everything.
func (w Window) Contains(t time.Time) bool {
	if w.Start.IsZero() && w.Stop.IsZero() {
		return true
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.Stop.IsZero() && !t.Before(w.Stop) {
		return false
	}
	return true
}

// Error reports that no meaningful score can be produced for a unit:
// observations are missing or the simulated and observed windows do not
// overlap. It is fatal for the owning calibration unit.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "evaluation error: " + e.Reason }

// Direction declares whether an objective is better when smaller or larger.
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// ObjectiveFunc computes a scalar score from aligned observed and simulated
// values. Metric math (KGE, NSE, ...) lives outside the engine; callers
// register the functions they need.
type ObjectiveFunc func(observed, simulated []float64) float64

var objectives = map[string]ObjectiveFunc{}

// Register makes an objective function selectable by name in the
// calibration configuration. Later registrations replace earlier ones.
func Register(name string, fn ObjectiveFunc) {
	objectives[name] = fn
}

// Lookup returns the registered objective function for name.
func Lookup(name string) (ObjectiveFunc, bool) {
	fn, ok := objectives[name]
	return fn, ok
}

// Evaluator scores simulated output against a fixed observed series.
// The direction is normalized internally by negation, so callers always
// treat smaller scores as better.
type Evaluator struct {
	Objective ObjectiveFunc
	Direction Direction
	Window    Window
}

// Evaluate inner-joins the simulated and observed series on timestamps,
// restricts the join to the evaluation window, and applies the objective.
func (e *Evaluator) Evaluate(simulated, observed Series) (float64, error) {
	if observed.Len() == 0 {
		return 0, &Error{Reason: "no observed data"}
	}
	if simulated.Len() == 0 {
		return 0, &Error{Reason: "no simulated output"}
	}
	obs, sim := align(observed, simulated, e.Window)
	if len(obs) == 0 {
		return 0, &Error{Reason: "simulated and observed time indices do not overlap in the evaluation window"}
	}
	score := e.Objective(obs, sim)
	if e.Direction == Maximize {
		score = -score
	}
	return score, nil
}

// align pairs values whose timestamps match exactly, keeping only points
// inside the window. Both inputs are assumed time-ordered.
func align(observed, simulated Series, w Window) (obs, sim []float64) {
	idx := make(map[int64]float64, observed.Len())
	for i, t := range observed.Times {
		if w.Contains(t) {
			idx[t.UnixNano()] = observed.Values[i]
		}
	}
	keys := make([]int64, 0, simulated.Len())
	pairs := make(map[int64][2]float64, simulated.Len())
	for i, t := range simulated.Times {
		if !w.Contains(t) {
			continue
		}
		k := t.UnixNano()
		if o, ok := idx[k]; ok {
			pairs[k] = [2]float64{o, simulated.Values[i]}
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	obs = make([]float64, len(keys))
	sim = make([]float64, len(keys))
	for i, k := range keys {
		obs[i] = pairs[k][0]
		sim[i] = pairs[k][1]
	}
	return obs, sim
}

// ParseDirection converts a configuration string to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Minimize, Maximize:
		return Direction(s), nil
	case "":
		return Minimize, nil
	default:
		return "", fmt.Errorf("unknown objective direction %q", s)
	}
}
