package calib

import "math"

// Tracker detects when a calibration has stopped making meaningful
// progress: the run converges once the best score has failed to improve by
// at least Threshold (relative) for Patience consecutive iterations. A
// disabled tracker never fires; the iteration budget is always the hard
// stop.
type Tracker struct {
	Enabled   bool
	Patience  int
	Threshold float64

	lastSignificant float64
	stale           int
}

// NewTracker creates a convergence tracker.
func NewTracker(enabled bool, patience int, threshold float64) *Tracker {
	return &Tracker{
		Enabled:         enabled,
		Patience:        patience,
		Threshold:       threshold,
		lastSignificant: math.Inf(1),
	}
}

// Update records the best score after an iteration and reports whether the
// minimum-improvement criterion has been met.
func (t *Tracker) Update(best float64) bool {
	if t == nil || !t.Enabled {
		return false
	}
	improvement := t.lastSignificant - best
	if math.IsInf(t.lastSignificant, 1) ||
		improvement >= t.Threshold*math.Abs(t.lastSignificant) {
		t.lastSignificant = best
		t.stale = 0
		return false
	}
	t.stale++
	return t.stale >= t.Patience
}
