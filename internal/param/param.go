// Package param defines the calibratable parameter model: named, bounded
// values that search strategies adjust between model runs.
package param

import (
	"fmt"
	"math"
)

// Parameter is a single calibratable value with inclusive bounds.
// Fixed parameters keep their initial value and are excluded from search.
type Parameter struct {
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Value float64 `json:"value"`
	Fixed bool    `json:"fixed,omitempty"`
}

// BoundsError reports an attempt to set a parameter outside its bounds,
// or bounds that are themselves invalid. Inside a search strategy this is
// always a defect, never an expected condition.
type BoundsError struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("bounds violation: %s=%g outside [%g, %g]", e.Name, e.Value, e.Min, e.Max)
}

// Set holds an ordered collection of parameters scoped to one calibration
// unit (or shared across units, depending on strategy scope). Order is the
// declaration order and is preserved through vector conversion.
type Set struct {
	params []Parameter
	index  map[string]int
}

// NewSet builds a parameter set, validating bounds and initial values.
func NewSet(params []Parameter) (*Set, error) {
	s := &Set{
		params: make([]Parameter, len(params)),
		index:  make(map[string]int, len(params)),
	}
	for i, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d has no name", i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		if p.Min > p.Max || math.IsNaN(p.Min) || math.IsNaN(p.Max) {
			return nil, &BoundsError{Name: p.Name, Value: p.Value, Min: p.Min, Max: p.Max}
		}
		if p.Value < p.Min || p.Value > p.Max {
			return nil, &BoundsError{Name: p.Name, Value: p.Value, Min: p.Min, Max: p.Max}
		}
		s.params[i] = p
		s.index[p.Name] = i
	}
	return s, nil
}

// Len returns the total number of parameters, fixed ones included.
func (s *Set) Len() int { return len(s.params) }

// Dim returns the number of free (searchable) dimensions.
func (s *Set) Dim() int {
	n := 0
	for _, p := range s.params {
		if !p.Fixed {
			n++
		}
	}
	return n
}

// Get returns the parameter with the given name.
func (s *Set) Get(name string) (Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return Parameter{}, false
	}
	return s.params[i], true
}

// Set assigns a value to the named parameter, rejecting out-of-bounds
// values and mutation of fixed parameters.
func (s *Set) Set(name string, value float64) error {
	i, ok := s.index[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	p := &s.params[i]
	if p.Fixed {
		return fmt.Errorf("parameter %q is fixed", name)
	}
	if value < p.Min || value > p.Max || math.IsNaN(value) {
		return &BoundsError{Name: p.Name, Value: value, Min: p.Min, Max: p.Max}
	}
	p.Value = value
	return nil
}

// Bounds returns the lower and upper bound vectors of the free parameters,
// in declaration order.
func (s *Set) Bounds() (lower, upper []float64) {
	lower = make([]float64, 0, s.Dim())
	upper = make([]float64, 0, s.Dim())
	for _, p := range s.params {
		if p.Fixed {
			continue
		}
		lower = append(lower, p.Min)
		upper = append(upper, p.Max)
	}
	return lower, upper
}

// Vector returns the current values of the free parameters in declaration
// order, for consumption by search algorithms.
func (s *Set) Vector() []float64 {
	v := make([]float64, 0, s.Dim())
	for _, p := range s.params {
		if !p.Fixed {
			v = append(v, p.Value)
		}
	}
	return v
}

// SetVector assigns the free parameters from a vector produced by Vector.
// Every element is bounds-checked before any assignment takes effect.
func (s *Set) SetVector(v []float64) error {
	if len(v) != s.Dim() {
		return fmt.Errorf("vector length %d does not match %d free parameters", len(v), s.Dim())
	}
	j := 0
	for _, p := range s.params {
		if p.Fixed {
			continue
		}
		if v[j] < p.Min || v[j] > p.Max || math.IsNaN(v[j]) {
			return &BoundsError{Name: p.Name, Value: v[j], Min: p.Min, Max: p.Max}
		}
		j++
	}
	j = 0
	for i := range s.params {
		if s.params[i].Fixed {
			continue
		}
		s.params[i].Value = v[j]
		j++
	}
	return nil
}

// Values returns a name-to-value snapshot of all parameters, fixed ones
// included. This is what gets materialized into a run directory and
// persisted in iteration history.
func (s *Set) Values() map[string]float64 {
	m := make(map[string]float64, len(s.params))
	for _, p := range s.params {
		m[p.Name] = p.Value
	}
	return m
}

// Clone returns an independent deep copy.
func (s *Set) Clone() *Set {
	c := &Set{
		params: append([]Parameter(nil), s.params...),
		index:  make(map[string]int, len(s.index)),
	}
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

// Names returns all parameter names in declaration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}
