package param

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() []Parameter {
	return []Parameter{
		{Name: "Cgw", Min: 0, Max: 1, Value: 0.5},
		{Name: "expon", Min: 0, Max: 10, Value: 3},
		{Name: "Klf", Min: -5, Max: 5, Value: 0},
	}
}

func TestNewSet_Valid(t *testing.T) {
	s, err := NewSet(testParams())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, s.Dim())
}

func TestNewSet_InvalidBounds(t *testing.T) {
	_, err := NewSet([]Parameter{{Name: "bad", Min: 2, Max: 1, Value: 1.5}})
	var be *BoundsError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "bad", be.Name)
}

func TestNewSet_InitialOutOfBounds(t *testing.T) {
	_, err := NewSet([]Parameter{{Name: "x", Min: 0, Max: 1, Value: 2}})
	var be *BoundsError
	require.ErrorAs(t, err, &be)
}

func TestNewSet_Duplicate(t *testing.T) {
	_, err := NewSet([]Parameter{
		{Name: "x", Min: 0, Max: 1, Value: 0},
		{Name: "x", Min: 0, Max: 1, Value: 0},
	})
	require.Error(t, err)
}

func TestSet_RejectsOutOfBounds(t *testing.T) {
	s, err := NewSet(testParams())
	require.NoError(t, err)

	err = s.Set("Cgw", 1.5)
	var be *BoundsError
	require.ErrorAs(t, err, &be)

	// Value unchanged after rejected set.
	p, ok := s.Get("Cgw")
	require.True(t, ok)
	assert.Equal(t, 0.5, p.Value)
}

func TestSet_FixedNeverMutates(t *testing.T) {
	s, err := NewSet([]Parameter{
		{Name: "free", Min: 0, Max: 1, Value: 0.5},
		{Name: "pinned", Min: 0, Max: 1, Value: 0.25, Fixed: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Dim())
	require.Error(t, s.Set("pinned", 0.75))

	require.NoError(t, s.SetVector([]float64{0.9}))
	p, _ := s.Get("pinned")
	assert.Equal(t, 0.25, p.Value)
	p, _ = s.Get("free")
	assert.Equal(t, 0.9, p.Value)
}

func TestVectorRoundTrip(t *testing.T) {
	s, err := NewSet(testParams())
	require.NoError(t, err)

	v := s.Vector()
	assert.Equal(t, []float64{0.5, 3, 0}, v)

	require.NoError(t, s.SetVector([]float64{0.1, 9.5, -4}))
	assert.Equal(t, []float64{0.1, 9.5, -4}, s.Vector())
}

func TestSetVector_AllOrNothing(t *testing.T) {
	s, err := NewSet(testParams())
	require.NoError(t, err)

	// Second element out of bounds: nothing may be assigned.
	err = s.SetVector([]float64{0.9, 42, 0})
	require.Error(t, err)
	assert.Equal(t, []float64{0.5, 3, 0}, s.Vector())
}

func TestSetVector_LengthMismatch(t *testing.T) {
	s, err := NewSet(testParams())
	require.NoError(t, err)
	require.Error(t, s.SetVector([]float64{0.5}))
}

func TestClone_Independent(t *testing.T) {
	s, err := NewSet(testParams())
	require.NoError(t, err)

	c := s.Clone()
	require.NoError(t, c.Set("Cgw", 0.9))

	p, _ := s.Get("Cgw")
	assert.Equal(t, 0.5, p.Value)
}

func TestBoundsError_Unwrap(t *testing.T) {
	s, _ := NewSet(testParams())
	err := s.Set("expon", -1)
	assert.True(t, errors.As(err, new(*BoundsError)))
}
