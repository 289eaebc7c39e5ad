package returns

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convexfolio/convexfolio/internal/modules/spec"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestNew_Validation(t *testing.T) {
	dates := []time.Time{day(0), day(1)}

	_, err := New(nil, dates, [][]float64{{0.01}, {0.02}})
	assert.ErrorIs(t, err, spec.ErrValidation, "no assets")

	_, err = New([]string{"A"}, dates, [][]float64{{0.01}})
	assert.ErrorIs(t, err, spec.ErrValidation, "date/row count mismatch")

	_, err = New([]string{"A", "B"}, dates, [][]float64{{0.01, 0.02}, {0.01}})
	assert.ErrorIs(t, err, spec.ErrValidation, "short row")

	_, err = New([]string{"A"}, []time.Time{day(1), day(0)}, [][]float64{{0.01}, {0.02}})
	assert.ErrorIs(t, err, spec.ErrValidation, "dates out of order")

	_, err = New([]string{"A"}, []time.Time{day(0), day(0)}, [][]float64{{0.01}, {0.02}})
	assert.ErrorIs(t, err, spec.ErrValidation, "duplicate dates")
}

func TestWindow_Slicing(t *testing.T) {
	s, err := New([]string{"A", "B"},
		[]time.Time{day(0), day(1), day(2)},
		[][]float64{{0.01, 0.02}, {0.03, 0.04}, {0.05, 0.06}})
	require.NoError(t, err)

	w, err := s.Window(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Observations())
	assert.InDelta(t, 0.03, w.Matrix().At(0, 0), 1e-12)
	assert.InDelta(t, 0.06, w.Matrix().At(1, 1), 1e-12)

	full, err := s.Full()
	require.NoError(t, err)
	assert.Equal(t, 3, full.Observations())

	_, err = s.Window(2, 2)
	assert.ErrorIs(t, err, spec.ErrValidation, "empty window")
	_, err = s.Window(-1, 2)
	assert.ErrorIs(t, err, spec.ErrValidation)
	_, err = s.Window(0, 4)
	assert.ErrorIs(t, err, spec.ErrValidation)
}

func TestWindow_RejectsNonFiniteReturns(t *testing.T) {
	s, err := New([]string{"A"},
		[]time.Time{day(0), day(1), day(2)},
		[][]float64{{0.01}, {math.NaN()}, {0.02}})
	require.NoError(t, err)

	_, err = s.Window(1, 2)
	assert.ErrorIs(t, err, spec.ErrValidation)

	// A window that avoids the gap is fine.
	_, err = s.Window(0, 1)
	assert.NoError(t, err)
}

func TestAlignTo(t *testing.T) {
	s, err := New([]string{"A", "B"},
		[]time.Time{day(0)},
		[][]float64{{0.01, 0.02}})
	require.NoError(t, err)

	aligned, err := spec.New([]string{"A", "B"})
	require.NoError(t, err)
	assert.NoError(t, s.AlignTo(aligned))

	reordered, err := spec.New([]string{"B", "A"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.AlignTo(reordered), spec.ErrValidation)

	smaller, err := spec.New([]string{"A"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.AlignTo(smaller), spec.ErrValidation)
}

func TestSample_Accessors(t *testing.T) {
	s, err := New([]string{"A", "B"},
		[]time.Time{day(0), day(1)},
		[][]float64{{0.01, 0.02}, {0.03, 0.04}})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.NumAssets())
	assert.Equal(t, []string{"A", "B"}, s.Symbols())
	assert.Equal(t, day(1), s.Date(1))
	assert.Len(t, s.Dates(), 2)
}
