// Package returns holds the dated return matrix consumed by the engine.
// Loading and resampling of raw time series is an external concern; the
// engine only requires that columns are aligned to the asset universe.
package returns

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/convexfolio/convexfolio/internal/modules/spec"
)

// Sample is an ordered sequence of dated return vectors: one row per
// observation period, one column per asset. It is read-only after
// construction and safe to share across concurrent solves.
type Sample struct {
	symbols []string
	dates   []time.Time
	data    *mat.Dense // T×n
}

// New builds a sample from per-period return rows. Dates must be strictly
// increasing and each row must carry one value per symbol.
func New(symbols []string, dates []time.Time, rows [][]float64) (*Sample, error) {
	n := len(symbols)
	if n == 0 {
		return nil, fmt.Errorf("%w: return sample with no assets", spec.ErrValidation)
	}
	if len(dates) != len(rows) {
		return nil, fmt.Errorf("%w: %d dates for %d return rows", spec.ErrValidation, len(dates), len(rows))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty return sample", spec.ErrValidation)
	}

	data := mat.NewDense(len(rows), n, nil)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", spec.ErrValidation, i, len(row), n)
		}
		if i > 0 && !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("%w: dates not strictly increasing at row %d", spec.ErrValidation, i)
		}
		data.SetRow(i, row)
	}

	return &Sample{
		symbols: append([]string(nil), symbols...),
		dates:   append([]time.Time(nil), dates...),
		data:    data,
	}, nil
}

// Len returns the number of observation periods.
func (s *Sample) Len() int {
	return len(s.dates)
}

// NumAssets returns the number of columns.
func (s *Sample) NumAssets() int {
	return len(s.symbols)
}

// Symbols returns a copy of the column ordering.
func (s *Sample) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Date returns the date of observation i.
func (s *Sample) Date(i int) time.Time {
	return s.dates[i]
}

// Dates returns a copy of the date index.
func (s *Sample) Dates() []time.Time {
	return append([]time.Time(nil), s.dates...)
}

// Window is a read-only view over the observation rows [Start, End).
type Window struct {
	Start, End int
	matrix     mat.Matrix
}

// Window slices the rows [start, end). Any missing (NaN/Inf) value inside
// the window is a hard precondition violation, per the engine contract.
func (s *Sample) Window(start, end int) (Window, error) {
	if start < 0 || end > s.Len() || start >= end {
		return Window{}, fmt.Errorf("%w: window [%d, %d) outside sample of %d observations",
			spec.ErrValidation, start, end, s.Len())
	}
	view := s.data.Slice(start, end, 0, s.NumAssets())
	r, c := view.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := view.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return Window{}, fmt.Errorf("%w: non-finite return for %s at %s",
					spec.ErrValidation, s.symbols[j], s.dates[start+i].Format("2006-01-02"))
			}
		}
	}
	return Window{Start: start, End: end, matrix: view}, nil
}

// Full returns a window spanning the whole sample.
func (s *Sample) Full() (Window, error) {
	return s.Window(0, s.Len())
}

// Matrix returns the T×n return view of the window.
func (w Window) Matrix() mat.Matrix {
	return w.matrix
}

// Observations returns the number of rows in the window.
func (w Window) Observations() int {
	if w.matrix == nil {
		return 0
	}
	r, _ := w.matrix.Dims()
	return r
}

// AlignTo checks that the sample's column ordering matches the model's
// universe, the stable-ordering invariant shared by every weight vector in
// one run.
func (s *Sample) AlignTo(m spec.Model) error {
	if s.NumAssets() != m.NumAssets() {
		return fmt.Errorf("%w: sample has %d assets, model has %d", spec.ErrValidation, s.NumAssets(), m.NumAssets())
	}
	for i, sym := range s.symbols {
		if j, ok := m.Index(sym); !ok || j != i {
			return fmt.Errorf("%w: sample column %d (%s) does not match model universe", spec.ErrValidation, i, sym)
		}
	}
	return nil
}
