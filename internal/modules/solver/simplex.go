package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/convexfolio/convexfolio/internal/modules/program"
)

// SimplexName is the registry name of the exact LP backend.
const SimplexName = "simplex"

// Simplex solves pure linear programs exactly with gonum's simplex method.
// The general-form program is lowered to standard form by hand: variables
// with a finite lower bound are shifted to the origin (x = LB + x'), finite
// upper bounds and G rows gain slack variables, and only genuinely free
// variables (t, kappa) are split into positive and negative parts. Shifting
// instead of splitting keeps the column set free of +/- pairs whose reduced
// costs cancel only in exact arithmetic; a blanket split makes the simplex
// chase ulp-sized phantom rays on any objective built from sample means.
type Simplex struct {
	// Tol is the simplex pivot tolerance. Zero selects gonum's default.
	Tol float64
}

// Name implements Backend.
func (s *Simplex) Name() string { return SimplexName }

// Supports implements Backend: LP only.
func (s *Simplex) Supports(c program.Class) bool { return c == program.ClassLP }

// Solve implements Backend.
func (s *Simplex) Solve(ctx context.Context, p *program.Program) (Solution, error) {
	if p.Class != program.ClassLP {
		return Solution{Status: StatusNumericalFailure},
			fmt.Errorf("%w: %s given %s program", ErrUnsupportedProblemClass, SimplexName, p.Class)
	}
	if err := ctx.Err(); err != nil {
		return Solution{Status: StatusTimeout}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	eqRows, eqRHS, infeasible := reduceEqualities(p.A, p.B)
	if infeasible {
		return Solution{Status: StatusInfeasible},
			fmt.Errorf("%w: %s: inconsistent equality rows", ErrInfeasible, SimplexName)
	}

	nv := p.NumVars

	// Column layout: shifted/split variable columns first, then one slack
	// per G row, then one slack per finite upper bound.
	shiftCol := make([]int, nv)
	posCol := make([]int, nv)
	negCol := make([]int, nv)
	ncols := 0
	nUB := 0
	for i := 0; i < nv; i++ {
		if math.IsInf(p.LB[i], -1) {
			shiftCol[i] = -1
			posCol[i] = ncols
			negCol[i] = ncols + 1
			ncols += 2
		} else {
			shiftCol[i] = ncols
			posCol[i], negCol[i] = -1, -1
			ncols++
		}
		if !math.IsInf(p.UB[i], 1) {
			nUB++
		}
	}

	mG := 0
	if p.G != nil {
		mG, _ = p.G.Dims()
	}
	nrows := len(eqRows) + mG + nUB
	ntotal := ncols + mG + nUB

	cStd := make([]float64, ntotal)
	var shift float64
	for i := 0; i < nv; i++ {
		if shiftCol[i] >= 0 {
			cStd[shiftCol[i]] = p.C[i]
			shift += p.C[i] * p.LB[i]
		} else {
			cStd[posCol[i]] = p.C[i]
			cStd[negCol[i]] = -p.C[i]
		}
	}

	if nrows == 0 {
		// No constraint rows at all: the LP over the orthant is unbounded
		// as soon as any column is profitable, otherwise the lower bounds
		// are the optimum.
		for _, v := range cStd {
			if v < 0 {
				return Solution{Status: StatusUnbounded},
					fmt.Errorf("%w: %s: no constraint rows limit the objective", ErrUnbounded, SimplexName)
			}
		}
		x := make([]float64, nv)
		for i := 0; i < nv; i++ {
			if shiftCol[i] >= 0 {
				x[i] = p.LB[i]
			}
		}
		return Solution{X: x, Objective: shift, Status: StatusOptimal, Backend: SimplexName}, nil
	}

	aStd := mat.NewDense(nrows, ntotal, nil)
	bStd := make([]float64, nrows)
	scatter := func(r int, coef []float64, rhs float64) {
		adj := rhs
		for i, v := range coef {
			if v == 0 {
				continue
			}
			if shiftCol[i] >= 0 {
				aStd.Set(r, shiftCol[i], v)
				adj -= v * p.LB[i]
			} else {
				aStd.Set(r, posCol[i], v)
				aStd.Set(r, negCol[i], -v)
			}
		}
		bStd[r] = adj
	}

	r := 0
	for k := range eqRows {
		scatter(r, eqRows[k], eqRHS[k])
		r++
	}
	for k := 0; k < mG; k++ {
		scatter(r, mat.Row(nil, k, p.G), p.H[k])
		aStd.Set(r, ncols+k, 1)
		r++
	}
	slack := ncols + mG
	for i := 0; i < nv; i++ {
		if math.IsInf(p.UB[i], 1) {
			continue
		}
		if shiftCol[i] >= 0 {
			aStd.Set(r, shiftCol[i], 1)
			bStd[r] = p.UB[i] - p.LB[i]
		} else {
			aStd.Set(r, posCol[i], 1)
			aStd.Set(r, negCol[i], -1)
			bStd[r] = p.UB[i]
		}
		aStd.Set(r, slack, 1)
		slack++
		r++
	}

	optF, optX, err := lp.Simplex(cStd, aStd, bStd, s.Tol, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return Solution{Status: StatusInfeasible}, fmt.Errorf("%w: %s: %v", ErrInfeasible, SimplexName, err)
		case errors.Is(err, lp.ErrUnbounded):
			return Solution{Status: StatusUnbounded}, fmt.Errorf("%w: %s: %v", ErrUnbounded, SimplexName, err)
		default:
			return Solution{Status: StatusNumericalFailure}, fmt.Errorf("%w: %s: %v", ErrNumericalFailure, SimplexName, err)
		}
	}

	x := make([]float64, nv)
	for i := 0; i < nv; i++ {
		if shiftCol[i] >= 0 {
			x[i] = p.LB[i] + optX[shiftCol[i]]
		} else {
			x[i] = optX[posCol[i]] - optX[negCol[i]]
		}
	}

	return Solution{X: x, Objective: optF + shift, Status: StatusOptimal, Backend: SimplexName}, nil
}

// reduceEqualities row-reduces [A | b] to full row rank before the standard
// form is assembled. Redundant rows (a repeated full-investment row, say)
// would otherwise make the simplex basis matrix singular. A dependent row
// whose right-hand side does not cancel proves the system inconsistent.
func reduceEqualities(a *mat.Dense, b []float64) ([][]float64, []float64, bool) {
	if a == nil {
		return nil, nil, false
	}
	m, n := a.Dims()
	rows := make([][]float64, m)
	rhs := make([]float64, m)
	for i := 0; i < m; i++ {
		rows[i] = mat.Row(nil, i, a)
		rhs[i] = b[i]
	}

	const eps = 1e-10
	rank := 0
	for col := 0; col < n && rank < m; col++ {
		pivot := -1
		best := eps
		for k := rank; k < m; k++ {
			if v := math.Abs(rows[k][col]); v > best {
				best, pivot = v, k
			}
		}
		if pivot < 0 {
			continue
		}
		rows[rank], rows[pivot] = rows[pivot], rows[rank]
		rhs[rank], rhs[pivot] = rhs[pivot], rhs[rank]
		for k := rank + 1; k < m; k++ {
			if rows[k][col] == 0 {
				continue
			}
			f := rows[k][col] / rows[rank][col]
			for j := col; j < n; j++ {
				rows[k][j] -= f * rows[rank][j]
			}
			rows[k][col] = 0
			rhs[k] -= f * rhs[rank]
		}
		rank++
	}

	for k := rank; k < m; k++ {
		if math.Abs(rhs[k]) > eps {
			return nil, nil, true
		}
	}
	return rows[:rank], rhs[:rank], false
}
