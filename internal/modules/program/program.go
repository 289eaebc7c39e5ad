// Package program compiles a portfolio spec plus a return window into a
// canonical convex program: a solver-agnostic bundle of objective terms,
// linear constraint blocks, variable bounds and an optional second-order
// cone. Each program is built fresh per solve and owned by one optimizer
// invocation.
package program

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Class tags the problem class a program requires from its solver.
type Class int

const (
	// ClassLP is a pure linear program.
	ClassLP Class = iota
	// ClassQP carries a quadratic (variance) objective term.
	ClassQP
	// ClassSOCP carries a second-order cone constraint.
	ClassSOCP
)

// String returns the class tag name.
func (c Class) String() string {
	switch c {
	case ClassLP:
		return "LP"
	case ClassQP:
		return "QP"
	case ClassSOCP:
		return "SOCP"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Mode selects the problem-construction strategy: the additive
// quadratic-utility form, or one of the ratio (return per unit risk)
// substitutions.
type Mode int

const (
	// ModePlain combines the return and risk objectives additively.
	ModePlain Mode = iota
	// ModeMaxSharpe maximizes mean return per unit standard deviation via
	// the homogeneous substitution on the variance program.
	ModeMaxSharpe
	// ModeMaxESRatio maximizes mean return per unit Expected Shortfall.
	ModeMaxESRatio
	// ModeMaxEQSRatio maximizes mean return per unit Expected Quadratic
	// Shortfall.
	ModeMaxEQSRatio
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeMaxSharpe:
		return "max_sharpe"
	case ModeMaxESRatio:
		return "max_es_ratio"
	case ModeMaxEQSRatio:
		return "max_eqs_ratio"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// IsRatio reports whether the mode uses the homogeneous substitution.
func (m Mode) IsRatio() bool {
	return m != ModePlain
}

// Program is the canonical convex program over the stacked variable vector
//
//	x = [w (n) | t? | u (T)? | z? | kappa?]
//
// with objective
//
//	minimize  C'x + x_w' Q x_w
//
// subject to G x <= h, A x = b, LB <= x <= UB and, when HasCone is set,
// ||x[UStart:UStart+ULen]|| <= x[ZIndex].
type Program struct {
	Class Class
	Mode  Mode

	NumVars   int
	NumAssets int // w block occupies [0, NumAssets)

	// Optional variable indices; -1 (or ULen 0) when absent.
	TIndex     int
	UStart     int
	ULen       int
	ZIndex     int
	KappaIndex int

	C []float64     // linear objective coefficients, length NumVars
	Q *mat.SymDense // quadratic form over the w block; nil unless variance

	HasCone bool

	G *mat.Dense // inequality rows, may be nil
	H []float64
	A *mat.Dense // equality rows, may be nil
	B []float64

	LB []float64 // -Inf where free
	UB []float64 // +Inf where free

	// Mu is the window mean vector used for the return term and the
	// return_target rows; kept for result diagnostics.
	Mu []float64
}

// HasQuadratic reports whether the program carries a quadratic term.
func (p *Program) HasQuadratic() bool {
	return p.Q != nil
}

// Weights extracts the asset-weight block from a solution vector. In ratio
// mode the caller divides by the recovered kappa separately.
func (p *Program) Weights(x []float64) []float64 {
	return append([]float64(nil), x[:p.NumAssets]...)
}

// Kappa extracts the normalization scalar from a solution vector.
func (p *Program) Kappa(x []float64) (float64, bool) {
	if p.KappaIndex < 0 {
		return 0, false
	}
	return x[p.KappaIndex], true
}
