package program

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/convexfolio/convexfolio/internal/modules/returns"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
	"github.com/convexfolio/convexfolio/pkg/formulas"
)

// BuildOptions tune problem construction.
type BuildOptions struct {
	// Mode selects the additive or ratio construction strategy.
	Mode Mode
	// RiskFreeRate enters the ratio normalization (mu - r_f·1)'y = 1.
	RiskFreeRate float64
}

// Build compiles one spec model and one return window into a canonical
// program. The model is validated first; a malformed spec never reaches a
// solver.
//
// Reformulations:
//   - Expected Shortfall introduces a scalar t and per-observation slack
//     u_i >= 0 with u_i >= t - r_i'w and objective -t + (1/(T·p))·Σu_i,
//     turning the quantile objective into a pure LP.
//   - Expected Quadratic Shortfall uses the same slack block s but bounds
//     its Euclidean norm by a cone variable z, with objective -t + (1/p)·z.
//   - Ratio modes solve the homogeneous substitute: minimize the risk term
//     over y subject to (mu - r_f·1)'y = 1 and 1'y = kappa, with every
//     other constraint scaled by kappa. The caller recovers w* = y*/kappa*.
func Build(model spec.Model, window returns.Window, opts BuildOptions) (*Program, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}

	n := model.NumAssets()
	matrix := window.Matrix()
	T := window.Observations()
	if _, cols := matrix.Dims(); cols != n {
		return nil, fmt.Errorf("%w: window has %d columns, model has %d assets", spec.ErrValidation, cols, n)
	}

	_, hasRet := model.ReturnObjective()
	riskObj, hasRisk := model.RiskObjective()

	if opts.Mode.IsRatio() && (!hasRet || !hasRisk) {
		return nil, fmt.Errorf("%w: %s mode requires one return and one risk objective", spec.ErrValidation, opts.Mode)
	}
	if hasRisk && riskObj.Kind == spec.Variance && T < 2 {
		return nil, fmt.Errorf("%w: variance objective needs at least 2 observations, window has %d", spec.ErrValidation, T)
	}

	mu := formulas.MeanVector(matrix)

	// Variable layout: [w | t | u... | z | kappa].
	shortfall := hasRisk && (riskObj.Kind == spec.ExpectedShortfall || riskObj.Kind == spec.ExpectedQuadraticShortfall)
	conic := hasRisk && riskObj.Kind == spec.ExpectedQuadraticShortfall

	p := &Program{
		Mode:       opts.Mode,
		NumAssets:  n,
		TIndex:     -1,
		UStart:     -1,
		ZIndex:     -1,
		KappaIndex: -1,
		Mu:         mu,
	}

	nv := n
	if shortfall {
		p.TIndex = nv
		nv++
		p.UStart = nv
		p.ULen = T
		nv += T
	}
	if conic {
		p.ZIndex = nv
		nv++
	}
	if opts.Mode.IsRatio() {
		p.KappaIndex = nv
		nv++
	}
	p.NumVars = nv

	p.C = make([]float64, nv)
	p.LB = make([]float64, nv)
	p.UB = make([]float64, nv)
	for i := range p.LB {
		p.LB[i] = math.Inf(-1)
		p.UB[i] = math.Inf(1)
	}
	if shortfall {
		for i := 0; i < p.ULen; i++ {
			p.LB[p.UStart+i] = 0
		}
	}
	if conic {
		p.LB[p.ZIndex] = 0
		p.HasCone = true
	}

	// Objective terms.
	aversion := 1.0
	if !opts.Mode.IsRatio() {
		if hasRet {
			for j := 0; j < n; j++ {
				p.C[j] -= mu[j] // maximize mu'w
			}
		}
		if hasRisk {
			aversion = riskObj.Aversion()
		}
	}
	if hasRisk {
		switch riskObj.Kind {
		case spec.Variance:
			cov := formulas.CovarianceMatrix(matrix)
			q := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					q.SetSym(i, j, aversion*cov.At(i, j))
				}
			}
			p.Q = q
		case spec.ExpectedShortfall:
			p.C[p.TIndex] -= aversion
			coef := aversion / (float64(T) * riskObj.P)
			for i := 0; i < p.ULen; i++ {
				p.C[p.UStart+i] += coef
			}
		case spec.ExpectedQuadraticShortfall:
			p.C[p.TIndex] -= aversion
			p.C[p.ZIndex] += aversion / riskObj.P
		}
	}

	var g rowBlock
	var a rowBlock

	// Shortfall linkage rows: t - r_i'x - u_i <= 0 for every observation.
	if shortfall {
		for i := 0; i < T; i++ {
			row := make([]float64, nv)
			row[p.TIndex] = 1
			for j := 0; j < n; j++ {
				row[j] = -matrix.At(i, j)
			}
			row[p.UStart+i] = -1
			g.add(row, 0)
		}
	}

	if opts.Mode.IsRatio() {
		// (mu - r_f·1)'y = 1 fixes the excess-return numerator.
		row := make([]float64, nv)
		for j := 0; j < n; j++ {
			row[j] = mu[j] - opts.RiskFreeRate
		}
		a.add(row, 1)

		// 1'y = kappa defines the normalization scalar.
		row = make([]float64, nv)
		for j := 0; j < n; j++ {
			row[j] = 1
		}
		row[p.KappaIndex] = -1
		a.add(row, 0)
	}

	for _, c := range model.Constraints() {
		if err := emit(p, model, c, opts.Mode, &g, &a); err != nil {
			return nil, err
		}
	}

	p.G, p.H = g.build(nv)
	p.A, p.B = a.build(nv)

	switch {
	case p.HasCone:
		p.Class = ClassSOCP
	case p.Q != nil:
		p.Class = ClassQP
	default:
		p.Class = ClassLP
	}

	return p, nil
}

// emit appends the linear rows (or bound tightenings) for one constraint.
// In ratio mode every weight-space bound is homogenized by kappa.
func emit(p *Program, model spec.Model, c spec.Constraint, mode Mode, g, a *rowBlock) error {
	n := p.NumAssets
	nv := p.NumVars

	switch c.Kind {
	case spec.FullInvestment:
		if mode.IsRatio() {
			// Already encoded by the structural 1'y = kappa row.
			return nil
		}
		row := make([]float64, nv)
		for j := 0; j < n; j++ {
			row[j] = 1
		}
		a.add(row, 1)

	case spec.LongOnly:
		for j := 0; j < n; j++ {
			p.LB[j] = math.Max(p.LB[j], 0)
		}

	case spec.Box:
		lo, hi, err := c.BoxBounds(n)
		if err != nil {
			return err
		}
		if !mode.IsRatio() {
			for j := 0; j < n; j++ {
				p.LB[j] = math.Max(p.LB[j], lo[j])
				p.UB[j] = math.Min(p.UB[j], hi[j])
			}
			return nil
		}
		// y_j <= hi_j·kappa and y_j >= lo_j·kappa.
		for j := 0; j < n; j++ {
			row := make([]float64, nv)
			row[j] = 1
			row[p.KappaIndex] = -hi[j]
			g.add(row, 0)

			row = make([]float64, nv)
			row[j] = -1
			row[p.KappaIndex] = lo[j]
			g.add(row, 0)
		}

	case spec.Group:
		members := make([]int, 0, len(c.Symbols))
		for _, s := range c.Symbols {
			j, ok := model.Index(s)
			if !ok {
				return fmt.Errorf("%w: group constraint references unknown symbol %s", spec.ErrValidation, s)
			}
			members = append(members, j)
		}
		upper := make([]float64, nv)
		lower := make([]float64, nv)
		for _, j := range members {
			upper[j] = 1
			lower[j] = -1
		}
		if mode.IsRatio() {
			upper[p.KappaIndex] = -c.GroupUpper
			lower[p.KappaIndex] = c.GroupLower
			g.add(upper, 0)
			g.add(lower, 0)
		} else {
			g.add(upper, c.GroupUpper)
			g.add(lower, -c.GroupLower)
		}

	case spec.ReturnTarget:
		row := make([]float64, nv)
		for j := 0; j < n; j++ {
			row[j] = -p.Mu[j]
		}
		if mode.IsRatio() {
			row[p.KappaIndex] = c.Target
			g.add(row, 0)
		} else {
			g.add(row, -c.Target)
		}

	default:
		return fmt.Errorf("%w: unknown constraint kind %s", spec.ErrValidation, c.Kind)
	}
	return nil
}

// rowBlock accumulates constraint rows before the final dense assembly.
type rowBlock struct {
	rows [][]float64
	rhs  []float64
}

func (b *rowBlock) add(row []float64, rhs float64) {
	b.rows = append(b.rows, row)
	b.rhs = append(b.rhs, rhs)
}

func (b *rowBlock) build(nv int) (*mat.Dense, []float64) {
	if len(b.rows) == 0 {
		return nil, nil
	}
	m := mat.NewDense(len(b.rows), nv, nil)
	for i, row := range b.rows {
		m.SetRow(i, row)
	}
	return m, b.rhs
}
