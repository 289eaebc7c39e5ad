package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/convexfolio/convexfolio/internal/modules/program"
)

// Registry names of the smooth penalty backends.
const (
	BFGSName       = "bfgs"
	NelderMeadName = "neldermead"
)

const (
	coneEpsilon = 1e-12
	// feasTolerance is the largest constraint violation accepted at a
	// penalty-method optimum before the problem is declared infeasible.
	feasTolerance = 1e-3
)

// penaltySchedule ramps the quadratic penalty weight across restarts. Each
// stage warm-starts from the previous iterate, so the heavy final weight only
// has to polish an almost-feasible point instead of fighting an
// ill-conditioned landscape from the equal-weight start.
var penaltySchedule = []float64{1e2, 1e4, 1e6}

// Penalty solves QP and SOCP programs (and LPs, though the simplex backend
// is preferred there) by folding constraints into a smooth quadratic
// penalty and minimizing with a gonum method. The cone constraint
// ||s|| <= z is smoothed with a small epsilon under the square root, which
// keeps the gradient defined at s = 0.
//
// A linesearch stall under a heavy penalty weight is routine rather than
// fatal: the iterate is kept and judged by its constraint residual once the
// schedule finishes. Feasible means optimal to within the method's accuracy;
// a residual above feasTolerance means the penalties could not be driven out
// and the program is reported infeasible.
type Penalty struct {
	name     string
	gradient bool
}

// NewBFGS creates the gradient-based penalty backend.
func NewBFGS() *Penalty { return &Penalty{name: BFGSName, gradient: true} }

// NewNelderMead creates the derivative-free penalty backend.
func NewNelderMead() *Penalty { return &Penalty{name: NelderMeadName} }

// Name implements Backend.
func (p *Penalty) Name() string { return p.name }

// Supports implements Backend: every class, the cone via smoothing.
func (p *Penalty) Supports(program.Class) bool { return true }

// Solve implements Backend.
func (p *Penalty) Solve(ctx context.Context, prog *program.Program) (Solution, error) {
	x := initialPoint(prog)

	for _, weight := range penaltySchedule {
		w := weight
		problem := optimize.Problem{
			Func: func(xs []float64) float64 { return penaltyValue(prog, xs, w) },
		}
		if p.gradient {
			problem.Grad = func(grad, xs []float64) { penaltyGrad(prog, xs, grad, w) }
		}

		settings := &optimize.Settings{}
		if deadline, ok := ctx.Deadline(); ok {
			settings.Runtime = time.Until(deadline)
		}

		var method optimize.Method
		if p.gradient {
			method = &optimize.BFGS{}
		} else {
			method = &optimize.NelderMead{}
		}

		result, err := optimize.Minimize(problem, x, settings, method)
		if result != nil && len(result.X) == len(x) {
			x = result.X
		}
		if err != nil {
			continue
		}
		if result.Status == optimize.RuntimeLimit {
			return Solution{X: x, Status: StatusTimeout},
				fmt.Errorf("%w: %s exceeded runtime limit", ErrTimeout, p.name)
		}
	}

	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Solution{Status: StatusNumericalFailure},
				fmt.Errorf("%w: %s: non-finite iterate", ErrNumericalFailure, p.name)
		}
	}
	if v := maxViolation(prog, x); v > feasTolerance {
		return Solution{X: x, Status: StatusInfeasible},
			fmt.Errorf("%w: %s: residual constraint violation %.2e", ErrInfeasible, p.name, v)
	}

	return Solution{
		X:         x,
		Objective: trueObjective(prog, x),
		Status:    StatusOptimal,
		Backend:   p.name,
	}, nil
}

// initialPoint seeds the search at the equal-weight portfolio. In ratio
// mode the weight block is pre-scaled so the excess-return equality starts
// near satisfied, which keeps the penalty terms small at the first iterate.
func initialPoint(p *program.Program) []float64 {
	x := make([]float64, p.NumVars)
	n := p.NumAssets
	w := 1.0 / float64(n)

	if p.KappaIndex >= 0 {
		var excess float64
		for j := 0; j < n; j++ {
			excess += p.Mu[j] * w
		}
		scale := 1.0
		if math.Abs(excess) > 1e-12 {
			scale = 1.0 / excess
		}
		for j := 0; j < n; j++ {
			x[j] = w * scale
		}
		x[p.KappaIndex] = scale
	} else {
		for j := 0; j < n; j++ {
			x[j] = w
		}
	}
	if p.ZIndex >= 0 {
		x[p.ZIndex] = 1.0
	}
	return x
}

// trueObjective evaluates C'x + x_w'Q x_w without penalty terms.
func trueObjective(p *program.Program, x []float64) float64 {
	obj := floats.Dot(p.C, x)
	if p.Q != nil {
		n := p.NumAssets
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				obj += x[i] * x[j] * p.Q.At(i, j)
			}
		}
	}
	return obj
}

func penaltyValue(p *program.Program, x []float64, weight float64) float64 {
	obj := trueObjective(p, x)

	if p.G != nil {
		r, _ := p.G.Dims()
		for k := 0; k < r; k++ {
			if v := rowDot(p.G, k, x) - p.H[k]; v > 0 {
				obj += weight * v * v
			}
		}
	}
	if p.A != nil {
		r, _ := p.A.Dims()
		for k := 0; k < r; k++ {
			v := rowDot(p.A, k, x) - p.B[k]
			obj += weight * v * v
		}
	}
	for i := range x {
		if v := p.LB[i] - x[i]; v > 0 {
			obj += weight * v * v
		}
		if v := x[i] - p.UB[i]; v > 0 {
			obj += weight * v * v
		}
	}
	if p.HasCone {
		if v := coneNorm(p, x) - x[p.ZIndex]; v > 0 {
			obj += weight * v * v
		}
	}
	return obj
}

func penaltyGrad(p *program.Program, x, grad []float64, weight float64) {
	copy(grad, p.C)
	if p.Q != nil {
		n := p.NumAssets
		for i := 0; i < n; i++ {
			var acc float64
			for j := 0; j < n; j++ {
				acc += p.Q.At(i, j) * x[j]
			}
			grad[i] += 2 * acc
		}
	}

	if p.G != nil {
		r, _ := p.G.Dims()
		for k := 0; k < r; k++ {
			if v := rowDot(p.G, k, x) - p.H[k]; v > 0 {
				for i := range x {
					grad[i] += 2 * weight * v * p.G.At(k, i)
				}
			}
		}
	}
	if p.A != nil {
		r, _ := p.A.Dims()
		for k := 0; k < r; k++ {
			v := rowDot(p.A, k, x) - p.B[k]
			for i := range x {
				grad[i] += 2 * weight * v * p.A.At(k, i)
			}
		}
	}
	for i := range x {
		if v := p.LB[i] - x[i]; v > 0 {
			grad[i] -= 2 * weight * v
		}
		if v := x[i] - p.UB[i]; v > 0 {
			grad[i] += 2 * weight * v
		}
	}
	if p.HasCone {
		norm := coneNorm(p, x)
		if v := norm - x[p.ZIndex]; v > 0 {
			for i := 0; i < p.ULen; i++ {
				idx := p.UStart + i
				grad[idx] += 2 * weight * v * x[idx] / norm
			}
			grad[p.ZIndex] -= 2 * weight * v
		}
	}
}

// maxViolation reports the worst constraint residual at x; used to tell an
// unconverged-but-feasible penalty optimum from a genuinely infeasible one.
func maxViolation(p *program.Program, x []float64) float64 {
	var worst float64
	if p.G != nil {
		r, _ := p.G.Dims()
		for k := 0; k < r; k++ {
			worst = math.Max(worst, rowDot(p.G, k, x)-p.H[k])
		}
	}
	if p.A != nil {
		r, _ := p.A.Dims()
		for k := 0; k < r; k++ {
			worst = math.Max(worst, math.Abs(rowDot(p.A, k, x)-p.B[k]))
		}
	}
	for i := range x {
		worst = math.Max(worst, p.LB[i]-x[i])
		worst = math.Max(worst, x[i]-p.UB[i])
	}
	if p.HasCone {
		worst = math.Max(worst, coneNorm(p, x)-x[p.ZIndex])
	}
	return worst
}

func coneNorm(p *program.Program, x []float64) float64 {
	var sumSq float64
	for i := 0; i < p.ULen; i++ {
		v := x[p.UStart+i]
		sumSq += v * v
	}
	return math.Sqrt(sumSq + coneEpsilon)
}

func rowDot(m *mat.Dense, k int, x []float64) float64 {
	var acc float64
	for i := range x {
		acc += m.At(k, i) * x[i]
	}
	return acc
}
