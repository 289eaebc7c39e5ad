// Package optimizer is the single-period entry point: one spec model plus
// one return window in, one optimal weight vector with diagnostics out. It
// is a pure function of its inputs apart from invoking the solver adapter.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/convexfolio/convexfolio/internal/modules/program"
	"github.com/convexfolio/convexfolio/internal/modules/returns"
	"github.com/convexfolio/convexfolio/internal/modules/solver"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
	"github.com/convexfolio/convexfolio/pkg/formulas"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrInvalidObjectiveCombination is returned when a ratio mode is
	// requested without exactly one return and one matching risk
	// objective.
	ErrInvalidObjectiveCombination = errors.New("invalid objective combination")
	// ErrInfeasibleRatio is returned when the normalization scalar of a
	// ratio solve collapses to zero, meaning the ratio problem is
	// unbounded or ill-posed.
	ErrInfeasibleRatio = errors.New("infeasible ratio problem")
)

// kappaTolerance is the threshold below which the recovered normalization
// scalar is treated as zero.
const kappaTolerance = 1e-8

// Options tune a single solve.
type Options struct {
	// Mode selects plain additive or one of the ratio constructions.
	Mode program.Mode
	// Backend forces an explicit solver backend; "" defers to the model's
	// preference and then to the class default.
	Backend string
	// RiskFreeRate enters ratio-mode normalization. Default 0.
	RiskFreeRate float64
	// NoFallback disables the adapter's bfgs -> neldermead retry.
	NoFallback bool
}

// Result is the immutable outcome of one solve. Weights are aligned to the
// model universe. Risk carries the realized value of the model's risk
// measure at the returned weights, computed by the closed-form oracles, so
// it is comparable across solver backends.
type Result struct {
	Weights   []float64
	Mean      float64
	Risk      float64
	RiskKind  spec.ObjectiveKind
	Objective float64
	Kappa     float64
	Solver    string
	Status    solver.Status
}

// Optimizer wraps a solver adapter.
type Optimizer struct {
	adapter *solver.Adapter
	log     zerolog.Logger
}

// New creates an optimizer.
func New(adapter *solver.Adapter, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		adapter: adapter,
		log:     log.With().Str("component", "optimizer").Logger(),
	}
}

// Solve builds the canonical program for (model, window, mode) and solves
// it. Ratio modes recover w* = y*/kappa* and fail with ErrInfeasibleRatio
// when kappa* is numerically zero rather than silently dividing.
func (o *Optimizer) Solve(ctx context.Context, model spec.Model, window returns.Window, opts Options) (Result, error) {
	if opts.Mode.IsRatio() {
		if err := checkRatioObjectives(model, opts.Mode); err != nil {
			return Result{}, err
		}
	}

	prog, err := program.Build(model, window, program.BuildOptions{
		Mode:         opts.Mode,
		RiskFreeRate: opts.RiskFreeRate,
	})
	if err != nil {
		return Result{}, err
	}

	backend := opts.Backend
	if backend == "" {
		backend = model.Solver()
	}

	sol, err := o.adapter.Solve(ctx, prog, solver.Options{
		Backend:    backend,
		NoFallback: opts.NoFallback,
	})
	if err != nil {
		return Result{Solver: sol.Backend, Status: sol.Status}, err
	}

	weights := prog.Weights(sol.X)
	result := Result{
		Objective: sol.Objective,
		Solver:    sol.Backend,
		Status:    sol.Status,
	}

	if kappa, ok := prog.Kappa(sol.X); ok {
		result.Kappa = kappa
		if math.Abs(kappa) < kappaTolerance {
			return result, fmt.Errorf("%w: normalization scalar %.2e from backend %s",
				ErrInfeasibleRatio, kappa, sol.Backend)
		}
		for j := range weights {
			weights[j] /= kappa
		}
	}
	result.Weights = weights

	// Realized objective components at the recovered weights.
	matrix := window.Matrix()
	result.Mean = formulas.PortfolioMean(prog.Mu, weights)
	if riskObj, ok := model.RiskObjective(); ok {
		result.RiskKind = riskObj.Kind
		switch riskObj.Kind {
		case spec.Variance:
			result.Risk = formulas.PortfolioVariance(formulas.CovarianceMatrix(matrix), weights)
		case spec.ExpectedShortfall:
			result.Risk = formulas.ExpectedShortfall(formulas.PortfolioSeries(matrix, weights), riskObj.P)
		case spec.ExpectedQuadraticShortfall:
			result.Risk = formulas.ExpectedQuadraticShortfall(formulas.PortfolioSeries(matrix, weights), riskObj.P)
		}
	}

	o.log.Debug().
		Str("solver", result.Solver).
		Str("mode", opts.Mode.String()).
		Float64("mean", result.Mean).
		Float64("risk", result.Risk).
		Msg("Solve completed")

	return result, nil
}

// checkRatioObjectives enforces the ratio-mode contract: exactly one return
// objective and exactly one risk objective whose measure matches the mode.
func checkRatioObjectives(model spec.Model, mode program.Mode) error {
	if _, ok := model.ReturnObjective(); !ok {
		return fmt.Errorf("%w: %s mode requires a return objective", ErrInvalidObjectiveCombination, mode)
	}
	riskObj, ok := model.RiskObjective()
	if !ok {
		return fmt.Errorf("%w: %s mode requires a risk objective", ErrInvalidObjectiveCombination, mode)
	}

	var want spec.ObjectiveKind
	switch mode {
	case program.ModeMaxSharpe:
		want = spec.Variance
	case program.ModeMaxESRatio:
		want = spec.ExpectedShortfall
	case program.ModeMaxEQSRatio:
		want = spec.ExpectedQuadraticShortfall
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidObjectiveCombination, mode)
	}
	if riskObj.Kind != want {
		return fmt.Errorf("%w: %s mode requires a %s objective, model has %s",
			ErrInvalidObjectiveCombination, mode, want, riskObj.Kind)
	}
	return nil
}

// WeightBySymbol returns the weight of one symbol in the model universe.
func (r Result) WeightBySymbol(model spec.Model, symbol string) (float64, bool) {
	j, ok := model.Index(symbol)
	if !ok || j >= len(r.Weights) {
		return 0, false
	}
	return r.Weights[j], true
}
