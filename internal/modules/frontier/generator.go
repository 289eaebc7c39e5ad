// Package frontier traces discretized efficient frontiers by sweeping
// minimum-risk solves across linearly spaced mean-return targets.
package frontier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/convexfolio/convexfolio/internal/modules/optimizer"
	"github.com/convexfolio/convexfolio/internal/modules/returns"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
)

// DefaultPoints is the frontier resolution when none is requested.
const DefaultPoints = 25

// riskTolerance absorbs solver noise when checking that risk is
// non-decreasing along the frontier.
const riskTolerance = 1e-9

// Point is one frontier sample: the requested mean target, the realized
// mean and risk, and the weight vector that attains them.
type Point struct {
	Target  float64
	Mean    float64
	Risk    float64
	Weights []float64
}

// Result is the ordered frontier, ascending by target. RiskMonotonic is
// false when a later point realized lower risk than an earlier one beyond
// tolerance; that indicates numerical trouble or a non-convex realized
// region and is reported, never smoothed away.
type Result struct {
	Points        []Point
	RiskMonotonic bool
}

// Options configure one frontier sweep.
type Options struct {
	// RiskKind selects the risk measure minimized at each target.
	RiskKind spec.ObjectiveKind
	// TailProbability applies to shortfall measures; 0 selects the
	// default.
	TailProbability float64
	// Points is the number of targets; 0 selects DefaultPoints.
	Points int
	// Backend forces an explicit solver backend on every solve.
	Backend string
	// Workers enables concurrent point solves when > 1; output order is
	// by target regardless.
	Workers int
}

// Generator sweeps frontiers against an optimizer.
type Generator struct {
	opt *optimizer.Optimizer
	log zerolog.Logger
}

// New creates a frontier generator.
func New(opt *optimizer.Optimizer, log zerolog.Logger) *Generator {
	return &Generator{
		opt: opt,
		log: log.With().Str("component", "frontier").Logger(),
	}
}

// Generate produces the frontier for the model's constraint set over the
// full sample. Two anchor solves bound the target range: the maximum-mean
// portfolio (risk ignored) and the minimum-risk portfolio (return
// ignored). Each target then minimizes risk subject to the original
// constraints plus a return target at that level.
func (g *Generator) Generate(ctx context.Context, model spec.Model, sample *returns.Sample, opts Options) (*Result, error) {
	if !opts.RiskKind.IsRisk() {
		return nil, fmt.Errorf("%w: frontier risk measure must be a risk objective, got %s",
			spec.ErrValidation, opts.RiskKind)
	}
	if err := sample.AlignTo(model); err != nil {
		return nil, err
	}
	window, err := sample.Full()
	if err != nil {
		return nil, err
	}

	numPoints := opts.Points
	if numPoints <= 0 {
		numPoints = DefaultPoints
	}

	riskObjective, err := riskObjectiveFor(opts)
	if err != nil {
		return nil, err
	}

	maxReturnModel, err := rebuild(model, spec.NewMeanReturn())
	if err != nil {
		return nil, err
	}
	minRiskModel, err := rebuild(model, riskObjective)
	if err != nil {
		return nil, err
	}

	solveOpts := optimizer.Options{Backend: opts.Backend}

	maxRet, err := g.opt.Solve(ctx, maxReturnModel, window, solveOpts)
	if err != nil {
		return nil, fmt.Errorf("max-return anchor solve failed: %w", err)
	}
	minRisk, err := g.opt.Solve(ctx, minRiskModel, window, solveOpts)
	if err != nil {
		return nil, fmt.Errorf("min-risk anchor solve failed: %w", err)
	}

	low, high := minRisk.Mean, maxRet.Mean
	if high < low {
		low, high = high, low
	}
	if high-low < 1e-12 {
		// Degenerate frontier: every feasible portfolio has the same
		// mean. Report the single point.
		return &Result{
			Points:        []Point{{Target: low, Mean: minRisk.Mean, Risk: minRisk.Risk, Weights: minRisk.Weights}},
			RiskMonotonic: true,
		}, nil
	}

	targets := make([]float64, numPoints)
	floats.Span(targets, low, high)

	points := make([]Point, numPoints)
	solvePoint := func(ctx context.Context, i int) error {
		targetModel := minRiskModel.WithConstraint(spec.NewReturnTarget(targets[i]))
		res, err := g.opt.Solve(ctx, targetModel, window, solveOpts)
		if err != nil {
			return fmt.Errorf("frontier point %d (target %.6f) failed: %w", i, targets[i], err)
		}
		points[i] = Point{Target: targets[i], Mean: res.Mean, Risk: res.Risk, Weights: res.Weights}
		return nil
	}

	if opts.Workers > 1 {
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(opts.Workers)
		for i := range targets {
			i := i
			eg.Go(func() error { return solvePoint(egctx, i) })
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range targets {
			if err := solvePoint(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	result := &Result{Points: points, RiskMonotonic: true}
	for i := 1; i < len(points); i++ {
		if points[i].Risk < points[i-1].Risk-riskTolerance {
			result.RiskMonotonic = false
			g.log.Warn().
				Int("point", i).
				Float64("risk", points[i].Risk).
				Float64("previous_risk", points[i-1].Risk).
				Msg("Frontier risk decreased with rising mean target")
		}
	}

	return result, nil
}

// rebuild copies the model's universe, constraints and solver preference
// with a single objective, preserving the shared constraint set required
// for anchors and targets alike.
func rebuild(model spec.Model, objective spec.Objective) (spec.Model, error) {
	out, err := spec.New(model.Universe())
	if err != nil {
		return spec.Model{}, err
	}
	for _, c := range model.Constraints() {
		out = out.WithConstraint(c)
	}
	if s := model.Solver(); s != "" {
		out = out.WithSolver(s)
	}
	return out.WithObjective(objective), nil
}

func riskObjectiveFor(opts Options) (spec.Objective, error) {
	switch opts.RiskKind {
	case spec.Variance:
		return spec.NewVariance(1), nil
	case spec.ExpectedShortfall:
		return spec.NewExpectedShortfall(1, opts.TailProbability), nil
	case spec.ExpectedQuadraticShortfall:
		return spec.NewExpectedQuadraticShortfall(1, opts.TailProbability), nil
	}
	return spec.Objective{}, fmt.Errorf("%w: unsupported frontier risk measure %s", spec.ErrValidation, opts.RiskKind)
}
