package program

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convexfolio/convexfolio/internal/modules/returns"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
	"github.com/convexfolio/convexfolio/pkg/formulas"
)

func testWindow(t *testing.T, symbols []string, rows [][]float64) returns.Window {
	t.Helper()
	dates := make([]time.Time, len(rows))
	for i := range rows {
		dates[i] = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
	}
	s, err := returns.New(symbols, dates, rows)
	require.NoError(t, err)
	w, err := s.Full()
	require.NoError(t, err)
	return w
}

func testModel(t *testing.T, symbols []string) spec.Model {
	t.Helper()
	m, err := spec.New(symbols)
	require.NoError(t, err)
	return m
}

func TestBuild_MeanVarianceLayout(t *testing.T) {
	symbols := []string{"A", "B"}
	window := testWindow(t, symbols, [][]float64{
		{0.01, 0.03},
		{0.03, 0.01},
	})
	model := testModel(t, symbols).
		WithConstraint(spec.NewFullInvestment()).
		WithConstraint(spec.NewLongOnly()).
		WithObjective(spec.NewMeanReturn()).
		WithObjective(spec.NewVariance(2))

	p, err := Build(model, window, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, ClassQP, p.Class)
	assert.Equal(t, 2, p.NumVars, "no auxiliary variables for variance")
	assert.Equal(t, -1, p.TIndex)
	assert.Equal(t, -1, p.KappaIndex)
	assert.False(t, p.HasCone)

	// Return term is negated for minimization.
	assert.InDelta(t, -0.02, p.C[0], 1e-12)
	assert.InDelta(t, -0.02, p.C[1], 1e-12)

	// Quadratic term carries the risk aversion multiplier.
	cov := formulas.CovarianceMatrix(window.Matrix())
	require.NotNil(t, p.Q)
	assert.InDelta(t, 2*cov.At(0, 0), p.Q.At(0, 0), 1e-12)
	assert.InDelta(t, 2*cov.At(0, 1), p.Q.At(0, 1), 1e-12)

	// Full investment becomes one equality row; long only tightens bounds.
	require.NotNil(t, p.A)
	r, _ := p.A.Dims()
	assert.Equal(t, 1, r)
	assert.InDelta(t, 1.0, p.B[0], 1e-12)
	assert.InDelta(t, 0.0, p.LB[0], 1e-12)
	assert.InDelta(t, 0.0, p.LB[1], 1e-12)
}

func TestBuild_ExpectedShortfallReformulation(t *testing.T) {
	symbols := []string{"A", "B"}
	rows := [][]float64{
		{0.01, 0.02},
		{-0.01, 0.00},
		{0.02, -0.03},
	}
	window := testWindow(t, symbols, rows)
	model := testModel(t, symbols).
		WithConstraint(spec.NewFullInvestment()).
		WithObjective(spec.NewExpectedShortfall(1, 0.25))

	p, err := Build(model, window, BuildOptions{})
	require.NoError(t, err)

	T := 3
	assert.Equal(t, ClassLP, p.Class)
	assert.Equal(t, 2+1+T, p.NumVars, "w, t and one slack per observation")
	assert.Equal(t, 2, p.TIndex)
	assert.Equal(t, 3, p.UStart)
	assert.Equal(t, T, p.ULen)

	// Objective: -t + (1/(T·p))·Σu.
	assert.InDelta(t, -1.0, p.C[p.TIndex], 1e-12)
	coef := 1.0 / (float64(T) * 0.25)
	for i := 0; i < T; i++ {
		assert.InDelta(t, coef, p.C[p.UStart+i], 1e-12)
		assert.InDelta(t, 0.0, p.LB[p.UStart+i], 1e-12, "slack is non-negative")
	}

	// One linkage row per observation: t - r_i'w - u_i <= 0.
	require.NotNil(t, p.G)
	r, _ := p.G.Dims()
	assert.Equal(t, T, r)
	assert.InDelta(t, 1.0, p.G.At(0, p.TIndex), 1e-12)
	assert.InDelta(t, -rows[0][0], p.G.At(0, 0), 1e-12)
	assert.InDelta(t, -rows[0][1], p.G.At(0, 1), 1e-12)
	assert.InDelta(t, -1.0, p.G.At(0, p.UStart), 1e-12)
	assert.InDelta(t, 0.0, p.H[0], 1e-12)
}

func TestBuild_QuadraticShortfallCone(t *testing.T) {
	symbols := []string{"A", "B"}
	window := testWindow(t, symbols, [][]float64{
		{0.01, 0.02},
		{-0.01, 0.00},
		{0.02, -0.03},
		{0.00, 0.01},
	})
	model := testModel(t, symbols).
		WithConstraint(spec.NewFullInvestment()).
		WithObjective(spec.NewExpectedQuadraticShortfall(1, 0.1))

	p, err := Build(model, window, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, ClassSOCP, p.Class)
	assert.True(t, p.HasCone)
	assert.Equal(t, 2+1+4+1, p.NumVars)
	assert.Equal(t, 7, p.ZIndex)
	assert.InDelta(t, -1.0, p.C[p.TIndex], 1e-12)
	assert.InDelta(t, 1.0/0.1, p.C[p.ZIndex], 1e-12)
	assert.InDelta(t, 0.0, p.LB[p.ZIndex], 1e-12)
}

func TestBuild_RatioSubstitution(t *testing.T) {
	symbols := []string{"A", "B"}
	rows := [][]float64{
		{0.02, 0.01},
		{0.00, 0.02},
		{0.04, 0.00},
		{-0.02, 0.01},
	}
	window := testWindow(t, symbols, rows)
	model := testModel(t, symbols).
		WithConstraint(spec.NewFullInvestment()).
		WithConstraint(spec.NewLongOnly()).
		WithConstraint(spec.NewBox(0, 0.8)).
		WithObjective(spec.NewMeanReturn()).
		WithObjective(spec.NewExpectedShortfall(1, 0.25))

	p, err := Build(model, window, BuildOptions{Mode: ModeMaxESRatio, RiskFreeRate: 0.001})
	require.NoError(t, err)

	T := 4
	n := 2
	assert.Equal(t, ModeMaxESRatio, p.Mode)
	assert.Equal(t, n+1+T+1, p.NumVars, "w, t, slacks and kappa")
	assert.Equal(t, p.NumVars-1, p.KappaIndex)

	// The return term never enters a ratio objective directly.
	assert.InDelta(t, 0.0, p.C[0], 1e-12)
	assert.InDelta(t, 0.0, p.C[1], 1e-12)

	// Two structural equalities: excess-return normalization and the
	// kappa definition. Full investment adds no further row.
	require.NotNil(t, p.A)
	ar, _ := p.A.Dims()
	assert.Equal(t, 2, ar)
	mu := formulas.MeanVector(window.Matrix())
	assert.InDelta(t, mu[0]-0.001, p.A.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, p.B[0], 1e-12)
	assert.InDelta(t, 1.0, p.A.At(1, 0), 1e-12)
	assert.InDelta(t, -1.0, p.A.At(1, p.KappaIndex), 1e-12)
	assert.InDelta(t, 0.0, p.B[1], 1e-12)

	// The box is homogenized into inequality rows instead of bounds:
	// T linkage rows plus two rows per asset.
	gr, _ := p.G.Dims()
	assert.Equal(t, T+2*n, gr)
}

func TestBuild_RatioRequiresBothObjectives(t *testing.T) {
	symbols := []string{"A", "B"}
	window := testWindow(t, symbols, [][]float64{
		{0.01, 0.02},
		{0.03, 0.00},
	})
	model := testModel(t, symbols).
		WithConstraint(spec.NewFullInvestment()).
		WithObjective(spec.NewVariance(1))

	_, err := Build(model, window, BuildOptions{Mode: ModeMaxSharpe})
	assert.ErrorIs(t, err, spec.ErrValidation)
}

func TestBuild_GroupAndTargetRows(t *testing.T) {
	symbols := []string{"A", "B", "C"}
	window := testWindow(t, symbols, [][]float64{
		{0.01, 0.02, 0.00},
		{0.03, 0.00, 0.01},
	})
	model := testModel(t, symbols).
		WithConstraint(spec.NewFullInvestment()).
		WithConstraint(spec.NewGroup([]string{"A", "C"}, 0.1, 0.7)).
		WithConstraint(spec.NewReturnTarget(0.01)).
		WithObjective(spec.NewVariance(1))

	p, err := Build(model, window, BuildOptions{})
	require.NoError(t, err)

	// Group upper, group lower, return target.
	require.NotNil(t, p.G)
	gr, _ := p.G.Dims()
	assert.Equal(t, 3, gr)

	assert.InDelta(t, 1.0, p.G.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0, p.G.At(0, 1), 1e-12)
	assert.InDelta(t, 1.0, p.G.At(0, 2), 1e-12)
	assert.InDelta(t, 0.7, p.H[0], 1e-12)
	assert.InDelta(t, -0.1, p.H[1], 1e-12)

	mu := formulas.MeanVector(window.Matrix())
	assert.InDelta(t, -mu[0], p.G.At(2, 0), 1e-12)
	assert.InDelta(t, -0.01, p.H[2], 1e-12)
}

func TestBuild_RejectsColumnMismatch(t *testing.T) {
	window := testWindow(t, []string{"A", "B"}, [][]float64{
		{0.01, 0.02},
		{0.03, 0.00},
	})
	model := testModel(t, []string{"A", "B", "C"}).
		WithObjective(spec.NewMeanReturn())

	_, err := Build(model, window, BuildOptions{})
	assert.ErrorIs(t, err, spec.ErrValidation)
}

func TestBuild_VarianceNeedsTwoObservations(t *testing.T) {
	window := testWindow(t, []string{"A"}, [][]float64{{0.01}})
	model := testModel(t, []string{"A"}).WithObjective(spec.NewVariance(1))

	_, err := Build(model, window, BuildOptions{})
	assert.ErrorIs(t, err, spec.ErrValidation)
}

func TestProgram_Accessors(t *testing.T) {
	p := &Program{NumAssets: 2, KappaIndex: 3}
	x := []float64{0.4, 0.6, 1.5, 2.0}

	assert.Equal(t, []float64{0.4, 0.6}, p.Weights(x))
	k, ok := p.Kappa(x)
	require.True(t, ok)
	assert.InDelta(t, 2.0, k, 1e-12)

	p.KappaIndex = -1
	_, ok = p.Kappa(x)
	assert.False(t, ok)
}
