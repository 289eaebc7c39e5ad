package solver

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/convexfolio/convexfolio/internal/modules/program"
)

func adapterLP() *program.Program {
	return &program.Program{
		Class:      program.ClassLP,
		NumVars:    2,
		NumAssets:  2,
		TIndex:     -1,
		UStart:     -1,
		ZIndex:     -1,
		KappaIndex: -1,
		C:          []float64{-0.02, -0.01},
		A:          mat.NewDense(1, 2, []float64{1, 1}),
		B:          []float64{1},
		LB:         []float64{0, 0},
		UB:         []float64{math.Inf(1), math.Inf(1)},
		Mu:         []float64{0.02, 0.01},
	}
}

func TestAdapter_DefaultRouting(t *testing.T) {
	a := NewAdapter(Defaults{}, zerolog.Nop())

	sol, err := a.Solve(context.Background(), adapterLP(), Options{})
	require.NoError(t, err)
	assert.Equal(t, SimplexName, sol.Backend, "LP routes to simplex by default")

	qp := adapterLP()
	qp.Class = program.ClassQP
	qp.Q = mat.NewSymDense(2, []float64{1, 0, 0, 1})
	qp.C = []float64{0, 0}
	sol, err = a.Solve(context.Background(), qp, Options{})
	require.NoError(t, err)
	assert.Equal(t, BFGSName, sol.Backend, "QP routes to bfgs by default")
}

func TestAdapter_ExplicitBackendOverride(t *testing.T) {
	a := NewAdapter(Defaults{}, zerolog.Nop())

	sol, err := a.Solve(context.Background(), adapterLP(), Options{Backend: NelderMeadName})
	require.NoError(t, err)
	assert.Equal(t, NelderMeadName, sol.Backend)
	assert.InDelta(t, 1.0, sol.X[0], 1e-2)
}

func TestAdapter_UnknownBackend(t *testing.T) {
	a := NewAdapter(Defaults{}, zerolog.Nop())

	_, err := a.Solve(context.Background(), adapterLP(), Options{Backend: "gurobi"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestAdapter_ClassRejection(t *testing.T) {
	a := NewAdapter(Defaults{}, zerolog.Nop())

	qp := adapterLP()
	qp.Class = program.ClassQP
	_, err := a.Solve(context.Background(), qp, Options{Backend: SimplexName})
	assert.ErrorIs(t, err, ErrUnsupportedProblemClass)
}

func TestAdapter_MisconfiguredDefaultFails(t *testing.T) {
	// A simplex default for SOCP programs must be rejected, never silently
	// rerouted.
	a := NewAdapter(Defaults{SOCP: SimplexName}, zerolog.Nop())

	socp := adapterLP()
	socp.Class = program.ClassSOCP
	_, err := a.Solve(context.Background(), socp, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedProblemClass)
}

func TestAdapter_FallbackOnNumericalFailure(t *testing.T) {
	a := NewAdapter(Defaults{}, zerolog.Nop())
	a.Register(&wrappedFailing{})

	sol, err := a.Solve(context.Background(), adapterLP(), Options{Backend: BFGSName})
	require.NoError(t, err)
	assert.Equal(t, NelderMeadName, sol.Backend, "retried with the derivative-free method")
}

func TestAdapter_NoFallbackDisablesRetry(t *testing.T) {
	a := NewAdapter(Defaults{}, zerolog.Nop())
	a.Register(&wrappedFailing{})

	_, err := a.Solve(context.Background(), adapterLP(), Options{Backend: BFGSName, NoFallback: true})
	assert.ErrorIs(t, err, ErrNumericalFailure)
}

// wrappedFailing fails with a properly wrapped sentinel, registered under
// the bfgs name so the adapter's retry path fires.
type wrappedFailing struct{}

func (f *wrappedFailing) Name() string                { return BFGSName }
func (f *wrappedFailing) Supports(program.Class) bool { return true }
func (f *wrappedFailing) Solve(context.Context, *program.Program) (Solution, error) {
	return Solution{Status: StatusNumericalFailure}, errors.Join(ErrNumericalFailure, errors.New("synthetic failure"))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "optimal", StatusOptimal.String())
	assert.Equal(t, "infeasible", StatusInfeasible.String())
	assert.Equal(t, "unbounded", StatusUnbounded.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "numerical_failure", StatusNumericalFailure.String())
}
