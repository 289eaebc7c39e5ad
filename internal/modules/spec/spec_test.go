package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsMalformedUniverse(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = New([]string{"AAPL", ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = New([]string{"AAPL", "MSFT", "AAPL"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestModel_Immutability(t *testing.T) {
	base, err := New([]string{"AAPL", "MSFT"})
	require.NoError(t, err)

	derived := base.WithConstraint(NewLongOnly()).WithObjective(NewMeanReturn()).WithSolver("simplex")

	assert.Empty(t, base.Constraints())
	assert.Empty(t, base.Objectives())
	assert.Empty(t, base.Solver())

	assert.Len(t, derived.Constraints(), 1)
	assert.Len(t, derived.Objectives(), 1)
	assert.Equal(t, "simplex", derived.Solver())
}

func TestModel_Index(t *testing.T) {
	m, err := New([]string{"AAPL", "MSFT", "GOOG"})
	require.NoError(t, err)

	i, ok := m.Index("MSFT")
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = m.Index("TSLA")
	assert.False(t, ok)
}

func TestValidate_ObjectiveCardinality(t *testing.T) {
	m, err := New([]string{"AAPL", "MSFT"})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Validate(), ErrValidation, "no objectives")

	twoRisk := m.WithObjective(NewVariance(1)).WithObjective(NewExpectedShortfall(1, 0.05))
	assert.ErrorIs(t, twoRisk.Validate(), ErrValidation)

	twoReturn := m.WithObjective(NewMeanReturn()).WithObjective(NewMeanReturn())
	assert.ErrorIs(t, twoReturn.Validate(), ErrValidation)

	ok := m.WithObjective(NewMeanReturn()).WithObjective(NewVariance(2))
	assert.NoError(t, ok.Validate())
}

func TestValidate_TailProbabilityRange(t *testing.T) {
	m, err := New([]string{"AAPL"})
	require.NoError(t, err)

	// A raw objective literal can carry an unnormalized tail.
	bad := m.WithObjective(Objective{Kind: ExpectedShortfall, P: 0.6})
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = m.WithObjective(Objective{Kind: ExpectedQuadraticShortfall, P: -0.1})
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestNewExpectedShortfall_NormalizesTail(t *testing.T) {
	assert.InDelta(t, 0.05, NewExpectedShortfall(1, 0.95).P, 1e-12, "confidence level flipped to tail")
	assert.InDelta(t, DefaultTailProbability, NewExpectedShortfall(1, 0).P, 1e-12)
	assert.InDelta(t, 0.10, NewExpectedQuadraticShortfall(1, 0.90).P, 1e-12)
}

func TestObjective_Aversion(t *testing.T) {
	assert.InDelta(t, 1.0, Objective{Kind: Variance}.Aversion(), 1e-12)
	assert.InDelta(t, 3.5, NewVariance(3.5).Aversion(), 1e-12)
}

func TestValidate_BoxConflicts(t *testing.T) {
	m, err := New([]string{"AAPL", "MSFT"})
	require.NoError(t, err)
	m = m.WithObjective(NewMeanReturn())

	assert.ErrorIs(t, m.WithConstraint(NewBox(0.6, 0.4)).Validate(), ErrValidation)

	perAsset := m.WithConstraint(NewBoxPerAsset([]float64{0, 0.5}, []float64{1, 0.2}))
	assert.ErrorIs(t, perAsset.Validate(), ErrValidation)

	wrongLen := m.WithConstraint(NewBoxPerAsset([]float64{0, 0, 0}, []float64{1, 1, 1}))
	assert.ErrorIs(t, wrongLen.Validate(), ErrValidation)

	assert.NoError(t, m.WithConstraint(NewBox(0, 0.6)).Validate())
}

func TestValidate_GroupConstraints(t *testing.T) {
	m, err := New([]string{"AAPL", "MSFT"})
	require.NoError(t, err)
	m = m.WithObjective(NewMeanReturn())

	unknown := m.WithConstraint(NewGroup([]string{"AAPL", "TSLA"}, 0, 0.5))
	assert.ErrorIs(t, unknown.Validate(), ErrValidation)

	empty := m.WithConstraint(NewGroup(nil, 0, 0.5))
	assert.ErrorIs(t, empty.Validate(), ErrValidation)

	conflict := m.WithConstraint(NewGroup([]string{"AAPL"}, 0.8, 0.2))
	assert.ErrorIs(t, conflict.Validate(), ErrValidation)

	assert.NoError(t, m.WithConstraint(NewGroup([]string{"AAPL", "MSFT"}, 0.1, 0.9)).Validate())
}

func TestBoxBounds_Broadcast(t *testing.T) {
	lo, hi, err := NewBox(0.1, 0.4).BoxBounds(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.1, 0.1}, lo)
	assert.Equal(t, []float64{0.4, 0.4, 0.4}, hi)

	_, _, err = NewLongOnly().BoxBounds(3)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestModel_ObjectiveAccessors(t *testing.T) {
	m, err := New([]string{"AAPL"})
	require.NoError(t, err)
	m = m.WithObjective(NewMeanReturn()).WithObjective(NewExpectedShortfall(2, 0.1))

	ret, ok := m.ReturnObjective()
	require.True(t, ok)
	assert.Equal(t, MeanReturn, ret.Kind)

	risk, ok := m.RiskObjective()
	require.True(t, ok)
	assert.Equal(t, ExpectedShortfall, risk.Kind)
	assert.InDelta(t, 0.1, risk.P, 1e-12)
}
