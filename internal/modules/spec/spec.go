// Package spec defines the declarative portfolio specification: the asset
// universe, linear constraints and return/risk objectives that the problem
// builder compiles into a convex program. A Model is immutable; every With*
// method returns a new value, so specs can be shared across concurrent
// solves without aliasing.
package spec

import (
	"errors"
	"fmt"
)

// ErrValidation marks a malformed portfolio specification. It is returned
// before any program construction takes place.
var ErrValidation = errors.New("invalid portfolio spec")

// ConstraintKind is the closed set of supported linear constraint variants.
type ConstraintKind int

const (
	// FullInvestment requires sum(w) = 1.
	FullInvestment ConstraintKind = iota
	// LongOnly requires w >= 0.
	LongOnly
	// Box bounds each weight to a per-asset [min, max] interval.
	Box
	// Group bounds the summed weight of a subset of assets.
	Group
	// ReturnTarget requires mu'w >= target, using the same mean estimate
	// as the return objective.
	ReturnTarget
)

// String returns the constraint tag name for logs and errors.
func (k ConstraintKind) String() string {
	switch k {
	case FullInvestment:
		return "full_investment"
	case LongOnly:
		return "long_only"
	case Box:
		return "box"
	case Group:
		return "group"
	case ReturnTarget:
		return "return_target"
	}
	return fmt.Sprintf("constraint(%d)", int(k))
}

// Constraint is one tagged constraint variant. Only the fields relevant to
// its Kind are populated; use the constructors rather than literals.
type Constraint struct {
	Kind ConstraintKind

	// Box: per-asset bounds, aligned to the universe. Length n.
	Lower []float64
	Upper []float64

	// Group: member symbols and bounds on their summed weight.
	Symbols    []string
	GroupLower float64
	GroupUpper float64

	// ReturnTarget: minimum portfolio mean return.
	Target float64
}

// NewFullInvestment creates the sum(w) = 1 constraint.
func NewFullInvestment() Constraint {
	return Constraint{Kind: FullInvestment}
}

// NewLongOnly creates the w >= 0 constraint.
func NewLongOnly() Constraint {
	return Constraint{Kind: LongOnly}
}

// NewBox creates a uniform per-asset box constraint. The bounds are expanded
// to the universe size when the constraint is attached to a model.
func NewBox(lower, upper float64) Constraint {
	return Constraint{Kind: Box, Lower: []float64{lower}, Upper: []float64{upper}}
}

// NewBoxPerAsset creates a box constraint with explicit per-asset bounds,
// aligned to the universe ordering.
func NewBoxPerAsset(lower, upper []float64) Constraint {
	return Constraint{Kind: Box, Lower: lower, Upper: upper}
}

// NewGroup bounds the summed weight of the given symbols to [lower, upper].
func NewGroup(symbols []string, lower, upper float64) Constraint {
	return Constraint{Kind: Group, Symbols: symbols, GroupLower: lower, GroupUpper: upper}
}

// NewReturnTarget requires the portfolio mean return to reach target.
func NewReturnTarget(target float64) Constraint {
	return Constraint{Kind: ReturnTarget, Target: target}
}

// ObjectiveKind is the closed set of supported objective variants. The
// risk-measure dispatch is resolved here, at model construction, so a typo
// cannot survive until solve time.
type ObjectiveKind int

const (
	// MeanReturn maximizes mu'w.
	MeanReturn ObjectiveKind = iota
	// Variance minimizes w'Sigma w.
	Variance
	// ExpectedShortfall minimizes sample CVaR at tail probability P.
	ExpectedShortfall
	// ExpectedQuadraticShortfall minimizes the L2 shortfall analogue at
	// tail probability P. Requires a conic-capable solver.
	ExpectedQuadraticShortfall
)

// String returns the objective tag name for logs and errors.
func (k ObjectiveKind) String() string {
	switch k {
	case MeanReturn:
		return "mean_return"
	case Variance:
		return "variance"
	case ExpectedShortfall:
		return "expected_shortfall"
	case ExpectedQuadraticShortfall:
		return "expected_quadratic_shortfall"
	}
	return fmt.Sprintf("objective(%d)", int(k))
}

// IsRisk reports whether the objective is a risk term.
func (k ObjectiveKind) IsRisk() bool {
	return k != MeanReturn
}

// DefaultTailProbability is used when a shortfall objective does not carry
// an explicit tail probability.
const DefaultTailProbability = 0.05

// Objective is one tagged objective variant.
type Objective struct {
	Kind ObjectiveKind

	// RiskAversion scales a risk term when it is combined additively with
	// a return term. Zero means 1.
	RiskAversion float64

	// P is the tail probability for shortfall objectives. Values above 0.5
	// are treated as confidence levels and flipped to 1-P; this is an
	// intentional domain convention carried over from common usage, not
	// silent repair.
	P float64
}

// NewMeanReturn creates the mean-return objective.
func NewMeanReturn() Objective {
	return Objective{Kind: MeanReturn}
}

// NewVariance creates the variance objective with the given risk aversion.
func NewVariance(riskAversion float64) Objective {
	return Objective{Kind: Variance, RiskAversion: riskAversion}
}

// NewExpectedShortfall creates the ES objective. p = 0 selects the default
// tail probability; p > 0.5 is flipped to 1-p.
func NewExpectedShortfall(riskAversion, p float64) Objective {
	return Objective{Kind: ExpectedShortfall, RiskAversion: riskAversion, P: normalizeTail(p)}
}

// NewExpectedQuadraticShortfall creates the EQS objective. p = 0 selects the
// default tail probability; p > 0.5 is flipped to 1-p.
func NewExpectedQuadraticShortfall(riskAversion, p float64) Objective {
	return Objective{Kind: ExpectedQuadraticShortfall, RiskAversion: riskAversion, P: normalizeTail(p)}
}

func normalizeTail(p float64) float64 {
	if p == 0 {
		return DefaultTailProbability
	}
	if p > 0.5 {
		return 1.0 - p
	}
	return p
}

// Aversion returns the effective risk-aversion multiplier.
func (o Objective) Aversion() float64 {
	if o.RiskAversion == 0 {
		return 1.0
	}
	return o.RiskAversion
}

// Model is an immutable portfolio specification.
type Model struct {
	universe    []string
	index       map[string]int
	constraints []Constraint
	objectives  []Objective
	solver      string // explicit backend name, "" = class default
}

// New creates a model over an ordered universe of unique symbols.
func New(symbols []string) (Model, error) {
	if len(symbols) == 0 {
		return Model{}, fmt.Errorf("%w: empty universe", ErrValidation)
	}
	universe := make([]string, len(symbols))
	index := make(map[string]int, len(symbols))
	for i, s := range symbols {
		if s == "" {
			return Model{}, fmt.Errorf("%w: empty symbol at position %d", ErrValidation, i)
		}
		if _, dup := index[s]; dup {
			return Model{}, fmt.Errorf("%w: duplicate symbol %s", ErrValidation, s)
		}
		universe[i] = s
		index[s] = i
	}
	return Model{universe: universe, index: index}, nil
}

// WithConstraint returns a copy of the model with the constraint appended.
func (m Model) WithConstraint(c Constraint) Model {
	out := m
	out.constraints = append(append([]Constraint(nil), m.constraints...), c)
	return out
}

// WithObjective returns a copy of the model with the objective appended.
func (m Model) WithObjective(o Objective) Model {
	out := m
	out.objectives = append(append([]Objective(nil), m.objectives...), o)
	return out
}

// WithSolver returns a copy of the model with an explicit backend override.
func (m Model) WithSolver(name string) Model {
	out := m
	out.solver = name
	return out
}

// Universe returns a copy of the ordered symbol list.
func (m Model) Universe() []string {
	return append([]string(nil), m.universe...)
}

// NumAssets returns the universe size.
func (m Model) NumAssets() int {
	return len(m.universe)
}

// Index returns the position of a symbol in the universe.
func (m Model) Index(symbol string) (int, bool) {
	i, ok := m.index[symbol]
	return i, ok
}

// Constraints returns a copy of the ordered constraint list.
func (m Model) Constraints() []Constraint {
	return append([]Constraint(nil), m.constraints...)
}

// Objectives returns a copy of the ordered objective list.
func (m Model) Objectives() []Objective {
	return append([]Objective(nil), m.objectives...)
}

// Solver returns the explicit backend override, or "" for class defaults.
func (m Model) Solver() string {
	return m.solver
}

// ReturnObjective returns the single return objective, if present.
func (m Model) ReturnObjective() (Objective, bool) {
	for _, o := range m.objectives {
		if !o.Kind.IsRisk() {
			return o, true
		}
	}
	return Objective{}, false
}

// RiskObjective returns the single risk objective, if present.
func (m Model) RiskObjective() (Objective, bool) {
	for _, o := range m.objectives {
		if o.Kind.IsRisk() {
			return o, true
		}
	}
	return Objective{}, false
}
