// Package solver dispatches canonical programs to numerical backends and
// normalizes their results. Backends are selected per problem class through
// an explicit, configurable mapping; there is no hidden global default.
package solver

import (
	"context"
	"errors"

	"github.com/convexfolio/convexfolio/internal/modules/program"
)

// Status is the normalized outcome of one backend invocation.
type Status int

const (
	// StatusOptimal means the backend converged to a feasible optimum.
	StatusOptimal Status = iota
	// StatusInfeasible means the backend proved or detected infeasibility.
	StatusInfeasible
	// StatusUnbounded means the objective is unbounded below.
	StatusUnbounded
	// StatusTimeout means the backend hit its runtime limit.
	StatusTimeout
	// StatusNumericalFailure means the backend failed to converge.
	StatusNumericalFailure
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeout:
		return "timeout"
	case StatusNumericalFailure:
		return "numerical_failure"
	}
	return "unknown"
}

// Sentinel errors surfaced by the adapter. Callers match with errors.Is.
var (
	ErrUnknownBackend          = errors.New("unknown solver backend")
	ErrUnsupportedProblemClass = errors.New("backend cannot express problem class")
	ErrInfeasible              = errors.New("infeasible problem")
	ErrUnbounded               = errors.New("unbounded problem")
	ErrTimeout                 = errors.New("solver timeout")
	ErrNumericalFailure        = errors.New("solver numerical failure")
)

// Solution is the normalized (weights, status, solver-name) triple. X is the
// full stacked variable vector of the canonical program.
type Solution struct {
	X         []float64
	Objective float64
	Status    Status
	Backend   string
}

// Backend is one numerical solver.
type Backend interface {
	Name() string
	Supports(c program.Class) bool
	// Solve runs the backend. A context deadline maps to the backend's
	// runtime limit where it supports one.
	Solve(ctx context.Context, p *program.Program) (Solution, error)
}
