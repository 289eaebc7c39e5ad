package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/convexfolio/convexfolio/internal/modules/program"
)

// Defaults is the explicit problem-class to backend-name mapping. Empty
// fields select the built-in defaults. The mapping is configuration, not
// global state, so tests can exercise alternates directly.
type Defaults struct {
	LP   string
	QP   string
	SOCP string
}

func (d Defaults) forClass(c program.Class) string {
	switch c {
	case program.ClassLP:
		if d.LP != "" {
			return d.LP
		}
		return SimplexName
	case program.ClassQP:
		if d.QP != "" {
			return d.QP
		}
		return BFGSName
	default:
		// The SOCP default must be conic-capable; simplex never is.
		if d.SOCP != "" {
			return d.SOCP
		}
		return BFGSName
	}
}

// Options tune one adapter invocation.
type Options struct {
	// Backend forces an explicit backend by name; "" selects the class
	// default. A backend that cannot express the program's class fails
	// with ErrUnsupportedProblemClass.
	Backend string
	// NoFallback disables the one bfgs -> neldermead retry on
	// non-convergence. The retry is the only implicit recovery and is
	// opt-out, mirroring the adapter's gradient-method heritage.
	NoFallback bool
}

// Adapter routes programs to registered backends.
type Adapter struct {
	backends map[string]Backend
	defaults Defaults
	log      zerolog.Logger
}

// NewAdapter creates an adapter with the three built-in gonum backends
// registered: simplex (exact LP), bfgs (penalty gradient method) and
// neldermead (derivative-free penalty method).
func NewAdapter(defaults Defaults, log zerolog.Logger) *Adapter {
	a := &Adapter{
		backends: make(map[string]Backend),
		defaults: defaults,
		log:      log.With().Str("component", "solver").Logger(),
	}
	a.Register(&Simplex{})
	a.Register(NewBFGS())
	a.Register(NewNelderMead())
	return a
}

// Register adds or replaces a backend by name.
func (a *Adapter) Register(b Backend) {
	a.backends[b.Name()] = b
}

// Solve selects a backend for the program's class (or the explicit
// override), invokes it, and normalizes the result. The solution records
// the backend that actually ran, since different backends can return
// numerically close but non-identical optima.
func (a *Adapter) Solve(ctx context.Context, p *program.Program, opts Options) (Solution, error) {
	name := opts.Backend
	if name == "" {
		name = a.defaults.forClass(p.Class)
	}

	backend, ok := a.backends[name]
	if !ok {
		return Solution{Status: StatusNumericalFailure},
			fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	if !backend.Supports(p.Class) {
		return Solution{Status: StatusNumericalFailure},
			fmt.Errorf("%w: backend %q cannot solve %s programs", ErrUnsupportedProblemClass, name, p.Class)
	}

	a.log.Debug().
		Str("backend", name).
		Str("class", p.Class.String()).
		Str("mode", p.Mode.String()).
		Int("num_vars", p.NumVars).
		Msg("Dispatching program")

	sol, err := backend.Solve(ctx, p)
	sol.Backend = backend.Name()

	// One explicit retry with the derivative-free method when the
	// gradient method fails to converge. Infeasibility is not retried:
	// a second backend cannot make an infeasible program feasible.
	if err != nil && errors.Is(err, ErrNumericalFailure) && name == BFGSName && !opts.NoFallback {
		a.log.Warn().Err(err).Msg("BFGS failed to converge, retrying with Nelder-Mead")
		fallback := a.backends[NelderMeadName]
		if fallback != nil && fallback.Supports(p.Class) {
			sol, err = fallback.Solve(ctx, p)
			sol.Backend = NelderMeadName
		}
	}

	if err != nil {
		return sol, err
	}
	return sol, nil
}
