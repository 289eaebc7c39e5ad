package spec

import (
	"fmt"
	"math"
)

// Validate checks the model for structural problems: conflicting bounds,
// unknown symbols, asset-count mismatches and malformed objectives. It runs
// before any program is built so that a bad spec fails fast.
func (m Model) Validate() error {
	if len(m.universe) == 0 {
		return fmt.Errorf("%w: empty universe", ErrValidation)
	}

	n := len(m.universe)
	returnCount, riskCount := 0, 0
	for _, o := range m.objectives {
		if o.Kind.IsRisk() {
			riskCount++
		} else {
			returnCount++
		}
		switch o.Kind {
		case MeanReturn, Variance:
		case ExpectedShortfall, ExpectedQuadraticShortfall:
			if o.P <= 0 || o.P > 0.5 {
				return fmt.Errorf("%w: %s tail probability %.4f outside (0, 0.5]", ErrValidation, o.Kind, o.P)
			}
		default:
			return fmt.Errorf("%w: unknown objective kind %s", ErrValidation, o.Kind)
		}
		if o.RiskAversion < 0 {
			return fmt.Errorf("%w: negative risk aversion %.4f on %s", ErrValidation, o.RiskAversion, o.Kind)
		}
	}
	if returnCount > 1 {
		return fmt.Errorf("%w: %d return objectives, at most one is allowed", ErrValidation, returnCount)
	}
	if riskCount > 1 {
		return fmt.Errorf("%w: %d risk objectives, at most one is allowed", ErrValidation, riskCount)
	}
	if returnCount == 0 && riskCount == 0 {
		return fmt.Errorf("%w: no objectives", ErrValidation)
	}

	for _, c := range m.constraints {
		switch c.Kind {
		case FullInvestment, LongOnly:
		case Box:
			lo, hi, err := c.BoxBounds(n)
			if err != nil {
				return err
			}
			for i := range lo {
				if lo[i] > hi[i] {
					return fmt.Errorf("%w: asset %s box bounds conflict: lower=%.4f > upper=%.4f",
						ErrValidation, m.universe[i], lo[i], hi[i])
				}
			}
		case Group:
			if len(c.Symbols) == 0 {
				return fmt.Errorf("%w: group constraint with no symbols", ErrValidation)
			}
			for _, s := range c.Symbols {
				if _, ok := m.index[s]; !ok {
					return fmt.Errorf("%w: group constraint references unknown symbol %s", ErrValidation, s)
				}
			}
			if c.GroupLower > c.GroupUpper {
				return fmt.Errorf("%w: group bounds conflict: lower=%.4f > upper=%.4f",
					ErrValidation, c.GroupLower, c.GroupUpper)
			}
		case ReturnTarget:
			if math.IsNaN(c.Target) || math.IsInf(c.Target, 0) {
				return fmt.Errorf("%w: non-finite return target", ErrValidation)
			}
		default:
			return fmt.Errorf("%w: unknown constraint kind %s", ErrValidation, c.Kind)
		}
	}

	return nil
}

// BoxBounds expands a box constraint to per-asset lower/upper slices of
// length n. Uniform boxes (single-element bounds) are broadcast.
func (c Constraint) BoxBounds(n int) ([]float64, []float64, error) {
	if c.Kind != Box {
		return nil, nil, fmt.Errorf("%w: BoxBounds on %s constraint", ErrValidation, c.Kind)
	}
	expand := func(v []float64) ([]float64, error) {
		switch len(v) {
		case 1:
			out := make([]float64, n)
			for i := range out {
				out[i] = v[0]
			}
			return out, nil
		case n:
			return append([]float64(nil), v...), nil
		default:
			return nil, fmt.Errorf("%w: box bounds length %d does not match %d assets", ErrValidation, len(v), n)
		}
	}
	lo, err := expand(c.Lower)
	if err != nil {
		return nil, nil, err
	}
	hi, err := expand(c.Upper)
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}
