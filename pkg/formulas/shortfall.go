package formulas

import (
	"math"
	"sort"
)

// EffectiveTail normalizes a tail probability. Values above 0.5 are
// interpreted as confidence levels and flipped to 1-p; this mirrors the
// convention used throughout the engine and is intentional, not a repair.
func EffectiveTail(p float64) float64 {
	if p > 0.5 {
		return 1.0 - p
	}
	return p
}

// ExpectedShortfall calculates the sample Expected Shortfall (CVaR) of a
// return series at tail probability p, in positive-loss convention: a
// positive value is a loss, matching the Rockafellar-Uryasev objective
//
//	min over t of  -t + (1/(T·p)) Σ max(0, t - r_i)
//
// The minimum of this piecewise-linear function is attained at one of the
// sample returns, so it is evaluated exactly by direct sorting. When T·p is
// an integer the value equals the negated mean of the worst T·p returns.
func ExpectedShortfall(returns []float64, p float64) float64 {
	p = EffectiveTail(p)
	if len(returns) == 0 || p <= 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tp := float64(len(sorted)) * p
	best := math.Inf(1)
	for _, t := range sorted {
		v := -t
		for _, r := range sorted {
			if r >= t {
				break
			}
			v += (t - r) / tp
		}
		if v < best {
			best = v
		}
	}
	return best
}

// ExpectedQuadraticShortfall calculates the sample Expected Quadratic
// Shortfall of a return series at tail probability p:
//
//	min over t of  -t + (1/p) · ‖max(0, t - r)‖₂
//
// The objective is convex in t, so the scalar minimization is done by
// golden-section search over a bracket that provably contains the optimum.
func ExpectedQuadraticShortfall(returns []float64, p float64) float64 {
	p = EffectiveTail(p)
	if len(returns) == 0 || p <= 0 {
		return math.NaN()
	}

	lo, hi := returns[0], returns[0]
	for _, r := range returns {
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
	}
	spread := math.Max(hi-lo, 1.0)
	a, b := lo-spread, hi+spread

	obj := func(t float64) float64 {
		var sumSq float64
		for _, r := range returns {
			if s := t - r; s > 0 {
				sumSq += s * s
			}
		}
		return -t + math.Sqrt(sumSq)/p
	}

	// Golden-section search.
	const phi = 0.6180339887498949
	x1 := b - phi*(b-a)
	x2 := a + phi*(b-a)
	f1, f2 := obj(x1), obj(x2)
	for i := 0; i < 200 && b-a > 1e-12; i++ {
		if f1 < f2 {
			b, x2, f2 = x2, x1, f1
			x1 = b - phi*(b-a)
			f1 = obj(x1)
		} else {
			a, x1, f1 = x1, x2, f2
			x2 = a + phi*(b-a)
			f2 = obj(x2)
		}
	}
	return obj((a + b) / 2)
}
