// Package formulas provides closed-form sample statistics used by the
// optimization engine and as independent oracles in its tests.
package formulas

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MeanVector calculates the column-wise sample mean of a T×n return matrix.
func MeanVector(returns mat.Matrix) []float64 {
	_, n := returns.Dims()
	mu := make([]float64, n)
	for j := 0; j < n; j++ {
		mu[j] = stat.Mean(mat.Col(nil, j, returns), nil)
	}
	return mu
}

// CovarianceMatrix calculates the sample covariance of a T×n return matrix.
// The result is kept symmetric; callers treat it as a quadratic form and
// never expand it further.
func CovarianceMatrix(returns mat.Matrix) *mat.SymDense {
	_, n := returns.Dims()
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns, nil)
	return cov
}

// PortfolioSeries calculates the realized portfolio return r_i'w for every
// observation row of a T×n return matrix.
func PortfolioSeries(returns mat.Matrix, weights []float64) []float64 {
	rows, _ := returns.Dims()
	series := make([]float64, rows)
	for i := 0; i < rows; i++ {
		series[i] = floats.Dot(mat.Row(nil, i, returns), weights)
	}
	return series
}

// PortfolioMean calculates μ'w.
func PortfolioMean(mu, weights []float64) float64 {
	return floats.Dot(mu, weights)
}

// PortfolioVariance calculates w'Σw.
func PortfolioVariance(cov *mat.SymDense, weights []float64) float64 {
	n := len(weights)
	var variance float64
	for i := 0; i < n; i++ {
		wi := weights[i]
		for j := 0; j < n; j++ {
			variance += wi * weights[j] * cov.At(i, j)
		}
	}
	return variance
}
