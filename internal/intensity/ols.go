package intensity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// regressionResult mirrors the reference implementation's RegressionResult:
// an OLS fit of y = beta0 + beta1*x with standard errors and R².
type regressionResult struct {
	beta0, beta1     float64
	seBeta0, seBeta1 float64
	rSquared         float64
}

// olsRegression fits y = beta0 + beta1*x by ordinary least squares,
// using gonum/stat for the point estimate and the same residual-based SE/
// R² formulas as the reference implementation.
func olsRegression(x, y []float64) (regressionResult, error) {
	n := len(x)
	if n != len(y) {
		return regressionResult{}, fmt.Errorf("x and y must have the same length")
	}
	if n < 3 {
		return regressionResult{}, fmt.Errorf("need at least 3 data points for regression, got %d", n)
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)

	xMean := stat.Mean(x, nil)
	yMean := stat.Mean(y, nil)

	var denominator float64
	for _, xi := range x {
		d := xi - xMean
		denominator += d * d
	}
	if math.Abs(denominator) < 1e-10 {
		return regressionResult{}, fmt.Errorf("x values have no variance")
	}

	var ssRes, ssTot float64
	for i := range x {
		pred := alpha + beta*x[i]
		resid := y[i] - pred
		ssRes += resid * resid
		ssTot += (y[i] - yMean) * (y[i] - yMean)
	}

	sigma2 := ssRes / float64(n-2)
	seBeta1 := math.Sqrt(sigma2 / denominator)
	seBeta0 := math.Sqrt(sigma2 * (1/float64(n) + xMean*xMean/denominator))

	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
	}

	return regressionResult{
		beta0:    alpha,
		beta1:    beta,
		seBeta0:  seBeta0,
		seBeta1:  seBeta1,
		rSquared: rSquared,
	}, nil
}
