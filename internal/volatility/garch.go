// Package volatility implements the bot's σ (daily volatility) estimators:
// simple sample-variance annualization, and GARCH(1,1) maximum-likelihood
// fits under Gaussian and Student-t innovations.
//
// The GARCH recursions and negative-log-likelihood formulas are ported
// directly from the reference implementation's garch.rs; the derivative-
// free simplex fit itself uses gonum's NelderMead optimizer in place of
// the original's argmin crate.
package volatility

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Numerical-stability constants, matching the reference implementation.
const (
	smallPos   = 1e-12
	largeValue = 1e12

	nelderMeadTolerance = 1e-6
	nelderMeadMaxIter   = 5000

	secondsPerDay = 86400.0
)

// GarchParams are the fitted parameters of a Gaussian GARCH(1,1) fit.
type GarchParams struct {
	Mu    float64
	Omega float64
	Alpha float64
	Beta  float64
}

// IsValid reports whether the parameters satisfy the GARCH(1,1)
// stationarity and positivity constraints.
func (p GarchParams) IsValid() bool {
	return p.Omega > 0 && p.Alpha >= 0 && p.Beta >= 0 && p.Alpha+p.Beta < 1
}

// Persistence returns α + β.
func (p GarchParams) Persistence() float64 {
	return p.Alpha + p.Beta
}

// GarchParamsStudentT are the fitted parameters of a Student-t GARCH(1,1) fit.
type GarchParamsStudentT struct {
	Mu    float64
	Omega float64
	Alpha float64
	Beta  float64
	Nu    float64
}

// IsValid reports whether the parameters satisfy the GARCH(1,1)
// constraints, including ν > 2 for finite variance.
func (p GarchParamsStudentT) IsValid() bool {
	return p.Omega > 0 && p.Alpha >= 0 && p.Beta >= 0 && p.Alpha+p.Beta < 1 && p.Nu > 2
}

// Persistence returns α + β.
func (p GarchParamsStudentT) Persistence() float64 {
	return p.Alpha + p.Beta
}

// GarchForecast is a one-step-ahead Gaussian GARCH forecast.
type GarchForecast struct {
	Params    GarchParams
	MeanNext  float64
	SigmaNext float64
	VarNext   float64
}

// GarchForecastStudentT is a one-step-ahead Student-t GARCH forecast.
type GarchForecastStudentT struct {
	Params    GarchParamsStudentT
	MeanNext  float64
	SigmaNext float64
	VarNext   float64
}

func arrayMean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// arrayVariance returns the sample variance (divides by N-1), matching
// array_variance in the reference implementation.
func arrayVariance(x []float64) float64 {
	if len(x) <= 1 {
		return 0
	}
	return stat.Variance(x, nil)
}

// logGamma computes ln Γ(x) via the Lanczos approximation (g=7, n=9),
// the same coefficients as the reference implementation's log_gamma.
func logGamma(x float64) float64 {
	coef := [9]float64{
		0.99999999999980993,
		676.5203681218851,
		-1259.1392167224028,
		771.32342877765313,
		-176.61502916214059,
		12.507343278686905,
		-0.13857109526572012,
		9.9843695780195716e-6,
		1.5056327351493116e-7,
	}
	const g = 7.0

	if x < 0.5 {
		return math.Log(math.Pi) - math.Log(math.Abs(math.Sin(math.Pi*x))) - logGamma(1-x)
	}
	z := x - 1
	sum := coef[0]
	for i := 1; i < 9; i++ {
		sum += coef[i] / (z + float64(i))
	}
	temp := z + g + 0.5
	return 0.5*math.Log(2*math.Pi) + (z+0.5)*math.Log(temp) - temp + math.Log(sum)
}

// negLogLikelihood computes the Gaussian GARCH(1,1) NLL for
// theta = [mu, omega, alpha, beta].
func negLogLikelihood(theta []float64, returns []float64) float64 {
	mu, omega, alpha, beta := theta[0], theta[1], theta[2], theta[3]
	if omega <= 0 || alpha < 0 || beta < 0 || alpha+beta >= 1 {
		return largeValue
	}

	n := len(returns)
	if n < 2 {
		return largeValue
	}

	residuals := make([]float64, n)
	for i, r := range returns {
		residuals[i] = r - mu
	}

	sigma2 := make([]float64, n)
	sampleVar := arrayVariance(returns)
	if sampleVar > 0 {
		sigma2[0] = sampleVar
	} else {
		sigma2[0] = smallPos
	}

	for t := 1; t < n; t++ {
		sigma2[t] = omega + alpha*residuals[t-1]*residuals[t-1] + beta*sigma2[t-1]
		if sigma2[t] <= 0 {
			return largeValue
		}
	}

	c := 0.5 * math.Log(2*math.Pi)
	nll := 0.0
	for t := 0; t < n; t++ {
		nll += c + 0.5*math.Log(sigma2[t]) + 0.5*residuals[t]*residuals[t]/sigma2[t]
	}
	return nll
}

// negLogLikelihoodStudentT computes the Student-t GARCH(1,1) NLL for
// theta = [mu, omega, alpha, beta, nu].
func negLogLikelihoodStudentT(theta []float64, returns []float64) float64 {
	mu, omega, alpha, beta, nu := theta[0], theta[1], theta[2], theta[3], theta[4]
	if omega <= 0 || alpha < 0 || beta < 0 || alpha+beta >= 1 || nu <= 2 {
		return largeValue
	}

	n := len(returns)
	if n < 2 {
		return largeValue
	}

	residuals := make([]float64, n)
	for i, r := range returns {
		residuals[i] = r - mu
	}

	sigma2 := make([]float64, n)
	sampleVar := arrayVariance(returns)
	if sampleVar > 0 {
		sigma2[0] = sampleVar
	} else {
		sigma2[0] = smallPos
	}

	for t := 1; t < n; t++ {
		sigma2[t] = omega + alpha*residuals[t-1]*residuals[t-1] + beta*sigma2[t-1]
		if sigma2[t] <= 0 {
			return largeValue
		}
	}

	c := logGamma((nu+1)/2) - logGamma(nu/2) - 0.5*math.Log((nu-2)*math.Pi)
	nll := 0.0
	for t := 0; t < n; t++ {
		zSquared := residuals[t] * residuals[t] / sigma2[t]
		term := ((nu + 1) / 2) * math.Log(1+zSquared/(nu-2))
		nll -= c - 0.5*math.Log(sigma2[t]) - term
	}
	return nll
}

// minimize runs Nelder-Mead starting from x0, returning the best
// parameter vector found. The reference implementation seeds an explicit
// simplex of perturbed vertices; gonum's NelderMead instead grows its
// initial simplex from x0 by its own step size, so a directionally
// similar perturbation is baked into x0 by the caller where it matters.
func minimize(cost func([]float64) float64, x0 []float64) ([]float64, error) {
	p := optimize.Problem{Func: cost}

	settings := &optimize.Settings{
		MajorIterations: nelderMeadMaxIter,
		FuncEvaluations: nelderMeadMaxIter * 4,
		FunctionConverge: &optimize.FunctionConverge{
			Absolute:   nelderMeadTolerance,
			Relative:   nelderMeadTolerance,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(p, x0, settings, &optimize.NelderMead{})
	if err != nil && result == nil {
		return nil, fmt.Errorf("nelder-mead optimization failed: %w", err)
	}
	return result.X, nil
}

// FitGarch11 fits a Gaussian GARCH(1,1) model to a series of log returns.
func FitGarch11(returns []float64) (GarchParams, error) {
	if len(returns) < 3 {
		return GarchParams{}, fmt.Errorf("need at least 3 returns for GARCH(1,1), got %d", len(returns))
	}
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return GarchParams{}, fmt.Errorf("returns contain non-finite values")
		}
	}

	mu0 := arrayMean(returns)
	v0 := arrayVariance(returns)
	if v0 <= 0 {
		v0 = smallPos
	}
	x0 := []float64{mu0, 0.1 * v0, 0.05, 0.90}

	theta, err := minimize(func(theta []float64) float64 {
		return negLogLikelihood(theta, returns)
	}, x0)
	if err != nil {
		return GarchParams{}, err
	}

	params := GarchParams{Mu: theta[0], Omega: theta[1], Alpha: theta[2], Beta: theta[3]}
	if !params.IsValid() {
		return GarchParams{}, fmt.Errorf(
			"GARCH optimization produced invalid parameters: mu=%.6f omega=%.6f alpha=%.6f beta=%.6f alpha+beta=%.6f",
			params.Mu, params.Omega, params.Alpha, params.Beta, params.Persistence())
	}
	return params, nil
}

// FitGarch11StudentT fits a Student-t GARCH(1,1) model to a series of log returns.
func FitGarch11StudentT(returns []float64) (GarchParamsStudentT, error) {
	if len(returns) < 3 {
		return GarchParamsStudentT{}, fmt.Errorf("need at least 3 returns for GARCH(1,1), got %d", len(returns))
	}
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return GarchParamsStudentT{}, fmt.Errorf("returns contain non-finite values")
		}
	}

	mu0 := arrayMean(returns)
	v0 := arrayVariance(returns)
	if v0 <= 0 {
		v0 = smallPos
	}
	x0 := []float64{mu0, 0.1 * v0, 0.05, 0.90, 6.0}

	theta, err := minimize(func(theta []float64) float64 {
		return negLogLikelihoodStudentT(theta, returns)
	}, x0)
	if err != nil {
		return GarchParamsStudentT{}, err
	}

	params := GarchParamsStudentT{Mu: theta[0], Omega: theta[1], Alpha: theta[2], Beta: theta[3], Nu: theta[4]}
	if !params.IsValid() {
		return GarchParamsStudentT{}, fmt.Errorf(
			"GARCH-t optimization produced invalid parameters: mu=%.6f omega=%.6f alpha=%.6f beta=%.6f nu=%.6f",
			params.Mu, params.Omega, params.Alpha, params.Beta, params.Nu)
	}
	return params, nil
}

// PredictOneStep computes the one-step-ahead Gaussian GARCH forecast from
// fitted parameters and the returns series they were fit on.
func PredictOneStep(params GarchParams, returns []float64) (GarchForecast, error) {
	if !params.IsValid() {
		return GarchForecast{}, fmt.Errorf("invalid GARCH parameters")
	}
	n := len(returns)
	if n < 2 {
		return GarchForecast{}, fmt.Errorf("need at least 2 returns for prediction, got %d", n)
	}

	residuals := make([]float64, n)
	for i, r := range returns {
		residuals[i] = r - params.Mu
	}

	sigma2 := make([]float64, n)
	sampleVar := arrayVariance(returns)
	if sampleVar > 0 {
		sigma2[0] = sampleVar
	} else {
		sigma2[0] = smallPos
	}
	for t := 1; t < n; t++ {
		sigma2[t] = params.Omega + params.Alpha*residuals[t-1]*residuals[t-1] + params.Beta*sigma2[t-1]
		if sigma2[t] <= 0 {
			sigma2[t] = smallPos
		}
	}

	epsLast := residuals[n-1]
	varNext := params.Omega + params.Alpha*epsLast*epsLast + params.Beta*sigma2[n-1]
	if varNext <= 0 {
		varNext = smallPos
	}

	return GarchForecast{
		Params:    params,
		MeanNext:  params.Mu,
		SigmaNext: math.Sqrt(varNext),
		VarNext:   varNext,
	}, nil
}

// PredictOneStepStudentT computes the one-step-ahead Student-t GARCH
// forecast from fitted parameters and the returns series they were fit on.
func PredictOneStepStudentT(params GarchParamsStudentT, returns []float64) (GarchForecastStudentT, error) {
	if !params.IsValid() {
		return GarchForecastStudentT{}, fmt.Errorf("invalid GARCH-t parameters")
	}
	n := len(returns)
	if n < 2 {
		return GarchForecastStudentT{}, fmt.Errorf("need at least 2 returns for prediction, got %d", n)
	}

	residuals := make([]float64, n)
	for i, r := range returns {
		residuals[i] = r - params.Mu
	}

	sigma2 := make([]float64, n)
	sampleVar := arrayVariance(returns)
	if sampleVar > 0 {
		sigma2[0] = sampleVar
	} else {
		sigma2[0] = smallPos
	}
	for t := 1; t < n; t++ {
		sigma2[t] = params.Omega + params.Alpha*residuals[t-1]*residuals[t-1] + params.Beta*sigma2[t-1]
		if sigma2[t] <= 0 {
			sigma2[t] = smallPos
		}
	}

	epsLast := residuals[n-1]
	varNext := params.Omega + params.Alpha*epsLast*epsLast + params.Beta*sigma2[n-1]
	if varNext <= 0 {
		varNext = smallPos
	}

	return GarchForecastStudentT{
		Params:    params,
		MeanNext:  params.Mu,
		SigmaNext: math.Sqrt(varNext),
		VarNext:   varNext,
	}, nil
}

// DailyFromVariance annualizes a per-interval variance to a daily
// volatility, given the grid spacing deltaT in seconds. Used by every
// estimation mode to convert its native-interval number to the daily σ
// MarketParameters carries.
func DailyFromVariance(variance, deltaT float64) float64 {
	if deltaT <= 0 {
		return 0
	}
	return math.Sqrt(variance * secondsPerDay / deltaT)
}
