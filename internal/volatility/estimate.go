package volatility

import (
	"fmt"
	"math"
	"time"

	"marketmaker/pkg/types"
)

// Resample forward-fills mid prices from a time-ordered series of top-of-
// book rows onto a fixed grid of spacing deltaT, starting at the first
// row's timestamp and ending at the last. Each grid point takes the mid
// of the last snapshot at or before it; grid points before the first
// snapshot are skipped. Non-positive mids are discarded from the input
// before resampling, per spec §4.3.
func Resample(rows []types.TopOfBookRow, deltaT time.Duration) []float64 {
	clean := make([]types.TopOfBookRow, 0, len(rows))
	for _, r := range rows {
		if r.Mid.IsPositive() {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	stepMs := deltaT.Milliseconds()
	if stepMs <= 0 {
		return nil
	}

	start := clean[0].TimestampMs
	end := clean[len(clean)-1].TimestampMs

	out := make([]float64, 0, (end-start)/stepMs+1)
	idx := 0
	for t := start; t <= end; t += stepMs {
		for idx+1 < len(clean) && clean[idx+1].TimestampMs <= t {
			idx++
		}
		if clean[idx].TimestampMs > t {
			continue // no snapshot yet at-or-before this grid point
		}
		midF, _ := clean[idx].Mid.Float64()
		out = append(out, midF)
	}
	return out
}

// LogReturns computes r_i = ln(m_{i+1}/m_i) over a resampled mid series,
// discarding non-positive mids (already filtered by Resample, but kept
// defensive here since callers may feed arbitrary series).
func LogReturns(mids []float64) []float64 {
	out := make([]float64, 0, len(mids))
	for i := 0; i+1 < len(mids); i++ {
		a, b := mids[i], mids[i+1]
		if a <= 0 || b <= 0 {
			continue
		}
		out = append(out, math.Log(b/a))
	}
	return out
}

// Estimate computes daily σ from a resampled log-return series using the
// configured method, and returns the MarketParameters fields volatility
// estimation is responsible for (Sigma, SigmaMethod, SampleCount).
func Estimate(returns []float64, deltaT time.Duration, method types.SigmaMethod) (types.MarketParameters, error) {
	step := deltaT.Seconds()

	switch method {
	case types.SigmaSimple, "":
		return estimateSimple(returns, step)
	case types.SigmaGarch:
		return estimateGarch(returns, step)
	case types.SigmaGarchStudT:
		return estimateGarchStudentT(returns, step)
	default:
		return types.MarketParameters{}, fmt.Errorf("unknown sigma estimation method %q", method)
	}
}

func estimateSimple(returns []float64, deltaTSeconds float64) (types.MarketParameters, error) {
	if len(returns) < 2 {
		return types.MarketParameters{}, fmt.Errorf("need at least 2 returns for simple sigma, got %d", len(returns))
	}
	variance := arrayVariance(returns)
	sigma := DailyFromVariance(variance, deltaTSeconds)
	return types.MarketParameters{
		Sigma:       sigma,
		SigmaMethod: types.SigmaSimple,
		SampleCount: len(returns),
	}, nil
}

func estimateGarch(returns []float64, deltaTSeconds float64) (types.MarketParameters, error) {
	params, err := FitGarch11(returns)
	if err != nil {
		return types.MarketParameters{}, err
	}
	forecast, err := PredictOneStep(params, returns)
	if err != nil {
		return types.MarketParameters{}, err
	}
	return types.MarketParameters{
		Sigma:       DailyFromVariance(forecast.VarNext, deltaTSeconds),
		SigmaMethod: types.SigmaGarch,
		SampleCount: len(returns),
	}, nil
}

func estimateGarchStudentT(returns []float64, deltaTSeconds float64) (types.MarketParameters, error) {
	params, err := FitGarch11StudentT(returns)
	if err != nil {
		return types.MarketParameters{}, err
	}
	forecast, err := PredictOneStepStudentT(params, returns)
	if err != nil {
		return types.MarketParameters{}, err
	}
	return types.MarketParameters{
		Sigma:       DailyFromVariance(forecast.VarNext, deltaTSeconds),
		SigmaMethod: types.SigmaGarchStudT,
		SampleCount: len(returns),
	}, nil
}
