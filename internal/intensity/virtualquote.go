package intensity

import (
	"fmt"
	"math"

	"marketmaker/pkg/types"
)

// MidSample is one point on the resampled mid-price grid used by virtual
// quoting: a wall-clock time (seconds since epoch) and a mid price.
type MidSample struct {
	TimeSec float64
	Mid     float64
}

// VirtualQuoteEstimate is the result of fitting κ by virtual quoting.
type VirtualQuoteEstimate struct {
	Kappa      float64
	A          float64
	RSquared   float64
	NumLevels  int
	DeltaGrid  []float64
	Intensities []float64
}

// EstimateVirtualQuoting implements spec §4.4(b): for each δ in the grid,
// place a virtual bid at m(t)-δ and ask at m(t)+δ at every sample time,
// and mark it filled if a public trade within lifetime seconds satisfies
// the taking condition. λ(δ) = 0.5*(fills_bid+fills_ask)/(samples*lifetime),
// then fit ln λ = ln A - κ δ by OLS on points with λ > 0.
func EstimateVirtualQuoting(samples []MidSample, trades []types.TradeRow, deltaGrid []float64, lifetime float64) (VirtualQuoteEstimate, error) {
	if len(samples) == 0 {
		return VirtualQuoteEstimate{}, fmt.Errorf("no mid samples provided")
	}
	if len(trades) == 0 {
		return VirtualQuoteEstimate{}, fmt.Errorf("no trades provided")
	}
	if len(deltaGrid) == 0 {
		return VirtualQuoteEstimate{}, fmt.Errorf("delta grid is empty")
	}
	if lifetime <= 0 {
		return VirtualQuoteEstimate{}, fmt.Errorf("lifetime must be positive")
	}

	tradeFloats := make([]tradeF, 0, len(trades))
	for _, t := range trades {
		if t.TradeType != types.TradeTypeTrade {
			continue
		}
		price, _ := t.Price.Float64()
		tradeFloats = append(tradeFloats, tradeF{
			timeSec: float64(t.TimestampMs) / 1000,
			price:   price,
			isBuy:   t.Side == types.Buy,
		})
	}

	var usableDeltas, logIntensities, rawIntensities []float64

	for _, delta := range deltaGrid {
		fillsBid, fillsAsk := 0, 0

		for _, s := range samples {
			bid := s.Mid - delta
			ask := s.Mid + delta
			cutoff := s.TimeSec + lifetime

			for _, tr := range tradeFloats {
				if tr.timeSec <= s.TimeSec || tr.timeSec > cutoff {
					continue
				}
				if tr.isBuy && tr.price >= ask {
					fillsAsk++
					break
				}
			}
			for _, tr := range tradeFloats {
				if tr.timeSec <= s.TimeSec || tr.timeSec > cutoff {
					continue
				}
				if !tr.isBuy && tr.price <= bid {
					fillsBid++
					break
				}
			}
		}

		lambda := 0.5 * float64(fillsBid+fillsAsk) / (float64(len(samples)) * lifetime)
		if lambda <= 0 {
			continue
		}
		usableDeltas = append(usableDeltas, delta)
		logIntensities = append(logIntensities, math.Log(lambda))
		rawIntensities = append(rawIntensities, lambda)
	}

	if len(usableDeltas) < 2 {
		return VirtualQuoteEstimate{}, fmt.Errorf("insufficient usable delta points: got %d, need at least 2", len(usableDeltas))
	}

	reg, err := olsRegressionAllowTwo(usableDeltas, logIntensities)
	if err != nil {
		return VirtualQuoteEstimate{}, err
	}

	return VirtualQuoteEstimate{
		Kappa:       -reg.beta1,
		A:           math.Exp(reg.beta0),
		RSquared:    reg.rSquared,
		NumLevels:   len(usableDeltas),
		DeltaGrid:   usableDeltas,
		Intensities: rawIntensities,
	}, nil
}

type tradeF struct {
	timeSec float64
	price   float64
	size    float64
	isBuy   bool
}

// olsRegressionAllowTwo is olsRegression but the virtual-quoting path only
// requires >= 2 usable points, per spec §4.4(b), looser than the >= 3
// depth-based path requires.
func olsRegressionAllowTwo(x, y []float64) (regressionResult, error) {
	if len(x) == 2 {
		beta1 := (y[1] - y[0]) / (x[1] - x[0])
		beta0 := y[0] - beta1*x[0]
		return regressionResult{beta0: beta0, beta1: beta1, rSquared: 1}, nil
	}
	return olsRegression(x, y)
}
