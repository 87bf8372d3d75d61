package intensity

import (
	"fmt"
	"math"

	"marketmaker/pkg/types"
)

// DepthIntensityEstimate is the result of depth-based κ estimation,
// mirroring the reference implementation's KEstimate.
type DepthIntensityEstimate struct {
	Kappa           float64 // per USD
	KappaPerTick    float64
	A               float64
	KappaCI         [2]float64
	ACI             [2]float64
	RSquared        float64
	KappaStdErr     float64
	NumLevels       int
	SamplesPerLevel []int
	DeltaGrid       []float64
	Intensities     []float64
}

// HasAcceptableCI reports whether the 95% CI width is <= 20% of κ.
func (e DepthIntensityEstimate) HasAcceptableCI() bool {
	return (e.KappaCI[1] - e.KappaCI[0]) <= 0.2*e.Kappa
}

// HasValidParameters reports whether κ falls in [0.1, 10] 1/USD and A > 0.
func (e DepthIntensityEstimate) HasValidParameters() bool {
	return e.Kappa >= 0.1 && e.Kappa <= 10 && e.A > 0
}

// IsHighQuality reports the combined spec §4.4(c) quality gate: CI width,
// parameter range, and R² >= 0.7.
func (e DepthIntensityEstimate) IsHighQuality() bool {
	return e.HasAcceptableCI() && e.HasValidParameters() && e.RSquared >= 0.7
}

// DepthEstimationParams configures EstimateDepthIntensity.
type DepthEstimationParams struct {
	MaxHorizonSeconds float64
	SampleStep        int // process every Nth snapshot
	VirtualSize       float64
	TickSize          float64
	MinSamplesPerLevel int
}

// EstimateDepthIntensity implements spec §4.4(c): at every Sth depth
// snapshot and each δ in deltaGrid, measures queue-ahead plus a virtual
// order size, walks the trade stream forward until that volume trades
// through the target price or the horizon is exceeded, and fits
// ln λ = ln A - κ_ticks·δ_ticks by OLS, converting κ (and its SE) from
// per-tick to per-USD by dividing by tick size.
func EstimateDepthIntensity(snapshots []types.DepthSnapshot, trades []types.TradeRow, deltaGrid []float64, params DepthEstimationParams) (DepthIntensityEstimate, error) {
	if len(snapshots) == 0 {
		return DepthIntensityEstimate{}, fmt.Errorf("no depth snapshots provided")
	}
	if len(trades) == 0 {
		return DepthIntensityEstimate{}, fmt.Errorf("no trades provided")
	}
	if len(deltaGrid) == 0 {
		return DepthIntensityEstimate{}, fmt.Errorf("delta grid is empty")
	}
	tickSize := params.TickSize
	if tickSize <= 0 {
		tickSize = 1e-12
	}
	sampleStep := params.SampleStep
	if sampleStep <= 0 {
		sampleStep = 1
	}

	tr := make([]tradeF, 0, len(trades))
	for _, t := range trades {
		if t.TradeType != types.TradeTypeTrade {
			continue
		}
		price, _ := t.Price.Float64()
		size, _ := t.Size.Float64()
		tr = append(tr, tradeF{
			timeSec: float64(t.TimestampMs) / 1000,
			price:   price,
			isBuy:   t.Side == types.Buy,
			size:    size,
		})
	}

	arrivalTimes := make([][]float64, len(deltaGrid))

	for si := 0; si < len(snapshots); si += sampleStep {
		snap := snapshots[si]
		mid, ok := snap.Mid()
		if !ok {
			continue
		}
		midF, _ := mid.Float64()
		snapTimeSec := float64(snap.TimestampMs) / 1000
		cutoff := snapTimeSec + params.MaxHorizonSeconds

		for li, delta := range deltaGrid {
			askPrice := roundToTick(midF+delta, tickSize)
			bidPrice := roundToTick(midF-delta, tickSize)

			queueAsk := volumeAtPrice(snap.Asks, askPrice, tickSize)
			queueBid := volumeAtPrice(snap.Bids, bidPrice, tickSize)

			if t, ok := walkFill(tr, snapTimeSec, cutoff, askPrice, queueAsk+params.VirtualSize, true); ok {
				arrivalTimes[li] = append(arrivalTimes[li], t)
			}
			if t, ok := walkFill(tr, snapTimeSec, cutoff, bidPrice, queueBid+params.VirtualSize, false); ok {
				arrivalTimes[li] = append(arrivalTimes[li], t)
			}
		}
	}

	var usedDeltasUSD, usedDeltasTicks, logIntensities, rawIntensities []float64
	var samplesPerLevel []int

	minSamples := params.MinSamplesPerLevel
	if minSamples <= 0 {
		minSamples = 1
	}

	for li, delta := range deltaGrid {
		times := arrivalTimes[li]
		if len(times) < minSamples {
			continue
		}
		mean := 0.0
		for _, t := range times {
			mean += t
		}
		mean /= float64(len(times))
		if mean <= 0 {
			continue
		}
		intensity := 1 / mean
		if intensity <= 0 {
			continue
		}

		usedDeltasUSD = append(usedDeltasUSD, delta)
		usedDeltasTicks = append(usedDeltasTicks, delta/tickSize)
		logIntensities = append(logIntensities, math.Log(intensity))
		rawIntensities = append(rawIntensities, intensity)
		samplesPerLevel = append(samplesPerLevel, len(times))
	}

	if len(usedDeltasTicks) < 3 {
		return DepthIntensityEstimate{}, fmt.Errorf("insufficient data: only %d valid depth levels (need at least 3)", len(usedDeltasTicks))
	}

	reg, err := olsRegression(usedDeltasTicks, logIntensities)
	if err != nil {
		return DepthIntensityEstimate{}, err
	}

	kTicks := -reg.beta1
	kUSD := kTicks / tickSize
	aHat := math.Exp(reg.beta0)

	const z = 1.96
	seKUSD := reg.seBeta1 / tickSize
	kCI := [2]float64{kUSD - z*seKUSD, kUSD + z*seKUSD}
	aCI := [2]float64{math.Exp(reg.beta0 - z*reg.seBeta0), math.Exp(reg.beta0 + z*reg.seBeta0)}

	return DepthIntensityEstimate{
		Kappa:           kUSD,
		KappaPerTick:    kTicks,
		A:               aHat,
		KappaCI:         kCI,
		ACI:             aCI,
		RSquared:        reg.rSquared,
		KappaStdErr:     seKUSD,
		NumLevels:       len(usedDeltasTicks),
		SamplesPerLevel: samplesPerLevel,
		DeltaGrid:       usedDeltasUSD,
		Intensities:     rawIntensities,
	}, nil
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

func volumeAtPrice(levels []types.PriceLevel, targetPrice, tickSize float64) float64 {
	targetRounded := roundToTick(targetPrice, tickSize)
	total := 0.0
	for _, lv := range levels {
		p, _ := lv.Price.Float64()
		if roundToTick(p, tickSize) == targetRounded {
			q, _ := lv.Size.Float64()
			total += q
		}
	}
	return total
}

// walkFill walks the trade stream forward from snapTime, accumulating
// taking-side volume at or through targetPrice, and returns the fill
// time (seconds after snapTime) if required volume is reached before
// cutoff.
func walkFill(trades []tradeF, snapTime, cutoff, targetPrice, requiredVolume float64, askSide bool) (float64, bool) {
	cumTraded := 0.0
	for _, t := range trades {
		if t.timeSec <= snapTime || t.timeSec > cutoff {
			continue
		}
		if askSide {
			if t.isBuy && t.price >= targetPrice {
				cumTraded += t.size
			}
		} else {
			if !t.isBuy && t.price <= targetPrice {
				cumTraded += t.size
			}
		}
		if cumTraded >= requiredVolume {
			return t.timeSec - snapTime, true
		}
	}
	return 0, false
}
