// Package spread implements the Avellaneda-Stoikov quote calculator:
// reservation price, optimal half-spread, a minimum-spread floor enforced
// by doubling the risk-aversion parameter, and tick snapping.
//
// The formula shape and the snap-then-validate structure are the same
// ones the reference strategy engine used for binary markets; this
// version drops the [0,1] price clamp (a perpetual has no such bound)
// and reports the γ actually used after any floor-driven doubling.
package spread

import (
	"fmt"
	"math"

	"time"

	"github.com/shopspring/decimal"

	"marketmaker/pkg/types"
)

// Params bundles the calculator's inputs for one quote computation.
type Params struct {
	Mid          float64
	Sigma        float64 // daily-scale volatility, same units as in MarketParameters
	Kappa        float64 // trading intensity
	Gamma        float64 // risk aversion, > 0
	Inventory    float64 // signed inventory in base units
	HorizonSec   float64 // T, in seconds
	MinSpreadBps float64 // floor on half_spread/mid in bps
	TickSize     decimal.Decimal
}

const gammaCap = 1.0

// Compute implements spec §4.5: half-spread and reservation price from
// the A-S formulas, a minimum-spread floor enforced by doubling γ up to
// gammaCap, and tick snapping (bid rounds down, ask rounds up; if the
// snapped ask would not exceed the snapped bid, ask is pushed to bid+tick).
func Compute(p Params) (types.SpreadState, error) {
	if p.Mid <= 0 {
		return types.SpreadState{}, fmt.Errorf("mid price must be positive, got %v", p.Mid)
	}
	if p.Kappa <= 0 {
		return types.SpreadState{}, fmt.Errorf("kappa must be positive, got %v", p.Kappa)
	}
	if p.Gamma <= 0 {
		return types.SpreadState{}, fmt.Errorf("gamma must be positive, got %v", p.Gamma)
	}
	if p.TickSize.IsZero() || p.TickSize.IsNegative() {
		return types.SpreadState{}, fmt.Errorf("tick size must be positive")
	}

	tick, _ := p.TickSize.Float64()
	minSpread := p.Mid * p.MinSpreadBps / 10000.0

	gamma := p.Gamma
	var halfSpread, reservation, rawBid, rawAsk float64

	for {
		halfSpread = (1.0/gamma)*math.Log(1+gamma/p.Kappa) + 0.5*gamma*p.Sigma*p.Sigma*p.HorizonSec
		reservation = p.Mid - p.Inventory*gamma*p.Sigma*p.Sigma*p.HorizonSec
		rawBid = reservation - halfSpread
		rawAsk = reservation + halfSpread

		if halfSpread >= minSpread || gamma >= gammaCap {
			break
		}
		gamma = math.Min(gamma*2, gammaCap)
	}

	bidSnapped := roundDownToTick(rawBid, tick)
	askSnapped := roundUpToTick(rawAsk, tick)
	if askSnapped <= bidSnapped {
		askSnapped = bidSnapped + tick
	}

	if bidSnapped <= 0 || askSnapped <= 0 {
		return types.SpreadState{}, fmt.Errorf("snapped quotes non-positive: bid=%v ask=%v", bidSnapped, askSnapped)
	}
	if bidSnapped >= askSnapped {
		return types.SpreadState{}, fmt.Errorf("bid >= ask after snapping: bid=%v ask=%v", bidSnapped, askSnapped)
	}

	return types.SpreadState{
		BidPrice:      decimal.NewFromFloat(bidSnapped),
		AskPrice:      decimal.NewFromFloat(askSnapped),
		ReservationPx: reservation,
		HalfSpread:    halfSpread,
		GammaUsed:     gamma,
		CalculatedAt:  time.Now(),
	}, nil
}

func roundDownToTick(v, tick float64) float64 {
	return math.Floor(v/tick) * tick
}

func roundUpToTick(v, tick float64) float64 {
	return math.Ceil(v/tick) * tick
}
