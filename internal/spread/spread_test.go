package spread

import (
	"testing"

	"github.com/shopspring/decimal"
)

func baseParams() Params {
	return Params{
		Mid:          100.0,
		Sigma:        0.02,
		Kappa:        1.5,
		Gamma:        0.1,
		Inventory:    0,
		HorizonSec:   1.0,
		MinSpreadBps: 1,
		TickSize:     decimal.NewFromFloat(0.01),
	}
}

func TestComputeZeroInventoryCentersOnMid(t *testing.T) {
	t.Parallel()
	p := baseParams()
	st, err := Compute(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.BidPrice.GreaterThanOrEqual(st.AskPrice) {
		t.Fatalf("expected bid < ask, got bid=%v ask=%v", st.BidPrice, st.AskPrice)
	}
	mid := decimal.NewFromFloat(p.Mid)
	if st.BidPrice.GreaterThan(mid) || st.AskPrice.LessThan(mid) {
		t.Errorf("expected bid <= mid <= ask, got bid=%v ask=%v mid=%v", st.BidPrice, st.AskPrice, mid)
	}
}

func TestComputeLongInventorySkewsQuotesDown(t *testing.T) {
	t.Parallel()
	flat, err := Compute(baseParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	longP := baseParams()
	// Large enough that the reservation shift q·γ·σ²·T = 0.02 moves the
	// snapped bid by more than one 0.01 tick.
	longP.Inventory = 500
	long, err := Compute(longP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !long.BidPrice.LessThan(flat.BidPrice) {
		t.Errorf("expected long inventory to push bid down: flat=%v long=%v", flat.BidPrice, long.BidPrice)
	}
	if long.ReservationPx >= flat.ReservationPx {
		t.Errorf("expected long inventory to lower reservation price: flat=%v long=%v", flat.ReservationPx, long.ReservationPx)
	}
}

func TestComputeMinSpreadFloorDoublesGamma(t *testing.T) {
	t.Parallel()
	p := baseParams()
	// Tiny sigma/kappa-implied spread, large floor, forces gamma doubling.
	p.Sigma = 0.0001
	p.Kappa = 1000
	p.MinSpreadBps = 500 // 5% of mid
	p.Gamma = 0.01

	st, err := Compute(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.GammaUsed <= p.Gamma {
		t.Errorf("expected gamma to be doubled above initial %v, got %v", p.Gamma, st.GammaUsed)
	}
}

func TestComputeGammaCappedAtOne(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.Sigma = 0.00001
	p.Kappa = 100000
	p.MinSpreadBps = 100000 // absurd floor, forces cap
	p.Gamma = 0.01

	st, err := Compute(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.GammaUsed > gammaCap {
		t.Errorf("gamma used %v exceeds cap %v", st.GammaUsed, gammaCap)
	}
}

func TestComputeTickSnappingNeverCrossesBidAsk(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.TickSize = decimal.NewFromFloat(1.0) // coarse tick relative to spread
	st, err := Compute(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.BidPrice.GreaterThanOrEqual(st.AskPrice) {
		t.Fatalf("bid >= ask after coarse tick snapping: bid=%v ask=%v", st.BidPrice, st.AskPrice)
	}
}

func TestComputeRejectsNonPositiveMid(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.Mid = 0
	if _, err := Compute(p); err == nil {
		t.Fatal("expected error for zero mid")
	}
	p.Mid = -5
	if _, err := Compute(p); err == nil {
		t.Fatal("expected error for negative mid")
	}
}

func TestComputeRejectsNonPositiveKappaOrGamma(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.Kappa = 0
	if _, err := Compute(p); err == nil {
		t.Fatal("expected error for zero kappa")
	}
	p = baseParams()
	p.Gamma = -1
	if _, err := Compute(p); err == nil {
		t.Fatal("expected error for negative gamma")
	}
}

func TestComputeRejectsZeroTickSize(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.TickSize = decimal.Zero
	if _, err := Compute(p); err == nil {
		t.Fatal("expected error for zero tick size")
	}
}
