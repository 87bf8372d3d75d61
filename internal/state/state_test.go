package state

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/pkg/types"
)

func TestNewDefaultsToNeedBuy(t *testing.T) {
	s := New()
	if got := s.PingPong().Mode; got != types.NeedBuy {
		t.Errorf("initial mode = %v, want NeedBuy", got)
	}
}

func TestUpdateMidPreservesParams(t *testing.T) {
	s := New()
	params := types.MarketParameters{Sigma: 0.2, Kappa: 150}
	now := time.Now()
	s.UpdateParams(params, now)

	mid := decimal.NewFromInt(100)
	s.UpdateMid(mid, now)

	md := s.MarketData()
	if !md.MidPrice.Equal(mid) {
		t.Errorf("mid = %v, want %v", md.MidPrice, mid)
	}
	if md.Params.Sigma != 0.2 || md.Params.Kappa != 150 {
		t.Errorf("params clobbered by UpdateMid: %+v", md.Params)
	}
}

func TestUpdateParamsPreservesMid(t *testing.T) {
	s := New()
	mid := decimal.NewFromInt(100)
	now := time.Now()
	s.UpdateMid(mid, now)

	s.UpdateParams(types.MarketParameters{Sigma: 0.3}, now)

	md := s.MarketData()
	if !md.MidPrice.Equal(mid) {
		t.Errorf("mid clobbered by UpdateParams: %v", md.MidPrice)
	}
	if md.Params.Sigma != 0.3 {
		t.Errorf("sigma = %v, want 0.3", md.Params.Sigma)
	}
}

func TestSetSpreadAndRead(t *testing.T) {
	s := New()
	sp := types.SpreadState{
		BidPrice:   decimal.NewFromFloat(99.5),
		AskPrice:   decimal.NewFromFloat(100.5),
		HalfSpread: 0.5,
		GammaUsed:  0.1,
	}
	s.SetSpread(sp)

	got := s.Spread()
	if !got.BidPrice.Equal(sp.BidPrice) || !got.AskPrice.Equal(sp.AskPrice) {
		t.Errorf("spread = %+v, want %+v", got, sp)
	}
}

func TestMutatePingPongFlipsModeAtomically(t *testing.T) {
	s := New()
	s.SetPingPong(types.PingPongState{
		Mode:           types.NeedBuy,
		CurrentOrderID: "order-1",
	})

	result := s.MutatePingPong(func(pp types.PingPongState) types.PingPongState {
		pp.Mode = pp.Mode.Flip()
		pp.CurrentOrderID = ""
		return pp
	})

	if result.Mode != types.NeedSell {
		t.Errorf("mode after flip = %v, want NeedSell", result.Mode)
	}
	if result.HasLiveOrder() {
		t.Error("expected no live order after flip")
	}

	// The published state must match what MutatePingPong returned.
	got := s.PingPong()
	if got.Mode != types.NeedSell || got.HasLiveOrder() {
		t.Errorf("published state = %+v, want mode NeedSell, no live order", got)
	}
}

func TestSnapshotIsConsistentAcrossFields(t *testing.T) {
	s := New()
	mid := decimal.NewFromInt(42)
	now := time.Now()
	s.UpdateMid(mid, now)
	s.SetSpread(types.SpreadState{BidPrice: decimal.NewFromInt(41), AskPrice: decimal.NewFromInt(43)})
	s.SetOrders(types.OrderState{BidOrderID: "b1", AskOrderID: "a1"})

	snap := s.Snapshot()
	if !snap.Market.MidPrice.Equal(mid) {
		t.Errorf("snapshot mid = %v, want %v", snap.Market.MidPrice, mid)
	}
	if snap.Orders.BidOrderID != "b1" {
		t.Errorf("snapshot bid order id = %q, want b1", snap.Orders.BidOrderID)
	}
	if snap.PingPong.Mode != types.NeedBuy {
		t.Errorf("snapshot ping-pong mode = %v, want NeedBuy", snap.PingPong.Mode)
	}
}

// TestConcurrentReadersAndWriters exercises the RWMutex under concurrent
// readers (Snapshot) and writers (UpdateMid/MutatePingPong) to catch data
// races when run with -race.
func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.UpdateMid(decimal.NewFromInt(int64(n)), time.Now())
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MutatePingPong(func(pp types.PingPongState) types.PingPongState {
				pp.Mode = pp.Mode.Flip()
				return pp
			})
		}()
	}

	wg.Wait()
}
