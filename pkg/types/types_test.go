package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPingPongModeFlip(t *testing.T) {
	t.Parallel()

	if got := NeedBuy.Flip(); got != NeedSell {
		t.Errorf("NeedBuy.Flip() = %v, want NeedSell", got)
	}
	if got := NeedSell.Flip(); got != NeedBuy {
		t.Errorf("NeedSell.Flip() = %v, want NeedBuy", got)
	}
}

func TestOrderStatusIsFill(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderFilled, true},
		{OrderPartiallyFilled, true},
		{OrderLive, false},
		{OrderCancelled, false},
		{OrderRejected, false},
		{OrderExpired, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsFill(); got != tt.want {
			t.Errorf("%v.IsFill() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderCancelled, true},
		{OrderRejected, true},
		{OrderExpired, true},
		{OrderLive, false},
		{OrderFilled, false},
		{OrderPartiallyFilled, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%v.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDepthSnapshotMid(t *testing.T) {
	t.Parallel()

	snap := DepthSnapshot{
		Bids: []PriceLevel{{Price: decimal.NewFromInt(99)}},
		Asks: []PriceLevel{{Price: decimal.NewFromInt(101)}},
	}
	mid, ok := snap.Mid()
	if !ok {
		t.Fatal("expected ok=true with non-empty sides")
	}
	if !mid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("mid = %v, want 100", mid)
	}
}

func TestDepthSnapshotMidEmptySide(t *testing.T) {
	t.Parallel()

	snap := DepthSnapshot{Bids: []PriceLevel{{Price: decimal.NewFromInt(99)}}}
	if _, ok := snap.Mid(); ok {
		t.Error("expected ok=false with empty ask side")
	}
}

func TestMarketDataIsValid(t *testing.T) {
	t.Parallel()

	var zero MarketData
	if zero.IsValid() {
		t.Error("zero-value MarketData should not be valid")
	}

	withMid := MarketData{MidPrice: decimal.NewFromInt(100), UpdatedAt: time.Now()}
	if !withMid.IsValid() {
		t.Error("MarketData with positive mid and non-zero UpdatedAt should be valid")
	}

	negativeMid := MarketData{MidPrice: decimal.NewFromInt(-1), UpdatedAt: time.Now()}
	if negativeMid.IsValid() {
		t.Error("MarketData with non-positive mid should not be valid")
	}
}

func TestMarketDataIsStale(t *testing.T) {
	t.Parallel()

	var zero MarketData
	if !zero.IsStale(time.Second) {
		t.Error("zero-value MarketData should be stale")
	}

	fresh := MarketData{UpdatedAt: time.Now()}
	if fresh.IsStale(time.Minute) {
		t.Error("just-updated MarketData should not be stale")
	}

	old := MarketData{UpdatedAt: time.Now().Add(-time.Hour)}
	if !old.IsStale(time.Minute) {
		t.Error("hour-old MarketData should be stale with a 1-minute threshold")
	}
}

func TestPingPongStateHasLiveOrder(t *testing.T) {
	t.Parallel()

	if (PingPongState{}).HasLiveOrder() {
		t.Error("zero-value PingPongState should have no live order")
	}
	if !(PingPongState{CurrentOrderID: "ext-1"}).HasLiveOrder() {
		t.Error("PingPongState with a CurrentOrderID should have a live order")
	}
}

func TestPnLStateJSONRoundTrip(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	original := PnLState{InitialEquity: 10000.50, StartedAt: started}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	const want = `{"initial_equity":10000.5,"started_at":"2026-01-15 12:30:00 UTC"}`
	if string(data) != want {
		t.Errorf("marshalled JSON = %s, want %s", data, want)
	}

	var decoded PnLState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.InitialEquity != original.InitialEquity {
		t.Errorf("InitialEquity = %v, want %v", decoded.InitialEquity, original.InitialEquity)
	}
	if !decoded.StartedAt.Equal(original.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", decoded.StartedAt, original.StartedAt)
	}
}

func TestPnLStateUnmarshalRejectsBadFormat(t *testing.T) {
	t.Parallel()

	var decoded PnLState
	err := json.Unmarshal([]byte(`{"initial_equity":100,"started_at":"not-a-date"}`), &decoded)
	if err == nil {
		t.Fatal("expected error for malformed started_at")
	}
}
