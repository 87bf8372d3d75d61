package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"marketmaker/internal/config"
	"marketmaker/internal/signing"
	"marketmaker/pkg/types"
)

// testRateLimits gives tests generous buckets so Wait never blocks.
func testRateLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		OrderCapacity: 1000, OrderRatePerSec: 1000,
		CancelCapacity: 1000, CancelRatePerSec: 1000,
		ReadCapacity: 1000, ReadRatePerSec: 1000,
	}
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testSigner(t *testing.T) *signing.Signer {
	t.Helper()
	s, err := signing.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func TestGetOrderBookParsesLevels(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orderbook" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"market": "BTC-PERP",
			"seq":    5,
			"ts":     1000,
			"bids":   []map[string]string{{"p": "100.00", "q": "2"}},
			"asks":   []map[string]string{{"p": "100.10", "q": "3"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", testSigner(t), signing.NewNonceSource(1), false, testLogger(), testRateLimits())
	snap, err := c.GetOrderBook(context.Background(), "BTC-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("expected 1 bid and 1 ask, got %d/%d", len(snap.Bids), len(snap.Asks))
	}
	if snap.Seq != 5 {
		t.Errorf("seq = %d, want 5", snap.Seq)
	}
}

func TestGetOrderBookPropagatesServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", testSigner(t), signing.NewNonceSource(1), false, testLogger(), testRateLimits())
	c.http.SetRetryCount(0)
	_, err := c.GetOrderBook(context.Background(), "BTC-PERP")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestGetMarketConfigParsesDecimals(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"market":         "BTC-PERP",
			"tick_size":      "0.01",
			"lot_size":       "0.001",
			"base_asset_id":  "base-1",
			"quote_asset_id": "quote-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", testSigner(t), signing.NewNonceSource(1), false, testLogger(), testRateLimits())
	cfg, err := c.GetMarketConfig(context.Background(), "BTC-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.TickSize.Equal(mustDec("0.01")) {
		t.Errorf("tick size = %v, want 0.01", cfg.TickSize)
	}
}

func TestPlaceLimitOrderDryRunSkipsHTTP(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", testSigner(t), signing.NewNonceSource(1), true, testLogger(), testRateLimits())
	ack, err := c.PlaceLimitOrder(context.Background(), types.OrderRequest{
		Market: "BTC-PERP",
		Side:   types.Buy,
		ClientID: "abc",
	}, types.SignedOrderFields{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected dry-run to skip HTTP call")
	}
	if ack.Status != types.OrderLive {
		t.Errorf("status = %v, want OrderLive", ack.Status)
	}
}

func TestMassCancelDryRunSkipsHTTP(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", testSigner(t), signing.NewNonceSource(1), true, testLogger(), testRateLimits())
	res, err := c.MassCancel(context.Background(), MassCancelOptions{CancelAll: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected dry-run to skip HTTP call")
	}
	_ = res
}

func TestGetBalanceParsesAssets(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"balances": []map[string]string{
				{"asset": "USDC", "total": "1000.00", "free": "900.00"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", testSigner(t), signing.NewNonceSource(1), false, testLogger(), testRateLimits())
	balances, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(balances) != 1 || balances[0].Asset != "USDC" {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}
