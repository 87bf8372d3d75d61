package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersWithoutPanicking(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New returned nil")
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.OrdersPlaced.WithLabelValues("buy").Inc()
	m.PnL.Set(42.5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "marketmaker_orders_placed_total") {
		t.Error("expected orders_placed_total in exposition output")
	}
	if !strings.Contains(body, "marketmaker_pnl_usd 42.5") {
		t.Error("expected pnl_usd gauge value in exposition output")
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.Fills.WithLabelValues("filled").Inc()
	b.Fills.WithLabelValues("filled").Inc()
	b.Fills.WithLabelValues("filled").Inc()
	// independent registries; no shared state or registration panic
}
