package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxExposureUSD:    100,
		MaxDailyLoss:      50,
		KillSwitchDropPct: 0.10, // 10%
		KillSwitchWindow:  60 * time.Second,
		CooldownAfterKill: 5 * time.Minute,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testConfig(), logger)
}

func TestReportUnderLimitsDoesNotKill(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	killed, _ := m.Report(PositionReport{
		ExposureUSD: 50,
		MidPrice:    100,
		Timestamp:   time.Now(),
	})
	if killed {
		t.Error("kill switch should not fire for report under limits")
	}
}

func TestReportExposureBreachKills(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	killed, reason := m.Report(PositionReport{
		ExposureUSD: 150, // exceeds 100 limit
		MidPrice:    100,
		Timestamp:   time.Now(),
	})
	if !killed {
		t.Fatal("kill switch should fire for exposure breach")
	}
	if reason == "" {
		t.Error("expected non-empty kill reason")
	}
}

func TestReportDailyLossBreachKills(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	killed, _ := m.Report(PositionReport{
		ExposureUSD:   10,
		RealizedPnL:   -30,
		UnrealizedPnL: -25, // total -55 < -50 threshold
		MidPrice:      100,
		Timestamp:     time.Now(),
	})
	if !killed {
		t.Error("kill switch should fire for daily loss breach")
	}
}

func TestPriceMovementWithinThresholdDoesNotKill(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	now := time.Now()

	m.Report(PositionReport{MidPrice: 100, Timestamp: now})
	killed, _ := m.Report(PositionReport{MidPrice: 104, Timestamp: now.Add(10 * time.Second)}) // 4% move
	if killed {
		t.Error("should not fire kill for a 4% move against a 10% threshold")
	}
}

func TestPriceMovementBeyondThresholdKills(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	now := time.Now()

	m.Report(PositionReport{MidPrice: 100, Timestamp: now})
	killed, reason := m.Report(PositionReport{MidPrice: 70, Timestamp: now.Add(10 * time.Second)}) // 30% drop
	if !killed {
		t.Fatal("kill switch should fire for a 30% price spike")
	}
	if reason != "rapid price movement" {
		t.Errorf("reason = %q, want %q", reason, "rapid price movement")
	}
}

func TestAnchorResetsOutsideWindow(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	now := time.Now()

	m.Report(PositionReport{MidPrice: 100, Timestamp: now})
	// A later report well outside the window should reset the anchor
	// rather than compare against the stale 100 reference.
	killed, _ := m.Report(PositionReport{MidPrice: 70, Timestamp: now.Add(time.Hour)})
	if killed {
		t.Error("expected anchor reset (no kill) once the window has elapsed")
	}
}

func TestHeadroomReflectsExposure(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	if got := m.Headroom(); got != 100 {
		t.Errorf("initial headroom = %v, want 100", got)
	}

	m.Report(PositionReport{ExposureUSD: 60, MidPrice: 100, Timestamp: time.Now()})
	if got := m.Headroom(); got != 40 {
		t.Errorf("headroom after 60 exposure = %v, want 40", got)
	}
}

func TestHeadroomFloorsAtZero(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	m.Report(PositionReport{ExposureUSD: 150, MidPrice: 100, Timestamp: time.Now()})
	if got := m.Headroom(); got != 0 {
		t.Errorf("headroom over cap = %v, want 0", got)
	}
}

func TestKillSwitchExpiresAfterCooldown(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	m.cfg.CooldownAfterKill = 50 * time.Millisecond

	killed, _ := m.Report(PositionReport{ExposureUSD: 200, MidPrice: 100, Timestamp: time.Now()})
	if !killed {
		t.Fatal("expected immediate kill on exposure breach")
	}
	if !m.IsActive() {
		t.Error("kill switch should be active immediately after breach")
	}

	time.Sleep(80 * time.Millisecond)

	if m.IsActive() {
		t.Error("kill switch should expire after cooldown")
	}
}

func TestStatusReflectsKillState(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	if s := m.Status(); s.KillActive {
		t.Error("expected inactive status before any report")
	}

	m.Report(PositionReport{ExposureUSD: 150, MidPrice: 100, Timestamp: time.Now()})
	s := m.Status()
	if !s.KillActive {
		t.Error("expected Status().KillActive after exposure breach")
	}
	if s.KillReason == "" {
		t.Error("expected non-empty Status().KillReason")
	}
	if s.MaxExposure != 100 || s.MaxDailyLoss != 50 {
		t.Errorf("Status() limits = %+v, want MaxExposure=100 MaxDailyLoss=50", s)
	}
}
