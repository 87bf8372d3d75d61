// Package risk enforces a single market's risk limits: exposure cap,
// daily-loss cap, and a rapid-price-movement kill switch with cooldown.
//
// Grounded on internal/risk/manager.go's kill-switch design (per-market
// exposure cap, daily loss cap, rolling-window price-anchor movement
// detection, cooldown-gated kill switch) but narrowed from the teacher's
// multi-market aggregate (PositionReport fan-in over a channel, goroutine
// loop) to a single synchronous cell: this bot only ever runs one market,
// so there's no aggregation to do and no need for the teacher's
// channel-based Report/Run split. Report is called directly from the
// engine's PnL task instead of from N strategy goroutines; the
// order-manager task only reads IsActive.
package risk

import (
	"log/slog"
	"sync"
	"time"
)

// Config bounds one market's risk limits.
type Config struct {
	MaxExposureUSD    float64
	MaxDailyLoss      float64
	KillSwitchDropPct float64       // fraction, e.g. 0.05 for 5%
	KillSwitchWindow  time.Duration // movement detection window
	CooldownAfterKill time.Duration
}

// PositionReport is submitted once per PnL tick.
type PositionReport struct {
	ExposureUSD   float64
	MidPrice      float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Timestamp     time.Time
}

type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Manager tracks exposure/PnL/price-movement limits for one market.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	last       PositionReport
	anchor     priceAnchor
	hasAnchor  bool
	killActive bool
	killUntil  time.Time
	killReason string
}

// New creates a risk manager for one market.
func New(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger.With("component", "risk")}
}

// Report submits the latest position snapshot, checks it against the
// configured limits, and activates the kill switch if any is breached.
// Returns whether the kill switch is now active and why.
func (m *Manager) Report(r PositionReport) (killed bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = r

	if r.ExposureUSD > m.cfg.MaxExposureUSD {
		m.emitKill("exposure limit breached")
	}

	totalPnL := r.RealizedPnL + r.UnrealizedPnL
	if m.cfg.MaxDailyLoss > 0 && totalPnL < -m.cfg.MaxDailyLoss {
		m.emitKill("max daily loss breached")
	}

	m.checkPriceMovement(r)

	return m.killActive, m.killReason
}

// checkPriceMovement compares the current mid to a rolling anchor and
// fires the kill switch if it moved more than KillSwitchDropPct within
// KillSwitchWindow.
func (m *Manager) checkPriceMovement(r PositionReport) {
	if r.MidPrice <= 0 {
		return
	}
	if !m.hasAnchor || r.Timestamp.Sub(m.anchor.timestamp) > m.cfg.KillSwitchWindow {
		m.anchor = priceAnchor{price: r.MidPrice, timestamp: r.Timestamp}
		m.hasAnchor = true
		return
	}

	pctChange := (r.MidPrice - m.anchor.price) / m.anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}
	if m.cfg.KillSwitchDropPct > 0 && pctChange > m.cfg.KillSwitchDropPct {
		m.emitKill("rapid price movement")
	}
}

// emitKill activates the kill switch and starts the cooldown. Caller
// holds m.mu.
func (m *Manager) emitKill(reason string) {
	if m.killActive {
		return
	}
	m.killActive = true
	m.killReason = reason
	m.killUntil = time.Now().Add(m.cfg.CooldownAfterKill)
	m.logger.Error("KILL SWITCH", "reason", reason, "cooldown_until", m.killUntil)
}

// IsActive reports whether the kill switch is currently engaged,
// clearing it once the cooldown has elapsed.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.killActive {
		return false
	}
	if time.Now().After(m.killUntil) {
		m.killActive = false
		m.killReason = ""
		m.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// Headroom returns remaining USD exposure allowed before the cap, or 0 if
// already exceeded.
func (m *Manager) Headroom() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	remaining := m.cfg.MaxExposureUSD - m.last.ExposureUSD
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status is a read-only view of the manager's current state, for the
// dashboard. KillActive reflects the raw flag without clearing it on
// cooldown expiry — callers wanting the clearing behavior should call
// IsActive instead.
type Status struct {
	KillActive  bool
	KillReason  string
	KillUntil   time.Time
	LastReport  PositionReport
	MaxExposure float64
	MaxDailyLoss float64
}

// Status returns a snapshot of the manager's limits and current reading.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		KillActive:   m.killActive,
		KillReason:   m.killReason,
		KillUntil:    m.killUntil,
		LastReport:   m.last,
		MaxExposure:  m.cfg.MaxExposureUSD,
		MaxDailyLoss: m.cfg.MaxDailyLoss,
	}
}
