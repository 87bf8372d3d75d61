package api

import (
	"time"

	"marketmaker/internal/config"
)

// DashboardSnapshot is the complete read-only view served by /api/snapshot
// and pushed over the WebSocket stream: one market's book, quote, position,
// and risk state, instead of the teacher's per-market slice across a
// scanner-selected universe.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Market MarketStatus `json:"market"`
	Risk   RiskSnapshot `json:"risk"`
	Config ConfigSummary `json:"config"`
}

// MarketStatus is the single market's book, quote, and position state.
type MarketStatus struct {
	Market string `json:"market"`

	MidPrice    float64   `json:"mid_price"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	LastUpdated time.Time `json:"last_updated"`
	IsStale     bool      `json:"is_stale"`

	Sigma       float64 `json:"sigma"`
	Kappa       float64 `json:"kappa"`
	SampleCount int     `json:"sample_count"`

	ActiveBid        *QuoteInfo `json:"active_bid,omitempty"`
	ActiveAsk        *QuoteInfo `json:"active_ask,omitempty"`
	ReservationPrice float64    `json:"reservation_price"`
	OptimalSpread    float64    `json:"optimal_spread"`

	Position PositionSnapshot `json:"position"`
}

// PositionSnapshot is the ping-pong position and accumulated P&L.
type PositionSnapshot struct {
	CurrentPosition float64   `json:"current_position"` // signed base-asset qty
	ExposureUSD     float64   `json:"exposure_usd"`
	RealizedPnL     float64   `json:"realized_pnl"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	Equity          float64   `json:"equity"`
	Baseline        float64   `json:"baseline"`
	LastUpdated     time.Time `json:"last_updated"`
}

// QuoteInfo is a single resting quote.
type QuoteInfo struct {
	Price     float64   `json:"price"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskSnapshot is the risk manager's current limits and reading.
type RiskSnapshot struct {
	ExposureUSD    float64   `json:"exposure_usd"`
	MaxExposureUSD float64   `json:"max_exposure_usd"`
	ExposurePct    float64   `json:"exposure_pct"`

	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchUntil  time.Time `json:"kill_switch_until,omitempty"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`

	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MaxDailyLoss  float64 `json:"max_daily_loss"`
}

// ConfigSummary is the strategy/risk configuration driving this run.
type ConfigSummary struct {
	Market          string  `json:"market"`
	Gamma           float64 `json:"gamma"`
	NotionalUSD     float64 `json:"notional_usd"`
	MinSpreadBps    float64 `json:"minimum_spread_bps"`
	TimeHorizonHrs  float64 `json:"time_horizon_hours"`
	WindowHours     float64 `json:"window_hours"`

	KEstimationMethod     string `json:"k_estimation_method"`
	SigmaEstimationMethod string `json:"sigma_estimation_method"`

	MaxExposureUSD    float64 `json:"max_exposure_usd"`
	MaxDailyLoss      float64 `json:"max_daily_loss"`
	KillSwitchDropPct float64 `json:"kill_switch_drop_pct"`

	TradingEnabled bool `json:"trading_enabled"`
	DryRun         bool `json:"dry_run"`
}

// NewConfigSummary builds a ConfigSummary from the bot's live config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Market:                cfg.Market,
		Gamma:                 cfg.Gamma,
		NotionalUSD:           cfg.NotionalUSD,
		MinSpreadBps:          cfg.MinSpreadBps,
		TimeHorizonHrs:        cfg.TimeHorizonHrs,
		WindowHours:           cfg.WindowHours,
		KEstimationMethod:     cfg.KEstimationMethod,
		SigmaEstimationMethod: cfg.SigmaEstimationMethod,
		MaxExposureUSD:        cfg.Risk.MaxExposureUSD,
		MaxDailyLoss:          cfg.Risk.MaxDailyLoss,
		KillSwitchDropPct:     cfg.Risk.KillSwitchDropPct,
		TradingEnabled:        cfg.TradingEnabled,
		DryRun:                cfg.Exchange.DryRun,
	}
}
