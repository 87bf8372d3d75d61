package api

import (
	"time"

	"marketmaker/internal/config"
	"marketmaker/internal/orderbook"
	"marketmaker/internal/pnl"
	"marketmaker/internal/risk"
	"marketmaker/internal/state"
	"marketmaker/pkg/types"
)

// Provider is the subset of *engine.Engine the dashboard needs. Kept as an
// interface (rather than importing internal/engine directly) so the api
// package has no dependency on the engine's wiring.
type Provider interface {
	MarketName() string
	State() *state.BotState
	Book() *orderbook.Book
	RiskStatus() risk.Status
	PnLSnapshot() pnl.Snapshot
	DashboardEvents() <-chan DashboardEvent
}

// BuildSnapshot aggregates state from the book, BotState, risk manager,
// and PnL accountant into one dashboard snapshot.
func BuildSnapshot(provider Provider, cfg config.Config) DashboardSnapshot {
	snap := provider.State().Snapshot()
	bid, ask, _ := provider.Book().BestBidAsk()
	mid, _ := snap.Market.MidPrice.Float64()
	bidF, _ := bid.Float64()
	askF, _ := ask.Float64()

	pnlSnap := provider.PnLSnapshot()
	riskStatus := provider.RiskStatus()

	var activeBid, activeAsk *QuoteInfo
	if snap.PingPong.HasLiveOrder() {
		q := &QuoteInfo{OrderID: snap.PingPong.CurrentOrderID, Timestamp: snap.PingPong.PlacedAt}
		if snap.PingPong.Mode == types.NeedBuy {
			q.Price, _ = snap.Spread.BidPrice.Float64()
			activeBid = q
		} else {
			q.Price, _ = snap.Spread.AskPrice.Float64()
			activeAsk = q
		}
	}

	exposure := snap.PingPong.CurrentPosition * mid
	if exposure < 0 {
		exposure = -exposure
	}
	exposurePct := 0.0
	if riskStatus.MaxExposure > 0 {
		exposurePct = exposure / riskStatus.MaxExposure
	}

	market := MarketStatus{
		Market:           provider.MarketName(),
		MidPrice:         mid,
		BestBid:          bidF,
		BestAsk:          askF,
		LastUpdated:      snap.Market.UpdatedAt,
		IsStale:          snap.Market.IsStale(30 * time.Second),
		Sigma:            snap.Market.Params.Sigma,
		Kappa:            snap.Market.Params.Kappa,
		SampleCount:      snap.Market.Params.SampleCount,
		ActiveBid:        activeBid,
		ActiveAsk:        activeAsk,
		ReservationPrice: snap.Spread.ReservationPx,
		OptimalSpread:    snap.Spread.HalfSpread * 2,
		Position: PositionSnapshot{
			CurrentPosition: snap.PingPong.CurrentPosition,
			ExposureUSD:     exposure,
			RealizedPnL:     riskStatus.LastReport.RealizedPnL,
			UnrealizedPnL:   pnlSnap.PnL,
			Equity:          pnlSnap.Equity,
			Baseline:        pnlSnap.Baseline,
			LastUpdated:     pnlSnap.At,
		},
	}

	riskSnap := RiskSnapshot{
		ExposureUSD:      exposure,
		MaxExposureUSD:   riskStatus.MaxExposure,
		ExposurePct:      exposurePct,
		KillSwitchActive: riskStatus.KillActive,
		KillSwitchUntil:  riskStatus.KillUntil,
		KillSwitchReason: riskStatus.KillReason,
		RealizedPnL:      riskStatus.LastReport.RealizedPnL,
		UnrealizedPnL:    pnlSnap.PnL,
		MaxDailyLoss:     riskStatus.MaxDailyLoss,
	}

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Market:    market,
		Risk:      riskSnap,
		Config:    NewConfigSummary(cfg),
	}
}
