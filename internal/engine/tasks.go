package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/api"
	"marketmaker/internal/config"
	"marketmaker/internal/intensity"
	"marketmaker/internal/risk"
	"marketmaker/internal/spread"
	"marketmaker/internal/store"
	"marketmaker/internal/volatility"
	"marketmaker/pkg/types"
)

// runIngest implements task 1 (spec §4.6): apply depth/trade WS events to
// the local book in arrival order, append to the CSV store, and publish a
// fresh mid whenever the book has a valid top.
func (e *Engine) runIngest(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.depth.Events():
			if !ok {
				return nil
			}
			e.applyDepthEvent(evt)
		case evt, ok := <-e.trades.Events():
			if !ok {
				return nil
			}
			e.applyTradeEvent(evt)
		}
	}
}

func (e *Engine) applyDepthEvent(evt types.WSDepthEvent) {
	update := types.BookUpdate{
		Type:        evt.Type,
		Market:      evt.Data.Market,
		Seq:         evt.Seq,
		TimestampMs: evt.Ts,
		Bids:        wsLevelsToPriceLevels(evt.Data.Bids),
		Asks:        wsLevelsToPriceLevels(evt.Data.Asks),
	}
	e.book.Apply(update)
	if evt.Ts > 0 {
		e.reg.IngestLatency.Observe(time.Since(time.UnixMilli(evt.Ts)).Seconds())
	}

	mid, ok := e.book.MidPrice()
	if !ok {
		return
	}
	e.botst.UpdateMid(mid, time.Now())

	if e.cfg.CollectOrderbook {
		bid, ask, ok := e.book.BestBidAsk()
		if ok {
			spreadAbs := ask.Sub(bid)
			spreadBps := decimal.Zero
			if mid.IsPositive() {
				spreadBps = spreadAbs.Div(mid).Mul(decimal.NewFromInt(10000))
			}
			e.csv.WriteTopOfBook(types.TopOfBookRow{
				TimestampMs: evt.Ts,
				Market:      e.market,
				Seq:         evt.Seq,
				BidPrice:    bid,
				AskPrice:    ask,
				Mid:         mid,
				Spread:      spreadAbs,
				SpreadBps:   spreadBps,
			})
		}
	}
	if e.cfg.CollectFullBook {
		bids, asks := e.book.TopN(e.cfg.MaxDepthLevels)
		e.csv.WriteDepth(types.DepthRow{
			TimestampMs: evt.Ts,
			Market:      e.market,
			Seq:         evt.Seq,
			Bids:        bids,
			Asks:        asks,
		})
	}
}

func (e *Engine) applyTradeEvent(evt types.WSTradeEvent) {
	if !e.cfg.CollectTrades {
		return
	}
	for _, rec := range evt.Data {
		if rec.Market != e.market {
			continue
		}
		price, err := decimal.NewFromString(rec.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(rec.Size)
		if err != nil {
			continue
		}
		e.csv.WriteTrade(types.TradeRow{
			TimestampMs: rec.Ts,
			Market:      rec.Market,
			Side:        types.Side(rec.Side),
			Price:       price,
			Size:        size,
			TradeID:     rec.ID,
			TradeType:   types.TradeType(rec.TradeType),
		})
	}
}

func wsLevelsToPriceLevels(levels []types.WSLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

// runEstimator implements task 2: reload the rolling window, estimate
// sigma and kappa, compute A-S quotes, and publish SpreadState and fresh
// MarketParameters into BotState.
func (e *Engine) runEstimator(ctx context.Context) error {
	interval := time.Duration(e.cfg.SpreadCalcIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.estimateOnce()
		}
	}
}

func (e *Engine) estimateOnce() {
	start := time.Now()
	window, err := store.LoadWindow(e.cfg.DataDirectory, e.market, e.cfg.WindowHours)
	if err != nil {
		e.logger.Warn("estimator: failed to reload window", "error", err)
		e.reg.EstimatorRuns.WithLabelValues("window_error").Inc()
		return
	}

	params, err := EstimateSigma(e.cfg, window, e.logger)
	if err != nil {
		e.logger.Warn("estimator: sigma estimation failed, skipping tick", "error", err)
		e.reg.EstimatorRuns.WithLabelValues("sigma_error").Inc()
		return
	}

	kappa, err := EstimateKappa(e.cfg, window, e.tickSize)
	if err != nil {
		e.logger.Warn("estimator: kappa estimation failed, skipping tick", "error", err)
		e.reg.EstimatorRuns.WithLabelValues("kappa_error").Inc()
		return
	}
	params.Kappa = kappa
	params.KappaMethod = types.KappaMethod(e.cfg.KEstimationMethod)
	params.ComputedAt = time.Now()

	mid := e.latestMid(window)
	if mid <= 0 {
		e.logger.Warn("estimator: no usable mid, skipping tick")
		e.reg.EstimatorRuns.WithLabelValues("no_mid").Inc()
		return
	}

	pp := e.botst.PingPong()
	sp, err := spread.Compute(spread.Params{
		Mid:          mid,
		Sigma:        params.Sigma,
		Kappa:        params.Kappa,
		Gamma:        e.cfg.Gamma,
		Inventory:    pp.CurrentPosition,
		HorizonSec:   e.cfg.TimeHorizonHrs * 3600,
		MinSpreadBps: e.cfg.MinSpreadBps,
		TickSize:     e.tickSize,
	})
	if err != nil {
		e.logger.Warn("estimator: spread computation failed (domain error), skipping tick", "error", err)
		e.reg.EstimatorRuns.WithLabelValues("domain_error").Inc()
		return
	}

	e.botst.UpdateParams(params, time.Now())
	e.botst.SetSpread(sp)
	e.reg.EstimatorRuns.WithLabelValues("ok").Inc()
	e.reg.EstimatorDuration.Observe(time.Since(start).Seconds())
}

// latestMid reads the live mid from BotState, falling back to the last
// CSV window snapshot with a warning, per spec §4.6.
func (e *Engine) latestMid(window *store.RollingWindow) float64 {
	md := e.botst.MarketData()
	if md.IsValid() {
		f, _ := md.MidPrice.Float64()
		return f
	}
	if len(window.TopOfBook) == 0 {
		return 0
	}
	last := window.TopOfBook[len(window.TopOfBook)-1]
	e.logger.Warn("estimator: live mid unavailable, falling back to last CSV snapshot")
	f, _ := last.Mid.Float64()
	return f
}

// EstimateSigma reloads sigma from the rolling window using the
// configured estimator. Optimizer (GARCH) non-convergence falls back to
// the simple estimator at the calling site (spec §7) rather than
// propagating the error, logging the fallback. Exported so both the
// engine's estimator task and the `-mode=quote-once` CLI share one
// implementation.
func EstimateSigma(cfg config.Config, window *store.RollingWindow, logger *slog.Logger) (types.MarketParameters, error) {
	returns := volatility.LogReturns(volatility.Resample(window.TopOfBook, time.Second))
	method := types.SigmaMethod(cfg.SigmaEstimationMethod)
	params, err := volatility.Estimate(returns, time.Second, method)
	if err != nil && method != types.SigmaSimple {
		logger.Warn("estimator: optimizer failed to converge, falling back to simple sigma", "method", method, "error", err)
		params, err = volatility.Estimate(returns, time.Second, types.SigmaSimple)
	}
	return params, err
}

// EstimateKappa dispatches to the configured trading-intensity estimator
// (spec §4.4). virtual_quoting and depth_intensity both need a mid/depth
// history; since the rolling window only carries top-of-book rows (not
// full depth snapshots, which live only in orderbook_depth.csv), depth
// intensity is approximated here from top-of-book best bid/ask as a
// single-level depth snapshot. Exported for the same reason as
// EstimateSigma.
func EstimateKappa(cfg config.Config, window *store.RollingWindow, tickSize decimal.Decimal) (float64, error) {
	tick, _ := tickSize.Float64()
	switch types.KappaMethod(cfg.KEstimationMethod) {
	case types.KappaSimple:
		return intensity.EstimateCounting(window.TradeCount(), window.Duration.Seconds())

	case types.KappaVirtualQuote:
		samples := make([]intensity.MidSample, 0, len(window.TopOfBook))
		for _, row := range window.TopOfBook {
			mid, _ := row.Mid.Float64()
			samples = append(samples, intensity.MidSample{
				TimeSec: float64(row.TimestampMs) / 1000,
				Mid:     mid,
			})
		}
		typicalMid := 0.0
		if len(samples) > 0 {
			typicalMid = samples[len(samples)-1].Mid
		}
		grid := intensity.GenerateDeltaGrid(tick, typicalMid)
		est, err := intensity.EstimateVirtualQuoting(samples, window.Trades, grid, 5.0)
		if err != nil {
			return 0, err
		}
		return est.Kappa, nil

	case types.KappaDepthIntensity:
		snapshots := make([]types.DepthSnapshot, 0, len(window.TopOfBook))
		for _, row := range window.TopOfBook {
			snapshots = append(snapshots, types.DepthSnapshot{
				TimestampMs: row.TimestampMs,
				Market:      row.Market,
				Seq:         row.Seq,
				Bids:        []types.PriceLevel{{Price: row.BidPrice, Size: row.BidSize}},
				Asks:        []types.PriceLevel{{Price: row.AskPrice, Size: row.AskSize}},
			})
		}
		typicalMid := 0.0
		if len(snapshots) > 0 {
			m, _ := snapshots[len(snapshots)-1].Bids[0].Price.Float64()
			typicalMid = m
		}
		grid := intensity.GenerateDeltaGrid(tick, typicalMid)
		est, err := intensity.EstimateDepthIntensity(snapshots, window.Trades, grid, intensity.DepthEstimationParams{
			MaxHorizonSeconds:  30,
			SampleStep:         1,
			VirtualSize:        cfg.NotionalUSD,
			TickSize:           tick,
			MinSamplesPerLevel: cfg.KMinSamplesPerLevel,
		})
		if err != nil {
			return 0, err
		}
		return est.Kappa, nil

	default:
		return 0, fmt.Errorf("unknown kappa estimation method %q", cfg.KEstimationMethod)
	}
}

// runOrderManager implements task 3 (spec §4.7): tick the ping-pong state
// machine on a sub-second schedule, skipping ticks while the kill switch
// is engaged.
func (e *Engine) runOrderManager(ctx context.Context) error {
	interval := time.Duration(e.cfg.OrderRefreshIntervalSec * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.riskMgr.IsActive() {
				continue
			}
			if err := e.ordersMgr.Tick(ctx); err != nil {
				e.logger.Error("order manager tick failed", "error", err)
			}
		}
	}
}

// runFillHandler implements task 4 (spec §4.8): drain the account stream
// sequentially, so mode flips for a single order are serialized.
func (e *Engine) runFillHandler(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.account.Events():
			if !ok {
				return nil
			}
			e.fillsH.HandleEvent(evt)
			for _, rec := range evt.Data.Orders {
				if rec.Status.IsFill() {
					e.reg.Fills.WithLabelValues(string(rec.Status)).Inc()
				}
				price, _ := decimal.NewFromString(rec.Price)
				pf, _ := price.Float64()
				e.emitEvent(api.DashboardEvent{
					Type:      "order",
					Timestamp: time.Now(),
					Data:      api.NewOrderEvent(rec.ExternalID, string(rec.Status), string(rec.Side), pf),
				})
			}
		}
	}
}

// runPnL implements task 5: fetch balance + positions, compute PnL
// against the persisted baseline, log, and feed the risk manager the
// latest exposure reading.
func (e *Engine) runPnL(ctx context.Context) error {
	interval := time.Duration(e.cfg.PnLLogIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := e.pnlAcct.Tick(ctx)
			if err != nil {
				e.logger.Error("pnl tick failed", "error", err)
				continue
			}
			e.reg.PnL.Set(snap.PnL)
			e.reg.Equity.Set(snap.Equity)

			md := e.botst.MarketData()
			mid, _ := md.MidPrice.Float64()
			pp := e.botst.PingPong()
			exposure := pp.CurrentPosition * mid
			if exposure < 0 {
				exposure = -exposure
			}
			e.reg.InventoryUSD.Set(exposure)

			if killed, reason := e.riskMgr.Report(risk.PositionReport{
				ExposureUSD:   exposure,
				MidPrice:      mid,
				UnrealizedPnL: snap.PnL,
				Timestamp:     time.Now(),
			}); killed {
				e.reg.KillSwitchEvents.Inc()
				e.logger.Error("risk manager engaged the kill switch", "reason", reason)
				e.emitEvent(api.DashboardEvent{
					Type:      "kill",
					Timestamp: time.Now(),
					Data:      api.NewKillEvent(reason, e.riskMgr.Status().KillUntil),
				})
			}
		}
	}
}

// runRestBackup implements task 6: polls the REST order book and updates
// BotState's mid price when the WS feed has gone stale or failed.
func (e *Engine) runRestBackup(ctx context.Context) error {
	interval := time.Duration(e.cfg.RestBackupIntervalSec * float64(time.Second))
	if interval <= 0 {
		interval = 5 * time.Second
	}
	refresh := time.Duration(e.cfg.OrderRefreshIntervalSec * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.botst.MarketData().IsStale(2 * refresh) {
				continue
			}
			snap, err := e.client.GetOrderBook(ctx, e.market)
			if err != nil {
				e.logger.Warn("rest backup fetch failed", "error", err)
				continue
			}
			if mid, ok := snap.Mid(); ok {
				e.botst.UpdateMid(mid, time.Now())
				e.logger.Info("rest backup refreshed mid (WS feed stale)")
			}
		}
	}
}
