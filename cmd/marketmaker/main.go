// marketmaker is an automated market maker for a single perpetual-futures
// market, pricing its quotes with the Avellaneda-Stoikov model.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine         — task-mesh supervisor: ingest, estimator, order-manager, fill-handler, PnL, REST-backup
//	internal/spread         — Avellaneda-Stoikov quote computation
//	internal/volatility     — sigma estimation (simple / GARCH(1,1) / GARCH with Student-t innovations)
//	internal/intensity      — kappa estimation (counting / virtual-quoting / depth-intensity regression)
//	internal/orders         — ping-pong order-lifecycle state machine
//	internal/orderbook      — local order-book mirror fed by WebSocket depth updates
//	internal/exchange       — REST client + WebSocket feeds for the exchange's CLOB API (order signing lives in internal/signing)
//	internal/risk           — exposure/daily-loss/price-shock kill switch
//	internal/pnl            — equity accounting against a persisted baseline
//	internal/store          — CSV persistence for order-book/trade history, rolling-window reload
//	internal/api            — optional read-only dashboard (HTTP snapshot + WebSocket push)
//
// How it makes money:
//
//	The bot keeps a single post-only order resting on one perpetual
//	market and alternates sides: it buys at the A-S bid, and once that
//	order fills it sells at the A-S ask, then buys again. Avellaneda-
//	Stoikov skews the reservation price by inventory risk, shifting the
//	quotes to attract offsetting fills, and each buy/sell round trip
//	captures the spread.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/api"
	"marketmaker/internal/config"
	"marketmaker/internal/engine"
	"marketmaker/internal/exchange"
	"marketmaker/internal/spread"
	"marketmaker/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.json", "path to the JSON config file")
	checkConfig := flag.Bool("check-config", false, "validate config and required env vars, then exit (0 = ok, 2 = invalid)")
	mode := flag.String("mode", "run", "run mode: \"run\" (default) or \"quote-once\" (print one quote and exit)")
	flag.Parse()

	if p := os.Getenv("MARKETMAKER_CONFIG"); p != "" && *cfgPath == "configs/config.json" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(2)
	}

	if *checkConfig {
		fmt.Printf("config OK: market=%s gamma=%v notional_usd=%v\n", cfg.Market, cfg.Gamma, cfg.NotionalUSD)
		os.Exit(0)
	}

	logger := newLogger(cfg.Logging)

	if *mode == "quote-once" {
		if err := runQuoteOnce(*cfg, logger); err != nil {
			logger.Error("quote-once failed", "error", err)
			os.Exit(1)
		}
		return
	}

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if cfg.Exchange.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("market maker starting",
		"market", cfg.Market,
		"notional_usd", cfg.NotionalUSD,
		"gamma", cfg.Gamma,
		"trading_enabled", cfg.TradingEnabled,
		"dry_run", cfg.Exchange.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := eng.Run(ctx)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	if runErr != nil && runErr != context.Canceled {
		logger.Error("engine exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("market maker stopped")
}

// runQuoteOnce loads the rolling window, estimates sigma/kappa, computes
// one quote, and prints it — a sanity-check tool for operators tuning
// parameters without running the full task mesh.
func runQuoteOnce(cfg config.Config, logger *slog.Logger) error {
	window, err := store.LoadWindow(cfg.DataDirectory, cfg.Market, cfg.WindowHours)
	if err != nil {
		return fmt.Errorf("load window: %w", err)
	}
	if len(window.TopOfBook) == 0 {
		return fmt.Errorf("no top-of-book history in %s for %s", cfg.DataDirectory, cfg.Market)
	}

	tickSize := quoteOnceTickSize(cfg, logger)

	params, err := engine.EstimateSigma(cfg, window, logger)
	if err != nil {
		return fmt.Errorf("estimate sigma: %w", err)
	}
	kappa, err := engine.EstimateKappa(cfg, window, tickSize)
	if err != nil {
		return fmt.Errorf("estimate kappa: %w", err)
	}

	last := window.TopOfBook[len(window.TopOfBook)-1]
	mid, _ := last.Mid.Float64()

	sp, err := spread.Compute(spread.Params{
		Mid:          mid,
		Sigma:        params.Sigma,
		Kappa:        kappa,
		Gamma:        cfg.Gamma,
		Inventory:    0,
		HorizonSec:   cfg.TimeHorizonHrs * 3600,
		MinSpreadBps: cfg.MinSpreadBps,
		TickSize:     tickSize,
	})
	if err != nil {
		return fmt.Errorf("compute quote: %w", err)
	}

	out := map[string]interface{}{
		"market":            cfg.Market,
		"mid":               mid,
		"sigma":             params.Sigma,
		"kappa":             kappa,
		"reservation_price": sp.ReservationPx,
		"half_spread":       sp.HalfSpread,
		"bid":               sp.BidPrice.String(),
		"ask":               sp.AskPrice.String(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// quoteOnceTickSize fetches the live tick size for a read-only diagnostic
// without requiring trading credentials: GetMarketConfig is an
// unauthenticated REST call, so the client is built with a nil signer.
func quoteOnceTickSize(cfg config.Config, logger *slog.Logger) decimal.Decimal {
	defaultTickSize := decimal.NewFromFloat(0.01)

	client := exchange.NewClient(cfg.Exchange.RESTBaseURL, cfg.APIKey, nil, nil, true, logger, cfg.Exchange.RateLimits)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mc, err := client.GetMarketConfig(ctx, cfg.Market)
	if err != nil || !mc.TickSize.IsPositive() {
		logger.Warn("quote-once: failed to fetch tick size, using default", "error", err)
		return defaultTickSize
	}
	return mc.TickSize
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
