// Package engine is the task-mesh supervisor described in spec §4.6/§5:
// it wires every subsystem together and runs the six cooperating tasks
// (ingest, estimator, order-manager, fill-handler, PnL, REST-backup) over
// a single shared BotState cell, supervised by an errgroup so any task's
// fatal error cancels the others and Run returns.
//
// Grounded on internal/engine/engine.go's New/Start/Stop lifecycle and
// goroutine-per-subsystem wiring (WS feeds, risk manager, strategy
// goroutines), replacing the teacher's raw sync.WaitGroup fan-out with
// golang.org/x/sync/errgroup for the fixed six-task mesh (no dynamic
// per-market start/stop is needed — this bot only ever runs one market)
// and the teacher's scanner-driven reconcileMarkets with a static wiring
// of one market's components at startup.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"marketmaker/internal/api"
	"marketmaker/internal/config"
	"marketmaker/internal/exchange"
	"marketmaker/internal/fills"
	"marketmaker/internal/metrics"
	"marketmaker/internal/orderbook"
	"marketmaker/internal/orders"
	"marketmaker/internal/pnl"
	"marketmaker/internal/risk"
	"marketmaker/internal/signing"
	"marketmaker/internal/state"
	"marketmaker/internal/store"
)

// Engine wires and supervises the six-task mesh for one market.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	market string

	book    *orderbook.Book
	csv     *store.Store
	botst   *state.BotState
	client  *exchange.Client
	depth   *exchange.DepthFeed
	trades  *exchange.TradeFeed
	account *exchange.AccountFeed

	ordersMgr *orders.Manager
	fillsH    *fills.Handler
	pnlAcct   *pnl.Accountant
	riskMgr   *risk.Manager
	reg       *metrics.Registry

	tickSize decimal.Decimal

	events chan api.DashboardEvent
}

// New wires every component for cfg.Market: exchange client, WS feeds,
// the orderbook mirror, the CSV store, the order manager, fill handler,
// PnL accountant, and risk manager. It does not start any goroutines.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine", "market", cfg.Market)

	signer, err := signing.NewSigner(cfg.StarkPrivate)
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	nonces := signing.NewNonceSource(time.Now().Unix())

	client := exchange.NewClient(cfg.Exchange.RESTBaseURL, cfg.APIKey, signer, nonces, cfg.Exchange.DryRun, logger, cfg.Exchange.RateLimits)

	depth := exchange.NewDepthFeed(cfg.Exchange.WSDepthURL, logger)
	trades := exchange.NewTradeFeed(cfg.Exchange.WSTradesURL, logger)
	account := exchange.NewAccountFeed(cfg.Exchange.WSAccountURL, cfg.APIKey, logger)

	book := orderbook.New(cfg.Market)

	csv, err := store.Open(cfg.DataDirectory, cfg.Market, cfg.MaxDepthLevels, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tickSize := decimal.NewFromFloat(0.01)
	if mc, err := client.GetMarketConfig(context.Background(), cfg.Market); err != nil {
		logger.Warn("failed to fetch market config at startup, using default tick size", "error", err)
	} else if mc.TickSize.IsPositive() {
		tickSize = mc.TickSize
	}

	botst := state.New()

	riskMgr := risk.New(risk.Config{
		MaxExposureUSD:    cfg.Risk.MaxExposureUSD,
		MaxDailyLoss:      cfg.Risk.MaxDailyLoss,
		KillSwitchDropPct: cfg.Risk.KillSwitchDropPct,
		KillSwitchWindow:  time.Duration(cfg.Risk.KillSwitchWindowSec) * time.Second,
		CooldownAfterKill: time.Duration(cfg.Risk.CooldownAfterKillSec) * time.Second,
	}, logger)

	ordersMgr := orders.New(orders.Config{
		Market:                cfg.Market,
		NotionalUSD:           cfg.NotionalUSD,
		RepricingThresholdBps: cfg.RepricingThresholdBps,
		RefreshInterval:       time.Duration(cfg.OrderRefreshIntervalSec * float64(time.Second)),
		TradingEnabled:        cfg.TradingEnabled,
		CallsPerMinute:        cfg.Order.CallsPerMinute,
		SyntheticAssetID:      cfg.Order.SyntheticAssetID,
		CollateralAssetID:     cfg.Order.CollateralAssetID,
		PositionID:            cfg.Order.PositionID,
		DomainChainID:         cfg.Order.DomainChainID,
		BaseDecimals:          cfg.Order.BaseDecimals,
		QuoteDecimals:         cfg.Order.QuoteDecimals,
		OrderExpiry:           time.Duration(cfg.Order.OrderExpirySeconds) * time.Second,
		FeeUSD:                cfg.Order.FeeUSD,
	}, client, botst, signer, nonces, logger)

	fillsH := fills.New(cfg.Market, botst, logger)

	quoteAsset := cfg.Order.QuoteAsset
	if quoteAsset == "" {
		quoteAsset = "USDC"
	}
	pnlAcct, err := pnl.Open(context.Background(), pnlStatePath(cfg.DataDirectory), quoteAsset, client, logger)
	if err != nil {
		return nil, fmt.Errorf("open pnl accountant: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		market:    cfg.Market,
		book:      book,
		csv:       csv,
		botst:     botst,
		client:    client,
		depth:     depth,
		trades:    trades,
		account:   account,
		ordersMgr: ordersMgr,
		fillsH:    fillsH,
		pnlAcct:   pnlAcct,
		riskMgr:   riskMgr,
		reg:       metrics.New(),
		tickSize:  tickSize,
		events:    make(chan api.DashboardEvent, 64),
	}, nil
}

// Metrics exposes the engine's Prometheus registry (for the dashboard's
// /metrics endpoint).
func (e *Engine) Metrics() *metrics.Registry { return e.reg }

// MarketName exposes the market this engine instance is running.
func (e *Engine) MarketName() string { return e.market }

// Book exposes the read-only orderbook mirror (for the dashboard).
func (e *Engine) Book() *orderbook.Book { return e.book }

// RiskStatus exposes the risk manager's current limits and reading (for
// the dashboard).
func (e *Engine) RiskStatus() risk.Status { return e.riskMgr.Status() }

// PnLSnapshot exposes the PnL accountant's last tick result (for the
// dashboard). Zero value until the first tick completes.
func (e *Engine) PnLSnapshot() pnl.Snapshot { return e.pnlAcct.LastSnapshot() }

// DashboardEvents exposes the fill/order/kill event stream the task mesh
// emits for the dashboard WebSocket to fan out. Sends are non-blocking;
// slow or absent consumers simply miss events rather than stall a task.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent { return e.events }

// emitEvent publishes evt to the dashboard stream without blocking.
func (e *Engine) emitEvent(evt api.DashboardEvent) {
	select {
	case e.events <- evt:
	default:
	}
}

// State exposes the shared BotState cell (read-only use by the dashboard).
func (e *Engine) State() *state.BotState { return e.botst }

func pnlStatePath(dataDir string) string {
	return dataDir + "/pnl_state.json"
}

// Run starts the six-task mesh and blocks until ctx is cancelled or any
// task returns a non-nil error, at which point the errgroup cancels the
// others via its derived context.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.depth.Run(gctx) })
	g.Go(func() error { return e.trades.Run(gctx) })
	g.Go(func() error { return e.account.Run(gctx) })

	g.Go(func() error { return e.runIngest(gctx) })
	g.Go(func() error { return e.runEstimator(gctx) })
	g.Go(func() error { return e.runOrderManager(gctx) })
	g.Go(func() error { return e.runFillHandler(gctx) })
	g.Go(func() error { return e.runPnL(gctx) })
	if e.cfg.RestBackupEnabled {
		g.Go(func() error { return e.runRestBackup(gctx) })
	}

	err := g.Wait()

	// Safety net on shutdown: cancel any resting order so the book isn't
	// left one-sided, mirroring the teacher's Stop() cancel-all.
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, cerr := e.client.MassCancel(cancelCtx, exchange.MassCancelOptions{Markets: []string{e.market}}); cerr != nil {
		e.logger.Error("cancel-all on shutdown failed", "error", cerr)
	}
	e.depth.Close()
	e.trades.Close()
	e.account.Close()
	e.csv.Close()

	e.logger.Info("engine shutdown complete")
	return err
}
