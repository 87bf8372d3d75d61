// Package types defines shared data structures used across all packages.
//
// This is the common vocabulary for the market maker — price levels,
// orderbook updates, CSV row shapes, the BotState substructures, signed
// order fields, and WebSocket/REST payloads. It has no dependency on any
// other internal package, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or a public trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// UpdateType tags an orderbook update message.
type UpdateType string

const (
	Snapshot UpdateType = "SNAPSHOT"
	Delta    UpdateType = "DELTA"
)

// TradeType classifies a public trade print.
type TradeType string

const (
	TradeTypeTrade       TradeType = "TRADE"
	TradeTypeLiquidation TradeType = "LIQUIDATION"
	TradeTypeDeleverage  TradeType = "DELEVERAGE"
)

// PingPongMode is the two-state ping-pong order lifecycle.
type PingPongMode string

const (
	NeedBuy  PingPongMode = "NEED_BUY"
	NeedSell PingPongMode = "NEED_SELL"
)

// Flip returns the opposite mode.
func (m PingPongMode) Flip() PingPongMode {
	if m == NeedBuy {
		return NeedSell
	}
	return NeedBuy
}

// OrderStatus mirrors the exchange's order lifecycle states as delivered
// on the account stream.
type OrderStatus string

const (
	OrderLive            OrderStatus = "LIVE"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status ends the order's life without a
// fill (cancel/reject/expiry all clear the tracked order the same way).
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderCancelled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// IsFill reports whether the status represents any fill, full or partial.
// Spec §4.8: any fill — partial or full — flips the ping-pong mode.
func (s OrderStatus) IsFill() bool {
	return s == OrderFilled || s == OrderPartiallyFilled
}

// SigmaMethod selects the volatility estimator.
type SigmaMethod string

const (
	SigmaSimple     SigmaMethod = "simple"
	SigmaGarch      SigmaMethod = "garch"
	SigmaGarchStudT SigmaMethod = "garch_studentt"
)

// KappaMethod selects the trading-intensity estimator.
type KappaMethod string

const (
	KappaSimple         KappaMethod = "simple"
	KappaVirtualQuote   KappaMethod = "virtual_quoting"
	KappaDepthIntensity KappaMethod = "depth_intensity"
)

// ————————————————————————————————————————————————————————————————————————
// Price levels and orderbook updates
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single (price, size) pair. Size 0 means "remove level".
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookUpdate is an orderbook snapshot or delta for one market.
type BookUpdate struct {
	Type        UpdateType
	Market      string
	Seq         int64
	TimestampMs int64
	Bids        []PriceLevel
	Asks        []PriceLevel
}

// DepthSnapshot is a full top-N depth snapshot, sorted best-to-worst.
type DepthSnapshot struct {
	TimestampMs int64
	Market      string
	Seq         int64
	Bids        []PriceLevel
	Asks        []PriceLevel
}

// Mid returns the mid price of the snapshot, or false if either side is empty.
func (d DepthSnapshot) Mid() (decimal.Decimal, bool) {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return decimal.Zero, false
	}
	return d.Bids[0].Price.Add(d.Asks[0].Price).Div(decimal.NewFromInt(2)), true
}

// ————————————————————————————————————————————————————————————————————————
// Rolling-window CSV row shapes (§3, §6)
// ————————————————————————————————————————————————————————————————————————

// TopOfBookRow is one row of orderbook.csv — a top-of-book snapshot.
type TopOfBookRow struct {
	TimestampMs int64
	Market      string
	Seq         int64
	BidPrice    decimal.Decimal
	BidSize     decimal.Decimal
	AskPrice    decimal.Decimal
	AskSize     decimal.Decimal
	Mid         decimal.Decimal
	Spread      decimal.Decimal
	SpreadBps   decimal.Decimal
}

// TradeRow is one row of trades.csv — a public trade print.
type TradeRow struct {
	TimestampMs int64
	Market      string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	TradeID     string
	TradeType   TradeType
}

// DepthRow is one row of orderbook_depth.csv — a wide N-level depth row.
type DepthRow struct {
	TimestampMs int64
	Market      string
	Seq         int64
	Bids        []PriceLevel // up to the configured max depth levels; missing levels are written as zeros
	Asks        []PriceLevel
}

// ————————————————————————————————————————————————————————————————————————
// Parameter estimation and quoting (§4.3-4.5)
// ————————————————————————————————————————————————————————————————————————

// MarketParameters is the result of one estimator-task tick.
type MarketParameters struct {
	Sigma         float64 // daily volatility
	Kappa         float64 // intensity; units depend on estimator
	KappaMethod   KappaMethod
	SigmaMethod   SigmaMethod
	AvgSpread     float64
	SpreadStdev   float64
	SampleCount   int
	WindowSeconds float64
	ComputedAt    time.Time
}

// SpreadState is the result of one A-S quote computation.
type SpreadState struct {
	BidPrice      decimal.Decimal
	AskPrice      decimal.Decimal
	ReservationPx float64
	HalfSpread    float64
	GammaUsed     float64
	CalculatedAt  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// BotState substructures (§3)
// ————————————————————————————————————————————————————————————————————————

// MarketData holds the live mid price and the latest estimated parameters.
type MarketData struct {
	MidPrice  decimal.Decimal
	UpdatedAt time.Time // instant of last mid update
	Params    MarketParameters
	ParamsAt  time.Time
}

// IsValid reports whether a usable mid price has ever been recorded.
func (m MarketData) IsValid() bool {
	return !m.UpdatedAt.IsZero() && m.MidPrice.IsPositive()
}

// IsStale reports whether the mid price is older than threshold.
func (m MarketData) IsStale(threshold time.Duration) bool {
	if m.UpdatedAt.IsZero() {
		return true
	}
	return time.Since(m.UpdatedAt) > threshold
}

// OrderState tracks the latest external order IDs for non-ping-pong flows
// (kept for completeness; the live engine uses PingPongState).
type OrderState struct {
	BidOrderID string
	AskOrderID string
	LastPlaced time.Time
}

// PingPongState is the ping-pong order-lifecycle state (§4.7).
type PingPongState struct {
	Mode            PingPongMode
	CurrentOrderID  string  // empty = no live order
	CurrentPosition float64 // signed
	MidAtPlacement  decimal.Decimal
	PlacedAt        time.Time // zero = not placed
}

// HasLiveOrder reports whether a live order is currently tracked.
func (p PingPongState) HasLiveOrder() bool {
	return p.CurrentOrderID != ""
}

// ————————————————————————————————————————————————————————————————————————
// Persistent state (§3, §6)
// ————————————————————————————————————————————————————————————————————————

// CollectorState is persisted as collector_state_<market>.json next to the CSVs.
type CollectorState struct {
	LastTradeID      string    `json:"last_trade_id"`
	LastTradeTs      int64     `json:"last_trade_ts"`
	LastOrderbookSeq int64     `json:"last_orderbook_seq"`
	LastOrderbookTs  int64     `json:"last_orderbook_ts"`
	TradesCount      int64     `json:"trades_count"`
	TopOfBookCount   int64     `json:"top_of_book_count"`
	DepthCount       int64     `json:"depth_count"`
	LastFlushTrades  time.Time `json:"last_flush_trades"`
	LastFlushTop     time.Time `json:"last_flush_top"`
}

// PnLState is persisted as pnl_state.json in the data directory.
type PnLState struct {
	InitialEquity float64   `json:"initial_equity"`
	StartedAt     time.Time `json:"started_at"`
}

// pnlStateWire is PnLState's on-disk shape: spec §6 pins started_at to
// "YYYY-MM-DD HH:MM:SS UTC", not time.Time's default RFC3339 encoding.
type pnlStateWire struct {
	InitialEquity float64 `json:"initial_equity"`
	StartedAt     string  `json:"started_at"`
}

const pnlTimeLayout = "2006-01-02 15:04:05 UTC"

// MarshalJSON encodes StartedAt in spec §6's pinned format.
func (p PnLState) MarshalJSON() ([]byte, error) {
	return json.Marshal(pnlStateWire{
		InitialEquity: p.InitialEquity,
		StartedAt:     p.StartedAt.UTC().Format(pnlTimeLayout),
	})
}

// UnmarshalJSON decodes StartedAt from spec §6's pinned format.
func (p *PnLState) UnmarshalJSON(data []byte) error {
	var wire pnlStateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	started, err := time.Parse(pnlTimeLayout, wire.StartedAt)
	if err != nil {
		return fmt.Errorf("parse started_at: %w", err)
	}
	p.InitialEquity = wire.InitialEquity
	p.StartedAt = started
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Signed-order payload (§6)
// ————————————————————————————————————————————————————————————————————————

// SignedOrderFields are the fields that must be included verbatim in the
// order signature, per spec §6.
type SignedOrderFields struct {
	SyntheticAssetID  string
	CollateralAssetID string
	BaseAmountSigned  int64 // + for buy, - for sell
	QuoteAmountSigned int64 // opposite sign of BaseAmountSigned
	FeeAmount         int64
	PositionID        string
	Nonce             uint32 // in [1, 2^31)
	ExpiryMs          int64
	PublicKey         string
	DomainChainID     int64
}

// Signature is the opaque (r, s) pair returned by the signing primitive.
type Signature struct {
	R string
	S string
}

// ————————————————————————————————————————————————————————————————————————
// Exchange WS/REST payload shapes (§6)
// ————————————————————————————————————————————————————————————————————————

// WSDepthEvent is the depth-stream wire message.
type WSDepthEvent struct {
	Ts   int64          `json:"ts"`
	Type UpdateType     `json:"type"`
	Data WSDepthPayload `json:"data"`
	Seq  int64          `json:"seq"`
}

// WSDepthPayload is the inner "data" object of a depth-stream message.
type WSDepthPayload struct {
	Market string    `json:"m"`
	Bids   []WSLevel `json:"b"`
	Asks   []WSLevel `json:"a"`
}

// WSLevel is a wire-format (price, size) pair.
type WSLevel struct {
	Price string `json:"p"`
	Size  string `json:"q"`
}

// WSTradeEvent is the public-trades stream wire message.
type WSTradeEvent struct {
	Ts   int64           `json:"ts"`
	Data []WSTradeRecord `json:"data"`
	Seq  int64           `json:"seq"`
}

// WSTradeRecord is one trade print within a trades-stream message.
type WSTradeRecord struct {
	Market    string `json:"m"`
	Side      string `json:"S"`
	TradeType string `json:"tT"`
	Ts        int64  `json:"T"`
	Price     string `json:"p"`
	Size      string `json:"q"`
	ID        string `json:"i"`
}

// AccountEventType tags an account-stream message.
type AccountEventType string

const (
	AccountOrder    AccountEventType = "ORDER"
	AccountTrade    AccountEventType = "TRADE"
	AccountBalance  AccountEventType = "BALANCE"
	AccountPosition AccountEventType = "POSITION"
)

// WSAccountEvent is the account-stream wire envelope.
type WSAccountEvent struct {
	Ts   int64            `json:"ts"`
	Type AccountEventType `json:"type"`
	Data WSAccountPayload `json:"data"`
	Seq  int64            `json:"seq"`
}

// WSAccountPayload is the union of the account-stream's per-type bodies.
// Only the field matching Type is populated.
type WSAccountPayload struct {
	Orders    []WSOrderRecord    `json:"orders,omitempty"`
	Trades    []WSTradeFill      `json:"trades,omitempty"`
	Balances  []WSBalanceRecord  `json:"balances,omitempty"`
	Positions []WSPositionRecord `json:"positions,omitempty"`
}

// WSOrderRecord is one order-lifecycle entry within an ORDER account event.
type WSOrderRecord struct {
	ExternalID string      `json:"external_id"`
	Side       Side        `json:"side"`
	Status     OrderStatus `json:"status"`
	Price      string      `json:"price"`
	Qty        string      `json:"qty"`
	FilledQty  string      `json:"filled_qty"`
}

// WSTradeFill is one own-trade entry within a TRADE account event.
type WSTradeFill struct {
	ExternalID string `json:"external_id"`
	Price      string `json:"price"`
	Qty        string `json:"qty"`
	Side       Side   `json:"side"`
}

// WSBalanceRecord is one balance entry within a BALANCE account event.
type WSBalanceRecord struct {
	Asset string `json:"asset"`
	Total string `json:"total"`
	Free  string `json:"free"`
}

// WSPositionRecord is one position entry within a POSITION account event.
type WSPositionRecord struct {
	Market string `json:"market"`
	Size   string `json:"size"` // signed
}

// ————————————————————————————————————————————————————————————————————————
// REST payload shapes (§6)
// ————————————————————————————————————————————————————————————————————————

// MarketConfig holds tick/lot precision fetched from the exchange at
// runtime (spec §9 OQ-iii: never hardcoded).
type MarketConfig struct {
	Market       string
	TickSize     decimal.Decimal
	LotSize      decimal.Decimal
	BaseAssetID  string
	QuoteAssetID string
}

// OrderRequest is the high-level order the order manager wants placed.
type OrderRequest struct {
	Market     string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	PostOnly   bool
	ReduceOnly bool
	ClientID   string // pre-assigned local ID, for idempotent retries
}

// OrderAck is the REST response to a place-order call.
type OrderAck struct {
	ExternalID string
	Status     OrderStatus
}

// CancelResult is the REST response to a cancel call.
type CancelResult struct {
	Cancelled []string
}

// Balance is one asset's balance as reported by the exchange.
type Balance struct {
	Asset string
	Total decimal.Decimal
	Free  decimal.Decimal
}

// Position is the exchange's reported position for a market.
type Position struct {
	Market string
	Size   decimal.Decimal // signed
}
