// Package exchange implements the REST and WebSocket adapters for the
// exchange described in spec §6.
//
// The REST client (Client) wraps a resty HTTP client with per-category
// rate limiting, retry on 5xx, and API-key authentication, talking to:
//   - GetOrderBook:             GET  /orderbook
//   - GetMarketConfig:          GET  /market-config
//   - GetPositions:             GET  /positions
//   - GetBalance:               GET  /balance
//   - PlaceLimitOrder:          POST /orders
//   - CancelOrderByExternalID:  DELETE /orders/{id}
//   - MassCancel:               DELETE /orders (by markets, ids, or cancel_all)
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"marketmaker/internal/config"
	"marketmaker/internal/signing"
	"marketmaker/pkg/types"
)

// Client is the exchange REST API client.
type Client struct {
	http   *resty.Client
	apiKey string
	signer *signing.Signer
	nonces *signing.NonceSource
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry. rateLimits
// is typically cfg.Exchange.RateLimits; a zero value falls back to
// single-request buckets (capacity/rate of 0 would starve Wait forever).
func NewClient(baseURL, apiKey string, signer *signing.Signer, nonces *signing.NonceSource, dryRun bool, logger *slog.Logger, rateLimits config.RateLimitConfig) *Client {
	if rateLimits == (config.RateLimitConfig{}) {
		rateLimits = config.RateLimitConfig{
			OrderCapacity: 1, OrderRatePerSec: 1,
			CancelCapacity: 1, CancelRatePerSec: 1,
			ReadCapacity: 1, ReadRatePerSec: 1,
		}
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("API-KEY", apiKey)

	return &Client{
		http:   httpClient,
		apiKey: apiKey,
		signer: signer,
		nonces: nonces,
		rl:     NewRateLimiter(rateLimits),
		dryRun: dryRun,
		logger: logger.With("component", "exchange_client"),
	}
}

type orderbookResponse struct {
	Market string          `json:"market"`
	Seq    int64           `json:"seq"`
	Ts     int64           `json:"ts"`
	Bids   []types.WSLevel `json:"bids"`
	Asks   []types.WSLevel `json:"asks"`
}

// GetOrderBook fetches a depth snapshot for one market via REST — used
// both for startup bootstrap and the optional REST-backup task (spec
// §4.6 task 6).
func (c *Client) GetOrderBook(ctx context.Context, market string) (types.DepthSnapshot, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.DepthSnapshot{}, err
	}

	var result orderbookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("market", market).
		SetResult(&result).
		Get("/orderbook")
	if err != nil {
		return types.DepthSnapshot{}, fmt.Errorf("get orderbook: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.DepthSnapshot{}, fmt.Errorf("get orderbook: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.DepthSnapshot{
		TimestampMs: result.Ts,
		Market:      result.Market,
		Seq:         result.Seq,
		Bids:        wsLevelsToPriceLevels(result.Bids),
		Asks:        wsLevelsToPriceLevels(result.Asks),
	}, nil
}

func wsLevelsToPriceLevels(levels []types.WSLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, lv := range levels {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(lv.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

type marketConfigResponse struct {
	Market       string `json:"market"`
	TickSize     string `json:"tick_size"`
	LotSize      string `json:"lot_size"`
	BaseAssetID  string `json:"base_asset_id"`
	QuoteAssetID string `json:"quote_asset_id"`
}

// GetMarketConfig fetches tick/lot precision at runtime. Spec §9 OQ-iii:
// these are never hardcoded.
func (c *Client) GetMarketConfig(ctx context.Context, market string) (types.MarketConfig, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.MarketConfig{}, err
	}

	var result marketConfigResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("market", market).
		SetResult(&result).
		Get("/market-config")
	if err != nil {
		return types.MarketConfig{}, fmt.Errorf("get market config: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketConfig{}, fmt.Errorf("get market config: status %d: %s", resp.StatusCode(), resp.String())
	}

	tick, err := decimal.NewFromString(result.TickSize)
	if err != nil {
		return types.MarketConfig{}, fmt.Errorf("parse tick size: %w", err)
	}
	lot, err := decimal.NewFromString(result.LotSize)
	if err != nil {
		return types.MarketConfig{}, fmt.Errorf("parse lot size: %w", err)
	}

	return types.MarketConfig{
		Market:       result.Market,
		TickSize:     tick,
		LotSize:      lot,
		BaseAssetID:  result.BaseAssetID,
		QuoteAssetID: result.QuoteAssetID,
	}, nil
}

type positionsResponse struct {
	Positions []struct {
		Market string `json:"market"`
		Size   string `json:"size"`
	} `json:"positions"`
}

// GetPositions fetches the account's open positions.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var result positionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Position, 0, len(result.Positions))
	for _, p := range result.Positions {
		size, err := decimal.NewFromString(p.Size)
		if err != nil {
			continue
		}
		out = append(out, types.Position{Market: p.Market, Size: size})
	}
	return out, nil
}

type balanceResponse struct {
	Balances []struct {
		Asset string `json:"asset"`
		Total string `json:"total"`
		Free  string `json:"free"`
	} `json:"balances"`
}

// GetBalance fetches the account's asset balances.
func (c *Client) GetBalance(ctx context.Context) ([]types.Balance, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var result balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/balance")
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Balance, 0, len(result.Balances))
	for _, b := range result.Balances {
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		out = append(out, types.Balance{Asset: b.Asset, Total: total, Free: free})
	}
	return out, nil
}

type placeOrderPayload struct {
	Market       string                    `json:"market"`
	Side         types.Side                `json:"side"`
	Price        string                    `json:"price"`
	Size         string                    `json:"size"`
	PostOnly     bool                      `json:"post_only"`
	ReduceOnly   bool                      `json:"reduce_only"`
	ClientID     string                    `json:"client_id,omitempty"`
	SignedFields types.SignedOrderFields   `json:"signed_fields"`
	Signature    types.Signature           `json:"signature"`
}

type placeOrderResponse struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

// PlaceLimitOrder signs the order's field layout and submits it.
func (c *Client) PlaceLimitOrder(ctx context.Context, req types.OrderRequest, fields types.SignedOrderFields) (types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "market", req.Market, "side", req.Side, "price", req.Price, "size", req.Size)
		return types.OrderAck{ExternalID: "dry-run-" + req.ClientID, Status: types.OrderLive}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	sig, err := c.signer.Sign(fields)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("sign order: %w", err)
	}

	payload := placeOrderPayload{
		Market:       req.Market,
		Side:         req.Side,
		Price:        req.Price.String(),
		Size:         req.Size.String(),
		PostOnly:     req.PostOnly,
		ReduceOnly:   req.ReduceOnly,
		ClientID:     req.ClientID,
		SignedFields: fields,
		Signature:    sig,
	}

	var result placeOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderAck{}, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.OrderAck{ExternalID: result.ExternalID, Status: types.OrderStatus(result.Status)}, nil
}

// CancelOrderByExternalID cancels a single order by its exchange-assigned ID.
func (c *Client) CancelOrderByExternalID(ctx context.Context, externalID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "external_id", externalID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/orders/" + externalID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// MassCancelOptions selects which orders MassCancel targets. Exactly one
// of Markets, IDs, or CancelAll should be set, per spec §6.
type MassCancelOptions struct {
	Markets   []string
	IDs       []string
	CancelAll bool
}

type massCancelPayload struct {
	Markets   []string `json:"markets,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	CancelAll bool     `json:"cancel_all,omitempty"`
}

// MassCancel cancels orders in bulk by market, by ID list, or everything.
func (c *Client) MassCancel(ctx context.Context, opts MassCancelOptions) (types.CancelResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would mass-cancel", "markets", opts.Markets, "ids", opts.IDs, "cancel_all", opts.CancelAll)
		return types.CancelResult{Cancelled: opts.IDs}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return types.CancelResult{}, err
	}

	body := massCancelPayload{Markets: opts.Markets, IDs: opts.IDs, CancelAll: opts.CancelAll}
	raw, err := json.Marshal(body)
	if err != nil {
		return types.CancelResult{}, fmt.Errorf("marshal mass cancel: %w", err)
	}

	var result struct {
		Cancelled []string `json:"cancelled"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(json.RawMessage(raw)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return types.CancelResult{}, fmt.Errorf("mass cancel: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.CancelResult{}, fmt.Errorf("mass cancel: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("mass cancel executed", "count", len(result.Cancelled))
	return types.CancelResult{Cancelled: result.Cancelled}, nil
}
