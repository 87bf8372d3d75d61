// Package state holds the bot's shared in-memory cell (§3 BotState): the
// live mid/market-parameter view, the last A-S quote, and the ping-pong
// order-lifecycle state. A single RWMutex guards all of it.
//
// Readers (the order manager's tick, the API snapshot handler) call the
// Snapshot/Get* accessors, which copy out under RLock and release
// immediately — they never hold the lock while doing anything that blocks
// (network I/O, signing, logging). Writers (the market-data task, the
// spread task, the fill handler) compute their result independently, then
// reacquire the lock only to publish it. This mirrors the teacher's
// market/book.go and risk/manager.go: read snapshot, release, work,
// reacquire to publish.
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/pkg/types"
)

// BotState is the shared per-market state cell described in §3.
type BotState struct {
	mu sync.RWMutex

	market   types.MarketData
	spread   types.SpreadState
	orders   types.OrderState
	pingPong types.PingPongState
}

// New returns an empty BotState with PingPongState defaulted to NeedBuy,
// matching the ping-pong machine's starting mode (§4.7).
func New() *BotState {
	return &BotState{
		pingPong: types.PingPongState{Mode: types.NeedBuy},
	}
}

// MarketData returns a copy of the current market-data view.
func (s *BotState) MarketData() types.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market
}

// SetMarketData publishes a new market-data view (mid price and/or
// estimated parameters).
func (s *BotState) SetMarketData(md types.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = md
}

// UpdateMid publishes a new mid price without disturbing the last
// estimated parameters.
func (s *BotState) UpdateMid(mid decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market.MidPrice = mid
	s.market.UpdatedAt = at
}

// UpdateParams publishes freshly estimated parameters without disturbing
// the last mid price.
func (s *BotState) UpdateParams(params types.MarketParameters, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market.Params = params
	s.market.ParamsAt = at
}

// Spread returns a copy of the last computed quote.
func (s *BotState) Spread() types.SpreadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spread
}

// SetSpread publishes a newly computed quote.
func (s *BotState) SetSpread(sp types.SpreadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spread = sp
}

// Orders returns a copy of the non-ping-pong order-ID state.
func (s *BotState) Orders() types.OrderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders
}

// SetOrders publishes new order-ID state.
func (s *BotState) SetOrders(os types.OrderState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = os
}

// PingPong returns a copy of the current ping-pong lifecycle state.
func (s *BotState) PingPong() types.PingPongState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingPong
}

// SetPingPong publishes new ping-pong lifecycle state.
func (s *BotState) SetPingPong(pp types.PingPongState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingPong = pp
}

// MutatePingPong reads the current ping-pong state, applies fn, and
// publishes the result atomically under a single write lock. Use this for
// read-modify-write transitions (e.g. flipping mode on fill) where a
// separate Get+Set pair would race against a concurrent writer.
func (s *BotState) MutatePingPong(fn func(types.PingPongState) types.PingPongState) types.PingPongState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingPong = fn(s.pingPong)
	return s.pingPong
}

// Snapshot is a consistent-at-a-point-in-time read of the whole cell, for
// the dashboard/API layer.
type Snapshot struct {
	Market   types.MarketData
	Spread   types.SpreadState
	Orders   types.OrderState
	PingPong types.PingPongState
}

// Snapshot returns a copy of the entire state cell under a single RLock.
func (s *BotState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Market:   s.market,
		Spread:   s.spread,
		Orders:   s.orders,
		PingPong: s.pingPong,
	}
}
