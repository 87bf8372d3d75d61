// Package fills implements the account-stream fill handler (spec §4.8):
// it consumes ORDER/TRADE/BALANCE/POSITION account events and updates the
// shared ping-pong state accordingly. Any fill on the tracked order — full
// or partial — flips the ping-pong mode immediately; terminal non-fill
// statuses just clear the tracked order so the next order-manager tick
// replaces it.
//
// Grounded on internal/strategy/maker.go's handleFill/handleOrderEvent:
// same "consume one account-stream event, mutate local order/position
// state, log" shape, adapted from the teacher's always-both-sides book to
// the spec's single tracked order.
package fills

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/state"
	"marketmaker/pkg/types"
)

// Handler reacts to account-stream events for one market.
type Handler struct {
	market string
	state  *state.BotState
	logger *slog.Logger
}

// New constructs a fill handler for one market.
func New(market string, botState *state.BotState, logger *slog.Logger) *Handler {
	return &Handler{
		market: market,
		state:  botState,
		logger: logger.With("component", "fill_handler", "market", market),
	}
}

// HandleEvent dispatches one account-stream event by type (spec §4.8).
func (h *Handler) HandleEvent(evt types.WSAccountEvent) {
	switch evt.Type {
	case types.AccountOrder:
		h.handleOrders(evt.Data.Orders)
	case types.AccountPosition:
		h.handlePositions(evt.Data.Positions)
	case types.AccountTrade:
		h.handleTrades(evt.Data.Trades)
	case types.AccountBalance:
		// Ignored here; the PnL task consumes balance via REST.
	}
}

func (h *Handler) handleOrders(orders []types.WSOrderRecord) {
	for _, rec := range orders {
		h.handleOrder(rec)
	}
}

func (h *Handler) handleOrder(rec types.WSOrderRecord) {
	var flipped bool
	var cleared bool

	h.state.MutatePingPong(func(pp types.PingPongState) types.PingPongState {
		if pp.CurrentOrderID == "" || pp.CurrentOrderID != rec.ExternalID {
			return pp
		}
		switch {
		case rec.Status.IsFill():
			pp.CurrentOrderID = ""
			pp.PlacedAt = time.Time{}
			pp.MidAtPlacement = decimal.Decimal{}
			pp.Mode = pp.Mode.Flip()
			flipped = true
		case rec.Status.IsTerminal():
			pp.CurrentOrderID = ""
			pp.PlacedAt = time.Time{}
			pp.MidAtPlacement = decimal.Decimal{}
			cleared = true
		}
		return pp
	})

	switch {
	case flipped:
		h.logger.Info("order filled, flipping mode",
			"external_id", rec.ExternalID, "status", rec.Status, "filled_qty", rec.FilledQty)
	case cleared:
		h.logger.Info("order cleared without fill",
			"external_id", rec.ExternalID, "status", rec.Status)
	}
}

func (h *Handler) handlePositions(positions []types.WSPositionRecord) {
	for _, rec := range positions {
		if rec.Market != h.market {
			continue
		}
		size, err := decimal.NewFromString(rec.Size)
		if err != nil {
			h.logger.Warn("malformed position size", "raw", rec.Size, "error", err)
			continue
		}
		sizeF, _ := size.Float64()
		h.state.MutatePingPong(func(pp types.PingPongState) types.PingPongState {
			pp.CurrentPosition = sizeF
			return pp
		})
	}
}

func (h *Handler) handleTrades(trades []types.WSTradeFill) {
	for _, t := range trades {
		h.logger.Info("own trade", "external_id", t.ExternalID, "side", t.Side, "price", t.Price, "qty", t.Qty)
	}
}
