// ws.go implements the exchange's three WebSocket feeds from spec §6:
//
//   - Depth feed (public): SNAPSHOT/DELTA book updates for one market.
//   - Trades feed (public): public trade prints across subscribed markets.
//   - Account feed (authenticated by API key header): ORDER/TRADE/BALANCE/
//     POSITION events for the account.
//
// All three auto-reconnect with exponential backoff (1s -> 30s max) and
// re-subscribe to tracked markets on reconnection. A read deadline (90s)
// ensures silent server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketmaker/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	depthBufferSize  = 256
	tradeBufferSize  = 256
	accountBufferSize = 64
)

// subscription tracks the set of markets a public feed is subscribed to,
// so reconnection can replay the subscribe message.
type subscription struct {
	mu      sync.RWMutex
	markets map[string]bool
}

func newSubscription() *subscription {
	return &subscription{markets: make(map[string]bool)}
}

func (s *subscription) add(markets []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		s.markets[m] = true
	}
}

func (s *subscription) remove(markets []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		delete(s.markets, m)
	}
}

func (s *subscription) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.markets))
	for m := range s.markets {
		out = append(out, m)
	}
	return out
}

// wsSubscribeMsg is the outbound subscribe/unsubscribe control message,
// shared by the depth and trade feeds.
type wsSubscribeMsg struct {
	Operation string   `json:"operation"`
	Markets   []string `json:"markets"`
}

// connLoop runs connectAndRead in a loop with exponential backoff until
// ctx is cancelled, shared by all three feed types below.
func connLoop(ctx context.Context, logger *slog.Logger, connectAndRead func(context.Context) error) error {
	backoff := time.Second
	for {
		err := connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func dialAndPing(ctx context.Context, url string) (*websocket.Conn, func(), error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	return conn, func() { conn.Close() }, nil
}

// ————————————————————————————————————————————————————————————————————————
// Depth feed
// ————————————————————————————————————————————————————————————————————————

// DepthFeed streams SNAPSHOT/DELTA book updates for subscribed markets.
type DepthFeed struct {
	url    string
	sub    *subscription
	connMu sync.Mutex
	conn   *websocket.Conn
	events chan types.WSDepthEvent
	logger *slog.Logger
}

// NewDepthFeed creates a depth-stream WebSocket client.
func NewDepthFeed(wsURL string, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		url:    wsURL,
		sub:    newSubscription(),
		events: make(chan types.WSDepthEvent, depthBufferSize),
		logger: logger.With("component", "ws_depth"),
	}
}

// Events returns a read-only channel of depth events.
func (f *DepthFeed) Events() <-chan types.WSDepthEvent { return f.events }

// Subscribe adds markets to the depth feed.
func (f *DepthFeed) Subscribe(markets []string) error {
	f.sub.add(markets)
	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Markets: markets})
}

// Unsubscribe removes markets from the depth feed.
func (f *DepthFeed) Unsubscribe(markets []string) error {
	f.sub.remove(markets)
	return f.writeJSON(wsSubscribeMsg{Operation: "unsubscribe", Markets: markets})
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *DepthFeed) Run(ctx context.Context) error {
	return connLoop(ctx, f.logger, f.connectAndRead)
}

// Close gracefully closes the connection.
func (f *DepthFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *DepthFeed) connectAndRead(ctx context.Context) error {
	conn, closeFn, err := dialAndPing(ctx, f.url)
	if err != nil {
		return err
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		closeFn()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if markets := f.sub.list(); len(markets) > 0 {
		if err := f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Markets: markets}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	f.logger.Info("depth feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, f.writeMessage, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var evt types.WSDepthEvent
		if err := unmarshalJSON(msg, &evt); err != nil {
			f.logger.Error("unmarshal depth event", "error", err)
			continue
		}
		select {
		case f.events <- evt:
		default:
			f.logger.Warn("depth channel full, dropping event", "market", evt.Data.Market)
		}
	}
}

func (f *DepthFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *DepthFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// ————————————————————————————————————————————————————————————————————————
// Trade feed
// ————————————————————————————————————————————————————————————————————————

// TradeFeed streams public trade prints for subscribed markets.
type TradeFeed struct {
	url    string
	sub    *subscription
	connMu sync.Mutex
	conn   *websocket.Conn
	events chan types.WSTradeEvent
	logger *slog.Logger
}

// NewTradeFeed creates a public-trades WebSocket client.
func NewTradeFeed(wsURL string, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		url:    wsURL,
		sub:    newSubscription(),
		events: make(chan types.WSTradeEvent, tradeBufferSize),
		logger: logger.With("component", "ws_trades"),
	}
}

// Events returns a read-only channel of trade events.
func (f *TradeFeed) Events() <-chan types.WSTradeEvent { return f.events }

// Subscribe adds markets to the trade feed.
func (f *TradeFeed) Subscribe(markets []string) error {
	f.sub.add(markets)
	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Markets: markets})
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *TradeFeed) Run(ctx context.Context) error {
	return connLoop(ctx, f.logger, f.connectAndRead)
}

// Close gracefully closes the connection.
func (f *TradeFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *TradeFeed) connectAndRead(ctx context.Context) error {
	conn, closeFn, err := dialAndPing(ctx, f.url)
	if err != nil {
		return err
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		closeFn()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if markets := f.sub.list(); len(markets) > 0 {
		if err := f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Markets: markets}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	f.logger.Info("trade feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, f.writeMessage, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var evt types.WSTradeEvent
		if err := unmarshalJSON(msg, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			continue
		}
		select {
		case f.events <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event")
		}
	}
}

func (f *TradeFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *TradeFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// ————————————————————————————————————————————————————————————————————————
// Account feed
// ————————————————————————————————————————————————————————————————————————

// AccountFeed streams authenticated ORDER/TRADE/BALANCE/POSITION events.
type AccountFeed struct {
	url    string
	apiKey string
	connMu sync.Mutex
	conn   *websocket.Conn
	events chan types.WSAccountEvent
	logger *slog.Logger
}

// NewAccountFeed creates an account-stream WebSocket client authenticated
// by API key header.
func NewAccountFeed(wsURL, apiKey string, logger *slog.Logger) *AccountFeed {
	return &AccountFeed{
		url:    wsURL,
		apiKey: apiKey,
		events: make(chan types.WSAccountEvent, accountBufferSize),
		logger: logger.With("component", "ws_account"),
	}
}

// Events returns a read-only channel of account events.
func (f *AccountFeed) Events() <-chan types.WSAccountEvent { return f.events }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *AccountFeed) Run(ctx context.Context) error {
	return connLoop(ctx, f.logger, f.connectAndRead)
}

// Close gracefully closes the connection.
func (f *AccountFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *AccountFeed) connectAndRead(ctx context.Context) error {
	header := map[string][]string{"API-KEY": {f.apiKey}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("account feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go pingLoop(pingCtx, f.writeMessage, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var evt types.WSAccountEvent
		if err := unmarshalJSON(msg, &evt); err != nil {
			f.logger.Error("unmarshal account event", "error", err)
			continue
		}
		select {
		case f.events <- evt:
		default:
			f.logger.Warn("account channel full, dropping event", "type", evt.Type)
		}
	}
}

func (f *AccountFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// pingLoop periodically sends a PING text frame to keep the connection
// alive, shared across all three feeds.
func pingLoop(ctx context.Context, write func(int, []byte) error, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := write(websocket.TextMessage, []byte("PING")); err != nil {
				logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
