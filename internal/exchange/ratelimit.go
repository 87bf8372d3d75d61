// ratelimit.go implements token-bucket rate limiting for the exchange's
// REST API, which enforces per-category limits. This is a smooth
// token-bucket (continuous refill) rather than a fixed-window counter,
// so callers never see the thundering-herd spike a naive window reset
// produces.
//
// Three buckets are maintained, one per REST endpoint category used by
// spec §6: Order (place_limit_order), Cancel (cancel_order_by_external_id,
// mass_cancel), and Read (get_orderbook, get_market_config, get_positions,
// get_balance).
package exchange

import (
	"context"
	"sync"
	"time"

	"marketmaker/internal/config"
)

// TokenBucket implements a token-bucket rate limiter with continuous
// refill. Callers block in Wait() until a token is available or the
// context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled. Per spec
// §7, rate-limit saturation is a Resource error that suspends the caller
// until capacity is available rather than surfacing as an error — Wait
// only ever returns non-nil on context cancellation.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by REST endpoint category.
type RateLimiter struct {
	Order  *TokenBucket
	Cancel *TokenBucket
	Read   *TokenBucket
}

// NewRateLimiter creates rate limiters sized from the exchange's own
// published per-category limits, as configured for this deployment
// (config.RateLimitConfig), rather than a single fixed tier baked into
// the limiter itself.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(cfg.OrderCapacity, cfg.OrderRatePerSec),
		Cancel: NewTokenBucket(cfg.CancelCapacity, cfg.CancelRatePerSec),
		Read:   NewTokenBucket(cfg.ReadCapacity, cfg.ReadRatePerSec),
	}
}
