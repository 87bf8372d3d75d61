// Package metrics exposes Prometheus counters/gauges/histograms for the
// task mesh: fills, rate-limit waits, estimator runs, PnL, and ingest
// latency. Grounded on svyatogor45-abitrage/internal/bot/metrics.go's
// promauto-vars-per-concern shape and autovant-trading-bot/reporter.go's
// promhttp exposition, but built as a struct bound to its own
// prometheus.Registry instead of package-level globals, so tests can
// construct independent instances without double-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketmaker"

// Registry bundles every metric the task mesh emits.
type Registry struct {
	reg *prometheus.Registry

	OrdersPlaced   *prometheus.CounterVec
	OrdersCanceled *prometheus.CounterVec
	Fills          *prometheus.CounterVec
	RateLimitWaits prometheus.Counter

	EstimatorRuns     *prometheus.CounterVec
	EstimatorDuration prometheus.Histogram
	KillSwitchEvents  prometheus.Counter

	PnL          prometheus.Gauge
	Equity       prometheus.Gauge
	InventoryUSD prometheus.Gauge

	IngestLatency prometheus.Histogram
}

// New builds a Registry with all metrics registered against a fresh
// prometheus.Registry (not the global default, so multiple instances —
// e.g. in tests — never collide).
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Limit orders placed by the ping-pong order manager.",
		}, []string{"side"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_canceled_total",
			Help:      "Orders canceled, by reason.",
		}, []string{"reason"}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills observed via the account stream.",
		}, []string{"status"}),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Times the order manager suspended for the sliding-window rate limiter.",
		}),
		EstimatorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimator_runs_total",
			Help:      "Estimator task ticks, by outcome.",
		}, []string{"outcome"}),
		EstimatorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimator_duration_seconds",
			Help:      "Time to recompute sigma/kappa/spread on one estimator tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		KillSwitchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kill_switch_events_total",
			Help:      "Times the risk manager engaged the kill switch.",
		}),
		PnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pnl_usd",
			Help:      "Cumulative PnL against the persisted baseline.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity_usd",
			Help:      "Current quote-asset equity.",
		}),
		InventoryUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_usd",
			Help:      "Current signed position valued at the live mid.",
		}),
		IngestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_latency_seconds",
			Help:      "One-way latency from WS message timestamp to local order-book apply.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
	}

	reg.MustRegister(
		m.OrdersPlaced, m.OrdersCanceled, m.Fills, m.RateLimitWaits,
		m.EstimatorRuns, m.EstimatorDuration, m.KillSwitchEvents,
		m.PnL, m.Equity, m.InventoryUSD, m.IngestLatency,
	)
	return m
}

// Handler returns the HTTP handler exposing these metrics in the
// Prometheus text exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
