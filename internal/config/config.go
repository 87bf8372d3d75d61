// Package config defines all configuration for the market-making bot.
// Config is loaded from a JSON file (spec §6 enumerates the keys) with
// the four required secrets supplied via environment variables rather
// than the file, since they must never be checked into a repo.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Field names map 1:1 onto the
// JSON keys enumerated in spec §6.
type Config struct {
	Market          string  `mapstructure:"market_making_market"`
	NotionalUSD     float64 `mapstructure:"market_making_notional_usd"`
	Gamma           float64 `mapstructure:"market_making_gamma"`
	MinSpreadBps    float64 `mapstructure:"minimum_spread_bps"`
	TimeHorizonHrs  float64 `mapstructure:"time_horizon_hours"`
	WindowHours     float64 `mapstructure:"window_hours"`

	SpreadCalcIntervalSec   int     `mapstructure:"spread_calc_interval_sec"`
	OrderRefreshIntervalSec float64 `mapstructure:"order_refresh_interval_sec"`
	PnLLogIntervalSec       int     `mapstructure:"pnl_log_interval_sec"`

	TradingEnabled bool `mapstructure:"trading_enabled"`

	DataDirectory       string `mapstructure:"data_directory"`
	CollectOrderbook    bool   `mapstructure:"collect_orderbook"`
	CollectTrades       bool   `mapstructure:"collect_trades"`
	CollectFullBook     bool   `mapstructure:"collect_full_orderbook"`
	MaxDepthLevels      int    `mapstructure:"max_depth_levels"`

	RepricingThresholdBps float64 `mapstructure:"repricing_threshold_bps"`

	RestBackupEnabled     bool    `mapstructure:"rest_backup_enabled"`
	RestBackupIntervalSec float64 `mapstructure:"rest_backup_interval_sec"`

	KEstimationMethod    string `mapstructure:"k_estimation_method"`
	KMinSamplesPerLevel  int    `mapstructure:"k_min_samples_per_level"`
	SigmaEstimationMethod string `mapstructure:"sigma_estimation_method"`

	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Order     OrderConfig     `mapstructure:"order"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// Secrets, always sourced from the environment, never the file.
	APIKey       string `mapstructure:"-"`
	StarkPublic  string `mapstructure:"-"`
	StarkPrivate string `mapstructure:"-"`
	VaultNumber  string `mapstructure:"-"`
}

// ExchangeConfig holds REST/WS endpoints and order-book/asset metadata
// that isn't part of the spec's enumerated JSON keys but is required to
// wire internal/exchange and internal/orders.
type ExchangeConfig struct {
	RESTBaseURL  string          `mapstructure:"rest_base_url"`
	WSDepthURL   string          `mapstructure:"ws_depth_url"`
	WSTradesURL  string          `mapstructure:"ws_trades_url"`
	WSAccountURL string          `mapstructure:"ws_account_url"`
	DryRun       bool            `mapstructure:"dry_run"`
	RateLimits   RateLimitConfig `mapstructure:"rate_limits"`
}

// RateLimitConfig carries the exchange's own published per-category REST
// limits (burst capacity and steady-state refill rate), so the token
// buckets in internal/exchange are sized from this deployment's exchange
// account tier rather than numbers baked into the rate limiter itself.
type RateLimitConfig struct {
	OrderCapacity    float64 `mapstructure:"order_capacity"`
	OrderRatePerSec  float64 `mapstructure:"order_rate_per_sec"`
	CancelCapacity   float64 `mapstructure:"cancel_capacity"`
	CancelRatePerSec float64 `mapstructure:"cancel_rate_per_sec"`
	ReadCapacity     float64 `mapstructure:"read_capacity"`
	ReadRatePerSec   float64 `mapstructure:"read_rate_per_sec"`
}

// RiskConfig sets the supplemental kill-switch limits (internal/risk).
type RiskConfig struct {
	MaxExposureUSD       float64 `mapstructure:"max_exposure_usd"`
	MaxDailyLoss         float64 `mapstructure:"max_daily_loss"`
	KillSwitchDropPct    float64 `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec  int     `mapstructure:"kill_switch_window_sec"`
	CooldownAfterKillSec int     `mapstructure:"cooldown_after_kill_sec"`
}

// OrderConfig carries the signed-order payload fields spec §6 requires
// but does not enumerate among the JSON config keys (they come from the
// exchange's market-config response and the vault/chain env vars at
// startup; this struct is the config-file seam for values known ahead
// of time, e.g. in tests or dry-run mode).
type OrderConfig struct {
	SyntheticAssetID   string  `mapstructure:"synthetic_asset_id"`
	CollateralAssetID  string  `mapstructure:"collateral_asset_id"`
	QuoteAsset         string  `mapstructure:"quote_asset"`
	PositionID         string  `mapstructure:"position_id"`
	DomainChainID      int64   `mapstructure:"domain_chain_id"`
	BaseDecimals       int     `mapstructure:"base_decimals"`
	QuoteDecimals      int     `mapstructure:"quote_decimals"`
	FeeUSD             float64 `mapstructure:"fee_usd"`
	OrderExpirySeconds int     `mapstructure:"order_expiry_seconds"`
	CallsPerMinute     int     `mapstructure:"calls_per_minute"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only dashboard server and
// the Prometheus metrics endpoint.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a JSON file and overlays the four required
// secrets from the environment (spec §6: API_KEY, STARK_PUBLIC,
// STARK_PRIVATE, VAULT_NUMBER).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIKey = os.Getenv("API_KEY")
	cfg.StarkPublic = os.Getenv("STARK_PUBLIC")
	cfg.StarkPrivate = os.Getenv("STARK_PRIVATE")
	cfg.VaultNumber = os.Getenv("VAULT_NUMBER")

	return &cfg, nil
}

// applyDefaults sets the spec-pinned defaults for keys that may be
// omitted from the config file.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("minimum_spread_bps", 10.0)
	v.SetDefault("max_depth_levels", 20)
	v.SetDefault("repricing_threshold_bps", 3.0)
	v.SetDefault("k_min_samples_per_level", 5)
	v.SetDefault("order.quote_asset", "USDC")

	// Matches the exchange's published per-category REST limits; override
	// per-deployment via exchange.rate_limits in the config file.
	v.SetDefault("exchange.rate_limits.order_capacity", 350.0)
	v.SetDefault("exchange.rate_limits.order_rate_per_sec", 50.0)
	v.SetDefault("exchange.rate_limits.cancel_capacity", 300.0)
	v.SetDefault("exchange.rate_limits.cancel_rate_per_sec", 30.0)
	v.SetDefault("exchange.rate_limits.read_capacity", 150.0)
	v.SetDefault("exchange.rate_limits.read_rate_per_sec", 15.0)
}

// Validate checks required fields and value ranges, matching the
// teacher's fail-fast Config.Validate() pattern. Config errors are
// always fatal at startup (spec §7).
func (c *Config) Validate() error {
	if c.Market == "" {
		return fmt.Errorf("market_making_market is required")
	}
	if c.NotionalUSD <= 0 {
		return fmt.Errorf("market_making_notional_usd must be > 0")
	}
	if c.Gamma <= 0 {
		return fmt.Errorf("market_making_gamma must be > 0")
	}
	if c.TimeHorizonHrs <= 0 {
		return fmt.Errorf("time_horizon_hours must be > 0")
	}
	if c.WindowHours <= 0 {
		return fmt.Errorf("window_hours must be > 0")
	}
	if c.SpreadCalcIntervalSec <= 0 {
		return fmt.Errorf("spread_calc_interval_sec must be > 0")
	}
	if c.OrderRefreshIntervalSec <= 0 {
		return fmt.Errorf("order_refresh_interval_sec must be > 0")
	}
	if c.DataDirectory == "" {
		return fmt.Errorf("data_directory is required")
	}
	switch c.KEstimationMethod {
	case "simple", "virtual_quoting", "depth_intensity":
	default:
		return fmt.Errorf("k_estimation_method must be one of: simple, virtual_quoting, depth_intensity")
	}
	switch c.SigmaEstimationMethod {
	case "simple", "garch", "garch_studentt":
	default:
		return fmt.Errorf("sigma_estimation_method must be one of: simple, garch, garch_studentt")
	}
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Risk.MaxExposureUSD <= 0 {
		return fmt.Errorf("risk.max_exposure_usd must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}

	if c.TradingEnabled {
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY env var is required when trading_enabled is true")
		}
		if c.StarkPublic == "" {
			return fmt.Errorf("STARK_PUBLIC env var is required when trading_enabled is true")
		}
		if c.StarkPrivate == "" {
			return fmt.Errorf("STARK_PRIVATE env var is required when trading_enabled is true")
		}
		if c.VaultNumber == "" {
			return fmt.Errorf("VAULT_NUMBER env var is required when trading_enabled is true")
		}
	}
	return nil
}
