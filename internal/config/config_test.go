package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const validConfig = `{
	"market_making_market": "BTC-PERP",
	"market_making_notional_usd": 500,
	"market_making_gamma": 0.1,
	"time_horizon_hours": 24,
	"window_hours": 6,
	"spread_calc_interval_sec": 30,
	"order_refresh_interval_sec": 1,
	"pnl_log_interval_sec": 60,
	"trading_enabled": false,
	"data_directory": "./data",
	"k_estimation_method": "simple",
	"sigma_estimation_method": "simple",
	"exchange": { "rest_base_url": "https://example.test" },
	"risk": { "max_exposure_usd": 10000, "max_daily_loss": 500 }
}`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MinSpreadBps != 10 {
		t.Errorf("minimum_spread_bps default = %v, want 10", cfg.MinSpreadBps)
	}
	if cfg.MaxDepthLevels != 20 {
		t.Errorf("max_depth_levels default = %v, want 20", cfg.MaxDepthLevels)
	}
	if cfg.RepricingThresholdBps != 3.0 {
		t.Errorf("repricing_threshold_bps default = %v, want 3.0", cfg.RepricingThresholdBps)
	}
	if cfg.KMinSamplesPerLevel != 5 {
		t.Errorf("k_min_samples_per_level default = %v, want 5", cfg.KMinSamplesPerLevel)
	}
	if cfg.Order.QuoteAsset != "USDC" {
		t.Errorf("order.quote_asset default = %q, want USDC", cfg.Order.QuoteAsset)
	}
	if cfg.Exchange.RateLimits.OrderCapacity != 350 || cfg.Exchange.RateLimits.OrderRatePerSec != 50 {
		t.Errorf("exchange.rate_limits.order default = %+v, want capacity=350 rate=50", cfg.Exchange.RateLimits)
	}
	if cfg.Exchange.RateLimits.ReadCapacity != 150 || cfg.Exchange.RateLimits.ReadRatePerSec != 15 {
		t.Errorf("exchange.rate_limits.read default = %+v, want capacity=150 rate=15", cfg.Exchange.RateLimits)
	}
}

func TestLoadOverlaysSecretsFromEnv(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	t.Setenv("API_KEY", "key-123")
	t.Setenv("STARK_PUBLIC", "pub-456")
	t.Setenv("STARK_PRIVATE", "priv-789")
	t.Setenv("VAULT_NUMBER", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "key-123" || cfg.StarkPublic != "pub-456" || cfg.StarkPrivate != "priv-789" || cfg.VaultNumber != "42" {
		t.Errorf("secrets not overlaid from env: %+v", cfg)
	}
}

func TestValidateRejectsMissingMarket(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestValidateRejectsUnknownEstimationMethods(t *testing.T) {
	path := writeConfigFile(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.KEstimationMethod = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown k_estimation_method")
	}
	cfg.KEstimationMethod = "simple"

	cfg.SigmaEstimationMethod = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown sigma_estimation_method")
	}
}

func TestValidatePassesForWellFormedConfig(t *testing.T) {
	path := writeConfigFile(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestValidateRequiresSecretsWhenTradingEnabled(t *testing.T) {
	path := writeConfigFile(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.TradingEnabled = true

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when trading enabled without secrets")
	}

	cfg.APIKey, cfg.StarkPublic, cfg.StarkPrivate, cfg.VaultNumber = "a", "b", "c", "d"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error once secrets are set: %v", err)
	}
}
