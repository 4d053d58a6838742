// Package config loads and validates the operational safety kernel's
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
)

// KV configures the persistent key-value backend. Empty Addr selects the
// in-memory backend (used for tests and KV-less runs).
type KV struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// Budgets configures the Cost Governor (Ledger + Predictor + Breaker).
type Budgets struct {
	DailyUSD        float64            `yaml:"daily_usd" validate:"gt=0"`
	MonthlyUSD      float64            `yaml:"monthly_usd" validate:"gt=0"`
	PerCallCapUSD   float64            `yaml:"per_call_cap_usd" validate:"gt=0"`
	DefaultPriceUSD float64            `yaml:"default_price_per_million" validate:"gte=0"`
	PricePerModel   map[string]float64 `yaml:"price_per_model"`
	PredictorWindow int                `yaml:"predictor_window_days" validate:"gte=0"`
	AutoResetPct    float64            `yaml:"auto_reset_pct" validate:"gt=0,lte=1"`
}

// RiskThresholds configures the Risk Assessor's five independent axes,
// mirroring internal/risk.Thresholds field for field; kernel.Build copies
// each field into a risk.Thresholds for risk.NewAssessor.
type RiskThresholds struct {
	Market        RiskMarketThresholds       `yaml:"market"`
	System        RiskSystemThresholds       `yaml:"system"`
	Operational   RiskOperationalThresholds  `yaml:"operational"`
	Liquidity     RiskLiquidityThresholds    `yaml:"liquidity"`
	Counterparty  RiskCounterpartyThresholds `yaml:"counterparty"`
	HistoryWindow time.Duration              `yaml:"history_window"`
	MaxHistory    int                        `yaml:"max_history" validate:"gte=0"`
}

// RiskMarketThresholds configures the market axis's configurable trip
// points (the Sharpe, volume_ratio, and settlement_delay cliffs are fixed
// constants in internal/risk, not configurable here).
type RiskMarketThresholds struct {
	Volatility     float64 `yaml:"volatility" validate:"gt=0,lte=1"`
	DailyLossRatio float64 `yaml:"daily_loss_ratio" validate:"gt=0,lte=1"`
}

// RiskSystemThresholds configures the system axis's trip point.
type RiskSystemThresholds struct {
	MinHealth float64 `yaml:"min_health" validate:"gt=0,lte=1"`
}

// RiskOperationalThresholds configures the operational axis's non-Sharpe
// trip points.
type RiskOperationalThresholds struct {
	DataQuality float64 `yaml:"data_quality" validate:"gt=0,lte=1"`
	Overfitting float64 `yaml:"overfitting" validate:"gt=0,lte=1"`
}

// RiskLiquidityThresholds configures the liquidity axis's non-volume_ratio
// trip points.
type RiskLiquidityThresholds struct {
	Spread      float64 `yaml:"spread" validate:"gt=0"`
	MarketDepth float64 `yaml:"market_depth" validate:"gt=0"`
}

// RiskCounterpartyThresholds configures the counterparty axis's
// non-settlement-delay trip points.
type RiskCounterpartyThresholds struct {
	BrokerRating   float64 `yaml:"broker_rating" validate:"gt=0,lte=1"`
	CreditExposure float64 `yaml:"credit_exposure" validate:"gt=0,lte=1"`
}

// HealthProbes configures the Health Monitor's scheduling and probe targets.
type HealthProbes struct {
	HealthIntervalSeconds int      `yaml:"health_interval_seconds" validate:"gte=1"`
	FundIntervalSeconds   int      `yaml:"fund_interval_seconds" validate:"gte=1"`
	KVTimeoutSeconds      int      `yaml:"kv_timeout_seconds" validate:"gte=1"`
	GPUTimeoutSeconds     int      `yaml:"gpu_timeout_seconds" validate:"gte=1"`
	TCPPorts              []string `yaml:"tcp_ports"`
	GPUCommand            string   `yaml:"gpu_command"`
	ShutdownJoinSeconds   int      `yaml:"shutdown_join_seconds" validate:"gte=1"`
}

// Doomsday configures the kill-switch. The reset password itself is never
// part of this config — it lives at the config:doomsday:password KV key
// and is read fresh by doomsday.Interlock.Reset on every attempt.
type Doomsday struct {
	LockfilePath          string  `yaml:"lockfile_path" validate:"required"`
	MemoryRatioThreshold  float64 `yaml:"memory_ratio_threshold" validate:"gt=0,lte=1"`
	DiskRatioThreshold    float64 `yaml:"disk_ratio_threshold" validate:"gt=0,lte=1"`
	DailyLossThreshold    float64 `yaml:"daily_loss_threshold" validate:"lt=0"`
	LiquidationThreshold  float64 `yaml:"liquidation_threshold" validate:"lt=0"`
	FailureCountThreshold int     `yaml:"failure_count_threshold" validate:"gte=1"`
}

// Slack configures the Emergency Responder's notification channel.
type Slack struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookURL      string `yaml:"webhook_url"`
	ChannelDefault  string `yaml:"channel_default"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"gte=0"`
}

// Metrics configures the exported metrics surface.
type Metrics struct {
	Port                   int `yaml:"port" validate:"gte=1,lte=65535"`
	CollectionIntervalSecs int `yaml:"collection_interval_seconds" validate:"gte=1"`
}

// Root is the top-level kernel configuration.
type Root struct {
	KV       KV             `yaml:"kv"`
	Budgets  Budgets        `yaml:"budgets" validate:"required"`
	Risk     RiskThresholds `yaml:"risk" validate:"required"`
	Health   HealthProbes   `yaml:"health" validate:"required"`
	Doomsday Doomsday       `yaml:"doomsday" validate:"required"`
	Slack    Slack          `yaml:"slack"`
	Metrics  Metrics        `yaml:"metrics" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a YAML configuration file, applying documented
// defaults for anything left unset.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		return c, kernelerr.NewConfigMissing("slack.webhook_url")
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Budgets.DailyUSD == 0 {
		c.Budgets.DailyUSD = 50
	}
	if c.Budgets.MonthlyUSD == 0 {
		c.Budgets.MonthlyUSD = 1000
	}
	if c.Budgets.PerCallCapUSD == 0 {
		c.Budgets.PerCallCapUSD = 1
	}
	if c.Budgets.DefaultPriceUSD == 0 {
		c.Budgets.DefaultPriceUSD = 0.1
	}
	if c.Budgets.PredictorWindow == 0 {
		c.Budgets.PredictorWindow = 7
	}
	if c.Budgets.AutoResetPct == 0 {
		c.Budgets.AutoResetPct = 0.9
	}
	if c.Risk.Market.Volatility == 0 {
		c.Risk.Market.Volatility = 0.02
	}
	if c.Risk.Market.DailyLossRatio == 0 {
		c.Risk.Market.DailyLossRatio = 0.10
	}
	if c.Risk.System.MinHealth == 0 {
		c.Risk.System.MinHealth = 0.5
	}
	if c.Risk.Operational.DataQuality == 0 {
		c.Risk.Operational.DataQuality = 0.80
	}
	if c.Risk.Operational.Overfitting == 0 {
		c.Risk.Operational.Overfitting = 0.70
	}
	if c.Risk.Liquidity.Spread == 0 {
		c.Risk.Liquidity.Spread = 0.01
	}
	if c.Risk.Liquidity.MarketDepth == 0 {
		c.Risk.Liquidity.MarketDepth = 0.50
	}
	if c.Risk.Counterparty.BrokerRating == 0 {
		c.Risk.Counterparty.BrokerRating = 0.70
	}
	if c.Risk.Counterparty.CreditExposure == 0 {
		c.Risk.Counterparty.CreditExposure = 0.30
	}
	if c.Risk.HistoryWindow == 0 {
		c.Risk.HistoryWindow = time.Hour
	}
	if c.Risk.MaxHistory == 0 {
		c.Risk.MaxHistory = 500
	}
	if c.Health.HealthIntervalSeconds == 0 {
		c.Health.HealthIntervalSeconds = 30
	}
	if c.Health.FundIntervalSeconds == 0 {
		c.Health.FundIntervalSeconds = 60
	}
	if c.Health.KVTimeoutSeconds == 0 {
		c.Health.KVTimeoutSeconds = 5
	}
	if c.Health.GPUTimeoutSeconds == 0 {
		c.Health.GPUTimeoutSeconds = 5
	}
	if c.Health.GPUCommand == "" {
		c.Health.GPUCommand = "nvidia-smi"
	}
	if c.Health.ShutdownJoinSeconds == 0 {
		c.Health.ShutdownJoinSeconds = 5
	}
	if c.Doomsday.LockfilePath == "" {
		c.Doomsday.LockfilePath = "data/doomsday.lock"
	}
	if c.Doomsday.MemoryRatioThreshold == 0 {
		c.Doomsday.MemoryRatioThreshold = 0.95
	}
	if c.Doomsday.DiskRatioThreshold == 0 {
		c.Doomsday.DiskRatioThreshold = 0.95
	}
	if c.Doomsday.DailyLossThreshold == 0 {
		c.Doomsday.DailyLossThreshold = -0.10
	}
	if c.Doomsday.LiquidationThreshold == 0 {
		c.Doomsday.LiquidationThreshold = -0.15
	}
	if c.Doomsday.FailureCountThreshold == 0 {
		c.Doomsday.FailureCountThreshold = 3
	}
	if c.Slack.ChannelDefault == "" {
		c.Slack.ChannelDefault = "#trading-alerts"
	}
	if c.Slack.RateLimitPerMin == 0 {
		c.Slack.RateLimitPerMin = 10
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.CollectionIntervalSecs == 0 {
		c.Metrics.CollectionIntervalSecs = 10
	}
}
