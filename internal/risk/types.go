// Package risk implements the Risk Assessor (five independent per-axis
// monitors feeding a bounded, time-pruned event history) and the Control
// Matrix (risk-level to position-scaling policy) that together form the
// kernel's graduated response to deteriorating conditions.
package risk

import "time"

// RiskType identifies which of the five axes a RiskEvent came from.
type RiskType string

const (
	RiskTypeMarket       RiskType = "market"
	RiskTypeSystem       RiskType = "system"
	RiskTypeOperational  RiskType = "operational"
	RiskTypeLiquidity    RiskType = "liquidity"
	RiskTypeCounterparty RiskType = "counterparty"
)

// Severity is the graduated scoring bucket a risk event falls into,
// totally ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank gives Severity a total order for max-aggregation across axes.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above other in the totally
// ordered low < medium < high < critical scale.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// maxSeverity returns whichever of a, b ranks higher.
func maxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// severityFromRatio applies the kernel's universal severity-scaling rule:
// a reading at twice its threshold is critical, at 1.5x is high, at or
// above its threshold is medium, otherwise low.
func severityFromRatio(ratio float64) Severity {
	switch {
	case ratio >= 2:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityHigh
	case ratio >= 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Trend is the market axis's qualitative regime reading.
type Trend string

const (
	TrendNormal   Trend = "normal"
	TrendVolatile Trend = "volatile"
	TrendCrash    Trend = "crash"
)

// MarketInputs is one sampling of the market axis.
type MarketInputs struct {
	Volatility    float64 `validate:"gte=0,lte=1"`
	DailyPnLRatio float64 `validate:"gte=-1,lte=1"`
	Trend         Trend   `validate:"required,oneof=normal volatile crash"`
}

// SystemInputs is one sampling of the system axis — three independent
// component health scores, each in [0,1] with 1 meaning fully healthy.
type SystemInputs struct {
	RedisHealth   float64 `validate:"gte=0,lte=1"`
	GPUHealth     float64 `validate:"gte=0,lte=1"`
	NetworkHealth float64 `validate:"gte=0,lte=1"`
}

// OperationalInputs is one sampling of the operational (model-quality)
// axis.
type OperationalInputs struct {
	Sharpe       float64 `validate:"gte=-10,lte=10"`
	DataQuality  float64 `validate:"gte=0,lte=1"`
	Overfitting  float64 `validate:"gte=0,lte=1"`
}

// LiquidityInputs is one sampling of the liquidity axis.
type LiquidityInputs struct {
	BidAskSpread float64 `validate:"gte=0"`
	VolumeRatio  float64 `validate:"gte=0"`
	MarketDepth  float64 `validate:"gte=0"`
}

// CounterpartyInputs is one sampling of the counterparty axis.
// SettlementDelay is an integer day count.
type CounterpartyInputs struct {
	BrokerRating    float64 `validate:"gte=0,lte=1"`
	SettlementDelay int     `validate:"gte=0"`
	CreditExposure  float64 `validate:"gte=0"`
}

// MarketThresholds configures the market axis's trip points.
type MarketThresholds struct {
	Volatility     float64 // T_v
	DailyLossRatio float64 // T_loss, a positive magnitude compared against -daily_pnl_ratio
}

// SystemThresholds configures the system axis's trip point.
type SystemThresholds struct {
	MinHealth float64 // T_sys
}

// OperationalThresholds configures the operational axis's non-Sharpe trip
// points. The Sharpe cliffs (medium below 1.0, high at or below 0.5) are
// fixed constants (sharpeMediumThreshold, sharpeHighThreshold), not
// configurable — §4.5 gives them as bare numeric literals, not named
// thresholds.
type OperationalThresholds struct {
	DataQuality float64 // below this, scaled
	Overfitting float64 // above this, scaled
}

// LiquidityThresholds configures the liquidity axis's non-volume_ratio trip
// points. The volume_ratio cliffs are fixed constants.
type LiquidityThresholds struct {
	Spread      float64 // T_liq; above this, scaled
	MarketDepth float64 // below this, scaled
}

// CounterpartyThresholds configures the counterparty axis's non-delay trip
// points. The settlement-delay cliff (2 days) is a fixed constant.
type CounterpartyThresholds struct {
	BrokerRating   float64 // below this, scaled
	CreditExposure float64 // above this, scaled
}

// Thresholds bundles every axis's configuration, sourced from
// internal/config.RiskThresholds.
type Thresholds struct {
	Market       MarketThresholds
	System       SystemThresholds
	Operational  OperationalThresholds
	Liquidity    LiquidityThresholds
	Counterparty CounterpartyThresholds
}

// Fixed cliff constants §4.5 states as bare numeric literals rather than
// configurable thresholds.
const (
	sharpeMediumThreshold        = 1.0
	sharpeHighThreshold          = 0.5
	volumeRatioMediumThreshold   = 0.30
	volumeRatioHighThreshold     = 0.15
	settlementDelayMediumDays    = 2
	settlementDelayHighDays      = 4
)

// RiskEvent is one detected risk condition — §3's Risk Event record.
type RiskEvent struct {
	RiskType    RiskType
	Level       Severity
	Description string
	Metrics     map[string]float64
	Timestamp   time.Time
}

// Sample bundles one reading of all five axes for a single risk-cycle
// pass, the shape a RiskSampler hands the Risk → Emergency bridge.
type Sample struct {
	Market       MarketInputs
	System       SystemInputs
	Operational  OperationalInputs
	Liquidity    LiquidityInputs
	Counterparty CounterpartyInputs
}
