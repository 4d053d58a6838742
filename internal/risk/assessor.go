package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// overallWindow is the fixed lookback §3's Overall Risk Level formula uses
// — "max(level of all risk events in the past hour)" — independent of how
// long the Assessor otherwise retains history for reporting.
const overallWindow = time.Hour

// Assessor scores incoming per-axis samples against Thresholds via five
// independently callable monitor functions and keeps a bounded,
// time-pruned history of the resulting RiskEvents — adapted from the
// teacher's circuit breaker event log (internal/risk/events.go), here held
// in memory rather than persisted, since risk history only needs to
// answer "how has risk trended recently", not survive a restart.
type Assessor struct {
	mu         sync.RWMutex
	thresholds Thresholds
	history    []RiskEvent
	retention  time.Duration
	maxHistory int
}

// NewAssessor builds an Assessor. retention additionally bounds how long
// events are kept for History/ClearOldEvents purposes (0 disables
// time-based pruning); maxHistory bounds the count, whichever is tighter.
func NewAssessor(thresholds Thresholds, retention time.Duration, maxHistory int) *Assessor {
	if maxHistory <= 0 {
		maxHistory = 500
	}
	return &Assessor{thresholds: thresholds, retention: retention, maxHistory: maxHistory}
}

// MonitorMarket scores the market axis. Returns (nil, nil) when nothing
// tripped.
func (a *Assessor) MonitorMarket(_ context.Context, in MarketInputs) (*RiskEvent, error) {
	if err := validate.Struct(in); err != nil {
		return nil, kernelerr.NewBadInput("market_input", err)
	}

	level := SeverityLow
	var description string
	tripped := false

	if a.thresholds.Market.Volatility > 0 && in.Volatility > a.thresholds.Market.Volatility {
		tripped = true
		level = maxSeverity(level, severityFromRatio(in.Volatility/a.thresholds.Market.Volatility))
		description = fmt.Sprintf("volatility %.4f exceeds threshold %.4f", in.Volatility, a.thresholds.Market.Volatility)
	}
	if a.thresholds.Market.DailyLossRatio > 0 && in.DailyPnLRatio < -a.thresholds.Market.DailyLossRatio {
		tripped = true
		level = maxSeverity(level, SeverityCritical)
		description = fmt.Sprintf("daily pnl ratio %.4f breached loss threshold -%.4f", in.DailyPnLRatio, a.thresholds.Market.DailyLossRatio)
	}
	if in.Trend == TrendCrash {
		tripped = true
		level = maxSeverity(level, SeverityCritical)
		description = "market trend classified as crash"
	}
	if !tripped {
		return nil, nil
	}

	metrics := map[string]float64{"volatility": in.Volatility, "daily_pnl_ratio": in.DailyPnLRatio}
	return a.recordEvent(RiskTypeMarket, level, description, metrics), nil
}

// MonitorSystem scores the system axis from three component health scores
// in [0,1]. The trip condition is on the weakest component; severity is
// scaled on how far the resulting health deficit (1 - min health) exceeds
// the deficit at the configured threshold.
func (a *Assessor) MonitorSystem(_ context.Context, in SystemInputs) (*RiskEvent, error) {
	if err := validate.Struct(in); err != nil {
		return nil, kernelerr.NewBadInput("system_input", err)
	}

	minHealth := in.RedisHealth
	if in.GPUHealth < minHealth {
		minHealth = in.GPUHealth
	}
	if in.NetworkHealth < minHealth {
		minHealth = in.NetworkHealth
	}

	threshold := a.thresholds.System.MinHealth
	if threshold <= 0 || minHealth >= threshold {
		return nil, nil
	}

	deficit := 1 - minHealth
	thresholdDeficit := 1 - threshold
	ratio := 1.0
	if thresholdDeficit > 0 {
		ratio = deficit / thresholdDeficit
	}
	level := severityFromRatio(ratio)
	description := fmt.Sprintf("minimum component health %.4f below threshold %.4f", minHealth, threshold)
	metrics := map[string]float64{
		"redis_health": in.RedisHealth, "gpu_health": in.GPUHealth, "network_health": in.NetworkHealth, "min_health": minHealth,
	}
	return a.recordEvent(RiskTypeSystem, level, description, metrics), nil
}

// MonitorOperational scores the operational (model-quality) axis. The
// Sharpe cliff is evaluated independently of the two scaled conditions and
// combined via max-severity.
func (a *Assessor) MonitorOperational(_ context.Context, in OperationalInputs) (*RiskEvent, error) {
	if err := validate.Struct(in); err != nil {
		return nil, kernelerr.NewBadInput("operational_input", err)
	}

	level := SeverityLow
	var description string
	tripped := false

	if in.Sharpe < sharpeMediumThreshold {
		tripped = true
		if in.Sharpe <= sharpeHighThreshold {
			level = maxSeverity(level, SeverityHigh)
		} else {
			level = maxSeverity(level, SeverityMedium)
		}
		description = fmt.Sprintf("sharpe %.4f below %.1f", in.Sharpe, sharpeMediumThreshold)
	}
	if a.thresholds.Operational.DataQuality > 0 && in.DataQuality < a.thresholds.Operational.DataQuality {
		tripped = true
		deficit := a.thresholds.Operational.DataQuality - in.DataQuality
		ratio := deficit / a.thresholds.Operational.DataQuality
		level = maxSeverity(level, severityFromRatio(ratio))
		description = fmt.Sprintf("data quality %.4f below threshold %.4f", in.DataQuality, a.thresholds.Operational.DataQuality)
	}
	if a.thresholds.Operational.Overfitting > 0 && in.Overfitting > a.thresholds.Operational.Overfitting {
		tripped = true
		ratio := in.Overfitting / a.thresholds.Operational.Overfitting
		level = maxSeverity(level, severityFromRatio(ratio))
		description = fmt.Sprintf("overfitting score %.4f exceeds threshold %.4f", in.Overfitting, a.thresholds.Operational.Overfitting)
	}
	if !tripped {
		return nil, nil
	}

	metrics := map[string]float64{"sharpe": in.Sharpe, "data_quality": in.DataQuality, "overfitting": in.Overfitting}
	return a.recordEvent(RiskTypeOperational, level, description, metrics), nil
}

// MonitorLiquidity scores the liquidity axis. The volume_ratio cliff is
// evaluated independently of the two scaled conditions and combined via
// max-severity.
func (a *Assessor) MonitorLiquidity(_ context.Context, in LiquidityInputs) (*RiskEvent, error) {
	if err := validate.Struct(in); err != nil {
		return nil, kernelerr.NewBadInput("liquidity_input", err)
	}

	level := SeverityLow
	var description string
	tripped := false

	if a.thresholds.Liquidity.Spread > 0 && in.BidAskSpread > a.thresholds.Liquidity.Spread {
		tripped = true
		ratio := in.BidAskSpread / a.thresholds.Liquidity.Spread
		level = maxSeverity(level, severityFromRatio(ratio))
		description = fmt.Sprintf("bid-ask spread %.4f exceeds threshold %.4f", in.BidAskSpread, a.thresholds.Liquidity.Spread)
	}
	if in.VolumeRatio < volumeRatioMediumThreshold {
		tripped = true
		if in.VolumeRatio < volumeRatioHighThreshold {
			level = maxSeverity(level, SeverityHigh)
		} else {
			level = maxSeverity(level, SeverityMedium)
		}
		description = fmt.Sprintf("volume ratio %.4f below %.2f", in.VolumeRatio, volumeRatioMediumThreshold)
	}
	if a.thresholds.Liquidity.MarketDepth > 0 && in.MarketDepth < a.thresholds.Liquidity.MarketDepth {
		tripped = true
		deficit := a.thresholds.Liquidity.MarketDepth - in.MarketDepth
		ratio := deficit / a.thresholds.Liquidity.MarketDepth
		level = maxSeverity(level, severityFromRatio(ratio))
		description = fmt.Sprintf("market depth %.4f below threshold %.4f", in.MarketDepth, a.thresholds.Liquidity.MarketDepth)
	}
	if !tripped {
		return nil, nil
	}

	metrics := map[string]float64{"bid_ask_spread": in.BidAskSpread, "volume_ratio": in.VolumeRatio, "market_depth": in.MarketDepth}
	return a.recordEvent(RiskTypeLiquidity, level, description, metrics), nil
}

// MonitorCounterparty scores the counterparty axis. The settlement-delay
// cliff is evaluated independently of the two scaled conditions and
// combined via max-severity.
func (a *Assessor) MonitorCounterparty(_ context.Context, in CounterpartyInputs) (*RiskEvent, error) {
	if err := validate.Struct(in); err != nil {
		return nil, kernelerr.NewBadInput("counterparty_input", err)
	}

	level := SeverityLow
	var description string
	tripped := false

	if a.thresholds.Counterparty.BrokerRating > 0 && in.BrokerRating < a.thresholds.Counterparty.BrokerRating {
		tripped = true
		deficit := a.thresholds.Counterparty.BrokerRating - in.BrokerRating
		ratio := deficit / a.thresholds.Counterparty.BrokerRating
		level = maxSeverity(level, severityFromRatio(ratio))
		description = fmt.Sprintf("broker rating %.4f below threshold %.4f", in.BrokerRating, a.thresholds.Counterparty.BrokerRating)
	}
	if in.SettlementDelay > settlementDelayMediumDays {
		tripped = true
		if in.SettlementDelay > settlementDelayHighDays {
			level = maxSeverity(level, SeverityHigh)
		} else {
			level = maxSeverity(level, SeverityMedium)
		}
		description = fmt.Sprintf("settlement delay %d days exceeds %d", in.SettlementDelay, settlementDelayMediumDays)
	}
	if a.thresholds.Counterparty.CreditExposure > 0 && in.CreditExposure > a.thresholds.Counterparty.CreditExposure {
		tripped = true
		ratio := in.CreditExposure / a.thresholds.Counterparty.CreditExposure
		level = maxSeverity(level, severityFromRatio(ratio))
		description = fmt.Sprintf("credit exposure %.4f exceeds threshold %.4f", in.CreditExposure, a.thresholds.Counterparty.CreditExposure)
	}
	if !tripped {
		return nil, nil
	}

	metrics := map[string]float64{
		"broker_rating": in.BrokerRating, "settlement_delay_days": float64(in.SettlementDelay), "credit_exposure": in.CreditExposure,
	}
	return a.recordEvent(RiskTypeCounterparty, level, description, metrics), nil
}

// recordEvent appends a RiskEvent to history (pruned to retention/
// maxHistory) and returns a pointer to it.
func (a *Assessor) recordEvent(riskType RiskType, level Severity, description string, metrics map[string]float64) *RiskEvent {
	ev := RiskEvent{RiskType: riskType, Level: level, Description: description, Metrics: metrics, Timestamp: time.Now()}

	a.mu.Lock()
	a.history = append(a.history, ev)
	a.prune(ev.Timestamp)
	a.mu.Unlock()

	observ.SetGauge("kernel_risk_event_severity", float64(level.rank()), map[string]string{"risk_type": string(riskType)})
	observ.Log("risk_event", map[string]any{"risk_type": riskType, "level": level, "description": description})

	return &ev
}

// prune discards history entries older than a.retention and trims to
// a.maxHistory. Callers must hold a.mu.
func (a *Assessor) prune(now time.Time) {
	if a.retention > 0 {
		cut := 0
		for i, ev := range a.history {
			if now.Sub(ev.Timestamp) > a.retention {
				cut = i + 1
				continue
			}
			break
		}
		if cut > 0 {
			a.history = append([]RiskEvent(nil), a.history[cut:]...)
		}
	}
	if len(a.history) > a.maxHistory {
		over := len(a.history) - a.maxHistory
		a.history = append([]RiskEvent(nil), a.history[over:]...)
	}
}

// History returns a copy of the retained risk events, oldest first.
func (a *Assessor) History() []RiskEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]RiskEvent, len(a.history))
	copy(out, a.history)
	return out
}

// OverallRiskLevel returns the maximum level among events within the last
// hour, or SeverityLow if none.
func (a *Assessor) OverallRiskLevel() Severity {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cut := time.Now().Add(-overallWindow)
	overall := SeverityLow
	for _, ev := range a.history {
		if ev.Timestamp.Before(cut) {
			continue
		}
		overall = maxSeverity(overall, ev.Level)
	}
	return overall
}

// ClearOldEvents prunes history entries strictly older than hours.
func (a *Assessor) ClearOldEvents(hours float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cut := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	kept := a.history[:0]
	for _, ev := range a.history {
		if ev.Timestamp.After(cut) {
			kept = append(kept, ev)
		}
	}
	a.history = kept
}
