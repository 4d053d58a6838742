package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testThresholds() Thresholds {
	return Thresholds{
		Market:       MarketThresholds{Volatility: 0.02, DailyLossRatio: 0.10},
		System:       SystemThresholds{MinHealth: 0.5},
		Operational:  OperationalThresholds{DataQuality: 0.80, Overfitting: 0.70},
		Liquidity:    LiquidityThresholds{Spread: 0.01, MarketDepth: 0.50},
		Counterparty: CounterpartyThresholds{BrokerRating: 0.70, CreditExposure: 0.30},
	}
}

func TestMonitorMarketReturnsNilWhenNothingTripped(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.01, DailyPnLRatio: 0.0, Trend: TrendNormal})
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestMonitorMarketCrashTrendIsCritical(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.03, DailyPnLRatio: -0.15, Trend: TrendCrash})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityCritical, ev.Level)
	require.Equal(t, RiskTypeMarket, ev.RiskType)
}

func TestMonitorMarketDailyLossBelowThresholdIsCritical(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.01, DailyPnLRatio: -0.15, Trend: TrendNormal})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityCritical, ev.Level)
}

func TestMonitorMarketVolatilityScalesBySeverity(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.04, DailyPnLRatio: 0, Trend: TrendNormal})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityCritical, ev.Level) // 0.04 / 0.02 == 2.0
}

func TestMonitorMarketRejectsOutOfRangeInput(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	_, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 1.5, Trend: TrendNormal})
	require.Error(t, err)
}

func TestMonitorSystemScalesOnWeakestComponent(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorSystem(context.Background(), SystemInputs{RedisHealth: 1.0, GPUHealth: 0.1, NetworkHealth: 1.0})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, RiskTypeSystem, ev.RiskType)
}

func TestMonitorSystemHealthyReturnsNil(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorSystem(context.Background(), SystemInputs{RedisHealth: 0.9, GPUHealth: 0.9, NetworkHealth: 0.9})
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestMonitorOperationalSharpeHighCliff(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorOperational(context.Background(), OperationalInputs{Sharpe: 0.4, DataQuality: 0.9, Overfitting: 0.1})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityHigh, ev.Level)
}

func TestMonitorOperationalSharpeMediumCliff(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorOperational(context.Background(), OperationalInputs{Sharpe: 0.8, DataQuality: 0.9, Overfitting: 0.1})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityMedium, ev.Level)
}

func TestMonitorLiquidityVolumeRatioCliff(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorLiquidity(context.Background(), LiquidityInputs{BidAskSpread: 0.001, VolumeRatio: 0.10, MarketDepth: 0.8})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityHigh, ev.Level)
}

func TestMonitorCounterpartySettlementDelayCliff(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	ev, err := a.MonitorCounterparty(context.Background(), CounterpartyInputs{BrokerRating: 0.9, SettlementDelay: 5, CreditExposure: 0.1})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, SeverityHigh, ev.Level)
}

func TestOverallRiskLevelIsRollingMaxOverLastHour(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	_, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.04, Trend: TrendNormal})
	require.NoError(t, err)
	_, err = a.MonitorSystem(context.Background(), SystemInputs{RedisHealth: 0.9, GPUHealth: 0.9, NetworkHealth: 0.9})
	require.NoError(t, err)

	require.Equal(t, SeverityCritical, a.OverallRiskLevel())
}

func TestOverallRiskLevelIsLowWithNoEvents(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	require.Equal(t, SeverityLow, a.OverallRiskLevel())
}

func TestHistoryIsPrunedByRetention(t *testing.T) {
	a := NewAssessor(testThresholds(), 10*time.Millisecond, 100)
	_, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.04, Trend: TrendNormal})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.04, Trend: TrendNormal})
	require.NoError(t, err)
	require.Len(t, a.History(), 1)
}

func TestClearOldEventsPrunesStrictlyOlder(t *testing.T) {
	a := NewAssessor(testThresholds(), time.Hour, 100)
	_, err := a.MonitorMarket(context.Background(), MarketInputs{Volatility: 0.04, Trend: TrendNormal})
	require.NoError(t, err)
	a.ClearOldEvents(0)
	require.Len(t, a.History(), 0)
}

func TestControlMatrixScalesByLevel(t *testing.T) {
	m := NewControlMatrix()
	require.Equal(t, 1.0, m.ScaleFactor())
	require.True(t, m.CanOpenPosition())

	m.SetLevel(SeverityCritical)
	require.Equal(t, 0.0, m.ScaleFactor())
	require.False(t, m.CanOpenPosition())

	m.ResetToDefault()
	require.Equal(t, 1.0, m.ScaleFactor())
	require.True(t, m.CanOpenPosition())
}

func TestControlMatrixMediumScaleFactor(t *testing.T) {
	m := NewControlMatrix()
	m.SetLevel(SeverityMedium)
	require.Equal(t, 0.80, m.ScaleFactor())
}
