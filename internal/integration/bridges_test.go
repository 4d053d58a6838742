package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/doomsday"
	"github.com/Rajchodisetti/safety-kernel/internal/emergency"
	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/risk"
)

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, emergency.Alert) error { return nil }

func testThresholds() risk.Thresholds {
	return risk.Thresholds{
		Market:       risk.MarketThresholds{Volatility: 0.02, DailyLossRatio: 0.10},
		System:       risk.SystemThresholds{MinHealth: 0.5},
		Operational:  risk.OperationalThresholds{DataQuality: 0.80, Overfitting: 0.70},
		Liquidity:    risk.LiquidityThresholds{Spread: 0.01, MarketDepth: 0.50},
		Counterparty: risk.CounterpartyThresholds{BrokerRating: 0.70, CreditExposure: 0.30},
	}
}

func testBridges(t *testing.T) (*Bridges, context.CancelFunc) {
	t.Helper()
	bus := eventbus.NewBus()
	responder := emergency.NewResponder(noopNotifier{}, bus, 60)
	matrix := risk.NewControlMatrix()
	assessor := risk.NewAssessor(testThresholds(), time.Hour, 100)
	kv := kvstore.NewMemoryClient()
	interlock := doomsday.NewInterlock(filepath.Join(t.TempDir(), "doomsday.lock"), kv, bus, doomsday.Thresholds{
		MemoryRatio: 0.95, DiskRatio: 0.95, DailyLoss: -0.1, Liquidation: -0.15, ConsecutiveFailures: 3,
	})
	b := &Bridges{Bus: bus, Responder: responder, Matrix: matrix, Doomsday: interlock, Assessor: assessor}
	b.Wire()

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	responder.Start(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Wait()
		responder.Wait()
	})
	return b, cancel
}

func TestOnRiskLevelChangedSetsMatrixLevel(t *testing.T) {
	b, _ := testBridges(t)
	b.Bus.Publish(eventbus.NewEvent(eventbus.EventRiskLevelChanged, "risk", eventbus.PriorityHigh, risk.SeverityHigh))

	require.Eventually(t, func() bool {
		return b.Matrix.ScaleFactor() == 0.50
	}, time.Second, 5*time.Millisecond)
}

func TestOnRiskLevelChangedCriticalTriggersDoomsday(t *testing.T) {
	b, _ := testBridges(t)
	b.Bus.Publish(eventbus.NewEvent(eventbus.EventRiskLevelChanged, "risk", eventbus.PriorityCritical, risk.SeverityCritical))

	require.Eventually(t, func() bool {
		state, err := b.Doomsday.Load(context.Background())
		return err == nil && state.Triggered
	}, time.Second, 5*time.Millisecond)
}

func TestOnRiskLevelChangedDoesNotRetriggerAlreadyTripped(t *testing.T) {
	b, _ := testBridges(t)
	require.NoError(t, b.Doomsday.Trigger(context.Background(), "manual"))

	b.Bus.Publish(eventbus.NewEvent(eventbus.EventRiskLevelChanged, "risk", eventbus.PriorityCritical, risk.SeverityCritical))

	time.Sleep(100 * time.Millisecond)
	state, err := b.Doomsday.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "manual", state.Reason)
}

func calmSample() risk.Sample {
	return risk.Sample{
		Market:       risk.MarketInputs{Volatility: 0.01, DailyPnLRatio: 0, Trend: risk.TrendNormal},
		System:       risk.SystemInputs{RedisHealth: 0.9, GPUHealth: 0.9, NetworkHealth: 0.9},
		Operational:  risk.OperationalInputs{Sharpe: 1.5, DataQuality: 0.9, Overfitting: 0.1},
		Liquidity:    risk.LiquidityInputs{BidAskSpread: 0.001, VolumeRatio: 0.9, MarketDepth: 0.9},
		Counterparty: risk.CounterpartyInputs{BrokerRating: 0.9, SettlementDelay: 0, CreditExposure: 0.1},
	}
}

func TestRunRiskCycleSkipsDoomsdayCheckWithoutHealthMonitor(t *testing.T) {
	b, _ := testBridges(t)
	require.NoError(t, b.RunRiskCycle(context.Background(), calmSample()))

	state, err := b.Doomsday.Load(context.Background())
	require.NoError(t, err)
	require.False(t, state.Triggered)
}

func TestRunRiskCycleSetsMatrixFromOverallLevel(t *testing.T) {
	b, _ := testBridges(t)
	sample := calmSample()
	sample.Market.Volatility = 0.04 // 2x the 0.02 threshold => critical

	require.NoError(t, b.RunRiskCycle(context.Background(), sample))
	require.Equal(t, risk.SeverityCritical, b.Assessor.OverallRiskLevel())
	require.Equal(t, 0.0, b.Matrix.ScaleFactor())
}

func TestRunRiskCycleLeavesAlreadyTriggeredDoomsdayUntouched(t *testing.T) {
	b, _ := testBridges(t)
	require.NoError(t, b.Doomsday.Trigger(context.Background(), "manual"))

	sample := calmSample()
	sample.Market.Volatility = 0.04
	require.NoError(t, b.RunRiskCycle(context.Background(), sample))

	// With no Health Monitor wired, the Doomsday branch never runs at all,
	// so monitoring proceeds regardless; this asserts the already-tripped
	// Doomsday state itself is left untouched either way.
	state, err := b.Doomsday.Load(context.Background())
	require.NoError(t, err)
	require.True(t, state.Triggered)
	require.Equal(t, "manual", state.Reason)
}
