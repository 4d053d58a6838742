package kernel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/config"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/risk"
)

func testConfig(t *testing.T) config.Root {
	t.Helper()
	return config.Root{
		Budgets: config.Budgets{
			DailyUSD: 50, MonthlyUSD: 1000, PerCallCapUSD: 1,
			DefaultPriceUSD: 0.1, AutoResetPct: 0.9,
		},
		Risk: config.RiskThresholds{
			Market:        config.RiskMarketThresholds{Volatility: 0.02, DailyLossRatio: 0.10},
			System:        config.RiskSystemThresholds{MinHealth: 0.5},
			Operational:   config.RiskOperationalThresholds{DataQuality: 0.80, Overfitting: 0.70},
			Liquidity:     config.RiskLiquidityThresholds{Spread: 0.01, MarketDepth: 0.50},
			Counterparty:  config.RiskCounterpartyThresholds{BrokerRating: 0.70, CreditExposure: 0.30},
			HistoryWindow: time.Hour, MaxHistory: 100,
		},
		Health: config.HealthProbes{
			HealthIntervalSeconds: 1, FundIntervalSeconds: 1,
			KVTimeoutSeconds: 1, GPUTimeoutSeconds: 1,
			GPUCommand: "nonexistent-nvidia-smi-binary", ShutdownJoinSeconds: 2,
		},
		Doomsday: config.Doomsday{
			LockfilePath:         filepath.Join(t.TempDir(), "doomsday.lock"),
			MemoryRatioThreshold: 0.95, DiskRatioThreshold: 0.95,
			DailyLossThreshold: -0.10, LiquidationThreshold: -0.15,
			FailureCountThreshold: 3,
		},
		Slack:   config.Slack{Enabled: false, RateLimitPerMin: 60},
		Metrics: config.Metrics{Port: 9090, CollectionIntervalSecs: 1},
	}
}

func TestBuildWiresEverySubsystem(t *testing.T) {
	k, err := Build(testConfig(t), kvstore.NewMemoryClient(), nil)
	require.NoError(t, err)
	require.NotNil(t, k.Bus)
	require.NotNil(t, k.Health)
	require.NotNil(t, k.Ledger)
	require.NotNil(t, k.Breaker)
	require.NotNil(t, k.Assessor)
	require.NotNil(t, k.Matrix)
	require.NotNil(t, k.Responder)
	require.NotNil(t, k.Doomsday)
}

func TestStartRunsSamplingLoopAndStopShutsDownCleanly(t *testing.T) {
	k, err := Build(testConfig(t), kvstore.NewMemoryClient(), nil)
	require.NoError(t, err)

	sampled := make(chan struct{}, 1)
	sampler := func(context.Context) (risk.Sample, error) {
		select {
		case sampled <- struct{}{}:
		default:
		}
		return risk.Sample{}, nil
	}

	require.NoError(t, k.Start(context.Background(), sampler))

	select {
	case <-sampled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected sampling loop to invoke sampler")
	}

	require.NoError(t, k.Stop())
}

func TestStopIsSafeWithoutSampler(t *testing.T) {
	k, err := Build(testConfig(t), kvstore.NewMemoryClient(), nil)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background(), nil))
	require.NoError(t, k.Stop())
}
