package costs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
)

func newTestLedger() *Ledger {
	return NewLedger(kvstore.NewMemoryClient(), NewPriceTable(nil, 0.1), nil, 0, 0)
}

func TestTrackAccumulatesDailyAndMonthlyTotals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	cost1, err := l.Track(ctx, "strategy-engine", "claude-sonnet-4", 800_000, 200_000)
	require.NoError(t, err)
	require.Equal(t, 3.0, cost1)

	cost2, err := l.Track(ctx, "strategy-engine", "claude-sonnet-4", 400_000, 100_000)
	require.NoError(t, err)
	require.Equal(t, 1.5, cost2)

	daily, err := l.DailyTotal(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 4.5, daily)

	monthly, err := l.MonthlyTotal(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 4.5, monthly)
}

func TestTrackRejectsNegativeTokenCounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	_, err := l.Track(ctx, "strategy-engine", "claude-sonnet-4", -1, 100)
	require.Error(t, err)
	_, err = l.Track(ctx, "strategy-engine", "claude-sonnet-4", 100, -1)
	require.Error(t, err)
}

func TestBreakdownPerModel(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	_, err := l.Track(ctx, "strategy-engine", "claude-opus-4", 800_000, 200_000)
	require.NoError(t, err)
	_, err = l.Track(ctx, "strategy-engine", "local", 800_000, 200_000)
	require.NoError(t, err)

	b, err := l.Breakdown(ctx, []string{"claude-opus-4", "local"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 15.0, b["claude-opus-4"])
	require.Equal(t, 0.0, b["local"])
}

func TestPredictMonthlyAveragesLast7DaysTimes30(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, -i)
		_, err := l.kv.IncrByFloat(ctx, dailyKey(day), 10)
		require.NoError(t, err)
	}

	p := NewPredictor(l)
	prediction, err := p.PredictMonthly(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, 10.0, prediction.AvgDaily)
	require.Equal(t, 300.0, prediction.PredictedMonthly)
	require.Equal(t, 7, prediction.SampleSize)
	require.InDelta(t, 0.95, prediction.Confidence, 0.01) // zero variance across the 7 days
	require.False(t, prediction.IsOverBudget)
}

func TestPredictMonthlyLowConfidenceWithFewerThanTwoSamples(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	_, err := l.kv.IncrByFloat(ctx, dailyKey(time.Now()), 50)
	require.NoError(t, err)

	p := NewPredictor(l)
	prediction, err := p.PredictMonthly(ctx, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, prediction.SampleSize)
	require.Equal(t, 0.5, prediction.Confidence)
}

func TestPredictMonthlyFlagsOverBudget(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		_, err := l.kv.IncrByFloat(ctx, dailyKey(now.AddDate(0, 0, -i)), 100)
		require.NoError(t, err)
	}

	p := NewPredictor(l)
	over, projected, err := p.AlertIfOverBudget(ctx, 50)
	require.NoError(t, err)
	require.True(t, over)
	require.Greater(t, projected, 50.0)
}

func TestCostTrendClassifiesRisingWindow(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	now := time.Now().UTC()
	costs := []float64{1, 2, 3, 4, 5, 6, 7}
	for i, c := range costs {
		day := now.AddDate(0, 0, -(len(costs) - 1 - i))
		_, err := l.kv.IncrByFloat(ctx, dailyKey(day), c)
		require.NoError(t, err)
	}

	p := NewPredictor(l)
	trend, err := p.CostTrend(ctx, len(costs))
	require.NoError(t, err)
	require.Len(t, trend.DailyCosts, len(costs))
	require.Equal(t, CostTrendIncreasing, trend.Direction)
	require.Equal(t, 1.0, trend.Min)
	require.Equal(t, 7.0, trend.Max)
}

func TestCostTrendClassifiesStableWindow(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := l.kv.IncrByFloat(ctx, dailyKey(now.AddDate(0, 0, -i)), 10)
		require.NoError(t, err)
	}

	p := NewPredictor(l)
	trend, err := p.CostTrend(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, CostTrendStable, trend.Direction)
}

func TestBreakerOpensOnDailyBudgetBreach(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	bus := eventbus.NewBus()
	br := NewBreaker(l, bus, 10, 0, 5, 0.5)

	require.NoError(t, br.Check(ctx, 2, false))
	err := br.Check(ctx, 20, false)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Equal(t, BreakerOpen, br.State())
}

func TestBreakerOpensOnPerCallCapBreach(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	bus := eventbus.NewBus()
	br := NewBreaker(l, bus, 100, 0, 1, 0.5)

	err := br.Check(ctx, 5, false)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Equal(t, BreakerOpen, br.State())
}

func TestBreakerOpensOnMonthlyBudgetBreach(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	bus := eventbus.NewBus()
	_, err := l.kv.IncrByFloat(ctx, monthlyKey(time.Now()), 95)
	require.NoError(t, err)
	br := NewBreaker(l, bus, 1000, 100, 50, 0.5)

	err = br.Check(ctx, 10, false)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Equal(t, BreakerOpen, br.State())
}

func TestBreakerNeverBlocksCriticalCalls(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	bus := eventbus.NewBus()
	br := NewBreaker(l, bus, 10, 0, 5, 0.5)

	require.NoError(t, br.Check(ctx, 20, true))
}

func TestBreakerCountsChecksAndBlockedRequests(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	bus := eventbus.NewBus()
	br := NewBreaker(l, bus, 10, 0, 5, 0.5)

	require.NoError(t, br.Check(ctx, 2, false))
	require.Error(t, br.Check(ctx, 20, false))
	require.NoError(t, br.Check(ctx, 1, true))

	total, blocked := br.Counts()
	require.Equal(t, int64(3), total)
	require.Equal(t, int64(1), blocked)
}

func TestAutoResetIfPossibleClosesOnceSpendDrops(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	bus := eventbus.NewBus()
	br := NewBreaker(l, bus, 10, 0, 20, 0.5)

	err := br.Check(ctx, 15, false)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Equal(t, BreakerOpen, br.State())

	reset, err := br.AutoResetIfPossible(ctx)
	require.NoError(t, err)
	require.True(t, reset)
	require.Equal(t, BreakerClosed, br.State())
}
