package costs

import (
	"context"
	"math"
	"time"

	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

// predictorWindow is the number of trailing daily buckets PredictMonthly
// averages over.
const predictorWindow = 7

// CostTrendDirection classifies a recent cost_trend window relative to
// its own mean.
type CostTrendDirection string

const (
	CostTrendIncreasing CostTrendDirection = "increasing"
	CostTrendDecreasing CostTrendDirection = "decreasing"
	CostTrendStable     CostTrendDirection = "stable"
)

// trendSlopeThresholdPct is the fraction of the window's mean a
// least-squares slope must exceed (in magnitude) before CostTrend calls
// the window increasing or decreasing rather than stable.
const trendSlopeThresholdPct = 0.05

// Prediction is PredictMonthly's structured result.
type Prediction struct {
	AvgDaily         float64
	PredictedMonthly float64
	Budget           float64
	Utilization      float64
	SampleSize       int
	Confidence       float64
	IsOverBudget     bool
}

// Trend is CostTrend's structured result.
type Trend struct {
	DailyCosts []float64
	Direction  CostTrendDirection
	Avg        float64
	Min        float64
	Max        float64
}

// Predictor projects month-end spend from a trailing daily window,
// adapted from the teacher's AdaptiveCadenceManager projection (a recent
// rate extrapolated forward) generalized from a cadence interval to a
// calendar month.
type Predictor struct {
	ledger *Ledger
}

// NewPredictor builds a Predictor reading from ledger.
func NewPredictor(ledger *Ledger) *Predictor {
	return &Predictor{ledger: ledger}
}

// PredictMonthly averages the last predictorWindow daily buckets (skipping
// days with no recorded spend) and projects that average across a 30-day
// month. Confidence reflects how stable that average has been: a high
// coefficient of variation across the sampled days yields low confidence,
// per a fixed floor when too few days are available to judge stability.
func (p *Predictor) PredictMonthly(ctx context.Context, budget float64) (Prediction, error) {
	history, err := p.ledger.History(ctx, predictorWindow)
	if err != nil {
		return Prediction{}, err
	}

	var samples []float64
	for _, v := range history {
		if v > 0 {
			samples = append(samples, v)
		}
	}

	var avgDaily, confidence float64
	if len(samples) == 0 {
		confidence = 0.5
	} else {
		mean := meanOf(samples)
		avgDaily = mean
		if len(samples) < 2 || mean == 0 {
			confidence = 0.5
		} else {
			cv := stddevOf(samples, mean) / mean
			confidence = clamp01(0.95 * math.Exp(-0.9*cv))
		}
	}

	predicted := avgDaily * 30
	var utilization float64
	if budget > 0 {
		utilization = predicted / budget
	}

	result := Prediction{
		AvgDaily:         avgDaily,
		PredictedMonthly: predicted,
		Budget:           budget,
		Utilization:      utilization,
		SampleSize:       len(samples),
		Confidence:       confidence,
		IsOverBudget:     budget > 0 && predicted > budget,
	}
	observ.SetGauge("kernel_cost_projected_monthly_usd", predicted, nil)
	if result.IsOverBudget {
		observ.Log("cost_predictor_over_budget", map[string]any{
			"projected_usd": predicted, "budget_usd": budget, "confidence": confidence,
		})
	}
	return result, nil
}

// AlertIfOverBudget is a thin convenience wrapper over PredictMonthly for
// callers that only need the over/projected pair.
func (p *Predictor) AlertIfOverBudget(ctx context.Context, monthlyBudget float64) (bool, float64, error) {
	prediction, err := p.PredictMonthly(ctx, monthlyBudget)
	if err != nil {
		return false, 0, err
	}
	return prediction.IsOverBudget, prediction.PredictedMonthly, nil
}

// CostTrend reports the daily total for each of the last windowDays days,
// oldest first, and classifies the trend by the sign of the least-squares
// slope of that window against a threshold of trendSlopeThresholdPct of
// the window's mean.
func (p *Predictor) CostTrend(ctx context.Context, windowDays int) (Trend, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	now := time.Now().UTC()
	daily := make([]float64, windowDays)
	for i := 0; i < windowDays; i++ {
		day := now.AddDate(0, 0, -(windowDays - 1 - i))
		v, err := p.ledger.DailyTotal(ctx, day)
		if err != nil {
			return Trend{}, err
		}
		daily[i] = v
	}

	mean := meanOf(daily)
	slope := leastSquaresSlope(daily)
	direction := CostTrendStable
	threshold := math.Abs(mean) * trendSlopeThresholdPct
	switch {
	case slope > threshold:
		direction = CostTrendIncreasing
	case slope < -threshold:
		direction = CostTrendDecreasing
	}

	min, max := daily[0], daily[0]
	for _, v := range daily {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return Trend{DailyCosts: daily, Direction: direction, Avg: mean, Min: min, Max: max}, nil
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// leastSquaresSlope fits y = a + b*x over x = 0..len(ys)-1 and returns b.
func leastSquaresSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
