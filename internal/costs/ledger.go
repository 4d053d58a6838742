// Package costs implements the Cost Governor: a spend ledger, a monthly
// predictor, and a circuit breaker that vetoes outbound model calls once
// spend crosses configured budgets.
package costs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

const maxAlertHistory = 100

const alertsKey = "cost:alerts"
const totalKey = "cost:total"

func dailyKey(t time.Time) string   { return "cost:daily:" + t.UTC().Format("20060102") }
func monthlyKey(t time.Time) string { return "cost:monthly:" + t.UTC().Format("200601") }

func serviceTotalKey(service string) string { return "cost:service:" + service }
func serviceDailyKey(service string, t time.Time) string {
	return fmt.Sprintf("cost:service:%s:%s", service, t.UTC().Format("20060102"))
}
func modelTotalKey(model string) string { return "cost:model:" + model }
func modelDailyKey(model string, t time.Time) string {
	return fmt.Sprintf("cost:model:%s:%s", model, t.UTC().Format("20060102"))
}

// AlertRecord is a bounded cost:alerts entry, appended on every Track call
// that leaves the daily (or monthly) bucket over its configured budget.
type AlertRecord struct {
	LimitType    string    `json:"limit_type"`
	CurrentCost  float64   `json:"current_cost"`
	Budget       float64   `json:"budget"`
	Utilization  float64   `json:"utilization"`
	ExcessAmount float64   `json:"excess_amount"`
	Timestamp    time.Time `json:"timestamp"`
}

// Ledger tracks spend in the persistent KV backend, keyed by calendar day,
// calendar month, service, and model, plus a running grand total — the
// aggregation axes §4.2/§6 require as independently queryable external
// state. It keeps a dedicated monthly counter (rather than summing daily
// buckets at read time) so MonthlyTotal is a single O(1) read regardless of
// how many days the month has accumulated.
type Ledger struct {
	kv            kvstore.Client
	prices        *PriceTable
	bus           *eventbus.Bus
	dailyBudget   float64
	monthlyBudget float64
}

// NewLedger constructs a Ledger backed by kv and priced by prices. bus may
// be nil (alerts are then skipped); dailyBudget/monthlyBudget gate the
// per-call budget-exceeded alert Track emits after each increment.
func NewLedger(kv kvstore.Client, prices *PriceTable, bus *eventbus.Bus, dailyBudget, monthlyBudget float64) *Ledger {
	return &Ledger{kv: kv, prices: prices, bus: bus, dailyBudget: dailyBudget, monthlyBudget: monthlyBudget}
}

// Track records one model call's cost against every aggregation axis —
// daily, monthly, per-service, per-model, and the grand total — in a single
// logical operation, then consults budget state and emits a bounded alert
// if the daily or monthly bucket now exceeds its cap. It returns the cost
// charged.
func (l *Ledger) Track(ctx context.Context, service, model string, inputTokens, outputTokens int) (float64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, kernelerr.NewBadInput("tokens", fmt.Errorf("negative token count: input=%d output=%d", inputTokens, outputTokens))
	}

	cost := l.prices.Cost(model, inputTokens+outputTokens)
	now := time.Now()

	incr := []struct{ key string }{
		{dailyKey(now)},
		{monthlyKey(now)},
		{serviceDailyKey(service, now)},
		{serviceTotalKey(service)},
		{modelDailyKey(model, now)},
		{modelTotalKey(model)},
		{totalKey},
	}
	for _, k := range incr {
		if _, err := l.kv.IncrByFloat(ctx, k.key, cost); err != nil {
			return 0, fmt.Errorf("costs: track %s: %w", k.key, err)
		}
	}

	observ.IncCounterBy("kernel_cost_tracked_usd_total", map[string]string{"service": service, "model": model}, cost)
	observ.Log("cost_tracked", map[string]any{"service": service, "model": model, "input_tokens": inputTokens, "output_tokens": outputTokens, "cost_usd": cost})

	l.checkBudgets(ctx, now)
	return cost, nil
}

// warningUtilization is the fraction of budget at which Track emits a
// non-persisted CostBudgetWarning event ahead of the harder budget-exceeded
// alert, giving operators advance notice before a bucket tips over.
const warningUtilization = 0.8

// checkBudgets compares the just-updated daily and monthly totals against
// the configured budgets and appends a bounded alert record (never blocking
// the caller) for whichever bucket is over, publishing an early warning
// event once a bucket crosses warningUtilization but hasn't yet gone over.
func (l *Ledger) checkBudgets(ctx context.Context, now time.Time) {
	if daily, err := l.DailyTotal(ctx, now); err == nil && l.dailyBudget > 0 {
		switch {
		case daily > l.dailyBudget:
			l.recordAlert(ctx, AlertRecord{
				LimitType: "daily", CurrentCost: daily, Budget: l.dailyBudget,
				Utilization: daily / l.dailyBudget, ExcessAmount: daily - l.dailyBudget, Timestamp: now.UTC(),
			})
		case daily >= l.dailyBudget*warningUtilization:
			l.publishWarning(ctx, AlertRecord{
				LimitType: "daily", CurrentCost: daily, Budget: l.dailyBudget,
				Utilization: daily / l.dailyBudget, Timestamp: now.UTC(),
			})
		}
	}
	if monthly, err := l.MonthlyTotal(ctx, now); err == nil && l.monthlyBudget > 0 {
		switch {
		case monthly > l.monthlyBudget:
			l.recordAlert(ctx, AlertRecord{
				LimitType: "monthly", CurrentCost: monthly, Budget: l.monthlyBudget,
				Utilization: monthly / l.monthlyBudget, ExcessAmount: monthly - l.monthlyBudget, Timestamp: now.UTC(),
			})
		case monthly >= l.monthlyBudget*warningUtilization:
			l.publishWarning(ctx, AlertRecord{
				LimitType: "monthly", CurrentCost: monthly, Budget: l.monthlyBudget,
				Utilization: monthly / l.monthlyBudget, Timestamp: now.UTC(),
			})
		}
	}
}

// publishWarning emits a CostBudgetWarning event without persisting to
// cost:alerts — only a budget actually exceeded earns a durable record.
func (l *Ledger) publishWarning(ctx context.Context, rec AlertRecord) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.NewEvent(eventbus.EventCostBudgetWarning, "costs", eventbus.PriorityNormal, rec))
	observ.Log("cost_budget_warning", map[string]any{"limit_type": rec.LimitType, "current": rec.CurrentCost, "budget": rec.Budget})
}

// recordAlert appends rec to the cost:alerts list (trimmed to the last
// maxAlertHistory entries) and, if a bus is wired, publishes a
// CostLimitExceeded event so the Cost → Alerts bridge can dispatch it
// immediately rather than waiting for the next periodic sweep.
func (l *Ledger) recordAlert(ctx context.Context, rec AlertRecord) {
	alerts, _ := l.Alerts(ctx)
	alerts = append(alerts, rec)
	if len(alerts) > maxAlertHistory {
		alerts = alerts[len(alerts)-maxAlertHistory:]
	}
	if b, err := json.Marshal(alerts); err == nil {
		if err := l.kv.Set(ctx, alertsKey, string(b), 0); err != nil {
			observ.LogError("cost_alert_persist_failed", err, nil)
		}
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.NewEvent(eventbus.EventCostBudgetOver, "costs", eventbus.PriorityHigh, rec))
	}
	observ.Log("cost_budget_alert", map[string]any{"limit_type": rec.LimitType, "current": rec.CurrentCost, "budget": rec.Budget})
}

// Alerts returns the bounded cost:alerts history, oldest first.
func (l *Ledger) Alerts(ctx context.Context) ([]AlertRecord, error) {
	v, err := l.kv.Get(ctx, alertsKey)
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("costs: read alerts: %w", err)
	}
	var alerts []AlertRecord
	if err := json.Unmarshal([]byte(v), &alerts); err != nil {
		return nil, fmt.Errorf("costs: decode alerts: %w", err)
	}
	return alerts, nil
}

// DailyTotal returns the total spend recorded for the UTC calendar day
// containing t.
func (l *Ledger) DailyTotal(ctx context.Context, t time.Time) (float64, error) {
	return l.readFloat(ctx, dailyKey(t))
}

// MonthlyTotal returns the total spend recorded for the UTC calendar month
// containing t.
func (l *Ledger) MonthlyTotal(ctx context.Context, t time.Time) (float64, error) {
	return l.readFloat(ctx, monthlyKey(t))
}

// ModelCost returns the grand total spend attributed to model across every
// day tracked.
func (l *Ledger) ModelCost(ctx context.Context, model string) (float64, error) {
	return l.readFloat(ctx, modelTotalKey(model))
}

// CostByService returns service's spend. With date nil it is the running
// grand total for that service; with date set it is that single day's
// total, satisfying "Σ per-service for a given day = daily bucket".
func (l *Ledger) CostByService(ctx context.Context, service string, date *time.Time) (float64, error) {
	if date == nil {
		return l.readFloat(ctx, serviceTotalKey(service))
	}
	return l.readFloat(ctx, serviceDailyKey(service, *date))
}

// TotalCost returns the grand total spend across every service, model, and
// day tracked.
func (l *Ledger) TotalCost(ctx context.Context) (float64, error) {
	return l.readFloat(ctx, totalKey)
}

// History returns the daily total for each of the last windowDays days,
// oldest first.
func (l *Ledger) History(ctx context.Context, windowDays int) ([]float64, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	now := time.Now().UTC()
	out := make([]float64, windowDays)
	for i := 0; i < windowDays; i++ {
		day := now.AddDate(0, 0, -(windowDays - 1 - i))
		v, err := l.DailyTotal(ctx, day)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *Ledger) readFloat(ctx context.Context, key string) (float64, error) {
	v, err := l.kv.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("costs: read %s: %w", key, err)
	}
	return kvstore.ParseFloat(v)
}

// Breakdown returns per-model spend for the UTC calendar day containing t,
// supplementing the distilled ledger semantics with the reporting view the
// original cost-reporting tool produced — a pure read-side aggregation,
// not a rendering engine.
func (l *Ledger) Breakdown(ctx context.Context, models []string, t time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(models))
	for _, m := range models {
		v, err := l.readFloat(ctx, modelDailyKey(m, t))
		if err != nil {
			return nil, err
		}
		out[m] = v
	}
	return out, nil
}

// ResetDaily clears the daily bucket for date, per §4.2's "costs never
// decrease except through explicit reset_daily/clear_all" invariant.
func (l *Ledger) ResetDaily(ctx context.Context, date time.Time) error {
	return l.kv.Delete(ctx, dailyKey(date))
}

// ClearAll deletes every cost:* key known to this ledger (every prefix
// under "cost:"), used for test teardown and operator-invoked full resets.
func (l *Ledger) ClearAll(ctx context.Context) error {
	keys, err := l.kv.Keys(ctx, "cost:")
	if err != nil {
		return fmt.Errorf("costs: list keys: %w", err)
	}
	for _, k := range keys {
		if err := l.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("costs: delete %s: %w", k, err)
		}
	}
	return nil
}

// FormatReport renders a breakdown as a short, human-readable summary
// suitable for a Slack alert body.
func FormatReport(daily, monthly float64, breakdown map[string]float64) string {
	report := fmt.Sprintf("daily spend: $%.2f, monthly spend: $%.2f", daily, monthly)
	for model, cost := range breakdown {
		report += fmt.Sprintf("\n  %s: $%.2f", model, cost)
	}
	return report
}
