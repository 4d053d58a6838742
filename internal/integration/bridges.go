// Package integration wires the three cross-subsystem bridges: Health
// Monitor transitions and Cost Governor breaches both feed the Emergency
// Responder, and Risk Assessor levels drive the Control Matrix — adapted
// from the teacher's RiskManager orchestration shape
// (internal/risk/manager.go), generalized from "evaluate a trade
// decision" to "evaluate a probe or risk result and publish typed bus
// events".
package integration

import (
	"context"
	"fmt"

	"github.com/Rajchodisetti/safety-kernel/internal/costs"
	"github.com/Rajchodisetti/safety-kernel/internal/doomsday"
	"github.com/Rajchodisetti/safety-kernel/internal/emergency"
	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/health"
	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
	"github.com/Rajchodisetti/safety-kernel/internal/risk"
)

// Bridges holds the wiring dependencies shared by all three bridges. Health
// is optional: when nil, RunRiskCycle skips the Doomsday readings it would
// otherwise source from the Health Monitor's snapshot and failure
// counters, matching the kernel's general rule of degrading gracefully
// rather than failing a risk cycle over missing health telemetry.
type Bridges struct {
	Bus       *eventbus.Bus
	Responder *emergency.Responder
	Matrix    *risk.ControlMatrix
	Doomsday  *doomsday.Interlock
	Assessor  *risk.Assessor
	Health    *health.Monitor
}

// Wire subscribes every bridge's handlers on Bus. Call once during kernel
// construction, before Bus.Start.
func (b *Bridges) Wire() {
	b.Bus.Subscribe(eventbus.EventHealthDegraded, b.onHealthDegraded)
	b.Bus.Subscribe(eventbus.EventHealthRecovered, b.onHealthRecovered)
	b.Bus.Subscribe(eventbus.EventCostBudgetWarning, b.onCostWarning)
	b.Bus.Subscribe(eventbus.EventCostBudgetOver, b.onCostOver)
	b.Bus.Subscribe(eventbus.EventCostBreakerOpen, b.onCostBreakerOpen)
	b.Bus.Subscribe(eventbus.EventRiskLevelChanged, b.onRiskLevelChanged)
	b.Bus.Subscribe(eventbus.EventRiskAxisTripped, b.onRiskAxisTripped)
	b.Bus.Subscribe(eventbus.EventDoomsdayTriggered, b.onDoomsdayTriggered)
	b.Bus.Subscribe(eventbus.EventLiquidationTriggered, b.onDoomsdayLiquidation)
}

func (b *Bridges) onHealthDegraded(ev eventbus.Event) {
	status, _ := ev.Payload.(health.OverallStatus)
	tier := emergency.TierDanger
	if status == health.OverallFailed {
		tier = emergency.TierCritical
	}
	b.Responder.TriggerAlert(context.Background(), tier, "system health degraded",
		fmt.Sprintf("overall status: %v", status))
}

func (b *Bridges) onHealthRecovered(eventbus.Event) {
	b.Responder.TriggerAlert(context.Background(), emergency.TierWarning, "system health recovered", "")
}

func (b *Bridges) onCostWarning(ev eventbus.Event) {
	alert, _ := ev.Payload.(costs.AlertRecord)
	b.Responder.TriggerAlert(context.Background(), emergency.TierWarning, "approaching cost budget", formatAlertRecord(alert))
}

func (b *Bridges) onCostOver(ev eventbus.Event) {
	alert, _ := ev.Payload.(costs.AlertRecord)
	b.Responder.TriggerAlert(context.Background(), emergency.TierDanger, "cost budget exceeded", formatAlertRecord(alert))
}

func formatAlertRecord(a costs.AlertRecord) string {
	return fmt.Sprintf("%s: current=$%.2f budget=$%.2f utilization=%.0f%% excess=$%.2f",
		a.LimitType, a.CurrentCost, a.Budget, a.Utilization*100, a.ExcessAmount)
}

func (b *Bridges) onCostBreakerOpen(eventbus.Event) {
	b.Responder.TriggerAlert(context.Background(), emergency.TierCritical, "cost breaker open", "outbound model calls vetoed")
}

// onRiskLevelChanged implements the risk→emergency bridge's alert-level
// mapping (low→none, medium→warning, high→danger, critical→critical) and,
// per the simplified doomsday rule, triggers the interlock immediately on
// a critical reading rather than re-running CheckTriggers' own threshold
// comparisons against a risk level that has already crossed them.
func (b *Bridges) onRiskLevelChanged(ev eventbus.Event) {
	level, ok := ev.Payload.(risk.Severity)
	if !ok {
		return
	}
	b.Matrix.SetLevel(level)

	switch level {
	case risk.SeverityCritical:
		b.Responder.ExecuteProcedure(context.Background(), "stop_trading")
		if b.Doomsday != nil {
			if err := b.triggerDoomsdayIfNotAlready(context.Background(), "critical risk level reached"); err != nil {
				observ.LogError("doomsday_trigger_from_risk_failed", kernelerr.NewHandlerError(eventbus.EventRiskLevelChanged, err), nil)
			}
		}
	case risk.SeverityHigh:
		b.Responder.TriggerAlert(context.Background(), emergency.TierDanger, "risk level elevated", fmt.Sprintf("level: %v", level))
	case risk.SeverityMedium:
		b.Responder.TriggerAlert(context.Background(), emergency.TierWarning, "risk level elevated", fmt.Sprintf("level: %v", level))
	}
}

// triggerDoomsdayIfNotAlready skips triggering if the interlock has
// already tripped, matching the "if Doomsday is already triggered, skip"
// ordering rule.
func (b *Bridges) triggerDoomsdayIfNotAlready(ctx context.Context, reason string) error {
	state, err := b.Doomsday.Load(ctx)
	if err != nil {
		return err
	}
	if state.Triggered {
		return nil
	}
	return b.Doomsday.Trigger(ctx, reason)
}

func (b *Bridges) onRiskAxisTripped(ev eventbus.Event) {
	event, ok := ev.Payload.(risk.RiskEvent)
	if !ok {
		return
	}
	b.Responder.TriggerAlert(context.Background(), emergency.TierDanger, "risk axis tripped",
		fmt.Sprintf("%s (%s): %s", event.RiskType, event.Level, event.Description))
}

// onDoomsdayTriggered satisfies the interlock's own "sends an alert
// notification" step: every trigger, automatic or manual, reaches the
// Emergency Responder at critical tier.
func (b *Bridges) onDoomsdayTriggered(ev eventbus.Event) {
	state, ok := ev.Payload.(doomsday.State)
	if !ok {
		return
	}
	b.Responder.TriggerAlert(context.Background(), emergency.TierCritical, "doomsday interlock triggered", state.Reason)
}

// onDoomsdayLiquidation carries out the interlock's liquidation signal by
// invoking the Emergency Responder's liquidate procedure.
func (b *Bridges) onDoomsdayLiquidation(eventbus.Event) {
	if err := b.Responder.ExecuteProcedure(context.Background(), "liquidate"); err != nil {
		observ.LogError("doomsday_liquidation_procedure_failed", err, nil)
	}
}

// riskAlertLevel maps a risk Severity to the alert tier the bridge raises,
// per the low→none, medium→warning, high→danger, critical→critical rule.
// A false second return means "no alert" (SeverityLow).
func riskAlertLevel(level risk.Severity) (emergency.Tier, bool) {
	switch level {
	case risk.SeverityCritical:
		return emergency.TierCritical, true
	case risk.SeverityHigh:
		return emergency.TierDanger, true
	case risk.SeverityMedium:
		return emergency.TierWarning, true
	default:
		return "", false
	}
}

func riskPriority(level risk.Severity) eventbus.Priority {
	switch level {
	case risk.SeverityCritical:
		return eventbus.PriorityCritical
	case risk.SeverityHigh:
		return eventbus.PriorityHigh
	default:
		return eventbus.PriorityNormal
	}
}

// RunRiskCycle is the kernel's single per-tick entry point for the Risk →
// Emergency bridge, implementing the literal ordering: check Doomsday
// first, then run the five risk monitors, then set the Control Matrix's
// level from the resulting rolling-max overall level. If Doomsday is
// already triggered, or this check fires it, the cycle ends there: the
// monitors do not run and the Control Matrix level is not set.
//
// Doomsday's Readings come from the Health Monitor's snapshot and failure
// counters when one is wired; a kernel built without a Health Monitor (as
// in some tests) just skips the Doomsday check for that cycle rather than
// failing the whole risk pass.
func (b *Bridges) RunRiskCycle(ctx context.Context, sample risk.Sample) error {
	if b.Doomsday != nil && b.Health != nil {
		state, err := b.Doomsday.Load(ctx)
		if err != nil {
			return fmt.Errorf("risk cycle: load doomsday state: %w", err)
		}
		if state.Triggered {
			return nil
		}

		memRatio, diskRatio := b.Health.MemoryDiskRatios()
		kvFailures, gpuFailures := b.Health.FailureCounts(ctx)
		readings := doomsday.Readings{
			MemoryRatio: memRatio,
			DiskRatio:   diskRatio,
			DailyLoss:   sample.Market.DailyPnLRatio,
			KVFailures:  kvFailures,
			GPUFailures: gpuFailures,
		}
		if conditions := b.Doomsday.CheckTriggers(readings); len(conditions) > 0 {
			if err := b.Doomsday.TriggerConditions(ctx, conditions, sample.Market.DailyPnLRatio); err != nil {
				return fmt.Errorf("risk cycle: trigger doomsday: %w", err)
			}
			return nil
		}
	}

	monitors := []func() (*risk.RiskEvent, error){
		func() (*risk.RiskEvent, error) { return b.Assessor.MonitorMarket(ctx, sample.Market) },
		func() (*risk.RiskEvent, error) { return b.Assessor.MonitorSystem(ctx, sample.System) },
		func() (*risk.RiskEvent, error) { return b.Assessor.MonitorOperational(ctx, sample.Operational) },
		func() (*risk.RiskEvent, error) { return b.Assessor.MonitorLiquidity(ctx, sample.Liquidity) },
		func() (*risk.RiskEvent, error) { return b.Assessor.MonitorCounterparty(ctx, sample.Counterparty) },
	}
	for _, monitor := range monitors {
		event, err := monitor()
		if err != nil {
			observ.LogError("risk_monitor_failed", err, nil)
			continue
		}
		if event != nil {
			b.publishRiskEvent(*event)
		}
	}

	b.Matrix.SetLevel(b.Assessor.OverallRiskLevel())
	return nil
}

// publishRiskEvent applies the risk→emergency bridge's alert mapping. The
// actual alerting and Control Matrix update happen in onRiskLevelChanged,
// driven by the EventRiskLevelChanged publish below — publishRiskEvent
// itself only decides whether this particular axis reading crosses the
// "alert_level≠none" bar and, for a high-or-above axis reading, additionally
// publishes the full RiskEvent so onRiskAxisTripped can report which axis
// and why.
func (b *Bridges) publishRiskEvent(event risk.RiskEvent) {
	if _, alert := riskAlertLevel(event.Level); alert {
		b.Bus.Publish(eventbus.NewEvent(eventbus.EventRiskLevelChanged, "risk", riskPriority(event.Level), event.Level))
	}
	if event.Level.AtLeast(risk.SeverityHigh) {
		b.Bus.Publish(eventbus.NewEvent(eventbus.EventRiskAxisTripped, "risk", eventbus.PriorityHigh, event))
	}
}
