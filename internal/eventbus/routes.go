package eventbus

import "github.com/Rajchodisetti/safety-kernel/internal/observ"

// Well-known cross-subsystem event types. Every [MODULE] publishes and
// subscribes using these constants rather than ad hoc strings, so the
// routing table below stays the single source of truth for who talks to
// whom.
const (
	EventHealthDegraded    = "health.degraded"
	EventHealthRecovered   = "health.recovered"
	EventCostBudgetWarning = "cost.budget_warning"
	EventCostBudgetOver    = "cost.budget_exceeded"
	EventCostBreakerOpen   = "cost.breaker_open"
	EventCostBreakerClosed = "cost.breaker_closed"
	EventRiskLevelChanged  = "risk.level_changed"
	EventRiskAxisTripped   = "risk.axis_tripped"
	EventEmergencyAlert    = "emergency.alert"
	EventStopTrading       = "emergency.stop_trading"
	EventDoomsdayTriggered    = "doomsday.triggered"
	EventDoomsdayCleared      = "doomsday.cleared"
	EventLiquidationTriggered = "doomsday.liquidation_triggered"
)

// routes is the static table of which subsystem groups care about each
// event type. It exists for documentation and for RouteDestinations below;
// Subscribe calls are what actually wire delivery. An event type with no
// matching route here is still delivered to whatever handlers subscribed
// to it; an event with no subscriber at all is dropped by Publish.
var routes = map[string][]string{
	EventHealthDegraded:    {"emergency", "risk"},
	EventHealthRecovered:   {"emergency"},
	EventCostBudgetWarning: {"emergency"},
	EventCostBudgetOver:    {"emergency"},
	EventCostBreakerOpen:   {"emergency", "risk"},
	EventCostBreakerClosed: {"emergency"},
	EventRiskLevelChanged:  {"emergency"},
	EventRiskAxisTripped:   {"emergency"},
	EventEmergencyAlert:    {"doomsday"},
	EventStopTrading:       {"doomsday"},
	EventDoomsdayTriggered:    {"emergency"},
	EventDoomsdayCleared:      {"emergency"},
	EventLiquidationTriggered: {"emergency"},
}

// RouteDestinations returns the subsystem groups documented to care about
// eventType. A nil result plus a logged warning signals an
// event type with no declared route; it is still deliverable to any
// subscriber registered directly on the Bus.
func RouteDestinations(eventType string) []string {
	dest, ok := routes[eventType]
	if !ok {
		observ.Log("eventbus_undefined_route", map[string]any{"event_type": eventType})
		return nil
	}
	return dest
}
