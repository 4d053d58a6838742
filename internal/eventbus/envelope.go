// Package eventbus implements the kernel's cross-subsystem event bus: a
// typed, priority-ordered publish/subscribe fabric that lets the six
// subsystems observe each other's state transitions without direct
// coupling.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Priority selects which of the bus's three dispatch lanes an event rides.
// Each lane is drained by its own goroutine, so a backlog on a lower lane
// never delays delivery on a higher one; lanes are not ordered against
// each other.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Event is the envelope carried on the bus. Type identifies the subsystem
// occurrence (e.g. "health.degraded", "cost.budget_exceeded",
// "risk.level_changed", "doomsday.triggered"); Payload is the subsystem's
// own typed struct for that event.
type Event struct {
	ID       string
	Type     string
	Priority Priority
	TS       time.Time
	Source   string
	Payload  any
}

// NewEvent builds an Event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, priority Priority, payload any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Priority: priority,
		TS:       time.Now().UTC(),
		Source:   source,
		Payload:  payload,
	}
}
