package costs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

// ErrBudgetExceeded is returned by Check when the breaker has vetoed
// outbound model calls.
var ErrBudgetExceeded = errors.New("costs: budget breaker open")

// BreakerState mirrors the breaker's open/closed reading for callers that
// only need a yes/no answer without gobreaker's vocabulary.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// Breaker vetoes outbound model calls once tracked spend crosses the
// configured daily, monthly, or per-call budgets. gobreaker supplies the
// open/closed state machine and its half-open probe behavior, and State
// reads the veto straight from it. gobreaker has no public API to
// force-close after an operator resets spend out of band, so Resume
// replaces the circuit with a fresh, closed gobreaker instance.
type Breaker struct {
	mu sync.Mutex

	cb             *gobreaker.CircuitBreaker
	ledger         *Ledger
	bus            *eventbus.Bus
	dailyBudget    float64
	monthlyBudget  float64
	perCallCap     float64
	autoResetPct   float64
	totalChecks    int64
	blockedRequests int64
}

// NewBreaker wires a gobreaker.CircuitBreaker configured to trip the first
// time check() records a budget breach (ConsecutiveFailures >= 1): the
// kernel's budget veto is not a transient-failure retry policy, so a
// single breach is sufficient grounds to open.
func NewBreaker(ledger *Ledger, bus *eventbus.Bus, dailyBudget, monthlyBudget, perCallCap, autoResetPct float64) *Breaker {
	b := &Breaker{ledger: ledger, bus: bus, dailyBudget: dailyBudget, monthlyBudget: monthlyBudget, perCallCap: perCallCap, autoResetPct: autoResetPct}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cost_breaker",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.publishStateChange(to)
		},
	})
	return b
}

func (b *Breaker) publishStateChange(to gobreaker.State) {
	eventType := eventbus.EventCostBreakerClosed
	priority := eventbus.PriorityNormal
	if to == gobreaker.StateOpen {
		eventType = eventbus.EventCostBreakerOpen
		priority = eventbus.PriorityCritical
	}
	b.bus.Publish(eventbus.NewEvent(eventType, "costs", priority, to.String()))
	observ.Log("cost_breaker_state_changed", map[string]any{"state": to.String()})
}

// Check evaluates whether a call of estimatedCost is allowed: the breaker
// must be closed (or half-open and willing to probe) and the projected
// total must not exceed the per-call cap, the remaining daily budget, or
// the remaining monthly budget. isCritical bypasses the veto entirely —
// a critical-path call (e.g. one the Emergency Responder itself issues to
// notify an operator) must never be blocked by the breaker it would
// otherwise trip, open breaker included.
func (b *Breaker) Check(ctx context.Context, estimatedCost float64, isCritical bool) error {
	b.mu.Lock()
	b.totalChecks++
	b.mu.Unlock()

	if isCritical {
		return nil
	}

	_, err := b.cb.Execute(func() (any, error) {
		if estimatedCost > b.perCallCap {
			return nil, ErrBudgetExceeded
		}
		daily, err := b.ledger.DailyTotal(ctx, time.Now())
		if err != nil {
			return nil, err
		}
		if daily+estimatedCost > b.dailyBudget {
			return nil, ErrBudgetExceeded
		}
		if b.monthlyBudget > 0 {
			monthly, err := b.ledger.MonthlyTotal(ctx, time.Now())
			if err != nil {
				return nil, err
			}
			if monthly+estimatedCost > b.monthlyBudget {
				return nil, ErrBudgetExceeded
			}
		}
		return nil, nil
	})
	if err != nil {
		b.mu.Lock()
		b.blockedRequests++
		b.mu.Unlock()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrBudgetExceeded
		}
		return err
	}
	return nil
}

// Counts reports the running total of Check calls and how many were
// blocked (either by a budget breach or by the breaker already being
// open), for the metrics surface and for operator diagnosis.
func (b *Breaker) Counts() (totalChecks, blockedRequests int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalChecks, b.blockedRequests
}

// State reports the breaker's current open/closed reading.
func (b *Breaker) State() BreakerState {
	if b.cb.State() == gobreaker.StateClosed {
		return BreakerClosed
	}
	return BreakerOpen
}

// AutoResetIfPossible closes the breaker early once today's spend has
// fallen back under autoResetPct of the daily budget — for example after
// an operator manually corrects a miscounted charge. gobreaker itself only
// transitions Open -> HalfOpen on its own Timeout; this lets the kernel
// react to the underlying condition clearing rather than waiting out a
// fixed timer.
func (b *Breaker) AutoResetIfPossible(ctx context.Context) (bool, error) {
	if b.State() != BreakerOpen {
		return false, nil
	}
	daily, err := b.ledger.DailyTotal(ctx, time.Now())
	if err != nil {
		return false, err
	}
	if daily <= b.dailyBudget*b.autoResetPct {
		b.Resume()
		return true, nil
	}
	return false, nil
}

// Resume forces the breaker back to a fresh closed state, used by both
// AutoResetIfPossible and an operator-invoked manual reset.
func (b *Breaker) Resume() {
	fresh := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cost_breaker",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.publishStateChange(to)
		},
	})
	b.cb = fresh
	b.bus.Publish(eventbus.NewEvent(eventbus.EventCostBreakerClosed, "costs", eventbus.PriorityNormal, "closed"))
	observ.Log("cost_breaker_resumed", nil)
}
