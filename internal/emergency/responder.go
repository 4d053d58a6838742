// Package emergency implements the Emergency Responder: tiered,
// SLA-bound alert dispatch with the teacher's dedupe/rate-limit queue
// structure (a failed send is logged and not retried), delivering over Slack instead of a hand-rolled
// webhook POST.
package emergency

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

// Tier is the alert's urgency, each bound to a maximum acceptable delivery
// latency (its SLA).
type Tier string

const (
	TierWarning  Tier = "warning"
	TierDanger   Tier = "danger"
	TierCritical Tier = "critical"
)

// SLA returns the maximum acceptable delay between TriggerAlert and actual
// delivery for tier.
func (t Tier) SLA() time.Duration {
	switch t {
	case TierCritical:
		return 0
	case TierDanger:
		return 300 * time.Second
	default:
		return 1800 * time.Second
	}
}

// Alert is one emergency occurrence — the kernel's Emergency Procedure
// Record. ProcedureID is unique and monotonically increasing across the
// Responder's lifetime; Actions lists, in execution order, the steps
// ExecuteProcedure took on the alert's behalf (empty for a plain
// TriggerAlert with no associated procedure); Success reflects whether the
// notifier ultimately delivered it.
type Alert struct {
	ProcedureID int64
	Tier        Tier
	Title       string
	Detail      string
	Actions     []string
	Success     bool
	CreatedAt   time.Time
	hash        string
}

type queuedAlert struct {
	alert    *Alert
	attempts int
}

// Notifier abstracts the outbound channel so Responder's queueing and SLA
// logic can be tested without a real Slack webhook.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Responder dispatches alerts against their SLA, deduplicating repeats of
// the same tier+title within a window and rate-limiting total dispatch
// volume — the teacher's queue/dedupe/rate-limit shape
// (internal/alerts/slack.go), kept; the outbound transport is swapped.
type Responder struct {
	notifier Notifier
	bus      *eventbus.Bus
	limiter  *rate.Limiter
	nextID   atomic.Int64

	mu         sync.Mutex
	dedupe     map[string]time.Time
	dedupeTTL  time.Duration
	queue      chan queuedAlert
	history    []*Alert
	maxHistory int

	wg sync.WaitGroup
}

// NewResponder wires a Responder. ratePerMin bounds total alert dispatch
// volume (the teacher's global rate limiter, collapsed from a hand-rolled
// sliding window onto golang.org/x/time/rate).
func NewResponder(notifier Notifier, bus *eventbus.Bus, ratePerMin int) *Responder {
	if ratePerMin <= 0 {
		ratePerMin = 10
	}
	return &Responder{
		notifier:   notifier,
		bus:        bus,
		limiter:    rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin),
		dedupe:     make(map[string]time.Time),
		dedupeTTL:  60 * time.Second,
		queue:      make(chan queuedAlert, 1000),
		maxHistory: 1000,
	}
}

// Start launches the dispatch worker. It runs until ctx is cancelled.
func (r *Responder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.worker(ctx)
}

// Wait blocks until the dispatch worker has exited.
func (r *Responder) Wait() {
	r.wg.Wait()
}

func alertHash(tier Tier, title string) string {
	sum := sha256.Sum256([]byte(string(tier) + ":" + title))
	return fmt.Sprintf("%x", sum)[:16]
}

// TriggerAlert enqueues an alert for dispatch and returns the record
// assigned to it. A TierCritical alert bypasses the queue and the
// dedupe/rate-limit checks entirely: its SLA is effectively zero, so it is
// delivered synchronously from this call. It rejects an unknown tier or an
// empty title with a BadInput error rather than silently dropping the
// alert.
func (r *Responder) TriggerAlert(ctx context.Context, tier Tier, title, detail string) (Alert, error) {
	switch tier {
	case TierWarning, TierDanger, TierCritical:
	default:
		return Alert{}, kernelerr.NewBadInput("tier", fmt.Errorf("unknown alert tier %q", tier))
	}
	if title == "" {
		return Alert{}, kernelerr.NewBadInput("title", fmt.Errorf("alert title must not be empty"))
	}

	alert := &Alert{
		ProcedureID: r.nextID.Add(1),
		Tier:        tier,
		Title:       title,
		Detail:      detail,
		CreatedAt:   time.Now(),
		hash:        alertHash(tier, title),
	}

	r.mu.Lock()
	r.history = append(r.history, alert)
	if len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
	r.mu.Unlock()

	if tier == TierCritical {
		r.dispatchNow(ctx, alert)
		return *alert, nil
	}

	r.mu.Lock()
	if last, ok := r.dedupe[alert.hash]; ok && time.Since(last) < r.dedupeTTL {
		r.mu.Unlock()
		return *alert, nil
	}
	r.dedupe[alert.hash] = time.Now()
	r.mu.Unlock()

	select {
	case r.queue <- queuedAlert{alert: alert}:
	default:
		observ.Log("emergency_queue_full", map[string]any{"tier": string(tier), "title": title})
	}
	return *alert, nil
}

func (r *Responder) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case qa := <-r.queue:
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			r.dispatchNow(ctx, qa.alert)
		}
	}
}

func (r *Responder) dispatchNow(ctx context.Context, alert *Alert) {
	if err := r.notifier.Notify(ctx, *alert); err != nil {
		observ.LogError("emergency_dispatch_failed", err, map[string]any{"tier": string(alert.Tier), "title": alert.Title})
		r.mu.Lock()
		alert.Success = false
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	alert.Success = true
	r.mu.Unlock()

	observ.IncCounter("kernel_emergency_alerts_total", map[string]string{"tier": string(alert.Tier)})
	r.bus.Publish(eventbus.NewEvent(eventbus.EventEmergencyAlert, "emergency", tierPriority(alert.Tier), *alert))
}

func tierPriority(t Tier) eventbus.Priority {
	switch t {
	case TierCritical:
		return eventbus.PriorityCritical
	case TierDanger:
		return eventbus.PriorityHigh
	default:
		return eventbus.PriorityNormal
	}
}

// procedureActions lists, in execution order, the steps ExecuteProcedure
// records against an alert's Actions for each known procedure kind.
var procedureActions = map[string][]string{
	"stop_trading": {"halt_order_submission", "stop_trading"},
	"liquidate":    {"halt_order_submission", "liquidate_positions"},
	"failover":     {"failover_to_backup"},
	"recovery":     {"resume_normal_operations"},
	"notify_only":  {"notify"},
}

// ExecuteProcedure runs one of the kernel's named emergency procedures.
// "stop_trading" and "liquidate" additionally publish EventStopTrading so
// the Doomsday Interlock and any trading-engine collaborator can react.
// Unknown kinds raise a BadInput error instead of executing silently.
func (r *Responder) ExecuteProcedure(ctx context.Context, kind string) error {
	actions, known := procedureActions[kind]
	if !known {
		return kernelerr.NewBadInput("procedure_kind", fmt.Errorf("unknown emergency procedure %q", kind))
	}

	var tier Tier
	var title, detail string
	switch kind {
	case "stop_trading":
		r.bus.Publish(eventbus.NewEvent(eventbus.EventStopTrading, "emergency", eventbus.PriorityCritical, kind))
		tier, title, detail = TierCritical, "trading halted", "emergency procedure stop_trading executed"
	case "liquidate":
		r.bus.Publish(eventbus.NewEvent(eventbus.EventStopTrading, "emergency", eventbus.PriorityCritical, kind))
		tier, title, detail = TierCritical, "positions liquidated", "emergency procedure liquidate executed"
	case "failover":
		tier, title, detail = TierDanger, "failover executed", "emergency procedure failover executed"
	case "recovery":
		tier, title, detail = TierWarning, "recovery executed", "emergency procedure recovery executed"
	case "notify_only":
		tier, title, detail = TierWarning, "notification", "emergency procedure notify_only executed"
	}

	alert, err := r.TriggerAlert(ctx, tier, title, detail)
	if err != nil {
		return err
	}
	r.setProcedureActions(alert.ProcedureID, actions)
	return nil
}

// setProcedureActions records actions against the history entry for id,
// filled in after TriggerAlert since the procedure's action list depends
// on the kind TriggerAlert itself has no notion of.
func (r *Responder) setProcedureActions(id int64, actions []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.history {
		if a.ProcedureID == id {
			a.Actions = actions
			return
		}
	}
}

// History returns a copy of dispatched/queued alerts, oldest first.
func (r *Responder) History() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.history))
	for i, a := range r.history {
		out[i] = *a
	}
	return out
}

// ClearOldHistory discards history entries older than olderThan.
func (r *Responder) ClearOldHistory(olderThan time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cut := time.Now().Add(-olderThan)
	kept := r.history[:0]
	for _, a := range r.history {
		if a.CreatedAt.After(cut) {
			kept = append(kept, a)
		}
	}
	r.history = kept
}
