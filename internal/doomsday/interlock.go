// Package doomsday implements the Doomsday Interlock: a persistent kill
// switch that halts trading and survives process restarts via both a
// lockfile and the KV backend.
package doomsday

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

const (
	// doomsdayStateKey holds the full state as JSON, the interlock's own
	// authoritative record.
	doomsdayStateKey = "doomsday:state"
	// doomsdayFlagKey and doomsdayReasonKey mirror the state as the plain
	// external keys documented for other systems to read.
	doomsdayFlagKey     = "mia:doomsday"
	doomsdayReasonKey   = "mia:doomsday:reason"
	doomsdayPasswordKey = "config:doomsday:password"
)

// State is the interlock's persisted record — §3's Doomsday Status.
type State struct {
	Triggered    bool      `json:"is_triggered"`
	Reason       string    `json:"trigger_reason"`
	TriggeredAt  time.Time `json:"trigger_time"`
	TriggersFired []string `json:"triggers_fired"`
}

// Thresholds configures the automatic trigger conditions. CheckTriggers
// evaluates each of them except Liquidation independently; any one breach
// fires. Liquidation is used only by TriggerConditions.
type Thresholds struct {
	MemoryRatio         float64
	DiskRatio           float64
	DailyLoss           float64
	Liquidation         float64
	ConsecutiveFailures int
}

// Readings is one sampling of the signals CheckTriggers evaluates — the
// latest probe/portfolio readings, gathered by the caller from the Health
// Monitor and the portfolio state.
type Readings struct {
	MemoryRatio float64
	DiskRatio   float64
	DailyLoss   float64
	KVFailures  int
	GPUFailures int
}

// Interlock owns the lockfile and the KV-backed state record. Both are
// written on every trigger/reset so either one alone is enough to recover
// the correct state after a crash.
type Interlock struct {
	mu           sync.Mutex
	lockfilePath string
	kv           kvstore.Client
	bus          *eventbus.Bus
	thresholds   Thresholds
}

// NewInterlock configures an Interlock. The reset password is never held
// in memory — Reset reads it fresh from the KV backend on every attempt.
func NewInterlock(lockfilePath string, kv kvstore.Client, bus *eventbus.Bus, thresholds Thresholds) *Interlock {
	return &Interlock{
		lockfilePath: lockfilePath,
		kv:           kv,
		bus:          bus,
		thresholds:   thresholds,
	}
}

// Load reconstructs state from the KV backend (authoritative) and, if KV
// is unreachable, falls back to the lockfile's presence.
func (i *Interlock) Load(ctx context.Context) (State, error) {
	raw, err := i.kv.Get(ctx, doomsdayStateKey)
	if err == nil {
		var s State
		if uerr := json.Unmarshal([]byte(raw), &s); uerr == nil {
			return s, nil
		}
	}
	if _, statErr := os.Stat(i.lockfilePath); statErr == nil {
		return State{Triggered: true, Reason: "lockfile present, KV state unavailable"}, nil
	}
	return State{}, nil
}

// CheckTriggers evaluates readings against Thresholds and returns the
// description of every condition that fired — zero, one, or more. It is a
// pure evaluation with no side effects: the caller decides whether, and
// how, to act on what fires. The memory and disk ratio comparisons are
// strict (>), matching a threshold exactly is not yet a breach. KV and
// GPU consecutive-failure counts are tracked independently so one flapping
// probe can't mask the other.
func (i *Interlock) CheckTriggers(readings Readings) []string {
	var fired []string
	if readings.MemoryRatio > i.thresholds.MemoryRatio {
		fired = append(fired, fmt.Sprintf("memory usage ratio %.3f exceeded threshold %.3f", readings.MemoryRatio, i.thresholds.MemoryRatio))
	}
	if readings.DiskRatio > i.thresholds.DiskRatio {
		fired = append(fired, fmt.Sprintf("disk usage ratio %.3f exceeded threshold %.3f", readings.DiskRatio, i.thresholds.DiskRatio))
	}
	if readings.DailyLoss < i.thresholds.DailyLoss {
		fired = append(fired, fmt.Sprintf("daily loss ratio %.3f breached threshold %.3f", readings.DailyLoss, i.thresholds.DailyLoss))
	}
	if readings.KVFailures >= i.thresholds.ConsecutiveFailures {
		fired = append(fired, fmt.Sprintf("%d consecutive KV probe failures reached threshold %d", readings.KVFailures, i.thresholds.ConsecutiveFailures))
	}
	if readings.GPUFailures >= i.thresholds.ConsecutiveFailures {
		fired = append(fired, fmt.Sprintf("%d consecutive GPU probe failures reached threshold %d", readings.GPUFailures, i.thresholds.ConsecutiveFailures))
	}
	return fired
}

// Trigger halts trading for a single, manually supplied reason — used by
// cmd/doomsdayctl and by the risk bridge's critical-level shortcut. Trigger
// is idempotent: calling it again while already triggered just updates the
// reason.
func (i *Interlock) Trigger(ctx context.Context, reason string) error {
	return i.trigger(ctx, reason, nil)
}

// TriggerConditions halts trading for one or more conditions CheckTriggers
// reported, and additionally publishes EventStopTrading and, if the
// current P&L ratio has breached the liquidation threshold,
// EventLiquidationTriggered — §4.9's steps 4 and 5.
func (i *Interlock) TriggerConditions(ctx context.Context, conditions []string, currentPnLRatio float64) error {
	if len(conditions) == 0 {
		return nil
	}
	reason := strings.Join(conditions, "; ")
	if err := i.trigger(ctx, reason, conditions); err != nil {
		return err
	}

	i.bus.Publish(eventbus.NewEvent(eventbus.EventStopTrading, "doomsday", eventbus.PriorityCritical, reason))
	if currentPnLRatio < i.thresholds.Liquidation {
		i.bus.Publish(eventbus.NewEvent(eventbus.EventLiquidationTriggered, "doomsday", eventbus.PriorityCritical, reason))
	}
	return nil
}

func (i *Interlock) trigger(ctx context.Context, reason string, conditions []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	state := State{Triggered: true, Reason: reason, TriggeredAt: time.Now().UTC(), TriggersFired: conditions}
	if err := i.persist(ctx, state); err != nil {
		return err
	}

	observ.Log("doomsday_triggered", map[string]any{"reason": reason, "conditions": conditions})
	i.bus.Publish(eventbus.NewEvent(eventbus.EventDoomsdayTriggered, "doomsday", eventbus.PriorityCritical, state))
	return nil
}

// Reset clears the interlock if password matches the reset password
// currently stored at config:doomsday:password exactly — a byte-for-byte,
// case-sensitive, untrimmed, constant-time compare read fresh from KV on
// every attempt, never cached. An empty password is never valid, even if
// the stored password is also empty.
func (i *Interlock) Reset(ctx context.Context, password string) error {
	if password == "" {
		return kernelerr.NewAuth("doomsday reset password must not be empty")
	}

	stored, err := i.kv.Get(ctx, doomsdayPasswordKey)
	if err != nil {
		return fmt.Errorf("doomsday: read reset password: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(stored)) != 1 {
		return kernelerr.NewAuth("incorrect doomsday reset password")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	state := State{Triggered: false}
	if err := i.persist(ctx, state); err != nil {
		return err
	}

	observ.Log("doomsday_reset", nil)
	i.bus.Publish(eventbus.NewEvent(eventbus.EventDoomsdayCleared, "doomsday", eventbus.PriorityNormal, state))
	return nil
}

// persist writes state to the KV backend (both the interlock's own JSON
// record and the plain external mia:doomsday / mia:doomsday:reason keys)
// and to the lockfile. Callers must hold i.mu.
//
// The lockfile is deliberately plain text, not JSON — it exists to be
// read by an operator or a recovery script, not parsed by this process;
// it always has exactly two lines.
func (i *Interlock) persist(ctx context.Context, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("doomsday: marshal state: %w", err)
	}
	if err := i.kv.Set(ctx, doomsdayStateKey, string(raw), 0); err != nil {
		return fmt.Errorf("doomsday: persist state to kv: %w", err)
	}
	if err := i.kv.Set(ctx, doomsdayFlagKey, strconv.FormatBool(state.Triggered), 0); err != nil {
		return fmt.Errorf("doomsday: persist flag to kv: %w", err)
	}
	if err := i.kv.Set(ctx, doomsdayReasonKey, state.Reason, 0); err != nil {
		return fmt.Errorf("doomsday: persist reason to kv: %w", err)
	}

	if !state.Triggered {
		if err := os.Remove(i.lockfilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("doomsday: remove lockfile: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(i.lockfilePath), 0o755); err != nil {
		return fmt.Errorf("doomsday: create lockfile dir: %w", err)
	}
	lock := fmt.Sprintf("Triggered at: %s\nReason: %s\n", state.TriggeredAt.UTC().Format(time.RFC3339), state.Reason)
	if err := os.WriteFile(i.lockfilePath, []byte(lock), 0o600); err != nil {
		return fmt.Errorf("doomsday: write lockfile: %w", err)
	}
	return nil
}
