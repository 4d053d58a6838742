package doomsday

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
)

func newTestInterlock(t *testing.T) (*Interlock, *eventbus.Bus, kvstore.Client) {
	t.Helper()
	lockfile := filepath.Join(t.TempDir(), "doomsday.lock")
	bus := eventbus.NewBus()
	kv := kvstore.NewMemoryClient()
	require.NoError(t, kv.Set(context.Background(), doomsdayPasswordKey, "correct-horse", 0))
	i := NewInterlock(lockfile, kv, bus, Thresholds{
		MemoryRatio: 0.95, DiskRatio: 0.95, DailyLoss: -0.10, Liquidation: -0.15, ConsecutiveFailures: 3,
	})
	return i, bus, kv
}

func TestTriggerThenLoadReportsTriggered(t *testing.T) {
	i, _, _ := newTestInterlock(t)
	ctx := context.Background()
	require.NoError(t, i.Trigger(ctx, "manual test"))

	state, err := i.Load(ctx)
	require.NoError(t, err)
	require.True(t, state.Triggered)
	require.Equal(t, "manual test", state.Reason)
}

func TestTriggerWritesPlainTextLockfile(t *testing.T) {
	i, _, _ := newTestInterlock(t)
	ctx := context.Background()
	require.NoError(t, i.Trigger(ctx, "manual test"))

	raw, err := os.ReadFile(i.lockfilePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "Triggered at: "))
	require.Equal(t, "Reason: manual test", lines[1])
}

func TestResetRequiresExactPasswordReadFromKV(t *testing.T) {
	i, _, kv := newTestInterlock(t)
	ctx := context.Background()
	require.NoError(t, i.Trigger(ctx, "x"))

	require.Error(t, i.Reset(ctx, "wrong-password"))
	state, err := i.Load(ctx)
	require.NoError(t, err)
	require.True(t, state.Triggered, "wrong password must not clear the interlock")

	require.Error(t, i.Reset(ctx, ""), "empty password must never be valid")

	// Rotating the KV-stored password takes effect on the very next
	// attempt — Reset never caches it.
	require.NoError(t, kv.Set(ctx, doomsdayPasswordKey, "new-password", 0))
	require.Error(t, i.Reset(ctx, "correct-horse"))
	require.NoError(t, i.Reset(ctx, "new-password"))

	state, err = i.Load(ctx)
	require.NoError(t, err)
	require.False(t, state.Triggered)
}

func TestCheckTriggersReportsAllFiredConditions(t *testing.T) {
	i, _, _ := newTestInterlock(t)
	fired := i.CheckTriggers(Readings{MemoryRatio: 0.99, DiskRatio: 0.96, DailyLoss: -0.20})
	require.Len(t, fired, 3)
}

func TestCheckTriggersUsesStrictGreaterThan(t *testing.T) {
	i, _, _ := newTestInterlock(t)
	fired := i.CheckTriggers(Readings{MemoryRatio: 0.95, DiskRatio: 0.95})
	require.Empty(t, fired, "exactly-at-threshold must not fire")
}

func TestCheckTriggersNoOpWhenWithinThresholds(t *testing.T) {
	i, _, _ := newTestInterlock(t)
	fired := i.CheckTriggers(Readings{MemoryRatio: 0.1, DiskRatio: 0.1})
	require.Empty(t, fired)
}

func TestCheckTriggersTracksKVAndGPUFailuresIndependently(t *testing.T) {
	i, _, _ := newTestInterlock(t)
	fired := i.CheckTriggers(Readings{KVFailures: 3, GPUFailures: 0})
	require.Len(t, fired, 1)
	require.Contains(t, fired[0], "KV probe")

	fired = i.CheckTriggers(Readings{KVFailures: 0, GPUFailures: 3})
	require.Len(t, fired, 1)
	require.Contains(t, fired[0], "GPU probe")
}

func TestTriggerConditionsPublishesStopTradingAndLiquidation(t *testing.T) {
	i, bus, _ := newTestInterlock(t)
	stopped := make(chan eventbus.Event, 1)
	liquidated := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventStopTrading, func(ev eventbus.Event) { stopped <- ev })
	bus.Subscribe(eventbus.EventLiquidationTriggered, func(ev eventbus.Event) { liquidated <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	defer func() {
		cancel()
		bus.Wait()
	}()

	require.NoError(t, i.TriggerConditions(context.Background(), []string{"daily loss breached"}, -0.20))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected stop trading event")
	}
	select {
	case <-liquidated:
	case <-time.After(time.Second):
		t.Fatal("expected liquidation triggered event")
	}
}

func TestTriggerConditionsSkipsLiquidationAboveThreshold(t *testing.T) {
	i, bus, _ := newTestInterlock(t)
	liquidated := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventLiquidationTriggered, func(ev eventbus.Event) { liquidated <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	defer func() {
		cancel()
		bus.Wait()
	}()

	require.NoError(t, i.TriggerConditions(context.Background(), []string{"daily loss breached"}, -0.05))

	select {
	case <-liquidated:
		t.Fatal("liquidation must not fire above the liquidation threshold")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTriggerPublishesBusEvent(t *testing.T) {
	i, bus, _ := newTestInterlock(t)
	received := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventDoomsdayTriggered, func(ev eventbus.Event) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	defer func() {
		cancel()
		bus.Wait()
	}()

	require.NoError(t, i.Trigger(context.Background(), "test"))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected doomsday triggered event")
	}
}
