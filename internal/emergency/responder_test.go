package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Alert
	fails bool
}

func (f *fakeNotifier) Notify(_ context.Context, alert Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, alert)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestCriticalAlertDispatchesSynchronously(t *testing.T) {
	n := &fakeNotifier{}
	r := NewResponder(n, eventbus.NewBus(), 60)
	r.TriggerAlert(context.Background(), TierCritical, "kv down", "detail")
	require.Equal(t, 1, n.count())
}

func TestWarningAlertDispatchesThroughQueue(t *testing.T) {
	n := &fakeNotifier{}
	bus := eventbus.NewBus()
	r := NewResponder(n, bus, 600)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	defer func() {
		cancel()
		r.Wait()
	}()

	r.TriggerAlert(ctx, TierWarning, "budget nearing limit", "detail")
	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDuplicateAlertWithinWindowIsDeduped(t *testing.T) {
	n := &fakeNotifier{}
	bus := eventbus.NewBus()
	r := NewResponder(n, bus, 600)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	defer func() {
		cancel()
		r.Wait()
	}()

	r.TriggerAlert(ctx, TierWarning, "same", "first")
	r.TriggerAlert(ctx, TierWarning, "same", "second")

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, n.count())
}

func TestExecuteStopTradingPublishesEventAndAlerts(t *testing.T) {
	n := &fakeNotifier{}
	bus := eventbus.NewBus()
	received := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventStopTrading, func(ev eventbus.Event) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	defer func() {
		cancel()
		bus.Wait()
	}()

	r := NewResponder(n, bus, 60)
	r.ExecuteProcedure(ctx, "stop_trading")

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected stop_trading event")
	}
	require.Equal(t, 1, n.count())
}

func TestExecuteProcedureUnknownKindReturnsBadInput(t *testing.T) {
	n := &fakeNotifier{}
	r := NewResponder(n, eventbus.NewBus(), 60)
	err := r.ExecuteProcedure(context.Background(), "levitate")
	require.Error(t, err)
}

func TestExecuteProcedureRecordsActionsAndProcedureID(t *testing.T) {
	n := &fakeNotifier{}
	bus := eventbus.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	defer func() {
		cancel()
		bus.Wait()
	}()

	r := NewResponder(n, bus, 60)
	require.NoError(t, r.ExecuteProcedure(ctx, "liquidate"))

	hist := r.History()
	require.Len(t, hist, 1)
	require.NotZero(t, hist[0].ProcedureID)
	require.Equal(t, []string{"halt_order_submission", "liquidate_positions"}, hist[0].Actions)
	require.True(t, hist[0].Success)
}

func TestTriggerAlertRejectsEmptyTitle(t *testing.T) {
	n := &fakeNotifier{}
	r := NewResponder(n, eventbus.NewBus(), 60)
	_, err := r.TriggerAlert(context.Background(), TierWarning, "", "detail")
	require.Error(t, err)
}

func TestClearOldHistoryDropsOldEntries(t *testing.T) {
	n := &fakeNotifier{}
	r := NewResponder(n, eventbus.NewBus(), 60)
	r.TriggerAlert(context.Background(), TierCritical, "old", "x")
	require.Len(t, r.History(), 1)
	r.ClearOldHistory(-time.Second)
	require.Len(t, r.History(), 0)
}

func TestTierSLAOrdering(t *testing.T) {
	require.Equal(t, time.Duration(0), TierCritical.SLA())
	require.Equal(t, 300*time.Second, TierDanger.SLA())
	require.Equal(t, 1800*time.Second, TierWarning.SLA())
}
