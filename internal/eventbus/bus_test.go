package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var got []Event
	b.Subscribe(EventHealthDegraded, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() {
		cancel()
		b.Wait()
	}()

	b.Publish(NewEvent(EventHealthDegraded, "health", PriorityHigh, "kv"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	delivered := 0
	b.Subscribe(EventCostBudgetOver, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() {
		cancel()
		b.Wait()
	}()

	b.Publish(NewEvent(EventCostBudgetOver, "costs", PriorityCritical, nil))
	b.Publish(NewEvent(EventCostBudgetOver, "costs", PriorityCritical, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, time.Second, 5*time.Millisecond)
}

func TestUndefinedRouteLogsWarningButStillDeliverable(t *testing.T) {
	dest := RouteDestinations("unknown.event")
	require.Nil(t, dest)

	b := NewBus()
	received := make(chan struct{}, 1)
	b.Subscribe("unknown.event", func(ev Event) { received <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() {
		cancel()
		b.Wait()
	}()

	b.Publish(NewEvent("unknown.event", "test", PriorityNormal, nil))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event on undefined route was not delivered")
	}
}

func TestKnownRouteReturnsDestinations(t *testing.T) {
	dest := RouteDestinations(EventStopTrading)
	require.Equal(t, []string{"doomsday"}, dest)
}

func TestPublishReturnsFalseWithNoSubscribers(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() {
		cancel()
		b.Wait()
	}()

	accepted := b.Publish(NewEvent(EventHealthDegraded, "health", PriorityNormal, nil))
	require.False(t, accepted)
}

func TestPublishReturnsTrueWhenAccepted(t *testing.T) {
	b := NewBus()
	b.Subscribe(EventHealthDegraded, func(Event) {})

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	defer func() {
		cancel()
		b.Wait()
	}()

	accepted := b.Publish(NewEvent(EventHealthDegraded, "health", PriorityNormal, nil))
	require.True(t, accepted)
}

func TestPublishOnUninitializedBusFailsSoft(t *testing.T) {
	var b Bus
	require.False(t, b.Publish(NewEvent(EventHealthDegraded, "health", PriorityNormal, nil)))
}
