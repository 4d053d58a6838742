package eventbus

import (
	"context"
	"sync"

	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

// Handler processes a delivered Event. A Handler must not block
// indefinitely: a slow handler only stalls its own priority lane.
type Handler func(Event)

// Bus is the base pub/sub fabric. Each of the three priorities is served by
// its own dispatch goroutine and its own FIFO queue, so a burst of normal-
// priority events never delays a critical one — but within one lane,
// delivery order matches publish order.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]Handler
	queues   map[Priority]chan Event
	wg       sync.WaitGroup
	started  bool
}

const queueDepth = 1024

// NewBus constructs an unstarted Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]Handler),
		queues: map[Priority]chan Event{
			PriorityNormal:   make(chan Event, queueDepth),
			PriorityHigh:     make(chan Event, queueDepth),
			PriorityCritical: make(chan Event, queueDepth),
		},
	}
}

// Subscribe registers handler to run for every Event published with the
// given type. Subscriptions are not removable; the kernel's construction
// graph wires them once at startup.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], h)
}

// Start launches one dispatch goroutine per priority lane. Cancelling ctx
// stops all three goroutines; events still queued at that point are not
// delivered.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal} {
		b.wg.Add(1)
		go b.dispatchLoop(ctx, p)
	}
}

// Wait blocks until all dispatch goroutines have exited after ctx is
// cancelled.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) dispatchLoop(ctx context.Context, p Priority) {
	defer b.wg.Done()
	q := b.queues[p]
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			b.deliver(ev)
		}
	}
}

// deliver runs every handler subscribed to ev.Type, recovering any panic
// so one broken handler never stalls the lane or takes down the
// dispatch goroutine.
func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		observ.Log("eventbus_undelivered", map[string]any{
			"event_type": ev.Type,
			"event_id":   ev.ID,
			"priority":   ev.Priority.String(),
		})
		return
	}

	for _, h := range handlers {
		b.runHandler(h, ev)
	}
}

func (b *Bus) runHandler(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			observ.Log("eventbus_handler_panic", map[string]any{
				"event_type": ev.Type,
				"event_id":   ev.ID,
				"recovered":  r,
			})
		}
	}()
	h(ev)
}

// Publish enqueues ev on its priority lane and reports whether at least one
// subscriber accepted it. Publish never blocks on delivery; if the lane's
// queue is full the event is dropped, logged, and reported as rejected,
// since a durable queue would itself become a denial-of-service surface for
// a kernel that must keep responding under load. A Bus that was never built
// with NewBus (nil queues) fails soft: it logs and returns false rather than
// panicking.
func (b *Bus) Publish(ev Event) bool {
	if b.queues == nil {
		observ.Log("eventbus_publish_uninitialized", map[string]any{"event_type": ev.Type})
		return false
	}

	b.mu.RLock()
	hasSubscriber := len(b.subs[ev.Type]) > 0
	b.mu.RUnlock()
	if !hasSubscriber {
		observ.Log("eventbus_no_subscribers", map[string]any{"event_type": ev.Type})
		return false
	}

	select {
	case b.queues[ev.Priority] <- ev:
		return true
	default:
		observ.Log("eventbus_queue_full", map[string]any{
			"event_type": ev.Type,
			"priority":   ev.Priority.String(),
		})
		return false
	}
}
