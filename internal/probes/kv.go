package probes

import (
	"context"

	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
)

// KVProbe pings the persistent KV backend. Status derivation follows the
// teacher's provider-reliability shape (consecutive-failure escalation)
// collapsed to a single round trip per pass: a KV backend either answers
// within the configured timeout or it doesn't.
type KVProbe struct {
	client            kvstore.Client
	consecutiveErrors int
	degradeAfter      int
}

// NewKVProbe returns a probe that reports degraded after degradeAfter
// consecutive ping failures and failed on the next one.
func NewKVProbe(client kvstore.Client, degradeAfter int) *KVProbe {
	if degradeAfter <= 0 {
		degradeAfter = 1
	}
	return &KVProbe{client: client, degradeAfter: degradeAfter}
}

func (p *KVProbe) Name() string { return "kv" }

func (p *KVProbe) Run(ctx context.Context) Result {
	err := p.client.Ping(ctx)
	if err == nil {
		p.consecutiveErrors = 0
		return Result{Component: p.Name(), Status: StatusHealthy}
	}

	p.consecutiveErrors++
	status := StatusDegraded
	if p.consecutiveErrors > p.degradeAfter {
		status = StatusFailed
	}
	return Result{
		Component: p.Name(),
		Status:    status,
		Detail:    map[string]any{"consecutive_errors": p.consecutiveErrors},
		Err:       err,
	}
}
