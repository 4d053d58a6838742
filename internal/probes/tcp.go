package probes

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProbe dials a host:port pair to confirm a downstream service (model
// API gateway, exchange connectivity endpoint) is reachable.
type TCPProbe struct {
	name    string
	addr    string
	timeout time.Duration
}

// NewTCPProbe names the probe independently of addr so the Health Monitor
// can report "model_api" rather than a raw host:port in its status map.
func NewTCPProbe(name, addr string, timeout time.Duration) *TCPProbe {
	return &TCPProbe{name: name, addr: addr, timeout: timeout}
}

func (p *TCPProbe) Name() string { return p.name }

func (p *TCPProbe) Run(ctx context.Context) Result {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return Result{
			Component: p.Name(),
			Status:    StatusFailed,
			Detail:    map[string]any{"addr": p.addr},
			Err:       fmt.Errorf("tcp dial %s: %w", p.addr, err),
		}
	}
	_ = conn.Close()
	return Result{Component: p.Name(), Status: StatusHealthy, Detail: map[string]any{"addr": p.addr}}
}
