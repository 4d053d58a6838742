package probes

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
)

func TestKVProbeStaysHealthyWithMemoryClientAfterClose(t *testing.T) {
	c := kvstore.NewMemoryClient()
	p := NewKVProbe(c, 1)
	ctx := context.Background()

	r := p.Run(ctx)
	require.Equal(t, StatusHealthy, r.Status)

	_ = c.Close()
	r = p.Run(ctx)
	require.Equal(t, StatusHealthy, r.Status, "memory client tolerates Close; ping still succeeds")
}

func TestKVProbeDegradesOnRepeatedFailure(t *testing.T) {
	p := NewKVProbe(failingClient{}, 1)
	ctx := context.Background()

	r := p.Run(ctx)
	require.Equal(t, StatusDegraded, r.Status)
	r = p.Run(ctx)
	require.Equal(t, StatusFailed, r.Status)
}

type failingClient struct{ kvstore.Client }

func (failingClient) Ping(context.Context) error { return context.DeadlineExceeded }

func TestTCPProbeReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	p := NewTCPProbe("test_service", ln.Addr().String(), time.Second)
	r := p.Run(context.Background())
	require.Equal(t, StatusHealthy, r.Status)
}

func TestTCPProbeUnreachable(t *testing.T) {
	p := NewTCPProbe("test_service", "127.0.0.1:1", 100*time.Millisecond)
	r := p.Run(context.Background())
	require.Equal(t, StatusFailed, r.Status)
	require.Error(t, r.Err)
}

func TestDiskProbeReportsUsedRatio(t *testing.T) {
	p := NewDiskProbe("/", 0.90, 0.97)
	r := p.Run(context.Background())
	require.Contains(t, []Status{StatusHealthy, StatusDegraded, StatusFailed}, r.Status)
}

func TestMemoryProbeReportsUsedRatio(t *testing.T) {
	p := NewMemoryProbe(0.90, 0.97)
	r := p.Run(context.Background())
	require.Contains(t, []Status{StatusHealthy, StatusDegraded, StatusFailed, StatusUnavailable}, r.Status)
}

func TestCPUProbeTakesTwoSamples(t *testing.T) {
	p := NewCPUProbe(0.90, 0.97, 10*time.Millisecond)
	start := time.Now()
	r := p.Run(context.Background())
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	require.Contains(t, []Status{StatusHealthy, StatusDegraded, StatusFailed, StatusUnavailable}, r.Status)
}

func TestGPUProbeMissingBinaryIsUnavailable(t *testing.T) {
	p := NewGPUProbe("nvidia-smi-does-not-exist", time.Second, 0.9, 0.97)
	r := p.Run(context.Background())
	require.Equal(t, StatusUnavailable, r.Status)
	require.Error(t, r.Err)
}
