package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/probes"
)

type fakeProbe struct {
	name   string
	result probes.Result
}

func (f fakeProbe) Name() string                              { return f.name }
func (f fakeProbe) Run(context.Context) probes.Result { return f.result }

func TestOverallStatusHealthyWhenAllProbesHealthy(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second},
		bus, kv, probes.NewKVProbe(kv, 1),
		[]probes.Probe{fakeProbe{name: "tcp", result: probes.Result{Component: "tcp", Status: probes.StatusHealthy}}},
		nil)

	m.runHealthPass(context.Background())
	snap := m.Snapshot()
	require.Equal(t, OverallHealthy, snap.Overall)
}

func TestOverallStatusFailedWhenAnyProbeFailed(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second},
		bus, kv, nil,
		[]probes.Probe{fakeProbe{name: "tcp", result: probes.Result{Component: "tcp", Status: probes.StatusFailed}}},
		nil)

	m.runHealthPass(context.Background())
	snap := m.Snapshot()
	require.Equal(t, OverallFailed, snap.Overall)
}

func TestOverallStatusDegradedWhenProbeDegradedOrUnavailable(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second},
		bus, kv, nil,
		[]probes.Probe{fakeProbe{name: "gpu", result: probes.Result{Component: "gpu", Status: probes.StatusUnavailable}}},
		nil)

	m.runHealthPass(context.Background())
	snap := m.Snapshot()
	require.Equal(t, OverallDegraded, snap.Overall)
}

func TestStatusTransitionPublishesBusEvent(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	received := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventHealthDegraded, func(ev eventbus.Event) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	defer func() {
		cancel()
		bus.Wait()
	}()

	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second},
		bus, kv, nil, nil, nil)
	m.runHealthPass(context.Background())
	require.Equal(t, OverallHealthy, m.Snapshot().Overall)

	m.healthProbes = []probes.Probe{fakeProbe{name: "tcp", result: probes.Result{Component: "tcp", Status: probes.StatusFailed}}}
	m.runHealthPass(context.Background())

	select {
	case ev := <-received:
		require.Equal(t, eventbus.EventHealthDegraded, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected degraded transition event")
	}
}

func TestRecoverKVStopsImmediatelyOnContextCancel(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second}, bus, kv, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.recoverKV(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("recoverKV must return promptly once ctx is already cancelled")
	}
}

func TestFailureCountersTrackKVAndGPUIndependently(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second}, bus, kv, nil, nil,
		[]probes.Probe{fakeProbe{name: "gpu", result: probes.Result{Component: "gpu", Status: probes.StatusFailed}}})

	m.runFundPass(context.Background())
	kvFailures, gpuFailures := m.FailureCounts(context.Background())
	require.Equal(t, 0, kvFailures)
	require.Equal(t, 1, gpuFailures)

	m.fundProbes = []probes.Probe{fakeProbe{name: "gpu", result: probes.Result{Component: "gpu", Status: probes.StatusHealthy}}}
	m.runFundPass(context.Background())
	_, gpuFailures = m.FailureCounts(context.Background())
	require.Equal(t, 0, gpuFailures)
}

func TestMemoryDiskRatiosReadsSnapshotDetail(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Hour, FundInterval: time.Hour, JoinTimeout: time.Second}, bus, kv, nil,
		[]probes.Probe{
			fakeProbe{name: "memory", result: probes.Result{Component: "memory", Status: probes.StatusHealthy, Detail: map[string]any{"used_ratio": 0.42}}},
			fakeProbe{name: "disk", result: probes.Result{Component: "disk", Status: probes.StatusHealthy, Detail: map[string]any{"used_ratio": 0.77}}},
		}, nil)

	m.runHealthPass(context.Background())
	memRatio, diskRatio := m.MemoryDiskRatios()
	require.Equal(t, 0.42, memRatio)
	require.Equal(t, 0.77, diskRatio)
}

func TestStopReturnsFalseOnTimeoutWhenLoopsDoNotExit(t *testing.T) {
	kv := kvstore.NewMemoryClient()
	bus := eventbus.NewBus()
	m := NewMonitor(Config{HealthInterval: time.Millisecond, FundInterval: time.Millisecond, JoinTimeout: 10 * time.Millisecond},
		bus, kv, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer cancel()
	// Loops are still running (ctx not cancelled), so Stop should time out.
	require.False(t, m.Stop())
	cancel()
}
