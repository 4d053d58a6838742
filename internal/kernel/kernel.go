// Package kernel builds the construction graph that wires the six
// subsystems together and owns the kernel's lifecycle — adapted from
// src/core/daemon_manager.py's responsibilities (per the expanded spec's
// module-boundary note) expressed as an explicit struct graph assembled
// once at startup, rather than module-level singletons.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/safety-kernel/internal/config"
	"github.com/Rajchodisetti/safety-kernel/internal/costs"
	"github.com/Rajchodisetti/safety-kernel/internal/doomsday"
	"github.com/Rajchodisetti/safety-kernel/internal/emergency"
	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/health"
	"github.com/Rajchodisetti/safety-kernel/internal/integration"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
	"github.com/Rajchodisetti/safety-kernel/internal/probes"
	"github.com/Rajchodisetti/safety-kernel/internal/risk"
)

// Kernel owns every subsystem and the two background loops (health's own
// periodic probing lives inside health.Monitor; the cost/risk sampling
// loop is owned here since it has no natural home in any single
// subsystem).
type Kernel struct {
	Config config.Root

	Bus       *eventbus.Bus
	KV        kvstore.Client
	Health    *health.Monitor
	Ledger    *costs.Ledger
	Predictor *costs.Predictor
	Breaker   *costs.Breaker
	Assessor  *risk.Assessor
	Matrix    *risk.ControlMatrix
	Responder *emergency.Responder
	Doomsday  *doomsday.Interlock
	Bridges   *integration.Bridges

	samplingInterval time.Duration
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// RiskSampler supplies the latest five-axis risk.Sample each sampling
// tick. cmd/kerneld supplies a fixed neutral sample; tests supply canned
// sources.
type RiskSampler func(ctx context.Context) (risk.Sample, error)

// Build assembles the full construction graph from a loaded configuration.
// It does not start any loop or goroutine — call Start for that.
func Build(cfg config.Root, kv kvstore.Client, caller costs.ModelCaller) (*Kernel, error) {
	bus := eventbus.NewBus()

	healthProbes := []probes.Probe{
		probes.NewDiskProbe("/", cfg.Doomsday.DiskRatioThreshold*0.85, cfg.Doomsday.DiskRatioThreshold),
		probes.NewMemoryProbe(cfg.Doomsday.MemoryRatioThreshold*0.85, cfg.Doomsday.MemoryRatioThreshold),
		probes.NewCPUProbe(0.80, 0.95, 200*time.Millisecond),
	}
	for _, addr := range cfg.Health.TCPPorts {
		healthProbes = append(healthProbes, probes.NewTCPProbe(addr, addr, time.Duration(cfg.Health.KVTimeoutSeconds)*time.Second))
	}
	fundProbes := []probes.Probe{
		probes.NewGPUProbe(cfg.Health.GPUCommand, time.Duration(cfg.Health.GPUTimeoutSeconds)*time.Second, 0.80, 0.95),
	}
	kvProbe := probes.NewKVProbe(kv, 1)

	monitor := health.NewMonitor(health.Config{
		HealthInterval: time.Duration(cfg.Health.HealthIntervalSeconds) * time.Second,
		FundInterval:   time.Duration(cfg.Health.FundIntervalSeconds) * time.Second,
		JoinTimeout:    time.Duration(cfg.Health.ShutdownJoinSeconds) * time.Second,
	}, bus, kv, kvProbe, healthProbes, fundProbes)

	prices := costs.NewPriceTable(cfg.Budgets.PricePerModel, cfg.Budgets.DefaultPriceUSD)
	ledger := costs.NewLedger(kv, prices, bus, cfg.Budgets.DailyUSD, cfg.Budgets.MonthlyUSD)
	predictor := costs.NewPredictor(ledger)
	breaker := costs.NewBreaker(ledger, bus, cfg.Budgets.DailyUSD, cfg.Budgets.MonthlyUSD, cfg.Budgets.PerCallCapUSD, cfg.Budgets.AutoResetPct)
	_ = caller // accepted for the signature; nothing in the graph Build wires uses it

	assessor := risk.NewAssessor(risk.Thresholds{
		Market:       risk.MarketThresholds{Volatility: cfg.Risk.Market.Volatility, DailyLossRatio: cfg.Risk.Market.DailyLossRatio},
		System:       risk.SystemThresholds{MinHealth: cfg.Risk.System.MinHealth},
		Operational:  risk.OperationalThresholds{DataQuality: cfg.Risk.Operational.DataQuality, Overfitting: cfg.Risk.Operational.Overfitting},
		Liquidity:    risk.LiquidityThresholds{Spread: cfg.Risk.Liquidity.Spread, MarketDepth: cfg.Risk.Liquidity.MarketDepth},
		Counterparty: risk.CounterpartyThresholds{BrokerRating: cfg.Risk.Counterparty.BrokerRating, CreditExposure: cfg.Risk.Counterparty.CreditExposure},
	}, cfg.Risk.HistoryWindow, cfg.Risk.MaxHistory)
	matrix := risk.NewControlMatrix()

	var notifier emergency.Notifier
	if cfg.Slack.Enabled {
		notifier = emergency.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.ChannelDefault)
	} else {
		notifier = noopNotifier{}
	}
	responder := emergency.NewResponder(notifier, bus, cfg.Slack.RateLimitPerMin)

	interlock := doomsday.NewInterlock(cfg.Doomsday.LockfilePath, kv, bus, doomsday.Thresholds{
		MemoryRatio:         cfg.Doomsday.MemoryRatioThreshold,
		DiskRatio:           cfg.Doomsday.DiskRatioThreshold,
		DailyLoss:           cfg.Doomsday.DailyLossThreshold,
		Liquidation:         cfg.Doomsday.LiquidationThreshold,
		ConsecutiveFailures: cfg.Doomsday.FailureCountThreshold,
	})

	bridges := &integration.Bridges{Bus: bus, Responder: responder, Matrix: matrix, Doomsday: interlock, Assessor: assessor, Health: monitor}
	bridges.Wire()

	return &Kernel{
		Config:           cfg,
		Bus:              bus,
		KV:               kv,
		Health:           monitor,
		Ledger:           ledger,
		Predictor:        predictor,
		Breaker:          breaker,
		Assessor:         assessor,
		Matrix:           matrix,
		Responder:        responder,
		Doomsday:         interlock,
		Bridges:          bridges,
		samplingInterval: time.Duration(cfg.Metrics.CollectionIntervalSecs) * time.Second,
	}, nil
}

// Start launches the event bus, the Health Monitor's loops, the Emergency
// Responder's dispatch worker, the doomsday lockfile watcher, and the
// kernel's own cost/risk sampling loop.
func (k *Kernel) Start(ctx context.Context, sampler RiskSampler) error {
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	k.Bus.Start(runCtx)
	k.Health.Start(runCtx)
	k.Responder.Start(runCtx)

	if err := doomsday.WatchLockfile(runCtx, k.Config.Doomsday.LockfilePath, k.Bus); err != nil {
		observ.LogError("doomsday_watch_start_failed", err, nil)
	}

	if sampler != nil {
		k.wg.Add(1)
		go k.samplingLoop(runCtx, sampler)
	}

	observ.Log("kernel_started", nil)
	return nil
}

func (k *Kernel) samplingLoop(ctx context.Context, sampler RiskSampler) {
	defer k.wg.Done()
	interval := k.samplingInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	for {
		in, err := sampler(ctx)
		if err != nil {
			observ.LogError("risk_sample_failed", err, nil)
		} else if err := k.Bridges.RunRiskCycle(ctx, in); err != nil {
			observ.LogError("risk_cycle_failed", err, nil)
		}

		// Ledger.Track already raises daily/monthly budget alerts
		// synchronously on every tracked call (§4.2's "after increment,
		// consults budget state"); the sampling loop only needs to
		// re-check the monthly *prediction*, which has no natural
		// per-call trigger of its own.
		if prediction, err := k.Predictor.PredictMonthly(ctx, k.Config.Budgets.MonthlyUSD); err == nil && prediction.IsOverBudget {
			k.Bus.Publish(eventbus.NewEvent(eventbus.EventCostBudgetWarning, "costs", eventbus.PriorityNormal, costs.AlertRecord{
				LimitType: "monthly_projected", CurrentCost: prediction.PredictedMonthly, Budget: prediction.Budget,
				Utilization: prediction.Utilization, ExcessAmount: prediction.PredictedMonthly - prediction.Budget, Timestamp: timeNow().UTC(),
			}))
		}
		if _, err := k.Breaker.AutoResetIfPossible(ctx); err != nil {
			observ.LogError("breaker_auto_reset_failed", err, nil)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Stop cancels every loop and waits (up to the configured join timeout)
// for them to exit.
func (k *Kernel) Stop() error {
	if k.cancel != nil {
		k.cancel()
	}

	if !k.Health.Stop() {
		observ.Log("kernel_health_monitor_stop_timeout", nil)
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		k.Responder.Wait()
		k.Bus.Wait()
		close(done)
	}()

	timeout := time.Duration(k.Config.Health.ShutdownJoinSeconds) * time.Second
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("kernel: shutdown timed out after %s", timeout)
	}
}

// noopNotifier discards alerts; used when Slack delivery is disabled so
// the Emergency Responder still runs its full queue/dedupe/rate-limit
// pipeline in tests and in environments with no configured webhook.
type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, emergency.Alert) error { return nil }

// timeNow is a thin indirection so tests can't accidentally depend on
// wall-clock behavior of the sampling loop's budget check.
func timeNow() time.Time { return time.Now() }
