package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/safety-kernel/internal/config"
	"github.com/Rajchodisetti/safety-kernel/internal/costs"
	"github.com/Rajchodisetti/safety-kernel/internal/kernel"
	"github.com/Rajchodisetti/safety-kernel/internal/kernelerr"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
	"github.com/Rajchodisetti/safety-kernel/internal/risk"
)

func main() {
	configPath := flag.String("config", "config/kernel.yaml", "path to the kernel's YAML configuration")
	dev := flag.Bool("dev", false, "use a development (console) logger instead of production JSON")
	flag.Parse()

	if *dev {
		l, err := zap.NewDevelopment()
		if err == nil {
			observ.SetLogger(l)
		}
	}
	defer observ.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.LogError("config_load_failed", err, nil)
		os.Exit(1)
	}

	kv, err := buildKVStore(cfg.KV)
	if err != nil {
		observ.LogError("kvstore_init_failed", err, nil)
		os.Exit(1)
	}
	defer kv.Close()

	var caller costs.ModelCaller
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		caller = costs.NewAnthropicCaller(apiKey)
	}

	k, err := kernel.Build(cfg, kv, caller)
	if err != nil {
		fatal := kernelerr.NewFatal("kernel construction failed", err)
		observ.LogError("kernel_build_failed", fatal, nil)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: observ.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("metrics_server_failed", err, nil)
		}
	}()

	if err := k.Start(ctx, zeroRiskSampler); err != nil {
		observ.LogError("kernel_start_failed", err, nil)
		os.Exit(1)
	}

	observ.Log("kerneld_running", map[string]any{"metrics_port": cfg.Metrics.Port})
	<-sigCh
	observ.Log("kerneld_shutting_down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := k.Stop(); err != nil {
		observ.LogError("kernel_stop_failed", err, nil)
		os.Exit(1)
	}
	observ.Log("kerneld_stopped", nil)
}

func buildKVStore(cfg config.KV) (kvstore.Client, error) {
	if cfg.Addr == "" {
		return kvstore.NewMemoryClient(), nil
	}
	client := kvstore.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB)
	if err := client.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// zeroRiskSampler is the default RiskSampler until a real portfolio/market
// feed is wired in: it reports a neutral reading on every axis (zero
// volatility, loss, spread and exposure; full health, quality, depth and
// rating; a normal trend), so the Risk Assessor stays at SeverityLow absent
// any external input, rather than sampling nothing at all and leaving the
// Control Matrix permanently unexercised.
func zeroRiskSampler(context.Context) (risk.Sample, error) {
	return risk.Sample{
		Market:       risk.MarketInputs{Trend: risk.TrendNormal},
		System:       risk.SystemInputs{RedisHealth: 1, GPUHealth: 1, NetworkHealth: 1},
		Operational:  risk.OperationalInputs{Sharpe: 1, DataQuality: 1},
		Liquidity:    risk.LiquidityInputs{VolumeRatio: 1, MarketDepth: 1},
		Counterparty: risk.CounterpartyInputs{BrokerRating: 1},
	}, nil
}
