// Command doomsdayctl is the operator CLI for the Doomsday Interlock:
// inspect, trigger, or reset the kill switch against the same KV backend
// and lockfile the running kerneld uses.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Rajchodisetti/safety-kernel/internal/config"
	"github.com/Rajchodisetti/safety-kernel/internal/doomsday"
	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/kvstore"
)

func main() {
	configPath := flag.String("config", "config/kernel.yaml", "path to the kernel's YAML configuration")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doomsdayctl: load config: %v\n", err)
		os.Exit(1)
	}

	kv, err := buildKVStore(cfg.KV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doomsdayctl: connect kv: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	bus := eventbus.NewBus()
	interlock := doomsday.NewInterlock(cfg.Doomsday.LockfilePath, kv, bus, doomsday.Thresholds{
		MemoryRatio:         cfg.Doomsday.MemoryRatioThreshold,
		DiskRatio:           cfg.Doomsday.DiskRatioThreshold,
		DailyLoss:           cfg.Doomsday.DailyLossThreshold,
		Liquidation:         cfg.Doomsday.LiquidationThreshold,
		ConsecutiveFailures: cfg.Doomsday.FailureCountThreshold,
	})

	ctx := context.Background()
	switch flag.Arg(0) {
	case "status":
		runStatus(ctx, interlock)
	case "trigger":
		runTrigger(ctx, interlock)
	case "reset":
		runReset(ctx, interlock)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: doomsdayctl [-config path] <status|trigger|reset>")
}

func runStatus(ctx context.Context, i *doomsday.Interlock) {
	state, err := i.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "doomsdayctl: load state: %v\n", err)
		os.Exit(1)
	}
	if state.Triggered {
		fmt.Printf("TRIGGERED at %s: %s\n", state.TriggeredAt.Format("2006-01-02T15:04:05Z"), state.Reason)
		return
	}
	fmt.Println("clear")
}

func runTrigger(ctx context.Context, i *doomsday.Interlock) {
	fmt.Print("reason for manual trigger: ")
	reader := bufio.NewReader(os.Stdin)
	reason, _ := reader.ReadString('\n')
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual trigger via doomsdayctl"
	}
	if err := i.Trigger(ctx, reason); err != nil {
		fmt.Fprintf(os.Stderr, "doomsdayctl: trigger: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("triggered")
}

func runReset(ctx context.Context, i *doomsday.Interlock) {
	fmt.Print("reset password: ")
	reader := bufio.NewReader(os.Stdin)
	password, _ := reader.ReadString('\n')
	password = strings.TrimRight(password, "\n")
	if err := i.Reset(ctx, password); err != nil {
		fmt.Fprintf(os.Stderr, "doomsdayctl: reset: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("reset")
}

// buildKVStore falls back to an in-memory client when no Redis address is
// configured. That fallback only makes sense for kerneld, whose state
// lives for the process lifetime — against a bare KV.Addr, doomsdayctl's
// own view of interlock state won't match a separately-running kerneld's.
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
