package probes

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
)

// MemoryProbe parses /proc/meminfo. There is no third-party host-metrics
// library anywhere in the reference pack (no gopsutil, no go-osstat), so
// this probe, like the CPU probe's /proc/stat parse, uses only the
// standard library; the KV probe rides an ecosystem client and the disk
// probe a pack-grounded syscall wrapper (golang.org/x/sys/unix).
type MemoryProbe struct {
	degradedRatio float64
	failedRatio   float64
}

// NewMemoryProbe configures thresholds as fractions in (0,1].
func NewMemoryProbe(degradedRatio, failedRatio float64) *MemoryProbe {
	return &MemoryProbe{degradedRatio: degradedRatio, failedRatio: failedRatio}
}

func (p *MemoryProbe) Name() string { return "memory" }

func (p *MemoryProbe) Run(_ context.Context) Result {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return Result{Component: p.Name(), Status: StatusUnavailable, Err: err}
	}
	defer f.Close()

	fields := map[string]uint64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		fields[key] = v
	}

	total, haveTotal := fields["MemTotal"]
	avail, haveAvail := fields["MemAvailable"]
	if !haveTotal || !haveAvail || total == 0 {
		return Result{Component: p.Name(), Status: StatusUnavailable}
	}

	used := float64(total-avail) / float64(total)
	status := StatusHealthy
	if used >= p.failedRatio {
		status = StatusFailed
	} else if used >= p.degradedRatio {
		status = StatusDegraded
	}

	return Result{
		Component: p.Name(),
		Status:    status,
		Detail: map[string]any{
			"used_ratio":    used,
			"total_kb":      total,
			"available_kb":  avail,
		},
	}
}
