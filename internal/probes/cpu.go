package probes

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

type cpuSample struct {
	idle  uint64
	total uint64
}

func readCPUSample() (cpuSample, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuSample{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		var total, idle uint64
		for i, raw := range fields[1:] {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				continue
			}
			total += v
			if i == 3 { // idle column
				idle = v
			}
		}
		return cpuSample{idle: idle, total: total}, nil
	}
	return cpuSample{}, os.ErrNotExist
}

// CPUProbe takes two /proc/stat samples spaced by SampleInterval and
// reports utilization as the delta between them, since a single snapshot
// of cumulative jiffies carries no rate information.
type CPUProbe struct {
	degradedRatio  float64
	failedRatio    float64
	sampleInterval time.Duration
}

// NewCPUProbe configures thresholds as fractions in (0,1] and the spacing
// between the two samples taken per Run call.
func NewCPUProbe(degradedRatio, failedRatio float64, sampleInterval time.Duration) *CPUProbe {
	if sampleInterval <= 0 {
		sampleInterval = 200 * time.Millisecond
	}
	return &CPUProbe{degradedRatio: degradedRatio, failedRatio: failedRatio, sampleInterval: sampleInterval}
}

func (p *CPUProbe) Name() string { return "cpu" }

func (p *CPUProbe) Run(ctx context.Context) Result {
	first, err := readCPUSample()
	if err != nil {
		return Result{Component: p.Name(), Status: StatusUnavailable, Err: err}
	}

	select {
	case <-ctx.Done():
		return Result{Component: p.Name(), Status: StatusUnavailable, Err: ctx.Err()}
	case <-time.After(p.sampleInterval):
	}

	second, err := readCPUSample()
	if err != nil {
		return Result{Component: p.Name(), Status: StatusUnavailable, Err: err}
	}

	totalDelta := second.total - first.total
	idleDelta := second.idle - first.idle
	if totalDelta == 0 {
		return Result{Component: p.Name(), Status: StatusUnavailable}
	}

	used := 1 - float64(idleDelta)/float64(totalDelta)
	status := StatusHealthy
	if used >= p.failedRatio {
		status = StatusFailed
	} else if used >= p.degradedRatio {
		status = StatusDegraded
	}

	return Result{
		Component: p.Name(),
		Status:    status,
		Detail:    map[string]any{"used_ratio": used},
	}
}
