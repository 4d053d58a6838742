package probes

import (
	"context"

	"golang.org/x/sys/unix"
)

// DiskProbe samples free space on the filesystem backing path. Ratio is the
// fraction of the filesystem currently in use; the Doomsday Interlock
// watches this same ratio for its own, independent threshold.
type DiskProbe struct {
	path           string
	degradedRatio  float64
	failedRatio    float64
}

// NewDiskProbe configures thresholds as fractions in (0,1].
func NewDiskProbe(path string, degradedRatio, failedRatio float64) *DiskProbe {
	return &DiskProbe{path: path, degradedRatio: degradedRatio, failedRatio: failedRatio}
}

func (p *DiskProbe) Name() string { return "disk" }

func (p *DiskProbe) Run(_ context.Context) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(p.path, &stat); err != nil {
		return Result{Component: p.Name(), Status: StatusUnavailable, Err: err}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return Result{Component: p.Name(), Status: StatusUnavailable}
	}
	used := float64(total-free) / float64(total)

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
			"used_ratio":  used,
			"total_bytes": total,
			"free_bytes":  free,
		},
	}
}
