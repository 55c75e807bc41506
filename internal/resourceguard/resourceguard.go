// Package resourceguard periodically samples disk free space on the
// store's data volume and the process's own resident set size,
// warning and updating metrics when either crosses a configured
// threshold — adapted from the teacher's leak-detection resource
// monitor, replacing its goroutine/FD tracking with the two resources
// that actually threaten this store: disk space under the append-only
// file tree and process memory under sustained ingest.
package resourceguard

import (
	"context"
	"os"
	"time"

	"github.com/xtrace/reportstore/internal/config"
	"github.com/xtrace/reportstore/internal/metrics"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

type Guard struct {
	cfg     config.ResourceConfig
	rootDir string
	logger  *logrus.Logger
	proc    *process.Process
}

func New(cfg config.ResourceConfig, rootDir string, logger *logrus.Logger) (*Guard, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Guard{cfg: cfg, rootDir: rootDir, logger: logger, proc: proc}, nil
}

// Run samples resources on cfg.SampleInterval until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sample()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Guard) sample() {
	if usage, err := disk.Usage(g.rootDir); err == nil {
		metrics.DiskFreeBytes.Set(float64(usage.Free))
		if int64(usage.Free) < g.cfg.MinFreeDiskBytes {
			g.warn("low disk space on store root", usage.Free)
		}
	} else if g.logger != nil {
		g.logger.WithFields(logrus.Fields{"component": "resourceguard"}).Warn("disk usage sample failed: " + err.Error())
	}

	if memInfo, err := g.proc.MemoryInfo(); err == nil {
		metrics.ProcessRSSBytes.Set(float64(memInfo.RSS))
		if g.cfg.MaxProcessRSSBytes > 0 && memInfo.RSS > uint64(g.cfg.MaxProcessRSSBytes) {
			g.warn("process RSS above configured threshold", memInfo.RSS)
		}
	} else if g.logger != nil {
		g.logger.WithFields(logrus.Fields{"component": "resourceguard"}).Warn("memory sample failed: " + err.Error())
	}
}

func (g *Guard) warn(message string, value any) {
	if g.logger == nil {
		return
	}
	g.logger.WithFields(logrus.Fields{
		"component": "resourceguard",
		"value":     value,
	}).Warn(message)
}
