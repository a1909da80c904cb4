package workers

import (
	"chat-gateway/contract"
	"chat-gateway/runtime"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*StatsReporter)(nil)

// GatewayStats is the snapshot served on /stats.
type GatewayStats struct {
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Tracked     int       `json:"tracked"`
	RSSBytes    uint64    `json:"rss_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// StatsReporter periodically samples the gateway and its own process.
type StatsReporter struct {
	log      *slog.Logger
	registry *runtime.Registry
	monitor  *HeartbeatMonitor
	interval time.Duration

	mu     sync.RWMutex
	latest GatewayStats
}

func NewStatsReporter(log *slog.Logger, registry *runtime.Registry, monitor *HeartbeatMonitor, interval time.Duration) *StatsReporter {
	return &StatsReporter{log: log, registry: registry, monitor: monitor, interval: interval}
}

func (w *StatsReporter) Run(ctx context.Context) error {
	w.log.Info("Starting stats reporter", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := w.Collect(p)
			w.log.Info("Gateway stats",
				"connections", stats.Connections,
				"rooms", stats.Rooms,
				"tracked", stats.Tracked,
				"rss", stats.RSSBytes,
				"cpu", stats.CPUPercent)
		}
	}
}

// Collect samples the registry and, when p is not nil, the process.
func (w *StatsReporter) Collect(p *process.Process) GatewayStats {
	stats := GatewayStats{
		Connections: w.registry.Len(),
		Rooms:       w.registry.Rooms(),
		At:          time.Now().UTC(),
	}
	if w.monitor != nil {
		stats.Tracked = w.monitor.Tracked()
	}
	if p != nil {
		rss, cpu, status, err := getSelfStats(p)
		if err != nil {
			w.log.Warn("Failed to collect self stats", "error", err)
		} else {
			stats.RSSBytes, stats.CPUPercent, stats.Status = rss, cpu, status
		}
	}

	w.mu.Lock()
	w.latest = stats
	w.mu.Unlock()
	return stats
}

func (w *StatsReporter) Latest() GatewayStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

// getSelfStats retrieves memory, CPU and OS status for the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
