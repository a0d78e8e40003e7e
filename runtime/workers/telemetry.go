package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-relay/observability"
)

// TelemetryWorker samples the server's own process metrics (CPU, RSS,
// OS status) on a fixed interval and records them in the monitoring
// manager for the health endpoint.
type TelemetryWorker struct {
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewTelemetryWorker(log *slog.Logger,
	monitoring *observability.MonitoringManager, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, monitoring: monitoring, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Error("Error while finding process cpu usage", "err", err)
				continue
			}
			memInfo, err := p.MemoryInfo()
			if err != nil {
				w.log.Error("Error while finding process memory usage", "err", err)
				continue
			}
			status, err := p.Status()
			if err != nil {
				w.log.Error("Error while finding process status", "err", err)
				continue
			}
			w.monitoring.RecordProcessSample(cpu, memInfo.RSS, status)
		}
	}
}
