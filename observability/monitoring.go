// Package observability aggregates runtime counters for the health
// endpoint and the telemetry worker. Counters are atomic so the hot
// paths (dispatch, connect, disconnect) never contend on a lock.
package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats is the snapshot served by /healthz.
type MonitoringStats struct {
	MessagesCreated   uint64  `json:"messages_created"`
	MessagesDeleted   uint64  `json:"messages_deleted"`
	EventsDelivered   uint64  `json:"events_delivered"`
	DeliveryFailures  uint64  `json:"delivery_failures"`
	DroppedEvents     uint64  `json:"dropped_events"`
	ActiveChannels    int64   `json:"active_channels"`
	LongPollWaiters   int64   `json:"long_poll_waiters"`
	AllocMemMb        uint64  `json:"alloc_mem_mb"`
	NumGC             uint32  `json:"num_gc"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	ProcessStatus     string  `json:"process_status"`
	SampledAt         string  `json:"sampled_at"`
}

// MonitoringManager collects real-time telemetry.
type MonitoringManager struct {
	log *slog.Logger

	messagesCreated  atomic.Uint64
	messagesDeleted  atomic.Uint64
	eventsDelivered  atomic.Uint64
	deliveryFailures atomic.Uint64
	droppedEvents    atomic.Uint64
	activeChannels   atomic.Int64
	longPollWaiters  atomic.Int64

	mu      sync.RWMutex
	process processSample
}

type processSample struct {
	cpuPercent float64
	rssBytes   uint64
	status     string
	sampledAt  time.Time
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

func (mm *MonitoringManager) IncrMessagesCreated()  { mm.messagesCreated.Add(1) }
func (mm *MonitoringManager) IncrMessagesDeleted()  { mm.messagesDeleted.Add(1) }
func (mm *MonitoringManager) IncrEventsDelivered()  { mm.eventsDelivered.Add(1) }
func (mm *MonitoringManager) IncrDeliveryFailures() { mm.deliveryFailures.Add(1) }
func (mm *MonitoringManager) IncrDroppedEvents()    { mm.droppedEvents.Add(1) }

func (mm *MonitoringManager) ChannelOpened()  { mm.activeChannels.Add(1) }
func (mm *MonitoringManager) ChannelClosed()  { mm.activeChannels.Add(-1) }
func (mm *MonitoringManager) PollStarted()    { mm.longPollWaiters.Add(1) }
func (mm *MonitoringManager) PollFinished()   { mm.longPollWaiters.Add(-1) }

// RecordProcessSample stores the latest self-process metrics collected
// by the telemetry worker.
func (mm *MonitoringManager) RecordProcessSample(cpuPercent float64, rssBytes uint64, status string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.process = processSample{
		cpuPercent: cpuPercent,
		rssBytes:   rssBytes,
		status:     status,
		sampledAt:  time.Now().UTC(),
	}
}

// Snapshot assembles the current stats, including Go heap figures.
func (mm *MonitoringManager) Snapshot() MonitoringStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	mm.mu.RLock()
	process := mm.process
	mm.mu.RUnlock()

	return MonitoringStats{
		MessagesCreated:   mm.messagesCreated.Load(),
		MessagesDeleted:   mm.messagesDeleted.Load(),
		EventsDelivered:   mm.eventsDelivered.Load(),
		DeliveryFailures:  mm.deliveryFailures.Load(),
		DroppedEvents:     mm.droppedEvents.Load(),
		ActiveChannels:    mm.activeChannels.Load(),
		LongPollWaiters:   mm.longPollWaiters.Load(),
		AllocMemMb:        mem.Alloc / 1024 / 1024,
		NumGC:             mem.NumGC,
		ProcessCPUPercent: process.cpuPercent,
		ProcessRSSBytes:   process.rssBytes,
		ProcessStatus:     process.status,
		SampledAt:         process.sampledAt.Format(time.RFC3339),
	}
}
