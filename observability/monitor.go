// Package observability reports periodic engine statistics through the
// process logger.
package observability

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// StatsSource exposes the point-in-time counters the monitor reports.
type StatsSource interface {
	Counts() (rooms, connections int)
}

// Monitor is a supervised worker logging engine and Go runtime stats on a
// fixed interval.
type Monitor struct {
	log      *slog.Logger
	source   StatsSource
	interval time.Duration
}

func NewMonitor(log *slog.Logger, source StatsSource, interval time.Duration) *Monitor {
	return &Monitor{log: log, source: source, interval: interval}
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *Monitor) report() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rooms, connections := m.source.Counts()
	m.log.Info("Engine stats",
		"rooms", rooms,
		"connections", connections,
		"goroutines", runtime.NumGoroutine(),
		"alloc_mb", ms.Alloc/1024/1024,
		"num_gc", ms.NumGC,
	)
}
