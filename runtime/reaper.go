package runtime

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically removes closed rooms and stale connection bookkeeping
// from the registry. Both passes are idempotent and read-then-remove only:
// the Open -> Closed transition belongs exclusively to the room actor, so a
// sweep can never race an in-flight join into closing a live room.
type Reaper struct {
	registry *Registry
	interval time.Duration
	log      *slog.Logger
}

func NewReaper(registry *Registry, interval time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{registry: registry, interval: interval, log: log}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rooms := r.registry.SweepRooms()
			conns := r.registry.SweepConnections()
			if rooms > 0 || conns > 0 {
				r.log.Debug("Sweep completed", "rooms_removed", rooms, "connections_removed", conns)
			}
		}
	}
}
