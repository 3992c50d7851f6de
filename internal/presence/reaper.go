package presence

import (
	"context"
	"time"
)

// EvictionHandler is invoked once per incident whose membership changed
// during a sweep, so the caller can broadcast presence:left for each
// evicted entry.
type EvictionHandler func(incidentID string, evicted []Entry)

// RunReaper ticks every interval and sweeps entries whose LastActiveAt is
// older than ttl, until ctx is cancelled. Intended to run in its own
// goroutine for the lifetime of the server.
func RunReaper(ctx context.Context, reg *Registry, interval, ttl time.Duration, onEvict EvictionHandler) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := reg.Sweep(now.Add(-ttl))
			if onEvict == nil {
				continue
			}
			for incidentID, entries := range evicted {
				onEvict(incidentID, entries)
			}
		}
	}
}
