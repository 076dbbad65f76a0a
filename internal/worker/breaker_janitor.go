package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/bifrost-ai/bifrost/internal/circuitbreaker"
)

const (
	janitorInterval = 10 * time.Minute
	janitorStaleAge = time.Hour
)

// BreakerJanitor periodically evicts circuit breakers for routes that have
// seen no traffic, keeping the registry bounded on deployments with many
// transient route keys.
type BreakerJanitor struct {
	registry *circuitbreaker.Registry
	interval time.Duration
	staleAge time.Duration
}

// NewBreakerJanitor creates a janitor with the default cadence.
func NewBreakerJanitor(registry *circuitbreaker.Registry) *BreakerJanitor {
	return &BreakerJanitor{
		registry: registry,
		interval: janitorInterval,
		staleAge: janitorStaleAge,
	}
}

// Run sweeps until ctx is cancelled.
func (j *BreakerJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.registry.EvictStale(time.Now().Add(-j.staleAge)); n > 0 {
				slog.Info("evicted stale circuit breakers", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
