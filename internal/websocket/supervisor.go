package websocket

import (
	"context"
	"log/slog"
	"time"

	"pulse/server/internal/telemetry"
)

// Supervisor evicts connections that have gone quiet for longer than the
// liveness timeout, e.g. half-open transports that never report closure.
type Supervisor struct {
	registry  *Registry
	lifecycle *Lifecycle
	timeout   time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewSupervisor creates a liveness sweeper
func NewSupervisor(registry *Registry, lifecycle *Lifecycle, timeout, interval time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Supervisor {
	return &Supervisor{
		registry:  registry,
		lifecycle: lifecycle,
		timeout:   timeout,
		interval:  interval,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep closes every connection idle since before now minus the timeout,
// exactly as an explicit close would. It returns how many were evicted.
func (s *Supervisor) Sweep(ctx context.Context, now time.Time) int {
	stale := s.registry.Stale(now.Add(-s.timeout))
	for _, c := range stale {
		s.logger.Warn("evicting idle connection", "user", c.UserID, "conn", c.Handle.ID(), "idle", now.Sub(c.LastActivity).Round(time.Second))
		s.metrics.Evicted()

		if err := c.Handle.Close(); err != nil {
			s.logger.Debug("close evicted connection", "conn", c.Handle.ID(), "error", err)
		}
		if _, err := s.lifecycle.Disconnect(ctx, c); err != nil {
			s.logger.Error("failed to announce offline after eviction", "user", c.UserID, "error", err)
		}
	}
	return len(stale)
}
