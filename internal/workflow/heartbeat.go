package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"glossa/internal/jobs"
	"glossa/internal/logging"
)

// HeartbeatMonitor keeps in-flight jobs visibly alive and reclaims the ones
// whose executor disappeared.
type HeartbeatMonitor struct {
	store             *jobs.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimOrphans cancels jobs whose heartbeat went stale. Safe to call
// repeatedly; a second pass right after the first reclaims nothing.
func (h *HeartbeatMonitor) ReclaimOrphans(ctx context.Context, logger *slog.Logger) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	if logger == nil {
		logger = h.logger
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimOrphans(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed orphaned jobs", slog.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

// StartLoop refreshes one job's heartbeat until the context ends.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := h.logger.With(
		slog.String(logging.FieldComponent, "heartbeat"),
		slog.String(logging.FieldJobID, jobID),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Heartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
