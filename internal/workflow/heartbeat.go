package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scriptreel/internal/logging"
	"scriptreel/internal/queue"
)

// HeartbeatMonitor keeps in-flight jobs marked live while a run owns them.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
}

// NewHeartbeatMonitor creates a monitor updating at the given interval.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval time.Duration) *HeartbeatMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{store: store, logger: logger, interval: interval}
}

// StartLoop updates the job heartbeat until the context ends.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithComponent(h.logger, "workflow-heartbeat")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed",
					logging.Error(err),
					logging.String(logging.FieldJobID, jobID),
				)
			}
		}
	}
}
