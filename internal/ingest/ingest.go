package ingest

import (
	"context"
	"log/slog"
	"time"

	"fleetguard/internal/model"
	"fleetguard/internal/stats"
)

// SendNonBlocking pushes pos onto the pipeline channel without ever
// blocking a source loop. A full channel drops the position and counts it.
func SendNonBlocking(ctx context.Context, out chan<- model.Position, pos model.Position, source string, logger *slog.Logger, st *stats.Store) bool {
	select {
	case out <- pos:
		if st != nil {
			st.Inc(stats.PositionsIngested)
		}
		return true
	case <-ctx.Done():
		return false
	default:
		if st != nil {
			st.Inc(stats.PositionsDropped)
		}
		if logger != nil {
			logger.Warn("position channel full, dropping position", "source", source, "device_id", pos.DeviceID)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
