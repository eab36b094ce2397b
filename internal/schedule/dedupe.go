package schedule

import (
	"context"
	"log/slog"
	"strings"

	"fleetguard/internal/model"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

// DedupeTask removes redundant default overspeed subscriptions that a
// customized subscription of the same user already covers.
type DedupeTask struct {
	logger *slog.Logger
	store  storage.Store
	stats  *stats.Store
}

func NewDedupeTask(logger *slog.Logger, store storage.Store, statsStore *stats.Store) *DedupeTask {
	return &DedupeTask{logger: logger, store: store, stats: statsStore}
}

func (t *DedupeTask) Run(ctx context.Context) {
	if t.store == nil {
		return
	}
	if t.stats != nil {
		t.stats.Inc(stats.DedupeRuns)
	}
	removed, err := t.sweep(ctx)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("overspeed dedupe sweep failed", "err", err)
		}
		return
	}
	if removed > 0 && t.logger != nil {
		t.logger.Info("duplicate overspeed subscriptions removed", "count", removed)
	}
}

func (t *DedupeTask) sweep(ctx context.Context) (int, error) {
	notifications, err := t.store.ListNotifications(ctx)
	if err != nil {
		return 0, err
	}
	overspeed := make(map[int64]model.Notification)
	for _, n := range notifications {
		if n.Type == model.TypeDeviceOverspeed || n.Type == "overspeed" {
			overspeed[n.ID] = n
		}
	}
	if len(overspeed) == 0 {
		return 0, nil
	}
	deviceLinks, err := t.store.DeviceNotificationLinks(ctx)
	if err != nil {
		return 0, err
	}
	userLinks, err := t.store.UserNotificationLinks(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for userID, linked := range userLinks {
		var subs []model.Notification
		for _, id := range linked {
			if n, ok := overspeed[id]; ok {
				subs = append(subs, n)
			}
		}
		if len(subs) < 2 {
			continue
		}
		var preferred []model.Notification
		for _, n := range subs {
			if !defaultDescription(n) {
				preferred = append(preferred, n)
			}
		}
		if len(preferred) == 0 {
			continue
		}
		for _, n := range subs {
			if !defaultDescription(n) {
				continue
			}
			if !coveredBy(n, preferred, deviceLinks) {
				continue
			}
			if err := t.store.UnlinkUserNotification(ctx, userID, n.ID); err != nil {
				if t.logger != nil {
					t.logger.Warn("unlink failed", "err", err, "user_id", userID, "notification_id", n.ID)
				}
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func defaultDescription(n model.Notification) bool {
	desc := strings.TrimSpace(n.Description)
	return desc == "" || desc == n.Type
}

func coveredBy(original model.Notification, candidates []model.Notification, deviceLinks map[int64][]int64) bool {
	for _, candidate := range candidates {
		if original.Always && !candidate.Always {
			continue
		}
		if candidate.Always {
			return true
		}
		if containsAll(deviceLinks[candidate.ID], deviceLinks[original.ID]) {
			return true
		}
	}
	return false
}

func containsAll(set, subset []int64) bool {
	if len(subset) == 0 {
		return true
	}
	members := make(map[int64]struct{}, len(set))
	for _, id := range set {
		members[id] = struct{}{}
	}
	for _, id := range subset {
		if _, ok := members[id]; !ok {
			return false
		}
	}
	return true
}
