package schedule

import (
	"context"
	"log/slog"

	"fleetguard/internal/cache"
	"fleetguard/internal/model"
	"fleetguard/internal/storage"
)

var defaultKit = []string{
	model.TypeGeofenceEnter,
	model.TypeGeofenceExit,
	model.TypeIgnitionOn,
	model.TypeIgnitionOff,
	model.TypeDeviceOverspeed,
	model.TypeMaintenance,
}

// ProvisionDefaults gives every user without any notification link the
// standard subscription kit, creating missing kit notifications first.
func ProvisionDefaults(ctx context.Context, logger *slog.Logger, store storage.Store, cacheStore *cache.Cache) error {
	if store == nil {
		return nil
	}
	notifications, err := store.ListNotifications(ctx)
	if err != nil {
		return err
	}
	kitIDs := make([]int64, 0, len(defaultKit))
	created := 0
	for _, kitType := range defaultKit {
		var id int64
		for _, n := range notifications {
			if n.Type == kitType && n.Always && defaultDescription(n) {
				id = n.ID
				break
			}
		}
		if id == 0 {
			n := &model.Notification{
				Type:         kitType,
				Description:  kitType,
				Always:       true,
				Notificators: "push,web",
			}
			if err := store.SaveNotification(ctx, n); err != nil {
				return err
			}
			id = n.ID
			created++
		}
		kitIDs = append(kitIDs, id)
	}

	links, err := store.UserNotificationLinks(ctx)
	if err != nil {
		return err
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	provisioned := 0
	for _, user := range users {
		if len(links[user.ID]) > 0 {
			continue
		}
		if err := store.LinkUserNotifications(ctx, user.ID, kitIDs); err != nil {
			if logger != nil {
				logger.Warn("default kit link failed", "err", err, "user_id", user.ID)
			}
			continue
		}
		provisioned++
	}
	if created > 0 && cacheStore != nil {
		cacheStore.InvalidateNotifications()
	}
	if logger != nil && (created > 0 || provisioned > 0) {
		logger.Info("default notifications provisioned", "created", created, "users", provisioned)
	}
	return nil
}
