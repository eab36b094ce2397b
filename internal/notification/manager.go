package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/forward"
	"fleetguard/internal/model"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

const legacyOverspeedType = "overspeed"

type Manager struct {
	logger    *slog.Logger
	store     storage.Store
	cache     *cache.Cache
	stats     *stats.Store
	forwarder *forward.Forwarder
	senders   map[string]Sender
	cfg       atomic.Value
}

func NewManager(cfg *config.Config, logger *slog.Logger, store storage.Store, cacheStore *cache.Cache, statsStore *stats.Store, forwarder *forward.Forwarder, senders map[string]Sender) *Manager {
	m := &Manager{
		logger:    logger,
		store:     store,
		cache:     cacheStore,
		stats:     statsStore,
		forwarder: forwarder,
		senders:   senders,
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.cfg.Store(cfg)
}

func (m *Manager) config() *config.Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (m *Manager) Submit(ctx context.Context, event model.Event, position *model.Position) {
	cfg := m.config()

	if m.store != nil {
		if err := m.store.SaveEvent(ctx, &event); err != nil && m.logger != nil {
			m.logger.Warn("save event failed", "err", err, "type", event.Type, "device_id", event.DeviceID)
		}
	}
	if m.forwarder != nil {
		m.forwarder.Forward(event, position)
	}

	threshold := time.Duration(cfg.Notifications.TimeThreshold)
	if threshold > 0 && time.Since(event.EventTime) > threshold {
		if m.logger != nil {
			m.logger.Info("event too old for delivery",
				"type", event.Type, "device_id", event.DeviceID, "event_time", event.EventTime)
		}
		return
	}

	notifications, err := m.cache.DeviceNotifications(ctx, event.DeviceID)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("load device notifications failed", "err", err, "device_id", event.DeviceID)
		}
		return
	}
	for _, notification := range notifications {
		if !matchesType(notification, event) {
			continue
		}
		if !m.calendarAllows(ctx, notification.CalendarID, event.EventTime) {
			continue
		}
		m.dispatch(ctx, cfg, notification, event, position)
	}
}

func (m *Manager) dispatch(ctx context.Context, cfg *config.Config, notification model.Notification, event model.Event, position *model.Position) {
	if m.store == nil {
		return
	}
	users, err := m.store.NotificationUsers(ctx, notification.ID, event.DeviceID)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("load notification users failed", "err", err, "notification_id", notification.ID)
		}
		return
	}
	for i := range users {
		user := &users[i]
		if user.Disabled {
			continue
		}
		if blockedUser(cfg.Notifications.BlockedUsers, user.ID) {
			if m.logger != nil {
				m.logger.Info("notification blocked for user", "user_id", user.ID, "type", event.Type)
			}
			continue
		}
		for _, channel := range notification.NotificatorList() {
			m.deliver(ctx, channel, notification, user, event, position)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, channel string, notification model.Notification, user *model.User, event model.Event, position *model.Position) {
	var err error
	if sender, ok := m.senders[channel]; ok {
		err = sender.Send(ctx, user, event, position)
	} else {
		err = fmt.Errorf("unknown channel %q", channel)
	}

	record := model.DeliveryRecord{
		EventID:        event.ID,
		NotificationID: notification.ID,
		UserID:         user.ID,
		Channel:        channel,
		Delivered:      err == nil,
		SentAt:         time.Now().UTC(),
	}
	if err != nil {
		record.Error = err.Error()
		if m.stats != nil {
			m.stats.Inc(stats.DeliveriesFailed)
		}
		if m.logger != nil {
			m.logger.Warn("notification delivery failed",
				"channel", channel, "user_id", user.ID, "type", event.Type, "err", err)
		}
	} else {
		if m.stats != nil {
			m.stats.Inc(stats.DeliveriesOK)
		}
		if m.logger != nil {
			m.logger.Debug("notification delivered",
				"channel", channel, "user_id", user.ID, "type", event.Type)
		}
	}
	if m.store != nil {
		_ = m.store.SaveDeliveryRecord(ctx, record)
	}
}

func (m *Manager) calendarAllows(ctx context.Context, calendarID int64, at time.Time) bool {
	if calendarID == 0 {
		return true
	}
	calendar, err := m.cache.Calendar(ctx, calendarID)
	if err != nil || calendar == nil {
		return true
	}
	return calendar.CheckMoment(at)
}

func matchesType(notification model.Notification, event model.Event) bool {
	switch {
	case notification.Type == event.Type:
	case notification.Type == legacyOverspeedType && event.Type == model.TypeDeviceOverspeed:
	case notification.Type == model.TypeMaintenance && maintenanceFamily(event.Type):
	default:
		return false
	}
	if event.Type == model.TypeAlarm {
		allowed, ok := notification.Attributes.String("alarms")
		if !ok {
			return false
		}
		alarm, _ := event.Attributes.String(model.KeyAlarm)
		for _, candidate := range model.SplitCSV(allowed) {
			if strings.EqualFold(candidate, alarm) {
				return true
			}
		}
		return false
	}
	return true
}

func maintenanceFamily(eventType string) bool {
	switch eventType {
	case model.TypeOilChangeDue, model.TypeOilChangeSoon,
		model.TypeTireRotationDue, model.TypeTireRotationSoon,
		model.TypeMaintenance:
		return true
	}
	return false
}

func blockedUser(blocked []int64, userID int64) bool {
	for _, id := range blocked {
		if id == userID {
			return true
		}
	}
	return false
}
