package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveDevice(ctx context.Context, device *model.Device) error
	GetDevice(ctx context.Context, id int64) (*model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	UpdateDeviceFields(ctx context.Context, id int64, name, category string) error
	UpdateDeviceOverspeed(ctx context.Context, id int64, state bool, at time.Time, geofenceID int64) error

	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserAttributes(ctx context.Context, id int64, attrs model.Attributes) error

	SaveGeofence(ctx context.Context, geofence *model.Geofence) error
	GetGeofence(ctx context.Context, id int64) (*model.Geofence, error)
	ListGeofences(ctx context.Context) ([]model.Geofence, error)

	SaveCalendar(ctx context.Context, calendar *model.Calendar) error
	GetCalendar(ctx context.Context, id int64) (*model.Calendar, error)

	SaveNotification(ctx context.Context, notification *model.Notification) error
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	DeviceNotifications(ctx context.Context, deviceID int64) ([]model.Notification, error)
	NotificationUsers(ctx context.Context, notificationID, deviceID int64) ([]model.User, error)
	UserNotificationLinks(ctx context.Context) (map[int64][]int64, error)
	DeviceNotificationLinks(ctx context.Context) (map[int64][]int64, error)
	LinkUserNotification(ctx context.Context, userID, notificationID int64) error
	LinkUserNotifications(ctx context.Context, userID int64, notificationIDs []int64) error
	UnlinkUserNotification(ctx context.Context, userID, notificationID int64) error
	LinkDeviceNotification(ctx context.Context, deviceID, notificationID int64) error
	LinkUserDevice(ctx context.Context, userID, deviceID int64) error
	UserDevices(ctx context.Context, userID int64) ([]model.Device, error)

	SaveEvent(ctx context.Context, event *model.Event) error
	GeofenceEventCounts(ctx context.Context, deviceID int64, from, to time.Time) (int64, int64, error)

	SavePosition(ctx context.Context, position *model.Position) error
	Positions(ctx context.Context, deviceID int64, from, to time.Time) ([]model.Position, error)
	LatestPosition(ctx context.Context, deviceID int64) (*model.Position, error)

	SaveDeliveryRecord(ctx context.Context, record model.DeliveryRecord) error
	SaveStats(ctx context.Context, counters map[string]int64) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db          *sql.DB
	bind        func(string) string
	returningID bool
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	if b.returningID {
		var id int64
		err := b.db.QueryRowContext(ctx, b.bind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := b.db.ExecContext(ctx, b.bind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const deviceColumns = `id, name, unique_id, category, disabled, attributes, overspeed_state, overspeed_time, overspeed_geofence_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(sc rowScanner) (model.Device, error) {
	var d model.Device
	var attrs string
	var overspeedMs int64
	err := sc.Scan(&d.ID, &d.Name, &d.UniqueID, &d.Category, &d.Disabled,
		&attrs, &d.OverspeedState, &overspeedMs, &d.OverspeedGeofenceID)
	if err != nil {
		return model.Device{}, err
	}
	decodeJSON(attrs, &d.Attributes)
	d.OverspeedTime = fromMillis(overspeedMs)
	return d, nil
}

func (b *baseStore) SaveDevice(ctx context.Context, device *model.Device) error {
	if b.db == nil || device == nil {
		return nil
	}
	if device.ID == 0 {
		id, err := b.insertID(ctx,
			`INSERT INTO devices (name, unique_id, category, disabled, attributes, overspeed_state, overspeed_time, overspeed_geofence_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			device.Name, device.UniqueID, device.Category, device.Disabled,
			encodeJSON(device.Attributes), device.OverspeedState,
			toMillis(device.OverspeedTime), device.OverspeedGeofenceID)
		if err != nil {
			return err
		}
		device.ID = id
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO devices (id, name, unique_id, category, disabled, attributes, overspeed_state, overspeed_time, overspeed_geofence_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			unique_id = excluded.unique_id,
			category = excluded.category,
			disabled = excluded.disabled,
			attributes = excluded.attributes,
			overspeed_state = excluded.overspeed_state,
			overspeed_time = excluded.overspeed_time,
			overspeed_geofence_id = excluded.overspeed_geofence_id`),
		device.ID, device.Name, device.UniqueID, device.Category, device.Disabled,
		encodeJSON(device.Attributes), device.OverspeedState,
		toMillis(device.OverspeedTime), device.OverspeedGeofenceID)
	return err
}

func (b *baseStore) GetDevice(ctx context.Context, id int64) (*model.Device, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`), id)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (b *baseStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(`SELECT `+deviceColumns+` FROM devices ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, device)
	}
	return out, rows.Err()
}

func (b *baseStore) UpdateDeviceFields(ctx context.Context, id int64, name, category string) error {
	if b.db == nil {
		return nil
	}
	res, err := b.db.ExecContext(ctx,
		b.bind(`UPDATE devices SET name = ?, category = ? WHERE id = ?`), name, category, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *baseStore) UpdateDeviceOverspeed(ctx context.Context, id int64, state bool, at time.Time, geofenceID int64) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		b.bind(`UPDATE devices SET overspeed_state = ?, overspeed_time = ?, overspeed_geofence_id = ? WHERE id = ?`),
		state, toMillis(at), geofenceID, id)
	return err
}

const userColumns = `id, name, email, phone, disabled, temporary, attributes`

func scanUser(sc rowScanner) (model.User, error) {
	var u model.User
	var attrs string
	err := sc.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Disabled, &u.Temporary, &attrs)
	if err != nil {
		return model.User{}, err
	}
	decodeJSON(attrs, &u.Attributes)
	return u, nil
}

func (b *baseStore) SaveUser(ctx context.Context, user *model.User) error {
	if b.db == nil || user == nil {
		return nil
	}
	if user.ID == 0 {
		id, err := b.insertID(ctx,
			`INSERT INTO users (name, email, phone, disabled, temporary, attributes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			user.Name, user.Email, user.Phone, user.Disabled, user.Temporary, encodeJSON(user.Attributes))
		if err != nil {
			return err
		}
		user.ID = id
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO users (id, name, email, phone, disabled, temporary, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			disabled = excluded.disabled,
			temporary = excluded.temporary,
			attributes = excluded.attributes`),
		user.ID, user.Name, user.Email, user.Phone, user.Disabled, user.Temporary, encodeJSON(user.Attributes))
	return err
}

func (b *baseStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (b *baseStore) ListUsers(ctx context.Context) ([]model.User, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(`SELECT `+userColumns+` FROM users ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (b *baseStore) UpdateUserAttributes(ctx context.Context, id int64, attrs model.Attributes) error {
	if b.db == nil {
		return nil
	}
	res, err := b.db.ExecContext(ctx,
		b.bind(`UPDATE users SET attributes = ? WHERE id = ?`), encodeJSON(attrs), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const geofenceColumns = `id, name, calendar_id, area, attributes`

func scanGeofence(sc rowScanner) (model.Geofence, error) {
	var g model.Geofence
	var attrs string
	err := sc.Scan(&g.ID, &g.Name, &g.CalendarID, &g.Area, &attrs)
	if err != nil {
		return model.Geofence{}, err
	}
	decodeJSON(attrs, &g.Attributes)
	return g, nil
}

func (b *baseStore) SaveGeofence(ctx context.Context, geofence *model.Geofence) error {
	if b.db == nil || geofence == nil {
		return nil
	}
	if geofence.ID == 0 {
		id, err := b.insertID(ctx,
			`INSERT INTO geofences (name, calendar_id, area, attributes) VALUES (?, ?, ?, ?)`,
			geofence.Name, geofence.CalendarID, geofence.Area, encodeJSON(geofence.Attributes))
		if err != nil {
			return err
		}
		geofence.ID = id
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO geofences (id, name, calendar_id, area, attributes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			calendar_id = excluded.calendar_id,
			area = excluded.area,
			attributes = excluded.attributes`),
		geofence.ID, geofence.Name, geofence.CalendarID, geofence.Area, encodeJSON(geofence.Attributes))
	return err
}

func (b *baseStore) GetGeofence(ctx context.Context, id int64) (*model.Geofence, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT `+geofenceColumns+` FROM geofences WHERE id = ?`), id)
	geofence, err := scanGeofence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &geofence, nil
}

func (b *baseStore) ListGeofences(ctx context.Context) ([]model.Geofence, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(`SELECT `+geofenceColumns+` FROM geofences ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Geofence
	for rows.Next() {
		geofence, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, geofence)
	}
	return out, rows.Err()
}

func (b *baseStore) SaveCalendar(ctx context.Context, calendar *model.Calendar) error {
	if b.db == nil || calendar == nil {
		return nil
	}
	if calendar.ID == 0 {
		id, err := b.insertID(ctx,
			`INSERT INTO calendars (name, attributes) VALUES (?, ?)`,
			calendar.Name, encodeJSON(calendar.Attributes))
		if err != nil {
			return err
		}
		calendar.ID = id
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO calendars (id, name, attributes) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, attributes = excluded.attributes`),
		calendar.ID, calendar.Name, encodeJSON(calendar.Attributes))
	return err
}

func (b *baseStore) GetCalendar(ctx context.Context, id int64) (*model.Calendar, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	var c model.Calendar
	var attrs string
	row := b.db.QueryRowContext(ctx, b.bind(`SELECT id, name, attributes FROM calendars WHERE id = ?`), id)
	err := row.Scan(&c.ID, &c.Name, &attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	decodeJSON(attrs, &c.Attributes)
	return &c, nil
}

const notificationColumns = `id, type, description, always, calendar_id, notificators, attributes`

func scanNotification(sc rowScanner) (model.Notification, error) {
	var n model.Notification
	var attrs string
	err := sc.Scan(&n.ID, &n.Type, &n.Description, &n.Always, &n.CalendarID, &n.Notificators, &attrs)
	if err != nil {
		return model.Notification{}, err
	}
	decodeJSON(attrs, &n.Attributes)
	return n, nil
}

func (b *baseStore) SaveNotification(ctx context.Context, notification *model.Notification) error {
	if b.db == nil || notification == nil {
		return nil
	}
	if notification.ID == 0 {
		id, err := b.insertID(ctx,
			`INSERT INTO notifications (type, description, always, calendar_id, notificators, attributes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			notification.Type, notification.Description, notification.Always,
			notification.CalendarID, notification.Notificators, encodeJSON(notification.Attributes))
		if err != nil {
			return err
		}
		notification.ID = id
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO notifications (id, type, description, always, calendar_id, notificators, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			description = excluded.description,
			always = excluded.always,
			calendar_id = excluded.calendar_id,
			notificators = excluded.notificators,
			attributes = excluded.attributes`),
		notification.ID, notification.Type, notification.Description, notification.Always,
		notification.CalendarID, notification.Notificators, encodeJSON(notification.Attributes))
	return err
}

func (b *baseStore) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(`SELECT `+notificationColumns+` FROM notifications ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, notification)
	}
	return out, rows.Err()
}

func (b *baseStore) DeviceNotifications(ctx context.Context, deviceID int64) ([]model.Notification, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT `+notificationColumns+` FROM notifications
		WHERE always = ? OR id IN (SELECT notification_id FROM device_notifications WHERE device_id = ?)
		ORDER BY id`), true, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, notification)
	}
	return out, rows.Err()
}

func (b *baseStore) NotificationUsers(ctx context.Context, notificationID, deviceID int64) ([]model.User, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT `+userColumns+` FROM users
		WHERE id IN (SELECT user_id FROM user_notifications WHERE notification_id = ?)
		AND id IN (SELECT user_id FROM user_devices WHERE device_id = ?)
		ORDER BY id`), notificationID, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (b *baseStore) UserNotificationLinks(ctx context.Context) (map[int64][]int64, error) {
	return b.linkMap(ctx, `SELECT user_id, notification_id FROM user_notifications`)
}

func (b *baseStore) DeviceNotificationLinks(ctx context.Context) (map[int64][]int64, error) {
	return b.linkMap(ctx, `SELECT notification_id, device_id FROM device_notifications`)
}

func (b *baseStore) linkMap(ctx context.Context, query string) (map[int64][]int64, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]int64)
	for rows.Next() {
		var key, value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = append(out[key], value)
	}
	return out, rows.Err()
}

func (b *baseStore) LinkUserNotification(ctx context.Context, userID, notificationID int64) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO user_notifications (user_id, notification_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		userID, notificationID)
	return err
}

func (b *baseStore) LinkUserNotifications(ctx context.Context, userID int64, notificationIDs []int64) error {
	if b.db == nil || len(notificationIDs) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(
		`INSERT INTO user_notifications (user_id, notification_id) VALUES (?, ?) ON CONFLICT DO NOTHING`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, notificationID := range notificationIDs {
		if _, err := stmt.ExecContext(ctx, userID, notificationID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) UnlinkUserNotification(ctx context.Context, userID, notificationID int64) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`DELETE FROM user_notifications WHERE user_id = ? AND notification_id = ?`),
		userID, notificationID)
	return err
}

func (b *baseStore) LinkDeviceNotification(ctx context.Context, deviceID, notificationID int64) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO device_notifications (device_id, notification_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		deviceID, notificationID)
	return err
}

func (b *baseStore) LinkUserDevice(ctx context.Context, userID, deviceID int64) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO user_devices (user_id, device_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		userID, deviceID)
	return err
}

func (b *baseStore) UserDevices(ctx context.Context, userID int64) ([]model.Device, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT `+deviceColumns+` FROM devices
		WHERE id IN (SELECT device_id FROM user_devices WHERE user_id = ?)
		ORDER BY id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, device)
	}
	return out, rows.Err()
}

func (b *baseStore) SaveEvent(ctx context.Context, event *model.Event) error {
	if b.db == nil || event == nil {
		return nil
	}
	if event.ServerTime.IsZero() {
		event.ServerTime = nowUTC()
	}
	id, err := b.insertID(ctx,
		`INSERT INTO events (type, device_id, position_id, geofence_id, event_time, server_time, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Type, event.DeviceID, event.PositionID, event.GeofenceID,
		toMillis(event.EventTime), toMillis(event.ServerTime), encodeJSON(event.Attributes))
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

func (b *baseStore) GeofenceEventCounts(ctx context.Context, deviceID int64, from, to time.Time) (int64, int64, error) {
	if b.db == nil {
		return 0, 0, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT type, COUNT(*) FROM events
		WHERE device_id = ? AND event_time >= ? AND event_time < ? AND type IN (?, ?)
		GROUP BY type`),
		deviceID, toMillis(from), toMillis(to), model.TypeGeofenceEnter, model.TypeGeofenceExit)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	var enters, exits int64
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return 0, 0, err
		}
		switch eventType {
		case model.TypeGeofenceEnter:
			enters = count
		case model.TypeGeofenceExit:
			exits = count
		}
	}
	return enters, exits, rows.Err()
}

const positionColumns = `id, device_id, server_time, device_time, fix_time, valid, latitude, longitude, speed, course, geofence_ids, attributes`

func scanPosition(sc rowScanner) (model.Position, error) {
	var p model.Position
	var serverMs, deviceMs, fixMs int64
	var geofenceIDs, attrs string
	err := sc.Scan(&p.ID, &p.DeviceID, &serverMs, &deviceMs, &fixMs, &p.Valid,
		&p.Latitude, &p.Longitude, &p.Speed, &p.Course, &geofenceIDs, &attrs)
	if err != nil {
		return model.Position{}, err
	}
	p.ServerTime = fromMillis(serverMs)
	p.DeviceTime = fromMillis(deviceMs)
	p.FixTime = fromMillis(fixMs)
	decodeJSON(geofenceIDs, &p.GeofenceIDs)
	decodeJSON(attrs, &p.Attributes)
	return p, nil
}

func (b *baseStore) SavePosition(ctx context.Context, position *model.Position) error {
	if b.db == nil || position == nil {
		return nil
	}
	if position.ServerTime.IsZero() {
		position.ServerTime = nowUTC()
	}
	id, err := b.insertID(ctx,
		`INSERT INTO positions (device_id, server_time, device_time, fix_time, valid, latitude, longitude, speed, course, geofence_ids, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		position.DeviceID, toMillis(position.ServerTime), toMillis(position.DeviceTime),
		toMillis(position.FixTime), position.Valid, position.Latitude, position.Longitude,
		position.Speed, position.Course, encodeJSON(position.GeofenceIDs), encodeJSON(position.Attributes))
	if err != nil {
		return err
	}
	position.ID = id
	return nil
}

func (b *baseStore) Positions(ctx context.Context, deviceID int64, from, to time.Time) ([]model.Position, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT `+positionColumns+` FROM positions
		WHERE device_id = ? AND fix_time >= ? AND fix_time < ?
		ORDER BY fix_time`), deviceID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, position)
	}
	return out, rows.Err()
}

func (b *baseStore) LatestPosition(ctx context.Context, deviceID int64) (*model.Position, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	row := b.db.QueryRowContext(ctx, b.bind(
		`SELECT `+positionColumns+` FROM positions WHERE device_id = ? ORDER BY fix_time DESC LIMIT 1`), deviceID)
	position, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

func (b *baseStore) SaveDeliveryRecord(ctx context.Context, record model.DeliveryRecord) error {
	if b.db == nil {
		return nil
	}
	if record.SentAt.IsZero() {
		record.SentAt = nowUTC()
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO notification_log (event_id, notification_id, user_id, channel, delivered, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		record.EventID, record.NotificationID, record.UserID, record.Channel,
		record.Delivered, record.Error, toMillis(record.SentAt))
	return err
}

func (b *baseStore) SaveStats(ctx context.Context, counters map[string]int64) error {
	if b.db == nil || len(counters) == 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO stats (ts, counters) VALUES (?, ?)`),
		toMillis(nowUTC()), encodeJSON(counters))
	return err
}

func identityBind(query string) string {
	return query
}

func dollarBind(query string) string {
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeJSON(data string, into any) {
	if strings.TrimSpace(data) == "" || data == "null" {
		return
	}
	_ = json.Unmarshal([]byte(data), into)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
