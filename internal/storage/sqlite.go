package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:fleetguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, bind: identityBind}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			unique_id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			disabled INTEGER NOT NULL DEFAULT 0,
			attributes TEXT NOT NULL DEFAULT '{}',
			overspeed_state INTEGER NOT NULL DEFAULT 0,
			overspeed_time INTEGER NOT NULL DEFAULT 0,
			overspeed_geofence_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			disabled INTEGER NOT NULL DEFAULT 0,
			temporary INTEGER NOT NULL DEFAULT 0,
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS geofences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			calendar_id INTEGER NOT NULL DEFAULT 0,
			area TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS calendars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			always INTEGER NOT NULL DEFAULT 0,
			calendar_id INTEGER NOT NULL DEFAULT 0,
			notificators TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS user_notifications (
			user_id INTEGER NOT NULL,
			notification_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, notification_id)
		)`,
		`CREATE TABLE IF NOT EXISTS device_notifications (
			device_id INTEGER NOT NULL,
			notification_id INTEGER NOT NULL,
			PRIMARY KEY (device_id, notification_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_devices (
			user_id INTEGER NOT NULL,
			device_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			device_id INTEGER NOT NULL,
			position_id INTEGER NOT NULL DEFAULT 0,
			geofence_id INTEGER NOT NULL DEFAULT 0,
			event_time INTEGER NOT NULL,
			server_time INTEGER NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_device_time ON events (device_id, event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events (type)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL,
			server_time INTEGER NOT NULL,
			device_time INTEGER NOT NULL DEFAULT 0,
			fix_time INTEGER NOT NULL,
			valid INTEGER NOT NULL DEFAULT 0,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			speed REAL NOT NULL DEFAULT 0,
			course REAL NOT NULL DEFAULT 0,
			geofence_ids TEXT NOT NULL DEFAULT '[]',
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_device_fix ON positions (device_id, fix_time)`,
		`CREATE TABLE IF NOT EXISTS notification_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			notification_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			channel TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			sent_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_log_event ON notification_log (event_id)`,
		`CREATE TABLE IF NOT EXISTS stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			counters TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
