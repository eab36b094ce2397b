package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/fleetguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, bind: dollarBind, returningID: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			unique_id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			attributes TEXT NOT NULL DEFAULT '{}',
			overspeed_state BOOLEAN NOT NULL DEFAULT FALSE,
			overspeed_time BIGINT NOT NULL DEFAULT 0,
			overspeed_geofence_id BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			temporary BOOLEAN NOT NULL DEFAULT FALSE,
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS geofences (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			calendar_id BIGINT NOT NULL DEFAULT 0,
			area TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS calendars (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			always BOOLEAN NOT NULL DEFAULT FALSE,
			calendar_id BIGINT NOT NULL DEFAULT 0,
			notificators TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS user_notifications (
			user_id BIGINT NOT NULL,
			notification_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, notification_id)
		)`,
		`CREATE TABLE IF NOT EXISTS device_notifications (
			device_id BIGINT NOT NULL,
			notification_id BIGINT NOT NULL,
			PRIMARY KEY (device_id, notification_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_devices (
			user_id BIGINT NOT NULL,
			device_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			device_id BIGINT NOT NULL,
			position_id BIGINT NOT NULL DEFAULT 0,
			geofence_id BIGINT NOT NULL DEFAULT 0,
			event_time BIGINT NOT NULL,
			server_time BIGINT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_device_time ON events (device_id, event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events (type)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			device_id BIGINT NOT NULL,
			server_time BIGINT NOT NULL,
			device_time BIGINT NOT NULL DEFAULT 0,
			fix_time BIGINT NOT NULL,
			valid BOOLEAN NOT NULL DEFAULT FALSE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION NOT NULL DEFAULT 0,
			course DOUBLE PRECISION NOT NULL DEFAULT 0,
			geofence_ids TEXT NOT NULL DEFAULT '[]',
			attributes TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_device_fix ON positions (device_id, fix_time)`,
		`CREATE TABLE IF NOT EXISTS notification_log (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL,
			notification_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			channel TEXT NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT NOT NULL DEFAULT '',
			sent_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_log_event ON notification_log (event_id)`,
		`CREATE TABLE IF NOT EXISTS stats (
			id BIGSERIAL PRIMARY KEY,
			ts BIGINT NOT NULL,
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
