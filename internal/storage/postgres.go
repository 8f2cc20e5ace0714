package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/storemon?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: postgresDialect}}, nil
}

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS store_status (
			id BIGSERIAL PRIMARY KEY,
			store_id TEXT NOT NULL,
			status TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_store_status_store_ts ON store_status(store_id, ts)`,
		`CREATE TABLE IF NOT EXISTS business_hours (
			id BIGSERIAL PRIMARY KEY,
			store_id TEXT NOT NULL,
			day_of_week INTEGER NOT NULL,
			start_time_local TEXT NOT NULL,
			end_time_local TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_business_hours_store ON business_hours(store_id, day_of_week)`,
		`CREATE TABLE IF NOT EXISTS store_timezone (
			store_id TEXT PRIMARY KEY,
			timezone_str TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			stores INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0
		)`,
	},
	tables:   []string{"store_status", "business_hours", "store_timezone"},
	numbered: true,
	encodeTime: func(t time.Time) any {
		return t.UTC()
	},
}
