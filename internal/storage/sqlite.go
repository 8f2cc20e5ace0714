package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:storemon.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, d: sqliteDialect}}, nil
}

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS store_status (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			store_id TEXT NOT NULL,
			status TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_store_status_store_ts ON store_status(store_id, ts)`,
		`CREATE TABLE IF NOT EXISTS business_hours (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
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
			created_at TEXT NOT NULL,
			completed_at TEXT,
			stores INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0
		)`,
	},
	tables: []string{"store_status", "business_hours", "store_timezone"},
	encodeTime: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
}
