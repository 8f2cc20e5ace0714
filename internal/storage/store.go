package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storemon/internal/config"
	"storemon/internal/model"
	"storemon/internal/normalize"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// Session reads one store's inputs over a dedicated connection. It is not
// safe for concurrent use; open one per unit of work and Close it.
type Session interface {
	Observations(ctx context.Context, storeID string, upTo time.Time) ([]model.Observation, error)
	BusinessHours(ctx context.Context, storeID string) (model.WeeklySchedule, error)
	Timezone(ctx context.Context, storeID string) (string, bool, error)
	Close() error
}

type Store interface {
	Init(ctx context.Context) error
	Close() error
	Truncate(ctx context.Context) error

	SaveObservations(ctx context.Context, obs []model.Observation) error
	SaveBusinessHours(ctx context.Context, rows []model.BusinessHours) error
	SaveTimezones(ctx context.Context, rows []model.Timezone) error

	ListStoreIDs(ctx context.Context) ([]string, error)
	MaxObservationTime(ctx context.Context) (time.Time, bool, error)
	Session(ctx context.Context) (Session, error)

	CreateReport(ctx context.Context, r model.Report) error
	UpdateReport(ctx context.Context, r model.Report) error
	GetReport(ctx context.Context, id string) (model.Report, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		s, err = NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		s, err = NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		s.(interface{ setMaxOpenConns(int) }).setMaxOpenConns(cfg.MaxOpenConns)
	}
	return s, nil
}

// dialect holds what differs between drivers.
type dialect struct {
	schema []string
	tables []string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	encodeTime func(time.Time) any
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) setMaxOpenConns(n int) {
	b.db.SetMaxOpenConns(n)
}

// q rewrites ? placeholders for the driver.
func (b *baseStore) q(query string) string {
	return rebind(query, b.d.numbered)
}

func rebind(query string, numbered bool) string {
	if !numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func (b *baseStore) Init(ctx context.Context) error {
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Truncate empties the input tables before a bulk load. Reports are kept.
func (b *baseStore) Truncate(ctx context.Context) error {
	for _, table := range b.d.tables {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

func (b *baseStore) SaveObservations(ctx context.Context, obs []model.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	return b.batch(ctx, `INSERT INTO store_status (store_id, status, ts) VALUES (?, ?, ?)`, len(obs), func(i int) []any {
		return []any{obs[i].StoreID, string(obs[i].Status), b.d.encodeTime(obs[i].Timestamp)}
	})
}

func (b *baseStore) SaveBusinessHours(ctx context.Context, rows []model.BusinessHours) error {
	if len(rows) == 0 {
		return nil
	}
	return b.batch(ctx, `INSERT INTO business_hours (store_id, day_of_week, start_time_local, end_time_local) VALUES (?, ?, ?, ?)`, len(rows), func(i int) []any {
		return []any{rows[i].StoreID, rows[i].DayOfWeek, rows[i].Start.String(), rows[i].End.String()}
	})
}

func (b *baseStore) SaveTimezones(ctx context.Context, rows []model.Timezone) error {
	if len(rows) == 0 {
		return nil
	}
	return b.batch(ctx, `INSERT INTO store_timezone (store_id, timezone_str) VALUES (?, ?)
		ON CONFLICT (store_id) DO UPDATE SET timezone_str = excluded.timezone_str`, len(rows), func(i int) []any {
		return []any{rows[i].StoreID, rows[i].Name}
	})
}

// batch inserts n rows in one transaction with a prepared statement.
func (b *baseStore) batch(ctx context.Context, query string, n int, args func(i int) []any) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.q(query))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) ListStoreIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT store_id FROM store_status
		UNION SELECT store_id FROM business_hours
		UNION SELECT store_id FROM store_timezone
		ORDER BY store_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *baseStore) MaxObservationTime(ctx context.Context) (time.Time, bool, error) {
	var ts dbTime
	if err := b.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM store_status`).Scan(&ts); err != nil {
		return time.Time{}, false, err
	}
	return ts.t, ts.valid, nil
}

func (b *baseStore) Session(ctx context.Context) (Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &session{conn: conn, d: b.d}, nil
}

func (b *baseStore) CreateReport(ctx context.Context, r model.Report) error {
	_, err := b.db.ExecContext(ctx, b.q(`
		INSERT INTO reports (id, status, error, file_path, created_at, completed_at, stores, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, string(r.Status), r.Error, r.FilePath,
		b.d.encodeTime(r.CreatedAt), b.nullTime(r.CompletedAt), r.Stores, r.Failed,
	)
	return err
}

func (b *baseStore) UpdateReport(ctx context.Context, r model.Report) error {
	res, err := b.db.ExecContext(ctx, b.q(`
		UPDATE reports SET status = ?, error = ?, file_path = ?, completed_at = ?, stores = ?, failed = ?
		WHERE id = ?`),
		string(r.Status), r.Error, r.FilePath, b.nullTime(r.CompletedAt), r.Stores, r.Failed, r.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("report %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (b *baseStore) GetReport(ctx context.Context, id string) (model.Report, error) {
	var (
		r                  model.Report
		status             string
		created, completed dbTime
	)
	err := b.db.QueryRowContext(ctx, b.q(`
		SELECT id, status, error, file_path, created_at, completed_at, stores, failed
		FROM reports WHERE id = ?`), id).
		Scan(&r.ID, &status, &r.Error, &r.FilePath, &created, &completed, &r.Stores, &r.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Report{}, err
	}
	r.Status = model.ReportStatus(status)
	r.CreatedAt = created.t
	r.CompletedAt = completed.t
	return r, nil
}

func (b *baseStore) nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return b.d.encodeTime(t)
}

type session struct {
	conn *sql.Conn
	d    dialect
}

func (s *session) Observations(ctx context.Context, storeID string, upTo time.Time) ([]model.Observation, error) {
	rows, err := s.conn.QueryContext(ctx, rebind(`
		SELECT status, ts FROM store_status
		WHERE store_id = ? AND ts <= ?
		ORDER BY ts, id`, s.d.numbered), storeID, s.d.encodeTime(upTo))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Observation
	for rows.Next() {
		var (
			status string
			ts     dbTime
		)
		if err := rows.Scan(&status, &ts); err != nil {
			return nil, err
		}
		out = append(out, model.Observation{StoreID: storeID, Timestamp: ts.t, Status: model.Status(status)})
	}
	return out, rows.Err()
}

// BusinessHours returns the store's weekly rules. Unparsable times are kept
// as model.InvalidClock; callers decide how to treat them.
func (s *session) BusinessHours(ctx context.Context, storeID string) (model.WeeklySchedule, error) {
	rows, err := s.conn.QueryContext(ctx, rebind(`
		SELECT day_of_week, start_time_local, end_time_local FROM business_hours
		WHERE store_id = ?
		ORDER BY day_of_week, start_time_local`, s.d.numbered), storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	week := model.WeeklySchedule{}
	for rows.Next() {
		var (
			day        int
			start, end string
		)
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, err
		}
		week.Add(day, model.Rule{Start: clockOrInvalid(start), End: clockOrInvalid(end)})
	}
	return week, rows.Err()
}

func (s *session) Timezone(ctx context.Context, storeID string) (string, bool, error) {
	var name string
	err := s.conn.QueryRowContext(ctx, rebind(`SELECT timezone_str FROM store_timezone WHERE store_id = ?`, s.d.numbered), storeID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

func clockOrInvalid(s string) model.Clock {
	c, err := normalize.ParseClock(s)
	if err != nil {
		return model.InvalidClock
	}
	return c
}

// sqliteTimeLayout sorts lexicographically in time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// dbTime scans timestamps stored natively or as text, and NULL.
type dbTime struct {
	t     time.Time
	valid bool
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.t, d.valid = time.Time{}, false
		return nil
	case time.Time:
		d.t = v.UTC()
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case int64:
		d.t = time.UnixMicro(v).UTC()
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	d.valid = true
	return nil
}

func (d *dbTime) parse(s string) error {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, err = normalize.ParseTimestamp(s, time.UTC)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	d.t, d.valid = t.UTC(), true
	return nil
}
