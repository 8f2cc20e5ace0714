package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"storemon/internal/model"
	"storemon/internal/monitoring"
	"storemon/internal/normalize"
	"storemon/internal/tz"
)

const (
	StatusFile        = "store_status.csv"
	BusinessHoursFile = "menu_hours.csv"
	TimezoneFile      = "timezones.csv"
)

// LoadTarget is the storage a bulk load replaces.
type LoadTarget interface {
	Truncate(ctx context.Context) error
	SaveObservations(ctx context.Context, obs []model.Observation) error
	SaveBusinessHours(ctx context.Context, rows []model.BusinessHours) error
	SaveTimezones(ctx context.Context, rows []model.Timezone) error
}

type LoadStats struct {
	Observations  int `json:"observations"`
	BusinessHours int `json:"business_hours"`
	Timezones     int `json:"timezones"`
	Skipped       int `json:"skipped"`
}

// Loader replaces stored inputs with the contents of the three CSV exports.
type Loader struct {
	target      LoadTarget
	batchSize   int
	defaultZone string
	logger      *slog.Logger
}

func NewLoader(target LoadTarget, batchSize int, defaultZone string, logger *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 500
	}
	if defaultZone == "" {
		defaultZone = tz.DefaultZone
	}
	return &Loader{target: target, batchSize: batchSize, defaultZone: defaultZone, logger: logger}
}

// LoadDir truncates the input tables and loads store_status.csv,
// menu_hours.csv and timezones.csv from dir.
func (l *Loader) LoadDir(ctx context.Context, dir string) (LoadStats, error) {
	files := map[string]*os.File{}
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, name := range []string{StatusFile, BusinessHoursFile, TimezoneFile} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return LoadStats{}, err
		}
		files[name] = f
	}

	if err := l.target.Truncate(ctx); err != nil {
		return LoadStats{}, fmt.Errorf("truncate: %w", err)
	}
	var stats LoadStats
	if err := l.LoadStatus(ctx, files[StatusFile], &stats); err != nil {
		return stats, fmt.Errorf("%s: %w", StatusFile, err)
	}
	if err := l.LoadBusinessHours(ctx, files[BusinessHoursFile], &stats); err != nil {
		return stats, fmt.Errorf("%s: %w", BusinessHoursFile, err)
	}
	if err := l.LoadTimezones(ctx, files[TimezoneFile], &stats); err != nil {
		return stats, fmt.Errorf("%s: %w", TimezoneFile, err)
	}
	if l.logger != nil {
		l.logger.Info("bulk load finished",
			"observations", stats.Observations,
			"business_hours", stats.BusinessHours,
			"timezones", stats.Timezones,
			"skipped", stats.Skipped,
		)
	}
	return stats, nil
}

// LoadStatus reads store_id, status, timestamp_utc rows. Statuses other
// than active/inactive and unparsable timestamps are skipped.
func (l *Loader) LoadStatus(ctx context.Context, r io.Reader, stats *LoadStats) error {
	batch := make([]model.Observation, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.target.SaveObservations(ctx, batch); err != nil {
			monitoring.StorageWrites.WithLabelValues("store_status", "error").Inc()
			return err
		}
		monitoring.StorageWrites.WithLabelValues("store_status", "ok").Inc()
		monitoring.ObservationsIngested.WithLabelValues("csv").Add(float64(len(batch)))
		stats.Observations += len(batch)
		batch = batch[:0]
		return nil
	}
	err := readRows(r, []string{"store_id", "status", "timestamp_utc"}, func(row map[string]string) error {
		obs, err := normalize.Normalize(normalize.ObservationFields{
			StoreID:   row["store_id"],
			Status:    row["status"],
			Timestamp: row["timestamp_utc"],
		})
		if err != nil {
			stats.Skipped++
			monitoring.ObservationsDropped.WithLabelValues("csv", "invalid").Inc()
			return nil
		}
		batch = append(batch, obs)
		if len(batch) >= l.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// LoadBusinessHours reads store_id, dayOfWeek, start_time_local,
// end_time_local rows. Rows with an unparsable day or time are skipped.
func (l *Loader) LoadBusinessHours(ctx context.Context, r io.Reader, stats *LoadStats) error {
	batch := make([]model.BusinessHours, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.target.SaveBusinessHours(ctx, batch); err != nil {
			return err
		}
		stats.BusinessHours += len(batch)
		batch = batch[:0]
		return nil
	}
	err := readRows(r, []string{"store_id", "dayofweek", "start_time_local", "end_time_local"}, func(row map[string]string) error {
		storeID := strings.TrimSpace(row["store_id"])
		day, err := normalize.ParseDayOfWeek(row["dayofweek"])
		start, startErr := normalize.ParseClock(row["start_time_local"])
		end, endErr := normalize.ParseClock(row["end_time_local"])
		if storeID == "" || err != nil || startErr != nil || endErr != nil {
			stats.Skipped++
			return nil
		}
		batch = append(batch, model.BusinessHours{StoreID: storeID, DayOfWeek: day, Start: start, End: end})
		if len(batch) >= l.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// LoadTimezones reads store_id, timezone_str rows. Empty or unknown zones
// are replaced with the default zone.
func (l *Loader) LoadTimezones(ctx context.Context, r io.Reader, stats *LoadStats) error {
	batch := make([]model.Timezone, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.target.SaveTimezones(ctx, batch); err != nil {
			return err
		}
		stats.Timezones += len(batch)
		batch = batch[:0]
		return nil
	}
	err := readRows(r, []string{"store_id", "timezone_str"}, func(row map[string]string) error {
		storeID := strings.TrimSpace(row["store_id"])
		if storeID == "" {
			stats.Skipped++
			return nil
		}
		zone := strings.TrimSpace(row["timezone_str"])
		if !tz.Valid(zone) {
			zone = l.defaultZone
		}
		batch = append(batch, model.Timezone{StoreID: storeID, Name: zone})
		if len(batch) >= l.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

var ErrMissingColumns = errors.New("missing required columns")

// readRows calls fn for every record keyed by lowercased header name. The
// header must contain every required column.
func readRows(r io.Reader, required []string, fn func(map[string]string) error) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: empty file", ErrMissingColumns)
	}
	if err != nil {
		return err
	}
	header = normalizeHeader(header)
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimPrefix(name, "\ufeff")] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	row := make(map[string]string, len(required))
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, col := range required {
			if i := index[col]; i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}
