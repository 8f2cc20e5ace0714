package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"storemon/internal/model"
	"storemon/internal/schedule"
	"storemon/internal/storage"
	"storemon/internal/timeline"
	"storemon/internal/tz"
)

// Window is a trailing period ending at the reference instant.
type Window struct {
	Name   string
	Length time.Duration
}

var (
	LastHour = Window{Name: "hour", Length: time.Hour}
	LastDay  = Window{Name: "day", Length: 24 * time.Hour}
	LastWeek = Window{Name: "week", Length: 7 * 24 * time.Hour}
)

// Options configure a single computation.
type Options struct {
	// Logger receives per-store tracing at debug level. Nil disables it.
	Logger *slog.Logger
}

type Engine struct {
	zones *tz.Resolver
}

func NewEngine(zones *tz.Resolver) *Engine {
	return &Engine{zones: zones}
}

// totals is the business-hour time split of one window.
type totals struct {
	up, down time.Duration
}

// Compute returns storeID's uptime and downtime for the last hour, day and
// week before now, counting only business hours.
func (e *Engine) Compute(ctx context.Context, sess storage.Session, storeID string, now time.Time, opts Options) (model.MetricsResult, error) {
	now = tz.ToUTC(now)
	logger := opts.Logger

	zoneName, hasZone, err := sess.Timezone(ctx, storeID)
	if err != nil {
		return model.MetricsResult{}, fmt.Errorf("timezone: %w", err)
	}
	loc, known := e.zones.Resolve(zoneName)
	if hasZone && !known && logger != nil {
		logger.Debug("unknown timezone, using default",
			"store_id", storeID,
			"timezone", zoneName,
			"default", e.zones.DefaultName(),
		)
	}

	week, err := sess.BusinessHours(ctx, storeID)
	if err != nil {
		return model.MetricsResult{}, fmt.Errorf("business hours: %w", err)
	}
	if n := week.Invalid(); n > 0 && logger != nil {
		logger.Debug("ignoring malformed business hours", "store_id", storeID, "rules", n)
	}

	windows := []Window{LastHour, LastDay, LastWeek}
	open := make([][]model.Interval, len(windows))
	anyOpen := false
	for i, w := range windows {
		open[i] = schedule.Expand(loc, week, now.Add(-w.Length), now)
		anyOpen = anyOpen || len(open[i]) > 0
	}

	var obs []model.Observation
	if anyOpen {
		obs, err = sess.Observations(ctx, storeID, now)
		if err != nil {
			return model.MetricsResult{}, fmt.Errorf("observations: %w", err)
		}
	}

	res := make([]totals, len(windows))
	for i, w := range windows {
		if len(open[i]) == 0 {
			continue
		}
		segments := timeline.Reconstruct(obs, now.Add(-w.Length), now)
		res[i].up, res[i].down = timeline.Accumulate(segments, open[i])
		if logger != nil && logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug("window computed",
				"store_id", storeID,
				"window", w.Name,
				"business_intervals", len(open[i]),
				"segments", len(segments),
				"up", res[i].up,
				"down", res[i].down,
			)
		}
	}

	return model.MetricsResult{
		UptimeLastHour:   minutes(res[0].up),
		UptimeLastDay:    hours(res[1].up),
		UptimeLastWeek:   hours(res[2].up),
		DowntimeLastHour: minutes(res[0].down),
		DowntimeLastDay:  hours(res[1].down),
		DowntimeLastWeek: hours(res[2].down),
	}, nil
}

// ObservationClock supplies the latest observation time in the dataset.
type ObservationClock interface {
	MaxObservationTime(ctx context.Context) (time.Time, bool, error)
}

// DatasetNow is the reference instant for reports: the latest observation,
// or the current UTC time when there is none.
func DatasetNow(ctx context.Context, src ObservationClock) (time.Time, error) {
	ts, ok, err := src.MaxObservationTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("max observation time: %w", err)
	}
	if !ok {
		return time.Now().UTC(), nil
	}
	return ts.UTC(), nil
}

// minutes truncates to whole minutes.
func minutes(d time.Duration) int {
	return int(d.Seconds() / 60)
}

func hours(d time.Duration) float64 {
	return round2(d.Hours())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
