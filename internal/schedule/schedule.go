// Package schedule expands weekly local-time business hours into absolute
// UTC intervals.
package schedule

import (
	"sort"
	"time"

	"storemon/internal/model"
	"storemon/internal/tz"
)

// Weekday returns the schedule day index of t's calendar date, 0 = Monday.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Expand returns the normalized UTC intervals during which a store following
// week in loc is open within [ws, we).
//
// An empty schedule means the store never closes and yields [ws, we) as is.
// Otherwise every local calendar date touching the window, plus one day on
// either side for rules that cross midnight, is expanded rule by rule:
//
//   - 00:00-00:00 covers the whole date;
//   - start <= end covers [date@start, date@end);
//   - start > end covers [date@start, (date+1)@end).
//
// Occurrences are converted to UTC with the offset loc has on that local
// date, clipped to the window and merged. Rules with out-of-range clocks or
// weekdays are ignored.
func Expand(loc *time.Location, week model.WeeklySchedule, ws, we time.Time) []model.Interval {
	ws, we = tz.ToUTC(ws), tz.ToUTC(we)
	if !we.After(ws) {
		return nil
	}
	if len(week) == 0 {
		return []model.Interval{{Start: ws, End: we}}
	}
	if loc == nil {
		loc = time.UTC
	}

	first := calendarDate(tz.Localize(ws, loc)).AddDate(0, 0, -1)
	last := calendarDate(tz.Localize(we, loc)).AddDate(0, 0, 1)

	var out []model.Interval
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, rule := range week[Weekday(day)] {
			occ, ok := occurrence(day, rule, loc)
			if !ok {
				continue
			}
			if clipped, ok := Clip(occ, ws, we); ok {
				out = append(out, clipped)
			}
		}
	}
	return Merge(out)
}

func occurrence(day time.Time, rule model.Rule, loc *time.Location) (model.Interval, bool) {
	if !rule.Start.Valid() || !rule.End.Valid() {
		return model.Interval{}, false
	}
	next := day.AddDate(0, 0, 1)
	var iv model.Interval
	switch {
	case rule.Start == model.Midnight && rule.End == model.Midnight:
		iv = model.Interval{Start: at(day, model.Midnight, loc), End: at(next, model.Midnight, loc)}
	case rule.Start <= rule.End:
		iv = model.Interval{Start: at(day, rule.Start, loc), End: at(day, rule.End, loc)}
	default:
		iv = model.Interval{Start: at(day, rule.Start, loc), End: at(next, rule.End, loc)}
	}
	return iv, iv.End.After(iv.Start)
}

// at converts a local date and clock in loc to UTC.
func at(day time.Time, c model.Clock, loc *time.Location) time.Time {
	h, m, s := c.Split()
	return tz.LocalToUTC(time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, time.UTC), loc)
}

// calendarDate strips the clock and zone from t, keeping its wall date.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Clip intersects iv with [ws, we). ok is false when nothing remains.
func Clip(iv model.Interval, ws, we time.Time) (model.Interval, bool) {
	start := maxTime(iv.Start, ws)
	end := minTime(iv.End, we)
	if !end.After(start) {
		return model.Interval{}, false
	}
	return model.Interval{Start: start, End: end}, true
}

// Merge sorts intervals by start and coalesces overlapping or touching ones.
// Empty and inverted intervals are dropped. The input is not modified.
func Merge(intervals []model.Interval) []model.Interval {
	sorted := make([]model.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End.After(iv.Start) {
			sorted = append(sorted, iv)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []model.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			last.End = maxTime(last.End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Total sums the length of normalized intervals.
func Total(intervals []model.Interval) time.Duration {
	var d time.Duration
	for _, iv := range intervals {
		d += iv.Duration()
	}
	return d
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
