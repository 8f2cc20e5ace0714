package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storemon/internal/model"
)

// ObservationFields are the raw, untyped parts of one status report as they
// arrive from CSV, JSON or a stream line.
type ObservationFields struct {
	StoreID   string
	Status    string
	Timestamp string
	Raw       string
}

var (
	ErrMissingStoreID = errors.New("missing store_id")
	ErrInvalidStatus  = errors.New("invalid status")
)

// Normalize validates fields into an observation. Timestamps without a zone
// are taken as UTC.
func Normalize(fields ObservationFields) (model.Observation, error) {
	storeID := strings.TrimSpace(fields.StoreID)
	if storeID == "" {
		return model.Observation{}, ErrMissingStoreID
	}
	status, ok := ParseStatus(fields.Status)
	if !ok {
		return model.Observation{}, fmt.Errorf("%w: %q", ErrInvalidStatus, fields.Status)
	}
	ts, err := ParseTimestamp(fields.Timestamp, time.UTC)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return model.Observation{StoreID: storeID, Timestamp: ts.UTC(), Status: status}, nil
}

func ParseStatus(value string) (model.Status, bool) {
	s := model.Status(strings.ToLower(strings.TrimSpace(value)))
	return s, s.Valid()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05 -0700",
}

// ParseTimestamp accepts RFC 3339, "2006-01-02 15:04:05[.frac] [UTC]" and
// unix seconds or milliseconds. Values without zone information are read in
// loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

// ParseClock parses a local time of day, HH:MM[:SS[.frac]]. Fractions are
// truncated.
func ParseClock(value string) (model.Clock, error) {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, '.'); i >= 0 {
		value = value[:i]
	}
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return model.InvalidClock, fmt.Errorf("invalid time of day: %q", value)
	}
	limits := []int{23, 59, 59}
	vals := []int{0, 0, 0}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] || len(p) > 2 {
			return model.InvalidClock, fmt.Errorf("invalid time of day: %q", value)
		}
		vals[i] = n
	}
	return model.NewClock(vals[0], vals[1], vals[2]), nil
}

// ParseDayOfWeek parses a weekday index, 0 = Monday through 6 = Sunday.
func ParseDayOfWeek(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid day of week: %q", value)
	}
	if n < 0 || n > 6 {
		return 0, fmt.Errorf("day of week out of range: %d", n)
	}
	return n, nil
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
