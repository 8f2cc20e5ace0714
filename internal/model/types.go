package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

type Observation struct {
	StoreID   string    `json:"store_id"`
	Timestamp time.Time `json:"timestamp_utc"`
	Status    Status    `json:"status"`
}

// Clock is a zone-naive local time of day, in seconds after midnight.
type Clock int

const (
	Midnight Clock = 0
	// InvalidClock marks a time of day that could not be parsed.
	InvalidClock Clock = -1
)

func NewClock(hour, minute, second int) Clock {
	return Clock(hour*3600 + minute*60 + second)
}

func (c Clock) Split() (hour, minute, second int) {
	v := int(c)
	return v / 3600, (v % 3600) / 60, v % 60
}

func (c Clock) Valid() bool {
	return c >= 0 && c < 24*3600
}

func (c Clock) String() string {
	if !c.Valid() {
		return "invalid"
	}
	h, m, s := c.Split()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Rule is one local-time opening window. Start > End spans midnight;
// Start == End == Midnight means the whole day.
type Rule struct {
	Start Clock `json:"start_time_local"`
	End   Clock `json:"end_time_local"`
}

// WeeklySchedule maps day of week (0 = Monday) to that day's rules.
// An empty schedule means open 24x7.
type WeeklySchedule map[int][]Rule

// Add appends a rule for day. Malformed rules are kept so that a store with
// only malformed rows is still distinguishable from one with no rows.
func (w WeeklySchedule) Add(day int, r Rule) {
	w[day] = append(w[day], r)
}

// Invalid counts rules that can never apply: out-of-range weekday or clock.
func (w WeeklySchedule) Invalid() int {
	n := 0
	for day, rules := range w {
		for _, r := range rules {
			if day < 0 || day > 6 || !r.Start.Valid() || !r.End.Valid() {
				n++
			}
		}
	}
	return n
}

type BusinessHours struct {
	StoreID   string `json:"store_id"`
	DayOfWeek int    `json:"day_of_week"`
	Start     Clock  `json:"start_time_local"`
	End       Clock  `json:"end_time_local"`
}

type Timezone struct {
	StoreID string `json:"store_id"`
	Name    string `json:"timezone_str"`
}

// Interval is the half-open UTC range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

type Segment struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Status Status    `json:"status"`
}

type MetricsResult struct {
	UptimeLastHour   int     `json:"uptime_last_hour"`
	UptimeLastDay    float64 `json:"uptime_last_day"`
	UptimeLastWeek   float64 `json:"uptime_last_week"`
	DowntimeLastHour int     `json:"downtime_last_hour"`
	DowntimeLastDay  float64 `json:"downtime_last_day"`
	DowntimeLastWeek float64 `json:"downtime_last_week"`
}

type ReportRow struct {
	StoreID string `json:"store_id"`
	MetricsResult
}

type ReportStatus string

const (
	ReportRunning  ReportStatus = "Running"
	ReportComplete ReportStatus = "Complete"
	ReportPartial  ReportStatus = "Partial"
	ReportFailed   ReportStatus = "Failed"
)

type Report struct {
	ID          string       `json:"report_id"`
	Status      ReportStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	FilePath    string       `json:"file_path,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
	Stores      int          `json:"stores"`
	Failed      int          `json:"failed"`
}

// StatusText renders the status the way report consumers expect it,
// e.g. "Failed: no stores".
func (r Report) StatusText() string {
	if r.Status == ReportFailed && r.Error != "" {
		return string(r.Status) + ": " + r.Error
	}
	return string(r.Status)
}

// Downloadable reports have a CSV on disk.
func (r Report) Downloadable() bool {
	return (r.Status == ReportComplete || r.Status == ReportPartial) && r.FilePath != ""
}

// StoreFailure records one store left out of a report.
type StoreFailure struct {
	StoreID   string    `json:"store_id"`
	ReportID  string    `json:"report_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreMetrics is the latest computed result for one store.
type StoreMetrics struct {
	StoreID   string        `json:"store_id"`
	ReportID  string        `json:"report_id"`
	Now       time.Time     `json:"now"`
	Metrics   MetricsResult `json:"metrics"`
	UpdatedAt time.Time     `json:"updated_at"`
}
