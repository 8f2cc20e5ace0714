package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storemon/internal/model"
	"storemon/internal/tz"
)

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, StatusFile, `store_id,status,timestamp_utc
s1,active,2023-01-22 12:09:39.388884 UTC
s1, INACTIVE ,2023-01-22 13:09:39.388884 UTC
s1,unknown,2023-01-22 14:09:39 UTC
s2,active,not-a-time
,active,2023-01-22 12:09:39 UTC
s2,inactive,2023-01-22 12:09:39
`)
	writeFile(t, dir, BusinessHoursFile, `store_id,dayOfWeek,start_time_local,end_time_local
s1,0,09:00:00,17:00:00
s1,6,22:00:00,06:00:00
s1,7,09:00:00,17:00:00
s1,1,25:00:00,17:00:00
`)
	writeFile(t, dir, TimezoneFile, `store_id,timezone_str
s1,America/Denver
s2,
s3,Mars/Olympus
`)

	target := &fakeTarget{}
	stats, err := NewLoader(target, 2, "", nil).LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !target.truncated {
		t.Fatalf("tables not truncated")
	}
	if stats.Observations != 3 || stats.BusinessHours != 2 || stats.Timezones != 3 || stats.Skipped != 5 {
		t.Fatalf("stats: %+v", stats)
	}
	if len(target.obs) != 3 || target.obs[1].Status != model.StatusInactive {
		t.Fatalf("observations: %+v", target.obs)
	}
	want := time.Date(2023, 1, 22, 12, 9, 39, 388884000, time.UTC)
	if !target.obs[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp: got %v want %v", target.obs[0].Timestamp, want)
	}
	// Batches of two: 2 + 1 observations.
	if target.obsBatches != 2 {
		t.Fatalf("observation batches: %d", target.obsBatches)
	}
	if target.hours[1].Start != model.NewClock(22, 0, 0) || target.hours[1].End != model.NewClock(6, 0, 0) {
		t.Fatalf("overnight rule: %+v", target.hours[1])
	}
	zones := map[string]string{}
	for _, z := range target.zones {
		zones[z.StoreID] = z.Name
	}
	if zones["s1"] != "America/Denver" || zones["s2"] != tz.DefaultZone || zones["s3"] != tz.DefaultZone {
		t.Fatalf("zones: %v", zones)
	}
}

func TestLoadMissingColumns(t *testing.T) {
	var stats LoadStats
	err := NewLoader(&fakeTarget{}, 0, "", nil).LoadStatus(context.Background(), strings.NewReader("store_id,timestamp_utc\ns1,2023-01-22 12:09:39\n"), &stats)
	if !errors.Is(err, ErrMissingColumns) || !strings.Contains(err.Error(), "status") {
		t.Fatalf("expected missing status column, got %v", err)
	}
	err = NewLoader(&fakeTarget{}, 0, "", nil).LoadTimezones(context.Background(), strings.NewReader(""), &stats)
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected error for empty file, got %v", err)
	}
}

func TestLoadDirMissingFile(t *testing.T) {
	target := &fakeTarget{}
	if _, err := NewLoader(target, 0, "", nil).LoadDir(context.Background(), t.TempDir()); err == nil {
		t.Fatalf("expected error")
	}
	if target.truncated {
		t.Fatalf("tables truncated before inputs were checked")
	}
}

func TestLoadCustomDefaultZone(t *testing.T) {
	target := &fakeTarget{}
	var stats LoadStats
	err := NewLoader(target, 0, "Asia/Kolkata", nil).LoadTimezones(context.Background(), strings.NewReader("timezone_str,store_id\nbogus,s9\n"), &stats)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(target.zones) != 1 || target.zones[0].Name != "Asia/Kolkata" || target.zones[0].StoreID != "s9" {
		t.Fatalf("zones: %+v", target.zones)
	}
}

type fakeTarget struct {
	truncated  bool
	obs        []model.Observation
	obsBatches int
	hours      []model.BusinessHours
	zones      []model.Timezone
}

func (f *fakeTarget) Truncate(context.Context) error {
	f.truncated = true
	return nil
}

func (f *fakeTarget) SaveObservations(_ context.Context, obs []model.Observation) error {
	f.obsBatches++
	f.obs = append(f.obs, obs...)
	return nil
}

func (f *fakeTarget) SaveBusinessHours(_ context.Context, rows []model.BusinessHours) error {
	f.hours = append(f.hours, rows...)
	return nil
}

func (f *fakeTarget) SaveTimezones(_ context.Context, rows []model.Timezone) error {
	f.zones = append(f.zones, rows...)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
