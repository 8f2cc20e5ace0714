package tz

import (
	"testing"
	"time"
)

func TestToUTCKeepsZonelessInstants(t *testing.T) {
	parsed, err := time.Parse("2006-01-02 15:04:05", "2025-05-06 12:00:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := ToUTC(parsed)
	want := time.Date(2025, 5, 6, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestToUTCConvertsZonedInstants(t *testing.T) {
	loc := time.FixedZone("minus5", -5*3600)
	got := ToUTC(time.Date(2025, 5, 6, 9, 0, 0, 0, loc))
	if got.Hour() != 14 || got.Location() != time.UTC {
		t.Fatalf("got %v", got)
	}
}

func TestLocalizeAppliesDST(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	summer := Localize(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC), chicago)
	if summer.Hour() != 9 {
		t.Fatalf("summer hour: got %d want 9", summer.Hour())
	}
	winter := Localize(time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC), chicago)
	if winter.Hour() != 9 {
		t.Fatalf("winter hour: got %d want 9", winter.Hour())
	}
}

func TestLocalToUTCIgnoresWallLocation(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	wall := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	got := LocalToUTC(wall, chicago)
	want := time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	zones := []string{"America/Chicago", "Europe/London", "Asia/Kolkata", "Australia/Lord_Howe", "UTC"}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range zones {
		loc := mustLoad(t, name)
		for i := 0; i < 365*24; i += 7 {
			utc := start.Add(time.Duration(i)*time.Hour + 17*time.Minute)
			if nearTransition(utc, loc) {
				continue
			}
			back := LocalToUTC(Localize(utc, loc), loc)
			if !back.Equal(utc) {
				t.Fatalf("%s: %v -> %v", name, utc, back)
			}
		}
	}
}

func TestResolverFallback(t *testing.T) {
	r, err := NewResolver("")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if r.DefaultName() != DefaultZone {
		t.Fatalf("default name: %s", r.DefaultName())
	}
	tests := []struct {
		name  string
		zone  string
		known bool
	}{
		{name: "empty", zone: "", known: false},
		{name: "local", zone: "Local", known: false},
		{name: "garbage", zone: "Not/AZone", known: false},
		{name: "valid", zone: "Asia/Tokyo", known: true},
		{name: "padded", zone: " Asia/Tokyo ", known: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			loc, ok := r.Resolve(tc.zone)
			if ok != tc.known {
				t.Fatalf("known: got %v want %v", ok, tc.known)
			}
			if !ok && loc != r.Default() {
				t.Fatalf("expected default location, got %v", loc)
			}
		})
	}
}

func TestNewResolverRejectsBadDefault(t *testing.T) {
	if _, err := NewResolver("Mars/Olympus"); err == nil {
		t.Fatalf("expected error for unknown default zone")
	}
}

func TestValid(t *testing.T) {
	if !Valid("America/New_York") {
		t.Fatalf("expected America/New_York to be valid")
	}
	if Valid("America/Atlantis") {
		t.Fatalf("expected America/Atlantis to be invalid")
	}
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

// Wall clocks inside a fall-back hour are ambiguous once the offset is dropped.
func nearTransition(utc time.Time, loc *time.Location) bool {
	_, before := utc.Add(-3 * time.Hour).In(loc).Zone()
	_, after := utc.Add(3 * time.Hour).In(loc).Zone()
	return before != after
}
