// Package tz converts between UTC instants and store-local wall clocks.
//
// Go instants always carry a location. Values that were produced without
// zone information (time.Parse without an offset, zone-less database
// columns) come back in UTC, so ToUTC never shifts them.
package tz

import (
	"fmt"
	"strings"
	"sync"
	"time"

	// Zone lookups must not depend on the host's zoneinfo files.
	_ "time/tzdata"
)

const DefaultZone = "America/Chicago"

func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Localize returns the wall-clock representation of t in loc, using the
// offset loc has at that instant.
func Localize(t time.Time, loc *time.Location) time.Time {
	return t.In(loc)
}

// LocalToUTC interprets the wall-clock fields of wall in loc, ignoring
// wall's own location, and returns the UTC instant. Skipped or repeated
// local times resolve the way time.Date resolves them.
func LocalToUTC(wall time.Time, loc *time.Location) time.Time {
	y, mo, d := wall.Date()
	h, mi, s := wall.Clock()
	return time.Date(y, mo, d, h, mi, s, wall.Nanosecond(), loc).UTC()
}

// Resolver maps zone names to locations, falling back to a default zone
// for empty or unrecognized names. It is safe for concurrent use.
type Resolver struct {
	fallback     *time.Location
	fallbackName string
	cache        sync.Map
}

func NewResolver(defaultZone string) (*Resolver, error) {
	name := strings.TrimSpace(defaultZone)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load default zone %q: %w", name, err)
	}
	return &Resolver{fallback: loc, fallbackName: name}, nil
}

func (r *Resolver) Default() *time.Location {
	return r.fallback
}

func (r *Resolver) DefaultName() string {
	return r.fallbackName
}

// Resolve returns the location for name and whether name was recognized.
// Unrecognized names resolve to the default zone.
func (r *Resolver) Resolve(name string) (*time.Location, bool) {
	if loc := lookup(&r.cache, name); loc != nil {
		return loc, true
	}
	return r.fallback, false
}

var known sync.Map

// Valid reports whether name is a loadable IANA zone.
func Valid(name string) bool {
	return lookup(&known, name) != nil
}

func lookup(cache *sync.Map, name string) *time.Location {
	name = strings.TrimSpace(name)
	// "" and "Local" are accepted by time.LoadLocation but are not zone names.
	if name == "" || name == "Local" {
		return nil
	}
	if v, ok := cache.Load(name); ok {
		loc, _ := v.(*time.Location)
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = nil
	}
	cache.Store(name, loc)
	return loc
}
