// Package timeline rebuilds a continuous status timeline from sparse
// observations and measures it against business-hour intervals.
//
// An observation is not an instantaneous event: it asserts that the status
// holds from its timestamp until the next reported change.
package timeline

import (
	"time"

	"storemon/internal/model"
)

type sweepState int

const (
	noPriorObservation sweepState = iota
	hasEffectiveStatus
)

// sweep walks a window from its start, emitting a segment each time the
// effective status changes.
type sweep struct {
	state    sweepState
	status   model.Status
	since    time.Time
	segments []model.Segment
}

func newSweep(start time.Time) *sweep {
	return &sweep{state: noPriorObservation, since: start}
}

// carry sets the status inherited from before the window.
func (s *sweep) carry(status model.Status) {
	s.status = status
	s.state = hasEffectiveStatus
}

func (s *sweep) observe(ts time.Time, status model.Status) {
	if s.state == noPriorObservation {
		// The first in-window status is extrapolated back to the window start.
		s.carry(status)
		return
	}
	if status == s.status {
		return
	}
	if ts.After(s.since) {
		s.segments = append(s.segments, model.Segment{Start: s.since, End: ts, Status: s.status})
		s.since = ts
	} else if n := len(s.segments); n > 0 && s.segments[n-1].Status == status {
		// Same-instant flip back: reopen the previous segment.
		s.since = s.segments[n-1].Start
		s.segments = s.segments[:n-1]
	}
	s.status = status
}

func (s *sweep) close(end time.Time) []model.Segment {
	if end.After(s.since) {
		s.segments = append(s.segments, model.Segment{Start: s.since, End: end, Status: s.status})
	}
	return s.segments
}

// Reconstruct partitions [ws, we) into constant-status segments using obs,
// which must be in ascending timestamp order. Observations after we are
// ignored. Without any observation the whole window is inactive.
func Reconstruct(obs []model.Observation, ws, we time.Time) []model.Segment {
	ws, we = ws.UTC(), we.UTC()
	if !we.After(ws) {
		return nil
	}

	var prior *model.Observation
	inWindow := make([]model.Observation, 0, len(obs))
	for i := range obs {
		ts := obs[i].Timestamp.UTC()
		switch {
		case !ts.After(ws):
			prior = &obs[i]
		case !ts.After(we):
			inWindow = append(inWindow, obs[i])
		}
	}
	if prior == nil && len(inWindow) == 0 {
		return []model.Segment{{Start: ws, End: we, Status: model.StatusInactive}}
	}

	sw := newSweep(ws)
	if prior != nil {
		sw.carry(prior.Status)
	}
	for _, o := range inWindow {
		sw.observe(o.Timestamp.UTC(), o.Status)
	}
	return sw.close(we)
}

// Accumulate returns the active and inactive time of segments that falls
// inside intervals. Both lists must be sorted and internally non-overlapping,
// which holds for Reconstruct output and merged business hours.
func Accumulate(segments []model.Segment, intervals []model.Interval) (up, down time.Duration) {
	i, j := 0, 0
	for i < len(segments) && j < len(intervals) {
		seg, iv := segments[i], intervals[j]
		start := maxTime(seg.Start, iv.Start)
		end := minTime(seg.End, iv.End)
		if end.After(start) {
			if seg.Status == model.StatusActive {
				up += end.Sub(start)
			} else {
				down += end.Sub(start)
			}
		}
		if seg.End.Before(iv.End) {
			i++
		} else {
			j++
		}
	}
	return up, down
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
