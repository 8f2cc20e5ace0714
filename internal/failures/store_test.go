package failures

import (
	"testing"
	"time"

	"storemon/internal/model"
)

func TestRingKeepsNewest(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2023, 1, 25, 18, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		s.Add(model.StoreFailure{StoreID: id, ReportID: "r1", Error: "boom", Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	all := s.List(0)
	if len(all) != 3 || all[0].StoreID != "b" || all[2].StoreID != "d" {
		t.Fatalf("list: %+v", all)
	}
	if last := s.List(1); len(last) != 1 || last[0].StoreID != "d" {
		t.Fatalf("list(1): %+v", last)
	}
	if since := s.Since(base.Add(2 * time.Minute)); len(since) != 2 {
		t.Fatalf("since: %+v", since)
	}
}

func TestForReport(t *testing.T) {
	s := NewStore(0)
	s.Add(model.StoreFailure{StoreID: "a", ReportID: "r1"})
	s.Add(model.StoreFailure{StoreID: "b", ReportID: "r2"})
	s.Add(model.StoreFailure{StoreID: "c", ReportID: "r1"})
	if got := s.ForReport("r1"); len(got) != 2 || got[1].StoreID != "c" {
		t.Fatalf("for report: %+v", got)
	}
	s.Clear()
	if len(s.List(0)) != 0 {
		t.Fatalf("clear failed")
	}
}
