package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeAllSortsAndIsolatesFailures(t *testing.T) {
	src := newFakeSource("c", "a", "d", "b")
	src.fail["b"] = errors.New("read timeout")
	src.panics["d"] = true

	batch, err := newTestOrchestrator(t, src).ComputeAll(context.Background(), now, 4)
	if err != nil {
		t.Fatalf("compute all: %v", err)
	}
	if got := rowIDs(batch); !equalStrings(got, []string{"a", "c"}) {
		t.Fatalf("rows: got %v", got)
	}
	if len(batch.Failures) != 2 || batch.Failures[0].StoreID != "b" || batch.Failures[1].StoreID != "d" {
		t.Fatalf("failures: got %+v", batch.Failures)
	}
	if batch.Partial() || batch.Total != 4 {
		t.Fatalf("unexpected batch state: %+v", batch)
	}
	if src.opened.Load() != src.closed.Load() {
		t.Fatalf("sessions leaked: opened %d closed %d", src.opened.Load(), src.closed.Load())
	}
}

func TestComputeAllListErrorIsFatal(t *testing.T) {
	src := newFakeSource()
	src.listErr = errors.New("database is locked")
	if _, err := newTestOrchestrator(t, src).ComputeAll(context.Background(), now, 2); !errors.Is(err, src.listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestComputeAllEmpty(t *testing.T) {
	batch, err := newTestOrchestrator(t, newFakeSource()).ComputeAll(context.Background(), now, 2)
	if err != nil {
		t.Fatalf("compute all: %v", err)
	}
	if len(batch.Rows) != 0 || batch.Partial() {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestComputeAllTimeoutReturnsPartial(t *testing.T) {
	src := newFakeSource("a", "b", "slow")
	src.block["slow"] = true

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	batch, err := newTestOrchestrator(t, src).ComputeAll(ctx, now, 3)
	if err != nil {
		t.Fatalf("compute all: %v", err)
	}
	if got := rowIDs(batch); !equalStrings(got, []string{"a", "b"}) {
		t.Fatalf("rows: got %v", got)
	}
	if !batch.Partial() || batch.Unfinished != 1 {
		t.Fatalf("expected one unfinished store, got %+v", batch)
	}
	if len(batch.Failures) != 0 {
		t.Fatalf("abandoned store reported as failure: %+v", batch.Failures)
	}
}

func TestComputeAllBoundsWorkers(t *testing.T) {
	ids := make([]string, 24)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	src := newFakeSource(ids...)
	src.delay = 5 * time.Millisecond

	batch, err := newTestOrchestrator(t, src).ComputeAll(context.Background(), now, 3)
	if err != nil {
		t.Fatalf("compute all: %v", err)
	}
	if len(batch.Rows) != len(ids) {
		t.Fatalf("rows: got %d want %d", len(batch.Rows), len(ids))
	}
	src.mu.Lock()
	peak := src.maxActive
	src.mu.Unlock()
	if peak > 3 {
		t.Fatalf("peak concurrency %d exceeds limit", peak)
	}
}

func TestComputeAllNonPositiveWorkers(t *testing.T) {
	batch, err := newTestOrchestrator(t, newFakeSource("x", "y")).ComputeAll(context.Background(), now, 0)
	if err != nil {
		t.Fatalf("compute all: %v", err)
	}
	if got := rowIDs(batch); !equalStrings(got, []string{"x", "y"}) {
		t.Fatalf("rows: got %v", got)
	}
}

func TestComputeAllMatchesSingleStore(t *testing.T) {
	src := newFakeSource("s1")
	src.zones["s1"] = "Etc/GMT+5"
	src.hours["s1"] = everyDay(9*3600, 17*3600)
	src.obs["s1"] = nil

	batch, err := newTestOrchestrator(t, src).ComputeAll(context.Background(), now, 2)
	if err != nil {
		t.Fatalf("compute all: %v", err)
	}
	if len(batch.Rows) != 1 {
		t.Fatalf("rows: got %d", len(batch.Rows))
	}
	if got, want := batch.Rows[0].MetricsResult, computeFor(t, src, "s1"); got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func newTestOrchestrator(t *testing.T, src *fakeSource) *Orchestrator {
	t.Helper()
	return NewOrchestrator(newTestEngine(t), src, nil, Options{})
}

func rowIDs(b Batch) []string {
	out := make([]string, 0, len(b.Rows))
	for _, r := range b.Rows {
		out = append(out, r.StoreID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
