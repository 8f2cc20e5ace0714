package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storemon/internal/config"
	"storemon/internal/model"
)

var ts0 = time.Date(2023, 1, 24, 9, 0, 0, 0, time.UTC)

func TestWriterBatchesAndFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, config.IngestConfig{BatchSize: 2, FlushInterval: time.Hour}, nil)
	in := make(chan model.Observation, 8)
	for i := 0; i < 3; i++ {
		in <- model.Observation{StoreID: "s1", Timestamp: ts0.Add(time.Duration(i) * time.Minute), Status: model.StatusActive}
	}
	close(in)
	w.Run(context.Background(), in)

	if got := sink.batchSizes(); len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("batches: got %v want [2 1]", got)
	}
}

func TestWriterDropsDuplicates(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, config.IngestConfig{BatchSize: 10, DedupeWindow: time.Minute, FlushInterval: time.Hour}, nil)
	in := make(chan model.Observation, 8)
	obs := model.Observation{StoreID: "s1", Timestamp: ts0, Status: model.StatusActive}
	in <- obs
	in <- obs
	obs.Status = model.StatusInactive
	in <- obs
	close(in)
	w.Run(context.Background(), in)

	if n := sink.total(); n != 2 {
		t.Fatalf("saved %d observations, want 2", n)
	}
}

func TestWriterFlushesOnCancel(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, config.IngestConfig{BatchSize: 10, FlushInterval: time.Hour}, nil)
	in := make(chan model.Observation, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, in)
		close(done)
	}()
	in <- model.Observation{StoreID: "s1", Timestamp: ts0, Status: model.StatusActive}
	// Wait for the writer to pick the observation up before cancelling.
	for len(in) > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not stop")
	}
	if n := sink.total(); n != 1 {
		t.Fatalf("saved %d observations, want 1", n)
	}
}

func TestRESTHandler(t *testing.T) {
	cases := []struct {
		name     string
		method   string
		body     string
		code     int
		accepted string
		queued   int
	}{
		{name: "single", method: http.MethodPost, body: `{"store_id":"s1","status":"active","timestamp_utc":"2023-01-24 09:00:00 UTC"}`, code: http.StatusOK, accepted: `"accepted":1`, queued: 1},
		{name: "array with invalid", method: http.MethodPost, body: `[{"store_id":"s1","status":"active","timestamp_utc":"2023-01-24T09:00:00Z"},{"store_id":"s2","status":"closed","timestamp_utc":"2023-01-24T09:00:00Z"}]`, code: http.StatusOK, accepted: `"failed":1`, queued: 1},
		{name: "bad json", method: http.MethodPost, body: `{`, code: http.StatusBadRequest},
		{name: "empty", method: http.MethodPost, body: ``, code: http.StatusBadRequest},
		{name: "get", method: http.MethodGet, code: http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := make(chan model.Observation, 4)
			h := NewRESTHandler(out, nil)
			req := httptest.NewRequest(tc.method, "/observations", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("code: got %d want %d", rec.Code, tc.code)
			}
			if tc.accepted != "" && !strings.Contains(rec.Body.String(), tc.accepted) {
				t.Fatalf("body: %s", rec.Body.String())
			}
			if len(out) != tc.queued {
				t.Fatalf("queued %d observations, want %d", len(out), tc.queued)
			}
		})
	}
}

func TestRESTHandlerBackpressure(t *testing.T) {
	out := make(chan model.Observation)
	h := NewRESTHandler(out, nil)
	body := `{"store_id":"s1","status":"active","timestamp_utc":"2023-01-24T09:00:00Z"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/observations", strings.NewReader(body)))
	if !strings.Contains(rec.Body.String(), `"failed":1`) {
		t.Fatalf("expected rejected observation, got %s", rec.Body.String())
	}
}

func TestHandleMessage(t *testing.T) {
	out := make(chan model.Observation, 1)
	if !handleMessage(context.Background(), NewParser(), []byte(`{"store_id":"s1","status":"inactive","timestamp_utc":"2023-01-24T09:00:00Z"}`), out, nil) {
		t.Fatalf("expected message to be forwarded")
	}
	got := <-out
	if got.StoreID != "s1" || got.Status != model.StatusInactive || !got.Timestamp.Equal(ts0) {
		t.Fatalf("observation: %+v", got)
	}
	if handleMessage(context.Background(), NewParser(), []byte(`{"store_id":"s1","status":"open"}`), out, nil) {
		t.Fatalf("expected invalid message to be dropped")
	}
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]model.Observation
}

func (m *memorySink) SaveObservations(_ context.Context, obs []model.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]model.Observation(nil), obs...))
	return nil
}

func (m *memorySink) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, len(b))
	}
	return out
}

func (m *memorySink) total() int {
	n := 0
	for _, s := range m.batchSizes() {
		n += s
	}
	return n
}
