package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"storemon/internal/config"
	"storemon/internal/model"
	"storemon/internal/monitoring"
)

var errBackpressure = errors.New("observation queue full")

// ObservationSink persists observations.
type ObservationSink interface {
	SaveObservations(ctx context.Context, obs []model.Observation) error
}

func SendNonBlocking(ctx context.Context, out chan<- model.Observation, obs model.Observation, logger *slog.Logger) bool {
	select {
	case out <- obs:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("observation channel full, dropping observation", "store_id", obs.StoreID, "timestamp", obs.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Writer drains streamed observations into a sink in batches, dropping
// repeats seen within the dedupe window.
type Writer struct {
	sink       ObservationSink
	dedupe     *DedupeCache
	window     time.Duration
	batchSize  int
	flushEvery time.Duration
	logger     *slog.Logger
}

func NewWriter(sink ObservationSink, cfg config.IngestConfig, logger *slog.Logger) *Writer {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Writer{
		sink:       sink,
		dedupe:     NewDedupeCache(),
		window:     cfg.DedupeWindow,
		batchSize:  batch,
		flushEvery: cfg.FlushInterval,
		logger:     logger,
	}
}

// Run consumes in until ctx ends or in is closed, flushing what is buffered
// before returning.
func (w *Writer) Run(ctx context.Context, in <-chan model.Observation) {
	flushEvery := w.flushEvery
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	buf := make([]model.Observation, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		w.write(ctx, buf)
		buf = buf[:0]
	}
	for {
		select {
		case obs, ok := <-in:
			if !ok {
				flush(context.Background())
				return
			}
			if w.isDuplicate(obs) {
				monitoring.ObservationsDropped.WithLabelValues("stream", "duplicate").Inc()
				continue
			}
			buf = append(buf, obs)
			if len(buf) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdown)
			cancel()
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, batch []model.Observation) {
	monitoring.BatchSize.WithLabelValues("store_status").Observe(float64(len(batch)))
	if err := w.sink.SaveObservations(ctx, batch); err != nil {
		monitoring.StorageWrites.WithLabelValues("store_status", "error").Inc()
		if w.logger != nil {
			w.logger.Error("save observations failed", "count", len(batch), "err", err)
		}
		return
	}
	monitoring.StorageWrites.WithLabelValues("store_status", "ok").Inc()
	monitoring.ObservationsIngested.WithLabelValues("stream").Add(float64(len(batch)))
}

func (w *Writer) isDuplicate(obs model.Observation) bool {
	if w.window <= 0 {
		return false
	}
	return w.dedupe.Seen(hashObservation(obs), time.Now().UTC(), w.window)
}

func hashObservation(obs model.Observation) string {
	parts := []string{
		obs.StoreID,
		string(obs.Status),
		obs.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
