package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"storemon/internal/model"
	"storemon/internal/monitoring"
	"storemon/internal/storage"
)

// Source is the data layer the orchestrator fans out over.
type Source interface {
	ListStoreIDs(ctx context.Context) ([]string, error)
	Session(ctx context.Context) (storage.Session, error)
}

type Failure struct {
	StoreID string
	Err     error
}

// Batch is the outcome of one ComputeAll call. Rows are sorted by store id.
type Batch struct {
	Rows     []model.ReportRow
	Failures []Failure
	// Unfinished counts stores abandoned when the context ended.
	Unfinished int
	Total      int
}

// Partial reports whether some stores were neither computed nor failed.
func (b Batch) Partial() bool {
	return b.Unfinished > 0
}

type Orchestrator struct {
	engine *Engine
	source Source
	logger *slog.Logger
	opts   Options
}

// NewOrchestrator fans engine out over source. logger receives batch-level
// messages; opts are handed unchanged to every per-store computation.
func NewOrchestrator(engine *Engine, source Source, logger *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{engine: engine, source: source, logger: logger, opts: opts}
}

type outcome struct {
	storeID string
	result  model.MetricsResult
	err     error
}

// ComputeAll computes metrics for every known store with at most maxWorkers
// running at once. A failing store is logged and left out; only a failure to
// list stores is returned as an error. When ctx ends first, the stores
// finished so far are returned and the rest are counted as unfinished.
func (o *Orchestrator) ComputeAll(ctx context.Context, now time.Time, maxWorkers int) (Batch, error) {
	ids, err := o.source.ListStoreIDs(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("list stores: %w", err)
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	// Sized so abandoned workers never block on send.
	results := make(chan outcome, len(ids))
	go o.dispatch(ctx, ids, now, maxWorkers, results)

	batch := Batch{Total: len(ids)}
	received := 0
collect:
	for received < len(ids) {
		select {
		case out, ok := <-results:
			if !ok {
				break collect
			}
			received++
			o.record(ctx, &batch, out)
		case <-ctx.Done():
			for received < len(ids) {
				select {
				case out, ok := <-results:
					if !ok {
						break collect
					}
					received++
					o.record(ctx, &batch, out)
				default:
					break collect
				}
			}
		}
	}

	batch.Unfinished = len(ids) - len(batch.Rows) - len(batch.Failures)
	sort.Slice(batch.Rows, func(i, j int) bool { return batch.Rows[i].StoreID < batch.Rows[j].StoreID })
	sort.Slice(batch.Failures, func(i, j int) bool { return batch.Failures[i].StoreID < batch.Failures[j].StoreID })

	if o.logger != nil {
		o.logger.Info("metrics batch finished",
			"stores", len(ids),
			"computed", len(batch.Rows),
			"failed", len(batch.Failures),
			"unfinished", batch.Unfinished,
		)
	}
	return batch, nil
}

// dispatch starts one worker per store until ids run out or ctx ends, then
// closes results once every started worker has reported.
func (o *Orchestrator) dispatch(ctx context.Context, ids []string, now time.Time, limit int, results chan<- outcome) {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			start := time.Now()
			res, err := o.computeOne(ctx, id, now)
			monitoring.StoreComputeDuration.Observe(time.Since(start).Seconds())
			results <- outcome{storeID: id, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
}

func (o *Orchestrator) computeOne(ctx context.Context, storeID string, now time.Time) (res model.MetricsResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	sess, err := o.source.Session(ctx)
	if err != nil {
		return model.MetricsResult{}, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	return o.engine.Compute(ctx, sess, storeID, now, o.opts)
}

func (o *Orchestrator) record(ctx context.Context, batch *Batch, out outcome) {
	if out.err == nil {
		batch.Rows = append(batch.Rows, model.ReportRow{StoreID: out.storeID, MetricsResult: out.result})
		monitoring.StoreComputeResults.WithLabelValues("ok").Inc()
		return
	}
	// Work cut short by the deadline is unfinished, not failed.
	if ctx.Err() != nil && (errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded)) {
		monitoring.StoreComputeResults.WithLabelValues("abandoned").Inc()
		return
	}
	batch.Failures = append(batch.Failures, Failure{StoreID: out.storeID, Err: out.err})
	monitoring.StoreComputeResults.WithLabelValues("error").Inc()
	if o.logger != nil {
		o.logger.Warn("store metrics failed", "store_id", out.storeID, "err", out.err)
	}
}
