package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storemon/internal/config"
	"storemon/internal/engine"
	"storemon/internal/failures"
	"storemon/internal/metrics"
	"storemon/internal/model"
	"storemon/internal/monitoring"
)

// Store is the storage a generator reads inputs from and records report
// state in.
type Store interface {
	engine.Source
	engine.ObservationClock
	CreateReport(ctx context.Context, r model.Report) error
	UpdateReport(ctx context.Context, r model.Report) error
	GetReport(ctx context.Context, id string) (model.Report, error)
}

type Options struct {
	Metrics  *metrics.Store
	Failures *failures.Store
	Logger   *slog.Logger
}

// Generator runs report jobs. Triggered jobs run in the background until
// they finish or Close is called.
type Generator struct {
	store    Store
	engine   *engine.Engine
	metrics  *metrics.Store
	failures *failures.Store
	logger   *slog.Logger

	mu  sync.RWMutex
	cfg config.ReportConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGenerator(store Store, eng *engine.Engine, cfg config.ReportConfig, opts Options) *Generator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Generator{
		store:    store,
		engine:   eng,
		metrics:  opts.Metrics,
		failures: opts.Failures,
		logger:   opts.Logger,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// UpdateConfig applies to reports started afterwards.
func (g *Generator) UpdateConfig(cfg config.ReportConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

func (g *Generator) config() config.ReportConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Trigger records a new Running report and generates it in the background.
func (g *Generator) Trigger(ctx context.Context) (model.Report, error) {
	r, err := g.create(ctx)
	if err != nil {
		return model.Report{}, err
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		_, _ = g.Generate(g.ctx, r)
	}()
	return r, nil
}

// Run creates a report and generates it before returning.
func (g *Generator) Run(ctx context.Context) (model.Report, error) {
	r, err := g.create(ctx)
	if err != nil {
		return model.Report{}, err
	}
	return g.Generate(ctx, r)
}

func (g *Generator) create(ctx context.Context) (model.Report, error) {
	r := model.Report{
		ID:        uuid.NewString(),
		Status:    model.ReportRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.CreateReport(ctx, r); err != nil {
		return model.Report{}, fmt.Errorf("create report: %w", err)
	}
	if g.logger != nil {
		g.logger.Info("report triggered", "report_id", r.ID)
	}
	return r, nil
}

// Generate computes every store's metrics for r and writes the CSV. The
// final status is Complete, Partial when the timeout cut the run short, or
// Failed. The returned error is non-nil only for Failed reports.
func (g *Generator) Generate(ctx context.Context, r model.Report) (model.Report, error) {
	start := time.Now()
	monitoring.ReportsRunning.Inc()
	defer monitoring.ReportsRunning.Dec()
	cfg := g.config()

	batch, now, err := g.compute(ctx, cfg)
	if err == nil {
		r.FilePath, err = writeFile(cfg.Dir, r.ID, batch.Rows)
		if err != nil {
			err = fmt.Errorf("write report: %w", err)
		}
	}

	r.CompletedAt = time.Now().UTC()
	if err != nil {
		r.Status = model.ReportFailed
		r.Error = err.Error()
		r.FilePath = ""
	} else {
		r.Status = model.ReportComplete
		if batch.Partial() {
			r.Status = model.ReportPartial
		}
		r.Stores = len(batch.Rows)
		r.Failed = len(batch.Failures)
		g.remember(r.ID, now, batch)
	}

	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if uerr := g.store.UpdateReport(updateCtx, r); uerr != nil {
		if g.logger != nil {
			g.logger.Error("update report failed", "report_id", r.ID, "err", uerr)
		}
		if err == nil {
			err = fmt.Errorf("update report: %w", uerr)
		}
	}

	monitoring.ReportsGenerated.WithLabelValues(string(r.Status)).Inc()
	monitoring.ReportDuration.Observe(time.Since(start).Seconds())
	if g.logger != nil {
		if err != nil {
			g.logger.Error("report failed", "report_id", r.ID, "err", err)
		} else {
			g.logger.Info("report finished",
				"report_id", r.ID,
				"status", r.Status,
				"stores", r.Stores,
				"failed", r.Failed,
				"unfinished", batch.Unfinished,
				"path", r.FilePath,
				"duration", time.Since(start),
			)
		}
	}
	return r, err
}

func (g *Generator) compute(ctx context.Context, cfg config.ReportConfig) (engine.Batch, time.Time, error) {
	now, err := engine.DatasetNow(ctx, g.store)
	if err != nil {
		return engine.Batch{}, time.Time{}, err
	}
	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	var opts engine.Options
	if cfg.TraceStores {
		opts.Logger = g.logger
	}
	batch, err := engine.NewOrchestrator(g.engine, g.store, g.logger, opts).ComputeAll(runCtx, now, cfg.MaxWorkers)
	if err != nil {
		return engine.Batch{}, now, err
	}
	return batch, now, nil
}

func (g *Generator) remember(reportID string, now time.Time, batch engine.Batch) {
	if g.metrics != nil {
		g.metrics.Update(reportID, now, batch.Rows)
	}
	if g.failures != nil {
		ts := time.Now().UTC()
		for _, f := range batch.Failures {
			g.failures.Add(model.StoreFailure{StoreID: f.StoreID, ReportID: reportID, Error: f.Err.Error(), Timestamp: ts})
		}
	}
}

// Get returns the stored state of a report.
func (g *Generator) Get(ctx context.Context, id string) (model.Report, error) {
	return g.store.GetReport(ctx, id)
}

// Close stops background reports and waits for them to record their state.
func (g *Generator) Close() {
	g.cancel()
	g.wg.Wait()
}
