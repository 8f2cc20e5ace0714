package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storemon/internal/api"
	"storemon/internal/config"
	"storemon/internal/engine"
	"storemon/internal/failures"
	"storemon/internal/ingest"
	"storemon/internal/logging"
	"storemon/internal/metrics"
	"storemon/internal/model"
	"storemon/internal/monitoring"
	"storemon/internal/report"
	"storemon/internal/storage"
	"storemon/internal/tz"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "storemon",
		Short:         "Business-hours uptime and downtime reports for stores",
		SilenceUsage: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to a YAML or JSON config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and streaming ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	var dataDir string
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Replace stored inputs with the CSV exports in the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath, dataDir)
		},
	}
	ingestCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding store_status.csv, menu_hours.csv and timezones.csv (default ingest.data_dir)")
	root.AddCommand(ingestCmd)

	root.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Generate one report and print its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), configPath, cmd)
		},
	})
	return root
}

// app holds what every subcommand opens.
type app struct {
	mgr    *config.Manager
	cfg    *config.Config
	logger *slog.Logger
	store  storage.Store
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	mgr, err := config.NewManager(config.ResolvePath(configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return &app{mgr: mgr, cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) generator(opts report.Options) (*report.Generator, error) {
	zones, err := tz.NewResolver(a.cfg.Report.DefaultTimezone)
	if err != nil {
		return nil, err
	}
	opts.Logger = a.logger
	return report.NewGenerator(a.store, engine.NewEngine(zones), a.cfg.Report, opts), nil
}

func serve(ctx context.Context, configPath string) error {
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()
	logger := a.logger

	metricsStore := metrics.NewStore(a.cfg.Metrics.StoreLimit)
	failuresStore := failures.NewStore(a.cfg.Failures.StoreLimit)
	gen, err := a.generator(report.Options{Metrics: metricsStore, Failures: failuresStore})
	if err != nil {
		return err
	}

	observations := make(chan model.Observation, a.cfg.Ingest.ChannelBuffer)
	writer := ingest.NewWriter(a.store, a.cfg.Ingest, logger)
	writerDone := make(chan struct{})
	go func() {
		writer.Run(ctx, observations)
		close(writerDone)
	}()
	ingest.StartKafka(ctx, a.cfg.Ingest.Kafka, ingest.NewParser(), observations, logger)

	health := monitoring.NewHealthCheck()
	srv := api.NewServer(a.mgr, api.Deps{
		Reports:      gen,
		Metrics:      metricsStore,
		Failures:     failuresStore,
		Health:       health,
		Observations: ingest.NewRESTHandler(observations, logger),
	}, logger, version)
	api.Start(ctx, srv)

	stopWatch := make(chan struct{})
	go a.mgr.Watch(0, func(cfg *config.Config) {
		gen.UpdateConfig(cfg.Report)
		logger.Info("config reloaded", "path", a.mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stopWatch)

	health.SetReady(true)
	logger.Info("storemon started", "version", version, "env", a.cfg.Env, "storage", a.cfg.Storage.Driver)
	<-ctx.Done()

	logger.Info("shutting down")
	health.SetReady(false)
	close(stopWatch)
	gen.Close()
	<-writerDone
	logger.Info("shutdown complete")
	return nil
}

func runIngest(ctx context.Context, configPath, dataDir string) error {
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()
	if dataDir == "" {
		dataDir = a.cfg.Ingest.DataDir
	}
	loader := ingest.NewLoader(a.store, a.cfg.Ingest.BatchSize, a.cfg.Report.DefaultTimezone, a.logger)
	if _, err := loader.LoadDir(ctx, dataDir); err != nil {
		return fmt.Errorf("load %s: %w", dataDir, err)
	}
	return nil
}

func runReport(ctx context.Context, configPath string, cmd *cobra.Command) error {
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()
	gen, err := a.generator(report.Options{})
	if err != nil {
		return err
	}
	defer gen.Close()
	r, err := gen.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.FilePath)
	if r.Status == model.ReportPartial {
		a.logger.Warn("report is partial", "report_id", r.ID, "stores", r.Stores)
	}
	return nil
}
