package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"storemon/internal/config"
	"storemon/internal/failures"
	"storemon/internal/metrics"
	"storemon/internal/model"
	"storemon/internal/monitoring"
	"storemon/internal/storage"
)

// Reports triggers report jobs and reads their state.
type Reports interface {
	Trigger(ctx context.Context) (model.Report, error)
	Get(ctx context.Context, id string) (model.Report, error)
}

type Deps struct {
	Reports  Reports
	Metrics  *metrics.Store
	Failures *failures.Store
	Health   *monitoring.HealthCheck
	// Observations receives POST /observations; nil disables the route.
	Observations http.Handler
}

type Server struct {
	cfg      *config.Manager
	reports  Reports
	metrics  *metrics.Store
	failures *failures.Store
	health   *monitoring.HealthCheck
	ingest   http.Handler
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	Env        string       `json:"env"`
	ConfigPath string       `json:"config_path"`
	Storage    string       `json:"storage"`
	Report     reportStatus `json:"report"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	Cached     int          `json:"cached_stores"`
}

type reportStatus struct {
	MaxWorkers      int    `json:"max_workers"`
	Timeout         string `json:"timeout"`
	Dir             string `json:"dir"`
	DefaultTimezone string `json:"default_timezone"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:      cfg,
		reports:  deps.Reports,
		metrics:  deps.Metrics,
		failures: deps.Failures,
		health:   deps.Health,
		ingest:   deps.Observations,
		logger:   logger,
		version:  version,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewStore(0)
	}
	if s.failures == nil {
		s.failures = failures.NewStore(0)
	}
	if s.health == nil {
		s.health = monitoring.NewHealthCheck()
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/trigger_report", s.handleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/get_report/{report_id}", s.handleGetReport).Methods(http.MethodGet)
	router.HandleFunc("/stores/metrics", s.handleAllStoreMetrics).Methods(http.MethodGet)
	router.HandleFunc("/stores/{store_id}/metrics", s.handleStoreMetrics).Methods(http.MethodGet)
	router.HandleFunc("/failures", s.handleFailures).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/admin/clear", s.handleClear).Methods(http.MethodPost)
	router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	router.Handle("/metrics", monitoring.Handler()).Methods(http.MethodGet)
	if s.ingest != nil && s.cfg.Get().Ingest.REST.Enabled {
		router.Handle("/observations", s.ingest).Methods(http.MethodPost)
	}
	return router
}

// Start serves the API until ctx ends. It returns nil when the API is
// disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.Trigger(r.Context())
	if err != nil {
		if s.logger != nil {
			s.logger.Error("trigger report failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "Could not trigger report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report_id": report.ID})
}

// handleGetReport answers with the job status while it runs or has failed,
// and with the CSV once it is downloadable.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["report_id"]
	report, err := s.reports.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Error("get report failed", "report_id", id, "err", err)
		}
		writeError(w, http.StatusInternalServerError, "Could not read report")
		return
	}
	if !report.Downloadable() {
		writeJSON(w, http.StatusOK, map[string]any{"status": report.StatusText()})
		return
	}

	f, err := os.Open(report.FilePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "Report file not found")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=report_"+report.ID+".csv")
	w.Header().Set("X-Report-Status", string(report.Status))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil && s.logger != nil {
		s.logger.Warn("send report failed", "report_id", id, "err", err)
	}
}

func (s *Server) handleStoreMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["store_id"]
	m, ok := s.metrics.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "No metrics for store")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAllStoreMetrics(w http.ResponseWriter, r *http.Request) {
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.StoreFailure
	switch {
	case q.Get("report_id") != "":
		list = s.failures.ForReport(q.Get("report_id"))
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		list = s.failures.Since(ts)
	default:
		list = s.failures.List(limit)
	}
	if list == nil {
		list = []model.StoreFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"failures": list,
		"count":    len(list),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		Env:        cfg.Env,
		ConfigPath: s.cfg.Path(),
		Storage:    cfg.Storage.Driver,
		Report: reportStatus{
			MaxWorkers:      cfg.Report.MaxWorkers,
			Timeout:         cfg.Report.Timeout.String(),
			Dir:             cfg.Report.Dir,
			DefaultTimezone: cfg.Report.DefaultTimezone,
		},
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		API:    apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Cached: s.metrics.Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.failures.Clear()
	case "failures":
		s.failures.Clear()
	case "metrics":
		s.metrics.Clear()
	default:
		writeError(w, http.StatusBadRequest, "unknown target")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
