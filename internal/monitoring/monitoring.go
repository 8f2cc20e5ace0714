package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion
	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storemon_observations_ingested_total",
			Help: "Total number of status observations accepted",
		},
		[]string{"source"},
	)

	ObservationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storemon_observations_dropped_total",
			Help: "Total number of status observations rejected or deduplicated",
		},
		[]string{"source", "reason"},
	)

	// Storage
	StorageWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storemon_storage_writes_total",
			Help: "Total number of storage write operations",
		},
		[]string{"table", "status"},
	)

	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storemon_batch_size",
			Help:    "Size of batches written to storage",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"table"},
	)

	// Metrics computation
	StoreComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storemon_store_compute_duration_seconds",
			Help:    "Duration of one store's uptime computation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	StoreComputeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storemon_store_compute_total",
			Help: "Per-store computations by outcome",
		},
		[]string{"outcome"},
	)

	// Reports
	ReportsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storemon_reports_total",
			Help: "Reports finished by final status",
		},
		[]string{"status"},
	)

	ReportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storemon_report_duration_seconds",
			Help:    "Wall time of report generation",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	ReportsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storemon_reports_running",
			Help: "Reports currently being generated",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthCheck tracks readiness of the service.
type HealthCheck struct {
	ready atomic.Bool
}

func NewHealthCheck() *HealthCheck {
	return &HealthCheck{}
}

func (h *HealthCheck) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthCheck) Ready() bool {
	return h.ready.Load()
}

func (h *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready"))
}
