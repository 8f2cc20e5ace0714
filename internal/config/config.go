package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"storemon/internal/tz"
)

type Config struct {
	Env       string         `json:"env" yaml:"env"`
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Report    ReportConfig   `json:"report" yaml:"report"`
	API       APIConfig      `json:"api" yaml:"api"`
	Ingest    IngestConfig   `json:"ingest" yaml:"ingest"`
	Metrics   MetricsConfig  `json:"metrics" yaml:"metrics"`
	Failures  FailuresConfig `json:"failures" yaml:"failures"`
}

type StorageConfig struct {
	Driver       string `json:"driver" yaml:"driver"`
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

type ReportConfig struct {
	MaxWorkers      int           `json:"max_workers" yaml:"max_workers"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	Dir             string        `json:"dir" yaml:"dir"`
	DefaultTimezone string        `json:"default_timezone" yaml:"default_timezone"`
	// TraceStores enables per-store debug tracing during report runs.
	TraceStores bool `json:"trace_stores" yaml:"trace_stores"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type IngestConfig struct {
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	DataDir       string        `json:"data_dir" yaml:"data_dir"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	REST          RESTConfig    `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type FailuresConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		Env:       "development",
		LogLevel:  "info",
		LogFormat: "json",
		Storage:   StorageConfig{Driver: "sqlite", DSN: "file:storemon.db?_pragma=busy_timeout(5000)"},
		Report: ReportConfig{
			MaxWorkers:      10,
			Timeout:         300 * time.Second,
			Dir:             "reports",
			DefaultTimezone: tz.DefaultZone,
		},
		API: APIConfig{Enabled: true, Addr: ":8000"},
		Ingest: IngestConfig{
			BatchSize:     500,
			DataDir:       "data",
			DedupeWindow:  time.Minute,
			ChannelBuffer: 10000,
			FlushInterval: 2 * time.Second,
			REST:          RESTConfig{Enabled: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Metrics:  MetricsConfig{StoreLimit: 50000},
		Failures: FailuresConfig{StoreLimit: 1000},
	}
}

// IsProduction reports whether the service runs with env=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads path as YAML, or JSON when the content looks like JSON, then
// applies environment overrides. An empty path yields the defaults with
// overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("ENV"); val != "" {
		cfg.Env = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Storage.DSN = val
		if strings.HasPrefix(val, "postgres://") || strings.HasPrefix(val, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if val := os.Getenv("DB_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("MAX_WORKERS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("MAX_WORKERS: %w", err)
		}
		cfg.Report.MaxWorkers = n
	}
	if val := os.Getenv("REPORT_TIMEOUT"); val != "" {
		d, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("REPORT_TIMEOUT: %w", err)
		}
		cfg.Report.Timeout = d
	}
	if val := os.Getenv("REPORTS_DIR"); val != "" {
		cfg.Report.Dir = val
	}
	if val := os.Getenv("DEFAULT_TIMEZONE"); val != "" {
		cfg.Report.DefaultTimezone = val
	}
	if val := os.Getenv("API_ADDR"); val != "" {
		cfg.API.Addr = val
	}
	return nil
}

// parseSeconds accepts a bare number of seconds or a Go duration.
func parseSeconds(val string) (time.Duration, error) {
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(val)
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Report.MaxWorkers <= 0 {
		cfg.Report.MaxWorkers = 10
	}
	if cfg.Report.Timeout <= 0 {
		cfg.Report.Timeout = 300 * time.Second
	}
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "reports"
	}
	if cfg.Report.DefaultTimezone == "" {
		cfg.Report.DefaultTimezone = tz.DefaultZone
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = 500
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.FlushInterval <= 0 {
		cfg.Ingest.FlushInterval = 2 * time.Second
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 50000
	}
	if cfg.Failures.StoreLimit <= 0 {
		cfg.Failures.StoreLimit = 1000
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.DedupeWindow < 0 {
		return fmt.Errorf("ingest.dedupe_window must not be negative: %s", cfg.Ingest.DedupeWindow)
	}
	if !tz.Valid(cfg.Report.DefaultTimezone) {
		return fmt.Errorf("report.default_timezone %q is not a known zone", cfg.Report.DefaultTimezone)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the config file and swaps in valid new versions until stop
// is closed. Invalid files are reported through onError and ignored.
func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
