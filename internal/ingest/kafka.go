package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"storemon/internal/config"
	"storemon/internal/model"
	"storemon/internal/monitoring"
	"storemon/internal/normalize"
)

// StartKafka consumes status lines from the configured topic and forwards
// valid observations to out. It returns immediately; the reader stops with
// ctx.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, parser *Parser, out chan<- model.Observation, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			handleMessage(ctx, parser, m.Value, out, logger)
		}
	}()
}

func handleMessage(ctx context.Context, parser *Parser, value []byte, out chan<- model.Observation, logger *slog.Logger) bool {
	fields, err := parser.ParseLine(string(value))
	if err != nil || fields == nil {
		return false
	}
	obs, err := normalize.Normalize(*fields)
	if err != nil {
		monitoring.ObservationsDropped.WithLabelValues("kafka", "invalid").Inc()
		if logger != nil {
			logger.Warn("kafka normalize error", "err", err)
		}
		return false
	}
	if !SendNonBlocking(ctx, out, obs, logger) {
		monitoring.ObservationsDropped.WithLabelValues("kafka", "backpressure").Inc()
		return false
	}
	return true
}
