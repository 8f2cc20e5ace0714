package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"storemon/internal/model"
	"storemon/internal/monitoring"
	"storemon/internal/normalize"
)

// RESTHandler accepts POSTed observations, a single JSON object or an array
// of them, and forwards valid ones to the stream writer.
type RESTHandler struct {
	out    chan<- model.Observation
	logger *slog.Logger
}

func NewRESTHandler(out chan<- model.Observation, logger *slog.Logger) *RESTHandler {
	return &RESTHandler{out: out, logger: logger}
}

func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var list []map[string]interface{}
	if trim[0] == '[' {
		if err := decodeJSON(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var obj map[string]interface{}
		if err := decodeJSON(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = append(list, obj)
	}

	accepted, failed := 0, 0
	for _, obj := range list {
		if err := h.processMap(r.Context(), obj); err != nil {
			failed++
			continue
		}
		accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (h *RESTHandler) processMap(ctx context.Context, obj map[string]interface{}) error {
	fields := ParseJSONMap(obj)
	fields.Raw = "rest"
	obs, err := normalize.Normalize(*fields)
	if err != nil {
		monitoring.ObservationsDropped.WithLabelValues("rest", "invalid").Inc()
		if h.logger != nil {
			h.logger.Warn("rest normalize error", "err", err)
		}
		return err
	}
	if !SendNonBlocking(ctx, h.out, obs, h.logger) {
		monitoring.ObservationsDropped.WithLabelValues("rest", "backpressure").Inc()
		return errBackpressure
	}
	return nil
}
