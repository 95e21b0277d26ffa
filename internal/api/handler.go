package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/model"
	"github.com/opensource-finance/sentify/internal/monitor"
	"github.com/opensource-finance/sentify/internal/scoring"
)

// ModelStatus reports on the loaded model. *model.Adapter implements it.
type ModelStatus interface {
	Loaded() bool
	Info() model.Info
}

// StatsSource serves fallback statistics. *monitor.Monitor implements it.
type StatsSource interface {
	Stats(ctx context.Context) (monitor.Stats, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scoring *scoring.Service
	model   ModelStatus
	stats   StatsSource
	cache   domain.Cache
	bus     domain.EventBus
	version string
	maxBody int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		scoring: deps.Scoring,
		model:   deps.Model,
		stats:   deps.Stats,
		cache:   deps.Cache,
		bus:     deps.Bus,
		version: deps.Version,
		maxBody: maxBody,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// SchemaResponse is the response for GET /schema.
type SchemaResponse struct {
	Features []string `json:"features"`
	Count    int      `json:"count"`
}

// Predict handles POST /predict. Every well-formed JSON object gets a 200
// with an assessment; model problems only show up in the X-Risk-Fallback
// header.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	raw, status, err := decodeObject(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	assessment, outcome := h.scoring.Assess(r.Context(), raw)
	if outcome.Fallback {
		w.Header().Set(FallbackHeader, outcome.Reason)
	}

	writeJSON(w, http.StatusOK, assessment)
}

// decodeObject reads a single JSON object from body.
func decodeObject(body io.Reader) (map[string]any, int, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return nil, http.StatusUnprocessableEntity, errors.New("request body is empty")
		}
		return nil, http.StatusUnprocessableEntity, errors.New("invalid JSON request body")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, http.StatusUnprocessableEntity, errors.New("request body must be a JSON object")
	}

	// The object must be the whole body
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return nil, http.StatusUnprocessableEntity, errors.New("invalid JSON request body")
	}
	return obj, 0, nil
}

// Health reports liveness and whether the model loaded. Always 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.model != nil && h.model.Loaded(),
	})
}

// Ready returns whether the server's backing services are reachable.
// A missing model does not make the server unready; it serves fallbacks.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			slog.Warn("cache not ready", "error", err)
			checks["cache"] = err.Error()
			ready = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			slog.Warn("event bus not ready", "error", err)
			checks["eventBus"] = err.Error()
			ready = false
		} else {
			checks["eventBus"] = "ok"
		}
	}
	if h.model != nil && h.model.Loaded() {
		checks["model"] = "loaded"
	} else {
		checks["model"] = "unavailable"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":   ready,
		"version": h.version,
		"checks":  checks,
	})
}

// Schema returns the feature schema the service aligns requests to.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	schema := h.scoring.Schema()
	writeJSON(w, http.StatusOK, SchemaResponse{
		Features: append([]string{}, schema...),
		Count:    len(schema),
	})
}

// Model returns metadata about the loaded model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	var info model.Info
	if h.model != nil {
		info = h.model.Info()
	}
	writeJSON(w, http.StatusOK, info)
}

// Stats returns windowed prediction and fallback counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "monitor disabled"})
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read stats", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
