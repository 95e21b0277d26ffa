package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/sentify/internal/bus"
	"github.com/opensource-finance/sentify/internal/cache"
	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/model"
	"github.com/opensource-finance/sentify/internal/monitor"
	"github.com/opensource-finance/sentify/internal/scoring"
)

var testSchema = domain.FeatureSchema{"tenure", "MonthlyCharges", "TotalCharges", "Contract_Two year"}

// fixedClassifier always returns the same positive-class probability.
type fixedClassifier float64

func (f fixedClassifier) PredictProba(ctx context.Context, row domain.FeatureRow) ([]float64, error) {
	return []float64{1 - float64(f), float64(f)}, nil
}

// failingCache fails every ping.
type failingCache struct {
	domain.Cache
}

func (failingCache) Ping(ctx context.Context) error { return errors.New("connection refused") }

func createTestServer(adapter *model.Adapter, opts ...scoring.Option) *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8000,
		ReadTimeout:  30,
		WriteTimeout: 30,
		MaxBodyBytes: 1 << 10,
	}

	svc := scoring.NewService(testSchema, adapter, opts...)
	return NewServer(cfg, Deps{
		Scoring: svc,
		Model:   adapter,
		Version: "test-v1",
	})
}

func loadedAdapter(p float64) *model.Adapter {
	return model.NewAdapter(fixedClassifier(p), model.Info{Type: "stub", Version: "v1", Features: len(testSchema)})
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeAssessment(t *testing.T, rr *httptest.ResponseRecorder) domain.RiskAssessment {
	t.Helper()
	var resp domain.RiskAssessment
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, rr.Body.String())
	}
	return resp
}

func TestPredictEndpoint(t *testing.T) {
	t.Run("LoadedModel", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.73))

		rr := post(t, server, `{"tenure": 2, "MonthlyCharges": 99.5}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decodeAssessment(t, rr)
		if resp.RiskScore != 73 || resp.RiskLevel != domain.RiskHigh {
			t.Errorf("expected {73 High}, got %+v", resp)
		}
		if rr.Header().Get(FallbackHeader) != "" {
			t.Error("expected no fallback header")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})

	t.Run("ResponseShape", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.2))
		rr := post(t, server, `{}`)

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp) != 2 {
			t.Errorf("expected exactly risk_score and risk_level, got %v", resp)
		}
		if resp["risk_level"] != "Low" {
			t.Errorf("expected Low, got %v", resp["risk_level"])
		}
		if resp["risk_score"] != float64(20) {
			t.Errorf("expected 20, got %v", resp["risk_score"])
		}
	})

	t.Run("ModelNotLoaded", func(t *testing.T) {
		server := createTestServer(model.Unavailable(errors.New("no such file")))

		for _, body := range []string{`{}`, `{"tenure": 70}`, `{"tenure": 1, "extra": "x"}`} {
			rr := post(t, server, body)
			if rr.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rr.Code)
			}
			resp := decodeAssessment(t, rr)
			if resp.RiskScore != 50 || resp.RiskLevel != domain.RiskModerate {
				t.Errorf("expected {50 Moderate}, got %+v", resp)
			}
			if got := rr.Header().Get(FallbackHeader); got != domain.ReasonModelUnavailable {
				t.Errorf("expected fallback header %s, got %q", domain.ReasonModelUnavailable, got)
			}
		}
	})

	t.Run("NonNumericFeatureFallsBack", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.9))

		rr := post(t, server, `{"tenure": "long"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decodeAssessment(t, rr)
		if resp.RiskScore != 50 || resp.RiskLevel != domain.RiskModerate {
			t.Errorf("expected fallback, got %+v", resp)
		}
		if rr.Header().Get(FallbackHeader) != domain.ReasonInvalidFeature {
			t.Errorf("expected invalid_feature header, got %q", rr.Header().Get(FallbackHeader))
		}
	})

	t.Run("NullFeatureFallsBack", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.9))

		rr := post(t, server, `{"tenure": null}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decodeAssessment(t, rr)
		if resp.RiskScore != 50 || resp.RiskLevel != domain.RiskModerate {
			t.Errorf("expected fallback, got %+v", resp)
		}
		if rr.Header().Get(FallbackHeader) != domain.ReasonInvalidFeature {
			t.Errorf("expected invalid_feature header, got %q", rr.Header().Get(FallbackHeader))
		}
	})

	t.Run("EnvelopeScoresAsEmptyByDefault", func(t *testing.T) {
		adapter := model.NewAdapter(classifierFunc(func(row domain.FeatureRow) []float64 {
			p := row[0] / 100
			return []float64{1 - p, p}
		}), model.Info{})
		server := createTestServer(adapter)

		empty := post(t, server, `{}`)
		wrapped := post(t, server, `{"features": {"tenure": 70}}`)
		if wrapped.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", wrapped.Code)
		}
		if got, want := decodeAssessment(t, wrapped), decodeAssessment(t, empty); got != want {
			t.Errorf("expected envelope to score like {}: got %+v, want %+v", got, want)
		}
		if h := wrapped.Header().Get(FallbackHeader); h != "" {
			t.Errorf("unexpected fallback header %q", h)
		}
	})

	t.Run("EnvelopeOptInAndBooleans", func(t *testing.T) {
		var seen domain.FeatureRow
		adapter := model.NewAdapter(classifierFunc(func(row domain.FeatureRow) []float64 {
			seen = row
			return []float64{0.5, 0.5}
		}), model.Info{})
		server := createTestServer(adapter, scoring.WithEnvelope(true))

		rr := post(t, server, `{"features": {"tenure": 12, "Contract_Two year": true}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		want := domain.FeatureRow{12, 0, 0, 1}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("row[%d]: expected %v, got %v", i, want[i], seen[i])
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.41))
		body := `{"tenure": 5, "MonthlyCharges": 70.1}`

		first := post(t, server, body).Body.String()
		for range 5 {
			if got := post(t, server, body).Body.String(); got != first {
				t.Fatalf("expected identical responses, got %s and %s", first, got)
			}
		}
	})

	t.Run("MalformedBodies", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.5))

		for _, body := range []string{``, `not json`, `[1, 2]`, `"text"`, `42`, `{"tenure": 1`, `{"tenure": 70} trailing-garbage`, `{} {}`, `{"tenure": 70}]`} {
			rr := post(t, server, body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Errorf("%q: expected status 422, got %d", body, rr.Code)
			}
			var resp map[string]string
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if resp["error"] == "" {
				t.Errorf("%q: expected error message", body)
			}
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.5))

		big := `{"padding": "` + strings.Repeat("x", 2<<10) + `"}`
		rr := post(t, server, big)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})
}

// classifierFunc adapts a function to domain.Classifier.
type classifierFunc func(row domain.FeatureRow) []float64

func (f classifierFunc) PredictProba(ctx context.Context, row domain.FeatureRow) ([]float64, error) {
	return f(row), nil
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		adapter *model.Adapter
		loaded  bool
	}{
		{"Loaded", loadedAdapter(0.5), true},
		{"NotLoaded", model.Unavailable(errors.New("missing")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := createTestServer(tt.adapter)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rr.Code)
			}

			var resp HealthResponse
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if resp.Status != "healthy" {
				t.Errorf("expected status 'healthy', got '%s'", resp.Status)
			}
			if resp.ModelLoaded != tt.loaded {
				t.Errorf("expected model_loaded %v, got %v", tt.loaded, resp.ModelLoaded)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg := domain.ServerConfig{Port: 8000}
	adapter := model.Unavailable(nil)
	svc := scoring.NewService(testSchema, adapter)

	t.Run("Ready", func(t *testing.T) {
		server := NewServer(cfg, Deps{
			Scoring: svc,
			Model:   adapter,
			Cache:   cache.NewLRUCache(10),
			Bus:     bus.NewChannelBus(10),
		})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CacheDown", func(t *testing.T) {
		server := NewServer(cfg, Deps{
			Scoring: svc,
			Model:   adapter,
			Cache:   failingCache{},
		})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
		var resp struct {
			Ready  bool              `json:"ready"`
			Checks map[string]string `json:"checks"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Ready || resp.Checks["cache"] == "ok" {
			t.Errorf("expected cache failure to be reported, got %+v", resp)
		}
	})
}

func TestIntrospectionEndpoints(t *testing.T) {
	server := createTestServer(loadedAdapter(0.5))

	t.Run("Schema", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/schema", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp SchemaResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(testSchema) || resp.Features[0] != "tenure" {
			t.Errorf("unexpected schema response: %+v", resp)
		}
	})

	t.Run("Model", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/model", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var info model.Info
		json.Unmarshal(rr.Body.Bytes(), &info)
		if !info.Loaded || info.Type != "stub" || info.Version != "v1" {
			t.Errorf("unexpected model info: %+v", info)
		}
	})

	t.Run("StatsDisabled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	mon := monitor.New(eventBus, cache.NewLRUCache(100), time.Minute)
	if err := mon.Start(); err != nil {
		t.Fatalf("failed to start monitor: %v", err)
	}
	defer mon.Stop()

	adapter := model.Unavailable(errors.New("missing"))
	svc := scoring.NewService(testSchema, adapter, scoring.WithEventBus(eventBus), scoring.WithRecorder(mon))
	server := NewServer(domain.ServerConfig{Port: 8000}, Deps{
		Scoring: svc,
		Model:   adapter,
		Stats:   mon,
	})

	for range 3 {
		post(t, server, `{"tenure": 1}`)
	}

	var stats monitor.Stats
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		json.Unmarshal(rr.Body.Bytes(), &stats)
		if stats.FallbackTotal == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if stats.Predictions != 3 {
		t.Errorf("expected 3 predictions, got %d", stats.Predictions)
	}
	if stats.Fallbacks[domain.ReasonModelUnavailable] != 3 {
		t.Errorf("expected 3 model_unavailable fallbacks, got %v", stats.Fallbacks)
	}
	if stats.LastFallback == nil || stats.LastFallback.RequestID == "" {
		t.Errorf("expected last fallback with request id, got %+v", stats.LastFallback)
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get(RequestIDHeader) != capturedRequestID {
			t.Error("expected X-Request-ID response header to match context")
		}
	})

	t.Run("TracingMiddlewareKeepsClientRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-req-1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "client-req-1" {
			t.Errorf("expected client request id to be echoed, got %q", rr.Header().Get(RequestIDHeader))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		server := createTestServer(loadedAdapter(0.5))

		req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("expected wildcard origin, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}

func TestDecodeObject(t *testing.T) {
	obj, _, err := decodeObject(bytes.NewBufferString(`{"tenure": 12.5}`))
	if err != nil {
		t.Fatalf("decodeObject failed: %v", err)
	}
	if n, ok := obj["tenure"].(json.Number); !ok || n.String() != "12.5" {
		t.Errorf("expected json.Number 12.5, got %T %v", obj["tenure"], obj["tenure"])
	}
}

func TestDecodeObjectTrailingData(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"TrailingWhitespace", "{\"tenure\": 70}\n  ", true},
		{"TrailingGarbage", `{"tenure": 70} trailing-garbage`, false},
		{"SecondObject", `{"tenure": 70} {"tenure": 1}`, false},
		{"TrailingBracket", `{"tenure": 70}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, status, err := decodeObject(bytes.NewBufferString(tt.body))
			if tt.ok {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || status != http.StatusUnprocessableEntity {
				t.Errorf("expected 422, got status %d err %v", status, err)
			}
		})
	}
}
