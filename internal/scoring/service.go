// Package scoring turns a raw request record into a risk assessment.
// It never fails: any problem after the request has been parsed yields the
// fixed fallback assessment.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/features"
	"github.com/opensource-finance/sentify/internal/model"
	"github.com/opensource-finance/sentify/internal/risk"
)

var tracer = otel.Tracer("sentify-scoring")

// Scorer returns the positive-class probability for an aligned row.
// *model.Adapter implements it.
type Scorer interface {
	Score(ctx context.Context, row domain.FeatureRow) (float64, error)
}

// Recorder counts served predictions. The monitor implements it.
type Recorder interface {
	RecordPrediction(ctx context.Context)
}

// Outcome describes how an assessment was produced.
type Outcome struct {
	Fallback bool
	Reason   string
	Err      error
}

// Service runs Align, Score and Classify for every request.
type Service struct {
	schema   domain.FeatureSchema
	scorer   Scorer
	bus      domain.EventBus
	recorder Recorder

	// DefaultValue is used for schema features missing from the record
	DefaultValue float64

	// UnwrapEnvelope scores the inner object of a {"features": {...}} body
	UnwrapEnvelope bool

	predictions metric.Int64Counter
	fallbacks   metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithEventBus publishes a FallbackEvent for every fallback.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithRecorder counts every served assessment.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithDefaultValue sets the value used for missing features.
func WithDefaultValue(v float64) Option {
	return func(s *Service) { s.DefaultValue = v }
}

// WithEnvelope enables unwrapping of {"features": {...}} request bodies.
func WithEnvelope(enabled bool) Option {
	return func(s *Service) { s.UnwrapEnvelope = enabled }
}

// NewService creates a scoring service over a loaded schema.
func NewService(schema domain.FeatureSchema, scorer Scorer, opts ...Option) *Service {
	s := &Service{
		schema: schema,
		scorer: scorer,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("sentify-scoring")
	var err error
	if s.predictions, err = meter.Int64Counter("sentify.predictions",
		metric.WithDescription("Risk assessments served")); err != nil {
		slog.Warn("failed to create predictions counter", "error", err)
	}
	if s.fallbacks, err = meter.Int64Counter("sentify.predictions.fallback",
		metric.WithDescription("Risk assessments answered with the fallback")); err != nil {
		slog.Warn("failed to create fallback counter", "error", err)
	}

	return s
}

// Schema returns the schema the service aligns against.
func (s *Service) Schema() domain.FeatureSchema {
	return s.schema
}

// Assess scores a decoded JSON object. The returned assessment is always
// valid; Outcome reports whether the fallback was used and why.
func (s *Service) Assess(ctx context.Context, raw map[string]any) (domain.RiskAssessment, Outcome) {
	ctx, span := tracer.Start(ctx, "scoring.Assess",
		trace.WithAttributes(attribute.Int("features.schema", len(s.schema))),
	)
	defer span.End()

	if s.recorder != nil {
		s.recorder.RecordPrediction(ctx)
	}

	if s.UnwrapEnvelope {
		raw = features.Unwrap(raw, s.schema)
	}

	record, err := features.ParseRecord(raw, s.schema)
	if err != nil {
		return s.fallback(ctx, span, domain.ReasonInvalidFeature, err)
	}

	row := features.Align(record, s.schema, s.DefaultValue)

	p, err := s.scorer.Score(ctx, row)
	if err != nil {
		return s.fallback(ctx, span, reasonFor(err), err)
	}

	assessment := risk.Classify(p)
	span.SetAttributes(
		attribute.Int("risk.score", assessment.RiskScore),
		attribute.String("risk.level", string(assessment.RiskLevel)),
	)
	s.count(ctx, s.predictions, attribute.String("risk.level", string(assessment.RiskLevel)))

	return assessment, Outcome{}
}

func (s *Service) fallback(ctx context.Context, span trace.Span, reason string, err error) (domain.RiskAssessment, Outcome) {
	requestID := domain.RequestID(ctx)

	slog.Warn("serving fallback assessment",
		"reason", reason,
		"error", err,
		"request_id", requestID,
	)

	span.SetAttributes(
		attribute.Bool("risk.fallback", true),
		attribute.String("risk.fallback.reason", reason),
	)
	s.count(ctx, s.predictions, attribute.String("risk.level", string(risk.Fallback.RiskLevel)))
	s.count(ctx, s.fallbacks, attribute.String("reason", reason))

	if s.bus != nil {
		s.publish(ctx, domain.FallbackEvent{
			Reason:    reason,
			Error:     err.Error(),
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		})
	}

	return risk.Fallback, Outcome{Fallback: true, Reason: reason, Err: err}
}

func (s *Service) publish(ctx context.Context, event domain.FallbackEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode fallback event", "error", err)
		return
	}
	// The request is already answered; delivery problems are only logged
	if err := s.bus.Publish(ctx, domain.TopicScoringFallback, payload); err != nil {
		slog.Error("failed to publish fallback event",
			"topic", domain.TopicScoringFallback,
			"error", err,
		)
	}
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		return domain.ReasonModelUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonInferenceTimeout
	default:
		return domain.ReasonInferenceError
	}
}
