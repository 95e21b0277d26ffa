// Package domain defines the core interfaces and types for Sentify.
package domain

import (
	"context"
	"slices"
	"time"
)

// FeatureSchema is the ordered list of feature names the model was trained on.
// Position i of every FeatureRow corresponds to FeatureSchema[i].
type FeatureSchema []string

// Index returns the position of name in the schema, or -1.
func (s FeatureSchema) Index(name string) int {
	return slices.Index(s, name)
}

// Contains reports whether name is part of the schema.
func (s FeatureSchema) Contains(name string) bool {
	return s.Index(name) >= 0
}

// CustomerRecord maps feature names to values for a single request.
// It may hold any subset of the schema; extra keys are ignored.
type CustomerRecord map[string]float64

// FeatureRow is a CustomerRecord aligned to a FeatureSchema.
type FeatureRow []float64

// RiskLevel is the discretized risk tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// RiskAssessment is the scoring result returned to clients.
type RiskAssessment struct {
	RiskScore int       `json:"risk_score" yaml:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
}

// Classifier is the capability a trained binary model exposes.
// PredictProba returns class probabilities for row; index 1 is the
// positive (churn/risk) class.
type Classifier interface {
	PredictProba(ctx context.Context, row FeatureRow) ([]float64, error)
}

// Fallback reasons reported when the fixed fallback assessment is served.
const (
	ReasonModelUnavailable = "model_unavailable"
	ReasonInferenceError   = "inference_error"
	ReasonInferenceTimeout = "inference_timeout"
	ReasonInvalidFeature   = "invalid_feature"
)

// FallbackEvent is published whenever a request was answered with the
// fallback assessment instead of a model score.
type FallbackEvent struct {
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
