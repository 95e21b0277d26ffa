package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/sentify/internal/domain"
)

// ErrRowShape is returned when a row does not fit the model's inputs.
var ErrRowShape = errors.New("feature row shape mismatch")

// LogisticRegression is a linear binary classifier.
type LogisticRegression struct {
	coefficients []float64
	intercept    float64
}

// NewLogisticRegression creates a logistic regression classifier.
func NewLogisticRegression(coefficients []float64, intercept float64) (*LogisticRegression, error) {
	if len(coefficients) == 0 {
		return nil, fmt.Errorf("logistic regression requires coefficients")
	}
	for i, w := range coefficients {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("coefficient %d is not finite", i)
		}
	}
	return &LogisticRegression{
		coefficients: append([]float64(nil), coefficients...),
		intercept:    intercept,
	}, nil
}

// PredictProba returns [P(class 0), P(class 1)].
func (m *LogisticRegression) PredictProba(ctx context.Context, row domain.FeatureRow) ([]float64, error) {
	if len(row) != len(m.coefficients) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ErrRowShape, len(m.coefficients), len(row))
	}

	z := m.intercept
	for i, x := range row {
		z += m.coefficients[i] * x
	}

	p := sigmoid(z)
	return []float64{1 - p, p}, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
