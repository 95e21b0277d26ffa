// Package model wraps the trained classifier behind a single scoring call.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/sentify/internal/domain"
)

var (
	// ErrModelUnavailable is returned by Score when no model was loaded.
	ErrModelUnavailable = errors.New("model not loaded")

	// ErrOutputShape means the classifier returned fewer than two classes.
	ErrOutputShape = errors.New("classifier must return two class probabilities")

	// ErrProbabilityRange means the positive-class output was NaN or outside [0, 1].
	ErrProbabilityRange = errors.New("probability outside [0, 1]")

	// ErrPanic wraps a panic recovered from the classifier.
	ErrPanic = errors.New("classifier panicked")
)

// InferenceError wraps any failure raised while scoring a loaded model.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Info describes the loaded model.
type Info struct {
	Loaded   bool      `json:"loaded"`
	Type     string    `json:"type,omitempty"`
	Version  string    `json:"version,omitempty"`
	Features int       `json:"features"`
	LoadedAt time.Time `json:"loadedAt,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Adapter owns the process-wide classifier. It is built once at startup and
// never mutated afterwards, so it is safe for concurrent use.
type Adapter struct {
	classifier domain.Classifier
	info       Info

	// Timeout bounds a single inference call. Zero means no bound.
	Timeout time.Duration
}

// NewAdapter wraps a loaded classifier.
func NewAdapter(c domain.Classifier, info Info) *Adapter {
	if c == nil {
		return Unavailable(ErrModelUnavailable)
	}
	info.Loaded = true
	if info.LoadedAt.IsZero() {
		info.LoadedAt = time.Now().UTC()
	}
	return &Adapter{classifier: c, info: info}
}

// Unavailable returns an adapter for a model that failed to load.
// Every Score call on it returns ErrModelUnavailable.
func Unavailable(cause error) *Adapter {
	info := Info{Loaded: false}
	if cause != nil {
		info.Error = cause.Error()
	}
	return &Adapter{info: info}
}

// Loaded reports whether a model is available.
func (a *Adapter) Loaded() bool {
	return a != nil && a.classifier != nil
}

// Info returns metadata about the model.
func (a *Adapter) Info() Info {
	if a == nil {
		return Info{}
	}
	return a.info
}

// Score returns the positive-class probability for row.
// It makes exactly one classifier call.
func (a *Adapter) Score(ctx context.Context, row domain.FeatureRow) (float64, error) {
	if !a.Loaded() {
		return 0, ErrModelUnavailable
	}

	probs, err := a.predict(ctx, row)
	if err != nil {
		return 0, &InferenceError{Err: err}
	}
	if len(probs) < 2 {
		return 0, &InferenceError{Err: fmt.Errorf("%w: got %d", ErrOutputShape, len(probs))}
	}

	p := probs[1]
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, &InferenceError{Err: fmt.Errorf("%w: %v", ErrProbabilityRange, p)}
	}
	return p, nil
}

func (a *Adapter) predict(ctx context.Context, row domain.FeatureRow) ([]float64, error) {
	if a.Timeout <= 0 {
		return a.call(ctx, row)
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	type result struct {
		probs []float64
		err   error
	}
	resultCh := make(chan result, 1)

	// Run in a goroutine so a stuck classifier cannot hold the request past the deadline
	go func() {
		probs, err := a.call(ctx, row)
		resultCh <- result{probs: probs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.probs, r.err
	}
}

func (a *Adapter) call(ctx context.Context, row domain.FeatureRow) (probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return a.classifier.PredictProba(ctx, row)
}
