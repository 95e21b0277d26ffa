package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/opensource-finance/sentify/internal/domain"
)

// Supported artifact types.
const (
	TypeLogisticRegression = "logistic_regression"
	TypeTreeEnsemble       = "tree_ensemble"
	TypeExpression         = "expression"
)

var (
	// ErrUnsupportedType is returned for an artifact type Decode does not know.
	ErrUnsupportedType = errors.New("unsupported model type")

	// ErrSchemaMismatch is returned when the artifact's declared features
	// differ from the loaded schema.
	ErrSchemaMismatch = errors.New("model features do not match schema")
)

// Artifact is the serialized form of a trained classifier.
type Artifact struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`

	// Features optionally records the column order used in training.
	Features []string `json:"features,omitempty"`

	// logistic_regression
	Coefficients []float64 `json:"coefficients,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`

	// tree_ensemble
	Aggregation string  `json:"aggregation,omitempty"`
	BaseScore   float64 `json:"base_score,omitempty"`
	Trees       []Tree  `json:"trees,omitempty"`

	// expression
	Expression string `json:"expression,omitempty"`
}

// Decode builds a classifier from artifact bytes.
func Decode(data []byte, schema domain.FeatureSchema) (domain.Classifier, Info, error) {
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, Info{}, fmt.Errorf("failed to parse model artifact: %w", err)
	}

	if len(art.Features) > 0 && !slices.Equal(art.Features, schema) {
		return nil, Info{}, fmt.Errorf("%w: model has %d features, schema has %d", ErrSchemaMismatch, len(art.Features), len(schema))
	}

	info := Info{
		Type:     art.Type,
		Version:  art.Version,
		Features: len(schema),
	}

	var (
		c   domain.Classifier
		err error
	)
	switch art.Type {
	case TypeLogisticRegression:
		c, err = NewLogisticRegression(art.Coefficients, art.Intercept)
	case TypeTreeEnsemble:
		c, err = NewTreeEnsemble(art.Trees, art.Aggregation, art.BaseScore)
	case TypeExpression:
		c, err = NewExpression(art.Expression, schema)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedType, art.Type)
	}
	if err != nil {
		return nil, Info{}, err
	}

	return c, info, nil
}

// Load reads the named model artifact and returns an adapter for it.
// The adapter is never nil: on failure it is Unavailable and err explains why.
func Load(ctx context.Context, store domain.ArtifactReader, name string, schema domain.FeatureSchema) (*Adapter, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		err = fmt.Errorf("failed to read model artifact %s: %w", name, err)
		return Unavailable(err), err
	}

	c, info, err := Decode(data, schema)
	if err != nil {
		return Unavailable(err), err
	}

	return NewAdapter(c, info), nil
}
