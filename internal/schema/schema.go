// Package schema loads the ordered feature schema the model was trained on.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/sentify/internal/domain"
)

var (
	// ErrEmptySchema is returned for a schema with no features.
	ErrEmptySchema = errors.New("feature schema is empty")

	// ErrDuplicateColumn is returned when a feature name appears twice.
	ErrDuplicateColumn = errors.New("duplicate feature name")

	// ErrBlankColumn is returned for an empty or whitespace-only name.
	ErrBlankColumn = errors.New("blank feature name")
)

// Parse decodes a JSON array of feature names.
func Parse(data []byte) (domain.FeatureSchema, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse feature schema: %w", err)
	}
	if err := Validate(names); err != nil {
		return nil, err
	}
	return domain.FeatureSchema(names), nil
}

// Validate checks that names is non-empty and holds unique, non-blank entries.
func Validate(names []string) error {
	if len(names) == 0 {
		return ErrEmptySchema
	}

	seen := make(map[string]int, len(names))
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w at position %d", ErrBlankColumn, i)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w %q at positions %d and %d", ErrDuplicateColumn, name, prev, i)
		}
		seen[name] = i
	}
	return nil
}

// Load reads and parses the named schema artifact.
func Load(ctx context.Context, store domain.ArtifactReader, name string) (domain.FeatureSchema, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema artifact %s: %w", name, err)
	}
	return Parse(data)
}

// Store holds the schema for the process lifetime.
type Store struct {
	schema domain.FeatureSchema
}

// NewStore copies schema into a new Store.
func NewStore(schema domain.FeatureSchema) *Store {
	return &Store{schema: append(domain.FeatureSchema(nil), schema...)}
}

// Schema returns a copy of the ordered feature names.
func (s *Store) Schema() domain.FeatureSchema {
	return append(domain.FeatureSchema(nil), s.schema...)
}

// Len returns the number of features.
func (s *Store) Len() int {
	return len(s.schema)
}
