// Package features aligns request records to the model's feature schema.
package features

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/sentify/internal/domain"
)

// ErrNonNumeric is returned when a schema feature carries a value that
// cannot be fed to the model.
var ErrNonNumeric = errors.New("non-numeric feature value")

// EnvelopeKey is the wrapper key some clients put around the record.
const EnvelopeKey = "features"

// Align emits record[name] for every schema name in order, or def when the
// record has no such key. The result always has len(schema) entries.
func Align(record domain.CustomerRecord, schema domain.FeatureSchema, def float64) domain.FeatureRow {
	row := make(domain.FeatureRow, len(schema))
	for i, name := range schema {
		if v, ok := record[name]; ok {
			row[i] = v
		} else {
			row[i] = def
		}
	}
	return row
}

// Unwrap returns the inner object of a {"features": {...}} envelope.
// Bodies that are not such an envelope, or schemas that use "features" as a
// real column, are returned unchanged. Callers opt in; by default the
// envelope key is just an unknown key.
func Unwrap(raw map[string]any, schema domain.FeatureSchema) map[string]any {
	if len(raw) != 1 || schema.Contains(EnvelopeKey) {
		return raw
	}
	inner, ok := raw[EnvelopeKey].(map[string]any)
	if !ok {
		return raw
	}
	return inner
}

// ParseRecord converts a decoded JSON object into a CustomerRecord.
// Only schema keys are inspected. Numbers pass through and booleans become
// 1/0. A null schema value cannot be scored and is rejected like any other
// non-numeric value.
func ParseRecord(raw map[string]any, schema domain.FeatureSchema) (domain.CustomerRecord, error) {
	record := make(domain.CustomerRecord, len(schema))
	for _, name := range schema {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if v == nil {
			return nil, fmt.Errorf("%w: %s is null", ErrNonNumeric, name)
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is %T", ErrNonNumeric, name, v)
		}
		record[name] = f
	}
	return record, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, ErrNonNumeric
	}
}
