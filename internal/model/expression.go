package model

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/sentify/internal/domain"
)

// Expression is a classifier defined by a CEL expression that returns the
// positive-class probability. The expression sees:
//
//	features  map(string, double)  values keyed by schema name
//	row       list(double)         values in schema order
//
// and may call sigmoid(double).
type Expression struct {
	source  string
	schema  domain.FeatureSchema
	program cel.Program
}

// NewExpression compiles expr against schema.
func NewExpression(expr string, schema domain.FeatureSchema) (*Expression, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression model requires an expression")
	}

	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("row", cel.ListType(cel.DoubleType)),
		cel.Function("sigmoid",
			cel.Overload("sigmoid_double",
				[]*cel.Type{cel.DoubleType},
				cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					d, ok := v.(types.Double)
					if !ok {
						return types.MaybeNoSuchOverloadErr(v)
					}
					return types.Double(sigmoid(float64(d)))
				}),
			),
		),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DoubleType) && !outputType.IsExactType(cel.IntType) {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return &Expression{
		source:  expr,
		schema:  append(domain.FeatureSchema(nil), schema...),
		program: program,
	}, nil
}

// PredictProba returns [P(class 0), P(class 1)].
func (m *Expression) PredictProba(ctx context.Context, row domain.FeatureRow) ([]float64, error) {
	if len(row) != len(m.schema) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ErrRowShape, len(m.schema), len(row))
	}

	named := make(map[string]float64, len(m.schema))
	for i, name := range m.schema {
		named[name] = row[i]
	}

	out, _, err := m.program.ContextEval(ctx, map[string]any{
		"features": named,
		"row":      []float64(row),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	p, err := toProbability(out)
	if err != nil {
		return nil, err
	}
	return []float64{1 - p, p}, nil
}

// Source returns the CEL expression text.
func (m *Expression) Source() string {
	return m.source
}

// toProbability converts a CEL value to a float.
func toProbability(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unexpected expression result type %s", val.Type())
	}
}
