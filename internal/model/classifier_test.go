package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/sentify/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLogisticRegression(t *testing.T) {
	ctx := context.Background()

	m, err := NewLogisticRegression([]float64{0.5, -1.0}, 0.25)
	if err != nil {
		t.Fatalf("NewLogisticRegression failed: %v", err)
	}

	t.Run("Probabilities", func(t *testing.T) {
		probs, err := m.PredictProba(ctx, domain.FeatureRow{2, 1})
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		// z = 0.25 + 1.0 - 1.0
		want := 1 / (1 + math.Exp(-0.25))
		if !approx(probs[1], want) {
			t.Errorf("expected %v, got %v", want, probs[1])
		}
		if !approx(probs[0]+probs[1], 1) {
			t.Errorf("probabilities must sum to 1, got %v", probs[0]+probs[1])
		}
	})

	t.Run("ZeroRowUsesIntercept", func(t *testing.T) {
		zero, _ := NewLogisticRegression([]float64{3, 4}, 0)
		probs, _ := zero.PredictProba(ctx, domain.FeatureRow{0, 0})
		if !approx(probs[1], 0.5) {
			t.Errorf("expected 0.5, got %v", probs[1])
		}
	})

	t.Run("ExtremeLogits", func(t *testing.T) {
		big, _ := NewLogisticRegression([]float64{1}, 0)
		hi, _ := big.PredictProba(ctx, domain.FeatureRow{1000})
		lo, _ := big.PredictProba(ctx, domain.FeatureRow{-1000})
		if hi[1] != 1 || lo[1] != 0 {
			t.Errorf("expected saturation, got %v and %v", hi[1], lo[1])
		}
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		if _, err := m.PredictProba(ctx, domain.FeatureRow{1}); !errors.Is(err, ErrRowShape) {
			t.Errorf("expected ErrRowShape, got %v", err)
		}
	})

	t.Run("NoCoefficients", func(t *testing.T) {
		if _, err := NewLogisticRegression(nil, 0); err == nil {
			t.Error("expected error for empty coefficients")
		}
	})
}

func TestTreeEnsemble(t *testing.T) {
	ctx := context.Background()

	// tenure <= 6 ? 0.8 : (charges <= 50 ? 0.1 : 0.4)
	forest := []Tree{
		{Nodes: []Node{
			{Feature: 0, Threshold: 6, Left: 1, Right: 2},
			{Leaf: true, Value: 0.8},
			{Feature: 1, Threshold: 50, Left: 3, Right: 4},
			{Leaf: true, Value: 0.1},
			{Leaf: true, Value: 0.4},
		}},
		{Nodes: []Node{
			{Leaf: true, Value: 0.6},
		}},
	}

	t.Run("Mean", func(t *testing.T) {
		m, err := NewTreeEnsemble(forest, AggregateMean, 0)
		if err != nil {
			t.Fatalf("NewTreeEnsemble failed: %v", err)
		}

		tests := []struct {
			row  domain.FeatureRow
			want float64
		}{
			{domain.FeatureRow{3, 90}, (0.8 + 0.6) / 2},
			{domain.FeatureRow{6, 90}, (0.8 + 0.6) / 2},
			{domain.FeatureRow{24, 30}, (0.1 + 0.6) / 2},
			{domain.FeatureRow{24, 80}, (0.4 + 0.6) / 2},
		}
		for _, tt := range tests {
			probs, err := m.PredictProba(ctx, tt.row)
			if err != nil {
				t.Fatalf("PredictProba failed: %v", err)
			}
			if !approx(probs[1], tt.want) {
				t.Errorf("row %v: expected %v, got %v", tt.row, tt.want, probs[1])
			}
		}
	})

	t.Run("LogitSum", func(t *testing.T) {
		boosted := []Tree{
			{Nodes: []Node{
				{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
				{Leaf: true, Value: -1.0},
				{Leaf: true, Value: 1.5},
			}},
		}
		m, err := NewTreeEnsemble(boosted, AggregateLogitSum, -0.5)
		if err != nil {
			t.Fatalf("NewTreeEnsemble failed: %v", err)
		}

		probs, _ := m.PredictProba(ctx, domain.FeatureRow{1})
		if !approx(probs[1], sigmoid(1.0)) {
			t.Errorf("expected %v, got %v", sigmoid(1.0), probs[1])
		}
	})

	t.Run("RowTooShort", func(t *testing.T) {
		m, _ := NewTreeEnsemble(forest, AggregateMean, 0)
		if _, err := m.PredictProba(ctx, domain.FeatureRow{1}); !errors.Is(err, ErrRowShape) {
			t.Errorf("expected ErrRowShape, got %v", err)
		}
	})

	t.Run("InvalidTrees", func(t *testing.T) {
		bad := []struct {
			name  string
			trees []Tree
			agg   string
		}{
			{"NoTrees", nil, AggregateMean},
			{"EmptyTree", []Tree{{}}, AggregateMean},
			{"BackEdge", []Tree{{Nodes: []Node{{Feature: 0, Left: 0, Right: 1}, {Leaf: true}}}}, AggregateMean},
			{"ChildOutOfRange", []Tree{{Nodes: []Node{{Feature: 0, Left: 1, Right: 5}, {Leaf: true}}}}, AggregateMean},
			{"LeafNotProbability", []Tree{{Nodes: []Node{{Leaf: true, Value: 2}}}}, AggregateMean},
			{"UnknownAggregation", []Tree{{Nodes: []Node{{Leaf: true}}}}, "median"},
		}
		for _, tt := range bad {
			if _, err := NewTreeEnsemble(tt.trees, tt.agg, 0); err == nil {
				t.Errorf("%s: expected error", tt.name)
			}
		}
	})
}

func TestExpression(t *testing.T) {
	ctx := context.Background()
	schema := domain.FeatureSchema{"tenure", "MonthlyCharges"}

	t.Run("ByName", func(t *testing.T) {
		m, err := NewExpression(`features.tenure < 6.0 && features.MonthlyCharges > 70.0 ? 0.85 : 0.2`, schema)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}

		probs, err := m.PredictProba(ctx, domain.FeatureRow{2, 99.5})
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		if !approx(probs[1], 0.85) {
			t.Errorf("expected 0.85, got %v", probs[1])
		}

		probs, _ = m.PredictProba(ctx, domain.FeatureRow{40, 99.5})
		if !approx(probs[1], 0.2) {
			t.Errorf("expected 0.2, got %v", probs[1])
		}
	})

	t.Run("ByPositionWithSigmoid", func(t *testing.T) {
		m, err := NewExpression(`sigmoid(0.5 * row[0] - 1.0)`, schema)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		probs, err := m.PredictProba(ctx, domain.FeatureRow{2, 0})
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		if !approx(probs[1], 0.5) {
			t.Errorf("expected 0.5, got %v", probs[1])
		}
	})

	t.Run("BoolResult", func(t *testing.T) {
		m, err := NewExpression(`features.tenure > 12.0`, schema)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		probs, _ := m.PredictProba(ctx, domain.FeatureRow{24, 0})
		if probs[1] != 1 {
			t.Errorf("expected 1, got %v", probs[1])
		}
	})

	t.Run("CompileErrors", func(t *testing.T) {
		for _, expr := range []string{"", "features.tenure +", `"text"`} {
			if _, err := NewExpression(expr, schema); err == nil {
				t.Errorf("expected error for %q", expr)
			}
		}
	})

	t.Run("MissingKeyIsInferenceFailure", func(t *testing.T) {
		m, err := NewExpression(`features.unknown`, schema)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		if _, err := m.PredictProba(ctx, domain.FeatureRow{1, 2}); err == nil {
			t.Error("expected evaluation error for unknown feature")
		}
	})
}
