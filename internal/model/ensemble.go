package model

import (
	"context"
	"fmt"

	"github.com/opensource-finance/sentify/internal/domain"
)

// Ensemble aggregation modes.
const (
	// AggregateLogitSum adds leaf values to the base score and applies the
	// sigmoid (gradient boosted trees).
	AggregateLogitSum = "logit_sum"

	// AggregateMean averages leaf probabilities (random forest).
	AggregateMean = "mean"
)

// Tree is a binary decision tree stored as a flat node array. Node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split or a leaf. Splits send the row left when
// row[Feature] <= Threshold.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// TreeEnsemble is a boosted or bagged collection of decision trees.
type TreeEnsemble struct {
	trees       []Tree
	aggregation string
	baseScore   float64
	maxFeature  int
}

// NewTreeEnsemble validates the trees and creates an ensemble classifier.
func NewTreeEnsemble(trees []Tree, aggregation string, baseScore float64) (*TreeEnsemble, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("tree ensemble requires at least one tree")
	}
	if aggregation == "" {
		aggregation = AggregateLogitSum
	}
	if aggregation != AggregateLogitSum && aggregation != AggregateMean {
		return nil, fmt.Errorf("unsupported aggregation: %s", aggregation)
	}

	maxFeature := -1
	for t, tree := range trees {
		if len(tree.Nodes) == 0 {
			return nil, fmt.Errorf("tree %d has no nodes", t)
		}
		for i, n := range tree.Nodes {
			if n.Leaf {
				if aggregation == AggregateMean && (n.Value < 0 || n.Value > 1) {
					return nil, fmt.Errorf("tree %d node %d: leaf value %v is not a probability", t, i, n.Value)
				}
				continue
			}
			if n.Feature < 0 {
				return nil, fmt.Errorf("tree %d node %d: negative feature index", t, i)
			}
			// Children must come after their parent so traversal terminates
			if n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return nil, fmt.Errorf("tree %d node %d: invalid children %d/%d", t, i, n.Left, n.Right)
			}
			if n.Feature > maxFeature {
				maxFeature = n.Feature
			}
		}
	}

	return &TreeEnsemble{
		trees:       trees,
		aggregation: aggregation,
		baseScore:   baseScore,
		maxFeature:  maxFeature,
	}, nil
}

// PredictProba returns [P(class 0), P(class 1)].
func (m *TreeEnsemble) PredictProba(ctx context.Context, row domain.FeatureRow) ([]float64, error) {
	if m.maxFeature >= len(row) {
		return nil, fmt.Errorf("%w: trees split on feature %d, row has %d", ErrRowShape, m.maxFeature, len(row))
	}

	var sum float64
	for _, tree := range m.trees {
		sum += tree.leafValue(row)
	}

	var p float64
	switch m.aggregation {
	case AggregateMean:
		p = sum / float64(len(m.trees))
	default:
		p = sigmoid(m.baseScore + sum)
	}

	return []float64{1 - p, p}, nil
}

func (t Tree) leafValue(row domain.FeatureRow) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
