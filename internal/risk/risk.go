// Package risk maps model probabilities to risk scores and tiers.
package risk

import (
	"math"

	"github.com/opensource-finance/sentify/internal/domain"
)

// Inclusive lower bounds on the integer risk score.
const (
	HighThreshold     = 60
	ModerateThreshold = 40
)

// Fallback is returned whenever the model cannot produce a probability.
var Fallback = domain.RiskAssessment{
	RiskScore: 50,
	RiskLevel: domain.RiskModerate,
}

// Score converts a positive-class probability into a 0-100 integer.
// Halves round to even; NaN maps to 0.
func Score(probability float64) int {
	if math.IsNaN(probability) {
		return 0
	}
	score := math.RoundToEven(probability * 100)
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return int(score)
}

// Level returns the tier for an integer risk score.
func Level(score int) domain.RiskLevel {
	switch {
	case score >= HighThreshold:
		return domain.RiskHigh
	case score >= ModerateThreshold:
		return domain.RiskModerate
	default:
		return domain.RiskLow
	}
}

// Classify returns the assessment for a positive-class probability.
func Classify(probability float64) domain.RiskAssessment {
	score := Score(probability)
	return domain.RiskAssessment{
		RiskScore: score,
		RiskLevel: Level(score),
	}
}
