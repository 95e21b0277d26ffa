package risk

import (
	"math"
	"testing"

	"github.com/opensource-finance/sentify/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		p     float64
		score int
		level domain.RiskLevel
	}{
		{"Zero", 0, 0, domain.RiskLow},
		{"Low", 0.12, 12, domain.RiskLow},
		{"JustBelowModerate", 0.39, 39, domain.RiskLow},
		{"ModerateBoundary", 0.40, 40, domain.RiskModerate},
		{"Moderate", 0.5, 50, domain.RiskModerate},
		{"JustBelowHigh", 0.59, 59, domain.RiskModerate},
		{"HighBoundary", 0.60, 60, domain.RiskHigh},
		{"High", 0.73, 73, domain.RiskHigh},
		{"One", 1.0, 100, domain.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.p)
			if got.RiskScore != tt.score {
				t.Errorf("expected score %d, got %d", tt.score, got.RiskScore)
			}
			if got.RiskLevel != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, got.RiskLevel)
			}
		})
	}
}

func TestClassifyRanges(t *testing.T) {
	// Step through [0, 1] and check each probability against its tier,
	// skipping values that round across a boundary.
	for i := 0; i <= 1000; i++ {
		p := float64(i) / 1000
		got := Classify(p)

		switch {
		case p < 0.395:
			if got.RiskLevel != domain.RiskLow {
				t.Errorf("p=%.3f: expected Low, got %s", p, got.RiskLevel)
			}
		case p >= 0.40 && p < 0.595:
			if got.RiskLevel != domain.RiskModerate {
				t.Errorf("p=%.3f: expected Moderate, got %s", p, got.RiskLevel)
			}
		case p >= 0.60:
			if got.RiskLevel != domain.RiskHigh {
				t.Errorf("p=%.3f: expected High, got %s", p, got.RiskLevel)
			}
		}

		if got.RiskScore < 0 || got.RiskScore > 100 {
			t.Errorf("p=%.3f: score %d out of range", p, got.RiskScore)
		}
	}
}

func TestScore(t *testing.T) {
	t.Run("RoundHalfToEven", func(t *testing.T) {
		if got := Score(0.125); got != 12 {
			t.Errorf("expected 12, got %d", got)
		}
		if got := Score(0.375); got != 38 {
			t.Errorf("expected 38, got %d", got)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		if got := Score(-0.2); got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
		if got := Score(1.7); got != 100 {
			t.Errorf("expected 100, got %d", got)
		}
		if got := Score(math.NaN()); got != 0 {
			t.Errorf("expected 0 for NaN, got %d", got)
		}
	})
}

func TestLevel(t *testing.T) {
	for score := 0; score <= 100; score++ {
		want := domain.RiskLow
		if score >= 60 {
			want = domain.RiskHigh
		} else if score >= 40 {
			want = domain.RiskModerate
		}
		if got := Level(score); got != want {
			t.Errorf("score %d: expected %s, got %s", score, want, got)
		}
	}
}

func TestFallback(t *testing.T) {
	if Fallback.RiskScore != 50 || Fallback.RiskLevel != domain.RiskModerate {
		t.Errorf("unexpected fallback: %+v", Fallback)
	}
}
