package analytics

import (
	"math"
	"testing"
)

func TestDetectTrend(t *testing.T) {
	tests := []struct {
		name      string
		points    []float64
		direction Direction
		severity  Severity
		pause     bool
	}{
		{"insufficient", []float64{4, 5}, Stable, SeverityInfo, false},
		{"flat at one percent", []float64{1, 1, 1}, Stable, SeverityInfo, false},
		{"rising toward three", []float64{0.5, 1, 1.5, 2, 2.5}, Rising, SeverityCritical, true},
		{"rising warning", []float64{2, 2, 2.3}, Rising, SeverityWarning, false},
		{"high but falling", []float64{9, 7, 5}, Falling, SeverityCritical, true},
		{"falling info", []float64{3, 2, 1}, Falling, SeverityInfo, false},
		{"quiet", []float64{0.2, 0.1, 0.3}, Stable, SeverityOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectTrend(tt.points)
			if got.Direction != tt.direction {
				t.Errorf("Direction = %s, want %s", got.Direction, tt.direction)
			}
			if got.Severity != tt.severity {
				t.Errorf("Severity = %s, want %s", got.Severity, tt.severity)
			}
			if got.RecommendPause != tt.pause {
				t.Errorf("RecommendPause = %v, want %v", got.RecommendPause, tt.pause)
			}
		})
	}
}

func TestDetectTrendFit(t *testing.T) {
	got := DetectTrend([]float64{0.5, 1, 1.5, 2, 2.5})
	if math.Abs(got.Slope-0.5) > 1e-9 || math.Abs(got.Intercept-0.5) > 1e-9 {
		t.Errorf("fit = %v + %v x, want 0.5 + 0.5 x", got.Intercept, got.Slope)
	}
	if math.Abs(got.Predicted-4) > 1e-9 {
		t.Errorf("Predicted = %v, want 4", got.Predicted)
	}
	if got.Current != 2.5 {
		t.Errorf("Current = %v", got.Current)
	}
}

func TestDetectTrendPredictionFloor(t *testing.T) {
	if got := DetectTrend([]float64{3, 2, 1}); got.Predicted != 0 {
		t.Errorf("Predicted = %v, want 0", got.Predicted)
	}
}

func TestSeverityLevel(t *testing.T) {
	if SeverityOK.Level() != 0 || SeverityCritical.Level() != 3 {
		t.Error("unexpected severity levels")
	}
}
