package analytics

import (
	"fmt"
	"math"
)

// Direction of a fitted trend.
type Direction string

const (
	Rising  Direction = "rising"
	Falling Direction = "falling"
	Stable  Direction = "stable"
)

// Severity of a trend.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Level orders severities for metrics: ok 0 through critical 3.
func (s Severity) Level() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Trend thresholds.
const (
	MinPoints        = 3
	SlopeThreshold   = 0.1
	PredictAhead     = 3
	CriticalCurrent  = 5.0
	CriticalForecast = 3.0
	WarningCurrent   = 2.0
	InfoCurrent      = 1.0
)

// Trend is the fitted result over a series of daily rates.
type Trend struct {
	Direction      Direction `json:"direction"`
	Severity       Severity  `json:"severity"`
	Slope          float64   `json:"slope"`
	Intercept      float64   `json:"intercept"`
	Current        float64   `json:"current"`
	Predicted      float64   `json:"predicted"`
	RecommendPause bool      `json:"recommend_pause"`
	Message        string    `json:"message"`
}

// DetectTrend fits y = intercept + slope·x over points (x = 0..n-1, oldest
// first) and predicts the value three days past the last point.
func DetectTrend(points []float64) Trend {
	n := len(points)
	if n < MinPoints {
		t := Trend{Direction: Stable, Severity: SeverityInfo, Message: "insufficient data"}
		if n > 0 {
			t.Current = points[n-1]
		}
		return t
	}

	slope, intercept := leastSquares(points)
	t := Trend{
		Slope:     slope,
		Intercept: intercept,
		Current:   points[n-1],
		Predicted: math.Max(0, intercept+slope*float64(n-1+PredictAhead)),
	}
	switch {
	case slope > SlopeThreshold:
		t.Direction = Rising
	case slope < -SlopeThreshold:
		t.Direction = Falling
	default:
		t.Direction = Stable
	}

	switch {
	case t.Current >= CriticalCurrent || (t.Direction == Rising && t.Predicted >= CriticalForecast):
		t.Severity = SeverityCritical
		t.RecommendPause = true
	case t.Direction == Rising && t.Current >= WarningCurrent:
		t.Severity = SeverityWarning
	case t.Current >= InfoCurrent:
		t.Severity = SeverityInfo
	default:
		t.Severity = SeverityOK
	}
	t.Message = fmt.Sprintf("%s at %.2f%%, %s (%.2f/day), %.2f%% expected in %d days",
		t.Severity, t.Current, t.Direction, t.Slope, t.Predicted, PredictAhead)
	return t
}

func leastSquares(y []float64) (slope, intercept float64) {
	n := float64(len(y))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
