// Package engagement scores how responsive a lead is, decays that score
// over idle time, and buckets leads into pacing tiers.
package engagement

import (
	"math"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

// Score bounds and event weights.
const (
	MinScore = 0
	MaxScore = 100

	WeightOpened      = 5
	WeightClicked     = 10
	WeightReplied     = 25
	PenaltySoftBounce = 15

	// HalfLife is the idle time after which a score halves.
	HalfLife = 30 * 24 * time.Hour
)

// Tier buckets a lead for pacing.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
	TierIce  Tier = "ice"
)

// Apply returns the score after ev.
func Apply(score int, ev domain.EventType, bounce domain.BounceType) int {
	switch ev {
	case domain.EventOpened:
		score += WeightOpened
	case domain.EventClicked:
		score += WeightClicked
	case domain.EventReplied:
		score += WeightReplied
	case domain.EventBounced:
		if bounce == domain.BounceHard {
			return MinScore
		}
		score -= PenaltySoftBounce
	case domain.EventUnsubscribed, domain.EventComplained:
		return MinScore
	}
	return clamp(score)
}

// IsPositive reports whether ev counts as engagement.
func IsPositive(ev domain.EventType) bool {
	return ev == domain.EventOpened || ev == domain.EventClicked || ev == domain.EventReplied
}

// Record applies ev to the lead in place, updating LastEngagedAt for
// positive events.
func Record(l *domain.Lead, ev domain.EventType, at time.Time) {
	l.EngagementScore = Apply(l.EngagementScore, ev, l.BounceType)
	if IsPositive(ev) {
		t := at
		l.LastEngagedAt = &t
	}
}

// Decay halves score for every HalfLife of idle time, continuously.
func Decay(score int, idle time.Duration) int {
	if idle <= 0 || score <= 0 {
		return clamp(score)
	}
	factor := math.Pow(0.5, float64(idle)/float64(HalfLife))
	return clamp(int(math.Floor(float64(score) * factor)))
}

// TierFor derives the pacing tier of a lead at now.
func TierFor(l *domain.Lead, now time.Time) Tier {
	since := time.Duration(math.MaxInt64)
	if l.LastEngagedAt != nil {
		since = now.Sub(*l.LastEngagedAt)
	}
	switch {
	case l.EngagementScore >= 70 && since <= 7*24*time.Hour:
		return TierHot
	case l.EngagementScore >= 40 && since <= 30*24*time.Hour:
		return TierWarm
	case l.EngagementScore >= 10 || l.EmailsSent < 3:
		return TierCold
	}
	return TierIce
}

func clamp(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
