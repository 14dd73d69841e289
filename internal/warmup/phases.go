// Package warmup moves sending accounts through a five-phase volume ramp.
//
// An account advances only when it has spent enough days in warmup and its
// trailing health, open rate and bounce rate clear the target phase's gates.
// Phases never go backwards.
package warmup

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

// Phase is one step of the ramp. Rates are percentages.
type Phase struct {
	Number         int     `json:"number"`
	DailyLimit     int     `json:"daily_limit"`
	DaysRequired   int     `json:"days_required"`
	MinOpenRate    float64 `json:"min_open_rate"`
	MinHealthScore int     `json:"min_health_score"`
	MaxBounceRate  float64 `json:"max_bounce_rate"`
}

// Phases is the ramp, indexed by Number-1.
var Phases = []Phase{
	{Number: 1, DailyLimit: 20, DaysRequired: 0, MinOpenRate: 0, MinHealthScore: 0, MaxBounceRate: 100},
	{Number: 2, DailyLimit: 40, DaysRequired: 7, MinOpenRate: 10, MinHealthScore: 40, MaxBounceRate: 5},
	{Number: 3, DailyLimit: 75, DaysRequired: 14, MinOpenRate: 15, MinHealthScore: 55, MaxBounceRate: 4},
	{Number: 4, DailyLimit: 120, DaysRequired: 21, MinOpenRate: 18, MinHealthScore: 65, MaxBounceRate: 3},
	{Number: 5, DailyLimit: 200, DaysRequired: 30, MinOpenRate: 20, MinHealthScore: 75, MaxBounceRate: 2},
}

// minSendsForOpenGate is the trailing volume below which the open-rate gate
// is not applied.
const minSendsForOpenGate = 10

// StatsWindow is the trailing period used for health and rate gates.
const StatsWindow = 7 * 24 * time.Hour

// jitter bounds for the daily quota.
const maxJitter = 0.15

// PhaseFor returns phase n, clamping to the valid range.
func PhaseFor(n int) Phase {
	if n < 1 {
		n = 1
	}
	if n > len(Phases) {
		n = len(Phases)
	}
	return Phases[n-1]
}

// Stats are the trailing measurements of an account.
type Stats struct {
	DaysInWarmup int `json:"days_in_warmup"`
	Sent         int `json:"sent"`
	Opened       int `json:"opened"`
	Bounced      int `json:"bounced"`
}

// OpenRate returns opens per send as a percentage.
func (s Stats) OpenRate() float64 { return pct(s.Opened, s.Sent) }

// BounceRate returns bounces per send as a percentage.
func (s Stats) BounceRate() float64 { return pct(s.Bounced, s.Sent) }

// AvgDailySent returns the mean daily volume over StatsWindow.
func (s Stats) AvgDailySent() float64 {
	return float64(s.Sent) / (StatsWindow.Hours() / 24)
}

func pct(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}

// HealthScore returns round(consistency * bouncePenalty * 100) where
// consistency = min(avgDailySent / (phaseLimit*0.5), 1) and
// bouncePenalty = max(0, 1 - bounceRate/10).
func HealthScore(s Stats, phase int) int {
	limit := float64(PhaseFor(phase).DailyLimit)
	consistency := math.Min(s.AvgDailySent()/(limit*0.5), 1)
	penalty := math.Max(0, 1-s.BounceRate()/10)
	return int(math.Round(consistency * penalty * 100))
}

// Evaluation explains a phase decision.
type Evaluation struct {
	Current int    `json:"current"`
	Next    int    `json:"next"`
	Health  int    `json:"health"`
	Blocked string `json:"blocked,omitempty"`
}

// Advanced reports whether the account moves to a higher phase.
func (e Evaluation) Advanced() bool { return e.Next > e.Current }

// Evaluate returns the highest phase above current whose gates all pass,
// or current when none do.
func Evaluate(current int, s Stats) Evaluation {
	if current < 1 {
		current = 1
	}
	ev := Evaluation{Current: current, Next: current, Health: HealthScore(s, current)}
	for k := len(Phases); k > current; k-- {
		if reason := gate(PhaseFor(k), s, ev.Health); reason == "" {
			ev.Next = k
			return ev
		} else if k == current+1 {
			ev.Blocked = reason
		}
	}
	return ev
}

func gate(p Phase, s Stats, health int) string {
	switch {
	case s.DaysInWarmup < p.DaysRequired:
		return "days"
	case health < p.MinHealthScore:
		return "health"
	case s.BounceRate() > p.MaxBounceRate:
		return "bounce_rate"
	case s.Sent >= minSendsForOpenGate && s.OpenRate() < p.MinOpenRate:
		return "open_rate"
	}
	return ""
}

// Jitter returns the deterministic quota jitter in [-0.15, +0.15] for an
// account on a UTC day.
func Jitter(accountID string, day time.Time) float64 {
	h := fnv.New32a()
	h.Write([]byte(accountID + "|" + day.UTC().Format("2006-01-02")))
	steps := h.Sum32() % 3001 // 0..3000
	return float64(steps)/10000 - maxJitter
}

// DailyQuota returns how many mails the account may send on day: the phase
// limit with jitter applied, never above the account's own DailyLimit.
func DailyQuota(a *domain.SendingAccount, day time.Time) int {
	phaseLimit := float64(PhaseFor(a.WarmupPhase).DailyLimit)
	q := int(math.Round(phaseLimit * (1 + Jitter(a.ID, day))))
	if a.DailyLimit > 0 && a.DailyLimit < q {
		q = a.DailyLimit
	}
	if q < 0 {
		q = 0
	}
	return q
}

// SentOn returns the account's sent counter for day, treating a counter
// from an earlier day as zero.
func SentOn(a *domain.SendingAccount, day time.Time) int {
	if a.SentTodayDate != day.UTC().Format("2006-01-02") {
		return 0
	}
	return a.SentToday
}

// Remaining returns the sends left for the account on day.
func Remaining(a *domain.SendingAccount, day time.Time) int {
	r := DailyQuota(a, day) - SentOn(a, day)
	if r < 0 {
		return 0
	}
	return r
}

// Usable reports whether a can send at now: active, inside its send window
// and under today's quota.
func Usable(a *domain.SendingAccount, now time.Time) bool {
	return a.Active && a.Window.Contains(now) && Remaining(a, now) > 0
}
