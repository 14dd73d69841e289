// Package pacing spaces out sends the way a person working an inbox would:
// a tier-dependent base gap, occasional longer pauses and breaks, random
// jitter, and slower sending outside business hours.
package pacing

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/engagement"
)

// Range is an inclusive duration range.
type Range struct {
	Min, Max time.Duration
}

// BaseRanges are the per-tier base delays.
var BaseRanges = map[engagement.Tier]Range{
	engagement.TierHot:  {45 * time.Second, 90 * time.Second},
	engagement.TierWarm: {60 * time.Second, 120 * time.Second},
	engagement.TierCold: {90 * time.Second, 180 * time.Second},
	engagement.TierIce:  {120 * time.Second, 240 * time.Second},
}

const (
	jitterFraction   = 0.20
	offHoursFactor   = 1.3
	businessStartUTC = 8
	businessEndUTC   = 20
)

// Pacer produces delays. It is safe for concurrent use.
type Pacer struct {
	mu        sync.Mutex
	rng       *rand.Rand
	nextPause int
	nextBreak int
}

// New creates a Pacer. A nil source seeds from the runtime.
func New(src rand.Source) *Pacer {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	p := &Pacer{rng: rand.New(src)}
	p.nextPause = p.intn(3, 7)
	p.nextBreak = p.intn(15, 25)
	return p
}

// intn returns a value in [lo, hi]; callers hold mu or p is not yet shared.
func (p *Pacer) intn(lo, hi int) int {
	return lo + p.rng.IntN(hi-lo+1)
}

func (p *Pacer) between(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}

// Delay is the wait before the send at position index (0-based) within a
// run, for a recipient in tier, at now.
type Delay struct {
	Wait   time.Duration `json:"wait"`
	Pause  bool          `json:"pause,omitempty"`
	Break  bool          `json:"break,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Next returns the delay to apply after the send at index within a run.
func (p *Pacer) Next(tier engagement.Tier, index int, now time.Time) Delay {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := BaseRanges[tier]
	if !ok {
		r = BaseRanges[engagement.TierCold]
	}
	base := p.between(float64(r.Min), float64(r.Max))
	d := Delay{}

	count := index + 1
	if count >= p.nextPause {
		base *= p.between(2, 6)
		d.Pause = true
		p.nextPause = count + p.intn(3, 7)
	}
	if count >= p.nextBreak {
		base += p.between(float64(10*time.Second), float64(30*time.Second))
		d.Break = true
		p.nextBreak = count + p.intn(15, 25)
	}

	base *= 1 + p.between(-jitterFraction, jitterFraction)

	if h := now.UTC().Hour(); h < businessStartUTC || h >= businessEndUTC {
		base *= offHoursFactor
		d.Reason = "off_hours"
	}
	d.Wait = time.Duration(base)
	return d
}

// Compose returns the longer of a pacing delay and a governor retry-after.
func Compose(pace, retryAfter time.Duration) time.Duration {
	if retryAfter > pace {
		return retryAfter
	}
	return pace
}
