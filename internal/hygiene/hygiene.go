// Package hygiene runs the periodic list maintenance: engagement decay
// for idle leads and a tier census for pacing.
package hygiene

import (
	"context"
	"fmt"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/engagement"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
)

var log = logger.For("hygiene")

// Repository is the storage the hygiene job needs.
type Repository interface {
	// ListLeads pages through leads with the given status ordered by ID,
	// starting after afterID.
	ListLeads(ctx context.Context, status domain.LeadStatus, afterID string, limit int) ([]domain.Lead, error)
	UpdateEngagementScore(ctx context.Context, leadID string, score int) error
}

// Options configures the job.
type Options struct {
	// Interval is how often the job runs. Each run decays at most this
	// much idle time, so repeated runs compound to the half-life curve.
	Interval  time.Duration
	BatchSize int
}

// Report summarizes a run.
type Report struct {
	Scanned  int                     `json:"scanned"`
	Decayed  int                     `json:"decayed"`
	Tiers    map[engagement.Tier]int `json:"tiers"`
	Failures int                     `json:"failures"`
}

// Job decays engagement scores.
type Job struct {
	repo  Repository
	opts  Options
	clock clock.Clock
}

// NewJob creates a hygiene job.
func NewJob(repo Repository, opts Options, c clock.Clock) *Job {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &Job{repo: repo, opts: opts, clock: clock.OrReal(c)}
}

// IdleFor returns how much idle time one run charges a lead: the time
// since its last engagement, capped at the run interval. Leads that never
// engaged are charged from creation.
func IdleFor(l *domain.Lead, now time.Time, interval time.Duration) time.Duration {
	since := l.CreatedAt
	if l.LastEngagedAt != nil {
		since = *l.LastEngagedAt
	}
	idle := now.Sub(since)
	if since.IsZero() || idle > interval {
		idle = interval
	}
	if idle < 0 {
		return 0
	}
	return idle
}

// Run decays every active lead. A failed update is counted and skipped.
func (j *Job) Run(ctx context.Context) (Report, error) {
	now := j.clock.Now()
	rep := Report{Tiers: map[engagement.Tier]int{}}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		leads, err := j.repo.ListLeads(ctx, domain.LeadActive, after, j.opts.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("list leads: %w", err)
		}
		for i := range leads {
			l := &leads[i]
			rep.Scanned++
			next := engagement.Decay(l.EngagementScore, IdleFor(l, now, j.opts.Interval))
			if next != l.EngagementScore {
				if err := j.repo.UpdateEngagementScore(ctx, l.ID, next); err != nil {
					rep.Failures++
					log.Warn("engagement update failed", "lead", l.ID, "error", err)
				} else {
					rep.Decayed++
					l.EngagementScore = next
				}
			}
			rep.Tiers[engagement.TierFor(l, now)]++
		}
		if len(leads) < j.opts.BatchSize {
			break
		}
		after = leads[len(leads)-1].ID
	}
	log.Info("hygiene pass complete", "scanned", rep.Scanned, "decayed", rep.Decayed,
		"hot", rep.Tiers[engagement.TierHot], "warm", rep.Tiers[engagement.TierWarm],
		"cold", rep.Tiers[engagement.TierCold], "ice", rep.Tiers[engagement.TierIce])
	return rep, nil
}
