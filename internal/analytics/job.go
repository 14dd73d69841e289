package analytics

import (
	"context"
	"fmt"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/archive"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

// TrendRepository is the storage used by TrendJob.
type TrendRepository interface {
	SnapshotRepository
	// ListSnapshots returns snapshots with from <= date <= to, oldest first.
	ListSnapshots(ctx context.Context, from, to string) ([]domain.DeliverabilitySnapshot, error)
}

// Pauser stops all sending. blacklist.Pauser satisfies it.
type Pauser interface {
	Pause(ctx context.Context, reason, actor string) error
}

// TrendOptions configures TrendJob.
type TrendOptions struct {
	Days int
	// AutoPause engages the global pause on a critical trend instead of only
	// recommending it.
	AutoPause bool
}

// TrendReport is the result of a trend pass.
type TrendReport struct {
	Today       domain.DeliverabilitySnapshot `json:"today"`
	Days        int                           `json:"days"`
	Bounce      Trend                         `json:"bounce"`
	Complaint   Trend                         `json:"complaint"`
	Unsubscribe Trend                         `json:"unsubscribe"`
	Paused      bool                          `json:"paused"`
	ArchiveKey  string                        `json:"archive_key,omitempty"`
}

// Critical reports whether any tracked metric recommends pausing.
func (r TrendReport) Critical() bool {
	return r.criticalMessage() != ""
}

func (r TrendReport) criticalMessage() string {
	for _, m := range []struct {
		name string
		t    Trend
	}{{"bounce", r.Bounce}, {"complaint", r.Complaint}, {"unsubscribe", r.Unsubscribe}} {
		if m.t.RecommendPause {
			return m.name + " " + m.t.Message
		}
	}
	return ""
}

// TrendJob refreshes yesterday's and today's snapshots and fits trends over
// the trailing window.
type TrendJob struct {
	repo     TrendRepository
	snapshot *SnapshotJob
	archive  archive.Archiver
	metrics  *metrics.Metrics
	pauser   Pauser
	opts     TrendOptions
	clock    clock.Clock
}

// NewTrendJob creates the job. archiver, m and pauser may be nil.
func NewTrendJob(repo TrendRepository, archiver archive.Archiver, m *metrics.Metrics, pauser Pauser, opts TrendOptions, c clock.Clock) *TrendJob {
	if opts.Days <= 0 {
		opts.Days = 14
	}
	if archiver == nil {
		archiver = archive.Discard{}
	}
	return &TrendJob{
		repo:     repo,
		snapshot: NewSnapshotJob(repo),
		archive:  archiver,
		metrics:  m,
		pauser:   pauser,
		opts:     opts,
		clock:    clock.OrReal(c),
	}
}

func (j *TrendJob) Run(ctx context.Context) (TrendReport, error) {
	var rep TrendReport
	today := StartOfDay(j.clock.Now())

	if _, err := j.snapshot.Run(ctx, today.AddDate(0, 0, -1)); err != nil {
		return rep, fmt.Errorf("snapshot yesterday: %w", err)
	}
	snap, err := j.snapshot.Run(ctx, today)
	if err != nil {
		return rep, fmt.Errorf("snapshot today: %w", err)
	}
	rep.Today = snap

	from := today.AddDate(0, 0, -(j.opts.Days - 1)).Format(DayFormat)
	series, err := j.repo.ListSnapshots(ctx, from, today.Format(DayFormat))
	if err != nil {
		return rep, fmt.Errorf("list snapshots: %w", err)
	}
	rep.Days = len(series)

	bounce := make([]float64, len(series))
	complaint := make([]float64, len(series))
	unsub := make([]float64, len(series))
	for i, s := range series {
		bounce[i], complaint[i], unsub[i] = s.BounceRate, s.ComplaintRate, s.UnsubscribeRate
	}
	rep.Bounce = DetectTrend(bounce)
	rep.Complaint = DetectTrend(complaint)
	rep.Unsubscribe = DetectTrend(unsub)

	j.metrics.SetTrend("bounce", rep.Bounce.Severity.Level(), rep.Today.BounceRate)
	j.metrics.SetTrend("complaint", rep.Complaint.Severity.Level(), rep.Today.ComplaintRate)
	j.metrics.SetTrend("unsubscribe", rep.Unsubscribe.Severity.Level(), rep.Today.UnsubscribeRate)

	if rep.Critical() {
		log.Error("deliverability trend critical", "bounce", rep.Bounce.Message, "complaint", rep.Complaint.Message)
		if j.opts.AutoPause && j.pauser != nil {
			reason := "critical deliverability trend: " + rep.criticalMessage()
			if err := j.pauser.Pause(ctx, reason, "trend_job"); err != nil {
				log.Error("trend auto-pause failed", "error", err)
			} else {
				rep.Paused = true
			}
		}
	} else {
		log.Info("deliverability trend", "bounce", string(rep.Bounce.Severity), "complaint", string(rep.Complaint.Severity), "days", rep.Days)
	}

	key, err := j.archive.Put(ctx, archive.KindTrend, "daily", rep)
	if err != nil {
		log.Warn("trend archive failed", "error", err)
	}
	rep.ArchiveKey = key
	return rep, nil
}
