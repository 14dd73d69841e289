package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

// DayFormat is the snapshot date layout.
const DayFormat = "2006-01-02"

// SnapshotRepository is the storage used by SnapshotJob.
type SnapshotRepository interface {
	CountEvents(ctx context.Context, from, to time.Time) (map[domain.EventType]int, error)
	UpsertSnapshot(ctx context.Context, s *domain.DeliverabilitySnapshot) error
}

// BuildSnapshot derives a snapshot from event counts. Rates are percent of
// sends rounded to two decimals; with no sends every rate is zero.
func BuildSnapshot(day string, counts map[domain.EventType]int) domain.DeliverabilitySnapshot {
	s := domain.DeliverabilitySnapshot{
		Date:         day,
		Sent:         counts[domain.EventSent],
		Bounced:      counts[domain.EventBounced],
		Complaints:   counts[domain.EventComplained],
		Unsubscribes: counts[domain.EventUnsubscribed],
		Opens:        counts[domain.EventOpened],
		Clicks:       counts[domain.EventClicked],
		Replies:      counts[domain.EventReplied],
	}
	s.BounceRate = Rate(s.Bounced, s.Sent)
	s.ComplaintRate = Rate(s.Complaints, s.Sent)
	s.UnsubscribeRate = Rate(s.Unsubscribes, s.Sent)
	s.OpenRate = Rate(s.Opens, s.Sent)
	s.ClickRate = Rate(s.Clicks, s.Sent)
	return s
}

// Rate returns n/d as a percentage rounded to two decimals.
func Rate(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 100
}

// SnapshotJob computes and stores the snapshot of one UTC day.
type SnapshotJob struct {
	repo SnapshotRepository
}

func NewSnapshotJob(repo SnapshotRepository) *SnapshotJob {
	return &SnapshotJob{repo: repo}
}

// Run aggregates the events of day (any time within it) and upserts the
// result, so re-running for the same day replaces the earlier numbers.
func (j *SnapshotJob) Run(ctx context.Context, day time.Time) (domain.DeliverabilitySnapshot, error) {
	start := StartOfDay(day)
	counts, err := j.repo.CountEvents(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return domain.DeliverabilitySnapshot{}, fmt.Errorf("count events: %w", err)
	}
	s := BuildSnapshot(start.Format(DayFormat), counts)
	if err := j.repo.UpsertSnapshot(ctx, &s); err != nil {
		return s, fmt.Errorf("upsert snapshot: %w", err)
	}
	return s, nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
