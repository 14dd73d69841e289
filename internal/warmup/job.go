package warmup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
)

var log = logger.For("warmup")

// Repository is the storage the warmup job needs.
type Repository interface {
	ListAccounts(ctx context.Context, activeOnly bool) ([]domain.SendingAccount, error)
	AccountEventCounts(ctx context.Context, accountID string, since time.Time) (map[domain.EventType]int, error)
	UpdateWarmupPhase(ctx context.Context, accountID string, phase int) error
	ResetDailyCounters(ctx context.Context, day string) (int64, error)
	InsertAudit(ctx context.Context, e *domain.AuditEntry) error
}

// Transition is one phase change.
type Transition struct {
	AccountID string `json:"account_id"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	Health    int    `json:"health"`
}

// Report summarizes a job run.
type Report struct {
	Accounts    int          `json:"accounts"`
	CountersSet int64        `json:"counters_reset"`
	Advanced    []Transition `json:"advanced"`
	Failures    int          `json:"failures"`
}

// Job resets daily counters and advances eligible accounts.
type Job struct {
	repo  Repository
	clock clock.Clock
}

// NewJob creates a warmup job.
func NewJob(repo Repository, c clock.Clock) *Job {
	return &Job{repo: repo, clock: clock.OrReal(c)}
}

// Run executes one pass. A failure on one account does not stop the rest.
func (j *Job) Run(ctx context.Context) (Report, error) {
	now := j.clock.Now()
	today := now.UTC().Format("2006-01-02")
	rep := Report{Advanced: []Transition{}}

	n, err := j.repo.ResetDailyCounters(ctx, today)
	if err != nil {
		log.Warn("daily counter reset failed", "error", err)
		rep.Failures++
	} else {
		rep.CountersSet = n
	}

	accounts, err := j.repo.ListAccounts(ctx, true)
	if err != nil {
		return rep, fmt.Errorf("list accounts: %w", err)
	}
	rep.Accounts = len(accounts)

	for i := range accounts {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		a := &accounts[i]
		t, o := j.evaluate(ctx, a, now)
		if o.Failed() {
			rep.Failures++
			log.Warn("warmup evaluation failed", "account", a.ID, "op", o.Op, "error", o.Err)
			continue
		}
		if t != nil {
			rep.Advanced = append(rep.Advanced, *t)
		}
	}
	log.Info("warmup pass complete", "accounts", rep.Accounts, "advanced", len(rep.Advanced), "failures", rep.Failures)
	return rep, nil
}

func (j *Job) evaluate(ctx context.Context, a *domain.SendingAccount, now time.Time) (*Transition, outcome.Outcome) {
	counts, err := j.repo.AccountEventCounts(ctx, a.ID, now.Add(-StatsWindow))
	if err != nil {
		return nil, outcome.Hard("event_counts", err)
	}
	stats := Stats{
		Sent:    counts[domain.EventSent],
		Opened:  counts[domain.EventOpened],
		Bounced: counts[domain.EventBounced],
	}
	if !a.WarmupStartedAt.IsZero() && now.After(a.WarmupStartedAt) {
		stats.DaysInWarmup = calendarDays(a.WarmupStartedAt, now)
	}

	ev := Evaluate(a.WarmupPhase, stats)
	if !ev.Advanced() {
		log.Debug("warmup hold", "account", a.ID, "phase", ev.Current, "health", ev.Health, "blocked", ev.Blocked)
		return nil, outcome.OK("evaluate")
	}
	if err := j.repo.UpdateWarmupPhase(ctx, a.ID, ev.Next); err != nil {
		return nil, outcome.Hard("update_phase", err)
	}

	audit := &domain.AuditEntry{
		ID:     uuid.New().String(),
		Action: domain.AuditWarmupAdvanced,
		Actor:  "warmup",
		Details: map[string]string{
			"account_id": a.ID,
			"from":       strconv.Itoa(ev.Current),
			"to":         strconv.Itoa(ev.Next),
			"health":     strconv.Itoa(ev.Health),
		},
		CreatedAt: now,
	}
	if o := outcome.Soft("audit", j.repo.InsertAudit(ctx, audit)); o.Failed() {
		log.Warn("audit insert failed", "account", a.ID, "error", o.Err)
	}
	log.Info("warmup phase advanced", "account", a.ID, "from", ev.Current, "to", ev.Next, "health", ev.Health)
	return &Transition{AccountID: a.ID, From: ev.Current, To: ev.Next, Health: ev.Health}, outcome.OK("evaluate")
}

// calendarDays counts UTC day boundaries crossed between from and to.
func calendarDays(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	return int(t.Sub(f) / (24 * time.Hour))
}
