package blacklist

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
)

// PausedPrefix marks accounts deactivated by the global pause, so Resume
// only reactivates those.
const PausedPrefix = "global pause: "

// PauseRepository is the storage the kill switch needs.
type PauseRepository interface {
	GetPauseState(ctx context.Context) (domain.PauseState, error)
	SetPauseState(ctx context.Context, s domain.PauseState) error
	ListAccounts(ctx context.Context, activeOnly bool) ([]domain.SendingAccount, error)
	SetAccountActive(ctx context.Context, id string, active bool, reason string) error
	InsertAudit(ctx context.Context, e *domain.AuditEntry) error
}

// GlobalPause is the system-wide sending kill switch.
type GlobalPause struct {
	repo    PauseRepository
	metrics *metrics.Metrics
	clock   clock.Clock
}

// NewGlobalPause creates the kill switch. m may be nil.
func NewGlobalPause(repo PauseRepository, m *metrics.Metrics, c clock.Clock) *GlobalPause {
	return &GlobalPause{repo: repo, metrics: m, clock: clock.OrReal(c)}
}

// Paused reads the flag. Callers treat an error as paused.
func (p *GlobalPause) Paused(ctx context.Context) (domain.PauseState, error) {
	return p.repo.GetPauseState(ctx)
}

// Pause sets the flag and deactivates every active account. The flag is
// written first so a failure deactivating accounts still stops sends.
func (p *GlobalPause) Pause(ctx context.Context, reason, actor string) error {
	now := p.clock.Now()
	cur, err := p.repo.GetPauseState(ctx)
	if err != nil || !cur.Paused {
		if err := p.repo.SetPauseState(ctx, domain.PauseState{Paused: true, Reason: reason, Since: now}); err != nil {
			return fmt.Errorf("set pause flag: %w", err)
		}
	}
	p.metrics.SetPaused(true)

	accounts, err := p.repo.ListAccounts(ctx, true)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var set outcome.Set
	for _, a := range accounts {
		set.Add(outcome.Hard("deactivate "+a.ID, p.repo.SetAccountActive(ctx, a.ID, false, PausedPrefix+reason)))
	}
	entry := &domain.AuditEntry{
		ID:     uuid.New().String(),
		Action: domain.AuditGlobalPause,
		Actor:  actor,
		Details: map[string]string{
			"reason":      reason,
			"deactivated": strconv.Itoa(len(accounts) - len(set.Failures())),
		},
		CreatedAt: now,
	}
	set.Add(outcome.Soft("audit", p.repo.InsertAudit(ctx, entry)))
	for _, f := range set.Failures() {
		log.Warn("global pause side effect failed", "op", f.Op, "error", f.Err)
	}
	log.Error("global sending pause engaged", "reason", reason, "actor", actor, "accounts", len(accounts))
	return set.Fatal()
}

// Resume clears the flag and reactivates the accounts the pause took
// down. Accounts deactivated for other reasons stay inactive.
func (p *GlobalPause) Resume(ctx context.Context, actor string) (int, error) {
	cur, err := p.repo.GetPauseState(ctx)
	if err != nil {
		return 0, fmt.Errorf("read pause flag: %w", err)
	}
	if err := p.repo.SetPauseState(ctx, domain.PauseState{}); err != nil {
		return 0, fmt.Errorf("clear pause flag: %w", err)
	}
	p.metrics.SetPaused(false)

	accounts, err := p.repo.ListAccounts(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	var set outcome.Set
	n := 0
	for _, a := range accounts {
		if a.Active || !strings.HasPrefix(a.DeactivatedReason, PausedPrefix) {
			continue
		}
		o := outcome.Hard("reactivate "+a.ID, p.repo.SetAccountActive(ctx, a.ID, true, ""))
		set.Add(o)
		if !o.Failed() {
			n++
		}
	}
	entry := &domain.AuditEntry{
		ID:        uuid.New().String(),
		Action:    domain.AuditGlobalResume,
		Actor:     actor,
		Details:   map[string]string{"previous_reason": cur.Reason, "reactivated": strconv.Itoa(n)},
		CreatedAt: p.clock.Now(),
	}
	set.Add(outcome.Soft("audit", p.repo.InsertAudit(ctx, entry)))
	for _, f := range set.Failures() {
		log.Warn("resume side effect failed", "op", f.Op, "error", f.Err)
	}
	log.Info("global sending pause cleared", "actor", actor, "reactivated", n)
	return n, set.Fatal()
}
