package warmup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

type mockRepo struct {
	mu       sync.Mutex
	accounts []domain.SendingAccount
	counts   map[string]map[domain.EventType]int
	failIDs  map[string]bool
	phases   map[string]int
	audits   []domain.AuditEntry
	resetDay string
}

func (m *mockRepo) ListAccounts(_ context.Context, _ bool) ([]domain.SendingAccount, error) {
	return append([]domain.SendingAccount(nil), m.accounts...), nil
}

func (m *mockRepo) AccountEventCounts(_ context.Context, id string, _ time.Time) (map[domain.EventType]int, error) {
	if m.failIDs[id] {
		return nil, errors.New("db down")
	}
	return m.counts[id], nil
}

func (m *mockRepo) UpdateWarmupPhase(_ context.Context, id string, phase int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[id] = phase
	return nil
}

func (m *mockRepo) ResetDailyCounters(_ context.Context, day string) (int64, error) {
	m.resetDay = day
	return 2, nil
}

func (m *mockRepo) InsertAudit(_ context.Context, e *domain.AuditEntry) error {
	m.audits = append(m.audits, *e)
	return nil
}

func TestJobRun(t *testing.T) {
	now := time.Date(2025, 3, 20, 6, 0, 0, 0, time.UTC)
	repo := &mockRepo{
		accounts: []domain.SendingAccount{
			{ID: "ready", WarmupPhase: 1, WarmupStartedAt: now.AddDate(0, 0, -10)},
			{ID: "young", WarmupPhase: 1, WarmupStartedAt: now.AddDate(0, 0, -2)},
			{ID: "broken", WarmupPhase: 2, WarmupStartedAt: now.AddDate(0, 0, -40)},
		},
		counts: map[string]map[domain.EventType]int{
			"ready": {domain.EventSent: 140, domain.EventOpened: 25},
			"young": {domain.EventSent: 140, domain.EventOpened: 25},
		},
		failIDs: map[string]bool{"broken": true},
		phases:  map[string]int{},
	}

	job := NewJob(repo, clock.NewFake(now))
	rep, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2025-03-20", repo.resetDay)
	assert.Equal(t, int64(2), rep.CountersSet)
	assert.Equal(t, 3, rep.Accounts)
	assert.Equal(t, 1, rep.Failures)
	require.Len(t, rep.Advanced, 1)
	assert.Equal(t, Transition{AccountID: "ready", From: 1, To: 2, Health: 100}, rep.Advanced[0])
	assert.Equal(t, map[string]int{"ready": 2}, repo.phases)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, domain.AuditWarmupAdvanced, repo.audits[0].Action)
}

func TestCalendarDays(t *testing.T) {
	now := time.Date(2025, 3, 20, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, calendarDays(time.Date(2025, 3, 19, 23, 0, 0, 0, time.UTC), now), "crossed midnight")
	assert.Equal(t, 0, calendarDays(time.Date(2025, 3, 20, 0, 30, 0, 0, time.UTC), now))
	assert.Equal(t, 10, calendarDays(now.AddDate(0, 0, -10).Add(3*time.Hour), now))

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, 0, calendarDays(time.Date(2025, 3, 19, 20, 0, 0, 0, est), now), "compared in UTC")
}
