package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

type pauseRepo struct {
	state    domain.PauseState
	accounts []domain.SendingAccount
	audits   []domain.AuditEntry
	setErr   error
	checks   []domain.BlacklistCheck
	domains  []domain.SendingDomain
}

func (r *pauseRepo) GetPauseState(context.Context) (domain.PauseState, error) { return r.state, nil }

func (r *pauseRepo) SetPauseState(_ context.Context, s domain.PauseState) error {
	if r.setErr != nil {
		return r.setErr
	}
	r.state = s
	return nil
}

func (r *pauseRepo) ListAccounts(_ context.Context, activeOnly bool) ([]domain.SendingAccount, error) {
	var out []domain.SendingAccount
	for _, a := range r.accounts {
		if !activeOnly || a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *pauseRepo) SetAccountActive(_ context.Context, id string, active bool, reason string) error {
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			r.accounts[i].Active = active
			r.accounts[i].DeactivatedReason = reason
			return nil
		}
	}
	return errors.New("no such account")
}

func (r *pauseRepo) InsertAudit(_ context.Context, e *domain.AuditEntry) error {
	r.audits = append(r.audits, *e)
	return nil
}

func (r *pauseRepo) ListDomains(_ context.Context, _ bool) ([]domain.SendingDomain, error) {
	return r.domains, nil
}

func (r *pauseRepo) InsertBlacklistCheck(_ context.Context, c *domain.BlacklistCheck) error {
	r.checks = append(r.checks, *c)
	return nil
}

func newPauseRepo() *pauseRepo {
	return &pauseRepo{accounts: []domain.SendingAccount{
		{ID: "a1", Active: true},
		{ID: "a2", Active: true},
		{ID: "a3", Active: false, DeactivatedReason: "auth failures"},
	}}
}

func TestPauseDeactivatesAccounts(t *testing.T) {
	repo := newPauseRepo()
	at := time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)
	p := NewGlobalPause(repo, nil, clock.NewFake(at))

	require.NoError(t, p.Pause(context.Background(), "listed on zen", "blacklist"))
	assert.True(t, repo.state.Paused)
	assert.Equal(t, "listed on zen", repo.state.Reason)
	assert.Equal(t, at, repo.state.Since)
	for _, a := range repo.accounts {
		assert.False(t, a.Active, a.ID)
	}
	assert.Equal(t, PausedPrefix+"listed on zen", repo.accounts[0].DeactivatedReason)
	assert.Equal(t, "auth failures", repo.accounts[2].DeactivatedReason)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, domain.AuditGlobalPause, repo.audits[0].Action)
	assert.Equal(t, "2", repo.audits[0].Details["deactivated"])
}

func TestPauseKeepsOriginalReason(t *testing.T) {
	repo := newPauseRepo()
	repo.state = domain.PauseState{Paused: true, Reason: "first"}
	p := NewGlobalPause(repo, nil, nil)
	require.NoError(t, p.Pause(context.Background(), "second", "blacklist"))
	assert.Equal(t, "first", repo.state.Reason)
}

func TestPauseFlagWriteFailure(t *testing.T) {
	repo := newPauseRepo()
	repo.setErr = errors.New("db down")
	err := NewGlobalPause(repo, nil, nil).Pause(context.Background(), "x", "blacklist")
	assert.Error(t, err)
	assert.True(t, repo.accounts[0].Active)
}

func TestResumeReactivatesPausedAccountsOnly(t *testing.T) {
	repo := newPauseRepo()
	p := NewGlobalPause(repo, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.Pause(ctx, "listed", "blacklist"))

	n, err := p.Resume(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, repo.state.Paused)
	assert.True(t, repo.accounts[0].Active)
	assert.True(t, repo.accounts[1].Active)
	assert.False(t, repo.accounts[2].Active)
	assert.Equal(t, domain.AuditGlobalResume, repo.audits[1].Action)
	assert.Equal(t, "listed", repo.audits[1].Details["previous_reason"])
}
