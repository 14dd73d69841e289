package blacklist

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

func TestJobPausesOnCriticalHit(t *testing.T) {
	f := resolver.NewFake()
	f.A["10.2.0.192.b.barracudacentral.org"] = []string{"127.0.0.2"}
	repo := newPauseRepo()
	repo.domains = []domain.SendingDomain{{Name: "example.com", SendingIP: "192.0.2.10", Active: true}}
	pause := NewGlobalPause(repo, nil, nil)

	job := NewJob(newScanner(f), repo, pause, nil, metrics.New(nil), []string{"192.0.2.10", "198.51.100.7"})
	rep, err := job.Run(context.Background())
	require.NoError(t, err)

	// the shared IP is scanned once, plus the domain
	require.Len(t, rep.Results, 3)
	require.Len(t, repo.checks, 3)
	assert.Equal(t, 1, rep.Listed)
	assert.Equal(t, []string{"192.0.2.10"}, rep.Critical)
	assert.True(t, rep.Paused)
	assert.True(t, repo.state.Paused)
	assert.Contains(t, repo.state.Reason, "192.0.2.10")
	assert.False(t, repo.accounts[0].Active)
}

func TestJobMediumListingDoesNotPause(t *testing.T) {
	f := resolver.NewFake()
	f.A["10.2.0.192.dyna.spamrats.com"] = []string{"127.0.0.36"}
	repo := newPauseRepo()
	pause := NewGlobalPause(repo, nil, nil)

	rep, err := NewJob(newScanner(f), repo, pause, nil, nil, []string{"192.0.2.10"}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Listed)
	assert.False(t, rep.Paused)
	assert.False(t, repo.state.Paused)
	assert.Equal(t, 90, repo.checks[0].Score)
}

func TestJobSkipsInvalidIP(t *testing.T) {
	repo := newPauseRepo()
	rep, err := NewJob(newScanner(resolver.NewFake()), repo, nil, nil, nil, []string{"not-an-ip"}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failures)
	assert.Empty(t, rep.Results)
}

// cancelAfter cancels the scan once the named zone was queried.
type cancelAfter struct {
	*resolver.Fake
	name   string
	cancel context.CancelFunc
}

func (c *cancelAfter) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	ips, err := c.Fake.LookupA(ctx, name)
	if name == c.name {
		c.cancel()
	}
	return ips, err
}

type recordingPauser struct {
	calls  int
	ctxErr error
	err    error
}

func (p *recordingPauser) Pause(ctx context.Context, _, _ string) error {
	p.calls++
	p.ctxErr = ctx.Err()
	return p.err
}

func TestJobPausesEvenWhenCanceledAfterHit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := resolver.NewFake()
	f.A["10.2.0.192.b.barracudacentral.org"] = []string{"127.0.0.2"}
	r := &cancelAfter{Fake: f, name: "10.2.0.192.b.barracudacentral.org", cancel: cancel}
	pauser := &recordingPauser{}

	job := NewJob(NewScanner(r, nil, 1, nil), newPauseRepo(), pauser, nil, nil, []string{"192.0.2.10", "198.51.100.7"})
	rep, err := job.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pauser.calls)
	assert.NoError(t, pauser.ctxErr, "pause must not inherit the canceled context")
	assert.True(t, rep.Paused)
	assert.Equal(t, []string{"192.0.2.10"}, rep.Critical)
	assert.Len(t, rep.Results, 1, "scan stopped after the hit")
}

func TestJobPauseFailureIsNotReportedAsPaused(t *testing.T) {
	f := resolver.NewFake()
	f.A["10.2.0.192.b.barracudacentral.org"] = []string{"127.0.0.2"}
	f.A["7.100.51.198.b.barracudacentral.org"] = []string{"127.0.0.2"}
	pauser := &recordingPauser{err: errors.New("db down")}

	rep, err := NewJob(newScanner(f), newPauseRepo(), pauser, nil, nil, []string{"192.0.2.10", "198.51.100.7"}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Paused)
	assert.Equal(t, 2, pauser.calls, "every critical hit retries the pause")
	assert.Equal(t, 2, rep.Failures)
}
