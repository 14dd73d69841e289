package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/fingerprint"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/governor"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/mailer"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository/memory"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/secrets"
)

// Wednesday, inside business hours.
var t0 = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

type sent struct {
	env mailer.Envelope
	raw string
}

type fakeTransport struct {
	mu   sync.Mutex
	errs map[string]error
	sent []sent
	// after runs once a message to the given address was accepted.
	after func(to string)
}

func (f *fakeTransport) Send(_ context.Context, _ *domain.SendingAccount, _ string, env mailer.Envelope, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[env.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{env: env, raw: string(raw)})
	if f.after != nil {
		f.after(env.To)
	}
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }
func (f *fakeTransport) Close() error { return nil }

type harness struct {
	store     *memory.Store
	transport *fakeTransport
	clock     *clock.Fake
	governor  *governor.Governor
	sleeps    []time.Duration
	deps      Deps
	opts      Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		transport: &fakeTransport{errs: map[string]error{}},
		clock:     clock.NewFake(t0),
	}
	h.governor = governor.New(governor.Config{}, nil, nil, h.clock)
	h.deps = Deps{
		Repo:     h.store,
		Mailer:   mailer.NewClient(h.transport, secrets.Plain{}, h.governor, h.clock),
		Governor: h.governor,
		Metrics:  metrics.New(nil),
		Clock:    h.clock,
	}
	h.opts = Options{
		UnsubscribeBaseURL: "https://example.com/unsubscribe",
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	}
	h.store.PutAccount(domain.SendingAccount{
		ID: "a1", Email: "jane@outreach.example.com", DisplayName: "Jane",
		Provider: domain.ProviderGmail, WarmupPhase: 3, Active: true,
	})
	h.store.PutCampaign(domain.Campaign{
		ID: "c1", Name: "Spring", Status: domain.CampaignActive,
		Subject: "Quick question, {{ first_name }}",
		HTML:    "<p>Hi {{ first_name }}, saw what {{ company }} is building.</p>",
	})
	return h
}

func (h *harness) lead(id, email, first string) {
	h.store.PutLead(domain.Lead{ID: id, Email: email, FirstName: first, Company: first + " Co", Status: domain.LeadActive})
	h.store.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: id, NextSendAt: t0.Add(-time.Minute)})
}

func (h *harness) run(t *testing.T) Report {
	t.Helper()
	rep, err := New(h.deps, h.opts).Run(context.Background())
	require.NoError(t, err)
	return rep
}

func TestRunSendsAndRecords(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")

	rep := h.run(t)
	assert.Equal(t, 2, rep.Due)
	assert.Equal(t, 2, rep.Sent)
	assert.Zero(t, rep.Failures)
	require.Len(t, h.transport.sent, 2)

	first := h.transport.sent[0]
	assert.Equal(t, "ann@gmail.com", first.env.To)
	assert.Equal(t, "jane@outreach.example.com", first.env.From)
	assert.Contains(t, first.raw, "Quick question, Ann")
	assert.Contains(t, first.raw, "List-Unsubscribe")
	assert.Contains(t, first.raw, "lead=l1")

	ctx := context.Background()
	l, err := h.store.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.EmailsSent)
	require.NotNil(t, l.LastEmailAt)

	cl, ok := h.store.CampaignLead("c1", "l1")
	require.True(t, ok)
	assert.Equal(t, domain.QueueSent, cl.Status)
	assert.Equal(t, 1, cl.Step)
	assert.NotEmpty(t, cl.ThreadMessageID)

	a, err := h.store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.SentToday)

	c, err := h.store.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Sent)
	assert.Len(t, h.store.Events(domain.EventSent), 2)

	// one pause between two sends, never after the last
	require.Len(t, h.sleeps, 1)
	assert.Greater(t, h.sleeps[0], time.Duration(0))
}

func TestRunContinuesThread(t *testing.T) {
	h := newHarness(t)
	h.store.PutLead(domain.Lead{ID: "l1", Email: "ann@gmail.com", FirstName: "Ann", Status: domain.LeadActive})
	h.store.Enqueue(domain.CampaignLead{
		CampaignID: "c1", LeadID: "l1", Step: 1, NextSendAt: t0,
		ThreadMessageID: "<first@outreach.example.com>",
	})

	h.run(t)
	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].raw, "In-Reply-To: <first@outreach.example.com>")
	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, "<first@outreach.example.com>", cl.ThreadMessageID)
	assert.Equal(t, 2, cl.Step)
}

type pauseErrRepo struct {
	*memory.Store
}

func (pauseErrRepo) GetPauseState(context.Context) (domain.PauseState, error) {
	return domain.PauseState{}, errors.New("db down")
}

func TestRunFailsClosedWhenPauseUnknown(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.deps.Repo = pauseErrRepo{h.store}

	_, err := New(h.deps, h.opts).Run(context.Background())
	require.ErrorIs(t, err, ErrPauseUnknown)
	assert.Empty(t, h.transport.sent)
}

func TestRunPaused(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	require.NoError(t, h.store.SetPauseState(context.Background(), domain.PauseState{Paused: true, Reason: "spamhaus"}))

	rep := h.run(t)
	assert.True(t, rep.Paused)
	assert.Equal(t, "spamhaus", rep.Reason)
	assert.Empty(t, h.transport.sent)
	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, domain.QueueQueued, cl.Status)
}

func TestRunStopsWhenPausedMidRun(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")
	h.transport.after = func(string) {
		_ = h.store.SetPauseState(context.Background(), domain.PauseState{Paused: true, Reason: "spamhaus"})
	}

	rep := h.run(t)
	assert.True(t, rep.Paused)
	assert.True(t, rep.Stopped)
	assert.Equal(t, 1, rep.Sent)
	require.Len(t, h.transport.sent, 1)
	cl, _ := h.store.CampaignLead("c1", "l2")
	assert.Equal(t, domain.QueueQueued, cl.Status)
}

type flakyPauseRepo struct {
	*memory.Store
	reads int
}

func (r *flakyPauseRepo) GetPauseState(ctx context.Context) (domain.PauseState, error) {
	r.reads++
	if r.reads > 1 {
		return domain.PauseState{}, errors.New("db down")
	}
	return r.Store.GetPauseState(ctx)
}

func TestRunStopsWhenPauseUnreadableMidRun(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")
	h.deps.Repo = &flakyPauseRepo{Store: h.store}

	rep, err := New(h.deps, h.opts).Run(context.Background())
	require.ErrorIs(t, err, ErrPauseUnknown)
	assert.True(t, rep.Stopped)
	assert.Len(t, h.transport.sent, 1)
}

func TestRunDropsAccountDeactivatedMidRun(t *testing.T) {
	h := newHarness(t)
	h.store.PutAccount(domain.SendingAccount{
		ID: "a2", Email: "tom@outreach.example.com", WarmupPhase: 3, Active: true,
		LastUsedAt: &t0,
	})
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")
	h.transport.after = func(string) {
		h.store.PutAccount(domain.SendingAccount{ID: "a1", Email: "jane@outreach.example.com", Active: false})
	}

	rep := h.run(t)
	assert.Equal(t, 2, rep.Sent)
	require.Len(t, h.transport.sent, 2)
	assert.Equal(t, "jane@outreach.example.com", h.transport.sent[0].env.From)
	assert.Equal(t, "tom@outreach.example.com", h.transport.sent[1].env.From)
}

func TestRunWithoutActiveAccounts(t *testing.T) {
	h := newHarness(t)
	h.store.PutAccount(domain.SendingAccount{ID: "a1", Email: "jane@outreach.example.com", Active: false})
	h.lead("l1", "ann@gmail.com", "Ann")

	rep, err := New(h.deps, h.opts).Run(context.Background())
	require.ErrorIs(t, err, ErrNoAccount)
	assert.Equal(t, 1, rep.Due)
	assert.Empty(t, h.transport.sent)
	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, domain.QueueQueued, cl.Status)
}

func TestRunSkipsIneligible(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.store.PutLead(domain.Lead{ID: "l2", Email: "bob@example.org", Unsubscribed: true})
	h.store.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: "l2", NextSendAt: t0})
	h.store.PutLead(domain.Lead{ID: "l3", Email: "info@example.org", Status: domain.LeadActive})
	h.store.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: "l3", NextSendAt: t0})

	rep := h.run(t)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 2, rep.Skipped)
	require.Len(t, h.transport.sent, 1)

	cl, _ := h.store.CampaignLead("c1", "l2")
	assert.Equal(t, domain.QueueSkipped, cl.Status)
	assert.Equal(t, "unsubscribed", cl.SkipReason)
	cl, _ = h.store.CampaignLead("c1", "l3")
	assert.Equal(t, "role_address", cl.SkipReason)
}

func TestRunFingerprintBlocksDuplicates(t *testing.T) {
	h := newHarness(t)
	h.store.PutCampaign(domain.Campaign{ID: "c1", Status: domain.CampaignActive, Subject: "Hello", HTML: "<p>Same words for everyone.</p>"})
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")
	h.deps.Guard = fingerprint.NewGuard(1, time.Hour, h.clock)
	h.opts.FingerprintDelay = 2 * time.Hour

	rep := h.run(t)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Blocked)
	require.Len(t, h.transport.sent, 1)

	cl, _ := h.store.CampaignLead("c1", "l2")
	assert.Equal(t, domain.QueueQueued, cl.Status)
	assert.True(t, cl.NextSendAt.Equal(t0.Add(2*time.Hour)))
}

func TestRunHardBounce(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.transport.errs["ann@gmail.com"] = errors.New("550 5.1.1 user unknown")

	rep := h.run(t)
	assert.Equal(t, 1, rep.Bounced)
	assert.Zero(t, rep.Sent)

	ctx := context.Background()
	l, _ := h.store.GetLead(ctx, "l1")
	assert.Equal(t, domain.BounceHard, l.BounceType)
	assert.Equal(t, domain.LeadBounced, l.Status)

	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, domain.QueueSkipped, cl.Status)
	assert.Equal(t, "bounced:hard", cl.SkipReason)

	c, _ := h.store.GetCampaign(ctx, "c1")
	assert.Equal(t, 1, c.Bounced)
	assert.Empty(t, h.store.SoftBounces())
	assert.Len(t, h.store.Events(domain.EventBounced), 1)
}

func TestRunSoftBounceHandsOffToRetryQueue(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.transport.errs["ann@gmail.com"] = errors.New("452 4.2.2 mailbox full")
	h.opts.FirstRetry = 30 * time.Minute

	rep := h.run(t)
	assert.Equal(t, 1, rep.Bounced)

	sbs := h.store.SoftBounces()
	require.Len(t, sbs, 1)
	assert.Equal(t, "ann@gmail.com", sbs[0].Email)
	assert.Equal(t, "c1", sbs[0].CampaignID)
	assert.True(t, sbs[0].NextRetry.Equal(t0.Add(30*time.Minute)))
	assert.Contains(t, sbs[0].Subject, "Ann")

	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, domain.QueueDeferred, cl.Status)
}

func TestRunTransportFailureKeepsLeadQueued(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.transport.errs["ann@gmail.com"] = errors.New("connection reset by peer")

	rep := h.run(t)
	assert.Equal(t, 1, rep.Failed)

	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, domain.QueueQueued, cl.Status)
	// the failure armed the governor backoff, which pushes the lead back
	assert.True(t, cl.NextSendAt.Equal(t0.Add(governor.DefaultBaseBackoff)))
	l, _ := h.store.GetLead(context.Background(), "l1")
	assert.Equal(t, domain.BounceNone, l.BounceType)
}

func TestRunDefersWithoutAccount(t *testing.T) {
	h := newHarness(t)
	h.store.PutAccount(domain.SendingAccount{
		ID: "a1", Email: "jane@outreach.example.com", Active: true, WarmupPhase: 1,
		Window: domain.SendWindow{StartHour: 13, EndHour: 17},
	})
	h.lead("l1", "ann@gmail.com", "Ann")

	rep := h.run(t)
	assert.Equal(t, 1, rep.Deferred)
	assert.Empty(t, h.transport.sent)
	cl, _ := h.store.CampaignLead("c1", "l1")
	assert.Equal(t, domain.QueueQueued, cl.Status)
	assert.True(t, cl.NextSendAt.After(t0))
}

func TestRunGovernorDefers(t *testing.T) {
	h := newHarness(t)
	h.governor = governor.New(governor.Config{MaxPerMinute: 1}, nil, nil, h.clock)
	h.deps.Governor = h.governor
	h.deps.Mailer = mailer.NewClient(h.transport, secrets.Plain{}, h.governor, h.clock)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")

	rep := h.run(t)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Deferred)

	cl, _ := h.store.CampaignLead("c1", "l2")
	assert.Equal(t, domain.QueueQueued, cl.Status)
	assert.True(t, cl.NextSendAt.After(t0))
	assert.False(t, cl.NextSendAt.After(t0.Add(time.Minute)))
}

func TestRunStopsWhenPacingInterrupted(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")
	h.opts.Sleep = func(context.Context, time.Duration) error { return context.DeadlineExceeded }

	rep := h.run(t)
	assert.True(t, rep.Stopped)
	assert.Equal(t, 1, rep.Sent)
	cl, _ := h.store.CampaignLead("c1", "l2")
	assert.Equal(t, domain.QueueQueued, cl.Status)
}

func TestRunDisablePacing(t *testing.T) {
	h := newHarness(t)
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")
	h.opts.DisablePacing = true

	rep := h.run(t)
	assert.Equal(t, 2, rep.Sent)
	assert.Empty(t, h.sleeps)
}

func TestRunRespectsQuotaWithinRun(t *testing.T) {
	h := newHarness(t)
	h.store.PutAccount(domain.SendingAccount{
		ID: "a1", Email: "jane@outreach.example.com", Active: true, WarmupPhase: 1, DailyLimit: 1,
	})
	h.lead("l1", "ann@gmail.com", "Ann")
	h.lead("l2", "bob@example.org", "Bob")

	rep := h.run(t)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Deferred)
}

func TestPoolPick(t *testing.T) {
	earlier := t0.Add(-time.Hour)
	later := t0.Add(-time.Minute)
	p := newPool([]domain.SendingAccount{
		{ID: "ms", Provider: domain.ProviderMicrosoft, Active: true, WarmupPhase: 1, LastUsedAt: &earlier},
		{ID: "g-late", Provider: domain.ProviderGmail, Active: true, WarmupPhase: 1, LastUsedAt: &later},
		{ID: "g-early", Provider: domain.ProviderGmail, Active: true, WarmupPhase: 1, LastUsedAt: &earlier},
		{ID: "off", Provider: domain.ProviderGmail, Active: false, WarmupPhase: 1},
	})

	assert.Equal(t, "g-early", p.pick(domain.ProviderGmail, t0).ID)
	assert.Equal(t, "ms", p.pick(domain.ProviderMicrosoft, t0).ID)
	// no provider match: least recently used, ties by id
	assert.Equal(t, "g-early", p.pick(domain.ProviderYahoo, t0).ID)

	p.disable(p.pick(domain.ProviderGmail, t0))
	assert.Equal(t, "g-late", p.pick(domain.ProviderGmail, t0).ID)

	g := p.pick(domain.ProviderGmail, t0)
	p.used(g, t0)
	assert.Equal(t, 1, g.SentToday)
	assert.Equal(t, "2025-03-05", g.SentTodayDate)
}

func TestUnsubscribeURL(t *testing.T) {
	d := New(Deps{Repo: memory.New()}, Options{UnsubscribeBaseURL: "https://example.com/u?src=mail"})
	u := d.unsubscribeURL("l1", "c1")
	assert.True(t, strings.HasPrefix(u, "https://example.com/u?"))
	assert.Contains(t, u, "lead=l1")
	assert.Contains(t, u, "campaign=c1")
	assert.Contains(t, u, "src=mail")

	d = New(Deps{Repo: memory.New()}, Options{})
	assert.Empty(t, d.unsubscribeURL("l1", "c1"))
}
