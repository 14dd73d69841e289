package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/analytics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/blacklist"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/dispatch"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/dnsaudit"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/hygiene"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/mailer"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/replies"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository/memory"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/warmup"
)

var (
	_ dispatch.Repository          = (*memory.Store)(nil)
	_ mailer.RetryRepository       = (*memory.Store)(nil)
	_ analytics.TrendRepository    = (*memory.Store)(nil)
	_ analytics.CampaignRepository = (*memory.Store)(nil)
	_ warmup.Repository            = (*memory.Store)(nil)
	_ dnsaudit.Repository          = (*memory.Store)(nil)
	_ blacklist.Repository         = (*memory.Store)(nil)
	_ blacklist.PauseRepository    = (*memory.Store)(nil)
	_ replies.Repository           = (*memory.Store)(nil)
	_ hygiene.Repository           = (*memory.Store)(nil)
)

func TestDueCampaignLeads(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	s := memory.New()
	s.PutCampaign(domain.Campaign{ID: "c1", Status: domain.CampaignActive})
	s.PutCampaign(domain.Campaign{ID: "c2", Status: domain.CampaignPaused})
	s.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: "l2", NextSendAt: now.Add(-time.Minute)})
	s.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: "l1", NextSendAt: now.Add(-time.Hour)})
	s.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: "l3", NextSendAt: now.Add(time.Minute)})
	s.Enqueue(domain.CampaignLead{CampaignID: "c1", LeadID: "l4", Status: domain.QueueSent})
	s.Enqueue(domain.CampaignLead{CampaignID: "c2", LeadID: "l5"})

	due, err := s.DueCampaignLeads(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "l1", due[0].LeadID)
	assert.Equal(t, "l2", due[1].LeadID)

	due, err = s.DueCampaignLeads(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestRecordAccountSendRollsOverDay(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.PutAccount(domain.SendingAccount{ID: "a1", SentToday: 7, SentTodayDate: "2025-03-04"})

	at := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordAccountSend(ctx, "a1", at))
	require.NoError(t, s.RecordAccountSend(ctx, "a1", at.Add(time.Minute)))

	a, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.SentToday)
	assert.Equal(t, "2025-03-05", a.SentTodayDate)
	require.NotNil(t, a.LastUsedAt)
	assert.True(t, a.LastUsedAt.Equal(at.Add(time.Minute)))

	assert.ErrorIs(t, s.RecordAccountSend(ctx, "missing", at), repository.ErrNotFound)
}

func TestLeadCopiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.PutLead(domain.Lead{ID: "l1", Email: "Ann@Example.com", Status: domain.LeadActive})

	l, err := s.GetLead(ctx, "l1")
	require.NoError(t, err)
	l.EmailsSent = 9

	again, err := s.FindLeadByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, again.EmailsSent)

	_, err = s.GetLead(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInsertReplyRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.InsertReply(ctx, &domain.Reply{MessageID: "<m1@x>"}))
	assert.ErrorIs(t, s.InsertReply(ctx, &domain.Reply{MessageID: "<m1@x>"}), repository.ErrDuplicate)

	ok, err := s.ReplyExists(ctx, "<m1@x>")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCountEventsHalfOpen(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{day, day.Add(23 * time.Hour), day.Add(24 * time.Hour)} {
		require.NoError(t, s.InsertEvent(ctx, &domain.EmailEvent{LeadID: "l", Type: domain.EventSent, CreatedAt: at}))
	}
	counts, err := s.CountEvents(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.EventSent])
}

func TestPauseEnrollmentsOnlyActive(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.PutEnrollment(domain.SequenceEnrollment{ID: "e1", LeadID: "l1", Status: domain.EnrollmentActive})
	s.PutEnrollment(domain.SequenceEnrollment{ID: "e2", LeadID: "l1", Status: domain.EnrollmentCompleted})
	s.PutEnrollment(domain.SequenceEnrollment{ID: "e3", LeadID: "l2", Status: domain.EnrollmentActive})

	n, err := s.PauseEnrollments(ctx, "l1", "replied")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	e, _ := s.Enrollment("e1")
	assert.Equal(t, domain.EnrollmentPaused, e.Status)
	assert.Equal(t, "replied", e.PausedReason)
	e, _ = s.Enrollment("e3")
	assert.Equal(t, domain.EnrollmentActive, e.Status)
}
