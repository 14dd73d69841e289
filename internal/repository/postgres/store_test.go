package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
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
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/warmup"
)

var (
	_ dispatch.Repository          = (*Store)(nil)
	_ mailer.RetryRepository       = (*Store)(nil)
	_ analytics.TrendRepository    = (*Store)(nil)
	_ analytics.CampaignRepository = (*Store)(nil)
	_ warmup.Repository            = (*Store)(nil)
	_ dnsaudit.Repository          = (*Store)(nil)
	_ blacklist.Repository         = (*Store)(nil)
	_ blacklist.PauseRepository    = (*Store)(nil)
	_ replies.Repository           = (*Store)(nil)
	_ hygiene.Repository           = (*Store)(nil)
)

var t0 = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func leadRow(id, email string) []driver.Value {
	return []driver.Value{id, email, "Ann", "Lee", "Acme", "active", false,
		nil, 0, "", nil, 50,
		nil, 3, t0, "valid", nil, t0}
}

func TestGetLead(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT id, email, .* FROM leads WHERE id = \$1`).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(leadCols).AddRow(leadRow("l1", "ann@example.com")...))

	l, err := s.GetLead(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", l.Email)
	assert.Equal(t, domain.LeadActive, l.Status)
	assert.Equal(t, domain.VerifyValid, l.VerifyResult)
	assert.Nil(t, l.ComplainedAt)
	require.NotNil(t, l.LastEmailAt)
	assert.True(t, l.LastEmailAt.Equal(t0))
}

func TestGetLeadNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM leads WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetLeadsKeepsInputOrder(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM leads WHERE id = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{"l2", "l1", "l9"})).
		WillReturnRows(sqlmock.NewRows(leadCols).
			AddRow(leadRow("l1", "a@example.com")...).
			AddRow(leadRow("l2", "b@example.com")...))

	leads, err := s.GetLeads(context.Background(), []string{"l2", "l1", "l9"})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "l2", leads[0].ID)
	assert.Equal(t, "l1", leads[1].ID)
}

func TestSaveLeadNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE leads SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SaveLead(context.Background(), &domain.Lead{ID: "gone"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListAccounts(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM sending_accounts WHERE \(\$1 = false OR active\) ORDER BY id`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(
			"a1", "jo@outreach.example.com", "Jo", "smtp.example.com", 587, "jo", "enc",
			"", 0, "", "", "gmail", 3,
			t0, 100, 12, "2025-03-05", 9,
			17, 62, "Europe/Berlin", true, "",
			nil, t0,
		))

	accts, err := s.ListAccounts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	a := accts[0]
	assert.Equal(t, domain.ProviderGmail, a.Provider)
	assert.Equal(t, uint8(62), a.Window.Weekdays)
	assert.Equal(t, "Europe/Berlin", a.Window.Timezone)
	assert.Nil(t, a.LastUsedAt)
	assert.False(t, a.HasIMAP())
}

func TestRecordAccountSend(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE sending_accounts SET\s+sent_today = CASE`).
		WithArgs("a1", "2025-03-05", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sending_accounts SET\s+sent_today = CASE`).
		WithArgs("nope", "2025-03-05", t0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.RecordAccountSend(context.Background(), "a1", t0))
	assert.ErrorIs(t, s.RecordAccountSend(context.Background(), "nope", t0), repository.ErrNotFound)
}

func TestResetDailyCounters(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE sending_accounts SET sent_today = 0`).
		WithArgs("2025-03-05").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.ResetDailyCounters(context.Background(), "2025-03-05")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestIncrementCampaign(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE campaigns SET bounced = bounced + $2 WHERE id = $1`)).
		WithArgs("c1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.IncrementCampaign(context.Background(), "c1", domain.CounterBounced, 1))
	assert.Error(t, s.IncrementCampaign(context.Background(), "c1", domain.CampaignCounter("opens; DROP"), 1))
}

func TestDueCampaignLeads(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM campaign_leads cl\s+JOIN campaigns c`).
		WithArgs("active", "queued", t0, 50).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "lead_id", "step", "status", "next_send_at", "thread_message_id", "skip_reason"}).
			AddRow("c1", "l1", 1, "queued", t0.Add(-time.Hour), "<m1@example.com>", ""))

	due, err := s.DueCampaignLeads(context.Background(), t0, 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.QueueQueued, due[0].Status)
	assert.Equal(t, "<m1@example.com>", due[0].ThreadMessageID)
}

func TestInsertSoftBounceKeepsUnsubscribeURL(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO soft_bounces`).
		WithArgs("sb1", "l1", "c1", "a1", "lead@prospect.io", "hi", "<p>x</p>", "https://example.com/u?lead=l1",
			0, t0, "mailbox full", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertSoftBounce(context.Background(), &domain.SoftBounce{
		ID: "sb1", LeadID: "l1", CampaignID: "c1", AccountID: "a1", Email: "lead@prospect.io",
		Subject: "hi", HTML: "<p>x</p>", UnsubscribeURL: "https://example.com/u?lead=l1",
		NextRetry: t0, Error: "mailbox full", CreatedAt: t0,
	})
	require.NoError(t, err)
}

func TestDueSoftBouncesUnbounded(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM soft_bounces\s+WHERE next_retry <= \$1`).
		WithArgs(t0, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	due, err := s.DueSoftBounces(context.Background(), t0, 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPauseState(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT paused, reason, since FROM system_state`).
		WithArgs(pauseKey).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO system_state`).
		WithArgs(pauseKey, true, "critical listing", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT paused, reason, since FROM system_state`).
		WithArgs(pauseKey).
		WillReturnRows(sqlmock.NewRows([]string{"paused", "reason", "since"}).AddRow(true, "critical listing", t0))

	ctx := context.Background()
	st, err := s.GetPauseState(ctx)
	require.NoError(t, err)
	assert.False(t, st.Paused)

	require.NoError(t, s.SetPauseState(ctx, domain.PauseState{Paused: true, Reason: "critical listing", Since: t0}))

	st, err = s.GetPauseState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.True(t, st.Since.Equal(t0))
}

func TestInsertReplyDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO replies .* ON CONFLICT \(message_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO replies`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := &domain.Reply{MessageID: "<r1@example.com>", AccountID: "a1", ReceivedAt: t0}
	require.NoError(t, s.InsertReply(context.Background(), r))
	assert.ErrorIs(t, s.InsertReply(context.Background(), r), repository.ErrDuplicate)
}

func TestCountEvents(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT type, COUNT\(\*\) FROM email_events\s+WHERE created_at >= \$1 AND created_at < \$2`).
		WithArgs(t0, t0.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"type", "count"}).AddRow("sent", 120).AddRow("bounced", 3))

	counts, err := s.CountEvents(context.Background(), t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 120, counts[domain.EventSent])
	assert.Equal(t, 3, counts[domain.EventBounced])
}

func TestInsertEventEncodesDetails(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO email_events`).
		WithArgs(sqlmock.AnyArg(), "l1", "a1", "c1", "sent", []byte(`{"message_id":"m-1"}`), t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &domain.EmailEvent{LeadID: "l1", AccountID: "a1", CampaignID: "c1", Type: domain.EventSent,
		Details: map[string]string{"message_id": "m-1"}, CreatedAt: t0}
	require.NoError(t, s.InsertEvent(context.Background(), e))
	assert.NotEmpty(t, e.ID)
}

func TestListDomainsScansSelectors(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM sending_domains`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"name", "sending_ip", "dkim_selectors", "active"}).
			AddRow("example.com", "192.0.2.10", "{s1,google}", true))

	ds, err := s.ListDomains(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, []string{"s1", "google"}, ds[0].DKIMSelectors)
}

func TestInsertBlacklistCheckNilListings(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO blacklist_checks`).
		WithArgs(sqlmock.AnyArg(), "192.0.2.10", "ip", false, []byte(`[]`), 100, false, t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &domain.BlacklistCheck{Target: "192.0.2.10", TargetType: "ip", Score: 100, CheckedAt: t0}
	require.NoError(t, s.InsertBlacklistCheck(context.Background(), c))
}

func TestPauseEnrollments(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE sequence_enrollments SET status = \$3`).
		WithArgs("l1", "replied", "paused", "active").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.PauseEnrollments(context.Background(), "l1", "replied")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
