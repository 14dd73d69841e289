package replies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/engagement"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/secrets"
)

var log = logger.For("replies")

// Repository is the storage the listener needs.
type Repository interface {
	ListAccounts(ctx context.Context, activeOnly bool) ([]domain.SendingAccount, error)
	ReplyExists(ctx context.Context, messageID string) (bool, error)
	InsertReply(ctx context.Context, r *domain.Reply) error
	FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error)
	SaveLead(ctx context.Context, l *domain.Lead) error
	PauseEnrollments(ctx context.Context, leadID, reason string) (int, error)
	InsertEvent(ctx context.Context, e *domain.EmailEvent) error
}

// Fetcher pulls recent messages from one account.
type Fetcher interface {
	Fetch(ctx context.Context, acct *domain.SendingAccount, password string) ([]Message, error)
}

// Report summarizes a listener run.
type Report struct {
	Accounts    int `json:"accounts"`
	Fetched     int `json:"fetched"`
	New         int `json:"new"`
	Replies     int `json:"replies"`
	AutoReplies int `json:"auto_replies"`
	Matched     int `json:"matched"`
	Failures    int `json:"failures"`
}

// Listener turns inbox messages into reply records and lead updates.
type Listener struct {
	repo    Repository
	fetcher Fetcher
	secrets secrets.Decrypter
	metrics *metrics.Metrics
	clock   clock.Clock
}

// NewListener creates a Listener. d and m may be nil.
func NewListener(repo Repository, f Fetcher, d secrets.Decrypter, m *metrics.Metrics, c clock.Clock) *Listener {
	if d == nil {
		d = secrets.Plain{}
	}
	return &Listener{repo: repo, fetcher: f, secrets: d, metrics: m, clock: clock.OrReal(c)}
}

// Run polls every active account with IMAP settings. A failing mailbox
// is logged and skipped.
func (l *Listener) Run(ctx context.Context) (Report, error) {
	accounts, err := l.repo.ListAccounts(ctx, true)
	if err != nil {
		return Report{}, fmt.Errorf("list accounts: %w", err)
	}
	var rep Report
	for i := range accounts {
		a := &accounts[i]
		if !a.HasIMAP() {
			continue
		}
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Accounts++
		msgs, err := l.fetcher.Fetch(ctx, a, l.secrets.Decrypt(a.IMAPPassEnc))
		if err != nil {
			rep.Failures++
			log.Warn("mailbox poll failed", "account", a.ID, "collected", len(msgs), "error", err)
			if !errors.Is(err, ErrFetchTimeout) {
				continue
			}
		}
		rep.Fetched += len(msgs)
		for _, m := range msgs {
			l.handle(ctx, a, m, &rep)
		}
	}
	log.Info("reply poll complete", "accounts", rep.Accounts, "new", rep.New, "replies", rep.Replies, "auto", rep.AutoReplies, "matched", rep.Matched)
	return rep, nil
}

func (l *Listener) handle(ctx context.Context, a *domain.SendingAccount, m Message, rep *Report) {
	if m.MessageID == "" || m.FromAddress == "" {
		return
	}
	if strings.EqualFold(m.FromAddress, a.Email) {
		return
	}
	seen, err := l.repo.ReplyExists(ctx, m.MessageID)
	if err != nil {
		rep.Failures++
		log.Warn("reply dedupe lookup failed", "message_id", m.MessageID, "error", err)
		return
	}
	if seen {
		return
	}
	now := l.clock.Now()
	received := m.Date
	if received.IsZero() {
		received = now
	}
	r := &domain.Reply{
		MessageID:  m.MessageID,
		AccountID:  a.ID,
		From:       m.FromAddress,
		To:         m.To,
		Subject:    m.Subject,
		Preview:    m.Preview,
		ReceivedAt: received,
		AutoReply:  isAutoMessage(m),
	}

	lead, err := l.repo.FindLeadByEmail(ctx, m.FromAddress)
	switch {
	case err == nil:
		r.LeadID = lead.ID
	case !errors.Is(err, repository.ErrNotFound):
		log.Warn("lead lookup failed", "email", m.FromAddress, "error", err)
	}

	if err := l.repo.InsertReply(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return
		}
		rep.Failures++
		log.Warn("reply insert failed", "message_id", m.MessageID, "error", err)
		return
	}
	rep.New++
	l.metrics.Reply(r.AutoReply)
	if r.AutoReply {
		rep.AutoReplies++
		log.Debug("auto reply ignored", "account", a.ID, "subject", m.Subject)
		return
	}
	rep.Replies++
	if lead == nil {
		return
	}
	rep.Matched++
	for _, f := range l.applyReply(ctx, a, lead, r, now).Failures() {
		rep.Failures++
		log.Warn("reply side effect failed", "lead", lead.ID, "op", f.Op, "error", f.Err)
	}
}

// applyReply marks the lead replied, credits engagement, stops its
// sequences and records the event.
func (l *Listener) applyReply(ctx context.Context, a *domain.SendingAccount, lead *domain.Lead, r *domain.Reply, now time.Time) outcome.Set {
	var set outcome.Set
	at := r.ReceivedAt
	lead.Status = domain.LeadReplied
	lead.RepliedAt = &at
	engagement.Record(lead, domain.EventReplied, at)
	set.Add(outcome.Hard("save_lead", l.repo.SaveLead(ctx, lead)))

	n, err := l.repo.PauseEnrollments(ctx, lead.ID, "lead replied")
	set.Add(outcome.Hard("pause_enrollments", err))

	set.Add(outcome.Soft("insert_event", l.repo.InsertEvent(ctx, &domain.EmailEvent{
		ID:        uuid.New().String(),
		LeadID:    lead.ID,
		AccountID: a.ID,
		Type:      domain.EventReplied,
		Details:   map[string]string{"message_id": r.MessageID, "subject": r.Subject},
		CreatedAt: now,
	})))
	log.Info("lead replied", "lead", lead.ID, "account", a.ID, "enrollments_paused", n)
	return set
}
