package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/eligibility"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/governor"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/warmup"
)

var errNoRetryAccount = errors.New("no usable sending account")

// DefaultRetrySchedule is the delay before each soft-bounce retry.
var DefaultRetrySchedule = []time.Duration{time.Hour, 6 * time.Hour, 24 * time.Hour}

// RetryRepository is the storage used by RetryProcessor.
type RetryRepository interface {
	BounceRepository
	DueSoftBounces(ctx context.Context, now time.Time, limit int) ([]domain.SoftBounce, error)
	UpdateSoftBounce(ctx context.Context, sb *domain.SoftBounce) error
	DeleteSoftBounce(ctx context.Context, id string) error
	GetAccount(ctx context.Context, id string) (*domain.SendingAccount, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]domain.SendingAccount, error)
	GetPauseState(ctx context.Context) (domain.PauseState, error)
	RecordAccountSend(ctx context.Context, accountID string, at time.Time) error
}

// Admitter gates sends. *governor.Governor satisfies it.
type Admitter interface {
	Check(ctx context.Context, email string) governor.Decision
}

// RetryReport summarizes one retry run.
type RetryReport struct {
	Due         int  `json:"due"`
	Delivered   int  `json:"delivered"`
	Rescheduled int  `json:"rescheduled"`
	Escalated   int  `json:"escalated"`
	Deferred    int  `json:"deferred"`
	Skipped     int  `json:"skipped"`
	Failures    int  `json:"failures"`
	Paused      bool `json:"paused,omitempty"`
}

// RetryProcessor resends due soft bounces and escalates the ones that keep
// failing.
type RetryProcessor struct {
	repo       RetryRepository
	client     *Client
	bounces    *BounceHandler
	admit      Admitter
	schedule   []time.Duration
	maxRetries int
	batch      int
	mailto     string
	feedback   string
	clock      clock.Clock
}

// RetryOptions configures a RetryProcessor. UnsubscribeMailto and
// FeedbackPrefix match the dispatcher's so retried mail carries the same
// headers.
type RetryOptions struct {
	Schedule          []time.Duration
	MaxRetries        int
	BatchSize         int
	UnsubscribeMailto string
	FeedbackPrefix    string
}

// NewRetryProcessor creates a processor. admit may be nil.
func NewRetryProcessor(repo RetryRepository, client *Client, admit Admitter, opts RetryOptions, c clock.Clock) *RetryProcessor {
	if len(opts.Schedule) == 0 {
		opts.Schedule = DefaultRetrySchedule
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = len(opts.Schedule)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	c = clock.OrReal(c)
	return &RetryProcessor{
		repo:       repo,
		client:     client,
		bounces:    NewBounceHandler(repo, opts.Schedule[0], c),
		admit:      admit,
		schedule:   opts.Schedule,
		maxRetries: opts.MaxRetries,
		batch:      opts.BatchSize,
		mailto:     opts.UnsubscribeMailto,
		feedback:   opts.FeedbackPrefix,
		clock:      c,
	}
}

// NextDelay returns the wait after the given number of failed retries.
func (p *RetryProcessor) NextDelay(retries int) time.Duration {
	if retries >= len(p.schedule) {
		return p.schedule[len(p.schedule)-1]
	}
	return p.schedule[retries]
}

// Run processes every due soft bounce. Nothing is sent while the global
// pause flag is set or cannot be read; the flag is read again before every
// send so a pause raised mid-run stops the rest of the batch.
func (p *RetryProcessor) Run(ctx context.Context) (RetryReport, error) {
	var rep RetryReport
	if paused, err := p.paused(ctx); err != nil || paused {
		rep.Paused = paused
		return rep, err
	}

	now := p.clock.Now()
	due, err := p.repo.DueSoftBounces(ctx, now, p.batch)
	if err != nil {
		return rep, fmt.Errorf("load due soft bounces: %w", err)
	}
	rep.Due = len(due)

	accounts := &retryAccounts{byID: map[string]*domain.SendingAccount{}}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		sb := &due[i]
		if i > 0 {
			if paused, err := p.paused(ctx); err != nil || paused {
				rep.Paused = paused
				return rep, err
			}
		}
		reason, err := p.suppressed(ctx, sb)
		if err != nil {
			rep.Failures++
			log.Warn("load lead for retry", "soft_bounce", sb.ID, "error", err.Error())
			continue
		}
		if reason != eligibility.ReasonNone {
			p.drop(ctx, sb, reason)
			rep.Skipped++
			continue
		}
		acct, err := p.account(ctx, sb.AccountID, accounts)
		if err != nil {
			rep.Deferred++
			log.Warn("no account for retry", "soft_bounce", sb.ID, "error", err.Error())
			continue
		}
		if p.admit != nil {
			if d := p.admit.Check(ctx, sb.Email); !d.Allowed {
				rep.Deferred++
				continue
			}
		}
		switch p.retry(ctx, acct, sb) {
		case retryDelivered:
			rep.Delivered++
		case retryRescheduled:
			rep.Rescheduled++
		case retryEscalated:
			rep.Escalated++
		case retryDeferred:
			rep.Deferred++
		default:
			rep.Failures++
		}
	}
	log.Info("retry run complete", "due", rep.Due, "delivered", rep.Delivered, "rescheduled", rep.Rescheduled,
		"escalated", rep.Escalated, "deferred", rep.Deferred, "skipped", rep.Skipped)
	return rep, nil
}

func (p *RetryProcessor) paused(ctx context.Context) (bool, error) {
	pause, err := p.repo.GetPauseState(ctx)
	if err != nil {
		return false, fmt.Errorf("read pause state: %w", err)
	}
	if pause.Paused {
		log.Info("retry run stopped: sending paused", "reason", pause.Reason)
	}
	return pause.Paused, nil
}

// suppressed reports why the lead behind sb may no longer be mailed. A
// missing lead is not_found.
func (p *RetryProcessor) suppressed(ctx context.Context, sb *domain.SoftBounce) (eligibility.Reason, error) {
	lead, err := p.repo.GetLead(ctx, sb.LeadID)
	if errors.Is(err, repository.ErrNotFound) {
		return eligibility.ReasonNotFound, nil
	}
	if err != nil {
		return eligibility.ReasonNone, err
	}
	return eligibility.Suppressed(lead), nil
}

// drop removes a retry whose lead was suppressed after the bounce.
func (p *RetryProcessor) drop(ctx context.Context, sb *domain.SoftBounce, reason eligibility.Reason) {
	log.Info("retry dropped", "soft_bounce", sb.ID, "lead", sb.LeadID, "reason", string(reason))
	if err := p.repo.DeleteSoftBounce(ctx, sb.ID); err != nil {
		log.Error("delete suppressed soft bounce", "soft_bounce", sb.ID, "error", err.Error())
	}
}

type retryResult int

const (
	retryFailed retryResult = iota
	retryDelivered
	retryRescheduled
	retryEscalated
	retryDeferred
)

func (p *RetryProcessor) retry(ctx context.Context, acct *domain.SendingAccount, sb *domain.SoftBounce) retryResult {
	msg := Message{
		To:                sb.Email,
		Subject:           sb.Subject,
		HTML:              sb.HTML,
		CampaignID:        sb.CampaignID,
		LeadID:            sb.LeadID,
		UnsubscribeURL:    sb.UnsubscribeURL,
		UnsubscribeMailto: p.mailto,
		FeedbackPrefix:    p.feedback,
	}
	res, err := p.client.Send(ctx, acct, msg)
	now := p.clock.Now()
	if err == nil {
		markUsed(acct, res.SentAt)
		if err := p.repo.RecordAccountSend(ctx, acct.ID, res.SentAt); err != nil {
			log.Warn("retry account usage", "account", acct.ID, "error", err.Error())
		}
		if err := p.repo.DeleteSoftBounce(ctx, sb.ID); err != nil {
			log.Error("delete delivered soft bounce", "soft_bounce", sb.ID, "error", err.Error())
		}
		ev := &domain.EmailEvent{
			LeadID: sb.LeadID, AccountID: acct.ID, CampaignID: sb.CampaignID,
			Type: domain.EventSent, CreatedAt: now,
			Details: map[string]string{"message_id": res.MessageID, "retry": "true"},
		}
		if err := p.repo.InsertEvent(ctx, ev); err != nil {
			log.Warn("retry sent event", "soft_bounce", sb.ID, "error", err.Error())
		}
		return retryDelivered
	}

	switch res.Classification.Kind {
	case Unknown:
		// Transport problem: the row stays due for the next run.
		return retryDeferred
	case Hard, PolicyReject:
		return p.escalate(ctx, sb, res.Classification)
	}

	sb.Retries++
	sb.Error = res.Classification.Reason
	if sb.Retries >= p.maxRetries {
		return p.escalate(ctx, sb, Exhausted(res.Classification, sb.Retries))
	}
	sb.NextRetry = now.Add(p.NextDelay(sb.Retries))
	if err := p.repo.UpdateSoftBounce(ctx, sb); err != nil {
		log.Error("reschedule soft bounce", "soft_bounce", sb.ID, "error", err.Error())
		return retryFailed
	}
	return retryRescheduled
}

func (p *RetryProcessor) escalate(ctx context.Context, sb *domain.SoftBounce, c Classification) retryResult {
	if c.Kind != PolicyReject {
		c.Kind = Hard
	}
	// No CampaignID: the campaign counted this bounce when it was soft.
	set := p.bounces.Handle(ctx, Bounce{
		LeadID:    sb.LeadID,
		AccountID: sb.AccountID,
		Email:     sb.Email,
		Class:     c,
	})
	if err := set.Fatal(); err != nil {
		// Keep the row so the escalation is attempted again.
		log.Error("escalate soft bounce", "soft_bounce", sb.ID, "error", err.Error())
		return retryFailed
	}
	if err := p.repo.DeleteSoftBounce(ctx, sb.ID); err != nil {
		log.Error("delete escalated soft bounce", "soft_bounce", sb.ID, "error", err.Error())
	}
	return retryEscalated
}

// retryAccounts caches the accounts loaded during one run so usage
// recorded by earlier retries counts against the quota of later ones.
type retryAccounts struct {
	byID   map[string]*domain.SendingAccount
	all    []*domain.SendingAccount
	listed bool
}

// account returns the account that sent the original message when it can
// still send, otherwise the first usable active account.
func (p *RetryProcessor) account(ctx context.Context, id string, run *retryAccounts) (*domain.SendingAccount, error) {
	now := p.clock.Now()
	if id != "" {
		acct, ok := run.byID[id]
		if !ok {
			a, err := p.repo.GetAccount(ctx, id)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			if err == nil {
				acct = a
				run.byID[id] = a
			}
		}
		if acct != nil && warmup.Usable(acct, now) {
			return acct, nil
		}
	}
	if !run.listed {
		accts, err := p.repo.ListAccounts(ctx, true)
		if err != nil {
			return nil, err
		}
		run.listed = true
		for i := range accts {
			a := &accts[i]
			if cached, ok := run.byID[a.ID]; ok {
				a = cached
			} else {
				run.byID[a.ID] = a
			}
			run.all = append(run.all, a)
		}
	}
	for _, a := range run.all {
		if warmup.Usable(a, now) {
			return a, nil
		}
	}
	return nil, errNoRetryAccount
}

func markUsed(a *domain.SendingAccount, at time.Time) {
	day := at.UTC().Format("2006-01-02")
	if a.SentTodayDate != day {
		a.SentToday = 0
		a.SentTodayDate = day
	}
	a.SentToday++
	t := at
	a.LastUsedAt = &t
}
