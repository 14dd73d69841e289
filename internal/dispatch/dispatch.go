// Package dispatch runs the send pipeline: pause flag, due leads,
// eligibility, admission, account selection, rendering, the content gates,
// submission, bookkeeping and pacing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/eligibility"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/engagement"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/fingerprint"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/governor"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/mailer"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pacing"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/render"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/spam"
)

var log = logger.For("dispatch")

// Repository is the storage a dispatch run needs.
type Repository interface {
	mailer.BounceRepository
	eligibility.LeadLoader
	GetPauseState(ctx context.Context) (domain.PauseState, error)
	// DueCampaignLeads returns queued rows of active campaigns whose
	// NextSendAt is not after now, oldest first.
	DueCampaignLeads(ctx context.Context, now time.Time, limit int) ([]domain.CampaignLead, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	SaveCampaignLead(ctx context.Context, cl *domain.CampaignLead) error
	ListAccounts(ctx context.Context, activeOnly bool) ([]domain.SendingAccount, error)
	GetAccount(ctx context.Context, id string) (*domain.SendingAccount, error)
	// RecordAccountSend bumps the account's daily counter for the UTC day of
	// at and sets LastUsedAt.
	RecordAccountSend(ctx context.Context, accountID string, at time.Time) error
}

// Deferral reasons besides the governor's.
const (
	DeferNoAccount   = "no_account"
	DeferFingerprint = "fingerprint"
	DeferTransport   = "transport"
	DeferCampaign    = "campaign_inactive"

	SkipRender = "render_failed"
	SkipBounce = "bounced"
)

// Options configures a Dispatcher.
type Options struct {
	BatchSize          int
	UnsubscribeBaseURL string
	UnsubscribeMailto  string
	FeedbackPrefix     string
	DisablePacing      bool
	// MaxRun bounds one run; unsent leads stay queued.
	MaxRun time.Duration
	// FirstRetry is when a soft bounce is first retried.
	FirstRetry time.Duration
	// NoAccountDelay and FingerprintDelay push a deferred lead back.
	NoAccountDelay   time.Duration
	FingerprintDelay time.Duration
	// Sleep waits between sends. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxRun <= 0 {
		o.MaxRun = 280 * time.Second
	}
	if o.FirstRetry <= 0 {
		o.FirstRetry = time.Hour
	}
	if o.NoAccountDelay <= 0 {
		o.NoAccountDelay = 15 * time.Minute
	}
	if o.FingerprintDelay <= 0 {
		o.FingerprintDelay = time.Hour
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// Deps are the components a Dispatcher composes. Guard, Renderer, Pacer,
// Metrics and Clock may be nil.
type Deps struct {
	Repo     Repository
	Mailer   *mailer.Client
	Governor *governor.Governor
	Guard    *fingerprint.Guard
	Renderer *render.Renderer
	Pacer    *pacing.Pacer
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

// Report summarizes one run.
type Report struct {
	Paused   bool   `json:"paused"`
	Reason   string `json:"reason,omitempty"`
	Due      int    `json:"due"`
	Sent     int    `json:"sent"`
	Deferred int    `json:"deferred"`
	Skipped  int    `json:"skipped"`
	Blocked  int    `json:"blocked"`
	Bounced  int    `json:"bounced"`
	Failed   int    `json:"failed"`
	Failures int    `json:"failures"`
	Stopped  bool   `json:"stopped"`
}

// Dispatcher performs dispatch runs. Runs must not overlap; the scheduler
// guards that with a lock.
type Dispatcher struct {
	repo     Repository
	filter   *eligibility.Filter
	governor *governor.Governor
	client   *mailer.Client
	bounces  *mailer.BounceHandler
	guard    *fingerprint.Guard
	renderer *render.Renderer
	pacer    *pacing.Pacer
	metrics  *metrics.Metrics
	opts     Options
	clock    clock.Clock
}

// New creates a Dispatcher.
func New(d Deps, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	c := clock.OrReal(d.Clock)
	if d.Guard == nil {
		d.Guard = fingerprint.NewGuard(0, 0, c)
	}
	if d.Renderer == nil {
		d.Renderer = render.New()
	}
	if d.Pacer == nil {
		d.Pacer = pacing.New(nil)
	}
	if d.Governor == nil {
		d.Governor = governor.New(governor.Config{}, nil, nil, c)
	}
	return &Dispatcher{
		repo:     d.Repo,
		filter:   eligibility.NewFilter(d.Repo),
		governor: d.Governor,
		client:   d.Mailer,
		bounces:  mailer.NewBounceHandler(d.Repo, opts.FirstRetry, c),
		guard:    d.Guard,
		renderer: d.Renderer,
		pacer:    d.Pacer,
		metrics:  d.Metrics,
		opts:     opts,
		clock:    c,
	}
}

// Guard returns the fingerprint guard shared with content previews.
func (d *Dispatcher) Guard() *fingerprint.Guard { return d.guard }

// Run sends one batch of due leads. A failure for one lead never stops the
// rest; leads that could not be sent stay queued. The pause flag is read
// before every send, so a pause raised by another job stops the batch.
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	var rep Report
	if err := d.checkPause(ctx, &rep); err != nil || rep.Paused {
		return rep, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.MaxRun)
	defer cancel()

	now := d.clock.Now()
	due, err := d.repo.DueCampaignLeads(ctx, now, d.opts.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("load due leads: %w", err)
	}
	rep.Due = len(due)
	if len(due) == 0 {
		return rep, nil
	}

	accts, err := d.repo.ListAccounts(ctx, true)
	if err != nil {
		return rep, fmt.Errorf("list accounts: %w", err)
	}
	accounts := newPool(accts)
	if accounts.empty() {
		log.Warn("dispatch skipped: no active sending account", "due", rep.Due)
		return rep, ErrNoAccount
	}

	queue := make(map[string]*domain.CampaignLead, len(due))
	ids := make([]string, 0, len(due))
	for i := range due {
		cl := &due[i]
		if _, dup := queue[cl.LeadID]; dup {
			// one send per lead per run; the later row waits
			continue
		}
		queue[cl.LeadID] = cl
		ids = append(ids, cl.LeadID)
	}

	part, err := d.filter.Batch(ctx, ids, now)
	if err != nil {
		return rep, err
	}
	for _, s := range part.Skipped {
		cl := queue[s.LeadID]
		d.skip(ctx, cl, string(s.Reason))
		rep.Skipped++
	}

	campaigns := map[string]*domain.Campaign{}
	sent := 0
	for i := range part.Eligible {
		if err := ctx.Err(); err != nil {
			rep.Stopped = true
			break
		}
		lead := &part.Eligible[i]
		cl := queue[lead.ID]
		if i > 0 {
			if err := d.checkPause(ctx, &rep); err != nil {
				rep.Stopped = true
				return rep, err
			}
			if rep.Paused {
				rep.Stopped = true
				break
			}
		}

		cmp, err := d.campaign(ctx, campaigns, cl.CampaignID)
		if err != nil {
			rep.Failures++
			log.Warn("load campaign failed", "campaign", cl.CampaignID, "error", err)
			continue
		}
		if cmp.Status != domain.CampaignActive {
			d.postpone(ctx, cl, DeferCampaign, d.opts.NoAccountDelay)
			rep.Deferred++
			continue
		}

		res := d.send(ctx, accounts, cmp, cl, lead)
		switch res.status {
		case statusSent:
			rep.Sent++
		case statusDeferred:
			rep.Deferred++
		case statusBlocked:
			rep.Blocked++
		case statusSkipped:
			rep.Skipped++
		case statusBounced:
			rep.Bounced++
		case statusFailed:
			rep.Failed++
		}
		if res.fatal {
			rep.Failures++
		}
		if res.status != statusSent && res.status != statusBounced && res.status != statusFailed {
			continue
		}

		sent++
		if d.opts.DisablePacing || i == len(part.Eligible)-1 {
			continue
		}
		delay := d.pacer.Next(engagement.TierFor(lead, now), sent-1, d.clock.Now())
		if err := d.opts.Sleep(ctx, pacing.Compose(delay.Wait, res.backoff)); err != nil {
			rep.Stopped = true
			break
		}
	}

	log.Info("dispatch run complete", "due", rep.Due, "sent", rep.Sent, "deferred", rep.Deferred,
		"skipped", rep.Skipped, "blocked", rep.Blocked, "bounced", rep.Bounced, "failed", rep.Failed,
		"stopped", rep.Stopped)
	return rep, nil
}

// checkPause reads the global pause flag into rep. An unreadable flag is an
// error and nothing may be sent.
func (d *Dispatcher) checkPause(ctx context.Context, rep *Report) error {
	pause, err := d.repo.GetPauseState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPauseUnknown, err)
	}
	d.metrics.SetPaused(pause.Paused)
	if pause.Paused {
		rep.Paused, rep.Reason = true, pause.Reason
		log.Info("dispatch stopped: sending paused", "reason", pause.Reason)
	}
	return nil
}

type status int

const (
	statusSent status = iota
	statusDeferred
	statusBlocked
	statusSkipped
	statusBounced
	statusFailed
)

type result struct {
	status  status
	backoff time.Duration
	fatal   bool
}

func (d *Dispatcher) send(ctx context.Context, accounts *pool, cmp *domain.Campaign, cl *domain.CampaignLead, lead *domain.Lead) result {
	now := d.clock.Now()
	provider := d.governor.Registry().ClassifyEmail(ctx, lead.Email)
	acct, err := d.account(ctx, accounts, provider, now)
	if err != nil {
		log.Warn("load sending account failed", "lead", lead.ID, "error", err)
	}
	if acct == nil {
		d.postpone(ctx, cl, DeferNoAccount, d.opts.NoAccountDelay)
		return result{status: statusDeferred}
	}

	decision := d.governor.Check(ctx, lead.Email)
	if !decision.Allowed {
		d.postpone(ctx, cl, decision.Reason, decision.RetryAfter)
		return result{status: statusDeferred}
	}

	unsub := d.unsubscribeURL(lead.ID, cmp.ID)
	content, err := d.renderer.RenderContent("campaign:"+cmp.ID, render.Content{
		Subject: cmp.Subject, HTML: cmp.HTML, Text: cmp.Text,
	}, render.Vars(lead, acct, unsub))
	if err != nil {
		log.Error("render failed", "campaign", cmp.ID, "lead", lead.ID, "error", err)
		d.skip(ctx, cl, SkipRender)
		return result{status: statusSkipped}
	}

	body := content.HTML
	if body == "" {
		body = content.Text
	}
	if v := d.guard.Check(body); !v.Allowed {
		d.metrics.FingerprintBlocked()
		log.Warn("duplicate content blocked", "campaign", cmp.ID, "count", v.Count, "suggestion", v.Suggestion)
		d.postpone(ctx, cl, DeferFingerprint, d.opts.FingerprintDelay)
		return result{status: statusBlocked}
	} else if v.Warning != "" {
		log.Warn("duplicate content warning", "campaign", cmp.ID, "warning", v.Warning)
	}

	report := spam.Analyze(spam.Input{Subject: content.Subject, HTML: content.HTML, Text: content.Text})
	d.metrics.ObserveSpam(report.Score)
	if report.Rating != spam.RatingExcellent && report.Rating != spam.RatingGood {
		log.Warn("content spam risk", "campaign", cmp.ID, "score", report.Score, "summary", report.Summary())
	}

	msg := mailer.Message{
		To:                lead.Email,
		Subject:           content.Subject,
		HTML:              content.HTML,
		Text:              content.Text,
		CampaignID:        cmp.ID,
		LeadID:            lead.ID,
		UnsubscribeURL:    unsub,
		UnsubscribeMailto: d.opts.UnsubscribeMailto,
		FeedbackPrefix:    d.opts.FeedbackPrefix,
		InReplyTo:         cl.ThreadMessageID,
	}
	res, err := d.client.Send(ctx, acct, msg)
	if err != nil {
		return d.failed(ctx, accounts, acct, cmp, cl, lead, content, unsub, res, err)
	}

	set := d.record(ctx, acct, cl, lead, res)
	accounts.used(acct, res.SentAt)
	d.metrics.Sent(res.Transport)
	r := result{status: statusSent}
	if err := set.Fatal(); err != nil {
		log.Error("send bookkeeping failed", "lead", lead.ID, "campaign", cmp.ID, "error", err)
		r.fatal = true
	}
	return r
}

// account picks from the pool and confirms the pick is still active in
// storage. Accounts deactivated since the run began leave the pool.
func (d *Dispatcher) account(ctx context.Context, accounts *pool, provider domain.Provider, now time.Time) (*domain.SendingAccount, error) {
	for {
		acct := accounts.pick(provider, now)
		if acct == nil {
			return nil, nil
		}
		cur, err := d.repo.GetAccount(ctx, acct.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if err == nil && cur.Active {
			return acct, nil
		}
		log.Info("account deactivated during run", "account", acct.ID)
		accounts.disable(acct)
	}
}

// record applies the consequences of a successful send. Losing the queue row
// or the lead update could resend the message, so both are MustReact.
func (d *Dispatcher) record(ctx context.Context, acct *domain.SendingAccount, cl *domain.CampaignLead, lead *domain.Lead, res mailer.SendResult) outcome.Set {
	var set outcome.Set
	at := res.SentAt

	set.Add(outcome.Soft("event", d.repo.InsertEvent(ctx, &domain.EmailEvent{
		ID:         uuid.New().String(),
		LeadID:     lead.ID,
		AccountID:  acct.ID,
		CampaignID: cl.CampaignID,
		Type:       domain.EventSent,
		Details:    map[string]string{"message_id": res.MessageID, "transport": res.Transport},
		CreatedAt:  at,
	})))

	lead.EmailsSent++
	lead.LastEmailAt = &at
	set.Add(outcome.Hard("lead", d.repo.SaveLead(ctx, lead)))

	if cl.ThreadMessageID == "" {
		cl.ThreadMessageID = res.MessageID
	}
	cl.Step++
	cl.Status = domain.QueueSent
	cl.SkipReason = ""
	set.Add(outcome.Hard("queue", d.repo.SaveCampaignLead(ctx, cl)))

	set.Add(outcome.Soft("account_usage", d.repo.RecordAccountSend(ctx, acct.ID, at)))
	set.Add(outcome.Soft("campaign_counter", d.repo.IncrementCampaign(ctx, cl.CampaignID, domain.CounterSent, 1)))

	for _, f := range set.Failures() {
		log.Warn("send side effect failed", "lead", lead.ID, "op", f.Op, "kind", f.Kind.String(), "error", f.Err)
	}
	return set
}

func (d *Dispatcher) failed(ctx context.Context, accounts *pool, acct *domain.SendingAccount, cmp *domain.Campaign, cl *domain.CampaignLead,
	lead *domain.Lead, content render.Content, unsub string, res mailer.SendResult, err error) result {
	kind := res.Classification.Kind
	d.metrics.Failed(kind.String())

	if !kind.IsBounce() {
		if errors.Is(err, mailer.ErrSenderUnavailable) || errors.Is(err, mailer.ErrNoCredentials) {
			log.Warn("account unusable for this run", "account", acct.ID, "error", err)
			accounts.disable(acct)
		}
		wait := res.Backoff
		if wait <= 0 {
			wait = time.Minute
		}
		d.postpone(ctx, cl, DeferTransport, wait)
		return result{status: statusFailed, backoff: res.Backoff}
	}

	set := d.bounces.Handle(ctx, mailer.Bounce{
		LeadID:         lead.ID,
		CampaignID:     cmp.ID,
		AccountID:      acct.ID,
		Email:          lead.Email,
		Subject:        content.Subject,
		HTML:           content.HTML,
		UnsubscribeURL: unsub,
		Class:          res.Classification,
	})
	// Soft bounces are owned by the retry queue from here on.
	cl.Status = domain.QueueDeferred
	if kind == mailer.Hard || kind == mailer.PolicyReject {
		cl.Status = domain.QueueSkipped
	}
	cl.SkipReason = SkipBounce + ":" + kind.String()
	if err := d.repo.SaveCampaignLead(ctx, cl); err != nil {
		set.Add(outcome.Hard("queue", err))
	}
	r := result{status: statusBounced, backoff: res.Backoff}
	if err := set.Fatal(); err != nil {
		log.Error("bounce bookkeeping failed", "lead", lead.ID, "error", err)
		r.fatal = true
	}
	return r
}

// postpone keeps cl queued and pushes NextSendAt back by wait.
func (d *Dispatcher) postpone(ctx context.Context, cl *domain.CampaignLead, reason string, wait time.Duration) {
	d.metrics.Deferred(reason)
	cl.Status = domain.QueueQueued
	cl.NextSendAt = d.clock.Now().Add(wait)
	if err := d.repo.SaveCampaignLead(ctx, cl); err != nil {
		log.Warn("defer lead failed", "lead", cl.LeadID, "campaign", cl.CampaignID, "error", err)
	}
}

func (d *Dispatcher) skip(ctx context.Context, cl *domain.CampaignLead, reason string) {
	d.metrics.Skipped(reason)
	cl.Status = domain.QueueSkipped
	cl.SkipReason = reason
	if err := d.repo.SaveCampaignLead(ctx, cl); err != nil {
		log.Warn("skip lead failed", "lead", cl.LeadID, "campaign", cl.CampaignID, "error", err)
	}
}

func (d *Dispatcher) campaign(ctx context.Context, cache map[string]*domain.Campaign, id string) (*domain.Campaign, error) {
	if c, ok := cache[id]; ok {
		return c, nil
	}
	c, err := d.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = c
	return c, nil
}

func (d *Dispatcher) unsubscribeURL(leadID, campaignID string) string {
	if d.opts.UnsubscribeBaseURL == "" {
		return ""
	}
	u, err := url.Parse(d.opts.UnsubscribeBaseURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("lead", leadID)
	q.Set("campaign", campaignID)
	u.RawQuery = q.Encode()
	return u.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
