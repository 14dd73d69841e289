package mailer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/engagement"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
)

// BounceRepository is the storage used to apply bounce consequences.
type BounceRepository interface {
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	SaveLead(ctx context.Context, l *domain.Lead) error
	IncrementCampaign(ctx context.Context, id string, counter domain.CampaignCounter, n int) error
	InsertEvent(ctx context.Context, e *domain.EmailEvent) error
	InsertSoftBounce(ctx context.Context, sb *domain.SoftBounce) error
}

// Bounce is a classified rejection of one message.
type Bounce struct {
	LeadID         string
	CampaignID     string
	AccountID      string
	Email          string
	Subject        string
	HTML           string
	UnsubscribeURL string
	Class          Classification
}

// BounceHandler applies lead, campaign and event consequences of bounces.
type BounceHandler struct {
	repo       BounceRepository
	firstRetry time.Duration
	clock      clock.Clock
}

// NewBounceHandler creates a handler. firstRetry is when a soft bounce is
// first retried.
func NewBounceHandler(repo BounceRepository, firstRetry time.Duration, c clock.Clock) *BounceHandler {
	if firstRetry <= 0 {
		firstRetry = time.Hour
	}
	return &BounceHandler{repo: repo, firstRetry: firstRetry, clock: clock.OrReal(c)}
}

// Handle records the bounce. Failing to persist a hard bounce on the lead
// is MustReact: the lead would otherwise stay eligible.
func (h *BounceHandler) Handle(ctx context.Context, b Bounce) outcome.Set {
	var set outcome.Set
	if !b.Class.Kind.IsBounce() {
		return *set.Add(outcome.OK("bounce.transport_failure"))
	}
	now := h.clock.Now()
	hard := b.Class.Kind == Hard || b.Class.Kind == PolicyReject

	lead, err := h.repo.GetLead(ctx, b.LeadID)
	if err != nil {
		if hard {
			return *set.Add(outcome.Hard("bounce.load_lead", err))
		}
		return *set.Add(outcome.Soft("bounce.load_lead", err))
	}

	lead.BounceCount++
	lead.LastBounceAt = &now
	if hard {
		lead.BounceType = domain.BounceHard
		lead.Status = domain.LeadBounced
		lead.EngagementScore = engagement.Apply(lead.EngagementScore, domain.EventBounced, domain.BounceHard)
	} else {
		if lead.BounceType != domain.BounceHard {
			lead.BounceType = domain.BounceSoft
		}
		lead.EngagementScore = engagement.Apply(lead.EngagementScore, domain.EventBounced, domain.BounceSoft)
	}
	if err := h.repo.SaveLead(ctx, lead); err != nil {
		if hard {
			set.Add(outcome.Hard("bounce.save_lead", err))
		} else {
			set.Add(outcome.Soft("bounce.save_lead", err))
		}
	} else {
		set.Add(outcome.OK("bounce.save_lead"))
	}

	if b.CampaignID != "" {
		if err := h.repo.IncrementCampaign(ctx, b.CampaignID, domain.CounterBounced, 1); err != nil {
			set.Add(outcome.Soft("bounce.campaign_counter", err))
		}
	}

	if !hard {
		sb := &domain.SoftBounce{
			LeadID:         lead.ID,
			CampaignID:     b.CampaignID,
			AccountID:      b.AccountID,
			Email:          firstNonEmpty(b.Email, lead.Email),
			Subject:        b.Subject,
			HTML:           b.HTML,
			UnsubscribeURL: b.UnsubscribeURL,
			NextRetry:      now.Add(h.firstRetry),
			Error:          b.Class.Reason,
			CreatedAt:      now,
		}
		if err := h.repo.InsertSoftBounce(ctx, sb); err != nil {
			set.Add(outcome.Soft("bounce.enqueue_retry", err))
		}
	}

	ev := &domain.EmailEvent{
		LeadID:     lead.ID,
		AccountID:  b.AccountID,
		CampaignID: b.CampaignID,
		Type:       domain.EventBounced,
		Details:    bounceDetails(b.Class),
		CreatedAt:  now,
	}
	if err := h.repo.InsertEvent(ctx, ev); err != nil {
		set.Add(outcome.Soft("bounce.event", err))
	}

	for _, f := range set.Failures() {
		log.Warn("bounce side effect failed", "lead", lead.ID, "op", f.Op, "kind", f.Kind.String(), "error", f.Err.Error())
	}
	return set
}

func bounceDetails(c Classification) map[string]string {
	d := map[string]string{"kind": c.Kind.String()}
	if c.Code != 0 {
		d["code"] = strconv.Itoa(c.Code)
	}
	if c.Enhanced != "" {
		d["enhanced"] = c.Enhanced
	}
	if c.Reason != "" {
		d["reason"] = truncate(c.Reason, 500)
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Exhausted returns a hard classification for a soft bounce whose retries
// ran out.
func Exhausted(last Classification, retries int) Classification {
	return Classification{
		Kind:     Hard,
		Code:     last.Code,
		Enhanced: last.Enhanced,
		Reason:   fmt.Sprintf("soft bounce persisted after %d retries: %s", retries, last.Reason),
	}
}
