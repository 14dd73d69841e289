package analytics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
)

var log = logger.For("analytics")

// Ceilings are the campaign auto-pause limits in percent.
type Ceilings struct {
	MinSends       int
	MaxBounce      float64
	MaxUnsubscribe float64
	MaxComplaint   float64
}

// DefaultCeilings pause at 5% bounces, 2% unsubscribes or 0.3% complaints
// once a campaign has 20 sends.
var DefaultCeilings = Ceilings{MinSends: 20, MaxBounce: 5, MaxUnsubscribe: 2, MaxComplaint: 0.3}

func (c Ceilings) withDefaults() Ceilings {
	if c.MinSends <= 0 {
		c.MinSends = DefaultCeilings.MinSends
	}
	if c.MaxBounce <= 0 {
		c.MaxBounce = DefaultCeilings.MaxBounce
	}
	if c.MaxUnsubscribe <= 0 {
		c.MaxUnsubscribe = DefaultCeilings.MaxUnsubscribe
	}
	if c.MaxComplaint <= 0 {
		c.MaxComplaint = DefaultCeilings.MaxComplaint
	}
	return c
}

// Breach returns the pause reason for a campaign, or "" when it is healthy
// or has too few sends to judge.
func (c Ceilings) Breach(cmp *domain.Campaign) string {
	c = c.withDefaults()
	if cmp.Sent < c.MinSends {
		return ""
	}
	bounce := Rate(cmp.Bounced, cmp.Sent)
	complaint := Rate(cmp.Complaints, cmp.Sent)
	unsub := Rate(cmp.Unsubscribed, cmp.Sent)
	switch {
	case bounce > c.MaxBounce:
		return fmt.Sprintf("bounce rate %.2f%% exceeds %.2f%%", bounce, c.MaxBounce)
	case complaint > c.MaxComplaint:
		return fmt.Sprintf("complaint rate %.2f%% exceeds %.2f%%", complaint, c.MaxComplaint)
	case unsub > c.MaxUnsubscribe:
		return fmt.Sprintf("unsubscribe rate %.2f%% exceeds %.2f%%", unsub, c.MaxUnsubscribe)
	}
	return ""
}

// CampaignRepository is the storage used by CampaignHealth.
type CampaignRepository interface {
	ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	PauseCampaign(ctx context.Context, id, reason string) error
	InsertAudit(ctx context.Context, e *domain.AuditEntry) error
}

// PausedCampaign is one auto-pause decision.
type PausedCampaign struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// HealthReport summarizes one CampaignHealth pass.
type HealthReport struct {
	Checked  int              `json:"checked"`
	Paused   []PausedCampaign `json:"paused"`
	Failures int              `json:"failures"`
}

// CampaignHealth pauses active campaigns that breach their ceilings.
type CampaignHealth struct {
	repo     CampaignRepository
	ceilings Ceilings
	clock    clock.Clock
}

func NewCampaignHealth(repo CampaignRepository, ceilings Ceilings, c clock.Clock) *CampaignHealth {
	return &CampaignHealth{repo: repo, ceilings: ceilings.withDefaults(), clock: clock.OrReal(c)}
}

// Check evaluates every active campaign. One campaign failing to pause does
// not stop the others.
func (h *CampaignHealth) Check(ctx context.Context) (HealthReport, error) {
	var rep HealthReport
	campaigns, err := h.repo.ListCampaigns(ctx, domain.CampaignActive)
	if err != nil {
		return rep, fmt.Errorf("list active campaigns: %w", err)
	}
	for i := range campaigns {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		c := &campaigns[i]
		rep.Checked++
		reason := h.ceilings.Breach(c)
		if reason == "" {
			continue
		}
		if err := h.repo.PauseCampaign(ctx, c.ID, reason); err != nil {
			rep.Failures++
			log.Error("campaign auto-pause failed", "campaign", c.ID, "error", err)
			continue
		}
		audit := &domain.AuditEntry{
			ID:     uuid.New().String(),
			Action: domain.AuditCampaignPause,
			Actor:  "campaign_health",
			Details: map[string]string{
				"campaign_id": c.ID,
				"reason":      reason,
				"sent":        strconv.Itoa(c.Sent),
			},
			CreatedAt: h.clock.Now(),
		}
		if o := outcome.Soft("audit", h.repo.InsertAudit(ctx, audit)); o.Failed() {
			log.Warn("audit insert failed", "campaign", c.ID, "error", o.Err)
		}
		log.Warn("campaign auto-paused", "campaign", c.ID, "reason", reason)
		rep.Paused = append(rep.Paused, PausedCampaign{CampaignID: c.ID, Name: c.Name, Reason: reason})
	}
	return rep, nil
}
