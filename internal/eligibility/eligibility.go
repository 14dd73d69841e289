// Package eligibility decides whether a lead may receive the next email.
//
// Checks run in a fixed order and stop at the first failure, so the skip
// reason always names the most serious problem.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

// Reason is why a lead was skipped.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotFound        Reason = "not_found"
	ReasonUnsubscribed    Reason = "unsubscribed"
	ReasonComplained      Reason = "complained"
	ReasonReplied         Reason = "replied"
	ReasonHardBounce      Reason = "hard_bounce"
	ReasonBadVerification Reason = "bad_verification"
	ReasonRoleAddress     Reason = "role_address"
	ReasonDisengaged      Reason = "disengaged"
	ReasonFrequencyCap    Reason = "frequency_cap"
)

// Thresholds.
const (
	MaxBounces        = 3
	DisengagedAfter   = 60 * 24 * time.Hour
	DisengagedMinSent = 5
	MinGap            = 24 * time.Hour
)

var roleLocalParts = map[string]bool{
	"info": true, "admin": true, "noreply": true, "no-reply": true, "support": true,
	"sales": true, "contact": true, "billing": true, "help": true, "webmaster": true,
	"postmaster": true, "abuse": true, "hostmaster": true, "marketing": true, "hr": true,
	"jobs": true, "office": true, "team": true, "hello": true, "mailer-daemon": true,
	"donotreply": true, "do-not-reply": true, "privacy": true, "legal": true,
	"security": true, "newsletter": true,
}

// Result is the outcome of one check.
type Result struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason,omitempty"`
}

// IsRoleAddress reports whether the local part is a shared mailbox name.
func IsRoleAddress(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	local := strings.ToLower(email[:at])
	if i := strings.IndexByte(local, '+'); i > 0 {
		local = local[:i]
	}
	return roleLocalParts[local]
}

// Check evaluates a lead at now. A nil lead is not_found.
func Check(l *domain.Lead, now time.Time) Result {
	reason := check(l, now)
	return Result{Eligible: reason == ReasonNone, Reason: reason}
}

// Suppressed runs only the checks that rule a lead out for good, ignoring
// engagement and pacing. It returns ReasonNone when none apply.
func Suppressed(l *domain.Lead) Reason {
	if l == nil {
		return ReasonNotFound
	}
	if l.Unsubscribed || l.Status == domain.LeadUnsubscribed {
		return ReasonUnsubscribed
	}
	if l.ComplainedAt != nil || l.Status == domain.LeadComplained {
		return ReasonComplained
	}
	if l.Status == domain.LeadReplied {
		return ReasonReplied
	}
	if l.BounceType == domain.BounceHard || l.BounceCount >= MaxBounces {
		return ReasonHardBounce
	}
	switch l.VerifyResult {
	case domain.VerifyInvalid, domain.VerifyDisposable, domain.VerifyCatchAll:
		return ReasonBadVerification
	}
	return ReasonNone
}

func check(l *domain.Lead, now time.Time) Reason {
	if r := Suppressed(l); r != ReasonNone {
		return r
	}
	if IsRoleAddress(l.Email) {
		return ReasonRoleAddress
	}
	if l.EmailsSent >= DisengagedMinSent {
		if l.LastEngagedAt == nil || now.Sub(*l.LastEngagedAt) > DisengagedAfter {
			return ReasonDisengaged
		}
	}
	if l.LastEmailAt != nil && now.Sub(*l.LastEmailAt) < MinGap {
		return ReasonFrequencyCap
	}
	return ReasonNone
}

// Skip records a skipped lead.
type Skip struct {
	LeadID string `json:"lead_id"`
	Reason Reason `json:"reason"`
}

// Partition is the result of a batch check.
type Partition struct {
	Eligible []domain.Lead `json:"eligible"`
	Skipped  []Skip        `json:"skipped"`
}

// LeadLoader loads leads by id. Missing ids are simply absent from the
// result.
type LeadLoader interface {
	GetLeads(ctx context.Context, ids []string) ([]domain.Lead, error)
}

// Filter runs batch checks against a store.
type Filter struct {
	leads LeadLoader
}

// NewFilter creates a Filter.
func NewFilter(leads LeadLoader) *Filter { return &Filter{leads: leads} }

// Batch loads ids and partitions them, preserving input order.
func (f *Filter) Batch(ctx context.Context, ids []string, now time.Time) (Partition, error) {
	leads, err := f.leads.GetLeads(ctx, ids)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Partition{}, fmt.Errorf("load leads: %w", err)
	}
	byID := make(map[string]*domain.Lead, len(leads))
	for i := range leads {
		byID[leads[i].ID] = &leads[i]
	}
	return partition(ids, byID, now), nil
}

// Split partitions already-loaded leads.
func Split(leads []domain.Lead, now time.Time) Partition {
	ids := make([]string, len(leads))
	byID := make(map[string]*domain.Lead, len(leads))
	for i := range leads {
		ids[i] = leads[i].ID
		byID[leads[i].ID] = &leads[i]
	}
	return partition(ids, byID, now)
}

func partition(ids []string, byID map[string]*domain.Lead, now time.Time) Partition {
	p := Partition{Eligible: []domain.Lead{}, Skipped: []Skip{}}
	for _, id := range ids {
		l := byID[id]
		if r := Check(l, now); r.Eligible {
			p.Eligible = append(p.Eligible, *l)
		} else {
			p.Skipped = append(p.Skipped, Skip{LeadID: id, Reason: r.Reason})
		}
	}
	return p
}
