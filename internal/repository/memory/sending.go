package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

func (s *Store) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// GetLeads returns the leads that exist among ids, in input order.
func (s *Store) GetLeads(_ context.Context, ids []string) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lead, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.leads[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *Store) FindLeadByEmail(_ context.Context, email string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if strings.EqualFold(l.Email, email) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) SaveLead(_ context.Context, l *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[l.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *l
	s.leads[l.ID] = &cp
	return nil
}

// ListLeads pages leads with status (all when empty) ordered by id.
func (s *Store) ListLeads(_ context.Context, status domain.LeadStatus, afterID string, limit int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if (status == "" || l.Status == status) && l.ID > afterID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateEngagementScore(_ context.Context, leadID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return repository.ErrNotFound
	}
	l.EngagementScore = score
	return nil
}

func (s *Store) PauseEnrollments(_ context.Context, leadID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.enrollments {
		if e.LeadID == leadID && e.Status == domain.EnrollmentActive {
			e.Status = domain.EnrollmentPaused
			e.PausedReason = reason
			n++
		}
	}
	return n, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.SendingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context, activeOnly bool) ([]domain.SendingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.SendingAccount{}
	for _, a := range s.accounts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetAccountActive(_ context.Context, id string, active bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Active = active
	a.DeactivatedReason = reason
	if active {
		a.DeactivatedReason = ""
	}
	return nil
}

func (s *Store) UpdateWarmupPhase(_ context.Context, accountID string, phase int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	a.WarmupPhase = phase
	return nil
}

// ResetDailyCounters zeroes the sent counter of every account whose counter
// belongs to an earlier day.
func (s *Store) ResetDailyCounters(_ context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.accounts {
		if a.SentTodayDate != day {
			a.SentToday = 0
			a.SentTodayDate = day
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordAccountSend(_ context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	day := at.UTC().Format("2006-01-02")
	if a.SentTodayDate != day {
		a.SentToday = 0
		a.SentTodayDate = day
	}
	a.SentToday++
	t := at
	a.LastUsedAt = &t
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListCampaigns returns campaigns with status (all when empty) ordered by id.
func (s *Store) ListCampaigns(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Campaign{}
	for _, c := range s.campaigns {
		if status == "" || c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PauseCampaign(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = domain.CampaignPaused
	c.PausedReason = reason
	return nil
}

func (s *Store) IncrementCampaign(_ context.Context, id string, counter domain.CampaignCounter, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	switch counter {
	case domain.CounterSent:
		c.Sent += n
	case domain.CounterBounced:
		c.Bounced += n
	case domain.CounterUnsubscribed:
		c.Unsubscribed += n
	case domain.CounterComplaints:
		c.Complaints += n
	}
	return nil
}

func (s *Store) DueCampaignLeads(_ context.Context, now time.Time, limit int) ([]domain.CampaignLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CampaignLead
	for _, cl := range s.queue {
		c, ok := s.campaigns[cl.CampaignID]
		if !ok || c.Status != domain.CampaignActive {
			continue
		}
		if cl.Status == domain.QueueQueued && !cl.NextSendAt.After(now) {
			out = append(out, *cl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextSendAt.Equal(out[j].NextSendAt) {
			return out[i].NextSendAt.Before(out[j].NextSendAt)
		}
		return queueKey(out[i].CampaignID, out[i].LeadID) < queueKey(out[j].CampaignID, out[j].LeadID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveCampaignLead(_ context.Context, cl *domain.CampaignLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cl
	s.queue[queueKey(cl.CampaignID, cl.LeadID)] = &cp
	return nil
}

func (s *Store) InsertSoftBounce(_ context.Context, sb *domain.SoftBounce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sb.ID == "" {
		sb.ID = s.nextID("sb")
	}
	cp := *sb
	s.softBounces[sb.ID] = &cp
	return nil
}

func (s *Store) DueSoftBounces(_ context.Context, now time.Time, limit int) ([]domain.SoftBounce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SoftBounce
	for _, sb := range s.softBounces {
		if !sb.NextRetry.After(now) {
			out = append(out, *sb)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRetry.Equal(out[j].NextRetry) {
			return out[i].NextRetry.Before(out[j].NextRetry)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateSoftBounce(_ context.Context, sb *domain.SoftBounce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.softBounces[sb.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *sb
	s.softBounces[sb.ID] = &cp
	return nil
}

func (s *Store) DeleteSoftBounce(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.softBounces, id)
	return nil
}
