// Package memory is an in-process store implementing every repository
// interface of the engine. It backs scenario tests and local runs without
// PostgreSQL. Values are copied on the way in and out.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

// Store holds all engine state in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	leads       map[string]*domain.Lead
	accounts    map[string]*domain.SendingAccount
	campaigns   map[string]*domain.Campaign
	queue       map[string]*domain.CampaignLead // campaign_id/lead_id
	enrollments map[string]*domain.SequenceEnrollment
	domains     map[string]*domain.SendingDomain
	softBounces map[string]*domain.SoftBounce
	snapshots   map[string]*domain.DeliverabilitySnapshot
	replies     map[string]*domain.Reply

	events     []domain.EmailEvent
	audits     []domain.AuditEntry
	blacklists []domain.BlacklistCheck
	dnsChecks  []domain.DNSHealthCheck

	pause domain.PauseState
	seq   int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		leads:       map[string]*domain.Lead{},
		accounts:    map[string]*domain.SendingAccount{},
		campaigns:   map[string]*domain.Campaign{},
		queue:       map[string]*domain.CampaignLead{},
		enrollments: map[string]*domain.SequenceEnrollment{},
		domains:     map[string]*domain.SendingDomain{},
		softBounces: map[string]*domain.SoftBounce{},
		snapshots:   map[string]*domain.DeliverabilitySnapshot{},
		replies:     map[string]*domain.Reply{},
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// nextID must be called with s.mu held.
func (s *Store) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func queueKey(campaignID, leadID string) string { return campaignID + "/" + leadID }

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PutLead inserts or replaces a lead.
func (s *Store) PutLead(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = &l
}

// PutAccount inserts or replaces a sending account.
func (s *Store) PutAccount(a domain.SendingAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = &a
}

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = &c
}

// PutDomain inserts or replaces a sending domain.
func (s *Store) PutDomain(d domain.SendingDomain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.DKIMSelectors = append([]string(nil), d.DKIMSelectors...)
	s.domains[d.Name] = &d
}

// PutEnrollment inserts or replaces a sequence enrollment.
func (s *Store) PutEnrollment(e domain.SequenceEnrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[e.ID] = &e
}

// Enqueue adds a lead to a campaign queue.
func (s *Store) Enqueue(cl domain.CampaignLead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl.Status == "" {
		cl.Status = domain.QueueQueued
	}
	s.queue[queueKey(cl.CampaignID, cl.LeadID)] = &cl
}

// CampaignLead returns one queue row.
func (s *Store) CampaignLead(campaignID, leadID string) (domain.CampaignLead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.queue[queueKey(campaignID, leadID)]
	if !ok {
		return domain.CampaignLead{}, false
	}
	return *cl, true
}

// Enrollment returns one sequence enrollment.
func (s *Store) Enrollment(id string) (domain.SequenceEnrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return domain.SequenceEnrollment{}, false
	}
	return *e, true
}

// Events returns the event log, optionally filtered by type.
func (s *Store) Events(types ...domain.EventType) []domain.EmailEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EmailEvent
	for _, e := range s.events {
		if len(types) == 0 || containsType(types, e.Type) {
			e.Details = copyMap(e.Details)
			out = append(out, e)
		}
	}
	return out
}

func containsType(types []domain.EventType, t domain.EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// Audits returns the audit log.
func (s *Store) Audits() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.audits...)
}

// SoftBounces returns the retry queue ordered by id.
func (s *Store) SoftBounces() []domain.SoftBounce {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SoftBounce, 0, len(s.softBounces))
	for _, sb := range s.softBounces {
		out = append(out, *sb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BlacklistChecks returns the stored scan results.
func (s *Store) BlacklistChecks() []domain.BlacklistCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BlacklistCheck(nil), s.blacklists...)
}

// DNSHealthChecks returns the stored audit results.
func (s *Store) DNSHealthChecks() []domain.DNSHealthCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DNSHealthCheck(nil), s.dnsChecks...)
}

// Replies returns the stored replies.
func (s *Store) Replies() []domain.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reply, 0, len(s.replies))
	for _, r := range s.replies {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

func (s *Store) GetPauseState(context.Context) (domain.PauseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pause, nil
}

func (s *Store) SetPauseState(_ context.Context, p domain.PauseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pause = p
	return nil
}

func (s *Store) InsertAudit(_ context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = s.nextID("audit")
	}
	cp := *e
	cp.Details = copyMap(e.Details)
	s.audits = append(s.audits, cp)
	return nil
}

func (s *Store) ListDomains(_ context.Context, activeOnly bool) ([]domain.SendingDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.SendingDomain{}
	for _, d := range s.domains {
		if activeOnly && !d.Active {
			continue
		}
		cp := *d
		cp.DKIMSelectors = append([]string(nil), d.DKIMSelectors...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetDomain returns one sending domain by name.
func (s *Store) GetDomain(_ context.Context, name string) (*domain.SendingDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	cp.DKIMSelectors = append([]string(nil), d.DKIMSelectors...)
	return &cp, nil
}

func (s *Store) InsertBlacklistCheck(_ context.Context, c *domain.BlacklistCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.nextID("bl")
	}
	cp := *c
	cp.Listings = append([]domain.Listing(nil), c.Listings...)
	s.blacklists = append(s.blacklists, cp)
	return nil
}

func (s *Store) InsertDNSHealthCheck(_ context.Context, c *domain.DNSHealthCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.nextID("dns")
	}
	cp := *c
	cp.Issues = append([]string(nil), c.Issues...)
	cp.Details = copyMap(c.Details)
	s.dnsChecks = append(s.dnsChecks, cp)
	return nil
}

func (s *Store) UpsertSnapshot(_ context.Context, snap *domain.DeliverabilitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snapshots[snap.Date] = &cp
	return nil
}

func (s *Store) ListSnapshots(_ context.Context, from, to string) ([]domain.DeliverabilitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.DeliverabilitySnapshot{}
	for date, snap := range s.snapshots {
		if date >= from && date <= to {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) InsertEvent(_ context.Context, e *domain.EmailEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = s.nextID("ev")
	}
	cp := *e
	cp.Details = copyMap(e.Details)
	s.events = append(s.events, cp)
	return nil
}

// CountEvents counts events with from <= CreatedAt < to by type.
func (s *Store) CountEvents(_ context.Context, from, to time.Time) (map[domain.EventType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.EventType]int{}
	for _, e := range s.events {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out[e.Type]++
		}
	}
	return out, nil
}

func (s *Store) AccountEventCounts(_ context.Context, accountID string, since time.Time) (map[domain.EventType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.EventType]int{}
	for _, e := range s.events {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			out[e.Type]++
		}
	}
	return out, nil
}

func (s *Store) ReplyExists(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.replies[messageID]
	return ok, nil
}

func (s *Store) InsertReply(_ context.Context, r *domain.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[r.MessageID]; ok {
		return repository.ErrDuplicate
	}
	cp := *r
	s.replies[r.MessageID] = &cp
	return nil
}
