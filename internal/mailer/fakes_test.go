package mailer

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

type fakeRepo struct {
	mu          sync.Mutex
	leads       map[string]*domain.Lead
	accounts    map[string]*domain.SendingAccount
	counters    map[string]int
	events      []domain.EmailEvent
	softBounces map[string]*domain.SoftBounce
	pause       domain.PauseState
	pauseErr    error
	// pauseAfter reports the pause flag set once it has been read that
	// many times.
	pauseAfter   int
	pauseReads   int
	accountSends []string
	saveErr      error
	seq          int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		leads:       map[string]*domain.Lead{},
		accounts:    map[string]*domain.SendingAccount{},
		counters:    map[string]int{},
		softBounces: map[string]*domain.SoftBounce{},
	}
}

func (r *fakeRepo) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeRepo) SaveLead(_ context.Context, l *domain.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *l
	r.leads[l.ID] = &cp
	return nil
}

func (r *fakeRepo) IncrementCampaign(_ context.Context, id string, c domain.CampaignCounter, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[id+"/"+string(c)] += n
	return nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, e *domain.EmailEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *fakeRepo) InsertSoftBounce(_ context.Context, sb *domain.SoftBounce) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if sb.ID == "" {
		sb.ID = "sb" + strconv.Itoa(r.seq)
	}
	cp := *sb
	r.softBounces[sb.ID] = &cp
	return nil
}

func (r *fakeRepo) DueSoftBounces(_ context.Context, now time.Time, limit int) ([]domain.SoftBounce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SoftBounce
	for _, sb := range r.softBounces {
		if !sb.NextRetry.After(now) {
			out = append(out, *sb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) UpdateSoftBounce(_ context.Context, sb *domain.SoftBounce) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.softBounces[sb.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *sb
	r.softBounces[sb.ID] = &cp
	return nil
}

func (r *fakeRepo) DeleteSoftBounce(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.softBounces, id)
	return nil
}

func (r *fakeRepo) GetAccount(_ context.Context, id string) (*domain.SendingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListAccounts(_ context.Context, activeOnly bool) ([]domain.SendingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SendingAccount
	for _, a := range r.accounts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) GetPauseState(context.Context) (domain.PauseState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseReads++
	if r.pauseAfter > 0 && r.pauseReads > r.pauseAfter {
		return domain.PauseState{Paused: true, Reason: "blacklisted"}, nil
	}
	return r.pause, r.pauseErr
}

func (r *fakeRepo) RecordAccountSend(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	day := at.UTC().Format("2006-01-02")
	if a.SentTodayDate != day {
		a.SentToday, a.SentTodayDate = 0, day
	}
	a.SentToday++
	r.accountSends = append(r.accountSends, id)
	return nil
}

func (r *fakeRepo) eventsOf(t domain.EventType) []domain.EmailEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EmailEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// scriptedTransport returns queued errors in order, then succeeds.
type scriptedTransport struct {
	mu    sync.Mutex
	errs  []error
	sent  []Envelope
	raw   [][]byte
	pass  []string
	calls int
}

func (s *scriptedTransport) Send(_ context.Context, _ *domain.SendingAccount, password string, env Envelope, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.pass = append(s.pass, password)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.sent = append(s.sent, env)
	s.raw = append(s.raw, raw)
	return nil
}

func (s *scriptedTransport) Name() string { return "scripted" }
func (s *scriptedTransport) Close() error { return nil }

type countingRecorder struct {
	successes, errors int
}

func (c *countingRecorder) RecordSuccess() { c.successes++ }
func (c *countingRecorder) RecordError() time.Duration {
	c.errors++
	return 5 * time.Second
}

var errBoom = errors.New("boom")
