package dispatch

import (
	"sort"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/warmup"
)

// pool is the set of sending accounts for one run. Usage is tracked in
// memory so quotas hold within the run.
type pool struct {
	accounts []*domain.SendingAccount
	disabled map[string]bool
}

func newPool(accts []domain.SendingAccount) *pool {
	p := &pool{disabled: map[string]bool{}}
	for i := range accts {
		if accts[i].Active {
			p.accounts = append(p.accounts, &accts[i])
		}
	}
	return p
}

func (p *pool) empty() bool { return len(p.accounts) == 0 }

// pick returns the account to send from: provider matches first, then the
// least recently used.
func (p *pool) pick(provider domain.Provider, now time.Time) *domain.SendingAccount {
	var candidates []*domain.SendingAccount
	for _, a := range p.accounts {
		if !p.disabled[a.ID] && warmup.Usable(a, now) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		am, bm := a.Provider == provider, b.Provider == provider
		if am != bm {
			return am
		}
		if !lastUsed(a).Equal(lastUsed(b)) {
			return lastUsed(a).Before(lastUsed(b))
		}
		return a.ID < b.ID
	})
	return candidates[0]
}

func lastUsed(a *domain.SendingAccount) time.Time {
	if a.LastUsedAt == nil {
		return time.Time{}
	}
	return *a.LastUsedAt
}

// used records a send from a.
func (p *pool) used(a *domain.SendingAccount, at time.Time) {
	day := at.UTC().Format("2006-01-02")
	if a.SentTodayDate != day {
		a.SentToday = 0
		a.SentTodayDate = day
	}
	a.SentToday++
	t := at
	a.LastUsedAt = &t
}

// disable removes a for the rest of the run.
func (p *pool) disable(a *domain.SendingAccount) {
	p.disabled[a.ID] = true
}
