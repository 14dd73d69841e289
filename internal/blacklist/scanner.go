package blacklist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

var loopback = net.IPNet{IP: net.IPv4(127, 0, 0, 0), Mask: net.CIDRMask(8, 32)}

// Result is the scan of one target.
type Result struct {
	Target      string           `json:"target"`
	TargetType  Kind             `json:"target_type"`
	Listings    []domain.Listing `json:"listings"`
	Errors      []string         `json:"errors,omitempty"`
	Score       int              `json:"score"`
	CriticalHit bool             `json:"critical_hit"`
	CheckedAt   time.Time        `json:"checked_at"`
}

// Listed reports whether any zone lists the target.
func (r *Result) Listed() bool { return len(r.Listings) > 0 }

// Check converts the result into its stored form.
func (r *Result) Check(id string) *domain.BlacklistCheck {
	listings := r.Listings
	if listings == nil {
		listings = []domain.Listing{}
	}
	return &domain.BlacklistCheck{
		ID:          id,
		Target:      r.Target,
		TargetType:  string(r.TargetType),
		Listed:      r.Listed(),
		Listings:    listings,
		Score:       r.Score,
		CriticalHit: r.CriticalHit,
		CheckedAt:   r.CheckedAt,
	}
}

// Score is 100 minus the tier penalty of each listing, floored at 0.
func Score(listings []domain.Listing) int {
	score := 100
	for _, l := range listings {
		score -= Tier(l.Tier).Penalty()
	}
	if score < 0 {
		return 0
	}
	return score
}

// Scanner queries DNSBL zones.
type Scanner struct {
	r           resolver.Resolver
	lists       []List
	concurrency int
	clock       clock.Clock
}

// NewScanner creates a Scanner. Nil lists selects DefaultLists.
func NewScanner(r resolver.Resolver, lists []List, concurrency int, c clock.Clock) *Scanner {
	if lists == nil {
		lists = DefaultLists
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scanner{r: r, lists: lists, concurrency: concurrency, clock: clock.OrReal(c)}
}

// ScanIP checks an IPv4 address against every IP zone.
func (s *Scanner) ScanIP(ctx context.Context, ip string) (Result, error) {
	rev, err := resolver.ReverseIPv4(ip)
	if err != nil {
		return Result{}, err
	}
	return s.scan(ctx, ip, KindIP, rev), nil
}

// ScanDomain checks a domain against every domain zone.
func (s *Scanner) ScanDomain(ctx context.Context, name string) (Result, error) {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	if name == "" {
		return Result{}, errors.New("empty domain")
	}
	return s.scan(ctx, name, KindDomain, name), nil
}

func (s *Scanner) scan(ctx context.Context, target string, kind Kind, label string) Result {
	res := Result{Target: target, TargetType: kind, Listings: []domain.Listing{}, CheckedAt: s.clock.Now()}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, l := range listsOf(s.lists, kind) {
		g.Go(func() error {
			listing, err := s.query(gctx, label, l)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Errors = append(res.Errors, l.Zone+": "+err.Error())
			case listing != nil:
				res.Listings = append(res.Listings, *listing)
				if l.Tier == TierCritical {
					res.CriticalHit = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Listings, func(i, j int) bool { return res.Listings[i].Zone < res.Listings[j].Zone })
	sort.Strings(res.Errors)
	res.Score = Score(res.Listings)
	return res
}

// query returns a listing, nil when the target is clean, or an error when
// the zone could not answer. 127.255.255.x answers mean the zone refused
// the query.
func (s *Scanner) query(ctx context.Context, label string, l List) (*domain.Listing, error) {
	name := label + "." + l.Zone
	ips, err := s.r.LookupA(ctx, name)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil || !loopback.Contains(v4) {
			continue
		}
		if v4[1] == 255 && v4[2] == 255 {
			return nil, fmt.Errorf("query refused (%s)", v4)
		}
		listing := &domain.Listing{
			Zone:        l.Zone,
			Tier:        string(l.Tier),
			Answer:      v4.String(),
			AutoExpires: l.AutoExpires,
			RemovalURL:  l.RemovalURL,
		}
		if txts, err := s.r.LookupTXT(ctx, name); err == nil && len(txts) > 0 {
			listing.Reason = txts[0]
		}
		return listing, nil
	}
	return nil, fmt.Errorf("unexpected answer %v", ips)
}
