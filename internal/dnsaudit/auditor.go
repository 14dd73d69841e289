package dnsaudit

import (
	"context"
	"strings"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

// Options configures an Auditor.
type Options struct {
	// Selectors are probed for DKIM when a domain lists none.
	Selectors []string
	// DefaultIP is checked for PTR and SPF authorization when a domain
	// has no sending IP of its own.
	DefaultIP string
}

// Auditor runs the DNS checks of a domain.
type Auditor struct {
	r         resolver.Resolver
	selectors []string
	defaultIP string
	clock     clock.Clock
}

// New creates an Auditor.
func New(r resolver.Resolver, opts Options, c clock.Clock) *Auditor {
	sel := opts.Selectors
	if len(sel) == 0 {
		sel = DefaultSelectors
	}
	return &Auditor{r: r, selectors: sel, defaultIP: opts.DefaultIP, clock: clock.OrReal(c)}
}

// Audit checks d and returns a scored report. It never fails: lookup
// errors become unverified issues.
func (a *Auditor) Audit(ctx context.Context, d domain.SendingDomain) Report {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d.Name)), ".")
	ip := d.SendingIP
	if ip == "" {
		ip = a.defaultIP
	}
	r := Report{Domain: name, SendingIP: ip, CheckedAt: a.clock.Now()}
	r.SPF = a.checkSPF(ctx, name, ip)
	r.DKIM = a.checkDKIM(ctx, name, d.DKIMSelectors)
	r.DMARC = a.checkDMARC(ctx, name)
	r.PTR = a.checkPTR(ctx, ip)
	r.MX = a.checkMX(ctx, name)
	r.score()
	return r
}

// HealthCheck converts the report into its stored form.
func (r *Report) HealthCheck(id string) *domain.DNSHealthCheck {
	hc := &domain.DNSHealthCheck{
		ID:        id,
		Domain:    r.Domain,
		Score:     r.Score,
		Rating:    string(r.Rating),
		Issues:    []string{},
		Details:   map[string]string{},
		CheckedAt: r.CheckedAt,
	}
	for _, is := range r.Issues() {
		hc.Issues = append(hc.Issues, "["+string(is.Severity)+"] "+is.Check+": "+is.Message)
	}
	for _, c := range []*Check{&r.SPF, &r.DKIM, &r.DMARC, &r.PTR, &r.MX} {
		if c.Record != "" {
			hc.Details[c.Name+".record"] = c.Record
		}
		for k, v := range c.Details {
			hc.Details[c.Name+"."+k] = v
		}
	}
	return hc
}
