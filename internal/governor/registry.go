package governor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

// Registry maps recipient domains to provider groups using a static alias
// table and, for custom domains, the suffix of their MX hosts.
type Registry struct {
	static   map[string]domain.Provider
	resolver resolver.Resolver
	clock    clock.Clock
	mxCache  sync.Map // domain -> cacheEntry
	cacheTTL time.Duration
	timeout  time.Duration
}

type cacheEntry struct {
	provider  domain.Provider
	expiresAt time.Time
}

// NewRegistry creates a registry. A nil resolver disables MX fallback so
// unknown domains classify as "other".
func NewRegistry(r resolver.Resolver, c clock.Clock) *Registry {
	reg := &Registry{
		static:   make(map[string]domain.Provider),
		resolver: r,
		clock:    clock.OrReal(c),
		cacheTTL: time.Hour,
		timeout:  3 * time.Second,
	}
	reg.seed()
	return reg
}

func (r *Registry) seed() {
	groups := map[domain.Provider][]string{
		domain.ProviderGmail: {"gmail.com", "googlemail.com"},
		domain.ProviderMicrosoft: {
			"outlook.com", "hotmail.com", "live.com", "msn.com", "passport.com",
			"hotmail.co.uk", "outlook.co.uk", "live.co.uk",
		},
		domain.ProviderYahoo: {
			"yahoo.com", "yahoo.co.uk", "yahoo.co.jp", "yahoo.ca", "yahoo.com.au",
			"yahoo.fr", "yahoo.de", "ymail.com", "rocketmail.com", "aol.com", "aim.com",
		},
		domain.ProviderApple: {"icloud.com", "me.com", "mac.com"},
	}
	for p, domains := range groups {
		for _, d := range domains {
			r.static[d] = p
		}
	}
}

// mxSuffixes maps MX hostname suffixes to provider groups.
var mxSuffixes = []struct {
	suffix   string
	provider domain.Provider
}{
	{"google.com", domain.ProviderGmail},
	{"googlemail.com", domain.ProviderGmail},
	{"protection.outlook.com", domain.ProviderMicrosoft},
	{"outlook.com", domain.ProviderMicrosoft},
	{"yahoodns.net", domain.ProviderYahoo},
	{"aol.com", domain.ProviderYahoo},
	{"icloud.com", domain.ProviderApple},
}

// ClassifyDomain returns the provider group for a recipient domain.
func (r *Registry) ClassifyDomain(ctx context.Context, d string) domain.Provider {
	d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
	if p, ok := r.static[d]; ok {
		return p
	}
	if r.resolver == nil {
		return domain.ProviderOther
	}

	now := r.clock.Now()
	if entry, ok := r.mxCache.Load(d); ok {
		ce := entry.(cacheEntry)
		if now.Before(ce.expiresAt) {
			return ce.provider
		}
		r.mxCache.Delete(d)
	}

	p := r.resolveMX(ctx, d)
	r.mxCache.Store(d, cacheEntry{provider: p, expiresAt: now.Add(r.cacheTTL)})
	return p
}

// ClassifyEmail extracts the domain from an address and classifies it.
func (r *Registry) ClassifyEmail(ctx context.Context, email string) domain.Provider {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return domain.ProviderOther
	}
	return r.ClassifyDomain(ctx, email[at+1:])
}

func (r *Registry) resolveMX(ctx context.Context, d string) domain.Provider {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.resolver.LookupMX(ctx, d)
	if err != nil {
		return domain.ProviderOther
	}
	for _, mx := range records {
		host := strings.ToLower(mx.Host)
		for _, s := range mxSuffixes {
			if host == s.suffix || strings.HasSuffix(host, "."+s.suffix) {
				return s.provider
			}
		}
	}
	return domain.ProviderOther
}
