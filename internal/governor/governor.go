// Package governor admits or defers sends based on global throughput,
// per-provider hourly caps, and exponential backoff after transport errors.
//
// The governor is advisory: a refusal tells the caller to wait, never to
// drop the lead.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
)

var log = logger.For("governor")

// Defaults.
const (
	DefaultMaxPerMinute = 300
	DefaultBaseBackoff  = 5 * time.Second
	DefaultMaxBackoff   = 120 * time.Second

	globalPeriod   = time.Minute
	providerPeriod = time.Hour
	globalKey      = "global"

	// storeRetry is returned when the counter store cannot be reached.
	storeRetry = 5 * time.Second
)

// DefaultProviderHourly are the per-provider hourly caps.
var DefaultProviderHourly = map[domain.Provider]int{
	domain.ProviderGmail:     20,
	domain.ProviderMicrosoft: 20,
	domain.ProviderYahoo:     25,
	domain.ProviderApple:     30,
	domain.ProviderOther:     60,
}

// Refusal reasons.
const (
	ReasonBackoff       = "backoff"
	ReasonGlobalLimit   = "global_limit"
	ReasonProviderLimit = "provider_limit"
	ReasonStore         = "store_unavailable"
)

// Config tunes a Governor. Zero values select the defaults.
type Config struct {
	MaxPerMinute   int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	ProviderHourly map[domain.Provider]int
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool            `json:"allowed"`
	RetryAfter time.Duration   `json:"retry_after"`
	Reason     string          `json:"reason,omitempty"`
	Provider   domain.Provider `json:"provider,omitempty"`
}

// Governor is the explicit throughput state of one process. Its counters
// live in a Store; its backoff state is always local.
type Governor struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	store    Store
	registry *Registry

	consecutiveErrors int
	backoffUntil      time.Time
}

// New creates a Governor. A nil store uses a MemoryStore; a nil registry
// classifies by static domain table only.
func New(cfg Config, store Store, registry *Registry, c clock.Clock) *Governor {
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = DefaultMaxPerMinute
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	hourly := make(map[domain.Provider]int, len(DefaultProviderHourly))
	for p, n := range DefaultProviderHourly {
		hourly[p] = n
	}
	for p, n := range cfg.ProviderHourly {
		if n > 0 {
			hourly[p] = n
		}
	}
	cfg.ProviderHourly = hourly

	if store == nil {
		store = NewMemoryStore()
	}
	c = clock.OrReal(c)
	if registry == nil {
		registry = NewRegistry(nil, c)
	}
	return &Governor{cfg: cfg, clock: c, store: store, registry: registry}
}

// Registry returns the provider registry used for classification.
func (g *Governor) Registry() *Registry { return g.registry }

func (g *Governor) globalLimit() Limit {
	return Limit{Key: globalKey, Max: g.cfg.MaxPerMinute, Period: globalPeriod}
}

func (g *Governor) providerLimit(p domain.Provider) Limit {
	max, ok := g.cfg.ProviderHourly[p]
	if !ok {
		max = g.cfg.ProviderHourly[domain.ProviderOther]
	}
	return Limit{Key: "provider:" + string(p), Max: max, Period: providerPeriod}
}

// backoffRemaining must be called with g.mu held.
func (g *Governor) backoffRemaining(now time.Time) time.Duration {
	if g.backoffUntil.After(now) {
		return g.backoffUntil.Sub(now)
	}
	return 0
}

func (g *Governor) acquire(ctx context.Context, provider domain.Provider, limits []Limit, reasons []string) Decision {
	now := g.clock.Now()

	g.mu.Lock()
	wait := g.backoffRemaining(now)
	g.mu.Unlock()
	if wait > 0 {
		return Decision{RetryAfter: wait, Reason: ReasonBackoff, Provider: provider}
	}

	ok, blocked, retry, err := g.store.Acquire(ctx, now, limits)
	if err != nil {
		log.Warn("counter store unavailable, deferring", "error", err)
		return Decision{RetryAfter: storeRetry, Reason: ReasonStore, Provider: provider}
	}
	if !ok {
		if retry <= 0 {
			retry = time.Millisecond
		}
		return Decision{RetryAfter: retry, Reason: reasons[blocked], Provider: provider}
	}
	return Decision{Allowed: true, Provider: provider}
}

// Admit checks and consumes global throughput only.
func (g *Governor) Admit(ctx context.Context) Decision {
	return g.acquire(ctx, "", []Limit{g.globalLimit()}, []string{ReasonGlobalLimit})
}

// AdmitProvider checks and consumes the hourly cap of the recipient's
// provider group only.
func (g *Governor) AdmitProvider(ctx context.Context, email string) Decision {
	p := g.registry.ClassifyEmail(ctx, email)
	return g.acquire(ctx, p, []Limit{g.providerLimit(p)}, []string{ReasonProviderLimit})
}

// Check admits a send only when both the global window and the recipient's
// provider window have room, consuming both counters or neither.
func (g *Governor) Check(ctx context.Context, email string) Decision {
	p := g.registry.ClassifyEmail(ctx, email)
	return g.acquire(ctx, p,
		[]Limit{g.globalLimit(), g.providerLimit(p)},
		[]string{ReasonGlobalLimit, ReasonProviderLimit})
}

// RecordError registers a transport failure and returns the armed backoff:
// min(base * 2^(n-1), max) for the n-th consecutive error.
func (g *Governor) RecordError() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveErrors++
	d := BackoffFor(g.consecutiveErrors, g.cfg.BaseBackoff, g.cfg.MaxBackoff)
	g.backoffUntil = g.clock.Now().Add(d)
	log.Warn("transport error, backing off", "consecutive", g.consecutiveErrors, "backoff", d)
	return d
}

// RecordSuccess clears the error streak and disarms backoff.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	g.consecutiveErrors = 0
	g.backoffUntil = time.Time{}
	g.mu.Unlock()
}

// BackoffFor returns min(base * 2^(n-1), max). n < 1 yields 0.
func BackoffFor(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Status is a snapshot of governor state for the ops surface.
type Status struct {
	GlobalSent        int                     `json:"global_sent"`
	GlobalLimit       int                     `json:"global_limit"`
	ProviderSent      map[domain.Provider]int `json:"provider_sent"`
	ConsecutiveErrors int                     `json:"consecutive_errors"`
	Backoff           string                  `json:"backoff,omitempty"`
}

// Status reports current counters.
func (g *Governor) Status(ctx context.Context) (Status, error) {
	now := g.clock.Now()
	st := Status{GlobalLimit: g.cfg.MaxPerMinute, ProviderSent: map[domain.Provider]int{}}

	n, err := g.store.Peek(ctx, now, g.globalLimit())
	if err != nil {
		return st, fmt.Errorf("peek global: %w", err)
	}
	st.GlobalSent = n
	for p := range g.cfg.ProviderHourly {
		n, err := g.store.Peek(ctx, now, g.providerLimit(p))
		if err != nil {
			return st, fmt.Errorf("peek %s: %w", p, err)
		}
		st.ProviderSent[p] = n
	}

	g.mu.Lock()
	st.ConsecutiveErrors = g.consecutiveErrors
	if d := g.backoffRemaining(now); d > 0 {
		st.Backoff = d.String()
	}
	g.mu.Unlock()
	return st, nil
}
