package governor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

var t0 = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{5, 80 * time.Second},
		{6, 120 * time.Second},
		{20, 120 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffFor(tt.n, DefaultBaseBackoff, DefaultMaxBackoff), "n=%d", tt.n)
	}
}

func TestGlobalWindow(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(t0)
	g := New(Config{MaxPerMinute: 3}, nil, nil, fc)

	for i := 0; i < 3; i++ {
		require.True(t, g.Admit(ctx).Allowed)
	}
	fc.Advance(20 * time.Second)
	d := g.Admit(ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonGlobalLimit, d.Reason)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	fc.Advance(40 * time.Second)
	assert.True(t, g.Admit(ctx).Allowed, "window resets after 60s")
}

func TestBackoffBlocksAndSuccessResets(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(t0)
	g := New(Config{}, nil, nil, fc)

	assert.Equal(t, 5*time.Second, g.RecordError())
	assert.Equal(t, 10*time.Second, g.RecordError())

	d := g.Admit(ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBackoff, d.Reason)
	assert.Equal(t, 10*time.Second, d.RetryAfter)

	fc.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, g.Admit(ctx).RetryAfter)

	g.RecordSuccess()
	assert.True(t, g.Admit(ctx).Allowed)
	assert.Equal(t, 5*time.Second, g.RecordError(), "streak restarts after success")
}

func TestProviderCaps(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(t0)
	g := New(Config{ProviderHourly: map[domain.Provider]int{domain.ProviderGmail: 2}}, nil, nil, fc)

	assert.True(t, g.Check(ctx, "a@gmail.com").Allowed)
	assert.True(t, g.Check(ctx, "b@googlemail.com").Allowed)

	d := g.Check(ctx, "c@gmail.com")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonProviderLimit, d.Reason)
	assert.Equal(t, domain.ProviderGmail, d.Provider)
	assert.Equal(t, time.Hour, d.RetryAfter)

	// other providers are unaffected and the refused check consumed nothing
	assert.True(t, g.Check(ctx, "d@yahoo.com").Allowed)
	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.GlobalSent)
	assert.Equal(t, 2, st.ProviderSent[domain.ProviderGmail])
	assert.Equal(t, 1, st.ProviderSent[domain.ProviderYahoo])

	fc.Advance(time.Hour)
	assert.True(t, g.Check(ctx, "c@gmail.com").Allowed, "hourly counter resets")
}

func TestCheckConsumesNothingWhenGlobalFull(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(t0)
	g := New(Config{MaxPerMinute: 1}, nil, nil, fc)

	require.True(t, g.Check(ctx, "a@gmail.com").Allowed)
	assert.False(t, g.Check(ctx, "b@icloud.com").Allowed)
	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ProviderSent[domain.ProviderApple])
}

func TestRegistryMXFallback(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(t0)
	fake := resolver.NewFake()
	fake.MX["acme.io"] = []resolver.MX{{Host: "aspmx.l.google.com", Pref: 1}}
	fake.MX["contoso.com"] = []resolver.MX{{Host: "contoso-com.mail.protection.outlook.com"}}
	reg := NewRegistry(fake, fc)

	assert.Equal(t, domain.ProviderGmail, reg.ClassifyEmail(ctx, "x@acme.io"))
	assert.Equal(t, domain.ProviderMicrosoft, reg.ClassifyDomain(ctx, "CONTOSO.com"))
	assert.Equal(t, domain.ProviderOther, reg.ClassifyDomain(ctx, "unknown.example"))
	assert.Equal(t, domain.ProviderYahoo, reg.ClassifyEmail(ctx, "x@aol.com"))
	assert.Equal(t, domain.ProviderOther, reg.ClassifyEmail(ctx, "no-at-sign"))

	calls := fake.Calls()
	reg.ClassifyEmail(ctx, "y@acme.io")
	assert.Equal(t, calls, fake.Calls(), "cached MX result")

	fc.Advance(61 * time.Minute)
	reg.ClassifyEmail(ctx, "y@acme.io")
	assert.Equal(t, calls+1, fake.Calls(), "cache entry expired")
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	ctx := context.Background()
	fc := clock.NewFake(t0)
	g := New(Config{MaxPerMinute: 2, ProviderHourly: map[domain.Provider]int{domain.ProviderGmail: 1}}, store, nil, fc)

	assert.True(t, g.Check(ctx, "a@gmail.com").Allowed)
	d := g.Check(ctx, "b@gmail.com")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonProviderLimit, d.Reason)
	assert.Equal(t, time.Hour, d.RetryAfter)

	assert.True(t, g.Check(ctx, "c@yahoo.com").Allowed)
	d = g.Check(ctx, "d@yahoo.com")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonGlobalLimit, d.Reason)

	// a second governor sharing the store sees the same counters
	g2 := New(Config{MaxPerMinute: 2}, store, nil, fc)
	assert.False(t, g2.Admit(ctx).Allowed)

	mr.FastForward(time.Minute)
	assert.True(t, g2.Admit(ctx).Allowed)

	n, err := store.Peek(ctx, fc.Now(), Limit{Key: "provider:gmail"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreFailureDefers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	g := New(Config{}, NewRedisStore(client), nil, clock.NewFake(t0))
	d := g.Admit(context.Background())
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStore, d.Reason)
	assert.Positive(t, d.RetryAfter)
}
