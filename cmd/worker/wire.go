package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/analytics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/api"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/archive"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/blacklist"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/config"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/dispatch"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/dnsaudit"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/fingerprint"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/governor"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/hygiene"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/mailer"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/distlock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/replies"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository/memory"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository/postgres"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/scheduler"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/secrets"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/warmup"
)

// store is everything the engine reads and writes. Both the PostgreSQL and
// the in-memory store satisfy it.
type store interface {
	dispatch.Repository
	mailer.RetryRepository
	analytics.TrendRepository
	analytics.CampaignRepository
	warmup.Repository
	dnsaudit.Repository
	blacklist.Repository
	blacklist.PauseRepository
	replies.Repository
	hygiene.Repository
	api.DomainStore
	Ping(ctx context.Context) error
}

// engine is the wired worker.
type engine struct {
	sched     *scheduler.Scheduler
	server    *api.Server
	transport mailer.Transport
	closers   []func() error
}

func (e *engine) Close() {
	if e.transport != nil {
		e.transport.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store, *sql.DB, func() error, error) {
	if cfg.Database.URL == "" {
		log.Println("DATABASE_URL not set, using the in-memory store")
		return memory.New(), nil, func() error { return nil }, nil
	}
	pg, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Println("Connected to database")
	return pg, pg.DB(), pg.Close, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Println("Connected to Redis")
	return client, nil
}

func openTransport(ctx context.Context, cfg *config.Config) (mailer.Transport, error) {
	switch cfg.Mailer.Transport {
	case "ses":
		return mailer.NewSESTransport(ctx, mailer.SESOptions{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
	case "smtp", "":
		return mailer.NewSMTPTransport(mailer.SMTPOptions{
			HeloName:       cfg.Mailer.HeloName,
			ConnectTimeout: cfg.Mailer.ConnectTimeout(),
			CommandTimeout: cfg.Mailer.CommandTimeout(),
			PoolIdle:       cfg.Mailer.PoolIdle(),
			AllowPlaintext: cfg.Mailer.AllowPlaintext,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mailer transport %q", cfg.Mailer.Transport)
	}
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Archiver, error) {
	if cfg.Bucket == "" {
		return archive.Discard{}, nil
	}
	return archive.NewS3(ctx, cfg.Bucket, cfg.Prefix, cfg.Region)
}

func decrypter(key string) (secrets.Decrypter, error) {
	if key == "" {
		log.Println("CREDENTIAL_ENCRYPTION_KEY not set, credentials are read as plaintext")
		return secrets.Plain{}, nil
	}
	return secrets.New(key)
}

func providerLimits(in map[string]int) map[domain.Provider]int {
	out := make(map[domain.Provider]int, len(in))
	for k, v := range in {
		out[domain.Provider(k)] = v
	}
	return out
}

// build wires every component from configuration.
func build(ctx context.Context, cfg *config.Config) (*engine, error) {
	e := &engine{}
	clk := clock.Real{}

	repo, db, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeDB)

	rdb, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		e.Close()
		return nil, err
	}
	if rdb != nil {
		e.closers = append(e.closers, rdb.Close)
	}

	dec, err := decrypter(cfg.Secrets.EncryptionKey)
	if err != nil {
		e.Close()
		return nil, err
	}
	arch, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.transport, err = openTransport(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())

	var windows governor.Store = governor.NewMemoryStore()
	if cfg.Governor.PersistWindows && rdb != nil {
		windows = governor.NewRedisStore(rdb)
	}
	mxResolver := resolver.New(resolver.Options{Timeout: config.Seconds(cfg.Governor.MXLookupTimeoutS)})
	gov := governor.New(governor.Config{
		MaxPerMinute:   cfg.Governor.MaxPerMinute,
		BaseBackoff:    time.Duration(cfg.Governor.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Governor.MaxBackoffMS) * time.Millisecond,
		ProviderHourly: providerLimits(cfg.Governor.ProviderHourly),
	}, windows, governor.NewRegistry(mxResolver, clk), clk)

	client := mailer.NewClient(e.transport, dec, gov, clk)
	guard := fingerprint.NewGuard(cfg.Fingerprint.MaxIdentical, cfg.Fingerprint.Window(), clk)
	pause := blacklist.NewGlobalPause(repo, m, clk)

	dnsResolver := resolver.New(resolver.Options{
		Servers: []string{cfg.Audit.Nameserver},
		Timeout: cfg.Audit.Timeout(),
	})
	auditor := dnsaudit.New(dnsResolver, dnsaudit.Options{
		Selectors: cfg.Audit.DKIMSelector,
		DefaultIP: cfg.Dispatch.SendingIP,
	}, clk)

	schedule := cfg.Mailer.RetrySchedule()
	dispatcher := dispatch.New(dispatch.Deps{
		Repo:     repo,
		Mailer:   client,
		Governor: gov,
		Guard:    guard,
		Metrics:  m,
		Clock:    clk,
	}, dispatch.Options{
		BatchSize:          cfg.Dispatch.BatchSize,
		UnsubscribeBaseURL: cfg.Dispatch.UnsubscribeBaseURL,
		UnsubscribeMailto:  cfg.Dispatch.UnsubscribeMailto,
		DisablePacing:      cfg.Dispatch.DisablePacing,
		MaxRun:             cfg.Dispatch.MaxRun(),
		FirstRetry:         schedule[0],
	})
	retries := mailer.NewRetryProcessor(repo, client, gov, mailer.RetryOptions{
		Schedule:          schedule,
		MaxRetries:        cfg.Mailer.MaxRetries,
		BatchSize:         cfg.Dispatch.BatchSize,
		UnsubscribeMailto: cfg.Dispatch.UnsubscribeMailto,
	}, clk)
	listener := replies.NewListener(repo, replies.NewPoller(replies.PollerOptions{
		Timeout: cfg.Replies.FetchTimeout(),
		Max:     cfg.Replies.MaxMessages,
		Clock:   clk,
	}), dec, m, clk)
	health := analytics.NewCampaignHealth(repo, analytics.Ceilings{
		MinSends:       cfg.Analytics.CampaignMinSends,
		MaxBounce:      cfg.Analytics.MaxBounceRate,
		MaxUnsubscribe: cfg.Analytics.MaxUnsubscribeRate,
		MaxComplaint:   cfg.Analytics.MaxComplaintRate,
	}, clk)
	trend := analytics.NewTrendJob(repo, arch, m, pause, analytics.TrendOptions{
		Days:      cfg.Analytics.TrendDays,
		AutoPause: cfg.Analytics.AutoPauseOnCritical,
	}, clk)
	var dnsblResolver resolver.Resolver = dnsResolver
	if cfg.Blacklist.Nameserver != "" {
		dnsblResolver = resolver.New(resolver.Options{
			Servers: []string{cfg.Blacklist.Nameserver},
			Timeout: cfg.Audit.Timeout(),
		})
	}
	scanner := blacklist.NewScanner(dnsblResolver, nil, cfg.Blacklist.Concurrency, clk)
	hyg := hygiene.NewJob(repo, hygiene.Options{
		Interval:  config.Seconds(cfg.Jobs.HygieneSec),
		BatchSize: 500,
	}, clk)

	e.sched = scheduler.New(distlock.NewFactory(rdb, db), m)
	jobs := []scheduler.Job{
		{Name: "dispatch", Interval: config.Seconds(cfg.Jobs.DispatchSec), Timeout: cfg.Dispatch.MaxRun() + time.Minute, Run: scheduler.Wrap(dispatcher.Run)},
		{Name: "replies", Interval: config.Seconds(cfg.Jobs.RepliesSec), Timeout: 10 * time.Minute, Run: scheduler.Wrap(listener.Run)},
		{Name: "retries", Interval: config.Seconds(cfg.Jobs.RetriesSec), Timeout: 10 * time.Minute, Run: scheduler.Wrap(retries.Run)},
		{Name: "campaign-health", Interval: config.Seconds(cfg.Jobs.CampaignHealthSec), Timeout: 5 * time.Minute, Run: scheduler.Wrap(health.Check)},
		{Name: "trend", Interval: config.Seconds(cfg.Jobs.TrendSec), Timeout: 5 * time.Minute, Run: scheduler.Wrap(trend.Run)},
		{Name: "dns-audit", Interval: config.Seconds(cfg.Jobs.DNSAuditSec), Timeout: 10 * time.Minute, Run: scheduler.Wrap(dnsaudit.NewJob(auditor, repo, arch, m).Run)},
		{Name: "blacklist", Interval: config.Seconds(cfg.Jobs.BlacklistSec), Timeout: 10 * time.Minute, Run: scheduler.Wrap(blacklist.NewJob(scanner, repo, pause, arch, m, cfg.Blacklist.IPs).Run)},
		{Name: "warmup", Interval: config.Seconds(cfg.Jobs.WarmupSec), Timeout: 5 * time.Minute, Run: scheduler.Wrap(warmup.NewJob(repo, clk).Run)},
		{Name: "hygiene", Interval: config.Seconds(cfg.Jobs.HygieneSec), Timeout: 30 * time.Minute, Run: scheduler.Wrap(hyg.Run)},
	}
	for _, j := range jobs {
		if err := e.sched.Register(j); err != nil {
			e.Close()
			return nil, err
		}
	}

	e.server = api.New(api.Deps{
		Jobs:    e.sched,
		Auditor: auditor,
		Domains: repo,
		Guard:   guard,
		Pause:   pause,
		Health:  api.NewHealthChecker(repo, rdb, pause),
		Metrics: m,
	}, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JobToken:       cfg.Server.JobToken,
	})
	return e, nil
}
