package blacklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/archive"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
)

var log = logger.For("blacklist")

// Repository is the storage the scan job needs.
type Repository interface {
	ListDomains(ctx context.Context, activeOnly bool) ([]domain.SendingDomain, error)
	InsertBlacklistCheck(ctx context.Context, c *domain.BlacklistCheck) error
}

// Pauser engages the global pause.
type Pauser interface {
	Pause(ctx context.Context, reason, actor string) error
}

// Report summarizes a scan run.
type Report struct {
	Results    []Result `json:"results"`
	Listed     int      `json:"listed"`
	Critical   []string `json:"critical,omitempty"`
	Paused     bool     `json:"paused"`
	Failures   int      `json:"failures"`
	ArchiveKey string   `json:"archive_key,omitempty"`
}

// Job scans the configured IPs plus every active domain and its sending IP.
type Job struct {
	scanner  *Scanner
	repo     Repository
	pauser   Pauser
	archiver archive.Archiver
	metrics  *metrics.Metrics
	ips      []string
}

// NewJob creates a scan job. archiver and m may be nil.
func NewJob(s *Scanner, repo Repository, pauser Pauser, archiver archive.Archiver, m *metrics.Metrics, ips []string) *Job {
	if archiver == nil {
		archiver = archive.Discard{}
	}
	return &Job{scanner: s, repo: repo, pauser: pauser, archiver: archiver, metrics: m, ips: ips}
}

type target struct {
	name string
	kind Kind
}

func (j *Job) targets(ctx context.Context) ([]target, error) {
	domains, err := j.repo.ListDomains(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	seen := map[string]bool{}
	var out []target
	add := func(name string, k Kind) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[string(k)+name] {
			return
		}
		seen[string(k)+name] = true
		out = append(out, target{name, k})
	}
	for _, ip := range j.ips {
		add(ip, KindIP)
	}
	for _, d := range domains {
		add(d.SendingIP, KindIP)
		add(d.Name, KindDomain)
	}
	return out, nil
}

// Run scans every target. A critical listing engages the global pause as
// soon as it is found, before the remaining targets are scanned.
func (j *Job) Run(ctx context.Context) (Report, error) {
	targets, err := j.targets(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Results: []Result{}}
	for _, t := range targets {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		var res Result
		if t.kind == KindIP {
			res, err = j.scanner.ScanIP(ctx, t.name)
		} else {
			res, err = j.scanner.ScanDomain(ctx, t.name)
		}
		if err != nil {
			log.Warn("blacklist target skipped", "target", t.name, "error", err)
			rep.Failures++
			continue
		}
		rep.Results = append(rep.Results, res)
		if res.CriticalHit {
			rep.Critical = append(rep.Critical, res.Target)
			if !rep.Paused {
				j.pause(ctx, &rep)
			}
		}
		j.metrics.SetBlacklistScore(res.Target, res.Score)
		if err := j.repo.InsertBlacklistCheck(ctx, res.Check(uuid.New().String())); err != nil {
			log.Warn("blacklist check insert failed", "target", res.Target, "error", err)
			rep.Failures++
		}
		if res.Listed() {
			rep.Listed++
			log.Warn("target listed", "target", res.Target, "score", res.Score, "listings", len(res.Listings))
		}
	}

	key, err := j.archiver.Put(ctx, archive.KindBlacklist, "scan", rep)
	if err != nil {
		log.Warn("blacklist report archive failed", "error", err)
	}
	rep.ArchiveKey = key
	log.Info("blacklist scan complete", "targets", len(targets), "listed", rep.Listed, "critical", len(rep.Critical))
	return rep, nil
}

// pause engages the global pause for the critical targets found so far.
// It is not bound to ctx: a canceled scan must still stop sending.
func (j *Job) pause(ctx context.Context, rep *Report) {
	if j.pauser == nil {
		return
	}
	reason := "critical blacklist listing: " + strings.Join(rep.Critical, ", ")
	if err := j.pauser.Pause(context.WithoutCancel(ctx), reason, "blacklist"); err != nil {
		log.Error("global pause failed", "error", err)
		rep.Failures++
		return
	}
	rep.Paused = true
}
