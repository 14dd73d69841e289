package dnsaudit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/archive"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/outcome"
)

var log = logger.For("dnsaudit")

// Repository is the storage the audit job needs.
type Repository interface {
	ListDomains(ctx context.Context, activeOnly bool) ([]domain.SendingDomain, error)
	InsertDNSHealthCheck(ctx context.Context, c *domain.DNSHealthCheck) error
}

// JobReport summarizes one run.
type JobReport struct {
	Domains  int      `json:"domains"`
	Reports  []Report `json:"reports"`
	Failures int      `json:"failures"`
}

// Job audits every active domain.
type Job struct {
	auditor  *Auditor
	repo     Repository
	archiver archive.Archiver
	metrics  *metrics.Metrics
}

// NewJob creates an audit job. archiver and m may be nil.
func NewJob(a *Auditor, repo Repository, archiver archive.Archiver, m *metrics.Metrics) *Job {
	if archiver == nil {
		archiver = archive.Discard{}
	}
	return &Job{auditor: a, repo: repo, archiver: archiver, metrics: m}
}

// Run audits each active domain, stores the result and archives the report.
// A storage failure on one domain does not stop the others.
func (j *Job) Run(ctx context.Context) (JobReport, error) {
	domains, err := j.repo.ListDomains(ctx, true)
	if err != nil {
		return JobReport{}, fmt.Errorf("list domains: %w", err)
	}
	rep := JobReport{Domains: len(domains), Reports: []Report{}}
	for _, d := range domains {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		r := j.auditor.Audit(ctx, d)
		rep.Reports = append(rep.Reports, r)
		j.metrics.SetDNSHealth(r.Domain, r.Score)

		var set outcome.Set
		set.Add(outcome.Hard("insert_health_check", j.repo.InsertDNSHealthCheck(ctx, r.HealthCheck(uuid.New().String()))))
		_, aerr := j.archiver.Put(ctx, archive.KindDNSAudit, r.Domain, r)
		set.Add(outcome.Soft("archive", aerr))
		for _, f := range set.Failures() {
			log.Warn("dns audit side effect failed", "domain", r.Domain, "op", f.Op, "error", f.Err)
		}
		if set.Fatal() != nil {
			rep.Failures++
		}
		log.Info("domain audited", "domain", r.Domain, "score", r.Score, "rating", r.Rating, "issues", len(r.Issues()))
	}
	return rep, nil
}
