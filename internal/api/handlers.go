package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/httputil"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/scheduler"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/spam"
)

// JobResult is the response of a job trigger.
type JobResult struct {
	Job        string `json:"job"`
	DurationMS int64  `json:"duration_ms"`
	Report     any    `json:"report,omitempty"`
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string][]string{"jobs": s.deps.Jobs.Jobs()})
}

//	POST /api/jobs/{name}
func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	start := time.Now()
	report, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		httputil.NotFound(w, "unknown job "+name)
		return
	case errors.Is(err, scheduler.ErrBusy):
		httputil.Conflict(w, name+" is already running")
		return
	case err != nil:
		log.Error("job trigger failed", "job", name, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "job_failed", name+" failed")
		return
	}
	httputil.OK(w, JobResult{Job: name, DurationMS: time.Since(start).Milliseconds(), Report: report})
}

//	GET /api/domains/{domain}/audit
//
// Unknown domains are audited ad hoc with the auditor's default selectors.
func (s *Server) auditDomain(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	if !validDomain(name) {
		httputil.BadRequest(w, "invalid domain")
		return
	}
	target := domain.SendingDomain{Name: name}
	if s.deps.Domains != nil {
		d, err := s.deps.Domains.GetDomain(r.Context(), name)
		switch {
		case err == nil:
			target = *d
		case !errors.Is(err, repository.ErrNotFound):
			httputil.InternalError(w, err)
			return
		}
	}
	httputil.OK(w, s.deps.Auditor.Audit(r.Context(), target))
}

func validDomain(name string) bool {
	if len(name) < 3 || len(name) > 253 || !strings.Contains(name, ".") {
		return false
	}
	for _, c := range name {
		ok := c == '.' || c == '-' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !ok {
			return false
		}
	}
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, ".") && !strings.Contains(name, "..")
}

// FingerprintPeek reports how close a body is to the duplicate limit.
type FingerprintPeek struct {
	Count      int  `json:"count"`
	Max        int  `json:"max"`
	WouldBlock bool `json:"would_block"`
}

// ContentAnalysis is the response of the content check.
type ContentAnalysis struct {
	Spam        spam.Report     `json:"spam"`
	Summary     string          `json:"summary"`
	Fingerprint FingerprintPeek `json:"fingerprint"`
}

//	POST /api/content/analyze
func (s *Server) analyzeContent(w http.ResponseWriter, r *http.Request) {
	var in spam.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.HTML) == "" && strings.TrimSpace(in.Text) == "" {
		httputil.BadRequest(w, "html or text is required")
		return
	}
	rep := spam.Analyze(in)
	s.deps.Metrics.ObserveSpam(rep.Score)

	body := in.HTML
	if body == "" {
		body = in.Text
	}
	n := s.deps.Guard.Peek(body)
	httputil.OK(w, ContentAnalysis{
		Spam:    rep,
		Summary: rep.Summary(),
		Fingerprint: FingerprintPeek{
			Count:      n,
			Max:        s.deps.Guard.Max(),
			WouldBlock: n >= s.deps.Guard.Max(),
		},
	})
}

func (s *Server) pauseState(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Pause.Paused(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, st)
}

type resumeRequest struct {
	Actor string `json:"actor"`
}

//	POST /api/pause/resume
//
// The body is optional; the actor defaults to "api".
func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	req := resumeRequest{}
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "api"
	}
	n, err := s.deps.Pause.Resume(r.Context(), actor)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	log.Info("global pause lifted", "actor", actor, "reactivated", n)
	httputil.OK(w, map[string]int{"reactivated": n})
}
