// Package api is the engine's operational HTTP surface: synchronous job
// triggers for an external cron, a domain audit lookup, content analysis,
// manual resume of the global pause, health and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/dnsaudit"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/fingerprint"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/httputil"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
)

var log = logger.For("api")

// JobRunner runs registered jobs on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (any, error)
	Jobs() []string
}

// DomainAuditor scores one domain.
type DomainAuditor interface {
	Audit(ctx context.Context, d domain.SendingDomain) dnsaudit.Report
}

// DomainStore looks up configured sending domains.
type DomainStore interface {
	GetDomain(ctx context.Context, name string) (*domain.SendingDomain, error)
}

// PauseControl reads and lifts the global pause.
type PauseControl interface {
	Paused(ctx context.Context) (domain.PauseState, error)
	Resume(ctx context.Context, actor string) (int, error)
}

// Deps are the engine components behind the endpoints. Metrics and Health
// may be nil.
type Deps struct {
	Jobs    JobRunner
	Auditor DomainAuditor
	Domains DomainStore
	Guard   *fingerprint.Guard
	Pause   PauseControl
	Health  *HealthChecker
	Metrics *metrics.Metrics
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// JobToken protects /api with a bearer token. Empty leaves it open.
	JobToken string
}

// Server holds the handler dependencies.
type Server struct {
	deps Deps
	opts Options
}

func New(d Deps, opts Options) *Server {
	if d.Guard == nil {
		d.Guard = fingerprint.NewGuard(0, 0, nil)
	}
	if opts.JobToken == "" {
		log.Warn("job token not set, /api is unauthenticated")
	}
	return &Server{deps: d, opts: opts}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	health := s.deps.Health
	if health == nil {
		health = NewHealthChecker(nil, nil, nil)
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(bearer(s.opts.JobToken))
		r.Get("/jobs", s.listJobs)
		r.Post("/jobs/{name}", s.runJob)
		r.Get("/domains/{domain}/audit", s.auditDomain)
		r.Post("/content/analyze", s.analyzeContent)
		r.Get("/pause", s.pauseState)
		r.Post("/pause/resume", s.resume)
	})
	return r
}

func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got := []byte(strings.TrimSpace(req.Header.Get("Authorization")))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		if req.URL.Path == "/health" || req.URL.Path == "/metrics" {
			return
		}
		log.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(req.Context()),
		)
	})
}
