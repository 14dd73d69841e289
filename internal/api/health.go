package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/httputil"
)

// Check statuses.
const (
	StatusUp            = "up"
	StatusDown          = "down"
	StatusDegraded      = "degraded"
	StatusNotConfigured = "not_configured"
)

// Overall statuses.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// Pinger is implemented by the repositories.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the state of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes the store, Redis and the pause flag. The store is
// critical; Redis is optional and a paused system is degraded.
type HealthChecker struct {
	store     Pinger
	redis     *redis.Client
	pause     PauseControl
	startTime time.Time
}

// NewHealthChecker accepts nil for any dependency.
func NewHealthChecker(store Pinger, client *redis.Client, pause PauseControl) *HealthChecker {
	return &HealthChecker{store: store, redis: client, pause: pause, startTime: time.Now()}
}

// HandleHealth always answers 200; the body carries the verdict.
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	httputil.OK(w, HealthStatus{
		Status: overall(checks),
		Uptime: time.Since(hc.startTime).Truncate(time.Second).String(),
		Checks: checks,
	})
}

// HandleReadiness answers 503 while the system is unhealthy.
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	status := overall(checks)
	code := http.StatusOK
	if status == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{"ready": code == http.StatusOK, "status": status, "checks": checks})
}

func (hc *HealthChecker) runAll(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)
	go func() { ch <- result{"store", hc.checkStore(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"sending", hc.checkSending(ctx)} }()

	checks := make(map[string]ComponentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func overall(checks map[string]ComponentCheck) string {
	if checks["store"].Status == StatusDown {
		return Unhealthy
	}
	for _, c := range checks {
		if c.Status == StatusDown || c.Status == StatusDegraded {
			return Degraded
		}
	}
	return Healthy
}

func timed(ctx context.Context, timeout, slow time.Duration, ping func(context.Context) error) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)
	switch {
	case err != nil:
		return ComponentCheck{Status: StatusDown, Latency: latency.String(), Message: "ping failed"}
	case latency > slow:
		return ComponentCheck{Status: StatusDegraded, Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: StatusUp, Latency: latency.String()}
}

func (hc *HealthChecker) checkStore(ctx context.Context) ComponentCheck {
	if hc.store == nil {
		return ComponentCheck{Status: StatusDown, Message: "not configured"}
	}
	return timed(ctx, 3*time.Second, time.Second, hc.store.Ping)
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: StatusNotConfigured}
	}
	return timed(ctx, 2*time.Second, 500*time.Millisecond, func(ctx context.Context) error {
		return hc.redis.Ping(ctx).Err()
	})
}

func (hc *HealthChecker) checkSending(ctx context.Context) ComponentCheck {
	if hc.pause == nil {
		return ComponentCheck{Status: StatusNotConfigured}
	}
	st, err := hc.pause.Paused(ctx)
	switch {
	case err != nil:
		return ComponentCheck{Status: StatusDown, Message: "pause flag unreadable"}
	case st.Paused:
		return ComponentCheck{Status: StatusDegraded, Message: "paused: " + st.Reason}
	}
	return ComponentCheck{Status: StatusUp}
}
