package scheduler

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := New(nil, nil)
	noop := func(context.Context) (any, error) { return nil, nil }
	require.NoError(t, s.Register(Job{Name: "dispatch", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "dispatch", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "trend"}))
	require.NoError(t, s.Register(Job{Name: "blacklist", Run: noop}))
	assert.Equal(t, []string{"blacklist", "dispatch"}, s.Jobs())
}

func TestRunNow(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := New(nil, m)
	boom := errors.New("boom")
	require.NoError(t, s.Register(Job{Name: "ok", Run: func(context.Context) (any, error) { return nil, nil }}))
	require.NoError(t, s.Register(Job{Name: "bad", Run: func(context.Context) (any, error) { return nil, boom }}))

	ctx := context.Background()
	_, err := s.RunNow(ctx, "ok")
	require.NoError(t, err)
	_, err = s.RunNow(ctx, "bad")
	assert.ErrorIs(t, err, boom)
	_, err = s.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `deliverability_job_runs_total{job="ok",status="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `deliverability_job_runs_total{job="bad",status="error"} 1`)
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := New(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(Job{Name: "replies", Run: func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}}))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "replies")
		done <- err
	}()
	<-started

	_, err := s.RunNow(context.Background(), "replies")
	assert.ErrorIs(t, err, ErrBusy)
	close(release)
	require.NoError(t, <-done)
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Job{Name: "hygiene", Run: func(context.Context) (any, error) { panic("nil lead") }}))

	_, err := s.RunNow(context.Background(), "hygiene")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// the lock was released
	_, err = s.RunNow(context.Background(), "hygiene")
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestTimeoutBoundsRun(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Job{
		Name:    "dns-audit",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	_, err := s.RunNow(context.Background(), "dns-audit")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartTicksUntilCancelled(t *testing.T) {
	s := New(nil, nil)
	var ticks, never atomic.Int32
	require.NoError(t, s.Register(Job{Name: "dispatch", Interval: 5 * time.Millisecond, Run: func(context.Context) (any, error) {
		ticks.Add(1)
		return nil, nil
	}}))
	require.NoError(t, s.Register(Job{Name: "manual", Run: func(context.Context) (any, error) {
		never.Add(1)
		return nil, nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
	assert.Zero(t, never.Load())
}

func TestLockTTL(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Job{Timeout: time.Minute, Interval: time.Hour}.lockTTL())
	assert.Equal(t, time.Hour, Job{Interval: time.Hour}.lockTTL())
	assert.Equal(t, defaultLockTTL, Job{}.lockTTL())
}

type countReport struct{ N int }

func TestWrapReturnsReport(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Job{Name: "warmup", Run: Wrap(func(context.Context) (countReport, error) {
		return countReport{N: 3}, nil
	})}))
	rep, err := s.RunNow(context.Background(), "warmup")
	require.NoError(t, err)
	assert.Equal(t, countReport{N: 3}, rep)
}
