// Package scheduler runs the engine's periodic jobs. Each job ticks on its
// own interval, holds a named lock while it runs so that overlapping ticks
// and other instances skip instead of doubling up, and is bounded by a
// deadline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/metrics"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/distlock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
)

var log = logger.For("scheduler")

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrBusy       = errors.New("job already running")
)

const defaultLockTTL = 10 * time.Minute

// Job is one unit of periodic work.
type Job struct {
	Name string
	// Interval between ticks. Zero registers the job for on-demand runs only.
	Interval time.Duration
	// Timeout bounds one run. Zero means the caller's context only.
	Timeout time.Duration
	// Run returns the job's report, which RunNow hands back to its caller.
	Run func(ctx context.Context) (any, error)
}

func (j Job) lockTTL() time.Duration {
	switch {
	case j.Timeout > 0:
		return j.Timeout + time.Minute
	case j.Interval > 0:
		return j.Interval
	}
	return defaultLockTTL
}

// Scheduler owns the registered jobs.
type Scheduler struct {
	locks   distlock.Factory
	metrics *metrics.Metrics

	mu   sync.Mutex
	jobs map[string]Job
	wg   sync.WaitGroup
}

// New creates a scheduler. A nil factory uses in-process locks.
func New(locks distlock.Factory, m *metrics.Metrics) *Scheduler {
	if locks == nil {
		locks = distlock.NewFactory(nil, nil)
	}
	return &Scheduler{locks: locks, metrics: m, jobs: map[string]Job{}}
}

// Register adds a job. Names must be unique.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("scheduler: job %q registered twice", j.Name)
	}
	s.jobs[j.Name] = j
	return nil
}

// Jobs returns the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start launches a ticker goroutine for every job with an interval. The
// goroutines stop when ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Interval <= 0 {
			log.Info("job disabled", "job", j.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Wait blocks until every ticker goroutine has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	log.Info("job scheduled", "job", j.Name, "interval", j.Interval.String())

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.run(ctx, j)
			switch {
			case errors.Is(err, ErrBusy):
				log.Debug("job still running, tick skipped", "job", j.Name)
			case err != nil:
				log.Error("job failed", "job", j.Name, "error", err)
			}
		}
	}
}

// RunNow runs a job once in the caller's goroutine and returns its report.
func (s *Scheduler) RunNow(ctx context.Context, name string) (any, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j Job) (any, error) {
	lock := s.locks(j.Name, j.lockTTL())
	held, err := lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, ErrBusy
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release job lock", "job", j.Name, "error", err)
		}
	}()

	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	report, err := safeRun(runCtx, j)
	elapsed := time.Since(start)
	s.metrics.JobDone(j.Name, elapsed, err)
	if err == nil {
		log.Info("job finished", "job", j.Name, "duration_ms", elapsed.Milliseconds())
	}
	return report, err
}

func safeRun(ctx context.Context, j Job) (report any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "job", j.Name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
	}()
	return j.Run(ctx)
}

// Wrap adapts a job entry point with a typed report.
func Wrap[R any](run func(ctx context.Context) (R, error)) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) { return run(ctx) }
}
