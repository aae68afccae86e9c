// Package scheduler runs the engine's named background jobs on fixed
// intervals: the liquidity refresh, the submitted-transaction sweep, the
// breaker unpause, the consistency repair, and the held-price refresh.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job is one recurring task
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run; zero means no bound
	Timeout time.Duration
	// RunAtStart fires the job once immediately on Start
	RunAtStart bool
	Fn         func(ctx context.Context) error
}

// JobStatus is the observable state of one job
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

type job struct {
	Job

	busy atomic.Bool

	mu      sync.Mutex
	runs    int64
	lastRun *time.Time
	lastErr string
}

// Scheduler runs registered jobs until stopped
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    []*job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a job. Only valid before Start.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Fn == nil || j.Interval <= 0 {
		return fmt.Errorf("invalid job %q", j.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.jobs = append(s.jobs, &job{Job: j})
	return nil
}

// Start launches one loop per registered job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	jobs := s.jobs
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runLoop(runCtx, j)
	}
	s.logger.Info().Int("jobs", len(jobs)).Msg("Scheduler started")
	return nil
}

// Stop cancels every loop and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Jobs reports the status of every registered job
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	jobs := s.jobs
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, JobStatus{
			Name:     j.Name,
			Interval: j.Interval,
			Runs:     j.runs,
			LastRun:  j.lastRun,
			LastErr:  j.lastErr,
		})
		j.mu.Unlock()
	}
	return out
}

func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	defer s.wg.Done()

	if j.RunAtStart {
		s.runOnce(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// runOnce executes a job, skipping when the previous run is still going
func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	if !j.busy.CompareAndSwap(false, true) {
		s.logger.Warn().Str("job", j.Name).Msg("Previous run still in progress, skipping tick")
		return
	}
	defer j.busy.Store(false)

	runCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(runCtx, j)

	j.mu.Lock()
	j.runs++
	j.lastRun = &start
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	j.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("job", j.Name).Dur("took", time.Since(start)).Msg("Job failed")
	} else {
		s.logger.Debug().Str("job", j.Name).Dur("took", time.Since(start)).Msg("Job finished")
	}
}

// safeRun turns a job panic into an error so one bad run cannot take the
// whole process down
func (s *Scheduler) safeRun(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
	}()
	return j.Fn(ctx)
}
