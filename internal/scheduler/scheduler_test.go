package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsJobs(t *testing.T) {
	s := New(zerolog.Nop())

	var runs atomic.Int64
	err := s.Add(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if runs.Load() < 2 {
		t.Errorf("expected at least 2 runs, got %d", runs.Load())
	}
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job kept running after Stop")
	}
}

func TestSchedulerRunAtStart(t *testing.T) {
	s := New(zerolog.Nop())

	var runs atomic.Int64
	s.Add(Job{
		Name:       "startup",
		Interval:   time.Hour,
		RunAtStart: true,
		Fn: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if runs.Load() != 1 {
		t.Errorf("expected exactly 1 startup run, got %d", runs.Load())
	}
}

func TestSchedulerSkipsOverlap(t *testing.T) {
	s := New(zerolog.Nop())

	var active, maxActive atomic.Int64
	s.Add(Job{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			cur := active.Add(1)
			if cur > maxActive.Load() {
				maxActive.Store(cur)
			}
			time.Sleep(25 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if maxActive.Load() != 1 {
		t.Errorf("overlapping runs detected: %d concurrent", maxActive.Load())
	}
}

func TestSchedulerRecoversPanic(t *testing.T) {
	s := New(zerolog.Nop())

	var runs atomic.Int64
	s.Add(Job{
		Name:     "panicky",
		Interval: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			runs.Add(1)
			panic("boom")
		},
	})

	s.Start(context.Background())
	time.Sleep(45 * time.Millisecond)
	s.Stop()

	if runs.Load() < 2 {
		t.Errorf("job should keep running after a panic, got %d runs", runs.Load())
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].LastErr == "" {
		t.Errorf("panic should surface as last error, got %+v", jobs)
	}
}

func TestSchedulerReportsStatus(t *testing.T) {
	s := New(zerolog.Nop())

	wantErr := errors.New("no quorum")
	s.Add(Job{
		Name:       "failing",
		Interval:   time.Hour,
		RunAtStart: true,
		Fn:         func(ctx context.Context) error { return wantErr },
	})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Runs != 1 || jobs[0].LastErr != "no quorum" || jobs[0].LastRun == nil {
		t.Errorf("unexpected status: %+v", jobs[0])
	}
}

func TestSchedulerRejectsInvalidJobs(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Add(Job{Name: "", Interval: time.Second, Fn: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("empty name should be rejected")
	}
	if err := s.Add(Job{Name: "x", Interval: 0, Fn: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("zero interval should be rejected")
	}
	if err := s.Add(Job{Name: "x", Interval: time.Second}); err == nil {
		t.Error("nil fn should be rejected")
	}
}
