package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic entry point. Run errors are logged, never fatal.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs       []Job
	log        *slog.Logger
	runOnStart bool
	wg         sync.WaitGroup
}

type Option func(*Scheduler)

// WithRunOnStart fires every job once as soon as Start is called.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) { s.runOnStart = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{jobs: jobs, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs one ticker per job and blocks until ctx is cancelled, then waits for
// in-flight runs. Each tick runs in its own goroutine, so a slow run never delays
// the next tick and runs of the same job may overlap.
func (s *Scheduler) Start(ctx context.Context) {
	var loops sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.Warn("job has no interval, not scheduled", "job", job.Name)
			continue
		}
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.loop(ctx, job)
		}()
	}
	loops.Wait()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.log.Info("job scheduled", "job", job.Name, "interval", job.Interval)
	if s.runOnStart {
		s.fire(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, job)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", "job", job.Name, "panic", r)
			}
		}()
		if err := job.Run(ctx); err != nil {
			s.log.Error("job failed", "job", job.Name, "err", err)
		}
	}()
}
