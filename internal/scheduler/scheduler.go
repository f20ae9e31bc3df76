// Package scheduler runs the periodic maintenance jobs: graph decay,
// graph cleanup, baseline sweeps and persistence flushes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/logging"
)

// Job is a named periodic task. Run must hold any store locks only for a
// bounded slice so the per-event path is never blocked for long.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler executes jobs on independent timers until stopped.
type Scheduler struct {
	jobs    []Job
	log     *logging.Logger
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

// New creates a scheduler for the given jobs.
func New(log *logging.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		log:  log.With("component", "scheduler"),
		stop: make(chan struct{}),
	}
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.stopped.Add(1)
		go s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.stopped.Done()

	s.log.InfoContext(ctx, "job started", "job", job.Name, "interval", job.Interval.String())
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			job.Run(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals all jobs to stop and waits for them to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.stopped.Wait()
}
