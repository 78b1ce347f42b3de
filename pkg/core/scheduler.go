package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"roamgo/pkg/model"
)

// StateSource supplies the location state jobs are evaluated against.
type StateSource interface {
	State() model.LocationState
}

// Scheduler runs the heartbeat that evaluates jobs.
type Scheduler struct {
	interval time.Duration
	source   StateSource

	mu   sync.Mutex
	jobs []Job
	wg   sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
func NewScheduler(interval time.Duration, source StateSource) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		interval: interval,
		source:   source,
	}
}

// AddJob registers a job.
func (s *Scheduler) AddJob(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// Start runs the main loop. It blocks until ctx is cancelled and running
// jobs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	st := s.source.State()
	// Nothing to do until the first fix or restored location
	if st.Coordinate == nil {
		return
	}

	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		if job.ShouldFire(&st) {
			s.wg.Add(1)
			go func(job Job, st model.LocationState) {
				defer s.wg.Done()
				job.Run(ctx, &st)
			}(job, st.Clone())
		}
	}
}
