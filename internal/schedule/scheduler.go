package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context)
}

// Scheduler runs registered jobs on fixed intervals until stopped.
type Scheduler struct {
	logger *slog.Logger
	jobs   []job
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger, stop: make(chan struct{})}
}

func (s *Scheduler) Add(name string, interval time.Duration, run func(context.Context)) {
	if interval <= 0 || run == nil {
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	if s.logger != nil {
		s.logger.Info("scheduler started", "jobs", len(s.jobs))
	}
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}
