package daemon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// Scheduler owns the gocron instance behind the periodic generation tick.
// The job runs in singleton mode so a slow tick is never overlapped by the
// next interval.
type Scheduler struct {
	scheduler gocron.Scheduler

	mu        sync.Mutex
	task      func()
	jobID     uuid.UUID
	installed bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start installs the tick job and begins running it at the given interval.
func (s *Scheduler) Start(interval time.Duration, task func()) error {
	s.mu.Lock()
	s.task = task
	err := s.install(interval)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("starting tick scheduler", slog.Duration("interval", interval))
	s.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for a running tick to finish.
func (s *Scheduler) Stop() error {
	slog.Info("stopping tick scheduler")
	return s.scheduler.Shutdown()
}

// Reschedule moves the tick job to a new interval. The interval is checked
// before the old job is removed so a bad value leaves the schedule intact.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		return smerr.Newf(smerr.CodeRescheduleFailed, "tick interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.installed {
		if err := s.scheduler.RemoveJob(s.jobID); err != nil {
			return smerr.Wrap(err, smerr.CodeRescheduleFailed, "remove tick job")
		}
		s.installed = false
	}
	return s.install(interval)
}

// install creates the tick job. Callers hold s.mu.
func (s *Scheduler) install(interval time.Duration) error {
	if interval <= 0 {
		return smerr.Newf(smerr.CodeRescheduleFailed, "tick interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.task),
		gocron.WithName("generation-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return smerr.Wrap(err, smerr.CodeRescheduleFailed, "install tick job")
	}
	s.jobID = job.ID()
	s.installed = true
	return nil
}
