/**
 * @description
 * Cron scheduler for the background lease expiry sweep.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule is the cron spec of the expiry sweep.
const DefaultSweepSchedule = "@every 1m"

// ExpirySweeper is the part of the service the scheduled job drives.
type ExpirySweeper interface {
	RunExpirySweep(ctx context.Context) (int, error)
}

// Jobs holds the scheduled job bodies.
type Jobs struct {
	sweeper ExpirySweeper
	lock    SweepLock
	logger  *slog.Logger
	timeout time.Duration
}

// NewJobs creates a new Jobs runner. lock may be nil for a single replica.
func NewJobs(sweeper ExpirySweeper, lock SweepLock, logger *slog.Logger, timeout time.Duration) *Jobs {
	if timeout <= 0 {
		timeout = 50 * time.Second
	}
	return &Jobs{
		sweeper: sweeper,
		lock:    lock,
		logger:  logger,
		timeout: timeout,
	}
}

// ProcessLeaseExpiry runs one expiry sweep.
func (j *Jobs) ProcessLeaseExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if j.lock != nil {
		release, acquired, err := j.lock.Acquire(ctx, j.timeout)
		if err != nil {
			j.logger.Warn("sweep lock unavailable; sweeping without it", "error", err)
		} else if !acquired {
			j.logger.Info("lease expiry sweep skipped; another replica holds the lock")
			return
		} else {
			defer release()
		}
	}

	started := time.Now()
	reclaimed, err := j.sweeper.RunExpirySweep(ctx)
	if err != nil {
		j.logger.Error("lease expiry sweep failed", "reclaimed", reclaimed, "error", err)
		return
	}
	if reclaimed == 0 {
		return
	}
	j.logger.Info("lease expiry sweep finished", "reclaimed", reclaimed, "duration", time.Since(started))
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.ProcessLeaseExpiry); err != nil {
		s.logger.Error("failed to schedule lease expiry job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled lease expiry job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
