// Package scheduler runs periodic backfills on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled run. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler triggers a job on a standard five-field cron expression. A run that is still
// going when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	job     Job
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// New creates a scheduler for spec in UTC
func New(spec string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}

	cronLogger := cron.PrintfLogger(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		job:    job,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	if err := s.schedule(spec); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start begins cron execution
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Time("next_run", s.Next()).Msg("Scheduler started")
}

// Stop cancels the running job and waits for it to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// Reschedule replaces the cron expression
func (s *Scheduler) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.entryID
	if err := s.scheduleLocked(spec); err != nil {
		return err
	}
	if previous != 0 {
		s.cron.Remove(previous)
	}
	return nil
}

// Next returns the next scheduled run, or the zero time before Start
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Entry(s.entryID).Next
}

// RunNow executes the job synchronously outside the schedule
func (s *Scheduler) RunNow() {
	s.job(s.ctx)
}

func (s *Scheduler) schedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(spec)
}

func (s *Scheduler) scheduleLocked(spec string) error {
	id, err := s.cron.AddFunc(spec, func() { s.job(s.ctx) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.entryID = id
	return nil
}
