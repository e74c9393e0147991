// Package scheduler runs the wall-clock jobs that sit outside the hot
// monitor loop: the EOD capital snapshot, the market-open daily-counter
// reset, and the stale post-exit-cooldown sweep (spec §1's scheduling
// contract). The monitor loop itself (§5) stays a hand-rolled ticker via
// internal/monitor.Loop — only these slower, calendar-shaped jobs go
// through cron.
//
// Grounded on the teacher's trader-go/internal/scheduler/scheduler.go: a
// minimal cron.Cron wrapper around a Job interface, logging every run's
// outcome. Generalized only by the job set it drives (see jobs.go), not
// its own shape.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one independently schedulable background task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler wraps a cron.Cron with second-level precision (matching the
// teacher's own WithSeconds() choice) and structured per-run logging.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New builds a Scheduler. Call AddJob for each job before Start.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers job on a cron spec ("0 35 15 * * MON-FRI", "@every 5m",
// ...). Every run is dispatched against a fresh context.Background() — no
// per-job context survives a Scheduler restart.
func (s *Scheduler) AddJob(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(context.Background()); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Str("job", job.Name()).Msg("job registered")
	return nil
}

// Start begins dispatching registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop blocks until every in-flight job run finishes, then returns.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}
