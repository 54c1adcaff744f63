package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/chatforge/realtime/internal/logging"
	"github.com/robfig/cron/v3"
)

// Scheduler drives the outbox worker and the repair job on independent
// cron schedules, mirroring the single Celery beat schedule the
// original service used to configure both periodic tasks from. Both
// jobs default to the same cadence (config.CelerySchedule) but are
// registered as separate entries so either interval can be tuned
// independently later.
type Scheduler struct {
	outboxWorker *OutboxWorker
	repairJob    *RepairJob
	logger       *logging.Logger

	drainInterval  time.Duration
	repairInterval time.Duration

	cron *cron.Cron
}

// NewScheduler builds a Scheduler. drainInterval paces the outbox
// worker's RunOnce; repairInterval paces the repair job's RunOnce.
func NewScheduler(outboxWorker *OutboxWorker, repairJob *RepairJob, logger *logging.Logger, drainInterval, repairInterval time.Duration) *Scheduler {
	return &Scheduler{
		outboxWorker:   outboxWorker,
		repairJob:      repairJob,
		logger:         logger,
		drainInterval:  drainInterval,
		repairInterval: repairInterval,
		cron:           cron.New(),
	}
}

// Run blocks until ctx is cancelled, running both jobs on their own
// cron schedules concurrently.
func (s *Scheduler) Run(ctx context.Context) {
	s.schedule(ctx, "outbox_worker", s.drainInterval, s.outboxWorker.RunOnce)
	s.schedule(ctx, "outbox_repair", s.repairInterval, s.repairJob.RunOnce)

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) schedule(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if err := run(ctx); err != nil {
			s.logger.Error(ctx, "%s run failed: %v", name, err)
		}
	}); err != nil {
		s.logger.Fatal(ctx, "failed to register %s schedule %q: %v", name, spec, err)
	}
}
