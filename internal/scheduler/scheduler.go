package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher runs one poll cycle.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler triggers poll cycles on a fixed interval.
type Scheduler struct {
	ctx       context.Context
	refresher Refresher
	logger    *logrus.Logger
	cron      *cron.Cron
	interval  time.Duration
}

func NewScheduler(ctx context.Context, refresher Refresher, logger *logrus.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		ctx:       ctx,
		refresher: refresher,
		logger:    logger,
		// SkipIfStillRunning keeps at most one poll in flight; a slow
		// cycle must not race a new one for the cached token.
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
		interval: interval,
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.collectData)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// collectData runs one refresh; the coordinator bounds its duration.
func (s *Scheduler) collectData() {
	if err := s.refresher.Refresh(s.ctx); err != nil {
		s.logger.WithError(err).Error("Failed to refresh data")
	}
}

// Stop the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
