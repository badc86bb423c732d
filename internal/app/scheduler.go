/**
 * @description
 * Cron scheduler for the commission release sweep.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the periodic release sweep.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the sweep and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runReleaseSweep); err != nil {
		s.logger.Error("failed to schedule commission release sweep", "error", err)
	} else {
		s.logger.Info("scheduled commission release sweep", "schedule", s.schedule)
	}

	s.cron.Start()
}

func (s *Scheduler) runReleaseSweep() {
	ctx := context.Background()

	released, err := s.service.ReleaseDueCommissions(ctx)
	if err != nil {
		s.logger.Error("commission release sweep failed", "error", err)
		return
	}
	if released > 0 {
		s.logger.Info("commission release sweep finished", "released", released)
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
