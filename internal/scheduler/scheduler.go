// Package scheduler runs the analytics maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xaenox/memory-service/internal/models"
)

const (
	DefaultAggregateSpec = "10 0 * * *"
	DefaultCleanupSpec   = "30 3 * * *"

	jobTimeout = 5 * time.Minute
)

// Jobs is implemented by analytics.Tracker.
type Jobs interface {
	AggregateDailyStats(ctx context.Context, date string) (*models.DailyStats, error)
	CleanOldEvents(ctx context.Context) (int64, error)
}

type Config struct {
	// AggregateSpec schedules the rollup of the previous UTC day.
	AggregateSpec string
	// CleanupSpec schedules pruning of expired raw events.
	CleanupSpec string
}

// Scheduler runs Jobs in UTC.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   Jobs
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(jobs Jobs, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.AggregateSpec == "" {
		cfg.AggregateSpec = DefaultAggregateSpec
	}
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = DefaultCleanupSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers both jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.AggregateSpec, s.aggregateYesterday); err != nil {
		return fmt.Errorf("schedule aggregation %q: %w", s.cfg.AggregateSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.CleanupSpec, s.cleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.cfg.CleanupSpec, err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("aggregate", s.cfg.AggregateSpec),
		zap.String("cleanup", s.cfg.CleanupSpec))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Entries is the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) aggregateYesterday() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	date := models.Day(s.now().UTC().AddDate(0, 0, -1))
	stats, err := s.jobs.AggregateDailyStats(ctx, date)
	if err != nil {
		s.logger.Error("Daily aggregation failed", zap.String("date", date), zap.Error(err))
		return
	}
	s.logger.Info("Daily stats aggregated",
		zap.String("date", date),
		zap.Int("messages_stored", stats.MessagesStored),
		zap.Int("retrievals", stats.Retrievals))
}

func (s *Scheduler) cleanup() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	deleted, err := s.jobs.CleanOldEvents(ctx)
	if err != nil {
		s.logger.Error("Event cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("Old analytics events deleted", zap.Int64("deleted", deleted))
}
