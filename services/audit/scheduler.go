package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner deletes security events past their retention
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler runs retention pruning on a cron schedule, e.g. "0 3 * * *" for
// daily at 3 AM. An empty schedule or a zero retention disables it.
type Scheduler struct {
	pruner    Pruner
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a new retention scheduler
func NewScheduler(pruner Pruner, schedule string, retentionDays int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		pruner:    pruner,
		schedule:  schedule,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		cron:      cron.New(),
		logger:    logger.Named("audit.scheduler"),
	}
}

// Start validates the schedule and begins pruning. It stops on its own when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.retention <= 0 {
		s.logger.Info("audit pruning disabled")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("audit pruning scheduled",
		zap.String("schedule", s.schedule),
		zap.Duration("retention", s.retention))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce executes a single pruning cycle
func (s *Scheduler) RunOnce(ctx context.Context) {
	deleted, err := s.pruner.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Error("scheduled pruning failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled pruning completed", zap.Int64("deleted_count", deleted))
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("audit pruning stopped")
	}
}

// IsRunning reports whether pruning is scheduled
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or nil when not running
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
