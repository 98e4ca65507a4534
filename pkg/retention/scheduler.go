package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleOff disables scheduled pruning.
const ScheduleOff = "off"

// Scheduler runs a Pruner on a cron schedule evaluated in UTC.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(pruner *Pruner, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pruner:   pruner,
		schedule: strings.TrimSpace(schedule),
		cron:     cron.New(cron.WithLocation(time.UTC)),
		logger:   logger.With("component", "retention.scheduler"),
	}
}

// ValidateSchedule checks a standard five-field cron expression. "off" and
// the empty string are valid and disable the scheduler.
func ValidateSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" || strings.EqualFold(schedule, ScheduleOff) {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Start schedules pruning and returns. The scheduler stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || strings.EqualFold(s.schedule, ScheduleOff) {
		s.logger.Info("prune schedule disabled")
		return nil
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunNow runs one pruning cycle.
func (s *Scheduler) RunNow(ctx context.Context) {
	start := time.Now()
	deleted, err := s.pruner.Prune(ctx)
	total := 0
	args := []any{"duration", time.Since(start)}
	for name, n := range deleted {
		total += n
		args = append(args, name, n)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled pruning finished with errors", append(args, "error", err)...)
		return
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "scheduled pruning completed", args...)
	} else {
		s.logger.DebugContext(ctx, "scheduled pruning completed, nothing expired")
	}
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled cycle, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
