package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the janitor once a minute.
const DefaultSweepSchedule = "@every 1m"

// Janitor periodically sweeps expired entries from a store that does not
// expire keys on its own.
type Janitor struct {
	sweeper  Sweeper
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewJanitor creates a janitor for the given sweeper. An empty schedule
// selects DefaultSweepSchedule.
func NewJanitor(sweeper Sweeper, schedule string, logger *slog.Logger) *Janitor {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "quota.janitor"),
	}
}

// Start schedules sweeps until ctx is cancelled or Stop is called.
//
// Schedules accept standard five-field cron expressions as well as the
// "@every <duration>" descriptor.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	if _, err := cron.ParseStandard(j.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}

	if _, err := j.cron.AddFunc(j.schedule, func() {
		j.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	j.cron.Start()
	j.running = true
	j.logger.Info("store janitor started", "schedule", j.schedule)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()

	return nil
}

// RunOnce performs a single sweep and returns the number of removed entries.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	removed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("store sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		j.logger.Debug("store sweep completed", "removed", removed)
	}
	return removed
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info("store janitor stopped")
}

// IsRunning reports whether the janitor is scheduled.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.running
}
