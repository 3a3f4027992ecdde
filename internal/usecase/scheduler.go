package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"NewsAgency/internal/ports"
)

// AutoRunner wires the cron-like driver with the orchestrator so runs
// start on a schedule without an operator.
type AutoRunner struct {
	driver       ports.Scheduler
	orchestrator *Orchestrator
	duration     time.Duration
	logger       *slog.Logger
}

// NewAutoRunner returns a helper to start/stop scheduled runs.
func NewAutoRunner(driver ports.Scheduler, orchestrator *Orchestrator, duration time.Duration, logger *slog.Logger) *AutoRunner {
	return &AutoRunner{driver: driver, orchestrator: orchestrator, duration: duration, logger: logger}
}

// Start registers the scheduled run with the provided scheduler. A tick
// that lands while a run is still in flight is logged and skipped.
func (a *AutoRunner) Start(ctx context.Context) error {
	if a.driver == nil || a.orchestrator == nil {
		return nil
	}

	job := func(trigger time.Time) {
		runID, err := a.orchestrator.Start(ctx, a.duration)
		if errors.Is(err, ErrAlreadyRunning) {
			a.logger.Info("scheduled start skipped, run already active", "trigger", trigger)
			return
		}
		if err != nil {
			a.logger.Error("scheduled start failed", "trigger", trigger, "error", err)
			return
		}
		a.logger.Info("scheduled run started", "run_id", runID, "trigger", trigger)
	}

	return a.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (a *AutoRunner) Stop(ctx context.Context) error {
	if a.driver == nil {
		return nil
	}

	return a.driver.Stop(ctx)
}
