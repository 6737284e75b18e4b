package main

import (
	"context"

	"github.com/desertthunder/csync/internal/jobs"
	"github.com/desertthunder/csync/internal/models"
	"github.com/urfave/cli/v3"
)

// SyncRun starts the engine and prints job and connection changes until interrupted.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.start(ctx); err != nil {
		return err
	}
	defer r.Close()

	unsubscribeJobs := r.engine.Store().Subscribe(func(c jobs.Change) {
		if c.Kind == jobs.StateChanged {
			r.logger.Info("job changed", "id", c.Job.ID(), "title", c.Job.Title, "from", c.Previous, "to", c.Job.State)
		}
	})
	defer unsubscribeJobs()

	unsubscribeConn := r.engine.Channel().OnStateChange(func(s models.ConnectionState) {
		r.logger.Info("push channel", "phase", s.Phase, "attempt", s.Attempt)
	})
	defer unsubscribeConn()

	r.writePlain("Syncing %d jobs with %s, press Ctrl+C to stop\n", len(r.engine.Store().List()), r.config.API.BaseURL)

	for {
		select {
		case <-ctx.Done():
			r.writePlain("Stopped\n")
			return nil
		case report := <-r.progress:
			if report.Err != nil {
				r.logger.Warn("poll failed", "error", report.Err)
				continue
			}
			r.logger.Debug("poll", "fetched", report.Fetched, "queued", report.Queued, "timed_out", report.TimedOut)
		}
	}
}

// SyncPoll runs a single reconciliation pass and prints its report.
func (r *Runner) SyncPoll(ctx context.Context, cmd *cli.Command) error {
	if err := r.start(ctx); err != nil {
		return err
	}
	defer r.Close()

	report := r.engine.Poller().PollNow(ctx)
	if report.Err != nil {
		return report.Err
	}

	r.writePlain("✓ Poll complete: %d results, %d queued", report.Fetched, report.Queued)
	if report.TimedOut > 0 {
		r.writePlain(", %d timed out", report.TimedOut)
	}
	if report.Unmatched > 0 {
		r.writePlain(", %d unmatched", report.Unmatched)
	}
	return r.writePlain("\n")
}
