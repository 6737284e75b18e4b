package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/csync/internal/shared"
	"github.com/urfave/cli/v3"
)

// StateKeys lists the snapshots persisted in the database.
func (r *Runner) StateKeys(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.Close()

	keys, err := r.snapshots.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return r.writePlain("No stored state\n")
	}

	for _, key := range keys {
		snap, err := r.snapshots.Get(ctx, key)
		if err != nil {
			return err
		}
		r.writePlain("%-16s v%d  %6d bytes  saved %s\n", snap.Key, snap.Version, len(snap.Payload), snap.SavedAt.Local().Format(time.DateTime))
	}
	return nil
}

// StateClear deletes one stored snapshot, e.g. "poller.cursor" to rescan all results.
func (r *Runner) StateClear(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("key")
	if key == "" {
		return fmt.Errorf("%w: snapshot key", shared.ErrMissingArgument)
	}

	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.Close()

	if _, err := r.snapshots.Get(ctx, key); err != nil {
		return err
	}
	if err := r.snapshots.Delete(ctx, key); err != nil {
		return err
	}

	r.logger.Info("cleared snapshot", "key", key)
	return r.writePlain("✓ Cleared %s\n", key)
}
