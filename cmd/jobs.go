package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/csync/internal/formatter"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
	"github.com/urfave/cli/v3"
)

// JobsSubmit submits a job and prints its tracked record.
func (r *Runner) JobsSubmit(ctx context.Context, cmd *cli.Command) error {
	req := models.JobRequest{
		Title:    cmd.String("title"),
		Platform: models.Platform(cmd.String("platform")),
	}
	if data := cmd.String("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &req.Payload); err != nil {
			return fmt.Errorf("%w: data is not a JSON object: %v", shared.ErrInvalidInput, err)
		}
	}

	if err := r.connect(ctx); err != nil {
		return err
	}
	defer r.Close()

	job, err := r.engine.Submit(ctx, req)
	if err != nil {
		if job.TempID != "" {
			r.writePlain("✗ Job %s is %s\n", job.TempID, job.State)
		}
		return err
	}

	return r.writePlain("✓ Submitted %q as #%s (%s)\n", job.Title, job.JobID, job.State)
}

// JobsList prints tracked jobs as a table, as JSON, or grouped into date folders.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadJobs(ctx); err != nil {
		return err
	}
	defer r.Close()

	store := r.engine.Store()
	list := store.List()
	if name := cmd.String("state"); name != "" {
		state, err := models.ParseState(name)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		list = store.ByState(state)
	}

	if cmd.Bool("json") {
		if list == nil {
			list = []models.Job{}
		}
		return r.writeJSON(list, true)
	}

	if len(list) == 0 {
		return r.writePlain("No jobs\n")
	}

	if cmd.Bool("folders") {
		for _, folder := range models.GroupByDate(list) {
			r.writePlainHeader(fmt.Sprintf("%s (%d)", folder.Date, len(folder.Jobs)))
			r.writePlain("%s\n", jobTable(folder.Jobs))
		}
	} else {
		r.writePlain("%s\n", jobTable(list))
	}

	return r.writePlain("%s\n", formatter.Summarize(list))
}

// JobsShow prints one job as JSON.
func (r *Runner) JobsShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	if err := r.loadJobs(ctx); err != nil {
		return err
	}
	defer r.Close()

	job, ok := r.engine.Store().Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnknownJob, id)
	}
	return r.writeJSON(job, true)
}

// JobsRemove stops tracking a job locally. The backend is not told.
func (r *Runner) JobsRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	if err := r.loadJobs(ctx); err != nil {
		return err
	}
	defer r.Close()

	if !r.engine.Store().Remove(id) {
		return fmt.Errorf("%w: %s", shared.ErrUnknownJob, id)
	}
	return r.writePlain("✓ Removed %s\n", id)
}

// JobsPublish publishes a READY job.
func (r *Runner) JobsPublish(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}

	if err := r.connect(ctx); err != nil {
		return err
	}
	defer r.Close()

	job, err := r.engine.Publish(ctx, id, models.Platform(cmd.String("platform")))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Published #%s to %s (%s)\n", job.JobID, job.Platform, job.State)
}

// JobsExport writes tracked jobs to a file in the requested format.
func (r *Runner) JobsExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadJobs(ctx); err != nil {
		return err
	}
	defer r.Close()

	path, err := formatter.Write(cmd.String("format"), r.engine.Store().List(), cmd.String("output"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Exported to %s\n", path)
}

func jobTable(jobs []models.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		id := j.JobID
		if id == "" {
			id = "-"
		}
		rows = append(rows, []string{
			id,
			j.State.String(),
			j.Title,
			string(j.Platform),
			j.CreatedAt.Local().Format(time.DateTime),
			j.TempID,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATE", "TITLE", "PLATFORM", "CREATED", "TEMP ID").
		Rows(rows...).
		Render()
}
