package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/csync/internal/services"
	"github.com/desertthunder/csync/internal/shared"
	"github.com/urfave/cli/v3"
)

// APIGet makes a direct authenticated GET request to the backend
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	if err := r.authenticate(ctx); err != nil {
		return err
	}
	defer r.Close()

	r.logger.Info("GET request", "path", path)

	resp, err := r.engine.Client().Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, !cmd.Bool("json"))
}

// APIPost makes a direct authenticated POST request to the backend
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	data := cmd.String("data")

	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}

	var jsonTest any
	if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
		return fmt.Errorf("%w: data is not valid JSON: %v", shared.ErrInvalidInput, err)
	}

	if err := r.authenticate(ctx); err != nil {
		return err
	}
	defer r.Close()

	r.logger.Info("POST request", "path", path)

	resp, err := r.engine.Client().Post(ctx, path, []byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, true)
}

// authenticate opens local state and bootstraps a credential without starting the engine.
func (r *Runner) authenticate(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	if r.engine.Client().Session() == "" {
		r.Close()
		return fmt.Errorf("%w: %w", shared.ErrReauthRequired, shared.ErrNoSession)
	}
	if err := r.engine.Client().Bootstrap(ctx); err != nil {
		r.Close()
		return fmt.Errorf("%w: %v", shared.ErrReauthRequired, err)
	}
	return nil
}

func (r *Runner) writeResponse(resp *services.APIResponse, pretty bool) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, pretty)
	}

	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}
