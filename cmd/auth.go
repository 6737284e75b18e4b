package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/csync/internal/repositories"
	"github.com/desertthunder/csync/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthLogin exchanges credentials for a session and stores it for later runs.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	username := cmd.String("username")
	password := cmd.String("password")
	if password == "" {
		return fmt.Errorf("%w: --password or CSYNC_PASSWORD is required", shared.ErrMissingArgument)
	}

	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.Close()

	r.logger.Info("logging in", "username", username, "base_url", r.config.API.BaseURL)

	cookie, err := r.engine.Client().Login(ctx, username, password)
	if err != nil {
		return err
	}

	session := repositories.Session{Cookie: cookie, Username: username, CreatedAt: time.Now()}
	if err := r.sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return r.writePlain("✓ Logged in as %s\n", username)
}

// AuthImport stores the session cookie found in a cURL command copied from the dashboard.
func (r *Runner) AuthImport(ctx context.Context, cmd *cli.Command) error {
	curlCmd := cmd.String("curl")
	curlFile := cmd.String("curl-file")

	if curlCmd == "" && curlFile == "" {
		return fmt.Errorf("%w: either --curl or --curl-file must be provided", shared.ErrMissingArgument)
	}

	if curlCmd != "" && curlFile != "" {
		return fmt.Errorf("%w: cannot specify both --curl and --curl-file", shared.ErrInvalidArgument)
	}

	cookieName := r.config.API.SessionCookie

	var parsed *shared.CurlSession
	var err error
	if curlFile != "" {
		parsed, err = shared.ParseCurlFile(curlFile, cookieName)
		if err != nil {
			return fmt.Errorf("failed to parse cURL file: %w", err)
		}
		r.logger.Info("parsed cURL from file", "file", curlFile)
	} else {
		parsed, err = shared.ParseCurlCommand([]byte(curlCmd), cookieName)
		if err != nil {
			return fmt.Errorf("failed to parse cURL command: %w", err)
		}
		r.logger.Info("parsed cURL command")
	}

	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.Close()

	if err := r.sessions.Save(ctx, repositories.Session{Cookie: parsed.Session, CreatedAt: time.Now()}); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	r.engine.Client().SetSession(parsed.Session)

	r.writePlain("✓ Session imported\n")
	if err := r.engine.Client().Bootstrap(ctx); err != nil {
		r.logger.Warn("imported session did not refresh", "error", err)
		return r.writePlain("⚠ The backend rejected the session: %v\n", err)
	}
	return r.writePlain("✓ Session verified\n")
}

// AuthLogout ends the backend session and removes the stored one. The local session is removed
// even when the backend cannot be reached.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.Close()

	client := r.engine.Client()
	if client.Session() == "" {
		return r.writePlain("Not logged in\n")
	}

	if err := client.Bootstrap(ctx); err != nil {
		r.logger.Debug("session already expired", "error", err)
	}
	if err := r.engine.Logout(ctx); err != nil {
		r.logger.Warn("backend logout failed", "error", err)
	}

	if err := r.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	return r.writePlain("✓ Logged out\n")
}

// AuthStatus reports whether the stored session still yields an access token.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	defer r.Close()

	session, err := r.sessions.Get(ctx)
	if errors.Is(err, shared.ErrNoSession) {
		return r.writePlain("✗ Not logged in\n")
	}
	if err != nil {
		return err
	}

	r.writePlain("Backend: %s\n", r.config.API.BaseURL)
	if session.Username != "" {
		r.writePlain("User: %s\n", session.Username)
	}
	r.writePlain("Session stored: %s\n", session.CreatedAt.Local().Format(time.DateTime))

	if err := r.engine.Client().Bootstrap(ctx); err != nil {
		r.logger.Debug("refresh failed", "error", err)
		return r.writePlain("Authentication: ✗ Session expired, run 'csync auth login'\n")
	}
	return r.writePlain("Authentication: ✓ Authenticated\n")
}
