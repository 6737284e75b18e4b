package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/repositories"
	"github.com/desertthunder/csync/internal/shared"
	"github.com/desertthunder/csync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and engine are opened lazily by the commands that need them and released by [Runner.Close].
type Runner struct {
	config     *shared.Config
	configPath string
	transport  http.RoundTripper
	logger     *log.Logger
	output     io.Writer

	db        *sql.DB
	snapshots *repositories.SnapshotRepository
	sessions  *repositories.SessionRepository
	engine    *tasks.Engine
	progress  chan tasks.PollReport
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Transport  http.RoundTripper // Base transport for backend requests; nil uses the default
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		transport:  opts.Transport,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, jobsCommand, syncCommand, stateCommand, apiCommand, watchCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the config file named by --config when it exists and applies the log level.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
	}

	level := r.config.Log.Level
	if override := cmd.String("log-level"); override != "" {
		level = override
	}
	return ctx, shared.SetLogLevel(r.logger, level)
}

// SetLogger replaces the logger used by the runner and anything it opens afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// open connects to the database and builds the engine on top of it, loading the stored session
// into the client. Calling open again is a no-op until [Runner.Close].
func (r *Runner) open(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return err
	}

	r.db = db
	r.snapshots = repositories.NewSnapshotRepository(db)
	r.sessions = repositories.NewSessionRepository(r.snapshots)
	r.progress = make(chan tasks.PollReport, 8)
	r.engine = tasks.NewEngine(r.config, tasks.EngineOptions{
		Persister: r.snapshots,
		Transport: r.transport,
		Progress:  r.progress,
		Logger:    r.logger,
	})

	session, err := r.sessions.Get(ctx)
	switch {
	case err == nil:
		r.engine.Client().SetSession(session.Cookie)
	case errors.Is(err, shared.ErrNoSession):
	default:
		r.logger.Warn("ignoring stored session", "error", err)
	}
	return nil
}

// loadJobs opens local state and restores the job store without touching the network.
func (r *Runner) loadJobs(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	if err := r.engine.Store().Restore(ctx); err != nil {
		r.Close()
		return err
	}
	return nil
}

// connect restores the job store and bootstraps a credential, leaving the push channel and poller
// stopped. It serves one-shot commands that only talk to the backend.
func (r *Runner) connect(ctx context.Context) error {
	if err := r.loadJobs(ctx); err != nil {
		return err
	}
	if err := r.authenticate(ctx); err != nil {
		return err
	}
	return nil
}

// start opens local state and starts the engine. A missing or expired session is an error
// wrapping [shared.ErrReauthRequired]; everything is closed again on error.
func (r *Runner) start(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	if r.engine.Client().Session() == "" {
		r.Close()
		return fmt.Errorf("%w: %w", shared.ErrReauthRequired, shared.ErrNoSession)
	}

	if err := r.engine.Start(ctx); err != nil {
		r.Close()
		return err
	}
	return nil
}

// Close stops the engine and closes the database. Safe to call repeatedly.
func (r *Runner) Close() {
	if r.engine != nil {
		r.engine.Stop()
		r.engine = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("failed to close database", "error", err)
		}
		r.db, r.snapshots, r.sessions = nil, nil, nil
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
