// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/csync/internal/formatter"
	"github.com/urfave/cli/v3"
)

// newApp builds the root command.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "csync",
		Usage:   "Keep a local view of content generation jobs in sync with the backend",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("CSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Before:   r.Before,
		Commands: r.register(),
	}
}

// setupCommand handles first-run setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file and database, and run migrations",
		Action: r.Setup,
	}
}

// authCommand handles session management
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the backend session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in and store the session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "Account username",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "password",
						Aliases: []string{"p"},
						Usage:   "Account password",
						Sources: cli.EnvVars("CSYNC_PASSWORD"),
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "import",
				Usage: "Store the session cookie from a dashboard request copied as cURL",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "curl",
						Usage: "cURL command from browser DevTools (Copy as cURL)",
					},
					&cli.StringFlag{
						Name:  "curl-file",
						Usage: "Path to .sh file containing cURL command",
					},
				},
				Action: r.AuthImport,
			},
			{
				Name:   "logout",
				Usage:  "End the session and forget it",
				Action: r.AuthLogout,
			},
			{
				Name:   "status",
				Usage:  "Check whether the stored session still yields a credential",
				Action: r.AuthStatus,
			},
		},
	}
}

// jobsCommand handles job operations
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Submit, inspect and publish jobs",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit a new content generation job",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "title",
						Aliases:  []string{"t"},
						Usage:    "Job title",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Publishing platform (youtube or reddit)",
						Value: "youtube",
					},
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "Extra JSON payload sent with the job",
					},
				},
				Action: r.JobsSubmit,
			},
			{
				Name:  "list",
				Usage: "List tracked jobs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state",
						Usage: "Only show jobs in this state",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "folders",
						Usage: "Group jobs by creation date",
					},
				},
				Action: r.JobsList,
			},
			{
				Name:  "show",
				Usage: "Show one job by temp id or server id",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.JobsShow,
			},
			{
				Name:  "remove",
				Usage: "Stop tracking a job locally",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.JobsRemove,
			},
			{
				Name:  "publish",
				Usage: "Publish a READY job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Override the job's platform",
					},
				},
				Action: r.JobsPublish,
			},
			{
				Name:  "export",
				Usage: "Export tracked jobs to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (csv, md, txt, json)",
						Value:   formatter.FormatCSV,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file or directory",
					},
				},
				Action: r.JobsExport,
			},
		},
	}
}

// syncCommand handles running the sync engine
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the sync engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Follow the event stream and poll until interrupted",
				Action: r.SyncRun,
			},
			{
				Name:   "poll",
				Usage:  "Run one reconciliation pass and exit",
				Action: r.SyncPoll,
			},
		},
	}
}

// stateCommand handles the locally persisted state
func stateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Inspect or reset locally persisted state",
		Commands: []*cli.Command{
			{
				Name:   "keys",
				Usage:  "List stored snapshots",
				Action: r.StateKeys,
			},
			{
				Name:  "clear",
				Usage: "Delete a stored snapshot",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Action: r.StateClear,
			},
		},
	}
}

// apiCommand handles direct API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct authenticated API calls",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}

// watchCommand returns the top-level TUI command.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"tui", "ui"},
		Usage:   "Live dashboard of connection health and jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the dashboard is open",
				Value: "./tmp/csync-watch.log",
			},
		},
		Action: r.Watch,
	}
}
