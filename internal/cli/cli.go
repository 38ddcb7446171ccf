// Package cli provides the command-line interface for rowsync.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/klauern/rowsync/internal/config"
	"github.com/klauern/rowsync/internal/logging"
	_ "github.com/klauern/rowsync/internal/provider/postgres"
	_ "github.com/klauern/rowsync/internal/provider/sqlite"
	"github.com/klauern/rowsync/internal/ui"
)

var (
	// Version is the current version of the application.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the date and time of the build.
	BuildDate = "unknown"
)

// Run executes the CLI application with the given context and arguments.
func Run(ctx context.Context, args []string) error {
	app := &cli.Command{
		Name:    "rowsync",
		Usage:   "Synchronize database tables between a server and its clients",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML config file (default: ~/.rowsync/config.yaml)",
				Sources: cli.EnvVars("ROWSYNC_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output (info level logging)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug output (debug level logging, implies verbose)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			config.LoadEnvFiles(".")
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			if err := configureColors(cmd, cfg); err != nil {
				return ctx, err
			}
			configureLogging(cmd, cfg)
			return withConfig(ctx, cfg), nil
		},
		Commands: []*cli.Command{
			versionCommand(),
			configCommand(),
			provisionCommand(),
			deprovisionCommand(),
			serveCommand(),
			syncCommand(),
			scopeCommand(),
		},
	}
	return app.Run(ctx, args)
}

// loadConfig loads an explicit config file, or the default one when path is
// empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// configFrom returns the configuration loaded by the root command.
func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// configureColors sets up color output based on CLI flags and config.
func configureColors(cmd *cli.Command, cfg *config.Config) error {
	if cmd.Bool("no-color") {
		ui.DisableColors()
		return nil
	}
	return ui.ConfigureColor(cfg.Output.Color, os.Stdout)
}

// configureLogging sets up the logging level based on CLI flags.
func configureLogging(cmd *cli.Command, cfg *config.Config) {
	opts := logging.DefaultOptions()
	opts.JSON = cfg.Output.LogFormat == "json"

	if cmd.Bool("debug") {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	} else if cmd.Bool("verbose") || cfg.Output.Verbose {
		opts.Level = slog.LevelInfo
	}

	logger := logging.New(opts)
	logging.SetDefault(logger)

	logging.Debug("logging configured", slog.String("level", opts.Level.String()))
}
