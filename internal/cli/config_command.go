package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/klauern/rowsync/internal/config"
	"github.com/klauern/rowsync/internal/ui"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage rowsync configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "yaml",
						Usage:   "Output format (yaml, toml)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					format := cmd.String("format")
					if format != "yaml" && format != "toml" {
						return fmt.Errorf("unsupported format %q (expected yaml or toml)", format)
					}
					data, err := configFrom(ctx).Marshal(format == "toml")
					if err != nil {
						return err
					}
					fmt.Print(string(data))
					return nil
				},
			},
			{
				Name:      "init",
				Usage:     "Write a default configuration file",
				UsageText: "rowsync config init [--force] [path]",
				Description: `Write the default configuration to path, or to ~/.rowsync/config.yaml.
   A path ending in .toml is written as TOML.`,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						path = config.FilePath()
					}
					if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					}
					if err := config.Default().SaveToPath(path); err != nil {
						return fmt.Errorf("write config: %w", err)
					}
					abs, _ := filepath.Abs(path)
					fmt.Println(ui.StatusSuccess("Wrote " + abs))
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check the configuration for a server or client",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "role",
						Value: string(config.RoleServer),
						Usage: "Role to validate (server, client)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					role := config.Role(cmd.String("role"))
					if role != config.RoleServer && role != config.RoleClient {
						return fmt.Errorf("unknown role %q (expected server or client)", role)
					}
					result := configFrom(ctx).Validate(role)
					for _, w := range result.Warnings {
						fmt.Println(ui.StatusWarning(w))
					}
					if result.HasErrors() {
						for _, err := range result.Errors {
							fmt.Println(ui.StatusError(err.Error()))
						}
						return errors.New("configuration is invalid")
					}
					fmt.Println(ui.StatusSuccess(fmt.Sprintf("%s configuration is valid", role)))
					return nil
				},
			},
		},
	}
}
