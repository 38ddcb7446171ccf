package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/ui"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "table",
		Usage:   "Output format: table, json, yaml",
	}
}

func scopeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scope",
		Usage: "Inspect scope records and watermarks",
		Description: `A scope is a named set of synchronized tables. The server keeps one
   history record per client with the watermark of its last completed sync;
   each client keeps its own scope record with both watermarks.`,
		Commands: []*cli.Command{
			scopeClientsCommand(),
			scopeShowCommand(),
		},
	}
}

func scopeClientsCommand() *cli.Command {
	return &cli.Command{
		Name:    "clients",
		Aliases: []string{"ls"},
		Usage:   "List the clients that synchronized the scope (server database)",
		Flags:   []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			o, err := openOrchestrator(cfg, interceptor.Server)
			if err != nil {
				return err
			}
			defer o.Provider.Close()

			histories, err := o.ListServerHistory(ctx, cfg.Scope.Name)
			if err != nil {
				return err
			}
			switch format := cmd.String("format"); format {
			case "json":
				return outputJSON(histories)
			case "yaml":
				return outputYAML(histories)
			case "table":
				ui.RenderHistories(os.Stdout, histories)
				if len(histories) > 0 {
					fmt.Printf("\nTotal: %d client(s)\n", len(histories))
				}
				return nil
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
		},
	}
}

func scopeShowCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Show the client's scope record (client database)",
		Flags: []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			o, err := openOrchestrator(cfg, interceptor.Client)
			if err != nil {
				return err
			}
			defer o.Provider.Close()

			info, err := o.EnsureClientScope(ctx, cfg.Scope.Name)
			if err != nil {
				return err
			}
			switch format := cmd.String("format"); format {
			case "json":
				return outputJSON(info)
			case "yaml":
				return outputYAML(info)
			case "table":
				ui.RenderClientScope(os.Stdout, info)
				return nil
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(v)
}
