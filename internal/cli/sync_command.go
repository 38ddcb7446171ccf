package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/progress"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/ui"
	"github.com/klauern/rowsync/internal/web"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Synchronize the client database with the server",
		UsageText: "rowsync sync [options]",
		Description: `Run one sync session: upload local changes, download server changes and
   advance the client watermark. A failed session leaves the watermark
   untouched, so the next run resends what was not confirmed.

   Examples:
     rowsync sync
     rowsync sync --server http://sync.internal:8080/sync --param region=emea`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "Server sync URL (overrides client.server_url)",
			},
			&cli.StringFlag{
				Name:  "scope",
				Usage: "Scope name (overrides scope.name)",
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "Filter parameter as name=value (repeatable)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			if v := cmd.String("server"); v != "" {
				cfg.Client.ServerURL = v
			}
			if v := cmd.String("scope"); v != "" {
				cfg.Scope.Name = v
			}
			params, err := parseParams(cmd.StringSlice("param"))
			if err != nil {
				return err
			}
			if len(params) > 0 {
				if cfg.Scope.Parameters == nil {
					cfg.Scope.Parameters = make(map[string]string, len(params))
				}
				for k, v := range params {
					cfg.Scope.Parameters[k] = v
				}
			}

			local, err := openOrchestrator(cfg, interceptor.Client)
			if err != nil {
				return err
			}
			defer local.Provider.Close()

			client, err := web.NewClient(cfg.Client.ServerURL, cfg.Options.Compression, cfg.RetryPolicy())
			if err != nil {
				return err
			}
			defer client.Close()

			tracker := progress.Attach(local.Interceptors, os.Stderr)
			result, err := sync.NewAgent(local, client).Synchronize(ctx, cfg.Scope.Name, cfg.Parameters())
			tracker.Close()

			ui.RenderResult(os.Stdout, result)
			if err != nil {
				return fmt.Errorf("sync %s: %w", result.Status, err)
			}
			if len(result.Unresolved()) > 0 {
				return errors.New("sync completed with unresolved conflicts")
			}
			return nil
		},
	}
}

// parseParams parses name=value pairs.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected name=value)", p)
		}
		out[name] = value
	}
	return out, nil
}
