package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/klauern/rowsync/internal/config"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/ui"
)

// openOrchestrator validates the config for a side and opens its database.
// The caller closes the returned orchestrator's provider.
func openOrchestrator(cfg *config.Config, side interceptor.Side) (*sync.LocalOrchestrator, error) {
	role, name, conn, setup := config.RoleServer, cfg.Server.Provider, cfg.Server.ConnectionString, cfg.Setup()
	if side == interceptor.Client {
		// The client takes its setup from the server.
		role, name, conn, setup = config.RoleClient, cfg.Client.Provider, cfg.Client.ConnectionString, nil
	}
	if result := cfg.Validate(role); result.HasErrors() {
		return nil, result.Error()
	}
	p, err := provider.New(name, conn)
	if err != nil {
		return nil, err
	}
	return sync.NewLocalOrchestrator(p, setup, cfg.SyncOptions(), side), nil
}

func sideFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "side",
		Value: string(interceptor.Server),
		Usage: "Database to act on (server, client)",
	}
}

func parseSide(s string) (interceptor.Side, error) {
	switch side := interceptor.Side(s); side {
	case interceptor.Server, interceptor.Client:
		return side, nil
	default:
		return "", fmt.Errorf("unknown side %q (expected server or client)", s)
	}
}

func provisionCommand() *cli.Command {
	return &cli.Command{
		Name:  "provision",
		Usage: "Create tracking tables and triggers for the configured scope",
		Description: `Discover the configured tables on the server database and create their
   tracking tables, triggers and scope records. Existing rows are tracked so
   the first client sync downloads them.

   Clients are provisioned from the server schema on their first sync.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			o, err := openOrchestrator(cfg, interceptor.Server)
			if err != nil {
				return err
			}
			defer o.Provider.Close()

			info, err := o.EnsureServerScope(ctx, cfg.Scope.Name)
			if err != nil {
				return err
			}
			verb := "Scope is up to date"
			if info.IsNewScope {
				verb = "Provisioned scope"
			}
			fmt.Println(ui.StatusSuccess(fmt.Sprintf("%s %s (%d tables, version %s)",
				verb, ui.Bold(info.Name), len(info.Schema.Tables), ui.Truncate(info.Version, 12))))
			return nil
		},
	}
}

func deprovisionCommand() *cli.Command {
	return &cli.Command{
		Name:  "deprovision",
		Usage: "Remove tracking tables, triggers and scope records",
		Flags: []cli.Flag{
			sideFlag(),
			&cli.BoolFlag{
				Name:  "drop-tables",
				Usage: "Also drop the synchronized data tables",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			side, err := parseSide(cmd.String("side"))
			if err != nil {
				return err
			}
			cfg := configFrom(ctx)
			o, err := openOrchestrator(cfg, side)
			if err != nil {
				return err
			}
			defer o.Provider.Close()

			set, err := provisionedSchema(ctx, o, cfg.Scope.Name)
			if err != nil {
				return err
			}
			if err := o.Deprovision(ctx, set, cmd.Bool("drop-tables")); err != nil {
				return err
			}
			fmt.Println(ui.StatusSuccess(fmt.Sprintf("Deprovisioned %d tables on the %s", len(set.Tables), side)))
			return nil
		},
	}
}

// provisionedSchema returns the schema a side was provisioned with.
func provisionedSchema(ctx context.Context, o *sync.LocalOrchestrator, scopeName string) (*schema.Set, error) {
	if o.Side() == interceptor.Server {
		return o.GetSchema(ctx)
	}
	info, err := o.GetClientScope(ctx, scopeName)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Schema == nil {
		return nil, errors.New("client scope " + scopeName + " was never synchronized")
	}
	o.Setup = info.Setup
	return info.Schema, nil
}
