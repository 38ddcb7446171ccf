package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/retry"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

// LocalOrchestrator runs the operations of one participant against its own
// database: provisioning, schema discovery, scope records, change
// selection and change application.
type LocalOrchestrator struct {
	Provider provider.Provider
	// Setup selects the tables and names the tracking objects.
	Setup        *schema.Setup
	Options      Options
	Interceptors *interceptor.Registry

	side interceptor.Side
}

// NewLocalOrchestrator creates an orchestrator for one side of a sync.
func NewLocalOrchestrator(p provider.Provider, setup *schema.Setup, opts Options, side interceptor.Side) *LocalOrchestrator {
	return &LocalOrchestrator{
		Provider:     p,
		Setup:        setup,
		Options:      opts,
		Interceptors: interceptor.NewRegistry(),
		side:         side,
	}
}

// Side returns the participant this orchestrator acts for.
func (o *LocalOrchestrator) Side() interceptor.Side {
	return o.side
}

func (o *LocalOrchestrator) db(ctx context.Context) (*sql.DB, error) {
	db, err := o.Provider.CreateConnection(ctx)
	if err != nil {
		return nil, o.Provider.EnsureSyncError(err)
	}
	return db, nil
}

func (o *LocalOrchestrator) scopes() provider.ScopeBuilder {
	return o.Provider.ScopeBuilder(o.Options.ScopeTablePrefix)
}

// inTx runs fn in a transaction, retrying the whole transaction from its
// start on transient provider errors.
func (o *LocalOrchestrator) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	db, err := o.db(ctx)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, o.Options.Retry, o.Provider.ShouldRetryOn, func(ctx context.Context, attempt int) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	return o.Provider.EnsureSyncError(err)
}

// LocalTimestamp returns the current change tick of the database.
func (o *LocalOrchestrator) LocalTimestamp(ctx context.Context) (int64, error) {
	db, err := o.db(ctx)
	if err != nil {
		return 0, err
	}
	ts, err := o.Provider.DatabaseBuilder().LocalTimestamp(ctx, db)
	return ts, o.Provider.EnsureSyncError(err)
}

// GetSchema discovers the schema of the setup's tables from the database.
func (o *LocalOrchestrator) GetSchema(ctx context.Context) (*schema.Set, error) {
	if !o.Setup.HasTables() {
		return nil, syncerr.New(syncerr.KindConfiguration, "get_schema", "setup has no tables")
	}
	db, err := o.db(ctx)
	if err != nil {
		return nil, err
	}

	set := &schema.Set{}
	for _, st := range o.Setup.Tables {
		table := &schema.Table{Name: st.Name, SchemaName: st.SchemaName, Direction: st.Direction}
		tb := o.Provider.TableBuilder(table, o.Setup)

		ok, err := tb.ExistsTable(ctx, db)
		if err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
		if !ok {
			return nil, syncerr.Newf(syncerr.KindConfiguration, "get_schema", "table %s does not exist", st.FullName())
		}
		cols, err := tb.GetColumns(ctx, db)
		if err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
		pks, err := tb.GetPrimaryKeys(ctx, db)
		if err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
		if len(pks) == 0 {
			return nil, syncerr.Newf(syncerr.KindConfiguration, "get_schema", "table %s has no primary key", st.FullName())
		}
		if len(st.Columns) > 0 {
			cols = slices.DeleteFunc(cols, func(c schema.Column) bool {
				return !slices.Contains(st.Columns, c.Name) && !slices.Contains(pks, c.Name)
			})
		}
		table.Columns, table.PrimaryKeys = cols, pks

		rels, err := tb.GetRelations(ctx, db)
		if err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
		set.Tables = append(set.Tables, table)
		set.Relations = append(set.Relations, rels...)
	}

	// Relations to tables outside the setup cannot be ordered.
	set.Relations = slices.DeleteFunc(set.Relations, func(r schema.Relation) bool {
		return set.Table(r.ParentTable, r.ParentSchemaName) == nil
	})
	if err := set.Validate(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, "get_schema", err)
	}
	return set.Stamp(), nil
}

// provisionTable creates the tracking table and triggers of one table and
// tracks its existing rows. createTable also creates the data table.
func (o *LocalOrchestrator) provisionTable(ctx context.Context, q provider.Querier, t *schema.Table, createTable bool) error {
	tb := o.Provider.TableBuilder(t, o.Setup)
	if createTable {
		if err := tb.CreateTable(ctx, q); err != nil {
			return err
		}
	}
	if err := tb.CreateTrackingTable(ctx, q); err != nil {
		return err
	}
	if err := tb.DropTriggers(ctx, q); err != nil {
		return err
	}
	if err := tb.CreateTriggers(ctx, q); err != nil {
		return err
	}
	n, err := tb.UpdateUntrackedRows(ctx, q)
	if err != nil {
		return err
	}
	logging.Debug("table provisioned", logging.Table(t.FullName()), slog.Int64("tracked_rows", n))
	return nil
}

// Provision creates the tick source, the scope tables and the tracking
// structures of every table in set. createTables also creates missing data
// tables, as a client does from the server schema.
func (o *LocalOrchestrator) Provision(ctx context.Context, scopeName string, set *schema.Set, createTables bool) error {
	defer logging.Timer("provision")()

	tables, err := set.Ordered()
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfiguration, "provision", err)
	}
	err = o.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.Provider.DatabaseBuilder().EnsureDatabase(ctx, tx); err != nil {
			return err
		}
		if err := o.scopes().EnsureTables(ctx, tx); err != nil {
			return err
		}
		for _, t := range tables {
			if err := o.provisionTable(ctx, tx, t, createTables); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}

	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.FullName()
	}
	logging.Info("provisioned", logging.Scope(scopeName), logging.Count(len(names)), logging.Provider(o.Provider.Name()))
	return interceptor.Run(ctx, o.Interceptors, &interceptor.ProvisionedArgs{Side: o.side, ScopeName: scopeName, Tables: names})
}

// Deprovision removes the triggers and tracking tables of set, the scope
// tables and the tick source. dropTables also drops the data tables.
func (o *LocalOrchestrator) Deprovision(ctx context.Context, set *schema.Set, dropTables bool) error {
	tables, err := set.Ordered()
	if err != nil {
		tables = set.Tables
	}
	err = o.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, t := range slices.Backward(tables) {
			tb := o.Provider.TableBuilder(t, o.Setup)
			if err := tb.DropTriggers(ctx, tx); err != nil {
				return err
			}
			if err := tb.DropTrackingTable(ctx, tx); err != nil {
				return err
			}
			if dropTables {
				if err := tb.DropTable(ctx, tx); err != nil {
					return err
				}
			}
		}
		if err := o.scopes().DropTables(ctx, tx); err != nil {
			return err
		}
		return o.Provider.DatabaseBuilder().DropDatabase(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("deprovision: %w", err)
	}
	return nil
}
