package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/migration"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

// Selection describes which local changes to send.
type Selection struct {
	// Since is the last tick already sent to the peer.
	Since int64
	// ExcludeScopeID skips rows the peer itself produced.
	ExcludeScopeID string
	// Parameters supply the filter values.
	Parameters map[string]any
}

// sends reports whether this side sends a table's changes.
func (o *LocalOrchestrator) sends(t *schema.Table) bool {
	if o.side == interceptor.Client {
		return t.EffectiveDirection().ClientSends()
	}
	return t.EffectiveDirection().ServerSends()
}

// GetChanges selects the changes after sel.Since up to the current tick and
// groups them into parts. Deletes come first in reverse dependency order,
// then upserts in dependency order. The returned Info.Timestamp is the tick
// snapshot the selection ran up to.
func (o *LocalOrchestrator) GetChanges(ctx context.Context, set *schema.Set, sel Selection) (*batch.Info, error) {
	defer logging.Timer("get_changes")()

	db, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	until, err := o.Provider.DatabaseBuilder().LocalTimestamp(ctx, db)
	if err != nil {
		return nil, o.Provider.EnsureSyncError(err)
	}

	args := &interceptor.GettingChangesArgs{Side: o.side, Since: sel.Since, Until: until, ExcludeScopeID: sel.ExcludeScopeID}
	if err := interceptor.Run(ctx, o.Interceptors, args); err != nil {
		return nil, err
	}

	ordered, err := set.Ordered()
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, "get_changes", err)
	}
	tables := slices.DeleteFunc(slices.Clone(ordered), func(t *schema.Table) bool { return !o.sends(t) })

	batcher := batch.NewBatcher(o.Options.BatchMaxBytes, o.Options.BatchMaxRows)
	selectTable := func(t *schema.Table, mode provider.SelectMode) error {
		opts := provider.SelectOptions{
			Since:          sel.Since,
			Until:          until,
			ExcludeScopeID: sel.ExcludeScopeID,
			Mode:           mode,
			Parameters:     sel.Parameters,
		}
		return o.Provider.SyncAdapter(t, o.Setup).SelectChanges(ctx, db, opts, func(row batch.Row) error {
			return batcher.Add(t.Name, t.SchemaName, row)
		})
	}
	for _, t := range slices.Backward(tables) {
		if err := selectTable(t, provider.SelectTombstones); err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
	}
	for _, t := range tables {
		if err := selectTable(t, provider.SelectUpserts); err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
	}

	info := batcher.Finish(until)
	logging.Debug("changes selected",
		slog.String("side", string(o.side)),
		slog.Int64("since", sel.Since),
		slog.Int64("until", until),
		logging.Count(info.RowsCount),
		slog.Int("batches", info.Count),
	)
	if err := interceptor.Run(ctx, o.Interceptors, &interceptor.BatchCreatedArgs{Side: o.side, Info: info}); err != nil {
		return nil, err
	}
	return info, nil
}

// ApplyContext describes where incoming changes come from.
type ApplyContext struct {
	// Originator is the scope id of the sender, recorded as the producer of
	// applied rows.
	Originator string
	// LastSync is the local tick of the last sync with the sender. Local
	// rows changed after it may conflict.
	LastSync int64
	// Policy resolves conflicts.
	Policy     ConflictPolicy
	BatchCount int
}

// ApplyResult counts what happened to the rows of one part.
type ApplyResult struct {
	Applied   int
	Skipped   int
	Conflicts []Conflict
}

// ApplyChanges applies one part in a single transaction. Transient failures
// re-run the transaction from its start; a failed part leaves no row
// applied.
func (o *LocalOrchestrator) ApplyChanges(ctx context.Context, set *schema.Set, part *batch.Part, ac ApplyContext) (*ApplyResult, error) {
	if part == nil {
		return nil, syncerr.New(syncerr.KindProtocol, "apply_changes", "missing batch part")
	}
	args := &interceptor.ApplyingChangesArgs{
		Side:       o.side,
		BatchIndex: part.Index,
		BatchCount: ac.BatchCount,
		RowCount:   part.RowCount,
		Policy:     string(ac.Policy),
	}
	if err := interceptor.Run(ctx, o.Interceptors, args); err != nil {
		return nil, err
	}

	r := &resolver{side: o.side, policy: ac.Policy, interceptors: o.Interceptors}
	res := &ApplyResult{}
	err := o.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		*res = ApplyResult{}
		if part.Changes == nil {
			return nil
		}
		for _, ct := range part.Changes.Tables {
			table := set.Table(ct.TableName, ct.SchemaName)
			if table == nil {
				return syncerr.Newf(syncerr.KindSchemaMismatch, "apply_changes", "table %s is not part of the scope",
					schema.QualifiedName(ct.TableName, ct.SchemaName))
			}
			adapter := o.Provider.SyncAdapter(table, o.Setup)
			for _, row := range ct.Rows {
				if err := o.applyRow(ctx, tx, table, adapter, row, ac, r, res); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Debug("batch applied",
		slog.String("side", string(o.side)),
		logging.Batch(part.Index),
		slog.Int("applied", res.Applied),
		slog.Int("skipped", res.Skipped),
		slog.Int("conflicts", len(res.Conflicts)),
	)
	done := &interceptor.BatchAppliedArgs{
		Side:       o.side,
		BatchIndex: part.Index,
		BatchCount: ac.BatchCount,
		Applied:    res.Applied,
		Skipped:    res.Skipped,
		Conflicts:  len(res.Conflicts),
	}
	if err := interceptor.Run(ctx, o.Interceptors, done); err != nil {
		return nil, err
	}
	return res, nil
}

func (o *LocalOrchestrator) applyRow(ctx context.Context, tx *sql.Tx, table *schema.Table, adapter provider.SyncAdapter,
	row batch.Row, ac ApplyContext, r *resolver, res *ApplyResult) error {
	values, err := table.ConvertRow(row.Values)
	if err != nil {
		return syncerr.Wrap(syncerr.KindSchemaMismatch, "apply_changes", err)
	}
	row.Values = values

	pk, err := adapter.PrimaryKey(row)
	if err != nil {
		return syncerr.Wrap(syncerr.KindProtocol, "apply_changes", err)
	}
	local, err := adapter.SelectRow(ctx, tx, pk)
	if err != nil {
		return err
	}

	originator := ac.Originator
	if local != nil {
		// Already applied from the same sender: a replayed batch.
		if originator != "" && local.UpdateScopeID == originator && isReplay(*local, row) {
			res.Skipped++
			return nil
		}

		if local.Timestamp > ac.LastSync && local.UpdateScopeID != originator {
			if typ, ok := conflictType(*local, row); ok {
				choice, merged, err := r.resolve(ctx, table, *local, row)
				if err != nil {
					return err
				}
				res.Conflicts = append(res.Conflicts, Conflict{
					Side:             o.side,
					Table:            table.FullName(),
					Key:              pk,
					Type:             typ,
					Policy:           ac.Policy,
					Resolution:       choice,
					LocalModifiedAt:  local.ModifiedAt,
					RemoteModifiedAt: row.ModifiedAt,
				})
				switch choice {
				case ResolutionKeepLocal, ResolutionUnresolved:
					res.Skipped++
					return nil
				case ResolutionMerged:
					if row.Values, err = table.ConvertRow(merged); err != nil {
						return syncerr.Wrap(syncerr.KindConflict, "apply_changes", err)
					}
					// A merged row is a new local version that both sides must receive.
					row.State = batch.Modified
					row.ModifiedAt = time.Now().UnixMicro()
					originator = ""
				}
			}
		}
	}

	if row.IsTombstone() {
		err = adapter.ApplyDelete(ctx, tx, row, originator)
	} else {
		err = adapter.ApplyUpsert(ctx, tx, row, originator)
	}
	if err != nil {
		return err
	}
	res.Applied++
	return nil
}

// Migrate moves the provisioned structures from the current schema to
// next: new columns are added (on the client), tracking tables and
// triggers are rebuilt where needed, new tables are provisioned and
// removed ones deprovisioned.
func (o *LocalOrchestrator) Migrate(ctx context.Context, scopeName string, current, next *schema.Set) (*migration.Plan, error) {
	plan, err := migration.CompareSets(current, next, o.Options.PreserveTracking)
	if err != nil {
		return nil, err
	}
	if !plan.HasChanges() {
		return plan, nil
	}
	createTables := o.side == interceptor.Client

	err = o.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, m := range plan.Tables {
			if !m.HasChanges() {
				continue
			}
			tb := o.Provider.TableBuilder(m.New, o.Setup)
			if createTables && len(m.AddedColumns) > 0 {
				if err := o.addMissingColumns(ctx, tx, tb, m.AddedColumns); err != nil {
					return err
				}
			}
			switch {
			case m.NeedRecreateTrackingTable:
				if err := tb.DropTriggers(ctx, tx); err != nil {
					return err
				}
				if err := tb.DropTrackingTable(ctx, tx); err != nil {
					return err
				}
				if err := o.provisionTable(ctx, tx, m.New, false); err != nil {
					return err
				}
			case m.NeedRecreateTriggers:
				if err := tb.DropTriggers(ctx, tx); err != nil {
					return err
				}
				if err := tb.CreateTriggers(ctx, tx); err != nil {
					return err
				}
			}
		}
		for _, t := range plan.AddedTables {
			if err := o.provisionTable(ctx, tx, t, createTables); err != nil {
				return err
			}
		}
		for _, t := range plan.RemovedTables {
			tb := o.Provider.TableBuilder(t, o.Setup)
			if err := tb.DropTriggers(ctx, tx); err != nil {
				return err
			}
			if err := tb.DropTrackingTable(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migrate scope %s: %w", scopeName, err)
	}

	logging.Info("scope migrated",
		logging.Scope(scopeName),
		slog.Int("added_tables", len(plan.AddedTables)),
		slog.Int("removed_tables", len(plan.RemovedTables)),
	)
	args := &interceptor.MigratedArgs{Side: o.side, ScopeName: scopeName, Tables: plan.Tables}
	if err := interceptor.Run(ctx, o.Interceptors, args); err != nil {
		return nil, err
	}
	return plan, nil
}

// isReplay reports whether incoming is a version local already holds or
// supersedes. Equal modification times only count as a replay when the
// content matches, since two changes can share a clock reading.
func isReplay(local, incoming batch.Row) bool {
	switch {
	case local.ModifiedAt > incoming.ModifiedAt:
		return true
	case local.ModifiedAt < incoming.ModifiedAt:
		return false
	case local.IsTombstone() || incoming.IsTombstone():
		return local.IsTombstone() == incoming.IsTombstone()
	default:
		return reflect.DeepEqual(local.Values, incoming.Values)
	}
}

func (o *LocalOrchestrator) addMissingColumns(ctx context.Context, q provider.Querier, tb provider.TableBuilder, cols []schema.Column) error {
	existing, err := tb.GetColumns(ctx, q)
	if err != nil {
		return err
	}
	for _, c := range cols {
		found := slices.ContainsFunc(existing, func(e schema.Column) bool { return e.Name == c.Name })
		if found {
			continue
		}
		if err := tb.AddColumn(ctx, q, c); err != nil {
			return err
		}
	}
	return nil
}
