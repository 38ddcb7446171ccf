package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

// SQLSyncAdapter implements SyncAdapter with portable SQL: a LEFT JOIN of
// the tracking table to the data table for reads, and INSERT ... ON CONFLICT
// upserts for writes.
type SQLSyncAdapter struct {
	Dialect      Dialect
	Database     DatabaseBuilder
	Table        *schema.Table
	Setup        *schema.Setup
	TableName    parser.Name
	TrackingName parser.Name
}

// selectList returns the column list of change reads: data columns in table
// order (keys from the tracking table so tombstones keep them) followed by
// the tracking metadata.
func (a *SQLSyncAdapter) selectList() string {
	cols := make([]string, 0, len(a.Table.Columns)+4)
	for _, c := range a.Table.Columns {
		alias := "b"
		if a.Table.IsPrimaryKey(c.Name) {
			alias = "t"
		}
		cols = append(cols, alias+"."+Quote(a.Dialect, c.Name))
	}
	for _, c := range []string{ColUpdateScopeID, ColTimestamp, ColModifiedAt, ColTombstone} {
		cols = append(cols, "t."+Quote(a.Dialect, c))
	}
	return strings.Join(cols, ", ")
}

func (a *SQLSyncAdapter) fromClause() string {
	return fmt.Sprintf("%s t LEFT JOIN %s b ON %s",
		QualifiedName(a.TrackingName), QualifiedName(a.TableName), JoinOn(a.Dialect, "t", "b", a.Table.PrimaryKeys))
}

// SelectChanges implements SyncAdapter.
func (a *SQLSyncAdapter) SelectChanges(ctx context.Context, q Querier, opts SelectOptions, fn func(batch.Row) error) error {
	d := a.Dialect
	ts := "t." + Quote(d, ColTimestamp)
	scopeCol := "t." + Quote(d, ColUpdateScopeID)
	tomb := "t." + Quote(d, ColTombstone)

	where := []string{
		ts + " > " + d.Placeholder(1),
		ts + " <= " + d.Placeholder(2),
		fmt.Sprintf("(%s IS NULL OR %s <> %s)", scopeCol, scopeCol, d.Placeholder(3)),
	}
	args := []any{opts.Since, opts.Until, opts.ExcludeScopeID}

	switch opts.Mode {
	case SelectTombstones:
		where = append(where, tomb+" = 1")
	case SelectUpserts:
		where = append(where, tomb+" = 0")
	}

	for _, f := range a.Setup.FiltersFor(a.Table.Name, a.Table.SchemaName) {
		v, ok := opts.Parameters[f.Parameter]
		if !ok {
			return syncerr.Newf(syncerr.KindConfiguration, "select_changes",
				"table %s: missing value for filter parameter %q", a.Table.FullName(), f.Parameter)
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("(b.%s = %s OR %s = 1)", Quote(d, f.Column), d.Placeholder(len(args)), tomb))
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s, %s",
		a.selectList(), a.fromClause(), strings.Join(where, " AND "),
		ts, strings.Join(QuoteColumns(d, "t", a.Table.PrimaryKeys), ", "))

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("select changes from %s: %w", a.TableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := a.scan(rows)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("select changes from %s: %w", a.TableName, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (a *SQLSyncAdapter) scan(s scanner) (batch.Row, error) {
	n := len(a.Table.Columns)
	raw := make([]any, n)
	dest := make([]any, 0, n+4)
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	var (
		scopeID    sql.NullString
		timestamp  int64
		modifiedAt int64
		tombstone  int64
	)
	dest = append(dest, &scopeID, &timestamp, &modifiedAt, &tombstone)
	if err := s.Scan(dest...); err != nil {
		return batch.Row{}, fmt.Errorf("scan %s: %w", a.TableName, err)
	}

	values, err := a.Table.ConvertRow(raw)
	if err != nil {
		return batch.Row{}, err
	}
	row := batch.Row{
		Values:        values,
		State:         batch.Modified,
		Timestamp:     timestamp,
		ModifiedAt:    modifiedAt,
		UpdateScopeID: scopeID.String,
	}
	if tombstone != 0 {
		row.State = batch.Deleted
	}
	return row, nil
}

// SelectRow implements SyncAdapter.
func (a *SQLSyncAdapter) SelectRow(ctx context.Context, q Querier, pk []any) (*batch.Row, error) {
	if len(pk) != len(a.Table.PrimaryKeys) {
		return nil, fmt.Errorf("table %s: got %d key values, want %d", a.Table.FullName(), len(pk), len(a.Table.PrimaryKeys))
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		a.selectList(), a.fromClause(), KeyPredicate(a.Dialect, "t", a.Table.PrimaryKeys, 1))
	row, err := a.scan(q.QueryRowContext(ctx, stmt, pk...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// PrimaryKey implements SyncAdapter.
func (a *SQLSyncAdapter) PrimaryKey(row batch.Row) ([]any, error) {
	if len(row.Values) != len(a.Table.Columns) {
		return nil, fmt.Errorf("table %s: row has %d values, want %d", a.Table.FullName(), len(row.Values), len(a.Table.Columns))
	}
	pk := make([]any, len(a.Table.PrimaryKeys))
	for i, name := range a.Table.PrimaryKeys {
		idx := a.Table.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("table %s: primary key %q is not a column", a.Table.FullName(), name)
		}
		if row.Values[idx] == nil {
			return nil, fmt.Errorf("table %s: primary key %q is null", a.Table.FullName(), name)
		}
		pk[i] = row.Values[idx]
	}
	return pk, nil
}

// ApplyUpsert implements SyncAdapter.
func (a *SQLSyncAdapter) ApplyUpsert(ctx context.Context, q Querier, row batch.Row, originator string) error {
	pk, err := a.PrimaryKey(row)
	if err != nil {
		return err
	}
	d := a.Dialect
	cols := a.Table.ColumnNames()
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		QualifiedName(a.TableName),
		strings.Join(QuoteColumns(d, "", cols), ", "),
		strings.Join(Placeholders(d, 1, len(cols)), ", "),
		strings.Join(QuoteColumns(d, "", a.Table.PrimaryKeys), ", "),
		a.conflictAction(),
	)
	if _, err := q.ExecContext(ctx, stmt, row.Values...); err != nil {
		return fmt.Errorf("upsert into %s: %w", a.TableName, err)
	}
	return a.writeTracking(ctx, q, pk, originator, row.ModifiedAt, false)
}

func (a *SQLSyncAdapter) conflictAction() string {
	mutable := a.Table.MutableColumns()
	if len(mutable) == 0 {
		return "DO NOTHING"
	}
	sets := make([]string, len(mutable))
	for i, c := range mutable {
		q := Quote(a.Dialect, c.Name)
		sets[i] = q + " = excluded." + q
	}
	return "DO UPDATE SET " + strings.Join(sets, ", ")
}

// ApplyDelete implements SyncAdapter.
func (a *SQLSyncAdapter) ApplyDelete(ctx context.Context, q Querier, row batch.Row, originator string) error {
	pk, err := a.PrimaryKey(row)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s",
		QualifiedName(a.TableName), KeyPredicate(a.Dialect, "", a.Table.PrimaryKeys, 1))
	if _, err := q.ExecContext(ctx, stmt, pk...); err != nil {
		return fmt.Errorf("delete from %s: %w", a.TableName, err)
	}
	return a.writeTracking(ctx, q, pk, originator, row.ModifiedAt, true)
}

// writeTracking records the applied version at a new local tick. It runs
// after the data statement so it overrides what the triggers wrote.
func (a *SQLSyncAdapter) writeTracking(ctx context.Context, q Querier, pk []any, originator string, modifiedAt int64, tombstone bool) error {
	tick, err := a.Database.NextTimestamp(ctx, q)
	if err != nil {
		return err
	}
	d := a.Dialect
	meta := []string{ColUpdateScopeID, ColTimestamp, ColModifiedAt, ColTombstone}
	cols := append(QuoteColumns(d, "", a.Table.PrimaryKeys), QuoteColumns(d, "", meta)...)

	sets := make([]string, len(meta))
	for i, c := range meta {
		qc := Quote(d, c)
		sets[i] = qc + " = excluded." + qc
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		QualifiedName(a.TrackingName),
		strings.Join(cols, ", "),
		strings.Join(Placeholders(d, 1, len(cols)), ", "),
		strings.Join(QuoteColumns(d, "", a.Table.PrimaryKeys), ", "),
		strings.Join(sets, ", "),
	)

	var scopeID any
	if originator != "" {
		scopeID = originator
	}
	flag := 0
	if tombstone {
		flag = 1
	}
	args := append(append([]any{}, pk...), scopeID, tick, modifiedAt, flag)
	if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("write tracking for %s: %w", a.TableName, err)
	}
	return nil
}
