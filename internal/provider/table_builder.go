package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/schema"
)

// SQLTableBuilder implements the dialect independent part of TableBuilder.
// Backends embed it and add introspection and triggers.
type SQLTableBuilder struct {
	Dialect      Dialect
	Metadata     Metadata
	Database     DatabaseBuilder
	Table        *schema.Table
	Setup        *schema.Setup
	TableName    parser.Name
	TrackingName parser.Name
}

// CreateTable creates the data table from its schema definition when it does
// not exist.
func (b *SQLTableBuilder) CreateTable(ctx context.Context, q Querier) error {
	defs := make([]string, 0, len(b.Table.Columns)+1)
	for _, c := range b.Table.Columns {
		defs = append(defs, b.columnDef(c))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(QuoteColumns(b.Dialect, "", b.Table.PrimaryKeys), ", ")))

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", QualifiedName(b.TableName), strings.Join(defs, ",\n  "))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", b.TableName, err)
	}
	return nil
}

func (b *SQLTableBuilder) columnDef(c schema.Column) string {
	def := Quote(b.Dialect, c.Name) + " " + b.Metadata.NativeType(c)
	if !c.AllowNull {
		def += " NOT NULL"
	}
	return def
}

// DropTable drops the data table.
func (b *SQLTableBuilder) DropTable(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+QualifiedName(b.TableName)); err != nil {
		return fmt.Errorf("drop table %s: %w", b.TableName, err)
	}
	return nil
}

// CreateTrackingTable creates the tracking table: the primary key columns
// followed by the tracking metadata, keyed like the data table, with an
// index on the change tick.
func (b *SQLTableBuilder) CreateTrackingTable(ctx context.Context, q Querier) error {
	var defs []string
	for _, c := range b.Table.PrimaryKeyColumns() {
		c.AllowNull = false
		defs = append(defs, b.columnDef(c))
	}
	defs = append(defs,
		Quote(b.Dialect, ColUpdateScopeID)+" "+b.Dialect.TextType()+" NULL",
		Quote(b.Dialect, ColTimestamp)+" "+b.Dialect.BigIntType()+" NOT NULL",
		Quote(b.Dialect, ColModifiedAt)+" "+b.Dialect.BigIntType()+" NOT NULL",
		Quote(b.Dialect, ColTombstone)+" INTEGER NOT NULL DEFAULT 0",
		fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(QuoteColumns(b.Dialect, "", b.Table.PrimaryKeys), ", ")),
	)

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", QualifiedName(b.TrackingName), strings.Join(defs, ",\n  "))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create tracking table %s: %w", b.TrackingName, err)
	}

	index := b.TrackingName.WithObject(b.TrackingName.Object() + "_timestamp_idx")
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		Quote(b.Dialect, index.Object()), QualifiedName(b.TrackingName), Quote(b.Dialect, ColTimestamp))
	if _, err := q.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create tracking index %s: %w", index, err)
	}
	return nil
}

// DropTrackingTable drops the tracking table.
func (b *SQLTableBuilder) DropTrackingTable(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+QualifiedName(b.TrackingName)); err != nil {
		return fmt.Errorf("drop tracking table %s: %w", b.TrackingName, err)
	}
	return nil
}

// UpdateUntrackedRows inserts a tracking row, at a single new tick, for
// every data row that has none.
func (b *SQLTableBuilder) UpdateUntrackedRows(ctx context.Context, q Querier) (int64, error) {
	tick, err := b.Database.NextTimestamp(ctx, q)
	if err != nil {
		return 0, err
	}
	pks := b.Table.PrimaryKeys
	cols := append(QuoteColumns(b.Dialect, "", pks),
		Quote(b.Dialect, ColUpdateScopeID), Quote(b.Dialect, ColTimestamp),
		Quote(b.Dialect, ColModifiedAt), Quote(b.Dialect, ColTombstone))

	stmt := fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s, NULL, %s, %s, 0 FROM %s b
LEFT JOIN %s t ON %s
WHERE t.%s IS NULL`,
		QualifiedName(b.TrackingName), strings.Join(cols, ", "),
		strings.Join(QuoteColumns(b.Dialect, "b", pks), ", "),
		castBigInt(b.Dialect, 1), castBigInt(b.Dialect, 2),
		QualifiedName(b.TableName),
		QualifiedName(b.TrackingName), JoinOn(b.Dialect, "b", "t", pks),
		Quote(b.Dialect, pks[0]),
	)
	res, err := q.ExecContext(ctx, stmt, tick, time.Now().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("track existing rows of %s: %w", b.TableName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count tracked rows of %s: %w", b.TableName, err)
	}
	return n, nil
}

// AddColumn adds a column to the data table.
func (b *SQLTableBuilder) AddColumn(ctx context.Context, q Querier, c schema.Column) error {
	// A NOT NULL column without a default cannot be added to a populated table.
	c.AllowNull = true
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QualifiedName(b.TableName), b.columnDef(c))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s to %s: %w", c.Name, b.TableName, err)
	}
	return nil
}

// castBigInt renders a typed bind parameter, needed where PostgreSQL cannot
// infer the parameter type (select lists).
func castBigInt(d Dialect, n int) string {
	return "CAST(" + d.Placeholder(n) + " AS " + d.BigIntType() + ")"
}
