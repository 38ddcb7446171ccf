package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
)

// counterTable holds the database wide change tick in a single row.
const counterTable = "rowsync_timestamp"

// modifiedAtExpr is the wall clock in microseconds since the Unix epoch.
const modifiedAtExpr = "CAST((julianday('now') - 2440587.5) * 86400000000 AS INTEGER)"

// DatabaseBuilder keeps the change tick in a counter table.
type DatabaseBuilder struct{}

// EnsureDatabase implements provider.DatabaseBuilder.
func (DatabaseBuilder) EnsureDatabase(ctx context.Context, q provider.Querier) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "` + counterTable + `" (id INTEGER NOT NULL PRIMARY KEY CHECK (id = 1), value INTEGER NOT NULL)`,
		`INSERT OR IGNORE INTO "` + counterTable + `" (id, value) VALUES (1, 0)`,
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure timestamp counter: %w", err)
		}
	}
	return nil
}

// DropDatabase implements provider.DatabaseBuilder.
func (DatabaseBuilder) DropDatabase(ctx context.Context, q provider.Querier) error {
	if _, err := q.ExecContext(ctx, `DROP TABLE IF EXISTS "`+counterTable+`"`); err != nil {
		return fmt.Errorf("drop timestamp counter: %w", err)
	}
	return nil
}

// LocalTimestamp implements provider.DatabaseBuilder.
func (DatabaseBuilder) LocalTimestamp(ctx context.Context, q provider.Querier) (int64, error) {
	var ts int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM "`+counterTable+`" WHERE id = 1`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("read timestamp: %w", err)
	}
	return ts, nil
}

// NextTimestamp implements provider.DatabaseBuilder.
func (DatabaseBuilder) NextTimestamp(ctx context.Context, q provider.Querier) (int64, error) {
	var ts int64
	err := q.QueryRowContext(ctx, `UPDATE "`+counterTable+`" SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("next timestamp: %w", err)
	}
	return ts, nil
}

// Version implements provider.DatabaseBuilder.
func (DatabaseBuilder) Version(ctx context.Context, q provider.Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", fmt.Errorf("sqlite version: %w", err)
	}
	return v, nil
}

// TableBuilder adds SQLite introspection and triggers to the shared builder.
type TableBuilder struct {
	provider.SQLTableBuilder
	triggers map[parser.TriggerKind]parser.Name
}

func (b *TableBuilder) exists(ctx context.Context, q provider.Querier, typ, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = ? AND name = ?", typ, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s %s: %w", typ, name, err)
	}
	return n > 0, nil
}

// ExistsTable implements provider.TableBuilder.
func (b *TableBuilder) ExistsTable(ctx context.Context, q provider.Querier) (bool, error) {
	return b.exists(ctx, q, "table", b.TableName.Object())
}

// ExistsTrackingTable implements provider.TableBuilder.
func (b *TableBuilder) ExistsTrackingTable(ctx context.Context, q provider.Querier) (bool, error) {
	return b.exists(ctx, q, "table", b.TrackingName.Object())
}

// CreateTriggers implements provider.TableBuilder. Each trigger advances the
// counter and then records the row in the tracking table at the new tick
// with no originator.
func (b *TableBuilder) CreateTriggers(ctx context.Context, q provider.Querier) error {
	for _, kind := range parser.AllTriggerKinds() {
		if _, err := q.ExecContext(ctx, b.triggerSQL(kind)); err != nil {
			return fmt.Errorf("create %s trigger on %s: %w", kind, b.TableName, err)
		}
	}
	return nil
}

func (b *TableBuilder) triggerSQL(kind parser.TriggerKind) string {
	d := b.Dialect
	row, event, tombstone := "new", "INSERT", "0"
	switch kind {
	case parser.TriggerUpdate:
		event = "UPDATE"
	case parser.TriggerDelete:
		row, event, tombstone = "old", "DELETE", "1"
	}

	pks := b.Table.PrimaryKeys
	cols := append(provider.QuoteColumns(d, "", pks),
		provider.Quote(d, provider.ColUpdateScopeID),
		provider.Quote(d, provider.ColTimestamp),
		provider.Quote(d, provider.ColModifiedAt),
		provider.Quote(d, provider.ColTombstone))

	return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER %s ON %s
FOR EACH ROW
BEGIN
  UPDATE "%s" SET value = value + 1 WHERE id = 1;
  INSERT OR REPLACE INTO %s (%s)
  VALUES (%s, NULL, (SELECT value FROM "%s" WHERE id = 1), %s, %s);
END`,
		provider.Quote(d, b.triggers[kind].Object()), event, provider.QualifiedName(b.TableName),
		counterTable,
		provider.QualifiedName(b.TrackingName), strings.Join(cols, ", "),
		strings.Join(provider.QuoteColumns(d, row, pks), ", "), counterTable, modifiedAtExpr, tombstone,
	)
}

// DropTriggers implements provider.TableBuilder.
func (b *TableBuilder) DropTriggers(ctx context.Context, q provider.Querier) error {
	for _, kind := range parser.AllTriggerKinds() {
		stmt := "DROP TRIGGER IF EXISTS " + provider.Quote(b.Dialect, b.triggers[kind].Object())
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop %s trigger on %s: %w", kind, b.TableName, err)
		}
	}
	return nil
}

type columnInfo struct {
	cid     int
	name    string
	typ     string
	notNull bool
	pk      int
}

func (b *TableBuilder) tableInfo(ctx context.Context, q provider.Querier) ([]columnInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT cid, name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, b.TableName.Object())
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", b.TableName, err)
	}
	defer rows.Close()

	var out []columnInfo
	for rows.Next() {
		var ci columnInfo
		if err := rows.Scan(&ci.cid, &ci.name, &ci.typ, &ci.notNull, &ci.pk); err != nil {
			return nil, fmt.Errorf("read columns of %s: %w", b.TableName, err)
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

// GetColumns implements provider.TableBuilder.
func (b *TableBuilder) GetColumns(ctx context.Context, q provider.Querier) ([]schema.Column, error) {
	infos, err := b.tableInfo(ctx, q)
	if err != nil {
		return nil, err
	}
	pkCount := 0
	for _, ci := range infos {
		if ci.pk > 0 {
			pkCount++
		}
	}

	cols := make([]schema.Column, 0, len(infos))
	for _, ci := range infos {
		c := schema.Column{
			Name:         ci.name,
			DataType:     b.Metadata.DataType(ci.typ),
			OriginalType: ci.typ,
			AllowNull:    !ci.notNull && ci.pk == 0,
			Ordinal:      ci.cid,
		}
		base, args := provider.ParseNativeType(ci.typ)
		switch c.DataType {
		case schema.String:
			if len(args) > 0 {
				c.MaxLength = args[0]
			}
		case schema.Decimal:
			if len(args) > 0 {
				c.Precision = args[0]
			}
			if len(args) > 1 {
				c.Scale = args[1]
			}
		}
		// INTEGER PRIMARY KEY aliases the rowid.
		if ci.pk > 0 && pkCount == 1 && base == "INTEGER" {
			c.IsAutoIncrement = true
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// GetPrimaryKeys implements provider.TableBuilder.
func (b *TableBuilder) GetPrimaryKeys(ctx context.Context, q provider.Querier) ([]string, error) {
	infos, err := b.tableInfo(ctx, q)
	if err != nil {
		return nil, err
	}
	var keyed []columnInfo
	for _, ci := range infos {
		if ci.pk > 0 {
			keyed = append(keyed, ci)
		}
	}
	sort.Slice(keyed, func(i, j int) bool { return keyed[i].pk < keyed[j].pk })
	out := make([]string, len(keyed))
	for i, ci := range keyed {
		out[i] = ci.name
	}
	return out, nil
}

// GetRelations implements provider.TableBuilder.
func (b *TableBuilder) GetRelations(ctx context.Context, q provider.Querier) ([]schema.Relation, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, b.TableName.Object())
	if err != nil {
		return nil, fmt.Errorf("read foreign keys of %s: %w", b.TableName, err)
	}
	defer rows.Close()

	var (
		out  []schema.Relation
		last = -1
	)
	for rows.Next() {
		var (
			id           int
			parent, from string
			to           *string
		)
		if err := rows.Scan(&id, &parent, &from, &to); err != nil {
			return nil, fmt.Errorf("read foreign keys of %s: %w", b.TableName, err)
		}
		if id != last {
			out = append(out, schema.Relation{
				Name:        fmt.Sprintf("fk_%s_%s_%d", b.Table.Name, parent, id),
				Table:       b.Table.Name,
				ParentTable: parent,
			})
			last = id
		}
		r := &out[len(out)-1]
		r.Columns = append(r.Columns, from)
		// A missing target column references the parent primary key.
		if to != nil {
			r.ParentColumns = append(r.ParentColumns, *to)
		}
	}
	return out, rows.Err()
}
