package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
)

// counterTable holds the database wide change tick in a single row. Writers
// take the row lock when they draw a tick and keep it until commit, so ticks
// become visible in order and a reader never sees tick n+1 committed while
// tick n is still pending.
const counterTable = "rowsync_timestamp"

// modifiedAtExpr is the wall clock in microseconds since the Unix epoch.
const modifiedAtExpr = "(extract(epoch from clock_timestamp()) * 1000000)::bigint"

// currentSchema resolves an empty schema argument to the search path's first
// schema.
const currentSchema = "COALESCE(NULLIF($1, ''), current_schema())"

// DatabaseBuilder keeps the change tick in a counter table.
type DatabaseBuilder struct{}

// EnsureDatabase implements provider.DatabaseBuilder.
func (DatabaseBuilder) EnsureDatabase(ctx context.Context, q provider.Querier) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "` + counterTable + `" (id INTEGER NOT NULL PRIMARY KEY CHECK (id = 1), value BIGINT NOT NULL)`,
		`INSERT INTO "` + counterTable + `" (id, value) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
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

// LocalTimestamp implements provider.DatabaseBuilder. It reads the last
// committed tick.
func (DatabaseBuilder) LocalTimestamp(ctx context.Context, q provider.Querier) (int64, error) {
	var ts int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM "`+counterTable+`" WHERE id = 1`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("read timestamp: %w", err)
	}
	return ts, nil
}

// nextTickSQL advances the counter and returns the new tick.
const nextTickSQL = `UPDATE "` + counterTable + `" SET value = value + 1 WHERE id = 1 RETURNING value`

// NextTimestamp implements provider.DatabaseBuilder.
func (DatabaseBuilder) NextTimestamp(ctx context.Context, q provider.Querier) (int64, error) {
	var ts int64
	if err := q.QueryRowContext(ctx, nextTickSQL).Scan(&ts); err != nil {
		return 0, fmt.Errorf("next timestamp: %w", err)
	}
	return ts, nil
}

// Version implements provider.DatabaseBuilder.
func (DatabaseBuilder) Version(ctx context.Context, q provider.Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, "SHOW server_version").Scan(&v); err != nil {
		return "", fmt.Errorf("postgres version: %w", err)
	}
	return v, nil
}

// TableBuilder adds PostgreSQL introspection and a plpgsql trigger function
// to the shared builder.
type TableBuilder struct {
	provider.SQLTableBuilder
	triggers map[parser.TriggerKind]parser.Name
	function parser.Name
}

func (b *TableBuilder) exists(ctx context.Context, q provider.Querier, n parser.Name) (bool, error) {
	var ok bool
	stmt := `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ` + currentSchema + ` AND table_name = $2)`
	if err := q.QueryRowContext(ctx, stmt, n.Schema(), n.Object()).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup table %s: %w", n, err)
	}
	return ok, nil
}

// ExistsTable implements provider.TableBuilder.
func (b *TableBuilder) ExistsTable(ctx context.Context, q provider.Querier) (bool, error) {
	return b.exists(ctx, q, b.TableName)
}

// ExistsTrackingTable implements provider.TableBuilder.
func (b *TableBuilder) ExistsTrackingTable(ctx context.Context, q provider.Querier) (bool, error) {
	return b.exists(ctx, q, b.TrackingName)
}

// functionName renders the trigger function in the table's schema.
func (b *TableBuilder) functionName() string {
	return provider.QualifiedName(b.function)
}

func (b *TableBuilder) functionSQL() string {
	d := b.Dialect
	pks := b.Table.PrimaryKeys
	meta := []string{provider.ColUpdateScopeID, provider.ColTimestamp, provider.ColModifiedAt, provider.ColTombstone}
	cols := append(provider.QuoteColumns(d, "", pks), provider.QuoteColumns(d, "", meta)...)

	sets := make([]string, len(meta))
	for i, c := range meta {
		qc := provider.Quote(d, c)
		sets[i] = qc + " = excluded." + qc
	}
	upsert := func(row, tombstone string) string {
		return fmt.Sprintf(`INSERT INTO %s (%s)
    VALUES (%s, NULL, tick, %s, %s)
    ON CONFLICT (%s) DO UPDATE SET %s;`,
			provider.QualifiedName(b.TrackingName), strings.Join(cols, ", "),
			strings.Join(provider.QuoteColumns(d, row, pks), ", "), modifiedAtExpr, tombstone,
			strings.Join(provider.QuoteColumns(d, "", pks), ", "), strings.Join(sets, ", "))
	}

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger LANGUAGE plpgsql AS $rowsync$
DECLARE
  tick BIGINT;
BEGIN
  %s INTO tick;
  IF TG_OP = 'DELETE' THEN
    %s
    RETURN OLD;
  END IF;
  %s
  RETURN NEW;
END;
$rowsync$`, b.functionName(), nextTickSQL, upsert("OLD", "1"), upsert("NEW", "0"))
}

// CreateTriggers implements provider.TableBuilder. One function serves the
// three row triggers.
func (b *TableBuilder) CreateTriggers(ctx context.Context, q provider.Querier) error {
	if _, err := q.ExecContext(ctx, b.functionSQL()); err != nil {
		return fmt.Errorf("create trigger function for %s: %w", b.TableName, err)
	}
	for _, kind := range parser.AllTriggerKinds() {
		name := provider.Quote(b.Dialect, b.triggers[kind].Object())
		stmts := []string{
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, provider.QualifiedName(b.TableName)),
			fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
				name, strings.ToUpper(string(kind)), provider.QualifiedName(b.TableName), b.functionName()),
		}
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s trigger on %s: %w", kind, b.TableName, err)
			}
		}
	}
	return nil
}

// DropTriggers implements provider.TableBuilder.
func (b *TableBuilder) DropTriggers(ctx context.Context, q provider.Querier) error {
	for _, kind := range parser.AllTriggerKinds() {
		stmt := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
			provider.Quote(b.Dialect, b.triggers[kind].Object()), provider.QualifiedName(b.TableName))
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop %s trigger on %s: %w", kind, b.TableName, err)
		}
	}
	if _, err := q.ExecContext(ctx, "DROP FUNCTION IF EXISTS "+b.functionName()+"()"); err != nil {
		return fmt.Errorf("drop trigger function for %s: %w", b.TableName, err)
	}
	return nil
}

const columnsQuery = `SELECT column_name, data_type, udt_name, is_nullable, ordinal_position,
  COALESCE(character_maximum_length, 0), COALESCE(numeric_precision, 0), COALESCE(numeric_scale, 0),
  COALESCE(column_default, ''), is_identity
FROM information_schema.columns
WHERE table_schema = ` + currentSchema + ` AND table_name = $2
ORDER BY ordinal_position`

// GetColumns implements provider.TableBuilder.
func (b *TableBuilder) GetColumns(ctx context.Context, q provider.Querier) ([]schema.Column, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, b.TableName.Schema(), b.TableName.Object())
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", b.TableName, err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			c                        schema.Column
			dataType, udt, nullable  string
			maxLen, precision, scale int
			defaultExpr, identity    string
		)
		if err := rows.Scan(&c.Name, &dataType, &udt, &nullable, &c.Ordinal, &maxLen, &precision, &scale, &defaultExpr, &identity); err != nil {
			return nil, fmt.Errorf("read columns of %s: %w", b.TableName, err)
		}
		native := dataType
		if dataType == "USER-DEFINED" || dataType == "ARRAY" {
			native = udt
		}
		c.OriginalType = native
		c.DataType = b.Metadata.DataType(native)
		c.AllowNull = nullable == "YES"
		c.IsAutoIncrement = identity == "YES" || strings.HasPrefix(defaultExpr, "nextval(")
		switch c.DataType {
		case schema.String:
			c.MaxLength = maxLen
		case schema.Decimal:
			c.Precision, c.Scale = precision, scale
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

const primaryKeysQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ` + currentSchema + ` AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

// GetPrimaryKeys implements provider.TableBuilder.
func (b *TableBuilder) GetPrimaryKeys(ctx context.Context, q provider.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, primaryKeysQuery, b.TableName.Schema(), b.TableName.Object())
	if err != nil {
		return nil, fmt.Errorf("read primary key of %s: %w", b.TableName, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("read primary key of %s: %w", b.TableName, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const relationsQuery = `SELECT con.conname, n.nspname, pn.nspname, pc.relname, a.attname, pa.attname
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_class pc ON pc.oid = con.confrelid
JOIN pg_namespace pn ON pn.oid = pc.relnamespace
CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, pattnum, ord)
JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
JOIN pg_attribute pa ON pa.attrelid = con.confrelid AND pa.attnum = k.pattnum
WHERE con.contype = 'f' AND n.nspname = ` + currentSchema + ` AND c.relname = $2
ORDER BY con.conname, k.ord`

// GetRelations implements provider.TableBuilder.
func (b *TableBuilder) GetRelations(ctx context.Context, q provider.Querier) ([]schema.Relation, error) {
	rows, err := q.QueryContext(ctx, relationsQuery, b.TableName.Schema(), b.TableName.Object())
	if err != nil {
		return nil, fmt.Errorf("read foreign keys of %s: %w", b.TableName, err)
	}
	defer rows.Close()

	var out []schema.Relation
	for rows.Next() {
		var name, childSchema, parentSchema, parent, col, parentCol string
		if err := rows.Scan(&name, &childSchema, &parentSchema, &parent, &col, &parentCol); err != nil {
			return nil, fmt.Errorf("read foreign keys of %s: %w", b.TableName, err)
		}
		// Keep references unqualified when the table itself is.
		if b.Table.SchemaName == "" && parentSchema == childSchema {
			parentSchema = ""
		}
		if len(out) == 0 || out[len(out)-1].Name != name {
			out = append(out, schema.Relation{
				Name:             name,
				Table:            b.Table.Name,
				SchemaName:       b.Table.SchemaName,
				ParentTable:      parent,
				ParentSchemaName: parentSchema,
			})
		}
		r := &out[len(out)-1]
		r.Columns = append(r.Columns, col)
		r.ParentColumns = append(r.ParentColumns, parentCol)
	}
	return out, rows.Err()
}
