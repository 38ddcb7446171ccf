package provider

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"testing"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

type testDialect struct{}

func (testDialect) Name() string             { return "test" }
func (testDialect) Quotes() (string, string) { return `"`, `"` }
func (testDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (testDialect) BigIntType() string       { return "BIGINT" }
func (testDialect) TextType() string         { return "TEXT" }

func TestSQLHelpers(t *testing.T) {
	d := testDialect{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"quote", Quote(d, "order"), `"order"`},
		{"quote escapes", Quote(d, `a"b`), `"a""b"`},
		{"join on", JoinOn(d, "t", "b", []string{"a", "b"}), `t."a" = b."a" AND t."b" = b."b"`},
		{"key predicate", KeyPredicate(d, "t", []string{"a", "b"}, 3), `t."a" = $3 AND t."b" = $4`},
		{"cast", castBigInt(d, 2), "CAST($2 AS BIGINT)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %s, want %s", tt.name, tt.got, tt.want)
		}
	}
	if got := Placeholders(d, 2, 3); len(got) != 3 || got[0] != "$2" || got[2] != "$4" {
		t.Errorf("Placeholders() = %v", got)
	}
	if got := QuoteColumns(d, "b", []string{"x"}); got[0] != `b."x"` {
		t.Errorf("QuoteColumns() = %v", got)
	}
}

func TestNamesFor(t *testing.T) {
	cache := parser.NewCache()
	table := &schema.Table{Name: "Order Details", SchemaName: "sales"}

	name, tracking := NamesFor(testDialect{}, cache, table, nil, true)
	if got := QualifiedName(name); got != `"sales"."Order Details"` {
		t.Errorf("table name = %s", got)
	}
	if got := QualifiedName(tracking); got != `"sales"."Order Details_tracking"` {
		t.Errorf("tracking name = %s", got)
	}

	setup := &schema.Setup{TrackingTablesPrefix: "trk_"}
	name, tracking = NamesFor(testDialect{}, cache, table, setup, false)
	if got := QualifiedName(name); got != `"Order Details"` {
		t.Errorf("schemaless table name = %s", got)
	}
	if got := tracking.Object(); got != "trk_Order Details" {
		t.Errorf("prefixed tracking name = %s", got)
	}

	NamesFor(testDialect{}, cache, table, nil, true)
	if hits, _ := cache.Stats(); hits == 0 {
		t.Error("repeated NamesFor() did not hit the cache")
	}
}

func TestTriggerNamesFor(t *testing.T) {
	name := parser.New("", "dbo", "orders")
	got := TriggerNamesFor(name, &schema.Setup{TriggersPrefix: "rs_"})
	if len(got) != 3 {
		t.Fatalf("TriggerNamesFor() = %d names, want 3", len(got))
	}
	if obj := got[parser.TriggerDelete].Object(); obj != "rs_orders_delete_trigger" {
		t.Errorf("delete trigger = %s", obj)
	}
	if obj := ProcedureNameFor(name, parser.ProcTrigger, nil).Object(); obj != "orders_trigger" {
		t.Errorf("procedure = %s", obj)
	}
}

func TestParseNativeType(t *testing.T) {
	tests := []struct {
		in   string
		base string
		args []int
	}{
		{"varchar(20)", "VARCHAR", []int{20}},
		{"DECIMAL(10, 2)", "DECIMAL", []int{10, 2}},
		{" integer ", "INTEGER", nil},
		{"VARCHAR(max)", "VARCHAR", nil},
	}
	for _, tt := range tests {
		base, args := ParseNativeType(tt.in)
		if base != tt.base || len(args) != len(tt.args) {
			t.Errorf("ParseNativeType(%q) = %q, %v", tt.in, base, args)
			continue
		}
		for i := range args {
			if args[i] != tt.args[i] {
				t.Errorf("ParseNativeType(%q) args = %v, want %v", tt.in, args, tt.args)
			}
		}
	}
}

func TestAnnotateError(t *testing.T) {
	if AnnotateError(nil, Diagnostics{}) != nil {
		t.Error("AnnotateError(nil) != nil")
	}

	err := AnnotateError(errors.New("locked"), Diagnostics{DataSource: "db", Catalog: "main", Number: "5", Retryable: true})
	var se *syncerr.Error
	if !errors.As(err, &se) || se.Kind != syncerr.KindTransient || se.Number != "5" || !se.Retryable {
		t.Errorf("transient annotation = %+v", se)
	}

	conn := syncerr.New(syncerr.KindConnection, "open", "refused")
	err = AnnotateError(conn, Diagnostics{DataSource: "host", Catalog: "app", Retryable: true})
	if syncerr.KindOf(err) != syncerr.KindConnection || conn.DataSource != "host" {
		t.Errorf("classified error = %v", err)
	}

	err = AnnotateError(context.Canceled, Diagnostics{Kind: syncerr.KindInternal})
	if !syncerr.IsKind(err, syncerr.KindCancelled) {
		t.Errorf("cancellation kind = %s", syncerr.KindOf(err))
	}
}

func TestRegistry(t *testing.T) {
	if _, err := New("no-such-backend", ""); err == nil {
		t.Error("New(unknown) error = nil")
	}
	defer func() {
		if recover() == nil {
			t.Error("Register(nil) did not panic")
		}
	}()
	Register("nil-factory", nil)
}

type fixedTick struct{ DatabaseBuilder }

func (fixedTick) NextTimestamp(context.Context, Querier) (int64, error) { return 7, nil }

type noCountResult struct{}

func (noCountResult) LastInsertId() (int64, error) { return 0, nil }
func (noCountResult) RowsAffected() (int64, error) { return 0, errors.New("not supported") }

type execOnly struct {
	Querier
	stmts []string
}

func (q *execOnly) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	q.stmts = append(q.stmts, query)
	return noCountResult{}, nil
}

func TestUpdateUntrackedRows_RowsAffectedError(t *testing.T) {
	table := &schema.Table{Name: "orders", Columns: []schema.Column{{Name: "id", DataType: schema.Int64}}, PrimaryKeys: []string{"id"}}
	b := &SQLTableBuilder{
		Dialect:      testDialect{},
		Database:     fixedTick{},
		Table:        table,
		TableName:    parser.Parse("orders"),
		TrackingName: parser.Parse("orders_tracking"),
	}
	q := &execOnly{}
	n, err := b.UpdateUntrackedRows(context.Background(), q)
	if err == nil || n != 0 {
		t.Fatalf("UpdateUntrackedRows() = %d, %v, want error", n, err)
	}
	if len(q.stmts) != 1 {
		t.Errorf("statements = %d, want 1", len(q.stmts))
	}
}
