package parser

import (
	"sync"
	"testing"

	"github.com/klauern/rowsync/internal/schema"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		database string
		schema   string
		object   string
	}{
		{"orders", "", "", "orders"},
		{"sales.orders", "", "sales", "orders"},
		{"[sales].[orders]", "", "sales", "orders"},
		{`"sales"."order.lines"`, "", "sales", "order.lines"},
		{"`shop`.`sales`.`orders`", "shop", "sales", "orders"},
		{" [my db] . dbo . [Order Details] ", "my db", "dbo", "Order Details"},
		{`"a""b"`, "", "", `a"b`},
		{"", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			n := Parse(tt.raw)
			if n.Database() != tt.database || n.Schema() != tt.schema || n.Object() != tt.object {
				t.Errorf("Parse(%q) = (%q, %q, %q), want (%q, %q, %q)",
					tt.raw, n.Database(), n.Schema(), n.Object(), tt.database, tt.schema, tt.object)
			}
		})
	}
}

func TestName_RenderingIsImmutable(t *testing.T) {
	n := Parse("[sales].[orders]")
	q := n.Quoted().WithSchema()

	if got := q.String(); got != `"sales"."orders"` {
		t.Errorf("first String() = %q", got)
	}
	if got := q.String(); got != `"sales"."orders"` {
		t.Errorf("second String() = %q, want same value", got)
	}
	if got := n.String(); got != "orders" {
		t.Errorf("original String() = %q, want unqualified", got)
	}
	if got := Parse("[sales].[orders]").String(); got != "orders" {
		t.Errorf("fresh Parse String() = %q, want orders", got)
	}
}

func TestName_Render(t *testing.T) {
	n := Parse("shop.sales.order lines", "[")
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"plain", Options{}, "order lines"},
		{"schema", Options{Schema: true}, "sales.order lines"},
		{"database", Options{Database: true}, "shop.sales.order lines"},
		{"quoted", Options{Schema: true, Quoted: true}, "[sales].[order lines]"},
		{"normalized", Options{Schema: true, Normalized: true}, "sales_order_lines"},
		{"normalized wins over quoted", Options{Quoted: true, Normalized: true}, "order_lines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Render(tt.opts); got != tt.want {
				t.Errorf("Render(%+v) = %q, want %q", tt.opts, got, tt.want)
			}
		})
	}
}

func TestName_QuoteEscaping(t *testing.T) {
	n := New("", "", `we"ird`)
	if got := n.Quoted().String(); got != `"we""ird"` {
		t.Errorf("Quoted() = %q", got)
	}
}

func TestName_NormalizedNFC(t *testing.T) {
	// "e" followed by a combining acute accent composes to a single rune.
	n := New("", "", "cafe\u0301")
	if got := n.Normalized().String(); got != "caf\u00e9" {
		t.Errorf("Normalized() = %q", got)
	}
}

func TestParseTable(t *testing.T) {
	tb := &schema.Table{Name: "orders", SchemaName: "sales"}
	n := ParseTable(tb)
	if got := n.WithSchema().Quoted().String(); got != `"sales"."orders"` {
		t.Errorf("got %q", got)
	}
	c := ParseColumn(schema.Column{Name: "id"}, "`")
	if got := c.Quoted().String(); got != "`id`" {
		t.Errorf("got %q", got)
	}
}

func TestTrackingName(t *testing.T) {
	table := Parse("sales.orders")
	tests := []struct {
		name   string
		prefix string
		suffix string
		want   string
	}{
		{"default suffix", "", "", "sales.orders_tracking"},
		{"prefix only", "tr_", "", "sales.tr_orders"},
		{"suffix only", "", "_tr", "sales.orders_tr"},
		{"both", "s_", "_t", "sales.s_orders_t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrackingName(table, tt.prefix, tt.suffix).WithSchema().String()
			if got != tt.want {
				t.Errorf("TrackingName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTriggerAndProcedureNames(t *testing.T) {
	table := Parse("[Order Details]")
	if got := TriggerName(table, TriggerInsert, "", "").String(); got != "Order_Details_insert_trigger" {
		t.Errorf("TriggerName() = %q", got)
	}
	if got := ProcedureName(table, ProcSelectChanges, "sp_", "").String(); got != "sp_Order_Details_select_changes" {
		t.Errorf("ProcedureName() = %q", got)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	a := c.Parse("sales.orders")
	b := c.Parse("sales.orders")
	if a != b {
		t.Error("expected identical cached names")
	}
	c.Parse("sales.orders", "[")
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (quote chars are part of the key)", c.Len())
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 2 {
		t.Errorf("Stats() = %d hits, %d misses", hits, misses)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Error("expected empty cache after Clear")
	}
}

func TestCache_Concurrent(t *testing.T) {
	var c Cache
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if c.Parse("dbo.customers").Object() != "customers" {
					t.Error("unexpected parse result")
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
