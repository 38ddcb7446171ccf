package provider

import (
	"strconv"
	"strings"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/schema"
)

// Tracking table columns, after the primary key columns.
const (
	ColUpdateScopeID = "update_scope_id"
	ColTimestamp     = "timestamp"
	ColModifiedAt    = "modified_at"
	ColTombstone     = "sync_row_is_tombstone"
)

// Dialect captures the SQL syntax differences the shared builders need.
type Dialect interface {
	Name() string
	// Quotes returns the identifier quote characters.
	Quotes() (left, right string)
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string
	// BigIntType is the 64-bit integer type used for ticks.
	BigIntType() string
	// TextType is the unbounded text type.
	TextType() string
}

// Quote quotes a single identifier in the dialect's quote characters.
func Quote(d Dialect, ident string) string {
	left, right := d.Quotes()
	return parser.New("", "", ident, left, right).Quoted().String()
}

// QualifiedName renders a name with its schema, quoted.
func QualifiedName(n parser.Name) string {
	return n.WithSchema().Quoted().String()
}

// Placeholders returns n placeholders starting at argument start (1-based).
func Placeholders(d Dialect, start, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(start + i)
	}
	return out
}

// QuoteColumns quotes each column name, optionally prefixed with an alias.
func QuoteColumns(d Dialect, alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = Quote(d, c)
		if alias != "" {
			out[i] = alias + "." + out[i]
		}
	}
	return out
}

// JoinOn renders "a.k1 = b.k1 AND a.k2 = b.k2" for the key columns.
func JoinOn(d Dialect, left, right string, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		q := Quote(d, k)
		parts[i] = left + "." + q + " = " + right + "." + q
	}
	return strings.Join(parts, " AND ")
}

// KeyPredicate renders "alias.k1 = $n AND ..." starting at argument start.
func KeyPredicate(d Dialect, alias string, keys []string, start int) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		col := Quote(d, k)
		if alias != "" {
			col = alias + "." + col
		}
		parts[i] = col + " = " + d.Placeholder(start+i)
	}
	return strings.Join(parts, " AND ")
}

// NamesFor derives the table and tracking table names of table under setup,
// parsing through cache. When keepSchema is false the schema part is dropped
// (single schema databases such as SQLite).
func NamesFor(d Dialect, cache *parser.Cache, table *schema.Table, setup *schema.Setup, keepSchema bool) (parser.Name, parser.Name) {
	left, right := d.Quotes()
	schemaName := table.SchemaName
	if !keepSchema {
		schemaName = ""
	}
	raw := parser.New("", schemaName, table.Name, left, right).WithSchema().Quoted().String()
	tableName := cache.Parse(raw, left, right)

	var prefix, suffix string
	if setup != nil {
		prefix, suffix = setup.TrackingTablesPrefix, setup.TrackingTablesSuffix
	}
	return tableName, parser.TrackingName(tableName, prefix, suffix)
}

// TriggerNamesFor returns the trigger names of a table under setup.
func TriggerNamesFor(tableName parser.Name, setup *schema.Setup) map[parser.TriggerKind]parser.Name {
	var prefix, suffix string
	if setup != nil {
		prefix, suffix = setup.TriggersPrefix, setup.TriggersSuffix
	}
	out := make(map[parser.TriggerKind]parser.Name, 3)
	for _, k := range parser.AllTriggerKinds() {
		out[k] = parser.TriggerName(tableName, k, prefix, suffix)
	}
	return out
}

// ProcedureNameFor returns the name of a generated routine of a table.
func ProcedureNameFor(tableName parser.Name, kind parser.ProcedureKind, setup *schema.Setup) parser.Name {
	var prefix, suffix string
	if setup != nil {
		prefix, suffix = setup.StoredProceduresPrefix, setup.StoredProceduresSuffix
	}
	return parser.ProcedureName(tableName, kind, prefix, suffix)
}

// ParseNativeType splits "DECIMAL(10, 2)" into "DECIMAL" and [10 2].
func ParseNativeType(native string) (string, []int) {
	native = strings.TrimSpace(native)
	open := strings.IndexByte(native, '(')
	if open < 0 {
		return strings.ToUpper(native), nil
	}
	base := strings.ToUpper(strings.TrimSpace(native[:open]))
	inner := strings.TrimSuffix(strings.TrimSpace(native[open+1:]), ")")
	var args []int
	for _, part := range strings.Split(inner, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		args = append(args, n)
	}
	return base, args
}
