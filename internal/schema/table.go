// Package schema models synchronizable tables, columns, keys and relations
// independently of any SQL dialect.
package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Direction limits which side of a sync may send a table's changes.
type Direction string

const (
	// Bidirectional tables are exchanged both ways.
	Bidirectional Direction = "bidirectional"
	// UploadOnly tables are only sent by clients.
	UploadOnly Direction = "upload_only"
	// DownloadOnly tables are only sent by the server.
	DownloadOnly Direction = "download_only"
)

// IsValid reports whether d is a known direction. Empty means Bidirectional.
func (d Direction) IsValid() bool {
	switch d {
	case "", Bidirectional, UploadOnly, DownloadOnly:
		return true
	}
	return false
}

// ClientSends reports whether a client uploads this table's changes.
func (d Direction) ClientSends() bool {
	return d != DownloadOnly
}

// ServerSends reports whether the server sends this table's changes.
func (d Direction) ServerSends() bool {
	return d != UploadOnly
}

// Column describes one column of a table.
type Column struct {
	Name            string   `json:"name"`
	DataType        DataType `json:"type"`
	OriginalType    string   `json:"originalType,omitempty"`
	AllowNull       bool     `json:"allowNull"`
	Ordinal         int      `json:"ordinal"`
	Precision       int      `json:"precision,omitempty"`
	Scale           int      `json:"scale,omitempty"`
	MaxLength       int      `json:"maxLength,omitempty"`
	IsAutoIncrement bool     `json:"autoIncrement,omitempty"`
}

// Table describes a synchronized table.
type Table struct {
	Name        string    `json:"name"`
	SchemaName  string    `json:"schema,omitempty"`
	Columns     []Column  `json:"columns"`
	PrimaryKeys []string  `json:"primaryKeys"`
	Direction   Direction `json:"direction,omitempty"`
}

// FullName returns schema.name, or name when no schema is set.
func (t *Table) FullName() string {
	return QualifiedName(t.Name, t.SchemaName)
}

// QualifiedName joins a schema and table name.
func QualifiedName(name, schemaName string) string {
	if schemaName == "" {
		return name
	}
	return schemaName + "." + name
}

// Column returns the column with the given name (case-insensitive).
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnIndex returns the position of a column in Columns, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// IsPrimaryKey reports whether name is part of the primary key.
func (t *Table) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKeys {
		if strings.EqualFold(pk, name) {
			return true
		}
	}
	return false
}

// PrimaryKeyColumns returns the primary key columns in key order.
func (t *Table) PrimaryKeyColumns() []Column {
	out := make([]Column, 0, len(t.PrimaryKeys))
	for _, pk := range t.PrimaryKeys {
		if c, ok := t.Column(pk); ok {
			out = append(out, c)
		}
	}
	return out
}

// MutableColumns returns the non key columns in ordinal order.
func (t *Table) MutableColumns() []Column {
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !t.IsPrimaryKey(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// ColumnNames returns column names in ordinal order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate checks the table invariants: at least one column, unique column
// names, and a non-empty primary key made of existing columns.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.FullName())
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s: column name cannot be empty", t.FullName())
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("table %s: duplicate column %q", t.FullName(), c.Name)
		}
		seen[key] = true
		if !c.DataType.IsValid() {
			return fmt.Errorf("table %s: column %q has unsupported type %q", t.FullName(), c.Name, c.DataType)
		}
	}
	if len(t.PrimaryKeys) == 0 {
		return fmt.Errorf("table %s: no primary key", t.FullName())
	}
	for _, pk := range t.PrimaryKeys {
		if _, ok := t.Column(pk); !ok {
			return fmt.Errorf("table %s: primary key %q is not a column", t.FullName(), pk)
		}
	}
	if !t.Direction.IsValid() {
		return fmt.Errorf("table %s: invalid direction %q", t.FullName(), t.Direction)
	}
	return nil
}

// EffectiveDirection returns the direction, defaulting to Bidirectional.
func (t *Table) EffectiveDirection() Direction {
	if t.Direction == "" {
		return Bidirectional
	}
	return t.Direction
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := *t
	c.Columns = slices.Clone(t.Columns)
	c.PrimaryKeys = slices.Clone(t.PrimaryKeys)
	return &c
}

// Equal reports whether two tables have the same name, columns, keys and
// direction.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	return strings.EqualFold(t.Name, other.Name) &&
		strings.EqualFold(t.SchemaName, other.SchemaName) &&
		t.EffectiveDirection() == other.EffectiveDirection() &&
		slices.Equal(t.Columns, other.Columns) &&
		slices.EqualFunc(t.PrimaryKeys, other.PrimaryKeys, strings.EqualFold)
}

// ConvertValue normalizes v for the named column.
func (t *Table) ConvertValue(column string, v any) (any, error) {
	c, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("table %s: unknown column %q", t.FullName(), column)
	}
	out, err := ConvertValue(c.DataType, v)
	if err != nil {
		return nil, fmt.Errorf("table %s column %s: %w", t.FullName(), c.Name, err)
	}
	return out, nil
}

// ConvertRow normalizes a full row of values in column order.
func (t *Table) ConvertRow(values []any) ([]any, error) {
	if len(values) != len(t.Columns) {
		return nil, fmt.Errorf("table %s: row has %d values, want %d", t.FullName(), len(values), len(t.Columns))
	}
	out := make([]any, len(values))
	for i, v := range values {
		cv, err := ConvertValue(t.Columns[i].DataType, v)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.FullName(), t.Columns[i].Name, err)
		}
		out[i] = cv
	}
	return out, nil
}

// Relation is a foreign key from Table to ParentTable.
type Relation struct {
	Name             string   `json:"name"`
	Table            string   `json:"table"`
	SchemaName       string   `json:"schema,omitempty"`
	ParentTable      string   `json:"parentTable"`
	ParentSchemaName string   `json:"parentSchema,omitempty"`
	Columns          []string `json:"columns"`
	ParentColumns    []string `json:"parentColumns"`
}
