// Package batch holds change rows, groups them into ordered size-bounded
// batch parts, and serializes them for transfer.
package batch

import "strings"

// RowState is the kind of change a row carries.
type RowState string

const (
	// Modified is an insert or update.
	Modified RowState = "modified"
	// Deleted is a tombstone; only primary key values are set.
	Deleted RowState = "deleted"
)

// Row is one changed row with its tracking metadata.
type Row struct {
	// Values are the column values in table column order.
	Values []any `json:"values"`
	State  RowState `json:"state"`
	// Timestamp is the sender's local change tick.
	Timestamp int64 `json:"timestamp"`
	// ModifiedAt is the wall clock time of the edit in Unix microseconds.
	// Last-writer-wins compares it.
	ModifiedAt int64 `json:"modifiedAt"`
	// UpdateScopeID is the scope that produced this version, empty for a
	// local edit.
	UpdateScopeID string `json:"updateScopeId,omitempty"`
}

// IsTombstone reports whether the row is a delete.
func (r Row) IsTombstone() bool {
	return r.State == Deleted
}

// ContainerTable holds the rows of one table, in order.
type ContainerTable struct {
	TableName  string `json:"table"`
	SchemaName string `json:"schema,omitempty"`
	Rows       []Row  `json:"rows"`
}

// Matches reports whether the container holds rows of the named table.
func (t *ContainerTable) Matches(name, schemaName string) bool {
	return strings.EqualFold(t.TableName, name) && strings.EqualFold(t.SchemaName, schemaName)
}

// ContainerSet is an ordered sequence of table containers. The same table
// may appear more than once (deletes first, upserts later) so that the order
// of application follows foreign key order.
type ContainerSet struct {
	Tables []*ContainerTable `json:"tables"`
}

// AddRow appends a row, extending the last container when it holds the same
// table and starting a new one otherwise.
func (s *ContainerSet) AddRow(name, schemaName string, row Row) {
	if n := len(s.Tables); n > 0 && s.Tables[n-1].Matches(name, schemaName) {
		s.Tables[n-1].Rows = append(s.Tables[n-1].Rows, row)
		return
	}
	s.Tables = append(s.Tables, &ContainerTable{TableName: name, SchemaName: schemaName, Rows: []Row{row}})
}

// RowCount returns the number of rows across all containers.
func (s *ContainerSet) RowCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Tables {
		n += len(t.Rows)
	}
	return n
}

// HasRows reports whether the set holds at least one row.
func (s *ContainerSet) HasRows() bool {
	return s.RowCount() > 0
}
