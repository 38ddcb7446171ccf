package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/klauern/rowsync/internal/dependency"
)

// Set is the negotiated shape of the data exchanged by a scope.
type Set struct {
	Tables    []*Table   `json:"tables"`
	Relations []Relation `json:"relations,omitempty"`
	// Version is the content hash of the set, see Hash.
	Version string `json:"version,omitempty"`
}

// Table finds a table by name and schema (case-insensitive).
func (s *Set) Table(name, schemaName string) *Table {
	if s == nil {
		return nil
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) && strings.EqualFold(t.SchemaName, schemaName) {
			return t
		}
	}
	return nil
}

// HasTables reports whether the set describes at least one table.
func (s *Set) HasTables() bool {
	return s != nil && len(s.Tables) > 0
}

// Validate checks every table and that relations refer to tables of the set.
func (s *Set) Validate() error {
	if s == nil {
		return fmt.Errorf("schema is nil")
	}
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if err := t.Validate(); err != nil {
			return err
		}
		key := strings.ToLower(t.FullName())
		if seen[key] {
			return fmt.Errorf("duplicate table %s", t.FullName())
		}
		seen[key] = true
	}
	for _, r := range s.Relations {
		if s.Table(r.Table, r.SchemaName) == nil {
			return fmt.Errorf("relation %s: unknown table %s", r.Name, QualifiedName(r.Table, r.SchemaName))
		}
		if len(r.Columns) == 0 || len(r.Columns) != len(r.ParentColumns) {
			return fmt.Errorf("relation %s: column count mismatch", r.Name)
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	c := &Set{Version: s.Version}
	for _, t := range s.Tables {
		c.Tables = append(c.Tables, t.Clone())
	}
	for _, r := range s.Relations {
		r.Columns = slices.Clone(r.Columns)
		r.ParentColumns = slices.Clone(r.ParentColumns)
		c.Relations = append(c.Relations, r)
	}
	return c
}

// Equal reports whether two sets describe the same tables and relations.
func (s *Set) Equal(other *Set) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Hash() == other.Hash()
}

// Hash returns a stable content hash of the tables and relations. It is used
// as the schema version.
func (s *Set) Hash() string {
	if s == nil {
		return ""
	}
	// Version is excluded so a stamped set hashes like an unstamped one.
	payload := struct {
		Tables    []*Table   `json:"tables"`
		Relations []Relation `json:"relations"`
	}{s.Tables, s.Relations}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Stamp sets Version to the current content hash and returns the set.
func (s *Set) Stamp() *Set {
	s.Version = s.Hash()
	return s
}

// Ordered returns the tables with parents before children according to the
// relations. Unrelated tables keep their declared order.
func (s *Set) Ordered() ([]*Table, error) {
	if s == nil {
		return nil, nil
	}
	byName := make(map[string]*Table, len(s.Tables))
	nodes := make([]dependency.Node, 0, len(s.Tables))
	for _, t := range s.Tables {
		key := strings.ToLower(t.FullName())
		byName[key] = t
		nodes = append(nodes, dependency.Node{Name: key})
	}
	for _, r := range s.Relations {
		child := strings.ToLower(QualifiedName(r.Table, r.SchemaName))
		parent := strings.ToLower(QualifiedName(r.ParentTable, r.ParentSchemaName))
		if _, ok := byName[parent]; !ok {
			continue
		}
		for i := range nodes {
			if nodes[i].Name == child {
				nodes[i].Dependencies = append(nodes[i].Dependencies, parent)
			}
		}
	}

	result := dependency.Resolve(nodes)
	if result.HasErrors() {
		return nil, fmt.Errorf("cannot order tables: %s", result.Errors[0].Message)
	}
	out := make([]*Table, 0, len(result.Ordered))
	for _, name := range result.Ordered {
		out = append(out, byName[name])
	}
	return out, nil
}
