package schema

import (
	"slices"
	"strings"
)

// SetupTable selects a table (and optionally a subset of its columns) for a
// scope.
type SetupTable struct {
	Name       string    `json:"name" yaml:"name" toml:"name"`
	SchemaName string    `json:"schema,omitempty" yaml:"schema,omitempty" toml:"schema"`
	Columns    []string  `json:"columns,omitempty" yaml:"columns,omitempty" toml:"columns"`
	Direction  Direction `json:"direction,omitempty" yaml:"direction,omitempty" toml:"direction"`
}

// FullName returns schema.name, or name when no schema is set.
func (t SetupTable) FullName() string {
	return QualifiedName(t.Name, t.SchemaName)
}

// Filter restricts a table's rows to those whose Column equals the value of
// Parameter supplied with each sync.
type Filter struct {
	Table      string `json:"table" yaml:"table" toml:"table"`
	SchemaName string `json:"schema,omitempty" yaml:"schema,omitempty" toml:"schema"`
	Column     string `json:"column" yaml:"column" toml:"column"`
	Parameter  string `json:"parameter" yaml:"parameter" toml:"parameter"`
}

// Setup is the user supplied description of a scope: which tables to sync,
// row filters, and naming overrides for tracking objects.
type Setup struct {
	Tables                 []SetupTable `json:"tables" yaml:"tables" toml:"tables"`
	Filters                []Filter     `json:"filters,omitempty" yaml:"filters,omitempty" toml:"filters"`
	TrackingTablesPrefix   string       `json:"trackingTablesPrefix,omitempty" yaml:"tracking_tables_prefix,omitempty" toml:"tracking_tables_prefix"`
	TrackingTablesSuffix   string       `json:"trackingTablesSuffix,omitempty" yaml:"tracking_tables_suffix,omitempty" toml:"tracking_tables_suffix"`
	TriggersPrefix         string       `json:"triggersPrefix,omitempty" yaml:"triggers_prefix,omitempty" toml:"triggers_prefix"`
	TriggersSuffix         string       `json:"triggersSuffix,omitempty" yaml:"triggers_suffix,omitempty" toml:"triggers_suffix"`
	StoredProceduresPrefix string       `json:"storedProceduresPrefix,omitempty" yaml:"stored_procedures_prefix,omitempty" toml:"stored_procedures_prefix"`
	StoredProceduresSuffix string       `json:"storedProceduresSuffix,omitempty" yaml:"stored_procedures_suffix,omitempty" toml:"stored_procedures_suffix"`
}

// NewSetup creates a setup for the named tables. Names may be schema
// qualified ("sales.orders").
func NewSetup(tables ...string) *Setup {
	s := &Setup{}
	for _, name := range tables {
		st := SetupTable{Name: name}
		if i := strings.LastIndex(name, "."); i > 0 {
			st.SchemaName, st.Name = name[:i], name[i+1:]
		}
		s.Tables = append(s.Tables, st)
	}
	return s
}

// HasTables reports whether the setup selects any table.
func (s *Setup) HasTables() bool {
	return s != nil && len(s.Tables) > 0
}

// Table returns the setup entry for a table.
func (s *Setup) Table(name, schemaName string) (SetupTable, bool) {
	if s == nil {
		return SetupTable{}, false
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) && strings.EqualFold(t.SchemaName, schemaName) {
			return t, true
		}
	}
	return SetupTable{}, false
}

// FiltersFor returns the filters that apply to a table.
func (s *Setup) FiltersFor(name, schemaName string) []Filter {
	if s == nil {
		return nil
	}
	var out []Filter
	for _, f := range s.Filters {
		if strings.EqualFold(f.Table, name) && strings.EqualFold(f.SchemaName, schemaName) {
			out = append(out, f)
		}
	}
	return out
}

// Equal reports whether two setups are identical. A changed setup triggers
// a schema migration.
func (s *Setup) Equal(other *Setup) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.TrackingTablesPrefix != other.TrackingTablesPrefix ||
		s.TrackingTablesSuffix != other.TrackingTablesSuffix ||
		s.TriggersPrefix != other.TriggersPrefix ||
		s.TriggersSuffix != other.TriggersSuffix ||
		s.StoredProceduresPrefix != other.StoredProceduresPrefix ||
		s.StoredProceduresSuffix != other.StoredProceduresSuffix {
		return false
	}
	if !slices.Equal(s.Filters, other.Filters) {
		return false
	}
	return slices.EqualFunc(s.Tables, other.Tables, func(a, b SetupTable) bool {
		return strings.EqualFold(a.Name, b.Name) &&
			strings.EqualFold(a.SchemaName, b.SchemaName) &&
			a.Direction == b.Direction &&
			slices.Equal(a.Columns, b.Columns)
	})
}

// Clone returns a deep copy of the setup.
func (s *Setup) Clone() *Setup {
	if s == nil {
		return nil
	}
	c := *s
	c.Tables = make([]SetupTable, len(s.Tables))
	for i, t := range s.Tables {
		t.Columns = slices.Clone(t.Columns)
		c.Tables[i] = t
	}
	c.Filters = slices.Clone(s.Filters)
	return &c
}
