// Package migration compares a stored table definition to a new one and
// decides which tracking structures must be rebuilt.
package migration

import (
	"fmt"
	"slices"
	"strings"

	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

// Table is the outcome of comparing two definitions of the same table.
type Table struct {
	Current        *schema.Table
	New            *schema.Table
	AddedColumns   []schema.Column
	RemovedColumns []schema.Column
	// NeedRecreateTrackingTable is set when the primary key changed.
	NeedRecreateTrackingTable bool
	// NeedRecreateTriggers is set when the tracking table or the column set
	// changed.
	NeedRecreateTriggers bool
	// NeedUpdateSchema is set when the stored definition must be replaced.
	NeedUpdateSchema bool
}

// HasChanges reports whether any action is required.
func (t *Table) HasChanges() bool {
	return t.NeedRecreateTrackingTable || t.NeedRecreateTriggers || t.NeedUpdateSchema
}

// Compare compares current to next. A primary key change is fatal when
// preserveTracking is set: a *syncerr.Error of kind KindSchemaMismatch is
// returned and nothing is marked. Otherwise the tracking table and triggers
// are marked for recreation. Added or removed columns only require a schema
// update (and new triggers, since triggers enumerate columns on some
// backends).
func Compare(current, next *schema.Table, preserveTracking bool) (*Table, error) {
	if current == nil || next == nil {
		return nil, fmt.Errorf("compare: both table definitions are required")
	}
	m := &Table{Current: current, New: next}

	if !samePrimaryKey(current, next) {
		if preserveTracking {
			return m, syncerr.Newf(syncerr.KindSchemaMismatch, "migrate",
				"table %s: primary key changed from (%s) to (%s) while preserving tracking",
				next.FullName(), strings.Join(current.PrimaryKeys, ", "), strings.Join(next.PrimaryKeys, ", "))
		}
		m.NeedRecreateTrackingTable = true
		m.NeedRecreateTriggers = true
		m.NeedUpdateSchema = true
	}

	for _, c := range next.Columns {
		if _, ok := current.Column(c.Name); !ok {
			m.AddedColumns = append(m.AddedColumns, c)
		}
	}
	for _, c := range current.Columns {
		if _, ok := next.Column(c.Name); !ok {
			m.RemovedColumns = append(m.RemovedColumns, c)
		}
	}
	if len(m.AddedColumns) > 0 || len(m.RemovedColumns) > 0 {
		m.NeedUpdateSchema = true
		m.NeedRecreateTriggers = true
	}
	if current.EffectiveDirection() != next.EffectiveDirection() {
		m.NeedUpdateSchema = true
	}
	return m, nil
}

// samePrimaryKey reports whether both tables have the same primary key
// column set (order and case ignored).
func samePrimaryKey(a, b *schema.Table) bool {
	if len(a.PrimaryKeys) != len(b.PrimaryKeys) {
		return false
	}
	for _, pk := range a.PrimaryKeys {
		if !slices.ContainsFunc(b.PrimaryKeys, func(o string) bool { return strings.EqualFold(o, pk) }) {
			return false
		}
	}
	return true
}

// Plan is the comparison of two schema sets.
type Plan struct {
	Tables        []*Table
	AddedTables   []*schema.Table
	RemovedTables []*schema.Table
}

// HasChanges reports whether applying the plan changes anything.
func (p *Plan) HasChanges() bool {
	if len(p.AddedTables) > 0 || len(p.RemovedTables) > 0 {
		return true
	}
	for _, t := range p.Tables {
		if t.HasChanges() {
			return true
		}
	}
	return false
}

// CompareSets compares every table of current and next. The first schema
// mismatch aborts the comparison.
func CompareSets(current, next *schema.Set, preserveTracking bool) (*Plan, error) {
	plan := &Plan{}
	if next == nil {
		return plan, nil
	}
	for _, nt := range next.Tables {
		ct := current.Table(nt.Name, nt.SchemaName)
		if ct == nil {
			plan.AddedTables = append(plan.AddedTables, nt)
			continue
		}
		m, err := Compare(ct, nt, preserveTracking)
		if err != nil {
			return nil, err
		}
		plan.Tables = append(plan.Tables, m)
	}
	if current != nil {
		for _, ct := range current.Tables {
			if next.Table(ct.Name, ct.SchemaName) == nil {
				plan.RemovedTables = append(plan.RemovedTables, ct)
			}
		}
	}
	return plan, nil
}
