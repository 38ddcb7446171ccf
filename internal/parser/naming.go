package parser

import "fmt"

// DefaultTrackingSuffix is appended to tracking table names when the setup
// configures neither a prefix nor a suffix.
const DefaultTrackingSuffix = "_tracking"

// TriggerKind identifies a tracking trigger.
type TriggerKind string

// Trigger kinds.
const (
	TriggerInsert TriggerKind = "insert"
	TriggerUpdate TriggerKind = "update"
	TriggerDelete TriggerKind = "delete"
)

// AllTriggerKinds returns the trigger kinds in creation order.
func AllTriggerKinds() []TriggerKind {
	return []TriggerKind{TriggerInsert, TriggerUpdate, TriggerDelete}
}

// ProcedureKind identifies a generated routine.
type ProcedureKind string

// Procedure kinds.
const (
	ProcSelectChanges ProcedureKind = "select_changes"
	ProcSelectRow     ProcedureKind = "select_row"
	ProcUpsert        ProcedureKind = "upsert"
	ProcDelete        ProcedureKind = "delete"
	// ProcTrigger names the trigger function used by backends whose triggers
	// call a routine.
	ProcTrigger ProcedureKind = "trigger"
)

// TrackingName returns the tracking table name for table:
// {prefix}{object}{suffix}. The suffix defaults to "_tracking" only when
// both prefix and suffix are empty so the tracking table never collides with
// the data table. The schema and database of table are kept.
func TrackingName(table Name, prefix, suffix string) Name {
	if prefix == "" && suffix == "" {
		suffix = DefaultTrackingSuffix
	}
	return table.WithObject(prefix + table.Object() + suffix).Unqualified()
}

// TriggerName returns {prefix}{object}_{kind}_trigger{suffix}.
func TriggerName(table Name, kind TriggerKind, prefix, suffix string) Name {
	object := fmt.Sprintf("%s%s_%s_trigger%s", prefix, normalize(table.Object()), kind, suffix)
	return table.WithObject(object).Unqualified()
}

// ProcedureName returns {prefix}{object}_{kind}{suffix}.
func ProcedureName(table Name, kind ProcedureKind, prefix, suffix string) Name {
	object := fmt.Sprintf("%s%s_%s%s", prefix, normalize(table.Object()), kind, suffix)
	return table.WithObject(object).Unqualified()
}
