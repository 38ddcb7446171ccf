package interceptor

import (
	"time"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/migration"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
)

// Side identifies which participant raised an event.
type Side string

const (
	Client Side = "client"
	Server Side = "server"
)

// SessionBeginArgs is raised when a session starts.
type SessionBeginArgs struct {
	Side      Side
	SessionID string
	ScopeName string
}

// ScopeLoadedArgs is raised after the scope was loaded or created.
type ScopeLoadedArgs struct {
	Side        Side
	ClientScope *scope.ClientScopeInfo
	ServerScope *scope.ServerScopeInfo
}

// SchemaLoadedArgs is raised once the schema of a scope is known.
type SchemaLoadedArgs struct {
	Side   Side
	Schema *schema.Set
}

// ProvisionedArgs is raised after tracking structures were created.
type ProvisionedArgs struct {
	Side      Side
	ScopeName string
	Tables    []string
}

// MigratedArgs is raised after a stored schema was migrated.
type MigratedArgs struct {
	Side      Side
	ScopeName string
	Tables    []*migration.Table
}

// GettingChangesArgs is raised before changes are selected.
type GettingChangesArgs struct {
	Side           Side
	Since          int64
	Until          int64
	ExcludeScopeID string
}

// BatchCreatedArgs is raised once an outgoing change set is materialized.
type BatchCreatedArgs struct {
	Side Side
	Info *batch.Info
}

// SendingChangesArgs is raised before a part is sent.
type SendingChangesArgs struct {
	Side       Side
	BatchIndex int
	BatchCount int
	RowCount   int
	IsLast     bool
}

// ApplyingChangesArgs is raised before a received part is applied.
type ApplyingChangesArgs struct {
	Side       Side
	BatchIndex int
	BatchCount int
	RowCount   int
	Policy     string
}

// BatchAppliedArgs is raised after a received part was committed.
type BatchAppliedArgs struct {
	Side       Side
	BatchIndex int
	BatchCount int
	Applied    int
	Skipped    int
	Conflicts  int
}

// Resolution is the outcome of a custom conflict handler.
type Resolution string

const (
	// Unresolved leaves the conflict reported and skips the row.
	Unresolved Resolution = ""
	// ApplyRemote applies the incoming row (or MergedValues when set).
	ApplyRemote Resolution = "apply_remote"
	// KeepLocal keeps the local row.
	KeepLocal Resolution = "keep_local"
)

// ConflictArgs is raised for each conflict under the custom policy. The
// handler sets Resolution, and optionally MergedValues to apply a merged row.
type ConflictArgs struct {
	Side   Side
	Table  *schema.Table
	Local  batch.Row
	Remote batch.Row

	Resolution   Resolution
	MergedValues []any
}

// SessionEndArgs is raised when a session ends, successfully or not. It
// runs after the watermark or history is saved, so a handler error is only
// logged.
type SessionEndArgs struct {
	Side      Side
	SessionID string
	ScopeName string
	Status    string
	Err       error
	Duration  time.Duration
}
