// Package scope holds what each sync participant has already exchanged
// (client scope, server scope, per-client server history) and the in-memory
// state of sync sessions.
package scope

import (
	"time"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/schema"
)

// DefaultName is the scope name used when none is configured.
const DefaultName = "default"

// ServerOriginator marks rows a client received from the server.
var ServerOriginator = uuid.Nil

// ClientScopeInfo is the client's record of a scope. LastServerSyncTimestamp
// is the watermark: the server tick up to which server changes were applied.
// LastSyncTimestamp is the client tick at the last successful sync.
type ClientScopeInfo struct {
	ID                      uuid.UUID     `json:"id"`
	Name                    string        `json:"name"`
	Schema                  *schema.Set   `json:"schema,omitempty"`
	Setup                   *schema.Setup `json:"setup,omitempty"`
	Version                 string        `json:"version,omitempty"`
	LastServerSyncTimestamp int64         `json:"lastServerSyncTimestamp"`
	LastSyncTimestamp       int64         `json:"lastSyncTimestamp"`
	LastSync                time.Time     `json:"lastSync,omitzero"`
	LastSyncDuration        time.Duration `json:"lastSyncDuration,omitempty"`
	// IsNew is set when the scope was created by this session and has never
	// completed a sync.
	IsNew bool `json:"-"`
}

// NewClientScope creates a fresh client scope with a random id.
func NewClientScope(name string) *ClientScopeInfo {
	return &ClientScopeInfo{ID: uuid.New(), Name: name, IsNew: true}
}

// HasSchema reports whether the client holds a schema for the scope.
func (c *ClientScopeInfo) HasSchema() bool {
	return c != nil && c.Schema.HasTables()
}

// ServerScopeInfo is the server's record of a scope. The schema is never
// serialized with the scope; it travels alongside in EnsureSchema.
type ServerScopeInfo struct {
	Name                 string        `json:"name"`
	Schema               *schema.Set   `json:"-"`
	Setup                *schema.Setup `json:"setup,omitempty"`
	Version              string        `json:"version,omitempty"`
	LastCleanupTimestamp int64         `json:"lastCleanupTimestamp"`
	IsNewScope           bool          `json:"isNewScope,omitempty"`
}

// ServerHistoryScopeInfo is the server's watermark for one client scope.
type ServerHistoryScopeInfo struct {
	ClientScopeID     uuid.UUID     `json:"clientScopeId"`
	Name              string        `json:"name"`
	LastSyncTimestamp int64         `json:"lastSyncTimestamp"`
	LastSync          time.Time     `json:"lastSync,omitzero"`
	LastSyncDuration  time.Duration `json:"lastSyncDuration,omitempty"`
}
