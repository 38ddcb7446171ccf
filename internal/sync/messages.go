package sync

import (
	"context"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
)

// SyncContext identifies the session every message belongs to.
type SyncContext struct {
	SessionID     string         `json:"sessionId"`
	ScopeName     string         `json:"scopeName"`
	ClientScopeID uuid.UUID      `json:"clientScopeId"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// EnsureScopesRequest opens a session.
type EnsureScopesRequest struct {
	Context SyncContext `json:"context"`
}

// EnsureScopesResponse returns the server scope, created and provisioned on
// first use.
type EnsureScopesResponse struct {
	Context       SyncContext            `json:"context"`
	ServerScope   *scope.ServerScopeInfo `json:"serverScope"`
	SchemaVersion string                 `json:"schemaVersion"`
}

// EnsureSchemaRequest asks for the authoritative schema.
type EnsureSchemaRequest struct {
	Context SyncContext `json:"context"`
	// SchemaVersion is the version the client holds, empty when none.
	SchemaVersion string `json:"schemaVersion,omitempty"`
}

// EnsureSchemaResponse carries the server schema and setup.
type EnsureSchemaResponse struct {
	Context SyncContext   `json:"context"`
	Schema  *schema.Set   `json:"schema"`
	Setup   *schema.Setup `json:"setup"`
}

// SendChangesRequest uploads one part of the client's change set.
type SendChangesRequest struct {
	Context    SyncContext `json:"context"`
	Part       *batch.Part `json:"part"`
	BatchCount int         `json:"batchCount"`
	// ClientWatermark is the server tick the client already synced up to.
	ClientWatermark int64 `json:"clientWatermark"`
}

// SendChangesResponse acknowledges an uploaded part. The response to the
// last part also carries the first part of the server's change set; later
// parts are fetched with GetMoreChanges.
type SendChangesResponse struct {
	Context SyncContext `json:"context"`
	// Part is nil while the server waits for more client parts.
	Part       *batch.Part `json:"part,omitempty"`
	BatchCount int         `json:"batchCount"`
	// RemoteClientTimestamp is the server tick the change set was selected
	// up to. It becomes the client's watermark when the session completes.
	RemoteClientTimestamp int64          `json:"remoteClientTimestamp"`
	ConflictPolicy        ConflictPolicy `json:"conflictPolicy"`
	ClientChangesApplied  int            `json:"clientChangesApplied"`
	Conflicts             []Conflict     `json:"conflicts,omitempty"`
}

// GetMoreChangesRequest fetches a part of the server's change set.
type GetMoreChangesRequest struct {
	Context    SyncContext `json:"context"`
	BatchIndex int         `json:"batchIndex"`
}

// EndSessionRequest closes a session. The server records the client's new
// watermark only when Succeeded is set.
type EndSessionRequest struct {
	Context   SyncContext `json:"context"`
	Succeeded bool        `json:"succeeded"`
	Error     string      `json:"error,omitempty"`
}

// EndSessionResponse confirms the session end.
type EndSessionResponse struct {
	Context               SyncContext `json:"context"`
	RemoteClientTimestamp int64       `json:"remoteClientTimestamp"`
}

// Remote is the server side of the protocol as the client sees it. The
// RemoteOrchestrator implements it in process and the web package over HTTP.
type Remote interface {
	EnsureScopes(ctx context.Context, req *EnsureScopesRequest) (*EnsureScopesResponse, error)
	EnsureSchema(ctx context.Context, req *EnsureSchemaRequest) (*EnsureSchemaResponse, error)
	SendChanges(ctx context.Context, req *SendChangesRequest) (*SendChangesResponse, error)
	GetMoreChanges(ctx context.Context, req *GetMoreChangesRequest) (*SendChangesResponse, error)
	EndSession(ctx context.Context, req *EndSessionRequest) (*EndSessionResponse, error)
}
