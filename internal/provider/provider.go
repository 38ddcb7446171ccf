// Package provider defines the capability set every database backend
// implements and the dialect-driven SQL builders shared by the backends.
package provider

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provider is the single seam between the sync engine and a database.
type Provider interface {
	// Name returns the registered backend name.
	Name() string
	ConnectionString() string
	// CreateConnection validates the connection string and returns the
	// provider's pool, opening it on first use.
	CreateConnection(ctx context.Context) (*sql.DB, error)
	// Metadata maps native column types to and from schema.DataType.
	Metadata() Metadata
	Dialect() Dialect
	// Parsers returns the names of a table and of its tracking table.
	Parsers(table *schema.Table, setup *schema.Setup) (tableName, trackingName parser.Name)
	TableBuilder(table *schema.Table, setup *schema.Setup) TableBuilder
	SyncAdapter(table *schema.Table, setup *schema.Setup) SyncAdapter
	ScopeBuilder(prefix string) ScopeBuilder
	DatabaseBuilder() DatabaseBuilder
	// ShouldRetryOn reports whether err is transient. It is the only input
	// of the retry policy.
	ShouldRetryOn(err error) bool
	// EnsureSyncError annotates err with the data source, catalog and native
	// error code without changing its classification.
	EnsureSyncError(err error) error
	Close() error
}

// Metadata maps native types to the neutral type system.
type Metadata interface {
	// DataType maps a native type name (e.g. "VARCHAR(20)") to a DataType.
	DataType(nativeType string) schema.DataType
	// NativeType returns the DDL type for a column.
	NativeType(c schema.Column) string
}

// TableBuilder creates and inspects a table and its tracking structures.
type TableBuilder interface {
	CreateTable(ctx context.Context, q Querier) error
	ExistsTable(ctx context.Context, q Querier) (bool, error)
	DropTable(ctx context.Context, q Querier) error
	CreateTrackingTable(ctx context.Context, q Querier) error
	ExistsTrackingTable(ctx context.Context, q Querier) (bool, error)
	DropTrackingTable(ctx context.Context, q Querier) error
	CreateTriggers(ctx context.Context, q Querier) error
	DropTriggers(ctx context.Context, q Querier) error
	// UpdateUntrackedRows gives rows without a tracking row one, so that rows
	// created before provisioning are synchronized.
	UpdateUntrackedRows(ctx context.Context, q Querier) (int64, error)
	AddColumn(ctx context.Context, q Querier, c schema.Column) error
	GetColumns(ctx context.Context, q Querier) ([]schema.Column, error)
	GetPrimaryKeys(ctx context.Context, q Querier) ([]string, error)
	GetRelations(ctx context.Context, q Querier) ([]schema.Relation, error)
}

// SelectMode restricts which tracking rows SelectChanges returns.
type SelectMode int

const (
	SelectAll SelectMode = iota
	SelectTombstones
	SelectUpserts
)

// SelectOptions describes a change selection window.
type SelectOptions struct {
	// Since is exclusive, Until inclusive.
	Since int64
	Until int64
	// ExcludeScopeID skips rows last produced by this scope.
	ExcludeScopeID string
	Mode           SelectMode
	// Parameters supply filter values by parameter name.
	Parameters map[string]any
}

// SyncAdapter reads and writes the rows of one table with tracking metadata.
type SyncAdapter interface {
	// SelectChanges streams the rows changed in (Since, Until] in tick order.
	SelectChanges(ctx context.Context, q Querier, opts SelectOptions, fn func(batch.Row) error) error
	// SelectRow returns the tracked row for a primary key, or nil when the
	// key was never tracked.
	SelectRow(ctx context.Context, q Querier, pk []any) (*batch.Row, error)
	// ApplyUpsert writes row and records originator as its producer.
	ApplyUpsert(ctx context.Context, q Querier, row batch.Row, originator string) error
	// ApplyDelete deletes the row and records a tombstone.
	ApplyDelete(ctx context.Context, q Querier, row batch.Row, originator string) error
	// PrimaryKey extracts the primary key values of a row.
	PrimaryKey(row batch.Row) ([]any, error)
}

// ScopeBuilder persists scope records.
type ScopeBuilder interface {
	EnsureTables(ctx context.Context, q Querier) error
	DropTables(ctx context.Context, q Querier) error
	GetClientScope(ctx context.Context, q Querier, name string) (*scope.ClientScopeInfo, error)
	SaveClientScope(ctx context.Context, q Querier, info *scope.ClientScopeInfo) error
	GetServerScope(ctx context.Context, q Querier, name string) (*scope.ServerScopeInfo, error)
	SaveServerScope(ctx context.Context, q Querier, info *scope.ServerScopeInfo) error
	GetServerHistory(ctx context.Context, q Querier, name, clientScopeID string) (*scope.ServerHistoryScopeInfo, error)
	SaveServerHistory(ctx context.Context, q Querier, info *scope.ServerHistoryScopeInfo) error
	ListServerHistory(ctx context.Context, q Querier, name string) ([]*scope.ServerHistoryScopeInfo, error)
}

// DatabaseBuilder manages database level structures.
type DatabaseBuilder interface {
	// EnsureDatabase creates the change tick source.
	EnsureDatabase(ctx context.Context, q Querier) error
	// DropDatabase removes the change tick source.
	DropDatabase(ctx context.Context, q Querier) error
	// LocalTimestamp returns the current change tick.
	LocalTimestamp(ctx context.Context, q Querier) (int64, error)
	// NextTimestamp advances the change tick and returns it.
	NextTimestamp(ctx context.Context, q Querier) (int64, error)
	// Version returns the database engine version.
	Version(ctx context.Context, q Querier) (string, error)
}

// Factory creates a provider for a connection string.
type Factory func(connString string) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available by name. It panics when called twice
// for the same name, like database/sql.Register.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("provider: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("provider: Register called twice for " + name)
	}
	registry[name] = f
}

// New creates a provider of the named backend.
func New(name, connString string) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", name, Names())
	}
	return f(connString)
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
