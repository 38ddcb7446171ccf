// Package sqlite implements the rowsync provider for SQLite through the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

// Name is the registered backend name.
const Name = "sqlite"

// busyTimeoutMillis is how long a statement waits on a locked database
// before failing with SQLITE_BUSY.
const busyTimeoutMillis = 5000

func init() {
	provider.Register(Name, func(conn string) (provider.Provider, error) {
		return New(conn)
	})
}

// Provider is a SQLite database. All statements share a single connection.
type Provider struct {
	conn  string
	path  string
	names *parser.Cache
	meta  Metadata
	dbb   *DatabaseBuilder

	mu sync.Mutex
	db *sql.DB
}

// New validates the connection string (a file path, a file: URI or
// ":memory:") and returns an unopened provider.
func New(conn string) (*Provider, error) {
	path, err := dataSource(conn)
	if err != nil {
		return nil, err
	}
	return &Provider{
		conn:  conn,
		path:  path,
		names: parser.NewCache(),
		dbb:   &DatabaseBuilder{},
	}, nil
}

func dataSource(conn string) (string, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return "", syncerr.New(syncerr.KindConnection, "create_connection", "sqlite: empty connection string")
	}
	if !strings.HasPrefix(conn, "file:") {
		return conn, nil
	}
	u, err := url.Parse(conn)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindConnection, "create_connection", fmt.Errorf("sqlite: malformed uri: %w", err))
	}
	path := u.Opaque
	if path == "" {
		path = u.Path
	}
	if path == "" {
		return "", syncerr.Newf(syncerr.KindConnection, "create_connection", "sqlite: uri %q has no path", conn)
	}
	return path, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// ConnectionString implements provider.Provider.
func (p *Provider) ConnectionString() string { return p.conn }

// CreateConnection implements provider.Provider. The pool holds one
// connection since SQLite allows a single writer.
func (p *Provider) CreateConnection(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}

	db, err := sql.Open("sqlite", p.conn)
	if err != nil {
		return nil, p.EnsureSyncError(syncerr.Wrap(syncerr.KindConnection, "create_connection", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = " + strconv.Itoa(busyTimeoutMillis),
		"PRAGMA journal_mode = WAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, p.EnsureSyncError(syncerr.Wrap(syncerr.KindConnection, "create_connection", err))
		}
	}
	p.db = db
	return db, nil
}

// Metadata implements provider.Provider.
func (p *Provider) Metadata() provider.Metadata { return p.meta }

// Dialect implements provider.Provider.
func (p *Provider) Dialect() provider.Dialect { return dialect{} }

// Parsers implements provider.Provider. SQLite has no schemas, so the
// schema part of table names is dropped.
func (p *Provider) Parsers(table *schema.Table, setup *schema.Setup) (parser.Name, parser.Name) {
	return provider.NamesFor(dialect{}, p.names, table, setup, false)
}

// TableBuilder implements provider.Provider.
func (p *Provider) TableBuilder(table *schema.Table, setup *schema.Setup) provider.TableBuilder {
	tableName, trackingName := p.Parsers(table, setup)
	return &TableBuilder{
		SQLTableBuilder: provider.SQLTableBuilder{
			Dialect:      dialect{},
			Metadata:     p.meta,
			Database:     p.dbb,
			Table:        table,
			Setup:        setup,
			TableName:    tableName,
			TrackingName: trackingName,
		},
		triggers: provider.TriggerNamesFor(tableName, setup),
	}
}

// SyncAdapter implements provider.Provider.
func (p *Provider) SyncAdapter(table *schema.Table, setup *schema.Setup) provider.SyncAdapter {
	tableName, trackingName := p.Parsers(table, setup)
	return &provider.SQLSyncAdapter{
		Dialect:      dialect{},
		Database:     p.dbb,
		Table:        table,
		Setup:        setup,
		TableName:    tableName,
		TrackingName: trackingName,
	}
}

// ScopeBuilder implements provider.Provider.
func (p *Provider) ScopeBuilder(prefix string) provider.ScopeBuilder {
	return provider.NewSQLScopeBuilder(dialect{}, prefix)
}

// DatabaseBuilder implements provider.Provider.
func (p *Provider) DatabaseBuilder() provider.DatabaseBuilder { return p.dbb }

// ShouldRetryOn implements provider.Provider: busy and locked databases are
// transient.
func (p *Provider) ShouldRetryOn(err error) bool {
	code, ok := resultCode(err)
	if !ok {
		return false
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func resultCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

// EnsureSyncError implements provider.Provider.
func (p *Provider) EnsureSyncError(err error) error {
	d := provider.Diagnostics{
		DataSource: p.path,
		Catalog:    "main",
		Retryable:  p.ShouldRetryOn(err),
	}
	if code, ok := resultCode(err); ok {
		d.Number = strconv.Itoa(code)
	}
	return provider.AnnotateError(err, d)
}

// Close closes the pool if it was opened.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

type dialect struct{}

func (dialect) Name() string             { return Name }
func (dialect) Quotes() (string, string) { return `"`, `"` }
func (dialect) Placeholder(int) string   { return "?" }
func (dialect) BigIntType() string       { return "INTEGER" }
func (dialect) TextType() string         { return "TEXT" }
