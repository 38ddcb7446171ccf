// Package postgres implements the rowsync provider for PostgreSQL through
// pgx's database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/klauern/rowsync/internal/parser"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/syncerr"
)

// Name is the registered backend name.
const Name = "postgres"

func init() {
	provider.Register(Name, func(conn string) (provider.Provider, error) {
		return New(conn)
	})
}

// Provider is a PostgreSQL database.
type Provider struct {
	conn     string
	host     string
	database string
	names    *parser.Cache
	dbb      *DatabaseBuilder

	mu sync.Mutex
	db *sql.DB
}

// New validates the connection string (URL or key/value form) and returns
// an unopened provider.
func New(conn string) (*Provider, error) {
	cfg, err := pgconn.ParseConfig(conn)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConnection, "create_connection", err)
	}
	return &Provider{
		conn:     conn,
		host:     cfg.Host,
		database: cfg.Database,
		names:    parser.NewCache(),
		dbb:      &DatabaseBuilder{},
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// ConnectionString implements provider.Provider.
func (p *Provider) ConnectionString() string { return p.conn }

// CreateConnection implements provider.Provider.
func (p *Provider) CreateConnection(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}
	db, err := sql.Open("pgx", p.conn)
	if err != nil {
		return nil, p.EnsureSyncError(syncerr.Wrap(syncerr.KindConnection, "create_connection", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, p.EnsureSyncError(syncerr.Wrap(syncerr.KindConnection, "create_connection", err))
	}
	p.db = db
	return db, nil
}

// Metadata implements provider.Provider.
func (p *Provider) Metadata() provider.Metadata { return Metadata{} }

// Dialect implements provider.Provider.
func (p *Provider) Dialect() provider.Dialect { return dialect{} }

// Parsers implements provider.Provider.
func (p *Provider) Parsers(table *schema.Table, setup *schema.Setup) (parser.Name, parser.Name) {
	return provider.NamesFor(dialect{}, p.names, table, setup, true)
}

// TableBuilder implements provider.Provider.
func (p *Provider) TableBuilder(table *schema.Table, setup *schema.Setup) provider.TableBuilder {
	tableName, trackingName := p.Parsers(table, setup)
	return &TableBuilder{
		SQLTableBuilder: provider.SQLTableBuilder{
			Dialect:      dialect{},
			Metadata:     Metadata{},
			Database:     p.dbb,
			Table:        table,
			Setup:        setup,
			TableName:    tableName,
			TrackingName: trackingName,
		},
		triggers: provider.TriggerNamesFor(tableName, setup),
		function: provider.ProcedureNameFor(tableName, parser.ProcTrigger, setup),
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

// transientCodes are SQLSTATEs worth retrying.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement timeout)
	"53300": true, // too_many_connections
}

// ShouldRetryOn implements provider.Provider.
func (p *Provider) ShouldRetryOn(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions.
		return transientCodes[pgErr.Code] || len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	return pgconn.Timeout(err) || errors.Is(err, driver.ErrBadConn)
}

// EnsureSyncError implements provider.Provider.
func (p *Provider) EnsureSyncError(err error) error {
	d := provider.Diagnostics{
		DataSource: p.host,
		Catalog:    p.database,
		Retryable:  p.ShouldRetryOn(err),
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.Number = pgErr.Code
		if pgErr.Code == "42P01" || pgErr.Code == "42703" {
			d.Kind = syncerr.KindSchemaMismatch
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		d.Kind = syncerr.KindConnection
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
func (dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (dialect) BigIntType() string       { return "BIGINT" }
func (dialect) TextType() string         { return "TEXT" }
