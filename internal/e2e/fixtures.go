package e2e

import (
	"context"
	"database/sql"
	"testing"

	"github.com/klauern/rowsync/internal/config"
	"github.com/klauern/rowsync/internal/provider/sqlite"
	"github.com/klauern/rowsync/internal/schema"
)

// Database is a SQLite database file used as a server or client.
type Database struct {
	t    *testing.T
	Path string
	p    *sqlite.Provider
}

// NewDatabase opens (creating when missing) a SQLite database at path. It is
// closed at test cleanup.
func (h *Harness) NewDatabase(name string) *Database {
	h.t.Helper()
	path := h.Path(name)
	p, err := sqlite.New(path)
	if err != nil {
		h.t.Fatalf("failed to open %s: %v", path, err)
	}
	h.t.Cleanup(func() { _ = p.Close() })
	return &Database{t: h.t, Path: path, p: p}
}

func (d *Database) db() *sql.DB {
	d.t.Helper()
	db, err := d.p.CreateConnection(context.Background())
	if err != nil {
		d.t.Fatalf("failed to connect to %s: %v", d.Path, err)
	}
	return db
}

// Exec runs statements in order.
func (d *Database) Exec(stmts ...string) {
	d.t.Helper()
	for _, stmt := range stmts {
		if _, err := d.db().ExecContext(context.Background(), stmt); err != nil {
			d.t.Fatalf("exec %q on %s: %v", stmt, d.Path, err)
		}
	}
}

// QueryInt returns a single integer.
func (d *Database) QueryInt(query string, args ...any) int64 {
	d.t.Helper()
	var n int64
	if err := d.db().QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		d.t.Fatalf("query %q on %s: %v", query, d.Path, err)
	}
	return n
}

// QueryString returns a single string.
func (d *Database) QueryString(query string, args ...any) string {
	d.t.Helper()
	var s string
	if err := d.db().QueryRowContext(context.Background(), query, args...).Scan(&s); err != nil {
		d.t.Fatalf("query %q on %s: %v", query, d.Path, err)
	}
	return s
}

// SeedShop creates customers and orders tables (orders reference customers)
// with n customers, each with one order.
func (d *Database) SeedShop(n int) {
	d.t.Helper()
	d.Exec(
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, region TEXT NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id), total REAL NOT NULL)`,
	)
	for i := 1; i <= n; i++ {
		region := "emea"
		if i%2 == 0 {
			region = "apac"
		}
		if _, err := d.db().ExecContext(context.Background(),
			`INSERT INTO customers (id, name, region) VALUES (?, ?, ?)`, i, "customer", region); err != nil {
			d.t.Fatalf("seed customer %d: %v", i, err)
		}
		if _, err := d.db().ExecContext(context.Background(),
			`INSERT INTO orders (id, customer_id, total) VALUES (?, ?, ?)`, i, i, float64(i)*10); err != nil {
			d.t.Fatalf("seed order %d: %v", i, err)
		}
	}
}

// ShopConfig returns a config for a server and client database syncing the
// shop tables.
func ShopConfig(server, client *Database) *config.Config {
	cfg := config.Default()
	cfg.Server.ConnectionString = server.Path
	cfg.Client.ConnectionString = client.Path
	// Listed child first; the engine orders tables by their relations.
	cfg.Scope.Tables = schema.NewSetup("orders", "customers").Tables
	cfg.Options.BatchMaxRows = 10
	return cfg
}
