package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
)

// DefaultScopePrefix prefixes the scope tables.
const DefaultScopePrefix = "rowsync_"

// SQLScopeBuilder stores scope records in three tables:
// {prefix}scope_info_client, {prefix}scope_info_server and
// {prefix}scope_info_history. Schema and setup are stored as JSON text.
type SQLScopeBuilder struct {
	Dialect Dialect
	Prefix  string
}

// NewSQLScopeBuilder creates a scope builder. An empty prefix uses
// DefaultScopePrefix.
func NewSQLScopeBuilder(d Dialect, prefix string) *SQLScopeBuilder {
	if prefix == "" {
		prefix = DefaultScopePrefix
	}
	return &SQLScopeBuilder{Dialect: d, Prefix: prefix}
}

func (b *SQLScopeBuilder) clientTable() string  { return Quote(b.Dialect, b.Prefix+"scope_info_client") }
func (b *SQLScopeBuilder) serverTable() string  { return Quote(b.Dialect, b.Prefix+"scope_info_server") }
func (b *SQLScopeBuilder) historyTable() string { return Quote(b.Dialect, b.Prefix+"scope_info_history") }

// EnsureTables implements ScopeBuilder.
func (b *SQLScopeBuilder) EnsureTables(ctx context.Context, q Querier) error {
	text, big := b.Dialect.TextType(), b.Dialect.BigIntType()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  sync_scope_name %[2]s NOT NULL PRIMARY KEY,
  sync_scope_id %[2]s NOT NULL,
  sync_scope_schema %[2]s NULL,
  sync_scope_setup %[2]s NULL,
  sync_scope_version %[2]s NULL,
  scope_last_server_sync_timestamp %[3]s NOT NULL DEFAULT 0,
  scope_last_sync_timestamp %[3]s NOT NULL DEFAULT 0,
  scope_last_sync %[3]s NOT NULL DEFAULT 0,
  scope_last_sync_duration %[3]s NOT NULL DEFAULT 0
)`, b.clientTable(), text, big),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  sync_scope_name %[2]s NOT NULL PRIMARY KEY,
  sync_scope_schema %[2]s NULL,
  sync_scope_setup %[2]s NULL,
  sync_scope_version %[2]s NULL,
  sync_scope_last_clean_timestamp %[3]s NOT NULL DEFAULT 0
)`, b.serverTable(), text, big),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  sync_scope_id %[2]s NOT NULL,
  sync_scope_name %[2]s NOT NULL,
  scope_last_sync_timestamp %[3]s NOT NULL DEFAULT 0,
  scope_last_sync %[3]s NOT NULL DEFAULT 0,
  scope_last_sync_duration %[3]s NOT NULL DEFAULT 0,
  PRIMARY KEY (sync_scope_id, sync_scope_name)
)`, b.historyTable(), text, big),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create scope tables: %w", err)
		}
	}
	return nil
}

// DropTables implements ScopeBuilder.
func (b *SQLScopeBuilder) DropTables(ctx context.Context, q Querier) error {
	for _, t := range []string{b.clientTable(), b.serverTable(), b.historyTable()} {
		if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop scope table %s: %w", t, err)
		}
	}
	return nil
}

func marshalNullable(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalNullable(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func microsToTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func timeToMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// GetClientScope implements ScopeBuilder. It returns nil when the scope does
// not exist.
func (b *SQLScopeBuilder) GetClientScope(ctx context.Context, q Querier, name string) (*scope.ClientScopeInfo, error) {
	stmt := fmt.Sprintf(`SELECT sync_scope_id, sync_scope_schema, sync_scope_setup, sync_scope_version,
  scope_last_server_sync_timestamp, scope_last_sync_timestamp, scope_last_sync, scope_last_sync_duration
FROM %s WHERE sync_scope_name = %s`, b.clientTable(), b.Dialect.Placeholder(1))

	var (
		id                         string
		schemaJSON, setupJSON      sql.NullString
		version                    sql.NullString
		lastSync, lastSyncDuration int64
	)
	info := &scope.ClientScopeInfo{Name: name}
	err := q.QueryRowContext(ctx, stmt, name).Scan(&id, &schemaJSON, &setupJSON, &version,
		&info.LastServerSyncTimestamp, &info.LastSyncTimestamp, &lastSync, &lastSyncDuration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client scope %s: %w", name, err)
	}

	if info.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("client scope %s: invalid id: %w", name, err)
	}
	var set schema.Set
	if schemaJSON.Valid {
		if err := unmarshalNullable(schemaJSON, &set); err != nil {
			return nil, fmt.Errorf("client scope %s: decode schema: %w", name, err)
		}
		info.Schema = &set
	}
	var setup schema.Setup
	if setupJSON.Valid {
		if err := unmarshalNullable(setupJSON, &setup); err != nil {
			return nil, fmt.Errorf("client scope %s: decode setup: %w", name, err)
		}
		info.Setup = &setup
	}
	info.Version = version.String
	info.LastSync = microsToTime(lastSync)
	info.LastSyncDuration = time.Duration(lastSyncDuration)
	return info, nil
}

// SaveClientScope implements ScopeBuilder.
func (b *SQLScopeBuilder) SaveClientScope(ctx context.Context, q Querier, info *scope.ClientScopeInfo) error {
	schemaJSON, err := marshalNullable(info.Schema, info.Schema == nil)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	setupJSON, err := marshalNullable(info.Setup, info.Setup == nil)
	if err != nil {
		return fmt.Errorf("encode setup: %w", err)
	}

	cols := []string{
		"sync_scope_name", "sync_scope_id", "sync_scope_schema", "sync_scope_setup", "sync_scope_version",
		"scope_last_server_sync_timestamp", "scope_last_sync_timestamp", "scope_last_sync", "scope_last_sync_duration",
	}
	stmt := b.upsert(b.clientTable(), cols, 1)
	_, err = q.ExecContext(ctx, stmt,
		info.Name, info.ID.String(), schemaJSON, setupJSON, info.Version,
		info.LastServerSyncTimestamp, info.LastSyncTimestamp, timeToMicros(info.LastSync), int64(info.LastSyncDuration))
	if err != nil {
		return fmt.Errorf("save client scope %s: %w", info.Name, err)
	}
	return nil
}

// GetServerScope implements ScopeBuilder. It returns nil when the scope does
// not exist.
func (b *SQLScopeBuilder) GetServerScope(ctx context.Context, q Querier, name string) (*scope.ServerScopeInfo, error) {
	stmt := fmt.Sprintf(`SELECT sync_scope_schema, sync_scope_setup, sync_scope_version, sync_scope_last_clean_timestamp
FROM %s WHERE sync_scope_name = %s`, b.serverTable(), b.Dialect.Placeholder(1))

	var schemaJSON, setupJSON, version sql.NullString
	info := &scope.ServerScopeInfo{Name: name}
	err := q.QueryRowContext(ctx, stmt, name).Scan(&schemaJSON, &setupJSON, &version, &info.LastCleanupTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server scope %s: %w", name, err)
	}
	if schemaJSON.Valid {
		var set schema.Set
		if err := unmarshalNullable(schemaJSON, &set); err != nil {
			return nil, fmt.Errorf("server scope %s: decode schema: %w", name, err)
		}
		info.Schema = &set
	}
	if setupJSON.Valid {
		var setup schema.Setup
		if err := unmarshalNullable(setupJSON, &setup); err != nil {
			return nil, fmt.Errorf("server scope %s: decode setup: %w", name, err)
		}
		info.Setup = &setup
	}
	info.Version = version.String
	return info, nil
}

// SaveServerScope implements ScopeBuilder.
func (b *SQLScopeBuilder) SaveServerScope(ctx context.Context, q Querier, info *scope.ServerScopeInfo) error {
	schemaJSON, err := marshalNullable(info.Schema, info.Schema == nil)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	setupJSON, err := marshalNullable(info.Setup, info.Setup == nil)
	if err != nil {
		return fmt.Errorf("encode setup: %w", err)
	}
	cols := []string{"sync_scope_name", "sync_scope_schema", "sync_scope_setup", "sync_scope_version", "sync_scope_last_clean_timestamp"}
	stmt := b.upsert(b.serverTable(), cols, 1)
	if _, err := q.ExecContext(ctx, stmt, info.Name, schemaJSON, setupJSON, info.Version, info.LastCleanupTimestamp); err != nil {
		return fmt.Errorf("save server scope %s: %w", info.Name, err)
	}
	return nil
}

const historyColumns = "sync_scope_id, sync_scope_name, scope_last_sync_timestamp, scope_last_sync, scope_last_sync_duration"

func scanHistory(s scanner) (*scope.ServerHistoryScopeInfo, error) {
	var (
		id                 string
		lastSync, duration int64
	)
	h := &scope.ServerHistoryScopeInfo{}
	if err := s.Scan(&id, &h.Name, &h.LastSyncTimestamp, &lastSync, &duration); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("history scope: invalid client scope id %q: %w", id, err)
	}
	h.ClientScopeID = parsed
	h.LastSync = microsToTime(lastSync)
	h.LastSyncDuration = time.Duration(duration)
	return h, nil
}

// GetServerHistory implements ScopeBuilder. It returns nil when the client
// scope never completed a sync.
func (b *SQLScopeBuilder) GetServerHistory(ctx context.Context, q Querier, name, clientScopeID string) (*scope.ServerHistoryScopeInfo, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE sync_scope_name = %s AND sync_scope_id = %s",
		historyColumns, b.historyTable(), b.Dialect.Placeholder(1), b.Dialect.Placeholder(2))
	h, err := scanHistory(q.QueryRowContext(ctx, stmt, name, clientScopeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server history %s/%s: %w", name, clientScopeID, err)
	}
	return h, nil
}

// ListServerHistory implements ScopeBuilder.
func (b *SQLScopeBuilder) ListServerHistory(ctx context.Context, q Querier, name string) ([]*scope.ServerHistoryScopeInfo, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE sync_scope_name = %s ORDER BY scope_last_sync DESC",
		historyColumns, b.historyTable(), b.Dialect.Placeholder(1))
	rows, err := q.QueryContext(ctx, stmt, name)
	if err != nil {
		return nil, fmt.Errorf("list server history %s: %w", name, err)
	}
	defer rows.Close()

	var out []*scope.ServerHistoryScopeInfo
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("list server history %s: %w", name, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveServerHistory implements ScopeBuilder.
func (b *SQLScopeBuilder) SaveServerHistory(ctx context.Context, q Querier, info *scope.ServerHistoryScopeInfo) error {
	cols := []string{"sync_scope_id", "sync_scope_name", "scope_last_sync_timestamp", "scope_last_sync", "scope_last_sync_duration"}
	stmt := b.upsert(b.historyTable(), cols, 2)
	_, err := q.ExecContext(ctx, stmt, info.ClientScopeID.String(), info.Name,
		info.LastSyncTimestamp, timeToMicros(info.LastSync), int64(info.LastSyncDuration))
	if err != nil {
		return fmt.Errorf("save server history %s/%s: %w", info.Name, info.ClientScopeID, err)
	}
	return nil
}

// upsert renders INSERT ... ON CONFLICT for a table whose first keyCount
// columns form the key.
func (b *SQLScopeBuilder) upsert(table string, cols []string, keyCount int) string {
	sets := make([]string, 0, len(cols)-keyCount)
	for _, c := range cols[keyCount:] {
		sets = append(sets, c+" = excluded."+c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(Placeholders(b.Dialect, 1, len(cols)), ", "),
		strings.Join(cols[:keyCount], ", "),
		strings.Join(sets, ", "))
}
