package sync

import (
	"context"
	"fmt"

	"github.com/klauern/rowsync/internal/scope"
)

// ensureScopeTables creates the tick source and the scope tables.
func (o *LocalOrchestrator) ensureScopeTables(ctx context.Context) error {
	db, err := o.db(ctx)
	if err != nil {
		return err
	}
	if err := o.Provider.DatabaseBuilder().EnsureDatabase(ctx, db); err != nil {
		return o.Provider.EnsureSyncError(err)
	}
	return o.Provider.EnsureSyncError(o.scopes().EnsureTables(ctx, db))
}

// EnsureClientScope loads the client scope, creating it with a new id when
// missing.
func (o *LocalOrchestrator) EnsureClientScope(ctx context.Context, name string) (*scope.ClientScopeInfo, error) {
	if err := o.ensureScopeTables(ctx); err != nil {
		return nil, fmt.Errorf("ensure client scope %s: %w", name, err)
	}
	info, err := o.GetClientScope(ctx, name)
	if err != nil {
		return nil, err
	}
	if info != nil {
		return info, nil
	}
	info = scope.NewClientScope(name)
	if err := o.SaveClientScope(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetClientScope loads a client scope, nil when missing.
func (o *LocalOrchestrator) GetClientScope(ctx context.Context, name string) (*scope.ClientScopeInfo, error) {
	db, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	info, err := o.scopes().GetClientScope(ctx, db, name)
	return info, o.Provider.EnsureSyncError(err)
}

// SaveClientScope stores a client scope.
func (o *LocalOrchestrator) SaveClientScope(ctx context.Context, info *scope.ClientScopeInfo) error {
	db, err := o.db(ctx)
	if err != nil {
		return err
	}
	return o.Provider.EnsureSyncError(o.scopes().SaveClientScope(ctx, db, info))
}

// EnsureServerScope loads the server scope. On first use the schema is
// discovered from the setup and the tables are provisioned. When the
// configured setup differs from the stored one the scope is migrated.
func (o *LocalOrchestrator) EnsureServerScope(ctx context.Context, name string) (*scope.ServerScopeInfo, error) {
	if err := o.ensureScopeTables(ctx); err != nil {
		return nil, fmt.Errorf("ensure server scope %s: %w", name, err)
	}
	db, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	info, err := o.scopes().GetServerScope(ctx, db, name)
	if err != nil {
		return nil, o.Provider.EnsureSyncError(err)
	}

	if info == nil {
		set, err := o.GetSchema(ctx)
		if err != nil {
			return nil, err
		}
		if err := o.Provision(ctx, name, set, false); err != nil {
			return nil, err
		}
		info = &scope.ServerScopeInfo{
			Name:       name,
			Schema:     set,
			Setup:      o.Setup.Clone(),
			Version:    set.Version,
			IsNewScope: true,
		}
		if err := o.scopes().SaveServerScope(ctx, db, info); err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
		return info, nil
	}

	if o.Setup == nil {
		o.Setup = info.Setup
	}
	if !o.Setup.Equal(info.Setup) {
		set, err := o.GetSchema(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := o.Migrate(ctx, name, info.Schema, set); err != nil {
			return nil, err
		}
		info.Schema, info.Setup, info.Version = set, o.Setup.Clone(), set.Version
		if err := o.scopes().SaveServerScope(ctx, db, info); err != nil {
			return nil, o.Provider.EnsureSyncError(err)
		}
	}
	return info, nil
}

// GetServerHistory loads the server's record of a client, nil when missing.
func (o *LocalOrchestrator) GetServerHistory(ctx context.Context, name, clientScopeID string) (*scope.ServerHistoryScopeInfo, error) {
	db, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	h, err := o.scopes().GetServerHistory(ctx, db, name, clientScopeID)
	return h, o.Provider.EnsureSyncError(err)
}

// SaveServerHistory stores the server's record of a client.
func (o *LocalOrchestrator) SaveServerHistory(ctx context.Context, h *scope.ServerHistoryScopeInfo) error {
	db, err := o.db(ctx)
	if err != nil {
		return err
	}
	return o.Provider.EnsureSyncError(o.scopes().SaveServerHistory(ctx, db, h))
}

// ListServerHistory lists the clients that synced a scope.
func (o *LocalOrchestrator) ListServerHistory(ctx context.Context, name string) ([]*scope.ServerHistoryScopeInfo, error) {
	if err := o.ensureScopeTables(ctx); err != nil {
		return nil, err
	}
	db, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	all, err := o.scopes().ListServerHistory(ctx, db, name)
	return all, o.Provider.EnsureSyncError(err)
}
