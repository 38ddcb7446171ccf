package sync

import (
	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/retry"
)

// Options configures an orchestrator.
type Options struct {
	// BatchMaxBytes and BatchMaxRows bound each batch part.
	BatchMaxBytes int64
	BatchMaxRows  int

	// ConflictPolicy is authoritative on the server; clients use the
	// policy the server sends.
	ConflictPolicy ConflictPolicy

	// Retry bounds the retries of one batch transaction.
	Retry retry.Policy

	// PreserveTracking rejects schema migrations that change a primary key
	// instead of rebuilding the tracking table.
	PreserveTracking bool

	// ScopeTablePrefix prefixes the scope info tables.
	ScopeTablePrefix string
}

// DefaultOptions returns the default orchestrator options.
func DefaultOptions() Options {
	return Options{
		BatchMaxBytes:    batch.DefaultMaxBytes,
		BatchMaxRows:     batch.DefaultMaxRows,
		ConflictPolicy:   DefaultPolicy,
		Retry:            retry.DefaultPolicy(),
		ScopeTablePrefix: provider.DefaultScopePrefix,
	}
}

func (o Options) policy() ConflictPolicy {
	if o.ConflictPolicy.IsValid() {
		return o.ConflictPolicy
	}
	return DefaultPolicy
}
