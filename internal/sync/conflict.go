package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/schema"
)

// ConflictType identifies the kind of conflict detected.
type ConflictType string

const (
	// ConflictUpdateUpdate indicates both sides updated the row.
	ConflictUpdateUpdate ConflictType = "update_update"

	// ConflictRemoteDelete indicates the remote side deleted a row updated locally.
	ConflictRemoteDelete ConflictType = "remote_delete"

	// ConflictLocalDelete indicates the remote side updated a row deleted locally.
	ConflictLocalDelete ConflictType = "local_delete"
)

// ResolutionChoice records how a conflict was resolved.
type ResolutionChoice string

const (
	// ResolutionApplyRemote applied the incoming row.
	ResolutionApplyRemote ResolutionChoice = "apply_remote"

	// ResolutionKeepLocal kept the local row.
	ResolutionKeepLocal ResolutionChoice = "keep_local"

	// ResolutionMerged applied values produced by a custom handler.
	ResolutionMerged ResolutionChoice = "merged"

	// ResolutionUnresolved skipped the row; a custom handler made no choice.
	ResolutionUnresolved ResolutionChoice = "unresolved"
)

// Conflict is a row changed on both sides since their last sync.
type Conflict struct {
	// Side is the participant that detected the conflict.
	Side  interceptor.Side `json:"side"`
	Table string           `json:"table"`
	// Key holds the primary key values.
	Key              []any            `json:"key"`
	Type             ConflictType     `json:"type"`
	Policy           ConflictPolicy   `json:"policy"`
	Resolution       ResolutionChoice `json:"resolution"`
	LocalModifiedAt  int64            `json:"localModifiedAt"`
	RemoteModifiedAt int64            `json:"remoteModifiedAt"`
}

// IsResolved returns false when the row was skipped without a decision.
func (c *Conflict) IsResolved() bool {
	return c.Resolution != ResolutionUnresolved
}

// Summary returns a brief description of the conflict.
func (c *Conflict) Summary() string {
	var desc string
	switch c.Type {
	case ConflictUpdateUpdate:
		desc = "updated on both sides"
	case ConflictRemoteDelete:
		desc = "deleted remotely, updated locally"
	case ConflictLocalDelete:
		desc = "updated remotely, deleted locally"
	}
	return fmt.Sprintf("%s %v: %s (%s)", c.Table, c.Key, desc, c.Resolution)
}

// conflictType classifies a conflict from the two row states. Two
// tombstones are not a conflict.
func conflictType(local, remote batch.Row) (ConflictType, bool) {
	switch {
	case local.IsTombstone() && remote.IsTombstone():
		return "", false
	case remote.IsTombstone():
		return ConflictRemoteDelete, true
	case local.IsTombstone():
		return ConflictLocalDelete, true
	default:
		return ConflictUpdateUpdate, true
	}
}

// resolver applies a conflict policy on one side.
type resolver struct {
	side         interceptor.Side
	policy       ConflictPolicy
	interceptors *interceptor.Registry
}

// resolve decides a conflict. It returns the resolution and, for merged
// resolutions, the values to apply.
func (r *resolver) resolve(ctx context.Context, table *schema.Table, local, remote batch.Row) (ResolutionChoice, []any, error) {
	// remoteIsServer is true when the incoming row comes from the server.
	remoteIsServer := r.side == interceptor.Client

	var choice ResolutionChoice
	switch r.policy {
	case PolicyServerWins:
		choice = pick(remoteIsServer)
	case PolicyClientWins:
		choice = pick(!remoteIsServer)
	case PolicyCustom:
		// Without a handler the server's decision stands on both sides.
		if !interceptor.Has[interceptor.ConflictArgs](r.interceptors) {
			choice = pick(remoteIsServer)
			break
		}
		args := &interceptor.ConflictArgs{Side: r.side, Table: table, Local: local, Remote: remote}
		if err := interceptor.Run(ctx, r.interceptors, args); err != nil {
			return "", nil, err
		}
		switch {
		case args.Resolution == interceptor.ApplyRemote && args.MergedValues != nil:
			return ResolutionMerged, args.MergedValues, nil
		case args.Resolution == interceptor.ApplyRemote:
			choice = ResolutionApplyRemote
		case args.Resolution == interceptor.KeepLocal:
			choice = ResolutionKeepLocal
		default:
			choice = ResolutionUnresolved
		}
	default:
		choice = lastWriterWins(local, remote, remoteIsServer)
	}

	logging.Debug("conflict resolved",
		logging.Table(table.FullName()),
		slog.String(logging.KeyPolicy, string(r.policy)),
		slog.String("resolution", string(choice)),
	)
	return choice, nil, nil
}

func pick(applyRemote bool) ResolutionChoice {
	if applyRemote {
		return ResolutionApplyRemote
	}
	return ResolutionKeepLocal
}

// lastWriterWins compares modification times. On a tie the server version
// wins, which makes both sides reach the same decision.
func lastWriterWins(local, remote batch.Row, remoteIsServer bool) ResolutionChoice {
	switch {
	case remote.ModifiedAt > local.ModifiedAt:
		return ResolutionApplyRemote
	case remote.ModifiedAt < local.ModifiedAt:
		return ResolutionKeepLocal
	default:
		return pick(remoteIsServer)
	}
}
