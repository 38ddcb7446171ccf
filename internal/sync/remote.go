package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
	"github.com/klauern/rowsync/internal/syncerr"
)

// RemoteOrchestrator is the server side of the protocol. It keeps the state
// of each session in a SessionStore between requests.
type RemoteOrchestrator struct {
	*LocalOrchestrator
	Sessions *scope.SessionStore

	// scopeGroup collapses concurrent first-use provisioning of a scope.
	scopeGroup singleflight.Group
}

var _ Remote = (*RemoteOrchestrator)(nil)

// NewRemoteOrchestrator creates the server orchestrator.
func NewRemoteOrchestrator(p provider.Provider, setup *schema.Setup, opts Options, sessions *scope.SessionStore) *RemoteOrchestrator {
	if sessions == nil {
		sessions = scope.NewSessionStore(scope.DefaultSessionTTL)
	}
	return &RemoteOrchestrator{
		LocalOrchestrator: NewLocalOrchestrator(p, setup, opts, interceptor.Server),
		Sessions:          sessions,
	}
}

func (r *RemoteOrchestrator) ensureScope(ctx context.Context, name string) (*scope.ServerScopeInfo, error) {
	v, err, _ := r.scopeGroup.Do(name, func() (any, error) {
		return r.EnsureServerScope(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*scope.ServerScopeInfo), nil
}

func validateContext(sc SyncContext) error {
	switch {
	case sc.SessionID == "":
		return syncerr.New(syncerr.KindProtocol, "session", "missing session id")
	case sc.ScopeName == "":
		return syncerr.New(syncerr.KindProtocol, "session", "missing scope name")
	case sc.ClientScopeID == uuid.Nil:
		return syncerr.New(syncerr.KindProtocol, "session", "missing client scope id")
	}
	return nil
}

// session returns the live session of a request, locked, after moving it
// to next. The caller must unlock it.
func (r *RemoteOrchestrator) session(sc SyncContext, next scope.Step) (*scope.SessionCache, error) {
	if err := validateContext(sc); err != nil {
		return nil, err
	}
	s, ok := r.Sessions.Get(sc.SessionID)
	if !ok {
		return nil, syncerr.Newf(syncerr.KindProtocol, "session", "unknown or expired session %s", sc.SessionID)
	}
	s.Mu.Lock()
	if s.ScopeName != sc.ScopeName || s.ClientScopeID != sc.ClientScopeID {
		s.Mu.Unlock()
		return nil, syncerr.Newf(syncerr.KindProtocol, "session", "session %s belongs to another scope or client", sc.SessionID)
	}
	if err := transition(s, next); err != nil {
		s.Mu.Unlock()
		return nil, err
	}
	return s, nil
}

func transition(s *scope.SessionCache, next scope.Step) error {
	if !s.Step.CanTransition(next) {
		return syncerr.Newf(syncerr.KindProtocol, "session", "invalid step transition %s -> %s", s.Step, next)
	}
	s.Step = next
	return nil
}

// fail ends a session after an error. The session is removed so the client
// must start over; nothing it uploaded is recorded in the history.
func (r *RemoteOrchestrator) fail(ctx context.Context, s *scope.SessionCache, err error) error {
	step := s.Step
	status := scope.StepFailed
	if syncerr.IsKind(err, syncerr.KindCancelled) || ctx.Err() != nil {
		status = scope.StepCancelled
	}
	if s.Step.CanTransition(status) {
		s.Step = status
	}
	r.Sessions.Delete(s.SessionID)

	logging.Warn("sync session failed",
		logging.Session(s.SessionID),
		logging.Scope(s.ScopeName),
		logging.Step(string(step)),
		logging.Err(err),
	)
	end := &interceptor.SessionEndArgs{
		Side:      interceptor.Server,
		SessionID: s.SessionID,
		ScopeName: s.ScopeName,
		Status:    string(status),
		Err:       err,
		Duration:  time.Since(s.Created),
	}
	// The session error is what the caller needs to see.
	_ = interceptor.Run(context.WithoutCancel(ctx), r.Interceptors, end)
	return syncerr.WithStep(err, string(step), -1)
}

// EnsureScopes opens a session and returns the server scope, provisioning
// the server on first use.
func (r *RemoteOrchestrator) EnsureScopes(ctx context.Context, req *EnsureScopesRequest) (*EnsureScopesResponse, error) {
	if err := validateContext(req.Context); err != nil {
		return nil, err
	}
	s, ok := r.Sessions.Get(req.Context.SessionID)
	if !ok {
		s = scope.NewSessionCache(req.Context.SessionID, req.Context.ScopeName, req.Context.ClientScopeID,
			normalizeParameters(req.Context.Parameters))
		r.Sessions.Put(s)
		logging.Debug("sync session started",
			logging.Session(s.SessionID),
			logging.Scope(s.ScopeName),
			slog.String("client", s.ClientScopeID.String()),
		)
		begin := &interceptor.SessionBeginArgs{Side: interceptor.Server, SessionID: s.SessionID, ScopeName: s.ScopeName}
		if err := interceptor.Run(ctx, r.Interceptors, begin); err != nil {
			r.Sessions.Delete(s.SessionID)
			return nil, err
		}
	}
	s, err := r.session(req.Context, scope.StepEnsureScope)
	if err != nil {
		return nil, err
	}
	defer s.Mu.Unlock()

	info, err := r.ensureScope(ctx, s.ScopeName)
	if err != nil {
		return nil, r.fail(ctx, s, err)
	}
	if err := interceptor.Run(ctx, r.Interceptors, &interceptor.ScopeLoadedArgs{Side: interceptor.Server, ServerScope: info}); err != nil {
		return nil, r.fail(ctx, s, err)
	}
	return &EnsureScopesResponse{Context: req.Context, ServerScope: info, SchemaVersion: info.Version}, nil
}

// EnsureSchema returns the authoritative schema and setup.
func (r *RemoteOrchestrator) EnsureSchema(ctx context.Context, req *EnsureSchemaRequest) (*EnsureSchemaResponse, error) {
	s, err := r.session(req.Context, scope.StepEnsureSchema)
	if err != nil {
		return nil, err
	}
	defer s.Mu.Unlock()

	info, err := r.ensureScope(ctx, s.ScopeName)
	if err != nil {
		return nil, r.fail(ctx, s, err)
	}
	if err := interceptor.Run(ctx, r.Interceptors, &interceptor.SchemaLoadedArgs{Side: interceptor.Server, Schema: info.Schema}); err != nil {
		return nil, r.fail(ctx, s, err)
	}
	return &EnsureSchemaResponse{Context: req.Context, Schema: info.Schema, Setup: info.Setup}, nil
}

// SendChanges receives one client part. Parts are buffered in index order;
// when the last one arrives every part is applied, the server change set is
// selected and its first part is returned.
func (r *RemoteOrchestrator) SendChanges(ctx context.Context, req *SendChangesRequest) (*SendChangesResponse, error) {
	s, err := r.session(req.Context, scope.StepGettingChanges)
	if err != nil {
		return nil, err
	}
	defer s.Mu.Unlock()

	if req.Part == nil {
		return nil, r.fail(ctx, s, syncerr.New(syncerr.KindProtocol, "send_changes", "missing batch part"))
	}
	if s.ServerBatchInfo != nil {
		// The last part was sent again after a lost response.
		if req.Part.IsLast {
			s.Step = scope.StepSendingChanges
			return r.firstPartResponse(ctx, req.Context, s, nil)
		}
		return nil, r.fail(ctx, s, syncerr.Newf(syncerr.KindProtocol, "send_changes",
			"batch %d received after the upload completed", req.Part.Index))
	}

	ready, err := s.ClientBatches.Accept(req.Part, req.BatchCount)
	if err != nil {
		return nil, r.fail(ctx, s, err)
	}
	s.ClientParts = append(s.ClientParts, ready...)
	s.ClientWatermark = req.ClientWatermark
	if !s.ClientBatches.Complete() {
		return &SendChangesResponse{Context: req.Context, ConflictPolicy: r.Options.policy()}, nil
	}

	info, err := r.ensureScope(ctx, s.ScopeName)
	if err != nil {
		return nil, r.fail(ctx, s, err)
	}

	ac := ApplyContext{
		Originator: s.ClientScopeID.String(),
		LastSync:   s.ClientWatermark,
		Policy:     r.Options.policy(),
		BatchCount: req.BatchCount,
	}
	var conflicts []Conflict
	for _, part := range s.ClientParts {
		res, err := r.ApplyChanges(ctx, info.Schema, part, ac)
		if err != nil {
			return nil, r.fail(ctx, s, syncerr.WithStep(err, string(scope.StepGettingChanges), part.Index))
		}
		s.ClientChangesApplied += res.Applied
		conflicts = append(conflicts, res.Conflicts...)
	}
	s.Conflicts = len(conflicts)
	s.ClientParts = nil

	changes, err := r.GetChanges(ctx, info.Schema, Selection{
		Since:          s.ClientWatermark,
		ExcludeScopeID: s.ClientScopeID.String(),
		Parameters:     s.Parameters,
	})
	if err != nil {
		return nil, r.fail(ctx, s, err)
	}
	s.ServerBatchInfo = changes
	s.RemoteClientTimestamp = changes.Timestamp
	if err := transition(s, scope.StepSendingChanges); err != nil {
		return nil, r.fail(ctx, s, err)
	}

	logging.Debug("client changes applied",
		logging.Session(s.SessionID),
		slog.Int("applied", s.ClientChangesApplied),
		slog.Int("conflicts", s.Conflicts),
		slog.Int("server_batches", changes.Count),
	)
	return r.firstPartResponse(ctx, req.Context, s, conflicts)
}

func (r *RemoteOrchestrator) firstPartResponse(ctx context.Context, sc SyncContext, s *scope.SessionCache, conflicts []Conflict) (*SendChangesResponse, error) {
	part := s.ServerBatchInfo.Part(0)
	if err := r.sendingPart(ctx, s, part); err != nil {
		return nil, r.fail(ctx, s, err)
	}
	return &SendChangesResponse{
		Context:               sc,
		Part:                  part,
		BatchCount:            s.ServerBatchInfo.Count,
		RemoteClientTimestamp: s.RemoteClientTimestamp,
		ConflictPolicy:        r.Options.policy(),
		ClientChangesApplied:  s.ClientChangesApplied,
		Conflicts:             conflicts,
	}, nil
}

// sendingPart raises SendingChangesArgs for a server part about to be
// returned.
func (r *RemoteOrchestrator) sendingPart(ctx context.Context, s *scope.SessionCache, part *batch.Part) error {
	return interceptor.Run(ctx, r.Interceptors, &interceptor.SendingChangesArgs{
		Side:       interceptor.Server,
		BatchIndex: part.Index,
		BatchCount: s.ServerBatchInfo.Count,
		RowCount:   part.RowCount,
		IsLast:     part.IsLast,
	})
}

// GetMoreChanges returns a part of the prepared server change set.
func (r *RemoteOrchestrator) GetMoreChanges(ctx context.Context, req *GetMoreChangesRequest) (*SendChangesResponse, error) {
	s, err := r.session(req.Context, scope.StepSendingChanges)
	if err != nil {
		return nil, err
	}
	defer s.Mu.Unlock()

	if s.ServerBatchInfo == nil {
		return nil, r.fail(ctx, s, syncerr.New(syncerr.KindProtocol, "get_more_changes", "no change set prepared"))
	}
	part := s.ServerBatchInfo.Part(req.BatchIndex)
	if part == nil {
		return nil, r.fail(ctx, s, syncerr.Newf(syncerr.KindProtocol, "get_more_changes",
			"batch index %d out of range [0,%d)", req.BatchIndex, s.ServerBatchInfo.Count))
	}
	if err := r.sendingPart(ctx, s, part); err != nil {
		return nil, r.fail(ctx, s, err)
	}
	return &SendChangesResponse{
		Context:               req.Context,
		Part:                  part,
		BatchCount:            s.ServerBatchInfo.Count,
		RemoteClientTimestamp: s.RemoteClientTimestamp,
		ConflictPolicy:        r.Options.policy(),
		ClientChangesApplied:  s.ClientChangesApplied,
	}, nil
}

// EndSession closes a session. On success the client's history is saved
// with the tick the change set was selected up to.
func (r *RemoteOrchestrator) EndSession(ctx context.Context, req *EndSessionRequest) (*EndSessionResponse, error) {
	if !req.Succeeded {
		s, ok := r.Sessions.Get(req.Context.SessionID)
		if !ok {
			return &EndSessionResponse{Context: req.Context}, nil
		}
		s.Mu.Lock()
		defer s.Mu.Unlock()
		cause := errors.New(req.Error)
		if req.Error == "" {
			cause = errors.New("client aborted the session")
		}
		_ = r.fail(ctx, s, cause)
		return &EndSessionResponse{Context: req.Context}, nil
	}

	s, err := r.session(req.Context, scope.StepCompleted)
	if err != nil {
		return nil, err
	}
	defer s.Mu.Unlock()

	h := &scope.ServerHistoryScopeInfo{
		ClientScopeID:     s.ClientScopeID,
		Name:              s.ScopeName,
		LastSyncTimestamp: s.RemoteClientTimestamp,
		LastSync:          time.Now(),
		LastSyncDuration:  time.Since(s.Created),
	}
	if err := r.SaveServerHistory(ctx, h); err != nil {
		s.Step = scope.StepSendingChanges
		return nil, r.fail(ctx, s, err)
	}
	r.Sessions.Delete(s.SessionID)

	logging.Info("sync session completed",
		logging.Session(s.SessionID),
		logging.Scope(s.ScopeName),
		slog.Int("applied", s.ClientChangesApplied),
		slog.Int64("watermark", s.RemoteClientTimestamp),
	)
	end := &interceptor.SessionEndArgs{
		Side:      interceptor.Server,
		SessionID: s.SessionID,
		ScopeName: s.ScopeName,
		Status:    string(scope.StepCompleted),
		Duration:  h.LastSyncDuration,
	}
	// The history is already saved; a failing observer cannot undo it.
	if err := interceptor.Run(ctx, r.Interceptors, end); err != nil {
		logging.Warn("session end handler failed", logging.Session(s.SessionID), logging.Err(err))
	}
	return &EndSessionResponse{Context: req.Context, RemoteClientTimestamp: s.RemoteClientTimestamp}, nil
}

// normalizeParameters turns JSON numbers into int64 or float64 so filter
// values bind as native types.
func normalizeParameters(params map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		n, ok := v.(json.Number)
		if !ok {
			out[k] = v
			continue
		}
		if i, err := n.Int64(); err == nil {
			out[k] = i
		} else if f, err := n.Float64(); err == nil {
			out[k] = f
		} else {
			out[k] = n.String()
		}
	}
	return out
}
