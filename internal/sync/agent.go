package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
	"github.com/klauern/rowsync/internal/syncerr"
)

// abortTimeout bounds the best-effort EndSession sent after a failure.
const abortTimeout = 10 * time.Second

// Agent drives a client session against a server: it opens the session,
// brings the client schema in line with the server, uploads local changes,
// downloads and applies server changes and closes the session.
type Agent struct {
	Local  *LocalOrchestrator
	Remote Remote
}

// NewAgent creates an agent. local must be a client orchestrator.
func NewAgent(local *LocalOrchestrator, remote Remote) *Agent {
	return &Agent{Local: local, Remote: remote}
}

// session holds the client state of one Synchronize call.
type session struct {
	result *Result
	sc     SyncContext
	client *scope.ClientScopeInfo
	set    *schema.Set
	// uploaded is the local tick snapshot of the uploaded change set.
	uploaded int64
	// remoteTS is the server tick the downloaded change set ends at.
	remoteTS int64
	policy   ConflictPolicy
	opened   bool
}

func (s *session) enter(step scope.Step, batchIndex int) {
	s.result.Step = step
	s.result.BatchIndex = batchIndex
}

// Synchronize runs one sync session for scopeName. The returned Result is
// never nil; on failure it reports the step and batch that failed and the
// client watermark is left unchanged.
func (a *Agent) Synchronize(ctx context.Context, scopeName string, params map[string]any) (*Result, error) {
	defer logging.Timer("synchronize")()

	if scopeName == "" {
		scopeName = scope.DefaultName
	}
	s := &session{result: newResult(uuid.NewString(), scopeName)}

	err := a.run(ctx, s, params)
	s.result.CompleteTime = time.Now()
	if err != nil {
		return s.result, a.abort(ctx, s, err)
	}

	s.result.Status = StatusCompleted
	s.result.Step = scope.StepCompleted
	s.result.BatchIndex = -1
	logging.Info("sync completed",
		logging.Session(s.result.SessionID),
		logging.Scope(scopeName),
		slog.Int("uploaded", s.result.UploadedChanges),
		slog.Int("downloaded", s.result.DownloadedChanges),
		slog.Int("conflicts", len(s.result.Conflicts)),
		slog.Int64("watermark", s.result.Watermark),
	)
	end := &interceptor.SessionEndArgs{
		Side:      interceptor.Client,
		SessionID: s.result.SessionID,
		ScopeName: scopeName,
		Status:    string(StatusCompleted),
		Duration:  s.result.Duration(),
	}
	// The watermark is already saved; a failing observer cannot undo it.
	if err := interceptor.Run(ctx, a.Local.Interceptors, end); err != nil {
		logging.Warn("session end handler failed", logging.Session(s.result.SessionID), logging.Err(err))
	}
	return s.result, nil
}

func (a *Agent) run(ctx context.Context, s *session, params map[string]any) error {
	s.enter(scope.StepEnsureScope, -1)
	client, err := a.Local.EnsureClientScope(ctx, s.result.ScopeName)
	if err != nil {
		return err
	}
	s.client = client
	s.result.Watermark = client.LastServerSyncTimestamp
	s.sc = SyncContext{
		SessionID:     s.result.SessionID,
		ScopeName:     s.result.ScopeName,
		ClientScopeID: client.ID,
		Parameters:    params,
	}

	begin := &interceptor.SessionBeginArgs{Side: interceptor.Client, SessionID: s.sc.SessionID, ScopeName: s.sc.ScopeName}
	if err := interceptor.Run(ctx, a.Local.Interceptors, begin); err != nil {
		return err
	}

	if _, err := a.Remote.EnsureScopes(ctx, &EnsureScopesRequest{Context: s.sc}); err != nil {
		return err
	}
	s.opened = true
	if err := interceptor.Run(ctx, a.Local.Interceptors, &interceptor.ScopeLoadedArgs{Side: interceptor.Client, ClientScope: client}); err != nil {
		return err
	}

	s.enter(scope.StepEnsureSchema, -1)
	if err := a.ensureSchema(ctx, s); err != nil {
		return err
	}

	s.enter(scope.StepGettingChanges, -1)
	last, err := a.upload(ctx, s)
	if err != nil {
		return err
	}

	s.enter(scope.StepSendingChanges, -1)
	if err := a.download(ctx, s, last); err != nil {
		return err
	}

	s.enter(scope.StepCompleted, -1)
	end, err := a.Remote.EndSession(ctx, &EndSessionRequest{Context: s.sc, Succeeded: true})
	if err != nil {
		return err
	}
	s.opened = false
	if end.RemoteClientTimestamp != 0 {
		s.remoteTS = end.RemoteClientTimestamp
	}

	// The watermark only moves once the server has recorded the session.
	s.client.LastServerSyncTimestamp = s.remoteTS
	s.client.LastSyncTimestamp = s.uploaded
	s.client.LastSync = time.Now()
	s.client.LastSyncDuration = s.result.Duration()
	if err := a.Local.SaveClientScope(ctx, s.client); err != nil {
		return err
	}
	s.result.WatermarkAdvanced = true
	s.result.Watermark = s.remoteTS
	return nil
}

// ensureSchema fetches the server schema and provisions or migrates the
// client to it.
func (a *Agent) ensureSchema(ctx context.Context, s *session) error {
	resp, err := a.Remote.EnsureSchema(ctx, &EnsureSchemaRequest{Context: s.sc, SchemaVersion: s.client.Version})
	if err != nil {
		return err
	}
	if resp.Schema == nil || !resp.Schema.HasTables() {
		return syncerr.New(syncerr.KindProtocol, "ensure_schema", "server returned an empty schema")
	}
	if err := interceptor.Run(ctx, a.Local.Interceptors, &interceptor.SchemaLoadedArgs{Side: interceptor.Client, Schema: resp.Schema}); err != nil {
		return err
	}

	a.Local.Setup = resp.Setup
	switch {
	case !s.client.HasSchema():
		if err := a.Local.Provision(ctx, s.sc.ScopeName, resp.Schema, true); err != nil {
			return err
		}
	case s.client.Version != resp.Schema.Version || !s.client.Setup.Equal(resp.Setup):
		if _, err := a.Local.Migrate(ctx, s.sc.ScopeName, s.client.Schema, resp.Schema); err != nil {
			return err
		}
	default:
		s.set = s.client.Schema
		return nil
	}

	s.client.Schema, s.client.Setup, s.client.Version = resp.Schema, resp.Setup, resp.Schema.Version
	if err := a.Local.SaveClientScope(ctx, s.client); err != nil {
		return err
	}
	s.set = resp.Schema
	return nil
}

// upload sends every local change part and returns the response to the
// last one, which carries the first server part.
func (a *Agent) upload(ctx context.Context, s *session) (*SendChangesResponse, error) {
	info, err := a.Local.GetChanges(ctx, s.set, Selection{
		Since:          s.client.LastSyncTimestamp,
		ExcludeScopeID: scope.ServerOriginator.String(),
		Parameters:     s.sc.Parameters,
	})
	if err != nil {
		return nil, err
	}
	s.uploaded = info.Timestamp

	var resp *SendChangesResponse
	for _, part := range info.Parts {
		s.enter(scope.StepGettingChanges, part.Index)
		args := &interceptor.SendingChangesArgs{
			Side:       interceptor.Client,
			BatchIndex: part.Index,
			BatchCount: info.Count,
			RowCount:   part.RowCount,
			IsLast:     part.IsLast,
		}
		if err := interceptor.Run(ctx, a.Local.Interceptors, args); err != nil {
			return nil, err
		}
		resp, err = a.Remote.SendChanges(ctx, &SendChangesRequest{
			Context:         s.sc,
			Part:            part,
			BatchCount:      info.Count,
			ClientWatermark: s.client.LastServerSyncTimestamp,
		})
		if err != nil {
			return nil, err
		}
		s.result.UploadedBatches = append(s.result.UploadedBatches, part.Index)
		s.result.UploadedChanges += part.RowCount
	}
	if resp == nil || resp.Part == nil {
		return nil, syncerr.New(syncerr.KindProtocol, "send_changes", "server did not return its change set")
	}
	s.result.ServerApplied = resp.ClientChangesApplied
	s.result.Conflicts = append(s.result.Conflicts, resp.Conflicts...)
	return resp, nil
}

// download fetches and applies every server part in index order.
func (a *Agent) download(ctx context.Context, s *session, first *SendChangesResponse) error {
	s.policy = first.ConflictPolicy
	if !s.policy.IsValid() {
		s.policy = DefaultPolicy
	}
	s.result.Policy = s.policy
	s.remoteTS = first.RemoteClientTimestamp

	ac := ApplyContext{
		Originator: scope.ServerOriginator.String(),
		LastSync:   s.client.LastSyncTimestamp,
		Policy:     s.policy,
		BatchCount: first.BatchCount,
	}
	receiver := batch.NewReceiver()
	for idx := 0; idx < first.BatchCount; idx++ {
		s.enter(scope.StepSendingChanges, idx)
		part := first.Part
		if idx > 0 {
			resp, err := a.Remote.GetMoreChanges(ctx, &GetMoreChangesRequest{Context: s.sc, BatchIndex: idx})
			if err != nil {
				return err
			}
			part = resp.Part
		}
		ready, err := receiver.Accept(part, first.BatchCount)
		if err != nil {
			return err
		}
		for _, p := range ready {
			s.enter(scope.StepSendingChanges, p.Index)
			res, err := a.Local.ApplyChanges(ctx, s.set, p, ac)
			if err != nil {
				return err
			}
			s.result.DownloadedBatches = append(s.result.DownloadedBatches, p.Index)
			s.result.DownloadedChanges += p.RowCount
			s.result.Applied += res.Applied
			s.result.Skipped += res.Skipped
			s.result.Conflicts = append(s.result.Conflicts, res.Conflicts...)
		}
	}
	if !receiver.Complete() {
		return syncerr.Newf(syncerr.KindProtocol, "get_more_changes", "received %d of %d batches",
			receiver.Expected(), first.BatchCount)
	}
	return nil
}

// abort records a failed session and tells the server, best effort, that
// the session is over.
func (a *Agent) abort(ctx context.Context, s *session, err error) error {
	err = syncerr.WithStep(err, string(s.result.Step), s.result.BatchIndex)
	s.result.Err = err
	s.result.Status = StatusFailed
	if syncerr.IsKind(err, syncerr.KindCancelled) || ctx.Err() != nil {
		s.result.Status = StatusCancelled
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	if s.opened {
		req := &EndSessionRequest{Context: s.sc, Succeeded: false, Error: err.Error()}
		if _, endErr := a.Remote.EndSession(bg, req); endErr != nil {
			logging.Debug("end session after failure", logging.Session(s.sc.SessionID), logging.Err(endErr))
		}
	}

	logging.Warn("sync failed",
		logging.Session(s.result.SessionID),
		logging.Scope(s.result.ScopeName),
		logging.Step(string(s.result.Step)),
		logging.Batch(s.result.BatchIndex),
		logging.Err(err),
	)
	end := &interceptor.SessionEndArgs{
		Side:      interceptor.Client,
		SessionID: s.result.SessionID,
		ScopeName: s.result.ScopeName,
		Status:    string(s.result.Status),
		Err:       err,
		Duration:  s.result.Duration(),
	}
	_ = interceptor.Run(bg, a.Local.Interceptors, end)
	return err
}
