package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/provider/sqlite"
	"github.com/klauern/rowsync/internal/retry"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/syncerr"
)

func newProvider(t *testing.T, name string) *sqlite.Provider {
	t.Helper()
	p, err := sqlite.New(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func exec(t *testing.T, p *sqlite.Provider, stmt string, args ...any) {
	t.Helper()
	db, err := p.CreateConnection(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(context.Background(), stmt, args...); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func count(t *testing.T, p *sqlite.Provider, table string) int {
	t.Helper()
	db, _ := p.CreateConnection(context.Background())
	var n int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

// newServer starts an HTTP server over a database with n orders.
func newServer(t *testing.T, n int, wrap func(http.Handler) http.Handler) (*httptest.Server, *sync.RemoteOrchestrator) {
	t.Helper()
	sp := newProvider(t, "server.db")
	exec(t, sp, "CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT, total REAL)")
	for i := 1; i <= n; i++ {
		exec(t, sp, "INSERT INTO orders (id, customer, total) VALUES (?, ?, ?)", i, fmt.Sprintf("c%d", i), float64(i)*1.5)
	}
	opts := sync.DefaultOptions()
	opts.BatchMaxRows = 10
	remote := sync.NewRemoteOrchestrator(sp, schema.NewSetup("orders"), opts, nil)

	var h http.Handler = NewHandler(remote)
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, remote
}

func TestClient_Synchronize(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%t", compress), func(t *testing.T) {
			srv, _ := newServer(t, 25, nil)
			client, err := NewClient(srv.URL, compress, fastRetry())
			if err != nil {
				t.Fatal(err)
			}
			defer client.Close()

			cp := newProvider(t, "client.db")
			local := sync.NewLocalOrchestrator(cp, nil, sync.DefaultOptions(), interceptor.Client)
			res, err := sync.NewAgent(local, client).Synchronize(context.Background(), "default", nil)
			if err != nil {
				t.Fatalf("Synchronize() error = %v", err)
			}
			if got := count(t, cp, "orders"); got != 25 {
				t.Errorf("client orders = %d, want 25", got)
			}
			if len(res.DownloadedBatches) != 3 {
				t.Errorf("downloaded batches = %v, want 3", res.DownloadedBatches)
			}

			exec(t, cp, "INSERT INTO orders (id, customer, total) VALUES (100, 'new', 9.5)")
			res, err = sync.NewAgent(local, client).Synchronize(context.Background(), "default", nil)
			if err != nil {
				t.Fatalf("second Synchronize() error = %v", err)
			}
			if res.ServerApplied != 1 {
				t.Errorf("server applied = %d, want 1", res.ServerApplied)
			}
		})
	}
}

func TestClient_RetriesUnavailable(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	flaky := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(HeaderStep) == StepSendChanges && failures.Add(-1) >= 0 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	srv, _ := newServer(t, 3, flaky)
	client, _ := NewClient(srv.URL, false, fastRetry())

	cp := newProvider(t, "client.db")
	local := sync.NewLocalOrchestrator(cp, nil, sync.DefaultOptions(), interceptor.Client)
	if _, err := sync.NewAgent(local, client).Synchronize(context.Background(), "default", nil); err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	if got := count(t, cp, "orders"); got != 3 {
		t.Errorf("client orders = %d, want 3", got)
	}
}

func TestClient_KeepsErrorKind(t *testing.T) {
	srv, _ := newServer(t, 1, nil)
	client, _ := NewClient(srv.URL, true, fastRetry())
	defer client.Close()

	sc := sync.SyncContext{SessionID: "missing", ScopeName: "default", ClientScopeID: uuid.New()}
	_, err := client.GetMoreChanges(context.Background(), &sync.GetMoreChangesRequest{Context: sc})
	if !syncerr.IsKind(err, syncerr.KindProtocol) {
		t.Fatalf("error = %v, want kind %s", err, syncerr.KindProtocol)
	}
	if !strings.Contains(err.Error(), "unknown or expired session") {
		t.Errorf("error message lost: %v", err)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, _ := NewClient(url, false, retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond})
	sc := sync.SyncContext{SessionID: "s", ScopeName: "default", ClientScopeID: uuid.New()}
	_, err := client.EnsureScopes(context.Background(), &sync.EnsureScopesRequest{Context: sc})
	var se *syncerr.Error
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *syncerr.Error", err)
	}
}

func TestHandler_Errors(t *testing.T) {
	srv, _ := newServer(t, 1, nil)

	tests := []struct {
		name     string
		method   string
		step     string
		encoding string
		want     int
	}{
		{"wrong method", http.MethodGet, StepEnsureScopes, "", http.StatusMethodNotAllowed},
		{"unknown step", http.MethodPost, "bogus", "", http.StatusBadRequest},
		{"bad encoding", http.MethodPost, StepEnsureScopes, "brotli", http.StatusUnsupportedMediaType},
		{"bad body", http.MethodPost, StepEnsureScopes, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL, strings.NewReader("{not json"))
			req.Header.Set(HeaderStep, tt.step)
			if tt.encoding != "" {
				req.Header.Set("Content-Encoding", tt.encoding)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind syncerr.Kind
		want int
	}{
		{syncerr.KindProtocol, http.StatusBadRequest},
		{syncerr.KindSchemaMismatch, http.StatusConflict},
		{syncerr.KindTransient, http.StatusServiceUnavailable},
		{syncerr.KindCancelled, http.StatusRequestTimeout},
		{syncerr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.kind); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestErrorResponse_RoundTrip(t *testing.T) {
	orig := syncerr.WithStep(syncerr.New(syncerr.KindSchemaMismatch, "migrate", "pk changed"), "ensure_schema", 3)
	er := errorResponse(orig)
	got := er.Err()
	var se *syncerr.Error
	if !errors.As(got, &se) {
		t.Fatal("Err() is not a *syncerr.Error")
	}
	if se.Kind != syncerr.KindSchemaMismatch || se.Op != "migrate" || se.Step != "ensure_schema" || se.BatchIndex != 3 {
		t.Errorf("round trip = %+v", se)
	}
}
