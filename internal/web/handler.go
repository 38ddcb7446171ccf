package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/syncerr"
)

// DefaultMaxBodyBytes bounds a request body.
const DefaultMaxBodyBytes int64 = 64 << 20

// Handler serves the sync protocol for a Remote, usually a
// *sync.RemoteOrchestrator.
type Handler struct {
	Remote       sync.Remote
	MaxBodyBytes int64
}

// NewHandler creates a handler for remote.
func NewHandler(remote sync.Remote) *Handler {
	return &Handler{Remote: remote, MaxBodyBytes: DefaultMaxBodyBytes}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ser, err := batch.SerializerFor(r.Header.Get("Content-Encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	if c, ok := ser.(io.Closer); ok {
		defer c.Close()
	}

	step := r.Header.Get(HeaderStep)
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		h.writeError(w, ser, step, syncerr.Wrap(syncerr.KindProtocol, "read_request", err))
		return
	}

	resp, err := h.dispatch(r.Context(), step, ser, body)
	if err != nil {
		h.writeError(w, ser, step, err)
		return
	}
	h.write(w, ser, http.StatusOK, resp)
}

func decode[T any](ser batch.Serializer, body []byte) (*T, error) {
	v := new(T)
	if err := ser.Unmarshal(body, v); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProtocol, "decode_request", err)
	}
	return v, nil
}

func (h *Handler) dispatch(ctx context.Context, step string, ser batch.Serializer, body []byte) (any, error) {
	switch step {
	case StepEnsureScopes:
		req, err := decode[sync.EnsureScopesRequest](ser, body)
		if err != nil {
			return nil, err
		}
		return h.Remote.EnsureScopes(ctx, req)
	case StepEnsureSchema:
		req, err := decode[sync.EnsureSchemaRequest](ser, body)
		if err != nil {
			return nil, err
		}
		return h.Remote.EnsureSchema(ctx, req)
	case StepSendChanges:
		req, err := decode[sync.SendChangesRequest](ser, body)
		if err != nil {
			return nil, err
		}
		return h.Remote.SendChanges(ctx, req)
	case StepGetMoreChanges:
		req, err := decode[sync.GetMoreChangesRequest](ser, body)
		if err != nil {
			return nil, err
		}
		return h.Remote.GetMoreChanges(ctx, req)
	case StepEndSession:
		req, err := decode[sync.EndSessionRequest](ser, body)
		if err != nil {
			return nil, err
		}
		return h.Remote.EndSession(ctx, req)
	default:
		return nil, syncerr.Newf(syncerr.KindProtocol, "dispatch", "unknown step %q", step)
	}
}

func (h *Handler) write(w http.ResponseWriter, ser batch.Serializer, status int, v any) {
	data, err := ser.Marshal(v)
	if err != nil {
		logging.Error("encode response", logging.Err(err))
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if enc := ser.ContentEncoding(); enc != "" {
		w.Header().Set("Content-Encoding", enc)
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug("write response", logging.Err(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, ser batch.Serializer, step string, err error) {
	resp := errorResponse(err)
	status := statusFor(resp.Kind)
	logging.Debug("sync request failed",
		logging.Step(step),
		slog.String("kind", string(resp.Kind)),
		slog.Int("status", status),
		logging.Err(err),
	)
	h.write(w, ser, status, resp)
}
