package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/retry"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/syncerr"
)

// DefaultTimeout bounds one HTTP round trip.
const DefaultTimeout = 2 * time.Minute

// Client is a sync.Remote that talks to a Handler over HTTP. Requests are
// retried on transient and connection errors; the server tolerates
// repeated parts.
type Client struct {
	URL        string
	HTTPClient *http.Client
	Serializer batch.Serializer
	Retry      retry.Policy
}

var _ sync.Remote = (*Client)(nil)

// NewClient creates a client for the endpoint at url. compress selects
// zstd bodies.
func NewClient(url string, compress bool, policy retry.Policy) (*Client, error) {
	var ser batch.Serializer = batch.JSON{}
	if compress {
		z, err := batch.NewZstd()
		if err != nil {
			return nil, err
		}
		ser = z
	}
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Serializer: ser,
		Retry:      policy,
	}, nil
}

// Close releases the serializer.
func (c *Client) Close() error {
	if closer, ok := c.Serializer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func retryable(err error) bool {
	switch syncerr.KindOf(err) {
	case syncerr.KindTransient, syncerr.KindConnection:
		return true
	default:
		return false
	}
}

func call[Resp any](ctx context.Context, c *Client, step string, req any) (*Resp, error) {
	body, err := c.Serializer.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", step, err)
	}

	var out *Resp
	err = retry.Do(ctx, c.Retry, retryable, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			logging.Debug("retrying sync request", logging.Step(step), logging.Count(attempt))
		}
		resp, err := c.post(ctx, step, body)
		if err != nil {
			return err
		}
		out = new(Resp)
		return c.decode(resp, step, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, step string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, step, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderStep, step)
	if enc := c.Serializer.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Wrap(syncerr.KindCancelled, step, ctx.Err())
		}
		return nil, syncerr.Wrap(syncerr.KindConnection, step, err)
	}
	return resp, nil
}

func (c *Client) decode(resp *http.Response, step string, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConnection, step, err)
	}

	ser, err := batch.SerializerFor(resp.Header.Get("Content-Encoding"))
	if err != nil {
		return syncerr.Wrap(syncerr.KindProtocol, step, err)
	}
	if closer, ok := ser.(io.Closer); ok {
		defer closer.Close()
	}

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		if err := ser.Unmarshal(data, &er); err != nil || er.Message == "" {
			kind := syncerr.KindInternal
			if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
				kind = syncerr.KindTransient
			}
			return syncerr.Newf(kind, step, "server returned %s", resp.Status)
		}
		return er.Err()
	}
	if err := ser.Unmarshal(data, out); err != nil {
		return syncerr.Wrap(syncerr.KindProtocol, step, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// EnsureScopes implements sync.Remote.
func (c *Client) EnsureScopes(ctx context.Context, req *sync.EnsureScopesRequest) (*sync.EnsureScopesResponse, error) {
	return call[sync.EnsureScopesResponse](ctx, c, StepEnsureScopes, req)
}

// EnsureSchema implements sync.Remote.
func (c *Client) EnsureSchema(ctx context.Context, req *sync.EnsureSchemaRequest) (*sync.EnsureSchemaResponse, error) {
	return call[sync.EnsureSchemaResponse](ctx, c, StepEnsureSchema, req)
}

// SendChanges implements sync.Remote.
func (c *Client) SendChanges(ctx context.Context, req *sync.SendChangesRequest) (*sync.SendChangesResponse, error) {
	return call[sync.SendChangesResponse](ctx, c, StepSendChanges, req)
}

// GetMoreChanges implements sync.Remote.
func (c *Client) GetMoreChanges(ctx context.Context, req *sync.GetMoreChangesRequest) (*sync.SendChangesResponse, error) {
	return call[sync.SendChangesResponse](ctx, c, StepGetMoreChanges, req)
}

// EndSession implements sync.Remote.
func (c *Client) EndSession(ctx context.Context, req *sync.EndSessionRequest) (*sync.EndSessionResponse, error) {
	return call[sync.EndSessionResponse](ctx, c, StepEndSession, req)
}
