// Package web carries the sync protocol over HTTP. Every message is a POST
// to the same endpoint; the Rowsync-Step header names the operation.
package web

import (
	"errors"
	"net/http"

	"github.com/klauern/rowsync/internal/syncerr"
)

// HeaderStep names the protocol operation of a request.
const HeaderStep = "Rowsync-Step"

// Protocol operations, one per Remote method.
const (
	StepEnsureScopes   = "ensure_scopes"
	StepEnsureSchema   = "ensure_schema"
	StepSendChanges    = "send_changes"
	StepGetMoreChanges = "get_more_changes"
	StepEndSession     = "end_session"
)

// ErrorResponse is the body of a failed request. Kind keeps the
// classification across the wire.
type ErrorResponse struct {
	Kind       syncerr.Kind `json:"kind"`
	Op         string       `json:"op,omitempty"`
	Step       string       `json:"step,omitempty"`
	BatchIndex int          `json:"batchIndex"`
	Message    string       `json:"message"`
}

// Err rebuilds the classified error.
func (e *ErrorResponse) Err() error {
	kind := e.Kind
	if kind == "" {
		kind = syncerr.KindInternal
	}
	err := syncerr.New(kind, e.Op, e.Message)
	err.Step = e.Step
	err.BatchIndex = e.BatchIndex
	return err
}

func errorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{Kind: syncerr.KindOf(err), BatchIndex: -1, Message: err.Error()}
	var se *syncerr.Error
	if errors.As(err, &se) {
		resp.Op, resp.Step, resp.BatchIndex = se.Op, se.Step, se.BatchIndex
		if se.Err != nil {
			resp.Message = se.Err.Error()
		}
	}
	return resp
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind syncerr.Kind) int {
	switch kind {
	case syncerr.KindProtocol, syncerr.KindConfiguration:
		return http.StatusBadRequest
	case syncerr.KindConflict, syncerr.KindSchemaMismatch:
		return http.StatusConflict
	case syncerr.KindTransient, syncerr.KindConnection:
		return http.StatusServiceUnavailable
	case syncerr.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
