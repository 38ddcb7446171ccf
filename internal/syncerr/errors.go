// Package syncerr defines the error taxonomy shared by providers, orchestrators
// and the HTTP transport.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a sync failure.
type Kind string

const (
	// KindTransient is a retryable provider failure (lock, deadlock, timeout).
	KindTransient Kind = "transient"
	// KindConflict is a concurrent modification detected while applying rows.
	KindConflict Kind = "conflict"
	// KindSchemaMismatch is an incompatible schema change (primary key change
	// while preserving tracking).
	KindSchemaMismatch Kind = "schema_mismatch"
	// KindProtocol is a protocol violation (out-of-order batch, unknown session).
	KindProtocol Kind = "protocol"
	// KindConnection is a malformed connection string or unreachable database.
	KindConnection Kind = "connection"
	// KindConfiguration is an invalid setup or option.
	KindConfiguration Kind = "configuration"
	// KindCancelled is a session stopped by its context.
	KindCancelled Kind = "cancelled"
	// KindInternal is any other failure.
	KindInternal Kind = "internal"
)

// Error is a classified sync failure with provider diagnostics.
type Error struct {
	Kind Kind
	// Op names the operation that failed (e.g. "apply_changes").
	Op string
	// Step is the protocol step in progress, if any.
	Step string
	// BatchIndex is the batch being processed, -1 when none.
	BatchIndex int
	// DataSource and Catalog identify the database that raised the error.
	DataSource string
	Catalog    string
	// Number is the native error code (SQLSTATE, sqlite result code).
	Number string
	// Retryable records the provider's transient classification.
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Kind))
	sb.WriteString("]")
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	if e.Step != "" {
		fmt.Fprintf(&sb, " (step %s", e.Step)
		if e.BatchIndex >= 0 {
			fmt.Fprintf(&sb, ", batch %d", e.BatchIndex)
		}
		sb.WriteString(")")
	}
	if e.DataSource != "" || e.Catalog != "" {
		fmt.Fprintf(&sb, " [source=%s catalog=%s", e.DataSource, e.Catalog)
		if e.Number != "" {
			fmt.Fprintf(&sb, " code=%s", e.Number)
		}
		sb.WriteString("]")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, BatchIndex: -1, Err: errors.New(message)}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, BatchIndex: -1, Err: fmt.Errorf(format, args...)}
}

// Wrap wraps err with a kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, BatchIndex: -1, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Context cancellation maps to KindCancelled; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithStep annotates err with the protocol step and batch index. The first
// annotation wins so the innermost step is reported.
func WithStep(err error, step string, batchIndex int) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Step == "" {
			se.Step = step
			se.BatchIndex = batchIndex
		}
		return err
	}
	kind := KindInternal
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCancelled
	}
	return &Error{Kind: kind, Step: step, BatchIndex: batchIndex, Err: err}
}
