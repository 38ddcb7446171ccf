package provider

import (
	"context"
	"errors"

	"github.com/klauern/rowsync/internal/syncerr"
)

// Diagnostics identify where a provider error was raised.
type Diagnostics struct {
	DataSource string
	Catalog    string
	Number     string
	Retryable  bool
	// Kind classifies an error that carries no classification yet. Empty
	// means transient when Retryable, internal otherwise.
	Kind syncerr.Kind
}

// AnnotateError attaches diagnostics to err. An error that is already
// annotated is returned unchanged, and an existing classification is kept.
func AnnotateError(err error, d Diagnostics) error {
	if err == nil {
		return nil
	}
	var se *syncerr.Error
	if errors.As(err, &se) {
		if se.DataSource == "" && se.Catalog == "" {
			se.DataSource = d.DataSource
			se.Catalog = d.Catalog
			if se.Number == "" {
				se.Number = d.Number
			}
			se.Retryable = se.Retryable || d.Retryable
		}
		return err
	}

	kind := d.Kind
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		kind = syncerr.KindCancelled
	case kind == "" && d.Retryable:
		kind = syncerr.KindTransient
	case kind == "":
		kind = syncerr.KindInternal
	}
	return &syncerr.Error{
		Kind:       kind,
		BatchIndex: -1,
		DataSource: d.DataSource,
		Catalog:    d.Catalog,
		Number:     d.Number,
		Retryable:  d.Retryable,
		Err:        err,
	}
}
