// Package retry re-runs a unit of work after transient provider failures
// with exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/syncerr"
)

// Policy bounds the retries of one unit of work.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Classifier reports whether an error is transient.
type Classifier func(error) bool

// Do runs op until it succeeds, fails with an error that shouldRetry rejects,
// the retries are exhausted, or ctx is done. attempt starts at 0. The error of
// the last attempt is returned; a transient error that exhausted the retries
// is classified as syncerr.KindTransient unless it already carries a kind.
func Do(ctx context.Context, p Policy, shouldRetry Classifier, op func(ctx context.Context, attempt int) error) error {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx, attempt)
		attempt++
		if err == nil {
			return nil
		}
		if shouldRetry == nil || !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.WithContext(ctx).Warn("transient failure, retrying",
			logging.Err(err),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
		)
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if shouldRetry != nil && shouldRetry(err) {
		var se *syncerr.Error
		if !errors.As(err, &se) {
			return &syncerr.Error{Kind: syncerr.KindTransient, Op: "retry", BatchIndex: -1, Retryable: true, Err: err}
		}
	}
	return err
}
