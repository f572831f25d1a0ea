package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/asaidimu/go-syncstore/syncerr"
)

// retryableCodes are the SQLite result codes spec §7 treats as transient:
// lock contention from a concurrent writer, or a disk I/O error — never a
// structural failure like a constraint violation.
var retryableCodes = map[sqlite3.ErrNo]bool{
	sqlite3.ErrBusy:  true,
	sqlite3.ErrLocked: true,
	sqlite3.ErrIoErr:  true,
}

func isRetryableStorageErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return retryableCodes[sqliteErr.Code]
	}
	return false
}

// withRetry runs fn under a bounded exponential backoff, per spec §7:
// "transient storage errors (busy/I/O) are retried internally a bounded
// number of times with backoff; after exhaustion surfaced as
// StorageUnavailable." Non-transient errors (including NotFound-shaped
// sql.ErrNoRows) return on the first attempt unchanged.
func withRetry(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 1 * time.Second

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryableStorageErr(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("retrying transient storage error",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(bo, ctx))

	if err == nil {
		return nil
	}
	// backoff.Retry unwraps a backoff.Permanent error before returning it,
	// so a non-transient error (or a context error) arrives here as is.
	if !isRetryableStorageErr(err) {
		return err
	}
	// Retry exhausted on a still-retryable error: surface the bounded
	// taxonomy kind rather than the raw driver error.
	return syncerr.Wrap(syncerr.StorageUnavailable, fmt.Sprintf("%s: exhausted retries against transient storage errors", op), err)
}
