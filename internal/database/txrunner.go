package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/spf13/viper"
)

// TxOptions bounds a single atomic unit: MaxWait caps lock acquisition,
// Timeout caps statement execution, and MaxRetries bounds re-execution of
// the whole unit on transient failures. A unit is only retried as a whole;
// a failed attempt leaves no partial writes behind.
type TxOptions struct {
	MaxWait    time.Duration
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// DefaultTxOptions returns the coordinator configuration with defaults.
func DefaultTxOptions() TxOptions {
	viper.SetDefault("tx.max_wait", 5*time.Second)
	viper.SetDefault("tx.timeout", 10*time.Second)
	viper.SetDefault("tx.max_retries", 3)
	viper.SetDefault("tx.backoff", 100*time.Millisecond)

	return TxOptions{
		MaxWait:    viper.GetDuration("tx.max_wait"),
		Timeout:    viper.GetDuration("tx.timeout"),
		MaxRetries: viper.GetInt("tx.max_retries"),
		Backoff:    viper.GetDuration("tx.backoff"),
	}
}

// RunInTx executes fn inside a single database transaction with bounded
// wait and execution timeouts. Transient failures (serialization conflicts,
// deadlocks, lock timeouts, pool exhaustion, dropped connections) abort the
// attempt and re-execute the whole unit with backoff, up to MaxRetries.
// Validation and state errors returned by fn are surfaced immediately.
func RunInTx(ctx context.Context, db *sql.DB, opts TxOptions, fn func(tx *sql.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[TX] Retrying transaction, attempt %d/%d: %v", attempt, opts.MaxRetries, lastErr)
			select {
			case <-time.After(opts.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = runOnce(ctx, db, opts, fn)
		if lastErr == nil {
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", opts.MaxRetries, lastErr)
}

func runOnce(ctx context.Context, db *sql.DB, opts TxOptions, fn func(tx *sql.Tx) error) error {
	attemptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := db.BeginTx(attemptCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if opts.MaxWait > 0 {
		if _, err := tx.ExecContext(attemptCtx,
			fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.MaxWait.Milliseconds())); err != nil {
			return err
		}
	}
	if opts.Timeout > 0 {
		if _, err := tx.ExecContext(attemptCtx,
			fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.Timeout.Milliseconds())); err != nil {
			return err
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// IsTransient reports whether err is an environment failure worth retrying.
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"53300", // too_many_connections
			"08000", // connection_exception
			"08006": // connection_failure
			return true
		}
		return false
	}
	return errors.Is(err, sql.ErrConnDone)
}
