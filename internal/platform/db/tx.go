package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a ReadCommitted transaction.
// Writers serialize through AdvisoryXactLock and SELECT ... FOR UPDATE: every
// statement after the lock is granted sees the rows the previous holder committed.
// Under RepeatableRead the snapshot would be taken before the lock wait.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// AdvisoryXactLock takes a transaction-scoped advisory lock on key.
// The lock is released on commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("platform/db: advisory lock %s: %w", key, err)
	}
	return nil
}

// NextSequence reads the next value of a PostgreSQL sequence.
func NextSequence(ctx context.Context, tx pgx.Tx, sequence string) (int64, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT nextval($1::regclass)`, sequence).Scan(&n); err != nil {
		return 0, fmt.Errorf("platform/db: nextval %s: %w", sequence, err)
	}
	return n, nil
}

// IsUniqueViolation reports whether err is a unique constraint violation, optionally on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
