package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_ledger_entries_validation"})
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "uq_ledger_entries_validation"))
	require.False(t, IsUniqueViolation(err, "uq_other"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestWithTxUsesReadCommitted(t *testing.T) {
	require.Equal(t, pgx.ReadCommitted, txOptions.IsoLevel)
}
