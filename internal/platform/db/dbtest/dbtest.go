// Package dbtest provisions throwaway PostgreSQL schemas for repository tests.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// DSNEnv names the database used by PostgreSQL-backed tests.
const DSNEnv = "STOCKLEDGER_TEST_PG_DSN"

// Open migrates a fresh schema on the database named by STOCKLEDGER_TEST_PG_DSN
// and returns a pool bound to it. The schema is dropped when the test ends.
// Tests skip when the variable is unset.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(DSNEnv))
	if dsn == "" {
		t.Skipf("set %s to run PostgreSQL tests", DSNEnv)
	}
	ctx := context.Background()

	admin, err := db.New(ctx, db.Options{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	schema := "stockledger_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	pool, err := db.New(ctx, db.Options{DSN: dsn, MaxConns: 16, SearchPath: schema})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	for _, file := range migrations(t) {
		sql, err := os.ReadFile(file)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, filepath.Base(file))
	}
	return pool
}

// Seed inserts a category and material rows (id, kind) under it.
func Seed(t testing.TB, pool *pgxpool.Pool, categoryID string, materials map[string]string) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO material_categories (id, name) VALUES ($1, $1) ON CONFLICT DO NOTHING`, categoryID)
	require.NoError(t, err)
	for id, kind := range materials {
		_, err := pool.Exec(ctx, `INSERT INTO materials (id, name, kind, category_id) VALUES ($1, $1, $2, $3)`, id, kind, categoryID)
		require.NoError(t, err)
	}
}

func migrations(t testing.TB) []string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	root := filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
	files, err := filepath.Glob(filepath.Join(root, "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migrations under %s", root)
	sort.Strings(files)
	return files
}
