package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const validationConstraint = "uq_ledger_entries_validation"

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockCategory(ctx context.Context, categoryID string) error
	GetByValidation(ctx context.Context, validationID string) (Entry, error)
	LatestForCategory(ctx context.Context, categoryID string) (Entry, error)
	Insert(ctx context.Context, entry Entry) (Entry, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction; callers lock first.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const entryColumns = `id, validation_id, movement_id, material_id, category_id, quantity_in, quantity_out,
value_in, value_out, quantity_balance, value_balance, observation, posted_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ValidationID, &e.MovementID, &e.MaterialID, &e.CategoryID, &e.QuantityIn, &e.QuantityOut,
		&e.ValueIn, &e.ValueOut, &e.QuantityBalance, &e.ValueBalance, &e.Observation, &e.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

func collectEntries(rows pgx.Rows, err error) ([]Entry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func getByValidation(ctx context.Context, q querier, validationID string) (Entry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE validation_id = $1`, validationID))
}

func latestForCategory(ctx context.Context, q querier, categoryID string) (Entry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE category_id = $1 ORDER BY seq DESC LIMIT 1`, categoryID))
}

func (t *txRepo) LockCategory(ctx context.Context, categoryID string) error {
	return db.AdvisoryXactLock(ctx, t.tx, shared.CategoryLockKey(categoryID))
}

func (t *txRepo) GetByValidation(ctx context.Context, validationID string) (Entry, error) {
	return getByValidation(ctx, t.tx, validationID)
}

func (t *txRepo) LatestForCategory(ctx context.Context, categoryID string) (Entry, error) {
	return latestForCategory(ctx, t.tx, categoryID)
}

func (t *txRepo) Insert(ctx context.Context, e Entry) (Entry, error) {
	n, err := db.NextSequence(ctx, t.tx, "ledger_entries_seq")
	if err != nil {
		return Entry{}, err
	}
	e.ID = shared.FormatID(shared.PrefixLedger, n)
	_, err = t.tx.Exec(ctx, `INSERT INTO ledger_entries (seq, `+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		n, e.ID, e.ValidationID, e.MovementID, e.MaterialID, e.CategoryID, e.QuantityIn, e.QuantityOut,
		e.ValueIn, e.ValueOut, e.QuantityBalance, e.ValueBalance, e.Observation, e.PostedAt)
	if err != nil {
		if db.IsUniqueViolation(err, validationConstraint) {
			return Entry{}, fmt.Errorf("%w: %s", ErrDuplicatePosting, e.ValidationID)
		}
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return e, nil
}

// GetByValidation loads the entry posted for a validation.
func (r *Repository) GetByValidation(ctx context.Context, validationID string) (Entry, error) {
	return getByValidation(ctx, r.pool, validationID)
}

// LatestForCategory loads the newest entry of a category.
func (r *Repository) LatestForCategory(ctx context.Context, categoryID string) (Entry, error) {
	return latestForCategory(ctx, r.pool, categoryID)
}

// LatestForMaterial loads the newest entry of a material.
func (r *Repository) LatestForMaterial(ctx context.Context, materialID string) (Entry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE material_id = $1 ORDER BY seq DESC LIMIT 1`, materialID))
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

// History returns a category's entries in posting order.
func (r *Repository) History(ctx context.Context, categoryID string, from, to time.Time, limit int) ([]Entry, error) {
	return collectEntries(r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE category_id = $1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3::timestamptz IS NULL OR posted_at <= $3)
ORDER BY seq LIMIT $4`, categoryID, timestamptz(from), timestamptz(to), limit))
}

// Entries returns entries of every category within a period.
func (r *Repository) Entries(ctx context.Context, from, to time.Time, limit int) ([]Entry, error) {
	return collectEntries(r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE ($1::timestamptz IS NULL OR posted_at >= $1)
  AND ($2::timestamptz IS NULL OR posted_at <= $2)
ORDER BY seq LIMIT $3`, timestamptz(from), timestamptz(to), limit))
}

// Chain returns every entry of a category in posting order.
func (r *Repository) Chain(ctx context.Context, categoryID string) ([]Entry, error) {
	return collectEntries(r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE category_id = $1 ORDER BY seq`, categoryID))
}

// Totals sums flows over the whole ledger.
func (r *Repository) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_in), 0), COALESCE(SUM(quantity_out), 0),
COALESCE(SUM(value_in), 0), COALESCE(SUM(value_out), 0), COUNT(*)
FROM ledger_entries`).Scan(&t.QuantityIn, &t.QuantityOut, &t.ValueIn, &t.ValueOut, &t.EntryCount)
	return t, err
}

// CategoryBalances returns the latest balance of every category.
func (r *Repository) CategoryBalances(ctx context.Context) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (category_id) category_id, quantity_balance, value_balance, id
FROM ledger_entries ORDER BY category_id, seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.CategoryID, &b.QuantityBalance, &b.ValueBalance, &b.LastEntryID); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Categories lists categories with postings.
func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT category_id FROM ledger_entries ORDER BY category_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
