package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists counts and settlements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertCount(ctx context.Context, c CountResult) (CountResult, error)
	GetCountForUpdate(ctx context.Context, id string) (CountResult, error)
	UpdateCount(ctx context.Context, c CountResult) error
	SettlementExists(ctx context.Context, year int, countID string) (bool, error)
	InsertSettlement(ctx context.Context, s Settlement) (Settlement, error)
	GetSettlementForUpdate(ctx context.Context, id string) (Settlement, error)
	UpdateSettlement(ctx context.Context, s Settlement) error
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

const countColumns = `id, commission_id, inventory_id, material_id, kind, count_date, theoretical_quantity,
physical_quantity, variance, unit_price_system, value_system, unit_price_counted, value_counted, notes,
correction_status, validator_id, validated_at, rejection_reason, corrected_by, corrected_at,
correction_movement_id, created_by, created_at`

const settlementColumns = `id, year, count_result_id, material_id, ledger_entry_id, status, severity,
variance_percent, validator_id, decided_at, rejection_reason, created_by, created_at`

func scanCount(row pgx.Row) (CountResult, error) {
	var (
		c                       CountResult
		validator, corrector    pgtype.Int8
		reason, movement, notes pgtype.Text
	)
	err := row.Scan(&c.ID, &c.CommissionID, &c.InventoryID, &c.MaterialID, &c.Kind, &c.CountDate, &c.TheoreticalQuantity,
		&c.PhysicalQuantity, &c.Variance, &c.UnitPriceSystem, &c.ValueSystem, &c.UnitPriceCounted, &c.ValueCounted, &notes,
		&c.CorrectionStatus, &validator, &c.ValidatedAt, &reason, &corrector, &c.CorrectedAt,
		&movement, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CountResult{}, ErrCountNotFound
	}
	c.Notes = notes.String
	c.ValidatorID = validator.Int64
	c.RejectionReason = reason.String
	c.CorrectedBy = corrector.Int64
	c.CorrectionMovementID = movement.String
	return c, err
}

func scanSettlement(row pgx.Row) (Settlement, error) {
	var (
		s                Settlement
		ledgerID, reason pgtype.Text
		validator        pgtype.Int8
	)
	err := row.Scan(&s.ID, &s.Year, &s.CountResultID, &s.MaterialID, &ledgerID, &s.Status, &s.Severity,
		&s.VariancePercent, &validator, &s.DecidedAt, &reason, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrSettlementNotFound
	}
	s.LedgerEntryID = ledgerID.String
	s.ValidatorID = validator.Int64
	s.RejectionReason = reason.String
	return s, err
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullInt(n int64) pgtype.Int8 {
	return pgtype.Int8{Int64: n, Valid: n > 0}
}

func (t *txRepo) InsertCount(ctx context.Context, c CountResult) (CountResult, error) {
	n, err := db.NextSequence(ctx, t.tx, "count_results_seq")
	if err != nil {
		return CountResult{}, err
	}
	c.ID = shared.FormatID(shared.PrefixCount, n)
	_, err = t.tx.Exec(ctx, `INSERT INTO count_results (`+countColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		c.ID, c.CommissionID, c.InventoryID, c.MaterialID, c.Kind, c.CountDate, c.TheoreticalQuantity,
		c.PhysicalQuantity, c.Variance, c.UnitPriceSystem, c.ValueSystem, c.UnitPriceCounted, c.ValueCounted, nullText(c.Notes),
		c.CorrectionStatus, nullInt(c.ValidatorID), c.ValidatedAt, nullText(c.RejectionReason), nullInt(c.CorrectedBy), c.CorrectedAt,
		nullText(c.CorrectionMovementID), c.CreatedBy, c.CreatedAt)
	if err != nil {
		return CountResult{}, fmt.Errorf("reconciliation: insert count: %w", err)
	}
	return c, nil
}

func (t *txRepo) GetCountForUpdate(ctx context.Context, id string) (CountResult, error) {
	return scanCount(t.tx.QueryRow(ctx, `SELECT `+countColumns+` FROM count_results WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateCount(ctx context.Context, c CountResult) error {
	_, err := t.tx.Exec(ctx, `UPDATE count_results SET unit_price_system = $2, value_system = $3, correction_status = $4,
validator_id = $5, validated_at = $6, rejection_reason = $7, corrected_by = $8, corrected_at = $9,
correction_movement_id = $10 WHERE id = $1`,
		c.ID, c.UnitPriceSystem, c.ValueSystem, c.CorrectionStatus, nullInt(c.ValidatorID), c.ValidatedAt,
		nullText(c.RejectionReason), nullInt(c.CorrectedBy), c.CorrectedAt, nullText(c.CorrectionMovementID))
	if err != nil {
		return fmt.Errorf("reconciliation: update count: %w", err)
	}
	return nil
}

func (t *txRepo) SettlementExists(ctx context.Context, year int, countID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM settlements WHERE year = $1 AND count_result_id = $2)`, year, countID).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertSettlement(ctx context.Context, s Settlement) (Settlement, error) {
	n, err := db.NextSequence(ctx, t.tx, "settlements_seq")
	if err != nil {
		return Settlement{}, err
	}
	s.ID = shared.FormatID(shared.PrefixSettlement, n)
	_, err = t.tx.Exec(ctx, `INSERT INTO settlements (`+settlementColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.Year, s.CountResultID, s.MaterialID, nullText(s.LedgerEntryID), s.Status, s.Severity,
		s.VariancePercent, nullInt(s.ValidatorID), s.DecidedAt, nullText(s.RejectionReason), s.CreatedBy, s.CreatedAt)
	if err != nil {
		return Settlement{}, fmt.Errorf("reconciliation: insert settlement: %w", err)
	}
	return s, nil
}

func (t *txRepo) GetSettlementForUpdate(ctx context.Context, id string) (Settlement, error) {
	return scanSettlement(t.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateSettlement(ctx context.Context, s Settlement) error {
	_, err := t.tx.Exec(ctx, `UPDATE settlements SET status = $2, validator_id = $3, decided_at = $4, rejection_reason = $5 WHERE id = $1`,
		s.ID, s.Status, nullInt(s.ValidatorID), s.DecidedAt, nullText(s.RejectionReason))
	if err != nil {
		return fmt.Errorf("reconciliation: update settlement: %w", err)
	}
	return nil
}

// GetCount loads a count.
func (r *Repository) GetCount(ctx context.Context, id string) (CountResult, error) {
	return scanCount(r.pool.QueryRow(ctx, `SELECT `+countColumns+` FROM count_results WHERE id = $1`, id))
}

// ListCounts returns counts ordered by date. A zero limit returns every match.
func (r *Repository) ListCounts(ctx context.Context, filter CountFilter) ([]CountResult, error) {
	var from, to pgtype.Timestamptz
	if filter.Year != 0 {
		start, end := shared.YearBounds(filter.Year)
		from = pgtype.Timestamptz{Time: start, Valid: true}
		to = pgtype.Timestamptz{Time: end, Valid: true}
	}
	rows, err := r.pool.Query(ctx, `SELECT `+countColumns+` FROM count_results
WHERE ($1::timestamptz IS NULL OR count_date >= $1)
  AND ($2::timestamptz IS NULL OR count_date < $2)
  AND ($3::text = '' OR correction_status = $3)
ORDER BY count_date, id
LIMIT NULLIF($4::int, 0)`, from, to, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CountResult
	for rows.Next() {
		c, err := scanCount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetSettlement loads a settlement.
func (r *Repository) GetSettlement(ctx context.Context, id string) (Settlement, error) {
	return scanSettlement(r.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id))
}

// ListSettlements returns settlements of a year, every year when zero.
func (r *Repository) ListSettlements(ctx context.Context, year, limit int) ([]Settlement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+settlementColumns+` FROM settlements
WHERE ($1::int = 0 OR year = $1) ORDER BY year, id LIMIT $2`, year, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
