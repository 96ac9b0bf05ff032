package inventory

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

const uniqueReferenceConstraint = "uq_stock_movements_reference"

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockMaterial(ctx context.Context, materialID string) error
	GetSnapshotForUpdate(ctx context.Context, materialID string) (Snapshot, error)
	InsertSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)
	UpdateSnapshot(ctx context.Context, snap Snapshot) error
	LastStockAfter(ctx context.Context, materialID string) (int64, error)
	InsertMovement(ctx context.Context, mv Movement) (Movement, error)
	InsertValidation(ctx context.Context, v ValidationEntry) (ValidationEntry, error)
	GetValidationForUpdate(ctx context.Context, id string) (ValidationEntry, error)
	UpdateValidation(ctx context.Context, v ValidationEntry) error
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

const snapshotColumns = `id, material_id, quantity_stock, quantity_reserved, quantity_available,
quantity_out_of_service, stock_value, alert_threshold, created_at, updated_at`

const movementColumns = `id, material_id, kind, quantity, occurred_at, reference_kind, reference_id,
unique_reference, unit_price, total_value, reason, actor_id, stock_before, stock_after`

const validationColumns = `id, movement_id, material_id, status, validator_id, decided_at,
rejection_reason, created_at`

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.MaterialID, &s.QuantityStock, &s.QuantityReserved, &s.QuantityAvailable,
		&s.QuantityOutOfService, &s.StockValue, &s.AlertThreshold, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m       Movement
		refKind pgtype.Text
		refID   pgtype.Text
	)
	err := row.Scan(&m.ID, &m.MaterialID, &m.Kind, &m.Quantity, &m.OccurredAt, &refKind, &refID,
		&m.UniqueReference, &m.UnitPrice, &m.TotalValue, &m.Reason, &m.ActorID, &m.StockBefore, &m.StockAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrMovementNotFound
	}
	m.ReferenceKind = refKind.String
	m.ReferenceID = refID.String
	return m, err
}

func scanValidation(row pgx.Row) (ValidationEntry, error) {
	var (
		v         ValidationEntry
		validator pgtype.Int8
		reason    pgtype.Text
	)
	err := row.Scan(&v.ID, &v.MovementID, &v.MaterialID, &v.Status, &validator, &v.DecidedAt, &reason, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ValidationEntry{}, ErrValidationNotFound
	}
	v.ValidatorID = validator.Int64
	v.RejectionReason = reason.String
	return v, err
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (t *txRepo) LockMaterial(ctx context.Context, materialID string) error {
	return db.AdvisoryXactLock(ctx, t.tx, shared.MaterialLockKey(materialID))
}

func (t *txRepo) GetSnapshotForUpdate(ctx context.Context, materialID string) (Snapshot, error) {
	return scanSnapshot(t.tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM inventory_snapshots WHERE material_id = $1 FOR UPDATE`, materialID))
}

func (t *txRepo) InsertSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error) {
	n, err := db.NextSequence(ctx, t.tx, "inventory_snapshots_seq")
	if err != nil {
		return Snapshot{}, err
	}
	snap.ID = shared.FormatID(shared.PrefixSnapshot, n)
	_, err = t.tx.Exec(ctx, `INSERT INTO inventory_snapshots (`+snapshotColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snap.ID, snap.MaterialID, snap.QuantityStock, snap.QuantityReserved, snap.QuantityAvailable,
		snap.QuantityOutOfService, snap.StockValue, snap.AlertThreshold, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("inventory: insert snapshot: %w", err)
	}
	return snap, nil
}

func (t *txRepo) UpdateSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := t.tx.Exec(ctx, `UPDATE inventory_snapshots SET quantity_stock = $2, quantity_reserved = $3,
quantity_available = $4, quantity_out_of_service = $5, stock_value = $6, alert_threshold = $7, updated_at = $8
WHERE id = $1`,
		snap.ID, snap.QuantityStock, snap.QuantityReserved, snap.QuantityAvailable,
		snap.QuantityOutOfService, snap.StockValue, snap.AlertThreshold, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inventory: update snapshot: %w", err)
	}
	return nil
}

func (t *txRepo) LastStockAfter(ctx context.Context, materialID string) (int64, error) {
	var after int64
	err := t.tx.QueryRow(ctx, `SELECT stock_after FROM stock_movements WHERE material_id = $1 ORDER BY seq DESC LIMIT 1`, materialID).Scan(&after)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return after, err
}

func (t *txRepo) InsertMovement(ctx context.Context, mv Movement) (Movement, error) {
	n, err := db.NextSequence(ctx, t.tx, "stock_movements_seq")
	if err != nil {
		return Movement{}, err
	}
	mv.ID = shared.FormatID(shared.PrefixMovement, n)
	_, err = t.tx.Exec(ctx, `INSERT INTO stock_movements (seq, `+movementColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		n, mv.ID, mv.MaterialID, mv.Kind, mv.Quantity, mv.OccurredAt, nullText(mv.ReferenceKind), nullText(mv.ReferenceID),
		mv.UniqueReference, mv.UnitPrice, mv.TotalValue, mv.Reason, mv.ActorID, mv.StockBefore, mv.StockAfter)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueReferenceConstraint) {
			return Movement{}, fmt.Errorf("%w: %s/%s", ErrDuplicateReference, mv.ReferenceKind, mv.ReferenceID)
		}
		return Movement{}, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return mv, nil
}

func (t *txRepo) InsertValidation(ctx context.Context, v ValidationEntry) (ValidationEntry, error) {
	n, err := db.NextSequence(ctx, t.tx, "movement_validations_seq")
	if err != nil {
		return ValidationEntry{}, err
	}
	v.ID = shared.FormatID(shared.PrefixValidation, n)
	_, err = t.tx.Exec(ctx, `INSERT INTO movement_validations (id, movement_id, material_id, status, created_at)
VALUES ($1, $2, $3, $4, $5)`, v.ID, v.MovementID, v.MaterialID, v.Status, v.CreatedAt)
	if err != nil {
		return ValidationEntry{}, fmt.Errorf("inventory: insert validation: %w", err)
	}
	return v, nil
}

func (t *txRepo) GetValidationForUpdate(ctx context.Context, id string) (ValidationEntry, error) {
	return scanValidation(t.tx.QueryRow(ctx, `SELECT `+validationColumns+` FROM movement_validations WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateValidation(ctx context.Context, v ValidationEntry) error {
	_, err := t.tx.Exec(ctx, `UPDATE movement_validations SET status = $2, validator_id = $3, decided_at = $4, rejection_reason = $5 WHERE id = $1`,
		v.ID, v.Status, pgtype.Int8{Int64: v.ValidatorID, Valid: v.ValidatorID > 0}, v.DecidedAt, nullText(v.RejectionReason))
	if err != nil {
		return fmt.Errorf("inventory: update validation: %w", err)
	}
	return nil
}

// GetSnapshot loads the snapshot of a material.
func (r *Repository) GetSnapshot(ctx context.Context, materialID string) (Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM inventory_snapshots WHERE material_id = $1`, materialID))
}

// GetSnapshotByID loads a snapshot by id.
func (r *Repository) GetSnapshotByID(ctx context.Context, id string) (Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM inventory_snapshots WHERE id = $1`, id))
}

// ListLowStock returns snapshots at or below their threshold.
func (r *Repository) ListLowStock(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM inventory_snapshots
WHERE alert_threshold > 0 AND quantity_available <= alert_threshold
ORDER BY material_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetMovement loads a movement by id.
func (r *Repository) GetMovement(ctx context.Context, id string) (Movement, error) {
	return scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id = $1`, id))
}

// ListMovements returns movements in recording order.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE ($1::text = '' OR material_id = $1)
  AND ($2::text = '' OR kind = $2)
  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
  AND ($4::timestamptz IS NULL OR occurred_at <= $4)
ORDER BY seq
LIMIT $5`,
		filter.MaterialID, string(filter.Kind),
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindMovementByReference loads the movement carrying a reference.
func (r *Repository) FindMovementByReference(ctx context.Context, kind, id string) (Movement, error) {
	return scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE reference_kind = $1 AND reference_id = $2 ORDER BY seq LIMIT 1`, kind, id))
}

// GetValidation loads a validation by id.
func (r *Repository) GetValidation(ctx context.Context, id string) (ValidationEntry, error) {
	return scanValidation(r.pool.QueryRow(ctx, `SELECT `+validationColumns+` FROM movement_validations WHERE id = $1`, id))
}

// ListValidations returns validations newest first.
func (r *Repository) ListValidations(ctx context.Context, status ValidationStatus, limit int) ([]ValidationEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+validationColumns+` FROM movement_validations
WHERE ($1::text = '' OR status = $1) ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ValidationEntry
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetApprovedSource joins a validation with its movement.
func (r *Repository) GetApprovedSource(ctx context.Context, validationID string) (ApprovedSource, error) {
	var src ApprovedSource
	err := r.pool.QueryRow(ctx, `SELECT v.id, v.status, v.decided_at, m.id, m.kind, m.quantity, m.total_value, m.material_id, m.reason
FROM movement_validations v JOIN stock_movements m ON m.id = v.movement_id
WHERE v.id = $1`, validationID).Scan(&src.ValidationID, &src.Status, &src.DecidedAt, &src.MovementID,
		&src.MovementKind, &src.Quantity, &src.TotalValue, &src.MaterialID, &src.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return ApprovedSource{}, ErrValidationNotFound
	}
	return src, err
}
