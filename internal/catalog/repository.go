package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository reads materials from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetMaterial loads one material with its category.
func (r *Repository) GetMaterial(ctx context.Context, id string) (Material, error) {
	var m Material
	err := r.db.QueryRow(ctx, `SELECT m.id, m.name, m.kind, m.category_id, c.name
FROM materials m JOIN material_categories c ON c.id = m.category_id
WHERE m.id = $1`, id).Scan(&m.ID, &m.Name, &m.Kind, &m.CategoryID, &m.CategoryName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, fmt.Errorf("%w: %s", ErrMaterialNotFound, id)
		}
		return Material{}, shared.Internal("catalog: get material", err)
	}
	return m, nil
}
