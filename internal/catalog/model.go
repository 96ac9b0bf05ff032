// Package catalog exposes read-only access to the material catalog owned by
// the equipment-catalog service.
package catalog

import (
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// MaterialKind distinguishes tracking regimes.
type MaterialKind string

const (
	// KindDurable materials are tracked by snapshot, validation and ledger.
	KindDurable MaterialKind = "DURABLE"
	// KindConsumable materials are tracked only through the movement log.
	KindConsumable MaterialKind = "CONSUMABLE"
)

// Material is a catalog item referenced by stock movements.
type Material struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Kind         MaterialKind `json:"kind"`
	CategoryID   string       `json:"category_id"`
	CategoryName string       `json:"category_name"`
}

// IsDurable reports whether the material is tracked by quantity and value.
func (m Material) IsDurable() bool {
	return m.Kind == KindDurable
}

// ErrMaterialNotFound indicates an unknown material id.
var ErrMaterialNotFound = fmt.Errorf("catalog: material %w", shared.ErrNotFound)
