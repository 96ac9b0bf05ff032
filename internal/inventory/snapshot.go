package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const costScale = 4

// Snapshot is the per-material aggregate for durable materials.
// Fields are read-only outside this file; mutate through the methods.
type Snapshot struct {
	ID                   string          `json:"id"`
	MaterialID           string          `json:"material_id"`
	QuantityStock        int64           `json:"quantity_stock"`
	QuantityReserved     int64           `json:"quantity_reserved"`
	QuantityAvailable    int64           `json:"quantity_available"`
	QuantityOutOfService int64           `json:"quantity_out_of_service"`
	StockValue           decimal.Decimal `json:"stock_value"`
	AlertThreshold       int64           `json:"alert_threshold"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// NewSnapshot returns an empty snapshot for a material.
func NewSnapshot(materialID string) Snapshot {
	return Snapshot{MaterialID: materialID, StockValue: decimal.Zero}
}

// CUMP returns the weighted average unit cost.
func (s Snapshot) CUMP() decimal.Decimal {
	if s.QuantityStock <= 0 {
		return decimal.Zero
	}
	return s.StockValue.DivRound(decimal.NewFromInt(s.QuantityStock), costScale)
}

// BelowThreshold reports whether availability reached the alert threshold.
func (s Snapshot) BelowThreshold() bool {
	return s.AlertThreshold > 0 && s.QuantityAvailable <= s.AlertThreshold
}

// ApplyEntry adds received units and their value.
func (s *Snapshot) ApplyEntry(qty int64, value decimal.Decimal) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, qty)
	}
	if value.IsNegative() {
		return fmt.Errorf("%w: entry value must not be negative", ErrInvalidInput)
	}
	s.StockValue = s.StockValue.Add(value)
	s.QuantityStock += qty
	s.recompute()
	return nil
}

// ApplyExit removes units at the current weighted average cost and returns the value removed.
func (s *Snapshot) ApplyExit(qty int64) (decimal.Decimal, error) {
	if qty <= 0 {
		return decimal.Zero, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, qty)
	}
	if qty > s.QuantityStock {
		return decimal.Zero, s.insufficient(qty, s.QuantityStock)
	}
	exitValue := s.CUMP().Mul(decimal.NewFromInt(qty))
	s.removeValue(exitValue)
	s.QuantityStock -= qty
	if s.QuantityStock == 0 {
		s.StockValue = decimal.Zero
	}
	s.releaseHolds()
	s.recompute()
	return exitValue, nil
}

// Reserve holds available units.
func (s *Snapshot) Reserve(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, qty)
	}
	if qty > s.QuantityAvailable {
		return s.insufficient(qty, s.QuantityAvailable)
	}
	s.QuantityReserved += qty
	s.recompute()
	return nil
}

// Unreserve releases held units.
func (s *Snapshot) Unreserve(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, qty)
	}
	if qty > s.QuantityReserved {
		return s.insufficient(qty, s.QuantityReserved)
	}
	s.QuantityReserved -= qty
	s.recompute()
	return nil
}

// ApplyFaultReport takes one unit out of service. A reserved unit releases its reservation.
func (s *Snapshot) ApplyFaultReport(unitWasReserved bool) error {
	if unitWasReserved {
		if s.QuantityReserved < 1 {
			return s.insufficient(1, s.QuantityReserved)
		}
		s.QuantityReserved--
	} else if s.QuantityAvailable < 1 {
		return s.insufficient(1, s.QuantityAvailable)
	}
	s.QuantityOutOfService++
	s.recompute()
	return nil
}

// ApplyRepairOutcome closes a fault. Unrepairable units leave stock at CUMP; the removed value is returned.
func (s *Snapshot) ApplyRepairOutcome(outcome RepairOutcome) (decimal.Decimal, error) {
	switch outcome {
	case RepairRepaired, RepairUnrepairable:
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown repair outcome %q", ErrInvalidInput, outcome)
	}
	if s.QuantityOutOfService < 1 || s.QuantityStock < 1 {
		return decimal.Zero, s.insufficient(1, s.QuantityOutOfService)
	}
	s.QuantityOutOfService--
	if outcome == RepairRepaired {
		s.recompute()
		return decimal.Zero, nil
	}
	removed := s.CUMP()
	s.removeValue(removed)
	s.QuantityStock--
	if s.QuantityStock == 0 {
		s.StockValue = decimal.Zero
	}
	s.recompute()
	return removed, nil
}

// SetAlertThreshold updates the low-stock threshold.
func (s *Snapshot) SetAlertThreshold(threshold int64) error {
	if threshold < 0 {
		return fmt.Errorf("%w: alert threshold must not be negative", ErrInvalidInput)
	}
	s.AlertThreshold = threshold
	return nil
}

func (s *Snapshot) removeValue(v decimal.Decimal) {
	s.StockValue = s.StockValue.Sub(v)
	if s.StockValue.IsNegative() {
		s.StockValue = decimal.Zero
	}
}

// releaseHolds shrinks reservations, then out-of-service units, so holds never exceed stock.
func (s *Snapshot) releaseHolds() {
	excess := s.QuantityReserved + s.QuantityOutOfService - s.QuantityStock
	if excess <= 0 {
		return
	}
	fromReserved := min(excess, s.QuantityReserved)
	s.QuantityReserved -= fromReserved
	s.QuantityOutOfService -= excess - fromReserved
}

func (s *Snapshot) recompute() {
	available := s.QuantityStock - s.QuantityReserved - s.QuantityOutOfService
	if available < 0 {
		available = 0
	}
	s.QuantityAvailable = available
}

func (s *Snapshot) insufficient(requested, onHand int64) error {
	return fmt.Errorf("%w: material %s requested %d, available %d", ErrInsufficientStock, s.MaterialID, requested, onHand)
}
