// Package reconciliation compares physical counts with the book quantity,
// corrects confirmed variances and prepares yearly settlements.
package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CountKind enumerates count campaigns.
type CountKind string

const (
	CountAnnual   CountKind = "ANNUAL"
	CountPeriodic CountKind = "PERIODIC"
	CountSpot     CountKind = "SPOT"
)

// Valid reports whether k is a known kind.
func (k CountKind) Valid() bool {
	switch k {
	case CountAnnual, CountPeriodic, CountSpot:
		return true
	}
	return false
}

// CorrectionStatus tracks a count through validation and correction.
type CorrectionStatus string

const (
	CorrectionPending   CorrectionStatus = shared.StatusPending
	CorrectionApproved  CorrectionStatus = shared.StatusApproved
	CorrectionRejected  CorrectionStatus = shared.StatusRejected
	CorrectionCorrected CorrectionStatus = "CORRECTED"
)

// ReferenceCountCorrection tags movements issued by ApplyCorrection.
const ReferenceCountCorrection = "COUNT_CORRECTION"

// CountResult is one physical count of a durable material.
type CountResult struct {
	ID                   string           `json:"id"`
	CommissionID         string           `json:"commission_id"`
	InventoryID          string           `json:"inventory_id"`
	MaterialID           string           `json:"material_id"`
	Kind                 CountKind        `json:"kind"`
	CountDate            time.Time        `json:"count_date"`
	TheoreticalQuantity  int64            `json:"theoretical_quantity"`
	PhysicalQuantity     int64            `json:"physical_quantity"`
	Variance             int64            `json:"variance"`
	UnitPriceSystem      decimal.Decimal  `json:"unit_price_system"`
	ValueSystem          decimal.Decimal  `json:"value_system"`
	UnitPriceCounted     decimal.Decimal  `json:"unit_price_counted"`
	ValueCounted         decimal.Decimal  `json:"value_counted"`
	Notes                string           `json:"notes,omitempty"`
	CorrectionStatus     CorrectionStatus `json:"correction_status"`
	ValidatorID          int64            `json:"validator_id,omitempty"`
	ValidatedAt          *time.Time       `json:"validated_at,omitempty"`
	RejectionReason      string           `json:"rejection_reason,omitempty"`
	CorrectedBy          int64            `json:"corrected_by,omitempty"`
	CorrectedAt          *time.Time       `json:"corrected_at,omitempty"`
	CorrectionMovementID string           `json:"correction_movement_id,omitempty"`
	CreatedBy            int64            `json:"created_by"`
	CreatedAt            time.Time        `json:"created_at"`
}

// CountInput is the payload of RecordCount.
type CountInput struct {
	CommissionID     string
	InventoryID      string
	PhysicalQuantity int64
	Kind             CountKind
	CountDate        time.Time
	Notes            string
	ActorID          int64
}

// Validate checks the count before any lookup.
func (in CountInput) Validate() error {
	if strings.TrimSpace(in.CommissionID) == "" {
		return fmt.Errorf("%w: commission required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.InventoryID) == "" {
		return fmt.Errorf("%w: inventory required", ErrInvalidInput)
	}
	if in.PhysicalQuantity < 0 {
		return fmt.Errorf("%w: physical quantity must not be negative", ErrInvalidInput)
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown count kind %q", ErrInvalidInput, in.Kind)
	}
	if in.CountDate.IsZero() {
		return fmt.Errorf("%w: count date required", ErrInvalidInput)
	}
	if in.ActorID <= 0 {
		return fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	return nil
}

// CountFilter narrows count listings.
type CountFilter struct {
	Year   int
	Status CorrectionStatus
	Limit  int
}

// SettlementStatus enumerates settlement decisions.
type SettlementStatus string

const (
	SettlementPending  SettlementStatus = shared.StatusPending
	SettlementApproved SettlementStatus = shared.StatusApproved
	SettlementRejected SettlementStatus = shared.StatusRejected
)

// Settlement reconciles a count with the ledger at year end.
type Settlement struct {
	ID              string           `json:"id"`
	Year            int              `json:"year"`
	CountResultID   string           `json:"count_result_id"`
	MaterialID      string           `json:"material_id"`
	LedgerEntryID   string           `json:"ledger_entry_id,omitempty"`
	Status          SettlementStatus `json:"status"`
	Severity        Severity         `json:"severity"`
	VariancePercent decimal.Decimal  `json:"variance_percent"`
	ValidatorID     int64            `json:"validator_id,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedBy       int64            `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
}

// SkippedCount explains why no settlement was created for a count.
type SkippedCount struct {
	CountResultID string `json:"count_result_id"`
	Reason        string `json:"reason"`
}

// GenerationReport summarises a yearly settlement run.
type GenerationReport struct {
	Year    int            `json:"year"`
	Created []Settlement   `json:"created"`
	Skipped []SkippedCount `json:"skipped"`
}

var (
	// ErrInvalidInput indicates malformed reconciliation requests.
	ErrInvalidInput = fmt.Errorf("reconciliation: %w", shared.ErrInvalidInput)
	// ErrCountNotFound indicates missing count row.
	ErrCountNotFound = fmt.Errorf("reconciliation: count %w", shared.ErrNotFound)
	// ErrSettlementNotFound indicates missing settlement row.
	ErrSettlementNotFound = fmt.Errorf("reconciliation: settlement %w", shared.ErrNotFound)
	// ErrAlreadyProcessed indicates a transition on a count or settlement in the wrong state.
	ErrAlreadyProcessed = fmt.Errorf("reconciliation: %w", shared.ErrAlreadyProcessed)
	// ErrNoVarianceToCorrect indicates a correction requested for a matching count.
	ErrNoVarianceToCorrect = fmt.Errorf("reconciliation: %w", shared.ErrNoVarianceToCorrect)
)
