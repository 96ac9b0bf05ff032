package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// KindEntry represents an inbound movement.
	KindEntry MovementKind = "ENTRY"
	// KindExit represents an outbound movement valued at weighted average cost.
	KindExit MovementKind = "EXIT"
	// KindTransfer records a relocation that leaves quantity unchanged.
	KindTransfer MovementKind = "TRANSFER"
	// KindReserve holds units without consuming them.
	KindReserve MovementKind = "RESERVE"
	// KindUnreserve releases a hold.
	KindUnreserve MovementKind = "UNRESERVE"
	// KindOther documents events with no quantity effect.
	KindOther MovementKind = "OTHER"
)

// Valid reports whether k is a known kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindEntry, KindExit, KindTransfer, KindReserve, KindUnreserve, KindOther:
		return true
	}
	return false
}

// StockAfter applies the kind's effect on the on-hand quantity.
func (k MovementKind) StockAfter(before, qty int64) int64 {
	switch k {
	case KindEntry:
		return before + qty
	case KindExit:
		return before - qty
	default:
		return before
	}
}

// Movement is an immutable stock event.
type Movement struct {
	ID              string          `json:"id"`
	MaterialID      string          `json:"material_id"`
	Kind            MovementKind    `json:"kind"`
	Quantity        int64           `json:"quantity"`
	OccurredAt      time.Time       `json:"occurred_at"`
	ReferenceKind   string          `json:"reference_kind,omitempty"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	UniqueReference bool            `json:"-"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalValue      decimal.Decimal `json:"total_value"`
	Reason          string          `json:"reason"`
	ActorID         int64           `json:"actor_id"`
	StockBefore     int64           `json:"stock_before"`
	StockAfter      int64           `json:"stock_after"`
}

// RecordInput describes a movement request.
type RecordInput struct {
	MaterialID    string
	Kind          MovementKind
	Quantity      int64
	ReferenceKind string
	ReferenceID   string
	// UniqueReference rejects a second movement carrying the same reference.
	UniqueReference bool
	UnitPrice       *decimal.Decimal
	Reason          string
	ActorID         int64
}

// Validate ensures the request can be applied before any lookup.
func (in RecordInput) Validate() error {
	if strings.TrimSpace(in.MaterialID) == "" {
		return fmt.Errorf("%w: material required", ErrInvalidInput)
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown movement kind %q", ErrInvalidInput, in.Kind)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, in.Quantity)
	}
	if in.ActorID <= 0 {
		return fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	if in.Kind == KindEntry && (in.UnitPrice == nil || !in.UnitPrice.IsPositive()) {
		return fmt.Errorf("%w: entry requires a positive unit price", ErrInvalidInput)
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidInput)
	}
	if in.UniqueReference && (in.ReferenceKind == "" || in.ReferenceID == "") {
		return fmt.Errorf("%w: unique reference requires kind and id", ErrInvalidInput)
	}
	return nil
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	MaterialID string
	Kind       MovementKind
	From       time.Time
	To         time.Time
	Limit      int
}

// ValidationStatus enumerates the approval gate states.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = shared.StatusPending
	ValidationApproved ValidationStatus = shared.StatusApproved
	ValidationRejected ValidationStatus = shared.StatusRejected
)

// ValidationEntry holds a durable-material movement until a human decides.
type ValidationEntry struct {
	ID              string           `json:"id"`
	MovementID      string           `json:"movement_id"`
	MaterialID      string           `json:"material_id"`
	Status          ValidationStatus `json:"status"`
	ValidatorID     int64            `json:"validator_id,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ApprovalResult reports an approval and the outcome of its ledger posting.
type ApprovalResult struct {
	Validation    ValidationEntry `json:"validation"`
	Posted        bool            `json:"posted"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty"`
	Warning       string          `json:"warning,omitempty"`
}

// ApprovedSource carries what the general ledger needs to post a validation.
type ApprovedSource struct {
	ValidationID string
	Status       ValidationStatus
	MovementID   string
	MovementKind MovementKind
	Quantity     int64
	TotalValue   decimal.Decimal
	MaterialID   string
	Reason       string
	DecidedAt    *time.Time
}

// RepairOutcome enumerates fault resolutions.
type RepairOutcome string

const (
	// RepairRepaired returns the unit to service.
	RepairRepaired RepairOutcome = "REPAIRED"
	// RepairUnrepairable removes the unit from stock permanently.
	RepairUnrepairable RepairOutcome = "UNREPAIRABLE"
)

// Reference kinds written by this package.
const (
	ReferenceFault  = "FAULT_REPORT"
	ReferenceRepair = "REPAIR_OUTCOME"
)

var (
	// ErrInvalidInput indicates malformed movement requests.
	ErrInvalidInput = fmt.Errorf("inventory: %w", shared.ErrInvalidInput)
	// ErrInsufficientStock triggered when a movement would drive a quantity negative.
	ErrInsufficientStock = fmt.Errorf("inventory: %w", shared.ErrInsufficientStock)
	// ErrMaterialNotFound indicates an unknown material.
	ErrMaterialNotFound = catalog.ErrMaterialNotFound
	// ErrNoInventory indicates a durable material without snapshot.
	ErrNoInventory = fmt.Errorf("inventory: no inventory snapshot, %w", shared.ErrNotFound)
	// ErrSnapshotNotFound indicates missing snapshot row.
	ErrSnapshotNotFound = fmt.Errorf("inventory: snapshot %w", shared.ErrNotFound)
	// ErrMovementNotFound indicates missing movement row.
	ErrMovementNotFound = fmt.Errorf("inventory: movement %w", shared.ErrNotFound)
	// ErrValidationNotFound indicates missing validation row.
	ErrValidationNotFound = fmt.Errorf("inventory: validation %w", shared.ErrNotFound)
	// ErrAlreadyProcessed indicates a decided validation.
	ErrAlreadyProcessed = fmt.Errorf("inventory: %w", shared.ErrAlreadyProcessed)
	// ErrDuplicateReference indicates a unique reference already carried by a movement.
	ErrDuplicateReference = fmt.Errorf("inventory: reference already recorded, %w", shared.ErrAlreadyProcessed)
)
