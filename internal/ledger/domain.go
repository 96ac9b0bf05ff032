// Package ledger maintains the per-category running balance of approved
// durable-material movements.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Entry is one posting in a category chain.
type Entry struct {
	ID              string          `json:"id"`
	ValidationID    string          `json:"validation_id"`
	MovementID      string          `json:"movement_id"`
	MaterialID      string          `json:"material_id"`
	CategoryID      string          `json:"category_id"`
	QuantityIn      int64           `json:"quantity_in"`
	QuantityOut     int64           `json:"quantity_out"`
	ValueIn         decimal.Decimal `json:"value_in"`
	ValueOut        decimal.Decimal `json:"value_out"`
	QuantityBalance int64           `json:"quantity_balance"`
	ValueBalance    decimal.Decimal `json:"value_balance"`
	Observation     string          `json:"observation"`
	PostedAt        time.Time       `json:"posted_at"`
}

// Balance is the latest running balance of a category.
type Balance struct {
	CategoryID      string          `json:"category_id"`
	QuantityBalance int64           `json:"quantity_balance"`
	ValueBalance    decimal.Decimal `json:"value_balance"`
	LastEntryID     string          `json:"last_entry_id,omitempty"`
}

// Totals aggregates flows over the whole ledger.
type Totals struct {
	QuantityIn  int64           `json:"quantity_in"`
	QuantityOut int64           `json:"quantity_out"`
	ValueIn     decimal.Decimal `json:"value_in"`
	ValueOut    decimal.Decimal `json:"value_out"`
	EntryCount  int64           `json:"entry_count"`
}

// Statistics summarises the ledger.
type Statistics struct {
	Totals
	GlobalQuantityBalance int64           `json:"global_quantity_balance"`
	GlobalValueBalance    decimal.Decimal `json:"global_value_balance"`
	Categories            []Balance       `json:"categories"`
}

// ChainBreak describes the first entry whose balance does not follow from its predecessor.
type ChainBreak struct {
	CategoryID       string          `json:"category_id"`
	EntryID          string          `json:"entry_id"`
	ExpectedQuantity int64           `json:"expected_quantity"`
	ActualQuantity   int64           `json:"actual_quantity"`
	ExpectedValue    decimal.Decimal `json:"expected_value"`
	ActualValue      decimal.Decimal `json:"actual_value"`
}

var (
	// ErrEntryNotFound indicates missing ledger entry.
	ErrEntryNotFound = fmt.Errorf("ledger: entry %w", shared.ErrNotFound)
	// ErrSourceNotApproved indicates a posting attempted for a validation that is not approved.
	ErrSourceNotApproved = fmt.Errorf("ledger: validation not approved, %w", shared.ErrInvalidInput)
	// ErrDuplicatePosting indicates a concurrent posting of the same validation.
	ErrDuplicatePosting = fmt.Errorf("ledger: validation already posted, %w", shared.ErrAlreadyProcessed)
	// ErrInvalidInput indicates malformed ledger queries.
	ErrInvalidInput = fmt.Errorf("ledger: %w", shared.ErrInvalidInput)
)
