// Package integration bridges approved inventory validations into the ledger.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// LedgerPoster exposes the posting operation required by the hooks.
type LedgerPoster interface {
	PostFromValidation(ctx context.Context, validationID, observation string) (ledger.Entry, error)
}

// RetryEnqueuer schedules a deferred posting attempt.
type RetryEnqueuer interface {
	EnqueueLedgerPost(ctx context.Context, validationID string) error
}

// Hooks wires approved validations into the general ledger.
type Hooks struct {
	ledger LedgerPoster
	retry  RetryEnqueuer
	logger *slog.Logger
}

// NewHooks constructs integration hooks. retry may be nil when no queue is available.
func NewHooks(poster LedgerPoster, retry RetryEnqueuer, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: poster, retry: retry, logger: logger}
}

// HandleValidationApproved posts the ledger entry of an approved validation.
// On failure a retry is queued and the original error is returned.
func (h *Hooks) HandleValidationApproved(ctx context.Context, evt inventory.ValidationApprovedEvent) (string, error) {
	if h == nil || h.ledger == nil {
		return "", nil
	}
	if evt.ValidationID == "" {
		return "", errors.New("integration: validation id required")
	}
	entry, err := h.ledger.PostFromValidation(ctx, evt.ValidationID, "")
	if err == nil {
		return entry.ID, nil
	}

	logger := h.logger.With(
		slog.String("event_id", evt.EventID.String()),
		slog.String("validation_id", evt.ValidationID),
		slog.String("material_id", evt.MaterialID))
	if errors.Is(err, ledger.ErrSourceNotApproved) {
		logger.Error("ledger posting rejected", slog.Any("error", err))
		return "", err
	}
	if h.retry == nil {
		logger.Warn("ledger posting failed, no retry queue", slog.Any("error", err))
		return "", err
	}
	if qerr := h.retry.EnqueueLedgerPost(ctx, evt.ValidationID); qerr != nil {
		logger.Error("enqueue ledger retry", slog.Any("error", qerr))
		return "", fmt.Errorf("%w (retry not queued: %v)", err, qerr)
	}
	logger.Info("ledger posting queued for retry", slog.Any("error", err))
	return "", err
}

var _ inventory.IntegrationHandler = (*Hooks)(nil)
