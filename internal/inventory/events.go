package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var eventNamespace = uuid.MustParse("3f0b7c52-1d8e-4b52-9a61-3d2a7e6f4c11")

// ValidationApprovedEvent is emitted after a durable movement passes the validation gate.
type ValidationApprovedEvent struct {
	EventID      uuid.UUID
	ValidationID string
	MovementID   string
	MaterialID   string
	ApprovedBy   int64
	ApprovedAt   time.Time
}

func newValidationApprovedEvent(entry ValidationEntry) ValidationApprovedEvent {
	evt := ValidationApprovedEvent{
		EventID:      uuid.NewSHA1(eventNamespace, []byte("validation.approved:"+entry.ID)),
		ValidationID: entry.ID,
		MovementID:   entry.MovementID,
		MaterialID:   entry.MaterialID,
		ApprovedBy:   entry.ValidatorID,
	}
	if entry.DecidedAt != nil {
		evt.ApprovedAt = *entry.DecidedAt
	}
	return evt
}

// IntegrationHandler receives inventory events for financial integration.
// It returns the ledger entry id when the posting succeeded synchronously.
type IntegrationHandler interface {
	HandleValidationApproved(ctx context.Context, evt ValidationApprovedEvent) (string, error)
}
