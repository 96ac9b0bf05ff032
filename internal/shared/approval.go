package shared

import (
	"fmt"
	"strings"
)

// Decision statuses shared by every human approval gate.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// ApprovalAction enumerates the decisions an approver can take.
type ApprovalAction string

const (
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
)

// Decide validates a PENDING -> APPROVED|REJECTED transition and returns the target status.
// Rejections require a non-empty reason.
func Decide(current string, action ApprovalAction, reason string) (string, error) {
	if current != StatusPending {
		return "", fmt.Errorf("%w: status is %s", ErrAlreadyProcessed, current)
	}
	switch action {
	case ApprovalApprove:
		return StatusApproved, nil
	case ApprovalReject:
		if strings.TrimSpace(reason) == "" {
			return "", fmt.Errorf("%w: rejection reason required", ErrInvalidInput)
		}
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("%w: unknown approval action %q", ErrInvalidInput, action)
	}
}

// RequireDecider ensures an approver id is present.
func RequireDecider(actorID int64) error {
	if actorID <= 0 {
		return fmt.Errorf("%w: approver required", ErrInvalidInput)
	}
	return nil
}
