package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

type stubPoster struct {
	entry ledger.Entry
	err   error
	calls []string
}

func (s *stubPoster) PostFromValidation(_ context.Context, validationID, _ string) (ledger.Entry, error) {
	s.calls = append(s.calls, validationID)
	return s.entry, s.err
}

type stubQueue struct {
	queued []string
	err    error
}

func (q *stubQueue) EnqueueLedgerPost(_ context.Context, validationID string) error {
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, validationID)
	return nil
}

func event(id string) inventory.ValidationApprovedEvent {
	return inventory.ValidationApprovedEvent{EventID: uuid.New(), ValidationID: id, MaterialID: "PRJ-01"}
}

func TestHooksPostsApprovedValidation(t *testing.T) {
	poster := &stubPoster{entry: ledger.Entry{ID: "GL-000001"}}
	queue := &stubQueue{}
	hooks := NewHooks(poster, queue, nil)

	id, err := hooks.HandleValidationApproved(context.Background(), event("VAL-000001"))
	require.NoError(t, err)
	require.Equal(t, "GL-000001", id)
	require.Equal(t, []string{"VAL-000001"}, poster.calls)
	require.Empty(t, queue.queued)
}

func TestHooksQueuesRetryOnFailure(t *testing.T) {
	boom := errors.New("db down")
	poster := &stubPoster{err: boom}
	queue := &stubQueue{}
	hooks := NewHooks(poster, queue, nil)

	id, err := hooks.HandleValidationApproved(context.Background(), event("VAL-000002"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, id)
	require.Equal(t, []string{"VAL-000002"}, queue.queued)

	queue.err = errors.New("redis down")
	_, err = hooks.HandleValidationApproved(context.Background(), event("VAL-000003"))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "retry not queued")
}

func TestHooksDoesNotRetryUnapprovedSource(t *testing.T) {
	poster := &stubPoster{err: ledger.ErrSourceNotApproved}
	queue := &stubQueue{}
	hooks := NewHooks(poster, queue, nil)

	_, err := hooks.HandleValidationApproved(context.Background(), event("VAL-000004"))
	require.ErrorIs(t, err, ledger.ErrSourceNotApproved)
	require.Empty(t, queue.queued)
}

func TestNilHooksIsNoop(t *testing.T) {
	var hooks *Hooks
	id, err := hooks.HandleValidationApproved(context.Background(), event("VAL-000005"))
	require.NoError(t, err)
	require.Empty(t, id)
}
