package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// LedgerPoster posts approved validations.
type LedgerPoster interface {
	PostFromValidation(ctx context.Context, validationID, observation string) (ledger.Entry, error)
}

// LedgerPostJob retries postings deferred by the approval flow.
type LedgerPostJob struct {
	Ledger  LedgerPoster
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerPostJob wires dependencies for the posting handler.
func NewLedgerPostJob(poster LedgerPoster, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerPostJob {
	return &LedgerPostJob{Ledger: poster, Logger: logger, Metrics: metrics}
}

// Handle posts the validation named by the task payload.
func (j *LedgerPostJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger post: handler not configured")
	}
	var payload LedgerPostPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ValidationID == "" {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskLedgerPost)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLedgerPost).With(slog.String("validation_id", payload.ValidationID))
	entry, err := j.Ledger.PostFromValidation(ctx, payload.ValidationID, "")
	if errors.Is(err, ledger.ErrSourceNotApproved) {
		logger.Error("validation cannot be posted", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		logger.Warn("ledger post attempt failed", slog.Any("error", err))
		return err
	}
	logger.Info("ledger post completed", slog.String("entry_id", entry.ID))
	return nil
}
