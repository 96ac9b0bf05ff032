package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// ChainVerifier walks the ledger categories.
type ChainVerifier interface {
	Categories(ctx context.Context) ([]string, error)
	VerifyChain(ctx context.Context, categoryID string) (*ledger.ChainBreak, error)
}

// LedgerIntegrityJob verifies that every category chain is consistent.
type LedgerIntegrityJob struct {
	Ledger  ChainVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob wires dependencies for the integrity handler.
func NewLedgerIntegrityJob(verifier ChainVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Ledger: verifier, Logger: logger, Metrics: metrics}
}

// Handle runs the integrity check.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	_, err := j.Run(ctx)
	return err
}

// Run verifies each category and returns the breaks found.
// A break is reported, not treated as a job failure.
func (j *LedgerIntegrityJob) Run(ctx context.Context) (breaks []ledger.ChainBreak, resultErr error) {
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLedgerIntegrity)
	categories, err := j.Ledger.Categories(ctx)
	if err != nil {
		logger.Error("list ledger categories", slog.Any("error", err))
		return nil, err
	}
	for _, categoryID := range categories {
		brk, err := j.Ledger.VerifyChain(ctx, categoryID)
		if err != nil {
			logger.Error("verify chain", slog.String("category_id", categoryID), slog.Any("error", err))
			return breaks, err
		}
		if brk == nil {
			continue
		}
		breaks = append(breaks, *brk)
		metrics.AddChainBreak(categoryID)
		logger.Warn("ledger chain break detected",
			slog.String("category_id", categoryID),
			slog.String("entry_id", brk.EntryID),
			slog.Int64("expected_quantity", brk.ExpectedQuantity),
			slog.Int64("actual_quantity", brk.ActualQuantity),
			slog.String("expected_value", brk.ExpectedValue.String()),
			slog.String("actual_value", brk.ActualValue.String()))
	}
	logger.Info("ledger integrity check executed",
		slog.Int("categories", len(categories)),
		slog.Int("breaks", len(breaks)))
	return breaks, nil
}
