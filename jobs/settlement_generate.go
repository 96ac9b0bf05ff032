package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/reconciliation"
)

// SettlementGenerator creates settlements for a year.
type SettlementGenerator interface {
	GenerateSettlementsForYear(ctx context.Context, year int, actorID int64) (reconciliation.GenerationReport, error)
}

// SettlementGenerateJob runs settlement generation outside the request path.
type SettlementGenerateJob struct {
	Settlements SettlementGenerator
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewSettlementGenerateJob wires dependencies for the settlement handler.
func NewSettlementGenerateJob(settlements SettlementGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *SettlementGenerateJob {
	return &SettlementGenerateJob{
		Settlements: settlements,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle generates the settlements of the payload year, the current year when unset.
func (j *SettlementGenerateJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Settlements == nil {
		return errors.New("settlement generate: handler not configured")
	}
	var payload SettlementGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ActorID <= 0 {
		return asynq.SkipRetry
	}
	if payload.Year == 0 {
		payload.Year = j.now().Year()
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskSettlementGenerate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskSettlementGenerate).With(slog.Int("year", payload.Year))
	report, err := j.Settlements.GenerateSettlementsForYear(ctx, payload.Year, payload.ActorID)
	if err != nil {
		logger.Error("generate settlements", slog.Any("error", err))
		return err
	}
	logger.Info("settlement generation completed",
		slog.Int("created", len(report.Created)),
		slog.Int("skipped", len(report.Skipped)))
	return nil
}

func (j *SettlementGenerateJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
