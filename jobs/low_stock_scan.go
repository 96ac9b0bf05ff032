package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// LowStockLister lists snapshots at or below their alert threshold.
type LowStockLister interface {
	ListLowStock(ctx context.Context, limit int) ([]inventory.Snapshot, error)
}

// LowStockScanJob logs materials that need replenishment.
type LowStockScanJob struct {
	Inventory LowStockLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the scan handler.
func NewLowStockScanJob(inv LowStockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Inventory: inv, Logger: logger, Metrics: metrics}
}

// Handle performs the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLowStockScan)
	snaps, err := j.Inventory.ListLowStock(ctx, payload.Limit)
	if err != nil {
		logger.Error("list low stock", slog.Any("error", err))
		return err
	}
	for _, snap := range snaps {
		logger.Warn("material below alert threshold",
			slog.String("material_id", snap.MaterialID),
			slog.Int64("available", snap.QuantityAvailable),
			slog.Int64("threshold", snap.AlertThreshold))
	}
	logger.Info("low stock scan completed", slog.Int("materials", len(snaps)))
	return nil
}
