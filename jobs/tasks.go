package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries ledger postings ahead of maintenance jobs.
	QueueCritical = "critical"

	// TaskLedgerPost retries the ledger posting of an approved validation.
	TaskLedgerPost = "ledger:post"
	// TaskSettlementGenerate creates the yearly settlements of a count campaign.
	TaskSettlementGenerate = "settlement:generate"
	// TaskLedgerIntegrity verifies the running balances of every ledger category.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskLowStockScan reports materials at or below their alert threshold.
	TaskLowStockScan = "inventory:low_stock"
)

// LedgerPostPayload identifies the validation to post.
type LedgerPostPayload struct {
	ValidationID string `json:"validation_id"`
}

// NewLedgerPostTask constructs a deduplicated posting task.
func NewLedgerPostTask(validationID string, maxRetry int) (*asynq.Task, error) {
	if validationID == "" {
		return nil, errors.New("jobs: validation id required")
	}
	body, err := json.Marshal(LedgerPostPayload{ValidationID: validationID})
	if err != nil {
		return nil, err
	}
	if maxRetry <= 0 {
		maxRetry = 10
	}
	return asynq.NewTask(TaskLedgerPost, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(TaskLedgerPost+":"+validationID),
	), nil
}

// SettlementGeneratePayload configures a settlement run.
type SettlementGeneratePayload struct {
	Year    int   `json:"year"`
	ActorID int64 `json:"actor_id"`
}

// NewSettlementGenerateTask constructs a settlement generation task.
func NewSettlementGenerateTask(year int, actorID int64) (*asynq.Task, error) {
	body, err := json.Marshal(SettlementGeneratePayload{Year: year, ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementGenerate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// LedgerIntegrityPayload carries scheduling metadata.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs the integrity check task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// LowStockScanPayload bounds the number of reported materials.
type LowStockScanPayload struct {
	Limit int `json:"limit"`
}

// NewLowStockScanTask constructs the low stock scan task.
func NewLowStockScanTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}
