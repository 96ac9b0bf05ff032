package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/reconciliation"
)

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

type stubPoster struct {
	err   error
	calls []string
}

func (s *stubPoster) PostFromValidation(_ context.Context, validationID, _ string) (ledger.Entry, error) {
	s.calls = append(s.calls, validationID)
	if s.err != nil {
		return ledger.Entry{}, s.err
	}
	return ledger.Entry{ID: "GL-000001", ValidationID: validationID}, nil
}

func TestLedgerPostTask(t *testing.T) {
	_, err := NewLedgerPostTask("", 3)
	require.Error(t, err)

	task, err := NewLedgerPostTask("VAL-000009", 3)
	require.NoError(t, err)
	require.Equal(t, TaskLedgerPost, task.Type())
	var payload LedgerPostPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "VAL-000009", payload.ValidationID)
}

func TestLedgerPostJob(t *testing.T) {
	ctx := context.Background()
	poster := &stubPoster{}
	job := NewLedgerPostJob(poster, nil, testMetrics())

	task, err := NewLedgerPostTask("VAL-000001", 3)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, []string{"VAL-000001"}, poster.calls)

	poster.err = errors.New("db down")
	require.ErrorIs(t, job.Handle(ctx, task), poster.err)

	poster.err = ledger.ErrSourceNotApproved
	require.ErrorIs(t, job.Handle(ctx, task), asynq.SkipRetry)

	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskLedgerPost, []byte(`{`))), asynq.SkipRetry)
	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskLedgerPost, []byte(`{}`))), asynq.SkipRetry)
}

type stubGenerator struct {
	years []int
}

func (s *stubGenerator) GenerateSettlementsForYear(_ context.Context, year int, _ int64) (reconciliation.GenerationReport, error) {
	s.years = append(s.years, year)
	return reconciliation.GenerationReport{Year: year}, nil
}

func TestSettlementGenerateJob(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{}
	job := NewSettlementGenerateJob(gen, nil, testMetrics())
	job.clock = func() time.Time { return time.Date(2025, 12, 31, 22, 0, 0, 0, time.UTC) }

	task, err := NewSettlementGenerateTask(2024, 9)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	task, err = NewSettlementGenerateTask(0, 9)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, []int{2024, 2025}, gen.years)

	task, err = NewSettlementGenerateTask(2024, 0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(ctx, task), asynq.SkipRetry)
}

type stubChain struct {
	categories []string
	breaks     map[string]*ledger.ChainBreak
}

func (s stubChain) Categories(context.Context) ([]string, error) { return s.categories, nil }

func (s stubChain) VerifyChain(_ context.Context, categoryID string) (*ledger.ChainBreak, error) {
	return s.breaks[categoryID], nil
}

func TestLedgerIntegrityJobReportsBreaks(t *testing.T) {
	chain := stubChain{
		categories: []string{"CAT-AV", "CAT-LAB"},
		breaks: map[string]*ledger.ChainBreak{
			"CAT-LAB": {CategoryID: "CAT-LAB", EntryID: "GL-000004", ExpectedQuantity: 3, ActualQuantity: 4,
				ExpectedValue: decimal.NewFromInt(300), ActualValue: decimal.NewFromInt(400)},
		},
	}
	job := NewLedgerIntegrityJob(chain, nil, testMetrics())

	breaks, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, breaks, 1)
	require.Equal(t, "GL-000004", breaks[0].EntryID)

	task, err := NewLedgerIntegrityTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

type stubLowStock []inventory.Snapshot

func (s stubLowStock) ListLowStock(context.Context, int) ([]inventory.Snapshot, error) { return s, nil }

func TestLowStockScanJob(t *testing.T) {
	job := NewLowStockScanJob(stubLowStock{{MaterialID: "PRJ-01", QuantityAvailable: 1, AlertThreshold: 2}}, nil, testMetrics())
	task, err := NewLowStockScanTask(50)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	var nilJob *LowStockScanJob
	require.Error(t, nilJob.Handle(context.Background(), task))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"critical","pending":0,"retry":0}`, rec.Body.String())
}
