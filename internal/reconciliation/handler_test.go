package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 5)))
		})
	})
	NewHandler(slog.Default(), f.svc).MountRoutes(r)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCountLifecycle(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	snap := f.stocked(t, "PRJ-01")

	body := fmt.Sprintf(`{"commission_id":"COM-1","inventory_id":%q,"physical_quantity":5,"kind":"ANNUAL","count_date":"2024-11-30"}`, snap.ID)
	rec := do(h, http.MethodPost, "/counts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var count CountResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	require.Equal(t, int64(-1), count.Variance)
	require.Equal(t, int64(5), count.CreatedBy)

	rec = do(h, http.MethodPost, "/counts/"+count.ID+"/correct", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h, http.MethodPost, "/counts/"+count.ID+"/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/counts/"+count.ID+"/correct", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	require.Equal(t, CorrectionCorrected, count.CorrectionStatus)

	rec = do(h, http.MethodGet, "/counts?year=2024&status=CORRECTED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), count.ID)
}

func TestHandlerCountErrors(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	snap := f.stocked(t, "PRJ-01")

	rec := do(h, http.MethodPost, "/counts", fmt.Sprintf(`{"commission_id":"COM-1","inventory_id":%q,"kind":"ANNUAL","count_date":"2024-11-30"}`, snap.ID))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/counts", fmt.Sprintf(`{"commission_id":"COM-1","inventory_id":%q,"physical_quantity":1,"kind":"ANNUAL","count_date":"30/11/2024"}`, snap.ID))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/counts/CNT-000404", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	c := f.count(t, snap.ID, 6, countDay)
	_, err := f.svc.ValidateCount(t.Context(), c.ID, 4)
	require.NoError(t, err)
	rec = do(h, http.MethodPost, "/counts/"+c.ID+"/correct", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(h, http.MethodPost, "/counts/"+c.ID+"/reject", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSettlements(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	snap := f.stocked(t, "PRJ-01")
	f.count(t, snap.ID, 3, countDay)

	rec := do(h, http.MethodPost, "/settlements/generate", `{"year":2024}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report GenerationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Created, 1)
	require.Equal(t, SeverityCritical, report.Created[0].Severity)

	id := report.Created[0].ID
	rec = do(h, http.MethodPost, "/settlements/"+id+"/reject", `{"reason":"theft reported"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(h, http.MethodPost, "/settlements/"+id+"/validate", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h, http.MethodGet, "/settlements?year=2024", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), id)

	rec = do(h, http.MethodPost, "/settlements/generate", `{"year":99}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type recordingScheduler struct {
	years []int
}

func (s *recordingScheduler) EnqueueSettlementGenerate(_ context.Context, year int, _ int64) error {
	s.years = append(s.years, year)
	return nil
}

func TestHandlerQueuesSettlementGeneration(t *testing.T) {
	f := newFixture(t)
	sched := &recordingScheduler{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 5)))
		})
	})
	NewHandler(slog.Default(), f.svc).WithScheduler(sched).MountRoutes(r)

	rec := do(r, http.MethodPost, "/settlements/generate?async=true", `{"year":2024}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []int{2024}, sched.years)
}
