package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type stubTimelineRepo struct {
	rows []TimelineRow
	last Query
}

func (s *stubTimelineRepo) Timeline(_ context.Context, q Query) ([]TimelineRow, error) {
	s.last = q
	out := s.rows
	if q.Offset < len(out) {
		out = out[q.Offset:]
	} else {
		out = nil
	}
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func rows(n int) []TimelineRow {
	out := make([]TimelineRow, n)
	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = TimelineRow{At: at.Add(-time.Duration(i) * time.Hour), ActorID: 7, Action: "movement.recorded", Entity: "stock_movement", EntityID: shared.FormatID(shared.PrefixMovement, int64(n-i))}
	}
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: rows(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, Entity: " stock_movement "})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.last.Limit)
	require.Equal(t, "stock_movement", repo.last.Entity)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 2, repo.last.Offset)
}

func TestServiceTimelineDefaultsAndValidation(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 5000})
	require.NoError(t, err)
	require.Empty(t, result.Rows)
	require.Equal(t, maxPageSize, result.Paging.PageSize)

	_, err = svc.Timeline(context.Background(), TimelineFilters{
		From: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.EntityHistory(context.Background(), "count_result", "")
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestHandlerTimeline(t *testing.T) {
	repo := &stubTimelineRepo{rows: rows(2)}
	r := chi.NewRouter()
	NewHandler(slog.Default(), NewService(repo)).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?actor_id=7&from=2024-03-01&to=2024-03-31&page_size=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Rows, 1)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, int64(7), repo.last.ActorID)
	require.Equal(t, 23, repo.last.To.Hour())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/stock_movement/MVT-000001", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MVT-000001", repo.last.EntityID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?actor_id=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
