package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

func serve(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostingAndReads(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(slog.Default(), f.ledger).MountRoutes(r)

	id := f.approved(t, "PRJ-01", inventory.KindEntry, 4, "25")
	rec := serve(t, r, http.MethodPost, "/ledger/validations/"+id+"/post", `{"observation":"manual"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, "GL-000001", entry.ID)
	require.Equal(t, "manual", entry.Observation)

	rec = serve(t, r, http.MethodPost, "/ledger/validations/"+id+"/post", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.repo.all(), 1)

	rec = serve(t, r, http.MethodGet, "/ledger/categories/CAT-AV/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, int64(4), balance.QuantityBalance)
	require.True(t, decimal.NewFromInt(100).Equal(balance.ValueBalance))

	rec = serve(t, r, http.MethodGet, "/ledger/categories/CAT-AV/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "GL-000001")

	rec = serve(t, r, http.MethodGet, "/ledger/categories/CAT-AV/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"intact":true`)

	rec = serve(t, r, http.MethodGet, "/ledger/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"entry_count":1`)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(slog.Default(), f.ledger).MountRoutes(r)

	_, err := f.inv.RecordMovement(context.Background(), inventory.RecordInput{
		MaterialID: "PRJ-01", Kind: inventory.KindEntry, Quantity: 1, UnitPrice: ptr(decimal.NewFromInt(5)), ActorID: 1,
	})
	require.NoError(t, err)

	rec := serve(t, r, http.MethodPost, "/ledger/validations/VAL-000001/post", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, r, http.MethodPost, "/ledger/validations/VAL-000404/post", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, r, http.MethodGet, "/ledger/entries?from=2024-03-02&to=2024-03-01", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, r, http.MethodGet, "/ledger/entries?limit=many", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
