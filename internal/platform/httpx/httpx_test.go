package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: MAT-9", shared.ErrNotFound):        http.StatusNotFound,
		fmt.Errorf("%w: qty", shared.ErrInvalidInput):      http.StatusBadRequest,
		fmt.Errorf("x: %w", shared.ErrInsufficientStock):   http.StatusConflict,
		fmt.Errorf("x: %w", shared.ErrAlreadyProcessed):    http.StatusConflict,
		fmt.Errorf("x: %w", shared.ErrNoVarianceToCorrect): http.StatusUnprocessableEntity,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.Internal("inventory: insert", errors.New("password=secret")))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret")

	rr = httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("%w: requested 10, available 6", shared.ErrInsufficientStock))
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, http.StatusConflict, problem.Status)
	require.Contains(t, problem.Detail, "available 6")
}

func TestValidate(t *testing.T) {
	type body struct {
		MaterialID string `validate:"required"`
		Quantity   int64  `validate:"gt=0"`
	}
	err := Validate(body{Quantity: 0})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	require.Contains(t, err.Error(), "materialid failed required")
	require.NoError(t, Validate(body{MaterialID: "MAT-1", Quantity: 1}))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":1,"bogus":true}`))
	var target struct {
		Qty int `json:"qty"`
	}
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrInvalidInput)
}

func TestQueryPeriodExtendsDateOnlyUpperBound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2024-01-01&to=2024-01-31&limit=5", nil)
	from, to, err := QueryPeriod(req)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, 31, to.Day())
	require.Equal(t, 23, to.Hour())

	limit, err := QueryInt(req, "limit")
	require.NoError(t, err)
	require.Equal(t, 5, limit)

	bad := httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	_, _, err = QueryPeriod(bad)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}
