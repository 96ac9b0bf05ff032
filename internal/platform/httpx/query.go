package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", shared.ErrInvalidInput, key)
	}
	return n, nil
}

// QueryTime parses an optional date (2006-01-02) or RFC3339 query parameter.
// Date-only upper bounds should be extended by the caller.
func QueryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date", shared.ErrInvalidInput, key)
	}
	return t, nil
}

// QueryPeriod parses from/to parameters. A date-only "to" covers the whole day.
func QueryPeriod(r *http.Request) (time.Time, time.Time, error) {
	from, err := QueryTime(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := QueryTime(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if raw := r.URL.Query().Get("to"); len(raw) == len(time.DateOnly) {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	return from, to, nil
}
