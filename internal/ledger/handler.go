package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Handler exposes ledger reads and manual posting.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Get("/entries", h.handleEntries)
		r.Get("/categories/{id}/entries", h.handleHistory)
		r.Get("/categories/{id}/balance", h.handleBalance)
		r.Get("/categories/{id}/verify", h.handleVerify)
		r.Post("/validations/{id}/post", h.handlePost)
	})
}

type postRequest struct {
	Observation string `json:"observation" validate:"max=500"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	from, to, err := httpx.QueryPeriod(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.Entries(r.Context(), from, to, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := httpx.QueryPeriod(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.History(r.Context(), chi.URLParam(r, "id"), from, to, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	brk, err := h.service.VerifyChain(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"category_id": id, "intact": brk == nil, "break": brk})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		if err := httpx.Validate(req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	entry, err := h.service.PostFromValidation(r.Context(), chi.URLParam(r, "id"), req.Observation)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}
