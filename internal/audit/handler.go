package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.handleTimeline)
	r.Get("/audit/{entity}/{id}", h.handleEntity)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	from, to, err := httpx.QueryPeriod(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := httpx.QueryInt(r, "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	size, err := httpx.QueryInt(r, "page_size")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var actor int64
	if raw := r.URL.Query().Get("actor_id"); raw != "" {
		if actor, err = strconv.ParseInt(raw, 10, 64); err != nil {
			h.fail(w, r, shared.ErrInvalidInput)
			return
		}
	}
	q := r.URL.Query()
	result, err := h.service.Timeline(r.Context(), TimelineFilters{
		From:     from,
		To:       to,
		ActorID:  actor,
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleEntity(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.EntityHistory(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("audit request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
