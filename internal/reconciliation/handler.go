package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// SettlementScheduler queues settlement generation in the background.
type SettlementScheduler interface {
	EnqueueSettlementGenerate(ctx context.Context, year int, actorID int64) error
}

// Handler exposes counts and settlements over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	scheduler SettlementScheduler
}

// NewHandler constructs reconciliation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// WithScheduler enables ?async=true on settlement generation.
func (h *Handler) WithScheduler(s SettlementScheduler) *Handler {
	h.scheduler = s
	return h
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/counts", func(r chi.Router) {
		r.Post("/", h.handleRecordCount)
		r.Get("/", h.handleListCounts)
		r.Get("/{id}", h.handleGetCount)
		r.Post("/{id}/validate", h.handleValidateCount)
		r.Post("/{id}/reject", h.handleRejectCount)
		r.Post("/{id}/correct", h.handleCorrect)
	})
	r.Route("/settlements", func(r chi.Router) {
		r.Post("/generate", h.handleGenerate)
		r.Get("/", h.handleListSettlements)
		r.Get("/{id}", h.handleGetSettlement)
		r.Post("/{id}/validate", h.handleValidateSettlement)
		r.Post("/{id}/reject", h.handleRejectSettlement)
	})
}

type countRequest struct {
	CommissionID     string `json:"commission_id" validate:"required,max=64"`
	InventoryID      string `json:"inventory_id" validate:"required"`
	PhysicalQuantity *int64 `json:"physical_quantity" validate:"required,gte=0"`
	Kind             string `json:"kind" validate:"required,oneof=ANNUAL PERIODIC SPOT"`
	CountDate        string `json:"count_date" validate:"required,datetime=2006-01-02"`
	Notes            string `json:"notes" validate:"max=1000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type generateRequest struct {
	Year int `json:"year" validate:"required,gte=1900,lte=9999"`
}

func decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(target)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("reconciliation request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleRecordCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.CountDate)
	count, err := h.service.RecordCount(r.Context(), CountInput{
		CommissionID:     req.CommissionID,
		InventoryID:      req.InventoryID,
		PhysicalQuantity: *req.PhysicalQuantity,
		Kind:             CountKind(req.Kind),
		CountDate:        date,
		Notes:            req.Notes,
		ActorID:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, count)
}

func (h *Handler) handleListCounts(w http.ResponseWriter, r *http.Request) {
	year, err := httpx.QueryInt(r, "year")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.ListCounts(r.Context(), CountFilter{
		Year:   year,
		Status: CorrectionStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGetCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.GetCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleValidateCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ValidateCount(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleRejectCount(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	count, err := h.service.RejectCount(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ApplyCorrection(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actorID := shared.ActorFromContext(r.Context())
	if h.scheduler != nil && r.URL.Query().Get("async") == "true" {
		if actorID <= 0 {
			h.fail(w, r, fmt.Errorf("%w: actor required", ErrInvalidInput))
			return
		}
		if err := h.scheduler.EnqueueSettlementGenerate(r.Context(), req.Year, actorID); err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"year": req.Year, "queued": true})
		return
	}
	report, err := h.service.GenerateSettlementsForYear(r.Context(), req.Year, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	year, err := httpx.QueryInt(r, "year")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.ListSettlements(r.Context(), year, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleValidateSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.ValidateSettlement(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleRejectSettlement(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.service.RejectSettlement(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}
