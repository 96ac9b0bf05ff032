package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleRecordMovement)
	r.Get("/movements", h.handleListMovements)
	r.Route("/materials/{id}", func(r chi.Router) {
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/cost", h.handleCost)
		r.Post("/reserve", h.handleReserve)
		r.Post("/unreserve", h.handleUnreserve)
		r.Post("/faults", h.handleFault)
		r.Post("/repairs", h.handleRepair)
		r.Put("/threshold", h.handleThreshold)
	})
	r.Get("/validations", h.handleListValidations)
	r.Post("/validations/{id}/approve", h.handleApprove)
	r.Post("/validations/{id}/reject", h.handleReject)
}

type recordMovementRequest struct {
	MaterialID    string           `json:"material_id" validate:"required"`
	Kind          string           `json:"kind" validate:"required,oneof=ENTRY EXIT TRANSFER RESERVE UNRESERVE OTHER"`
	Quantity      int64            `json:"quantity" validate:"required,gt=0"`
	ReferenceKind string           `json:"reference_kind" validate:"omitempty,max=64"`
	ReferenceID   string           `json:"reference_id" validate:"omitempty,max=64"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
	Reason        string           `json:"reason" validate:"max=500"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type faultRequest struct {
	UnitWasReserved bool `json:"unit_was_reserved"`
}

type repairRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=REPAIRED UNREPAIRABLE"`
}

type thresholdRequest struct {
	AlertThreshold int64 `json:"alert_threshold" validate:"gte=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(target)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.service.RecordMovement(r.Context(), RecordInput{
		MaterialID:    req.MaterialID,
		Kind:          MovementKind(req.Kind),
		Quantity:      req.Quantity,
		ReferenceKind: req.ReferenceKind,
		ReferenceID:   req.ReferenceID,
		UnitPrice:     req.UnitPrice,
		Reason:        req.Reason,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
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
	items, err := h.service.ListMovements(r.Context(), MovementFilter{
		MaterialID: r.URL.Query().Get("material_id"),
		Kind:       MovementKind(r.URL.Query().Get("kind")),
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleCost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cost, err := h.service.GetCurrentCost(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"material_id": id, "cump": cost})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.Reserve(r.Context(), chi.URLParam(r, "id"), req.Quantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleUnreserve(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.Unreserve(r.Context(), chi.URLParam(r, "id"), req.Quantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleFault(w http.ResponseWriter, r *http.Request) {
	var req faultRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.ReportFault(r.Context(), chi.URLParam(r, "id"), req.UnitWasReserved, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.RecordRepairOutcome(r.Context(), chi.URLParam(r, "id"), RepairOutcome(req.Outcome), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.SetAlertThreshold(r.Context(), chi.URLParam(r, "id"), req.AlertThreshold, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleListValidations(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.ListValidations(r.Context(), ValidationStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ApproveValidation(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.RejectValidation(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}
