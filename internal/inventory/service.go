package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSnapshot(ctx context.Context, materialID string) (Snapshot, error)
	GetSnapshotByID(ctx context.Context, id string) (Snapshot, error)
	ListLowStock(ctx context.Context, limit int) ([]Snapshot, error)
	GetMovement(ctx context.Context, id string) (Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	FindMovementByReference(ctx context.Context, kind, id string) (Movement, error)
	GetValidation(ctx context.Context, id string) (ValidationEntry, error)
	ListValidations(ctx context.Context, status ValidationStatus, limit int) ([]ValidationEntry, error)
	GetApprovedSource(ctx context.Context, validationID string) (ApprovedSource, error)
}

// MaterialLookup resolves catalog materials.
type MaterialLookup interface {
	GetMaterial(ctx context.Context, id string) (catalog.Material, error)
}

// MovementObserver receives movement counters.
type MovementObserver interface {
	ObserveMovement(kind string)
}

// Service coordinates stock movements, snapshots and the validation gate.
type Service struct {
	repo        RepositoryPort
	materials   MaterialLookup
	audit       shared.AuditRecorder
	integration IntegrationHandler
	metrics     MovementObserver
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, materials MaterialLookup, audit shared.AuditRecorder, integration IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		materials:   materials,
		audit:       audit,
		integration: integration,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches a movement observer.
func (s *Service) WithMetrics(m MovementObserver) *Service {
	s.metrics = m
	return s
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// snapshotEffect mutates a locked snapshot and returns the unit price and total of the movement.
type snapshotEffect func(snap *Snapshot) (decimal.Decimal, decimal.Decimal, error)

type recordOutcome struct {
	movement   Movement
	snapshot   Snapshot
	validation *ValidationEntry
}

// RecordMovement records a movement and keeps the snapshot in step with it.
func (s *Service) RecordMovement(ctx context.Context, input RecordInput) (Movement, error) {
	out, err := s.record(ctx, input, nil)
	if err != nil {
		return Movement{}, err
	}
	return out.movement, nil
}

// Reserve holds units of a durable material.
func (s *Service) Reserve(ctx context.Context, materialID string, qty, actorID int64) (Snapshot, error) {
	out, err := s.record(ctx, RecordInput{
		MaterialID: materialID,
		Kind:       KindReserve,
		Quantity:   qty,
		Reason:     "reservation",
		ActorID:    actorID,
	}, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return out.snapshot, nil
}

// Unreserve releases units held for a durable material.
func (s *Service) Unreserve(ctx context.Context, materialID string, qty, actorID int64) (Snapshot, error) {
	out, err := s.record(ctx, RecordInput{
		MaterialID: materialID,
		Kind:       KindUnreserve,
		Quantity:   qty,
		Reason:     "reservation released",
		ActorID:    actorID,
	}, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return out.snapshot, nil
}

// ReportFault moves one unit out of service.
func (s *Service) ReportFault(ctx context.Context, materialID string, unitWasReserved bool, actorID int64) (Snapshot, error) {
	reason := "fault reported"
	if unitWasReserved {
		reason = "fault reported on reserved unit"
	}
	out, err := s.record(ctx, RecordInput{
		MaterialID:    materialID,
		Kind:          KindOther,
		Quantity:      1,
		ReferenceKind: ReferenceFault,
		Reason:        reason,
		ActorID:       actorID,
	}, func(snap *Snapshot) (decimal.Decimal, decimal.Decimal, error) {
		return decimal.Zero, decimal.Zero, snap.ApplyFaultReport(unitWasReserved)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return out.snapshot, nil
}

// RecordRepairOutcome closes a fault. Unrepairable units leave stock through an EXIT movement.
func (s *Service) RecordRepairOutcome(ctx context.Context, materialID string, outcome RepairOutcome, actorID int64) (Snapshot, error) {
	input := RecordInput{
		MaterialID:    materialID,
		Kind:          KindOther,
		Quantity:      1,
		ReferenceKind: ReferenceRepair,
		Reason:        "unit repaired",
		ActorID:       actorID,
	}
	switch outcome {
	case RepairRepaired:
	case RepairUnrepairable:
		input.Kind = KindExit
		input.Reason = "unit unrepairable, written off"
	default:
		return Snapshot{}, fmt.Errorf("%w: unknown repair outcome %q", ErrInvalidInput, outcome)
	}
	out, err := s.record(ctx, input, func(snap *Snapshot) (decimal.Decimal, decimal.Decimal, error) {
		removed, err := snap.ApplyRepairOutcome(outcome)
		return removed, removed, err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return out.snapshot, nil
}

func (s *Service) record(ctx context.Context, input RecordInput, effect snapshotEffect) (recordOutcome, error) {
	if err := input.Validate(); err != nil {
		return recordOutcome{}, err
	}
	material, err := s.materials.GetMaterial(ctx, input.MaterialID)
	if err != nil {
		return recordOutcome{}, shared.Internal("inventory: resolve material", err)
	}
	if effect != nil && !material.IsDurable() {
		return recordOutcome{}, fmt.Errorf("%w: material %s is not durable", ErrInvalidInput, material.ID)
	}
	if !material.IsDurable() && (input.Kind == KindReserve || input.Kind == KindUnreserve) {
		return recordOutcome{}, fmt.Errorf("%w: material %s is consumable", ErrNoInventory, material.ID)
	}

	var out recordOutcome
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockMaterial(ctx, material.ID); err != nil {
			return err
		}
		if !material.IsDurable() {
			before, err := tx.LastStockAfter(ctx, material.ID)
			if err != nil {
				return err
			}
			mv, err := s.consumableMovement(input, before)
			if err != nil {
				return err
			}
			out.movement, err = tx.InsertMovement(ctx, mv)
			return err
		}

		snap, err := tx.GetSnapshotForUpdate(ctx, material.ID)
		exists := true
		if errors.Is(err, ErrSnapshotNotFound) {
			exists = false
			snap = NewSnapshot(material.ID)
		} else if err != nil {
			return err
		}
		if !exists && input.Kind != KindEntry && (effect != nil || input.Kind == KindReserve || input.Kind == KindUnreserve) {
			return fmt.Errorf("%w: material %s", ErrNoInventory, material.ID)
		}

		before := snap.QuantityStock
		after := input.Kind.StockAfter(before, input.Quantity)
		if after < 0 {
			return fmt.Errorf("%w: material %s requested %d, on hand %d", ErrInsufficientStock, material.ID, input.Quantity, before)
		}
		if effect == nil {
			effect = defaultEffect(input)
		}
		unitPrice, total, err := effect(&snap)
		if err != nil {
			return err
		}
		if snap.QuantityStock != after {
			return fmt.Errorf("inventory: snapshot stock %d diverged from movement stock %d", snap.QuantityStock, after)
		}

		switch {
		case exists:
			snap.UpdatedAt = s.now()
			if err := tx.UpdateSnapshot(ctx, snap); err != nil {
				return err
			}
		case input.Kind == KindEntry:
			snap.CreatedAt = s.now()
			snap.UpdatedAt = snap.CreatedAt
			if snap, err = tx.InsertSnapshot(ctx, snap); err != nil {
				return err
			}
		}

		mv := s.newMovement(input, before, after)
		mv.UnitPrice = unitPrice
		mv.TotalValue = total
		if out.movement, err = tx.InsertMovement(ctx, mv); err != nil {
			return err
		}
		validation, err := tx.InsertValidation(ctx, ValidationEntry{
			MovementID: out.movement.ID,
			MaterialID: material.ID,
			Status:     ValidationPending,
			CreatedAt:  s.now(),
		})
		if err != nil {
			return err
		}
		out.snapshot = snap
		out.validation = &validation
		return nil
	})
	if err != nil {
		return recordOutcome{}, shared.Internal("inventory: record movement", err)
	}

	meta := map[string]any{
		"material_id": material.ID,
		"kind":        string(out.movement.Kind),
		"quantity":    out.movement.Quantity,
		"total_value": out.movement.TotalValue.String(),
	}
	if out.validation != nil {
		meta["validation_id"] = out.validation.ID
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "movement.recorded",
		Entity:   "stock_movement",
		EntityID: out.movement.ID,
		Meta:     meta,
		At:       s.now(),
	})
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(out.movement.Kind))
	}
	if out.validation != nil && out.snapshot.BelowThreshold() {
		s.logger.Warn("stock below alert threshold",
			slog.String("material_id", material.ID),
			slog.Int64("available", out.snapshot.QuantityAvailable),
			slog.Int64("threshold", out.snapshot.AlertThreshold))
	}
	return out, nil
}

func defaultEffect(input RecordInput) snapshotEffect {
	return func(snap *Snapshot) (decimal.Decimal, decimal.Decimal, error) {
		switch input.Kind {
		case KindEntry:
			total := input.UnitPrice.Mul(decimal.NewFromInt(input.Quantity))
			return *input.UnitPrice, total, snap.ApplyEntry(input.Quantity, total)
		case KindExit:
			cump := snap.CUMP()
			total, err := snap.ApplyExit(input.Quantity)
			return cump, total, err
		case KindReserve:
			return decimal.Zero, decimal.Zero, snap.Reserve(input.Quantity)
		case KindUnreserve:
			return decimal.Zero, decimal.Zero, snap.Unreserve(input.Quantity)
		default:
			return decimal.Zero, decimal.Zero, nil
		}
	}
}

func (s *Service) consumableMovement(input RecordInput, before int64) (Movement, error) {
	after := input.Kind.StockAfter(before, input.Quantity)
	if after < 0 {
		return Movement{}, fmt.Errorf("%w: material %s requested %d, on hand %d", ErrInsufficientStock, input.MaterialID, input.Quantity, before)
	}
	mv := s.newMovement(input, before, after)
	if input.Kind == KindEntry {
		mv.UnitPrice = *input.UnitPrice
		mv.TotalValue = input.UnitPrice.Mul(decimal.NewFromInt(input.Quantity))
	}
	return mv, nil
}

func (s *Service) newMovement(input RecordInput, before, after int64) Movement {
	return Movement{
		MaterialID:      input.MaterialID,
		Kind:            input.Kind,
		Quantity:        input.Quantity,
		OccurredAt:      s.now(),
		ReferenceKind:   input.ReferenceKind,
		ReferenceID:     input.ReferenceID,
		UniqueReference: input.UniqueReference,
		UnitPrice:       decimal.Zero,
		TotalValue:      decimal.Zero,
		Reason:          input.Reason,
		ActorID:         input.ActorID,
		StockBefore:     before,
		StockAfter:      after,
	}
}

// ApproveValidation approves a pending validation and forwards it to the ledger.
// A posting failure is reported in the result and never reverts the approval.
func (s *Service) ApproveValidation(ctx context.Context, id string, validatorID int64) (ApprovalResult, error) {
	entry, err := s.decide(ctx, id, validatorID, shared.ApprovalApprove, "")
	if err != nil {
		return ApprovalResult{}, err
	}
	result := ApprovalResult{Validation: entry}
	if s.integration == nil {
		return result, nil
	}
	ledgerID, err := s.integration.HandleValidationApproved(ctx, newValidationApprovedEvent(entry))
	if err != nil {
		s.logger.Warn("ledger posting failed after approval",
			slog.String("validation_id", entry.ID),
			slog.Any("error", err))
		result.Warning = fmt.Sprintf("ledger posting deferred: %v", err)
		return result, nil
	}
	result.Posted = ledgerID != ""
	result.LedgerEntryID = ledgerID
	return result, nil
}

// RejectValidation rejects a pending validation. The movement stays in the log.
func (s *Service) RejectValidation(ctx context.Context, id string, validatorID int64, reason string) (ValidationEntry, error) {
	return s.decide(ctx, id, validatorID, shared.ApprovalReject, reason)
}

func (s *Service) decide(ctx context.Context, id string, validatorID int64, action shared.ApprovalAction, reason string) (ValidationEntry, error) {
	if err := shared.RequireDecider(validatorID); err != nil {
		return ValidationEntry{}, err
	}
	var entry ValidationEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetValidationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := shared.Decide(string(current.Status), action, reason)
		if err != nil {
			return fmt.Errorf("inventory: validation %s: %w", id, err)
		}
		decidedAt := s.now()
		current.Status = ValidationStatus(next)
		current.ValidatorID = validatorID
		current.DecidedAt = &decidedAt
		if action == shared.ApprovalReject {
			current.RejectionReason = reason
		}
		if err := tx.UpdateValidation(ctx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return ValidationEntry{}, shared.Internal("inventory: decide validation", err)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  validatorID,
		Action:   "validation." + string(entry.Status),
		Entity:   "movement_validation",
		EntityID: entry.ID,
		Meta:     map[string]any{"movement_id": entry.MovementID, "reason": entry.RejectionReason},
		At:       s.now(),
	})
	return entry, nil
}

// GetValidation returns one validation entry.
func (s *Service) GetValidation(ctx context.Context, id string) (ValidationEntry, error) {
	v, err := s.repo.GetValidation(ctx, id)
	return v, shared.Internal("inventory: get validation", err)
}

// ListValidations returns validation entries, optionally filtered by status.
func (s *Service) ListValidations(ctx context.Context, status ValidationStatus, limit int) ([]ValidationEntry, error) {
	items, err := s.repo.ListValidations(ctx, status, shared.ClampLimit(limit))
	return items, shared.Internal("inventory: list validations", err)
}

// GetApprovedSource returns the posting data of a validation.
func (s *Service) GetApprovedSource(ctx context.Context, validationID string) (ApprovedSource, error) {
	src, err := s.repo.GetApprovedSource(ctx, validationID)
	return src, shared.Internal("inventory: approved source", err)
}

// GetCurrentCost returns the weighted average unit cost, zero for unknown materials.
func (s *Service) GetCurrentCost(ctx context.Context, materialID string) (decimal.Decimal, error) {
	snap, err := s.repo.GetSnapshot(ctx, materialID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, shared.Internal("inventory: current cost", err)
	}
	return snap.CUMP(), nil
}

// GetSnapshot returns the snapshot of a material.
func (s *Service) GetSnapshot(ctx context.Context, materialID string) (Snapshot, error) {
	snap, err := s.repo.GetSnapshot(ctx, materialID)
	return snap, shared.Internal("inventory: get snapshot", err)
}

// GetSnapshotByID returns a snapshot by its own id.
func (s *Service) GetSnapshotByID(ctx context.Context, id string) (Snapshot, error) {
	snap, err := s.repo.GetSnapshotByID(ctx, id)
	return snap, shared.Internal("inventory: get snapshot", err)
}

// SetAlertThreshold updates the low-stock threshold of a material.
func (s *Service) SetAlertThreshold(ctx context.Context, materialID string, threshold, actorID int64) (Snapshot, error) {
	var snap Snapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockMaterial(ctx, materialID); err != nil {
			return err
		}
		current, err := tx.GetSnapshotForUpdate(ctx, materialID)
		if err != nil {
			return err
		}
		if err := current.SetAlertThreshold(threshold); err != nil {
			return err
		}
		current.UpdatedAt = s.now()
		if err := tx.UpdateSnapshot(ctx, current); err != nil {
			return err
		}
		snap = current
		return nil
	})
	if err != nil {
		return Snapshot{}, shared.Internal("inventory: set alert threshold", err)
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "snapshot.threshold",
		Entity:   "inventory_snapshot",
		EntityID: snap.ID,
		Meta:     map[string]any{"alert_threshold": threshold},
		At:       s.now(),
	})
	return snap, nil
}

// ListLowStock returns snapshots at or below their alert threshold.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]Snapshot, error) {
	items, err := s.repo.ListLowStock(ctx, shared.ClampLimit(limit))
	return items, shared.Internal("inventory: list low stock", err)
}

// GetMovement returns one movement.
func (s *Service) GetMovement(ctx context.Context, id string) (Movement, error) {
	mv, err := s.repo.GetMovement(ctx, id)
	return mv, shared.Internal("inventory: get movement", err)
}

// ListMovements returns movements matching the filter, oldest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: period end before start", ErrInvalidInput)
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown movement kind %q", ErrInvalidInput, filter.Kind)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	items, err := s.repo.ListMovements(ctx, filter)
	return items, shared.Internal("inventory: list movements", err)
}

// FindMovementByReference returns the movement carrying a reference.
func (s *Service) FindMovementByReference(ctx context.Context, kind, id string) (Movement, error) {
	mv, err := s.repo.FindMovementByReference(ctx, kind, id)
	return mv, shared.Internal("inventory: find movement", err)
}
