package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts reconciliation persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCount(ctx context.Context, id string) (CountResult, error)
	ListCounts(ctx context.Context, filter CountFilter) ([]CountResult, error)
	GetSettlement(ctx context.Context, id string) (Settlement, error)
	ListSettlements(ctx context.Context, year, limit int) ([]Settlement, error)
}

// InventoryPort is the subset of the inventory service used for counts and corrections.
type InventoryPort interface {
	GetSnapshotByID(ctx context.Context, id string) (inventory.Snapshot, error)
	RecordMovement(ctx context.Context, input inventory.RecordInput) (inventory.Movement, error)
	FindMovementByReference(ctx context.Context, kind, id string) (inventory.Movement, error)
}

// LedgerPort resolves the latest ledger posting of a material.
type LedgerPort interface {
	LatestForMaterial(ctx context.Context, materialID string) (ledger.Entry, error)
}

// Service runs counts, corrections and settlements.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	ledger    LedgerPort
	audit     shared.AuditRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryPort, entries LedgerPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		inventory: inv,
		ledger:    entries,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// RecordCount stores a physical count against the current book quantity.
func (s *Service) RecordCount(ctx context.Context, input CountInput) (CountResult, error) {
	if err := input.Validate(); err != nil {
		return CountResult{}, err
	}
	snap, err := s.inventory.GetSnapshotByID(ctx, input.InventoryID)
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: load snapshot", err)
	}
	cump := snap.CUMP()
	count := CountResult{
		CommissionID:        input.CommissionID,
		InventoryID:         snap.ID,
		MaterialID:          snap.MaterialID,
		Kind:                input.Kind,
		CountDate:           input.CountDate,
		TheoreticalQuantity: snap.QuantityStock,
		PhysicalQuantity:    input.PhysicalQuantity,
		Variance:            input.PhysicalQuantity - snap.QuantityStock,
		UnitPriceSystem:     cump,
		ValueSystem:         cump.Mul(decimal.NewFromInt(snap.QuantityStock)),
		UnitPriceCounted:    cump,
		ValueCounted:        cump.Mul(decimal.NewFromInt(input.PhysicalQuantity)),
		Notes:               input.Notes,
		CorrectionStatus:    CorrectionPending,
		CreatedBy:           input.ActorID,
		CreatedAt:           s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		count, err = tx.InsertCount(ctx, count)
		return err
	})
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: record count", err)
	}
	s.record(ctx, input.ActorID, "count.recorded", "count_result", count.ID, map[string]any{
		"material_id": count.MaterialID,
		"variance":    count.Variance,
	})
	return count, nil
}

// ValidateCount approves a pending count.
func (s *Service) ValidateCount(ctx context.Context, id string, validatorID int64) (CountResult, error) {
	return s.decideCount(ctx, id, validatorID, shared.ApprovalApprove, "")
}

// RejectCount rejects a pending count.
func (s *Service) RejectCount(ctx context.Context, id string, validatorID int64, reason string) (CountResult, error) {
	return s.decideCount(ctx, id, validatorID, shared.ApprovalReject, reason)
}

func (s *Service) decideCount(ctx context.Context, id string, validatorID int64, action shared.ApprovalAction, reason string) (CountResult, error) {
	if err := shared.RequireDecider(validatorID); err != nil {
		return CountResult{}, err
	}
	var count CountResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetCountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := shared.Decide(string(current.CorrectionStatus), action, reason)
		if err != nil {
			return fmt.Errorf("reconciliation: count %s: %w", id, err)
		}
		at := s.now()
		current.CorrectionStatus = CorrectionStatus(next)
		current.ValidatorID = validatorID
		current.ValidatedAt = &at
		if action == shared.ApprovalReject {
			current.RejectionReason = reason
		}
		if err := tx.UpdateCount(ctx, current); err != nil {
			return err
		}
		count = current
		return nil
	})
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: decide count", err)
	}
	s.record(ctx, validatorID, "count."+string(count.CorrectionStatus), "count_result", count.ID, map[string]any{"reason": count.RejectionReason})
	return count, nil
}

// ApplyCorrection issues the movement that aligns stock with an approved count.
// A retry after a partial failure reuses the movement already issued.
func (s *Service) ApplyCorrection(ctx context.Context, id string, correctorID int64) (CountResult, error) {
	if err := shared.RequireDecider(correctorID); err != nil {
		return CountResult{}, err
	}
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: load count", err)
	}
	if count.CorrectionStatus != CorrectionApproved {
		return CountResult{}, fmt.Errorf("%w: count %s is %s", ErrAlreadyProcessed, id, count.CorrectionStatus)
	}
	if count.Variance == 0 {
		return CountResult{}, fmt.Errorf("%w: count %s", ErrNoVarianceToCorrect, id)
	}

	before, err := s.inventory.GetSnapshotByID(ctx, count.InventoryID)
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: load snapshot", err)
	}
	input := inventory.RecordInput{
		MaterialID:      count.MaterialID,
		Kind:            inventory.KindExit,
		Quantity:        -count.Variance,
		ReferenceKind:   ReferenceCountCorrection,
		ReferenceID:     count.ID,
		UniqueReference: true,
		Reason:          fmt.Sprintf("count correction %s", count.ID),
		ActorID:         correctorID,
	}
	if count.Variance > 0 {
		price := before.CUMP()
		if price.IsZero() {
			price = count.UnitPriceSystem
		}
		if !price.IsPositive() {
			return CountResult{}, fmt.Errorf("%w: no unit cost to value surplus of count %s", ErrInvalidInput, id)
		}
		input.Kind = inventory.KindEntry
		input.Quantity = count.Variance
		input.UnitPrice = &price
	}

	movement, err := s.inventory.RecordMovement(ctx, input)
	if errors.Is(err, inventory.ErrDuplicateReference) {
		s.logger.Info("count correction already issued", slog.String("count_id", id))
		movement, err = s.inventory.FindMovementByReference(ctx, ReferenceCountCorrection, count.ID)
	}
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: correction movement", err)
	}

	after, err := s.inventory.GetSnapshotByID(ctx, count.InventoryID)
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: reload snapshot", err)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetCountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.CorrectionStatus != CorrectionApproved {
			return fmt.Errorf("%w: count %s is %s", ErrAlreadyProcessed, id, current.CorrectionStatus)
		}
		at := s.now()
		cump := after.CUMP()
		current.CorrectionStatus = CorrectionCorrected
		current.CorrectedBy = correctorID
		current.CorrectedAt = &at
		current.CorrectionMovementID = movement.ID
		current.UnitPriceSystem = cump
		current.ValueSystem = cump.Mul(decimal.NewFromInt(after.QuantityStock))
		if err := tx.UpdateCount(ctx, current); err != nil {
			return err
		}
		count = current
		return nil
	})
	if err != nil {
		return CountResult{}, shared.Internal("reconciliation: mark corrected", err)
	}
	s.record(ctx, correctorID, "count.corrected", "count_result", count.ID, map[string]any{
		"movement_id": movement.ID,
		"variance":    count.Variance,
	})
	return count, nil
}

// GenerateSettlementsForYear creates one pending settlement per count dated in year.
func (s *Service) GenerateSettlementsForYear(ctx context.Context, year int, actorID int64) (GenerationReport, error) {
	if !shared.ValidYear(year) {
		return GenerationReport{}, fmt.Errorf("%w: year %d", ErrInvalidInput, year)
	}
	if actorID <= 0 {
		return GenerationReport{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	counts, err := s.repo.ListCounts(ctx, CountFilter{Year: year})
	if err != nil {
		return GenerationReport{}, shared.Internal("reconciliation: list counts", err)
	}

	ledgerIDs := make(map[string]string)
	for _, c := range counts {
		if _, ok := ledgerIDs[c.MaterialID]; ok {
			continue
		}
		entry, err := s.ledger.LatestForMaterial(ctx, c.MaterialID)
		switch {
		case err == nil:
			ledgerIDs[c.MaterialID] = entry.ID
		case errors.Is(err, shared.ErrNotFound):
			ledgerIDs[c.MaterialID] = ""
		default:
			return GenerationReport{}, shared.Internal("reconciliation: ledger lookup", err)
		}
	}

	report := GenerationReport{Year: year, Created: []Settlement{}, Skipped: []SkippedCount{}}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report.Created = report.Created[:0]
		report.Skipped = report.Skipped[:0]
		for _, c := range counts {
			if c.CorrectionStatus == CorrectionRejected {
				report.Skipped = append(report.Skipped, SkippedCount{CountResultID: c.ID, Reason: "count rejected"})
				continue
			}
			exists, err := tx.SettlementExists(ctx, year, c.ID)
			if err != nil {
				return err
			}
			if exists {
				report.Skipped = append(report.Skipped, SkippedCount{CountResultID: c.ID, Reason: "already exists"})
				continue
			}
			severity, pct := Classify(c.Variance, c.TheoreticalQuantity)
			settlement, err := tx.InsertSettlement(ctx, Settlement{
				Year:            year,
				CountResultID:   c.ID,
				MaterialID:      c.MaterialID,
				LedgerEntryID:   ledgerIDs[c.MaterialID],
				Status:          SettlementPending,
				Severity:        severity,
				VariancePercent: pct,
				CreatedBy:       actorID,
				CreatedAt:       s.now(),
			})
			if err != nil {
				return err
			}
			report.Created = append(report.Created, settlement)
		}
		return nil
	})
	if err != nil {
		return GenerationReport{}, shared.Internal("reconciliation: generate settlements", err)
	}
	s.logger.Info("settlements generated",
		slog.Int("year", year),
		slog.Int("created", len(report.Created)),
		slog.Int("skipped", len(report.Skipped)))
	for _, st := range report.Created {
		s.record(ctx, actorID, "settlement.created", "settlement", st.ID, map[string]any{"severity": string(st.Severity)})
	}
	return report, nil
}

// ValidateSettlement approves a pending settlement.
func (s *Service) ValidateSettlement(ctx context.Context, id string, validatorID int64) (Settlement, error) {
	return s.decideSettlement(ctx, id, validatorID, shared.ApprovalApprove, "")
}

// RejectSettlement rejects a pending settlement.
func (s *Service) RejectSettlement(ctx context.Context, id string, validatorID int64, reason string) (Settlement, error) {
	return s.decideSettlement(ctx, id, validatorID, shared.ApprovalReject, reason)
}

func (s *Service) decideSettlement(ctx context.Context, id string, validatorID int64, action shared.ApprovalAction, reason string) (Settlement, error) {
	if err := shared.RequireDecider(validatorID); err != nil {
		return Settlement{}, err
	}
	var settlement Settlement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := shared.Decide(string(current.Status), action, reason)
		if err != nil {
			return fmt.Errorf("reconciliation: settlement %s: %w", id, err)
		}
		at := s.now()
		current.Status = SettlementStatus(next)
		current.ValidatorID = validatorID
		current.DecidedAt = &at
		if action == shared.ApprovalReject {
			current.RejectionReason = reason
		}
		if err := tx.UpdateSettlement(ctx, current); err != nil {
			return err
		}
		settlement = current
		return nil
	})
	if err != nil {
		return Settlement{}, shared.Internal("reconciliation: decide settlement", err)
	}
	s.record(ctx, validatorID, "settlement."+string(settlement.Status), "settlement", settlement.ID, map[string]any{"reason": settlement.RejectionReason})
	return settlement, nil
}

// GetCount returns one count.
func (s *Service) GetCount(ctx context.Context, id string) (CountResult, error) {
	c, err := s.repo.GetCount(ctx, id)
	return c, shared.Internal("reconciliation: get count", err)
}

// ListCounts returns counts by year and status.
func (s *Service) ListCounts(ctx context.Context, filter CountFilter) ([]CountResult, error) {
	if filter.Year != 0 && !shared.ValidYear(filter.Year) {
		return nil, fmt.Errorf("%w: year %d", ErrInvalidInput, filter.Year)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	items, err := s.repo.ListCounts(ctx, filter)
	return items, shared.Internal("reconciliation: list counts", err)
}

// GetSettlement returns one settlement.
func (s *Service) GetSettlement(ctx context.Context, id string) (Settlement, error) {
	st, err := s.repo.GetSettlement(ctx, id)
	return st, shared.Internal("reconciliation: get settlement", err)
}

// ListSettlements returns the settlements of a year.
func (s *Service) ListSettlements(ctx context.Context, year, limit int) ([]Settlement, error) {
	if year != 0 && !shared.ValidYear(year) {
		return nil, fmt.Errorf("%w: year %d", ErrInvalidInput, year)
	}
	items, err := s.repo.ListSettlements(ctx, year, shared.ClampLimit(limit))
	return items, shared.Internal("reconciliation: list settlements", err)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity, id string, meta map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
		At:       s.now(),
	})
}
