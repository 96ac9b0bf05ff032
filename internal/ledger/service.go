package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts ledger persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByValidation(ctx context.Context, validationID string) (Entry, error)
	LatestForCategory(ctx context.Context, categoryID string) (Entry, error)
	LatestForMaterial(ctx context.Context, materialID string) (Entry, error)
	History(ctx context.Context, categoryID string, from, to time.Time, limit int) ([]Entry, error)
	Entries(ctx context.Context, from, to time.Time, limit int) ([]Entry, error)
	Chain(ctx context.Context, categoryID string) ([]Entry, error)
	Totals(ctx context.Context) (Totals, error)
	CategoryBalances(ctx context.Context) ([]Balance, error)
	Categories(ctx context.Context) ([]string, error)
}

// SourceReader returns the posting data of a validation.
type SourceReader interface {
	GetApprovedSource(ctx context.Context, validationID string) (inventory.ApprovedSource, error)
}

// MaterialLookup resolves the category of a material.
type MaterialLookup interface {
	GetMaterial(ctx context.Context, id string) (catalog.Material, error)
}

// PostingObserver receives posting counters.
type PostingObserver interface {
	ObserveLedgerPosting(outcome string)
}

// Service posts approved movements and answers balance queries.
type Service struct {
	repo      RepositoryPort
	sources   SourceReader
	materials MaterialLookup
	cache     *Cache
	audit     shared.AuditRecorder
	metrics   PostingObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. A nil cache disables statistics caching.
func NewService(repo RepositoryPort, sources SourceReader, materials MaterialLookup, cache *Cache, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		sources:   sources,
		materials: materials,
		cache:     cache,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches a posting observer.
func (s *Service) WithMetrics(m PostingObserver) *Service {
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

// PostFromValidation posts an approved validation once. Repeated calls return the existing entry.
func (s *Service) PostFromValidation(ctx context.Context, validationID, observation string) (Entry, error) {
	existing, err := s.repo.GetByValidation(ctx, validationID)
	if err == nil {
		s.observe("existing")
		return existing, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return Entry{}, shared.Internal("ledger: lookup posting", err)
	}

	src, err := s.sources.GetApprovedSource(ctx, validationID)
	if err != nil {
		return Entry{}, shared.Internal("ledger: read source", err)
	}
	if src.Status != inventory.ValidationApproved {
		return Entry{}, fmt.Errorf("%w: %s is %s", ErrSourceNotApproved, validationID, src.Status)
	}
	material, err := s.materials.GetMaterial(ctx, src.MaterialID)
	if err != nil {
		return Entry{}, shared.Internal("ledger: resolve material", err)
	}
	if observation == "" {
		observation = src.Reason
	}

	var (
		entry   Entry
		created bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockCategory(ctx, material.CategoryID); err != nil {
			return err
		}
		if found, err := tx.GetByValidation(ctx, validationID); err == nil {
			entry = found
			return nil
		} else if !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		prev, err := tx.LatestForCategory(ctx, material.CategoryID)
		if err != nil && !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		next := chainEntry(prev, src, material.CategoryID, observation, s.now())
		if entry, err = tx.Insert(ctx, next); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, ErrDuplicatePosting) {
		s.observe("existing")
		entry, err = s.repo.GetByValidation(ctx, validationID)
		return entry, shared.Internal("ledger: reload posting", err)
	}
	if err != nil {
		s.observe("failed")
		return Entry{}, shared.Internal("ledger: post", err)
	}
	if !created {
		s.observe("existing")
		return entry, nil
	}

	s.observe("posted")
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("ledger cache bump", slog.Any("error", err))
	}
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   "ledger.posted",
		Entity:   "ledger_entry",
		EntityID: entry.ID,
		Meta:     map[string]any{"validation_id": validationID, "category_id": entry.CategoryID},
		At:       s.now(),
	})
	s.logger.Info("ledger entry posted",
		slog.String("entry_id", entry.ID),
		slog.String("validation_id", validationID),
		slog.String("category_id", entry.CategoryID))
	return entry, nil
}

// chainEntry derives the next entry of a category chain from its predecessor.
func chainEntry(prev Entry, src inventory.ApprovedSource, categoryID, observation string, postedAt time.Time) Entry {
	entry := Entry{
		ValidationID: src.ValidationID,
		MovementID:   src.MovementID,
		MaterialID:   src.MaterialID,
		CategoryID:   categoryID,
		ValueIn:      decimal.Zero,
		ValueOut:     decimal.Zero,
		Observation:  observation,
		PostedAt:     postedAt,
	}
	switch src.MovementKind {
	case inventory.KindEntry:
		entry.QuantityIn = src.Quantity
		entry.ValueIn = src.TotalValue
	case inventory.KindExit:
		entry.QuantityOut = src.Quantity
		entry.ValueOut = src.TotalValue
	}
	entry.QuantityBalance = prev.QuantityBalance + entry.QuantityIn - entry.QuantityOut
	entry.ValueBalance = prev.ValueBalance.Add(entry.ValueIn).Sub(entry.ValueOut)
	return entry
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerPosting(outcome)
	}
}

// History returns the entries of a category in posting order.
func (s *Service) History(ctx context.Context, categoryID string, from, to time.Time, limit int) ([]Entry, error) {
	if err := checkPeriod(from, to); err != nil {
		return nil, err
	}
	items, err := s.repo.History(ctx, categoryID, from, to, shared.ClampLimit(limit))
	return items, shared.Internal("ledger: history", err)
}

// Balance returns the latest balance of a category, zero when nothing was posted.
func (s *Service) Balance(ctx context.Context, categoryID string) (Balance, error) {
	latest, err := s.repo.LatestForCategory(ctx, categoryID)
	if errors.Is(err, ErrEntryNotFound) {
		return Balance{CategoryID: categoryID, ValueBalance: decimal.Zero}, nil
	}
	if err != nil {
		return Balance{}, shared.Internal("ledger: balance", err)
	}
	return Balance{
		CategoryID:      categoryID,
		QuantityBalance: latest.QuantityBalance,
		ValueBalance:    latest.ValueBalance,
		LastEntryID:     latest.ID,
	}, nil
}

// LatestForMaterial returns the most recent entry posted for a material.
func (s *Service) LatestForMaterial(ctx context.Context, materialID string) (Entry, error) {
	entry, err := s.repo.LatestForMaterial(ctx, materialID)
	return entry, shared.Internal("ledger: latest for material", err)
}

// Entries returns entries posted within a period.
func (s *Service) Entries(ctx context.Context, from, to time.Time, limit int) ([]Entry, error) {
	if err := checkPeriod(from, to); err != nil {
		return nil, err
	}
	items, err := s.repo.Entries(ctx, from, to, shared.ClampLimit(limit))
	return items, shared.Internal("ledger: entries", err)
}

// Categories lists every category with at least one posting.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	ids, err := s.repo.Categories(ctx)
	return ids, shared.Internal("ledger: categories", err)
}

// Statistics returns cached ledger totals and balances.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	key, err := s.cache.BuildKey(ctx, "ledger", "stats")
	if err != nil {
		s.logger.Warn("ledger stats cache key", slog.Any("error", err))
		return s.computeStatistics(ctx)
	}
	var stats Statistics
	err = s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
		return s.computeStatistics(ctx)
	})
	if err != nil {
		return Statistics{}, shared.Internal("ledger: statistics", err)
	}
	return stats, nil
}

func (s *Service) computeStatistics(ctx context.Context) (Statistics, error) {
	var (
		totals   Totals
		balances []Balance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.repo.Totals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		balances, err = s.repo.CategoryBalances(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Statistics{}, shared.Internal("ledger: compute statistics", err)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].CategoryID < balances[j].CategoryID })
	stats := Statistics{Totals: totals, GlobalValueBalance: decimal.Zero, Categories: balances}
	for _, b := range balances {
		stats.GlobalQuantityBalance += b.QuantityBalance
		stats.GlobalValueBalance = stats.GlobalValueBalance.Add(b.ValueBalance)
	}
	return stats, nil
}

// VerifyChain replays a category and returns the first entry that breaks the running balance.
func (s *Service) VerifyChain(ctx context.Context, categoryID string) (*ChainBreak, error) {
	entries, err := s.repo.Chain(ctx, categoryID)
	if err != nil {
		return nil, shared.Internal("ledger: chain", err)
	}
	var (
		qty   int64
		value = decimal.Zero
	)
	for _, e := range entries {
		qty += e.QuantityIn - e.QuantityOut
		value = value.Add(e.ValueIn).Sub(e.ValueOut)
		if qty != e.QuantityBalance || !value.Equal(e.ValueBalance) {
			return &ChainBreak{
				CategoryID:       categoryID,
				EntryID:          e.ID,
				ExpectedQuantity: qty,
				ActualQuantity:   e.QuantityBalance,
				ExpectedValue:    value,
				ActualValue:      e.ValueBalance,
			}, nil
		}
	}
	return nil, nil
}

func checkPeriod(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: period end before start", ErrInvalidInput)
	}
	return nil
}
