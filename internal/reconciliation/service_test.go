package reconciliation

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	counts      map[string]CountResult
	settlements map[string]Settlement
	seq         map[string]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{counts: map[string]CountResult{}, settlements: map[string]Settlement{}, seq: map[string]int64{}}
}

type memoryTx struct {
	counts      map[string]CountResult
	settlements map[string]Settlement
	seq         map[string]int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{counts: map[string]CountResult{}, settlements: map[string]Settlement{}, seq: map[string]int64{}}
	for k, v := range r.counts {
		tx.counts[k] = v
	}
	for k, v := range r.settlements {
		tx.settlements[k] = v
	}
	for k, v := range r.seq {
		tx.seq[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.counts, r.settlements, r.seq = tx.counts, tx.settlements, tx.seq
	return nil
}

func (t *memoryTx) InsertCount(_ context.Context, c CountResult) (CountResult, error) {
	t.seq[shared.PrefixCount]++
	c.ID = shared.FormatID(shared.PrefixCount, t.seq[shared.PrefixCount])
	t.counts[c.ID] = c
	return c, nil
}

func (t *memoryTx) GetCountForUpdate(_ context.Context, id string) (CountResult, error) {
	c, ok := t.counts[id]
	if !ok {
		return CountResult{}, ErrCountNotFound
	}
	return c, nil
}

func (t *memoryTx) UpdateCount(_ context.Context, c CountResult) error {
	t.counts[c.ID] = c
	return nil
}

func (t *memoryTx) SettlementExists(_ context.Context, year int, countID string) (bool, error) {
	for _, s := range t.settlements {
		if s.Year == year && s.CountResultID == countID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertSettlement(_ context.Context, s Settlement) (Settlement, error) {
	t.seq[shared.PrefixSettlement]++
	s.ID = shared.FormatID(shared.PrefixSettlement, t.seq[shared.PrefixSettlement])
	t.settlements[s.ID] = s
	return s, nil
}

func (t *memoryTx) GetSettlementForUpdate(_ context.Context, id string) (Settlement, error) {
	s, ok := t.settlements[id]
	if !ok {
		return Settlement{}, ErrSettlementNotFound
	}
	return s, nil
}

func (t *memoryTx) UpdateSettlement(_ context.Context, s Settlement) error {
	t.settlements[s.ID] = s
	return nil
}

func (r *memoryRepo) GetCount(_ context.Context, id string) (CountResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok {
		return CountResult{}, ErrCountNotFound
	}
	return c, nil
}

func (r *memoryRepo) ListCounts(_ context.Context, filter CountFilter) ([]CountResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CountResult
	for _, c := range r.counts {
		if filter.Year != 0 && c.CountDate.Year() != filter.Year {
			continue
		}
		if filter.Status != "" && c.CorrectionStatus != filter.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) GetSettlement(_ context.Context, id string) (Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settlements[id]
	if !ok {
		return Settlement{}, ErrSettlementNotFound
	}
	return s, nil
}

func (r *memoryRepo) ListSettlements(_ context.Context, year, limit int) ([]Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Settlement
	for _, s := range r.settlements {
		if year == 0 || s.Year == year {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubLedger map[string]ledger.Entry

func (s stubLedger) LatestForMaterial(_ context.Context, materialID string) (ledger.Entry, error) {
	e, ok := s[materialID]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

type fixture struct {
	inv  *inventory.Service
	repo *memoryRepo
	svc  *Service
}

var countDay = time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	materials := inventorytest.Catalog{
		"PRJ-01": inventorytest.Durable("PRJ-01", "CAT-AV"),
		"LAB-01": inventorytest.Durable("LAB-01", "CAT-LAB"),
	}
	inv := inventory.NewService(inventorytest.NewMemoryRepo(), materials, nil, nil, nil)
	repo := newMemoryRepo()
	entries := stubLedger{"PRJ-01": ledger.Entry{ID: "GL-000007", MaterialID: "PRJ-01"}}
	return &fixture{inv: inv, repo: repo, svc: NewService(repo, inv, entries, nil, nil)}
}

func (f *fixture) move(t *testing.T, material string, kind inventory.MovementKind, qty int64, unit string) {
	t.Helper()
	in := inventory.RecordInput{MaterialID: material, Kind: kind, Quantity: qty, ActorID: 1}
	if unit != "" {
		p := decimal.RequireFromString(unit)
		in.UnitPrice = &p
	}
	_, err := f.inv.RecordMovement(context.Background(), in)
	require.NoError(t, err)
}

// stocked prepares a snapshot of six units valued 600.
func (f *fixture) stocked(t *testing.T, material string) inventory.Snapshot {
	t.Helper()
	f.move(t, material, inventory.KindEntry, 10, "100")
	f.move(t, material, inventory.KindExit, 4, "")
	snap, err := f.inv.GetSnapshot(context.Background(), material)
	require.NoError(t, err)
	return snap
}

func (f *fixture) count(t *testing.T, inventoryID string, physical int64, date time.Time) CountResult {
	t.Helper()
	c, err := f.svc.RecordCount(context.Background(), CountInput{
		CommissionID: "COM-2024", InventoryID: inventoryID, PhysicalQuantity: physical,
		Kind: CountAnnual, CountDate: date, ActorID: 3,
	})
	require.NoError(t, err)
	return c
}

func TestShortageCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")

	c := f.count(t, snap.ID, 5, countDay)
	require.Equal(t, int64(6), c.TheoreticalQuantity)
	require.Equal(t, int64(-1), c.Variance)
	require.True(t, decimal.NewFromInt(600).Equal(c.ValueSystem))
	require.True(t, decimal.NewFromInt(500).Equal(c.ValueCounted))
	require.Equal(t, CorrectionPending, c.CorrectionStatus)

	_, err := f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	_, err = f.svc.ValidateCount(ctx, c.ID, 4)
	require.NoError(t, err)
	corrected, err := f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.NoError(t, err)
	require.Equal(t, CorrectionCorrected, corrected.CorrectionStatus)
	require.Equal(t, int64(4), corrected.CorrectedBy)
	require.True(t, decimal.NewFromInt(100).Equal(corrected.UnitPriceSystem))
	require.True(t, decimal.NewFromInt(500).Equal(corrected.ValueSystem))

	after, err := f.inv.GetSnapshot(ctx, "PRJ-01")
	require.NoError(t, err)
	require.Equal(t, int64(5), after.QuantityStock)
	require.True(t, decimal.NewFromInt(500).Equal(after.StockValue))

	mv, err := f.inv.GetMovement(ctx, corrected.CorrectionMovementID)
	require.NoError(t, err)
	require.Equal(t, inventory.KindExit, mv.Kind)
	require.Equal(t, int64(1), mv.Quantity)
	require.Equal(t, ReferenceCountCorrection, mv.ReferenceKind)
	require.Equal(t, c.ID, mv.ReferenceID)

	_, err = f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)
}

func TestSurplusCorrectionUsesCurrentCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")
	c := f.count(t, snap.ID, 8, countDay)
	_, err := f.svc.ValidateCount(ctx, c.ID, 4)
	require.NoError(t, err)

	corrected, err := f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.NoError(t, err)
	mv, err := f.inv.GetMovement(ctx, corrected.CorrectionMovementID)
	require.NoError(t, err)
	require.Equal(t, inventory.KindEntry, mv.Kind)
	require.True(t, decimal.NewFromInt(100).Equal(mv.UnitPrice))

	after, err := f.inv.GetSnapshot(ctx, "PRJ-01")
	require.NoError(t, err)
	require.Equal(t, int64(8), after.QuantityStock)
	require.True(t, decimal.NewFromInt(800).Equal(after.StockValue))
}

func TestSurplusCorrectionFallsBackToCountedCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")
	c := f.count(t, snap.ID, 8, countDay)
	_, err := f.svc.ValidateCount(ctx, c.ID, 4)
	require.NoError(t, err)
	f.move(t, "PRJ-01", inventory.KindExit, 6, "")

	corrected, err := f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.NoError(t, err)
	mv, err := f.inv.GetMovement(ctx, corrected.CorrectionMovementID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(mv.UnitPrice))
	require.Equal(t, int64(2), mv.Quantity)
}

func TestSurplusCorrectionWithoutAnyCostFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.move(t, "LAB-01", inventory.KindEntry, 1, "40")
	f.move(t, "LAB-01", inventory.KindExit, 1, "")
	snap, err := f.inv.GetSnapshot(ctx, "LAB-01")
	require.NoError(t, err)

	c := f.count(t, snap.ID, 2, countDay)
	require.True(t, c.UnitPriceSystem.IsZero())
	_, err = f.svc.ValidateCount(ctx, c.ID, 4)
	require.NoError(t, err)

	_, err = f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	got, err := f.svc.GetCount(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, CorrectionApproved, got.CorrectionStatus)
}

func TestCorrectionRetryReusesIssuedMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")
	c := f.count(t, snap.ID, 4, countDay)
	_, err := f.svc.ValidateCount(ctx, c.ID, 4)
	require.NoError(t, err)

	issued, err := f.inv.RecordMovement(ctx, inventory.RecordInput{
		MaterialID: "PRJ-01", Kind: inventory.KindExit, Quantity: 2, ActorID: 4,
		ReferenceKind: ReferenceCountCorrection, ReferenceID: c.ID, UniqueReference: true,
	})
	require.NoError(t, err)

	corrected, err := f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.NoError(t, err)
	require.Equal(t, issued.ID, corrected.CorrectionMovementID)

	after, err := f.inv.GetSnapshot(ctx, "PRJ-01")
	require.NoError(t, err)
	require.Equal(t, int64(4), after.QuantityStock)
}

func TestZeroVarianceCannotBeCorrected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")
	c := f.count(t, snap.ID, 6, countDay)
	_, err := f.svc.ValidateCount(ctx, c.ID, 4)
	require.NoError(t, err)

	_, err = f.svc.ApplyCorrection(ctx, c.ID, 4)
	require.ErrorIs(t, err, shared.ErrNoVarianceToCorrect)
}

func TestCountTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")
	c := f.count(t, snap.ID, 6, countDay)

	_, err := f.svc.RejectCount(ctx, c.ID, 4, "")
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	rejected, err := f.svc.RejectCount(ctx, c.ID, 4, "recount needed")
	require.NoError(t, err)
	require.Equal(t, CorrectionRejected, rejected.CorrectionStatus)
	require.Equal(t, "recount needed", rejected.RejectionReason)

	_, err = f.svc.ValidateCount(ctx, c.ID, 4)
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)
	_, err = f.svc.ValidateCount(ctx, "CNT-999999", 4)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordCountValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := f.stocked(t, "PRJ-01")

	_, err := f.svc.RecordCount(ctx, CountInput{CommissionID: "C", InventoryID: snap.ID, PhysicalQuantity: -1, Kind: CountSpot, CountDate: countDay, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = f.svc.RecordCount(ctx, CountInput{CommissionID: "C", InventoryID: snap.ID, Kind: "WEEKLY", CountDate: countDay, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = f.svc.RecordCount(ctx, CountInput{CommissionID: "C", InventoryID: "INV-000404", Kind: CountSpot, CountDate: countDay, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGenerateSettlementsForYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prj := f.stocked(t, "PRJ-01")
	lab := f.stocked(t, "LAB-01")

	ok := f.count(t, prj.ID, 6, countDay)
	critical := f.count(t, lab.ID, 5, countDay)
	rejected := f.count(t, lab.ID, 6, countDay)
	f.count(t, prj.ID, 6, countDay.AddDate(-1, 0, 0))
	_, err := f.svc.RejectCount(ctx, rejected.ID, 4, "duplicate sheet")
	require.NoError(t, err)

	report, err := f.svc.GenerateSettlementsForYear(ctx, 2024, 9)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, rejected.ID, report.Skipped[0].CountResultID)

	byCount := map[string]Settlement{}
	for _, s := range report.Created {
		byCount[s.CountResultID] = s
		require.Equal(t, SettlementPending, s.Status)
	}
	require.Equal(t, SeverityOK, byCount[ok.ID].Severity)
	require.Equal(t, "GL-000007", byCount[ok.ID].LedgerEntryID)
	require.Equal(t, SeverityCritical, byCount[critical.ID].Severity)
	require.Equal(t, "16.67", byCount[critical.ID].VariancePercent.String())
	require.Empty(t, byCount[critical.ID].LedgerEntryID)

	again, err := f.svc.GenerateSettlementsForYear(ctx, 2024, 9)
	require.NoError(t, err)
	require.Empty(t, again.Created)
	require.Len(t, again.Skipped, 3)
	reasons := map[string]string{}
	for _, s := range again.Skipped {
		reasons[s.CountResultID] = s.Reason
	}
	require.Equal(t, "already exists", reasons[ok.ID])
	require.Equal(t, "already exists", reasons[critical.ID])

	listed, err := f.svc.ListSettlements(ctx, 2024, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	_, err = f.svc.GenerateSettlementsForYear(ctx, 12, 9)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestSettlementTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prj := f.stocked(t, "PRJ-01")
	f.count(t, prj.ID, 6, countDay)
	f.count(t, prj.ID, 7, countDay)
	report, err := f.svc.GenerateSettlementsForYear(ctx, 2024, 9)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)

	approved, err := f.svc.ValidateSettlement(ctx, report.Created[0].ID, 4)
	require.NoError(t, err)
	require.Equal(t, SettlementApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)

	_, err = f.svc.RejectSettlement(ctx, report.Created[0].ID, 4, "late")
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	_, err = f.svc.RejectSettlement(ctx, report.Created[1].ID, 4, " ")
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	rejected, err := f.svc.RejectSettlement(ctx, report.Created[1].ID, 4, "variance explained")
	require.NoError(t, err)
	require.Equal(t, SettlementRejected, rejected.Status)

	got, err := f.svc.GetSettlement(ctx, rejected.ID)
	require.NoError(t, err)
	require.Equal(t, "variance explained", got.RejectionReason)
}
