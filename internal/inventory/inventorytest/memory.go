// Package inventorytest provides in-memory fakes for the inventory ports.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type state struct {
	snapshots   map[string]inventory.Snapshot
	movements   []inventory.Movement
	validations map[string]inventory.ValidationEntry
	seq         map[string]int64
}

func (s *state) clone() *state {
	out := &state{
		snapshots:   make(map[string]inventory.Snapshot, len(s.snapshots)),
		movements:   append([]inventory.Movement(nil), s.movements...),
		validations: make(map[string]inventory.ValidationEntry, len(s.validations)),
		seq:         make(map[string]int64, len(s.seq)),
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = v
	}
	for k, v := range s.validations {
		out.validations[k] = v
	}
	for k, v := range s.seq {
		out.seq[k] = v
	}
	return out
}

// MemoryRepo implements inventory.RepositoryPort. Transactions are serialised
// and work on a copy that is discarded when the callback fails.
type MemoryRepo struct {
	mu    sync.Mutex
	state *state
	// FailInsertMovement makes the next InsertMovement fail.
	FailInsertMovement error
}

// NewMemoryRepo returns an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{state: &state{
		snapshots:   map[string]inventory.Snapshot{},
		validations: map[string]inventory.ValidationEntry{},
		seq:         map[string]int64{},
	}}
}

// WithTx runs fn against a copy of the state and commits it on success.
func (r *MemoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = work
	return nil
}

type memoryTx struct {
	repo  *MemoryRepo
	state *state
}

func (t *memoryTx) next(prefix string) string {
	t.state.seq[prefix]++
	return shared.FormatID(prefix, t.state.seq[prefix])
}

func (t *memoryTx) LockMaterial(ctx context.Context, materialID string) error {
	return ctx.Err()
}

func (t *memoryTx) GetSnapshotForUpdate(_ context.Context, materialID string) (inventory.Snapshot, error) {
	snap, ok := t.state.snapshots[materialID]
	if !ok {
		return inventory.Snapshot{}, inventory.ErrSnapshotNotFound
	}
	return snap, nil
}

func (t *memoryTx) InsertSnapshot(_ context.Context, snap inventory.Snapshot) (inventory.Snapshot, error) {
	if _, ok := t.state.snapshots[snap.MaterialID]; ok {
		return inventory.Snapshot{}, fmt.Errorf("snapshot for %s exists", snap.MaterialID)
	}
	snap.ID = t.next(shared.PrefixSnapshot)
	t.state.snapshots[snap.MaterialID] = snap
	return snap, nil
}

func (t *memoryTx) UpdateSnapshot(_ context.Context, snap inventory.Snapshot) error {
	if _, ok := t.state.snapshots[snap.MaterialID]; !ok {
		return inventory.ErrSnapshotNotFound
	}
	t.state.snapshots[snap.MaterialID] = snap
	return nil
}

func (t *memoryTx) LastStockAfter(_ context.Context, materialID string) (int64, error) {
	for i := len(t.state.movements) - 1; i >= 0; i-- {
		if t.state.movements[i].MaterialID == materialID {
			return t.state.movements[i].StockAfter, nil
		}
	}
	return 0, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, mv inventory.Movement) (inventory.Movement, error) {
	if err := t.repo.FailInsertMovement; err != nil {
		t.repo.FailInsertMovement = nil
		return inventory.Movement{}, err
	}
	if mv.UniqueReference {
		for _, existing := range t.state.movements {
			if existing.UniqueReference && existing.ReferenceKind == mv.ReferenceKind && existing.ReferenceID == mv.ReferenceID {
				return inventory.Movement{}, fmt.Errorf("%w: %s/%s", inventory.ErrDuplicateReference, mv.ReferenceKind, mv.ReferenceID)
			}
		}
	}
	mv.ID = t.next(shared.PrefixMovement)
	t.state.movements = append(t.state.movements, mv)
	return mv, nil
}

func (t *memoryTx) InsertValidation(_ context.Context, v inventory.ValidationEntry) (inventory.ValidationEntry, error) {
	v.ID = t.next(shared.PrefixValidation)
	t.state.validations[v.ID] = v
	return v, nil
}

func (t *memoryTx) GetValidationForUpdate(_ context.Context, id string) (inventory.ValidationEntry, error) {
	v, ok := t.state.validations[id]
	if !ok {
		return inventory.ValidationEntry{}, inventory.ErrValidationNotFound
	}
	return v, nil
}

func (t *memoryTx) UpdateValidation(_ context.Context, v inventory.ValidationEntry) error {
	if _, ok := t.state.validations[v.ID]; !ok {
		return inventory.ErrValidationNotFound
	}
	t.state.validations[v.ID] = v
	return nil
}

// GetSnapshot returns the committed snapshot of a material.
func (r *MemoryRepo) GetSnapshot(_ context.Context, materialID string) (inventory.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.state.snapshots[materialID]
	if !ok {
		return inventory.Snapshot{}, inventory.ErrSnapshotNotFound
	}
	return snap, nil
}

// GetSnapshotByID returns a committed snapshot by id.
func (r *MemoryRepo) GetSnapshotByID(_ context.Context, id string) (inventory.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range r.state.snapshots {
		if snap.ID == id {
			return snap, nil
		}
	}
	return inventory.Snapshot{}, inventory.ErrSnapshotNotFound
}

// ListLowStock returns snapshots at or below threshold.
func (r *MemoryRepo) ListLowStock(_ context.Context, limit int) ([]inventory.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Snapshot
	for _, snap := range r.state.snapshots {
		if snap.BelowThreshold() {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetMovement returns one movement.
func (r *MemoryRepo) GetMovement(_ context.Context, id string) (inventory.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mv := range r.state.movements {
		if mv.ID == id {
			return mv, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound
}

// ListMovements filters movements in recording order.
func (r *MemoryRepo) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Movement
	for _, mv := range r.state.movements {
		if filter.MaterialID != "" && mv.MaterialID != filter.MaterialID {
			continue
		}
		if filter.Kind != "" && mv.Kind != filter.Kind {
			continue
		}
		if !filter.From.IsZero() && mv.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && mv.OccurredAt.After(filter.To) {
			continue
		}
		out = append(out, mv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// FindMovementByReference returns the first movement carrying a reference.
func (r *MemoryRepo) FindMovementByReference(_ context.Context, kind, id string) (inventory.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mv := range r.state.movements {
		if mv.ReferenceKind == kind && mv.ReferenceID == id {
			return mv, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound
}

// GetValidation returns one validation.
func (r *MemoryRepo) GetValidation(_ context.Context, id string) (inventory.ValidationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state.validations[id]
	if !ok {
		return inventory.ValidationEntry{}, inventory.ErrValidationNotFound
	}
	return v, nil
}

// ListValidations returns validations newest first.
func (r *MemoryRepo) ListValidations(_ context.Context, status inventory.ValidationStatus, limit int) ([]inventory.ValidationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.ValidationEntry
	for _, v := range r.state.validations {
		if status == "" || v.Status == status {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetApprovedSource joins a validation with its movement.
func (r *MemoryRepo) GetApprovedSource(_ context.Context, validationID string) (inventory.ApprovedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state.validations[validationID]
	if !ok {
		return inventory.ApprovedSource{}, inventory.ErrValidationNotFound
	}
	for _, mv := range r.state.movements {
		if mv.ID == v.MovementID {
			return inventory.ApprovedSource{
				ValidationID: v.ID,
				Status:       v.Status,
				MovementID:   mv.ID,
				MovementKind: mv.Kind,
				Quantity:     mv.Quantity,
				TotalValue:   mv.TotalValue,
				MaterialID:   mv.MaterialID,
				Reason:       mv.Reason,
				DecidedAt:    v.DecidedAt,
			}, nil
		}
	}
	return inventory.ApprovedSource{}, inventory.ErrMovementNotFound
}

// Movements returns a copy of every committed movement.
func (r *MemoryRepo) Movements() []inventory.Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]inventory.Movement(nil), r.state.movements...)
}

// Catalog is a static material lookup.
type Catalog map[string]catalog.Material

// GetMaterial resolves a material or reports it missing.
func (c Catalog) GetMaterial(_ context.Context, id string) (catalog.Material, error) {
	m, ok := c[id]
	if !ok {
		return catalog.Material{}, fmt.Errorf("%w: %s", catalog.ErrMaterialNotFound, id)
	}
	return m, nil
}

// Durable builds a durable material.
func Durable(id, categoryID string) catalog.Material {
	return catalog.Material{ID: id, Name: id, Kind: catalog.KindDurable, CategoryID: categoryID, CategoryName: categoryID}
}

// Consumable builds a consumable material.
func Consumable(id, categoryID string) catalog.Material {
	return catalog.Material{ID: id, Name: id, Kind: catalog.KindConsumable, CategoryID: categoryID, CategoryName: categoryID}
}

// AuditSink collects audit logs.
type AuditSink struct {
	mu   sync.Mutex
	Logs []shared.AuditLog
}

// Record appends the log.
func (a *AuditSink) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Logs = append(a.Logs, log)
	return nil
}
