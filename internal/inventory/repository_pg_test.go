package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/db/dbtest"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newPGService(t *testing.T) *inventory.Service {
	t.Helper()
	pool := dbtest.Open(t)
	dbtest.Seed(t, pool, "CAT-AV", map[string]string{"PRJ-01": "DURABLE", "CBL-01": "CONSUMABLE"})
	return inventory.NewService(inventory.NewRepository(pool), catalog.NewRepository(pool), nil, nil, nil)
}

// exitConcurrently fires n single-unit exits and counts successes and shortages.
func exitConcurrently(t *testing.T, svc *inventory.Service, material string, n int, qty int64) (int64, int64) {
	t.Helper()
	var wg sync.WaitGroup
	var ok, short atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordMovement(context.Background(), inventory.RecordInput{MaterialID: material, Kind: inventory.KindExit, Quantity: qty, ActorID: 7})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	return ok.Load(), short.Load()
}

func TestConcurrentDurableExitsOnPostgres(t *testing.T) {
	svc := newPGService(t)
	ctx := context.Background()
	unit := decimal.NewFromInt(100)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordMovement(ctx, inventory.RecordInput{MaterialID: "PRJ-01", Kind: inventory.KindEntry, Quantity: 1, UnitPrice: &unit, ActorID: 7})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	ok, short := exitConcurrently(t, svc, "PRJ-01", 25, 1)
	require.Equal(t, int64(10), ok)
	require.Equal(t, int64(15), short)

	snap, err := svc.GetSnapshot(ctx, "PRJ-01")
	require.NoError(t, err)
	require.Zero(t, snap.QuantityStock)
	require.True(t, snap.StockValue.IsZero())
}

func TestConcurrentConsumableExitsOnPostgres(t *testing.T) {
	svc := newPGService(t)
	ctx := context.Background()
	unit := decimal.NewFromInt(2)
	_, err := svc.RecordMovement(ctx, inventory.RecordInput{MaterialID: "CBL-01", Kind: inventory.KindEntry, Quantity: 5, UnitPrice: &unit, ActorID: 7})
	require.NoError(t, err)

	ok, short := exitConcurrently(t, svc, "CBL-01", 2, 5)
	require.Equal(t, int64(1), ok)
	require.Equal(t, int64(1), short)

	movements, err := svc.ListMovements(ctx, inventory.MovementFilter{MaterialID: "CBL-01"})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, mv := range movements {
		require.GreaterOrEqual(t, mv.StockAfter, int64(0))
	}
}
