package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-wms/meridian/internal/shared"
)

type fakeStockRepo struct {
	mu       sync.Mutex
	balances map[BalanceKey]Balance
	ledger   []LedgerEntry
	refs     map[string]bool
	nextID   int64
}

func newFakeStockRepo() *fakeStockRepo {
	return &fakeStockRepo{
		balances: map[BalanceKey]Balance{},
		refs:     map[string]bool{},
	}
}

func (f *fakeStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, f)
}

func (f *fakeStockRepo) GetBalanceForUpdate(_ context.Context, key BalanceKey) (Balance, error) {
	b, ok := f.balances[key]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (f *fakeStockRepo) UpsertBalance(_ context.Context, balance Balance) error {
	f.balances[balance.Key()] = balance
	return nil
}

func (f *fakeStockRepo) InsertLedgerEntry(_ context.Context, entry LedgerEntry) (int64, error) {
	if f.refs[entry.Reference] {
		return 0, shared.ErrDuplicateReference
	}
	f.refs[entry.Reference] = true
	f.nextID++
	entry.ID = f.nextID
	f.ledger = append(f.ledger, entry)
	return entry.ID, nil
}

func (f *fakeStockRepo) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.GetBalanceForUpdate(ctx, key)
}

func (f *fakeStockRepo) ListBalances(_ context.Context, filter BalanceFilter) ([]Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Balance
	for _, b := range f.balances {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && b.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStockRepo) ProductSummary(_ context.Context, productID, warehouseID int64) (Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := Summary{ProductID: productID, WarehouseID: warehouseID}
	for _, b := range f.balances {
		if b.ProductID != productID {
			continue
		}
		if warehouseID != 0 && b.WarehouseID != warehouseID {
			continue
		}
		sum.TotalQuantity = sum.TotalQuantity.Add(b.Quantity)
		sum.TotalReserved = sum.TotalReserved.Add(b.Reserved)
	}
	sum.TotalAvailable = sum.TotalQuantity.Sub(sum.TotalReserved)
	return sum, nil
}

func (f *fakeStockRepo) History(_ context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []LedgerEntry
	for i := len(f.ledger) - 1; i >= 0; i-- {
		entry := f.ledger[i]
		if filter.ProductID != 0 && entry.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStockRepo) ListLowStock(context.Context, int64) ([]LowStockRow, error) {
	return nil, nil
}

type fakeAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (f *fakeAudit) Record(_ context.Context, log shared.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestApplyDeltaInbound(t *testing.T) {
	repo := newFakeStockRepo()
	audit := &fakeAudit{}
	svc := NewService(repo, audit)
	key := BalanceKey{ProductID: 1, WarehouseID: 10}

	balance, entry, err := svc.ApplyDelta(context.Background(), DeltaInput{
		Key:     key,
		Delta:   dec(t, "25.5"),
		ActorID: 7,
	})
	require.NoError(t, err)
	require.True(t, balance.Quantity.Equal(dec(t, "25.5")))
	require.True(t, balance.Reserved.IsZero())

	require.Equal(t, MovementAdjustment, entry.Type)
	require.True(t, entry.BeforeQty.IsZero())
	require.True(t, entry.AfterQty.Equal(dec(t, "25.5")))
	require.Equal(t, int64(10), entry.ToWarehouseID)
	require.Zero(t, entry.FromWarehouseID)
	require.Equal(t, int64(7), entry.PerformedBy)
	require.Regexp(t, `^LED-[0-9A-F]{12}$`, entry.Reference)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "stock:adjust", audit.logs[0].Action)
}

func TestApplyDeltaOutbound(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)
	key := BalanceKey{ProductID: 1, WarehouseID: 10}
	repo.balances[key] = Balance{ProductID: 1, WarehouseID: 10, Quantity: dec(t, "40")}

	balance, entry, err := svc.ApplyDelta(context.Background(), DeltaInput{
		Key:     key,
		Delta:   dec(t, "-15"),
		ActorID: 7,
	})
	require.NoError(t, err)
	require.True(t, balance.Quantity.Equal(dec(t, "25")))

	require.Equal(t, int64(10), entry.FromWarehouseID)
	require.Zero(t, entry.ToWarehouseID)
	require.True(t, entry.Quantity.Equal(dec(t, "15")))
	require.True(t, entry.BeforeQty.Equal(dec(t, "40")))
	require.True(t, entry.AfterQty.Equal(dec(t, "25")))
}

func TestApplyDeltaRounding(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)
	key := BalanceKey{ProductID: 1, WarehouseID: 10}

	balance, _, err := svc.ApplyDelta(context.Background(), DeltaInput{
		Key:     key,
		Delta:   dec(t, "3.333"),
		ActorID: 7,
	})
	require.NoError(t, err)
	require.True(t, balance.Quantity.Equal(dec(t, "3.33")), "got %s", balance.Quantity)
}

func TestApplyDeltaGuards(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)
	key := BalanceKey{ProductID: 1, WarehouseID: 10}
	repo.balances[key] = Balance{ProductID: 1, WarehouseID: 10, Quantity: dec(t, "5"), Reserved: dec(t, "3")}

	_, _, err := svc.ApplyDelta(context.Background(), DeltaInput{Key: key, Delta: dec(t, "-6")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// dropping below the reserved amount is rejected even when non-negative
	_, _, err = svc.ApplyDelta(context.Background(), DeltaInput{Key: key, Delta: dec(t, "-4")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, _, err = svc.ApplyDelta(context.Background(), DeltaInput{Key: key, Delta: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.ApplyDelta(context.Background(), DeltaInput{Key: BalanceKey{ProductID: 1}, Delta: dec(t, "1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	// failed mutations leave the balance and ledger untouched
	require.True(t, repo.balances[key].Quantity.Equal(dec(t, "5")))
	require.Empty(t, repo.ledger)
}

func TestApplyDeltaNote(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)

	_, entry, err := svc.ApplyDelta(context.Background(), DeltaInput{
		Key:   BalanceKey{ProductID: 1, WarehouseID: 10},
		Delta: dec(t, "2"),
		Note:  "cycle count correction",
	})
	require.NoError(t, err)
	require.Equal(t, "cycle count correction", entry.Extensions["note"])
}

func TestReserveAndRelease(t *testing.T) {
	repo := newFakeStockRepo()
	audit := &fakeAudit{}
	svc := NewService(repo, audit)
	key := BalanceKey{ProductID: 1, WarehouseID: 10}
	repo.balances[key] = Balance{ProductID: 1, WarehouseID: 10, Quantity: dec(t, "20")}

	balance, err := svc.Reserve(context.Background(), key, dec(t, "8"), 7)
	require.NoError(t, err)
	require.True(t, balance.Reserved.Equal(dec(t, "8")))
	require.True(t, balance.Available().Equal(dec(t, "12")))

	balance, err = svc.Release(context.Background(), key, dec(t, "3"), 7)
	require.NoError(t, err)
	require.True(t, balance.Reserved.Equal(dec(t, "5")))

	// reservations never write the ledger
	require.Empty(t, repo.ledger)
	require.Len(t, audit.logs, 2)
	require.Equal(t, "stock:reserve", audit.logs[0].Action)
	require.Equal(t, "stock:release", audit.logs[1].Action)
}

func TestReserveGuards(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)
	key := BalanceKey{ProductID: 1, WarehouseID: 10}
	repo.balances[key] = Balance{ProductID: 1, WarehouseID: 10, Quantity: dec(t, "10"), Reserved: dec(t, "4")}

	_, err := svc.Reserve(context.Background(), key, dec(t, "7"), 7)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = svc.Release(context.Background(), key, dec(t, "5"), 7)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Reserve(context.Background(), BalanceKey{ProductID: 2, WarehouseID: 10}, dec(t, "1"), 7)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAppendEntryRegeneratesReference(t *testing.T) {
	repo := newFakeStockRepo()
	repo.refs["LED-000000000001"] = true

	entry, err := AppendEntry(context.Background(), repo, LedgerEntry{
		Reference: "LED-000000000001",
		ProductID: 1,
		Quantity:  dec(t, "1"),
		Type:      MovementIn,
	})
	require.NoError(t, err)
	require.NotEqual(t, "LED-000000000001", entry.Reference)
	require.Regexp(t, `^LED-[0-9A-F]{12}$`, entry.Reference)
	require.NotZero(t, entry.ID)
}

func TestLockOrInitLazyBalance(t *testing.T) {
	repo := newFakeStockRepo()
	key := BalanceKey{ProductID: 9, WarehouseID: 2, LocationID: 5}

	balance, err := LockOrInit(context.Background(), repo, key)
	require.NoError(t, err)
	require.Equal(t, key, balance.Key())
	require.True(t, balance.Quantity.IsZero())
	require.True(t, balance.Reserved.IsZero())

	// nothing persisted until a movement succeeds
	_, ok := repo.balances[key]
	require.False(t, ok)
}

func TestGetAndListValidation(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)

	_, err := svc.Get(context.Background(), BalanceKey{ProductID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Get(context.Background(), BalanceKey{ProductID: 1, WarehouseID: 10})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.List(context.Background(), BalanceFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.History(context.Background(), LedgerFilter{Type: "BOGUS"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestProductSummaryAggregates(t *testing.T) {
	repo := newFakeStockRepo()
	svc := NewService(repo, nil)
	repo.balances[BalanceKey{ProductID: 1, WarehouseID: 10}] = Balance{ProductID: 1, WarehouseID: 10, Quantity: dec(t, "12"), Reserved: dec(t, "2")}
	repo.balances[BalanceKey{ProductID: 1, WarehouseID: 20}] = Balance{ProductID: 1, WarehouseID: 20, Quantity: dec(t, "8")}
	repo.balances[BalanceKey{ProductID: 2, WarehouseID: 10}] = Balance{ProductID: 2, WarehouseID: 10, Quantity: dec(t, "99")}

	sum, err := svc.Summary(context.Background(), 1, 0)
	require.NoError(t, err)
	require.True(t, sum.TotalQuantity.Equal(dec(t, "20")))
	require.True(t, sum.TotalReserved.Equal(dec(t, "2")))
	require.True(t, sum.TotalAvailable.Equal(dec(t, "18")))
}
