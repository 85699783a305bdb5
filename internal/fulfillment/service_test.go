package fulfillment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-wms/meridian/internal/document"
	"github.com/meridian-wms/meridian/internal/shared"
	"github.com/meridian-wms/meridian/internal/stock"
)

// fakeStore backs both the executor TxRepository and the document port.
// WithTx stages writes and applies them only when the callback succeeds,
// holding the mutex for the duration so transactions serialize the way
// row locks do.
type fakeStore struct {
	mu       sync.Mutex
	balances map[stock.BalanceKey]stock.Balance
	ledger   []stock.LedgerEntry
	refs     map[string]bool
	docs     map[int64]document.Document
	lines    map[int64]document.Line
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: map[stock.BalanceKey]stock.Balance{},
		refs:     map[string]bool{},
		docs:     map[int64]document.Document{},
		lines:    map[int64]document.Line{},
		nextID:   1,
	}
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &fakeTx{
		store:    s,
		balances: map[stock.BalanceKey]stock.Balance{},
		lines:    map[int64]document.Line{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for key, b := range tx.balances {
		s.balances[key] = b
	}
	for id, line := range tx.lines {
		s.lines[id] = line
	}
	for _, e := range tx.entries {
		s.ledger = append(s.ledger, e)
		s.refs[e.Reference] = true
	}
	return nil
}

type fakeTx struct {
	store    *fakeStore
	balances map[stock.BalanceKey]stock.Balance
	lines    map[int64]document.Line
	entries  []stock.LedgerEntry
}

func (t *fakeTx) GetBalanceForUpdate(_ context.Context, key stock.BalanceKey) (stock.Balance, error) {
	if b, ok := t.balances[key]; ok {
		return b, nil
	}
	if b, ok := t.store.balances[key]; ok {
		return b, nil
	}
	return stock.Balance{}, stock.ErrBalanceNotFound
}

func (t *fakeTx) UpsertBalance(_ context.Context, balance stock.Balance) error {
	t.balances[balance.Key()] = balance
	return nil
}

func (t *fakeTx) InsertLedgerEntry(_ context.Context, entry stock.LedgerEntry) (int64, error) {
	if t.store.refs[entry.Reference] {
		return 0, fmt.Errorf("ledger reference %s: %w", entry.Reference, shared.ErrDuplicateReference)
	}
	for _, staged := range t.entries {
		if staged.Reference == entry.Reference {
			return 0, fmt.Errorf("ledger reference %s: %w", entry.Reference, shared.ErrDuplicateReference)
		}
	}
	t.store.nextID++
	entry.ID = t.store.nextID
	t.entries = append(t.entries, entry)
	return entry.ID, nil
}

func (t *fakeTx) UpdateLine(_ context.Context, line document.Line) error {
	if _, ok := t.store.lines[line.ID]; !ok {
		return fmt.Errorf("document line %d: %w", line.ID, shared.ErrNotFound)
	}
	t.lines[line.ID] = line
	return nil
}

// document port backed by the same store

func (s *fakeStore) Get(_ context.Context, id int64) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return document.Document{}, fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	return doc, nil
}

func (s *fakeStore) ListLines(_ context.Context, documentID int64) ([]document.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []document.Line
	for _, line := range s.lines {
		if line.DocumentID == documentID {
			out = append(out, line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id int64, status document.Status, validatedBy int64, validatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	doc.Status = status
	if validatedBy != 0 {
		doc.ValidatedBy = validatedBy
		doc.ValidatedAt = validatedAt
	}
	s.docs[id] = doc
	return nil
}

func (s *fakeStore) addDocument(doc document.Document) document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	if doc.Status == "" {
		doc.Status = document.StatusDraft
	}
	doc.Reference = shared.NewReference(doc.Type.ReferencePrefix())
	s.docs[doc.ID] = doc
	return doc
}

func (s *fakeStore) addLine(docID, productID int64, qty string) document.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	line := document.Line{
		ID:         s.nextID,
		DocumentID: docID,
		ProductID:  productID,
		Quantity:   decimal.RequireFromString(qty),
		UOM:        "unit",
		Status:     document.LineStatusPending,
	}
	s.lines[line.ID] = line
	return line
}

func (s *fakeStore) setBalance(key stock.BalanceKey, qty string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key] = stock.Balance{
		ProductID:   key.ProductID,
		WarehouseID: key.WarehouseID,
		LocationID:  key.LocationID,
		Quantity:    decimal.RequireFromString(qty),
		Reserved:    decimal.Zero,
	}
}

func (s *fakeStore) balance(t *testing.T, key stock.BalanceKey) stock.Balance {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[key]
}

func (s *fakeStore) line(t *testing.T, id int64) document.Line {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[id]
}

func (s *fakeStore) entries(t *testing.T) []stock.LedgerEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stock.LedgerEntry(nil), s.ledger...)
}

type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeIdem() *fakeIdem { return &fakeIdem{keys: map[string]bool{}} }

func (f *fakeIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdem) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func newTestService(store *fakeStore, idem IdempotencyPort) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, store, store, idem, nil)
}

func whKey(productID, warehouseID int64) stock.BalanceKey {
	return stock.BalanceKey{ProductID: productID, WarehouseID: warehouseID}
}

func TestReceiptIncreasesBalances(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1})
	l1 := store.addLine(doc.ID, 100, "10")
	l2 := store.addLine(doc.ID, 200, "2.5")

	result, err := svc.ExecuteReceipt(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, document.StatusReady, result.Document.Status)
	require.Len(t, result.Entries, 2)

	require.True(t, store.balance(t, whKey(100, 1)).Quantity.Equal(decimal.RequireFromString("10")))
	require.True(t, store.balance(t, whKey(200, 1)).Quantity.Equal(decimal.RequireFromString("2.5")))

	first := store.line(t, l1.ID)
	require.Equal(t, document.LineStatusFulfilled, first.Status)
	require.Equal(t, "10", first.Extensions[document.ExtReceivedQty])
	require.Equal(t, "2.5", store.line(t, l2.ID).Extensions[document.ExtReceivedQty])

	for _, e := range store.entries(t) {
		require.Equal(t, stock.MovementIn, e.Type)
		require.Equal(t, doc.Reference, e.DocumentRef)
		require.True(t, e.AfterQty.Sub(e.BeforeQty).Equal(e.Quantity))
		require.Equal(t, int64(7), e.PerformedBy)
	}
}

func TestDeliveryInsufficientStock(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	line := store.addLine(doc.ID, 100, "5")
	store.setBalance(whKey(100, 1), "3")

	_, err := svc.ExecuteDelivery(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// nothing moved, nothing recorded
	require.True(t, store.balance(t, whKey(100, 1)).Quantity.Equal(decimal.RequireFromString("3")))
	require.Empty(t, store.entries(t))
	require.Equal(t, document.LineStatusPending, store.line(t, line.ID).Status)

	reloaded, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusDraft, reloaded.Status)
}

func TestDeliveryActualOverride(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	line := store.addLine(doc.ID, 100, "10")
	store.setBalance(whKey(100, 1), "10")

	_, err := svc.ExecuteDelivery(ctx, Input{
		DocumentID: doc.ID,
		Lines:      []LineUpdate{{LineID: line.ID, ActualQuantity: decimal.RequireFromString("4")}},
		ActorID:    7,
	})
	require.NoError(t, err)

	require.True(t, store.balance(t, whKey(100, 1)).Quantity.Equal(decimal.RequireFromString("6")))
	require.Equal(t, "4", store.line(t, line.ID).Extensions[document.ExtPickedQty])

	entries := store.entries(t)
	require.Len(t, entries, 1)
	require.Equal(t, stock.MovementOut, entries[0].Type)
	require.True(t, entries[0].Quantity.Equal(decimal.RequireFromString("4")))
}

func TestTransferConservesStock(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeTransfer, WarehouseID: 1, DestWarehouseID: 2})
	store.addLine(doc.ID, 100, "5")
	store.setBalance(whKey(100, 1), "8")

	_, err := svc.ExecuteTransfer(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.NoError(t, err)

	from := store.balance(t, whKey(100, 1))
	to := store.balance(t, whKey(100, 2))
	require.True(t, from.Quantity.Equal(decimal.RequireFromString("3")))
	require.True(t, to.Quantity.Equal(decimal.RequireFromString("5")))
	require.True(t, from.Quantity.Add(to.Quantity).Equal(decimal.RequireFromString("8")))

	entries := store.entries(t)
	require.Len(t, entries, 2)
	require.Equal(t, stock.MovementTransfer, entries[0].Type)
	require.Equal(t, stock.MovementTransfer, entries[1].Type)

	// both halves share one reference base
	outRef := entries[0].Reference
	inRef := entries[1].Reference
	require.True(t, strings.HasSuffix(outRef, "-OUT"), outRef)
	require.True(t, strings.HasSuffix(inRef, "-IN"), inRef)
	require.Equal(t, strings.TrimSuffix(outRef, "-OUT"), strings.TrimSuffix(inRef, "-IN"))
}

func TestTransferInsufficientStock(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeTransfer, WarehouseID: 1, DestWarehouseID: 2})
	store.addLine(doc.ID, 100, "5")
	store.setBalance(whKey(100, 1), "2")

	_, err := svc.ExecuteTransfer(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Empty(t, store.entries(t))
	require.True(t, store.balance(t, whKey(100, 2)).Quantity.IsZero())
}

func TestStockCountRecordsOnly(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeAdjustment, WarehouseID: 1})
	line := store.addLine(doc.ID, 100, "7")
	store.setBalance(whKey(100, 1), "9")

	_, err := svc.ExecuteStockCount(ctx, Input{
		DocumentID: doc.ID,
		Lines:      []LineUpdate{{LineID: line.ID, ActualQuantity: decimal.RequireFromString("6")}},
		ActorID:    7,
	})
	require.NoError(t, err)

	// counts never touch balances or the ledger
	require.True(t, store.balance(t, whKey(100, 1)).Quantity.Equal(decimal.RequireFromString("9")))
	require.Empty(t, store.entries(t))

	counted := store.line(t, line.ID)
	require.Equal(t, document.LineStatusFulfilled, counted.Status)
	require.Equal(t, "6", counted.Extensions[document.ExtCountedQty])
}

func TestPerLineCommit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	okLine := store.addLine(doc.ID, 100, "2")
	badLine := store.addLine(doc.ID, 200, "5") // no stock for 200
	store.setBalance(whKey(100, 1), "10")

	_, err := svc.ExecuteDelivery(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// first line committed, second untouched, document unchanged
	require.True(t, store.balance(t, whKey(100, 1)).Quantity.Equal(decimal.RequireFromString("8")))
	require.Equal(t, document.LineStatusFulfilled, store.line(t, okLine.ID).Status)
	require.Equal(t, document.LineStatusPending, store.line(t, badLine.ID).Status)
	require.Len(t, store.entries(t), 1)

	reloaded, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusDraft, reloaded.Status)

	// retry after restocking resumes on the failed line only
	store.setBalance(whKey(200, 1), "5")
	_, err = svc.ExecuteDelivery(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.NoError(t, err)
	require.True(t, store.balance(t, whKey(100, 1)).Quantity.Equal(decimal.RequireFromString("8")), "fulfilled line must not move twice")
	require.True(t, store.balance(t, whKey(200, 1)).Quantity.IsZero())

	reloaded, err = store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusReady, reloaded.Status)
}

func TestExecutorGuards(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	delivery := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	store.addLine(delivery.ID, 100, "1")

	_, err := svc.ExecuteReceipt(ctx, Input{DocumentID: delivery.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrValidation)

	done := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1, Status: document.StatusDone})
	_, err = svc.ExecuteReceipt(ctx, Input{DocumentID: done.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	empty := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1})
	_, err = svc.ExecuteReceipt(ctx, Input{DocumentID: empty.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUnknownLineUpdateRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1})
	line := store.addLine(doc.ID, 100, "10")

	_, err := svc.ExecuteReceipt(ctx, Input{
		DocumentID: doc.ID,
		Lines:      []LineUpdate{{LineID: 999999, ActualQuantity: decimal.RequireFromString("3")}},
		ActorID:    7,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Contains(t, err.Error(), "999999")

	// nothing moved: the bogus update must fail before any line executes
	require.True(t, store.balance(t, whKey(100, 1)).Quantity.IsZero())
	require.Equal(t, document.LineStatusPending, store.line(t, line.ID).Status)
	require.Empty(t, store.entries(t))
	reloaded, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusDraft, reloaded.Status)

	// a line of another document is just as foreign
	other := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1})
	foreign := store.addLine(other.ID, 200, "5")
	_, err = svc.ExecuteReceipt(ctx, Input{
		DocumentID: doc.ID,
		Lines:      []LineUpdate{{LineID: foreign.ID, ActualQuantity: decimal.RequireFromString("5")}},
		ActorID:    7,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIdempotencyKeyDedupes(t *testing.T) {
	store := newFakeStore()
	idem := newFakeIdem()
	svc := newTestService(store, idem)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1})
	store.addLine(doc.ID, 100, "10")

	_, err := svc.ExecuteReceipt(ctx, Input{DocumentID: doc.ID, IdempotencyKey: "req-1", ActorID: 7})
	require.NoError(t, err)

	_, err = svc.ExecuteReceipt(ctx, Input{DocumentID: doc.ID, IdempotencyKey: "req-1", ActorID: 7})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestIdempotencyKeyFreedOnFailure(t *testing.T) {
	store := newFakeStore()
	idem := newFakeIdem()
	svc := newTestService(store, idem)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	store.addLine(doc.ID, 100, "5")

	_, err := svc.ExecuteDelivery(ctx, Input{DocumentID: doc.ID, IdempotencyKey: "req-2", ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	store.setBalance(whKey(100, 1), "5")
	_, err = svc.ExecuteDelivery(ctx, Input{DocumentID: doc.ID, IdempotencyKey: "req-2", ActorID: 7})
	require.NoError(t, err)
}

func TestConcurrentDeliveriesSerialize(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	store.setBalance(whKey(100, 1), "5")
	first := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	store.addLine(first.ID, 100, "5")
	second := store.addDocument(document.Document{Type: document.TypeDelivery, WarehouseID: 1})
	store.addLine(second.ID, 100, "5")

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(docID int64) {
			defer wg.Done()
			_, err := svc.ExecuteDelivery(ctx, Input{DocumentID: docID, ActorID: 7})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var failures, successes int
	for err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
			failures++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)
	require.True(t, store.balance(t, whKey(100, 1)).Quantity.IsZero())
	require.Len(t, store.entries(t), 1)
}

func TestCompleteLifecycle(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	doc := store.addDocument(document.Document{Type: document.TypeReceipt, WarehouseID: 1})
	store.addLine(doc.ID, 100, "3")

	_, err := svc.Complete(ctx, doc.ID, 7)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.ExecuteReceipt(ctx, Input{DocumentID: doc.ID, ActorID: 7})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, doc.ID, 7)
	require.NoError(t, err)
	require.Equal(t, document.StatusDone, done.Status)
	require.Equal(t, int64(7), done.ValidatedBy)
}
