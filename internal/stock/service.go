package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/shared"
)

// maxReferenceRetries bounds regeneration after a reference collision.
const maxReferenceRetries = 3

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ProductSummary(ctx context.Context, productID, warehouseID int64) (Summary, error)
	History(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	ListLowStock(ctx context.Context, warehouseID int64) ([]LowStockRow, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates balance reads, reservations and the audited
// direct-delta mutation. Document-driven movements go through the
// fulfillment executor, which shares this package's engine functions.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Get returns the balance for a key.
func (s *Service) Get(ctx context.Context, key BalanceKey) (Balance, error) {
	if key.ProductID == 0 || key.WarehouseID == 0 {
		return Balance{}, fmt.Errorf("stock: product and warehouse required: %w", shared.ErrValidation)
	}
	b, err := s.repo.GetBalance(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{}, fmt.Errorf("stock: balance %s: %w", key, shared.ErrNotFound)
	}
	return b, err
}

// List returns balances matching the filter.
func (s *Service) List(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	if filter.ProductID == 0 && filter.WarehouseID == 0 {
		return nil, fmt.Errorf("stock: product or warehouse filter required: %w", shared.ErrValidation)
	}
	return s.repo.ListBalances(ctx, filter)
}

// Summary aggregates one product's balances.
func (s *Service) Summary(ctx context.Context, productID, warehouseID int64) (Summary, error) {
	if productID == 0 {
		return Summary{}, fmt.Errorf("stock: product required: %w", shared.ErrValidation)
	}
	return s.repo.ProductSummary(ctx, productID, warehouseID)
}

// History returns ledger entries most-recent-first.
func (s *Service) History(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("stock: unknown movement type %q: %w", filter.Type, shared.ErrValidation)
	}
	return s.repo.History(ctx, filter)
}

// ProductMovements returns the full movement history for one product.
func (s *Service) ProductMovements(ctx context.Context, productID int64) ([]LedgerEntry, error) {
	if productID == 0 {
		return nil, fmt.Errorf("stock: product required: %w", shared.ErrValidation)
	}
	return s.repo.History(ctx, LedgerFilter{ProductID: productID})
}

// ListLowStock returns balances at or below their product's reorder point.
func (s *Service) ListLowStock(ctx context.Context, warehouseID int64) ([]LowStockRow, error) {
	return s.repo.ListLowStock(ctx, warehouseID)
}

// DeltaInput describes an audited direct balance mutation.
type DeltaInput struct {
	Key        BalanceKey
	Delta      decimal.Decimal
	ActorID    int64
	Note       string
	Extensions shared.Extensions
}

// ApplyDelta mutates one balance and appends the matching ADJUSTMENT
// ledger entry in a single transaction. The balance row is created lazily
// on first inbound movement.
func (s *Service) ApplyDelta(ctx context.Context, input DeltaInput) (Balance, LedgerEntry, error) {
	if input.Key.ProductID == 0 || input.Key.WarehouseID == 0 {
		return Balance{}, LedgerEntry{}, fmt.Errorf("stock: product and warehouse required: %w", shared.ErrValidation)
	}
	if input.Delta.IsZero() {
		return Balance{}, LedgerEntry{}, fmt.Errorf("stock: delta must be non-zero: %w", shared.ErrValidation)
	}
	if err := input.Extensions.Validate(); err != nil {
		return Balance{}, LedgerEntry{}, err
	}

	var updated Balance
	var appended LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := LockOrInit(ctx, tx, input.Key)
		if err != nil {
			return err
		}
		next, err := ApplyDelta(balance, input.Delta)
		if err != nil {
			return err
		}

		entry := LedgerEntry{
			ProductID:   input.Key.ProductID,
			Quantity:    Round(input.Delta.Abs()),
			Type:        MovementAdjustment,
			BeforeQty:   balance.Quantity,
			AfterQty:    next.Quantity,
			PerformedBy: input.ActorID,
			OccurredAt:  time.Now().UTC(),
			Extensions:  input.Extensions,
		}
		if input.Delta.IsNegative() {
			entry.FromWarehouseID = input.Key.WarehouseID
			entry.FromLocationID = input.Key.LocationID
		} else {
			entry.ToWarehouseID = input.Key.WarehouseID
			entry.ToLocationID = input.Key.LocationID
		}
		if input.Note != "" {
			entry.Extensions = entry.Extensions.Merge(shared.Extensions{"note": input.Note})
		}
		appended, err = AppendEntry(ctx, tx, entry)
		if err != nil {
			return err
		}
		if err := tx.UpsertBalance(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return Balance{}, LedgerEntry{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "stock:adjust",
			Entity:   "stock_balance",
			EntityID: input.Key.String(),
			Meta: map[string]any{
				"delta":     input.Delta.String(),
				"reference": appended.Reference,
			},
		})
	}
	return updated, appended, nil
}

// Reserve puts qty aside on a balance. Reservations never exceed on-hand
// quantity and never produce a ledger entry: no stock moves.
func (s *Service) Reserve(ctx context.Context, key BalanceKey, qty decimal.Decimal, actorID int64) (Balance, error) {
	return s.mutateReserved(ctx, key, qty, actorID, "stock:reserve")
}

// Release returns previously reserved qty to the available pool.
func (s *Service) Release(ctx context.Context, key BalanceKey, qty decimal.Decimal, actorID int64) (Balance, error) {
	return s.mutateReserved(ctx, key, qty.Neg(), actorID, "stock:release")
}

func (s *Service) mutateReserved(ctx context.Context, key BalanceKey, delta decimal.Decimal, actorID int64, action string) (Balance, error) {
	if key.ProductID == 0 || key.WarehouseID == 0 {
		return Balance{}, fmt.Errorf("stock: product and warehouse required: %w", shared.ErrValidation)
	}
	if delta.IsZero() {
		return Balance{}, fmt.Errorf("stock: quantity must be non-zero: %w", shared.ErrValidation)
	}

	var updated Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, ErrBalanceNotFound) {
				return fmt.Errorf("stock: balance %s: %w", key, shared.ErrNotFound)
			}
			return err
		}
		next := Round(balance.Reserved.Add(delta))
		if next.IsNegative() {
			return fmt.Errorf("stock: release exceeds reserved %s on %s: %w", balance.Reserved, key, shared.ErrValidation)
		}
		if next.GreaterThan(balance.Quantity) {
			return fmt.Errorf("stock: reservation %s exceeds on-hand %s on %s: %w",
				next, balance.Quantity, key, shared.ErrInsufficientStock)
		}
		balance.Reserved = next
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		updated = balance
		return nil
	})
	if err != nil {
		return Balance{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "stock_balance",
			EntityID: key.String(),
			Meta:     map[string]any{"delta": delta.String()},
		})
	}
	return updated, nil
}

// AppendEntry inserts a ledger entry, generating references until the
// unique constraint is satisfied. Collisions regenerate instead of
// surfacing to the caller; only repeated failure bubbles up as retryable.
func AppendEntry(ctx context.Context, tx TxRepository, entry LedgerEntry) (LedgerEntry, error) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	var lastErr error
	for attempt := 0; attempt < maxReferenceRetries; attempt++ {
		if entry.Reference == "" || attempt > 0 {
			entry.Reference = shared.NewReference(shared.RefPrefixLedger)
		}
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err == nil {
			entry.ID = id
			return entry, nil
		}
		if !errors.Is(err, shared.ErrDuplicateReference) {
			return LedgerEntry{}, err
		}
		lastErr = err
	}
	return LedgerEntry{}, lastErr
}

// LockOrInit locks the balance row, initialising a zero row for keys that
// have never seen a movement.
func LockOrInit(ctx context.Context, tx TxRepository, key BalanceKey) (Balance, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{
				ProductID:   key.ProductID,
				WarehouseID: key.WarehouseID,
				LocationID:  key.LocationID,
				Quantity:    decimal.Zero,
				Reserved:    decimal.Zero,
			}, nil
		}
		return Balance{}, err
	}
	return balance, nil
}
