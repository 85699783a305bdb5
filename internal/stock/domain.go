// Package stock implements the balance aggregate and the append-only
// movement ledger. A balance row is keyed by product, warehouse and an
// optional location; every quantity change goes through ApplyDelta so the
// non-negative and reservation invariants hold, and every audited change
// appends a ledger entry whose before/after amounts match the balance at
// the moment of the write.
package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/shared"
)

// MovementType classifies the direction of a ledger entry.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
	// MovementTransfer marks both sides of a two-key transfer.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjustment marks reconciled count corrections and direct deltas.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementTransfer, MovementAdjustment:
		return true
	}
	return false
}

// BalanceKey identifies one balance row. LocationID zero means
// warehouse-level (unlocated) stock.
type BalanceKey struct {
	ProductID   int64
	WarehouseID int64
	LocationID  int64
}

// String renders the key for error messages and lock ordering.
func (k BalanceKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.ProductID, k.WarehouseID, k.LocationID)
}

// Less imposes a total order on keys. Transfers lock their two balance
// rows in this order so opposing transfers cannot deadlock.
func (k BalanceKey) Less(o BalanceKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	if k.WarehouseID != o.WarehouseID {
		return k.WarehouseID < o.WarehouseID
	}
	return k.LocationID < o.LocationID
}

// Balance is the mutable quantity aggregate for one key.
type Balance struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	LocationID  int64           `json:"location_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved_quantity"`
	UpdatedAt   time.Time       `json:"last_updated_at"`
}

// Key returns the balance key.
func (b Balance) Key() BalanceKey {
	return BalanceKey{ProductID: b.ProductID, WarehouseID: b.WarehouseID, LocationID: b.LocationID}
}

// Available is always derived, never stored.
func (b Balance) Available() decimal.Decimal {
	return b.Quantity.Sub(b.Reserved)
}

// LedgerEntry is one immutable movement record.
type LedgerEntry struct {
	ID              int64             `json:"id"`
	Reference       string            `json:"reference"`
	DocumentRef     string            `json:"document_ref,omitempty"`
	LineID          int64             `json:"line_id,omitempty"`
	ProductID       int64             `json:"product_id"`
	FromWarehouseID int64             `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   int64             `json:"to_warehouse_id,omitempty"`
	FromLocationID  int64             `json:"from_location_id,omitempty"`
	ToLocationID    int64             `json:"to_location_id,omitempty"`
	Quantity        decimal.Decimal   `json:"quantity"`
	Type            MovementType      `json:"movement_type"`
	BeforeQty       decimal.Decimal   `json:"before_qty"`
	AfterQty        decimal.Decimal   `json:"after_qty"`
	PerformedBy     int64             `json:"performed_by"`
	OccurredAt      time.Time         `json:"occurred_at"`
	Extensions      shared.Extensions `json:"extensions,omitempty"`
}

// LedgerFilter narrows ledger reads.
type LedgerFilter struct {
	ProductID   int64
	WarehouseID int64
	Type        MovementType
	Limit       int
}

// BalanceFilter narrows balance reads.
type BalanceFilter struct {
	ProductID   int64
	WarehouseID int64
}

// Summary aggregates a product's balances across keys.
type Summary struct {
	ProductID      int64           `json:"product_id"`
	WarehouseID    int64           `json:"warehouse_id,omitempty"`
	TotalQuantity  decimal.Decimal `json:"total_quantity"`
	TotalReserved  decimal.Decimal `json:"total_reserved"`
	TotalAvailable decimal.Decimal `json:"total_available"`
}

// LowStockRow joins a balance with its product's reorder point.
type LowStockRow struct {
	Balance
	SKU          string          `json:"sku"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
}

// Round normalises a quantity to the 2-decimal precision stored
// everywhere in the ledger.
func Round(q decimal.Decimal) decimal.Decimal {
	return q.Round(2)
}

// ApplyDelta returns b with delta applied. It is the single legal quantity
// mutation: the result is rounded, never negative, and never below the
// reserved amount (callers reconcile reservations first).
func ApplyDelta(b Balance, delta decimal.Decimal) (Balance, error) {
	next := Round(b.Quantity.Add(delta))
	if next.IsNegative() {
		return Balance{}, fmt.Errorf("stock: balance %s would go negative (%s + %s): %w",
			b.Key(), b.Quantity, delta, shared.ErrInsufficientStock)
	}
	if b.Reserved.GreaterThan(next) {
		return Balance{}, fmt.Errorf("stock: balance %s would fall below reserved %s: %w",
			b.Key(), b.Reserved, shared.ErrInsufficientStock)
	}
	b.Quantity = next
	return b, nil
}
