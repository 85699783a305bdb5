// Package catalog exposes the read-only collaborator lookups the ledger
// core depends on: products, warehouses, locations and contacts. It never
// mutates balances or ledger state.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries the catalog fields the core interprets: the base unit
// used to default document lines and the reorder point consumed by the
// reorder analyzer.
type Product struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	BaseUOM      string          `json:"base_uom"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Warehouse is a stock-holding site.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a position within a warehouse. Documents may address stock
// at warehouse level (no location) or at a specific location.
type Location struct {
	ID          int64  `json:"id"`
	WarehouseID int64  `json:"warehouse_id"`
	Code        string `json:"code"`
	Active      bool   `json:"active"`
}

// Contact is the counterpart of a receipt (source) or delivery
// (destination). The ledger stores the reference and never interprets it.
type Contact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}
