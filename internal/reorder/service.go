// Package reorder analyzes balances against product reorder points. It is
// a pure read side: candidates are computed from stock rows and cached,
// never stored.
package reorder

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/stock"
)

// Candidate is one balance row at or below its product's reorder point.
type Candidate struct {
	ProductID    int64           `json:"product_id"`
	SKU          string          `json:"sku"`
	WarehouseID  int64           `json:"warehouse_id"`
	LocationID   int64           `json:"location_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Reserved     decimal.Decimal `json:"reserved_quantity"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
}

// Report buckets candidates by urgency.
type Report struct {
	WarehouseID        int64       `json:"warehouse_id,omitempty"`
	GeneratedAt        time.Time   `json:"generated_at"`
	NeedsReplenishment []Candidate `json:"needs_replenishment"`
	OutOfStock         []Candidate `json:"out_of_stock"`
}

// StockPort is the slice of the stock repository the analyzer reads.
type StockPort interface {
	ListLowStock(ctx context.Context, warehouseID int64) ([]stock.LowStockRow, error)
}

// Service computes reorder candidates.
type Service struct {
	stock StockPort
	cache *Cache
}

// NewService builds Service. cache may be nil.
func NewService(stockPort StockPort, cache *Cache) *Service {
	return &Service{stock: stockPort, cache: cache}
}

// Candidates returns the report for one warehouse, or every warehouse
// when warehouseID is zero. Results come from the cache when fresh.
func (s *Service) Candidates(ctx context.Context, warehouseID int64) (Report, error) {
	var report Report
	err := s.cache.FetchJSON(ctx, candidatesKey(warehouseID), &report, func(ctx context.Context) (interface{}, error) {
		return s.build(ctx, warehouseID)
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *Service) build(ctx context.Context, warehouseID int64) (Report, error) {
	rows, err := s.stock.ListLowStock(ctx, warehouseID)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		WarehouseID:        warehouseID,
		GeneratedAt:        time.Now().UTC(),
		NeedsReplenishment: []Candidate{},
		OutOfStock:         []Candidate{},
	}
	for _, row := range rows {
		c := Candidate{
			ProductID:    row.ProductID,
			SKU:          row.SKU,
			WarehouseID:  row.WarehouseID,
			LocationID:   row.LocationID,
			Quantity:     row.Quantity,
			Reserved:     row.Reserved,
			ReorderPoint: row.ReorderPoint,
		}
		if row.Quantity.IsZero() {
			report.OutOfStock = append(report.OutOfStock, c)
			continue
		}
		// positive quantity at or below the threshold
		if row.Quantity.LessThanOrEqual(row.ReorderPoint) {
			report.NeedsReplenishment = append(report.NeedsReplenishment, c)
		}
	}
	return report, nil
}
