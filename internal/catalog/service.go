package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-wms/meridian/internal/shared"
)

// Service exposes the lookups the ledger core consumes.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetProduct loads a product, used before a line may reference it.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("catalog: product id required: %w", shared.ErrValidation)
	}
	return s.repo.GetProduct(ctx, id)
}

// GetContact loads a counterpart contact.
func (s *Service) GetContact(ctx context.Context, id int64) (Contact, error) {
	if id <= 0 {
		return Contact{}, fmt.Errorf("catalog: contact id required: %w", shared.ErrValidation)
	}
	return s.repo.GetContact(ctx, id)
}

// RequireActiveWarehouse verifies existence and the active flag.
func (s *Service) RequireActiveWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, fmt.Errorf("catalog: warehouse id required: %w", shared.ErrValidation)
	}
	w, err := s.repo.GetWarehouse(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	if !w.Active {
		return Warehouse{}, fmt.Errorf("catalog: warehouse %s is inactive: %w", w.Code, shared.ErrValidation)
	}
	return w, nil
}

// RequireLocation verifies the location exists, is active, and belongs to
// an active warehouse.
func (s *Service) RequireLocation(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, fmt.Errorf("catalog: location id required: %w", shared.ErrValidation)
	}
	l, err := s.repo.GetLocation(ctx, id)
	if err != nil {
		return Location{}, err
	}
	if !l.Active {
		return Location{}, fmt.Errorf("catalog: location %s is inactive: %w", l.Code, shared.ErrValidation)
	}
	if _, err := s.RequireActiveWarehouse(ctx, l.WarehouseID); err != nil {
		return Location{}, err
	}
	return l, nil
}

// ListProducts returns the product catalog.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.repo.ListProducts(ctx)
}

// ListWarehouses returns the warehouse catalog.
func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// CreateProduct performs minimal validation and inserts.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if strings.TrimSpace(p.SKU) == "" {
		return Product{}, fmt.Errorf("catalog: sku is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Product{}, fmt.Errorf("catalog: name is required: %w", shared.ErrValidation)
	}
	if p.BaseUOM == "" {
		p.BaseUOM = "unit"
	}
	if p.ReorderPoint.IsNegative() {
		return Product{}, fmt.Errorf("catalog: reorder point must be >= 0: %w", shared.ErrValidation)
	}
	return s.repo.CreateProduct(ctx, p)
}

// CreateWarehouse performs minimal validation and inserts.
func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	if strings.TrimSpace(w.Code) == "" {
		return Warehouse{}, fmt.Errorf("catalog: warehouse code is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(w.Name) == "" {
		return Warehouse{}, fmt.Errorf("catalog: warehouse name is required: %w", shared.ErrValidation)
	}
	return s.repo.CreateWarehouse(ctx, w)
}
