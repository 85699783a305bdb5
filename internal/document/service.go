package document

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/catalog"
	"github.com/meridian-wms/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Create(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	UpdateStatus(ctx context.Context, id int64, status Status, validatedBy int64, validatedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	InsertLine(ctx context.Context, line Line) (Line, error)
	GetLine(ctx context.Context, id int64) (Line, error)
	ListLines(ctx context.Context, documentID int64) ([]Line, error)
	UpdateLine(ctx context.Context, line Line) error
	DeleteLine(ctx context.Context, id int64) error
}

// CatalogPort exposes the collaborator lookups documents depend on.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
	GetContact(ctx context.Context, id int64) (catalog.Contact, error)
	RequireActiveWarehouse(ctx context.Context, id int64) (catalog.Warehouse, error)
	RequireLocation(ctx context.Context, id int64) (catalog.Location, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates document and line lifecycle.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, cat CatalogPort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: cat, audit: audit}
}

// CreateInput describes a new document.
type CreateInput struct {
	Type            Type
	WarehouseID     int64
	DestWarehouseID int64
	FromLocationID  int64
	ToLocationID    int64
	ContactID       int64
	ScheduledAt     time.Time
	Notes           string
	ResponsibleID   int64
	Extensions      shared.Extensions
	ActorID         int64
}

// Create validates the header against the catalog and persists a DRAFT
// document with a generated type-prefixed reference.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	if !input.Type.Valid() {
		return Document{}, fmt.Errorf("document: unknown type %q: %w", input.Type, shared.ErrValidation)
	}
	if err := input.Extensions.Validate(); err != nil {
		return Document{}, err
	}
	if _, err := s.catalog.RequireActiveWarehouse(ctx, input.WarehouseID); err != nil {
		return Document{}, err
	}

	// Locations on non-transfer documents live in the document's own
	// warehouse; a transfer's to-location lives in the destination.
	toWarehouseID := input.WarehouseID
	switch input.Type {
	case TypeTransfer:
		if input.DestWarehouseID == 0 {
			return Document{}, fmt.Errorf("document: transfer requires a destination warehouse: %w", shared.ErrValidation)
		}
		if _, err := s.catalog.RequireActiveWarehouse(ctx, input.DestWarehouseID); err != nil {
			return Document{}, err
		}
		toWarehouseID = input.DestWarehouseID
	case TypeReceipt, TypeDelivery:
		if input.ContactID == 0 {
			return Document{}, fmt.Errorf("document: %s requires a counterpart contact: %w", input.Type, shared.ErrValidation)
		}
		if _, err := s.catalog.GetContact(ctx, input.ContactID); err != nil {
			return Document{}, err
		}
	}
	if err := s.requireLocationIn(ctx, input.FromLocationID, input.WarehouseID, "from"); err != nil {
		return Document{}, err
	}
	if err := s.requireLocationIn(ctx, input.ToLocationID, toWarehouseID, "to"); err != nil {
		return Document{}, err
	}

	doc := Document{
		Reference:       shared.NewReference(input.Type.ReferencePrefix()),
		Type:            input.Type,
		Status:          StatusDraft,
		WarehouseID:     input.WarehouseID,
		DestWarehouseID: input.DestWarehouseID,
		FromLocationID:  input.FromLocationID,
		ToLocationID:    input.ToLocationID,
		ContactID:       input.ContactID,
		ScheduledAt:     input.ScheduledAt,
		Notes:           input.Notes,
		CreatedBy:       input.ActorID,
		OwnerID:         input.ActorID,
		ResponsibleID:   input.ResponsibleID,
		Extensions:      input.Extensions,
	}
	created, err := s.repo.Create(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, input.ActorID, "DOC_CREATE", created.ID, map[string]any{"reference": created.Reference, "type": string(created.Type)})
	return created, nil
}

// requireLocationIn checks an optional location id for existence and
// membership in the expected warehouse.
func (s *Service) requireLocationIn(ctx context.Context, locationID, warehouseID int64, role string) error {
	if locationID == 0 {
		return nil
	}
	loc, err := s.catalog.RequireLocation(ctx, locationID)
	if err != nil {
		return err
	}
	if loc.WarehouseID != warehouseID {
		return fmt.Errorf("document: %s-location %d not in warehouse %d: %w",
			role, locationID, warehouseID, shared.ErrValidation)
	}
	return nil
}

// Get returns a document with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Document, []Line, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, lines, nil
}

// List returns documents matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("document: unknown type %q: %w", filter.Type, shared.ErrValidation)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("document: unknown status %q: %w", filter.Status, shared.ErrValidation)
	}
	return s.repo.List(ctx, filter)
}

// UpdateStatus applies one guarded transition. Reaching READY through
// explicit approval (or DONE) stamps the validator.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status, actorID int64) (Document, error) {
	if !to.Valid() {
		return Document{}, fmt.Errorf("document: unknown status %q: %w", to, shared.ErrValidation)
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if !CanTransition(doc.Status, to) {
		return Document{}, transitionError(doc, to)
	}

	var validatedBy int64
	var validatedAt time.Time
	if to == StatusReady || to == StatusDone {
		validatedBy = actorID
		validatedAt = time.Now().UTC()
	}
	if err := s.repo.UpdateStatus(ctx, id, to, validatedBy, validatedAt); err != nil {
		return Document{}, err
	}
	doc.Status = to
	if validatedBy != 0 {
		doc.ValidatedBy = validatedBy
		doc.ValidatedAt = validatedAt
	}
	s.recordAudit(ctx, actorID, "DOC_STATUS", id, map[string]any{"reference": doc.Reference, "status": string(to)})
	return doc, nil
}

// Complete marks a READY document DONE.
func (s *Service) Complete(ctx context.Context, id int64, actorID int64) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusReady {
		return Document{}, fmt.Errorf("document %s: only READY documents can be marked DONE (current %s): %w",
			doc.Reference, doc.Status, shared.ErrInvalidTransition)
	}
	return s.UpdateStatus(ctx, id, StatusDone, actorID)
}

// Cancel aborts a document from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status == StatusDone {
		return Document{}, fmt.Errorf("document %s: cannot cancel completed documents: %w",
			doc.Reference, shared.ErrInvalidTransition)
	}
	return s.UpdateStatus(ctx, id, StatusCanceled, actorID)
}

// Delete removes a DRAFT or WAITING document owned by the caller.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.OwnerID != actorID {
		return fmt.Errorf("document %s: only the owner may delete: %w", doc.Reference, shared.ErrForbidden)
	}
	if doc.Status != StatusDraft && doc.Status != StatusWaiting {
		return fmt.Errorf("document %s: cannot delete in status %s: %w", doc.Reference, doc.Status, shared.ErrForbidden)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "DOC_DELETE", id, map[string]any{"reference": doc.Reference})
	return nil
}

// LineInput describes a new or patched line.
type LineInput struct {
	ProductID  int64
	Quantity   decimal.Decimal
	UOM        string
	UnitCost   decimal.Decimal
	Extensions shared.Extensions
}

// AddLine attaches a PENDING line while the document is still editable.
func (s *Service) AddLine(ctx context.Context, documentID int64, input LineInput, actorID int64) (Line, error) {
	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return Line{}, err
	}
	if doc.Status != StatusDraft && doc.Status != StatusWaiting {
		return Line{}, fmt.Errorf("document %s: lines may only be attached while DRAFT or WAITING: %w",
			doc.Reference, shared.ErrInvalidTransition)
	}
	line, err := s.buildLine(ctx, documentID, input)
	if err != nil {
		return Line{}, err
	}
	created, err := s.repo.InsertLine(ctx, line)
	if err != nil {
		return Line{}, err
	}
	s.recordAudit(ctx, actorID, "LINE_ADD", created.ID, map[string]any{"document": doc.Reference, "product_id": input.ProductID})
	return created, nil
}

// UpdateLine patches a line and re-runs validation.
func (s *Service) UpdateLine(ctx context.Context, documentID, lineID int64, input LineInput, actorID int64) (Line, error) {
	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return Line{}, err
	}
	if doc.Status.Terminal() {
		return Line{}, fmt.Errorf("document %s: cannot modify lines in status %s: %w",
			doc.Reference, doc.Status, shared.ErrInvalidTransition)
	}
	existing, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	if existing.DocumentID != documentID {
		return Line{}, fmt.Errorf("document line %d does not belong to document %d: %w", lineID, documentID, shared.ErrNotFound)
	}

	patched, err := s.buildLine(ctx, documentID, input)
	if err != nil {
		return Line{}, err
	}
	patched.ID = existing.ID
	patched.Status = existing.Status
	patched.Extensions = existing.Extensions.Merge(input.Extensions)
	if err := s.repo.UpdateLine(ctx, patched); err != nil {
		return Line{}, err
	}
	s.recordAudit(ctx, actorID, "LINE_UPDATE", lineID, map[string]any{"document": doc.Reference})
	return patched, nil
}

// DeleteLine removes a line while the document is editable.
func (s *Service) DeleteLine(ctx context.Context, documentID, lineID int64, actorID int64) error {
	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != StatusDraft && doc.Status != StatusWaiting {
		return fmt.Errorf("document %s: cannot delete lines in status %s: %w",
			doc.Reference, doc.Status, shared.ErrInvalidTransition)
	}
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return err
	}
	if line.DocumentID != documentID {
		return fmt.Errorf("document line %d does not belong to document %d: %w", lineID, documentID, shared.ErrNotFound)
	}
	if err := s.repo.DeleteLine(ctx, lineID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "LINE_DELETE", lineID, map[string]any{"document": doc.Reference})
	return nil
}

// PatchLineStatus sets the line status, rejecting unknown enum values.
func (s *Service) PatchLineStatus(ctx context.Context, documentID, lineID int64, status LineStatus, actorID int64) (Line, error) {
	if !status.Valid() {
		return Line{}, fmt.Errorf("document: unknown line status %q: %w", status, shared.ErrValidation)
	}
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	if line.DocumentID != documentID {
		return Line{}, fmt.Errorf("document line %d does not belong to document %d: %w", lineID, documentID, shared.ErrNotFound)
	}
	line.Status = status
	if err := s.repo.UpdateLine(ctx, line); err != nil {
		return Line{}, err
	}
	s.recordAudit(ctx, actorID, "LINE_STATUS", lineID, map[string]any{"status": string(status)})
	return line, nil
}

func (s *Service) buildLine(ctx context.Context, documentID int64, input LineInput) (Line, error) {
	if input.Quantity.IsNegative() {
		return Line{}, fmt.Errorf("document: line quantity must be >= 0: %w", shared.ErrValidation)
	}
	if input.UnitCost.IsNegative() {
		return Line{}, fmt.Errorf("document: unit cost must be >= 0: %w", shared.ErrValidation)
	}
	if err := input.Extensions.Validate(); err != nil {
		return Line{}, err
	}
	product, err := s.catalog.GetProduct(ctx, input.ProductID)
	if err != nil {
		return Line{}, err
	}
	uom := input.UOM
	if uom == "" {
		uom = product.BaseUOM
	}
	return Line{
		DocumentID: documentID,
		ProductID:  input.ProductID,
		Quantity:   input.Quantity.Round(2),
		UOM:        uom,
		UnitCost:   input.UnitCost.Round(2),
		Status:     LineStatusPending,
		Extensions: input.Extensions,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func transitionError(doc Document, to Status) error {
	switch {
	case to == StatusDone:
		return fmt.Errorf("document %s: only READY documents can be marked DONE (current %s): %w",
			doc.Reference, doc.Status, shared.ErrInvalidTransition)
	case doc.Status == StatusDone && to == StatusCanceled:
		return fmt.Errorf("document %s: cannot cancel completed documents: %w", doc.Reference, shared.ErrInvalidTransition)
	default:
		return fmt.Errorf("document %s: %s -> %s not permitted: %w", doc.Reference, doc.Status, to, shared.ErrInvalidTransition)
	}
}
