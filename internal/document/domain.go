// Package document models warehouse operation headers and their lines.
// A document drives exactly one fulfillment operation: a receipt,
// delivery, internal transfer or stock count. Status moves forward only,
// through one shared transition table.
package document

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/shared"
)

// Type enumerates warehouse operations.
type Type string

const (
	TypeReceipt    Type = "RECEIPT"
	TypeDelivery   Type = "DELIVERY"
	TypeTransfer   Type = "TRANSFER"
	TypeAdjustment Type = "ADJUSTMENT"
)

// Valid reports whether t is a known document type.
func (t Type) Valid() bool {
	switch t {
	case TypeReceipt, TypeDelivery, TypeTransfer, TypeAdjustment:
		return true
	}
	return false
}

// ReferencePrefix returns the prefix used for generated references.
func (t Type) ReferencePrefix() string {
	switch t {
	case TypeReceipt:
		return shared.RefPrefixReceipt
	case TypeDelivery:
		return shared.RefPrefixDelivery
	case TypeTransfer:
		return shared.RefPrefixTransfer
	case TypeAdjustment:
		return shared.RefPrefixAdjustment
	}
	return "DOC"
}

// Status enumerates document lifecycle states.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusWaiting  Status = "WAITING"
	StatusReady    Status = "READY"
	StatusDone     Status = "DONE"
	StatusCanceled Status = "CANCELED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusWaiting, StatusReady, StatusDone, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// transitions is the single transition table every status mutation goes
// through. Forward-only, except explicit cancellation.
var transitions = map[Status]map[Status]bool{
	StatusDraft:   {StatusWaiting: true, StatusReady: true, StatusCanceled: true},
	StatusWaiting: {StatusReady: true, StatusCanceled: true},
	StatusReady:   {StatusDone: true, StatusCanceled: true},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// LineStatus enumerates fulfillment states of a line.
type LineStatus string

const (
	LineStatusPending   LineStatus = "PENDING"
	LineStatusPartial   LineStatus = "PARTIAL"
	LineStatusFulfilled LineStatus = "FULFILLED"
)

// Valid reports whether s is a known line status.
func (s LineStatus) Valid() bool {
	switch s {
	case LineStatusPending, LineStatusPartial, LineStatusFulfilled:
		return true
	}
	return false
}

// Extension keys under which the executor stores actual quantities.
const (
	ExtReceivedQty    = "received_qty"
	ExtPickedQty      = "picked_qty"
	ExtTransferredQty = "transferred_qty"
	ExtCountedQty     = "counted_qty"
)

// Document is a workflow header for one warehouse operation.
type Document struct {
	ID              int64             `json:"id"`
	Reference       string            `json:"reference"`
	Type            Type              `json:"type"`
	Status          Status            `json:"status"`
	WarehouseID     int64             `json:"warehouse_id"`
	DestWarehouseID int64             `json:"dest_warehouse_id,omitempty"`
	FromLocationID  int64             `json:"from_location_id,omitempty"`
	ToLocationID    int64             `json:"to_location_id,omitempty"`
	ContactID       int64             `json:"contact_id,omitempty"`
	ScheduledAt     time.Time         `json:"scheduled_at,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	CreatedBy       int64             `json:"created_by"`
	OwnerID         int64             `json:"owner_id"`
	ResponsibleID   int64             `json:"responsible_id,omitempty"`
	ValidatedBy     int64             `json:"validated_by,omitempty"`
	ValidatedAt     time.Time         `json:"validated_at,omitempty"`
	Extensions      shared.Extensions `json:"extensions,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Line is one requested product movement belonging to a document.
type Line struct {
	ID         int64             `json:"id"`
	DocumentID int64             `json:"document_id"`
	ProductID  int64             `json:"product_id"`
	Quantity   decimal.Decimal   `json:"quantity"`
	UOM        string            `json:"uom"`
	UnitCost   decimal.Decimal   `json:"unit_cost"`
	Status     LineStatus        `json:"status"`
	Extensions shared.Extensions `json:"extensions,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ListFilter narrows document listings.
type ListFilter struct {
	Type        Type
	Status      Status
	WarehouseID int64
	Limit       int
	Offset      int
}
