// Package fulfillment executes documents against the stock ledger. Each
// line commits in its own transaction, so a failure partway through an
// execution keeps the movements already made and leaves the remaining
// lines untouched for a retry.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/document"
	"github.com/meridian-wms/meridian/internal/shared"
	"github.com/meridian-wms/meridian/internal/stock"
)

// maxReferenceRetries bounds transfer reference regeneration.
const maxReferenceRetries = 3

// idempotencyModule namespaces executor keys in idempotency_keys.
const idempotencyModule = "fulfillment"

// RepositoryPort abstracts executor transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// DocumentPort is the slice of document persistence the executor needs.
type DocumentPort interface {
	Get(ctx context.Context, id int64) (document.Document, error)
	ListLines(ctx context.Context, documentID int64) ([]document.Line, error)
	UpdateStatus(ctx context.Context, id int64, status document.Status, validatedBy int64, validatedAt time.Time) error
}

// IdempotencyPort dedupes whole executor calls.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the fulfillment executor.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	docs   DocumentPort
	idem   IdempotencyPort
	audit  AuditPort
}

// NewService builds Service. idem and audit may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, docs DocumentPort, idem IdempotencyPort, audit AuditPort) *Service {
	return &Service{logger: logger, repo: repo, docs: docs, idem: idem, audit: audit}
}

// LineUpdate overrides the actual quantity moved for one line. Lines
// without an override move their requested quantity.
type LineUpdate struct {
	LineID         int64
	ActualQuantity decimal.Decimal
}

// Input parameterizes one executor call.
type Input struct {
	DocumentID     int64
	Lines          []LineUpdate
	IdempotencyKey string
	ActorID        int64
}

// Result reports the post-execution state.
type Result struct {
	Document document.Document   `json:"document"`
	Lines    []document.Line     `json:"lines"`
	Entries  []stock.LedgerEntry `json:"ledger_entries"`
}

// ExecuteReceipt books inbound stock for a RECEIPT document.
func (s *Service) ExecuteReceipt(ctx context.Context, input Input) (Result, error) {
	return s.run(ctx, document.TypeReceipt, input)
}

// ExecuteDelivery picks outbound stock for a DELIVERY document.
func (s *Service) ExecuteDelivery(ctx context.Context, input Input) (Result, error) {
	return s.run(ctx, document.TypeDelivery, input)
}

// ExecuteTransfer moves stock between the two warehouses of a TRANSFER
// document.
func (s *Service) ExecuteTransfer(ctx context.Context, input Input) (Result, error) {
	return s.run(ctx, document.TypeTransfer, input)
}

// ExecuteStockCount records counted quantities on an ADJUSTMENT document.
// Counts never mutate balances; reconciliation is a separate, explicit
// stock adjustment.
func (s *Service) ExecuteStockCount(ctx context.Context, input Input) (Result, error) {
	return s.run(ctx, document.TypeAdjustment, input)
}

// Complete marks a READY document DONE.
func (s *Service) Complete(ctx context.Context, documentID, actorID int64) (document.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return document.Document{}, err
	}
	if doc.Status != document.StatusReady {
		return document.Document{}, fmt.Errorf("fulfillment: document %s: only READY documents can be marked DONE (current %s): %w",
			doc.Reference, doc.Status, shared.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	if err := s.docs.UpdateStatus(ctx, documentID, document.StatusDone, actorID, now); err != nil {
		return document.Document{}, err
	}
	doc.Status = document.StatusDone
	doc.ValidatedBy = actorID
	doc.ValidatedAt = now
	s.recordAudit(ctx, actorID, "fulfillment:complete", doc)
	return doc, nil
}

func (s *Service) run(ctx context.Context, docType document.Type, input Input) (Result, error) {
	doc, err := s.docs.Get(ctx, input.DocumentID)
	if err != nil {
		return Result{}, err
	}
	if doc.Type != docType {
		return Result{}, fmt.Errorf("fulfillment: document %s is %s, not %s: %w",
			doc.Reference, doc.Type, docType, shared.ErrValidation)
	}
	if doc.Status.Terminal() {
		return Result{}, fmt.Errorf("fulfillment: document %s already %s: %w",
			doc.Reference, doc.Status, shared.ErrInvalidTransition)
	}

	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return Result{}, err
		}
	}

	result, err := s.executeLines(ctx, doc, input)
	if err != nil {
		// Free the key so the caller can retry the remaining lines.
		if input.IdempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, input.IdempotencyKey)
		}
		return Result{}, err
	}
	return result, nil
}

func (s *Service) executeLines(ctx context.Context, doc document.Document, input Input) (Result, error) {
	lines, err := s.docs.ListLines(ctx, doc.ID)
	if err != nil {
		return Result{}, err
	}
	if len(lines) == 0 {
		return Result{}, fmt.Errorf("fulfillment: document %s has no lines: %w", doc.Reference, shared.ErrValidation)
	}

	known := make(map[int64]bool, len(lines))
	for _, line := range lines {
		known[line.ID] = true
	}
	overrides := make(map[int64]decimal.Decimal, len(input.Lines))
	for _, u := range input.Lines {
		// every referenced line must belong to the document, before any
		// line moves stock
		if !known[u.LineID] {
			return Result{}, fmt.Errorf("fulfillment: document %s has no line %d: %w",
				doc.Reference, u.LineID, shared.ErrNotFound)
		}
		overrides[u.LineID] = u.ActualQuantity
	}

	result := Result{Document: doc}
	for _, line := range lines {
		if line.Status == document.LineStatusFulfilled {
			result.Lines = append(result.Lines, line)
			continue
		}
		actual := line.Quantity
		if qty, ok := overrides[line.ID]; ok {
			actual = qty
		}
		actual = stock.Round(actual)
		if actual.IsNegative() {
			return Result{}, fmt.Errorf("fulfillment: line %d: actual quantity must be >= 0: %w", line.ID, shared.ErrValidation)
		}

		executed, entries, err := s.executeLine(ctx, doc, line, actual, input.ActorID)
		if err != nil {
			return Result{}, fmt.Errorf("fulfillment: document %s line %d: %w", doc.Reference, line.ID, err)
		}
		result.Lines = append(result.Lines, executed)
		result.Entries = append(result.Entries, entries...)
	}

	if doc.Status == document.StatusDraft || doc.Status == document.StatusWaiting {
		now := time.Now().UTC()
		if err := s.docs.UpdateStatus(ctx, doc.ID, document.StatusReady, input.ActorID, now); err != nil {
			return Result{}, err
		}
		result.Document.Status = document.StatusReady
		result.Document.ValidatedBy = input.ActorID
		result.Document.ValidatedAt = now
	}

	s.recordAudit(ctx, input.ActorID, executorAction(doc.Type), doc)
	return result, nil
}

// executeLine applies one line in one transaction.
func (s *Service) executeLine(ctx context.Context, doc document.Document, line document.Line, actual decimal.Decimal, actorID int64) (document.Line, []stock.LedgerEntry, error) {
	var entries []stock.LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		switch doc.Type {
		case document.TypeReceipt:
			entries, err = s.moveOne(ctx, tx, doc, line, actual, stock.MovementIn, actorID)
		case document.TypeDelivery:
			entries, err = s.moveOne(ctx, tx, doc, line, actual.Neg(), stock.MovementOut, actorID)
		case document.TypeTransfer:
			entries, err = s.moveTransfer(ctx, tx, doc, line, actual, actorID)
		case document.TypeAdjustment:
			// record-only
		default:
			return fmt.Errorf("unsupported document type %s: %w", doc.Type, shared.ErrValidation)
		}
		if err != nil {
			return err
		}

		line.Status = document.LineStatusFulfilled
		line.Extensions = line.Extensions.Merge(shared.Extensions{
			actualQtyKey(doc.Type): actual.String(),
		})
		return tx.UpdateLine(ctx, line)
	})
	if err != nil {
		return document.Line{}, nil, err
	}
	return line, entries, nil
}

// moveOne applies a single-key movement (receipt in, delivery out).
func (s *Service) moveOne(ctx context.Context, tx TxRepository, doc document.Document, line document.Line, delta decimal.Decimal, typ stock.MovementType, actorID int64) ([]stock.LedgerEntry, error) {
	if delta.IsZero() {
		return nil, nil
	}
	key := stock.BalanceKey{ProductID: line.ProductID, WarehouseID: doc.WarehouseID}
	balance, err := stock.LockOrInit(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	next, err := stock.ApplyDelta(balance, delta)
	if err != nil {
		return nil, err
	}

	entry := stock.LedgerEntry{
		DocumentRef: doc.Reference,
		LineID:      line.ID,
		ProductID:   line.ProductID,
		Quantity:    delta.Abs(),
		Type:        typ,
		BeforeQty:   balance.Quantity,
		AfterQty:    next.Quantity,
		PerformedBy: actorID,
		OccurredAt:  time.Now().UTC(),
	}
	if delta.IsNegative() {
		entry.FromWarehouseID = key.WarehouseID
	} else {
		entry.ToWarehouseID = key.WarehouseID
	}
	appended, err := stock.AppendEntry(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.UpsertBalance(ctx, next); err != nil {
		return nil, err
	}
	return []stock.LedgerEntry{appended}, nil
}

// moveTransfer applies both sides of a transfer in one transaction. The
// two rows are locked in key order, and the two ledger entries share one
// movement reference base.
func (s *Service) moveTransfer(ctx context.Context, tx TxRepository, doc document.Document, line document.Line, actual decimal.Decimal, actorID int64) ([]stock.LedgerEntry, error) {
	if actual.IsZero() {
		return nil, nil
	}
	fromKey := stock.BalanceKey{ProductID: line.ProductID, WarehouseID: doc.WarehouseID, LocationID: doc.FromLocationID}
	toKey := stock.BalanceKey{ProductID: line.ProductID, WarehouseID: doc.DestWarehouseID, LocationID: doc.ToLocationID}
	if fromKey == toKey {
		return nil, fmt.Errorf("transfer source and destination are the same key %s: %w", fromKey, shared.ErrValidation)
	}

	first, second := fromKey, toKey
	if second.Less(first) {
		first, second = second, first
	}
	locked := map[stock.BalanceKey]stock.Balance{}
	for _, key := range []stock.BalanceKey{first, second} {
		balance, err := stock.LockOrInit(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		locked[key] = balance
	}

	fromBefore := locked[fromKey]
	fromAfter, err := stock.ApplyDelta(fromBefore, actual.Neg())
	if err != nil {
		return nil, err
	}
	toBefore := locked[toKey]
	toAfter, err := stock.ApplyDelta(toBefore, actual)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	outEntry := stock.LedgerEntry{
		DocumentRef:     doc.Reference,
		LineID:          line.ID,
		ProductID:       line.ProductID,
		FromWarehouseID: fromKey.WarehouseID,
		FromLocationID:  fromKey.LocationID,
		ToWarehouseID:   toKey.WarehouseID,
		ToLocationID:    toKey.LocationID,
		Quantity:        actual,
		Type:            stock.MovementTransfer,
		BeforeQty:       fromBefore.Quantity,
		AfterQty:        fromAfter.Quantity,
		PerformedBy:     actorID,
		OccurredAt:      now,
	}
	inEntry := outEntry
	inEntry.BeforeQty = toBefore.Quantity
	inEntry.AfterQty = toAfter.Quantity

	entries, err := appendTransferPair(ctx, tx, outEntry, inEntry)
	if err != nil {
		return nil, err
	}
	if err := tx.UpsertBalance(ctx, fromAfter); err != nil {
		return nil, err
	}
	if err := tx.UpsertBalance(ctx, toAfter); err != nil {
		return nil, err
	}
	return entries, nil
}

// appendTransferPair inserts the OUT and IN halves under one reference
// base. A collision on the OUT half regenerates the base; a collision on
// the IN half aborts the line so the pairing never splits.
func appendTransferPair(ctx context.Context, tx TxRepository, out, in stock.LedgerEntry) ([]stock.LedgerEntry, error) {
	var lastErr error
	for attempt := 0; attempt < maxReferenceRetries; attempt++ {
		base := shared.NewReference(shared.RefPrefixLedger)
		out.Reference = base + "-OUT"
		in.Reference = base + "-IN"

		outID, err := tx.InsertLedgerEntry(ctx, out)
		if err != nil {
			if errors.Is(err, shared.ErrDuplicateReference) {
				lastErr = err
				continue
			}
			return nil, err
		}
		inID, err := tx.InsertLedgerEntry(ctx, in)
		if err != nil {
			return nil, err
		}
		out.ID = outID
		in.ID = inID
		return []stock.LedgerEntry{out, in}, nil
	}
	return nil, lastErr
}

func actualQtyKey(t document.Type) string {
	switch t {
	case document.TypeReceipt:
		return document.ExtReceivedQty
	case document.TypeDelivery:
		return document.ExtPickedQty
	case document.TypeTransfer:
		return document.ExtTransferredQty
	default:
		return document.ExtCountedQty
	}
}

func executorAction(t document.Type) string {
	switch t {
	case document.TypeReceipt:
		return "fulfillment:receive"
	case document.TypeDelivery:
		return "fulfillment:ship"
	case document.TypeTransfer:
		return "fulfillment:transfer"
	default:
		return "fulfillment:count"
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc document.Document) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: doc.Reference,
		Meta:     map[string]any{"document_id": doc.ID, "type": string(doc.Type)},
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
