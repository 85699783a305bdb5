package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-wms/meridian/internal/platform/db"
	"github.com/meridian-wms/meridian/internal/shared"
)

// ErrBalanceNotFound indicates a missing balance row. Writers create rows
// lazily on first movement; readers surface shared.ErrNotFound instead.
var ErrBalanceNotFound = errors.New("stock balance not found")

// TxRepository exposes the transactional operations used by writers.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, key BalanceKey) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

// Repository persists balances and ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction. The fulfillment
// executor composes this with document writes over one transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func locationArg(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

// GetBalanceForUpdate locks the balance row for the key. The FOR UPDATE
// lock is what serializes concurrent movements on one key.
func (r *txRepo) GetBalanceForUpdate(ctx context.Context, key BalanceKey) (Balance, error) {
	b := Balance{ProductID: key.ProductID, WarehouseID: key.WarehouseID, LocationID: key.LocationID}
	var locID pgtype.Int8
	err := r.tx.QueryRow(ctx,
		`SELECT product_id, warehouse_id, location_id, quantity, reserved_quantity, updated_at
		 FROM stock_balances
		 WHERE product_id = $1 AND warehouse_id = $2 AND location_id IS NOT DISTINCT FROM $3
		 FOR UPDATE`,
		key.ProductID, key.WarehouseID, locationArg(key.LocationID)).
		Scan(&b.ProductID, &b.WarehouseID, &locID, &b.Quantity, &b.Reserved, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	b.LocationID = locID.Int64
	return b, nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stock_balances (product_id, warehouse_id, location_id, quantity, reserved_quantity, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (product_id, warehouse_id, location_key)
		 DO UPDATE SET quantity = EXCLUDED.quantity, reserved_quantity = EXCLUDED.reserved_quantity, updated_at = NOW()`,
		balance.ProductID, balance.WarehouseID, locationArg(balance.LocationID), balance.Quantity, balance.Reserved)
	return err
}

// InsertLedgerEntry appends one movement record. The insert runs inside a
// savepoint so a reference collision surfaces as
// shared.ErrDuplicateReference without aborting the enclosing transaction,
// letting the caller regenerate and retry.
func (r *txRepo) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	var id int64
	err = sp.QueryRow(ctx,
		`INSERT INTO stock_ledger
		   (reference, document_ref, line_id, product_id, from_warehouse_id, to_warehouse_id,
		    from_location_id, to_location_id, quantity, movement_type, before_qty, after_qty,
		    performed_by, occurred_at, extensions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		entry.Reference, entry.DocumentRef, pgtype.Int8{Int64: entry.LineID, Valid: entry.LineID != 0},
		entry.ProductID, locationArg(entry.FromWarehouseID), locationArg(entry.ToWarehouseID),
		locationArg(entry.FromLocationID), locationArg(entry.ToLocationID),
		entry.Quantity, string(entry.Type), entry.BeforeQty, entry.AfterQty,
		pgtype.Int8{Int64: entry.PerformedBy, Valid: entry.PerformedBy != 0},
		entry.OccurredAt, entry.Extensions).Scan(&id)
	if err != nil {
		_ = sp.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("stock: ledger reference %s: %w", entry.Reference, shared.ErrDuplicateReference)
		}
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// GetBalance reads one balance row without locking.
func (r *Repository) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	b := Balance{ProductID: key.ProductID, WarehouseID: key.WarehouseID, LocationID: key.LocationID}
	var locID pgtype.Int8
	err := r.pool.QueryRow(ctx,
		`SELECT product_id, warehouse_id, location_id, quantity, reserved_quantity, updated_at
		 FROM stock_balances
		 WHERE product_id = $1 AND warehouse_id = $2 AND location_id IS NOT DISTINCT FROM $3`,
		key.ProductID, key.WarehouseID, locationArg(key.LocationID)).
		Scan(&b.ProductID, &b.WarehouseID, &locID, &b.Quantity, &b.Reserved, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	b.LocationID = locID.Int64
	return b, nil
}

// ListBalances returns balances matching the filter.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	query := `SELECT product_id, warehouse_id, location_id, quantity, reserved_quantity, updated_at
		 FROM stock_balances WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.ProductID != 0 {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		argCount++
		query += ` AND warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.WarehouseID)
	}
	query += ` ORDER BY product_id, warehouse_id, location_id NULLS FIRST`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		var locID pgtype.Int8
		if err := rows.Scan(&b.ProductID, &b.WarehouseID, &locID, &b.Quantity, &b.Reserved, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.LocationID = locID.Int64
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ProductSummary aggregates one product's rows, optionally per warehouse.
func (r *Repository) ProductSummary(ctx context.Context, productID, warehouseID int64) (Summary, error) {
	s := Summary{ProductID: productID, WarehouseID: warehouseID}
	query := `SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(reserved_quantity), 0)
		 FROM stock_balances WHERE product_id = $1`
	args := []any{productID}
	if warehouseID != 0 {
		query += ` AND warehouse_id = $2`
		args = append(args, warehouseID)
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&s.TotalQuantity, &s.TotalReserved); err != nil {
		return Summary{}, err
	}
	s.TotalAvailable = s.TotalQuantity.Sub(s.TotalReserved)
	return s, nil
}

// History returns ledger entries most-recent-first.
func (r *Repository) History(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	query := `SELECT id, reference, document_ref, line_id, product_id, from_warehouse_id, to_warehouse_id,
		   from_location_id, to_location_id, quantity, movement_type, before_qty, after_qty,
		   performed_by, occurred_at, extensions
		 FROM stock_ledger WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.ProductID != 0 {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		argCount++
		ph := strconv.Itoa(argCount)
		query += ` AND (from_warehouse_id = $` + ph + ` OR to_warehouse_id = $` + ph + `)`
		args = append(args, filter.WarehouseID)
	}
	if filter.Type != "" {
		argCount++
		query += ` AND movement_type = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if filter.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListLowStock joins balances against product reorder points. Zero
// warehouseID scans every warehouse.
func (r *Repository) ListLowStock(ctx context.Context, warehouseID int64) ([]LowStockRow, error) {
	query := `SELECT b.product_id, b.warehouse_id, b.location_id, b.quantity, b.reserved_quantity, b.updated_at,
		   p.sku, p.reorder_point
		 FROM stock_balances b
		 JOIN products p ON p.id = b.product_id
		 WHERE b.quantity <= p.reorder_point`
	args := []any{}
	if warehouseID != 0 {
		query += ` AND b.warehouse_id = $1`
		args = append(args, warehouseID)
	}
	query += ` ORDER BY b.quantity ASC, p.sku`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LowStockRow
	for rows.Next() {
		var row LowStockRow
		var locID pgtype.Int8
		if err := rows.Scan(&row.ProductID, &row.WarehouseID, &locID, &row.Quantity, &row.Reserved,
			&row.UpdatedAt, &row.SKU, &row.ReorderPoint); err != nil {
			return nil, err
		}
		row.LocationID = locID.Int64
		result = append(result, row)
	}
	return result, rows.Err()
}

func scanLedgerEntry(rows pgx.Rows) (LedgerEntry, error) {
	var e LedgerEntry
	var lineID, fromWh, toWh, fromLoc, toLoc, performedBy pgtype.Int8
	var occurredAt time.Time
	var qty, before, after decimal.Decimal
	err := rows.Scan(&e.ID, &e.Reference, &e.DocumentRef, &lineID, &e.ProductID, &fromWh, &toWh,
		&fromLoc, &toLoc, &qty, &e.Type, &before, &after, &performedBy, &occurredAt, &e.Extensions)
	if err != nil {
		return LedgerEntry{}, err
	}
	e.LineID = lineID.Int64
	e.FromWarehouseID = fromWh.Int64
	e.ToWarehouseID = toWh.Int64
	e.FromLocationID = fromLoc.Int64
	e.ToLocationID = toLoc.Int64
	e.PerformedBy = performedBy.Int64
	e.Quantity = qty
	e.BeforeQty = before
	e.AfterQty = after
	e.OccurredAt = occurredAt
	return e, nil
}
