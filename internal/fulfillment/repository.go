package fulfillment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-wms/meridian/internal/document"
	"github.com/meridian-wms/meridian/internal/platform/db"
	"github.com/meridian-wms/meridian/internal/shared"
	"github.com/meridian-wms/meridian/internal/stock"
)

// TxRepository spans document_lines, stock_balances and stock_ledger so a
// single line executes atomically: line patch, balance mutation and
// ledger append commit or roll back together.
type TxRepository interface {
	stock.TxRepository
	UpdateLine(ctx context.Context, line document.Line) error
}

// Repository opens executor transactions over one pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction that
// can touch both the document line and the stock tables.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: stock.NewTxRepository(tx), tx: tx})
	})
}

type txRepo struct {
	stock.TxRepository
	tx pgx.Tx
}

// UpdateLine patches line status and extensions inside the movement
// transaction.
func (r *txRepo) UpdateLine(ctx context.Context, line document.Line) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE document_lines SET status = $2, extensions = $3, updated_at = NOW() WHERE id = $1`,
		line.ID, string(line.Status), line.Extensions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fulfillment: document line %d: %w", line.ID, shared.ErrNotFound)
	}
	return nil
}
