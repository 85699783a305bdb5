package document

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-wms/meridian/internal/shared"
)

// Repository persists documents and lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const documentColumns = `id, reference, doc_type, status, warehouse_id, dest_warehouse_id,
	from_location_id, to_location_id, contact_id, scheduled_at, notes,
	created_by, owner_id, responsible_id, validated_by, validated_at,
	extensions, created_at, updated_at`

const lineColumns = `id, document_id, product_id, quantity, uom, unit_cost, status, extensions, created_at, updated_at`

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

// Create inserts a document header.
func (r *Repository) Create(ctx context.Context, doc Document) (Document, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO documents
		   (reference, doc_type, status, warehouse_id, dest_warehouse_id, from_location_id, to_location_id,
		    contact_id, scheduled_at, notes, created_by, owner_id, responsible_id, extensions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at, updated_at`,
		doc.Reference, string(doc.Type), string(doc.Status), doc.WarehouseID,
		nullableID(doc.DestWarehouseID), nullableID(doc.FromLocationID), nullableID(doc.ToLocationID),
		nullableID(doc.ContactID), nullableTime(doc.ScheduledAt), doc.Notes,
		doc.CreatedBy, doc.OwnerID, nullableID(doc.ResponsibleID), doc.Extensions).
		Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get loads one document by id.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
		}
		return Document{}, err
	}
	return doc, nil
}

// List returns documents matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.Type != "" {
		argCount++
		query += ` AND doc_type = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		argCount++
		query += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Status))
	}
	if filter.WarehouseID != 0 {
		argCount++
		query += ` AND warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.WarehouseID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.Limit)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateStatus writes the new status, stamping validation attribution
// when provided.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status, validatedBy int64, validatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE documents
		 SET status = $2,
		     validated_by = COALESCE($3, validated_by),
		     validated_at = COALESCE($4, validated_at),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, string(status), nullableID(validatedBy), nullableTime(validatedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// Delete removes a document and its lines.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// InsertLine attaches a line to a document.
func (r *Repository) InsertLine(ctx context.Context, line Line) (Line, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO document_lines (document_id, product_id, quantity, uom, unit_cost, status, extensions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		line.DocumentID, line.ProductID, line.Quantity, line.UOM, line.UnitCost,
		string(line.Status), line.Extensions).
		Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// GetLine loads one line.
func (r *Repository) GetLine(ctx context.Context, id int64) (Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE id = $1`, id)
	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, fmt.Errorf("document line %d: %w", id, shared.ErrNotFound)
		}
		return Line{}, err
	}
	return line, nil
}

// ListLines returns the lines of a document in insertion order.
func (r *Repository) ListLines(ctx context.Context, documentID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM document_lines WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// UpdateLine rewrites the mutable line fields.
func (r *Repository) UpdateLine(ctx context.Context, line Line) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE document_lines
		 SET product_id = $2, quantity = $3, uom = $4, unit_cost = $5, status = $6, extensions = $7, updated_at = NOW()
		 WHERE id = $1`,
		line.ID, line.ProductID, line.Quantity, line.UOM, line.UnitCost, string(line.Status), line.Extensions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document line %d: %w", line.ID, shared.ErrNotFound)
	}
	return nil
}

// DeleteLine removes one line.
func (r *Repository) DeleteLine(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM document_lines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document line %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var destWh, fromLoc, toLoc, contact, responsible, validatedBy pgtype.Int8
	var scheduledAt, validatedAt pgtype.Timestamptz
	err := row.Scan(&doc.ID, &doc.Reference, &doc.Type, &doc.Status, &doc.WarehouseID, &destWh,
		&fromLoc, &toLoc, &contact, &scheduledAt, &doc.Notes,
		&doc.CreatedBy, &doc.OwnerID, &responsible, &validatedBy, &validatedAt,
		&doc.Extensions, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	doc.DestWarehouseID = destWh.Int64
	doc.FromLocationID = fromLoc.Int64
	doc.ToLocationID = toLoc.Int64
	doc.ContactID = contact.Int64
	doc.ResponsibleID = responsible.Int64
	doc.ValidatedBy = validatedBy.Int64
	doc.ScheduledAt = scheduledAt.Time
	doc.ValidatedAt = validatedAt.Time
	return doc, nil
}

func scanLine(row pgx.Row) (Line, error) {
	var line Line
	err := row.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.Quantity, &line.UOM,
		&line.UnitCost, &line.Status, &line.Extensions, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return Line{}, err
	}
	return line, nil
}
