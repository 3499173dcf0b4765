package stockdoc

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

// Repository persists stock documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface document lifecycle calls run
// against. Ledger exposes the same transaction so document state and stock
// deltas commit together.
type TxRepository interface {
	NumberAllocator
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	InsertLines(ctx context.Context, docID int64, lines []Line) error
	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	UpdateDocumentStatus(ctx context.Context, doc Document) error
	Ledger() ledger.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stockdoc repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Get loads one document with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Document, error) {
	if r == nil {
		return Document{}, errors.New("stockdoc repository not initialised")
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Document{}, shared.ErrTenantRequired
	}
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+`
FROM stock_documents WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = queryLines(ctx, r.pool, tenantID, id)
	return doc, err
}

// ListFilter restricts List.
type ListFilter struct {
	Type    Type
	Status  Status
	RefType string
	RefID   string
	Limit   int
}

// List returns matching documents without lines, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if r == nil {
		return nil, errors.New("stockdoc repository not initialised")
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+`
FROM stock_documents
WHERE tenant_id=$1
  AND ($2 = '' OR doc_type=$2)
  AND ($3 = '' OR status=$3)
  AND ($4 = '' OR ref_type=$4)
  AND ($5 = '' OR ref_id=$5)
ORDER BY id DESC
LIMIT $6`, tenantID, string(filter.Type), string(filter.Status), filter.RefType, filter.RefID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

const documentColumns = `id, doc_number, doc_type, status,
source_kind, source_id, dest_kind, dest_id,
ref_type, ref_id, reason, note,
created_by, created_at, updated_by, updated_at, shipped_at, posted_at, cancelled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var srcKind, dstKind, refType, refID, reason, note *string
	var srcID, dstID *int64
	err := row.Scan(&doc.ID, &doc.Number, &doc.Type, &doc.Status,
		&srcKind, &srcID, &dstKind, &dstID,
		&refType, &refID, &reason, &note,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedBy, &doc.UpdatedAt,
		&doc.ShippedAt, &doc.PostedAt, &doc.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	if srcKind != nil && srcID != nil {
		doc.Source = ledger.LocationRef{Kind: ledger.LocationKind(*srcKind), ID: *srcID}
	}
	if dstKind != nil && dstID != nil {
		doc.Destination = ledger.LocationRef{Kind: ledger.LocationKind(*dstKind), ID: *dstID}
	}
	doc.RefType = deref(refType)
	doc.RefID = deref(refID)
	doc.Reason = deref(reason)
	doc.Note = deref(note)
	return doc, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, tenantID, docID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, item_id, qty, unit_cost, bucket, convert_to_item_id, ratio, note
FROM stock_document_lines WHERE tenant_id=$1 AND document_id=$2 ORDER BY id ASC`, tenantID, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		var bucket *string
		var convertTo *int64
		if err := rows.Scan(&line.ID, &line.ItemID, &line.Qty, &line.UnitCost, &bucket, &convertTo, &line.Ratio, &line.Note); err != nil {
			return nil, err
		}
		if bucket != nil {
			line.Bucket = ledger.Status(*bucket)
		}
		if convertTo != nil {
			line.ConvertToItemID = *convertTo
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) NextNumber(ctx context.Context, docType Type, p string) (int64, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return 0, shared.ErrTenantRequired
	}
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_doc_sequences (tenant_id, doc_type, period, last_value)
VALUES ($1,$2,$3,1)
ON CONFLICT (tenant_id, doc_type, period)
DO UPDATE SET last_value = stock_doc_sequences.last_value + 1
RETURNING last_value`, tenantID, docType, p).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return 0, shared.ErrTenantRequired
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_documents
(tenant_id, doc_number, doc_type, status, source_kind, source_id, dest_kind, dest_id, ref_type, ref_id, reason, note, created_by, created_at, updated_by, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),$13,NOW())
RETURNING id`,
		tenantID, doc.Number, doc.Type, doc.Status,
		locKind(doc.Source), locID(doc.Source), locKind(doc.Destination), locID(doc.Destination),
		nullString(doc.RefType), nullString(doc.RefID), nullString(doc.Reason), nullString(doc.Note),
		doc.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, docID int64, lines []Line) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO stock_document_lines
(tenant_id, document_id, item_id, qty, unit_cost, bucket, convert_to_item_id, ratio, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			tenantID, docID, line.ItemID, line.Qty, line.UnitCost,
			nullString(string(line.Bucket)), nullInt(line.ConvertToItemID), line.Ratio, line.Note)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return Document{}, shared.ErrTenantRequired
	}
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+`
FROM stock_documents WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = queryLines(ctx, r.tx, tenantID, id)
	return doc, err
}

func (r *txRepository) UpdateDocumentStatus(ctx context.Context, doc Document) error {
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == 0 {
		return shared.ErrTenantRequired
	}
	_, err := r.tx.Exec(ctx, `UPDATE stock_documents
SET status=$3, reason=$4, updated_by=$5, updated_at=NOW(), shipped_at=$6, posted_at=$7, cancelled_at=$8
WHERE tenant_id=$1 AND id=$2`,
		tenantID, doc.ID, doc.Status, nullString(doc.Reason), doc.UpdatedBy,
		doc.ShippedAt, doc.PostedAt, doc.CancelledAt)
	return err
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

func locKind(loc ledger.LocationRef) any {
	if loc.IsZero() {
		return nil
	}
	return string(loc.Kind)
}

func locID(loc ledger.LocationRef) any {
	if loc.IsZero() {
		return nil
	}
	return loc.ID
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
