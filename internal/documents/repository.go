package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gescom-erp/gescom/internal/fiscal"
	"github.com/gescom-erp/gescom/internal/platform/db"
	"github.com/gescom-erp/gescom/internal/sequence"
	"github.com/gescom-erp/gescom/internal/shared"
	"github.com/gescom-erp/gescom/internal/stock"
)

// Repository provides PostgreSQL backed persistence for documents.
type Repository struct {
	pool *pgxpool.Pool
	seq  *sequence.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, seq: sequence.NewRepository(pool)}
}

// TxRepository exposes the operations that must share one atomic unit.
type TxRepository interface {
	NextNumber(ctx context.Context, tenantID int64, name string) (string, error)
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	DeleteLines(ctx context.Context, documentID int64) error
	UpdateDocumentStatus(ctx context.Context, id int64, status Status) error
	UpdateDocumentTotals(ctx context.Context, id int64, totals fiscal.DocumentTotals) error
	GetDocumentForUpdate(ctx context.Context, tenantID, id int64) (*Document, error)
	// IncrementAccumulator adds qty to one line's counter, guarded so the
	// post-increment value cannot exceed the line quantity. Returns false
	// when the guard rejects the increment.
	IncrementAccumulator(ctx context.Context, lineID int64, kind AccumulatorKind, qty float64) (bool, error)
	InsertLink(ctx context.Context, srcID, dstID int64) error
	InsertMovement(ctx context.Context, m stock.Movement) (int64, error)
	// ClaimIdempotencyKey reserves a caller-supplied key inside the ambient
	// transaction, so the claim commits or rolls back with the work itself.
	ClaimIdempotencyKey(ctx context.Context, tenantID int64, key, module string) error
}

type txRepo struct {
	tx    pgx.Tx
	seq   *sequence.Repository
	stock *stock.Repository
	now   func() time.Time
}

// WithTx wraps the callback in a repeatable-read transaction. Serialization
// losers surface as conflicts after the retry budget, begin/commit failures
// as transient so callers know a retry may succeed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var cbErr error
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepo{
			tx:    tx,
			seq:   r.seq.WithTx(tx),
			stock: stock.NewRepository(r.pool).WithTx(tx),
			now:   time.Now,
		}
		cbErr = fn(ctx, wrapper)
		return cbErr
	})
	return mapTxError(cbErr, err)
}

// mapTxError translates a finished transaction's outcome onto the shared
// taxonomy. txErr is what db.WithTx returned, cbErr what the callback
// returned on the last attempt; they are the same object when the callback
// itself failed. A serialization failure that exhausted its retries means
// this request lost a race on current state, which is a conflict the caller
// may resolve by re-reading and resubmitting, not an internal error.
func mapTxError(cbErr, txErr error) error {
	if txErr == nil {
		return nil
	}
	if db.SerializationFailure(txErr) {
		return fmt.Errorf("documents: tx: concurrent update on the same document: %w", shared.ErrConflict)
	}
	if cbErr != nil {
		return cbErr
	}
	return fmt.Errorf("documents: tx: %w: %v", shared.ErrTransient, txErr)
}

// GetDocument loads a document with lines and links.
func (r *Repository) GetDocument(ctx context.Context, tenantID, id int64) (*Document, error) {
	doc, err := scanDocument(ctx, r.pool, tenantID, id, false)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListRequest filters document listings.
type ListRequest struct {
	TenantID int64
	Type     *Type
	Status   *Status
	PartyID  *int64
	Limit    int
	Offset   int
}

// ListDocuments returns document headers without lines.
func (r *Repository) ListDocuments(ctx context.Context, req ListRequest) ([]Document, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, doc_type, number, status, party_id, party_name, currency,
		       total_net::text, total_fodec::text, total_tax::text, total_stamp::text,
		       total_withholding::text, total_payable::text,
		       notes, created_by, created_at, updated_at
		FROM documents
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR doc_type = $2)
		  AND ($3::text IS NULL OR status = $3)
		  AND ($4::bigint IS NULL OR party_id = $4)
		ORDER BY id DESC
		LIMIT $5 OFFSET $6`,
		req.TenantID, typeParam(req.Type), statusParam(req.Status), req.PartyID, limit, req.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func typeParam(t *Type) any {
	if t == nil {
		return nil
	}
	return string(*t)
}

func statusParam(s *Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocumentRow(row rowScanner) (*Document, error) {
	var (
		doc                                       Document
		docType, status                           string
		net, fodec, tax, stamp, withhold, payable string
	)
	err := row.Scan(&doc.ID, &doc.TenantID, &docType, &doc.Number, &status,
		&doc.PartyID, &doc.PartyName, &doc.Currency,
		&net, &fodec, &tax, &stamp, &withhold, &payable,
		&doc.Notes, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Type = Type(docType)
	doc.Status = Status(status)
	if doc.Totals, err = parseTotals(net, fodec, tax, stamp, withhold, payable); err != nil {
		return nil, err
	}
	return &doc, nil
}

func parseTotals(net, fodec, tax, stamp, withhold, payable string) (fiscal.DocumentTotals, error) {
	var t fiscal.DocumentTotals
	var err error
	if t.Net, err = decimal.NewFromString(net); err != nil {
		return t, err
	}
	if t.Fodec, err = decimal.NewFromString(fodec); err != nil {
		return t, err
	}
	if t.Tax, err = decimal.NewFromString(tax); err != nil {
		return t, err
	}
	if t.Stamp, err = decimal.NewFromString(stamp); err != nil {
		return t, err
	}
	if t.Withholding, err = decimal.NewFromString(withhold); err != nil {
		return t, err
	}
	if t.Payable, err = decimal.NewFromString(payable); err != nil {
		return t, err
	}
	return t, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanDocument(ctx context.Context, q queryer, tenantID, id int64, forUpdate bool) (*Document, error) {
	headerQuery := `
		SELECT id, tenant_id, doc_type, number, status, party_id, party_name, currency,
		       total_net::text, total_fodec::text, total_tax::text, total_stamp::text,
		       total_withholding::text, total_payable::text,
		       notes, created_by, created_at, updated_at
		FROM documents WHERE tenant_id=$1 AND id=$2`
	linesQuery := `
		SELECT id, document_id, product_id, designation, uom, quantity,
		       unit_price::text, discount_percent::text, tax_percent::text,
		       qty_delivered, qty_received, qty_invoiced, source_line_id, line_order,
		       net::text, tax::text, total::text
		FROM document_lines WHERE document_id=$1 ORDER BY line_order ASC, id ASC`
	if forUpdate {
		headerQuery += " FOR UPDATE"
		linesQuery += " FOR UPDATE"
	}

	doc, err := scanDocumentRow(q.QueryRow(ctx, headerQuery, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}

	rows, err := q.Query(ctx, linesQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line                               Line
			price, discount, taxPct, net, tax  string
			total                              string
		)
		err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.Designation,
			&line.UOM, &line.Quantity, &price, &discount, &taxPct,
			&line.QtyDelivered, &line.QtyReceived, &line.QtyInvoiced,
			&line.SourceLineID, &line.LineOrder, &net, &tax, &total)
		if err != nil {
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if line.DiscountPercent, err = decimal.NewFromString(discount); err != nil {
			return nil, err
		}
		if line.TaxPercent, err = decimal.NewFromString(taxPct); err != nil {
			return nil, err
		}
		if line.Net, err = decimal.NewFromString(net); err != nil {
			return nil, err
		}
		if line.Tax, err = decimal.NewFromString(tax); err != nil {
			return nil, err
		}
		if line.Total, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := q.Query(ctx, `
		SELECT CASE WHEN src_document_id=$1 THEN dst_document_id ELSE src_document_id END
		FROM document_links WHERE src_document_id=$1 OR dst_document_id=$1
		ORDER BY 1`, id)
	if err != nil {
		return nil, err
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var linked int64
		if err := linkRows.Scan(&linked); err != nil {
			return nil, err
		}
		doc.LinkedDocuments = append(doc.LinkedDocuments, linked)
	}
	return doc, linkRows.Err()
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (r *txRepo) NextNumber(ctx context.Context, tenantID int64, name string) (string, error) {
	tpl, err := r.seq.Template(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	value, err := r.seq.Increment(ctx, tenantID, name)
	if err != nil {
		return "", fmt.Errorf("documents: increment %s: %w: %v", name, shared.ErrTransient, err)
	}
	return sequence.Render(tpl, value, r.now()), nil
}

func (r *txRepo) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO documents (tenant_id, doc_type, number, status, party_id, party_name, currency,
		                       total_net, total_fodec, total_tax, total_stamp, total_withholding, total_payable,
		                       notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id`,
		doc.TenantID, string(doc.Type), doc.Number, string(doc.Status), doc.PartyID, doc.PartyName, doc.Currency,
		doc.Totals.Net, doc.Totals.Fodec, doc.Totals.Tax, doc.Totals.Stamp, doc.Totals.Withholding, doc.Totals.Payable,
		doc.Notes, doc.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: %s %s", ErrDuplicateNumber, doc.Type, doc.Number)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO document_lines (document_id, product_id, designation, uom, quantity,
		                            unit_price, discount_percent, tax_percent,
		                            qty_delivered, qty_received, qty_invoiced,
		                            source_line_id, line_order, net, tax, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id`,
		line.DocumentID, line.ProductID, line.Designation, line.UOM, line.Quantity,
		line.UnitPrice, line.DiscountPercent, line.TaxPercent,
		line.QtyDelivered, line.QtyReceived, line.QtyInvoiced,
		line.SourceLineID, line.LineOrder, line.Net, line.Tax, line.Total).Scan(&id)
	return id, err
}

func (r *txRepo) DeleteLines(ctx context.Context, documentID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, documentID)
	return err
}

func (r *txRepo) UpdateDocumentStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE documents SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepo) UpdateDocumentTotals(ctx context.Context, id int64, totals fiscal.DocumentTotals) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE documents
		SET total_net=$2, total_fodec=$3, total_tax=$4, total_stamp=$5,
		    total_withholding=$6, total_payable=$7, updated_at=NOW()
		WHERE id=$1`,
		id, totals.Net, totals.Fodec, totals.Tax, totals.Stamp, totals.Withholding, totals.Payable)
	return err
}

func (r *txRepo) GetDocumentForUpdate(ctx context.Context, tenantID, id int64) (*Document, error) {
	return scanDocument(ctx, r.tx, tenantID, id, true)
}

var accumulatorColumn = map[AccumulatorKind]string{
	AccDelivered: "qty_delivered",
	AccReceived:  "qty_received",
	AccInvoiced:  "qty_invoiced",
}

func (r *txRepo) IncrementAccumulator(ctx context.Context, lineID int64, kind AccumulatorKind, qty float64) (bool, error) {
	column, ok := accumulatorColumn[kind]
	if !ok {
		return false, fmt.Errorf("documents: unknown accumulator %q", kind)
	}
	// The guard rides on the UPDATE itself: the store evaluates the check
	// against the current row under its own lock, so two racing conversions
	// cannot both pass it. Zero rows affected means the increment lost.
	// The tolerance matches qtyEpsilon so a final increment that lands at
	// the full quantity is not rejected over float representation error.
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`
		UPDATE document_lines
		SET %[1]s = %[1]s + $2
		WHERE id = $1 AND %[1]s + $2 <= quantity + 1e-9`, column), lineID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) InsertLink(ctx context.Context, srcID, dstID int64) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO document_links (src_document_id, dst_document_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, srcID, dstID)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	return r.stock.Insert(ctx, m)
}

func (r *txRepo) ClaimIdempotencyKey(ctx context.Context, tenantID int64, key, module string) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (tenant_id, key, module, created_at)
		VALUES ($1, $2, $3, $4)`, tenantID, key, module, r.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("idempotency key %q: %w", key, shared.ErrIdempotencyConflict)
		}
		return err
	}
	return nil
}
