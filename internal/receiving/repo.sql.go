package receiving

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository is the pgx-backed implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires the receiving repository to the shared pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const receiptColumns = `id, company_id, number, COALESCE(purchase_order_id, 0), warehouse_id, status, COALESCE(note, ''), created_by, created_at, updated_at, deleted_at`

func scanReceipt(row pgx.Row) (GoodsReceipt, error) {
	var gr GoodsReceipt
	err := row.Scan(&gr.ID, &gr.CompanyID, &gr.Number, &gr.PurchaseOrderID, &gr.WarehouseID, &gr.Status,
		&gr.Note, &gr.CreatedBy, &gr.CreatedAt, &gr.UpdatedAt, &gr.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, ErrNotFound
	}
	return gr, err
}

const lineColumns = `id, receipt_id, product_variant_id, expected_qty, received_qty, unit_cost, has_serials, is_synced, COALESCE(sku, ''), COALESCE(barcode, ''), critical_level_qty`

func scanLine(row pgx.Row) (ReceiptLine, error) {
	var l ReceiptLine
	err := row.Scan(&l.ID, &l.ReceiptID, &l.ProductVariantID, &l.ExpectedQty, &l.ReceivedQty, &l.UnitCost,
		&l.HasSerials, &l.IsSynced, &l.SKU, &l.Barcode, &l.CriticalLevelQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReceiptLine{}, ErrNotFound
	}
	return l, err
}

// GetReceipt loads one receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, companyID, receiptID int64) (GoodsReceipt, []ReceiptLine, error) {
	receipt, err := scanReceipt(r.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM goods_receipts WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL`,
		receiptID, companyID))
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	lines, err := listLines(ctx, r.pool, receiptID)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	return receipt, lines, nil
}

// GetPurchaseOrder reads the order header and lines this workflow needs.
func (r *Repository) GetPurchaseOrder(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, company_id, number, warehouse_id, status
         FROM purchase_orders WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL`,
		orderID, companyID).Scan(&po.ID, &po.CompanyID, &po.Number, &po.WarehouseID, &po.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.product_variant_id, l.qty, l.unit_cost,
                COALESCE(v.has_serials, false), COALESCE(v.sku, ''), COALESCE(v.barcode, ''), v.critical_level_qty
         FROM purchase_order_lines l
         JOIN product_variants v ON v.id = l.product_variant_id
         WHERE l.purchase_order_id=$1
         ORDER BY l.id`, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ln PurchaseOrderLine
		if err := rows.Scan(&ln.ID, &ln.ProductVariantID, &ln.Qty, &ln.UnitCost,
			&ln.HasSerials, &ln.SKU, &ln.Barcode, &ln.CriticalLevelQty); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, ln)
	}
	return po, rows.Err()
}

// ReceiptExistsForOrder enforces the one-receipt-per-order rule.
func (r *Repository) ReceiptExistsForOrder(ctx context.Context, companyID, orderID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM goods_receipts
          WHERE purchase_order_id=$1 AND company_id=$2 AND deleted_at IS NULL)`,
		orderID, companyID).Scan(&exists)
	return exists, err
}

// List pages receipts newest first.
func (r *Repository) List(ctx context.Context, companyID int64, filter ListFilter) ([]GoodsReceipt, int, error) {
	where := []string{"company_id = $1", "deleted_at IS NULL"}
	args := []any{companyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_receipts WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx,
		`SELECT `+receiptColumns+` FROM goods_receipts WHERE `+cond+
			` ORDER BY id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []GoodsReceipt
	for rows.Next() {
		gr, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, gr)
	}
	return out, total, rows.Err()
}

// GetLineSerials lists the serials received against one line, company scoped.
func (r *Repository) GetLineSerials(ctx context.Context, companyID, lineID int64) ([]ReceiptSerial, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM receipt_lines l
          JOIN goods_receipts g ON g.id = l.receipt_id
          WHERE l.id=$1 AND g.company_id=$2 AND g.deleted_at IS NULL)`,
		lineID, companyID).Scan(&ok)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return listLineSerials(ctx, r.pool, lineID)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO goods_receipts (company_id, number, purchase_order_id, warehouse_id, status, note, created_by, created_at, updated_at)
         VALUES ($1, $2, NULLIF($3, 0), $4, $5, NULLIF($6, ''), $7, now(), now())
         RETURNING id`,
		gr.CompanyID, gr.Number, gr.PurchaseOrderID, gr.WarehouseID, gr.Status, gr.Note, gr.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, l ReceiptLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO receipt_lines (receipt_id, product_variant_id, expected_qty, received_qty, unit_cost, has_serials, is_synced, sku, barcode, critical_level_qty)
         VALUES ($1, $2, $3, 0, $4, $5, false, NULLIF($6, ''), NULLIF($7, ''), $8)
         RETURNING id`,
		l.ReceiptID, l.ProductVariantID, l.ExpectedQty, l.UnitCost, l.HasSerials, l.SKU, l.Barcode, l.CriticalLevelQty).Scan(&id)
	return id, err
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, companyID, receiptID int64) (GoodsReceipt, error) {
	return scanReceipt(r.tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM goods_receipts
         WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL FOR UPDATE`,
		receiptID, companyID))
}

func (r *txRepository) GetLineForUpdate(ctx context.Context, companyID, lineID int64) (ReceiptLine, GoodsReceipt, error) {
	line, err := scanLine(r.tx.QueryRow(ctx,
		`SELECT `+lineColumns+` FROM receipt_lines WHERE id=$1 FOR UPDATE`, lineID))
	if err != nil {
		return ReceiptLine{}, GoodsReceipt{}, err
	}
	receipt, err := scanReceipt(r.tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM goods_receipts
         WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL FOR UPDATE`,
		line.ReceiptID, companyID))
	if err != nil {
		return ReceiptLine{}, GoodsReceipt{}, err
	}
	return line, receipt, nil
}

func (r *txRepository) ListLines(ctx context.Context, receiptID int64) ([]ReceiptLine, error) {
	return listLines(ctx, r.tx, receiptID)
}

func listLines(ctx context.Context, q db.Querier, receiptID int64) ([]ReceiptLine, error) {
	rows, err := q.Query(ctx,
		`SELECT `+lineColumns+` FROM receipt_lines WHERE receipt_id=$1 ORDER BY id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReceiptLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateLineReceivedQty(ctx context.Context, lineID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipt_lines SET received_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

func (r *txRepository) MarkLineSynced(ctx context.Context, lineID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipt_lines SET is_synced=true WHERE id=$1`, lineID)
	return err
}

func (r *txRepository) UpdateReceiptStatus(ctx context.Context, receiptID int64, status Status) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE goods_receipts SET status=$2, updated_at=now() WHERE id=$1`, receiptID, status)
	return err
}

func (r *txRepository) InsertLineSerial(ctx context.Context, s ReceiptSerial) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO receipt_serials (line_id, serial_number, batch_number, manufactured_at, expired_at, created_at)
         VALUES ($1, $2, NULLIF($3, ''), $4, $5, now())
         RETURNING id`,
		s.LineID, s.SerialNumber, s.BatchNumber, s.ManufacturedAt, s.ExpiredAt).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, ledger.ErrDuplicateSerial
	}
	return id, err
}

func (r *txRepository) DeleteLineSerial(ctx context.Context, lineID int64, serialNumber string) (bool, error) {
	tag, err := r.tx.Exec(ctx,
		`DELETE FROM receipt_serials WHERE line_id=$1 AND serial_number=$2`, lineID, serialNumber)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepository) CountLineSerials(ctx context.Context, lineID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM receipt_serials WHERE line_id=$1`, lineID).Scan(&n)
	return n, err
}

func (r *txRepository) ListLineSerials(ctx context.Context, lineID int64) ([]ReceiptSerial, error) {
	return listLineSerials(ctx, r.tx, lineID)
}

func listLineSerials(ctx context.Context, q db.Querier, lineID int64) ([]ReceiptSerial, error) {
	rows, err := q.Query(ctx,
		`SELECT id, line_id, serial_number, COALESCE(batch_number, ''), manufactured_at, expired_at, created_at
         FROM receipt_serials WHERE line_id=$1 ORDER BY id`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReceiptSerial
	for rows.Next() {
		var s ReceiptSerial
		if err := rows.Scan(&s.ID, &s.LineID, &s.SerialNumber, &s.BatchNumber, &s.ManufacturedAt, &s.ExpiredAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SerialNumberInUse reports whether the serial is active anywhere in the
// company: either live in the ledger or pending on an unsynced receipt line.
func (r *txRepository) SerialNumberInUse(ctx context.Context, companyID int64, serialNumber string) (bool, error) {
	inLedger, err := ledger.ActiveSerialInUse(ctx, r.tx, companyID, serialNumber)
	if err != nil {
		return false, err
	}
	if inLedger {
		return true, nil
	}
	var pending bool
	err = r.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM receipt_serials s
          JOIN receipt_lines l ON l.id = s.line_id
          JOIN goods_receipts g ON g.id = l.receipt_id
          WHERE s.serial_number=$1 AND g.company_id=$2 AND l.is_synced=false AND g.deleted_at IS NULL)`,
		serialNumber, companyID).Scan(&pending)
	return pending, err
}

func (r *txRepository) UpdatePurchaseOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE purchase_orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, status)
	return err
}

func (r *txRepository) FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults ledger.EntryDefaults) (ledger.Entry, error) {
	return ledger.FindOrCreateEntry(ctx, r.tx, companyID, warehouseID, variantID, defaults)
}

func (r *txRepository) AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error) {
	return ledger.AdjustEntryQty(ctx, r.tx, entryID, delta)
}

func (r *txRepository) UpdateEntryCost(ctx context.Context, entryID int64, lastCost float64) error {
	return ledger.UpdateEntryCost(ctx, r.tx, entryID, lastCost)
}

func (r *txRepository) InsertLedgerSerial(ctx context.Context, s ledger.SerialRecord) (int64, error) {
	return ledger.InsertSerial(ctx, r.tx, s)
}
