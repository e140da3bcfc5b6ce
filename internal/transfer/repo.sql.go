package transfer

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

// NewRepository wires the transfer repository to the shared pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const transferColumns = `id, company_id, number, origin_warehouse_id, destination_warehouse_id, status, transfer_date, COALESCE(note, ''), created_by, approved_by, created_at, updated_at, deleted_at`

func scanTransfer(row pgx.Row) (StockTransfer, error) {
	var t StockTransfer
	err := row.Scan(&t.ID, &t.CompanyID, &t.Number, &t.OriginWarehouseID, &t.DestinationWarehouseID, &t.Status,
		&t.TransferDate, &t.Note, &t.CreatedBy, &t.ApprovedBy, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockTransfer{}, ErrNotFound
	}
	return t, err
}

const lineColumns = `id, transfer_id, product_variant_id, origin_entry_id, destination_entry_id, expected_qty, transferred_qty, has_serials`

func scanLine(row pgx.Row) (TransferLine, error) {
	var l TransferLine
	err := row.Scan(&l.ID, &l.TransferID, &l.ProductVariantID, &l.OriginEntryID, &l.DestinationEntryID,
		&l.ExpectedQty, &l.TransferredQty, &l.HasSerials)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransferLine{}, ErrNotFound
	}
	return l, err
}

// GetTransfer loads one transfer with its lines.
func (r *Repository) GetTransfer(ctx context.Context, companyID, transferID int64) (StockTransfer, []TransferLine, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL`,
		transferID, companyID))
	if err != nil {
		return StockTransfer{}, nil, err
	}
	lines, err := listLines(ctx, r.pool, transferID)
	if err != nil {
		return StockTransfer{}, nil, err
	}
	return t, lines, nil
}

// GetLineSerials lists the expected serial set for a line, company scoped.
func (r *Repository) GetLineSerials(ctx context.Context, companyID, lineID int64) ([]TransferSerial, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transfer_lines l
          JOIN stock_transfers t ON t.id = l.transfer_id
          WHERE l.id=$1 AND t.company_id=$2 AND t.deleted_at IS NULL)`,
		lineID, companyID).Scan(&ok)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return listLineSerials(ctx, r.pool, lineID)
}

// List pages transfers newest first.
func (r *Repository) List(ctx context.Context, companyID int64, filter ListFilter) ([]StockTransfer, int, error) {
	where := []string{"company_id = $1", "deleted_at IS NULL"}
	args := []any{companyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		idx := strconv.Itoa(len(args))
		where = append(where, "(origin_warehouse_id = $"+idx+" OR destination_warehouse_id = $"+idx+")")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transfers WHERE `+cond, args...).Scan(&total); err != nil {
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
		`SELECT `+transferColumns+` FROM stock_transfers WHERE `+cond+
			` ORDER BY id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []StockTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertTransfer(ctx context.Context, t StockTransfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_transfers (company_id, number, origin_warehouse_id, destination_warehouse_id, status, transfer_date, note, created_by, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, now(), now())
         RETURNING id`,
		t.CompanyID, t.Number, t.OriginWarehouseID, t.DestinationWarehouseID, t.Status, t.TransferDate, t.Note, t.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, l TransferLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO transfer_lines (transfer_id, product_variant_id, origin_entry_id, destination_entry_id, expected_qty, transferred_qty, has_serials)
         VALUES ($1, $2, $3, $4, $5, 0, $6)
         RETURNING id`,
		l.TransferID, l.ProductVariantID, l.OriginEntryID, l.DestinationEntryID, l.ExpectedQty, l.HasSerials).Scan(&id)
	return id, err
}

func (r *txRepository) InsertSerial(ctx context.Context, s TransferSerial) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO transfer_serials (line_id, serial_id, serial_number, is_received)
         VALUES ($1, $2, $3, false)
         RETURNING id`,
		s.LineID, s.SerialID, s.SerialNumber).Scan(&id)
	return id, err
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, companyID, transferID int64) (StockTransfer, error) {
	return scanTransfer(r.tx.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers
         WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL FOR UPDATE`,
		transferID, companyID))
}

func (r *txRepository) GetLineForUpdate(ctx context.Context, companyID, lineID int64) (TransferLine, StockTransfer, error) {
	line, err := scanLine(r.tx.QueryRow(ctx,
		`SELECT `+lineColumns+` FROM transfer_lines WHERE id=$1 FOR UPDATE`, lineID))
	if err != nil {
		return TransferLine{}, StockTransfer{}, err
	}
	t, err := scanTransfer(r.tx.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM stock_transfers
         WHERE id=$1 AND company_id=$2 AND deleted_at IS NULL FOR UPDATE`,
		line.TransferID, companyID))
	if err != nil {
		return TransferLine{}, StockTransfer{}, err
	}
	return line, t, nil
}

func (r *txRepository) ListLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return listLines(ctx, r.tx, transferID)
}

func listLines(ctx context.Context, q db.Querier, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx,
		`SELECT `+lineColumns+` FROM transfer_lines WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransferLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepository) ListLineSerials(ctx context.Context, lineID int64) ([]TransferSerial, error) {
	return listLineSerials(ctx, r.tx, lineID)
}

func listLineSerials(ctx context.Context, q db.Querier, lineID int64) ([]TransferSerial, error) {
	rows, err := q.Query(ctx,
		`SELECT id, line_id, serial_id, serial_number, is_received
         FROM transfer_serials WHERE line_id=$1 ORDER BY id`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransferSerial
	for rows.Next() {
		var s TransferSerial
		if err := rows.Scan(&s.ID, &s.LineID, &s.SerialID, &s.SerialNumber, &s.IsReceived); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateLineTransferredQty(ctx context.Context, lineID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET transferred_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

func (r *txRepository) MarkSerialReceived(ctx context.Context, serialID int64, received bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_serials SET is_received=$2 WHERE id=$1`, serialID, received)
	return err
}

func (r *txRepository) UpdateTransferStatus(ctx context.Context, transferID int64, status Status, approvedBy *int64) error {
	if approvedBy != nil {
		_, err := r.tx.Exec(ctx,
			`UPDATE stock_transfers SET status=$2, approved_by=$3, updated_at=now() WHERE id=$1`,
			transferID, status, *approvedBy)
		return err
	}
	_, err := r.tx.Exec(ctx,
		`UPDATE stock_transfers SET status=$2, updated_at=now() WHERE id=$1`, transferID, status)
	return err
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (ledger.Entry, error) {
	return ledger.GetEntryForUpdate(ctx, r.tx, companyID, entryID)
}

func (r *txRepository) GetEntryByKey(ctx context.Context, companyID, warehouseID, variantID int64) (ledger.Entry, error) {
	return ledger.GetEntryByKey(ctx, r.tx, companyID, warehouseID, variantID)
}

func (r *txRepository) FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults ledger.EntryDefaults) (ledger.Entry, error) {
	return ledger.FindOrCreateEntry(ctx, r.tx, companyID, warehouseID, variantID, defaults)
}

func (r *txRepository) AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error) {
	return ledger.AdjustEntryQty(ctx, r.tx, entryID, delta)
}

func (r *txRepository) GetActiveSerialOnEntry(ctx context.Context, entryID int64, serialNumber string) (ledger.SerialRecord, error) {
	return ledger.GetActiveSerialOnEntry(ctx, r.tx, entryID, serialNumber)
}

func (r *txRepository) MoveSerial(ctx context.Context, serialID, destEntryID int64) error {
	return ledger.MoveSerial(ctx, r.tx, serialID, destEntryID)
}
