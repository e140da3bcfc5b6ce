package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// The functions below accept a db.Querier so sibling modules (receiving,
// transfer) can run them inside their own transactions and keep each
// multi-table mutation atomic.

const entryColumns = `id, company_id, warehouse_id, product_variant_id, qty_on_hand, has_serials, critical_level_qty, last_cost, sku, barcode, created_at, updated_at, deleted_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.CompanyID, &e.WarehouseID, &e.ProductVariantID, &e.QtyOnHand, &e.HasSerials,
		&e.CriticalLevelQty, &e.LastCost, &e.SKU, &e.Barcode, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// GetEntry loads one entry scoped by company.
func GetEntry(ctx context.Context, q db.Querier, companyID, entryID int64) (Entry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL`, companyID, entryID))
}

// GetEntryForUpdate loads one entry with a row lock held until tx end.
func GetEntryForUpdate(ctx context.Context, q db.Querier, companyID, entryID int64) (Entry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL FOR UPDATE`, companyID, entryID))
}

// GetEntryByKey loads one entry by its natural warehouse/variant key.
func GetEntryByKey(ctx context.Context, q db.Querier, companyID, warehouseID, variantID int64) (Entry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND warehouse_id=$2 AND product_variant_id=$3 AND deleted_at IS NULL`, companyID, warehouseID, variantID))
}

// FindOrCreateEntry returns the entry for warehouse/variant, creating it
// with zero quantity on first use. The returned row is locked.
func FindOrCreateEntry(ctx context.Context, q db.Querier, companyID, warehouseID, variantID int64, defaults EntryDefaults) (Entry, error) {
	_, err := q.Exec(ctx, `INSERT INTO ledger_entries (company_id, warehouse_id, product_variant_id, qty_on_hand, has_serials, critical_level_qty, last_cost, sku, barcode, created_at, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,$7,$8,NOW(),NOW())
ON CONFLICT (company_id, warehouse_id, product_variant_id) DO NOTHING`,
		companyID, warehouseID, variantID, defaults.HasSerials, defaults.CriticalLevelQty, defaults.LastCost, defaults.SKU, defaults.Barcode)
	if err != nil {
		return Entry{}, err
	}
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND warehouse_id=$2 AND product_variant_id=$3 FOR UPDATE`, companyID, warehouseID, variantID))
}

// AdjustEntryQty applies a signed delta and returns the new quantity. The
// caller must already hold the row lock and have verified the result stays
// non-negative; the CHECK constraint is the last line of defence.
func AdjustEntryQty(ctx context.Context, q db.Querier, entryID int64, delta float64) (float64, error) {
	var qty float64
	err := q.QueryRow(ctx, `UPDATE ledger_entries SET qty_on_hand = qty_on_hand + $2, updated_at = NOW()
WHERE id=$1 RETURNING qty_on_hand`, entryID, delta).Scan(&qty)
	return qty, err
}

// UpdateEntryCost records the latest unit cost seen for the entry.
func UpdateEntryCost(ctx context.Context, q db.Querier, entryID int64, lastCost float64) error {
	_, err := q.Exec(ctx, `UPDATE ledger_entries SET last_cost=$2, updated_at=NOW() WHERE id=$1`, entryID, lastCost)
	return err
}

// ListEntries returns a filtered page of entries plus the total count.
func ListEntries(ctx context.Context, q db.Querier, companyID int64, filter ListFilter) ([]Entry, int, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE company_id=$1 AND deleted_at IS NULL`
	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE company_id=$1 AND deleted_at IS NULL`
	args := []any{companyID}

	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		cond := ` AND warehouse_id=$` + strconv.Itoa(len(args))
		query += cond
		countQuery += cond
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		cond := ` AND (sku ILIKE $` + strconv.Itoa(len(args)) + ` OR barcode ILIKE $` + strconv.Itoa(len(args)) + `)`
		query += cond
		countQuery += cond
	}

	var total int
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
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
	query += ` ORDER BY warehouse_id, product_variant_id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.WarehouseID, &e.ProductVariantID, &e.QtyOnHand, &e.HasSerials,
			&e.CriticalLevelQty, &e.LastCost, &e.SKU, &e.Barcode, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

const serialColumns = `id, entry_id, serial_number, batch_number, manufactured_at, expired_at, is_sold, created_at, deleted_at`

func scanSerial(row pgx.Row) (SerialRecord, error) {
	var s SerialRecord
	err := row.Scan(&s.ID, &s.EntryID, &s.SerialNumber, &s.BatchNumber, &s.ManufacturedAt, &s.ExpiredAt, &s.IsSold, &s.CreatedAt, &s.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SerialRecord{}, ErrSerialNotFound
		}
		return SerialRecord{}, err
	}
	return s, nil
}

// InsertSerial stores a new serial record bound to an entry.
func InsertSerial(ctx context.Context, q db.Querier, s SerialRecord) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO serial_records (entry_id, serial_number, batch_number, manufactured_at, expired_at, is_sold, created_at)
VALUES ($1,$2,$3,$4,$5,false,NOW()) RETURNING id`,
		s.EntryID, s.SerialNumber, s.BatchNumber, s.ManufacturedAt, s.ExpiredAt).Scan(&id)
	if err != nil && db.IsUniqueViolation(err) {
		return 0, ErrDuplicateSerial
	}
	return id, err
}

// ActiveSerialInUse reports whether a serial number is active anywhere in
// the company's ledger.
func ActiveSerialInUse(ctx context.Context, q db.Querier, companyID int64, serialNumber string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM serial_records s
JOIN ledger_entries e ON e.id = s.entry_id
WHERE e.company_id=$1 AND s.serial_number=$2 AND s.is_sold=false AND s.deleted_at IS NULL)`,
		companyID, serialNumber).Scan(&exists)
	return exists, err
}

// GetActiveSerialOnEntry finds an unsold serial currently bound to entryID.
func GetActiveSerialOnEntry(ctx context.Context, q db.Querier, entryID int64, serialNumber string) (SerialRecord, error) {
	return scanSerial(q.QueryRow(ctx, `SELECT `+serialColumns+`
FROM serial_records WHERE entry_id=$1 AND serial_number=$2 AND is_sold=false AND deleted_at IS NULL`, entryID, serialNumber))
}

// ListSerials returns active serials bound to an entry.
func ListSerials(ctx context.Context, q db.Querier, entryID int64) ([]SerialRecord, error) {
	rows, err := q.Query(ctx, `SELECT `+serialColumns+`
FROM serial_records WHERE entry_id=$1 AND deleted_at IS NULL ORDER BY serial_number`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	serials := []SerialRecord{}
	for rows.Next() {
		var s SerialRecord
		if err := rows.Scan(&s.ID, &s.EntryID, &s.SerialNumber, &s.BatchNumber, &s.ManufacturedAt, &s.ExpiredAt, &s.IsSold, &s.CreatedAt, &s.DeletedAt); err != nil {
			return nil, err
		}
		serials = append(serials, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return serials, nil
}

// MoveSerial re-points a serial to a new owning entry.
func MoveSerial(ctx context.Context, q db.Querier, serialID, destEntryID int64) error {
	tag, err := q.Exec(ctx, `UPDATE serial_records SET entry_id=$2 WHERE id=$1 AND deleted_at IS NULL`, serialID, destEntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSerialNotFound
	}
	return nil
}

// SoftDeleteSerial retires a serial record without erasing its history.
func SoftDeleteSerial(ctx context.Context, q db.Querier, serialID int64) error {
	tag, err := q.Exec(ctx, `UPDATE serial_records SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, serialID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSerialNotFound
	}
	return nil
}

// CountActiveSerials counts unsold, undeleted serials bound to an entry.
func CountActiveSerials(ctx context.Context, q db.Querier, entryID int64) (int, error) {
	var count int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM serial_records WHERE entry_id=$1 AND is_sold=false AND deleted_at IS NULL`, entryID).Scan(&count)
	return count, err
}
