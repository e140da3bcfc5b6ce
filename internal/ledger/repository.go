package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (Entry, error)
	FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults EntryDefaults) (Entry, error)
	AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error)
	InsertSerial(ctx context.Context, s SerialRecord) (int64, error)
	ActiveSerialInUse(ctx context.Context, companyID int64, serialNumber string) (bool, error)
	GetActiveSerialOnEntry(ctx context.Context, entryID int64, serialNumber string) (SerialRecord, error)
	SoftDeleteSerial(ctx context.Context, serialID int64) error
	CountActiveSerials(ctx context.Context, entryID int64) (int, error)
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetEntry loads one entry outside a transaction.
func (r *Repository) GetEntry(ctx context.Context, companyID, entryID int64) (Entry, error) {
	return GetEntry(ctx, r.pool, companyID, entryID)
}

// ListEntries returns a filtered page of entries.
func (r *Repository) ListEntries(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, int, error) {
	return ListEntries(ctx, r.pool, companyID, filter)
}

// ListSerials returns active serials for an entry after scoping it to the company.
func (r *Repository) ListSerials(ctx context.Context, companyID, entryID int64) ([]SerialRecord, error) {
	entry, err := GetEntry(ctx, r.pool, companyID, entryID)
	if err != nil {
		return nil, err
	}
	return ListSerials(ctx, r.pool, entry.ID)
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (Entry, error) {
	return GetEntryForUpdate(ctx, r.tx, companyID, entryID)
}

func (r *txRepository) FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults EntryDefaults) (Entry, error) {
	return FindOrCreateEntry(ctx, r.tx, companyID, warehouseID, variantID, defaults)
}

func (r *txRepository) AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error) {
	return AdjustEntryQty(ctx, r.tx, entryID, delta)
}

func (r *txRepository) InsertSerial(ctx context.Context, s SerialRecord) (int64, error) {
	return InsertSerial(ctx, r.tx, s)
}

func (r *txRepository) ActiveSerialInUse(ctx context.Context, companyID int64, serialNumber string) (bool, error) {
	return ActiveSerialInUse(ctx, r.tx, companyID, serialNumber)
}

func (r *txRepository) GetActiveSerialOnEntry(ctx context.Context, entryID int64, serialNumber string) (SerialRecord, error) {
	return GetActiveSerialOnEntry(ctx, r.tx, entryID, serialNumber)
}

func (r *txRepository) SoftDeleteSerial(ctx context.Context, serialID int64) error {
	return SoftDeleteSerial(ctx, r.tx, serialID)
}

func (r *txRepository) CountActiveSerials(ctx context.Context, entryID int64) (int, error) {
	return CountActiveSerials(ctx, r.tx, entryID)
}

// SerialInput carries the identity fields for one tracked unit.
type SerialInput struct {
	SerialNumber   string     `json:"serial_number"`
	BatchNumber    string     `json:"batch_number,omitempty"`
	ManufacturedAt *time.Time `json:"manufactured_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
}
