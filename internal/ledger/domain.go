package ledger

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Entry is the authoritative on-hand record for one product variant in one
// warehouse. Entries are created lazily the first time stock arrives and are
// never deleted while quantity remains.
type Entry struct {
	ID               int64      `json:"id"`
	CompanyID        int64      `json:"company_id"`
	WarehouseID      int64      `json:"warehouse_id"`
	ProductVariantID int64      `json:"product_variant_id"`
	QtyOnHand        float64    `json:"qty_on_hand"`
	HasSerials       bool       `json:"has_serials"`
	CriticalLevelQty *float64   `json:"critical_level_qty,omitempty"`
	LastCost         float64    `json:"last_cost"`
	SKU              string     `json:"sku"`
	Barcode          string     `json:"barcode"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// SerialRecord identifies a single tracked unit. A serial belongs to exactly
// one entry at a time; transfers re-point it, never copy it.
type SerialRecord struct {
	ID             int64      `json:"id"`
	EntryID        int64      `json:"entry_id"`
	SerialNumber   string     `json:"serial_number"`
	BatchNumber    string     `json:"batch_number,omitempty"`
	ManufacturedAt *time.Time `json:"manufactured_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	IsSold         bool       `json:"is_sold"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the serial still counts toward on-hand quantity.
func (s SerialRecord) Active() bool {
	return !s.IsSold && s.DeletedAt == nil
}

// EntryDefaults seeds a lazily created entry.
type EntryDefaults struct {
	HasSerials       bool
	CriticalLevelQty *float64
	LastCost         float64
	SKU              string
	Barcode          string
}

// ListFilter narrows entry listings.
type ListFilter struct {
	WarehouseID int64
	Search      string
	Page        int
	PerPage     int
}

var (
	// ErrInsufficientStock occurs when a decrement would drive quantity negative.
	ErrInsufficientStock = shared.NewBusinessError(shared.ReasonInsufficientStock, "ledger: insufficient stock")
	// ErrDuplicateSerial occurs when a serial number is already active somewhere.
	ErrDuplicateSerial = shared.NewBusinessError(shared.ReasonDuplicateSerial, "ledger: serial number already in use")
	// ErrEntryNotFound indicates a missing ledger entry.
	ErrEntryNotFound = fmt.Errorf("ledger entry: %w", shared.ErrNotFound)
	// ErrSerialNotFound indicates a missing serial record.
	ErrSerialNotFound = fmt.Errorf("serial record: %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity argument.
	ErrInvalidQuantity = fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
	// ErrExpiryBeforeManufacture rejects serials whose expiry precedes manufacture.
	ErrExpiryBeforeManufacture = fmt.Errorf("expired_at must be after manufactured_at: %w", shared.ErrValidation)
)

// ValidateSerialWindow checks the manufacture/expiry ordering constraint.
func ValidateSerialWindow(manufacturedAt, expiredAt *time.Time) error {
	if manufacturedAt != nil && expiredAt != nil && !expiredAt.After(*manufacturedAt) {
		return ErrExpiryBeforeManufacture
	}
	return nil
}
