package receiving

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Status tracks a goods receipt through reconciliation. The sequence is
// forward-only; IN_WAREHOUSE is terminal for this phase.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusFullyReceived     Status = "FULLY_RECEIVED"
	StatusInWarehouse       Status = "IN_WAREHOUSE"
)

// Purchase order statuses touched by this module.
type OrderStatus string

const (
	OrderStatusOrdered  OrderStatus = "ORDERED"
	OrderStatusReceived OrderStatus = "RECEIVED"
)

// GoodsReceipt records inventory physically received against a purchase
// order before it is posted into the warehouse ledger.
type GoodsReceipt struct {
	ID              int64      `json:"id"`
	CompanyID       int64      `json:"company_id"`
	Number          string     `json:"number"`
	PurchaseOrderID int64      `json:"purchase_order_id,omitempty"`
	WarehouseID     int64      `json:"warehouse_id"`
	Status          Status     `json:"status"`
	Note            string     `json:"note,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// ReceiptLine is created 1:1 with a purchase order line and never added
// afterward; only its received quantity and serial state change.
type ReceiptLine struct {
	ID               int64    `json:"id"`
	ReceiptID        int64    `json:"receipt_id"`
	ProductVariantID int64    `json:"product_variant_id"`
	ExpectedQty      float64  `json:"expected_qty"`
	ReceivedQty      float64  `json:"received_qty"`
	UnitCost         float64  `json:"unit_cost"`
	HasSerials       bool     `json:"has_serials"`
	IsSynced         bool     `json:"is_synced"`
	SKU              string   `json:"sku"`
	Barcode          string   `json:"barcode"`
	CriticalLevelQty *float64 `json:"critical_level_qty,omitempty"`
}

// ReceiptSerial is one received serialized unit awaiting promotion.
type ReceiptSerial struct {
	ID             int64      `json:"id"`
	LineID         int64      `json:"line_id"`
	SerialNumber   string     `json:"serial_number"`
	BatchNumber    string     `json:"batch_number,omitempty"`
	ManufacturedAt *time.Time `json:"manufactured_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PurchaseOrder is the slice of the ordering module this workflow reads.
type PurchaseOrder struct {
	ID          int64
	CompanyID   int64
	Number      string
	WarehouseID int64
	Status      OrderStatus
	Lines       []PurchaseOrderLine
}

// PurchaseOrderLine carries the product facts a receipt line inherits.
type PurchaseOrderLine struct {
	ID               int64
	ProductVariantID int64
	Qty              float64
	UnitCost         float64
	HasSerials       bool
	SKU              string
	Barcode          string
	CriticalLevelQty *float64
}

// SerialError describes one rejected serial in a receive batch, keyed by the
// index of the submitted serial.
type SerialError struct {
	Index        int    `json:"index"`
	SerialNumber string `json:"serial_number"`
	Reason       string `json:"reason"`
}

// ReceiveResult carries the partial-success outcome of a line mutation.
type ReceiveResult struct {
	Receipt  GoodsReceipt    `json:"receipt"`
	Line     ReceiptLine     `json:"line"`
	Accepted []ReceiptSerial `json:"accepted,omitempty"`
	Errors   []SerialError   `json:"errors,omitempty"`
}

// ListFilter narrows receipt listings.
type ListFilter struct {
	Status  Status
	Page    int
	PerPage int
}

var (
	// ErrOverReceipt occurs when a receive would push received past expected.
	ErrOverReceipt = shared.NewBusinessError(shared.ReasonOverReceipt, "receiving: received quantity exceeds expected")
	// ErrSerialOverflow aborts a serial batch whose recount exceeds expected.
	ErrSerialOverflow = shared.NewBusinessError(shared.ReasonSerialOverflow, "receiving: serial count exceeds expected quantity")
	// ErrInvalidState occurs when an action violates the receipt workflow.
	ErrInvalidState = shared.NewBusinessError(shared.ReasonInvalidStateTransition, "receiving: invalid state transition")
	// ErrNotFound indicates a missing receipt, line or order.
	ErrNotFound = fmt.Errorf("receiving: %w", shared.ErrNotFound)
	// ErrReceiptExists enforces one receipt per purchase order.
	ErrReceiptExists = fmt.Errorf("receiving: receipt already exists for order: %w", shared.ErrValidation)
	// ErrLineHasSerials blocks bulk returns while serial rows remain attached.
	ErrLineHasSerials = fmt.Errorf("receiving: serialized units must be removed individually: %w", shared.ErrValidation)
)

// Serial rejection reasons reported in ReceiveResult.Errors.
const (
	serialReasonMissing   = "serial number required"
	serialReasonDuplicate = "duplicate serial number"
	serialReasonExpiry    = "expired_at must be after manufactured_at"
)

// statusFor recomputes the header status from line totals. Called explicitly
// at the end of every mutating operation, never as a persistence hook.
func statusFor(totalExpected, totalReceived float64) Status {
	switch {
	case totalReceived <= 0:
		return StatusPending
	case totalReceived < totalExpected:
		return StatusPartiallyReceived
	default:
		return StatusFullyReceived
	}
}
