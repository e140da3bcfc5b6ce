package transfer

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Status tracks a stock transfer through its lifecycle. REJECTED and
// CANCELLED are side exits from PENDING only; COMPLETED is terminal.
type Status string

const (
	StatusPending              Status = "PENDING"
	StatusApproved             Status = "APPROVED"
	StatusPartiallyTransferred Status = "PARTIALLY_TRANSFERRED"
	StatusFullyTransferred     Status = "FULLY_TRANSFERRED"
	StatusCompleted            Status = "COMPLETED"
	StatusRejected             Status = "REJECTED"
	StatusCancelled            Status = "CANCELLED"
)

// CanDecide reports whether approve, reject or cancel is still allowed.
func (s Status) CanDecide() bool {
	return s == StatusPending
}

// CanReceive reports whether more quantity can be received.
func (s Status) CanReceive() bool {
	return s == StatusApproved || s == StatusPartiallyTransferred
}

// CanReturn reports whether received quantity can be handed back. Returns
// stay open until complete so a fully received transfer can still unwind.
func (s Status) CanReturn() bool {
	return s == StatusApproved || s == StatusPartiallyTransferred || s == StatusFullyTransferred
}

// CanComplete reports whether the transfer can be posted to the ledger.
func (s Status) CanComplete() bool {
	return s == StatusFullyTransferred
}

// StockTransfer is the header of one origin-to-destination movement. A
// request spanning several origin warehouses produces one transfer per
// origin.
type StockTransfer struct {
	ID                     int64      `json:"id"`
	CompanyID              int64      `json:"company_id"`
	Number                 string     `json:"number"`
	OriginWarehouseID      int64      `json:"origin_warehouse_id"`
	DestinationWarehouseID int64      `json:"destination_warehouse_id"`
	Status                 Status     `json:"status"`
	TransferDate           time.Time  `json:"transfer_date"`
	Note                   string     `json:"note,omitempty"`
	CreatedBy              int64      `json:"created_by"`
	ApprovedBy             *int64     `json:"approved_by,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	DeletedAt              *time.Time `json:"deleted_at,omitempty"`
}

// TransferLine moves one product variant. TransferredQty only grows through
// receive and only shrinks through explicit return, never past ExpectedQty
// and never below zero.
type TransferLine struct {
	ID                 int64   `json:"id"`
	TransferID         int64   `json:"transfer_id"`
	ProductVariantID   int64   `json:"product_variant_id"`
	OriginEntryID      int64   `json:"origin_entry_id"`
	DestinationEntryID int64   `json:"destination_entry_id"`
	ExpectedQty        float64 `json:"expected_qty"`
	TransferredQty     float64 `json:"transferred_qty"`
	HasSerials         bool    `json:"has_serials"`
}

// TransferSerial pins one expected serialized unit to a line. IsReceived
// flips during receive and return; ownership moves only at complete.
type TransferSerial struct {
	ID           int64  `json:"id"`
	LineID       int64  `json:"line_id"`
	SerialID     int64  `json:"serial_id"`
	SerialNumber string `json:"serial_number"`
	IsReceived   bool   `json:"is_received"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status      Status
	WarehouseID int64
	Page        int
	PerPage     int
}

var (
	// ErrInsufficientStock rejects a create or complete that would overdraw an origin entry.
	ErrInsufficientStock = shared.NewBusinessError(shared.ReasonInsufficientStock, "transfer: insufficient stock at origin")
	// ErrInvalidState occurs when an action violates the transfer lifecycle.
	ErrInvalidState = shared.NewBusinessError(shared.ReasonInvalidStateTransition, "transfer: invalid state transition")
	// ErrSerialMismatch rejects a receive whose serials do not match the line's expected set.
	ErrSerialMismatch = shared.NewBusinessError(shared.ReasonSerialMismatch, "transfer: serials do not match the expected set")
	// ErrOverReceive rejects a receive beyond a line's remaining quantity.
	ErrOverReceive = shared.NewBusinessError(shared.ReasonOverReceipt, "transfer: received quantity exceeds remaining expected")
	// ErrNotFound indicates a missing transfer or line.
	ErrNotFound = fmt.Errorf("transfer: %w", shared.ErrNotFound)
	// ErrSameWarehouse rejects transfers where origin and destination match.
	ErrSameWarehouse = fmt.Errorf("transfer: origin and destination warehouses must differ: %w", shared.ErrValidation)
)

// statusForLines recomputes an open transfer's status from its lines.
// FULLY_TRANSFERRED once every line reached its expected quantity,
// APPROVED when nothing has moved, PARTIALLY_TRANSFERRED in between.
func statusForLines(lines []TransferLine) Status {
	full := true
	moved := false
	for _, l := range lines {
		if l.TransferredQty < l.ExpectedQty {
			full = false
		}
		if l.TransferredQty > 0 {
			moved = true
		}
	}
	switch {
	case full:
		return StatusFullyTransferred
	case moved:
		return StatusPartiallyTransferred
	default:
		return StatusApproved
	}
}
