package transfer

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// TxRepository exposes the transactional operations the service uses. Ledger
// reads and mutations share the transaction so quantity checks, decrements
// and serial moves stay atomic.
type TxRepository interface {
	InsertTransfer(ctx context.Context, t StockTransfer) (int64, error)
	InsertLine(ctx context.Context, l TransferLine) (int64, error)
	InsertSerial(ctx context.Context, s TransferSerial) (int64, error)
	GetTransferForUpdate(ctx context.Context, companyID, transferID int64) (StockTransfer, error)
	GetLineForUpdate(ctx context.Context, companyID, lineID int64) (TransferLine, StockTransfer, error)
	ListLines(ctx context.Context, transferID int64) ([]TransferLine, error)
	ListLineSerials(ctx context.Context, lineID int64) ([]TransferSerial, error)
	UpdateLineTransferredQty(ctx context.Context, lineID int64, qty float64) error
	MarkSerialReceived(ctx context.Context, serialID int64, received bool) error
	UpdateTransferStatus(ctx context.Context, transferID int64, status Status, approvedBy *int64) error

	GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (ledger.Entry, error)
	GetEntryByKey(ctx context.Context, companyID, warehouseID, variantID int64) (ledger.Entry, error)
	FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults ledger.EntryDefaults) (ledger.Entry, error)
	AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error)
	GetActiveSerialOnEntry(ctx context.Context, entryID int64, serialNumber string) (ledger.SerialRecord, error)
	MoveSerial(ctx context.Context, serialID, destEntryID int64) error
}

// RepositoryPort describes repository operations used by the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, companyID, transferID int64) (StockTransfer, []TransferLine, error)
	GetLineSerials(ctx context.Context, companyID, lineID int64) ([]TransferSerial, error)
	List(ctx context.Context, companyID int64, filter ListFilter) ([]StockTransfer, int, error)
}
