package receiving

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// TxRepository exposes the transactional operations the service uses. Ledger
// mutations are part of the same interface so promotion stays atomic with
// the receipt bookkeeping.
type TxRepository interface {
	InsertReceipt(ctx context.Context, receipt GoodsReceipt) (int64, error)
	InsertLine(ctx context.Context, line ReceiptLine) (int64, error)
	GetReceiptForUpdate(ctx context.Context, companyID, receiptID int64) (GoodsReceipt, error)
	GetLineForUpdate(ctx context.Context, companyID, lineID int64) (ReceiptLine, GoodsReceipt, error)
	ListLines(ctx context.Context, receiptID int64) ([]ReceiptLine, error)
	UpdateLineReceivedQty(ctx context.Context, lineID int64, qty float64) error
	MarkLineSynced(ctx context.Context, lineID int64) error
	UpdateReceiptStatus(ctx context.Context, receiptID int64, status Status) error

	InsertLineSerial(ctx context.Context, serial ReceiptSerial) (int64, error)
	DeleteLineSerial(ctx context.Context, lineID int64, serialNumber string) (bool, error)
	CountLineSerials(ctx context.Context, lineID int64) (int, error)
	ListLineSerials(ctx context.Context, lineID int64) ([]ReceiptSerial, error)
	SerialNumberInUse(ctx context.Context, companyID int64, serialNumber string) (bool, error)

	UpdatePurchaseOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error

	FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults ledger.EntryDefaults) (ledger.Entry, error)
	AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error)
	UpdateEntryCost(ctx context.Context, entryID int64, lastCost float64) error
	InsertLedgerSerial(ctx context.Context, serial ledger.SerialRecord) (int64, error)
}

// RepositoryPort describes repository operations used by the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, companyID, receiptID int64) (GoodsReceipt, []ReceiptLine, error)
	GetPurchaseOrder(ctx context.Context, companyID, orderID int64) (PurchaseOrder, error)
	ReceiptExistsForOrder(ctx context.Context, companyID, orderID int64) (bool, error)
	List(ctx context.Context, companyID int64, filter ListFilter) ([]GoodsReceipt, int, error)
	GetLineSerials(ctx context.Context, companyID, lineID int64) ([]ReceiptSerial, error)
}
