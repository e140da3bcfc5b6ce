package receiving

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates goods receipt reconciliation.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the receiving service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateInput describes a manually created receipt.
type CreateInput struct {
	CompanyID   int64
	WarehouseID int64
	Number      string
	Note        string
	ActorID     int64
	Lines       []CreateLineInput
}

// CreateLineInput describes one expected line on a manual receipt.
type CreateLineInput struct {
	ProductVariantID int64
	ExpectedQty      float64
	UnitCost         float64
	HasSerials       bool
	SKU              string
	Barcode          string
	CriticalLevelQty *float64
}

// CreateFromPurchaseOrder opens the receipt for an ordered purchase order.
// Exactly one receipt exists per order; lines mirror the order lines and are
// never added afterward.
func (s *Service) CreateFromPurchaseOrder(ctx context.Context, companyID, orderID, actorID int64) (GoodsReceipt, []ReceiptLine, error) {
	order, err := s.repo.GetPurchaseOrder(ctx, companyID, orderID)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	if order.Status != OrderStatusOrdered {
		return GoodsReceipt{}, nil, fmt.Errorf("%w: order %s is %s", ErrInvalidState, order.Number, order.Status)
	}
	if len(order.Lines) == 0 {
		return GoodsReceipt{}, nil, fmt.Errorf("order has no lines: %w", shared.ErrValidation)
	}
	exists, err := s.repo.ReceiptExistsForOrder(ctx, companyID, orderID)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	if exists {
		return GoodsReceipt{}, nil, ErrReceiptExists
	}

	receipt := GoodsReceipt{
		CompanyID:       companyID,
		Number:          generateNumber("GR"),
		PurchaseOrderID: orderID,
		WarehouseID:     order.WarehouseID,
		Status:          StatusPending,
		CreatedBy:       actorID,
	}
	var lines []ReceiptLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receiptID, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = receiptID
		for _, ol := range order.Lines {
			line := ReceiptLine{
				ReceiptID:        receiptID,
				ProductVariantID: ol.ProductVariantID,
				ExpectedQty:      ol.Qty,
				UnitCost:         ol.UnitCost,
				HasSerials:       ol.HasSerials,
				SKU:              ol.SKU,
				Barcode:          ol.Barcode,
				CriticalLevelQty: ol.CriticalLevelQty,
			}
			line.ID, err = tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	s.recordAudit(ctx, companyID, actorID, "RECEIPT_CREATE", receipt.ID, map[string]any{"number": receipt.Number, "order_id": orderID})
	return receipt, lines, nil
}

// Create opens a manual receipt with explicit expected lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (GoodsReceipt, []ReceiptLine, error) {
	if input.WarehouseID == 0 || len(input.Lines) == 0 {
		return GoodsReceipt{}, nil, fmt.Errorf("warehouse and at least one line required: %w", shared.ErrValidation)
	}
	receipt := GoodsReceipt{
		CompanyID:   input.CompanyID,
		Number:      defaultString(input.Number, generateNumber("GR")),
		WarehouseID: input.WarehouseID,
		Status:      StatusPending,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
	}
	var lines []ReceiptLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receiptID, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = receiptID
		for _, in := range input.Lines {
			if in.ProductVariantID == 0 || in.ExpectedQty <= 0 {
				return fmt.Errorf("line requires variant and positive quantity: %w", shared.ErrValidation)
			}
			line := ReceiptLine{
				ReceiptID:        receiptID,
				ProductVariantID: in.ProductVariantID,
				ExpectedQty:      in.ExpectedQty,
				UnitCost:         in.UnitCost,
				HasSerials:       in.HasSerials,
				SKU:              in.SKU,
				Barcode:          in.Barcode,
				CriticalLevelQty: in.CriticalLevelQty,
			}
			line.ID, err = tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "RECEIPT_CREATE", receipt.ID, map[string]any{"number": receipt.Number})
	return receipt, lines, nil
}

// ReceiveLine records received quantity against one line. Non-serialized
// lines take a delta and reject over-receipt. Serialized lines validate each
// submitted serial independently: failures collect into the result while the
// rest proceed, then the received quantity is recomputed from the
// authoritative serial count. A recount above expected aborts the whole
// batch.
func (s *Service) ReceiveLine(ctx context.Context, companyID, lineID int64, qtyDelta float64, serials []ledger.SerialInput, actorID int64) (ReceiveResult, error) {
	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, receipt, err := tx.GetLineForUpdate(ctx, companyID, lineID)
		if err != nil {
			return err
		}
		if receipt.Status == StatusInWarehouse || line.IsSynced {
			return fmt.Errorf("%w: receipt %s already in warehouse", ErrInvalidState, receipt.Number)
		}

		if line.HasSerials {
			if len(serials) == 0 {
				return fmt.Errorf("serialized line requires serials: %w", shared.ErrValidation)
			}
			result.Accepted, result.Errors, err = s.receiveSerials(ctx, tx, companyID, line, serials)
			if err != nil {
				return err
			}
			count, err := tx.CountLineSerials(ctx, line.ID)
			if err != nil {
				return err
			}
			if float64(count) > line.ExpectedQty {
				return fmt.Errorf("%w: line %d has %d serials for expected %.2f", ErrSerialOverflow, line.ID, count, line.ExpectedQty)
			}
			line.ReceivedQty = float64(count)
		} else {
			if len(serials) > 0 {
				return fmt.Errorf("line %d is not serialized: %w", line.ID, shared.ErrValidation)
			}
			if qtyDelta <= 0 {
				return fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
			}
			next := line.ReceivedQty + qtyDelta
			if next > line.ExpectedQty {
				return fmt.Errorf("%w: line %d expects %.2f, received would be %.2f", ErrOverReceipt, line.ID, line.ExpectedQty, next)
			}
			line.ReceivedQty = next
		}

		if err := tx.UpdateLineReceivedQty(ctx, line.ID, line.ReceivedQty); err != nil {
			return err
		}
		receipt.Status, err = s.recomputeStatus(ctx, tx, receipt)
		if err != nil {
			return err
		}
		result.Line = line
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "RECEIPT_RECEIVE", result.Receipt.ID, map[string]any{
		"line_id":  lineID,
		"received": result.Line.ReceivedQty,
		"rejected": len(result.Errors),
	})
	return result, nil
}

func (s *Service) receiveSerials(ctx context.Context, tx TxRepository, companyID int64, line ReceiptLine, serials []ledger.SerialInput) ([]ReceiptSerial, []SerialError, error) {
	var accepted []ReceiptSerial
	var rejected []SerialError
	for i, in := range serials {
		number := strings.TrimSpace(in.SerialNumber)
		if number == "" {
			rejected = append(rejected, SerialError{Index: i, Reason: serialReasonMissing})
			continue
		}
		if err := ledger.ValidateSerialWindow(in.ManufacturedAt, in.ExpiredAt); err != nil {
			rejected = append(rejected, SerialError{Index: i, SerialNumber: number, Reason: serialReasonExpiry})
			continue
		}
		inUse, err := tx.SerialNumberInUse(ctx, companyID, number)
		if err != nil {
			return nil, nil, err
		}
		if inUse {
			rejected = append(rejected, SerialError{Index: i, SerialNumber: number, Reason: serialReasonDuplicate})
			continue
		}
		serial := ReceiptSerial{
			LineID:         line.ID,
			SerialNumber:   number,
			BatchNumber:    in.BatchNumber,
			ManufacturedAt: in.ManufacturedAt,
			ExpiredAt:      in.ExpiredAt,
		}
		serial.ID, err = tx.InsertLineSerial(ctx, serial)
		if err != nil {
			return nil, nil, err
		}
		accepted = append(accepted, serial)
	}
	return accepted, rejected, nil
}

// RemoveSerial un-receives one serialized unit from a line.
func (s *Service) RemoveSerial(ctx context.Context, companyID, lineID int64, serialNumber string, actorID int64) (ReceiveResult, error) {
	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, receipt, err := tx.GetLineForUpdate(ctx, companyID, lineID)
		if err != nil {
			return err
		}
		if receipt.Status == StatusInWarehouse || line.IsSynced {
			return fmt.Errorf("%w: receipt %s already in warehouse", ErrInvalidState, receipt.Number)
		}
		removed, err := tx.DeleteLineSerial(ctx, line.ID, serialNumber)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("serial %s: %w", serialNumber, ErrNotFound)
		}
		count, err := tx.CountLineSerials(ctx, line.ID)
		if err != nil {
			return err
		}
		line.ReceivedQty = float64(count)
		if err := tx.UpdateLineReceivedQty(ctx, line.ID, line.ReceivedQty); err != nil {
			return err
		}
		receipt.Status, err = s.recomputeStatus(ctx, tx, receipt)
		if err != nil {
			return err
		}
		result.Line = line
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "RECEIPT_SERIAL_REMOVE", result.Receipt.ID, map[string]any{"line_id": lineID, "serial": serialNumber})
	return result, nil
}

// ReturnLine hands back received quantity on a non-serialized line. Lines
// with serial rows attached must shed them one by one first.
func (s *Service) ReturnLine(ctx context.Context, companyID, lineID int64, returnQty float64, note string, actorID int64) (ReceiveResult, error) {
	if returnQty <= 0 {
		return ReceiveResult{}, fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
	}
	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, receipt, err := tx.GetLineForUpdate(ctx, companyID, lineID)
		if err != nil {
			return err
		}
		if receipt.Status == StatusInWarehouse || line.IsSynced {
			return fmt.Errorf("%w: receipt %s already in warehouse", ErrInvalidState, receipt.Number)
		}
		count, err := tx.CountLineSerials(ctx, line.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrLineHasSerials
		}
		line.ReceivedQty -= returnQty
		if line.ReceivedQty < 0 {
			line.ReceivedQty = 0
		}
		if err := tx.UpdateLineReceivedQty(ctx, line.ID, line.ReceivedQty); err != nil {
			return err
		}
		receipt.Status, err = s.recomputeStatus(ctx, tx, receipt)
		if err != nil {
			return err
		}
		result.Line = line
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "RECEIPT_RETURN", result.Receipt.ID, map[string]any{"line_id": lineID, "qty": returnQty, "note": note})
	return result, nil
}

// PromoteToWarehouse posts every fully received, unsynced line into the
// inventory ledger in one transaction. A receipt that is already fully
// synced is a no-op so retried calls never double-increment.
func (s *Service) PromoteToWarehouse(ctx context.Context, companyID, receiptID, actorID int64) (GoodsReceipt, error) {
	var receipt GoodsReceipt
	promoted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = tx.GetReceiptForUpdate(ctx, companyID, receiptID)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, receipt.ID)
		if err != nil {
			return err
		}
		pending := make([]ReceiptLine, 0, len(lines))
		for _, line := range lines {
			if line.ReceivedQty != line.ExpectedQty {
				return fmt.Errorf("%w: line %d received %.2f of %.2f", ErrInvalidState, line.ID, line.ReceivedQty, line.ExpectedQty)
			}
			if !line.IsSynced {
				pending = append(pending, line)
			}
		}
		if len(pending) == 0 {
			// Already promoted; keep the call idempotent.
			return nil
		}

		for _, line := range pending {
			entry, err := tx.FindOrCreateEntry(ctx, companyID, receipt.WarehouseID, line.ProductVariantID, ledger.EntryDefaults{
				HasSerials:       line.HasSerials,
				CriticalLevelQty: line.CriticalLevelQty,
				LastCost:         line.UnitCost,
				SKU:              line.SKU,
				Barcode:          line.Barcode,
			})
			if err != nil {
				return err
			}
			if _, err := tx.AdjustEntryQty(ctx, entry.ID, line.ReceivedQty); err != nil {
				return err
			}
			if err := tx.UpdateEntryCost(ctx, entry.ID, line.UnitCost); err != nil {
				return err
			}
			if line.HasSerials {
				serials, err := tx.ListLineSerials(ctx, line.ID)
				if err != nil {
					return err
				}
				for _, serial := range serials {
					_, err := tx.InsertLedgerSerial(ctx, ledger.SerialRecord{
						EntryID:        entry.ID,
						SerialNumber:   serial.SerialNumber,
						BatchNumber:    serial.BatchNumber,
						ManufacturedAt: serial.ManufacturedAt,
						ExpiredAt:      serial.ExpiredAt,
					})
					if err != nil {
						return err
					}
				}
			}
			if err := tx.MarkLineSynced(ctx, line.ID); err != nil {
				return err
			}
			promoted++
		}

		receipt.Status = StatusInWarehouse
		if err := tx.UpdateReceiptStatus(ctx, receipt.ID, StatusInWarehouse); err != nil {
			return err
		}
		if receipt.PurchaseOrderID != 0 {
			if err := tx.UpdatePurchaseOrderStatus(ctx, receipt.PurchaseOrderID, OrderStatusReceived); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	if promoted > 0 {
		s.recordAudit(ctx, companyID, actorID, "RECEIPT_PROMOTE", receipt.ID, map[string]any{"number": receipt.Number, "lines": promoted})
	}
	return receipt, nil
}

// Get loads a receipt with lines.
func (s *Service) Get(ctx context.Context, companyID, receiptID int64) (GoodsReceipt, []ReceiptLine, error) {
	return s.repo.GetReceipt(ctx, companyID, receiptID)
}

// List lists receipts with pagination.
func (s *Service) List(ctx context.Context, companyID int64, filter ListFilter) ([]GoodsReceipt, int, error) {
	return s.repo.List(ctx, companyID, filter)
}

// GetLineSerials lists the serials received against a line.
func (s *Service) GetLineSerials(ctx context.Context, companyID, lineID int64) ([]ReceiptSerial, error) {
	return s.repo.GetLineSerials(ctx, companyID, lineID)
}

// recomputeStatus derives the header status from line totals. The recompute
// is skipped once the receipt reached the terminal IN_WAREHOUSE phase.
func (s *Service) recomputeStatus(ctx context.Context, tx TxRepository, receipt GoodsReceipt) (Status, error) {
	if receipt.Status == StatusInWarehouse {
		return receipt.Status, nil
	}
	lines, err := tx.ListLines(ctx, receipt.ID)
	if err != nil {
		return receipt.Status, err
	}
	var totalExpected, totalReceived float64
	for _, line := range lines {
		totalExpected += line.ExpectedQty
		totalReceived += line.ReceivedQty
	}
	status := statusFor(totalExpected, totalReceived)
	if status != receipt.Status {
		if err := tx.UpdateReceiptStatus(ctx, receipt.ID, status); err != nil {
			return receipt.Status, err
		}
	}
	return status, nil
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, receiptID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "goods_receipt",
		EntityID:  fmt.Sprintf("%d", receiptID),
		Meta:      meta,
	})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
