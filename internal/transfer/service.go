package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LowStockPort receives fire-and-forget notifications after an origin entry
// was decremented by a completed transfer.
type LowStockPort interface {
	EntryDecremented(ctx context.Context, entry ledger.Entry) error
}

// IdempotencyPort guards document-producing requests against resubmission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service drives the stock transfer state machine.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	lowstock    LowStockPort
	idempotency IdempotencyPort
}

// NewService constructs the transfer service.
func NewService(repo RepositoryPort, audit AuditPort, lowstock LowStockPort, idempotency IdempotencyPort) *Service {
	return &Service{repo: repo, audit: audit, lowstock: lowstock, idempotency: idempotency}
}

// CreateInput describes a transfer request. Lines may span several origin
// warehouses; each origin produces its own transfer document.
type CreateInput struct {
	CompanyID              int64
	DestinationWarehouseID int64
	TransferDate           time.Time
	Note                   string
	ActorID                int64
	IdempotencyKey         string
	Lines                  []CreateLineInput
}

// CreateLineInput requests one product movement. SerialNumbers pins the
// expected serial set for serialized products and must match Qty exactly.
type CreateLineInput struct {
	OriginWarehouseID int64
	ProductVariantID  int64
	Qty               float64
	SerialNumbers     []string
}

// CreateResult pairs each created transfer with its lines.
type CreateResult struct {
	Transfer StockTransfer  `json:"transfer"`
	Lines    []TransferLine `json:"lines"`
}

// Create validates the whole request against current origin stock, then
// creates one pending transfer per origin warehouse with destination ledger
// entries resolved lazily. Any violation rejects the entire request.
func (s *Service) Create(ctx context.Context, input CreateInput) ([]CreateResult, error) {
	if input.DestinationWarehouseID == 0 || len(input.Lines) == 0 {
		return nil, fmt.Errorf("destination and at least one line required: %w", shared.ErrValidation)
	}
	for _, ln := range input.Lines {
		if ln.OriginWarehouseID == input.DestinationWarehouseID {
			return nil, ErrSameWarehouse
		}
		if ln.Qty <= 0 {
			return nil, fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
		}
		if number, dup := duplicateSerial(ln.SerialNumbers); dup {
			return nil, fmt.Errorf("%w: serial %s listed more than once", ErrSerialMismatch, number)
		}
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "transfer"); err != nil {
			return nil, err
		}
	}

	var results []CreateResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		byOrigin := make(map[int64][]CreateLineInput)
		var origins []int64
		for _, ln := range input.Lines {
			if _, seen := byOrigin[ln.OriginWarehouseID]; !seen {
				origins = append(origins, ln.OriginWarehouseID)
			}
			byOrigin[ln.OriginWarehouseID] = append(byOrigin[ln.OriginWarehouseID], ln)
		}
		sort.Slice(origins, func(i, j int) bool { return origins[i] < origins[j] })

		type resolvedLine struct {
			input  CreateLineInput
			origin ledger.Entry
		}
		resolved := make(map[int64][]resolvedLine)
		var short []string
		for _, originID := range origins {
			for _, ln := range byOrigin[originID] {
				entry, err := tx.GetEntryByKey(ctx, input.CompanyID, originID, ln.ProductVariantID)
				if err != nil {
					return err
				}
				if ln.Qty > entry.QtyOnHand {
					short = append(short, fmt.Sprintf("%s (have %.2f, want %.2f)", entryLabel(entry), entry.QtyOnHand, ln.Qty))
					continue
				}
				if entry.HasSerials {
					if float64(len(ln.SerialNumbers)) != ln.Qty {
						return fmt.Errorf("%w: %s expects %.0f serials, got %d", ErrSerialMismatch, entryLabel(entry), ln.Qty, len(ln.SerialNumbers))
					}
				} else if len(ln.SerialNumbers) > 0 {
					return fmt.Errorf("%s is not serialized: %w", entryLabel(entry), shared.ErrValidation)
				}
				resolved[originID] = append(resolved[originID], resolvedLine{input: ln, origin: entry})
			}
		}
		if len(short) > 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientStock, strings.Join(short, "; "))
		}

		for _, originID := range origins {
			transfer := StockTransfer{
				CompanyID:              input.CompanyID,
				Number:                 generateNumber("TRF"),
				OriginWarehouseID:      originID,
				DestinationWarehouseID: input.DestinationWarehouseID,
				Status:                 StatusPending,
				TransferDate:           defaultDate(input.TransferDate),
				Note:                   input.Note,
				CreatedBy:              input.ActorID,
			}
			var err error
			transfer.ID, err = tx.InsertTransfer(ctx, transfer)
			if err != nil {
				return err
			}
			var lines []TransferLine
			for _, rl := range resolved[originID] {
				dest, err := tx.FindOrCreateEntry(ctx, input.CompanyID, input.DestinationWarehouseID, rl.input.ProductVariantID, ledger.EntryDefaults{
					HasSerials:       rl.origin.HasSerials,
					CriticalLevelQty: rl.origin.CriticalLevelQty,
					LastCost:         rl.origin.LastCost,
					SKU:              rl.origin.SKU,
					Barcode:          rl.origin.Barcode,
				})
				if err != nil {
					return err
				}
				line := TransferLine{
					TransferID:         transfer.ID,
					ProductVariantID:   rl.input.ProductVariantID,
					OriginEntryID:      rl.origin.ID,
					DestinationEntryID: dest.ID,
					ExpectedQty:        rl.input.Qty,
					HasSerials:         rl.origin.HasSerials,
				}
				line.ID, err = tx.InsertLine(ctx, line)
				if err != nil {
					return err
				}
				for _, number := range rl.input.SerialNumbers {
					serial, err := tx.GetActiveSerialOnEntry(ctx, rl.origin.ID, number)
					if err != nil {
						return fmt.Errorf("%w: serial %s not available on %s", ErrSerialMismatch, number, entryLabel(rl.origin))
					}
					if _, err := tx.InsertSerial(ctx, TransferSerial{
						LineID:       line.ID,
						SerialID:     serial.ID,
						SerialNumber: serial.SerialNumber,
					}); err != nil {
						return err
					}
				}
				lines = append(lines, line)
			}
			results = append(results, CreateResult{Transfer: transfer, Lines: lines})
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return nil, err
	}
	for _, res := range results {
		s.recordAudit(ctx, input.CompanyID, input.ActorID, "TRANSFER_CREATE", res.Transfer.ID, map[string]any{
			"number": res.Transfer.Number,
			"lines":  len(res.Lines),
		})
	}
	return results, nil
}

// Approve moves a pending transfer to approved.
func (s *Service) Approve(ctx context.Context, companyID, transferID, actorID int64) (StockTransfer, error) {
	return s.decide(ctx, companyID, transferID, actorID, StatusApproved, "TRANSFER_APPROVE")
}

// Reject closes a pending transfer without moving stock.
func (s *Service) Reject(ctx context.Context, companyID, transferID, actorID int64) (StockTransfer, error) {
	return s.decide(ctx, companyID, transferID, actorID, StatusRejected, "TRANSFER_REJECT")
}

// Cancel withdraws a pending transfer.
func (s *Service) Cancel(ctx context.Context, companyID, transferID, actorID int64) (StockTransfer, error) {
	return s.decide(ctx, companyID, transferID, actorID, StatusCancelled, "TRANSFER_CANCEL")
}

func (s *Service) decide(ctx context.Context, companyID, transferID, actorID int64, status Status, action string) (StockTransfer, error) {
	var transfer StockTransfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.GetTransferForUpdate(ctx, companyID, transferID)
		if err != nil {
			return err
		}
		if !transfer.Status.CanDecide() {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, transfer.Number, transfer.Status)
		}
		var approvedBy *int64
		if status == StatusApproved {
			approvedBy = &actorID
			transfer.ApprovedBy = approvedBy
		}
		transfer.Status = status
		return tx.UpdateTransferStatus(ctx, transfer.ID, status, approvedBy)
	})
	if err != nil {
		return StockTransfer{}, err
	}
	s.recordAudit(ctx, companyID, actorID, action, transfer.ID, map[string]any{"number": transfer.Number})
	return transfer, nil
}

// ReceiveResult carries the updated state after receive or return.
type ReceiveResult struct {
	Transfer StockTransfer `json:"transfer"`
	Line     TransferLine  `json:"line"`
}

// Receive records quantity arriving against a line. Serialized lines must
// submit exactly qty serials, each a not-yet-received member of the line's
// expected set still active on the origin entry. Ledger quantities do not
// move until complete.
func (s *Service) Receive(ctx context.Context, companyID, lineID int64, qty float64, serialNumbers []string, actorID int64) (ReceiveResult, error) {
	if qty <= 0 {
		return ReceiveResult{}, fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
	}
	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, transfer, err := tx.GetLineForUpdate(ctx, companyID, lineID)
		if err != nil {
			return err
		}
		if !transfer.Status.CanReceive() {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, transfer.Number, transfer.Status)
		}

		if line.HasSerials {
			if float64(len(serialNumbers)) != qty {
				return fmt.Errorf("%w: %d serials for quantity %.0f", ErrSerialMismatch, len(serialNumbers), qty)
			}
			if number, dup := duplicateSerial(serialNumbers); dup {
				return fmt.Errorf("%w: serial %s listed more than once", ErrSerialMismatch, number)
			}
			expected, err := tx.ListLineSerials(ctx, line.ID)
			if err != nil {
				return err
			}
			for _, number := range serialNumbers {
				ts, ok := findSerial(expected, number)
				if !ok {
					return fmt.Errorf("%w: serial %s is not expected on line %d", ErrSerialMismatch, number, line.ID)
				}
				if ts.IsReceived {
					return fmt.Errorf("%w: serial %s already received", ErrSerialMismatch, number)
				}
				if _, err := tx.GetActiveSerialOnEntry(ctx, line.OriginEntryID, number); err != nil {
					return fmt.Errorf("%w: serial %s no longer available at origin", ErrSerialMismatch, number)
				}
				if err := tx.MarkSerialReceived(ctx, ts.ID, true); err != nil {
					return err
				}
			}
		} else {
			if len(serialNumbers) > 0 {
				return fmt.Errorf("line %d is not serialized: %w", line.ID, shared.ErrValidation)
			}
			if qty > line.ExpectedQty-line.TransferredQty {
				return fmt.Errorf("%w: line %d has %.2f remaining, requested %.2f", ErrOverReceive, line.ID, line.ExpectedQty-line.TransferredQty, qty)
			}
		}

		line.TransferredQty += qty
		if err := tx.UpdateLineTransferredQty(ctx, line.ID, line.TransferredQty); err != nil {
			return err
		}
		transfer.Status, err = s.recomputeStatus(ctx, tx, transfer)
		if err != nil {
			return err
		}
		result.Line = line
		result.Transfer = transfer
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "TRANSFER_RECEIVE", result.Transfer.ID, map[string]any{"line_id": lineID, "qty": qty})
	return result, nil
}

// Return hands received quantity back to the origin side. A transfer whose
// lines all drop to zero reverts to approved.
func (s *Service) Return(ctx context.Context, companyID, lineID int64, qty float64, serialNumbers []string, actorID int64) (ReceiveResult, error) {
	if qty <= 0 {
		return ReceiveResult{}, fmt.Errorf("quantity must be positive: %w", shared.ErrValidation)
	}
	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, transfer, err := tx.GetLineForUpdate(ctx, companyID, lineID)
		if err != nil {
			return err
		}
		if !transfer.Status.CanReturn() {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, transfer.Number, transfer.Status)
		}

		if line.HasSerials {
			if float64(len(serialNumbers)) != qty {
				return fmt.Errorf("%w: %d serials for quantity %.0f", ErrSerialMismatch, len(serialNumbers), qty)
			}
			if number, dup := duplicateSerial(serialNumbers); dup {
				return fmt.Errorf("%w: serial %s listed more than once", ErrSerialMismatch, number)
			}
			expected, err := tx.ListLineSerials(ctx, line.ID)
			if err != nil {
				return err
			}
			for _, number := range serialNumbers {
				ts, ok := findSerial(expected, number)
				if !ok || !ts.IsReceived {
					return fmt.Errorf("%w: serial %s was not received on line %d", ErrSerialMismatch, number, line.ID)
				}
				if err := tx.MarkSerialReceived(ctx, ts.ID, false); err != nil {
					return err
				}
			}
		} else if len(serialNumbers) > 0 {
			return fmt.Errorf("line %d is not serialized: %w", line.ID, shared.ErrValidation)
		}

		line.TransferredQty -= qty
		if line.TransferredQty < 0 {
			line.TransferredQty = 0
		}
		if err := tx.UpdateLineTransferredQty(ctx, line.ID, line.TransferredQty); err != nil {
			return err
		}
		transfer.Status, err = s.recomputeStatus(ctx, tx, transfer)
		if err != nil {
			return err
		}
		result.Line = line
		result.Transfer = transfer
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "TRANSFER_RETURN", result.Transfer.ID, map[string]any{"line_id": lineID, "qty": qty})
	return result, nil
}

// Complete posts a fully transferred document to the ledger: origin entries
// are locked and decremented, destinations incremented, and serial ownership
// re-points in the same transaction. Origin entries that dropped are checked
// against their low-stock threshold after commit.
func (s *Service) Complete(ctx context.Context, companyID, transferID, actorID int64) (StockTransfer, error) {
	var transfer StockTransfer
	var decremented []ledger.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.GetTransferForUpdate(ctx, companyID, transferID)
		if err != nil {
			return err
		}
		if !transfer.Status.CanComplete() {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, transfer.Number, transfer.Status)
		}
		lines, err := tx.ListLines(ctx, transfer.ID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			origin, err := tx.GetEntryForUpdate(ctx, companyID, line.OriginEntryID)
			if err != nil {
				return err
			}
			if origin.QtyOnHand < line.TransferredQty {
				return fmt.Errorf("%w: %s holds %.2f, transfer needs %.2f", ErrInsufficientStock, entryLabel(origin), origin.QtyOnHand, line.TransferredQty)
			}
			remaining, err := tx.AdjustEntryQty(ctx, origin.ID, -line.TransferredQty)
			if err != nil {
				return err
			}
			if _, err := tx.AdjustEntryQty(ctx, line.DestinationEntryID, line.TransferredQty); err != nil {
				return err
			}
			if line.HasSerials {
				serials, err := tx.ListLineSerials(ctx, line.ID)
				if err != nil {
					return err
				}
				for _, ts := range serials {
					if !ts.IsReceived {
						continue
					}
					if err := tx.MoveSerial(ctx, ts.SerialID, line.DestinationEntryID); err != nil {
						return err
					}
				}
			}
			origin.QtyOnHand = remaining
			decremented = append(decremented, origin)
		}
		transfer.Status = StatusCompleted
		return tx.UpdateTransferStatus(ctx, transfer.ID, StatusCompleted, nil)
	})
	if err != nil {
		return StockTransfer{}, err
	}
	if s.lowstock != nil {
		for _, entry := range decremented {
			_ = s.lowstock.EntryDecremented(ctx, entry)
		}
	}
	s.recordAudit(ctx, companyID, actorID, "TRANSFER_COMPLETE", transfer.ID, map[string]any{"number": transfer.Number})
	return transfer, nil
}

// Get loads a transfer with lines.
func (s *Service) Get(ctx context.Context, companyID, transferID int64) (StockTransfer, []TransferLine, error) {
	return s.repo.GetTransfer(ctx, companyID, transferID)
}

// List pages transfers.
func (s *Service) List(ctx context.Context, companyID int64, filter ListFilter) ([]StockTransfer, int, error) {
	return s.repo.List(ctx, companyID, filter)
}

// GetLineSerials lists the expected serial set of a line.
func (s *Service) GetLineSerials(ctx context.Context, companyID, lineID int64) ([]TransferSerial, error) {
	return s.repo.GetLineSerials(ctx, companyID, lineID)
}

func (s *Service) recomputeStatus(ctx context.Context, tx TxRepository, transfer StockTransfer) (Status, error) {
	lines, err := tx.ListLines(ctx, transfer.ID)
	if err != nil {
		return transfer.Status, err
	}
	status := statusForLines(lines)
	if status != transfer.Status {
		if err := tx.UpdateTransferStatus(ctx, transfer.ID, status, nil); err != nil {
			return transfer.Status, err
		}
	}
	return status, nil
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "stock_transfer",
		EntityID:  fmt.Sprintf("%d", transferID),
		Meta:      meta,
	})
}

func duplicateSerial(numbers []string) (string, bool) {
	seen := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		if _, ok := seen[n]; ok {
			return n, true
		}
		seen[n] = struct{}{}
	}
	return "", false
}

func findSerial(set []TransferSerial, number string) (TransferSerial, bool) {
	for _, ts := range set {
		if ts.SerialNumber == number {
			return ts, true
		}
	}
	return TransferSerial{}, false
}

func entryLabel(e ledger.Entry) string {
	if e.SKU != "" {
		return e.SKU
	}
	return fmt.Sprintf("variant %d", e.ProductVariantID)
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
