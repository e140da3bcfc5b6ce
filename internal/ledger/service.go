package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, companyID, entryID int64) (Entry, error)
	ListEntries(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, int, error)
	ListSerials(ctx context.Context, companyID, entryID int64) ([]SerialRecord, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the inventory ledger contract. Quantity mutations run
// under a row lock so concurrent callers on the same entry serialise; an
// entry with serials always carries quantity equal to its active serial
// count.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// FindOrCreate returns the entry for a warehouse/variant pair, creating it
// with zero quantity on first use.
func (s *Service) FindOrCreate(ctx context.Context, companyID, warehouseID, variantID int64, defaults EntryDefaults) (Entry, error) {
	if companyID == 0 || warehouseID == 0 || variantID == 0 {
		return Entry{}, fmt.Errorf("company, warehouse and variant required: %w", shared.ErrValidation)
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindOrCreateEntry(ctx, companyID, warehouseID, variantID, defaults)
		return err
	})
	return entry, err
}

// Increment raises on-hand quantity.
func (s *Service) Increment(ctx context.Context, companyID, entryID int64, qty float64, actorID int64) (Entry, error) {
	return s.adjust(ctx, companyID, entryID, qty, actorID)
}

// Decrement lowers on-hand quantity, failing when the result would go negative.
func (s *Service) Decrement(ctx context.Context, companyID, entryID int64, qty float64, actorID int64) (Entry, error) {
	return s.adjust(ctx, companyID, entryID, -qty, actorID)
}

func (s *Service) adjust(ctx context.Context, companyID, entryID int64, delta float64, actorID int64) (Entry, error) {
	if delta == 0 {
		return Entry{}, ErrInvalidQuantity
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetEntryForUpdate(ctx, companyID, entryID)
		if err != nil {
			return err
		}
		if locked.QtyOnHand+delta < 0 {
			return fmt.Errorf("%w: entry %d holds %.2f, requested %.2f", ErrInsufficientStock, entryID, locked.QtyOnHand, -delta)
		}
		newQty, err := tx.AdjustEntryQty(ctx, locked.ID, delta)
		if err != nil {
			return err
		}
		entry = locked
		entry.QtyOnHand = newQty
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "LEDGER_ADJUST", entryID, map[string]any{"delta": delta, "qty": entry.QtyOnHand})
	return entry, nil
}

// AttachSerial binds a new serial to an entry and bumps quantity by one so
// the serial-count invariant holds.
func (s *Service) AttachSerial(ctx context.Context, companyID, entryID int64, input SerialInput, actorID int64) (SerialRecord, error) {
	if strings.TrimSpace(input.SerialNumber) == "" {
		return SerialRecord{}, fmt.Errorf("serial number required: %w", shared.ErrValidation)
	}
	if err := ValidateSerialWindow(input.ManufacturedAt, input.ExpiredAt); err != nil {
		return SerialRecord{}, err
	}
	var serial SerialRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, companyID, entryID)
		if err != nil {
			return err
		}
		if !entry.HasSerials {
			return fmt.Errorf("entry %d is not serialized: %w", entryID, shared.ErrValidation)
		}
		inUse, err := tx.ActiveSerialInUse(ctx, companyID, input.SerialNumber)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: %s", ErrDuplicateSerial, input.SerialNumber)
		}
		serial = SerialRecord{
			EntryID:        entry.ID,
			SerialNumber:   input.SerialNumber,
			BatchNumber:    input.BatchNumber,
			ManufacturedAt: input.ManufacturedAt,
			ExpiredAt:      input.ExpiredAt,
		}
		serial.ID, err = tx.InsertSerial(ctx, serial)
		if err != nil {
			return err
		}
		if _, err := tx.AdjustEntryQty(ctx, entry.ID, 1); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return SerialRecord{}, err
	}
	s.recordAudit(ctx, companyID, actorID, "LEDGER_SERIAL_ATTACH", entryID, map[string]any{"serial": input.SerialNumber})
	return serial, nil
}

// DetachSerial retires a serial from an entry and drops quantity by one.
func (s *Service) DetachSerial(ctx context.Context, companyID, entryID int64, serialNumber string, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, companyID, entryID)
		if err != nil {
			return err
		}
		serial, err := tx.GetActiveSerialOnEntry(ctx, entry.ID, serialNumber)
		if err != nil {
			return err
		}
		if entry.QtyOnHand < 1 {
			return fmt.Errorf("%w: entry %d holds %.2f, requested 1.00", ErrInsufficientStock, entryID, entry.QtyOnHand)
		}
		if err := tx.SoftDeleteSerial(ctx, serial.ID); err != nil {
			return err
		}
		if _, err := tx.AdjustEntryQty(ctx, entry.ID, -1); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, actorID, "LEDGER_SERIAL_DETACH", entryID, map[string]any{"serial": serialNumber})
	return nil
}

// GetEntry fetches one entry.
func (s *Service) GetEntry(ctx context.Context, companyID, entryID int64) (Entry, error) {
	return s.repo.GetEntry(ctx, companyID, entryID)
}

// ListEntries lists entries with pagination.
func (s *Service) ListEntries(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, int, error) {
	return s.repo.ListEntries(ctx, companyID, filter)
}

// ListSerials lists active serials bound to an entry.
func (s *Service) ListSerials(ctx context.Context, companyID, entryID int64) ([]SerialRecord, error) {
	return s.repo.ListSerials(ctx, companyID, entryID)
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "ledger_entry",
		EntityID:  fmt.Sprintf("%d", entryID),
		Meta:      meta,
	})
}
