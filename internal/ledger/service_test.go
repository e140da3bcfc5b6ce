package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryLedgerRepo struct {
	entries map[int64]Entry
	serials map[int64]SerialRecord
	byKey   map[[3]int64]int64
	nextID  int64
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		entries: make(map[int64]Entry),
		serials: make(map[int64]SerialRecord),
		byKey:   make(map[[3]int64]int64),
	}
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryLedgerTx{repo: r})
}

func (r *memoryLedgerRepo) GetEntry(ctx context.Context, companyID, entryID int64) (Entry, error) {
	e, ok := r.entries[entryID]
	if !ok || e.CompanyID != companyID {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (r *memoryLedgerRepo) ListEntries(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, int, error) {
	entries := []Entry{}
	for _, e := range r.entries {
		if e.CompanyID == companyID {
			entries = append(entries, e)
		}
	}
	return entries, len(entries), nil
}

func (r *memoryLedgerRepo) ListSerials(ctx context.Context, companyID, entryID int64) ([]SerialRecord, error) {
	serials := []SerialRecord{}
	for _, s := range r.serials {
		if s.EntryID == entryID && s.DeletedAt == nil {
			serials = append(serials, s)
		}
	}
	return serials, nil
}

func (tx *memoryLedgerTx) next() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryLedgerTx) GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (Entry, error) {
	return tx.repo.GetEntry(ctx, companyID, entryID)
}

func (tx *memoryLedgerTx) FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults EntryDefaults) (Entry, error) {
	key := [3]int64{companyID, warehouseID, variantID}
	if id, ok := tx.repo.byKey[key]; ok {
		return tx.repo.entries[id], nil
	}
	e := Entry{
		ID:               tx.next(),
		CompanyID:        companyID,
		WarehouseID:      warehouseID,
		ProductVariantID: variantID,
		HasSerials:       defaults.HasSerials,
		CriticalLevelQty: defaults.CriticalLevelQty,
		LastCost:         defaults.LastCost,
		SKU:              defaults.SKU,
		Barcode:          defaults.Barcode,
	}
	tx.repo.entries[e.ID] = e
	tx.repo.byKey[key] = e.ID
	return e, nil
}

func (tx *memoryLedgerTx) AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error) {
	e := tx.repo.entries[entryID]
	e.QtyOnHand += delta
	tx.repo.entries[entryID] = e
	return e.QtyOnHand, nil
}

func (tx *memoryLedgerTx) InsertSerial(ctx context.Context, s SerialRecord) (int64, error) {
	s.ID = tx.next()
	tx.repo.serials[s.ID] = s
	return s.ID, nil
}

func (tx *memoryLedgerTx) ActiveSerialInUse(ctx context.Context, companyID int64, serialNumber string) (bool, error) {
	for _, s := range tx.repo.serials {
		if s.SerialNumber == serialNumber && s.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryLedgerTx) GetActiveSerialOnEntry(ctx context.Context, entryID int64, serialNumber string) (SerialRecord, error) {
	for _, s := range tx.repo.serials {
		if s.EntryID == entryID && s.SerialNumber == serialNumber && s.Active() {
			return s, nil
		}
	}
	return SerialRecord{}, ErrSerialNotFound
}

func (tx *memoryLedgerTx) SoftDeleteSerial(ctx context.Context, serialID int64) error {
	s, ok := tx.repo.serials[serialID]
	if !ok {
		return ErrSerialNotFound
	}
	now := time.Now()
	s.DeletedAt = &now
	tx.repo.serials[serialID] = s
	return nil
}

func (tx *memoryLedgerTx) CountActiveSerials(ctx context.Context, entryID int64) (int, error) {
	count := 0
	for _, s := range tx.repo.serials {
		if s.EntryID == entryID && s.Active() {
			count++
		}
	}
	return count, nil
}

func seedEntry(t *testing.T, repo *memoryLedgerRepo, companyID int64, qty float64, hasSerials bool) Entry {
	t.Helper()
	var entry Entry
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindOrCreateEntry(ctx, companyID, 1, 11, EntryDefaults{HasSerials: hasSerials, SKU: "SKU-11"})
		if err != nil {
			return err
		}
		_, err = tx.AdjustEntryQty(ctx, entry.ID, qty)
		return err
	})
	require.NoError(t, err)
	entry.QtyOnHand = qty
	return entry
}

func TestIncrementDecrement(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry := seedEntry(t, repo, 1, 10, false)

	updated, err := svc.Decrement(ctx, 1, entry.ID, 4, 99)
	require.NoError(t, err)
	require.Equal(t, 6.0, updated.QtyOnHand)

	updated, err = svc.Increment(ctx, 1, entry.ID, 2, 99)
	require.NoError(t, err)
	require.Equal(t, 8.0, updated.QtyOnHand)
}

func TestDecrementRejectsNegativeResult(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry := seedEntry(t, repo, 1, 5, false)

	_, err := svc.Decrement(ctx, 1, entry.ID, 8, 99)
	require.ErrorIs(t, err, ErrInsufficientStock)

	got, err := svc.GetEntry(ctx, 1, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 5.0, got.QtyOnHand)
}

func TestAttachSerialKeepsCountInvariant(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry := seedEntry(t, repo, 1, 0, true)

	_, err := svc.AttachSerial(ctx, 1, entry.ID, SerialInput{SerialNumber: "SN-001"}, 99)
	require.NoError(t, err)
	_, err = svc.AttachSerial(ctx, 1, entry.ID, SerialInput{SerialNumber: "SN-002"}, 99)
	require.NoError(t, err)

	got, err := svc.GetEntry(ctx, 1, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 2.0, got.QtyOnHand)

	serials, err := svc.ListSerials(ctx, 1, entry.ID)
	require.NoError(t, err)
	require.Len(t, serials, 2)

	require.NoError(t, svc.DetachSerial(ctx, 1, entry.ID, "SN-001", 99))
	got, err = svc.GetEntry(ctx, 1, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 1.0, got.QtyOnHand)
}

func TestAttachSerialRejectsDuplicate(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry := seedEntry(t, repo, 1, 0, true)

	_, err := svc.AttachSerial(ctx, 1, entry.ID, SerialInput{SerialNumber: "SN-001"}, 99)
	require.NoError(t, err)
	_, err = svc.AttachSerial(ctx, 1, entry.ID, SerialInput{SerialNumber: "SN-001"}, 99)
	require.ErrorIs(t, err, ErrDuplicateSerial)
}

func TestAttachSerialRejectsExpiryBeforeManufacture(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry := seedEntry(t, repo, 1, 0, true)

	manufactured := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expired := manufactured.AddDate(0, -1, 0)
	_, err := svc.AttachSerial(ctx, 1, entry.ID, SerialInput{
		SerialNumber:   "SN-001",
		ManufacturedAt: &manufactured,
		ExpiredAt:      &expired,
	}, 99)
	require.ErrorIs(t, err, ErrExpiryBeforeManufacture)
}

func TestFindOrCreateReturnsExisting(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	first, err := svc.FindOrCreate(ctx, 1, 2, 33, EntryDefaults{SKU: "SKU-33"})
	require.NoError(t, err)
	second, err := svc.FindOrCreate(ctx, 1, 2, 33, EntryDefaults{SKU: "ignored"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "SKU-33", second.SKU)
}
