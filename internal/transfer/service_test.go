package transfer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type memoryTransferRepo struct {
	mu         sync.Mutex
	transfers  map[int64]StockTransfer
	lines      map[int64]TransferLine
	serials    map[int64]TransferSerial
	entries    map[int64]ledger.Entry
	entryByKey map[[3]int64]int64
	ledSerials map[int64]ledger.SerialRecord
	nextID     int64
}

type memoryTransferTx struct {
	repo *memoryTransferRepo
}

func newMemoryTransferRepo() *memoryTransferRepo {
	return &memoryTransferRepo{
		transfers:  make(map[int64]StockTransfer),
		lines:      make(map[int64]TransferLine),
		serials:    make(map[int64]TransferSerial),
		entries:    make(map[int64]ledger.Entry),
		entryByKey: make(map[[3]int64]int64),
		ledSerials: make(map[int64]ledger.SerialRecord),
	}
}

func (r *memoryTransferRepo) next() int64 {
	r.nextID++
	return r.nextID
}

// WithTx serializes callers so the concurrent completion test observes the
// same row-lock semantics the SQL repository gets from FOR UPDATE.
func (r *memoryTransferRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTransferTx{repo: r})
}

func (r *memoryTransferRepo) GetTransfer(ctx context.Context, companyID, transferID int64) (StockTransfer, []TransferLine, error) {
	t, ok := r.transfers[transferID]
	if !ok || t.CompanyID != companyID {
		return StockTransfer{}, nil, ErrNotFound
	}
	var lines []TransferLine
	for _, l := range r.lines {
		if l.TransferID == transferID {
			lines = append(lines, l)
		}
	}
	return t, lines, nil
}

func (r *memoryTransferRepo) GetLineSerials(ctx context.Context, companyID, lineID int64) ([]TransferSerial, error) {
	var out []TransferSerial
	for _, s := range r.serials {
		if s.LineID == lineID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryTransferRepo) List(ctx context.Context, companyID int64, filter ListFilter) ([]StockTransfer, int, error) {
	var out []StockTransfer
	for _, t := range r.transfers {
		if t.CompanyID == companyID {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (tx *memoryTransferTx) InsertTransfer(ctx context.Context, t StockTransfer) (int64, error) {
	t.ID = tx.repo.next()
	tx.repo.transfers[t.ID] = t
	return t.ID, nil
}

func (tx *memoryTransferTx) InsertLine(ctx context.Context, l TransferLine) (int64, error) {
	l.ID = tx.repo.next()
	tx.repo.lines[l.ID] = l
	return l.ID, nil
}

func (tx *memoryTransferTx) InsertSerial(ctx context.Context, s TransferSerial) (int64, error) {
	s.ID = tx.repo.next()
	tx.repo.serials[s.ID] = s
	return s.ID, nil
}

func (tx *memoryTransferTx) GetTransferForUpdate(ctx context.Context, companyID, transferID int64) (StockTransfer, error) {
	t, ok := tx.repo.transfers[transferID]
	if !ok || t.CompanyID != companyID {
		return StockTransfer{}, ErrNotFound
	}
	return t, nil
}

func (tx *memoryTransferTx) GetLineForUpdate(ctx context.Context, companyID, lineID int64) (TransferLine, StockTransfer, error) {
	l, ok := tx.repo.lines[lineID]
	if !ok {
		return TransferLine{}, StockTransfer{}, ErrNotFound
	}
	t, ok := tx.repo.transfers[l.TransferID]
	if !ok || t.CompanyID != companyID {
		return TransferLine{}, StockTransfer{}, ErrNotFound
	}
	return l, t, nil
}

func (tx *memoryTransferTx) ListLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	var out []TransferLine
	for _, l := range tx.repo.lines {
		if l.TransferID == transferID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (tx *memoryTransferTx) ListLineSerials(ctx context.Context, lineID int64) ([]TransferSerial, error) {
	var out []TransferSerial
	for _, s := range tx.repo.serials {
		if s.LineID == lineID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (tx *memoryTransferTx) UpdateLineTransferredQty(ctx context.Context, lineID int64, qty float64) error {
	l := tx.repo.lines[lineID]
	l.TransferredQty = qty
	tx.repo.lines[lineID] = l
	return nil
}

func (tx *memoryTransferTx) MarkSerialReceived(ctx context.Context, serialID int64, received bool) error {
	s := tx.repo.serials[serialID]
	s.IsReceived = received
	tx.repo.serials[serialID] = s
	return nil
}

func (tx *memoryTransferTx) UpdateTransferStatus(ctx context.Context, transferID int64, status Status, approvedBy *int64) error {
	t := tx.repo.transfers[transferID]
	t.Status = status
	if approvedBy != nil {
		t.ApprovedBy = approvedBy
	}
	tx.repo.transfers[transferID] = t
	return nil
}

func (tx *memoryTransferTx) GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (ledger.Entry, error) {
	e, ok := tx.repo.entries[entryID]
	if !ok || e.CompanyID != companyID {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (tx *memoryTransferTx) GetEntryByKey(ctx context.Context, companyID, warehouseID, variantID int64) (ledger.Entry, error) {
	id, ok := tx.repo.entryByKey[[3]int64{companyID, warehouseID, variantID}]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return tx.repo.entries[id], nil
}

func (tx *memoryTransferTx) FindOrCreateEntry(ctx context.Context, companyID, warehouseID, variantID int64, defaults ledger.EntryDefaults) (ledger.Entry, error) {
	key := [3]int64{companyID, warehouseID, variantID}
	if id, ok := tx.repo.entryByKey[key]; ok {
		return tx.repo.entries[id], nil
	}
	e := ledger.Entry{
		ID:               tx.repo.next(),
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
	tx.repo.entryByKey[key] = e.ID
	return e, nil
}

func (tx *memoryTransferTx) AdjustEntryQty(ctx context.Context, entryID int64, delta float64) (float64, error) {
	e := tx.repo.entries[entryID]
	e.QtyOnHand += delta
	tx.repo.entries[entryID] = e
	return e.QtyOnHand, nil
}

func (tx *memoryTransferTx) GetActiveSerialOnEntry(ctx context.Context, entryID int64, serialNumber string) (ledger.SerialRecord, error) {
	for _, s := range tx.repo.ledSerials {
		if s.EntryID == entryID && s.SerialNumber == serialNumber && s.Active() {
			return s, nil
		}
	}
	return ledger.SerialRecord{}, ledger.ErrSerialNotFound
}

func (tx *memoryTransferTx) MoveSerial(ctx context.Context, serialID, destEntryID int64) error {
	s := tx.repo.ledSerials[serialID]
	s.EntryID = destEntryID
	tx.repo.ledSerials[serialID] = s
	return nil
}

type recordingLowStock struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (l *recordingLowStock) EntryDecremented(ctx context.Context, entry ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func seedEntry(repo *memoryTransferRepo, companyID, warehouseID, variantID int64, qty float64, hasSerials bool) ledger.Entry {
	e := ledger.Entry{
		ID:               repo.next(),
		CompanyID:        companyID,
		WarehouseID:      warehouseID,
		ProductVariantID: variantID,
		QtyOnHand:        qty,
		HasSerials:       hasSerials,
		SKU:              "SKU-" + string(rune('A'+variantID%26)),
	}
	repo.entries[e.ID] = e
	repo.entryByKey[[3]int64{companyID, warehouseID, variantID}] = e.ID
	return e
}

func seedLedgerSerial(repo *memoryTransferRepo, entryID int64, number string) ledger.SerialRecord {
	s := ledger.SerialRecord{ID: repo.next(), EntryID: entryID, SerialNumber: number}
	repo.ledSerials[s.ID] = s
	return s
}

func TestTransferLifecycleNonSerialized(t *testing.T) {
	repo := newMemoryTransferRepo()
	origin := seedEntry(repo, 7, 1, 100, 10, false)
	svc := NewService(repo, nil, nil, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		ActorID:                1,
		Lines: []CreateLineInput{
			{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 4},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	transfer := results[0].Transfer
	line := results[0].Lines[0]
	require.Equal(t, StatusPending, transfer.Status)

	_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)

	result, err := svc.Receive(context.Background(), 7, line.ID, 4, nil, 1)
	require.NoError(t, err)
	require.Equal(t, StatusFullyTransferred, result.Transfer.Status)
	require.Equal(t, 4.0, result.Line.TransferredQty)

	done, err := svc.Complete(context.Background(), 7, transfer.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)

	require.Equal(t, 6.0, repo.entries[origin.ID].QtyOnHand)
	dest := repo.entries[repo.entryByKey[[3]int64{7, 2, 100}]]
	require.Equal(t, 4.0, dest.QtyOnHand)
}

func TestCreateRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryTransferRepo()
	seedEntry(repo, 7, 1, 100, 5, false)
	seedEntry(repo, 7, 1, 101, 2, false)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines: []CreateLineInput{
			{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 8},
			{OriginWarehouseID: 1, ProductVariantID: 101, Qty: 3},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "have 5.00, want 8.00")
	require.Contains(t, err.Error(), "have 2.00, want 3.00")
	require.Empty(t, repo.transfers)
	require.Empty(t, repo.lines)
}

func TestCreateRejectsSameWarehouse(t *testing.T) {
	repo := newMemoryTransferRepo()
	seedEntry(repo, 7, 1, 100, 5, false)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 1,
		Lines:                  []CreateLineInput{{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestCreateSplitsByOriginWarehouse(t *testing.T) {
	repo := newMemoryTransferRepo()
	seedEntry(repo, 7, 1, 100, 5, false)
	seedEntry(repo, 7, 3, 101, 5, false)
	svc := NewService(repo, nil, nil, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines: []CreateLineInput{
			{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 2},
			{OriginWarehouseID: 3, ProductVariantID: 101, Qty: 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotEqual(t, results[0].Transfer.ID, results[1].Transfer.ID)
	require.Equal(t, int64(1), results[0].Transfer.OriginWarehouseID)
	require.Equal(t, int64(3), results[1].Transfer.OriginWarehouseID)
}

func TestSerializedTransferMovesOwnershipAtComplete(t *testing.T) {
	repo := newMemoryTransferRepo()
	origin := seedEntry(repo, 7, 1, 100, 2, true)
	sn1 := seedLedgerSerial(repo, origin.ID, "SN-1")
	sn2 := seedLedgerSerial(repo, origin.ID, "SN-2")
	svc := NewService(repo, nil, nil, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines: []CreateLineInput{
			{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 2, SerialNumbers: []string{"SN-1", "SN-2"}},
		},
	})
	require.NoError(t, err)
	transfer := results[0].Transfer
	line := results[0].Lines[0]

	_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), 7, line.ID, 1, []string{"SN-9"}, 1)
	require.ErrorIs(t, err, ErrSerialMismatch)

	_, err = svc.Receive(context.Background(), 7, line.ID, 2, []string{"SN-1"}, 1)
	require.ErrorIs(t, err, ErrSerialMismatch)

	result, err := svc.Receive(context.Background(), 7, line.ID, 2, []string{"SN-1", "SN-2"}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusFullyTransferred, result.Transfer.Status)

	// Ownership has not moved yet.
	require.Equal(t, origin.ID, repo.ledSerials[sn1.ID].EntryID)

	_, err = svc.Complete(context.Background(), 7, transfer.ID, 1)
	require.NoError(t, err)

	destID := repo.entryByKey[[3]int64{7, 2, 100}]
	require.Equal(t, destID, repo.ledSerials[sn1.ID].EntryID)
	require.Equal(t, destID, repo.ledSerials[sn2.ID].EntryID)
	require.Equal(t, 0.0, repo.entries[origin.ID].QtyOnHand)
	require.Equal(t, 2.0, repo.entries[destID].QtyOnHand)
}

func TestRepeatedSerialInOneRequestRejected(t *testing.T) {
	repo := newMemoryTransferRepo()
	origin := seedEntry(repo, 7, 1, 100, 2, true)
	seedLedgerSerial(repo, origin.ID, "SN-1")
	seedLedgerSerial(repo, origin.ID, "SN-2")
	svc := NewService(repo, nil, nil, nil)

	// One physical unit cannot back two expected-serial rows.
	_, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines: []CreateLineInput{
			{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 2, SerialNumbers: []string{"SN-1", "SN-1"}},
		},
	})
	require.ErrorIs(t, err, ErrSerialMismatch)
	require.Empty(t, repo.serials)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines: []CreateLineInput{
			{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 2, SerialNumbers: []string{"SN-1", "SN-2"}},
		},
	})
	require.NoError(t, err)
	transfer := results[0].Transfer
	line := results[0].Lines[0]

	_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), 7, line.ID, 2, []string{"SN-1", "SN-1"}, 1)
	require.ErrorIs(t, err, ErrSerialMismatch)
	require.Equal(t, 0.0, repo.lines[line.ID].TransferredQty)
	for _, ts := range repo.serials {
		require.False(t, ts.IsReceived)
	}

	_, err = svc.Receive(context.Background(), 7, line.ID, 2, []string{"SN-1", "SN-2"}, 1)
	require.NoError(t, err)

	_, err = svc.Return(context.Background(), 7, line.ID, 2, []string{"SN-2", "SN-2"}, 1)
	require.ErrorIs(t, err, ErrSerialMismatch)
	require.Equal(t, 2.0, repo.lines[line.ID].TransferredQty)
}

func TestReturnRevertsToApproved(t *testing.T) {
	repo := newMemoryTransferRepo()
	origin := seedEntry(repo, 7, 1, 100, 10, false)
	svc := NewService(repo, nil, nil, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines:                  []CreateLineInput{{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 6}},
	})
	require.NoError(t, err)
	transfer := results[0].Transfer
	line := results[0].Lines[0]

	_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), 7, line.ID, 6, nil, 1)
	require.NoError(t, err)

	result, err := svc.Return(context.Background(), 7, line.ID, 6, nil, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, result.Transfer.Status)
	require.Equal(t, 0.0, result.Line.TransferredQty)

	// Ledger untouched while the transfer is open.
	require.Equal(t, 10.0, repo.entries[origin.ID].QtyOnHand)
}

func TestDecisionOnlyFromPending(t *testing.T) {
	repo := newMemoryTransferRepo()
	seedEntry(repo, 7, 1, 100, 10, false)
	svc := NewService(repo, nil, nil, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines:                  []CreateLineInput{{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 1}},
	})
	require.NoError(t, err)
	transfer := results[0].Transfer

	approved, err := svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)

	_, err = svc.Cancel(context.Background(), 7, transfer.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Reject(context.Background(), 7, transfer.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteRequiresFullyTransferred(t *testing.T) {
	repo := newMemoryTransferRepo()
	seedEntry(repo, 7, 1, 100, 10, false)
	svc := NewService(repo, nil, nil, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines:                  []CreateLineInput{{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 4}},
	})
	require.NoError(t, err)
	transfer := results[0].Transfer
	line := results[0].Lines[0]

	_, err = svc.Complete(context.Background(), 7, transfer.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)
	_, err = svc.Receive(context.Background(), 7, line.ID, 2, nil, 1)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), 7, transfer.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentCompletionOverdraw(t *testing.T) {
	repo := newMemoryTransferRepo()
	origin := seedEntry(repo, 7, 1, 100, 10, false)
	svc := NewService(repo, nil, nil, nil)

	var transfers []StockTransfer
	for i := 0; i < 2; i++ {
		results, err := svc.Create(context.Background(), CreateInput{
			CompanyID:              7,
			DestinationWarehouseID: 2,
			Lines:                  []CreateLineInput{{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 10}},
		})
		require.NoError(t, err)
		transfer := results[0].Transfer
		line := results[0].Lines[0]
		_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
		require.NoError(t, err)
		_, err = svc.Receive(context.Background(), 7, line.ID, 10, nil, 1)
		require.NoError(t, err)
		transfers = append(transfers, transfer)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, transfer := range transfers {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.Complete(context.Background(), 7, id, 1)
			errs <- err
		}(transfer.ID)
	}
	wg.Wait()
	close(errs)

	var failures, successes int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientStock)
			failures++
		} else {
			successes++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)
	require.Equal(t, 0.0, repo.entries[origin.ID].QtyOnHand)
}

func TestCompleteNotifiesLowStock(t *testing.T) {
	repo := newMemoryTransferRepo()
	threshold := 5.0
	origin := seedEntry(repo, 7, 1, 100, 10, false)
	e := repo.entries[origin.ID]
	e.CriticalLevelQty = &threshold
	repo.entries[origin.ID] = e

	notifier := &recordingLowStock{}
	svc := NewService(repo, nil, notifier, nil)

	results, err := svc.Create(context.Background(), CreateInput{
		CompanyID:              7,
		DestinationWarehouseID: 2,
		Lines:                  []CreateLineInput{{OriginWarehouseID: 1, ProductVariantID: 100, Qty: 6}},
	})
	require.NoError(t, err)
	transfer := results[0].Transfer
	line := results[0].Lines[0]

	_, err = svc.Approve(context.Background(), 7, transfer.ID, 2)
	require.NoError(t, err)
	_, err = svc.Receive(context.Background(), 7, line.ID, 6, nil, 1)
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), 7, transfer.ID, 1)
	require.NoError(t, err)

	require.Len(t, notifier.entries, 1)
	require.Equal(t, origin.ID, notifier.entries[0].ID)
	require.Equal(t, 4.0, notifier.entries[0].QtyOnHand)
}
