package lowstock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type fakeRecipients struct {
	recipients []Recipient
}

func (f *fakeRecipients) ListRecipients(ctx context.Context, companyID, warehouseID int64) ([]Recipient, error) {
	return f.recipients, nil
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (e *recordingEnqueuer) EnqueueLowStockAlert(ctx context.Context, alert Alert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.alerts = append(e.alerts, alert)
	return nil
}

func (e *recordingEnqueuer) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func newTestService(t *testing.T, recipients []Recipient) (*Service, *recordingEnqueuer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	enqueuer := &recordingEnqueuer{}
	svc := NewService(slog.Default(), &fakeRecipients{recipients: recipients}, NewCooldown(client, time.Minute), enqueuer)
	return svc, enqueuer
}

func entryAt(qty float64, threshold *float64) ledger.Entry {
	return ledger.Entry{
		ID:               1,
		CompanyID:        7,
		WarehouseID:      10,
		ProductVariantID: 100,
		QtyOnHand:        qty,
		CriticalLevelQty: threshold,
		SKU:              "SKU-A",
	}
}

func ptr(f float64) *float64 { return &f }

func TestAlertsEachRecipientAtThreshold(t *testing.T) {
	svc, enqueuer := newTestService(t, []Recipient{
		{UserID: 1, Name: "Ops", Email: "ops@example.com"},
		{UserID: 2, Name: "Lead", Email: "lead@example.com"},
	})

	err := svc.EntryDecremented(context.Background(), entryAt(5, ptr(5)))
	require.NoError(t, err)
	require.Len(t, enqueuer.alerts, 2)
	emails := []string{enqueuer.alerts[0].RecipientEmail, enqueuer.alerts[1].RecipientEmail}
	require.ElementsMatch(t, []string{"ops@example.com", "lead@example.com"}, emails)
	require.Equal(t, 5.0, enqueuer.alerts[0].Threshold)
}

func TestNoAlertAboveThreshold(t *testing.T) {
	svc, enqueuer := newTestService(t, []Recipient{{UserID: 1, Email: "ops@example.com"}})

	err := svc.EntryDecremented(context.Background(), entryAt(6, ptr(5)))
	require.NoError(t, err)
	require.Empty(t, enqueuer.alerts)
}

func TestNoAlertWithoutThreshold(t *testing.T) {
	svc, enqueuer := newTestService(t, []Recipient{{UserID: 1, Email: "ops@example.com"}})

	err := svc.EntryDecremented(context.Background(), entryAt(0, nil))
	require.NoError(t, err)
	require.Empty(t, enqueuer.alerts)
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	svc, enqueuer := newTestService(t, []Recipient{{UserID: 1, Email: "ops@example.com"}})

	require.NoError(t, svc.EntryDecremented(context.Background(), entryAt(4, ptr(5))))
	require.NoError(t, svc.EntryDecremented(context.Background(), entryAt(3, ptr(5))))
	require.Len(t, enqueuer.alerts, 1)
}

func TestFailedEnqueueReleasesCooldown(t *testing.T) {
	svc, enqueuer := newTestService(t, []Recipient{{UserID: 1, Email: "ops@example.com"}})
	enqueuer.setErr(errors.New("queue unavailable"))

	require.NoError(t, svc.EntryDecremented(context.Background(), entryAt(4, ptr(5))))
	require.Empty(t, enqueuer.alerts)

	// The breach fires again once the queue is back.
	enqueuer.setErr(nil)
	require.NoError(t, svc.EntryDecremented(context.Background(), entryAt(3, ptr(5))))
	require.Len(t, enqueuer.alerts, 1)
}

func TestCooldownKeyedPerEntry(t *testing.T) {
	svc, enqueuer := newTestService(t, []Recipient{{UserID: 1, Email: "ops@example.com"}})

	first := entryAt(4, ptr(5))
	second := entryAt(4, ptr(5))
	second.ID = 2

	require.NoError(t, svc.EntryDecremented(context.Background(), first))
	require.NoError(t, svc.EntryDecremented(context.Background(), second))
	require.Len(t, enqueuer.alerts, 2)
}
