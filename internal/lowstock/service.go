package lowstock

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// RecipientPort resolves who should hear about a low-stock condition.
type RecipientPort interface {
	ListRecipients(ctx context.Context, companyID, warehouseID int64) ([]Recipient, error)
}

// CooldownPort rate-limits alerts per ledger entry.
type CooldownPort interface {
	Acquire(ctx context.Context, companyID, entryID int64) (bool, error)
	Release(ctx context.Context, companyID, entryID int64) error
}

// EnqueuerPort hands alerts to the background queue.
type EnqueuerPort interface {
	EnqueueLowStockAlert(ctx context.Context, alert Alert) error
}

// Service evaluates decremented ledger entries against their thresholds and
// fans out one alert per subscribed recipient. Every failure is swallowed
// after logging: a missed alert must never roll back an inventory mutation.
type Service struct {
	logger     *slog.Logger
	recipients RecipientPort
	cooldown   CooldownPort
	enqueuer   EnqueuerPort
}

// NewService constructs the low stock service.
func NewService(logger *slog.Logger, recipients RecipientPort, cooldown CooldownPort, enqueuer EnqueuerPort) *Service {
	return &Service{logger: logger, recipients: recipients, cooldown: cooldown, enqueuer: enqueuer}
}

// EntryDecremented checks the entry after a quantity decrement and enqueues
// alerts when on-hand dropped to or below the configured threshold.
func (s *Service) EntryDecremented(ctx context.Context, entry ledger.Entry) error {
	if entry.CriticalLevelQty == nil || entry.QtyOnHand > *entry.CriticalLevelQty {
		return nil
	}
	if s.cooldown != nil {
		ok, err := s.cooldown.Acquire(ctx, entry.CompanyID, entry.ID)
		if err != nil {
			s.logger.Warn("low stock cooldown", slog.Any("error", err), slog.Int64("entry_id", entry.ID))
			return nil
		}
		if !ok {
			return nil
		}
	}
	recipients, err := s.recipients.ListRecipients(ctx, entry.CompanyID, entry.WarehouseID)
	if err != nil {
		s.logger.Warn("low stock recipients", slog.Any("error", err), slog.Int64("entry_id", entry.ID))
		s.releaseCooldown(ctx, entry)
		return nil
	}
	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, rec := range recipients {
		rec := rec
		g.Go(func() error {
			alert := Alert{
				CompanyID:        entry.CompanyID,
				WarehouseID:      entry.WarehouseID,
				ProductVariantID: entry.ProductVariantID,
				SKU:              entry.SKU,
				QtyOnHand:        entry.QtyOnHand,
				Threshold:        *entry.CriticalLevelQty,
				RecipientEmail:   rec.Email,
				RecipientName:    rec.Name,
			}
			if err := s.enqueuer.EnqueueLowStockAlert(gctx, alert); err != nil {
				s.logger.Warn("low stock enqueue", slog.Any("error", err), slog.String("recipient", rec.Email))
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if len(recipients) > 0 && sent.Load() == 0 {
		s.releaseCooldown(ctx, entry)
	}
	return nil
}

// releaseCooldown hands the window back when nothing was enqueued so the
// breach is retried on the next decrement.
func (s *Service) releaseCooldown(ctx context.Context, entry ledger.Entry) {
	if s.cooldown == nil {
		return
	}
	if err := s.cooldown.Release(ctx, entry.CompanyID, entry.ID); err != nil {
		s.logger.Warn("low stock cooldown release", slog.Any("error", err), slog.Int64("entry_id", entry.ID))
	}
}
