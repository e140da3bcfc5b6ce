package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// LowStockAlertJob turns queued low-stock alerts into recipient emails.
type LowStockAlertJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Mailer  MailEnqueuer
}

// MailEnqueuer submits email tasks back to the queue.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// NewLowStockAlertJob initialises the alert handler.
func NewLowStockAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics, mailer MailEnqueuer) *LowStockAlertJob {
	return &LowStockAlertJob{Logger: logger, Metrics: metrics, Mailer: mailer}
}

// Handle formats and dispatches one alert email.
func (j *LowStockAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("low stock alert: handler not configured")
	}
	tracker := j.Metrics.Track("lowstock_alert")
	var payload LowStockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	subject := fmt.Sprintf("Low stock: %s", payload.SKU)
	body := fmt.Sprintf(
		"Hello %s,\n\nStock for %s in warehouse %d dropped to %.2f (threshold %.2f). Please review replenishment.\n",
		payload.RecipientName, payload.SKU, payload.WarehouseID, payload.QtyOnHand, payload.Threshold,
	)
	if j.Mailer != nil {
		if _, err := j.Mailer.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      payload.RecipientEmail,
			Subject: subject,
			Body:    body,
		}); err != nil {
			return tracker.End(err)
		}
	}
	j.Logger.Info("low stock alert dispatched",
		slog.String("sku", payload.SKU),
		slog.Int64("warehouse_id", payload.WarehouseID),
		slog.String("recipient", payload.RecipientEmail),
	)
	return tracker.End(nil)
}
