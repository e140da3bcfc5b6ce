package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeLowStockAlert notifies a recipient about a depleted ledger entry.
	TaskTypeLowStockAlert = "lowstock:alert"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP/Mailpit in phase 2.
	fmt.Printf("[jobs] send email to %s subject=%s\n", payload.To, payload.Subject)
	return nil
}

// LowStockAlertPayload names the entry that crossed its threshold and the
// recipient to notify.
type LowStockAlertPayload struct {
	CompanyID        int64   `json:"company_id"`
	WarehouseID      int64   `json:"warehouse_id"`
	ProductVariantID int64   `json:"product_variant_id"`
	SKU              string  `json:"sku"`
	QtyOnHand        float64 `json:"qty_on_hand"`
	Threshold        float64 `json:"threshold"`
	RecipientEmail   string  `json:"recipient_email"`
	RecipientName    string  `json:"recipient_name"`
}

// NewLowStockAlertTask constructs an Asynq task for one recipient. The task
// ID is derived from the entry and recipient so a duplicate enqueue while the
// first task is still pending collapses into one delivery.
func NewLowStockAlertTask(payload LowStockAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	taskID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("lowstock:%d:%d:%d:%s",
		payload.CompanyID, payload.WarehouseID, payload.ProductVariantID, payload.RecipientEmail)))
	return asynq.NewTask(TaskTypeLowStockAlert, data,
		asynq.Queue(QueueDefault), asynq.TaskID(taskID.String())), nil
}
