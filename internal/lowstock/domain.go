package lowstock

// Recipient is one user subscribed to low-stock alerts for a warehouse.
type Recipient struct {
	UserID int64
	Name   string
	Email  string
}

// Alert is the notification fanned out when an entry crosses its threshold.
type Alert struct {
	CompanyID        int64   `json:"company_id"`
	WarehouseID      int64   `json:"warehouse_id"`
	ProductVariantID int64   `json:"product_variant_id"`
	SKU              string  `json:"sku"`
	QtyOnHand        float64 `json:"qty_on_hand"`
	Threshold        float64 `json:"threshold"`
	RecipientEmail   string  `json:"recipient_email"`
	RecipientName    string  `json:"recipient_name"`
}
