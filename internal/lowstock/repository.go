package lowstock

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository resolves alert recipients from warehouse subscriptions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the lowstock repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRecipients returns the users subscribed to low-stock alerts for the
// warehouse.
func (r *Repository) ListRecipients(ctx context.Context, companyID, warehouseID int64) ([]Recipient, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.name, u.email
         FROM warehouse_alert_subscriptions s
         JOIN users u ON u.id = s.user_id
         WHERE s.company_id=$1 AND (s.warehouse_id=$2 OR s.warehouse_id IS NULL)
           AND u.deleted_at IS NULL
         ORDER BY u.id`, companyID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.UserID, &rec.Name, &rec.Email); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
