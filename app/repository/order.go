package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
)

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*entity.Order, error) {
	query := `
		SELECT id, customer_ref, total_cents, currency, payment_status, fulfillment_status, created_at, updated_at
		FROM orders
		WHERE id = ?
	`

	order := &entity.Order{}
	var customerRef sql.NullString
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID,
		&customerRef,
		&order.TotalCents,
		&order.Currency,
		&order.PaymentStatus,
		&order.FulfillmentStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	order.CustomerRef = stringPtrFromNull(customerRef)
	return order, nil
}

// UpdatePaymentState advances the order's payment projection in a single
// write. With guardNotPaid set the update refuses to touch an order that is
// already paid, so a stale failure can never un-terminalize a confirmed
// payment.
func (r *OrderRepository) UpdatePaymentState(ctx context.Context, orderID, paymentStatus, fulfillmentStatus string, guardNotPaid bool, now time.Time) error {
	query := `
		UPDATE orders SET
			payment_status = ?,
			fulfillment_status = ?,
			updated_at = ?
		WHERE id = ?
	`
	args := []interface{}{paymentStatus, fulfillmentStatus, now, orderID}

	if guardNotPaid {
		query += ` AND payment_status <> ?`
		args = append(args, entity.OrderPaymentPaid)
	}

	// Rows-affected is not checked: MySQL reports 0 both for a missing row
	// and for a value-identical idempotent retry, and retries must succeed.
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
