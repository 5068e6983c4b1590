package entity

import "time"

const (
	OrderPaymentPending = "pending"
	OrderPaymentPaid    = "paid"
	OrderPaymentFailed  = "failed"
)

const (
	OrderFulfillmentPending   = "pending"
	OrderFulfillmentAccepted  = "accepted"
	OrderFulfillmentCancelled = "cancelled"
)

// Order is the external aggregate this service reads and whose payment
// projection it advances. All other order fields belong to the catalog
// service.
type Order struct {
	ID          string
	CustomerRef *string

	TotalCents int64
	Currency   string

	PaymentStatus     string
	FulfillmentStatus string

	CreatedAt time.Time
	UpdatedAt time.Time
}
