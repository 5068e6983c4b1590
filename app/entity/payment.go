package entity

import "time"

const (
	PaymentStatusPending    int32 = 2
	PaymentStatusSuccessful int32 = 10
	PaymentStatusFailed     int32 = 20
	PaymentStatusCancelled  int32 = 30
)

const (
	OrderSyncNone    int32 = 0
	OrderSyncPending int32 = 1
	OrderSyncSuccess int32 = 10
	OrderSyncFailed  int32 = 20
)

// PaymentRecord is one mobile-money collection attempt, keyed by the
// provider-assigned reference. Status only moves forward; every status
// mutation goes through the repository's conditional update.
type PaymentRecord struct {
	Reference string

	OrderID string
	// ActiveOrderKey mirrors OrderID while the record is pending and is
	// cleared on the terminal transition. A unique index on the column makes
	// the store reject a second active record for the same order, closing
	// the window between the lookup and the insert.
	ActiveOrderKey *string

	PayerHandle string
	Description string

	AmountCents int64
	Currency    string

	Status int32

	Operator          *string
	ProviderCode      *string
	OperatorReference *string
	FailureReason     *string

	PollAttempts int32
	NextPollAt   *time.Time

	OrderSyncStatus   int32
	OrderSyncAttempts int32
	OrderSyncNextAt   *time.Time
	OrderSyncLastErr  *string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

func TerminalPaymentStatus(status int32) bool {
	switch status {
	case PaymentStatusSuccessful, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}
