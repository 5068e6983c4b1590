package entity

import "time"

type PaymentEvent struct {
	ID uint64

	Reference string
	OrderID   string

	EventType string
	Source    string

	OldStatus *int32
	NewStatus int32

	PayloadJSON *string

	CreatedAt time.Time
}
