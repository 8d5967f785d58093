package entity

import "time"

type PaymentEvent struct {
	ID uint64

	ExternalPaymentID string

	EventType string

	OldStatus *PaymentStatus
	NewStatus PaymentStatus

	DeliveryID  *string
	PayloadJSON *string

	CreatedAt time.Time
}
