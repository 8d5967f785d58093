package entity

import "time"

const (
	WebhookEventProcessed int32 = 10
	WebhookEventDuplicate int32 = 15
	WebhookEventRejected  int32 = 20
	WebhookEventFailed    int32 = 30
)

// WebhookEnvelope is one inbound provider notification. Body holds the exact
// bytes received.
type WebhookEnvelope struct {
	ID         string
	Type       string
	Action     string
	DataID     string
	Body       []byte
	ReceivedAt time.Time
}

type WebhookEvent struct {
	ID uint64

	DeliveryID   string
	ResourceType string
	Action       string
	DataID       string

	Signature   string
	PayloadJSON string
	Status      int32
	Error       *string

	CreatedAt time.Time
}
