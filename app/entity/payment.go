package entity

import "time"

type PaymentStatus int32

const (
	PaymentStatusUnknown     PaymentStatus = 0
	PaymentStatusPending     PaymentStatus = 1
	PaymentStatusApproved    PaymentStatus = 2
	PaymentStatusRejected    PaymentStatus = 3
	PaymentStatusCancelled   PaymentStatus = 4
	PaymentStatusRefunded    PaymentStatus = 5
	PaymentStatusChargedBack PaymentStatus = 6
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusPending:
		return "pending"
	case PaymentStatusApproved:
		return "approved"
	case PaymentStatusRejected:
		return "rejected"
	case PaymentStatusCancelled:
		return "cancelled"
	case PaymentStatusRefunded:
		return "refunded"
	case PaymentStatusChargedBack:
		return "charged_back"
	default:
		return "unknown"
	}
}

// PaymentStatusUpdate is one observation of a provider payment.
type PaymentStatusUpdate struct {
	ExternalPaymentID string
	ExternalReference string
	Status            PaymentStatus
	StatusDetail      string
	UpdatedAt         time.Time
	Metadata          map[string]string

	// Undated marks a snapshot without a provider timestamp; UpdatedAt then
	// holds the local observation time and the store applies it only when
	// status or status detail differ from the stored row.
	Undated bool
}

// PaymentStatus rows are keyed by ExternalPaymentID; ProviderUpdatedAt is the
// provider's last-updated instant of the observation currently stored.
type PaymentStatusRecord struct {
	ID uint64

	ExternalPaymentID string
	ExternalReference string

	Status       PaymentStatus
	StatusDetail string

	Metadata map[string]string

	ProviderUpdatedAt time.Time
	CheckedAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
