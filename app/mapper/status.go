package mapper

import (
	"strings"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

var providerStatuses = map[string]entity.PaymentStatus{
	"pending":      entity.PaymentStatusPending,
	"in_process":   entity.PaymentStatusPending,
	"authorized":   entity.PaymentStatusPending,
	"in_mediation": entity.PaymentStatusPending,
	"approved":     entity.PaymentStatusApproved,
	"rejected":     entity.PaymentStatusRejected,
	"cancelled":    entity.PaymentStatusCancelled,
	"canceled":     entity.PaymentStatusCancelled,
	"refunded":     entity.PaymentStatusRefunded,
	"charged_back": entity.PaymentStatusChargedBack,
}

// StatusFromProvider is total: anything not in the table is Unknown.
func StatusFromProvider(raw string) entity.PaymentStatus {
	status, ok := providerStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return entity.PaymentStatusUnknown
	}
	return status
}
