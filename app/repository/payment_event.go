package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type PaymentEventRepository struct {
	db DBTX
}

func NewPaymentEventRepository(db DBTX) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, event *entity.PaymentEvent) error {
	query := `
		INSERT INTO payment_status_events (
			external_payment_id, event_type, old_status, new_status, delivery_id, payload_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.ExternalPaymentID,
		event.EventType,
		nullableStatusValue(event.OldStatus),
		event.NewStatus,
		nullableStringValue(event.DeliveryID),
		nullableStringValue(event.PayloadJSON),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}
