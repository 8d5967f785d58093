package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *entity.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			delivery_id, resource_type, action, data_id, signature, payload_json, status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.DeliveryID,
		event.ResourceType,
		event.Action,
		event.DataID,
		event.Signature,
		event.PayloadJSON,
		event.Status,
		nullableStringValue(event.Error),
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
