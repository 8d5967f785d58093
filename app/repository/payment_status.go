package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type PaymentStatusRepository struct {
	db DBTX
}

func NewPaymentStatusRepository(db DBTX) *PaymentStatusRepository {
	return &PaymentStatusRepository{db: db}
}

const (
	datedGuard   = "VALUES(provider_updated_at) > provider_updated_at"
	undatedGuard = "(VALUES(status) <> status OR VALUES(status_detail) <> status_detail)"
)

// UpdateStatus upserts the status of a provider payment. A dated update whose
// UpdatedAt is not newer than the stored provider_updated_at is a no-op, so
// redelivered or out-of-order notifications never regress a payment. An
// undated update only applies when status or status detail changed and never
// moves provider_updated_at.
// The returned flag reports whether the row was inserted or changed.
func (r *PaymentStatusRepository) UpdateStatus(ctx context.Context, update *entity.PaymentStatusUpdate) (bool, error) {
	metadataJSON, err := serializeMetadata(update.Metadata)
	if err != nil {
		return false, err
	}

	guard := datedGuard
	providerUpdatedAt := "GREATEST(provider_updated_at, VALUES(provider_updated_at))"
	if update.Undated {
		guard = undatedGuard
		providerUpdatedAt = "provider_updated_at"
	}

	// MySQL evaluates ON DUPLICATE KEY UPDATE assignments left to right, so
	// every column the guards read (status_detail, status, provider_updated_at)
	// is assigned after the columns that depend on them.
	query := `
		INSERT INTO payment_statuses (
			external_payment_id, external_reference, status, status_detail, metadata_json,
			provider_updated_at, checked_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			external_reference = IF(` + guard + `, VALUES(external_reference), external_reference),
			metadata_json = IF(` + guard + `, VALUES(metadata_json), metadata_json),
			updated_at = IF(` + guard + `, VALUES(updated_at), updated_at),
			status_detail = IF(` + guard + `, VALUES(status_detail), status_detail),
			status = IF(` + guard + `, VALUES(status), status),
			provider_updated_at = ` + providerUpdatedAt + `
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		update.ExternalPaymentID,
		update.ExternalReference,
		update.Status,
		update.StatusDetail,
		metadataJSON,
		update.UpdatedAt.UTC(),
		now,
		now,
		now,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// MarkChecked records that the reconcile job looked at the payment, moving it
// to the back of the reconcile queue.
func (r *PaymentStatusRepository) MarkChecked(ctx context.Context, externalPaymentID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE payment_statuses SET checked_at = ? WHERE external_payment_id = ?",
		at.UTC(),
		externalPaymentID,
	)
	return err
}

func (r *PaymentStatusRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*entity.PaymentStatusRecord, error) {
	query := `
		SELECT id, external_payment_id, external_reference, status, status_detail, metadata_json,
			provider_updated_at, checked_at, created_at, updated_at
		FROM payment_statuses
		WHERE external_payment_id = ?
		LIMIT 1
	`

	record := &entity.PaymentStatusRecord{}
	if err := scanPaymentStatus(r.db.QueryRowContext(ctx, query, externalPaymentID), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

// ListForReconcile returns payments still waiting on the provider that were
// last checked before the given instant, least recently checked first.
func (r *PaymentStatusRepository) ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentStatusRecord, error) {
	query := `
		SELECT id, external_payment_id, external_reference, status, status_detail, metadata_json,
			provider_updated_at, checked_at, created_at, updated_at
		FROM payment_statuses
		WHERE status IN (?, ?)
		  AND checked_at <= ?
		ORDER BY checked_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.PaymentStatusUnknown, entity.PaymentStatusPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*entity.PaymentStatusRecord, 0)
	for rows.Next() {
		item := &entity.PaymentStatusRecord{}
		if err := scanPaymentStatus(rows, item); err != nil {
			return nil, err
		}
		records = append(records, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaymentStatus(scan rowScanner, record *entity.PaymentStatusRecord) error {
	var metadataJSON string

	err := scan.Scan(
		&record.ID,
		&record.ExternalPaymentID,
		&record.ExternalReference,
		&record.Status,
		&record.StatusDetail,
		&metadataJSON,
		&record.ProviderUpdatedAt,
		&record.CheckedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return err
	}

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return err
	}
	record.Metadata = metadata

	return nil
}
