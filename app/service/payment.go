package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const defaultBatchSize = int32(100)

type paymentStatusRepository interface {
	PaymentStatusStore
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*entity.PaymentStatusRecord, error)
	ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentStatusRecord, error)
	MarkChecked(ctx context.Context, externalPaymentID string, at time.Time) error
}

// PaymentLookup is a provider snapshot plus its mapped status and the row
// stored locally, if any.
type PaymentLookup struct {
	Details *provider.PaymentDetails
	Status  entity.PaymentStatus
	Stored  *entity.PaymentStatusRecord
}

type PaymentService struct {
	gateway     provider.Gateway
	statusRepo  paymentStatusRepository
	eventRepo   paymentEventRepository
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewPaymentService(
	gateway provider.Gateway,
	statusRepo paymentStatusRepository,
	eventRepo paymentEventRepository,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		gateway:     gateway,
		statusRepo:  statusRepo,
		eventRepo:   eventRepo,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("payment-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreatePreference starts a checkout. The returned result is non-nil even on
// error so callers can surface the provider message.
func (s *PaymentService) CreatePreference(ctx context.Context, req *provider.PreferenceRequest) (*provider.PreferenceResult, error) {
	result, err := s.gateway.CreatePreference(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrInvalidRequest):
			return result, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return result, err
		default:
			return result, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
	}
	if result == nil || !result.Success {
		message := "preference was not created"
		if result != nil && result.ErrorMessage != "" {
			message = result.ErrorMessage
		}
		return result, fmt.Errorf("%w: %s", ErrProviderUnavailable, message)
	}

	s.logger.WithFields(logrus.Fields{
		"preference_id":      result.ID,
		"external_reference": result.ExternalReference,
	}).Info("Preference created")

	return result, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*PaymentLookup, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}

	details, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, err
	}
	if details == nil {
		return nil, ErrPaymentDetailsUnavailable
	}

	lookup := &PaymentLookup{
		Details: details,
		Status:  mapper.StatusFromProvider(details.Status),
	}

	if s.statusRepo != nil {
		stored, err := s.statusRepo.FindByExternalPaymentID(ctx, paymentID)
		if err != nil {
			s.logger.WithError(err).WithField("payment_id", paymentID).Warn("Failed to load stored payment status")
		} else {
			lookup.Stored = stored
		}
	}

	return lookup, nil
}

// SyncPayment fetches a payment and applies its status to the store. It is
// the pull counterpart of the payment webhook.
func (s *PaymentService) SyncPayment(ctx context.Context, paymentID string) (*PaymentLookup, bool, error) {
	lookup, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}

	update := statusUpdateFromDetails(lookup.Details, strings.TrimSpace(paymentID), s.now())
	applied, err := s.statusRepo.UpdateStatus(ctx, update)
	if err != nil {
		return nil, false, err
	}

	if applied {
		var oldStatus *entity.PaymentStatus
		if lookup.Stored != nil && lookup.Stored.Status != update.Status {
			old := lookup.Stored.Status
			oldStatus = &old
		}
		s.recordEvent(ctx, &entity.PaymentEvent{
			ExternalPaymentID: update.ExternalPaymentID,
			EventType:         "payment_synced",
			OldStatus:         oldStatus,
			NewStatus:         update.Status,
			CreatedAt:         s.now(),
		})
	}

	return lookup, applied, nil
}

func (s *PaymentService) CreateRefund(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	result, err := s.gateway.CreateRefund(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrInvalidRequest):
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", ErrRefundFailed, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": req.PaymentID,
		"refund_id":  result.ID,
		"status":     result.Status,
		"amount":     result.Amount.String(),
	}).Info("Refund created")

	return result, nil
}

func (s *PaymentService) recordEvent(ctx context.Context, event *entity.PaymentEvent) {
	if s.eventRepo == nil {
		return
	}
	_ = s.eventRepo.Create(ctx, event)
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
