package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/cache"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
)

type signatureChecker interface {
	Check(rawBody []byte, signatureHeader string) error
}

type paymentDetailsFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*provider.PaymentDetails, error)
}

// PaymentStatusStore persists the latest known status of a provider payment.
// UpdateStatus must be idempotent: an update not newer than the stored one
// is a no-op and reports false.
type PaymentStatusStore interface {
	UpdateStatus(ctx context.Context, update *entity.PaymentStatusUpdate) (bool, error)
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type webhookEventRepository interface {
	Create(ctx context.Context, event *entity.WebhookEvent) error
}

type WebhookRouterOption func(*WebhookRouter)

func WithDeduplicator(dedup cache.Deduplicator) WebhookRouterOption {
	return func(r *WebhookRouter) {
		if dedup != nil {
			r.dedup = dedup
		}
	}
}

func WithWebhookEventLog(events webhookEventRepository) WebhookRouterOption {
	return func(r *WebhookRouter) {
		r.webhookEvents = events
	}
}

func WithPaymentEventLog(events paymentEventRepository) WebhookRouterOption {
	return func(r *WebhookRouter) {
		r.paymentEvents = events
	}
}

type WebhookRouter struct {
	verifier      signatureChecker
	payments      paymentDetailsFetcher
	store         PaymentStatusStore
	registry      *HandlerRegistry
	dedup         cache.Deduplicator
	webhookEvents webhookEventRepository
	paymentEvents paymentEventRepository
	logger        logrus.FieldLogger
}

// NewWebhookRouter builds a router with the payment handler and the default
// merchant_order, plan and subscription handlers registered.
func NewWebhookRouter(
	verifier signatureChecker,
	payments paymentDetailsFetcher,
	store PaymentStatusStore,
	opts ...WebhookRouterOption,
) *WebhookRouter {
	r := &WebhookRouter{
		verifier: verifier,
		payments: payments,
		store:    store,
		registry: NewHandlerRegistry(),
		dedup:    cache.NoopDeduplicator{},
		logger:   factory.NewModuleLogger("webhook-router"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.registry.Register(TopicPayment, NewPaymentHandler(payments, store, r.paymentEvents))
	r.registry.Register(TopicMerchantOrder, &MerchantOrderHandler{logger: r.logger})
	r.registry.Register(TopicPlan, &PlanHandler{logger: r.logger})
	r.registry.Register(TopicSubscription, &SubscriptionHandler{logger: r.logger})

	return r
}

// Register adds or replaces the handler for a notification type.
func (r *WebhookRouter) Register(topic string, handler WebhookHandler) {
	r.registry.Register(topic, handler)
}

func (r *WebhookRouter) Registry() *HandlerRegistry {
	return r.registry
}

// Process verifies and dispatches one notification. It reports whether the
// delivery was accepted; false asks the provider to redeliver.
func (r *WebhookRouter) Process(ctx context.Context, envelope *entity.WebhookEnvelope, signatureHeader string) bool {
	if envelope == nil {
		r.logger.Warn("Webhook rejected: empty envelope")
		return false
	}

	logger := r.logger.WithFields(logrus.Fields{
		"delivery_id": envelope.ID,
		"type":        envelope.Type,
		"action":      envelope.Action,
		"data_id":     envelope.DataID,
	})

	if err := r.verifier.Check(envelope.Body, signatureHeader); err != nil {
		logger.WithError(err).Warn("Webhook signature verification failed")
		r.recordEvent(ctx, envelope, signatureHeader, entity.WebhookEventRejected, err)
		return false
	}

	if strings.TrimSpace(envelope.Type) == "" {
		err := fmt.Errorf("%w: notification type is required", ErrInvalidRequest)
		logger.Warn("Webhook rejected: missing type")
		r.recordEvent(ctx, envelope, signatureHeader, entity.WebhookEventRejected, err)
		return false
	}

	key := dedupKey(envelope)
	if key != "" {
		seen, err := r.dedup.Seen(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Webhook dedup lookup failed, processing anyway")
		} else if seen {
			logger.Info("Webhook already processed, skipping")
			r.recordEvent(ctx, envelope, signatureHeader, entity.WebhookEventDuplicate, nil)
			return true
		}
	}

	handler, ok := r.registry.Get(envelope.Type)
	if !ok {
		logger.Info("Webhook type has no handler, acknowledging")
		r.recordEvent(ctx, envelope, signatureHeader, entity.WebhookEventProcessed, nil)
		return true
	}

	if err := r.dispatch(ctx, handler, envelope); err != nil {
		logger.WithError(err).Error("Webhook processing failed")
		r.recordEvent(ctx, envelope, signatureHeader, entity.WebhookEventFailed, err)
		return false
	}

	if key != "" {
		if err := r.dedup.Remember(ctx, key); err != nil {
			logger.WithError(err).Warn("Failed to remember processed webhook")
		}
	}
	r.recordEvent(ctx, envelope, signatureHeader, entity.WebhookEventProcessed, nil)

	return true
}

func (r *WebhookRouter) dispatch(ctx context.Context, handler WebhookHandler, envelope *entity.WebhookEnvelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("webhook handler panicked: %v", rec)
		}
	}()

	return handler.Handle(ctx, envelope)
}

func (r *WebhookRouter) recordEvent(
	ctx context.Context,
	envelope *entity.WebhookEnvelope,
	signatureHeader string,
	status int32,
	cause error,
) {
	if r.webhookEvents == nil {
		return
	}

	var errMsg *string
	if cause != nil {
		trimmed := truncate(cause.Error(), 1024)
		errMsg = &trimmed
	}

	createdAt := envelope.ReceivedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := r.webhookEvents.Create(ctx, &entity.WebhookEvent{
		DeliveryID:   envelope.ID,
		ResourceType: strings.ToLower(strings.TrimSpace(envelope.Type)),
		Action:       envelope.Action,
		DataID:       envelope.DataID,
		Signature:    truncate(signatureHeader, 255),
		PayloadJSON:  string(envelope.Body),
		Status:       status,
		Error:        errMsg,
		CreatedAt:    createdAt.UTC(),
	})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to record webhook event")
	}
}

// dedupKey is empty when the delivery carries no id: the same payment can be
// notified several times with different states, so type and data id alone
// cannot identify a delivery.
func dedupKey(envelope *entity.WebhookEnvelope) string {
	id := strings.TrimSpace(envelope.ID)
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", normalizeTopic(envelope.Type), id, strings.TrimSpace(envelope.Action))
}

// PaymentHandler refreshes a payment from the provider and stores its
// mapped status.
type PaymentHandler struct {
	payments paymentDetailsFetcher
	store    PaymentStatusStore
	events   paymentEventRepository
	logger   logrus.FieldLogger
}

func NewPaymentHandler(payments paymentDetailsFetcher, store PaymentStatusStore, events paymentEventRepository) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		store:    store,
		events:   events,
		logger:   factory.NewModuleLogger("webhook-payment-handler"),
	}
}

func (h *PaymentHandler) Handle(ctx context.Context, envelope *entity.WebhookEnvelope) error {
	paymentID := strings.TrimSpace(envelope.DataID)
	if paymentID == "" {
		return fmt.Errorf("%w: payment notification without data id", ErrInvalidRequest)
	}

	details, err := h.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if details == nil {
		return fmt.Errorf("%w: payment %s", ErrPaymentDetailsUnavailable, paymentID)
	}

	update := statusUpdateFromDetails(details, paymentID, envelope.ReceivedAt)
	applied, err := h.store.UpdateStatus(ctx, update)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"payment_id": update.ExternalPaymentID,
		"status":     update.Status.String(),
		"applied":    applied,
	}).Info("Payment status notification handled")

	if applied && h.events != nil {
		payload := string(envelope.Body)
		var deliveryID *string
		if id := strings.TrimSpace(envelope.ID); id != "" {
			deliveryID = &id
		}
		_ = h.events.Create(ctx, &entity.PaymentEvent{
			ExternalPaymentID: update.ExternalPaymentID,
			EventType:         "webhook_status_applied",
			NewStatus:         update.Status,
			DeliveryID:        deliveryID,
			PayloadJSON:       &payload,
			CreatedAt:         time.Now().UTC(),
		})
	}

	return nil
}

// MerchantOrderHandler acknowledges merchant_order notifications. Set
// Delegate to act on them.
type MerchantOrderHandler struct {
	Delegate WebhookHandler
	logger   logrus.FieldLogger
}

func (h *MerchantOrderHandler) Handle(ctx context.Context, envelope *entity.WebhookEnvelope) error {
	return acknowledge(ctx, h.logger, h.Delegate, envelope)
}

// PlanHandler acknowledges subscription plan notifications. Set Delegate to
// act on them.
type PlanHandler struct {
	Delegate WebhookHandler
	logger   logrus.FieldLogger
}

func (h *PlanHandler) Handle(ctx context.Context, envelope *entity.WebhookEnvelope) error {
	return acknowledge(ctx, h.logger, h.Delegate, envelope)
}

// SubscriptionHandler acknowledges subscription notifications. Set Delegate
// to act on them.
type SubscriptionHandler struct {
	Delegate WebhookHandler
	logger   logrus.FieldLogger
}

func (h *SubscriptionHandler) Handle(ctx context.Context, envelope *entity.WebhookEnvelope) error {
	return acknowledge(ctx, h.logger, h.Delegate, envelope)
}

func acknowledge(ctx context.Context, logger logrus.FieldLogger, delegate WebhookHandler, envelope *entity.WebhookEnvelope) error {
	if delegate != nil {
		return delegate.Handle(ctx, envelope)
	}
	if logger == nil {
		logger = factory.NewModuleLogger("webhook-router")
	}
	logger.WithFields(logrus.Fields{
		"type":    envelope.Type,
		"action":  envelope.Action,
		"data_id": envelope.DataID,
	}).Info("Webhook acknowledged without processing")
	return nil
}

func statusUpdateFromDetails(details *provider.PaymentDetails, fallbackID string, fallbackTime time.Time) *entity.PaymentStatusUpdate {
	paymentID := strings.TrimSpace(details.ID)
	if paymentID == "" {
		paymentID = fallbackID
	}

	updatedAt := details.LastUpdated
	undated := updatedAt.IsZero()
	if undated {
		updatedAt = fallbackTime
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return &entity.PaymentStatusUpdate{
		ExternalPaymentID: paymentID,
		ExternalReference: details.ExternalReference,
		Status:            mapper.StatusFromProvider(details.Status),
		StatusDetail:      details.StatusDetail,
		UpdatedAt:         updatedAt,
		Metadata:          cloneMetadata(details.Metadata),
		Undated:           undated,
	}
}
