package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const (
	TopicPayment       = "payment"
	TopicMerchantOrder = "merchant_order"
	TopicPlan          = "plan"
	TopicSubscription  = "subscription"
)

// WebhookHandler processes one verified notification. A returned error makes
// the router answer false so the provider redelivers.
type WebhookHandler interface {
	Handle(ctx context.Context, envelope *entity.WebhookEnvelope) error
}

type WebhookHandlerFunc func(ctx context.Context, envelope *entity.WebhookEnvelope) error

func (f WebhookHandlerFunc) Handle(ctx context.Context, envelope *entity.WebhookEnvelope) error {
	return f(ctx, envelope)
}

type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]WebhookHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]WebhookHandler{}}
}

// Register binds handler to a notification type, replacing any previous one.
func (r *HandlerRegistry) Register(topic string, handler WebhookHandler) {
	key := normalizeTopic(topic)
	if key == "" || handler == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = handler
}

func (r *HandlerRegistry) Get(topic string) (WebhookHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[normalizeTopic(topic)]
	return handler, ok
}

func (r *HandlerRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
