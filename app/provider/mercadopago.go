package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

const (
	DefaultBaseURL       = "https://api.mercadopago.com"
	DefaultCurrency      = "ARS"
	DefaultRefundReason  = "requested_by_merchant"
	defaultHTTPTimeout   = 30 * time.Second
	expirationWindow     = 24 * time.Hour
	providerTimeLayout   = "2006-01-02T15:04:05.000-07:00"
	maxErrorMessageBytes = 512
)

var validate = validator.New()

type MercadoPagoConfig struct {
	BaseURL           string
	AccessToken       string
	WebhookURL        string
	DefaultSuccessURL string
	DefaultFailureURL string
	DefaultPendingURL string
	DefaultCurrency   string
	MaxRetryAttempts  int
	InitialRetryDelay time.Duration
	HTTPTimeout       time.Duration
}

type BackURLs struct {
	Success string
	Failure string
	Pending string
}

type PreferenceRequest struct {
	Amount            decimal.Decimal
	Currency          string
	Description       string
	PayerEmail        string
	PayerName         string
	PayerSurname      string
	BackURLs          BackURLs
	ExternalReference string
	ExpirationDate    *time.Time
	Metadata          map[string]string
}

// PreferenceResult carries either ID (Success) or ErrorMessage, never both.
type PreferenceResult struct {
	Success           bool
	ID                string
	InitPoint         string
	SandboxInitPoint  string
	CreatedAt         time.Time
	ExternalReference string
	ErrorMessage      string
}

func (r *PreferenceResult) PaymentURL() string {
	if r == nil {
		return ""
	}
	return r.InitPoint
}

type PaymentDetails struct {
	ID                string
	Status            string
	StatusDetail      string
	LastUpdated       time.Time
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	Metadata          map[string]string
}

type RefundRequest struct {
	PaymentID string
	Amount    *decimal.Decimal
	Reason    string
}

type RefundResult struct {
	ID        string
	Status    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

type ClientOption func(*MercadoPagoClient)

func WithHTTPDoer(doer HTTPDoer) ClientOption {
	return func(c *MercadoPagoClient) {
		if doer != nil {
			c.doer = doer
		}
	}
}

func WithClock(clock Clock) ClientOption {
	return func(c *MercadoPagoClient) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithRetryPolicy(policy *RetryPolicy) ClientOption {
	return func(c *MercadoPagoClient) {
		if policy != nil {
			c.retry = policy
		}
	}
}

func WithIdempotencyKeys(fn func() string) ClientOption {
	return func(c *MercadoPagoClient) {
		if fn != nil {
			c.newKey = fn
		}
	}
}

// MercadoPagoClient talks to the provider REST API. It is safe for
// concurrent use; the only shared state is the HTTP connection pool.
type MercadoPagoClient struct {
	cfg    MercadoPagoConfig
	doer   HTTPDoer
	retry  *RetryPolicy
	clock  Clock
	newKey func() string
	logger logrus.FieldLogger
}

func NewMercadoPagoClient(cfg MercadoPagoConfig, opts ...ClientOption) *MercadoPagoClient {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultCurrency
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	attempts := cfg.MaxRetryAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := cfg.InitialRetryDelay
	if delay <= 0 {
		delay = defaultInitialDelay
	}

	c := &MercadoPagoClient{
		cfg:    cfg,
		doer:   &http.Client{Timeout: timeout},
		retry:  NewRetryPolicy(attempts, delay),
		clock:  SystemClock(),
		newKey: uuid.NewString,
		logger: factory.NewModuleLogger("mercadopago-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type preferenceItem struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Quantity    int         `json:"quantity"`
	CurrencyID  string      `json:"currency_id"`
	UnitPrice   json.Number `json:"unit_price"`
}

type preferencePayer struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Surname string `json:"surname,omitempty"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferencePayload struct {
	Items              []preferenceItem   `json:"items"`
	Payer              preferencePayer    `json:"payer"`
	BackURLs           preferenceBackURLs `json:"back_urls"`
	AutoReturn         string             `json:"auto_return"`
	NotificationURL    string             `json:"notification_url,omitempty"`
	ExternalReference  string             `json:"external_reference,omitempty"`
	Expires            bool               `json:"expires"`
	ExpirationDateFrom string             `json:"expiration_date_from,omitempty"`
	ExpirationDateTo   string             `json:"expiration_date_to,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
	DateCreated      string `json:"date_created"`
}

type paymentResponse struct {
	ID                json.Number            `json:"id"`
	Status            string                 `json:"status"`
	StatusDetail      string                 `json:"status_detail"`
	DateLastUpdated   string                 `json:"date_last_updated"`
	ExternalReference string                 `json:"external_reference"`
	TransactionAmount json.Number            `json:"transaction_amount"`
	CurrencyID        string                 `json:"currency_id"`
	Metadata          map[string]interface{} `json:"metadata"`
}

type refundPayload struct {
	Amount *json.Number `json:"amount,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

type refundResponse struct {
	ID          json.Number `json:"id"`
	Status      string      `json:"status"`
	Amount      json.Number `json:"amount"`
	DateCreated string      `json:"date_created"`
}

type providerErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CreatePreference never returns a provider failure as an error: the result
// carries ErrorMessage instead. Validation failures return both a failed
// result and an ErrInvalidRequest-wrapped error, and no request is sent.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req *PreferenceRequest) (*PreferenceResult, error) {
	if err := c.validatePreference(req); err != nil {
		return failedPreference(req, err.Error()), err
	}

	payload := c.buildPreferencePayload(req)
	resp, err := c.send(ctx, http.MethodPost, "/checkout/preferences", payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failedPreference(req, ctxErr.Error()), ctxErr
		}
		c.logger.WithError(err).WithField("external_reference", req.ExternalReference).Warn("Create preference request failed")
		return failedPreference(req, "provider request failed: "+err.Error()), nil
	}
	if !resp.IsSuccess() {
		message := providerErrorMessage(resp)
		c.logger.WithFields(logrus.Fields{
			"status":             resp.StatusCode,
			"external_reference": req.ExternalReference,
		}).Warn("Create preference rejected by provider")
		return failedPreference(req, message), nil
	}

	var body preferenceResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		c.logger.WithError(err).Error("Create preference response could not be decoded")
		return failedPreference(req, "invalid provider response"), nil
	}
	if strings.TrimSpace(body.ID) == "" {
		return failedPreference(req, "provider response missing preference id"), nil
	}

	return &PreferenceResult{
		Success:           true,
		ID:                strings.TrimSpace(body.ID),
		InitPoint:         strings.TrimSpace(body.InitPoint),
		SandboxInitPoint:  strings.TrimSpace(body.SandboxInitPoint),
		CreatedAt:         c.parseTimeOrNow(body.DateCreated),
		ExternalReference: req.ExternalReference,
	}, nil
}

// GetPayment returns nil details when the payment is unknown to the provider
// or could not be fetched. Callers treat nil as "details unavailable".
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}

	l := c.logger.WithField("payment_id", paymentID)
	resp, err := c.send(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.WithError(err).Warn("Get payment request failed")
		return nil, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		l.Info("Payment not found at provider")
		return nil, nil
	}
	if !resp.IsSuccess() {
		l.WithField("status", resp.StatusCode).WithField("message", providerErrorMessage(resp)).Warn("Get payment rejected by provider")
		return nil, nil
	}

	var body paymentResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		l.WithError(err).Error("Get payment response could not be decoded")
		return nil, nil
	}

	details := &PaymentDetails{
		ID:                body.ID.String(),
		Status:            strings.TrimSpace(body.Status),
		StatusDetail:      strings.TrimSpace(body.StatusDetail),
		LastUpdated:       parseTime(body.DateLastUpdated),
		ExternalReference: strings.TrimSpace(body.ExternalReference),
		Currency:          strings.TrimSpace(body.CurrencyID),
		Metadata:          stringifyMetadata(body.Metadata),
	}
	if details.ID == "" {
		details.ID = paymentID
	}
	if amount, err := decimal.NewFromString(body.TransactionAmount.String()); err == nil {
		details.Amount = amount
	}

	return details, nil
}

// CreateRefund surfaces every provider failure as an error wrapping ErrRefundFailed.
func (c *MercadoPagoClient) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	if req == nil || strings.TrimSpace(req.PaymentID) == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be > 0", ErrInvalidRequest)
	}

	paymentID := strings.TrimSpace(req.PaymentID)
	payload := &refundPayload{Reason: strings.TrimSpace(req.Reason)}
	if payload.Reason == "" {
		payload.Reason = DefaultRefundReason
	}
	if req.Amount != nil {
		amount := json.Number(req.Amount.String())
		payload.Amount = &amount
	}

	resp, err := c.send(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refunds", payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}
	if !resp.IsSuccess() {
		providerErr := &ProviderError{
			Operation:  "refund",
			StatusCode: resp.StatusCode,
			Message:    providerErrorMessage(resp),
			Err:        ErrRefundFailed,
		}
		c.logger.WithError(providerErr).WithField("payment_id", paymentID).Error("Refund rejected by provider")
		return nil, providerErr
	}

	var body refundResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: invalid provider response: %v", ErrRefundFailed, err)
	}

	result := &RefundResult{
		ID:        body.ID.String(),
		Status:    strings.TrimSpace(body.Status),
		CreatedAt: c.parseTimeOrNow(body.DateCreated),
	}
	if amount, err := decimal.NewFromString(body.Amount.String()); err == nil {
		result.Amount = amount
	} else if req.Amount != nil {
		result.Amount = *req.Amount
	}

	return result, nil
}

func (c *MercadoPagoClient) validatePreference(req *PreferenceRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}
	if err := validate.Var(strings.TrimSpace(req.PayerEmail), "required,email"); err != nil {
		return fmt.Errorf("%w: payer email is invalid", ErrInvalidRequest)
	}
	if err := validate.Var(strings.TrimSpace(req.Currency), "omitempty,len=3,alpha"); err != nil {
		return fmt.Errorf("%w: currency must be a 3 letter code", ErrInvalidRequest)
	}
	for _, u := range []string{req.BackURLs.Success, req.BackURLs.Failure, req.BackURLs.Pending} {
		if err := validate.Var(strings.TrimSpace(u), "omitempty,url"); err != nil {
			return fmt.Errorf("%w: back url %q is invalid", ErrInvalidRequest, u)
		}
	}
	if req.ExpirationDate != nil && !req.ExpirationDate.After(c.clock.Now()) {
		return fmt.Errorf("%w: expiration date must be in the future", ErrInvalidRequest)
	}
	return nil
}

func (c *MercadoPagoClient) buildPreferencePayload(req *PreferenceRequest) *preferencePayload {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.cfg.DefaultCurrency
	}
	description := strings.TrimSpace(req.Description)

	payload := &preferencePayload{
		Items: []preferenceItem{{
			Title:       description,
			Description: description,
			Quantity:    1,
			CurrencyID:  currency,
			UnitPrice:   json.Number(req.Amount.String()),
		}},
		Payer: preferencePayer{
			Email:   strings.TrimSpace(req.PayerEmail),
			Name:    strings.TrimSpace(req.PayerName),
			Surname: strings.TrimSpace(req.PayerSurname),
		},
		BackURLs: preferenceBackURLs{
			Success: firstNonEmpty(req.BackURLs.Success, c.cfg.DefaultSuccessURL),
			Failure: firstNonEmpty(req.BackURLs.Failure, c.cfg.DefaultFailureURL),
			Pending: firstNonEmpty(req.BackURLs.Pending, c.cfg.DefaultPendingURL),
		},
		AutoReturn:        "approved",
		NotificationURL:   strings.TrimSpace(c.cfg.WebhookURL),
		ExternalReference: strings.TrimSpace(req.ExternalReference),
		Expires:           req.ExpirationDate != nil,
	}
	if req.ExpirationDate != nil {
		from := req.ExpirationDate.UTC()
		payload.ExpirationDateFrom = from.Format(providerTimeLayout)
		payload.ExpirationDateTo = from.Add(expirationWindow).Format(providerTimeLayout)
	}
	if len(req.Metadata) > 0 {
		payload.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			payload.Metadata[k] = v
		}
	}

	return payload
}

// send runs one logical call through the retry policy. All attempts of the
// call share one idempotency key so the provider can collapse replays.
func (c *MercadoPagoClient) send(ctx context.Context, method, path string, payload interface{}) (*Response, error) {
	if strings.TrimSpace(c.cfg.AccessToken) == "" {
		return nil, ErrNotConfigured
	}

	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = encoded
	}
	idempotencyKey := c.newKey()

	return c.retry.Execute(ctx, func(ctx context.Context) (*Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			return nil, err
		}
		return readResponse(resp)
	})
}

// parseTime returns the zero time when raw is empty or unparsable.
func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, providerTimeLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (c *MercadoPagoClient) parseTimeOrNow(raw string) time.Time {
	if t := parseTime(raw); !t.IsZero() {
		return t
	}
	return c.clock.Now().UTC()
}

func failedPreference(req *PreferenceRequest, message string) *PreferenceResult {
	result := &PreferenceResult{
		Success:      false,
		ErrorMessage: message,
	}
	if req != nil {
		result.ExternalReference = req.ExternalReference
	}
	return result
}

func providerErrorMessage(resp *Response) string {
	var body providerErrorBody
	if json.Unmarshal(resp.Body, &body) == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
	}
	if raw := strings.TrimSpace(string(resp.Body)); raw != "" {
		return fmt.Sprintf("provider returned status=%d: %s", resp.StatusCode, truncate(raw, maxErrorMessageBytes))
	}
	return fmt.Sprintf("provider returned status=%d", resp.StatusCode)
}

func stringifyMetadata(src map[string]interface{}) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			dst[k] = t
		default:
			encoded, err := json.Marshal(t)
			if err != nil {
				dst[k] = fmt.Sprint(t)
				continue
			}
			dst[k] = string(encoded)
		}
	}
	return dst
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
