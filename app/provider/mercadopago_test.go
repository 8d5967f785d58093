package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestClient(baseURL string, opts ...ClientOption) *MercadoPagoClient {
	base := []ClientOption{
		WithRetryPolicy(NewRetryPolicy(3, time.Millisecond, WithSleep(noSleep))),
		WithClock(ClockFunc(func() time.Time { return fixedNow })),
	}
	return NewMercadoPagoClient(MercadoPagoConfig{
		BaseURL:           baseURL,
		AccessToken:       "TEST-access-token",
		WebhookURL:        "https://gateway.example/webhooks/mercadopago",
		DefaultSuccessURL: "https://academy.example/payments/success",
		DefaultFailureURL: "https://academy.example/payments/failure",
		DefaultPendingURL: "https://academy.example/payments/pending",
	}, append(base, opts...)...)
}

func validPreferenceRequest() *PreferenceRequest {
	return &PreferenceRequest{
		Amount:            decimal.NewFromInt(100),
		Currency:          "ARS",
		Description:       "Monthly fee",
		PayerEmail:        "a@b.com",
		ExternalReference: "student-42-2026-03",
	}
}

type countingDoer struct {
	mu    sync.Mutex
	calls int
	fn    func(req *http.Request) (*http.Response, error)
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.fn == nil {
		return newHTTPResponse(http.StatusOK, `{}`), nil
	}
	return d.fn(req)
}

func TestCreatePreferenceRejectsInvalidInputWithoutHTTPCall(t *testing.T) {
	cases := map[string]func(r *PreferenceRequest){
		"zero amount":      func(r *PreferenceRequest) { r.Amount = decimal.Zero },
		"negative amount":  func(r *PreferenceRequest) { r.Amount = decimal.NewFromInt(-5) },
		"empty email":      func(r *PreferenceRequest) { r.PayerEmail = "" },
		"malformed email":  func(r *PreferenceRequest) { r.PayerEmail = "not-an-email" },
		"empty title":      func(r *PreferenceRequest) { r.Description = "   " },
		"bad currency":     func(r *PreferenceRequest) { r.Currency = "PESOS" },
		"past expiration":  func(r *PreferenceRequest) { past := fixedNow.Add(-time.Hour); r.ExpirationDate = &past },
		"invalid back url": func(r *PreferenceRequest) { r.BackURLs.Success = "not a url" },
	}

	for name, mutate := range cases {
		doer := &countingDoer{}
		client := newTestClient("http://provider.test", WithHTTPDoer(doer))
		req := validPreferenceRequest()
		mutate(req)

		result, err := client.CreatePreference(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
		if result == nil || result.Success {
			t.Fatalf("%s: expected failed result, got %+v", name, result)
		}
		if result.ErrorMessage == "" || result.ID != "" {
			t.Fatalf("%s: expected error message and no id, got %+v", name, result)
		}
		if doer.calls != 0 {
			t.Fatalf("%s: expected no HTTP call, got %d", name, doer.calls)
		}
	}
}

func TestCreatePreferenceSendsPayloadAndParsesResult(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer TEST-access-token" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		if _, err := uuid.Parse(r.Header.Get("X-Idempotency-Key")); err != nil {
			t.Fatalf("expected uuid idempotency key, got %q", r.Header.Get("X-Idempotency-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"123","init_point":"https://pay/123","sandbox_init_point":"https://sandbox.pay/123","date_created":"2026-03-10T12:00:01.000-03:00"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.CreatePreference(context.Background(), validPreferenceRequest())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Success || result.ID != "123" || result.PaymentURL() != "https://pay/123" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ErrorMessage != "" {
		t.Fatalf("expected no error message, got %q", result.ErrorMessage)
	}
	if result.ExternalReference != "student-42-2026-03" {
		t.Fatalf("expected external reference echoed, got %q", result.ExternalReference)
	}
	if result.SandboxInitPoint != "https://sandbox.pay/123" {
		t.Fatalf("unexpected sandbox init point: %q", result.SandboxInitPoint)
	}
	if !result.CreatedAt.Equal(time.Date(2026, 3, 10, 15, 0, 1, 0, time.UTC)) {
		t.Fatalf("unexpected created at: %v", result.CreatedAt)
	}

	items := captured["items"].([]interface{})
	item := items[0].(map[string]interface{})
	if item["title"] != "Monthly fee" || item["currency_id"] != "ARS" || item["unit_price"].(float64) != 100 {
		t.Fatalf("unexpected item payload: %+v", item)
	}
	if captured["auto_return"] != "approved" {
		t.Fatalf("expected auto_return=approved, got %v", captured["auto_return"])
	}
	if captured["notification_url"] != "https://gateway.example/webhooks/mercadopago" {
		t.Fatalf("unexpected notification_url: %v", captured["notification_url"])
	}
	if captured["expires"] != false {
		t.Fatalf("expected expires=false, got %v", captured["expires"])
	}
	backURLs := captured["back_urls"].(map[string]interface{})
	if backURLs["success"] != "https://academy.example/payments/success" || backURLs["pending"] != "https://academy.example/payments/pending" {
		t.Fatalf("expected default back urls, got %+v", backURLs)
	}
	payer := captured["payer"].(map[string]interface{})
	if payer["email"] != "a@b.com" {
		t.Fatalf("unexpected payer: %+v", payer)
	}
	if captured["external_reference"] != "student-42-2026-03" {
		t.Fatalf("unexpected external_reference: %v", captured["external_reference"])
	}
}

func TestCreatePreferenceExpirationWindow(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://pay/pref-1"}`))
	}))
	defer server.Close()

	expiresAt := fixedNow.Add(48 * time.Hour)
	req := validPreferenceRequest()
	req.ExpirationDate = &expiresAt
	req.BackURLs.Success = "https://dojang.example/ok"

	result, err := newTestClient(server.URL).CreatePreference(context.Background(), req)
	if err != nil || !result.Success {
		t.Fatalf("expected success, got result=%+v err=%v", result, err)
	}
	if captured["expires"] != true {
		t.Fatalf("expected expires=true, got %v", captured["expires"])
	}
	from, err := time.Parse(providerTimeLayout, captured["expiration_date_from"].(string))
	if err != nil {
		t.Fatalf("invalid expiration_date_from: %v", err)
	}
	to, err := time.Parse(providerTimeLayout, captured["expiration_date_to"].(string))
	if err != nil {
		t.Fatalf("invalid expiration_date_to: %v", err)
	}
	if !from.Equal(expiresAt) || to.Sub(from) != 24*time.Hour {
		t.Fatalf("unexpected expiration window: from=%v to=%v", from, to)
	}
	backURLs := captured["back_urls"].(map[string]interface{})
	if backURLs["success"] != "https://dojang.example/ok" {
		t.Fatalf("expected explicit success url, got %v", backURLs["success"])
	}
	if backURLs["failure"] != "https://academy.example/payments/failure" {
		t.Fatalf("expected default failure url, got %v", backURLs["failure"])
	}
}

func TestCreatePreferenceProviderRejectionReturnsFailedResult(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid payer","error":"bad_request","status":400}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).CreatePreference(context.Background(), validPreferenceRequest())
	if err != nil {
		t.Fatalf("expected provider rejection to be reported in the result, got %v", err)
	}
	if result.Success || result.ErrorMessage != "invalid payer" || result.ID != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for 400, got %d", calls)
	}
}

func TestCreatePreferenceRetriesWithSameIdempotencyKey(t *testing.T) {
	var keys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("X-Idempotency-Key"))
		if len(keys) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"123","init_point":"https://pay/123"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.CreatePreference(context.Background(), validPreferenceRequest())
	if err != nil || !result.Success {
		t.Fatalf("expected success after retry, got result=%+v err=%v", result, err)
	}
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("expected retries to share one idempotency key, got %v", keys)
	}

	if _, err := client.CreatePreference(context.Background(), validPreferenceRequest()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(keys) != 3 || keys[2] == keys[0] {
		t.Fatalf("expected a fresh idempotency key per call, got %v", keys)
	}
}

func TestCreatePreferenceExhaustedRetriesReturnFailedResult(t *testing.T) {
	doer := &countingDoer{fn: func(*http.Request) (*http.Response, error) {
		return newHTTPResponse(http.StatusBadGateway, ``), nil
	}}
	result, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).CreatePreference(context.Background(), validPreferenceRequest())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Success || result.ErrorMessage == "" {
		t.Fatalf("expected failed result, got %+v", result)
	}
	if doer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", doer.calls)
	}
}

func TestCreatePreferenceUndecodableResponseIsPermanent(t *testing.T) {
	doer := &countingDoer{fn: func(*http.Request) (*http.Response, error) {
		return newHTTPResponse(http.StatusCreated, `<html>`), nil
	}}
	result, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).CreatePreference(context.Background(), validPreferenceRequest())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Success || doer.calls != 1 {
		t.Fatalf("expected failed result after one call, got %+v calls=%d", result, doer.calls)
	}
}

func TestCreatePreferenceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doer := &countingDoer{}
	result, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).CreatePreference(ctx, validPreferenceRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil || result.Success {
		t.Fatalf("expected failed result, got %+v", result)
	}
	if doer.calls != 0 {
		t.Fatalf("expected no HTTP call, got %d", doer.calls)
	}
}

func TestGetPaymentNotFoundReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/payments/999" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found"}`))
	}))
	defer server.Close()

	details, err := newTestClient(server.URL).GetPayment(context.Background(), "999")
	if err != nil {
		t.Fatalf("expected no error for 404, got %v", err)
	}
	if details != nil {
		t.Fatalf("expected nil details, got %+v", details)
	}
}

func TestGetPaymentServerErrorReturnsNilAfterRetries(t *testing.T) {
	doer := &countingDoer{fn: func(*http.Request) (*http.Response, error) {
		return newHTTPResponse(http.StatusInternalServerError, `{"message":"internal"}`), nil
	}}
	details, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).GetPayment(context.Background(), "1")
	if err != nil || details != nil {
		t.Fatalf("expected nil, nil; got details=%+v err=%v", details, err)
	}
	if doer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", doer.calls)
	}
}

func TestGetPaymentParsesDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Idempotency-Key") == "" {
			t.Fatal("expected idempotency key on lookup")
		}
		_, _ = w.Write([]byte(`{
			"id": 1234567890,
			"status": "approved",
			"status_detail": "accredited",
			"date_last_updated": "2026-03-10T09:15:00.000-03:00",
			"external_reference": "student-42-2026-03",
			"transaction_amount": 100.5,
			"currency_id": "ARS",
			"metadata": {"student_id": "42", "installments": 3}
		}`))
	}))
	defer server.Close()

	details, err := newTestClient(server.URL).GetPayment(context.Background(), "1234567890")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if details == nil {
		t.Fatal("expected details")
	}
	if details.ID != "1234567890" || details.Status != "approved" || details.StatusDetail != "accredited" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if !details.LastUpdated.Equal(time.Date(2026, 3, 10, 12, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last updated: %v", details.LastUpdated)
	}
	if !details.Amount.Equal(decimal.RequireFromString("100.5")) || details.Currency != "ARS" {
		t.Fatalf("unexpected amount: %s %s", details.Amount, details.Currency)
	}
	if details.Metadata["student_id"] != "42" || details.Metadata["installments"] != "3" {
		t.Fatalf("unexpected metadata: %+v", details.Metadata)
	}
}

func TestGetPaymentWithoutLastUpdatedLeavesZeroTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":555,"status":"approved","date_last_updated":"not-a-date"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < 2; i++ {
		details, err := client.GetPayment(context.Background(), "555")
		if err != nil || details == nil {
			t.Fatalf("expected details, got %+v err=%v", details, err)
		}
		if !details.LastUpdated.IsZero() {
			t.Fatalf("expected zero last updated, got %v", details.LastUpdated)
		}
	}
}

func TestGetPaymentUndecodableBodyReturnsNil(t *testing.T) {
	doer := &countingDoer{fn: func(*http.Request) (*http.Response, error) {
		return newHTTPResponse(http.StatusOK, `not json`), nil
	}}
	details, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).GetPayment(context.Background(), "1")
	if err != nil || details != nil {
		t.Fatalf("expected nil, nil; got details=%+v err=%v", details, err)
	}
}

func TestGetPaymentRequiresID(t *testing.T) {
	doer := &countingDoer{}
	_, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).GetPayment(context.Background(), "  ")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if doer.calls != 0 {
		t.Fatalf("expected no HTTP call, got %d", doer.calls)
	}
}

func TestCreateRefundSendsAmountAndDefaultReason(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payments/555/refunds" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":777,"status":"approved","amount":25.5,"date_created":"2026-03-10T12:00:00.000Z"}`))
	}))
	defer server.Close()

	amount := decimal.RequireFromString("25.5")
	result, err := newTestClient(server.URL).CreateRefund(context.Background(), &RefundRequest{PaymentID: "555", Amount: &amount})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ID != "777" || result.Status != "approved" || !result.Amount.Equal(amount) {
		t.Fatalf("unexpected refund result: %+v", result)
	}
	if captured["amount"].(float64) != 25.5 {
		t.Fatalf("unexpected refund amount: %v", captured["amount"])
	}
	if captured["reason"] != DefaultRefundReason {
		t.Fatalf("expected default reason, got %v", captured["reason"])
	}
}

func TestCreateRefundFullRefundOmitsAmount(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"id":1,"status":"approved","amount":100}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).CreateRefund(context.Background(), &RefundRequest{PaymentID: "9", Reason: "class cancelled"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := captured["amount"]; ok {
		t.Fatalf("expected no amount for full refund, got %v", captured["amount"])
	}
	if captured["reason"] != "class cancelled" {
		t.Fatalf("unexpected reason: %v", captured["reason"])
	}
}

func TestCreateRefundRaisesOnProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Payment not refundable"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateRefund(context.Background(), &RefundRequest{PaymentID: "555"})
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if providerErr.StatusCode != http.StatusBadRequest || providerErr.Message != "Payment not refundable" {
		t.Fatalf("unexpected provider error: %+v", providerErr)
	}
}

func TestCreateRefundRaisesOnTransportFailure(t *testing.T) {
	doer := &countingDoer{fn: func(*http.Request) (*http.Response, error) {
		return nil, timeoutError{}
	}}
	_, err := newTestClient("http://provider.test", WithHTTPDoer(doer)).CreateRefund(context.Background(), &RefundRequest{PaymentID: "1"})
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	if doer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", doer.calls)
	}
}

func TestCreateRefundValidation(t *testing.T) {
	doer := &countingDoer{}
	client := newTestClient("http://provider.test", WithHTTPDoer(doer))

	if _, err := client.CreateRefund(context.Background(), &RefundRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty payment id, got %v", err)
	}
	zero := decimal.Zero
	if _, err := client.CreateRefund(context.Background(), &RefundRequest{PaymentID: "1", Amount: &zero}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero amount, got %v", err)
	}
	if doer.calls != 0 {
		t.Fatalf("expected no HTTP call, got %d", doer.calls)
	}
}

func TestMissingAccessTokenFailsWithoutHTTPCall(t *testing.T) {
	doer := &countingDoer{}
	client := NewMercadoPagoClient(MercadoPagoConfig{BaseURL: "http://provider.test"}, WithHTTPDoer(doer))

	_, err := client.CreateRefund(context.Background(), &RefundRequest{PaymentID: "1"})
	if !errors.Is(err, ErrRefundFailed) || !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrRefundFailed wrapping ErrNotConfigured, got %v", err)
	}
	if doer.calls != 0 {
		t.Fatalf("expected no HTTP call, got %d", doer.calls)
	}
}
