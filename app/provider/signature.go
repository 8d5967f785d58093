package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrWebhookSecretMissing = errors.New("webhook secret is not configured")
	ErrSignatureMalformed   = errors.New("malformed webhook signature")
	ErrSignatureExpired     = errors.New("webhook signature expired")
	ErrSignatureMismatch    = errors.New("webhook signature mismatch")
)

type SecretProvider interface {
	WebhookSecret() string
}

type StaticSecret string

func (s StaticSecret) WebhookSecret() string {
	return string(s)
}

// SignatureVerifier checks the x-signature header sent with provider
// notifications. The signed manifest is
//
//	id:{webhookSecret};request-url:{webhookURL};ts:{ts}
//
// and does not cover the request body.
type SignatureVerifier struct {
	secrets    SecretProvider
	webhookURL string
	clock      Clock
	tolerance  time.Duration
}

func NewSignatureVerifier(secrets SecretProvider, webhookURL string, clock Clock) *SignatureVerifier {
	if clock == nil {
		clock = SystemClock()
	}
	return &SignatureVerifier{
		secrets:    secrets,
		webhookURL: strings.TrimSpace(webhookURL),
		clock:      clock,
		tolerance:  DefaultSignatureTolerance,
	}
}

func (v *SignatureVerifier) Verify(rawBody []byte, signatureHeader string) bool {
	return v.Check(rawBody, signatureHeader) == nil
}

// Check is Verify with the rejection reason.
func (v *SignatureVerifier) Check(_ []byte, signatureHeader string) error {
	if v.secrets == nil {
		return ErrWebhookSecretMissing
	}
	secret := v.secrets.WebhookSecret()
	if strings.TrimSpace(secret) == "" {
		return ErrWebhookSecretMissing
	}

	ts, signature := parseSignatureHeader(signatureHeader)
	if ts == "" || signature == "" {
		return ErrSignatureMalformed
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: ts is not a unix timestamp", ErrSignatureMalformed)
	}
	if v.clock.Now().Unix()-tsUnix > int64(v.tolerance/time.Second) {
		return ErrSignatureExpired
	}

	expected := computeSignature(secret, v.webhookURL, ts)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrSignatureMismatch
	}

	return nil
}

// SignatureHeader builds a header value the verifier accepts for ts. The
// controller and e2e tests sign their deliveries with it.
func SignatureHeader(secret, webhookURL string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "ts=" + unix + ",v1=" + computeSignature(secret, strings.TrimSpace(webhookURL), unix)
}

func buildManifest(secret, webhookURL, ts string) string {
	return "id:" + secret + ";request-url:" + webhookURL + ";ts:" + ts
}

func computeSignature(secret, webhookURL, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(buildManifest(secret, webhookURL, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts string, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "ts":
			if ts == "" {
				ts = value
			}
		case "v1":
			if v1 == "" {
				v1 = value
			}
		}
	}
	return ts, v1
}
