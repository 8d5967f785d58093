package provider

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid provider request")
	ErrRefundFailed   = errors.New("refund failed")
	ErrNotConfigured  = errors.New("provider access token is not configured")
)

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mercadopago %s failed: status=%d message=%s", e.Operation, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
