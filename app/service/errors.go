package service

import "errors"

var (
	ErrInvalidRequest            = errors.New("invalid request")
	ErrRefundFailed              = errors.New("refund failed")
	ErrProviderUnavailable       = errors.New("payment provider unavailable")
	ErrPaymentDetailsUnavailable = errors.New("payment details unavailable")
	ErrWebhookRejected           = errors.New("webhook rejected")
)
