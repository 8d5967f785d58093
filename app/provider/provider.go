package provider

import "context"

// Gateway is the outbound port the service layer depends on.
// *MercadoPagoClient is the production implementation.
type Gateway interface {
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*PreferenceResult, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentDetails, error)
	CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
}

var _ Gateway = (*MercadoPagoClient)(nil)
