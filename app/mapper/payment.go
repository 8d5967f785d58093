package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

func PreferenceRequestFromTypes(req *types.CreatePreferenceRequest) *provider.PreferenceRequest {
	if req == nil {
		return nil
	}

	return &provider.PreferenceRequest{
		Amount:       req.Amount,
		Currency:     req.Currency,
		Description:  req.Description,
		PayerEmail:   req.PayerEmail,
		PayerName:    req.PayerName,
		PayerSurname: req.PayerSurname,
		BackURLs: provider.BackURLs{
			Success: req.SuccessURL,
			Failure: req.FailureURL,
			Pending: req.PendingURL,
		},
		ExternalReference: req.ExternalReference,
		ExpirationDate:    req.ExpirationDate,
		Metadata:          cloneMetadata(req.Metadata),
	}
}

func RefundRequestFromTypes(req *types.CreateRefundRequest) *provider.RefundRequest {
	if req == nil {
		return nil
	}

	return &provider.RefundRequest{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	}
}

func PreferenceToResponse(result *provider.PreferenceResult) *types.PreferenceResponse {
	if result == nil {
		return nil
	}

	return &types.PreferenceResponse{
		ID:                result.ID,
		InitPoint:         result.PaymentURL(),
		SandboxInitPoint:  result.SandboxInitPoint,
		ExternalReference: result.ExternalReference,
		CreatedAt:         formatTime(result.CreatedAt),
	}
}

func PaymentToResponse(details *provider.PaymentDetails, status entity.PaymentStatus, stored *entity.PaymentStatusRecord) *types.PaymentResponse {
	if details == nil {
		return nil
	}

	resp := &types.PaymentResponse{
		ID:                details.ID,
		Status:            status.String(),
		ProviderStatus:    details.Status,
		StatusDetail:      details.StatusDetail,
		ExternalReference: details.ExternalReference,
		Amount:            details.Amount,
		Currency:          details.Currency,
		LastUpdated:       formatTime(details.LastUpdated),
		Metadata:          cloneMetadata(details.Metadata),
	}
	if stored != nil {
		resp.Stored = &types.StoredStatusResponse{
			Status:            stored.Status.String(),
			StatusDetail:      stored.StatusDetail,
			ProviderUpdatedAt: formatTime(stored.ProviderUpdatedAt),
			UpdatedAt:         formatTime(stored.UpdatedAt),
		}
	}

	return resp
}

func RefundToResponse(paymentID string, result *provider.RefundResult) *types.RefundResponse {
	if result == nil {
		return nil
	}

	return &types.RefundResponse{
		ID:        result.ID,
		PaymentID: paymentID,
		Status:    result.Status,
		Amount:    result.Amount,
		CreatedAt: formatTime(result.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
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
